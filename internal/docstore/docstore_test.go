package docstore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ---------------------------------------------------------------------------
// Handle
// ---------------------------------------------------------------------------

func TestHandle(t *testing.T) {
	if NotConfigured().IsConfigured() {
		t.Error("NotConfigured() reports configured")
	}
	if _, ok := NotConfigured().Writer(); ok {
		t.Error("NotConfigured().Writer() ok = true")
	}
	if Configured(nil).IsConfigured() {
		t.Error("Configured(nil) reports configured")
	}
	m := NewMemory()
	w, ok := Configured(m).Writer()
	if !ok || w != Writer(m) {
		t.Error("Configured(m).Writer() did not return m")
	}
}

// ---------------------------------------------------------------------------
// Memory
// ---------------------------------------------------------------------------

func TestMemory_MergeUnion(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if err := m.SetMerge(ctx, "devices", "AA:BB", map[string]any{"a": 1}); err != nil {
		t.Fatalf("SetMerge: %v", err)
	}
	if err := m.SetMerge(ctx, "devices", "AA:BB", map[string]any{"b": 2, "a": 3}); err != nil {
		t.Fatalf("SetMerge: %v", err)
	}
	doc, err := m.Get(ctx, "devices", "AA:BB")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if doc["a"] != 3 || doc["b"] != 2 {
		t.Errorf("doc = %v, want a=3 b=2", doc)
	}
	if m.Len("devices") != 1 || m.Writes() != 2 {
		t.Errorf("Len = %d, Writes = %d", m.Len("devices"), m.Writes())
	}
}

func TestMemory_GetReturnsCopy(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_ = m.SetMerge(ctx, "sites", "s1", map[string]any{"name": "HQ"})
	doc, _ := m.Get(ctx, "sites", "s1")
	doc["name"] = "changed"

	again, _ := m.Get(ctx, "sites", "s1")
	if again["name"] != "HQ" {
		t.Error("mutating a Get result changed the store")
	}
	if _, err := m.Get(ctx, "sites", "s2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) err = %v", err)
	}
}

func TestMemory_SetErr(t *testing.T) {
	m := NewMemory()
	boom := errors.New("offline")
	m.SetErr(boom)
	if err := m.SetMerge(context.Background(), "sites", "s1", map[string]any{}); !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
	m.SetErr(nil)
	if err := m.SetMerge(context.Background(), "sites", "s1", map[string]any{}); err != nil {
		t.Errorf("err after clearing = %v", err)
	}
}

// ---------------------------------------------------------------------------
// Breaker
// ---------------------------------------------------------------------------

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	m := NewMemory()
	m.SetErr(errors.New("connection refused"))
	b := NewBreaker(m, BreakerConfig{
		Name:             "test",
		FailureThreshold: 2,
		OpenTimeout:      time.Hour,
		MaxHalfOpen:      1,
	}, discardLogger())
	ctx := context.Background()

	for i := range 2 {
		err := b.SetMerge(ctx, "sites", "s1", map[string]any{"a": 1})
		if err == nil || errors.Is(err, ErrUnavailable) {
			t.Fatalf("call %d: err = %v, want underlying failure", i, err)
		}
	}
	if b.State() != "open" {
		t.Fatalf("State = %s, want open", b.State())
	}

	m.SetErr(nil)
	if err := b.SetMerge(ctx, "sites", "s1", map[string]any{"a": 1}); !errors.Is(err, ErrUnavailable) {
		t.Errorf("err with open circuit = %v, want ErrUnavailable", err)
	}
	if m.Writes() != 0 {
		t.Errorf("store received %d writes while open", m.Writes())
	}
}

func TestBreaker_ClientErrorsDoNotTrip(t *testing.T) {
	m := NewMemory()
	m.SetErr(&StatusError{Op: "writing", Code: codes.InvalidArgument, Message: "invalid field"})
	b := NewBreaker(m, BreakerConfig{Name: "test", FailureThreshold: 1, OpenTimeout: time.Hour}, discardLogger())

	for range 3 {
		_ = b.SetMerge(context.Background(), "sites", "s1", map[string]any{"a": 1})
	}
	if b.State() != "closed" {
		t.Errorf("State = %s, want closed", b.State())
	}
}

func TestBreaker_GetPassesThrough(t *testing.T) {
	m := NewMemory()
	_ = m.SetMerge(context.Background(), "sites", "s1", map[string]any{"a": 1})
	b := NewBreaker(m, DefaultBreakerConfig(), discardLogger())
	doc, err := b.Get(context.Background(), "sites", "s1")
	if err != nil || doc["a"] != 1 {
		t.Errorf("Get = %v, %v", doc, err)
	}
}
