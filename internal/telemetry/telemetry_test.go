package telemetry

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

type memoryExporter struct {
	mu      sync.Mutex
	records []sdklog.Record
}

func (e *memoryExporter) Export(_ context.Context, recs []sdklog.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range recs {
		e.records = append(e.records, r.Clone())
	}
	return nil
}

func (e *memoryExporter) Shutdown(context.Context) error   { return nil }
func (e *memoryExporter) ForceFlush(context.Context) error { return nil }

func newTestHandler(t *testing.T, level slog.Level) (*slog.Logger, *memoryExporter, *bytes.Buffer) {
	t.Helper()
	exp := &memoryExporter{}
	lp := sdklog.NewLoggerProvider(sdklog.WithProcessor(sdklog.NewSimpleProcessor(exp)))
	t.Cleanup(func() { _ = lp.Shutdown(context.Background()) })

	var buf bytes.Buffer
	text := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: level})
	return slog.New(NewLogHandler(text, lp, "test")), exp, &buf
}

// attrsOf flattens the record's attributes, nested maps included, into
// dotted keys.
func attrsOf(r sdklog.Record) map[string]string {
	out := make(map[string]string)
	var walk func(prefix string, kv otellog.KeyValue)
	walk = func(prefix string, kv otellog.KeyValue) {
		key := prefix + kv.Key
		if kv.Value.Kind() == otellog.KindMap {
			for _, m := range kv.Value.AsMap() {
				walk(key+".", m)
			}
			return
		}
		out[key] = kv.Value.String()
	}
	r.WalkAttributes(func(kv otellog.KeyValue) bool {
		walk("", kv)
		return true
	})
	return out
}

func TestLogHandler_TeesRecords(t *testing.T) {
	logger, exp, buf := newTestHandler(t, slog.LevelInfo)

	logger.With("run_id", "r-1").WithGroup("fetch").Warn("fetch failed",
		"resource", "devices",
		"page", 2,
		"error", errors.New("controller error -1001"),
	)

	if !strings.Contains(buf.String(), "fetch failed") || !strings.Contains(buf.String(), "fetch.resource=devices") {
		t.Errorf("text output missing record: %q", buf.String())
	}
	if len(exp.records) != 1 {
		t.Fatalf("exported %d records, want 1", len(exp.records))
	}
	rec := exp.records[0]
	if rec.Body().AsString() != "fetch failed" {
		t.Errorf("body = %q", rec.Body().AsString())
	}
	if rec.Severity() != otellog.SeverityWarn {
		t.Errorf("severity = %v, want warn", rec.Severity())
	}
	attrs := attrsOf(rec)
	for k, want := range map[string]string{
		"run_id":         "r-1",
		"fetch.resource": "devices",
		"fetch.page":     "2",
	} {
		if attrs[k] != want {
			t.Errorf("attr %q = %q, want %q (all: %v)", k, attrs[k], want, attrs)
		}
	}
	if _, ok := attrs["fetch.error"]; !ok {
		t.Errorf("error attribute missing: %v", attrs)
	}
}

func TestLogHandler_RespectsLevel(t *testing.T) {
	logger, exp, buf := newTestHandler(t, slog.LevelInfo)
	logger.Debug("noise")
	if buf.Len() != 0 || len(exp.records) != 0 {
		t.Errorf("debug record emitted: text=%q exported=%d", buf.String(), len(exp.records))
	}
}

func TestLogHandler_Severity(t *testing.T) {
	tests := []struct {
		level slog.Level
		want  otellog.Severity
	}{
		{slog.LevelDebug, otellog.SeverityDebug},
		{slog.LevelInfo, otellog.SeverityInfo},
		{slog.LevelWarn, otellog.SeverityWarn},
		{slog.LevelError, otellog.SeverityError},
	}
	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			logger, exp, _ := newTestHandler(t, slog.LevelDebug)
			logger.Log(context.Background(), tt.level, "msg")
			if len(exp.records) != 1 {
				t.Fatalf("exported %d records, want 1", len(exp.records))
			}
			if got := exp.records[0].Severity(); got != tt.want {
				t.Errorf("severity = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBuildResource(t *testing.T) {
	res, err := buildResource(Config{ServiceVersion: "1.2.3"})
	if err != nil {
		t.Fatalf("buildResource: %v", err)
	}
	got := make(map[string]string)
	for _, kv := range res.Attributes() {
		got[string(kv.Key)] = kv.Value.Emit()
	}
	if got["service.name"] != DefaultServiceName {
		t.Errorf("service.name = %q, want %q", got["service.name"], DefaultServiceName)
	}
	if got["service.version"] != "1.2.3" {
		t.Errorf("service.version = %q", got["service.version"])
	}
}

func TestSetup_RequiresEndpoint(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{})
	if err == nil {
		t.Fatal("expected error for empty endpoint")
	}
	if shutdown == nil || shutdown(context.Background()) != nil {
		t.Error("shutdown must be a non-nil no-op on error")
	}
}
