package sync

import (
	"context"
	"errors"
	"testing"

	"github.com/njoerd114/omadamirror/internal/docstore"
	"github.com/njoerd114/omadamirror/internal/mirror"
	"github.com/njoerd114/omadamirror/internal/model"
)

func TestReplay_SkippedWithoutStore(t *testing.T) {
	q := openTestQueue(t)
	_ = q.Enqueue(context.Background(), "sites", "s1", map[string]any{"a": 1})
	r := NewReplayer(q, testLogger())

	res, err := r.Sync(context.Background(), docstore.NotConfigured())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.Status != StatusSkipped || res.Attempted != 0 {
		t.Errorf("result = %+v", res)
	}
	if queueLen(t, q) != 1 {
		t.Error("skipped replay touched the queue")
	}
}

func TestReplay_NothingToSync(t *testing.T) {
	r := NewReplayer(openTestQueue(t), testLogger())
	res, err := r.Sync(context.Background(), docstore.Configured(docstore.NewMemory()))
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.Status != StatusNothingToSync {
		t.Errorf("Status = %s, want nothing_to_sync", res.Status)
	}
}

// A store that fails during mirroring parks the write; once the store
// recovers, replay delivers it and empties the queue.
func TestReplay_OfflineFallbackAndRecovery(t *testing.T) {
	ctx := context.Background()
	q := openTestQueue(t)
	store := docstore.NewMemory()
	store.SetErr(errors.New("unavailable"))

	sink := mirror.NewSink(docstore.Configured(store), q, mirror.WithLogger(testLogger()))
	rep := sink.Mirror(ctx, []model.Item{{"mac": "AA-BB", "name": "ap-1"}}, model.Devices)
	if rep.Queued != 1 {
		t.Fatalf("mirror report = %+v, want 1 queued", rep)
	}
	if queueLen(t, q) != 1 {
		t.Fatalf("queue length = %d, want 1", queueLen(t, q))
	}

	store.SetErr(nil)
	res, err := NewReplayer(q, testLogger()).Sync(ctx, docstore.Configured(store))
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.Status != StatusCompleted || res.Succeeded != 1 || res.Remaining != 0 {
		t.Errorf("result = %+v", res)
	}
	if queueLen(t, q) != 0 {
		t.Errorf("queue length after replay = %d, want 0", queueLen(t, q))
	}
	doc, err := store.Get(ctx, "devices", "AA-BB")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if doc["name"] != "ap-1" {
		t.Errorf("doc = %v", doc)
	}
}

func TestReplay_PartialNeverDropsData(t *testing.T) {
	ctx := context.Background()
	q := openTestQueue(t)
	for _, id := range []string{"a", "b", "c"} {
		if err := q.Enqueue(ctx, "devices", id, map[string]any{"id": id}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	w := newSelectiveWriter("b")

	res, err := NewReplayer(q, testLogger()).Sync(ctx, docstore.Configured(w))
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.Attempted != 3 || res.Succeeded != 2 || res.Remaining != 1 || len(res.Failures) != 1 {
		t.Errorf("result = %+v", res)
	}
	if res.Failures[0].DocumentID != "b" {
		t.Errorf("failure = %+v", res.Failures[0])
	}

	rows, err := q.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(rows) != 1 || rows[0].DocumentID != "b" {
		t.Errorf("remaining rows = %+v, want only b", rows)
	}
}

func TestReplay_CorruptRowCountsAsFailure(t *testing.T) {
	ctx := context.Background()
	q := openTestQueue(t)
	if err := q.Enqueue(ctx, "sites", "ok", map[string]any{"a": 1}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	fq := &corruptingQueue{PendingQueue: q, corruptID: "ok"}

	res, err := NewReplayer(fq, testLogger()).Sync(ctx, docstore.Configured(docstore.NewMemory()))
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.Succeeded != 0 || len(res.Failures) != 1 || queueLen(t, q) != 1 {
		t.Errorf("result = %+v, queue = %d", res, queueLen(t, q))
	}
}

func TestReplay_QueueFailures(t *testing.T) {
	ctx := context.Background()
	q := openTestQueue(t)
	_ = q.Enqueue(ctx, "sites", "s1", map[string]any{"a": 1})
	store := docstore.Configured(docstore.NewMemory())

	drainErr := errors.New("database is locked")
	if _, err := NewReplayer(&failingQueue{PendingQueue: q, drainErr: drainErr}, testLogger()).Sync(ctx, store); !errors.Is(err, drainErr) {
		t.Errorf("drain failure err = %v", err)
	}

	removeErr := errors.New("disk I/O error")
	res, err := NewReplayer(&failingQueue{PendingQueue: q, removeErr: removeErr}, testLogger()).Sync(ctx, store)
	if !errors.Is(err, removeErr) {
		t.Errorf("remove failure err = %v", err)
	}
	if res.Attempted != 1 {
		t.Errorf("result = %+v", res)
	}
}

func TestReplay_InterruptedReportsWhatIsStillQueued(t *testing.T) {
	q := openTestQueue(t)
	for _, id := range []string{"a", "b", "c", "d"} {
		if err := q.Enqueue(context.Background(), "sites", id, map[string]any{"id": id}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := &cancelingWriter{cancel: cancel}

	res, err := NewReplayer(q, testLogger()).Sync(ctx, docstore.Configured(w))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if res.Status != StatusInterrupted {
		t.Errorf("Status = %s, want interrupted", res.Status)
	}
	if w.writes != 1 || res.Attempted != 1 || res.Succeeded != 1 {
		t.Errorf("result = %+v, writes = %d", res, w.writes)
	}
	if got := queueLen(t, q); res.Remaining != 3 || got != 3 {
		t.Errorf("Remaining = %d, queue length = %d, want 3 and 3", res.Remaining, got)
	}
}

func TestReplayStatus_String(t *testing.T) {
	for s, want := range map[ReplayStatus]string{
		StatusSkipped:       "skipped",
		StatusNothingToSync: "nothing_to_sync",
		StatusCompleted:     "completed",
		StatusInterrupted:   "interrupted",
		ReplayStatus(9):     "ReplayStatus(9)",
	} {
		if got := s.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(s), got, want)
		}
	}
}
