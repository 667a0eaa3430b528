package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/njoerd114/omadamirror/internal/model"
	"github.com/njoerd114/omadamirror/internal/paging"
	"github.com/njoerd114/omadamirror/internal/queue"
)

// --- Mock Controller ---------------------------------------------------------

type mockController struct {
	mu sync.Mutex
	// data maps "resource" or "resource@site" to the full collection.
	data map[string][]model.Item
	// fail maps the same keys to an error returned on every page.
	fail     map[string]error
	tokenErr error
	// tokenFailAt fails the n-th EnsureToken call (1-based).
	tokenFailAt map[int]error
	tokenCalls  int
	calls       map[string]int
}

func newMockController() *mockController {
	return &mockController{
		data:  make(map[string][]model.Item),
		fail:  make(map[string]error),
		calls: make(map[string]int),
	}
}

func scopeKey(res model.Resource, siteID string) string {
	if res.Scope == model.ScopeSite {
		return res.Name + "@" + siteID
	}
	return res.Name
}

func (m *mockController) set(res model.Resource, siteID string, items ...model.Item) {
	m.data[scopeKey(res, siteID)] = items
}

func (m *mockController) EnsureToken(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokenCalls++
	if err := m.tokenFailAt[m.tokenCalls]; err != nil {
		return err
	}
	return m.tokenErr
}

func (m *mockController) Lister(res model.Resource, siteID string) (paging.ListFunc[model.Item], error) {
	if res.Scope == model.ScopeSite && siteID == "" {
		return nil, fmt.Errorf("resource %q requires a site id", res.Name)
	}
	key := scopeKey(res, siteID)
	return func(_ context.Context, page, pageSize int) (paging.Page[model.Item], error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.calls[key]++
		if err := m.fail[key]; err != nil {
			return paging.Page[model.Item]{}, err
		}
		all := m.data[key]
		start := (page - 1) * pageSize
		if start >= len(all) {
			return paging.Page[model.Item]{TotalRows: len(all)}, nil
		}
		end := min(start+pageSize, len(all))
		return paging.Page[model.Item]{Items: all[start:end], TotalRows: len(all)}, nil
	}, nil
}

func (m *mockController) callCount(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[key]
}

// --- Mock Queue --------------------------------------------------------------

// failingQueue wraps a real queue and injects queue-level failures.
type failingQueue struct {
	PendingQueue
	drainErr  error
	removeErr error
}

func (f *failingQueue) Drain(ctx context.Context) ([]queue.PendingWrite, error) {
	if f.drainErr != nil {
		return nil, f.drainErr
	}
	return f.PendingQueue.Drain(ctx)
}

func (f *failingQueue) Remove(ctx context.Context, ids []int64) (int64, error) {
	if f.removeErr != nil {
		return 0, f.removeErr
	}
	return f.PendingQueue.Remove(ctx, ids)
}

// corruptingQueue marks one document's row as undecodable on Drain.
type corruptingQueue struct {
	PendingQueue
	corruptID string
}

func (c *corruptingQueue) Drain(ctx context.Context) ([]queue.PendingWrite, error) {
	rows, err := c.PendingQueue.Drain(ctx)
	for i := range rows {
		if rows[i].DocumentID == c.corruptID {
			rows[i].Payload = nil
			rows[i].DecodeErr = errors.New("decoding payload: invalid character")
		}
	}
	return rows, err
}

// --- Mock Writer -------------------------------------------------------------

// selectiveWriter fails writes for the listed document ids.
type selectiveWriter struct {
	mu   sync.Mutex
	fail map[string]bool
	docs map[string]map[string]any
}

func newSelectiveWriter(failIDs ...string) *selectiveWriter {
	w := &selectiveWriter{fail: make(map[string]bool), docs: make(map[string]map[string]any)}
	for _, id := range failIDs {
		w.fail[id] = true
	}
	return w
}

func (w *selectiveWriter) SetMerge(_ context.Context, collection, id string, doc map[string]any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail[id] {
		return errors.New("permission denied")
	}
	w.docs[collection+"/"+id] = doc
	return nil
}

// cancelingWriter stores the first write and then cancels the replay's
// context, as a shutdown signal arriving mid-replay would.
type cancelingWriter struct {
	cancel context.CancelFunc
	writes int
}

func (w *cancelingWriter) SetMerge(context.Context, string, string, map[string]any) error {
	w.writes++
	w.cancel()
	return nil
}

// --- Helpers -----------------------------------------------------------------

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestQueue(t *testing.T) *queue.Queue {
	t.Helper()
	q, err := queue.Open(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func queueLen(t *testing.T, q PendingQueue) int {
	t.Helper()
	n, err := q.Len(context.Background())
	if err != nil {
		t.Fatalf("Len: %v", err)
	}
	return n
}
