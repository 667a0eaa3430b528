// Package mirror copies fetched items into the document store, one
// merge-upsert per item, and parks any write that cannot be delivered in the
// offline queue. A failing item never stops the rest of the batch.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/njoerd114/omadamirror/internal/docstore"
	"github.com/njoerd114/omadamirror/internal/model"
)

// DefaultTimeout bounds each store write.
const DefaultTimeout = 10 * time.Second

// Queue is the subset of the offline queue the sink writes to.
type Queue interface {
	Enqueue(ctx context.Context, collection, id string, payload map[string]any) error
}

// Report summarises one Mirror call.
type Report struct {
	// Attempted counts items that had a key.
	Attempted int
	Written   int
	Queued    int
	// Skipped counts items with no usable key.
	Skipped int
	// Dropped counts items that could neither be written nor queued.
	Dropped int
	Errors  []error
}

// Degraded reports whether any item missed the store.
func (r Report) Degraded() bool {
	return r.Queued > 0 || r.Dropped > 0
}

// Add folds other into r.
func (r *Report) Add(other Report) {
	r.Attempted += other.Attempted
	r.Written += other.Written
	r.Queued += other.Queued
	r.Skipped += other.Skipped
	r.Dropped += other.Dropped
	r.Errors = append(r.Errors, other.Errors...)
}

// Sink writes items to the document store with offline fallback.
type Sink struct {
	store   docstore.Handle
	queue   Queue
	logger  *slog.Logger
	timeout time.Duration
}

// Option configures a Sink.
type Option func(*Sink)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sink) { s.logger = l }
}

// WithTimeout sets the per-write timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Sink) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewSink creates a Sink. store may be docstore.NotConfigured(), in which
// case every write goes straight to q.
func NewSink(store docstore.Handle, q Queue, opts ...Option) *Sink {
	s := &Sink{
		store:   store,
		queue:   q,
		logger:  slog.Default(),
		timeout: DefaultTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Mirror merge-upserts every item into res.Collection, keyed by res.Key.
// Items without a key are skipped. Items the store rejects, or all items
// when no store is configured, are queued for replay.
func (s *Sink) Mirror(ctx context.Context, items []model.Item, res model.Resource) Report {
	var rep Report
	w, configured := s.store.Writer()

	for _, it := range items {
		id := res.Key(it)
		if id == "" {
			rep.Skipped++
			s.logger.Warn("item has no document key; not mirrored",
				"resource", res.Name,
				"collection", res.Collection,
			)
			continue
		}
		rep.Attempted++

		var writeErr error
		if configured {
			writeErr = s.write(ctx, w, res.Collection, id, it)
			if writeErr == nil {
				rep.Written++
				continue
			}
			s.logger.Warn("store write failed; queueing",
				"collection", res.Collection,
				"doc_id", id,
				"error", writeErr,
			)
		} else {
			writeErr = docstore.ErrUnavailable
		}

		// The queue write uses a context detached from cancellation so a
		// shutdown mid-batch still parks the item.
		if err := s.queue.Enqueue(context.WithoutCancel(ctx), res.Collection, id, it.Map()); err != nil {
			rep.Dropped++
			rep.Errors = append(rep.Errors, fmt.Errorf("%s/%s: %w", res.Collection, id, errors.Join(writeErr, err)))
			s.logger.Error("queueing failed; write dropped",
				"collection", res.Collection,
				"doc_id", id,
				"error", err,
			)
			continue
		}
		rep.Queued++
	}

	if rep.Degraded() || rep.Skipped > 0 {
		s.logger.Info("mirror degraded",
			"resource", res.Name,
			"written", rep.Written,
			"queued", rep.Queued,
			"skipped", rep.Skipped,
			"dropped", rep.Dropped,
		)
	} else {
		s.logger.Debug("mirror complete", "resource", res.Name, "written", rep.Written)
	}
	return rep
}

func (s *Sink) write(ctx context.Context, w docstore.Writer, collection, id string, it model.Item) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return w.SetMerge(ctx, collection, id, it.Map())
}
