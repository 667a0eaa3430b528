package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/njoerd114/omadamirror/internal/docstore"
	"github.com/njoerd114/omadamirror/internal/queue"
)

// ReplayStatus is the outcome class of a replay.
type ReplayStatus int

const (
	// StatusSkipped means no document store is configured; nothing was read.
	StatusSkipped ReplayStatus = iota
	// StatusNothingToSync means the queue was empty.
	StatusNothingToSync
	// StatusCompleted means every queued row was attempted.
	StatusCompleted
	// StatusInterrupted means ctx ended before every row was attempted.
	StatusInterrupted
)

// String returns the status name used in logs and the HTTP API.
func (s ReplayStatus) String() string {
	switch s {
	case StatusSkipped:
		return "skipped"
	case StatusNothingToSync:
		return "nothing_to_sync"
	case StatusCompleted:
		return "completed"
	case StatusInterrupted:
		return "interrupted"
	default:
		return fmt.Sprintf("ReplayStatus(%d)", int(s))
	}
}

// ReplayFailure records one row that could not be replayed.
type ReplayFailure struct {
	Collection string
	DocumentID string
	Err        error
}

// ReplayResult summarises a replay.
type ReplayResult struct {
	Status    ReplayStatus
	Attempted int
	Succeeded int
	// Remaining is the number of drained rows still queued, attempted or not.
	Remaining int
	Failures  []ReplayFailure
}

// Replayer moves queued writes into the document store.
type Replayer struct {
	q       PendingQueue
	log     *slog.Logger
	timeout time.Duration
}

// ReplayOption configures a Replayer.
type ReplayOption func(*Replayer)

// WithReplayTimeout sets the per-row write timeout.
func WithReplayTimeout(d time.Duration) ReplayOption {
	return func(r *Replayer) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewReplayer creates a Replayer over q.
func NewReplayer(q PendingQueue, logger *slog.Logger, opts ...ReplayOption) *Replayer {
	r := &Replayer{q: q, log: logger, timeout: 10 * time.Second}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Sync replays every queued write into store. Rows that are written are
// removed from the queue; rows that fail stay queued for the next replay.
// Per-row failures are reported in the result, never as an error. A failure
// to read or update the queue returns an error, as does cancellation before
// every row was attempted; the result is still filled in.
func (r *Replayer) Sync(ctx context.Context, store docstore.Handle) (ReplayResult, error) {
	w, ok := store.Writer()
	if !ok {
		r.log.Info("document store not configured; skipping offline replay")
		return ReplayResult{Status: StatusSkipped}, nil
	}

	rows, err := r.q.Drain(ctx)
	if err != nil {
		return ReplayResult{}, fmt.Errorf("draining offline queue: %w", err)
	}
	if len(rows) == 0 {
		r.log.Debug("offline queue empty")
		return ReplayResult{Status: StatusNothingToSync}, nil
	}

	res := ReplayResult{Status: StatusCompleted}
	done := make([]int64, 0, len(rows))
	for _, row := range rows {
		if ctx.Err() != nil {
			res.Status = StatusInterrupted
			break
		}
		res.Attempted++
		if err := r.replayRow(ctx, w, row); err != nil {
			res.Failures = append(res.Failures, ReplayFailure{
				Collection: row.Collection,
				DocumentID: row.DocumentID,
				Err:        err,
			})
			r.log.Warn("replay failed; row stays queued",
				"collection", row.Collection,
				"doc_id", row.DocumentID,
				"error", err,
			)
			continue
		}
		done = append(done, row.ID)
	}

	// Rows already written must be dequeued even if ctx was cancelled
	// mid-replay, otherwise they would be written again next time.
	if _, err := r.q.Remove(context.WithoutCancel(ctx), done); err != nil {
		res.Remaining = len(rows)
		return res, fmt.Errorf("removing replayed rows: %w", err)
	}
	res.Succeeded = len(done)
	res.Remaining = len(rows) - res.Succeeded

	r.log.Info("offline replay finished",
		"status", res.Status.String(),
		"attempted", res.Attempted,
		"succeeded", res.Succeeded,
		"remaining", res.Remaining,
	)
	if res.Status == StatusInterrupted {
		return res, fmt.Errorf("replay interrupted after %d of %d rows: %w", res.Attempted, len(rows), context.Cause(ctx))
	}
	return res, nil
}

func (r *Replayer) replayRow(ctx context.Context, w docstore.Writer, row queue.PendingWrite) error {
	if row.DecodeErr != nil {
		return row.DecodeErr
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return w.SetMerge(ctx, row.Collection, row.DocumentID, row.Payload)
}
