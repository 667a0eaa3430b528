// Package sync drives the mirror: it replays the offline queue into the
// document store and runs mirror passes over the controller's collections.
//
// The package contains three components:
//
//   - [Replayer] drains the offline queue into the document store.
//   - [Runner] fetches one resource at a time and hands each page to the
//     mirror sink.
//   - [Engine] combines both into instrumented passes, once or on a ticker.
package sync

import (
	"context"

	"github.com/njoerd114/omadamirror/internal/mirror"
	"github.com/njoerd114/omadamirror/internal/model"
	"github.com/njoerd114/omadamirror/internal/paging"
	"github.com/njoerd114/omadamirror/internal/queue"
)

// PendingQueue is the offline queue as seen by the replayer.
// Implemented by [queue.Queue].
type PendingQueue interface {
	Drain(ctx context.Context) ([]queue.PendingWrite, error)
	Remove(ctx context.Context, ids []int64) (int64, error)
	Len(ctx context.Context) (int, error)
}

// Controller resolves resources to list functions and keeps the access
// token fresh. Implemented by [omada.Client].
type Controller interface {
	Lister(res model.Resource, siteID string) (paging.ListFunc[model.Item], error)
	EnsureToken(ctx context.Context) error
}

// Mirrorer writes a batch of items for one resource.
// Implemented by [mirror.Sink].
type Mirrorer interface {
	Mirror(ctx context.Context, items []model.Item, res model.Resource) mirror.Report
}
