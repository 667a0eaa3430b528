// Package paging retrieves complete collections from paginated list endpoints.
//
// A list endpoint is modelled as a ListFunc: given a 1-based page number and a
// page size it returns the items on that page plus the server-reported total.
// FetchAll accumulates every page into a single slice; Walk hands each page to
// a callback instead, so callers can process large collections page by page.
//
// Iteration stops on whichever comes first: a page with no items, or the
// accumulated count reaching the reported total. Both exits are checked on
// every iteration, so an under-reported total or a server that keeps
// returning empty pages past the end cannot loop forever.
package paging

import (
	"context"
	"errors"
	"fmt"
)

const (
	// DefaultPageSize is used when Options.PageSize is zero.
	DefaultPageSize = 100
	// MaxPageSize is the largest page size the controller accepts.
	MaxPageSize = 1000
)

// Page is one page of a listing.
type Page[T any] struct {
	Items []T
	// TotalRows is the server-reported size of the whole collection.
	TotalRows int
}

// ListFunc fetches a single page. page is 1-based.
type ListFunc[T any] func(ctx context.Context, page, pageSize int) (Page[T], error)

// PageFunc receives each page during Walk. Returning an error stops the walk.
type PageFunc[T any] func(ctx context.Context, page int, items []T) error

// Options controls a fetch.
type Options struct {
	// PageSize is clamped to [1, MaxPageSize]. Zero means DefaultPageSize.
	PageSize int
	// StartPage is the first page requested. Zero means 1.
	StartPage int
	// SinglePage stops after the first page regardless of the total.
	SinglePage bool
}

func (o Options) normalize() Options {
	switch {
	case o.PageSize == 0:
		o.PageSize = DefaultPageSize
	case o.PageSize < 1:
		o.PageSize = 1
	case o.PageSize > MaxPageSize:
		o.PageSize = MaxPageSize
	}
	if o.StartPage < 1 {
		o.StartPage = 1
	}
	return o
}

// Stats summarises a completed walk.
type Stats struct {
	Pages int
	Items int
	// TotalRows is the last total reported by the server.
	TotalRows int
}

// Error reports a failed fetch. No partial collection accompanies it.
type Error struct {
	// Page is the page number whose request failed.
	Page int
	// Fetched is the number of items accumulated before the failure.
	Fetched int
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetching page %d (after %d items): %v", e.Page, e.Fetched, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// VendorMessage returns the vendor-supplied message carried by the wrapped
// error, if any.
func (e *Error) VendorMessage() string {
	var vm interface{ VendorMessage() string }
	if errors.As(e.Err, &vm) {
		return vm.VendorMessage()
	}
	return ""
}

// FetchAll retrieves every item of a paginated collection in page order.
// On any failure it returns a *Error and no items.
func FetchAll[T any](ctx context.Context, list ListFunc[T], opts Options) ([]T, error) {
	var all []T
	_, err := Walk(ctx, list, opts, func(_ context.Context, _ int, items []T) error {
		all = append(all, items...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if all == nil {
		all = []T{}
	}
	return all, nil
}

// Walk requests pages in order and passes each non-empty page to fn. It
// terminates under the same conditions as FetchAll. Errors from list and fn
// are both reported as *Error.
func Walk[T any](ctx context.Context, list ListFunc[T], opts Options, fn PageFunc[T]) (Stats, error) {
	opts = opts.normalize()

	var stats Stats
	page := opts.StartPage
	for {
		if err := ctx.Err(); err != nil {
			return stats, &Error{Page: page, Fetched: stats.Items, Err: err}
		}

		res, err := list(ctx, page, opts.PageSize)
		if err != nil {
			return stats, &Error{Page: page, Fetched: stats.Items, Err: err}
		}
		if res.TotalRows < 0 {
			return stats, &Error{Page: page, Fetched: stats.Items,
				Err: fmt.Errorf("negative total %d", res.TotalRows)}
		}
		stats.TotalRows = res.TotalRows

		if len(res.Items) == 0 {
			return stats, nil
		}

		stats.Pages++
		stats.Items += len(res.Items)
		if err := fn(ctx, page, res.Items); err != nil {
			return stats, &Error{Page: page, Fetched: stats.Items, Err: err}
		}

		if stats.Items >= res.TotalRows || opts.SinglePage {
			return stats, nil
		}
		page++
	}
}
