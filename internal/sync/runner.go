package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/njoerd114/omadamirror/internal/mirror"
	"github.com/njoerd114/omadamirror/internal/model"
	"github.com/njoerd114/omadamirror/internal/paging"
)

// Plan selects what a pass mirrors.
type Plan struct {
	// Resources to mirror, in any order. Site-scoped resources are mirrored
	// for every selected site.
	Resources []model.Resource
	// Sites restricts site-scoped resources to these site ids. Empty means
	// every site the controller lists.
	Sites []string
}

// Outcome is the result of mirroring one resource. FetchErr and Mirror are
// independent: a failed fetch carries no items, while a successful fetch may
// still have degraded mirroring.
type Outcome struct {
	Resource string
	// Scope is the site id for site-scoped resources, "" otherwise.
	Scope    string
	Items    []model.Item
	Pages    int
	FetchErr error
	Mirror   mirror.Report
}

// PassStats aggregates the outcomes of one pass.
type PassStats struct {
	Outcomes    []Outcome
	Fetched     int
	FetchErrors int
	Mirror      mirror.Report
}

func (s *PassStats) add(o Outcome) {
	s.Outcomes = append(s.Outcomes, o)
	s.Fetched += len(o.Items)
	if o.FetchErr != nil {
		s.FetchErrors++
	}
	s.Mirror.Add(o.Mirror)
}

// Runner fetches resources from the controller and mirrors them page by page.
type Runner struct {
	ctrl     Controller
	sink     Mirrorer
	log      *slog.Logger
	pageSize int
}

// NewRunner creates a Runner. pageSize of zero uses paging.DefaultPageSize.
func NewRunner(ctrl Controller, sink Mirrorer, logger *slog.Logger, pageSize int) *Runner {
	return &Runner{ctrl: ctrl, sink: sink, log: logger, pageSize: pageSize}
}

// MirrorResource fetches res (scoped to siteID when site-scoped) and mirrors
// every page as it arrives.
func (r *Runner) MirrorResource(ctx context.Context, res model.Resource, siteID string) Outcome {
	list, err := r.ctrl.Lister(res, siteID)
	if err != nil {
		return Outcome{Resource: res.Name, Scope: siteID, FetchErr: err}
	}
	return r.MirrorList(ctx, res, siteID, list)
}

// MirrorList walks list and mirrors each page into res's collection. On a
// fetch failure the items collected so far are discarded from the outcome;
// pages already mirrored stay mirrored.
func (r *Runner) MirrorList(ctx context.Context, res model.Resource, scope string, list paging.ListFunc[model.Item]) Outcome {
	out := Outcome{Resource: res.Name, Scope: scope}
	opts := paging.Options{PageSize: r.pageSize, SinglePage: res.SinglePage}

	var items []model.Item
	stats, err := paging.Walk(ctx, list, opts, func(ctx context.Context, page int, batch []model.Item) error {
		items = append(items, batch...)
		out.Mirror.Add(r.sink.Mirror(ctx, batch, res))
		return nil
	})
	out.Pages = stats.Pages
	if err != nil {
		out.FetchErr = err
		logArgs := []any{"resource", res.Name, "site", scope, "error", err}
		var pe *paging.Error
		if errors.As(err, &pe) {
			logArgs = append(logArgs, "page", pe.Page, "fetched", pe.Fetched)
			if vm := pe.VendorMessage(); vm != "" {
				logArgs = append(logArgs, "vendor_msg", vm)
			}
		}
		r.log.Error("fetch failed", logArgs...)
		return out
	}

	if items == nil {
		items = []model.Item{}
	}
	out.Items = items
	r.log.Info("resource mirrored",
		"resource", res.Name,
		"site", scope,
		"items", len(items),
		"pages", stats.Pages,
		"written", out.Mirror.Written,
		"queued", out.Mirror.Queued,
		"skipped", out.Mirror.Skipped,
	)
	return out
}

// RunPass mirrors every resource in plan. Sites come first so their ids can
// drive the site-scoped resources; controller-wide resources come last. One
// resource failing never stops the others. The returned error is non-nil only
// when the pass could not start at all, or when the site list needed by
// site-scoped resources could not be fetched.
func (r *Runner) RunPass(ctx context.Context, plan Plan) (PassStats, error) {
	var stats PassStats
	if err := r.ctrl.EnsureToken(ctx); err != nil {
		return stats, fmt.Errorf("authorizing with controller: %w", err)
	}

	var wantSites bool
	var siteScoped, global []model.Resource
	for _, res := range plan.Resources {
		switch {
		case res.Name == model.Sites.Name:
			wantSites = true
		case res.Scope == model.ScopeSite:
			siteScoped = append(siteScoped, res)
		default:
			global = append(global, res)
		}
	}

	siteIDs := plan.Sites
	var siteErr error
	if wantSites {
		o := r.mirrorFresh(ctx, model.Sites, "")
		stats.add(o)
		if len(siteIDs) == 0 && len(siteScoped) > 0 {
			siteIDs, siteErr = siteIDsFrom(o)
		}
	} else if len(siteIDs) == 0 && len(siteScoped) > 0 {
		list, err := r.ctrl.Lister(model.Sites, "")
		if err == nil {
			var sites []model.Item
			sites, err = paging.FetchAll(ctx, list, paging.Options{PageSize: r.pageSize})
			siteIDs, siteErr = siteIDsFrom(Outcome{Items: sites, FetchErr: err})
		} else {
			siteErr = err
		}
	}
	if siteErr != nil {
		r.log.Error("site list unavailable; skipping site-scoped resources", "error", siteErr)
	}

	for _, site := range siteIDs {
		for _, res := range siteScoped {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			stats.add(r.mirrorFresh(ctx, res, site))
		}
	}
	for _, res := range global {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		stats.add(r.mirrorFresh(ctx, res, ""))
	}

	if siteErr != nil {
		return stats, fmt.Errorf("listing sites: %w", siteErr)
	}
	return stats, nil
}

// mirrorFresh re-checks the access token before mirroring res. A pass over
// many sites can outlive the token; a failed refresh fails only this
// resource.
func (r *Runner) mirrorFresh(ctx context.Context, res model.Resource, siteID string) Outcome {
	if err := r.ctrl.EnsureToken(ctx); err != nil {
		err = fmt.Errorf("authorizing with controller: %w", err)
		r.log.Error("fetch failed", "resource", res.Name, "site", siteID, "error", err)
		return Outcome{Resource: res.Name, Scope: siteID, FetchErr: err}
	}
	return r.MirrorResource(ctx, res, siteID)
}

func siteIDsFrom(o Outcome) ([]string, error) {
	if o.FetchErr != nil {
		return nil, o.FetchErr
	}
	ids := make([]string, 0, len(o.Items))
	for _, it := range o.Items {
		if id := it.String("siteId"); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
