package omada

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/njoerd114/omadamirror/internal/model"
	"github.com/njoerd114/omadamirror/internal/paging"
)

// pagedResult is the result shape of every paged collection endpoint.
type pagedResult struct {
	TotalRows   int          `json:"totalRows"`
	CurrentPage int          `json:"currentPage"`
	CurrentSize int          `json:"currentSize"`
	Data        []model.Item `json:"data"`
}

// Sites lists the controller's sites.
func (c *Client) Sites() paging.ListFunc[model.Item] {
	return c.paged(c.v1("sites"))
}

// Devices lists the devices adopted at a site.
func (c *Client) Devices(siteID string) paging.ListFunc[model.Item] {
	return c.paged(c.v1("sites", siteID, "devices"))
}

// AuditLogs lists a site's audit log.
func (c *Client) AuditLogs(siteID string) paging.ListFunc[model.Item] {
	return c.paged(c.v1("sites", siteID, "audit-logs"))
}

// GlobalAuditLogs lists the controller-wide audit log.
func (c *Client) GlobalAuditLogs() paging.ListFunc[model.Item] {
	return c.paged(c.v1("audit-logs"))
}

// Traffic returns a single-page lister that yields one snapshot of a site's
// AP and switch traffic over the configured window ending now. The snapshot
// is keyed by site id and the window's end timestamp.
func (c *Client) Traffic(siteID string) paging.ListFunc[model.Item] {
	path := c.v1("sites", siteID, "dashboard", "traffic-activities")
	return func(ctx context.Context, _, _ int) (paging.Page[model.Item], error) {
		end := c.now()
		start := end.Add(-c.window)

		var res struct {
			AP     []any `json:"apTrafficActivities"`
			Switch []any `json:"switchTrafficActivities"`
		}
		err := c.do(ctx, request{
			method: http.MethodGet,
			path:   path,
			query: url.Values{
				"start": {strconv.FormatInt(start.Unix(), 10)},
				"end":   {strconv.FormatInt(end.Unix(), 10)},
			},
			authed: true,
		}, &res)
		if err != nil {
			return paging.Page[model.Item]{}, err
		}
		if res.AP == nil {
			res.AP = []any{}
		}
		if res.Switch == nil {
			res.Switch = []any{}
		}

		snap := model.Item{
			"siteId":        siteID,
			"timestamp":     end.Unix(),
			"apTraffic":     res.AP,
			"switchTraffic": res.Switch,
		}
		return paging.Page[model.Item]{Items: []model.Item{snap}, TotalRows: 1}, nil
	}
}

// Lister returns the list function for res. Site-scoped resources require a
// site id.
func (c *Client) Lister(res model.Resource, siteID string) (paging.ListFunc[model.Item], error) {
	if res.Scope == model.ScopeSite && siteID == "" {
		return nil, fmt.Errorf("resource %q requires a site id", res.Name)
	}
	switch res.Name {
	case model.Sites.Name:
		return c.Sites(), nil
	case model.Devices.Name:
		return c.Devices(siteID), nil
	case model.AuditLogs.Name:
		return c.AuditLogs(siteID), nil
	case model.GlobalAuditLogs.Name:
		return c.GlobalAuditLogs(), nil
	case model.Traffic.Name:
		return c.Traffic(siteID), nil
	case model.Dashboards.Name:
		return c.Dashboards(siteID), nil
	default:
		return nil, fmt.Errorf("unknown resource %q", res.Name)
	}
}

func (c *Client) paged(path string) paging.ListFunc[model.Item] {
	return func(ctx context.Context, page, pageSize int) (paging.Page[model.Item], error) {
		var res pagedResult
		err := c.do(ctx, request{
			method: http.MethodGet,
			path:   path,
			query: url.Values{
				"page":     {strconv.Itoa(page)},
				"pageSize": {strconv.Itoa(pageSize)},
			},
			authed: true,
		}, &res)
		if err != nil {
			return paging.Page[model.Item]{}, err
		}
		if res.TotalRows < 0 {
			return paging.Page[model.Item]{}, &MalformedResponseError{
				Path: path,
				Err:  fmt.Errorf("negative totalRows %d", res.TotalRows),
			}
		}
		return paging.Page[model.Item]{Items: res.Data, TotalRows: res.TotalRows}, nil
	}
}

// v1 builds an /openapi/v1/{omadacId}/... path with escaped segments.
func (c *Client) v1(segments ...string) string {
	p := "/openapi/v1/" + url.PathEscape(c.cfg.OmadacID)
	for _, s := range segments {
		p += "/" + url.PathEscape(s)
	}
	return p
}
