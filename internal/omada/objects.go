package omada

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/njoerd114/omadamirror/internal/model"
	"github.com/njoerd114/omadamirror/internal/paging"
)

// Site returns one site's settings.
func (c *Client) Site(ctx context.Context, siteID string) (model.Item, error) {
	it, err := c.object(ctx, c.v1("sites", siteID), nil)
	if err != nil {
		return nil, err
	}
	setDefault(it, "siteId", siteID)
	return it, nil
}

// Device returns the details of the device with the given MAC at a site.
func (c *Client) Device(ctx context.Context, siteID, mac string) (model.Item, error) {
	it, err := c.object(ctx, c.v1("sites", siteID, "devices", mac), nil)
	if err != nil {
		return nil, err
	}
	setDefault(it, "mac", mac)
	return it, nil
}

// Dashboard returns a site's overview diagram: gateway, switch and AP
// counts with their connection state.
func (c *Client) Dashboard(ctx context.Context, siteID string) (model.Item, error) {
	it, err := c.object(ctx, c.v1("sites", siteID, "dashboard", "overview-diagram"), nil)
	if err != nil {
		return nil, err
	}
	it["siteId"] = siteID
	return it, nil
}

// Dashboards wraps Dashboard as a single-page lister so the overview can be
// mirrored like any other resource.
func (c *Client) Dashboards(siteID string) paging.ListFunc[model.Item] {
	return func(ctx context.Context, _, _ int) (paging.Page[model.Item], error) {
		it, err := c.Dashboard(ctx, siteID)
		if err != nil {
			return paging.Page[model.Item]{}, err
		}
		return paging.Page[model.Item]{Items: []model.Item{it}, TotalRows: 1}, nil
	}
}

// SwitchStats returns the statistics the controller keeps for one switch
// between start and end. Depending on firmware the result is a single object
// or a time series; either way it is returned under "stats".
func (c *Client) SwitchStats(ctx context.Context, siteID, mac string, start, end time.Time) (model.Item, error) {
	var stats any
	err := c.do(ctx, request{
		method: http.MethodGet,
		path:   c.v1("sites", siteID, "stat", "switches", mac),
		query: url.Values{
			"start": {strconv.FormatInt(start.Unix(), 10)},
			"end":   {strconv.FormatInt(end.Unix(), 10)},
		},
		authed: true,
	}, &stats)
	if err != nil {
		return nil, err
	}
	return model.Item{
		"siteId": siteID,
		"mac":    mac,
		"start":  start.Unix(),
		"end":    end.Unix(),
		"stats":  stats,
	}, nil
}

// object fetches a single-object endpoint. An empty result decodes to an
// empty item rather than nil.
func (c *Client) object(ctx context.Context, path string, query url.Values) (model.Item, error) {
	var it model.Item
	err := c.do(ctx, request{method: http.MethodGet, path: path, query: query, authed: true}, &it)
	if err != nil {
		return nil, err
	}
	if it == nil {
		it = model.Item{}
	}
	return it, nil
}

func setDefault(it model.Item, field, value string) {
	if it.String(field) == "" {
		it[field] = value
	}
}
