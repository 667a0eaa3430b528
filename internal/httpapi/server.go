// Package httpapi exposes the mirror engine over a small local HTTP API:
// queue depth, on-demand replay, on-demand mirroring of one resource, and
// single-object reads from the controller.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"

	"github.com/njoerd114/omadamirror/internal/mirror"
	"github.com/njoerd114/omadamirror/internal/model"
	"github.com/njoerd114/omadamirror/internal/paging"
	"github.com/njoerd114/omadamirror/internal/sync"
)

// QueueDepth reports the number of writes waiting in the offline queue.
type QueueDepth interface {
	Len(ctx context.Context) (int, error)
}

// Engine is the subset of sync.Engine the API drives.
type Engine interface {
	Replay(ctx context.Context) (sync.ReplayResult, error)
	MirrorResource(ctx context.Context, res model.Resource, siteID string) (sync.Outcome, error)
	Fetch(ctx context.Context, res model.Resource, siteID string, read func(context.Context) (model.Item, error)) (sync.Outcome, error)
}

// Controller reads single objects from the controller.
// Implemented by omada.Client.
type Controller interface {
	Site(ctx context.Context, siteID string) (model.Item, error)
	Device(ctx context.Context, siteID, mac string) (model.Item, error)
	Dashboard(ctx context.Context, siteID string) (model.Item, error)
	SwitchStats(ctx context.Context, siteID, mac string, start, end time.Time) (model.Item, error)
}

// switchStats is never mirrored; it has no collection.
var switchStats = model.Resource{Name: "switch_stats", Scope: model.ScopeSite}

const defaultStatsWindow = time.Hour

const shutdownTimeout = 10 * time.Second

// Server holds dependencies for HTTP handlers.
type Server struct {
	Queue      QueueDepth
	Engine     Engine
	Controller Controller
	Logger     *slog.Logger

	// RequestsPerMinute limits each client IP. Zero disables the limit.
	RequestsPerMinute int

	// JWTSecret, when set, requires an HS256 bearer token on /v1.
	JWTSecret string
}

type errorResp struct {
	Error string `json:"error"`
}

type queueResp struct {
	Pending int `json:"pending"`
}

type replayFailure struct {
	Collection string `json:"collection"`
	DocumentID string `json:"document_id"`
	Error      string `json:"error"`
}

type replayResp struct {
	Status    string          `json:"status"`
	Attempted int             `json:"attempted"`
	Succeeded int             `json:"succeeded"`
	Remaining int             `json:"remaining"`
	Failures  []replayFailure `json:"failures,omitempty"`
}

type mirrorReport struct {
	Attempted int      `json:"attempted"`
	Written   int      `json:"written"`
	Queued    int      `json:"queued"`
	Skipped   int      `json:"skipped"`
	Dropped   int      `json:"dropped"`
	Degraded  bool     `json:"degraded"`
	Errors    []string `json:"errors,omitempty"`
}

type mirrorResp struct {
	Resource   string       `json:"resource"`
	SiteID     string       `json:"site_id,omitempty"`
	Items      []model.Item `json:"items"`
	Count      int          `json:"count"`
	Pages      int          `json:"pages"`
	FetchError string       `json:"fetch_error,omitempty"`
	VendorMsg  string       `json:"vendor_msg,omitempty"`
	Mirror     mirrorReport `json:"mirror"`
}

type objectResp struct {
	Resource   string        `json:"resource"`
	SiteID     string        `json:"site_id"`
	Item       model.Item    `json:"item,omitempty"`
	FetchError string        `json:"fetch_error,omitempty"`
	VendorMsg  string        `json:"vendor_msg,omitempty"`
	Mirror     *mirrorReport `json:"mirror,omitempty"`
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Logger.Error("failed to encode json response", "error", err)
	}
}

// Routes creates the HTTP router with all endpoints.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/v1", func(r chi.Router) {
		if s.RequestsPerMinute > 0 {
			r.Use(httprate.Limit(s.RequestsPerMinute, time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
					s.writeJSON(w, http.StatusTooManyRequests, errorResp{Error: "rate limit exceeded"})
				}),
			))
		}
		if s.JWTSecret != "" {
			r.Use(s.requireBearer([]byte(s.JWTSecret)))
		}
		r.Get("/queue", s.getQueue)
		r.Post("/queue/replay", s.postReplay)
		r.Post("/mirror/{resource}", s.postMirror)

		r.Route("/sites/{siteID}", func(r chi.Router) {
			r.Get("/", s.getSite)
			r.Get("/dashboard", s.getDashboard)
			r.Get("/devices/{mac}", s.getDevice)
			r.Get("/switches/{mac}/stats", s.getSwitchStats)
		})
	})

	return r
}

func (s *Server) getQueue(w http.ResponseWriter, r *http.Request) {
	n, err := s.Queue.Len(r.Context())
	if err != nil {
		s.Logger.Error("reading queue depth", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, errorResp{Error: "queue unavailable"})
		return
	}
	s.writeJSON(w, http.StatusOK, queueResp{Pending: n})
}

func (s *Server) postReplay(w http.ResponseWriter, r *http.Request) {
	res, err := s.Engine.Replay(r.Context())
	if err != nil {
		s.Logger.Error("replay failed", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}

	resp := replayResp{
		Status:    res.Status.String(),
		Attempted: res.Attempted,
		Succeeded: res.Succeeded,
		Remaining: res.Remaining,
	}
	for _, f := range res.Failures {
		resp.Failures = append(resp.Failures, replayFailure{
			Collection: f.Collection,
			DocumentID: f.DocumentID,
			Error:      f.Err.Error(),
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) postMirror(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "resource")
	res, ok := model.Lookup(name)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, errorResp{Error: "unknown resource " + name})
		return
	}
	siteID := r.URL.Query().Get("site_id")
	if res.Scope == model.ScopeSite && siteID == "" {
		s.writeJSON(w, http.StatusBadRequest, errorResp{Error: "site_id is required for " + name})
		return
	}

	o, err := s.Engine.MirrorResource(r.Context(), res, siteID)
	if err != nil {
		s.writeJSON(w, http.StatusBadGateway, errorResp{Error: err.Error()})
		return
	}

	resp := mirrorResp{
		Resource: o.Resource,
		SiteID:   o.Scope,
		Items:    o.Items,
		Count:    len(o.Items),
		Pages:    o.Pages,
		Mirror:   toMirrorReport(o.Mirror),
	}
	code := http.StatusOK
	if o.FetchErr != nil {
		code = http.StatusBadGateway
		resp.FetchError = o.FetchErr.Error()
		var pe *paging.Error
		if errors.As(o.FetchErr, &pe) {
			resp.VendorMsg = pe.VendorMessage()
		}
	}
	s.writeJSON(w, code, resp)
}

func (s *Server) getSite(w http.ResponseWriter, r *http.Request) {
	siteID := chi.URLParam(r, "siteID")
	s.fetch(w, r, model.Sites, siteID, func(ctx context.Context) (model.Item, error) {
		return s.Controller.Site(ctx, siteID)
	})
}

func (s *Server) getDashboard(w http.ResponseWriter, r *http.Request) {
	siteID := chi.URLParam(r, "siteID")
	s.fetch(w, r, model.Dashboards, siteID, func(ctx context.Context) (model.Item, error) {
		return s.Controller.Dashboard(ctx, siteID)
	})
}

func (s *Server) getDevice(w http.ResponseWriter, r *http.Request) {
	siteID, mac := chi.URLParam(r, "siteID"), chi.URLParam(r, "mac")
	s.fetch(w, r, model.Devices, siteID, func(ctx context.Context) (model.Item, error) {
		return s.Controller.Device(ctx, siteID, mac)
	})
}

// getSwitchStats takes start and end as unix seconds and defaults to the
// last hour.
func (s *Server) getSwitchStats(w http.ResponseWriter, r *http.Request) {
	siteID, mac := chi.URLParam(r, "siteID"), chi.URLParam(r, "mac")
	end := time.Now()
	start := end.Add(-defaultStatsWindow)
	var err error
	if start, err = unixParam(r, "start", start); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	if end, err = unixParam(r, "end", end); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	if !start.Before(end) {
		s.writeJSON(w, http.StatusBadRequest, errorResp{Error: "start must be before end"})
		return
	}
	s.fetch(w, r, switchStats, siteID, func(ctx context.Context) (model.Item, error) {
		return s.Controller.SwitchStats(ctx, siteID, mac, start, end)
	})
}

func (s *Server) fetch(w http.ResponseWriter, r *http.Request, res model.Resource, siteID string, read func(context.Context) (model.Item, error)) {
	o, err := s.Engine.Fetch(r.Context(), res, siteID, read)
	if err != nil {
		s.writeJSON(w, http.StatusBadGateway, errorResp{Error: err.Error()})
		return
	}

	resp := objectResp{Resource: res.Name, SiteID: siteID}
	if len(o.Items) > 0 {
		resp.Item = o.Items[0]
	}
	if res.Collection != "" {
		rep := toMirrorReport(o.Mirror)
		resp.Mirror = &rep
	}
	code := http.StatusOK
	if o.FetchErr != nil {
		code = http.StatusBadGateway
		resp.FetchError = o.FetchErr.Error()
		var ve interface{ VendorMessage() string }
		if errors.As(o.FetchErr, &ve) {
			resp.VendorMsg = ve.VendorMessage()
		}
	}
	s.writeJSON(w, code, resp)
}

func unixParam(r *http.Request, name string, def time.Time) (time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, errors.New(name + " must be unix seconds")
	}
	return time.Unix(n, 0), nil
}

func toMirrorReport(r mirror.Report) mirrorReport {
	out := mirrorReport{
		Attempted: r.Attempted,
		Written:   r.Written,
		Queued:    r.Queued,
		Skipped:   r.Skipped,
		Dropped:   r.Dropped,
		Degraded:  r.Degraded(),
	}
	for _, err := range r.Errors {
		out.Errors = append(out.Errors, err.Error())
	}
	return out
}

// requestLogger logs one line per request through the server's slog logger.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.Logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).Round(time.Millisecond),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// Serve listens on addr until ctx is cancelled, then drains in-flight
// requests for up to shutdownTimeout.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.Logger.Info("http api listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
