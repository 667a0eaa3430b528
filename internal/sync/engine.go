package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/njoerd114/omadamirror/internal/docstore"
	"github.com/njoerd114/omadamirror/internal/model"
)

const (
	otelScope         = "omadamirror/sync"
	spanPass          = "sync.pass"
	spanReplay        = "sync.replay"
	spanResource      = "sync.resource"
	spanFetch         = "sync.fetch"
	metricFetched     = "omadamirror.fetch.items"
	metricFetchErrors = "omadamirror.fetch.errors"
	metricWritten     = "omadamirror.mirror.written"
	metricQueued      = "omadamirror.mirror.queued"
	metricSkipped     = "omadamirror.mirror.skipped"
	metricDropped     = "omadamirror.mirror.dropped"
	metricReplayed    = "omadamirror.replay.succeeded"
	metricReplayFails = "omadamirror.replay.failed"
)

// RunReport is the result of one Engine pass.
type RunReport struct {
	RunID  string
	Replay ReplayResult
	Pass   PassStats
}

// Engine runs mirror passes: replay the offline queue, then mirror the plan.
// Create one with [NewEngine] and start it with [Engine.Run] or
// [Engine.RunOnce].
type Engine struct {
	replayer *Replayer
	runner   *Runner
	store    docstore.Handle
	plan     Plan
	interval time.Duration
	log      *slog.Logger

	// OTel instruments, always non-nil. No-op when telemetry is disabled.
	tracer         trace.Tracer
	cntFetched     metric.Int64Counter
	cntFetchErrors metric.Int64Counter
	cntWritten     metric.Int64Counter
	cntQueued      metric.Int64Counter
	cntSkipped     metric.Int64Counter
	cntDropped     metric.Int64Counter
	cntReplayed    metric.Int64Counter
	cntReplayFails metric.Int64Counter
}

// NewEngine creates an Engine.
func NewEngine(replayer *Replayer, runner *Runner, store docstore.Handle, plan Plan, interval time.Duration, logger *slog.Logger) *Engine {
	tracer := otel.Tracer(otelScope)
	meter := otel.Meter(otelScope)

	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Error("creating OTel counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}

	return &Engine{
		replayer: replayer,
		runner:   runner,
		store:    store,
		plan:     plan,
		interval: interval,
		log:      logger,

		tracer:         tracer,
		cntFetched:     mustCounter(metricFetched, "Number of items fetched from the controller"),
		cntFetchErrors: mustCounter(metricFetchErrors, "Number of resource fetches that failed"),
		cntWritten:     mustCounter(metricWritten, "Number of items written to the document store"),
		cntQueued:      mustCounter(metricQueued, "Number of items parked in the offline queue"),
		cntSkipped:     mustCounter(metricSkipped, "Number of items skipped for lack of a key"),
		cntDropped:     mustCounter(metricDropped, "Number of items that could neither be written nor queued"),
		cntReplayed:    mustCounter(metricReplayed, "Number of queued writes replayed"),
		cntReplayFails: mustCounter(metricReplayFails, "Number of queued writes that failed to replay"),
	}
}

// Replay drains the offline queue into the store, recording a span and
// metrics.
func (e *Engine) Replay(ctx context.Context) (ReplayResult, error) {
	ctx, span := e.tracer.Start(ctx, spanReplay)
	defer span.End()

	res, err := e.replayer.Sync(ctx, e.store)
	add(ctx, e.cntReplayed, res.Succeeded)
	add(ctx, e.cntReplayFails, len(res.Failures))

	span.SetAttributes(
		attribute.String("replay.status", res.Status.String()),
		attribute.Int("replay.attempted", res.Attempted),
		attribute.Int("replay.succeeded", res.Succeeded),
		attribute.Int("replay.remaining", res.Remaining),
	)
	if err != nil {
		span.RecordError(err)
	}
	return res, err
}

// RunOnce replays the offline queue and then runs one mirror pass. Both
// halves always run; their errors are joined.
func (e *Engine) RunOnce(ctx context.Context) (RunReport, error) {
	rep := RunReport{RunID: uuid.NewString()}
	log := e.log.With("run_id", rep.RunID)

	ctx, span := e.tracer.Start(ctx, spanPass, trace.WithAttributes(attribute.String("run.id", rep.RunID)))
	defer span.End()

	start := time.Now()
	replay, replayErr := e.Replay(ctx)
	rep.Replay = replay
	if replayErr != nil {
		log.Error("offline replay failed", "error", replayErr)
	}

	pass, passErr := e.runner.RunPass(ctx, e.plan)
	rep.Pass = pass

	add(ctx, e.cntFetched, pass.Fetched)
	add(ctx, e.cntFetchErrors, pass.FetchErrors)
	add(ctx, e.cntWritten, pass.Mirror.Written)
	add(ctx, e.cntQueued, pass.Mirror.Queued)
	add(ctx, e.cntSkipped, pass.Mirror.Skipped)
	add(ctx, e.cntDropped, pass.Mirror.Dropped)

	span.SetAttributes(
		attribute.Int("pass.fetched", pass.Fetched),
		attribute.Int("pass.fetch_errors", pass.FetchErrors),
		attribute.Int("pass.written", pass.Mirror.Written),
		attribute.Int("pass.queued", pass.Mirror.Queued),
		attribute.Int("pass.skipped", pass.Mirror.Skipped),
		attribute.Int("pass.dropped", pass.Mirror.Dropped),
	)

	err := errors.Join(replayErr, passErr)
	if err != nil {
		span.RecordError(err)
	}

	log.Info("pass complete",
		"duration", time.Since(start).Round(time.Millisecond),
		"replay", replay.Status.String(),
		"replayed", replay.Succeeded,
		"fetched", pass.Fetched,
		"fetch_errors", pass.FetchErrors,
		"written", pass.Mirror.Written,
		"queued", pass.Mirror.Queued,
		"skipped", pass.Mirror.Skipped,
		"dropped", pass.Mirror.Dropped,
	)
	return rep, err
}

// MirrorResource mirrors a single resource outside the schedule. The error is
// non-nil only when the controller token cannot be obtained; fetch failures
// are reported in the Outcome.
func (e *Engine) MirrorResource(ctx context.Context, res model.Resource, siteID string) (Outcome, error) {
	ctx, span := e.tracer.Start(ctx, spanResource, trace.WithAttributes(
		attribute.String("resource", res.Name),
		attribute.String("site.id", siteID),
	))
	defer span.End()

	if err := e.runner.ctrl.EnsureToken(ctx); err != nil {
		span.RecordError(err)
		return Outcome{Resource: res.Name, Scope: siteID}, fmt.Errorf("authorizing with controller: %w", err)
	}

	o := e.runner.MirrorResource(ctx, res, siteID)
	add(ctx, e.cntFetched, len(o.Items))
	if o.FetchErr != nil {
		add(ctx, e.cntFetchErrors, 1)
		span.RecordError(o.FetchErr)
	}
	add(ctx, e.cntWritten, o.Mirror.Written)
	add(ctx, e.cntQueued, o.Mirror.Queued)
	add(ctx, e.cntSkipped, o.Mirror.Skipped)
	add(ctx, e.cntDropped, o.Mirror.Dropped)
	return o, nil
}

// Fetch reads one object from the controller with read and, when res has a
// collection, mirrors it like a one-item page. As with MirrorResource the
// error is reserved for token failures; a failed read is the Outcome's
// FetchErr.
func (e *Engine) Fetch(ctx context.Context, res model.Resource, siteID string, read func(context.Context) (model.Item, error)) (Outcome, error) {
	ctx, span := e.tracer.Start(ctx, spanFetch, trace.WithAttributes(
		attribute.String("resource", res.Name),
		attribute.String("site.id", siteID),
	))
	defer span.End()

	o := Outcome{Resource: res.Name, Scope: siteID}
	if err := e.runner.ctrl.EnsureToken(ctx); err != nil {
		span.RecordError(err)
		return o, fmt.Errorf("authorizing with controller: %w", err)
	}

	it, err := read(ctx)
	if err != nil {
		o.FetchErr = err
		add(ctx, e.cntFetchErrors, 1)
		span.RecordError(err)
		e.log.Error("fetch failed", "resource", res.Name, "site", siteID, "error", err)
		return o, nil
	}
	o.Items = []model.Item{it}
	o.Pages = 1
	add(ctx, e.cntFetched, 1)

	if res.Collection != "" {
		o.Mirror = e.runner.sink.Mirror(ctx, o.Items, res)
		add(ctx, e.cntWritten, o.Mirror.Written)
		add(ctx, e.cntQueued, o.Mirror.Queued)
		add(ctx, e.cntSkipped, o.Mirror.Skipped)
		add(ctx, e.cntDropped, o.Mirror.Dropped)
	}
	return o, nil
}

// Run performs a pass immediately and then one per interval until ctx is
// cancelled. Passes never overlap: a slow pass delays the next tick.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	if _, err := e.RunOnce(ctx); err != nil {
		e.log.Error("initial pass failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			e.log.Info("sync engine shutting down")
			return ctx.Err()
		case <-ticker.C:
			if _, err := e.RunOnce(ctx); err != nil {
				e.log.Error("pass failed", "error", err)
			}
		}
	}
}

func add(ctx context.Context, c metric.Int64Counter, n int) {
	if n > 0 {
		c.Add(ctx, int64(n))
	}
}
