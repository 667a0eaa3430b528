package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/log/global"

	"github.com/njoerd114/omadamirror/internal/config"
	"github.com/njoerd114/omadamirror/internal/docstore"
	"github.com/njoerd114/omadamirror/internal/mirror"
	"github.com/njoerd114/omadamirror/internal/omada"
	"github.com/njoerd114/omadamirror/internal/queue"
	syncp "github.com/njoerd114/omadamirror/internal/sync"
	"github.com/njoerd114/omadamirror/internal/telemetry"
)

// app holds everything a command needs once the config is loaded.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	queue   *queue.Queue
	store   docstore.Handle
	ctrl    *omada.Client
	engine  *syncp.Engine
	closers []func()
}

// newLogger builds the process logger. Records also flow to the OTel log
// provider once telemetry is set up.
func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	text := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	logger := slog.New(telemetry.NewLogHandler(text, global.GetLoggerProvider(), telemetry.DefaultServiceName))
	slog.SetDefault(logger)
	return logger
}

// openApp loads the config and wires the queue, store, controller client and
// engine. dryRun swaps the document store for an in-memory one and the
// queue for a throwaway file so nothing persistent is touched.
func openApp(ctx context.Context, cfgPath string, logger *slog.Logger, dryRun bool) (*app, error) {
	// --- Config --------------------------------------------------------------

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("loading config from %q: %w", cfgPath, err)
	}
	logger.Info("config loaded",
		"controller", cfg.Controller.BaseURL,
		"interval", cfg.Sync.Interval,
		"firestore", cfg.Firestore != nil,
		"dry_run", dryRun,
	)

	a := &app{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	// --- Telemetry (optional) ------------------------------------------------

	if cfg.Telemetry != nil {
		shutdownTel, err := telemetry.Setup(ctx, telemetry.Config{
			OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
			Insecure:       cfg.Telemetry.Insecure,
			ServiceName:    cfg.Telemetry.ServiceName,
			ServiceVersion: version,
			Headers:        cfg.Telemetry.Headers,
		})
		if err != nil {
			logger.Error("telemetry setup failed, continuing without telemetry", "error", err)
		} else {
			logger.Info("telemetry enabled", "endpoint", cfg.Telemetry.OTLPEndpoint)
			a.closers = append(a.closers, func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTel(flushCtx); err != nil {
					logger.Error("telemetry shutdown error", "error", err)
				}
			})
		}
	}

	// --- Offline queue -------------------------------------------------------

	qPath, err := queuePath(cfg, dryRun)
	if err != nil {
		return nil, err
	}
	if dryRun {
		a.closers = append(a.closers, func() { _ = os.RemoveAll(filepath.Dir(qPath)) })
	}
	q, err := queue.Open(qPath)
	if err != nil {
		return nil, fmt.Errorf("opening offline queue at %q: %w", qPath, err)
	}
	a.queue = q
	a.closers = append(a.closers, func() {
		if err := q.Close(); err != nil {
			logger.Error("closing offline queue", "error", err)
		}
	})
	logger.Info("offline queue opened", "path", qPath)

	// --- Document store ------------------------------------------------------

	a.store, err = a.openStore(ctx, dryRun)
	if err != nil {
		return nil, err
	}

	// --- Controller & engine -------------------------------------------------

	a.ctrl = omada.New(omada.Config{
		BaseURL:            cfg.Controller.BaseURL,
		OmadacID:           cfg.Controller.OmadacID,
		ClientID:           cfg.Controller.ClientID,
		ClientSecret:       cfg.Controller.ClientSecret,
		Timeout:            cfg.Controller.Timeout,
		RequestsPerSecond:  cfg.Controller.RequestsPerSecond,
		InsecureSkipVerify: cfg.Controller.InsecureSkipVerify,
	},
		omada.WithLogger(logger),
		omada.WithCredentials(cfg.Controller.Username, cfg.Controller.Password),
		omada.WithTrafficWindow(cfg.Sync.TrafficWindow),
	)

	timeout := config.DefaultStoreTimeout
	if cfg.Firestore != nil {
		timeout = cfg.Firestore.Timeout
	}
	sink := mirror.NewSink(a.store, q, mirror.WithLogger(logger), mirror.WithTimeout(timeout))
	replayer := syncp.NewReplayer(q, logger, syncp.WithReplayTimeout(timeout))
	runner := syncp.NewRunner(a.ctrl, sink, logger, cfg.Controller.PageSize)
	plan := syncp.Plan{Resources: cfg.Plan(), Sites: cfg.Sync.Sites}
	a.engine = syncp.NewEngine(replayer, runner, a.store, plan, cfg.Sync.Interval, logger)

	ok = true
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func queuePath(cfg *config.Config, dryRun bool) (string, error) {
	if dryRun {
		dir, err := os.MkdirTemp("", "omadamirror-dryrun-*")
		if err != nil {
			return "", fmt.Errorf("creating dry-run queue directory: %w", err)
		}
		return filepath.Join(dir, "offline_queue.db"), nil
	}
	if cfg.Queue.Path != "" {
		return cfg.Queue.Path, nil
	}
	p, err := queue.DefaultDBPath()
	if err != nil {
		return "", fmt.Errorf("resolving offline queue path: %w", err)
	}
	return p, nil
}

// openStore returns the document store handle: in-memory for dry runs, not
// configured without a firestore block, otherwise Firestore behind a
// circuit breaker.
func (a *app) openStore(ctx context.Context, dryRun bool) (docstore.Handle, error) {
	cfg, logger := a.cfg, a.logger
	if dryRun {
		return docstore.Configured(docstore.NewMemory()), nil
	}
	if cfg.Firestore == nil {
		logger.Warn("no firestore configured; all writes go to the offline queue")
		return docstore.NotConfigured(), nil
	}

	sa, err := docstore.LoadServiceAccount(cfg.Firestore.CredentialsFile)
	if err != nil {
		return docstore.Handle{}, fmt.Errorf("loading firestore credentials: %w", err)
	}
	fs, err := docstore.NewFirestore(ctx, docstore.FirestoreConfig{
		ProjectID:   cfg.Firestore.ProjectID,
		DatabaseID:  cfg.Firestore.DatabaseID,
		Credentials: sa,
		Timeout:     cfg.Firestore.Timeout,
	}, docstore.WithFirestoreLogger(logger))
	if err != nil {
		return docstore.Handle{}, fmt.Errorf("initialising firestore client: %w", err)
	}
	a.closers = append(a.closers, func() {
		if err := fs.Close(); err != nil {
			logger.Error("closing firestore client", "error", err)
		}
	})
	logger.Info("firestore configured", "service_account", sa.ClientEmail)
	return docstore.Configured(docstore.NewBreaker(fs, docstore.DefaultBreakerConfig(), logger)), nil
}

// ignoreCanceled treats a cancelled context as a clean shutdown.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
