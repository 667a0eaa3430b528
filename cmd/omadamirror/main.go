// omadamirror pulls inventory and statistics from a TP-Link Omada controller
// and mirrors every item into a Firestore database. Writes that cannot reach
// Firestore are parked in a local SQLite queue and replayed on the next pass.
//
// Usage:
//
//	omadamirror init                        # interactive first-run wizard
//	omadamirror sync-once [--dry-run]       # replay queue, one pass, exit
//	omadamirror daemon                      # pass on every interval
//	omadamirror replay                      # drain the offline queue only
//	omadamirror serve                       # local HTTP API
//	omadamirror status                      # show config & queue state
//	omadamirror version                     # print version
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/njoerd114/omadamirror/internal/config"
	"github.com/njoerd114/omadamirror/internal/httpapi"
	"github.com/njoerd114/omadamirror/internal/queue"
	"github.com/njoerd114/omadamirror/internal/setup"
	syncp "github.com/njoerd114/omadamirror/internal/sync"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

var (
	cfgPath string
	verbose bool
	dryRun  bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "omadamirror",
	Short: "Mirror an Omada controller into Firestore",
	Long: `omadamirror pages through the Omada Open API (sites, devices, audit
logs, traffic, dashboards) and mirrors every item into Firestore.

Writes that fail are kept in a local offline queue and replayed before
the next pass.`,
	SilenceUsage: true,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Interactive first-run wizard",
	Args:  cobra.NoArgs,
	RunE:  runInit,
}

var syncOnceCmd = &cobra.Command{
	Use:   "sync-once",
	Short: "Replay the offline queue, run one mirror pass, then exit",
	Long: `Replay the offline queue, run one mirror pass, then exit.

With --dry-run the pass writes to an in-memory store and a throwaway
queue, so Firestore and the real offline queue are never touched.`,
	Args: cobra.NoArgs,
	RunE: runSyncOnce,
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run a mirror pass immediately and then on every interval",
	Args:  cobra.NoArgs,
	RunE:  runDaemon,
}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Drain the offline queue into Firestore",
	Args:  cobra.NoArgs,
	RunE:  runReplay,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the local HTTP API",
	Long: `Serve the local HTTP API on http.listen.

  GET  /healthz
  GET  /v1/queue
  POST /v1/queue/replay
  POST /v1/mirror/{resource}?site_id=...
  GET  /v1/sites/{siteID}
  GET  /v1/sites/{siteID}/dashboard
  GET  /v1/sites/{siteID}/devices/{mac}
  GET  /v1/sites/{siteID}/switches/{mac}/stats?start=...&end=...`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show config and offline queue state",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "omadamirror", version)
	},
}

func init() {
	defaultCfg, _ := config.DefaultPath()
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", defaultCfg, "path to config.yaml")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable debug logging")
	syncOnceCmd.Flags().BoolVar(&dryRun, "dry-run", false, "mirror into memory instead of Firestore")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(syncOnceCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
}

// --- Subcommands -------------------------------------------------------------

func runInit(cmd *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)

	ctx, stop := signalContext()
	defer stop()

	wiz := setup.NewWizard(os.Stdin, cmd.OutOrStdout(), logger, nil)
	if _, err := wiz.Run(ctx, cfgPath); err != nil && !errors.Is(err, setup.ErrKeepExisting) {
		return err
	}
	return nil
}

func runSyncOnce(cmd *cobra.Command, _ []string) error {
	logger := newLogger(verbose)
	ctx, stop := signalContext()
	defer stop()

	a, err := openApp(ctx, cfgPath, logger, dryRun)
	if err != nil {
		return err
	}
	defer a.Close()

	rep, runErr := a.engine.RunOnce(ctx)
	printReport(cmd, rep)
	return runErr
}

func runDaemon(_ *cobra.Command, _ []string) error {
	logger := newLogger(verbose)
	ctx, stop := signalContext()
	defer stop()

	a, err := openApp(ctx, cfgPath, logger, false)
	if err != nil {
		return err
	}
	defer a.Close()

	logger.Info("daemon starting", "interval", a.cfg.Sync.Interval, "resources", len(a.cfg.Plan()))
	return ignoreCanceled(a.engine.Run(ctx))
}

func runReplay(cmd *cobra.Command, _ []string) error {
	logger := newLogger(verbose)
	ctx, stop := signalContext()
	defer stop()

	a, err := openApp(ctx, cfgPath, logger, false)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.engine.Replay(ctx)
	printReplay(cmd, res)
	return err
}

func runServe(_ *cobra.Command, _ []string) error {
	logger := newLogger(verbose)
	ctx, stop := signalContext()
	defer stop()

	a, err := openApp(ctx, cfgPath, logger, false)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := &httpapi.Server{
		Queue:             a.queue,
		Engine:            a.engine,
		Controller:        a.ctrl,
		Logger:            logger,
		RequestsPerMinute: a.cfg.HTTP.RequestsPerMinute,
		JWTSecret:         a.cfg.HTTP.JWTSecret,
	}
	return srv.Serve(ctx, a.cfg.HTTP.Listen)
}

// runStatus prints configuration and offline queue state without touching
// the controller or Firestore.
func runStatus(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "omadamirror status")
	fmt.Fprintln(out, "──────────────────")

	var cfg *config.Config
	if _, err := os.Stat(cfgPath); err == nil {
		if loaded, loadErr := config.Load(cfgPath); loadErr == nil {
			cfg = loaded
			fmt.Fprintf(out, "  Config:     %s ✓\n", cfgPath)
			fmt.Fprintf(out, "  Controller: %s\n", cfg.Controller.BaseURL)
			fmt.Fprintf(out, "  Resources:  %d\n", len(cfg.Plan()))
			if len(cfg.Sync.Sites) == 0 {
				fmt.Fprintf(out, "  Sites:      all\n")
			} else {
				fmt.Fprintf(out, "  Sites:      %d selected\n", len(cfg.Sync.Sites))
			}
			fmt.Fprintf(out, "  Interval:   %s\n", cfg.Sync.Interval)
			if cfg.Firestore != nil {
				fmt.Fprintf(out, "  Firestore:  %s\n", cfg.Firestore.CredentialsFile)
			} else {
				fmt.Fprintf(out, "  Firestore:  not configured (writes are queued)\n")
			}
		} else {
			fmt.Fprintf(out, "  Config:     %s (invalid: %v)\n", cfgPath, loadErr)
		}
	} else {
		fmt.Fprintf(out, "  Config:     not found (%s)\n", cfgPath)
	}

	var qPath string
	if cfg != nil && cfg.Queue.Path != "" {
		qPath = cfg.Queue.Path
	} else {
		qPath, _ = queue.DefaultDBPath()
	}
	info, err := os.Stat(qPath)
	if err != nil {
		fmt.Fprintf(out, "  Queue:      not found\n")
		return nil
	}
	fmt.Fprintf(out, "  Queue:      %s (%s)\n", qPath, humanSize(info.Size()))

	q, err := queue.Open(qPath)
	if err != nil {
		fmt.Fprintf(out, "  Pending:    unknown (%v)\n", err)
		return nil
	}
	defer q.Close()
	n, err := q.Len(cmd.Context())
	if err != nil {
		fmt.Fprintf(out, "  Pending:    unknown (%v)\n", err)
		return nil
	}
	fmt.Fprintf(out, "  Pending:    %d write(s)\n", n)
	return nil
}

// --- Output ------------------------------------------------------------------

func printReport(cmd *cobra.Command, rep syncp.RunReport) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %s\n", rep.RunID)
	printReplay(cmd, rep.Replay)
	for _, o := range rep.Pass.Outcomes {
		name := o.Resource
		if o.Scope != "" {
			name += "@" + o.Scope
		}
		switch {
		case o.FetchErr != nil:
			fmt.Fprintf(out, "  ✗ %-32s %v\n", name, o.FetchErr)
		case o.Mirror.Degraded():
			fmt.Fprintf(out, "  ⚠ %-32s %d item(s): %d written, %d queued, %d skipped, %d dropped\n",
				name, len(o.Items), o.Mirror.Written, o.Mirror.Queued, o.Mirror.Skipped, o.Mirror.Dropped)
		default:
			fmt.Fprintf(out, "  ✓ %-32s %d item(s) in %d page(s)\n", name, len(o.Items), o.Pages)
		}
	}
	fmt.Fprintf(out, "fetched %d item(s), %d fetch error(s), %d written, %d queued\n",
		rep.Pass.Fetched, rep.Pass.FetchErrors, rep.Pass.Mirror.Written, rep.Pass.Mirror.Queued)
}

func printReplay(cmd *cobra.Command, res syncp.ReplayResult) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "replay %s: %d/%d succeeded, %d remaining\n",
		res.Status, res.Succeeded, res.Attempted, res.Remaining)
	for _, f := range res.Failures {
		fmt.Fprintf(out, "  ✗ %s/%s: %v\n", f.Collection, f.DocumentID, f.Err)
	}
}

// humanSize formats a byte count in a human-readable form.
func humanSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
