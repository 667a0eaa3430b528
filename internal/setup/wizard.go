package setup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/njoerd114/omadamirror/internal/config"
	"github.com/njoerd114/omadamirror/internal/docstore"
	"github.com/njoerd114/omadamirror/internal/model"
	"github.com/njoerd114/omadamirror/internal/omada"
	"github.com/njoerd114/omadamirror/internal/paging"
)

// Controller is the part of the Omada client the wizard needs.
type Controller interface {
	Authorize(ctx context.Context, username, password string) (omada.Token, error)
	Sites() paging.ListFunc[model.Item]
}

// ControllerFactory builds a Controller from the answers collected so far.
type ControllerFactory func(config.ControllerConfig) Controller

// Wizard guides the user through first-run configuration.
type Wizard struct {
	prompt    *Prompter
	logger    *slog.Logger
	w         io.Writer
	newClient ControllerFactory
}

// NewWizard creates a Wizard wired to the given I/O and logger. A nil
// factory connects to the real controller.
func NewWizard(r io.Reader, w io.Writer, logger *slog.Logger, factory ControllerFactory) *Wizard {
	if factory == nil {
		factory = func(cc config.ControllerConfig) Controller {
			return omada.New(omada.Config{
				BaseURL:            cc.BaseURL,
				OmadacID:           cc.OmadacID,
				ClientID:           cc.ClientID,
				ClientSecret:       cc.ClientSecret,
				InsecureSkipVerify: cc.InsecureSkipVerify,
			}, omada.WithLogger(logger))
		}
	}
	return &Wizard{
		prompt:    NewPrompter(r, w),
		logger:    logger,
		w:         w,
		newClient: factory,
	}
}

// ErrKeepExisting is returned when the user declines to overwrite an
// existing configuration.
var ErrKeepExisting = errors.New("existing configuration kept")

// Run executes the wizard and writes the result to cfgPath. It verifies the
// controller credentials and discovers sites before anything is saved.
func (wiz *Wizard) Run(ctx context.Context, cfgPath string) (*config.Config, error) {
	fmt.Fprintf(wiz.w, "\nWelcome to omadamirror setup!\n")
	fmt.Fprintf(wiz.w, "This wizard connects to your Omada controller and writes %s.\n\n", cfgPath)

	if _, statErr := os.Stat(cfgPath); statErr == nil {
		fmt.Fprintf(wiz.w, "  Existing config found at %s\n", cfgPath)
		if !wiz.prompt.Confirm("Overwrite existing configuration?", false) {
			fmt.Fprintf(wiz.w, "\n  Keeping existing config.\n")
			return nil, ErrKeepExisting
		}
		fmt.Fprintf(wiz.w, "\n")
	}

	// Step 1: controller connection.
	fmt.Fprintf(wiz.w, "Step 1/4: Omada Controller\n")

	cc := config.ControllerConfig{
		BaseURL:      strings.TrimRight(wiz.prompt.String("Controller URL", "https://omada.local:8043"), "/"),
		OmadacID:     wiz.prompt.String("Omada ID (omadacId)", ""),
		ClientID:     wiz.prompt.String("Open API client ID", ""),
		ClientSecret: wiz.prompt.Secret("Open API client secret"),
		Username:     wiz.prompt.String("Controller username", ""),
		Password:     wiz.prompt.Secret("Controller password"),
	}
	cc.InsecureSkipVerify = wiz.prompt.Confirm("Accept a self-signed certificate?", true)

	ctrl := wiz.newClient(cc)
	fmt.Fprintf(wiz.w, "  Authorizing...")
	if _, err := ctrl.Authorize(ctx, cc.Username, cc.Password); err != nil {
		fmt.Fprintf(wiz.w, " ✗\n")
		return nil, fmt.Errorf("cannot authorize with the controller: %w\n\n  Check the URL, Omada ID and credentials, then try again", err)
	}
	fmt.Fprintf(wiz.w, " ✓\n\n")

	// Step 2: sites.
	fmt.Fprintf(wiz.w, "Step 2/4: Sites\n")
	sites, err := wiz.chooseSites(ctx, ctrl)
	if err != nil {
		return nil, err
	}

	// Step 3: document store.
	fmt.Fprintf(wiz.w, "Step 3/4: Firestore\n")
	fs := wiz.chooseFirestore()

	// Step 4: interval and save.
	fmt.Fprintf(wiz.w, "Step 4/4: Schedule\n")
	interval := wiz.prompt.Duration("Mirror interval", config.DefaultSyncInterval, config.MinSyncInterval)
	fmt.Fprintf(wiz.w, "\n")

	cfg := &config.Config{
		Controller: cc,
		Firestore:  fs,
		Sync:       config.SyncConfig{Interval: interval, Sites: sites},
	}
	if err := config.Write(cfgPath, cfg); err != nil {
		return nil, fmt.Errorf("writing config: %w", err)
	}
	fmt.Fprintf(wiz.w, "  ✓ Config written to %s\n\n", cfgPath)
	fmt.Fprintf(wiz.w, "Next steps:\n")
	fmt.Fprintf(wiz.w, "  omadamirror sync-once --dry-run   # fetch without writing\n")
	fmt.Fprintf(wiz.w, "  omadamirror daemon                # mirror every %s\n\n", interval)
	return cfg, nil
}

// chooseSites lists every site on the controller and lets the user restrict
// mirroring to some of them. nil means all sites.
func (wiz *Wizard) chooseSites(ctx context.Context, ctrl Controller) ([]string, error) {
	fmt.Fprintf(wiz.w, "  Discovering sites...\n")
	sites, err := paging.FetchAll(ctx, ctrl.Sites(), paging.Options{})
	if err != nil {
		var pe *paging.Error
		if errors.As(err, &pe) && pe.VendorMessage() != "" {
			return nil, fmt.Errorf("listing sites: %s", pe.VendorMessage())
		}
		return nil, fmt.Errorf("listing sites: %w", err)
	}
	if len(sites) == 0 {
		fmt.Fprintf(wiz.w, "  ⚠ The controller reports no sites; all future sites will be mirrored.\n\n")
		return nil, nil
	}

	labels := make([]string, len(sites))
	for i, s := range sites {
		labels[i] = fmt.Sprintf("%s (%s)", s.String("name"), s.String("siteId"))
	}
	idx, err := wiz.prompt.MultiSelect(fmt.Sprintf("Found %d site(s); which should be mirrored", len(sites)), labels)
	if err != nil {
		return nil, fmt.Errorf("selecting sites: %w", err)
	}
	fmt.Fprintf(wiz.w, "\n")
	if idx == nil {
		return nil, nil
	}

	ids := make([]string, 0, len(idx))
	for _, i := range idx {
		ids = append(ids, sites[i].String("siteId"))
	}
	return ids, nil
}

// chooseFirestore asks for a service-account key and checks that it parses.
// Declining leaves the store not configured.
func (wiz *Wizard) chooseFirestore() *config.FirestoreConfig {
	if !wiz.prompt.Confirm("Mirror into Firestore now? (writes are queued locally otherwise)", true) {
		fmt.Fprintf(wiz.w, "\n")
		return nil
	}

	for {
		path := wiz.prompt.String("Service account key file", "")
		if path == "" {
			return nil
		}
		sa, err := docstore.LoadServiceAccount(path)
		if err != nil {
			fmt.Fprintf(wiz.w, "  ✗ %v\n", err)
			if !wiz.prompt.Confirm("Try another file?", true) {
				fmt.Fprintf(wiz.w, "\n")
				return nil
			}
			continue
		}
		project := wiz.prompt.String("Project ID", sa.ProjectID)
		if project == sa.ProjectID {
			project = ""
		}
		fs := &config.FirestoreConfig{
			CredentialsFile: path,
			ProjectID:       project,
			DatabaseID:      wiz.prompt.Optional("Database ID, blank for (default)"),
		}
		fmt.Fprintf(wiz.w, "  ✓ Using %s\n\n", sa.ClientEmail)
		return fs
	}
}
