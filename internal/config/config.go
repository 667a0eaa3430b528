// Package config loads, validates and writes the omadamirror YAML
// configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/njoerd114/omadamirror/internal/model"
)

const (
	DefaultPageSize       = 100
	DefaultSyncInterval   = 5 * time.Minute
	MinSyncInterval       = 10 * time.Second
	DefaultTrafficWindow  = time.Hour
	DefaultControllerWait = 30 * time.Second
	DefaultStoreTimeout   = 10 * time.Second
	DefaultListen         = "127.0.0.1:8080"
)

// Config holds the full application configuration loaded from YAML.
type Config struct {
	Controller ControllerConfig `yaml:"controller"`

	// Firestore configures the document store. Omit the block to run with
	// the store not configured: every write then lands in the offline queue.
	Firestore *FirestoreConfig `yaml:"firestore,omitempty"`

	Queue QueueConfig `yaml:"queue,omitempty"`
	Sync  SyncConfig  `yaml:"sync,omitempty"`
	HTTP  HTTPConfig  `yaml:"http,omitempty"`

	// Telemetry configures optional OpenTelemetry export via OTLP gRPC.
	// Omit the block entirely to disable telemetry.
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
}

// ControllerConfig describes how to reach the Omada controller's Open API.
type ControllerConfig struct {
	// BaseURL is the controller's northbound URL (e.g. "https://omada.local:8043").
	BaseURL string `yaml:"base_url" validate:"required,http_url"`

	// OmadacID identifies the controller instance.
	OmadacID string `yaml:"omadac_id" validate:"required"`

	ClientID     string `yaml:"client_id" validate:"required"`
	ClientSecret string `yaml:"client_secret" validate:"required"`

	// Username and Password are used for the authorization-code flow.
	Username string `yaml:"username" validate:"required"`
	Password string `yaml:"password" validate:"required"`

	// PageSize is the number of rows requested per page. Defaults to 100.
	PageSize int `yaml:"page_size,omitempty" validate:"gte=0,lte=1000"`

	// Timeout bounds each controller request. Defaults to 30s.
	Timeout time.Duration `yaml:"timeout,omitempty" validate:"gte=0"`

	// InsecureSkipVerify accepts the controller's self-signed certificate.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify,omitempty"`

	// RequestsPerSecond caps the request rate. Zero means unlimited.
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty" validate:"gte=0"`
}

// FirestoreConfig points at a Firestore database and the service account
// used to write to it.
type FirestoreConfig struct {
	// ProjectID defaults to the service account's project.
	ProjectID string `yaml:"project_id,omitempty"`

	// CredentialsFile is the path to a service-account JSON key.
	CredentialsFile string `yaml:"credentials_file" validate:"required"`

	// DatabaseID defaults to "(default)".
	DatabaseID string `yaml:"database_id,omitempty"`

	// Timeout bounds each write. Defaults to 10s.
	Timeout time.Duration `yaml:"timeout,omitempty" validate:"gte=0"`
}

// QueueConfig locates the offline write queue.
type QueueConfig struct {
	// Path of the SQLite database. Defaults to
	// ~/.local/share/omadamirror/offline_queue.db.
	Path string `yaml:"path,omitempty"`
}

// SyncConfig selects what the daemon mirrors and how often.
type SyncConfig struct {
	// Interval between passes. Minimum 10s, defaults to 5m.
	Interval time.Duration `yaml:"interval,omitempty" validate:"omitempty,gte=10s"`

	// Resources to mirror by name. Defaults to every known resource.
	Resources []string `yaml:"resources,omitempty" validate:"omitempty,dive,resource"`

	// Sites restricts site-scoped resources to these site ids. Empty means
	// every site.
	Sites []string `yaml:"sites,omitempty" validate:"omitempty,dive,required"`

	// TrafficWindow is the span each traffic snapshot covers. Defaults to 1h.
	TrafficWindow time.Duration `yaml:"traffic_window,omitempty" validate:"gte=0"`
}

// HTTPConfig configures the local HTTP API.
type HTTPConfig struct {
	// Listen is the host:port the API binds to. Defaults to 127.0.0.1:8080.
	Listen string `yaml:"listen,omitempty" validate:"omitempty,hostname_port"`

	// RequestsPerMinute limits each client IP. Zero means 60.
	RequestsPerMinute int `yaml:"requests_per_minute,omitempty" validate:"gte=0"`

	// JWTSecret enables bearer-token auth on /v1 (HS256). Empty leaves the
	// API open, which is only sensible on a loopback listener.
	JWTSecret string `yaml:"jwt_secret,omitempty" validate:"omitempty,min=32"`
}

// TelemetryConfig holds optional OpenTelemetry settings.
type TelemetryConfig struct {
	// OTLPEndpoint is the gRPC host:port of the OTLP collector (e.g. "localhost:4317").
	OTLPEndpoint string `yaml:"otlp_endpoint" validate:"required"`

	// Insecure disables TLS for the collector connection. Use for local collectors.
	Insecure bool `yaml:"insecure,omitempty"`

	// ServiceName overrides the OTel service.name attribute. Defaults to "omadamirror".
	ServiceName string `yaml:"service_name,omitempty"`

	// Headers contains key-value pairs sent as gRPC metadata on every OTLP
	// request, e.g. Authorization: "Bearer <token>".
	Headers map[string]string `yaml:"headers,omitempty"`
}

// DefaultPath returns the default config file path: ~/.config/omadamirror/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "omadamirror", "config.yaml"), nil
}

// Load reads and validates the configuration file at the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true) // reject unknown keys to catch typos early
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Write validates cfg and saves it to path with owner-only permissions,
// creating parent directories as needed. The file holds credentials.
func Write(path string, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing config file %q: %w", path, err)
	}
	// WriteFile keeps the mode of an existing file.
	return os.Chmod(path, 0o600)
}

// Validate checks that all required fields are present and well-formed.
func (c *Config) Validate() error {
	err := validate().Struct(c)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return errors.New(strings.Join(msgs, "; "))
}

// Plan resolves the configured resource names. An empty list selects every
// known resource.
func (c *Config) Plan() []model.Resource {
	names := c.Sync.Resources
	if len(names) == 0 {
		names = model.Names()
	}
	out := make([]model.Resource, 0, len(names))
	for _, n := range names {
		if res, ok := model.Lookup(n); ok {
			out = append(out, res)
		}
	}
	return out
}

func (c *Config) applyDefaults() {
	if c.Controller.PageSize == 0 {
		c.Controller.PageSize = DefaultPageSize
	}
	if c.Controller.Timeout == 0 {
		c.Controller.Timeout = DefaultControllerWait
	}
	if c.Firestore != nil && c.Firestore.Timeout == 0 {
		c.Firestore.Timeout = DefaultStoreTimeout
	}
	if c.Sync.Interval == 0 {
		c.Sync.Interval = DefaultSyncInterval
	}
	if c.Sync.TrafficWindow == 0 {
		c.Sync.TrafficWindow = DefaultTrafficWindow
	}
	if c.HTTP.Listen == "" {
		c.HTTP.Listen = DefaultListen
	}
	if c.HTTP.RequestsPerMinute == 0 {
		c.HTTP.RequestsPerMinute = 60
	}
}

var (
	validatorOnce sync.Once
	validatorInst *validator.Validate
)

func validate() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		// Report yaml keys rather than Go field names.
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
		_ = v.RegisterValidation("resource", func(fl validator.FieldLevel) bool {
			_, ok := model.Lookup(fl.Field().String())
			return ok
		})
		validatorInst = v
	})
	return validatorInst
}

// describe turns a field error into a message naming the yaml path, e.g.
// "controller.base_url is required".
func describe(fe validator.FieldError) string {
	_, path, _ := strings.Cut(fe.Namespace(), ".")
	switch fe.Tag() {
	case "required":
		return path + " is required"
	case "http_url":
		return fmt.Sprintf("%s %q must be a valid http or https URL", path, fe.Value())
	case "hostname_port":
		return fmt.Sprintf("%s %q must be host:port", path, fe.Value())
	case "resource":
		return fmt.Sprintf("%s %q is not a known resource (known: %s)", path, fe.Value(), strings.Join(model.Names(), ", "))
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", path, fe.Param())
	case "gte", "lte":
		return fmt.Sprintf("%s %v is out of range (%s %s)", path, fe.Value(), fe.Tag(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", path, fe.Tag())
	}
}
