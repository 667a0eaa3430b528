package docstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/goccy/go-json"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	// DefaultTimeout bounds each store request.
	DefaultTimeout = 10 * time.Second

	datastoreScope = "https://www.googleapis.com/auth/datastore"
)

// ServiceAccount is the subset of a Google service-account key file shown to
// the operator. The raw file is kept for minting credentials.
type ServiceAccount struct {
	Type         string `json:"type"`
	ProjectID    string `json:"project_id"`
	PrivateKeyID string `json:"private_key_id"`
	PrivateKey   string `json:"private_key"`
	ClientEmail  string `json:"client_email"`
	TokenURI     string `json:"token_uri"`

	raw []byte
}

// LoadServiceAccount reads a service-account key file.
func LoadServiceAccount(path string) (ServiceAccount, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ServiceAccount{}, fmt.Errorf("reading credentials %q: %w", path, err)
	}
	var sa ServiceAccount
	if err := json.Unmarshal(data, &sa); err != nil {
		return ServiceAccount{}, fmt.Errorf("parsing credentials %q: %w", path, err)
	}
	if sa.ClientEmail == "" || sa.PrivateKey == "" {
		return ServiceAccount{}, fmt.Errorf("credentials %q: missing client_email or private_key", path)
	}
	sa.raw = data
	return sa, nil
}

// FirestoreConfig configures a Firestore client.
type FirestoreConfig struct {
	// ProjectID defaults to the service account's project.
	ProjectID string
	// DatabaseID defaults to "(default)".
	DatabaseID string
	// Credentials from LoadServiceAccount. The zero value falls back to
	// application default credentials, or none against the emulator.
	Credentials ServiceAccount
	// Timeout bounds each request. Zero means DefaultTimeout.
	Timeout time.Duration
}

// StatusError is a failed Firestore RPC.
type StatusError struct {
	Op      string
	Code    codes.Code
	Message string
	Err     error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, e.Message)
}

func (e *StatusError) Unwrap() error { return e.Err }

// Kind classifies the failure as "auth", "quota", "not-found", "server", or
// "client".
func (e *StatusError) Kind() string {
	switch e.Code {
	case codes.Unauthenticated, codes.PermissionDenied:
		return "auth"
	case codes.ResourceExhausted:
		return "quota"
	case codes.NotFound:
		return "not-found"
	case codes.InvalidArgument, codes.FailedPrecondition, codes.AlreadyExists, codes.OutOfRange, codes.Canceled:
		return "client"
	default:
		return "server"
	}
}

// Firestore is a Writer and Reader backed by the Firestore client library.
type Firestore struct {
	client  *firestore.Client
	timeout time.Duration
	logger  *slog.Logger
	opts    []option.ClientOption
}

// FirestoreOption configures a Firestore client.
type FirestoreOption func(*Firestore)

// WithFirestoreLogger sets the logger.
func WithFirestoreLogger(l *slog.Logger) FirestoreOption {
	return func(f *Firestore) { f.logger = l }
}

// WithFirestoreClientOptions passes extra options to the client library,
// for example a custom endpoint.
func WithFirestoreClientOptions(opts ...option.ClientOption) FirestoreOption {
	return func(f *Firestore) { f.opts = append(f.opts, opts...) }
}

// NewFirestore creates a Firestore client. Credentials are parsed eagerly so
// a bad key file fails at startup rather than on the first write; the
// connection itself is established lazily.
func NewFirestore(ctx context.Context, cfg FirestoreConfig, opts ...FirestoreOption) (*Firestore, error) {
	if cfg.ProjectID == "" {
		cfg.ProjectID = cfg.Credentials.ProjectID
	}
	if cfg.ProjectID == "" {
		return nil, errors.New("firestore: project id is required")
	}
	if cfg.DatabaseID == "" {
		cfg.DatabaseID = firestore.DefaultDatabaseID
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	f := &Firestore{timeout: cfg.Timeout, logger: slog.Default()}
	for _, o := range opts {
		o(f)
	}

	clientOpts := f.opts
	if len(cfg.Credentials.raw) > 0 {
		creds, err := google.CredentialsFromJSON(ctx, cfg.Credentials.raw, datastoreScope)
		if err != nil {
			return nil, fmt.Errorf("firestore: parsing credentials: %w", err)
		}
		clientOpts = append([]option.ClientOption{option.WithCredentials(creds)}, clientOpts...)
	}

	client, err := firestore.NewClientWithDatabase(ctx, cfg.ProjectID, cfg.DatabaseID, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("firestore: creating client: %w", err)
	}
	f.client = client
	f.logger.Debug("firestore client created", "project", cfg.ProjectID, "database", cfg.DatabaseID)
	return f, nil
}

// SetMerge implements Writer. Only doc's top-level fields are written;
// fields not present in doc are left untouched.
func (f *Firestore) SetMerge(ctx context.Context, collection, id string, doc map[string]any) error {
	op := "writing " + collection + "/" + id
	// Merging no fields changes nothing.
	if len(doc) == 0 {
		return nil
	}
	ref, err := f.doc(op, collection, id)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	if _, err := ref.Set(ctx, doc, firestore.MergeAll); err != nil {
		return rpcError(op, err)
	}
	return nil
}

// Get implements Reader.
func (f *Firestore) Get(ctx context.Context, collection, id string) (map[string]any, error) {
	op := "reading " + collection + "/" + id
	ref, err := f.doc(op, collection, id)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	snap, err := ref.Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, rpcError(op, err)
	}
	return snap.Data(), nil
}

// Close releases the client's connections.
func (f *Firestore) Close() error {
	return f.client.Close()
}

// doc returns the document reference. The client library rejects ids and
// collection names containing "/" with a nil reference.
func (f *Firestore) doc(op, collection, id string) (*firestore.DocumentRef, error) {
	coll := f.client.Collection(collection)
	if coll == nil {
		return nil, &StatusError{Op: op, Code: codes.InvalidArgument, Message: "invalid collection name"}
	}
	ref := coll.Doc(id)
	if ref == nil {
		return nil, &StatusError{Op: op, Code: codes.InvalidArgument, Message: "invalid document id"}
	}
	return ref, nil
}

// rpcError turns a gRPC status into a StatusError. Errors without a status
// (credential failures, for example) are wrapped as they are.
func rpcError(op string, err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%s: %w", op, err)
	}
	return &StatusError{Op: op, Code: st.Code(), Message: st.Message(), Err: err}
}
