package state

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/provisr-io/provisr/internal/ir"
)

// BackendEnvVar selects a remote report backend, e.g.
// s3://my-bucket/team/report.json?region=us-west-2&dynamodb_table=provisr-locks
const BackendEnvVar = "PROVISR_REPORT_BACKEND"

// Backend defines the interface for report storage backends.
type Backend interface {
	// Read loads the last run report from the backend.
	Read(ctx context.Context) (*ir.RunReport, error)

	// Write saves the run report to the backend.
	Write(ctx context.Context, report *ir.RunReport) error

	// Lock acquires an exclusive lock for the duration of a run.
	Lock() error

	// Unlock releases the lock.
	Unlock() error
}

// BackendConfig holds configuration for a report backend.
type BackendConfig struct {
	Type   string            `json:"type"` // "local" or "s3"
	Config map[string]string `json:"config"`
}

// NewBackend creates a report backend from configuration.
func NewBackend(cfg *BackendConfig) (Backend, error) {
	if cfg == nil {
		return nil, fmt.Errorf("backend configuration is nil")
	}

	switch cfg.Type {
	case "local", "":
		return NewManager(cfg.Config["path"]), nil
	case "s3":
		return newS3Backend(cfg.Config)
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}
}

// BackendFromEnv builds a backend from PROVISR_REPORT_BACKEND, falling
// back to a local manager at path when the variable is unset.
func BackendFromEnv(path string) (Backend, error) {
	raw := os.Getenv(BackendEnvVar)
	if raw == "" {
		return NewManager(path), nil
	}
	cfg, err := ParseBackendURL(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", BackendEnvVar, err)
	}
	return NewBackend(cfg)
}

// ParseBackendURL turns a backend URL into a BackendConfig. Query
// parameters become config keys.
func ParseBackendURL(raw string) (*BackendConfig, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse backend URL: %w", err)
	}

	switch u.Scheme {
	case "s3":
		if u.Host == "" {
			return nil, fmt.Errorf("s3 backend URL needs a bucket: %s", raw)
		}
		config := map[string]string{
			"bucket": u.Host,
			"key":    strings.TrimPrefix(u.Path, "/"),
		}
		for k, vs := range u.Query() {
			if len(vs) > 0 {
				config[k] = vs[0]
			}
		}
		return &BackendConfig{Type: "s3", Config: config}, nil
	case "", "file":
		return &BackendConfig{Type: "local", Config: map[string]string{"path": u.Path}}, nil
	default:
		return nil, fmt.Errorf("unknown backend scheme %q", u.Scheme)
	}
}
