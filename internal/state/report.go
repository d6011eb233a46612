package state

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/provisr-io/provisr/internal/ir"
)

// DefaultReportPath is where a run's report lands relative to the
// working directory unless overridden.
const DefaultReportPath = ".provisr/report.json"

// Manager reads and writes run reports on the local filesystem.
type Manager struct {
	path string
}

func NewManager(path string) *Manager {
	if path == "" {
		path = DefaultReportPath
	}
	return &Manager{path: path}
}

// Read loads the most recent run report. If the file is encrypted, it
// is transparently decrypted before decoding.
func (m *Manager) Read(ctx context.Context) (*ir.RunReport, error) {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no run report at %s (run `provisr up` first): %w", m.path, fs.ErrNotExist)
		}
		return nil, fmt.Errorf("failed to read report file %s: %w", m.path, err)
	}

	if IsEncrypted(raw) {
		raw, err = DecryptReport(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt report: %w", err)
		}
	}

	var report ir.RunReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, fmt.Errorf("failed to parse report file %s: %w", m.path, err)
	}
	return &report, nil
}

// Write saves the run report to the configured path.
// If PROVISR_REPORT_ENCRYPTION_KEY is set, the file is transparently
// encrypted.
func (m *Manager) Write(ctx context.Context, report *ir.RunReport) error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}

	content, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	encrypted, err := EncryptReport(content)
	if err != nil {
		return fmt.Errorf("failed to encrypt report: %w", err)
	}

	if err := os.WriteFile(m.path, encrypted, 0644); err != nil {
		return fmt.Errorf("failed to write report file %s: %w", m.path, err)
	}
	return nil
}
