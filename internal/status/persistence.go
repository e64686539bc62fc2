package status

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// StatusFileName is the name of the per-source status file
	statusFileName = "status.json"
)

// Persistence stores per-source refresh state across restarts
type Persistence interface {
	// Save writes the status for one source
	Save(ctx context.Context, source string, status *SourceStatus) error

	// Load reads the status for one source. A source that has never been
	// saved yields an empty idle status, not an error.
	Load(ctx context.Context, source string) (*SourceStatus, error)

	// LoadAll reads the status of every known source
	LoadAll(ctx context.Context) (map[string]*SourceStatus, error)

	// Delete removes the status for a deregistered source. Unknown
	// sources are a no-op.
	Delete(ctx context.Context, source string) error

	// Close releases backend resources
	Close() error
}

// filePersistence keeps one JSON file per source under a base directory
type filePersistence struct {
	basePath string
}

// NewFilePersistence creates a file-backed persistence rooted at basePath.
// Each source gets its own subdirectory with a status.json inside.
func NewFilePersistence(basePath string) Persistence {
	return &filePersistence{basePath: basePath}
}

func (f *filePersistence) sourceDir(source string) (string, error) {
	// Source names come from validated config, but refuse anything that
	// could escape the base directory.
	if source == "" || strings.ContainsAny(source, `/\`) || source == "." || source == ".." {
		return "", fmt.Errorf("invalid source name %q", source)
	}
	return filepath.Join(f.basePath, source), nil
}

// Save writes the status as pretty-printed JSON, via a temp file and rename
// so readers never observe a torn write.
func (f *filePersistence) Save(_ context.Context, source string, status *SourceStatus) error {
	dir, err := f.sourceDir(source)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create status directory for source %s: %w", source, err)
	}

	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal status for source %s: %w", source, err)
	}

	filePath := filepath.Join(dir, statusFileName)
	tempPath := filePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary status file for source %s: %w", source, err)
	}
	if err := os.Rename(tempPath, filePath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename status file for source %s: %w", source, err)
	}
	return nil
}

// Load reads a source's status file, returning an empty idle status when the
// file does not exist yet.
func (f *filePersistence) Load(_ context.Context, source string) (*SourceStatus, error) {
	dir, err := f.sourceDir(source)
	if err != nil {
		return nil, err
	}
	filePath := filepath.Join(dir, statusFileName)

	// #nosec G304 -- path is built from the configured base and a validated source name
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return &SourceStatus{Phase: PhaseIdle}, nil
		}
		return nil, fmt.Errorf("failed to read status file for source %s: %w", source, err)
	}

	var status SourceStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status for source %s: %w", source, err)
	}
	return &status, nil
}

// LoadAll walks the base directory and loads every source's status. Sources
// whose file fails to parse are skipped so one corrupt file does not block
// startup.
func (f *filePersistence) LoadAll(ctx context.Context) (map[string]*SourceStatus, error) {
	result := make(map[string]*SourceStatus)

	entries, err := os.ReadDir(f.basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return result, nil
		}
		return nil, fmt.Errorf("failed to read status directory: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		source := entry.Name()
		status, err := f.Load(ctx, source)
		if err != nil {
			continue
		}
		result[source] = status
	}
	return result, nil
}

// Delete removes a source's status directory
func (f *filePersistence) Delete(_ context.Context, source string) error {
	dir, err := f.sourceDir(source)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove status for source %s: %w", source, err)
	}
	return nil
}

// Close is a no-op for the file backend
func (*filePersistence) Close() error { return nil }
