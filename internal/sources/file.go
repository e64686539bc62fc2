package sources

import (
	"context"
	"fmt"
	"os"

	"github.com/varhub-io/varhub/internal/config"
	"github.com/varhub-io/varhub/pkg/version"
)

// fileAdapter reads source payloads from the local filesystem
type fileAdapter struct {
	src config.SourceConfig
}

// NewFileAdapter creates an adapter for a file-backed source
func NewFileAdapter(src *config.SourceConfig) (Adapter, error) {
	if src.File == nil || src.File.Path == "" {
		return nil, fmt.Errorf("file configuration with a path is required for source %s", src.Name)
	}
	return &fileAdapter{src: *src}, nil
}

// Fetch reads the payload file and fingerprints it. A missing or unreadable
// file is a transient fetch failure: the file may appear on a later tick.
func (a *fileAdapter) Fetch(ctx context.Context) (*FetchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewFetchError(a.src.Name, err)
	}

	//nolint:gosec // File path comes from validated configuration
	data, err := os.ReadFile(a.src.File.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewFetchError(a.src.Name, fmt.Errorf("file not found: %s", a.src.File.Path))
		}
		return nil, NewFetchError(a.src.Name, fmt.Errorf("failed to read file %s: %w", a.src.File.Path, err))
	}

	// File sources carry no declared release version; the modification time
	// of the payload stands in for it.
	declared := version.Unknown()
	if info, statErr := os.Stat(a.src.File.Path); statErr == nil {
		declared = version.FromDate(info.ModTime())
	}

	return NewFetchResult(data, declared), nil
}

// Parse decodes the payload according to the source's declared format
func (a *fileAdapter) Parse(data []byte) ([]RawRecord, []RecordError) {
	return parsePayload(a.src.Format, data)
}
