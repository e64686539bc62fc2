package sources

import (
	"fmt"

	"github.com/varhub-io/varhub/internal/config"
	"github.com/varhub-io/varhub/internal/httpclient"
)

// defaultAdapterFactory creates adapters based on the source type
type defaultAdapterFactory struct {
	httpClient httpclient.Client
}

// NewAdapterFactory creates the default adapter factory. The HTTP client is
// shared across all HTTP-backed sources; pass nil for the default client.
func NewAdapterFactory(client httpclient.Client) AdapterFactory {
	if client == nil {
		client = httpclient.NewDefaultClient(0)
	}
	return &defaultAdapterFactory{httpClient: client}
}

// CreateAdapter creates an adapter for the given source configuration
func (f *defaultAdapterFactory) CreateAdapter(src *config.SourceConfig) (Adapter, error) {
	if src == nil {
		return nil, fmt.Errorf("source configuration cannot be nil")
	}

	switch src.GetType() {
	case config.SourceTypeHTTP:
		return NewHTTPAdapter(src, f.httpClient)
	case config.SourceTypeFile:
		return NewFileAdapter(src)
	default:
		return nil, fmt.Errorf("source %s has no recognized source type", src.Name)
	}
}
