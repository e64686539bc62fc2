package sources

import (
	"context"
	"fmt"

	"github.com/varhub-io/varhub/internal/config"
	"github.com/varhub-io/varhub/internal/httpclient"
	"github.com/varhub-io/varhub/pkg/version"
)

// httpAdapter fetches source payloads from HTTP endpoints
type httpAdapter struct {
	src    config.SourceConfig
	client httpclient.Client
}

// NewHTTPAdapter creates an adapter for an HTTP-backed source
func NewHTTPAdapter(src *config.SourceConfig, client httpclient.Client) (Adapter, error) {
	if src.HTTP == nil || src.HTTP.Endpoint == "" {
		return nil, fmt.Errorf("http configuration with an endpoint is required for source %s", src.Name)
	}
	if client == nil {
		client = httpclient.NewDefaultClient(0)
	}
	return &httpAdapter{src: *src, client: client}, nil
}

// Fetch GETs the endpoint and fingerprints the payload. Network failures,
// timeouts and non-200 responses are all transient fetch failures subject to
// the scheduler's retry policy.
func (a *httpAdapter) Fetch(ctx context.Context) (*FetchResult, error) {
	resp, err := a.client.Get(ctx, a.src.HTTP.Endpoint)
	if err != nil {
		return nil, NewFetchError(a.src.Name, err)
	}

	declared := version.Unknown()
	if a.src.HTTP.VersionHeader != "" {
		declared = version.Parse(resp.Header.Get(a.src.HTTP.VersionHeader))
	}

	return NewFetchResult(resp.Body, declared), nil
}

// Parse decodes the payload according to the source's declared format
func (a *httpAdapter) Parse(data []byte) ([]RawRecord, []RecordError) {
	return parsePayload(a.src.Format, data)
}
