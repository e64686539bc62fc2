package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/varhub-io/varhub/internal/config"
	"github.com/varhub-io/varhub/pkg/version"
)

func TestFileAdapterFetch(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "variants.json")
	payload := []byte(`[{"variant_id":"rs1","gene":"TP53"}]`)
	require.NoError(t, os.WriteFile(path, payload, 0600))

	src := &config.SourceConfig{
		Name:    "curated",
		Format:  config.FormatJSON,
		Profile: "generic",
		File:    &config.FileConfig{Path: path},
	}

	adapter, err := NewFileAdapter(src)
	require.NoError(t, err)

	result, err := adapter.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, payload, result.Data)
	assert.Equal(t, Fingerprint(payload), result.Fingerprint)
	assert.Equal(t, version.KindDate, result.DeclaredVersion.Kind(), "mod time stands in for the release version")

	// Identical content yields an identical fingerprint
	again, err := adapter.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, result.Fingerprint, again.Fingerprint)
}

func TestFileAdapterFetchMissingFile(t *testing.T) {
	t.Parallel()

	src := &config.SourceConfig{
		Name:    "curated",
		Format:  config.FormatJSON,
		Profile: "generic",
		File:    &config.FileConfig{Path: filepath.Join(t.TempDir(), "absent.json")},
	}

	adapter, err := NewFileAdapter(src)
	require.NoError(t, err)

	_, err = adapter.Fetch(context.Background())
	require.Error(t, err)
	assert.True(t, IsFetchError(err))
}

func TestHTTPAdapterFetch(t *testing.T) {
	t.Parallel()

	payload := `[{"variant_id":"rs1"}]`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-Release-Date", "2024-03-15")
		_, _ = w.Write([]byte(payload))
	}))
	defer srv.Close()

	src := &config.SourceConfig{
		Name:    "civic",
		Format:  config.FormatJSON,
		Profile: "civic",
		HTTP:    &config.HTTPConfig{Endpoint: srv.URL, VersionHeader: "X-Release-Date"},
	}

	adapter, err := NewHTTPAdapter(src, nil)
	require.NoError(t, err)

	result, err := adapter.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, payload, string(result.Data))
	assert.Equal(t, "2024_03_15", result.DeclaredVersion.String())
}

func TestHTTPAdapterFetchServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	src := &config.SourceConfig{
		Name:    "civic",
		Format:  config.FormatJSON,
		Profile: "civic",
		HTTP:    &config.HTTPConfig{Endpoint: srv.URL},
	}

	adapter, err := NewHTTPAdapter(src, nil)
	require.NoError(t, err)

	_, err = adapter.Fetch(context.Background())
	require.Error(t, err)
	assert.True(t, IsFetchError(err))
}

func TestAdapterParseDelegatesToFormat(t *testing.T) {
	t.Parallel()

	src := &config.SourceConfig{
		Name:    "clinvar",
		Format:  config.FormatTSV,
		Profile: "clinvar",
		File:    &config.FileConfig{Path: "/unused"},
	}

	adapter, err := NewFileAdapter(src)
	require.NoError(t, err)

	records, errs := adapter.Parse([]byte("A\tB\n1\t2\n"))
	assert.Empty(t, errs)
	require.Len(t, records, 1)
	assert.Equal(t, "1", records[0].Values["A"])
}

func TestAdapterFactory(t *testing.T) {
	t.Parallel()

	factory := NewAdapterFactory(nil)

	httpSrc := &config.SourceConfig{
		Name: "a", Format: config.FormatJSON, Profile: "generic",
		HTTP: &config.HTTPConfig{Endpoint: "http://example.org/data"},
	}
	adapter, err := factory.CreateAdapter(httpSrc)
	require.NoError(t, err)
	assert.IsType(t, &httpAdapter{}, adapter)

	fileSrc := &config.SourceConfig{
		Name: "b", Format: config.FormatJSON, Profile: "generic",
		File: &config.FileConfig{Path: "/data/b.json"},
	}
	adapter, err = factory.CreateAdapter(fileSrc)
	require.NoError(t, err)
	assert.IsType(t, &fileAdapter{}, adapter)

	_, err = factory.CreateAdapter(&config.SourceConfig{Name: "c"})
	assert.Error(t, err)

	_, err = factory.CreateAdapter(nil)
	assert.Error(t, err)
}
