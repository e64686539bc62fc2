// Package helpers provides test fixtures for the integration suite: an
// in-process server over real pipeline components, plus payload builders.
package helpers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"time"

	"github.com/varhub-io/varhub/internal/api"
	"github.com/varhub-io/varhub/internal/config"
	"github.com/varhub-io/varhub/internal/normalize"
	"github.com/varhub-io/varhub/internal/scheduler"
	"github.com/varhub-io/varhub/internal/sources"
	"github.com/varhub-io/varhub/internal/status"
	"github.com/varhub-io/varhub/internal/store"
	"github.com/varhub-io/varhub/internal/telemetry"
)

// ServerTestHelper runs the full pipeline in-process behind an httptest
// server, the way the serve command wires it.
type ServerTestHelper struct {
	Server    *httptest.Server
	Store     *store.Store
	Tracker   *status.Tracker
	Scheduler *scheduler.Scheduler

	cancel context.CancelFunc
}

// NewServerTestHelper builds and starts the stack for the given sources.
// Status persistence lives under stateDir.
func NewServerTestHelper(ctx context.Context, stateDir string, cfgs ...*config.SourceConfig) (*ServerTestHelper, error) {
	registry := sources.NewRegistry()
	for _, cfg := range cfgs {
		if err := registry.Register(cfg); err != nil {
			return nil, fmt.Errorf("failed to register source %s: %w", cfg.Name, err)
		}
	}

	persistence := status.NewFilePersistence(filepath.Join(stateDir, "status"))
	tracker, err := status.NewTracker(ctx, persistence)
	if err != nil {
		return nil, err
	}

	entityStore := store.New()
	metrics := telemetry.NewMetrics()

	sched := scheduler.New(
		registry,
		sources.NewAdapterFactory(nil),
		normalize.New(),
		entityStore,
		tracker,
		config.SchedulerSettings{
			MaxConcurrent:  2,
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     10 * time.Millisecond,
			FetchTimeout:   time.Second,
		},
		scheduler.WithMetrics(metrics),
	)

	runCtx, cancel := context.WithCancel(ctx)
	go func() { _ = sched.Start(runCtx) }()

	router := api.NewServer(entityStore, registry, tracker, sched,
		api.WithMiddlewares(metrics.HTTPMiddleware),
		api.WithMetricsHandler(metrics.Handler()),
		api.WithVersion("integration"),
	)

	return &ServerTestHelper{
		Server:    httptest.NewServer(router),
		Store:     entityStore,
		Tracker:   tracker,
		Scheduler: sched,
		cancel:    cancel,
	}, nil
}

// Close shuts down the server and the scheduler
func (h *ServerTestHelper) Close() {
	h.Server.Close()
	h.cancel()
	_ = h.Scheduler.Stop()
}

// URL joins the server base URL with a path
func (h *ServerTestHelper) URL(path string) string {
	return h.Server.URL + path
}

// TriggerRefresh queues a manual refresh through the API
func (h *ServerTestHelper) TriggerRefresh(source string) (int, error) {
	resp, err := http.Post(h.URL("/api/v1/sources/"+source+"/refresh"), "application/json", nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

// GetJSON fetches the path and decodes the JSON body into out, returning the
// status code.
func (h *ServerTestHelper) GetJSON(path string, out any) (int, error) {
	resp, err := http.Get(h.URL(path))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

// WriteVariantsJSON writes records as a JSON payload file and returns a
// file-backed source config for it.
func WriteVariantsJSON(dir, name string, priority int, records []map[string]any) (*config.SourceConfig, error) {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, name+".json")
	if err := os.WriteFile(path, data, 0600); err != nil {
		return nil, err
	}
	return &config.SourceConfig{
		Name:     name,
		Priority: priority,
		Format:   config.FormatJSON,
		Profile:  normalize.ProfileGeneric,
		File:     &config.FileConfig{Path: path},
	}, nil
}
