// Package scheduler drives the refresh pipeline. Every registered source
// gets its own loop goroutine that waits for the next scheduled slot or a
// manual trigger, then runs fetch, parse, normalize and merge under a global
// concurrency cap. Overlapping triggers for the same source coalesce into
// the refresh already in flight.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/varhub-io/varhub/internal/config"
	"github.com/varhub-io/varhub/internal/normalize"
	"github.com/varhub-io/varhub/internal/sources"
	"github.com/varhub-io/varhub/internal/status"
	"github.com/varhub-io/varhub/internal/store"
	"github.com/varhub-io/varhub/internal/telemetry"
)

const (
	// maxScheduleJitter bounds the random offset added to scheduled waits
	// so restarts do not hammer every upstream at once
	maxScheduleJitter = 30 * time.Second

	// triggerBuffer is the manual trigger queue depth per source; one
	// pending trigger is enough because refreshes coalesce anyway
	triggerBuffer = 1
)

// Outcome labels reported to metrics and logs
const (
	outcomeUpdated   = "updated"
	outcomeUnchanged = "unchanged"
	outcomeFailed    = "failed"
)

// Scheduler owns the per-source refresh loops
type Scheduler struct {
	registry   *sources.Registry
	factory    sources.AdapterFactory
	normalizer *normalize.Normalizer
	store      *store.Store
	tracker    *status.Tracker
	settings   config.SchedulerSettings

	// sem caps the number of refresh pipelines in flight across sources
	sem *semaphore.Weighted

	metrics *telemetry.Metrics

	mu    sync.Mutex
	loops map[string]*sourceLoop

	cancelFunc context.CancelFunc
	done       chan struct{}
	wg         sync.WaitGroup
	started    bool
}

// sourceLoop is the handle for one source's background loop
type sourceLoop struct {
	trigger chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
}

// Option configures the scheduler
type Option func(*Scheduler)

// WithMetrics wires refresh metrics into the pipeline
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// New creates a scheduler over the given registry and pipeline dependencies
func New(
	registry *sources.Registry,
	factory sources.AdapterFactory,
	normalizer *normalize.Normalizer,
	st *store.Store,
	tracker *status.Tracker,
	settings config.SchedulerSettings,
	opts ...Option,
) *Scheduler {
	s := &Scheduler{
		registry:   registry,
		factory:    factory,
		normalizer: normalizer,
		store:      st,
		tracker:    tracker,
		settings:   settings,
		sem:        semaphore.NewWeighted(int64(settings.MaxConcurrent)),
		loops:      make(map[string]*sourceLoop),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches one refresh loop per registered source and blocks until the
// context is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	s.started = true

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancelFunc = cancel

	configs := s.registry.List()
	for _, cfg := range configs {
		s.launchLoop(loopCtx, cfg)
	}
	s.mu.Unlock()

	slog.Info("Scheduler started",
		"sources", len(configs),
		"max_concurrent", s.settings.MaxConcurrent)

	<-loopCtx.Done()
	s.wg.Wait()
	close(s.done)
	slog.Info("Scheduler stopped")
	return nil
}

// Stop cancels all loops and waits for in-flight refreshes to drain
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	cancel := s.cancelFunc
	started := s.started
	s.mu.Unlock()

	if !started || cancel == nil {
		return nil
	}
	cancel()
	<-s.done
	return nil
}

// launchLoop starts the background loop for one source. Caller holds s.mu.
func (s *Scheduler) launchLoop(ctx context.Context, cfg *config.SourceConfig) {
	loopCtx, cancel := context.WithCancel(ctx)
	loop := &sourceLoop{
		trigger: make(chan struct{}, triggerBuffer),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	s.loops[cfg.Name] = loop

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(loop.done)
		s.runLoop(loopCtx, cfg, loop.trigger)
	}()
}

// TriggerRefresh requests an immediate refresh of the named source. When a
// refresh is already queued or running, the request coalesces into it.
func (s *Scheduler) TriggerRefresh(source string) error {
	s.mu.Lock()
	loop, ok := s.loops[source]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", sources.ErrUnknownSource, source)
	}

	select {
	case loop.trigger <- struct{}{}:
	default:
		// A trigger is already pending; the coming refresh covers this one.
	}
	return nil
}

// DeregisterSource stops the source's loop and removes every trace of it:
// registry entry, store contributions, tracked status and metric series.
// Deregistering an unknown source is not an error.
func (s *Scheduler) DeregisterSource(ctx context.Context, source string) error {
	s.mu.Lock()
	loop, ok := s.loops[source]
	if ok {
		delete(s.loops, source)
	}
	s.mu.Unlock()

	if ok {
		loop.cancel()
		<-loop.done
	}

	s.registry.Deregister(source)
	removed := s.store.RemoveSource(source)
	if err := s.tracker.Forget(ctx, source); err != nil {
		return fmt.Errorf("failed to forget status for source %s: %w", source, err)
	}
	if s.metrics != nil {
		s.metrics.ForgetSource(source)
		s.metrics.StoreEntities.Set(float64(s.store.EntityCount()))
	}

	slog.Info("Source deregistered", "source", source, "fields_removed", removed)
	return nil
}

// runLoop waits for the next scheduled slot or a manual trigger and runs the
// refresh pipeline. Manual-only sources wait on triggers alone.
func (s *Scheduler) runLoop(ctx context.Context, cfg *config.SourceConfig, trigger <-chan struct{}) {
	slog.Info("Source loop started",
		"source", cfg.Name,
		"type", cfg.GetType(),
		"manual_only", cfg.IsManualOnly())

	// Scheduled sources refresh once at startup rather than serving nothing
	// until the first interval or cron slot arrives.
	if !cfg.IsManualOnly() {
		s.refresh(ctx, cfg)
	}

	for {
		var timerC <-chan time.Time
		var timer *time.Timer
		if next, ok := cfg.NextRefresh(time.Now()); ok {
			wait := scheduleWait(next)
			timer = time.NewTimer(wait)
			timerC = timer.C
			slog.Debug("Next scheduled refresh",
				"source", cfg.Name,
				"wait", wait.Round(time.Second))
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			slog.Info("Source loop stopping", "source", cfg.Name)
			return
		case <-timerC:
			s.refresh(ctx, cfg)
		case <-trigger:
			if timer != nil {
				timer.Stop()
			}
			s.refresh(ctx, cfg)
		}
	}
}

// scheduleWait converts an absolute next-run time into a wait with a small
// random offset, avoiding synchronized fetch bursts after a restart.
func scheduleWait(next time.Time) time.Duration {
	wait := time.Until(next)
	if wait < 0 {
		wait = 0
	}
	jitterCeil := wait / 10
	if jitterCeil > maxScheduleJitter {
		jitterCeil = maxScheduleJitter
	}
	if jitterCeil <= 0 {
		return wait
	}
	//nolint:gosec // G404: non-cryptographic jitter
	return wait + rand.N(jitterCeil)
}

// refresh runs one pass of the pipeline for a source. It never returns an
// error; outcomes land in the tracker, the metrics and the log.
func (s *Scheduler) refresh(ctx context.Context, cfg *config.SourceConfig) {
	started, err := s.tracker.BeginRefresh(ctx, cfg.Name)
	if err != nil {
		slog.Error("Failed to record refresh start", "source", cfg.Name, "error", err)
		return
	}
	if !started {
		slog.Debug("Refresh already in flight, coalescing", "source", cfg.Name)
		return
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		// Shutting down; leave the source idle for the next run.
		_ = s.tracker.FailRefresh(ctx, cfg.Name, err)
		return
	}
	defer s.sem.Release(1)

	runID := uuid.NewString()
	logger := slog.With("source", cfg.Name, "run_id", runID)
	startTime := time.Now()

	outcome := s.runPipeline(ctx, cfg, logger)

	duration := time.Since(startTime)
	if s.metrics != nil {
		s.metrics.ObserveRefresh(cfg.Name, outcome, duration.Seconds())
	}
	logger.Info("Refresh finished",
		"outcome", outcome,
		"duration", duration.Round(time.Millisecond))
}

// runPipeline executes fetch, change detection, parse, normalize and merge,
// recording the resulting phase transition. Returns the outcome label.
func (s *Scheduler) runPipeline(ctx context.Context, cfg *config.SourceConfig, logger *slog.Logger) string {
	fail := func(cause error) string {
		logger.Error("Refresh failed", "error", cause)
		if err := s.tracker.FailRefresh(ctx, cfg.Name, cause); err != nil {
			logger.Error("Failed to record refresh failure", "error", err)
		}
		return outcomeFailed
	}

	adapter, err := s.factory.CreateAdapter(cfg)
	if err != nil {
		return fail(fmt.Errorf("failed to create adapter: %w", err))
	}

	result, err := s.fetchWithRetry(ctx, cfg, adapter, logger)
	if err != nil {
		return fail(err)
	}

	// The fingerprint is persisted but the store is not; after a restart the
	// previous fingerprint matches while nothing is committed yet, and the
	// merge must run anyway.
	if prev := s.tracker.Fingerprint(cfg.Name); prev != "" && prev == result.Fingerprint &&
		s.store.SourceEntityCount(cfg.Name) > 0 {
		logger.Info("Upstream payload unchanged, skipping merge")
		if err := s.tracker.MarkUnchanged(ctx, cfg.Name); err != nil {
			logger.Error("Failed to record unchanged refresh", "error", err)
		}
		return outcomeUnchanged
	}

	records, recordErrs := adapter.Parse(result.Data)
	for _, recErr := range recordErrs {
		logger.Debug("Skipping malformed record", "ordinal", recErr.Ordinal, "error", recErr.Err)
	}

	batch, err := s.normalizer.NormalizeBatch(cfg.Profile, records)
	if err != nil {
		return fail(fmt.Errorf("normalization failed: %w", err))
	}
	for _, normErr := range batch.Errors {
		logger.Debug("Skipping record during normalization",
			"ordinal", normErr.Ordinal,
			"reason", normErr.Reason)
	}
	skipped := len(recordErrs) + batch.Skipped

	stats, err := s.store.Merge(cfg.Name, cfg.Priority, result.Fingerprint, batch.Fragments)
	if err != nil {
		return fail(fmt.Errorf("merge failed: %w", err))
	}

	entityCount := s.store.SourceEntityCount(cfg.Name)
	if err := s.tracker.CompleteRefresh(ctx, cfg.Name, status.Outcome{
		Fingerprint:     result.Fingerprint,
		DeclaredVersion: result.DeclaredVersion,
		EntityCount:     entityCount,
		SkippedRecords:  skipped,
	}); err != nil {
		logger.Error("Failed to record refresh completion", "error", err)
	}

	if s.metrics != nil {
		s.metrics.Entities.WithLabelValues(cfg.Name).Set(float64(entityCount))
		s.metrics.StoreEntities.Set(float64(s.store.EntityCount()))
		if skipped > 0 {
			s.metrics.SkippedRecords.WithLabelValues(cfg.Name).Add(float64(skipped))
		}
	}

	logger.Info("Merge committed",
		"fingerprint", shortFingerprint(result.Fingerprint),
		"version", result.DeclaredVersion.Describe(),
		"entities", entityCount,
		"created", stats.EntitiesCreated,
		"updated", stats.EntitiesUpdated,
		"skipped_records", skipped,
		"fields_skipped_by_priority", stats.FieldsSkipped)
	return outcomeUpdated
}

// fetchWithRetry fetches the source payload with bounded exponential
// backoff. Only transient fetch errors retry; anything else aborts.
func (s *Scheduler) fetchWithRetry(
	ctx context.Context,
	cfg *config.SourceConfig,
	adapter sources.Adapter,
	logger *slog.Logger,
) (*sources.FetchResult, error) {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = s.settings.InitialBackoff
	expo.MaxInterval = s.settings.MaxBackoff

	attempt := 0
	operation := func() (*sources.FetchResult, error) {
		attempt++
		fetchCtx, cancel := context.WithTimeout(ctx, s.settings.FetchTimeout)
		defer cancel()

		result, err := adapter.Fetch(fetchCtx)
		if err != nil {
			if !sources.IsFetchError(err) {
				return nil, backoff.Permanent(err)
			}
			logger.Warn("Fetch attempt failed",
				"attempt", attempt,
				"max_attempts", s.settings.MaxAttempts,
				"error", err)
			return nil, err
		}
		return result, nil
	}

	result, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(uint(s.settings.MaxAttempts)),
	)
	if err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			return nil, fmt.Errorf("fetch aborted: %w", permanent.Unwrap())
		}
		return nil, fmt.Errorf("fetch failed after %d attempts: %w", attempt, err)
	}
	return result, nil
}

func shortFingerprint(fp string) string {
	if len(fp) > 8 {
		return fp[:8]
	}
	return fp
}
