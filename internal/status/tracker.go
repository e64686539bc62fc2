package status

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/varhub-io/varhub/pkg/version"
)

// Outcome carries the results of a refresh that committed data
type Outcome struct {
	Fingerprint     string
	DeclaredVersion version.Version
	EntityCount     int
	SkippedRecords  int
}

// Tracker owns the refresh state machine for every source. Transitions are
// serialized per tracker and written through to the configured persistence
// backend, so a restart resumes from the last known fingerprints.
type Tracker struct {
	mu          sync.Mutex
	statuses    map[string]*SourceStatus
	persistence Persistence

	// now is swappable for tests
	now func() time.Time
}

// NewTracker creates a tracker seeded from previously persisted state
func NewTracker(ctx context.Context, persistence Persistence) (*Tracker, error) {
	loaded, err := persistence.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load persisted status: %w", err)
	}

	statuses := make(map[string]*SourceStatus, len(loaded))
	for name, st := range loaded {
		copied := *st
		// An in-flight refresh at shutdown never completed; start over idle.
		if copied.Phase == PhaseFetching {
			copied.Phase = PhaseIdle
		}
		statuses[name] = &copied
	}

	return &Tracker{
		statuses:    statuses,
		persistence: persistence,
		now:         time.Now,
	}, nil
}

// BeginRefresh transitions the source to Fetching. It returns false when a
// refresh is already in flight, which lets callers coalesce overlapping
// triggers into the running one.
func (t *Tracker) BeginRefresh(ctx context.Context, source string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.statuses[source]
	if st == nil {
		st = &SourceStatus{Phase: PhaseIdle}
		t.statuses[source] = st
	}
	if st.Phase == PhaseFetching {
		return false, nil
	}

	now := t.now()
	st.Phase = PhaseFetching
	st.LastAttempt = &now
	return true, t.persist(ctx, source, st)
}

// CompleteRefresh records a refresh that committed new data
func (t *Tracker) CompleteRefresh(ctx context.Context, source string, outcome Outcome) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.statuses[source]
	if st == nil {
		return fmt.Errorf("no refresh in progress for source %s", source)
	}

	now := t.now()
	st.Phase = PhaseUpdated
	st.Fingerprint = outcome.Fingerprint
	st.DeclaredVersion = outcome.DeclaredVersion
	st.EntityCount = outcome.EntityCount
	st.SkippedRecords = outcome.SkippedRecords
	st.LastSuccess = &now
	st.ConsecutiveFailures = 0
	st.LastError = ""
	return t.persist(ctx, source, st)
}

// MarkUnchanged records a refresh whose fetched payload matched the
// fingerprint already committed. No merge happened.
func (t *Tracker) MarkUnchanged(ctx context.Context, source string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.statuses[source]
	if st == nil {
		return fmt.Errorf("no refresh in progress for source %s", source)
	}

	now := t.now()
	st.Phase = PhaseUnchanged
	st.LastSuccess = &now
	st.ConsecutiveFailures = 0
	st.LastError = ""
	return t.persist(ctx, source, st)
}

// FailRefresh records a refresh that exhausted its attempts. Previously
// committed fingerprint and counts are retained so the stale data keeps
// being served and the next run can still detect an unchanged upstream.
func (t *Tracker) FailRefresh(ctx context.Context, source string, cause error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.statuses[source]
	if st == nil {
		return fmt.Errorf("no refresh in progress for source %s", source)
	}

	st.Phase = PhaseFailed
	st.ConsecutiveFailures++
	if cause != nil {
		st.LastError = cause.Error()
	}
	return t.persist(ctx, source, st)
}

// Status returns a copy of the source's current state
func (t *Tracker) Status(source string) (SourceStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.statuses[source]
	if !ok {
		return SourceStatus{}, false
	}
	return *st, true
}

// Fingerprint returns the last committed fingerprint for the source, empty
// when it has never committed.
func (t *Tracker) Fingerprint(source string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if st, ok := t.statuses[source]; ok {
		return st.Fingerprint
	}
	return ""
}

// All returns a copy of every tracked source's state
func (t *Tracker) All() map[string]SourceStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]SourceStatus, len(t.statuses))
	for name, st := range t.statuses {
		out[name] = *st
	}
	return out
}

// Forget drops all state for a deregistered source
func (t *Tracker) Forget(ctx context.Context, source string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.statuses[source]; !ok {
		return nil
	}
	delete(t.statuses, source)
	return t.persistence.Delete(ctx, source)
}

func (t *Tracker) persist(ctx context.Context, source string, st *SourceStatus) error {
	if err := t.persistence.Save(ctx, source, st); err != nil {
		return fmt.Errorf("failed to persist status for source %s: %w", source, err)
	}
	return nil
}
