// Package status tracks the refresh lifecycle and version state of every
// registered source and persists it across restarts.
package status

import (
	"time"

	"github.com/varhub-io/varhub/pkg/version"
)

// Phase is the current position of a source in its refresh lifecycle
type Phase string

const (
	// PhaseIdle means no refresh is in progress
	PhaseIdle Phase = "Idle"

	// PhaseFetching means a refresh is currently running
	PhaseFetching Phase = "Fetching"

	// PhaseUpdated means the last refresh committed new data
	PhaseUpdated Phase = "Updated"

	// PhaseUnchanged means the last refresh found the upstream payload
	// identical to the one already served
	PhaseUnchanged Phase = "Unchanged"

	// PhaseFailed means the last refresh exhausted its attempts; previously
	// committed data remains served
	PhaseFailed Phase = "Failed"
)

// SourceStatus is the persisted refresh state of one source
type SourceStatus struct {
	// Phase is the lifecycle position after the most recent transition
	Phase Phase `json:"phase"`

	// Fingerprint is the content hash of the last committed payload.
	// Used to detect unchanged upstream releases.
	Fingerprint string `json:"fingerprint,omitempty"`

	// DeclaredVersion is the version the upstream declared for the last
	// committed payload, when it declared one.
	DeclaredVersion version.Version `json:"declaredVersion,omitempty"`

	// LastAttempt is when the most recent refresh started
	LastAttempt *time.Time `json:"lastAttempt,omitempty"`

	// LastSuccess is when data was last committed or confirmed unchanged
	LastSuccess *time.Time `json:"lastSuccess,omitempty"`

	// ConsecutiveFailures counts refreshes that ended in PhaseFailed since
	// the last success
	ConsecutiveFailures int `json:"consecutiveFailures,omitempty"`

	// LastError describes the most recent failure
	LastError string `json:"lastError,omitempty"`

	// EntityCount is the number of entities the source contributed to at
	// the last commit
	EntityCount int `json:"entityCount,omitempty"`

	// SkippedRecords is how many records the last committed batch dropped
	// during parsing and normalization
	SkippedRecords int `json:"skippedRecords,omitempty"`
}

// HasData reports whether the source has ever committed a payload
func (s *SourceStatus) HasData() bool {
	return s.Fingerprint != ""
}
