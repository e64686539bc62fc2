// Package normalize maps source-native records onto the canonical variant
// schema.
//
// Each source is assigned a profile: a pure, deterministic function from one
// raw record to one canonical fragment. Profiles have no side effects and no
// external dependencies, so a batch can be re-run or retried without
// coordination. Records that cannot yield the required canonical fields are
// skipped and counted, never fatal to the batch.
package normalize

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/varhub-io/varhub/internal/entity"
	"github.com/varhub-io/varhub/internal/sources"
)

// NormalizationError reports one record that could not be normalized
type NormalizationError struct {
	Ordinal int
	Reason  string
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("record %d: %s", e.Ordinal, e.Reason)
}

// Func converts one source-native record into a canonical fragment.
// Implementations must be pure: same record in, same fragment out.
type Func func(rec sources.RawRecord) (entity.Fragment, error)

// Normalizer holds the registered profiles
type Normalizer struct {
	mu       sync.RWMutex
	profiles map[string]Func
}

// New creates a Normalizer with the built-in profiles registered
func New() *Normalizer {
	n := &Normalizer{profiles: make(map[string]Func)}

	// Built-in profiles; registration cannot collide here.
	_ = n.RegisterProfile(ProfileGeneric, normalizeGeneric)
	_ = n.RegisterProfile(ProfileClinVar, normalizeClinVar)
	_ = n.RegisterProfile(ProfileCIViC, normalizeCIViC)

	return n
}

// RegisterProfile adds a named profile. Registering an existing name fails.
func (n *Normalizer) RegisterProfile(name string, fn Func) error {
	if name == "" || fn == nil {
		return fmt.Errorf("profile requires a name and a function")
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if _, exists := n.profiles[name]; exists {
		return fmt.Errorf("profile %s already registered", name)
	}
	n.profiles[name] = fn
	return nil
}

// HasProfile reports whether a profile is registered
func (n *Normalizer) HasProfile(name string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, ok := n.profiles[name]
	return ok
}

// Profiles returns the registered profile names, sorted
func (n *Normalizer) Profiles() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()

	names := make([]string, 0, len(n.profiles))
	for name := range n.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BatchResult is the outcome of normalizing one parsed payload
type BatchResult struct {
	Fragments []entity.Fragment
	Errors    []*NormalizationError
	Skipped   int
}

// NormalizeBatch runs the named profile over a batch of records.
// Record-local failures are collected; valid records still proceed.
// Only an unknown profile is an error.
func (n *Normalizer) NormalizeBatch(profile string, records []sources.RawRecord) (*BatchResult, error) {
	n.mu.RLock()
	fn, ok := n.profiles[profile]
	n.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown normalizer profile: %s", profile)
	}

	result := &BatchResult{}
	for _, rec := range records {
		fragment, err := fn(rec)
		if err != nil {
			result.Skipped++
			result.Errors = append(result.Errors, &NormalizationError{
				Ordinal: rec.Ordinal,
				Reason:  err.Error(),
			})
			continue
		}
		if err := fragment.Validate(); err != nil {
			result.Skipped++
			result.Errors = append(result.Errors, &NormalizationError{
				Ordinal: rec.Ordinal,
				Reason:  err.Error(),
			})
			continue
		}
		result.Fragments = append(result.Fragments, fragment)
	}

	return result, nil
}

// firstNonEmpty returns the first non-blank value among the named keys
func firstNonEmpty(values map[string]string, keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(values[key]); v != "" {
			return v
		}
	}
	return ""
}
