package sources

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/varhub-io/varhub/internal/config"
	"github.com/varhub-io/varhub/pkg/version"
)

// Registry errors, surfaced synchronously to the caller.
var (
	// ErrDuplicateSource is returned when registering a name that already exists
	ErrDuplicateSource = errors.New("source already registered")

	// ErrUnknownSource is returned when looking up a name that was never registered
	ErrUnknownSource = errors.New("unknown source")
)

// Adapter is the capability set every concrete source implements.
//
// Fetch retrieves the source's current payload; failures are *FetchError and
// are retryable. Parse turns a payload into source-native records; malformed
// records are reported per record and never abort the batch.
type Adapter interface {
	// Fetch retrieves the raw payload and its content fingerprint
	Fetch(ctx context.Context) (*FetchResult, error)

	// Parse decodes the payload into source-native records. Record-local
	// failures are returned alongside the records that did decode.
	Parse(data []byte) ([]RawRecord, []RecordError)
}

// FetchResult contains the result of a fetch operation
type FetchResult struct {
	// Data is the raw payload bytes
	Data []byte

	// Fingerprint is the SHA-256 hash of the payload, used for change
	// detection: identical upstream content yields an identical fingerprint
	Fingerprint string

	// DeclaredVersion is the release version the upstream declared for this
	// payload, if any
	DeclaredVersion version.Version
}

// NewFetchResult creates a FetchResult, computing the payload fingerprint.
func NewFetchResult(data []byte, declared version.Version) *FetchResult {
	return &FetchResult{
		Data:            data,
		Fingerprint:     Fingerprint(data),
		DeclaredVersion: declared,
	}
}

// Fingerprint returns the hex-encoded SHA-256 hash of the payload.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// RawRecord is one source-native parsed unit. It lives only for the duration
// of the refresh pass that produced it.
type RawRecord struct {
	// Ordinal is the record's position in the payload (line number for TSV,
	// array index for JSON), used in parse error reports
	Ordinal int

	// Values maps source-native column/field names to their string values
	Values map[string]string
}

// RecordError reports one malformed record inside an otherwise usable payload
type RecordError struct {
	Ordinal int
	Err     error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record %d: %v", e.Ordinal, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

// FetchError wraps a transient fetch failure. The scheduler retries these
// under the configured backoff policy.
type FetchError struct {
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch failed for source %s: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewFetchError wraps err as a fetch failure for the named source
func NewFetchError(source string, err error) *FetchError {
	return &FetchError{Source: source, Err: err}
}

// IsFetchError reports whether err is (or wraps) a FetchError
func IsFetchError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}

// AdapterFactory creates adapters for registered source descriptors
type AdapterFactory interface {
	// CreateAdapter creates an adapter for the given source configuration
	CreateAdapter(src *config.SourceConfig) (Adapter, error)
}
