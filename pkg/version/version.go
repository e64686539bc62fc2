// Package version models the release versions declared by upstream data sources.
//
// Biomedical sources version their releases in different ways: some publish
// semantic versions, some publish dated releases (nightly dumps, monthly
// snapshots), and some publish nothing usable at all. A Version captures all
// three cases behind one type so the freshness tracker can store and compare
// whatever a source declares.
package version

import (
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
)

// Kind identifies how a source versions its releases.
type Kind string

const (
	// KindDate is a date-based release version (e.g. nightly or monthly dumps).
	KindDate Kind = "date"

	// KindSemver is a semantic version (e.g. "2.1.0").
	KindSemver Kind = "semver"

	// KindUnknown means the source declared no usable version.
	KindUnknown Kind = "unknown"
)

// MaxLength is the maximum accepted length of a declared version string.
const MaxLength = 20

// dateLayout is the canonical storage format for date-based versions.
const dateLayout = "2006_01_02"

// acceptedDateLayouts are the upstream date formats Parse recognizes.
var acceptedDateLayouts = []string{
	dateLayout,
	"2006-01-02",
	"20060102",
	"2006.01.02",
}

// Version is the release version declared by an upstream source.
// The zero value is an unknown version.
type Version struct {
	kind Kind
	date time.Time
	sv   *semver.Version
	raw  string
}

// Unknown returns a Version for sources that declare no usable version.
func Unknown() Version {
	return Version{kind: KindUnknown}
}

// FromDate returns a date-based Version.
func FromDate(t time.Time) Version {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return Version{kind: KindDate, date: day, raw: day.Format(dateLayout)}
}

// Parse interprets a version string declared by an upstream source.
// It tries date layouts first, then semantic versioning, and falls back to
// an unknown version rather than failing: a source with an unparsable
// version is still a usable source.
func Parse(s string) Version {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > MaxLength {
		return Unknown()
	}

	for _, layout := range acceptedDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return FromDate(t)
		}
	}

	if sv, err := semver.NewVersion(s); err == nil {
		return Version{kind: KindSemver, sv: sv, raw: s}
	}

	return Unknown()
}

// Kind returns the version kind.
func (v Version) Kind() Kind {
	if v.kind == "" {
		return KindUnknown
	}
	return v.kind
}

// IsKnown reports whether the version carries usable information.
func (v Version) IsKnown() bool {
	return v.Kind() != KindUnknown
}

// String renders the version in its canonical form. Date versions use the
// YYYY_MM_DD layout regardless of the layout they were parsed from.
func (v Version) String() string {
	switch v.Kind() {
	case KindDate:
		return v.date.Format(dateLayout)
	case KindSemver:
		return v.sv.String()
	default:
		return "unknown"
	}
}

// Date returns the date of a date-based version and whether it is one.
func (v Version) Date() (time.Time, bool) {
	if v.Kind() != KindDate {
		return time.Time{}, false
	}
	return v.date, true
}

// Compare orders v against other. It returns -1, 0 or +1 and reports whether
// the two versions are comparable at all: versions of different kinds, and
// unknown versions, have no defined order.
func (v Version) Compare(other Version) (int, bool) {
	if v.Kind() != other.Kind() || v.Kind() == KindUnknown {
		return 0, false
	}

	switch v.Kind() {
	case KindDate:
		switch {
		case v.date.Before(other.date):
			return -1, true
		case v.date.After(other.date):
			return 1, true
		default:
			return 0, true
		}
	case KindSemver:
		return v.sv.Compare(other.sv), true
	default:
		return 0, false
	}
}

// NewerThan reports whether v is a strictly newer release than other.
// Incomparable versions are never newer than each other.
func (v Version) NewerThan(other Version) bool {
	c, ok := v.Compare(other)
	return ok && c > 0
}

// MarshalText implements encoding.TextMarshaler.
func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *Version) UnmarshalText(text []byte) error {
	*v = Parse(string(text))
	return nil
}

// Equal reports whether two versions represent the same release.
func (v Version) Equal(other Version) bool {
	if v.Kind() != other.Kind() {
		return false
	}
	if v.Kind() == KindUnknown {
		return true
	}
	c, ok := v.Compare(other)
	return ok && c == 0
}

// Describe returns a short human-readable description for logs.
func (v Version) Describe() string {
	if !v.IsKnown() {
		return "unknown version"
	}
	return fmt.Sprintf("%s (%s)", v.String(), v.Kind())
}
