package validators

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	minSourceNameLength = 2
	maxSourceNameLength = 64
)

// Source names double as directory names, metric label values and URL path
// segments, so the character set stays narrow.
var sourceNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// ValidateSourceName validates a source name. Names must be lowercase,
// start with a letter and contain only letters, digits, hyphens and
// underscores. Returns the validated name (trimmed) and an error if
// validation fails.
func ValidateSourceName(name string) (string, error) {
	name = strings.TrimSpace(name)

	if name == "" {
		return "", fmt.Errorf("source name cannot be empty")
	}
	if len(name) < minSourceNameLength || len(name) > maxSourceNameLength {
		return "", fmt.Errorf("source name must be between %d and %d characters, got %d",
			minSourceNameLength, maxSourceNameLength, len(name))
	}
	if !sourceNamePattern.MatchString(name) {
		return "", fmt.Errorf(
			"invalid source name %q: must be lowercase, start with a letter and contain only [a-z0-9_-]", name)
	}
	return name, nil
}
