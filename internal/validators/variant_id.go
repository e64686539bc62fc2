// Package validators provides validation functions for variant hub entities.
package validators

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	minVariantIDLength = 3
	maxVariantIDLength = 500
)

var (
	// Chromosome: 1-22, X, Y, MT, or a contig accession
	chromosomePattern = regexp.MustCompile(`^([0-9]{1,2}|[XY]|MT|[A-Z]{2}[0-9]+(\.[0-9]+)?)$`)

	// Alleles: bases only, or "-" for an absent allele in indel notation
	allelePattern = regexp.MustCompile(`^([ACGTN]+|-)$`)

	// Source-scoped identifiers: <source>:<opaque id>, used when a record
	// carries no genomic coordinates
	scopedIDPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*:[^\s:]+$`)
)

// ValidateVariantID validates an entity identifier. Coordinate identifiers
// have the form assembly:chromosome:position:ref:alt; records without
// coordinates use a source-scoped form like "clinvar:12345".
// Returns the validated identifier (trimmed) and an error if validation fails.
//
// Examples of valid identifiers:
//   - GRCh38:7:140753336:A:T
//   - GRCh37:X:66765158:C:-
//   - clinvar:376280
//
// Examples of invalid identifiers:
//   - GRCh38:7:140753336:A (missing alt allele)
//   - GRCh38:7:abc:A:T (non-numeric position)
//   - :12345 (empty scope)
func ValidateVariantID(id string) (string, error) {
	id = strings.TrimSpace(id)

	if id == "" {
		return "", fmt.Errorf("variant identifier cannot be empty")
	}
	if len(id) < minVariantIDLength || len(id) > maxVariantIDLength {
		return "", fmt.Errorf("variant identifier must be between %d and %d characters, got %d",
			minVariantIDLength, maxVariantIDLength, len(id))
	}

	parts := strings.Split(id, ":")
	switch len(parts) {
	case 5:
		return id, validateCoordinateID(parts)
	case 2:
		if !scopedIDPattern.MatchString(id) {
			return "", fmt.Errorf("invalid source-scoped identifier %q, expected '<source>:<id>'", id)
		}
		return id, nil
	default:
		return "", fmt.Errorf(
			"variant identifier must be 'assembly:chromosome:position:ref:alt' or '<source>:<id>', got %q", id)
	}
}

func validateCoordinateID(parts []string) error {
	assembly, chromosome, position, ref, alt := parts[0], parts[1], parts[2], parts[3], parts[4]

	if assembly == "" {
		return fmt.Errorf("assembly cannot be empty")
	}
	if !chromosomePattern.MatchString(chromosome) {
		return fmt.Errorf("invalid chromosome %q", chromosome)
	}
	if position == "" || strings.TrimLeft(position, "0123456789") != "" {
		return fmt.Errorf("position must be numeric, got %q", position)
	}
	if !allelePattern.MatchString(ref) {
		return fmt.Errorf("invalid reference allele %q", ref)
	}
	if !allelePattern.MatchString(alt) {
		return fmt.Errorf("invalid alternate allele %q", alt)
	}
	return nil
}
