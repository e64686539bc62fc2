// Package entity defines the canonical variant model served by the API.
//
// A Variant is the unified, cross-source representation of one genomic
// variant. Every attribute carries provenance: the source that contributed it
// and the fingerprint of the source release it came from. Sources produce
// Fragments (their per-record contribution); the store merges fragments into
// variants under the configured source priority order.
package entity

import (
	"fmt"
	"strings"
)

// ID is the stable identifier of a canonical variant.
//
// Sources that report genomic coordinates use the assembly-qualified form
// produced by MakeID; sources that only know accession-style identifiers
// (rsIDs, ClinVar variation IDs) may use those directly, as long as the
// identifier is stable across releases of that source.
type ID string

// Canonical attribute names. Normalizer profiles map source-native columns
// onto these names; anything outside this list is carried verbatim.
const (
	FieldGene         = "gene"
	FieldChromosome   = "chromosome"
	FieldPosition     = "position"
	FieldRef          = "ref"
	FieldAlt          = "alt"
	FieldAssembly     = "assembly"
	FieldHGVSc        = "hgvs_c"
	FieldHGVSp        = "hgvs_p"
	FieldSignificance = "clinical_significance"
	FieldReviewStatus = "review_status"
	FieldXrefs        = "xrefs"
)

// Genome assemblies the normalizers recognize.
const (
	AssemblyGRCh37 = "GRCh37"
	AssemblyGRCh38 = "GRCh38"
)

// MakeID builds the coordinate-based canonical identifier.
func MakeID(assembly, chromosome, position, ref, alt string) ID {
	return ID(fmt.Sprintf("%s:%s:%s:%s:%s", assembly, chromosome, position, ref, alt))
}

// Provenance records which source release contributed a field value.
type Provenance struct {
	// Source is the registered source name.
	Source string `json:"source"`

	// Fingerprint is the content fingerprint of the source release the
	// value was merged from.
	Fingerprint string `json:"fingerprint"`
}

// Field is one canonical attribute value together with its provenance.
type Field struct {
	Value      string     `json:"value"`
	Provenance Provenance `json:"provenance"`
}

// Variant is a canonical entity: one identifier, attributes merged from one
// or more sources. Variants held by the store are immutable; mutation happens
// on clones inside the store's write path.
type Variant struct {
	ID     ID               `json:"id"`
	Fields map[string]Field `json:"fields"`
}

// NewVariant returns an empty variant for the given identifier.
func NewVariant(id ID) *Variant {
	return &Variant{
		ID:     id,
		Fields: make(map[string]Field),
	}
}

// Clone returns a deep copy of the variant.
func (v *Variant) Clone() *Variant {
	fields := make(map[string]Field, len(v.Fields))
	for name, f := range v.Fields {
		fields[name] = f
	}
	return &Variant{ID: v.ID, Fields: fields}
}

// Get returns a field value if present.
func (v *Variant) Get(name string) (string, bool) {
	f, ok := v.Fields[name]
	if !ok {
		return "", false
	}
	return f.Value, true
}

// Sources returns the distinct source names that contributed to the variant.
func (v *Variant) Sources() []string {
	seen := make(map[string]struct{})
	var names []string
	for _, f := range v.Fields {
		if _, ok := seen[f.Provenance.Source]; ok {
			continue
		}
		seen[f.Provenance.Source] = struct{}{}
		names = append(names, f.Provenance.Source)
	}
	return names
}

// Fragment is one source record normalized into canonical shape. It is the
// unit the normalizer hands to the store; it carries no provenance because
// the whole batch belongs to a single source release.
type Fragment struct {
	ID     ID
	Fields map[string]string
}

// Validate checks that a fragment can be merged.
func (f *Fragment) Validate() error {
	if strings.TrimSpace(string(f.ID)) == "" {
		return fmt.Errorf("fragment has no identifier")
	}
	if len(f.Fields) == 0 {
		return fmt.Errorf("fragment %s has no fields", f.ID)
	}
	return nil
}
