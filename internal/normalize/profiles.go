package normalize

import (
	"fmt"
	"strings"

	"github.com/varhub-io/varhub/internal/entity"
	"github.com/varhub-io/varhub/internal/sources"
)

// Built-in profile names
const (
	// ProfileGeneric accepts records already keyed by canonical field names
	ProfileGeneric = "generic"

	// ProfileClinVar maps ClinVar variant_summary columns
	ProfileClinVar = "clinvar"

	// ProfileCIViC maps CIViC variant export fields
	ProfileCIViC = "civic"
)

// normalizeGeneric handles sources that already publish canonical field
// names. The record needs a variant_id or a full coordinate set; every other
// field is carried verbatim.
func normalizeGeneric(rec sources.RawRecord) (entity.Fragment, error) {
	id := entity.ID(firstNonEmpty(rec.Values, "variant_id", "id"))
	if id == "" {
		assembly := firstNonEmpty(rec.Values, entity.FieldAssembly)
		chrom := firstNonEmpty(rec.Values, entity.FieldChromosome)
		pos := firstNonEmpty(rec.Values, entity.FieldPosition)
		ref := firstNonEmpty(rec.Values, entity.FieldRef)
		alt := firstNonEmpty(rec.Values, entity.FieldAlt)
		if assembly == "" || chrom == "" || pos == "" || ref == "" || alt == "" {
			return entity.Fragment{}, fmt.Errorf("record has neither variant_id nor full coordinates")
		}
		id = entity.MakeID(assembly, chrom, pos, ref, alt)
	}

	fields := make(map[string]string, len(rec.Values))
	for key, val := range rec.Values {
		if key == "variant_id" || key == "id" {
			continue
		}
		if v := strings.TrimSpace(val); v != "" {
			fields[key] = v
		}
	}
	if len(fields) == 0 {
		return entity.Fragment{}, fmt.Errorf("record carries no attributes")
	}

	return entity.Fragment{ID: id, Fields: fields}, nil
}

// normalizeClinVar maps the tab-separated ClinVar variant_summary export.
// Records are keyed by coordinates when the VCF-style columns are present,
// falling back to the ClinVar variation ID.
func normalizeClinVar(rec sources.RawRecord) (entity.Fragment, error) {
	v := rec.Values

	assembly := firstNonEmpty(v, "Assembly")
	chrom := firstNonEmpty(v, "Chromosome")
	pos := firstNonEmpty(v, "PositionVCF", "Start")
	ref := firstNonEmpty(v, "ReferenceAlleleVCF", "ReferenceAllele")
	alt := firstNonEmpty(v, "AlternateAlleleVCF", "AlternateAllele")

	var id entity.ID
	switch {
	case assembly != "" && chrom != "" && pos != "" && ref != "" && alt != "":
		id = entity.MakeID(assembly, chrom, pos, ref, alt)
	case firstNonEmpty(v, "VariationID") != "":
		id = entity.ID("clinvar:" + firstNonEmpty(v, "VariationID"))
	default:
		return entity.Fragment{}, fmt.Errorf("record has neither VCF coordinates nor a VariationID")
	}

	fields := make(map[string]string)
	put := func(name, val string) {
		if val = strings.TrimSpace(val); val != "" {
			fields[name] = val
		}
	}
	put(entity.FieldGene, firstNonEmpty(v, "GeneSymbol"))
	put(entity.FieldSignificance, firstNonEmpty(v, "ClinicalSignificance"))
	put(entity.FieldReviewStatus, firstNonEmpty(v, "ReviewStatus"))
	put(entity.FieldAssembly, assembly)
	put(entity.FieldChromosome, chrom)
	put(entity.FieldPosition, pos)
	put(entity.FieldRef, ref)
	put(entity.FieldAlt, alt)
	put(entity.FieldHGVSc, firstNonEmpty(v, "Name"))
	put(entity.FieldXrefs, firstNonEmpty(v, "RS# (dbSNP)", "RS"))

	if _, ok := fields[entity.FieldSignificance]; !ok {
		return entity.Fragment{}, fmt.Errorf("record has no clinical significance")
	}

	return entity.Fragment{ID: id, Fields: fields}, nil
}

// normalizeCIViC maps the CIViC variant export. CIViC reports its own
// numeric variant IDs plus gene/coordinate context.
func normalizeCIViC(rec sources.RawRecord) (entity.Fragment, error) {
	v := rec.Values

	assembly := firstNonEmpty(v, "reference_build", "assembly")
	chrom := firstNonEmpty(v, "chromosome")
	pos := firstNonEmpty(v, "start")
	ref := firstNonEmpty(v, "reference_bases")
	alt := firstNonEmpty(v, "variant_bases")

	var id entity.ID
	switch {
	case assembly != "" && chrom != "" && pos != "" && ref != "" && alt != "":
		id = entity.MakeID(assembly, chrom, pos, ref, alt)
	case firstNonEmpty(v, "variant_id", "id") != "":
		id = entity.ID("civic:" + firstNonEmpty(v, "variant_id", "id"))
	default:
		return entity.Fragment{}, fmt.Errorf("record has neither coordinates nor a variant id")
	}

	gene := firstNonEmpty(v, "gene", "entrez_name")
	if gene == "" {
		return entity.Fragment{}, fmt.Errorf("record has no gene symbol")
	}

	fields := make(map[string]string)
	put := func(name, val string) {
		if val = strings.TrimSpace(val); val != "" {
			fields[name] = val
		}
	}
	put(entity.FieldGene, gene)
	put(entity.FieldAssembly, assembly)
	put(entity.FieldChromosome, chrom)
	put(entity.FieldPosition, pos)
	put(entity.FieldRef, ref)
	put(entity.FieldAlt, alt)
	put(entity.FieldHGVSp, firstNonEmpty(v, "variant", "name"))
	put(entity.FieldSignificance, firstNonEmpty(v, "significance", "clinical_significance"))
	put(entity.FieldXrefs, firstNonEmpty(v, "allele_registry_id"))

	return entity.Fragment{ID: id, Fields: fields}, nil
}
