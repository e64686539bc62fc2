package validators

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateVariantID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{name: "coordinate id", id: "GRCh38:7:140753336:A:T"},
		{name: "chromosome X", id: "GRCh37:X:66765158:C:G"},
		{name: "mitochondrial", id: "GRCh38:MT:8993:T:G"},
		{name: "contig accession", id: "GRCh38:NC000007.14:140753336:A:T"},
		{name: "deletion allele", id: "GRCh38:1:100:AC:-"},
		{name: "multi-base alleles", id: "GRCh38:2:200:ACGT:TTAG"},
		{name: "scoped id", id: "clinvar:376280"},
		{name: "scoped id with letters", id: "civic:VID12"},
		{name: "trims whitespace", id: "  clinvar:376280  "},
		{name: "empty", id: "", wantErr: true},
		{name: "missing alt", id: "GRCh38:7:140753336:A", wantErr: true},
		{name: "non-numeric position", id: "GRCh38:7:abc:A:T", wantErr: true},
		{name: "bad chromosome", id: "GRCh38:chr7!:100:A:T", wantErr: true},
		{name: "bad ref allele", id: "GRCh38:7:100:Q:T", wantErr: true},
		{name: "empty assembly", id: ":7:100:A:T", wantErr: true},
		{name: "empty scope", id: ":12345", wantErr: true},
		{name: "scoped with spaces", id: "clinvar:123 45", wantErr: true},
		{name: "too many segments", id: "a:b:c:d:e:f", wantErr: true},
		{name: "bare token", id: "rs113488022", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := ValidateVariantID(tc.id)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, got)
		})
	}
}

func TestValidateSourceName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		source  string
		wantErr bool
	}{
		{name: "simple", source: "clinvar"},
		{name: "with digits", source: "civic2"},
		{name: "with hyphen", source: "cosmic-coding"},
		{name: "with underscore", source: "my_export"},
		{name: "empty", source: "", wantErr: true},
		{name: "too short", source: "a", wantErr: true},
		{name: "uppercase", source: "ClinVar", wantErr: true},
		{name: "leading digit", source: "1source", wantErr: true},
		{name: "path separator", source: "a/b", wantErr: true},
		{name: "dots", source: "a.b", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := ValidateSourceName(tc.source)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
