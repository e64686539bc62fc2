package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMakeID(t *testing.T) {
	t.Parallel()

	id := MakeID(AssemblyGRCh38, "7", "140753336", "A", "T")
	assert.Equal(t, ID("GRCh38:7:140753336:A:T"), id)
}

func TestVariantClone(t *testing.T) {
	t.Parallel()

	v := NewVariant("rs113488022")
	v.Fields[FieldGene] = Field{
		Value:      "BRAF",
		Provenance: Provenance{Source: "civic", Fingerprint: "abc123"},
	}

	clone := v.Clone()
	clone.Fields[FieldGene] = Field{
		Value:      "KRAS",
		Provenance: Provenance{Source: "clinvar", Fingerprint: "def456"},
	}

	got, ok := v.Get(FieldGene)
	assert.True(t, ok)
	assert.Equal(t, "BRAF", got, "mutating a clone must not touch the original")
}

func TestVariantSources(t *testing.T) {
	t.Parallel()

	v := NewVariant("rs113488022")
	v.Fields[FieldGene] = Field{Value: "BRAF", Provenance: Provenance{Source: "civic"}}
	v.Fields[FieldSignificance] = Field{Value: "Pathogenic", Provenance: Provenance{Source: "clinvar"}}
	v.Fields[FieldHGVSp] = Field{Value: "p.V600E", Provenance: Provenance{Source: "civic"}}

	sources := v.Sources()
	assert.ElementsMatch(t, []string{"civic", "clinvar"}, sources)
}

func TestFragmentValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		fragment Fragment
		wantErr  bool
	}{
		{
			name:     "valid",
			fragment: Fragment{ID: "rs1", Fields: map[string]string{FieldGene: "TP53"}},
		},
		{
			name:     "missing id",
			fragment: Fragment{Fields: map[string]string{FieldGene: "TP53"}},
			wantErr:  true,
		},
		{
			name:     "blank id",
			fragment: Fragment{ID: "  ", Fields: map[string]string{FieldGene: "TP53"}},
			wantErr:  true,
		},
		{
			name:     "no fields",
			fragment: Fragment{ID: "rs1"},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.fragment.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
