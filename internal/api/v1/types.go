package v1

import (
	"time"

	"github.com/varhub-io/varhub/internal/entity"
	"github.com/varhub-io/varhub/internal/status"
)

// FieldResponse is one canonical field value with its provenance
type FieldResponse struct {
	Value       string `json:"value"`
	Source      string `json:"source"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// VariantResponse is the API shape of a consolidated variant
type VariantResponse struct {
	ID     string                   `json:"id"`
	Fields map[string]FieldResponse `json:"fields"`
}

// ListVariantsResponse is one page of variants
type ListVariantsResponse struct {
	Variants   []VariantResponse `json:"variants"`
	Total      int               `json:"total"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

// SourceStatusResponse is the refresh state of one source
type SourceStatusResponse struct {
	Phase               string     `json:"phase"`
	Fingerprint         string     `json:"fingerprint,omitempty"`
	DeclaredVersion     string     `json:"declared_version,omitempty"`
	LastAttempt         *time.Time `json:"last_attempt,omitempty"`
	LastSuccess         *time.Time `json:"last_success,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
	EntityCount         int        `json:"entity_count"`
	SkippedRecords      int        `json:"skipped_records,omitempty"`
}

// SourceResponse is the API shape of a registered source
type SourceResponse struct {
	Name     string                `json:"name"`
	Type     string                `json:"type"`
	Priority int                   `json:"priority"`
	Format   string                `json:"format"`
	Profile  string                `json:"profile"`
	Status   *SourceStatusResponse `json:"status,omitempty"`
}

// ListSourcesResponse lists all registered sources
type ListSourcesResponse struct {
	Sources []SourceResponse `json:"sources"`
}

// RefreshAcceptedResponse acknowledges a queued manual refresh
type RefreshAcceptedResponse struct {
	Source string `json:"source"`
	Status string `json:"status"`
}

func toVariantResponse(v *entity.Variant) VariantResponse {
	fields := make(map[string]FieldResponse, len(v.Fields))
	for name, f := range v.Fields {
		fields[name] = FieldResponse{
			Value:       f.Value,
			Source:      f.Provenance.Source,
			Fingerprint: f.Provenance.Fingerprint,
		}
	}
	return VariantResponse{ID: string(v.ID), Fields: fields}
}

func toStatusResponse(st status.SourceStatus) *SourceStatusResponse {
	resp := &SourceStatusResponse{
		Phase:               string(st.Phase),
		Fingerprint:         st.Fingerprint,
		LastAttempt:         st.LastAttempt,
		LastSuccess:         st.LastSuccess,
		ConsecutiveFailures: st.ConsecutiveFailures,
		LastError:           st.LastError,
		EntityCount:         st.EntityCount,
		SkippedRecords:      st.SkippedRecords,
	}
	if st.DeclaredVersion.IsKnown() {
		resp.DeclaredVersion = st.DeclaredVersion.String()
	}
	return resp
}
