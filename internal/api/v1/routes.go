// Package v1 provides the read-only variant query API and the source
// administration endpoints.
package v1

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/varhub-io/varhub/internal/api/common"
	"github.com/varhub-io/varhub/internal/entity"
	"github.com/varhub-io/varhub/internal/sources"
	"github.com/varhub-io/varhub/internal/status"
	"github.com/varhub-io/varhub/internal/store"
	"github.com/varhub-io/varhub/internal/validators"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 500
)

// RefreshController triggers and tears down source refresh loops. Implemented
// by the scheduler.
type RefreshController interface {
	TriggerRefresh(source string) error
	DeregisterSource(ctx context.Context, source string) error
}

// Routes handles HTTP requests for the v1 API
type Routes struct {
	store      *store.Store
	registry   *sources.Registry
	tracker    *status.Tracker
	controller RefreshController
}

// NewRoutes creates a Routes instance over the given dependencies
func NewRoutes(st *store.Store, registry *sources.Registry, tracker *status.Tracker, controller RefreshController) *Routes {
	return &Routes{
		store:      st,
		registry:   registry,
		tracker:    tracker,
		controller: controller,
	}
}

// Router creates the HTTP router for the v1 API
func Router(st *store.Store, registry *sources.Registry, tracker *status.Tracker, controller RefreshController) http.Handler {
	routes := NewRoutes(st, registry, tracker, controller)

	r := chi.NewRouter()

	r.Get("/variants", routes.listVariants)
	r.Get("/variants/{variantID}", routes.getVariant)

	r.Get("/sources", routes.listSources)
	r.Route("/sources/{sourceName}", func(r chi.Router) {
		r.Get("/", routes.getSource)
		r.Delete("/", routes.deleteSource)
		r.Post("/refresh", routes.refreshSource)
	})

	return r
}

// getVariant returns one consolidated variant by identifier
func (routes *Routes) getVariant(w http.ResponseWriter, r *http.Request) {
	id, err := validators.ValidateVariantID(chi.URLParam(r, "variantID"))
	if err != nil {
		common.WriteErrorResponse(w, "Invalid variant identifier: "+err.Error(), http.StatusBadRequest)
		return
	}

	v, err := routes.store.Get(entity.ID(id))
	if err != nil {
		if errors.Is(err, store.ErrEntityNotFound) {
			common.WriteErrorResponse(w, "Variant not found: "+id, http.StatusNotFound)
			return
		}
		common.WriteErrorResponse(w, "Failed to load variant", http.StatusInternalServerError)
		return
	}
	common.WriteJSONResponse(w, toVariantResponse(v), http.StatusOK)
}

// listVariants returns a filtered, paginated page of variants
func (routes *Routes) listVariants(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	limit := defaultPageLimit
	if limitStr := query.Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			common.WriteErrorResponse(w, "Invalid limit parameter: must be a positive integer", http.StatusBadRequest)
			return
		}
		if parsed > maxPageLimit {
			parsed = maxPageLimit
		}
		limit = parsed
	}

	result, err := routes.store.Query(store.Query{
		Gene:         query.Get("gene"),
		Significance: query.Get("significance"),
		Assembly:     query.Get("assembly"),
		Source:       query.Get("source"),
		Limit:        limit,
		Cursor:       query.Get("cursor"),
	})
	if err != nil {
		common.WriteErrorResponse(w, "Invalid cursor parameter", http.StatusBadRequest)
		return
	}

	resp := ListVariantsResponse{
		Variants:   make([]VariantResponse, 0, len(result.Variants)),
		Total:      result.Total,
		NextCursor: result.NextCursor,
	}
	for _, v := range result.Variants {
		resp.Variants = append(resp.Variants, toVariantResponse(v))
	}
	common.WriteJSONResponse(w, resp, http.StatusOK)
}

// listSources returns all registered sources with their refresh state
func (routes *Routes) listSources(w http.ResponseWriter, _ *http.Request) {
	configs := routes.registry.List()
	resp := ListSourcesResponse{Sources: make([]SourceResponse, 0, len(configs))}
	for _, cfg := range configs {
		source := SourceResponse{
			Name:     cfg.Name,
			Type:     cfg.GetType(),
			Priority: cfg.Priority,
			Format:   cfg.Format,
			Profile:  cfg.Profile,
		}
		if st, ok := routes.tracker.Status(cfg.Name); ok {
			source.Status = toStatusResponse(st)
		}
		resp.Sources = append(resp.Sources, source)
	}
	common.WriteJSONResponse(w, resp, http.StatusOK)
}

// getSource returns one registered source with its refresh state
func (routes *Routes) getSource(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "sourceName")
	cfg, err := routes.registry.Get(name)
	if err != nil {
		if errors.Is(err, sources.ErrUnknownSource) {
			common.WriteErrorResponse(w, "Source not found: "+name, http.StatusNotFound)
			return
		}
		common.WriteErrorResponse(w, "Failed to load source", http.StatusInternalServerError)
		return
	}

	resp := SourceResponse{
		Name:     cfg.Name,
		Type:     cfg.GetType(),
		Priority: cfg.Priority,
		Format:   cfg.Format,
		Profile:  cfg.Profile,
	}
	if st, ok := routes.tracker.Status(cfg.Name); ok {
		resp.Status = toStatusResponse(st)
	}
	common.WriteJSONResponse(w, resp, http.StatusOK)
}

// refreshSource queues a manual refresh. The refresh runs asynchronously;
// poll the source status for the outcome.
func (routes *Routes) refreshSource(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "sourceName")
	if err := routes.controller.TriggerRefresh(name); err != nil {
		if errors.Is(err, sources.ErrUnknownSource) {
			common.WriteErrorResponse(w, "Source not found: "+name, http.StatusNotFound)
			return
		}
		common.WriteErrorResponse(w, "Failed to queue refresh", http.StatusInternalServerError)
		return
	}
	common.WriteJSONResponse(w, RefreshAcceptedResponse{
		Source: name,
		Status: "refresh queued",
	}, http.StatusAccepted)
}

// deleteSource deregisters a source and removes its contributions
func (routes *Routes) deleteSource(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "sourceName")
	if _, err := routes.registry.Get(name); err != nil {
		if errors.Is(err, sources.ErrUnknownSource) {
			common.WriteErrorResponse(w, "Source not found: "+name, http.StatusNotFound)
			return
		}
		common.WriteErrorResponse(w, "Failed to load source", http.StatusInternalServerError)
		return
	}

	if err := routes.controller.DeregisterSource(r.Context(), name); err != nil {
		common.WriteErrorResponse(w, "Failed to deregister source", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
