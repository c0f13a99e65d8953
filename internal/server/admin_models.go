package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	gateway "github.com/lkgate/lkgate/internal"
	"github.com/lkgate/lkgate/internal/registry"
)

// writeAdminError logs the full error server-side and returns a sanitized
// message to the client to avoid leaking internal details (e.g. SQLite errors).
func writeAdminError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	switch {
	case errors.Is(err, gateway.ErrNotFound):
		writeJSON(w, status, errorResponse("not found"))
	case errors.Is(err, gateway.ErrConflict):
		writeJSON(w, status, errorResponse("conflict"))
	default:
		slog.LogAttrs(r.Context(), slog.LevelError, "admin error",
			slog.String("error", err.Error()),
		)
		writeJSON(w, status, errorResponse("internal error"))
	}
}

type modelPayload struct {
	Provider        *string   `json:"provider"`
	ModelName       *string   `json:"model_name"`
	DisplayName     *string   `json:"display_name"`
	ContextWindow   *int      `json:"context_window"`
	MaxOutputTokens *int      `json:"max_output_tokens"`
	Capabilities    *[]string `json:"capabilities"`
	CostPer1KInput  *float64  `json:"cost_per_1k_input"`
	CostPer1KOutput *float64  `json:"cost_per_1k_output"`
	IsActive        *bool     `json:"is_active"`
	Priority        *int      `json:"priority"`
}

// apply copies the set fields onto m, validating capability names.
func (p *modelPayload) apply(m *gateway.ModelConfig) error {
	if p.Provider != nil {
		m.Provider = *p.Provider
	}
	if p.ModelName != nil {
		m.ModelName = *p.ModelName
	}
	if p.DisplayName != nil {
		m.DisplayName = *p.DisplayName
	}
	if p.ContextWindow != nil {
		m.ContextWindow = *p.ContextWindow
	}
	if p.MaxOutputTokens != nil {
		m.MaxOutputTokens = *p.MaxOutputTokens
	}
	if p.Capabilities != nil {
		caps := make([]gateway.Capability, 0, len(*p.Capabilities))
		for _, raw := range *p.Capabilities {
			c := gateway.Capability(raw)
			if !validCapability(c) {
				return errors.New("unknown capability " + raw)
			}
			caps = append(caps, c)
		}
		m.Capabilities = caps
	}
	if p.CostPer1KInput != nil {
		m.CostPer1KInput = *p.CostPer1KInput
	}
	if p.CostPer1KOutput != nil {
		m.CostPer1KOutput = *p.CostPer1KOutput
	}
	if p.IsActive != nil {
		m.IsActive = *p.IsActive
	}
	if p.Priority != nil {
		m.Priority = *p.Priority
	}
	return nil
}

func validCapability(c gateway.Capability) bool {
	for _, known := range gateway.KnownCapabilities {
		if c == known {
			return true
		}
	}
	return false
}

func (s *server) handleAdminListModels(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	models, err := s.deps.Models.ListModels(r.Context(), activeOnly)
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": models})
}

func (s *server) handleAdminCreateModel(w http.ResponseWriter, r *http.Request) {
	var p modelPayload
	if !decodeJSON(w, r, &p) {
		return
	}
	if p.Provider == nil || *p.Provider == "" || p.ModelName == nil || *p.ModelName == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse("provider and model_name are required"))
		return
	}

	m := &gateway.ModelConfig{
		ID:       uuid.Must(uuid.NewV7()).String(),
		IsActive: true,
	}
	if err := p.apply(m); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	if err := s.deps.Models.CreateModel(r.Context(), m); err != nil {
		writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *server) handleAdminUpdateModel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var p modelPayload
	if !decodeJSON(w, r, &p) {
		return
	}

	m, err := s.deps.Models.GetModel(r.Context(), id)
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	if err := p.apply(m); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	if err := s.deps.Models.UpdateModel(r.Context(), m); err != nil {
		writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *server) handleAdminDeleteModel(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Models.DeleteModel(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeAdminError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAdminRefreshModels reloads the registry snapshot immediately instead
// of waiting for the background interval. An empty catalogue is reported,
// not treated as a failure; the registry kept its previous snapshot.
func (s *server) handleAdminRefreshModels(w http.ResponseWriter, r *http.Request) {
	switch err := s.deps.Registry.Refresh(r.Context()); {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "refreshed"})
	case errors.Is(err, registry.ErrEmptyCatalogue):
		writeJSON(w, http.StatusOK, map[string]string{"status": "empty"})
	default:
		writeAdminError(w, r, err)
	}
}
