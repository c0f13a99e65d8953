package server

import (
	"net/http"

	gateway "github.com/lkgate/lkgate/internal"
	"github.com/lkgate/lkgate/internal/registry"
)

type modelSummary struct {
	ID           string               `json:"id"`
	Provider     string               `json:"provider"`
	DisplayName  string               `json:"display_name,omitempty"`
	Capabilities []gateway.Capability `json:"capabilities,omitempty"`
}

// handleListModels lists the active catalogue for API consumers, keyed by
// canonical identifier.
func (s *server) handleListModels(w http.ResponseWriter, r *http.Request) {
	filter := registry.Filter{
		Provider:   r.URL.Query().Get("provider"),
		Capability: gateway.Capability(r.URL.Query().Get("capability")),
	}
	models, err := s.deps.Registry.ListModels(r.Context(), filter)
	if err != nil {
		writeJSON(w, errorStatus(err), errorResponse("failed to list models"))
		return
	}
	out := make([]modelSummary, len(models))
	for i, m := range models {
		out[i] = modelSummary{
			ID:           m.Canonical(),
			Provider:     m.Provider,
			DisplayName:  m.DisplayName,
			Capabilities: m.Capabilities,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"object": "list", "data": out})
}
