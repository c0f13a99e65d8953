package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	gateway "github.com/lkgate/lkgate/internal"
	"github.com/lkgate/lkgate/internal/auth"
)

type createKeyRequest struct {
	Name        string               `json:"name"`
	UserID      string               `json:"user_id"`
	TTLSeconds  int                  `json:"ttl_seconds"`
	Permissions *gateway.Permissions `json:"permissions"`
}

type createKeyResponse struct {
	Key       *gateway.APIKey `json:"key"`
	Plaintext string          `json:"plaintext"` // shown exactly once
}

// handleAdminCreateKey mints a key in the caller's org. The plaintext appears
// only in this response; the store keeps hashes.
func (s *server) handleAdminCreateKey(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse("name is required"))
		return
	}

	rc := gateway.RequestContextFrom(r.Context())
	key, plaintext, err := s.deps.Keygen.Generate(r.Context(), auth.GenerateParams{
		OrgID:       rc.Principal.OrgID,
		UserID:      req.UserID,
		Name:        req.Name,
		Permissions: req.Permissions,
		TTL:         time.Duration(req.TTLSeconds) * time.Second,
	})
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createKeyResponse{Key: key, Plaintext: plaintext})
}

func (s *server) handleAdminListKeys(w http.ResponseWriter, r *http.Request) {
	rc := gateway.RequestContextFrom(r.Context())
	offset, limit := parsePagination(r)
	keys, err := s.deps.Keys.ListKeys(r.Context(), rc.Principal.OrgID, offset, limit)
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": keys})
}

// handleAdminDeleteKey revokes a key by deactivating its record and drops it
// from both credential cache tiers, so revocation takes effect without
// waiting out the TTL. The row itself is kept.
func (s *server) handleAdminDeleteKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rc := gateway.RequestContextFrom(r.Context())
	key, err := s.deps.Keys.GetKey(r.Context(), id)
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	if key.OrgID != rc.Principal.OrgID {
		writeJSON(w, http.StatusForbidden, errorResponse("cannot manage keys outside your organization"))
		return
	}

	if err := s.deps.Keys.DeactivateKey(r.Context(), id); err != nil {
		writeAdminError(w, r, err)
		return
	}
	s.deps.Auth.InvalidateByKeyID(r.Context(), id)
	w.WriteHeader(http.StatusNoContent)
}

func parsePagination(r *http.Request) (offset, limit int) {
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return
}
