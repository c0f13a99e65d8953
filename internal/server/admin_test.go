package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	gateway "github.com/lkgate/lkgate/internal"
)

func TestAdminRequiresKeyManager(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)

	rec := fx.do(t, http.MethodGet, "/admin/models", fx.key, nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("plain key status = %d, want 403", rec.Code)
	}
	rec = fx.do(t, http.MethodGet, "/admin/models", fx.adminKey, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("admin key status = %d, want 200", rec.Code)
	}
}

func TestAdminModelLifecycle(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)

	create := fx.do(t, http.MethodPost, "/admin/models", fx.adminKey, map[string]any{
		"provider":           "anthropic",
		"model_name":         "claude-3-5-sonnet",
		"display_name":       "Claude 3.5 Sonnet",
		"capabilities":       []string{"streaming", "vision"},
		"cost_per_1k_input":  3.0,
		"cost_per_1k_output": 15.0,
		"priority":           20,
	})
	if create.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", create.Code, create.Body)
	}
	var created gateway.ModelConfig
	if err := json.Unmarshal(create.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	if created.ID == "" || !created.IsActive {
		t.Errorf("created = %+v", created)
	}

	// New model is invisible to routing until a refresh.
	if _, err := fx.registry.GetModel(t.Context(), "anthropic:claude-3-5-sonnet"); err == nil {
		t.Error("model visible before refresh")
	}
	refresh := fx.do(t, http.MethodPost, "/admin/models/refresh", fx.adminKey, nil)
	if refresh.Code != http.StatusOK {
		t.Fatalf("refresh status = %d", refresh.Code)
	}
	if _, err := fx.registry.GetModel(t.Context(), "anthropic:claude-3-5-sonnet"); err != nil {
		t.Errorf("model missing after refresh: %v", err)
	}

	patch := fx.do(t, http.MethodPatch, "/admin/models/"+created.ID, fx.adminKey, map[string]any{
		"is_active": false,
	})
	if patch.Code != http.StatusOK {
		t.Fatalf("patch status = %d: %s", patch.Code, patch.Body)
	}
	fx.do(t, http.MethodPost, "/admin/models/refresh", fx.adminKey, nil)
	if _, err := fx.registry.GetModel(t.Context(), "anthropic:claude-3-5-sonnet"); err == nil {
		t.Error("inactive model still routable after refresh")
	}

	del := fx.do(t, http.MethodDelete, "/admin/models/"+created.ID, fx.adminKey, nil)
	if del.Code != http.StatusNoContent {
		t.Errorf("delete status = %d", del.Code)
	}
	if rec := fx.do(t, http.MethodDelete, "/admin/models/"+created.ID, fx.adminKey, nil); rec.Code != http.StatusNotFound {
		t.Errorf("double delete status = %d, want 404", rec.Code)
	}
}

func TestAdminCreateModelValidation(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)

	rec := fx.do(t, http.MethodPost, "/admin/models", fx.adminKey, map[string]any{
		"provider": "openai",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing model_name status = %d, want 400", rec.Code)
	}

	rec = fx.do(t, http.MethodPost, "/admin/models", fx.adminKey, map[string]any{
		"provider":     "openai",
		"model_name":   "gpt-5",
		"capabilities": []string{"teleportation"},
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown capability status = %d, want 400", rec.Code)
	}

	rec = fx.do(t, http.MethodPost, "/admin/models", fx.adminKey, map[string]any{
		"provider":   "openai",
		"model_name": "gpt-4o",
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate status = %d, want 409", rec.Code)
	}
}

func TestAdminKeyLifecycle(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)

	create := fx.do(t, http.MethodPost, "/admin/keys", fx.adminKey, map[string]any{
		"name":    "ci-bot",
		"user_id": "bot-1",
	})
	if create.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", create.Code, create.Body)
	}
	var created createKeyResponse
	if err := json.Unmarshal(create.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(created.Plaintext, gateway.APIKeyPrefix) {
		t.Errorf("plaintext = %q", created.Plaintext)
	}
	if created.Key.OrgID != "org-1" {
		t.Errorf("org = %q, want caller's org", created.Key.OrgID)
	}

	// The minted key works immediately.
	rec := fx.do(t, http.MethodPost, "/v1/chat/completions", created.Plaintext, chatBody("gpt-4o"))
	if rec.Code != http.StatusOK {
		t.Fatalf("minted key status = %d", rec.Code)
	}

	list := fx.do(t, http.MethodGet, "/admin/keys", fx.adminKey, nil)
	if list.Code != http.StatusOK {
		t.Fatalf("list status = %d", list.Code)
	}
	var listed struct {
		Data []gateway.APIKey `json:"data"`
	}
	if err := json.Unmarshal(list.Body.Bytes(), &listed); err != nil {
		t.Fatal(err)
	}
	if len(listed.Data) < 3 {
		t.Errorf("listed %d keys", len(listed.Data))
	}
	for _, k := range listed.Data {
		if strings.Contains(list.Body.String(), k.Preview) && len(k.Preview) > 8 {
			t.Errorf("preview too long: %q", k.Preview)
		}
	}

	del := fx.do(t, http.MethodDelete, "/admin/keys/"+created.Key.ID, fx.adminKey, nil)
	if del.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", del.Code)
	}

	// Revocation takes effect immediately: caches were invalidated.
	rec = fx.do(t, http.MethodPost, "/v1/chat/completions", created.Plaintext, chatBody("gpt-4o"))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("revoked key status = %d, want 401", rec.Code)
	}

	// Revocation deactivates rather than deletes: the record stays listed.
	list = fx.do(t, http.MethodGet, "/admin/keys", fx.adminKey, nil)
	if err := json.Unmarshal(list.Body.Bytes(), &listed); err != nil {
		t.Fatal(err)
	}
	found := false
	for _, k := range listed.Data {
		if k.ID == created.Key.ID {
			found = true
			if k.IsActive {
				t.Error("revoked key still marked active")
			}
		}
	}
	if !found {
		t.Error("revoked key record missing from listing")
	}
}

func TestAdminCreateKeyValidation(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)

	rec := fx.do(t, http.MethodPost, "/admin/keys", fx.adminKey, map[string]any{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty name status = %d, want 400", rec.Code)
	}
}
