package main

import (
	"collab-docs/auth"
	"collab-docs/collab"
	"collab-docs/config"
	authMiddleware "collab-docs/middleware"
	"collab-docs/permissions"
	"collab-docs/stores/memory"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestApp(t *testing.T, secret string) *app {
	t.Helper()
	cfg := &config.Config{AllowedOrigins: "*", JWTSecret: secret}
	store := memory.NewStore()
	a := &app{cfg: cfg, store: store}
	a.oracle = permissions.NewOracle(store)
	a.registry = collab.NewRegistry()
	a.engine = collab.NewEngine(a.registry, a.oracle, store, collab.Options{})
	if secret != "" {
		a.tokens = auth.NewTokens(secret, time.Hour)
	}
	a.login = auth.NewLogin(context.Background(), auth.ProviderConfig{}, auth.NewTokens(secret, time.Hour))
	return a
}

func TestHealthz(t *testing.T) {
	r := setupRouter(newTestApp(t, ""))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Status code mismatch: got %d, want 200", rec.Code)
	}
	var body map[string]any
	json.NewDecoder(rec.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Errorf("Unexpected body: %v", body)
	}
}

func TestAPIRequiresToken(t *testing.T) {
	a := newTestApp(t, "secret")
	r := setupRouter(a)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Unauthenticated status = %d, want 401", rec.Code)
	}

	token, _ := a.tokens.Issue(auth.Identity{Subject: "alice"})
	req := httptest.NewRequest(http.MethodPost, "/api/documents", strings.NewReader(`{"content":"hi"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Create status = %d, want 200 (%s)", rec.Code, rec.Body.String())
	}
	var created struct {
		ID string `json:"id"`
	}
	json.NewDecoder(rec.Body).Decode(&created)

	req = httptest.NewRequest(http.MethodGet, "/api/documents/"+created.ID, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("Get status = %d, want 200", rec.Code)
	}
}

func TestLoginNotConfigured(t *testing.T) {
	r := setupRouter(newTestApp(t, "secret"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/login", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Login status = %d, want 500", rec.Code)
	}
}

func TestDocumentLifecycleThroughRouter(t *testing.T) {
	r := setupRouter(newTestApp(t, ""))
	do := func(method, target, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(authMiddleware.DevUserHeader, "alice")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	rec := do(http.MethodPost, "/api/documents", `{"title":"Plan","content":"v1"}`)
	var created struct {
		ID string `json:"id"`
	}
	json.NewDecoder(rec.Body).Decode(&created)
	if created.ID == "" {
		t.Fatalf("Create failed: %d %s", rec.Code, rec.Body.String())
	}

	rec = do(http.MethodGet, "/api/documents", "")
	var list struct {
		OwnedDocuments []struct {
			ID string `json:"id"`
		} `json:"ownedDocuments"`
		SharedDocuments []any `json:"sharedDocuments"`
	}
	json.NewDecoder(rec.Body).Decode(&list)
	if len(list.OwnedDocuments) != 1 || list.OwnedDocuments[0].ID != created.ID {
		t.Errorf("List did not include the owned document: %s", rec.Body.String())
	}

	rec = do(http.MethodPatch, "/api/documents/"+created.ID, `{"content":"v2"}`)
	if rec.Code != http.StatusOK {
		t.Errorf("Patch status = %d, want 200 (%s)", rec.Code, rec.Body.String())
	}

	rec = do(http.MethodDelete, "/api/documents/"+created.ID, "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("Delete status = %d, want 204", rec.Code)
	}
	rec = do(http.MethodGet, "/api/documents/"+created.ID, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("Get after delete = %d, want 404", rec.Code)
	}
}
