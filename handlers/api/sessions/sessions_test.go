package sessions

import (
	"collab-docs/collab"
	"collab-docs/core"
	"collab-docs/middleware"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

type nopPeer string

func (p nopPeer) ID() string                           { return string(p) }
func (p nopPeer) Send(event string, payload any) error { return nil }

// staticOracle maps document ID to user ID to permission. Unknown documents
// are not found.
type staticOracle map[string]map[string]core.Permission

func (o staticOracle) Check(ctx context.Context, documentID, userID string) (core.Permission, error) {
	users, ok := o[documentID]
	if !ok {
		return core.PermissionNone, core.ErrNotFound
	}
	return users[userID], nil
}

type failingOracle struct{}

func (failingOracle) Check(ctx context.Context, documentID, userID string) (core.Permission, error) {
	return core.PermissionNone, fmt.Errorf("db down: %w", core.ErrStoreUnavailable)
}

func listRequest(userID string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	return req.WithContext(context.WithValue(req.Context(), middleware.UserContextKey, userID))
}

func membersRequest(documentID, userID string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/sessions/"+documentID+"/members", nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("documentId", documentID)
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
	ctx = context.WithValue(ctx, middleware.UserContextKey, userID)
	return req.WithContext(ctx)
}

func TestHandleList(t *testing.T) {
	registry := collab.NewRegistry()
	registry.Join("doc-1", "alice", nopPeer("c1"))
	registry.Join("doc-1", "bob", nopPeer("c2"))
	registry.Join("doc-2", "carol", nopPeer("c3"))
	oracle := staticOracle{
		"doc-1": {"alice": core.PermissionOwner, "bob": core.PermissionViewer},
		"doc-2": {"carol": core.PermissionOwner, "bob": core.PermissionEditor},
	}

	tests := []struct {
		name   string
		userID string
		want   []string
	}{
		{"bob sees both", "bob", []string{"doc-1", "doc-2"}},
		{"carol sees her own", "carol", []string{"doc-2"}},
		{"stranger sees nothing", "mallory", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			HandleList(registry, oracle)(rec, listRequest(tt.userID))

			var sessions []collab.SessionInfo
			if err := json.NewDecoder(rec.Body).Decode(&sessions); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}
			if sessions == nil {
				t.Fatal("Expected a JSON array, got null")
			}
			if len(sessions) != len(tt.want) {
				t.Fatalf("Got sessions %+v, want %v", sessions, tt.want)
			}
			for i, id := range tt.want {
				if sessions[i].DocumentID != id {
					t.Errorf("Session %d is %s, want %s", i, sessions[i].DocumentID, id)
				}
			}
		})
	}
}

func TestHandleList_SkipsDeletedDocuments(t *testing.T) {
	registry := collab.NewRegistry()
	registry.Join("doc-gone", "alice", nopPeer("c1"))

	rec := httptest.NewRecorder()
	HandleList(registry, staticOracle{})(rec, listRequest("alice"))
	if rec.Code != http.StatusOK {
		t.Fatalf("Status code mismatch: got %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	HandleList(registry, failingOracle{})(rec, listRequest("alice"))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Status with failing oracle = %d, want 503", rec.Code)
	}
}

func TestHandleMembers(t *testing.T) {
	registry := collab.NewRegistry()
	registry.Join("doc-1", "alice", nopPeer("c1"))
	oracle := staticOracle{"doc-1": {"alice": core.PermissionOwner, "bob": core.PermissionViewer}}

	rec := httptest.NewRecorder()
	HandleMembers(registry, oracle)(rec, membersRequest("doc-1", "bob"))
	if rec.Code != http.StatusOK {
		t.Fatalf("Status code mismatch: got %d, want 200", rec.Code)
	}
	var body MembersResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(body.Members) != 1 || body.Members[0].UserID != "alice" {
		t.Errorf("Unexpected members: %+v", body.Members)
	}

	rec = httptest.NewRecorder()
	HandleMembers(registry, oracle)(rec, membersRequest("doc-1", "mallory"))
	if rec.Code != http.StatusForbidden {
		t.Errorf("Stranger status = %d, want 403", rec.Code)
	}

	rec = httptest.NewRecorder()
	HandleMembers(registry, oracle)(rec, membersRequest("doc-9", "alice"))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Unknown document status = %d, want 404", rec.Code)
	}
}
