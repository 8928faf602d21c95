package redis

import (
	"collab-docs/core"
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *redisStore {
	t.Helper()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		url = "redis://localhost:6379/0"
	}
	// Quick availability check to allow graceful skip in environments without Redis
	store, err := NewStore(context.Background(), url, fmt.Sprintf("collab-test:%d:", time.Now().UnixNano()))
	if err != nil {
		t.Skipf("skipping redis store tests: %v", err)
	}
	t.Cleanup(func() {
		ctx := context.Background()
		iter := store.client.Scan(ctx, 0, store.keyPrefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			store.client.Del(ctx, iter.Val())
		}
		store.Close()
	})
	return store
}

func TestKeys(t *testing.T) {
	s := &redisStore{keyPrefix: "p:"}
	if got := s.documentKey("d"); got != "p:doc:d" {
		t.Errorf("documentKey() = %q", got)
	}
	if got := s.sharesKey("d"); got != "p:shares:d" {
		t.Errorf("sharesKey() = %q", got)
	}
	if got := s.userSharesKey("u"); got != "p:user-shares:u" {
		t.Errorf("userSharesKey() = %q", got)
	}
	if got := s.ownedKey("u"); got != "p:owned:u" {
		t.Errorf("ownedKey() = %q", got)
	}
}

func TestUpdateArgs(t *testing.T) {
	now := time.Unix(0, 0).UTC()
	content := "v2"
	args := updateArgs(core.DocumentUpdate{Content: &content}, now)
	if len(args) != 4 || args[0] != "updated_at" || args[2] != "content" || args[3] != "v2" {
		t.Errorf("updateArgs() = %v", args)
	}
}

func TestNewStore_BadURL(t *testing.T) {
	if _, err := NewStore(context.Background(), "not a url", ""); err == nil {
		t.Error("NewStore() should reject a malformed URL")
	}
}

func TestDocumentLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.Create(ctx, &core.Document{Title: "T", Content: "v1", OwnerID: "alice"})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	doc, err := store.FindID(ctx, id)
	if err != nil {
		t.Fatalf("FindID() failed: %v", err)
	}
	if doc.Title != "T" || doc.OwnerID != "alice" || doc.CreatedAt.IsZero() {
		t.Errorf("Unexpected document: %+v", doc)
	}

	if err := store.ReplaceContent(ctx, id, "v2"); err != nil {
		t.Fatalf("ReplaceContent() failed: %v", err)
	}
	if content, _ := store.FetchContent(ctx, id); content != "v2" {
		t.Errorf("FetchContent() = %q, want v2", content)
	}

	if err := store.ReplaceContent(ctx, "missing", "x"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("ReplaceContent() on missing document = %v, want ErrNotFound", err)
	}
	if _, err := store.FetchContent(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("FetchContent() on missing document = %v, want ErrNotFound", err)
	}
	if _, err := store.FindID(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("FindID() on missing document = %v, want ErrNotFound", err)
	}
}

func TestShares(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id, _ := store.Create(ctx, &core.Document{OwnerID: "alice"})

	if err := store.Share(ctx, &core.Share{DocumentID: id, UserID: "bob", Permission: core.PermissionEditor}); err != nil {
		t.Fatalf("Share() failed: %v", err)
	}
	share, err := store.FindShare(ctx, id, "bob")
	if err != nil || share.Permission != core.PermissionEditor {
		t.Errorf("FindShare() = %+v, %v; want editor", share, err)
	}
	if _, err := store.FindShare(ctx, id, "carol"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("FindShare() = %v, want ErrNotFound", err)
	}

	shares, err := store.ListShared(ctx, "bob")
	if err != nil || len(shares) != 1 || shares[0].DocumentID != id {
		t.Errorf("ListShared() = %v, %v", shares, err)
	}

	err = store.Share(ctx, &core.Share{DocumentID: "missing", UserID: "bob", Permission: core.PermissionViewer})
	if !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Share() on missing document = %v, want ErrNotFound", err)
	}
}

func TestUpdateDeleteAndListOwned(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, _ := store.Create(ctx, &core.Document{Title: "a", Content: "v1", OwnerID: "alice"})
	second, _ := store.Create(ctx, &core.Document{Title: "b", OwnerID: "alice"})
	_, _ = store.Create(ctx, &core.Document{Title: "c", OwnerID: "bob"})
	_ = store.Share(ctx, &core.Share{DocumentID: first, UserID: "bob", Permission: core.PermissionViewer})

	title := "Final"
	doc, err := store.Update(ctx, first, core.DocumentUpdate{Title: &title})
	if err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	if doc.Title != "Final" || doc.Content != "v1" {
		t.Errorf("Update() = %+v, want title Final and content untouched", doc)
	}
	if _, err := store.Update(ctx, "missing", core.DocumentUpdate{Title: &title}); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Update() on missing document = %v, want ErrNotFound", err)
	}

	owned, err := store.ListOwned(ctx, "alice")
	if err != nil || len(owned) != 2 || owned[0].ID != first || owned[1].ID != second {
		t.Fatalf("ListOwned() = %v, %v; want [%s %s]", owned, err, first, second)
	}

	if err := store.Delete(ctx, first); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if owned, _ := store.ListOwned(ctx, "alice"); len(owned) != 1 || owned[0].ID != second {
		t.Errorf("ListOwned() after delete = %v, want [%s]", owned, second)
	}
	if shares, _ := store.ListShared(ctx, "bob"); len(shares) != 0 {
		t.Errorf("ListShared() after delete = %v, want none", shares)
	}
	if members, _ := store.client.SMembers(ctx, store.userSharesKey("bob")).Result(); len(members) != 0 {
		t.Errorf("Share index still references deleted document: %v", members)
	}
	if err := store.Delete(ctx, first); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("second Delete() = %v, want ErrNotFound", err)
	}
}
