package filesystem

import (
	"collab-docs/core"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestNewStore_CreatesDirectory(t *testing.T) {
	tempDir := filepath.Join(t.TempDir(), "nested", "path")
	store := NewStore(tempDir)
	if store == nil {
		t.Fatal("NewStore() returned nil")
	}

	for _, dir := range []string{documentsDir, sharesDir} {
		if _, err := os.Stat(filepath.Join(tempDir, dir)); os.IsNotExist(err) {
			t.Errorf("NewStore() did not create %s", dir)
		}
	}
}

func TestCreate_Success(t *testing.T) {
	tempDir := t.TempDir()
	store := NewStore(tempDir)
	ctx := context.Background()

	id, err := store.Create(ctx, &core.Document{Title: "Plan", Content: "draft", OwnerID: "alice"})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	filePath := filepath.Join(tempDir, documentsDir, id+".json")
	info, err := os.Stat(filePath)
	if err != nil {
		t.Fatalf("Create() did not create file on disk: %v", err)
	}
	if info.Mode().Perm() != 0644 {
		t.Errorf("File permissions mismatch: got %o, want 644", info.Mode().Perm())
	}

	doc, err := store.FindID(ctx, id)
	if err != nil {
		t.Fatalf("FindID() failed: %v", err)
	}
	if doc.ID != id || doc.Content != "draft" || doc.OwnerID != "alice" {
		t.Errorf("Unexpected document: %+v", doc)
	}
}

func TestFindID_NotFound(t *testing.T) {
	store := NewStore(t.TempDir())
	_, err := store.FindID(context.Background(), "nonexistent-id")
	if !errors.Is(err, core.ErrNotFound) {
		t.Errorf("FindID() error = %v, want ErrNotFound", err)
	}
}

func TestFindID_PathTraversal(t *testing.T) {
	store := NewStore(t.TempDir())
	ctx := context.Background()

	testCases := []string{
		"../etc/passwd",
		"../../secret",
		"..\\..\\windows\\system32",
		"/etc/passwd",
		"C:\\Windows\\System32",
		"..",
	}

	for _, id := range testCases {
		t.Run(id, func(t *testing.T) {
			if _, err := store.FindID(ctx, id); err == nil {
				t.Error("FindID() should fail for path traversal attempt")
			}
			if err := store.ReplaceContent(ctx, id, "x"); err == nil {
				t.Error("ReplaceContent() should fail for path traversal attempt")
			}
		})
	}
}

func TestReplaceContent_Persists(t *testing.T) {
	tempDir := t.TempDir()
	ctx := context.Background()

	store1 := NewStore(tempDir)
	id, err := store1.Create(ctx, &core.Document{Content: "v1", OwnerID: "alice"})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if err := store1.ReplaceContent(ctx, id, "v2 世界\nline"); err != nil {
		t.Fatalf("ReplaceContent() failed: %v", err)
	}

	// A new store over the same directory sees the replaced content.
	store2 := NewStore(tempDir)
	content, err := store2.FetchContent(ctx, id)
	if err != nil {
		t.Fatalf("FetchContent() failed: %v", err)
	}
	if content != "v2 世界\nline" {
		t.Errorf("FetchContent() = %q", content)
	}

	if err := store2.ReplaceContent(ctx, "missing", "x"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("ReplaceContent() on missing document = %v, want ErrNotFound", err)
	}
}

func TestShares(t *testing.T) {
	store := NewStore(t.TempDir())
	ctx := context.Background()
	a, _ := store.Create(ctx, &core.Document{OwnerID: "alice"})
	b, _ := store.Create(ctx, &core.Document{OwnerID: "alice"})

	for _, share := range []*core.Share{
		{DocumentID: b, UserID: "bob", Permission: core.PermissionEditor},
		{DocumentID: a, UserID: "bob", Permission: core.PermissionViewer},
		{DocumentID: a, UserID: "carol", Permission: core.PermissionEditor},
	} {
		if err := store.Share(ctx, share); err != nil {
			t.Fatalf("Share() failed: %v", err)
		}
	}

	share, err := store.FindShare(ctx, a, "bob")
	if err != nil {
		t.Fatalf("FindShare() failed: %v", err)
	}
	if share.Permission != core.PermissionViewer {
		t.Errorf("Permission = %s, want viewer", share.Permission)
	}
	if _, err := store.FindShare(ctx, b, "carol"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("FindShare() = %v, want ErrNotFound", err)
	}

	shares, err := store.ListShared(ctx, "bob")
	if err != nil {
		t.Fatalf("ListShared() failed: %v", err)
	}
	if len(shares) != 2 || shares[0].DocumentID != a || shares[1].DocumentID != b {
		t.Errorf("Unexpected shares for bob: %+v", shares)
	}

	if err := store.Share(ctx, &core.Share{DocumentID: "missing", UserID: "bob", Permission: core.PermissionViewer}); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Share() on missing document = %v, want ErrNotFound", err)
	}
}

func TestConcurrentReplace(t *testing.T) {
	store := NewStore(t.TempDir())
	ctx := context.Background()
	id, _ := store.Create(ctx, &core.Document{OwnerID: "alice"})

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 25; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			if err := store.ReplaceContent(ctx, id, strings.Repeat("x", i)); err != nil {
				errs <- err
			}
		}(i)
		go func() {
			defer wg.Done()
			if _, err := store.FetchContent(ctx, id); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("Concurrent operation failed: %v", err)
	}
}

func TestReadOnlyDirectory(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("Skipping test when running as root")
	}

	tempDir := t.TempDir()
	store := NewStore(tempDir)
	docs := filepath.Join(tempDir, documentsDir)
	if err := os.Chmod(docs, 0555); err != nil {
		t.Fatalf("Chmod() failed: %v", err)
	}
	defer os.Chmod(docs, 0755)

	if _, err := store.Create(context.Background(), &core.Document{OwnerID: "alice"}); err == nil {
		t.Error("Create() should fail on read-only directory")
	}
}

func TestUpdate_Persists(t *testing.T) {
	tempDir := t.TempDir()
	ctx := context.Background()
	store := NewStore(tempDir)
	id, _ := store.Create(ctx, &core.Document{Title: "Draft", Content: "v1", OwnerID: "alice"})

	title, content := "Final", "v2"
	doc, err := store.Update(ctx, id, core.DocumentUpdate{Title: &title, Content: &content})
	if err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	if doc.Title != "Final" || doc.Content != "v2" || doc.OwnerID != "alice" {
		t.Errorf("Unexpected updated document: %+v", doc)
	}

	reopened, err := NewStore(tempDir).FindID(ctx, id)
	if err != nil {
		t.Fatalf("FindID() failed: %v", err)
	}
	if reopened.Title != "Final" || reopened.Content != "v2" {
		t.Errorf("Update was not persisted: %+v", reopened)
	}

	if _, err := store.Update(ctx, "../escape", core.DocumentUpdate{Title: &title}); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Update() with traversal ID = %v, want ErrNotFound", err)
	}
}

func TestDelete_RemovesFiles(t *testing.T) {
	tempDir := t.TempDir()
	ctx := context.Background()
	store := NewStore(tempDir)
	id, _ := store.Create(ctx, &core.Document{Content: "v1", OwnerID: "alice"})
	_ = store.Share(ctx, &core.Share{DocumentID: id, UserID: "bob", Permission: core.PermissionViewer})

	if err := store.Delete(ctx, id); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	for _, dir := range []string{documentsDir, sharesDir} {
		if _, err := os.Stat(filepath.Join(tempDir, dir, id+".json")); !os.IsNotExist(err) {
			t.Errorf("Expected %s file to be removed, stat error: %v", dir, err)
		}
	}
	if err := store.Delete(ctx, id); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("second Delete() = %v, want ErrNotFound", err)
	}
}

func TestListOwned(t *testing.T) {
	store := NewStore(t.TempDir())
	ctx := context.Background()
	first, _ := store.Create(ctx, &core.Document{Title: "a", OwnerID: "alice"})
	second, _ := store.Create(ctx, &core.Document{Title: "b", OwnerID: "alice"})
	_, _ = store.Create(ctx, &core.Document{Title: "c", OwnerID: "bob"})

	docs, err := store.ListOwned(ctx, "alice")
	if err != nil {
		t.Fatalf("ListOwned() failed: %v", err)
	}
	if len(docs) != 2 || docs[0].ID != first || docs[1].ID != second {
		t.Errorf("ListOwned() returned %d documents, want [%s %s]", len(docs), first, second)
	}
}
