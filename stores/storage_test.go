package stores

import (
	"collab-docs/config"
	"collab-docs/core"
	"context"
	"path/filepath"
	"testing"
)

func TestGetStore(t *testing.T) {
	dir := t.TempDir()
	tests := []config.Config{
		{StorageType: "memory"},
		{StorageType: "filesystem", LocalStoragePath: filepath.Join(dir, "fs")},
		{StorageType: "sqlite", DataSourceName: filepath.Join(dir, "collab.db")},
	}

	for _, cfg := range tests {
		t.Run(cfg.StorageType, func(t *testing.T) {
			store, err := GetStore(context.Background(), &cfg)
			if err != nil {
				t.Fatalf("GetStore() failed: %v", err)
			}

			ctx := context.Background()
			id, err := store.Create(ctx, &core.Document{Content: "v1", OwnerID: "alice"})
			if err != nil {
				t.Fatalf("Create() failed: %v", err)
			}
			if err := store.ReplaceContent(ctx, id, "v2"); err != nil {
				t.Fatalf("ReplaceContent() failed: %v", err)
			}
			if content, _ := store.FetchContent(ctx, id); content != "v2" {
				t.Errorf("FetchContent() = %q, want v2", content)
			}
		})
	}
}

func TestGetStore_S3RequiresBucket(t *testing.T) {
	if _, err := GetStore(context.Background(), &config.Config{StorageType: "s3"}); err == nil {
		t.Error("GetStore() should fail without a bucket")
	}
}
