package stores

import (
	"collab-docs/config"
	"collab-docs/core"
	"collab-docs/stores/aws"
	"collab-docs/stores/filesystem"
	"collab-docs/stores/memory"
	"collab-docs/stores/mongo"
	"collab-docs/stores/redis"
	"collab-docs/stores/sqlite"
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Store is a union interface that includes all store types.
type Store interface {
	core.DocumentStore
	core.DocumentRepository
}

// GetStore builds the backend named by cfg.StorageType.
func GetStore(ctx context.Context, cfg *config.Config) (Store, error) {
	var store Store

	storageField := logrus.Fields{
		"storageType": cfg.StorageType,
	}

	switch cfg.StorageType {
	case "filesystem":
		storageField["basePath"] = cfg.LocalStoragePath
		store = filesystem.NewStore(cfg.LocalStoragePath)
	case "sqlite":
		storageField["dataSourceName"] = cfg.DataSourceName
		store = sqlite.NewStore(cfg.DataSourceName)
	case "s3":
		if cfg.S3BucketName == "" {
			return nil, fmt.Errorf("S3_BUCKET_NAME environment variable must be set for s3 storage type")
		}
		storageField["bucketName"] = cfg.S3BucketName
		store = aws.NewStore(cfg.S3BucketName)
	case "mongo":
		storageField["database"] = cfg.MongoDatabase
		s, err := mongo.NewStore(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		store = s
	case "redis":
		storageField["keyPrefix"] = cfg.RedisKeyPrefix
		s, err := redis.NewStore(ctx, cfg.RedisURL, cfg.RedisKeyPrefix)
		if err != nil {
			return nil, err
		}
		store = s
	default:
		store = memory.NewStore()
		storageField["storageType"] = "in-memory"
	}
	logrus.WithFields(storageField).Info("Use storage")
	return store, nil
}
