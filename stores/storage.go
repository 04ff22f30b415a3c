package stores

import (
	"context"
	"fmt"

	"cowrite-server/config"
	"cowrite-server/core"
	"cowrite-server/stores/aws"
	"cowrite-server/stores/filesystem"
	"cowrite-server/stores/memory"
	"cowrite-server/stores/redis"
	"cowrite-server/stores/sqlite"

	"github.com/sirupsen/logrus"
)

// GetStore builds the document store selected by cfg.StorageType.
func GetStore(ctx context.Context, cfg config.Config) (core.DocumentStore, error) {
	var store core.DocumentStore
	var err error

	storageField := logrus.Fields{
		"storageType": cfg.StorageType,
	}

	switch cfg.StorageType {
	case "filesystem":
		storageField["basePath"] = cfg.LocalStoragePath
		store, err = filesystem.NewDocumentStore(cfg.LocalStoragePath)
	case "sqlite":
		if !sqlite.CGOEnabled {
			return nil, fmt.Errorf("sqlite storage requires a cgo build")
		}
		storageField["dataSourceName"] = cfg.DataSourceName
		store, err = sqlite.NewDocumentStore(cfg.DataSourceName)
	case "s3":
		storageField["bucketName"] = cfg.S3BucketName
		store, err = aws.NewDocumentStore(ctx, cfg.S3BucketName)
	case "redis":
		storageField["keyPrefix"] = cfg.RedisKeyPrefix
		store, err = redis.NewDocumentStore(cfg.RedisURL, cfg.RedisKeyPrefix)
	case "memory", "":
		store = memory.NewDocumentStore()
		storageField["storageType"] = "in-memory"
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.StorageType)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.StorageType, err)
	}

	logrus.WithFields(storageField).Info("Use storage")
	return store, nil
}
