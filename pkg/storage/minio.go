// Package storage archives fetched datapackages to object storage (MinIO).
package storage

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"cfdb/internal/config"
	"cfdb/pkg/log"
)

// MinioClient is the global MinIO client; nil when archiving is disabled.
var MinioClient *minio.Client

var bucketName string

// InitMinIO initializes the client and ensures the archive bucket exists.
// An empty endpoint disables archiving.
func InitMinIO(cfg config.MinIOConfig) {
	if cfg.Endpoint == "" {
		log.Info("MinIO archiving disabled (no endpoint configured)")
		return
	}

	var err error
	MinioClient, err = minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		log.Fatal("failed to initialize MinIO client", err)
	}
	bucketName = cfg.BucketName

	ctx := context.Background()
	exists, err := MinioClient.BucketExists(ctx, bucketName)
	if err != nil {
		log.Fatal("failed to check MinIO bucket", err)
	}
	if !exists {
		log.Infof("bucket '%s' does not exist, creating...", bucketName)
		if err := MinioClient.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{}); err != nil {
			log.Fatal("failed to create MinIO bucket", err)
		}
		log.Infof("bucket '%s' created", bucketName)
	}

	log.Info("MinIO client initialized successfully")
}

// ArchiveDatapackage stores a fetched datapackage payload under
// datapackages/{submission}/{timestamp}.json. A disabled client is a no-op.
func ArchiveDatapackage(ctx context.Context, submission string, payload []byte) error {
	if MinioClient == nil {
		return nil
	}
	objectName := fmt.Sprintf("datapackages/%s/%s.json", submission, time.Now().UTC().Format("20060102T150405Z"))
	_, err := MinioClient.PutObject(ctx, bucketName, objectName,
		bytes.NewReader(payload), int64(len(payload)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("archiving datapackage for %s: %w", submission, err)
	}
	log.Infof("archived datapackage for %s as %s", submission, objectName)
	return nil
}
