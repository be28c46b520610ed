// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package archive

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
)

// MirrorConfig points at an S3-compatible bucket.
type MirrorConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Mirror copies finished archive files into an object store. Object keys are
// the file paths relative to the archive root.
type Mirror struct {
	client *minio.Client
	bucket string
	root   string
	logger zerolog.Logger
}

// NewMirror connects to the object store and creates the bucket if missing.
func NewMirror(ctx context.Context, root string, cfg MirrorConfig, logger zerolog.Logger) (*Mirror, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init object store client: %w", err)
	}
	m := &Mirror{client: client, bucket: cfg.Bucket, root: root, logger: logger}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
		logger.Info().Str("bucket", cfg.Bucket).Msg("created mirror bucket")
	}
	return m, nil
}

// ObjectKey maps a local archive path to its object key.
func (m *Mirror) ObjectKey(path string) (string, error) {
	rel, err := filepath.Rel(m.root, path)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s is outside the archive root", path)
	}
	return filepath.ToSlash(rel), nil
}

// Upload copies one finished file.
func (m *Mirror) Upload(ctx context.Context, path string) error {
	key, err := m.ObjectKey(path)
	if err != nil {
		return err
	}
	info, err := m.client.FPutObject(ctx, m.bucket, key, path, minio.PutObjectOptions{
		ContentType: contentType(path),
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	m.logger.Debug().Str("key", key).Int64("size", info.Size).Msg("mirrored archive file")
	return nil
}

func contentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ts":
		return "video/mp2t"
	case ".json":
		return "application/json"
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".txt", ".log":
		return "text/plain; charset=utf-8"
	}
	return "application/octet-stream"
}
