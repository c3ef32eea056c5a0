package objectstore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type MinIOOptions struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	Bucket     string
	Secure     bool
	ScratchDir string
}

// MinIO reads objects from a single bucket; storage paths are object keys.
type MinIO struct {
	client     *minio.Client
	bucket     string
	scratchDir string
	logger     *slog.Logger
}

func NewMinIO(opts MinIOOptions, logger *slog.Logger) (*MinIO, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(opts.Endpoint) == "" || strings.TrimSpace(opts.Bucket) == "" {
		return nil, fmt.Errorf("minio endpoint and bucket are required")
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &MinIO{client: client, bucket: opts.Bucket, scratchDir: opts.ScratchDir, logger: logger}, nil
}

func (m *MinIO) Download(ctx context.Context, storagePath string) (string, error) {
	key := strings.TrimPrefix(storagePath, "/")
	local, err := scratchFile(m.scratchDir, key)
	if err != nil {
		return "", err
	}
	m.logger.Info("downloading object", "bucket", m.bucket, "key", key, "path", local)
	if err := m.client.FGetObject(ctx, m.bucket, key, local, minio.GetObjectOptions{}); err != nil {
		m.Release(local)
		return "", fmt.Errorf("download %s/%s: %w", m.bucket, key, err)
	}
	return local, nil
}

func (m *MinIO) Release(localPath string) {
	release(m.logger, localPath)
}
