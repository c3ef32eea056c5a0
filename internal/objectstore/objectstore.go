// Package objectstore fetches uploaded documents into local scratch files so
// the format parsers can work on ordinary paths.
package objectstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"docqa/internal/config"
	"docqa/internal/util"
)

const scratchPrefix = "docqa_ingest_"

// Store downloads an object to a scratch file. Callers must Release the
// returned path on every exit path.
type Store interface {
	Download(ctx context.Context, storagePath string) (string, error)
	Release(localPath string)
}

// New builds the store selected by cfg.ObjectStore ("minio" or "local").
func New(cfg config.Config, logger *slog.Logger) (Store, error) {
	switch cfg.ObjectStore {
	case "minio":
		return NewMinIO(MinIOOptions{
			Endpoint:   cfg.MinIOEndpoint,
			AccessKey:  cfg.MinIOAccessKey,
			SecretKey:  cfg.MinIOSecretKey,
			Bucket:     cfg.MinIOBucket,
			Secure:     cfg.MinIOSecure,
			ScratchDir: cfg.ScratchDir,
		}, logger)
	case "", "local":
		return NewLocal(cfg.LocalStoreRoot, cfg.ScratchDir, logger), nil
	default:
		return nil, fmt.Errorf("unknown object store %q", cfg.ObjectStore)
	}
}

// scratchFile reserves an empty temp file whose suffix matches the object's
// extension, since parsers are chosen by extension.
func scratchFile(dir, storagePath string) (string, error) {
	if dir != "" {
		if err := util.EnsureDir(dir); err != nil {
			return "", err
		}
	}
	f, err := os.CreateTemp(dir, scratchPrefix+"*"+filepath.Ext(storagePath))
	if err != nil {
		return "", fmt.Errorf("create scratch file: %w", err)
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return "", fmt.Errorf("close scratch file: %w", err)
	}
	return name, nil
}

func release(logger *slog.Logger, localPath string) {
	if localPath == "" {
		return
	}
	if err := os.Remove(localPath); err != nil && !os.IsNotExist(err) {
		logger.Warn("could not remove scratch file", "path", localPath, "error", err)
		return
	}
	logger.Debug("released scratch file", "path", localPath)
}
