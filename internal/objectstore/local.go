package objectstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Local serves objects from a directory tree, used for development and the CLI.
type Local struct {
	root       string
	scratchDir string
	logger     *slog.Logger
}

func NewLocal(root, scratchDir string, logger *slog.Logger) *Local {
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{root: root, scratchDir: scratchDir, logger: logger}
}

func (l *Local) Download(ctx context.Context, storagePath string) (string, error) {
	src, err := l.resolve(storagePath)
	if err != nil {
		return "", err
	}
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open object %s: %w", storagePath, err)
	}
	defer in.Close()

	local, err := scratchFile(l.scratchDir, storagePath)
	if err != nil {
		return "", err
	}
	out, err := os.OpenFile(local, os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		l.Release(local)
		return "", fmt.Errorf("open scratch file: %w", err)
	}
	if _, err := io.Copy(out, &ctxReader{ctx: ctx, r: in}); err != nil {
		_ = out.Close()
		l.Release(local)
		return "", fmt.Errorf("copy object %s: %w", storagePath, err)
	}
	if err := out.Close(); err != nil {
		l.Release(local)
		return "", fmt.Errorf("close scratch file: %w", err)
	}
	return local, nil
}

func (l *Local) Release(localPath string) {
	release(l.logger, localPath)
}

// resolve keeps storagePath inside root.
func (l *Local) resolve(storagePath string) (string, error) {
	if l.root == "" {
		return filepath.Clean(storagePath), nil
	}
	root, err := filepath.Abs(l.root)
	if err != nil {
		return "", fmt.Errorf("resolve store root: %w", err)
	}
	p := filepath.Join(root, filepath.FromSlash(strings.TrimPrefix(storagePath, "/")))
	if p != root && !strings.HasPrefix(p, root+string(filepath.Separator)) {
		return "", fmt.Errorf("storage path %q escapes store root", storagePath)
	}
	return p, nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
