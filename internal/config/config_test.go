package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DOCQA_CHUNK_SIZE", "")
	cfg, err := LoadFile("")
	require.NoError(t, err)
	require.Equal(t, 512, cfg.ChunkSize)
	require.Equal(t, 50, cfg.ChunkOverlap)
	require.Equal(t, 2, cfg.IngestConcurrency)
	require.Equal(t, "gpt-4o", cfg.LLMModel)
	require.InDelta(t, 0.3, cfg.SearchThreshold, 1e-9)
}

func TestLoadFileThenEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docqa.yaml")
	require.NoError(t, os.WriteFile(path, []byte("chunk_size: 256\nllm_model: claude-3-5-sonnet-latest\nminio_secure: true\n"), 0o644))
	t.Setenv("DOCQA_LLM_MODEL", "gpt-4o-mini")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, 256, cfg.ChunkSize)
	require.Equal(t, "gpt-4o-mini", cfg.LLMModel)
	require.True(t, cfg.MinIOSecure)
	require.Equal(t, "docqa-ingest", cfg.TemporalTaskQueue)
}

func TestLoadRejectsOverlapAtChunkSize(t *testing.T) {
	t.Setenv("DOCQA_CHUNK_SIZE", "100")
	t.Setenv("DOCQA_CHUNK_OVERLAP", "100")
	_, err := LoadFile("")
	require.Error(t, err)
}

func TestMalformedEnvFallsBack(t *testing.T) {
	t.Setenv("DOCQA_SEARCH_LIMIT", "many")
	cfg, err := LoadFile("")
	require.NoError(t, err)
	require.Equal(t, 15, cfg.SearchLimit)
}

func TestSlogLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, Config{LogLevel: "DEBUG"}.SlogLevel())
	require.Equal(t, slog.LevelInfo, Config{}.SlogLevel())
}
