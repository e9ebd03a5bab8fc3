package bootstrap

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yanqian/polyglot-score/internal/infra/config"
	"github.com/yanqian/polyglot-score/internal/infra/downloadlock"
	"github.com/yanqian/polyglot-score/internal/infra/scorelog"
	"github.com/yanqian/polyglot-score/internal/infra/weights"
)

func TestProvideScoreConfigMapsModelSection(t *testing.T) {
	cfg := &config.Config{Model: config.ModelConfig{
		Name:             "EleutherAI/polyglot-ko-1.3b",
		TrustRemoteCode:  true,
		LocalFilesOnly:   true,
		PaddingSide:      "left",
		MaxTokenLength:   1024,
		CacheDir:         "models/cache",
		Device:           "cpu",
		ReuseLoadedModel: true,
	}}
	got := ProvideScoreConfig(cfg)
	require.Equal(t, "EleutherAI/polyglot-ko-1.3b", got.PretrainedModelNameOrPath)
	require.Equal(t, "left", got.PaddingSide)
	require.Equal(t, 1024, got.MaxTokenLength)
	require.True(t, got.ReuseLoadedModel)
	require.False(t, got.Concurrent)
}

func TestProvideFallbacksWithoutBackends(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	res := NewResources()
	cfg := &config.Config{History: config.HistoryConfig{MemoryLimit: 10}}

	require.IsType(t, downloadlock.NoopLock{}, ProvideDownloadLock(cfg, logger, res))
	require.IsType(t, &scorelog.MemoryHistory{}, ProvideScoreHistory(cfg, logger, res))

	cfg.History.Postgres.DSN = "::not a dsn::"
	require.IsType(t, &scorelog.MemoryHistory{}, ProvideScoreHistory(cfg, logger, res))

	source, err := ProvideWeightsSource(cfg, logger)
	require.NoError(t, err)
	require.IsType(t, &weights.HubSource{}, source)
	require.Empty(t, res.closers)
}

func TestBuildValkeyOptions(t *testing.T) {
	opt, err := buildValkeyOptions("localhost:6379")
	require.NoError(t, err)
	require.Equal(t, []string{"localhost:6379"}, opt.InitAddress)

	opt, err = buildValkeyOptions("redis://cache:6380/0")
	require.NoError(t, err)
	require.Equal(t, []string{"cache:6380"}, opt.InitAddress)
}
