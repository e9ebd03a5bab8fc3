package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONFIG_PATH", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "EleutherAI/polyglot-ko-1.3b", cfg.Model.Name)
	require.Equal(t, "models/cache", cfg.Model.CacheDir)
	require.Equal(t, "left", cfg.Model.PaddingSide)
	require.Equal(t, 1024, cfg.Model.MaxTokenLength)
	require.True(t, cfg.Model.TrustRemoteCode)
	require.True(t, cfg.Model.LocalFilesOnly)
	require.False(t, cfg.Model.Concurrent)
	require.Equal(t, WeightsSourceHub, cfg.Weights.Source)
	require.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
model:
  cacheDir: /var/cache/models
  reuseLoadedModel: true
weights:
  source: s3
  s3:
    endpoint: http://minio:9000
    bucket: weights
inference:
  timeout: 90s
auth:
  tokenTtl: 2h
`), 0o600))
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("MODEL_DEVICE", "cpu")
	t.Setenv("HTTP_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("MODEL_CONCURRENT", "true")
	t.Setenv("WEIGHTS_RANK_FILE_DIR", "/opt/tiktoken")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "/var/cache/models", cfg.Model.CacheDir)
	require.True(t, cfg.Model.ReuseLoadedModel)
	require.True(t, cfg.Model.Concurrent)
	require.Equal(t, "cpu", cfg.Model.Device)
	require.Equal(t, WeightsSourceS3, cfg.Weights.Source)
	require.Equal(t, "models", cfg.Weights.S3.Prefix)
	require.Equal(t, 90*time.Second, cfg.Inference.Timeout)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.HTTP.CORS.AllowedOrigins)
	require.Equal(t, 2*time.Hour, cfg.Auth.TokenTTL)
	require.Equal(t, "/opt/tiktoken", cfg.Weights.RankFileDir)
}

func TestLoadAuthTokenTTLFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("AUTH_TOKEN_TTL", "15m")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 15*time.Minute, cfg.Auth.TokenTTL)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"padding":       func(c *Config) { c.Model.PaddingSide = "center" },
		"budget":        func(c *Config) { c.Scoring.MaxNewTokens = c.Model.MaxTokenLength },
		"s3 bucket":     func(c *Config) { c.Weights.Source = WeightsSourceS3 },
		"unknown":       func(c *Config) { c.Weights.Source = "ftp" },
		"valkey addr":   func(c *Config) { c.Valkey.Enabled = true },
		"rate limit":    func(c *Config) { c.HTTP.RateLimit.Burst = 0 },
		"empty cache":   func(c *Config) { c.Model.CacheDir = " " },
		"memory limit":  func(c *Config) { c.History.MemoryLimit = -1 },
		"empty address": func(c *Config) { c.HTTP.Address = "" },
		"token ttl":     func(c *Config) { c.Auth.TokenTTL = -time.Minute },
	}
	for name, mutate := range cases {
		cfg := defaultConfig()
		mutate(cfg)
		require.Error(t, cfg.Validate(), name)
	}
	require.NoError(t, defaultConfig().Validate())
}
