package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config aggregates runtime configuration used across the service.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Model     ModelConfig     `yaml:"model"`
	Scoring   ScoringConfig   `yaml:"scoring"`
	Inference InferenceConfig `yaml:"inference"`
	Weights   WeightsConfig   `yaml:"weights"`
	Valkey    ValkeyConfig    `yaml:"valkey"`
	History   HistoryConfig   `yaml:"history"`
	Auth      AuthConfig      `yaml:"auth"`
}

// HTTPConfig controls server level behavior.
type HTTPConfig struct {
	Address      string          `yaml:"address"`
	ReadTimeout  time.Duration   `yaml:"readTimeout"`
	WriteTimeout time.Duration   `yaml:"writeTimeout"`
	RateLimit    RateLimitConfig `yaml:"rateLimit"`
	CORS         CORSConfig      `yaml:"cors"`
}

// RateLimitConfig drives the request limiting middleware.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requestsPerMinute"`
	Burst             int  `yaml:"burst"`
}

// CORSConfig lists the browser origins allowed to call the API. Empty allows any.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

// ModelConfig is the fixed pretrained model setup.
type ModelConfig struct {
	Name             string `yaml:"name"`
	TrustRemoteCode  bool   `yaml:"trustRemoteCode"`
	LocalFilesOnly   bool   `yaml:"localFilesOnly"`
	PaddingSide      string `yaml:"paddingSide"`
	MaxTokenLength   int    `yaml:"maxTokenLength"`
	CacheDir         string `yaml:"cacheDir"`
	Device           string `yaml:"device"`
	Concurrent       bool   `yaml:"concurrent"`
	ReuseLoadedModel bool   `yaml:"reuseLoadedModel"`
}

// ScoringConfig shapes the prompt and the generation budget.
type ScoringConfig struct {
	Template     string   `yaml:"template"`
	ScoreCue     string   `yaml:"scoreCue"`
	MaxNewTokens int      `yaml:"maxNewTokens"`
	Temperature  float32  `yaml:"temperature"`
	MaxScore     float64  `yaml:"maxScore"`
	Stop         []string `yaml:"stop"`
}

// InferenceConfig points at the OpenAI compatible completion server.
type InferenceConfig struct {
	BaseURL string        `yaml:"baseUrl"`
	APIKey  string        `yaml:"apiKey"`
	Timeout time.Duration `yaml:"timeout"`
}

// WeightsConfig selects where model snapshots are downloaded from.
type WeightsConfig struct {
	Source      string        `yaml:"source"`
	LockTimeout time.Duration `yaml:"lockTimeout"`
	LockTTL     time.Duration `yaml:"lockTtl"`
	// RankFileDir holds pre-fetched tokenizer rank files for offline installs.
	RankFileDir string    `yaml:"rankFileDir"`
	Hub         HubConfig `yaml:"hub"`
	S3          S3Config  `yaml:"s3"`
}

// HubConfig configures the Hugging Face compatible hub.
type HubConfig struct {
	BaseURL string `yaml:"baseUrl"`
	Token   string `yaml:"token"`
}

// S3Config configures the S3 compatible weights mirror.
type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Prefix    string `yaml:"prefix"`
}

// ValkeyConfig enables the cross-replica download lock.
type ValkeyConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Prefix  string `yaml:"prefix"`
}

// HistoryConfig selects the score history backend.
type HistoryConfig struct {
	MemoryLimit int            `yaml:"memoryLimit"`
	Postgres    PostgresConfig `yaml:"postgres"`
}

// PostgresConfig contains DSN and pooling settings.
type PostgresConfig struct {
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"maxConns"`
	MinConns int32  `yaml:"minConns"`
}

// AuthConfig enables bearer token checks on the API when a secret is set.
type AuthConfig struct {
	Secret   string        `yaml:"secret"`
	Issuer   string        `yaml:"issuer"`
	TokenTTL time.Duration `yaml:"tokenTtl"`
}

const (
	WeightsSourceHub = "hub"
	WeightsSourceS3  = "s3"
)

// Load reads configuration from a YAML file and environment variables.
func Load() (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := hydrateFromFile(cfg, path); err != nil {
			return nil, err
		}
	} else if _, err := os.Stat("configs/config.yaml"); err == nil {
		if err := hydrateFromFile(cfg, "configs/config.yaml"); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func hydrateFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HTTP_ADDRESS"); v != "" {
		cfg.HTTP.Address = v
	}
	if v := os.Getenv("HTTP_RATE_LIMIT_ENABLED"); v != "" {
		cfg.HTTP.RateLimit.Enabled = parseBool(v)
	}
	if v := os.Getenv("HTTP_RATE_LIMIT_RPM"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.RateLimit.RequestsPerMinute = parsed
		}
	}
	if v := os.Getenv("HTTP_RATE_LIMIT_BURST"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.RateLimit.Burst = parsed
		}
	}
	if v := os.Getenv("HTTP_CORS_ORIGINS"); v != "" {
		cfg.HTTP.CORS.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("MODEL_NAME"); v != "" {
		cfg.Model.Name = v
	}
	if v := os.Getenv("MODEL_TRUST_REMOTE_CODE"); v != "" {
		cfg.Model.TrustRemoteCode = parseBool(v)
	}
	if v := os.Getenv("MODEL_LOCAL_FILES_ONLY"); v != "" {
		cfg.Model.LocalFilesOnly = parseBool(v)
	}
	if v := os.Getenv("MODEL_CACHE_DIR"); v != "" {
		cfg.Model.CacheDir = v
	}
	if v := os.Getenv("MODEL_DEVICE"); v != "" {
		cfg.Model.Device = v
	}
	if v := os.Getenv("MODEL_MAX_TOKEN_LENGTH"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Model.MaxTokenLength = parsed
		}
	}
	if v := os.Getenv("MODEL_CONCURRENT"); v != "" {
		cfg.Model.Concurrent = parseBool(v)
	}
	if v := os.Getenv("MODEL_REUSE_LOADED"); v != "" {
		cfg.Model.ReuseLoadedModel = parseBool(v)
	}
	if v := os.Getenv("SCORING_MAX_NEW_TOKENS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Scoring.MaxNewTokens = parsed
		}
	}
	if v := os.Getenv("SCORING_TEMPERATURE"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 32); err == nil {
			cfg.Scoring.Temperature = float32(parsed)
		}
	}
	if v := os.Getenv("INFERENCE_BASE_URL"); v != "" {
		cfg.Inference.BaseURL = v
	}
	if v := os.Getenv("INFERENCE_API_KEY"); v != "" {
		cfg.Inference.APIKey = v
	}
	if v := os.Getenv("INFERENCE_TIMEOUT"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.Inference.Timeout = parsed
		}
	}
	if v := os.Getenv("WEIGHTS_SOURCE"); v != "" {
		cfg.Weights.Source = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("HF_ENDPOINT"); v != "" {
		cfg.Weights.Hub.BaseURL = v
	}
	if v := os.Getenv("HF_TOKEN"); v != "" {
		cfg.Weights.Hub.Token = v
	}
	if v := os.Getenv("WEIGHTS_S3_ENDPOINT"); v != "" {
		cfg.Weights.S3.Endpoint = v
	}
	if v := os.Getenv("WEIGHTS_S3_ACCESS_KEY"); v != "" {
		cfg.Weights.S3.AccessKey = v
	}
	if v := os.Getenv("WEIGHTS_S3_SECRET_KEY"); v != "" {
		cfg.Weights.S3.SecretKey = v
	}
	if v := os.Getenv("WEIGHTS_S3_BUCKET"); v != "" {
		cfg.Weights.S3.Bucket = v
	}
	if v := os.Getenv("WEIGHTS_S3_REGION"); v != "" {
		cfg.Weights.S3.Region = v
	}
	if v := os.Getenv("WEIGHTS_S3_PREFIX"); v != "" {
		cfg.Weights.S3.Prefix = v
	}
	if v := os.Getenv("VALKEY_ENABLED"); v != "" {
		cfg.Valkey.Enabled = parseBool(v)
	}
	if v := os.Getenv("VALKEY_ADDR"); v != "" {
		cfg.Valkey.Addr = v
	}
	if v := os.Getenv("HISTORY_POSTGRES_DSN"); v != "" {
		cfg.History.Postgres.DSN = v
	}
	if v := os.Getenv("HISTORY_POSTGRES_MAX_CONNS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.History.Postgres.MaxConns = int32(parsed)
		}
	}
	if v := os.Getenv("WEIGHTS_RANK_FILE_DIR"); v != "" {
		cfg.Weights.RankFileDir = v
	}
	if v := os.Getenv("AUTH_JWT_SECRET"); v != "" {
		cfg.Auth.Secret = v
	}
	if v := os.Getenv("AUTH_TOKEN_TTL"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.Auth.TokenTTL = parsed
		}
	}
}

func parseBool(v string) bool {
	return v == "1" || strings.EqualFold(v, "true")
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func defaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Minute,
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 30,
				Burst:             5,
			},
		},
		Model: ModelConfig{
			Name:            "EleutherAI/polyglot-ko-1.3b",
			TrustRemoteCode: true,
			LocalFilesOnly:  true,
			PaddingSide:     "left",
			MaxTokenLength:  1024,
			CacheDir:        "models/cache",
			Device:          "auto",
		},
		Scoring: ScoringConfig{
			MaxNewTokens: 64,
			Temperature:  0.2,
			MaxScore:     100,
			Stop:         []string{"###"},
		},
		Inference: InferenceConfig{
			BaseURL: "http://127.0.0.1:8000/v1",
			Timeout: 60 * time.Second,
		},
		Weights: WeightsConfig{
			Source:      WeightsSourceHub,
			LockTimeout: 10 * time.Minute,
			LockTTL:     30 * time.Minute,
			S3: S3Config{
				Prefix: "models",
			},
		},
		Valkey: ValkeyConfig{
			Prefix: "polyglot-score",
		},
		History: HistoryConfig{
			MemoryLimit: 1000,
			Postgres: PostgresConfig{
				MaxConns: 4,
			},
		},
		Auth: AuthConfig{
			TokenTTL: 24 * time.Hour,
		},
	}
}

// Validate ensures the configuration is safe to use.
func (c *Config) Validate() error {
	if c.HTTP.Address == "" {
		return errors.New("http.address cannot be empty")
	}
	if c.HTTP.RateLimit.Enabled {
		if c.HTTP.RateLimit.RequestsPerMinute <= 0 {
			return errors.New("http.rateLimit.requestsPerMinute must be positive")
		}
		if c.HTTP.RateLimit.Burst <= 0 {
			return errors.New("http.rateLimit.burst must be positive")
		}
	}
	if strings.TrimSpace(c.Model.Name) == "" {
		return errors.New("model.name cannot be empty")
	}
	if strings.TrimSpace(c.Model.CacheDir) == "" {
		return errors.New("model.cacheDir cannot be empty")
	}
	if c.Model.PaddingSide != "left" && c.Model.PaddingSide != "right" {
		return errors.New("model.paddingSide must be left or right")
	}
	if c.Model.MaxTokenLength <= 0 {
		return errors.New("model.maxTokenLength must be positive")
	}
	if c.Scoring.MaxNewTokens <= 0 {
		return errors.New("scoring.maxNewTokens must be positive")
	}
	if c.Scoring.MaxNewTokens >= c.Model.MaxTokenLength {
		return errors.New("scoring.maxNewTokens must be below model.maxTokenLength")
	}
	if c.Scoring.MaxScore <= 0 {
		return errors.New("scoring.maxScore must be positive")
	}
	if strings.TrimSpace(c.Inference.BaseURL) == "" {
		return errors.New("inference.baseUrl cannot be empty")
	}
	switch c.Weights.Source {
	case WeightsSourceHub:
	case WeightsSourceS3:
		if strings.TrimSpace(c.Weights.S3.Endpoint) == "" || strings.TrimSpace(c.Weights.S3.Bucket) == "" {
			return errors.New("weights.s3.endpoint and weights.s3.bucket are required for the s3 source")
		}
	default:
		return fmt.Errorf("weights.source %q must be hub or s3", c.Weights.Source)
	}
	if c.Valkey.Enabled && strings.TrimSpace(c.Valkey.Addr) == "" {
		return errors.New("valkey.addr cannot be empty when valkey is enabled")
	}
	if c.History.MemoryLimit < 0 {
		return errors.New("history.memoryLimit cannot be negative")
	}
	if c.Auth.TokenTTL < 0 {
		return errors.New("auth.tokenTtl cannot be negative")
	}
	return nil
}
