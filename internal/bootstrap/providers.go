package bootstrap

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/wire"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/valkey-io/valkey-go"

	"github.com/yanqian/polyglot-score/internal/domain/score"
	"github.com/yanqian/polyglot-score/internal/infra/config"
	"github.com/yanqian/polyglot-score/internal/infra/downloadlock"
	"github.com/yanqian/polyglot-score/internal/infra/llm/textgen"
	"github.com/yanqian/polyglot-score/internal/infra/modelhub"
	"github.com/yanqian/polyglot-score/internal/infra/scorelog"
	"github.com/yanqian/polyglot-score/internal/infra/scorerepo"
	"github.com/yanqian/polyglot-score/internal/infra/weights"
)

// ScoreSet provides the scoring service and everything behind it.
var ScoreSet = wire.NewSet(
	NewResources,
	ProvideScoreConfig,
	ProvideTextgenClient,
	ProvideWeightsSource,
	ProvideDownloadLock,
	ProvideDownloader,
	ProvideScoreRepository,
	ProvideScoreHistory,
	ProvideScoreService,
	modelhub.NewLoader,
	wire.Bind(new(textgen.Completer), new(*textgen.Client)),
	wire.Bind(new(score.ModelLoader), new(*modelhub.Loader)),
)

func ProvideScoreConfig(cfg *config.Config) score.Config {
	return score.Config{
		PretrainedModelNameOrPath: cfg.Model.Name,
		TrustRemoteCode:           cfg.Model.TrustRemoteCode,
		LocalFilesOnly:            cfg.Model.LocalFilesOnly,
		PaddingSide:               cfg.Model.PaddingSide,
		MaxTokenLength:            cfg.Model.MaxTokenLength,
		CacheDir:                  cfg.Model.CacheDir,
		Device:                    cfg.Model.Device,
		Concurrent:                cfg.Model.Concurrent,
		ReuseLoadedModel:          cfg.Model.ReuseLoadedModel,
	}
}

func ProvideTextgenClient(cfg *config.Config) *textgen.Client {
	return textgen.NewClient(cfg.Inference.APIKey, cfg.Inference.BaseURL, cfg.Inference.Timeout)
}

func ProvideWeightsSource(cfg *config.Config, logger *slog.Logger) (modelhub.Source, error) {
	if cfg.Weights.Source == config.WeightsSourceS3 {
		s3 := cfg.Weights.S3
		logger.Info("weights mirror enabled", "endpoint", s3.Endpoint, "bucket", s3.Bucket)
		source, err := weights.NewS3Source(weights.S3Config{
			Endpoint:  s3.Endpoint,
			AccessKey: s3.AccessKey,
			SecretKey: s3.SecretKey,
			Bucket:    s3.Bucket,
			Region:    s3.Region,
			Prefix:    s3.Prefix,
		}, logger)
		if err != nil {
			return nil, err
		}
		return source, nil
	}
	return weights.NewHubSource(cfg.Weights.Hub.BaseURL, cfg.Weights.Hub.Token), nil
}

func ProvideDownloadLock(cfg *config.Config, logger *slog.Logger, res *Resources) modelhub.DistributedLock {
	if !cfg.Valkey.Enabled {
		return downloadlock.NoopLock{}
	}
	opt, err := buildValkeyOptions(cfg.Valkey.Addr)
	if err != nil {
		logger.Error("invalid valkey configuration, download lock is host-local", "error", err)
		return downloadlock.NoopLock{}
	}
	client, err := valkey.NewClient(opt)
	if err != nil {
		logger.Error("failed to create valkey client, download lock is host-local", "error", err)
		return downloadlock.NoopLock{}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		logger.Error("valkey ping failed, download lock is host-local", "error", err)
		client.Close()
		return downloadlock.NoopLock{}
	}
	res.OnClose(client.Close)
	logger.Info("valkey download lock enabled", "addr", cfg.Valkey.Addr)
	return downloadlock.NewValkeyLock(client, cfg.Valkey.Prefix, logger)
}

func buildValkeyOptions(addr string) (valkey.ClientOption, error) {
	if strings.Contains(addr, "://") {
		return valkey.ParseURL(addr)
	}
	return valkey.ClientOption{InitAddress: []string{addr}}, nil
}

func ProvideDownloader(cfg *config.Config, source modelhub.Source, lock modelhub.DistributedLock, logger *slog.Logger) *modelhub.Downloader {
	return modelhub.NewDownloader(modelhub.DownloaderConfig{
		CacheDir:    cfg.Model.CacheDir,
		LockTimeout: cfg.Weights.LockTimeout,
		LockTTL:     cfg.Weights.LockTTL,
		RankFileDir: cfg.Weights.RankFileDir,
	}, source, lock, logger)
}

func ProvideScoreRepository(cfg *config.Config, downloader *modelhub.Downloader, logger *slog.Logger) score.Repository {
	return scorerepo.NewRepository(scorerepo.Config{
		ModelID:      cfg.Model.Name,
		Template:     cfg.Scoring.Template,
		ScoreCue:     cfg.Scoring.ScoreCue,
		MaxNewTokens: cfg.Scoring.MaxNewTokens,
		Temperature:  cfg.Scoring.Temperature,
		MaxScore:     cfg.Scoring.MaxScore,
		Stop:         cfg.Scoring.Stop,
	}, downloader, logger)
}

func ProvideScoreHistory(cfg *config.Config, logger *slog.Logger, res *Resources) score.History {
	fallback := scorelog.NewMemoryHistory(cfg.History.MemoryLimit)
	dsn := strings.TrimSpace(cfg.History.Postgres.DSN)
	if dsn == "" {
		logger.Info("history postgres dsn not set, using memory history")
		return fallback
	}
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		logger.Error("invalid postgres dsn, using memory history", "error", err)
		return fallback
	}
	if cfg.History.Postgres.MaxConns > 0 {
		poolConfig.MaxConns = cfg.History.Postgres.MaxConns
	}
	if cfg.History.Postgres.MinConns > 0 {
		poolConfig.MinConns = cfg.History.Postgres.MinConns
	}
	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		logger.Error("failed to initialize postgres pool, using memory history", "error", err)
		return fallback
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		logger.Error("postgres ping failed, using memory history", "error", err)
		pool.Close()
		return fallback
	}
	history := scorelog.NewPostgresHistory(pool)
	if err := history.EnsureSchema(ctx); err != nil {
		logger.Error("score_batches schema setup failed, using memory history", "error", err)
		pool.Close()
		return fallback
	}
	res.OnClose(pool.Close)
	logger.Info("postgres score history enabled")
	return history
}

// ProvideScoreService returns the process-wide scoring service.
func ProvideScoreService(cfg score.Config, repo score.Repository, loader score.ModelLoader, history score.History, logger *slog.Logger) score.Service {
	return score.GetInstance(cfg, repo, loader, history, logger)
}
