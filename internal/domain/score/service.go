package score

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/yanqian/polyglot-score/pkg/errors"
)

// Service scores batches of interview answers with a shared pretrained model.
type Service interface {
	ScoreUserAnswer(ctx context.Context, interviews ...Interview) (Response, error)
	Batch(ctx context.Context, id uuid.UUID) (Batch, error)
}

var (
	instanceOnce sync.Once
	instance     Service
)

// GetInstance returns the process-wide scoring service, building it on the
// first call. Arguments passed on later calls are ignored.
func GetInstance(cfg Config, repo Repository, loader ModelLoader, history History, logger *slog.Logger) Service {
	instanceOnce.Do(func() {
		instance = NewService(cfg, repo, loader, history, logger)
	})
	return instance
}

type loadedModel struct {
	model     Model
	tokenizer Tokenizer
}

type service struct {
	cfg     Config
	repo    Repository
	loader  ModelLoader
	history History
	logger  *slog.Logger

	now       func() time.Time
	newID     func() uuid.UUID
	dirExists func(path string) bool

	mu     sync.RWMutex
	cached *loadedModel
}

// NewService builds a standalone scoring service. Most callers want GetInstance.
func NewService(cfg Config, repo Repository, loader ModelLoader, history History, logger *slog.Logger) Service {
	return &service{
		cfg:       withDefaults(cfg),
		repo:      repo,
		loader:    loader,
		history:   history,
		logger:    logger.With("component", "score.service"),
		now:       time.Now,
		newID:     uuid.New,
		dirExists: dirExists,
	}
}

func (s *service) ScoreUserAnswer(ctx context.Context, interviews ...Interview) (Response, error) {
	if len(interviews) < InterviewCount {
		return Response{}, apperrors.Wrap("invalid_input", fmt.Sprintf("expected %d interviews, got %d", InterviewCount, len(interviews)), nil)
	}
	if len(interviews) > InterviewCount {
		s.logger.Debug("extra interviews ignored", "received", len(interviews))
		interviews = interviews[:InterviewCount]
	}

	if err := s.ensureModelCache(ctx); err != nil {
		return Response{}, err
	}

	loaded, err := s.loadModel(ctx)
	if err != nil {
		return Response{}, err
	}

	var results []Result
	if s.cfg.Concurrent {
		results, err = s.scoreConcurrently(ctx, interviews, loaded)
	} else {
		results, err = s.scoreSequentially(ctx, interviews, loaded)
	}
	if err != nil {
		return Response{}, err
	}

	s.logger.Info("score results", "resultList", results)

	batch := Batch{
		ID:         s.newID(),
		Model:      s.cfg.PretrainedModelNameOrPath,
		Interviews: append([]Interview(nil), interviews...),
		ResultList: results,
		Usage:      TotalUsage(results),
		CreatedAt:  s.now().UTC(),
	}
	if s.history != nil {
		if err := s.history.Record(ctx, batch); err != nil {
			s.logger.Warn("score history record failed", "batch_id", batch.ID, "error", err)
		}
	}

	return Response{ResultList: results, BatchID: batch.ID}, nil
}

func (s *service) Batch(ctx context.Context, id uuid.UUID) (Batch, error) {
	if s.history == nil {
		return Batch{}, apperrors.Wrap("not_found", "score history disabled", nil)
	}
	batch, found, err := s.history.Get(ctx, id)
	if err != nil {
		return Batch{}, apperrors.Wrap("history_error", "failed to load score batch", err)
	}
	if !found {
		return Batch{}, apperrors.Wrap("not_found", "score batch not found", nil)
	}
	return batch, nil
}

func (s *service) ensureModelCache(ctx context.Context) error {
	if s.dirExists(s.cfg.CacheDir) {
		return nil
	}
	s.logger.Info("model cache missing, downloading pretrained model", "cache_dir", s.cfg.CacheDir, "model", s.cfg.PretrainedModelNameOrPath)
	if err := s.repo.DownloadPretrainedModel(ctx); err != nil {
		return apperrors.Wrap("download_error", "failed to download pretrained model", err)
	}
	return nil
}

func (s *service) loadModel(ctx context.Context) (loadedModel, error) {
	if !s.cfg.ReuseLoadedModel {
		return s.freshModel(ctx)
	}

	s.mu.RLock()
	cached := s.cached
	s.mu.RUnlock()
	if cached != nil {
		return *cached, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached != nil {
		return *s.cached, nil
	}
	loaded, err := s.freshModel(ctx)
	if err != nil {
		return loadedModel{}, err
	}
	s.cached = &loaded
	return loaded, nil
}

func (s *service) freshModel(ctx context.Context) (loadedModel, error) {
	opts := LoadOptions{
		PretrainedModelNameOrPath: s.cfg.PretrainedModelNameOrPath,
		TrustRemoteCode:           s.cfg.TrustRemoteCode,
		CacheDir:                  s.cfg.CacheDir,
		LocalFilesOnly:            s.cfg.LocalFilesOnly,
		Device:                    s.cfg.Device,
	}
	model, err := s.loader.LoadModel(ctx, opts)
	if err != nil {
		return loadedModel{}, apperrors.Wrap("model_load_error", "failed to load model", err)
	}

	opts.PaddingSide = s.cfg.PaddingSide
	tokenizer, err := s.loader.LoadTokenizer(ctx, opts)
	if err != nil {
		return loadedModel{}, apperrors.Wrap("model_load_error", "failed to load tokenizer", err)
	}
	tokenizer.SetPadToken(tokenizer.EOSToken(), tokenizer.EOSTokenID())
	tokenizer.SetModelMaxLength(s.cfg.MaxTokenLength)

	s.logger.Debug("model loaded", "model", model.Name(), "device", model.Device())
	return loadedModel{model: model, tokenizer: tokenizer}, nil
}

func (s *service) scoreSequentially(ctx context.Context, interviews []Interview, loaded loadedModel) ([]Result, error) {
	results := make([]Result, 0, len(interviews))
	for i, iv := range interviews {
		res, err := s.scoreOne(ctx, i, iv, loaded)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (s *service) scoreConcurrently(ctx context.Context, interviews []Interview, loaded loadedModel) ([]Result, error) {
	results := make([]Result, len(interviews))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, iv := range interviews {
		eg.Go(func() error {
			res, err := s.scoreOne(egCtx, i, iv, loaded)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *service) scoreOne(ctx context.Context, index int, iv Interview, loaded loadedModel) (Result, error) {
	res, err := s.repo.ScoreUserAnswer(ctx, iv.Question, iv.Answer, iv.Context, loaded.model, loaded.tokenizer)
	if err != nil {
		return Result{}, apperrors.Wrap("scoring_error", fmt.Sprintf("scoring interview %d failed", index+1), err)
	}
	return res, nil
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	if strings.TrimSpace(cfg.PretrainedModelNameOrPath) == "" {
		cfg.PretrainedModelNameOrPath = def.PretrainedModelNameOrPath
	}
	if cfg.PaddingSide == "" {
		cfg.PaddingSide = def.PaddingSide
	}
	if cfg.MaxTokenLength <= 0 {
		cfg.MaxTokenLength = def.MaxTokenLength
	}
	if strings.TrimSpace(cfg.CacheDir) == "" {
		cfg.CacheDir = def.CacheDir
	}
	if cfg.Device == "" {
		cfg.Device = def.Device
	}
	return cfg
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
