package score

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	apperrors "github.com/yanqian/polyglot-score/pkg/errors"
	"github.com/yanqian/polyglot-score/pkg/metrics"
)

func TestScoreUserAnswerReturnsResultsInOrder(t *testing.T) {
	repo := &stubRepository{}
	loader := &stubLoader{}
	history := newStubHistory()
	svc := newTestService(t, Config{CacheDir: t.TempDir()}, repo, loader, history)

	resp, err := svc.ScoreUserAnswer(context.Background(), fiveInterviews()...)
	require.NoError(t, err)
	require.Len(t, resp.ResultList, InterviewCount)
	for i, res := range resp.ResultList {
		require.Equal(t, fiveInterviews()[i].Question, res.Question)
		require.Equal(t, float64(i+1), res.Score)
	}
	require.Equal(t, []string{"q1", "q2", "q3", "q4", "q5"}, repo.questions())
	require.Equal(t, 0, repo.downloads)

	stored, found, err := history.Get(context.Background(), resp.BatchID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, resp.ResultList, stored.ResultList)
	require.Equal(t, "EleutherAI/polyglot-ko-1.3b", stored.Model)
}

func TestScoreUserAnswerRecordsBatchUsage(t *testing.T) {
	history := newStubHistory()
	svc := newTestService(t, Config{CacheDir: t.TempDir()}, &stubRepository{}, &stubLoader{}, history)

	resp, err := svc.ScoreUserAnswer(context.Background(), fiveInterviews()...)
	require.NoError(t, err)

	stored, found, err := history.Get(context.Background(), resp.BatchID)
	require.NoError(t, err)
	require.True(t, found)
	// q1..q5 report 10n prompt and n completion tokens.
	require.Equal(t, metrics.TokenUsage{PromptTokens: 150, CompletionTokens: 15, TotalTokens: 165}, stored.Usage)
}

func TestScoreUserAnswerDownloadsWhenCacheMissing(t *testing.T) {
	cacheDir := filepath.Join(t.TempDir(), "models", "cache")
	repo := &stubRepository{createDir: cacheDir}
	svc := newTestService(t, Config{CacheDir: cacheDir}, repo, &stubLoader{}, nil)

	_, err := svc.ScoreUserAnswer(context.Background(), fiveInterviews()...)
	require.NoError(t, err)
	require.Equal(t, 1, repo.downloads)
	require.Equal(t, "download", repo.events[0])

	_, err = svc.ScoreUserAnswer(context.Background(), fiveInterviews()...)
	require.NoError(t, err)
	require.Equal(t, 1, repo.downloads)
}

func TestScoreUserAnswerDownloadFailureAborts(t *testing.T) {
	repo := &stubRepository{downloadErr: errors.New("mirror unreachable")}
	loader := &stubLoader{}
	svc := newTestService(t, Config{CacheDir: filepath.Join(t.TempDir(), "missing")}, repo, loader, nil)

	_, err := svc.ScoreUserAnswer(context.Background(), fiveInterviews()...)
	require.Error(t, err)
	require.True(t, apperrors.IsCode(err, "download_error"))
	require.Zero(t, loader.modelLoads)
	require.Empty(t, repo.questions())
}

func TestScoreUserAnswerConfiguresTokenizer(t *testing.T) {
	repo := &stubRepository{}
	loader := &stubLoader{}
	cfg := DefaultConfig()
	cfg.CacheDir = t.TempDir()
	svc := newTestService(t, cfg, repo, loader, nil)

	_, err := svc.ScoreUserAnswer(context.Background(), fiveInterviews()...)
	require.NoError(t, err)

	tok := loader.tokenizers[0]
	require.Equal(t, tok.EOSToken(), tok.PadToken())
	require.Equal(t, tok.EOSTokenID(), tok.PadTokenID())
	require.Equal(t, 1024, tok.ModelMaxLength())
	require.Equal(t, "left", loader.lastOpts.PaddingSide)
	require.True(t, loader.lastOpts.TrustRemoteCode)
	require.True(t, loader.lastOpts.LocalFilesOnly)
	for _, seen := range repo.tokenizers {
		require.Same(t, tok, seen)
	}
}

func TestScoreUserAnswerReloadsModelEveryCall(t *testing.T) {
	loader := &stubLoader{}
	svc := newTestService(t, Config{CacheDir: t.TempDir()}, &stubRepository{}, loader, nil)

	for i := 0; i < 2; i++ {
		_, err := svc.ScoreUserAnswer(context.Background(), fiveInterviews()...)
		require.NoError(t, err)
	}
	require.Equal(t, 2, loader.modelLoads)
	require.Equal(t, 2, loader.tokenizerLoads)
}

func TestScoreUserAnswerReusesModelWhenConfigured(t *testing.T) {
	loader := &stubLoader{}
	svc := newTestService(t, Config{CacheDir: t.TempDir(), ReuseLoadedModel: true}, &stubRepository{}, loader, nil)

	for i := 0; i < 3; i++ {
		_, err := svc.ScoreUserAnswer(context.Background(), fiveInterviews()...)
		require.NoError(t, err)
	}
	require.Equal(t, 1, loader.modelLoads)
	require.Equal(t, 1, loader.tokenizerLoads)
}

func TestScoreUserAnswerRejectsFewerThanFive(t *testing.T) {
	repo := &stubRepository{}
	svc := newTestService(t, Config{CacheDir: t.TempDir()}, repo, &stubLoader{}, nil)

	_, err := svc.ScoreUserAnswer(context.Background(), fiveInterviews()[:4]...)
	require.Error(t, err)
	require.True(t, apperrors.IsCode(err, "invalid_input"))
	require.Empty(t, repo.questions())
}

func TestScoreUserAnswerIgnoresExtraInterviews(t *testing.T) {
	repo := &stubRepository{}
	svc := newTestService(t, Config{CacheDir: t.TempDir()}, repo, &stubLoader{}, nil)

	extra := append(fiveInterviews(), Interview{Question: "q6", Answer: "a6"})
	resp, err := svc.ScoreUserAnswer(context.Background(), extra...)
	require.NoError(t, err)
	require.Len(t, resp.ResultList, InterviewCount)
	require.NotContains(t, repo.questions(), "q6")
}

func TestScoreUserAnswerPropagatesScoringFailure(t *testing.T) {
	repo := &stubRepository{failAt: "q3"}
	history := newStubHistory()
	svc := newTestService(t, Config{CacheDir: t.TempDir()}, repo, &stubLoader{}, history)

	resp, err := svc.ScoreUserAnswer(context.Background(), fiveInterviews()...)
	require.Error(t, err)
	require.True(t, apperrors.IsCode(err, "scoring_error"))
	require.Contains(t, err.Error(), "interview 3")
	require.Nil(t, resp.ResultList)
	require.Equal(t, []string{"q1", "q2", "q3"}, repo.questions())
	require.Empty(t, history.batches)
}

func TestScoreUserAnswerConcurrentKeepsOrder(t *testing.T) {
	repo := &stubRepository{delay: func(q string) time.Duration {
		if q == "q1" {
			return 20 * time.Millisecond
		}
		return 0
	}}
	svc := newTestService(t, Config{CacheDir: t.TempDir(), Concurrent: true}, repo, &stubLoader{}, nil)

	resp, err := svc.ScoreUserAnswer(context.Background(), fiveInterviews()...)
	require.NoError(t, err)
	for i, res := range resp.ResultList {
		require.Equal(t, fiveInterviews()[i].Question, res.Question)
	}
}

func TestScoreUserAnswerConcurrentFailureDropsResults(t *testing.T) {
	repo := &stubRepository{failAt: "q5"}
	svc := newTestService(t, Config{CacheDir: t.TempDir(), Concurrent: true}, repo, &stubLoader{}, nil)

	resp, err := svc.ScoreUserAnswer(context.Background(), fiveInterviews()...)
	require.Error(t, err)
	require.Nil(t, resp.ResultList)
}

func TestScoreUserAnswerModelLoadFailure(t *testing.T) {
	repo := &stubRepository{}
	svc := newTestService(t, Config{CacheDir: t.TempDir()}, repo, &stubLoader{modelErr: errors.New("snapshot missing")}, nil)

	_, err := svc.ScoreUserAnswer(context.Background(), fiveInterviews()...)
	require.True(t, apperrors.IsCode(err, "model_load_error"))
	require.Empty(t, repo.questions())
}

func TestScoreUserAnswerHistoryFailureIsNotFatal(t *testing.T) {
	history := newStubHistory()
	history.err = errors.New("db down")
	svc := newTestService(t, Config{CacheDir: t.TempDir()}, &stubRepository{}, &stubLoader{}, history)

	resp, err := svc.ScoreUserAnswer(context.Background(), fiveInterviews()...)
	require.NoError(t, err)
	require.Len(t, resp.ResultList, InterviewCount)
}

func TestBatchNotFound(t *testing.T) {
	svc := newTestService(t, Config{CacheDir: t.TempDir()}, &stubRepository{}, &stubLoader{}, newStubHistory())

	_, err := svc.Batch(context.Background(), uuid.New())
	require.True(t, apperrors.IsCode(err, "not_found"))
}

func TestGetInstanceReturnsSameService(t *testing.T) {
	resetInstance()
	t.Cleanup(resetInstance)

	first := GetInstance(DefaultConfig(), &stubRepository{}, &stubLoader{}, nil, newTestLogger())
	second := GetInstance(Config{CacheDir: "elsewhere"}, &stubRepository{}, &stubLoader{}, nil, newTestLogger())
	require.Same(t, first.(*service), second.(*service))
	require.Equal(t, "models/cache", first.(*service).cfg.CacheDir)
}

func TestGetInstanceConcurrentFirstAccess(t *testing.T) {
	resetInstance()
	t.Cleanup(resetInstance)

	var (
		wg   sync.WaitGroup
		seen = make([]Service, 16)
	)
	for i := range seen {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen[i] = GetInstance(DefaultConfig(), &stubRepository{}, &stubLoader{}, nil, newTestLogger())
		}()
	}
	wg.Wait()
	for _, svc := range seen {
		require.Same(t, seen[0].(*service), svc.(*service))
	}
}

func TestInterviewUnmarshalForms(t *testing.T) {
	var req Request
	raw := `{"interviews":[["q","a","c"],{"question":"q2","answer":"a2","context":"c2"}]}`
	require.NoError(t, json.Unmarshal([]byte(raw), &req))
	require.Equal(t, []Interview{
		{Question: "q", Answer: "a", Context: "c"},
		{Question: "q2", Answer: "a2", Context: "c2"},
	}, req.Interviews)

	var iv Interview
	require.Error(t, json.Unmarshal([]byte(`["q","a"]`), &iv))
}

func resetInstance() {
	instanceOnce = sync.Once{}
	instance = nil
}

func newTestService(t *testing.T, cfg Config, repo Repository, loader ModelLoader, history History) *service {
	t.Helper()
	svc := NewService(cfg, repo, loader, history, newTestLogger()).(*service)
	svc.now = func() time.Time { return time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC) }
	return svc
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fiveInterviews() []Interview {
	return []Interview{
		{Question: "q1", Answer: "a1", Context: "c1"},
		{Question: "q2", Answer: "a2", Context: "c2"},
		{Question: "q3", Answer: "a3", Context: "c3"},
		{Question: "q4", Answer: "a4", Context: "c4"},
		{Question: "q5", Answer: "a5", Context: "c5"},
	}
}

type stubRepository struct {
	mu          sync.Mutex
	downloads   int
	downloadErr error
	createDir   string
	failAt      string
	delay       func(question string) time.Duration
	events      []string
	tokenizers  []Tokenizer
}

func (r *stubRepository) DownloadPretrainedModel(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.downloads++
	r.events = append(r.events, "download")
	if r.downloadErr != nil {
		return r.downloadErr
	}
	if r.createDir != "" {
		return os.MkdirAll(r.createDir, 0o755)
	}
	return nil
}

func (r *stubRepository) ScoreUserAnswer(ctx context.Context, question, answer, interviewContext string, model Model, tokenizer Tokenizer) (Result, error) {
	if r.delay != nil {
		time.Sleep(r.delay(question))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, question)
	r.tokenizers = append(r.tokenizers, tokenizer)
	if question == r.failAt {
		return Result{}, errors.New("generation failed")
	}
	n := int(question[1] - '0')
	return Result{
		Question: question,
		Score:    float64(n),
		Usage:    metrics.TokenUsage{PromptTokens: 10 * n, CompletionTokens: n, TotalTokens: 11 * n},
	}, nil
}

func (r *stubRepository) questions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []string{}
	for _, e := range r.events {
		if e != "download" {
			out = append(out, e)
		}
	}
	return out
}

type stubLoader struct {
	modelErr       error
	modelLoads     int
	tokenizerLoads int
	lastOpts       LoadOptions
	tokenizers     []*stubTokenizer
}

func (l *stubLoader) LoadModel(ctx context.Context, opts LoadOptions) (Model, error) {
	if l.modelErr != nil {
		return nil, l.modelErr
	}
	l.modelLoads++
	return stubModel{name: opts.PretrainedModelNameOrPath}, nil
}

func (l *stubLoader) LoadTokenizer(ctx context.Context, opts LoadOptions) (Tokenizer, error) {
	l.tokenizerLoads++
	l.lastOpts = opts
	tok := &stubTokenizer{eos: "<|endoftext|>", eosID: 2, maxLen: 2048, side: opts.PaddingSide}
	l.tokenizers = append(l.tokenizers, tok)
	return tok, nil
}

type stubModel struct {
	name string
}

func (m stubModel) Name() string   { return m.name }
func (m stubModel) Device() string { return "cpu" }

func (m stubModel) Generate(ctx context.Context, req GenerateRequest) (Generation, error) {
	return Generation{Text: "80"}, nil
}

type stubTokenizer struct {
	eos    string
	eosID  int
	pad    string
	padID  int
	maxLen int
	side   string
}

func (t *stubTokenizer) EOSToken() string    { return t.eos }
func (t *stubTokenizer) EOSTokenID() int     { return t.eosID }
func (t *stubTokenizer) PadToken() string    { return t.pad }
func (t *stubTokenizer) PadTokenID() int     { return t.padID }
func (t *stubTokenizer) ModelMaxLength() int { return t.maxLen }
func (t *stubTokenizer) PaddingSide() string { return t.side }
func (t *stubTokenizer) SetModelMaxLength(n int) {
	t.maxLen = n
}
func (t *stubTokenizer) SetPadToken(token string, id int) {
	t.pad, t.padID = token, id
}
func (t *stubTokenizer) Encode(text string) []int { return make([]int, len(text)) }
func (t *stubTokenizer) Decode(ids []int) string  { return "" }

type stubHistory struct {
	mu      sync.Mutex
	batches map[uuid.UUID]Batch
	err     error
}

func newStubHistory() *stubHistory {
	return &stubHistory{batches: make(map[uuid.UUID]Batch)}
}

func (h *stubHistory) Record(ctx context.Context, batch Batch) error {
	if h.err != nil {
		return h.err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.batches[batch.ID] = batch
	return nil
}

func (h *stubHistory) Get(ctx context.Context, id uuid.UUID) (Batch, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	batch, ok := h.batches[id]
	return batch, ok, nil
}
