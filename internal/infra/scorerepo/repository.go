package scorerepo

import (
	"context"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/yanqian/polyglot-score/internal/domain/score"
	apperrors "github.com/yanqian/polyglot-score/pkg/errors"
)

const (
	// DefaultTemplate frames one interview answer for the scoring model.
	DefaultTemplate = "### 질문: {question}\n### 질문 의도: {context}\n### 답변: {answer}\n### 위 답변이 질문 의도에 얼마나 부합하는지 0점에서 {max_score}점 사이로 평가하고 이유를 한 문장으로 쓰세요.\n"
	// DefaultScoreCue ends every prompt so the model starts with the score.
	DefaultScoreCue = "### 점수:"
)

var (
	scorePattern  = regexp.MustCompile(`-?\d+(?:\.\d+)?`)
	scoreSuffixes = regexp.MustCompile(`^\s*(?:/\s*\d+(?:\.\d+)?)?\s*점?\s*[.,:)]?\s*`)
)

// Downloader fetches a pretrained model into the local cache.
type Downloader interface {
	Download(ctx context.Context, modelID string) error
}

// Config controls prompt rendering and generation.
type Config struct {
	ModelID      string
	Template     string
	ScoreCue     string
	MaxNewTokens int
	Temperature  float32
	MaxScore     float64
	Stop         []string
}

type repository struct {
	cfg        Config
	downloader Downloader
	logger     *slog.Logger
}

// NewRepository wires the scoring repository.
func NewRepository(cfg Config, downloader Downloader, logger *slog.Logger) score.Repository {
	if cfg.Template == "" {
		cfg.Template = DefaultTemplate
	}
	if cfg.ScoreCue == "" {
		cfg.ScoreCue = DefaultScoreCue
	}
	if cfg.MaxNewTokens <= 0 {
		cfg.MaxNewTokens = 64
	}
	if cfg.MaxScore <= 0 {
		cfg.MaxScore = 100
	}
	return &repository{cfg: cfg, downloader: downloader, logger: logger.With("component", "scorerepo")}
}

func (r *repository) DownloadPretrainedModel(ctx context.Context) error {
	return r.downloader.Download(ctx, r.cfg.ModelID)
}

func (r *repository) ScoreUserAnswer(ctx context.Context, question, answer, interviewContext string, model score.Model, tokenizer score.Tokenizer) (score.Result, error) {
	prompt, promptTokens := r.buildPrompt(question, answer, interviewContext, tokenizer)
	r.logger.Debug("scoring answer", "question", question, "prompt_tokens", promptTokens)

	gen, err := model.Generate(ctx, score.GenerateRequest{
		Prompt:       prompt,
		MaxNewTokens: r.cfg.MaxNewTokens,
		Temperature:  r.cfg.Temperature,
		Stop:         r.cfg.Stop,
	})
	if err != nil {
		return score.Result{}, apperrors.Wrap("llm_error", "generation failed", err)
	}

	value, feedback, err := parseScore(gen.Text, r.cfg.MaxScore)
	if err != nil {
		return score.Result{}, err
	}
	usage := gen.Usage
	if usage.IsZero() {
		usage.PromptTokens = promptTokens
		usage.CompletionTokens = len(tokenizer.Encode(gen.Text))
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	return score.Result{
		Question: question,
		Score:    value,
		Feedback: feedback,
		Raw:      gen.Text,
		Usage:    usage,
	}, nil
}

// buildPrompt renders the template and trims the interview part so that the
// prompt plus the generation budget fits the tokenizer's maximum length. The
// score cue is always kept.
func (r *repository) buildPrompt(question, answer, interviewContext string, tokenizer score.Tokenizer) (string, int) {
	body := strings.NewReplacer(
		"{question}", strings.TrimSpace(question),
		"{answer}", strings.TrimSpace(answer),
		"{context}", strings.TrimSpace(interviewContext),
		"{max_score}", strconv.FormatFloat(r.cfg.MaxScore, 'f', -1, 64),
	).Replace(r.cfg.Template)

	bodyIDs := tokenizer.Encode(body)
	cueIDs := tokenizer.Encode(r.cfg.ScoreCue)
	budget := tokenizer.ModelMaxLength() - r.cfg.MaxNewTokens - len(cueIDs)
	if budget < 0 {
		budget = 0
	}
	if tokenizer.ModelMaxLength() > 0 && len(bodyIDs) > budget {
		r.logger.Warn("prompt truncated", "tokens", len(bodyIDs), "budget", budget)
		bodyIDs = bodyIDs[:budget]
		body = strings.ToValidUTF8(tokenizer.Decode(bodyIDs), "")
	}
	return body + r.cfg.ScoreCue, len(bodyIDs) + len(cueIDs)
}

// parseScore reads the first number of the generation as the score and
// returns the remaining text as feedback.
func parseScore(text string, maxScore float64) (float64, string, error) {
	loc := scorePattern.FindStringIndex(text)
	if loc == nil {
		return 0, "", apperrors.Wrap("score_parse_error", "model output has no score", nil)
	}
	value, err := strconv.ParseFloat(text[loc[0]:loc[1]], 64)
	if err != nil {
		return 0, "", apperrors.Wrap("score_parse_error", "model output has no score", err)
	}
	value = math.Max(0, math.Min(maxScore, value))

	rest := text[loc[1]:]
	rest = rest[len(scoreSuffixes.FindString(rest)):]
	if i := strings.Index(rest, "###"); i >= 0 {
		rest = rest[:i]
	}
	return value, strings.TrimSpace(rest), nil
}
