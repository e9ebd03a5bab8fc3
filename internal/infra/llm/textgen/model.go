package textgen

import (
	"context"
	"errors"

	"github.com/yanqian/polyglot-score/internal/domain/score"
	"github.com/yanqian/polyglot-score/pkg/metrics"
)

// Completer is the subset of Client used by Model.
type Completer interface {
	CreateCompletion(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}

// Model is a causal LM served remotely and addressed by its pretrained name.
type Model struct {
	client Completer
	name   string
	device string
}

// NewModel binds a served model name to a completion client.
func NewModel(client Completer, name, device string) *Model {
	return &Model{client: client, name: name, device: device}
}

func (m *Model) Name() string { return m.name }

func (m *Model) Device() string { return m.device }

// Generate continues the prompt and reports token usage.
func (m *Model) Generate(ctx context.Context, req score.GenerateRequest) (score.Generation, error) {
	resp, err := m.client.CreateCompletion(ctx, CompletionRequest{
		Model:       m.name,
		Prompt:      req.Prompt,
		MaxTokens:   req.MaxNewTokens,
		Temperature: req.Temperature,
		Stop:        req.Stop,
	})
	if err != nil {
		return score.Generation{}, err
	}
	if len(resp.Choices) == 0 {
		return score.Generation{}, errors.New("completion returned no choices")
	}
	return score.Generation{
		Text: resp.Choices[0].Text,
		Usage: metrics.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

var _ score.Model = (*Model)(nil)
