package score

import (
	"context"

	"github.com/google/uuid"
)

// Model is a loaded causal language model.
type Model interface {
	Name() string
	Device() string
	Generate(ctx context.Context, req GenerateRequest) (Generation, error)
}

// Tokenizer is a loaded tokenizer whose padding and length settings can be adjusted.
type Tokenizer interface {
	EOSToken() string
	EOSTokenID() int
	PadToken() string
	PadTokenID() int
	SetPadToken(token string, id int)
	ModelMaxLength() int
	SetModelMaxLength(n int)
	PaddingSide() string
	Encode(text string) []int
	Decode(ids []int) string
}

// ModelLoader builds model and tokenizer handles from the local cache.
type ModelLoader interface {
	LoadModel(ctx context.Context, opts LoadOptions) (Model, error)
	LoadTokenizer(ctx context.Context, opts LoadOptions) (Tokenizer, error)
}

// Repository downloads pretrained weights and scores single answers.
type Repository interface {
	DownloadPretrainedModel(ctx context.Context) error
	ScoreUserAnswer(ctx context.Context, question, answer, interviewContext string, model Model, tokenizer Tokenizer) (Result, error)
}

// History keeps scored batches.
type History interface {
	Record(ctx context.Context, batch Batch) error
	Get(ctx context.Context, id uuid.UUID) (Batch, bool, error)
}
