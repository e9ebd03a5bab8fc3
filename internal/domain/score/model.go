package score

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/yanqian/polyglot-score/pkg/metrics"
)

// InterviewCount is the number of interviews scored per call.
const InterviewCount = 5

// Interview is one (question, answer, context) triple submitted for scoring.
type Interview struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Context  string `json:"context"`
}

// UnmarshalJSON accepts either a ["question","answer","context"] array or an object.
func (i *Interview) UnmarshalJSON(data []byte) error {
	var triple []string
	if err := json.Unmarshal(data, &triple); err == nil {
		if len(triple) != 3 {
			return errors.New("interview must have exactly three elements")
		}
		*i = Interview{Question: triple[0], Answer: triple[1], Context: triple[2]}
		return nil
	}
	type plain Interview
	var obj plain
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*i = Interview(obj)
	return nil
}

// Request is the transport payload for a scoring call.
type Request struct {
	Interviews []Interview `json:"interviews"`
}

// Result is the repository's score for a single interview.
type Result struct {
	Question string             `json:"question"`
	Score    float64            `json:"score"`
	Feedback string             `json:"feedback"`
	Raw      string             `json:"raw"`
	Usage    metrics.TokenUsage `json:"usage"`
}

// Response holds one result per scored interview, in input order.
type Response struct {
	ResultList []Result  `json:"resultList"`
	BatchID    uuid.UUID `json:"-"`
}

// Batch is a scored call as kept in the score history.
type Batch struct {
	ID         uuid.UUID   `json:"id"`
	Model      string      `json:"model"`
	Interviews []Interview `json:"interviews"`
	ResultList []Result    `json:"resultList"`
	// Usage is the token usage summed over ResultList.
	Usage     metrics.TokenUsage `json:"usage"`
	CreatedAt time.Time          `json:"createdAt"`
}

// TotalUsage sums the token usage of every result.
func TotalUsage(results []Result) metrics.TokenUsage {
	var total metrics.TokenUsage
	for _, r := range results {
		total = total.Add(r.Usage)
	}
	return total
}

// Config is the fixed model configuration of the scoring service.
type Config struct {
	PretrainedModelNameOrPath string
	TrustRemoteCode           bool
	LocalFilesOnly            bool
	PaddingSide               string
	MaxTokenLength            int
	CacheDir                  string
	Device                    string
	// Concurrent runs the per-interview calls in parallel instead of in order.
	Concurrent bool
	// ReuseLoadedModel keeps the first loaded model/tokenizer for later calls.
	ReuseLoadedModel bool
}

// DefaultConfig mirrors the stock polyglot-ko scoring setup.
func DefaultConfig() Config {
	return Config{
		PretrainedModelNameOrPath: "EleutherAI/polyglot-ko-1.3b",
		TrustRemoteCode:           true,
		LocalFilesOnly:            true,
		PaddingSide:               "left",
		MaxTokenLength:            1024,
		CacheDir:                  "models/cache",
		Device:                    "auto",
	}
}

// LoadOptions are passed to the model loader.
type LoadOptions struct {
	PretrainedModelNameOrPath string
	TrustRemoteCode           bool
	CacheDir                  string
	LocalFilesOnly            bool
	PaddingSide               string
	Device                    string
}

// GenerateRequest asks the model to continue a prompt.
type GenerateRequest struct {
	Prompt       string
	MaxNewTokens int
	Temperature  float32
	Stop         []string
}

// Generation is the model's continuation of a prompt.
type Generation struct {
	Text  string
	Usage metrics.TokenUsage
}
