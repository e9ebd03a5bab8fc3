package scorelog

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/yanqian/polyglot-score/internal/domain/score"
	"github.com/yanqian/polyglot-score/pkg/metrics"
)

func TestMemoryHistoryRecordAndGet(t *testing.T) {
	h := NewMemoryHistory(0)
	batch := sampleBatch()

	require.NoError(t, h.Record(context.Background(), batch))
	got, found, err := h.Get(context.Background(), batch.ID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, batch, got)

	got.ResultList[0].Score = 0
	again, _, _ := h.Get(context.Background(), batch.ID)
	require.Equal(t, 80.0, again.ResultList[0].Score)

	_, found, err = h.Get(context.Background(), uuid.New())
	require.NoError(t, err)
	require.False(t, found)
}

func TestMemoryHistoryEvictsOldest(t *testing.T) {
	h := NewMemoryHistory(2)
	first, second, third := sampleBatch(), sampleBatch(), sampleBatch()
	for _, b := range []score.Batch{first, second, third} {
		require.NoError(t, h.Record(context.Background(), b))
	}

	_, found, _ := h.Get(context.Background(), first.ID)
	require.False(t, found)
	_, found, _ = h.Get(context.Background(), third.ID)
	require.True(t, found)
}

func TestBatchJSONColumnsRoundTrip(t *testing.T) {
	batch := sampleBatch()
	interviews, results, err := encodeBatch(batch)
	require.NoError(t, err)
	require.JSONEq(t, `[{"question":"q1","answer":"a1","context":"c1"}]`, string(interviews))

	decoded := score.Batch{ID: batch.ID}
	require.NoError(t, decodeBatch(&decoded, interviews, results))
	require.Equal(t, batch.Interviews, decoded.Interviews)
	require.Equal(t, batch.ResultList, decoded.ResultList)
	require.Equal(t, metrics.TokenUsage{PromptTokens: 30, CompletionTokens: 4, TotalTokens: 34}, decoded.Usage)

	require.Error(t, decodeBatch(&decoded, []byte("{"), results))
}

func sampleBatch() score.Batch {
	return score.Batch{
		ID:         uuid.New(),
		Model:      "EleutherAI/polyglot-ko-1.3b",
		Interviews: []score.Interview{{Question: "q1", Answer: "a1", Context: "c1"}},
		ResultList: []score.Result{{
			Question: "q1",
			Score:    80,
			Feedback: "good",
			Raw:      "80 good",
			Usage:    metrics.TokenUsage{PromptTokens: 30, CompletionTokens: 4, TotalTokens: 34},
		}},
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}
