package scorelog

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/yanqian/polyglot-score/internal/domain/score"
)

// MemoryHistory keeps score batches in process memory, used for tests/dev.
type MemoryHistory struct {
	mu      sync.RWMutex
	limit   int
	order   []uuid.UUID
	batches map[uuid.UUID]score.Batch
}

// NewMemoryHistory keeps at most limit batches; zero means unbounded.
func NewMemoryHistory(limit int) *MemoryHistory {
	return &MemoryHistory{
		limit:   limit,
		batches: make(map[uuid.UUID]score.Batch),
	}
}

// Record implements score.History.
func (h *MemoryHistory) Record(_ context.Context, batch score.Batch) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.batches[batch.ID]; !exists {
		h.order = append(h.order, batch.ID)
	}
	h.batches[batch.ID] = cloneBatch(batch)
	for h.limit > 0 && len(h.order) > h.limit {
		delete(h.batches, h.order[0])
		h.order = h.order[1:]
	}
	return nil
}

// Get implements score.History.
func (h *MemoryHistory) Get(_ context.Context, id uuid.UUID) (score.Batch, bool, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	batch, ok := h.batches[id]
	if !ok {
		return score.Batch{}, false, nil
	}
	return cloneBatch(batch), true, nil
}

func cloneBatch(b score.Batch) score.Batch {
	b.Interviews = append([]score.Interview(nil), b.Interviews...)
	b.ResultList = append([]score.Result(nil), b.ResultList...)
	return b
}

var _ score.History = (*MemoryHistory)(nil)
