package scorelog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yanqian/polyglot-score/internal/domain/score"
)

// Schema creates the score_batches table.
const Schema = `
CREATE TABLE IF NOT EXISTS score_batches (
	id          UUID PRIMARY KEY,
	model       TEXT NOT NULL,
	interviews  JSONB NOT NULL,
	result_list JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresHistory persists score batches in Postgres using pgx.
type PostgresHistory struct {
	pool *pgxpool.Pool
}

// NewPostgresHistory constructs the repository.
func NewPostgresHistory(pool *pgxpool.Pool) *PostgresHistory {
	return &PostgresHistory{pool: pool}
}

// EnsureSchema creates the table when it does not exist yet.
func (h *PostgresHistory) EnsureSchema(ctx context.Context) error {
	_, err := h.pool.Exec(ctx, Schema)
	return err
}

// Record inserts the batch. Recording the same id twice keeps the first row.
func (h *PostgresHistory) Record(ctx context.Context, batch score.Batch) error {
	interviews, results, err := encodeBatch(batch)
	if err != nil {
		return err
	}
	_, err = h.pool.Exec(ctx, `
		INSERT INTO score_batches (id, model, interviews, result_list, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, batch.ID, batch.Model, interviews, results, batch.CreatedAt)
	return err
}

// Get loads a batch by id.
func (h *PostgresHistory) Get(ctx context.Context, id uuid.UUID) (score.Batch, bool, error) {
	var (
		batch      score.Batch
		interviews []byte
		results    []byte
	)
	err := h.pool.QueryRow(ctx, `
		SELECT id, model, interviews, result_list, created_at
		FROM score_batches
		WHERE id = $1
	`, id).Scan(&batch.ID, &batch.Model, &interviews, &results, &batch.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return score.Batch{}, false, nil
	}
	if err != nil {
		return score.Batch{}, false, err
	}
	if err := decodeBatch(&batch, interviews, results); err != nil {
		return score.Batch{}, false, err
	}
	return batch, true, nil
}

func encodeBatch(batch score.Batch) ([]byte, []byte, error) {
	interviews, err := json.Marshal(batch.Interviews)
	if err != nil {
		return nil, nil, fmt.Errorf("encode interviews: %w", err)
	}
	results, err := json.Marshal(batch.ResultList)
	if err != nil {
		return nil, nil, fmt.Errorf("encode results: %w", err)
	}
	return interviews, results, nil
}

func decodeBatch(batch *score.Batch, interviews, results []byte) error {
	if err := json.Unmarshal(interviews, &batch.Interviews); err != nil {
		return fmt.Errorf("decode interviews: %w", err)
	}
	if err := json.Unmarshal(results, &batch.ResultList); err != nil {
		return fmt.Errorf("decode results: %w", err)
	}
	batch.Usage = score.TotalUsage(batch.ResultList)
	return nil
}

var _ score.History = (*PostgresHistory)(nil)
