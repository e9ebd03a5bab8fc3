package downloadlock

import (
	"context"
	"time"

	"github.com/yanqian/polyglot-score/internal/infra/modelhub"
)

// NoopLock is used when no shared lock backend is configured. Processes on
// one host are still serialized by the cache file lock.
type NoopLock struct{}

func (NoopLock) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return func() {}, nil
}

var _ modelhub.DistributedLock = NoopLock{}
