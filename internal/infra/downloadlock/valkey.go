package downloadlock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/valkey-io/valkey-go"

	"github.com/yanqian/polyglot-score/internal/infra/modelhub"
)

const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("DEL", KEYS[1]) else return 0 end`

// ValkeyLock is a SET NX PX lock shared by every replica pointed at the same Valkey.
type ValkeyLock struct {
	client       valkey.Client
	prefix       string
	pollInterval time.Duration
	release      *valkey.Lua
	logger       *slog.Logger
}

// NewValkeyLock constructs a lock whose keys live under prefix.
func NewValkeyLock(client valkey.Client, prefix string, logger *slog.Logger) *ValkeyLock {
	if prefix == "" {
		prefix = "polyglot-score"
	}
	return &ValkeyLock{
		client:       client,
		prefix:       prefix,
		pollInterval: 500 * time.Millisecond,
		release:      valkey.NewLuaScript(releaseScript),
		logger:       logger.With("component", "downloadlock.valkey"),
	}
}

// Acquire blocks until the lock is held or ctx is done. The lock expires after
// ttl even if release is never called.
func (l *ValkeyLock) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	fullKey := l.key(key)
	token := uuid.NewString()
	for {
		cmd := l.client.B().Set().Key(fullKey).Value(token).Nx().Px(ttl).Build()
		err := l.client.Do(ctx, cmd).Error()
		if err == nil {
			l.logger.Debug("download lock acquired", "key", fullKey)
			return func() { l.unlock(fullKey, token) }, nil
		}
		if !valkey.IsValkeyNil(err) {
			return nil, fmt.Errorf("set lock %s: %w", fullKey, err)
		}
		select {
		case <-ctx.Done():
			return nil, errors.Join(fmt.Errorf("lock %s held elsewhere", fullKey), ctx.Err())
		case <-time.After(l.pollInterval):
		}
	}
}

func (l *ValkeyLock) unlock(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := l.release.Exec(ctx, l.client, []string{key}, []string{token}).Error(); err != nil {
		l.logger.Warn("download lock release failed", "key", key, "error", err)
	}
}

func (l *ValkeyLock) key(name string) string {
	return fmt.Sprintf("%s:lock:%s", l.prefix, name)
}

var _ modelhub.DistributedLock = (*ValkeyLock)(nil)
