package index

import (
	"context"
	"time"

	"github.com/beam-cloud/indexsync/pkg/common"
	"github.com/beam-cloud/indexsync/pkg/types"
)

// PassLocker guards a pass over one index against concurrent processes
type PassLocker interface {
	Acquire(ctx context.Context, index string) error
	Refresh(ctx context.Context, index string) error
	Release(index string) error
}

// RedisPassLocker holds one redislock per index
type RedisPassLocker struct {
	lock *common.RedisLock
	opts common.RedisLockOptions
}

func NewRedisPassLocker(rdb *common.RedisClient, cfg types.LockConfig) *RedisPassLocker {
	ttl := cfg.TTL
	if ttl < time.Second {
		ttl = 5 * time.Minute
	}
	return &RedisPassLocker{
		lock: common.NewRedisLock(rdb),
		opts: common.RedisLockOptions{
			TtlS:    int(ttl.Seconds()),
			Retries: cfg.Retries,
		},
	}
}

func (l *RedisPassLocker) Acquire(ctx context.Context, index string) error {
	return l.lock.Acquire(ctx, common.Keys.PassLock(index), l.opts)
}

func (l *RedisPassLocker) Refresh(ctx context.Context, index string) error {
	return l.lock.Refresh(ctx, common.Keys.PassLock(index), l.opts)
}

func (l *RedisPassLocker) Release(index string) error {
	return l.lock.Release(common.Keys.PassLock(index))
}
