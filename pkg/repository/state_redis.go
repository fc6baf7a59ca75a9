package repository

import (
	"context"
	"errors"
	"sort"

	"github.com/beam-cloud/indexsync/pkg/common"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps all keys as fields of one Redis hash
type RedisStore struct {
	rdb     *common.RedisClient
	hashKey string
	owned   bool
}

// NewRedisStore uses rdb without taking ownership of it
func NewRedisStore(rdb *common.RedisClient, hashKey string) *RedisStore {
	if hashKey == "" {
		hashKey = common.Keys.StateHash()
	}
	return &RedisStore{rdb: rdb, hashKey: hashKey}
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := s.rdb.HGet(ctx, s.hashKey, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	return s.rdb.HSet(ctx, s.hashKey, key, value).Err()
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.rdb.HDel(ctx, s.hashKey, key).Err()
}

func (s *RedisStore) Keys(ctx context.Context) ([]string, error) {
	keys, err := s.rdb.HKeys(ctx, s.hashKey).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *RedisStore) Close() error {
	if s.owned {
		return s.rdb.Close()
	}
	return nil
}
