package repository

import (
	"context"
	"fmt"

	"github.com/beam-cloud/indexsync/pkg/common"
	"github.com/beam-cloud/indexsync/pkg/types"
	"github.com/rs/zerolog/log"
)

// NewKeyValueStore opens the state backend selected by config.State.Backend.
// The redis backend reuses rdb when it is non-nil and otherwise connects
// using config.Database.Redis.
func NewKeyValueStore(ctx context.Context, config types.AppConfig, rdb *common.RedisClient) (KeyValueStore, error) {
	stateConfig := config.State

	var (
		store KeyValueStore
		err   error
	)

	switch stateConfig.Backend {
	case types.StateBackendFile, "":
		store, err = NewFileStore(stateConfig.File.Path)
	case types.StateBackendBolt:
		store, err = NewBoltStore(stateConfig.Bolt.Path)
	case types.StateBackendRedis:
		owned := false
		if rdb == nil {
			rdb, err = common.NewRedisClient(config.Database.Redis, common.WithClientName("IndexSyncState"))
			if err != nil {
				return nil, fmt.Errorf("connect state redis: %w", err)
			}
			owned = true
		}
		redisStore := NewRedisStore(rdb, stateConfig.Redis.HashKey)
		redisStore.owned = owned
		store = redisStore
	case types.StateBackendPostgres:
		var backend *PostgresBackend
		backend, err = OpenStateDatabase(ctx, stateConfig.Postgres)
		if err != nil {
			return nil, err
		}
		store = NewPostgresStore(backend)
	case types.StateBackendS3:
		store, err = NewS3Store(ctx, stateConfig.S3)
	default:
		return nil, &types.ErrUnknownBackend{Backend: stateConfig.Backend}
	}
	if err != nil {
		return nil, err
	}

	log.Info().Str("backend", stateConfig.Backend).Msg("state store ready")
	return store, nil
}
