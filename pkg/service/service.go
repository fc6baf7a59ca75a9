package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/beam-cloud/indexsync/pkg/common"
	"github.com/beam-cloud/indexsync/pkg/index"
	"github.com/beam-cloud/indexsync/pkg/index/entities"
	"github.com/beam-cloud/indexsync/pkg/repository"
	"github.com/beam-cloud/indexsync/pkg/source"
	"github.com/beam-cloud/indexsync/pkg/types"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Options selects which connections New opens
type Options struct {
	Source bool // source postgres database
	Search bool // elasticsearch
	State  bool // watermark store
	Lock   bool // redis for the pass lock, only when sync.lock.enabled
}

var (
	// SyncOptions opens everything a sync pass needs
	SyncOptions = Options{Source: true, Search: true, State: true, Lock: true}

	// SchemaOptions opens what the schema manager and the resync marker need
	SchemaOptions = Options{Search: true, State: true}

	// StateOptions opens the watermark store only
	StateOptions = Options{State: true}
)

// Service owns the external connections of one indexsync process
type Service struct {
	Config     types.AppConfig
	Registry   *index.Registry
	Source     *repository.PostgresBackend
	Search     *index.ElasticsearchClient
	State      repository.KeyValueStore
	Watermarks *repository.WatermarkStore
	Redis      *common.RedisClient
}

// New connects to the source database, Elasticsearch and the state store
// concurrently. Any failure closes what was already opened.
func New(ctx context.Context, config types.AppConfig, opts Options) (*Service, error) {
	s := &Service{
		Config:   config,
		Registry: entities.NewRegistry(),
	}

	eg, ctx := errgroup.WithContext(ctx)

	if opts.Source {
		eg.Go(func() error {
			backend, err := repository.OpenSourceDatabase(ctx, config.Database.Postgres)
			if err != nil {
				return fmt.Errorf("connect source database: %w", err)
			}
			s.Source = backend
			return nil
		})
	}

	if opts.Search {
		eg.Go(func() error {
			client, err := index.NewElasticsearchClient(config.Elasticsearch)
			if err != nil {
				return err
			}
			if err := client.Ping(ctx); err != nil {
				return fmt.Errorf("connect elasticsearch: %w", err)
			}
			s.Search = client
			return nil
		})
	}

	needsRedis := (opts.Lock && config.Sync.Lock.Enabled) ||
		(opts.State && config.State.Backend == types.StateBackendRedis)

	if opts.State || needsRedis {
		// The redis state backend shares the lock client, so these connect in order
		eg.Go(func() error {
			if needsRedis {
				rdb, err := common.NewRedisClient(config.Database.Redis, common.WithClientName("IndexSync"))
				if err != nil {
					return fmt.Errorf("connect redis: %w", err)
				}
				s.Redis = rdb
			}

			if !opts.State {
				return nil
			}

			store, err := repository.NewKeyValueStore(ctx, config, s.Redis)
			if err != nil {
				return fmt.Errorf("open state store: %w", err)
			}
			s.State = store
			s.Watermarks = repository.NewWatermarkStore(store)
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		s.Close()
		return nil, err
	}

	return s, nil
}

// NewSyncer builds a syncer over the opened connections. New must have been
// called with SyncOptions.
func (s *Service) NewSyncer() *index.Syncer {
	extractor := source.NewExtractor(source.NewPostgresCursorOpener(s.Source.DB()))
	loader := index.NewBulkLoader(s.Search, common.NewBackoff(s.Config.Retry))

	syncer := index.NewSyncer(s.Registry, index.NewSchemaManager(s.Search), extractor, loader, s.Watermarks)
	syncer.SetConfig(index.SyncerConfigFrom(s.Config.Sync))

	if s.Config.Sync.Lock.Enabled && s.Redis != nil {
		syncer.SetLocker(index.NewRedisPassLocker(s.Redis, s.Config.Sync.Lock))
		log.Info().Dur("ttl", s.Config.Sync.Lock.TTL).Msg("pass lock enabled")
	}

	return syncer
}

// Close releases every opened connection
func (s *Service) Close() error {
	var eg errgroup.Group

	if s.Source != nil {
		eg.Go(func() error {
			return s.Source.Close()
		})
	}

	// The state store may borrow the redis client, so it closes first
	eg.Go(func() error {
		var errs []error
		if s.State != nil {
			errs = append(errs, s.State.Close())
		}
		if s.Redis != nil {
			errs = append(errs, s.Redis.Close())
		}
		return errors.Join(errs...)
	})

	err := eg.Wait()
	if err != nil {
		log.Error().Err(err).Msg("failed to close connections")
	}
	return err
}
