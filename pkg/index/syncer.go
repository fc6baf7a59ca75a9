package index

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/beam-cloud/indexsync/pkg/common"
	"github.com/beam-cloud/indexsync/pkg/repository"
	"github.com/beam-cloud/indexsync/pkg/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Extractor reads changed source rows as lazily fetched batches
type Extractor interface {
	Extract(ctx context.Context, d *Descriptor, since time.Time, batchSize int) iter.Seq2[*Batch, error]
}

// Loader writes one batch of documents into an index
type Loader interface {
	Load(ctx context.Context, index string, docs []Document) error
}

// SchemaEnsurer makes an index match its declared schema
type SchemaEnsurer interface {
	Ensure(ctx context.Context, schema IndexSchema, before BeforeChange) (EnsureResult, error)
}

// SyncerConfig configures the sync loop
type SyncerConfig struct {
	// Interval is the sleep between the end of one cycle and the start of the next
	Interval time.Duration

	// InitialDelay is the delay before starting the first cycle
	InitialDelay time.Duration

	// BatchSize is the number of rows fetched per batch
	BatchSize int

	// Streams restricts and orders the synchronized streams; empty means all
	Streams []string
}

// DefaultSyncerConfig returns sensible defaults
func DefaultSyncerConfig() SyncerConfig {
	return SyncerConfig{
		Interval:  60 * time.Second,
		BatchSize: 100,
	}
}

// SyncerConfigFrom converts the application sync config, keeping defaults for unset fields
func SyncerConfigFrom(cfg types.SyncConfig) SyncerConfig {
	out := DefaultSyncerConfig()
	if cfg.Interval > 0 {
		out.Interval = cfg.Interval
	}
	if cfg.InitialDelay > 0 {
		out.InitialDelay = cfg.InitialDelay
	}
	if cfg.BatchSize > 0 {
		out.BatchSize = cfg.BatchSize
	}
	out.Streams = cfg.Streams
	return out
}

// Syncer propagates source changes into the search index, one stream at a time.
// Each pass moves a stream through schema_check, extracting, loading and
// committing, and the watermark only advances after a batch is loaded.
type Syncer struct {
	registry   *Registry
	schemas    SchemaEnsurer
	extractor  Extractor
	loader     Loader
	watermarks repository.WatermarkRepository
	locker     PassLocker
	config     SyncerConfig

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	status  map[string]*types.StreamStatus
}

// NewSyncer creates a syncer over every stream in registry
func NewSyncer(registry *Registry, schemas SchemaEnsurer, extractor Extractor, loader Loader, watermarks repository.WatermarkRepository) *Syncer {
	status := make(map[string]*types.StreamStatus)
	for _, d := range registry.List() {
		status[d.Stream] = &types.StreamStatus{Stream: d.Stream, State: types.StreamStateIdle}
	}

	return &Syncer{
		registry:   registry,
		schemas:    schemas,
		extractor:  extractor,
		loader:     loader,
		watermarks: watermarks,
		config:     DefaultSyncerConfig(),
		status:     status,
	}
}

// SetConfig updates the syncer configuration
func (s *Syncer) SetConfig(cfg SyncerConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultSyncerConfig().BatchSize
	}
	s.config = cfg
}

// SetLocker enables the cross-process pass lock
func (s *Syncer) SetLocker(locker PassLocker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locker = locker
}

func (s *Syncer) getConfig() SyncerConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

// Start runs the sync loop in the background
func (s *Syncer) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.mu.Unlock()

	log.Info().Msg("starting index syncer")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Run(ctx)
	}()
}

// Stop cancels the background loop and waits for the current pass to return
func (s *Syncer) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}

	log.Info().Msg("stopping index syncer")

	if s.cancel != nil {
		s.cancel()
	}

	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
	log.Info().Msg("index syncer stopped")
}

// IsRunning returns whether the background loop is active
func (s *Syncer) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Run blocks until ctx is cancelled: after the initial delay it runs a cycle,
// then sleeps for the interval, and repeats. Cycle errors never end the loop.
func (s *Syncer) Run(ctx context.Context) {
	config := s.getConfig()

	if config.InitialDelay > 0 {
		if err := common.SleepContext(ctx, config.InitialDelay); err != nil {
			return
		}
	}

	for {
		s.RunCycle(ctx)

		// The interval starts when the cycle ends, so slow cycles never overlap
		timer := time.NewTimer(config.Interval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			log.Info().Msg("syncer loop stopping")
			return
		}
	}
}

// RunCycle runs one pass per configured stream, in order. A failed stream is
// logged and the remaining streams still run. The returned error joins every
// pass failure.
func (s *Syncer) RunCycle(ctx context.Context) ([]types.PassResult, error) {
	config := s.getConfig()

	descriptors, err := s.registry.Select(config.Streams)
	if err != nil {
		return nil, err
	}

	log.Info().Int("streams", len(descriptors)).Msg("starting sync cycle")
	start := time.Now()

	var (
		results                 []types.PassResult
		errs                    []error
		syncedCount, errorCount int
	)
	for _, d := range descriptors {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}

		result, err := s.SyncStream(ctx, d)
		if err != nil {
			errorCount++
			errs = append(errs, fmt.Errorf("%s: %w", d.Stream, err))
			log.Warn().
				Err(err).
				Str("stream", d.Stream).
				Str("index", d.Index()).
				Msg("sync failed")
			continue
		}

		syncedCount++
		results = append(results, result)
	}

	log.Info().
		Int("synced", syncedCount).
		Int("errors", errorCount).
		Dur("duration", time.Since(start)).
		Msg("sync cycle completed")

	return results, errors.Join(errs...)
}

// SyncStreamByName runs a single pass for the named stream
func (s *Syncer) SyncStreamByName(ctx context.Context, stream string) (types.PassResult, error) {
	d, err := s.registry.Get(stream)
	if err != nil {
		return types.PassResult{}, err
	}
	return s.SyncStream(ctx, d)
}

// SyncStream runs one pass over a stream. On failure the watermark stays at
// the last committed batch, so the next pass resumes from there.
func (s *Syncer) SyncStream(ctx context.Context, d *Descriptor) (types.PassResult, error) {
	config := s.getConfig()
	s.mu.Lock()
	locker := s.locker
	s.mu.Unlock()

	logger := log.With().
		Str("stream", d.Stream).
		Str("index", d.Index()).
		Str("pass_id", common.GeneratePassID()).
		Logger()

	start := time.Now()
	result := types.PassResult{Stream: d.Stream}

	if locker != nil {
		if err := locker.Acquire(ctx, d.Index()); err != nil {
			return result, s.fail(logger, d.Stream, fmt.Errorf("acquire pass lock: %w", err))
		}
		defer func() {
			if err := locker.Release(d.Index()); err != nil {
				logger.Warn().Err(err).Msg("failed to release pass lock")
			}
		}()
	}

	s.setState(d.Stream, types.StreamStateSchemaCheck)
	// A fresh index is empty, so the whole stream has to be loaded again. The
	// marker is stored before the index changes and survives a failed pass.
	ensured, err := s.schemas.Ensure(ctx, d.Schema, func(ctx context.Context) error {
		return s.watermarks.MarkResync(ctx, d.Stream)
	})
	if err != nil {
		return result, s.fail(logger, d.Stream, fmt.Errorf("ensure index: %w", err))
	}
	result.Recreated = ensured.Recreated

	stored, hasStored, err := s.watermarks.Get(ctx, d.Stream)
	if err != nil {
		return result, s.fail(logger, d.Stream, err)
	}

	resync, err := s.watermarks.ResyncPending(ctx, d.Stream)
	if err != nil {
		return result, s.fail(logger, d.Stream, err)
	}

	since := stored
	if resync {
		since = time.Time{}
	}
	result.Since = since
	committed := stored

	logger.Info().
		Time("since", since).
		Bool("resync", resync).
		Msg("starting pass")

	s.setState(d.Stream, types.StreamStateExtracting)
	for batch, err := range s.extractor.Extract(ctx, d, since, config.BatchSize) {
		if err != nil {
			return result, s.fail(logger, d.Stream, fmt.Errorf("extract: %w", err))
		}
		if batch.Len() == 0 {
			continue
		}

		for _, doc := range batch.Documents {
			if doc.ChangeDate().IsZero() {
				return result, s.fail(logger, d.Stream, &types.ErrMissingChangeDate{Stream: d.Stream, ID: doc.DocumentID()})
			}
		}

		s.setState(d.Stream, types.StreamStateLoading)
		if err := s.loader.Load(ctx, d.Index(), batch.Documents); err != nil {
			return result, s.fail(logger, d.Stream, fmt.Errorf("load batch %d: %w", result.Batches+1, err))
		}

		s.setState(d.Stream, types.StreamStateCommitting)
		if latest := batch.MaxChangeDate(); latest.After(committed) {
			if err := s.watermarks.Set(ctx, d.Stream, latest); err != nil {
				return result, s.fail(logger, d.Stream, fmt.Errorf("commit watermark: %w", err))
			}
			committed = latest
			hasStored = true
		}

		result.Batches++
		result.Documents += batch.Len()
		s.recordProgress(d.Stream, committed, batch.Len())

		logger.Debug().
			Int("batch", result.Batches).
			Int("documents", batch.Len()).
			Time("watermark", committed).
			Msg("batch committed")

		if locker != nil {
			if err := locker.Refresh(ctx, d.Index()); err != nil {
				return result, s.fail(logger, d.Stream, fmt.Errorf("refresh pass lock: %w", err))
			}
		}

		s.setState(d.Stream, types.StreamStateExtracting)
	}

	if !hasStored {
		if err := s.watermarks.Set(ctx, d.Stream, committed); err != nil {
			return result, s.fail(logger, d.Stream, fmt.Errorf("commit watermark: %w", err))
		}
	}

	if resync {
		if err := s.watermarks.ClearResync(ctx, d.Stream); err != nil {
			return result, s.fail(logger, d.Stream, err)
		}
	}

	result.Watermark = committed
	result.Duration = time.Since(start)
	s.recordSuccess(d.Stream, committed)

	logger.Info().
		Int("batches", result.Batches).
		Int("documents", result.Documents).
		Time("watermark", committed).
		Dur("duration", result.Duration).
		Msg("pass completed")

	return result, nil
}

func (s *Syncer) fail(logger zerolog.Logger, stream string, err error) error {
	s.mu.Lock()
	st := s.statusFor(stream)
	st.State = types.StreamStateFailed
	st.LastError = err.Error()
	st.LastPass = time.Now()
	s.mu.Unlock()

	logger.Error().Err(err).Msg("pass failed")
	return err
}

func (s *Syncer) setState(stream string, state types.StreamState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusFor(stream).State = state
}

func (s *Syncer) recordProgress(stream string, watermark time.Time, documents int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.statusFor(stream)
	st.Watermark = watermark
	st.Documents += documents
}

func (s *Syncer) recordSuccess(stream string, watermark time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.statusFor(stream)
	st.State = types.StreamStateIdle
	st.Watermark = watermark
	st.LastPass = time.Now()
	st.LastError = ""
	st.PassCount++
}

// statusFor must be called with s.mu held
func (s *Syncer) statusFor(stream string) *types.StreamStatus {
	st, ok := s.status[stream]
	if !ok {
		st = &types.StreamStatus{Stream: stream, State: types.StreamStateIdle}
		s.status[stream] = st
	}
	return st
}

// Status returns a snapshot of every stream's status
func (s *Syncer) Status() map[string]types.StreamStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := make(map[string]types.StreamStatus, len(s.status))
	for stream, st := range s.status {
		status[stream] = *st
	}
	return status
}
