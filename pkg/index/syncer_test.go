package index

import (
	"context"
	"errors"
	"iter"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/beam-cloud/indexsync/pkg/common"
	"github.com/beam-cloud/indexsync/pkg/repository"
	"github.com/beam-cloud/indexsync/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	t1 = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	t2 = t1.Add(time.Hour)
	t3 = t2.Add(time.Hour)
)

// fakeExtractor serves in-memory rows per stream, filtered by change date
// and ordered by id like the real queries
type fakeExtractor struct {
	mu     sync.Mutex
	rows   map[string][]*testDoc
	since  map[string][]time.Time
	errFor map[string]error
}

func newFakeExtractor() *fakeExtractor {
	return &fakeExtractor{
		rows:   map[string][]*testDoc{},
		since:  map[string][]time.Time{},
		errFor: map[string]error{},
	}
}

func (e *fakeExtractor) add(stream string, docs ...*testDoc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rows[stream] = append(e.rows[stream], docs...)
}

func (e *fakeExtractor) sinceFor(stream string) []time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]time.Time(nil), e.since[stream]...)
}

func (e *fakeExtractor) Extract(ctx context.Context, d *Descriptor, since time.Time, batchSize int) iter.Seq2[*Batch, error] {
	return func(yield func(*Batch, error) bool) {
		e.mu.Lock()
		e.since[d.Stream] = append(e.since[d.Stream], since)
		err := e.errFor[d.Stream]
		var matched []*testDoc
		for _, doc := range e.rows[d.Stream] {
			if !doc.Changed.Before(since) {
				matched = append(matched, doc)
			}
		}
		e.mu.Unlock()

		if err != nil {
			yield(nil, err)
			return
		}

		sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
		for start := 0; start < len(matched); start += batchSize {
			end := min(start+batchSize, len(matched))
			batch := &Batch{Stream: d.Stream}
			for _, doc := range matched[start:end] {
				batch.Documents = append(batch.Documents, doc)
			}
			if !yield(batch, nil) {
				return
			}
		}
	}
}

type syncerHarness struct {
	engine     *fakeEngine
	extractor  *fakeExtractor
	kv         *repository.MemoryStore
	watermarks *repository.WatermarkStore
	syncer     *Syncer
}

func newSyncerHarness(t *testing.T, streams ...string) *syncerHarness {
	t.Helper()
	kv := repository.NewMemoryStore()
	return newSyncerHarnessWithStore(t, kv, kv, streams...)
}

// newSyncerHarnessWithStore keeps watermarks in store, which may wrap kv
func newSyncerHarnessWithStore(t *testing.T, kv *repository.MemoryStore, store repository.KeyValueStore, streams ...string) *syncerHarness {
	t.Helper()

	registry := NewRegistry()
	for _, stream := range streams {
		registry.Register(&Descriptor{Stream: stream, Schema: testSchema(stream + "_index")})
	}

	engine := newFakeEngine()
	backoff := common.NewBackoff(types.RetryConfig{MaxAttempts: 3})
	backoff.Sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }

	watermarks := repository.NewWatermarkStore(store)
	extractor := newFakeExtractor()

	syncer := NewSyncer(registry, NewSchemaManager(engine), extractor, NewBulkLoader(engine, backoff), watermarks)
	syncer.SetConfig(SyncerConfig{Interval: 10 * time.Millisecond, BatchSize: 2})

	return &syncerHarness{
		engine:     engine,
		extractor:  extractor,
		kv:         kv,
		watermarks: watermarks,
		syncer:     syncer,
	}
}

func (h *syncerHarness) watermark(t *testing.T, stream string) (time.Time, bool) {
	t.Helper()
	wm, ok, err := h.watermarks.Get(context.Background(), stream)
	require.NoError(t, err)
	return wm, ok
}

func TestSyncFullResyncFromEmptyStore(t *testing.T) {
	h := newSyncerHarness(t, "movie")
	h.extractor.add("movie",
		&testDoc{ID: "a", Changed: t1},
		&testDoc{ID: "b", Changed: t2},
	)

	result, err := h.syncer.SyncStreamByName(context.Background(), "movie")
	require.NoError(t, err)

	assert.Equal(t, 2, result.Documents)
	assert.Equal(t, 1, result.Batches)
	assert.True(t, result.Since.IsZero())
	assert.Equal(t, 2, h.engine.docCount("movie_index"))

	wm, ok := h.watermark(t, "movie")
	assert.True(t, ok)
	assert.True(t, wm.Equal(t2))
	assert.Equal(t, "2024-01-01T11:00:00Z", h.kv.Values["movie_index_last_sync_state"])
}

func TestSyncIsIdempotent(t *testing.T) {
	h := newSyncerHarness(t, "movie")
	h.extractor.add("movie",
		&testDoc{ID: "a", Changed: t1},
		&testDoc{ID: "b", Changed: t2},
		&testDoc{ID: "c", Changed: t2},
	)
	ctx := context.Background()

	_, err := h.syncer.SyncStreamByName(ctx, "movie")
	require.NoError(t, err)
	first, _ := h.watermark(t, "movie")

	result, err := h.syncer.SyncStreamByName(ctx, "movie")
	require.NoError(t, err)
	second, _ := h.watermark(t, "movie")

	assert.True(t, first.Equal(second))
	assert.Equal(t, 3, h.engine.docCount("movie_index"))
	// the inclusive lower bound re-reads rows changed at the watermark
	assert.Equal(t, 2, result.Documents)
	assert.Equal(t, []time.Time{{}, t2}, h.extractor.sinceFor("movie"))
}

func TestSyncCrashMidPassResumesFromLastCommittedBatch(t *testing.T) {
	h := newSyncerHarness(t, "movie")
	h.extractor.add("movie",
		&testDoc{ID: "a", Changed: t1},
		&testDoc{ID: "b", Changed: t1},
		&testDoc{ID: "c", Changed: t2},
		&testDoc{ID: "d", Changed: t3},
	)
	ctx := context.Background()

	// the first bulk succeeds, the second is rejected permanently
	h.engine.bulkResults = []func([]byte) (*BulkResponse, error){
		func(body []byte) (*BulkResponse, error) { return nil, nil },
		func(body []byte) (*BulkResponse, error) {
			return nil, &types.ErrElasticsearch{Op: "bulk", StatusCode: 400}
		},
	}

	_, err := h.syncer.SyncStreamByName(ctx, "movie")
	require.Error(t, err)

	wm, ok := h.watermark(t, "movie")
	require.True(t, ok)
	assert.True(t, wm.Equal(t1), "watermark stays at the last committed batch")
	assert.Equal(t, types.StreamStateFailed, h.syncer.Status()["movie"].State)

	_, err = h.syncer.SyncStreamByName(ctx, "movie")
	require.NoError(t, err)

	wm, _ = h.watermark(t, "movie")
	assert.True(t, wm.Equal(t3))
	assert.Equal(t, 4, h.engine.docCount("movie_index"))
	assert.Equal(t, []time.Time{{}, t1}, h.extractor.sinceFor("movie"))
	assert.Equal(t, types.StreamStateIdle, h.syncer.Status()["movie"].State)
}

func TestSyncEmptySourcePersistsWatermark(t *testing.T) {
	h := newSyncerHarness(t, "genre")

	result, err := h.syncer.SyncStreamByName(context.Background(), "genre")
	require.NoError(t, err)
	assert.Zero(t, result.Documents)

	wm, ok := h.watermark(t, "genre")
	assert.True(t, ok)
	assert.True(t, wm.IsZero())
	assert.Equal(t, "0001-01-01T00:00:00Z", h.kv.Values["genre_index_last_sync_state"])
}

func TestSyncNeverLowersWatermark(t *testing.T) {
	h := newSyncerHarness(t, "genre")
	ctx := context.Background()
	require.NoError(t, h.watermarks.Set(ctx, "genre", t3))
	h.engine.indexes["genre_index"] = mustAnalysis(t)

	// a late row older than the watermark is never selected
	h.extractor.add("genre", &testDoc{ID: "a", Changed: t1})

	_, err := h.syncer.SyncStreamByName(ctx, "genre")
	require.NoError(t, err)

	wm, _ := h.watermark(t, "genre")
	assert.True(t, wm.Equal(t3))
	assert.Equal(t, []time.Time{t3}, h.extractor.sinceFor("genre"))
}

func TestSyncRecreatedIndexForcesFullResync(t *testing.T) {
	h := newSyncerHarness(t, "person")
	ctx := context.Background()
	h.extractor.add("person",
		&testDoc{ID: "a", Changed: t1},
		&testDoc{ID: "b", Changed: t2},
	)
	require.NoError(t, h.watermarks.Set(ctx, "person", t3))

	// the live index carries an outdated analyzer
	h.engine.indexes["person_index"] = map[string]any{
		"analyzer": map[string]any{"old": map[string]any{"tokenizer": "whitespace"}},
	}

	result, err := h.syncer.SyncStreamByName(ctx, "person")
	require.NoError(t, err)

	assert.True(t, result.Recreated)
	assert.True(t, result.Since.IsZero())
	assert.Equal(t, 2, h.engine.docCount("person_index"))

	wm, _ := h.watermark(t, "person")
	assert.True(t, wm.Equal(t3), "resync must not lower the stored watermark")

	pending, err := h.watermarks.ResyncPending(ctx, "person")
	require.NoError(t, err)
	assert.False(t, pending)

	// the next pass is incremental again
	_, err = h.syncer.SyncStreamByName(ctx, "person")
	require.NoError(t, err)
	assert.Equal(t, []time.Time{{}, t3}, h.extractor.sinceFor("person"))
}

func TestSyncResyncSurvivesFailedPass(t *testing.T) {
	h := newSyncerHarness(t, "person")
	ctx := context.Background()
	require.NoError(t, h.watermarks.Set(ctx, "person", t3))
	h.engine.indexes["person_index"] = map[string]any{}
	h.extractor.errFor["person"] = errors.New("connection reset")

	_, err := h.syncer.SyncStreamByName(ctx, "person")
	require.Error(t, err)

	pending, err := h.watermarks.ResyncPending(ctx, "person")
	require.NoError(t, err)
	assert.True(t, pending, "an interrupted resync is resumed by the next pass")

	delete(h.extractor.errFor, "person")
	_, err = h.syncer.SyncStreamByName(ctx, "person")
	require.NoError(t, err)
	assert.Equal(t, []time.Time{{}, {}}, h.extractor.sinceFor("person"))
}

// flakyStore fails the first Set of failKey
type flakyStore struct {
	*repository.MemoryStore
	failKey string
	failed  bool
}

func (f *flakyStore) Set(ctx context.Context, key, value string) error {
	if key == f.failKey && !f.failed {
		f.failed = true
		return errors.New("state store unavailable")
	}
	return f.MemoryStore.Set(ctx, key, value)
}

func TestSyncResyncMarkerStoredBeforeIndexCreated(t *testing.T) {
	kv := repository.NewMemoryStore()
	store := &flakyStore{MemoryStore: kv, failKey: common.Keys.ResyncPending("person")}
	h := newSyncerHarnessWithStore(t, kv, store, "person")
	ctx := context.Background()

	h.extractor.add("person",
		&testDoc{ID: "a", Changed: t1},
		&testDoc{ID: "b", Changed: t2},
	)
	require.NoError(t, h.watermarks.Set(ctx, "person", t3))

	_, err := h.syncer.SyncStreamByName(ctx, "person")
	require.ErrorContains(t, err, "state store unavailable")
	assert.NotContains(t, h.engine.indexes, "person_index", "the index is not created without a marker")
	assert.Empty(t, h.extractor.sinceFor("person"))

	result, err := h.syncer.SyncStreamByName(ctx, "person")
	require.NoError(t, err)
	assert.True(t, result.Since.IsZero())
	assert.Equal(t, 2, result.Documents)
	assert.Equal(t, 2, h.engine.docCount("person_index"))

	wm, _ := h.watermark(t, "person")
	assert.True(t, wm.Equal(t3))

	pending, err := h.watermarks.ResyncPending(ctx, "person")
	require.NoError(t, err)
	assert.False(t, pending)
}

func TestSyncRetriesTransientBulkFailures(t *testing.T) {
	h := newSyncerHarness(t, "movie")
	h.extractor.add("movie",
		&testDoc{ID: "a", Changed: t1},
		&testDoc{ID: "b", Changed: t2},
	)
	unavailable := func(body []byte) (*BulkResponse, error) {
		return nil, &types.ErrElasticsearch{Op: "bulk", StatusCode: 503}
	}
	h.engine.bulkResults = []func([]byte) (*BulkResponse, error){unavailable, unavailable}

	result, err := h.syncer.SyncStreamByName(context.Background(), "movie")
	require.NoError(t, err)

	assert.Equal(t, 2, result.Documents)
	assert.Equal(t, 3, h.engine.callCount("bulk"))
	assert.Equal(t, 2, h.engine.docCount("movie_index"))

	wm, ok := h.watermark(t, "movie")
	require.True(t, ok)
	assert.True(t, wm.Equal(t2))
	assert.Equal(t, types.StreamStateIdle, h.syncer.Status()["movie"].State)
}

func TestSyncRejectsMissingChangeDate(t *testing.T) {
	h := newSyncerHarness(t, "movie")
	h.extractor.add("movie", &testDoc{ID: "a", Changed: time.Time{}})

	_, err := h.syncer.SyncStreamByName(context.Background(), "movie")

	var missing *types.ErrMissingChangeDate
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "a", missing.ID)
	assert.Zero(t, h.engine.callCount("bulk"))

	_, ok := h.watermark(t, "movie")
	assert.False(t, ok)
}

func TestRunCycleContinuesAfterFailure(t *testing.T) {
	h := newSyncerHarness(t, "movie", "genre", "person")
	h.extractor.add("movie", &testDoc{ID: "m", Changed: t1})
	h.extractor.add("person", &testDoc{ID: "p", Changed: t2})
	h.extractor.errFor["genre"] = errors.New("relation content.genre does not exist")

	results, err := h.syncer.RunCycle(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "genre")
	assert.Len(t, results, 2)

	status := h.syncer.Status()
	assert.Equal(t, types.StreamStateIdle, status["movie"].State)
	assert.Equal(t, types.StreamStateFailed, status["genre"].State)
	assert.NotEmpty(t, status["genre"].LastError)
	assert.Equal(t, types.StreamStateIdle, status["person"].State)
	assert.Equal(t, 1, status["person"].PassCount)
	assert.True(t, status["person"].Watermark.Equal(t2))
}

func TestRunCycleSelectsStreams(t *testing.T) {
	h := newSyncerHarness(t, "movie", "genre", "person")
	h.syncer.SetConfig(SyncerConfig{Interval: time.Second, BatchSize: 10, Streams: []string{"person", "movie"}})

	results, err := h.syncer.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "person", results[0].Stream)
	assert.Equal(t, "movie", results[1].Stream)
	assert.Empty(t, h.extractor.sinceFor("genre"))

	h.syncer.SetConfig(SyncerConfig{Streams: []string{"series"}})
	_, err = h.syncer.RunCycle(context.Background())
	assert.True(t, (&types.ErrStreamNotFound{}).From(err))
}

func TestSyncerStartStop(t *testing.T) {
	h := newSyncerHarness(t, "movie")
	h.extractor.add("movie", &testDoc{ID: "a", Changed: t1})

	h.syncer.Start(context.Background())
	assert.True(t, h.syncer.IsRunning())

	assert.Eventually(t, func() bool {
		return h.syncer.Status()["movie"].PassCount >= 2
	}, 2*time.Second, 5*time.Millisecond)

	h.syncer.Stop()
	assert.False(t, h.syncer.IsRunning())
	assert.GreaterOrEqual(t, h.syncer.Status()["movie"].PassCount, 2)
}

func TestSyncPassLockExcludesConcurrentPass(t *testing.T) {
	rdb, err := repository.NewRedisClientForTest()
	require.NoError(t, err)
	defer rdb.Close()

	h := newSyncerHarness(t, "movie")
	h.extractor.add("movie", &testDoc{ID: "a", Changed: t1})
	h.syncer.SetLocker(NewRedisPassLocker(rdb, types.LockConfig{Enabled: true, TTL: time.Minute}))

	other := NewRedisPassLocker(rdb, types.LockConfig{Enabled: true, TTL: time.Minute})
	ctx := context.Background()
	require.NoError(t, other.Acquire(ctx, "movie_index"))

	_, err = h.syncer.SyncStreamByName(ctx, "movie")
	assert.ErrorContains(t, err, "pass lock")
	assert.Zero(t, h.engine.callCount("exists"))

	require.NoError(t, other.Release("movie_index"))

	_, err = h.syncer.SyncStreamByName(ctx, "movie")
	require.NoError(t, err)
	assert.Equal(t, 1, h.engine.docCount("movie_index"))
}

func mustAnalysis(t *testing.T) map[string]any {
	t.Helper()
	analysis, err := testSchema("any").AnalysisMap()
	require.NoError(t, err)
	return analysis
}
