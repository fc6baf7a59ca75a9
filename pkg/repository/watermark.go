package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/beam-cloud/indexsync/pkg/common"
	"github.com/beam-cloud/indexsync/pkg/types"
)

const resyncValue = "true"

// WatermarkStore persists the last committed change date of every stream
// on top of a KeyValueStore. Values are RFC 3339 timestamps in UTC.
type WatermarkStore struct {
	kv KeyValueStore
}

func NewWatermarkStore(kv KeyValueStore) *WatermarkStore {
	return &WatermarkStore{kv: kv}
}

// Get returns the stored watermark. The zero time and false mean the stream
// was never synchronized.
func (s *WatermarkStore) Get(ctx context.Context, stream string) (time.Time, bool, error) {
	key := common.Keys.Watermark(stream)
	raw, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("get watermark %s: %w", stream, err)
	}
	if !ok {
		return time.Time{}, false, nil
	}

	t, err := ParseWatermark(raw)
	if err != nil {
		return time.Time{}, false, &types.ErrInvalidWatermark{Key: key, Value: raw, Err: err}
	}
	return t, true, nil
}

// Set stores t unless it is older than the current watermark
func (s *WatermarkStore) Set(ctx context.Context, stream string, t time.Time) error {
	current, ok, err := s.Get(ctx, stream)
	if err != nil {
		return err
	}
	if ok && t.Before(current) {
		return &types.ErrWatermarkRegression{Stream: stream, Current: current, Next: t}
	}
	return s.Overwrite(ctx, stream, t)
}

// Overwrite stores t without the monotonic check
func (s *WatermarkStore) Overwrite(ctx context.Context, stream string, t time.Time) error {
	if err := s.kv.Set(ctx, common.Keys.Watermark(stream), FormatWatermark(t)); err != nil {
		return fmt.Errorf("set watermark %s: %w", stream, err)
	}
	return nil
}

// Reset removes the watermark so the next pass starts from the beginning
func (s *WatermarkStore) Reset(ctx context.Context, stream string) error {
	if err := s.kv.Delete(ctx, common.Keys.Watermark(stream)); err != nil {
		return fmt.Errorf("reset watermark %s: %w", stream, err)
	}
	return nil
}

func (s *WatermarkStore) ResyncPending(ctx context.Context, stream string) (bool, error) {
	raw, ok, err := s.kv.Get(ctx, common.Keys.ResyncPending(stream))
	if err != nil {
		return false, fmt.Errorf("get resync marker %s: %w", stream, err)
	}
	return ok && raw == resyncValue, nil
}

func (s *WatermarkStore) MarkResync(ctx context.Context, stream string) error {
	if err := s.kv.Set(ctx, common.Keys.ResyncPending(stream), resyncValue); err != nil {
		return fmt.Errorf("mark resync %s: %w", stream, err)
	}
	return nil
}

func (s *WatermarkStore) ClearResync(ctx context.Context, stream string) error {
	if err := s.kv.Delete(ctx, common.Keys.ResyncPending(stream)); err != nil {
		return fmt.Errorf("clear resync %s: %w", stream, err)
	}
	return nil
}

// List returns every stored watermark keyed by stream
func (s *WatermarkStore) List(ctx context.Context) (map[string]time.Time, error) {
	keys, err := s.kv.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list watermarks: %w", err)
	}

	suffix := common.Keys.WatermarkSuffix()
	out := make(map[string]time.Time)
	for _, key := range keys {
		if !strings.HasSuffix(key, suffix) {
			continue
		}
		stream := strings.TrimSuffix(key, suffix)
		t, ok, err := s.Get(ctx, stream)
		if err != nil {
			return nil, err
		}
		if ok {
			out[stream] = t
		}
	}
	return out, nil
}

// FormatWatermark renders t as an RFC 3339 UTC timestamp
func FormatWatermark(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseWatermark accepts any RFC 3339 timestamp and normalizes it to UTC
func ParseWatermark(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
