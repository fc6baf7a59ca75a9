package repository

import (
	"context"
	"time"
)

// KeyValueStore is the durable string store behind the watermark store.
// A successful Set is visible to every later Get, including after a restart.
type KeyValueStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
	Close() error
}

// WatermarkRepository tracks per-stream sync progress
type WatermarkRepository interface {
	Get(ctx context.Context, stream string) (time.Time, bool, error)
	Set(ctx context.Context, stream string, t time.Time) error
	Overwrite(ctx context.Context, stream string, t time.Time) error
	Reset(ctx context.Context, stream string) error
	ResyncPending(ctx context.Context, stream string) (bool, error)
	MarkResync(ctx context.Context, stream string) error
	ClearResync(ctx context.Context, stream string) error
	List(ctx context.Context) (map[string]time.Time, error)
}
