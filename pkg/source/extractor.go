package source

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/beam-cloud/indexsync/pkg/common"
	"github.com/beam-cloud/indexsync/pkg/index"
	"github.com/rs/zerolog/log"
)

// Extractor pages through rows changed since a watermark using a server-side cursor
type Extractor struct {
	opener CursorOpener
}

func NewExtractor(opener CursorOpener) *Extractor {
	return &Extractor{opener: opener}
}

// Extract returns the rows of d.Query with $1 = since, in batches of at most
// batchSize documents. The sequence is lazy: a batch is fetched only when the
// consumer asks for it, and stopping early closes the cursor. It ends after
// the first short fetch, or after the first error.
func (e *Extractor) Extract(ctx context.Context, d *index.Descriptor, since time.Time, batchSize int) iter.Seq2[*index.Batch, error] {
	return func(yield func(*index.Batch, error) bool) {
		if batchSize <= 0 {
			yield(nil, fmt.Errorf("invalid batch size %d", batchSize))
			return
		}

		name := common.CursorName(d.Stream)
		cursor, err := e.opener.Open(ctx, name, d.Query, since)
		if err != nil {
			yield(nil, err)
			return
		}
		defer func() {
			if err := cursor.Close(context.WithoutCancel(ctx)); err != nil {
				log.Warn().Err(err).Str("stream", d.Stream).Str("cursor", name).Msg("failed to close cursor")
			}
		}()

		for {
			batch, err := fetchBatch(ctx, cursor, d, batchSize)
			if err != nil {
				yield(nil, err)
				return
			}

			if batch.Len() > 0 && !yield(batch, nil) {
				return
			}

			if batch.Len() < batchSize {
				return
			}
		}
	}
}

func fetchBatch(ctx context.Context, cursor Cursor, d *index.Descriptor, n int) (*index.Batch, error) {
	rows, err := cursor.Fetch(ctx, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	batch := &index.Batch{
		Stream:    d.Stream,
		Documents: make([]index.Document, 0, n),
	}
	for rows.Next() {
		doc, err := d.Scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s row: %w", d.Stream, err)
		}
		batch.Documents = append(batch.Documents, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s rows: %w", d.Stream, err)
	}
	return batch, nil
}
