package index

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/beam-cloud/indexsync/pkg/common"
	"github.com/beam-cloud/indexsync/pkg/types"
	"github.com/rs/zerolog/log"
)

// BulkLoader writes batches of documents with the _bulk API
type BulkLoader struct {
	engine  SearchEngine
	backoff *common.Backoff
}

func NewBulkLoader(engine SearchEngine, backoff *common.Backoff) *BulkLoader {
	return &BulkLoader{engine: engine, backoff: backoff}
}

type bulkAction struct {
	Index bulkMeta `json:"index"`
}

type bulkMeta struct {
	Index string `json:"_index"`
	ID    string `json:"_id"`
}

// BuildBulkBody renders one index action per document as NDJSON
func BuildBulkBody(index string, docs []Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for _, doc := range docs {
		if err := enc.Encode(bulkAction{Index: bulkMeta{Index: index, ID: doc.DocumentID()}}); err != nil {
			return nil, fmt.Errorf("encode action for %s: %w", doc.DocumentID(), err)
		}
		if err := enc.Encode(doc); err != nil {
			return nil, fmt.Errorf("encode document %s: %w", doc.DocumentID(), err)
		}
	}
	return buf.Bytes(), nil
}

// Load upserts docs into index. It returns nil only when every document was
// accepted. Rejections are reported as *types.ErrBulkRejected, and a request
// that kept failing transiently as *types.ErrRetryExhausted.
func (l *BulkLoader) Load(ctx context.Context, index string, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	body, err := BuildBulkBody(index, docs)
	if err != nil {
		return err
	}

	start := time.Now()
	err = l.backoff.Do(ctx, "bulk "+index, func(ctx context.Context) error {
		res, err := l.engine.Bulk(ctx, body)
		if err != nil {
			return err
		}

		if failures := res.Failures(); res.Errors || len(failures) > 0 {
			return &types.ErrBulkRejected{Index: index, Total: len(docs), Failures: failures}
		}
		return nil
	}, isRetryable)
	if err != nil {
		return err
	}

	log.Debug().
		Str("index", index).
		Int("documents", len(docs)).
		Dur("duration", time.Since(start)).
		Msg("bulk load complete")
	return nil
}

// isRetryable accepts transport failures and request timeouts, 429 and 5xx
// answers, and partial rejections whose items all failed with 429 or 5xx
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}

	var esErr *types.ErrElasticsearch
	if errors.As(err, &esErr) {
		return esErr.Transient()
	}

	var rejected *types.ErrBulkRejected
	if errors.As(err, &rejected) {
		return rejected.Transient()
	}

	return true
}
