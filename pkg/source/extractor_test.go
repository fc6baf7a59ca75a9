package source

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/beam-cloud/indexsync/pkg/index"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testDoc struct {
	id      string
	changed time.Time
}

func (d *testDoc) DocumentID() string    { return d.id }
func (d *testDoc) ChangeDate() time.Time { return d.changed }

type fakeRows struct {
	ids    []string
	pos    int
	closed bool
}

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.ids) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	*(dest[0].(*string)) = r.ids[r.pos-1]
	return nil
}

func (r *fakeRows) Err() error   { return nil }
func (r *fakeRows) Close() error { r.closed = true; return nil }

// fakeCursor serves ids in pages of at most n
type fakeCursor struct {
	ids      []string
	offset   int
	fetches  []int
	fetchErr error
	closed   bool
}

func (c *fakeCursor) Fetch(ctx context.Context, n int) (Rows, error) {
	c.fetches = append(c.fetches, n)
	if c.fetchErr != nil {
		return nil, c.fetchErr
	}
	end := min(c.offset+n, len(c.ids))
	rows := &fakeRows{ids: c.ids[c.offset:end]}
	c.offset = end
	return rows, nil
}

func (c *fakeCursor) Close(ctx context.Context) error {
	c.closed = true
	return nil
}

type fakeOpener struct {
	cursor *fakeCursor
	name   string
	query  string
	args   []any
	err    error
}

func (o *fakeOpener) Open(ctx context.Context, name, query string, args ...any) (Cursor, error) {
	if o.err != nil {
		return nil, o.err
	}
	o.name, o.query, o.args = name, query, args
	return o.cursor, nil
}

func testDescriptor() *index.Descriptor {
	return &index.Descriptor{
		Stream: "genre",
		Query:  "SELECT id FROM content.genre WHERE modified >= $1 ORDER BY id",
		Scan: func(row index.RowScanner) (index.Document, error) {
			doc := &testDoc{changed: time.Now()}
			if err := row.Scan(&doc.id); err != nil {
				return nil, err
			}
			return doc, nil
		},
	}
}

func collect(t *testing.T, e *Extractor, since time.Time, batchSize int) ([][]string, error) {
	t.Helper()
	var batches [][]string
	for batch, err := range e.Extract(context.Background(), testDescriptor(), since, batchSize) {
		if err != nil {
			return batches, err
		}
		var ids []string
		for _, doc := range batch.Documents {
			ids = append(ids, doc.DocumentID())
		}
		batches = append(batches, ids)
	}
	return batches, nil
}

func TestExtractPaginates(t *testing.T) {
	cursor := &fakeCursor{ids: []string{"a", "b", "c", "d", "e"}}
	opener := &fakeOpener{cursor: cursor}
	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	batches, err := collect(t, NewExtractor(opener), since, 2)
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"a", "b"}, {"c", "d"}, {"e"}}, batches)
	assert.Equal(t, []int{2, 2, 2}, cursor.fetches)
	assert.True(t, cursor.closed)
	assert.Equal(t, []any{since}, opener.args)
	assert.Contains(t, opener.name, "indexsync_genre_")
}

func TestExtractStopsAfterEmptyFetch(t *testing.T) {
	cursor := &fakeCursor{ids: []string{"a", "b", "c", "d"}}

	batches, err := collect(t, NewExtractor(&fakeOpener{cursor: cursor}), time.Time{}, 2)
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"a", "b"}, {"c", "d"}}, batches)
	assert.Equal(t, []int{2, 2, 2}, cursor.fetches, "a full page requires one more fetch to detect the end")
}

func TestExtractEmptySource(t *testing.T) {
	cursor := &fakeCursor{}

	batches, err := collect(t, NewExtractor(&fakeOpener{cursor: cursor}), time.Time{}, 100)
	require.NoError(t, err)
	assert.Empty(t, batches)
	assert.True(t, cursor.closed)
}

func TestExtractIsLazyAndClosesOnBreak(t *testing.T) {
	cursor := &fakeCursor{ids: []string{"a", "b", "c", "d", "e"}}
	e := NewExtractor(&fakeOpener{cursor: cursor})

	for batch, err := range e.Extract(context.Background(), testDescriptor(), time.Time{}, 2) {
		require.NoError(t, err)
		assert.Equal(t, 2, batch.Len())
		break
	}

	assert.Equal(t, []int{2}, cursor.fetches)
	assert.True(t, cursor.closed)
}

func TestExtractFetchError(t *testing.T) {
	cursor := &fakeCursor{fetchErr: errors.New("connection reset")}

	_, err := collect(t, NewExtractor(&fakeOpener{cursor: cursor}), time.Time{}, 10)
	assert.ErrorContains(t, err, "connection reset")
	assert.True(t, cursor.closed)
}

func TestExtractOpenError(t *testing.T) {
	_, err := collect(t, NewExtractor(&fakeOpener{err: errors.New("too many connections")}), time.Time{}, 10)
	assert.ErrorContains(t, err, "too many connections")
}

func TestExtractRejectsInvalidBatchSize(t *testing.T) {
	_, err := collect(t, NewExtractor(&fakeOpener{cursor: &fakeCursor{}}), time.Time{}, 0)
	assert.Error(t, err)
}
