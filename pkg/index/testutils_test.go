package index

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"
)

type testDoc struct {
	ID      string    `json:"id"`
	Title   string    `json:"title"`
	Changed time.Time `json:"last_change_date"`
}

func (d *testDoc) DocumentID() string    { return d.ID }
func (d *testDoc) ChangeDate() time.Time { return d.Changed }

func testAnalysis() Analysis {
	return Analysis{
		Filter: map[string]map[string]any{
			"english_stop": {"type": "stop", "stopwords": "_english_"},
		},
		Analyzer: map[string]map[string]any{
			"ru_en": {
				"tokenizer": "standard",
				"filter":    []string{"lowercase", "english_stop"},
			},
		},
	}
}

func testSchema(name string) IndexSchema {
	return IndexSchema{
		Name: name,
		Settings: IndexSettings{
			RefreshInterval: "1s",
			Analysis:        testAnalysis(),
		},
		Mappings: Mappings{
			Dynamic: "strict",
			Properties: map[string]Property{
				"id":               {Type: "keyword"},
				"title":            {Type: "text", Analyzer: "ru_en"},
				"last_change_date": {Type: "keyword"},
			},
		},
	}
}

// fakeEngine is an in-memory SearchEngine
type fakeEngine struct {
	mu sync.Mutex

	indexes   map[string]map[string]any // name -> live analysis
	documents map[string]map[string]json.RawMessage

	existsErr   error
	analysisErr error

	// bulkResults are consumed one per Bulk call; when empty Bulk accepts everything
	bulkResults []func(body []byte) (*BulkResponse, error)

	calls      []string
	bulkBodies [][]byte
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		indexes:   map[string]map[string]any{},
		documents: map[string]map[string]json.RawMessage{},
	}
}

func (f *fakeEngine) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeEngine) IndexExists(ctx context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("exists " + name)
	if f.existsErr != nil {
		return false, f.existsErr
	}
	_, ok := f.indexes[name]
	return ok, nil
}

func (f *fakeEngine) CreateIndex(ctx context.Context, name string, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("create " + name)

	var decoded struct {
		Settings struct {
			Analysis map[string]any `json:"analysis"`
		} `json:"settings"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return err
	}
	f.indexes[name] = decoded.Settings.Analysis
	f.documents[name] = map[string]json.RawMessage{}
	return nil
}

func (f *fakeEngine) DeleteIndex(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("delete " + name)
	delete(f.indexes, name)
	delete(f.documents, name)
	return nil
}

func (f *fakeEngine) GetAnalysis(ctx context.Context, name string) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("settings " + name)
	if f.analysisErr != nil {
		return nil, f.analysisErr
	}
	return f.indexes[name], nil
}

func (f *fakeEngine) Bulk(ctx context.Context, body []byte) (*BulkResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("bulk")
	f.bulkBodies = append(f.bulkBodies, body)

	if len(f.bulkResults) > 0 {
		next := f.bulkResults[0]
		f.bulkResults = f.bulkResults[1:]
		res, err := next(body)
		if err != nil || res != nil {
			return res, err
		}
	}

	return f.apply(body)
}

// apply indexes every action of an NDJSON body
func (f *fakeEngine) apply(body []byte) (*BulkResponse, error) {
	res := &BulkResponse{}
	dec := json.NewDecoder(bytes.NewReader(body))
	for dec.More() {
		var action bulkAction
		if err := dec.Decode(&action); err != nil {
			return nil, err
		}
		var doc json.RawMessage
		if err := dec.Decode(&doc); err != nil {
			return nil, err
		}
		docs, ok := f.documents[action.Index.Index]
		if !ok {
			docs = map[string]json.RawMessage{}
			f.documents[action.Index.Index] = docs
		}
		docs[action.Index.ID] = doc
		res.Items = append(res.Items, map[string]BulkItemResult{
			"index": {Index: action.Index.Index, ID: action.Index.ID, Status: 200, Result: "created"},
		})
	}
	return res, nil
}

func (f *fakeEngine) docCount(index string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.documents[index])
}

func (f *fakeEngine) callCount(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}
