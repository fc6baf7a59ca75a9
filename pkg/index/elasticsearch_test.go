package index

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/beam-cloud/indexsync/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const liveSettings = `{
	"movies": {
		"settings": {
			"index": {
				"refresh_interval": "1s",
				"number_of_shards": "1",
				"analysis": {
					"filter": {
						"english_stop": {"type": "stop", "stopwords": "_english_"}
					},
					"analyzer": {
						"ru_en": {"filter": ["lowercase", "english_stop"], "tokenizer": "standard"}
					}
				}
			}
		}
	}
}`

type esServer struct {
	mu       sync.Mutex
	indexes  map[string]bool
	requests []string
	bulkCode int
	lastBody string
	refresh  string
}

func newESServer(t *testing.T) (*esServer, *ElasticsearchClient) {
	s := &esServer{indexes: map[string]bool{}, bulkCode: http.StatusOK}
	server := httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(server.Close)

	client, err := NewElasticsearchClient(types.ElasticsearchConfig{
		Addresses: []string{server.URL},
	})
	require.NoError(t, err)
	return s, client
}

func (s *esServer) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, r.Method+" "+r.URL.Path)
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")

	body, _ := io.ReadAll(r.Body)

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/":
		io.WriteString(w, `{"cluster_name":"test","version":{"number":"8.18.1"}}`)
	case r.Method == http.MethodHead && r.URL.Path == "/movies":
		if !s.indexes["movies"] {
			w.WriteHeader(http.StatusNotFound)
		}
	case r.Method == http.MethodPut && r.URL.Path == "/movies":
		s.indexes["movies"] = true
		s.lastBody = string(body)
		io.WriteString(w, `{"acknowledged":true,"index":"movies"}`)
	case r.Method == http.MethodDelete && r.URL.Path == "/movies":
		delete(s.indexes, "movies")
		io.WriteString(w, `{"acknowledged":true}`)
	case r.Method == http.MethodGet && r.URL.Path == "/movies/_settings":
		io.WriteString(w, liveSettings)
	case r.URL.Path == "/_bulk":
		s.lastBody = string(body)
		s.refresh = r.URL.Query().Get("refresh")
		if s.bulkCode != http.StatusOK {
			w.WriteHeader(s.bulkCode)
			io.WriteString(w, `{"error":{"type":"unavailable"},"status":503}`)
			return
		}
		io.WriteString(w, `{"took":1,"errors":false,"items":[{"index":{"_index":"movies","_id":"a","status":201,"result":"created"}}]}`)
	default:
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":"unexpected request"}`)
	}
}

func TestElasticsearchClientIndexLifecycle(t *testing.T) {
	server, client := newESServer(t)
	ctx := context.Background()

	require.NoError(t, client.Ping(ctx))

	exists, err := client.IndexExists(ctx, "movies")
	require.NoError(t, err)
	assert.False(t, exists)

	body, err := testSchema("movies").Body()
	require.NoError(t, err)
	require.NoError(t, client.CreateIndex(ctx, "movies", body))
	assert.JSONEq(t, string(body), server.lastBody)

	exists, err = client.IndexExists(ctx, "movies")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, client.DeleteIndex(ctx, "movies"))
	exists, err = client.IndexExists(ctx, "movies")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestElasticsearchClientGetAnalysis(t *testing.T) {
	_, client := newESServer(t)

	live, err := client.GetAnalysis(context.Background(), "movies")
	require.NoError(t, err)

	declared, err := testSchema("movies").AnalysisMap()
	require.NoError(t, err)
	assert.True(t, AnalysisEqual(declared, live))
}

func TestElasticsearchClientBulk(t *testing.T) {
	server, client := newESServer(t)
	client.refresh = "wait_for"

	body, err := BuildBulkBody("movies", testDocs(1))
	require.NoError(t, err)

	res, err := client.Bulk(context.Background(), body)
	require.NoError(t, err)
	assert.False(t, res.Errors)
	assert.Empty(t, res.Failures())
	assert.Equal(t, string(body), server.lastBody)
	assert.Equal(t, "wait_for", server.refresh)
}

func TestElasticsearchClientBulkErrorStatus(t *testing.T) {
	server, client := newESServer(t)
	server.bulkCode = http.StatusServiceUnavailable

	body, err := BuildBulkBody("movies", testDocs(1))
	require.NoError(t, err)

	_, err = client.Bulk(context.Background(), body)
	var esErr *types.ErrElasticsearch
	require.ErrorAs(t, err, &esErr)
	assert.Equal(t, http.StatusServiceUnavailable, esErr.StatusCode)
	assert.True(t, esErr.Transient())
	assert.True(t, isRetryable(err))
}
