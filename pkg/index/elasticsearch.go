package index

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/beam-cloud/indexsync/pkg/types"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/rs/zerolog/log"
)

// SearchEngine is the subset of Elasticsearch used by the schema manager and
// the bulk loader
type SearchEngine interface {
	IndexExists(ctx context.Context, name string) (bool, error)
	CreateIndex(ctx context.Context, name string, body []byte) error
	DeleteIndex(ctx context.Context, name string) error
	GetAnalysis(ctx context.Context, name string) (map[string]any, error)
	Bulk(ctx context.Context, body []byte) (*BulkResponse, error)
}

// BulkResponse is the decoded _bulk answer
type BulkResponse struct {
	Took   int                         `json:"took"`
	Errors bool                        `json:"errors"`
	Items  []map[string]BulkItemResult `json:"items"`
}

// BulkItemResult is the outcome of a single action in a bulk request
type BulkItemResult struct {
	Index  string         `json:"_index"`
	ID     string         `json:"_id"`
	Status int            `json:"status"`
	Result string         `json:"result,omitempty"`
	Error  *BulkItemError `json:"error,omitempty"`
}

type BulkItemError struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// Failures returns one entry per rejected item
func (r *BulkResponse) Failures() []types.BulkItemFailure {
	var failures []types.BulkItemFailure
	for _, item := range r.Items {
		for _, result := range item {
			if result.Error == nil && result.Status < 300 {
				continue
			}
			failure := types.BulkItemFailure{ID: result.ID, Status: result.Status}
			if result.Error != nil {
				failure.Type = result.Error.Type
				failure.Reason = result.Error.Reason
			}
			failures = append(failures, failure)
		}
	}
	return failures
}

// ElasticsearchClient implements SearchEngine with the official client.
// The client's own retries are disabled; callers own the retry policy.
type ElasticsearchClient struct {
	es      *elasticsearch.Client
	timeout time.Duration
	refresh string
}

// NewElasticsearchClient creates a client for the configured cluster
func NewElasticsearchClient(cfg types.ElasticsearchConfig) (*ElasticsearchClient, error) {
	if len(cfg.Addresses) == 0 {
		cfg.Addresses = []string{"http://localhost:9200"}
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:    cfg.Addresses,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DisableRetry: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}

	return &ElasticsearchClient{
		es:      es,
		timeout: cfg.Timeout,
		refresh: cfg.Refresh,
	}, nil
}

func (c *ElasticsearchClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// Ping fetches cluster info and logs the server version
func (c *ElasticsearchClient) Ping(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	res, err := c.es.Info(c.es.Info.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("elasticsearch info: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return responseError("info", res)
	}

	var info struct {
		ClusterName string `json:"cluster_name"`
		Version     struct {
			Number string `json:"number"`
		} `json:"version"`
	}
	if err := json.NewDecoder(res.Body).Decode(&info); err != nil {
		return fmt.Errorf("decode info: %w", err)
	}

	log.Info().
		Str("cluster", info.ClusterName).
		Str("version", info.Version.Number).
		Msg("connected to elasticsearch")
	return nil
}

func (c *ElasticsearchClient) IndexExists(ctx context.Context, name string) (bool, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	res, err := c.es.Indices.Exists([]string{name}, c.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("check index %s: %w", name, err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, responseError("exists "+name, res)
	}
}

func (c *ElasticsearchClient) CreateIndex(ctx context.Context, name string, body []byte) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	res, err := c.es.Indices.Create(
		name,
		c.es.Indices.Create.WithContext(ctx),
		c.es.Indices.Create.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return fmt.Errorf("create index %s: %w", name, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return responseError("create "+name, res)
	}
	return nil
}

func (c *ElasticsearchClient) DeleteIndex(ctx context.Context, name string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	res, err := c.es.Indices.Delete([]string{name}, c.es.Indices.Delete.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("delete index %s: %w", name, err)
	}
	defer res.Body.Close()

	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return responseError("delete "+name, res)
	}
	return nil
}

// GetAnalysis returns settings.index.analysis of a live index. An index
// without custom analysis yields an empty map.
func (c *ElasticsearchClient) GetAnalysis(ctx context.Context, name string) (map[string]any, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	res, err := c.es.Indices.GetSettings(
		c.es.Indices.GetSettings.WithIndex(name),
		c.es.Indices.GetSettings.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("get settings %s: %w", name, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, responseError("get settings "+name, res)
	}

	var body map[string]struct {
		Settings struct {
			Index struct {
				Analysis map[string]any `json:"analysis"`
			} `json:"index"`
		} `json:"settings"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode settings %s: %w", name, err)
	}

	entry, ok := body[name]
	if !ok {
		// name may be an alias, the response is keyed by the concrete index
		if len(body) != 1 {
			return nil, fmt.Errorf("settings response for %s has %d indices", name, len(body))
		}
		for _, v := range body {
			entry = v
		}
	}

	analysis := entry.Settings.Index.Analysis
	if analysis == nil {
		analysis = map[string]any{}
	}
	return analysis, nil
}

// Bulk sends an NDJSON body to the _bulk endpoint. Transport failures are
// returned as is, error statuses as *types.ErrElasticsearch.
func (c *ElasticsearchClient) Bulk(ctx context.Context, body []byte) (*BulkResponse, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	opts := []func(*esapi.BulkRequest){
		c.es.Bulk.WithContext(ctx),
	}
	if c.refresh != "" {
		opts = append(opts, c.es.Bulk.WithRefresh(c.refresh))
	}

	res, err := c.es.Bulk(bytes.NewReader(body), opts...)
	if err != nil {
		return nil, fmt.Errorf("bulk request: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, responseError("bulk", res)
	}

	var out BulkResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode bulk response: %w", err)
	}
	return &out, nil
}

func responseError(op string, res *esapi.Response) error {
	body, err := io.ReadAll(io.LimitReader(res.Body, 4096))
	if err != nil && !errors.Is(err, io.EOF) {
		body = []byte(err.Error())
	}
	return &types.ErrElasticsearch{
		Op:         op,
		StatusCode: res.StatusCode,
		Body:       string(bytes.TrimSpace(body)),
	}
}
