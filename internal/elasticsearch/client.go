package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/newsline/backend/internal/articles"
	"github.com/newsline/backend/internal/models"
)

var (
	// ErrConflict signals a lost compare-and-swap race on a document.
	ErrConflict = errors.New("document version conflict")
	// ErrNotFound signals a missing document.
	ErrNotFound = errors.New("document not found")
)

// Client wraps go-elasticsearch with helpers tailored to this project.
// It serves two indices: one for articles, one for job lock documents.
type Client struct {
	es       *elasticsearch.Client
	articles string
	locks    string
	log      *slog.Logger
}

// SearchParams narrow the article search endpoint query.
type SearchParams struct {
	Text   string
	Query  string
	Source string
	From   int
	Size   int
}

// ArticleResult bundles hits and total count.
type ArticleResult struct {
	Total int64            `json:"total"`
	Items []models.Article `json:"items"`
}

// UpsertStats reports the outcome of a bulk upsert.
type UpsertStats struct {
	Created int
	Updated int
}

// New instantiates the Elasticsearch client.
func New(addr, articleIndex, lockIndex string, logger *slog.Logger) (*Client, error) {
	cfg := elasticsearch.Config{
		Addresses: []string{addr},
	}

	es, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{es: es, articles: articleIndex, locks: lockIndex, log: logger}, nil
}

// Ping checks if Elasticsearch is available.
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.es.Ping(c.es.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("ping elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch ping failed: %s", res.Status())
	}

	return nil
}

// Health pings the cluster to ensure connectivity.
func (c *Client) Health(ctx context.Context) error {
	res, err := c.es.Cluster.Health(c.es.Cluster.Health.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(res.Body)
		return fmt.Errorf("cluster health bad: %s", strings.TrimSpace(string(data)))
	}
	return nil
}

// BulkUpsert writes all articles in one bulk request. The document id is
// derived from the link, so a repeated link overwrites the stored
// article instead of duplicating it.
func (c *Client) BulkUpsert(ctx context.Context, items []models.Article) (*UpsertStats, error) {
	if len(items) == 0 {
		return &UpsertStats{}, nil
	}

	var buf bytes.Buffer
	for _, item := range items {
		action := map[string]any{
			"index": map[string]any{
				"_index": c.articles,
				"_id":    articles.DocumentID(item.Link),
			},
		}
		meta, err := json.Marshal(action)
		if err != nil {
			return nil, fmt.Errorf("marshal bulk action: %w", err)
		}
		doc, err := json.Marshal(item)
		if err != nil {
			return nil, fmt.Errorf("marshal article: %w", err)
		}
		buf.Write(meta)
		buf.WriteByte('\n')
		buf.Write(doc)
		buf.WriteByte('\n')
	}

	req := esapi.BulkRequest{
		Index:   c.articles,
		Body:    &buf,
		Refresh: "false",
	}

	res, err := req.Do(ctx, c.es)
	if err != nil {
		return nil, fmt.Errorf("bulk upsert: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		data, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("bulk upsert failed: %s", strings.TrimSpace(string(data)))
	}

	var parsed struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			Status int    `json:"status"`
			Result string `json:"result"`
			Error  *struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode bulk response: %w", err)
	}

	stats := &UpsertStats{}
	for _, item := range parsed.Items {
		for _, op := range item {
			switch op.Result {
			case "created":
				stats.Created++
			case "updated":
				stats.Updated++
			default:
				if op.Error != nil {
					c.log.Warn("bulk item failed",
						slog.String("type", op.Error.Type),
						slog.String("reason", op.Error.Reason),
					)
				}
			}
		}
	}

	return stats, nil
}

// ListArticles returns articles for one category, newest fetch first.
func (c *Client) ListArticles(ctx context.Context, query string, from, size int) (*ArticleResult, error) {
	body := map[string]any{
		"from":             from,
		"size":             size,
		"track_total_hits": true,
		"query": map[string]any{
			"bool": map[string]any{
				"filter": []map[string]any{
					{"term": map[string]any{"query": query}},
				},
			},
		},
		"sort": []map[string]any{
			{"fetched_at": map[string]any{"order": "desc"}},
		},
	}
	return c.searchArticles(ctx, body)
}

// SearchArticles executes a bool query with optional filters.
func (c *Client) SearchArticles(ctx context.Context, params SearchParams) (*ArticleResult, error) {
	if params.Size <= 0 {
		params.Size = 20
	}
	if params.Size > 200 {
		params.Size = 200
	}
	if params.From < 0 {
		params.From = 0
	}

	must := make([]map[string]any, 0, 1)
	filters := make([]map[string]any, 0, 2)

	if params.Text != "" {
		must = append(must, map[string]any{
			"multi_match": map[string]any{
				"query":  params.Text,
				"fields": []string{"title^2", "description"},
			},
		})
	}
	if params.Query != "" {
		filters = append(filters, map[string]any{
			"term": map[string]any{"query": params.Query},
		})
	}
	if params.Source != "" {
		filters = append(filters, map[string]any{
			"term": map[string]any{"source": params.Source},
		})
	}

	boolQuery := map[string]any{}
	if len(must) > 0 {
		boolQuery["must"] = must
	}
	if len(filters) > 0 {
		boolQuery["filter"] = filters
	}
	if len(must) == 0 && len(filters) == 0 {
		boolQuery["must"] = []map[string]any{
			{"match_all": map[string]any{}},
		}
	}

	body := map[string]any{
		"from":             params.From,
		"size":             params.Size,
		"track_total_hits": true,
		"query": map[string]any{
			"bool": boolQuery,
		},
	}
	if params.Text == "" {
		body["sort"] = []map[string]any{
			{"fetched_at": map[string]any{"order": "desc"}},
		}
	}

	return c.searchArticles(ctx, body)
}

func (c *Client) searchArticles(ctx context.Context, body map[string]any) (*ArticleResult, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal search body: %w", err)
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.articles),
		c.es.Search.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		data, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("search failed: %s", strings.TrimSpace(string(data)))
	}

	var parsed struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				Source models.Article `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}

	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	items := make([]models.Article, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		items = append(items, hit.Source)
	}

	return &ArticleResult{
		Total: parsed.Hits.Total.Value,
		Items: items,
	}, nil
}

// GetArticleByLink fetches a single article document by its natural key.
func (c *Client) GetArticleByLink(ctx context.Context, link string) (*models.Article, error) {
	req := esapi.GetRequest{
		Index:      c.articles,
		DocumentID: articles.DocumentID(link),
	}

	res, err := req.Do(ctx, c.es)
	if err != nil {
		return nil, fmt.Errorf("get article: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if res.IsError() {
		data, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("get article failed: %s", strings.TrimSpace(string(data)))
	}

	var parsed struct {
		Source models.Article `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode article: %w", err)
	}

	return &parsed.Source, nil
}

// DeleteOlderThan removes articles whose last refresh is older than
// maxAge, using batched delete-by-query. It loops until a batch deletes
// fewer documents than the requested batchSize.
func (c *Client) DeleteOlderThan(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}

	cutoff := time.Now().Add(-maxAge).UTC().Format(time.RFC3339)
	totalDeleted := int64(0)

	for {
		body := map[string]any{
			"query": map[string]any{
				"range": map[string]any{
					"fetched_at": map[string]any{
						"lte": cutoff,
					},
				},
			},
		}

		payload, err := json.Marshal(body)
		if err != nil {
			return totalDeleted, fmt.Errorf("marshal delete body: %w", err)
		}

		res, err := c.es.DeleteByQuery(
			[]string{c.articles},
			bytes.NewReader(payload),
			c.es.DeleteByQuery.WithContext(ctx),
			c.es.DeleteByQuery.WithWaitForCompletion(true),
			c.es.DeleteByQuery.WithConflicts("proceed"),
			c.es.DeleteByQuery.WithScrollSize(batchSize),
		)
		if err != nil {
			return totalDeleted, fmt.Errorf("delete by query: %w", err)
		}

		if res.IsError() {
			data, _ := io.ReadAll(res.Body)
			res.Body.Close()
			return totalDeleted, fmt.Errorf("delete by query failed: %s", strings.TrimSpace(string(data)))
		}

		var parsed struct {
			Deleted int64 `json:"deleted"`
		}
		if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
			res.Body.Close()
			return totalDeleted, fmt.Errorf("decode delete response: %w", err)
		}
		res.Body.Close()

		totalDeleted += parsed.Deleted

		if parsed.Deleted < int64(batchSize) {
			break
		}
	}

	return totalDeleted, nil
}
