package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Source identifies the publisher of a search hit.
type Source struct {
	Name string `json:"name"`
}

// Result is one raw hit from the news search provider.
type Result struct {
	Title     string `json:"title"`
	Snippet   string `json:"snippet"`
	Link      string `json:"link"`
	Thumbnail string `json:"thumbnail"`
	Source    Source `json:"source"`
	Date      string `json:"date"`
}

// SearchClient talks to the external news search API through the
// retrying client.
type SearchClient struct {
	baseURL string
	apiKey  string
	client  *Client
}

// NewSearchClient builds a search client against baseURL.
func NewSearchClient(baseURL, apiKey string, client *Client) *SearchClient {
	return &SearchClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  client,
	}
}

// Search fetches up to count news results for query. An empty result
// list is not an error; callers decide what to do with it.
func (s *SearchClient) Search(ctx context.Context, query string, count int) ([]Result, error) {
	target := fmt.Sprintf("%s/news?q=%s&num=%d", s.baseURL, url.QueryEscape(query), count)

	header := http.Header{}
	header.Set("Accept", "application/json")
	if s.apiKey != "" {
		header.Set("X-API-KEY", s.apiKey)
	}

	body, err := s.client.Get(ctx, target, header)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}

	var parsed struct {
		News []Result `json:"news"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode search response for %q: %w", query, err)
	}

	return parsed.News, nil
}
