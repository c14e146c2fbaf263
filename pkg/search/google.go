// Package search queries the Google Custom Search JSON API.
package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultBaseURL is the Custom Search JSON API endpoint.
const DefaultBaseURL = "https://www.googleapis.com/customsearch/v1"

// MaxResults is the number of ranked results kept per query.
const MaxResults = 3

// ErrNotConfigured is returned when the API key or engine id is missing.
var ErrNotConfigured = errors.New("search: google api key or engine id not configured")

// Result is one ranked search hit.
type Result struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	Link    string `json:"link"`
}

// Searcher turns a query into ranked results. An empty slice means no hits.
type Searcher interface {
	Search(ctx context.Context, query string) ([]Result, error)
}

// Google implements Searcher over the Custom Search JSON API.
type Google struct {
	APIKey   string
	EngineID string
	BaseURL  string
	Client   *http.Client
}

// NewGoogle creates a Google searcher. An empty baseURL uses DefaultBaseURL.
func NewGoogle(apiKey, engineID, baseURL string) *Google {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Google{
		APIKey:   apiKey,
		EngineID: engineID,
		BaseURL:  baseURL,
		Client:   &http.Client{Timeout: 30 * time.Second},
	}
}

type apiResponse struct {
	Items []Result `json:"items"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Search returns at most MaxResults results for query.
func (g *Google) Search(ctx context.Context, query string) ([]Result, error) {
	if g.APIKey == "" || g.EngineID == "" {
		return nil, ErrNotConfigured
	}

	params := url.Values{}
	params.Set("key", g.APIKey)
	params.Set("cx", g.EngineID)
	params.Set("q", query)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("search: build request: %w", err)
	}

	resp, err := g.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("search: read response: %w", err)
	}

	var data apiResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("search: decode response (status %d): %w", resp.StatusCode, err)
	}

	if data.Error != nil {
		return nil, fmt.Errorf("search: google api error: %d - %s", data.Error.Code, data.Error.Message)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("search: unexpected status %d", resp.StatusCode)
	}

	if len(data.Items) > MaxResults {
		data.Items = data.Items[:MaxResults]
	}
	return data.Items, nil
}
