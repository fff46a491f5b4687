// Package storeapi is the HTTP client for the external game store catalog.
// The store is a pluggable collaborator: the rest of the system only depends
// on fetch-by-id and search-by-title, and on "not found" being
// distinguishable from transient failure.
package storeapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ErrNotFound marks an entry the store no longer serves (deleted or
// delisted). The self-healing sweep keys off this; transient failures must
// never be reported as it.
var ErrNotFound = errors.New("store entry not found")

// Entry is a catalog entry as the store returns it.
type Entry struct {
	GameID      int64    `json:"id"`
	Title       string   `json:"title"`
	ShortText   *string  `json:"short_text"`
	Text        *string  `json:"description"`
	URL         *string  `json:"url"`
	CoverURL    *string  `json:"cover_url"`
	Screenshots []string `json:"screenshots"`
	Tags        []string `json:"tags"`
	Developers  []string `json:"developers"`
}

// SearchHit is one result of a title search.
type SearchHit struct {
	GameID int64  `json:"id"`
	Title  string `json:"title"`
}

type searchResponse struct {
	Results []SearchHit `json:"results"`
}

// Client talks to the store API. Rate limiting is the caller's job; the
// client itself only enforces a per-request timeout.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// GetGame fetches one catalog entry by its store id.
func (c *Client) GetGame(ctx context.Context, gameID int64) (*Entry, error) {
	var entry Entry
	path := "/games/" + strconv.FormatInt(gameID, 10)
	if err := c.getJSON(ctx, path, nil, &entry); err != nil {
		return nil, fmt.Errorf("get game %d: %w", gameID, err)
	}
	return &entry, nil
}

// Search looks an entry up by title. Returns nil (no error) when the store
// has no match; the store's own ranking decides which hit is first.
func (c *Client) Search(ctx context.Context, title string) (*SearchHit, error) {
	var resp searchResponse
	query := url.Values{"q": {title}}
	if err := c.getJSON(ctx, "/search", query, &resp); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("search %q: %w", title, err)
	}
	if len(resp.Results) == 0 {
		return nil, nil
	}
	return &resp.Results[0], nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return ErrNotFound
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("store API returned %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
