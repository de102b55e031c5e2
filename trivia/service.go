/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package trivia

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// CategorySummary is one entry of the candidate category pool.
type CategorySummary struct {
	ID         int    `json:"id"`
	Title      string `json:"title"`
	CluesCount int    `json:"clues_count"`
}

type ClueData struct {
	ID       int    `json:"id"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// CategoryData is the full clue listing of a single category.
type CategoryData struct {
	ID         int        `json:"id"`
	Title      string     `json:"title"`
	CluesCount int        `json:"clues_count"`
	Clues      []ClueData `json:"clues"`
}

// Service is the remote trivia API boards are built from.
type Service interface {
	Categories(ctx context.Context, count int) ([]CategorySummary, error)
	Category(ctx context.Context, id int) (*CategoryData, error)
}

// Client talks to a jService-compatible HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Categories requests a pool of count category summaries.
func (c *Client) Categories(ctx context.Context, count int) ([]CategorySummary, error) {
	q := url.Values{}
	q.Set("count", strconv.Itoa(count))

	var categories []CategorySummary
	if err := c.get(ctx, "/api/categories", q, &categories); err != nil {
		return nil, err
	}

	return categories, nil
}

// Category requests the title and every clue of a single category.
func (c *Client) Category(ctx context.Context, id int) (*CategoryData, error) {
	q := url.Values{}
	q.Set("id", strconv.Itoa(id))

	var category CategoryData
	if err := c.get(ctx, "/api/category", q, &category); err != nil {
		return nil, err
	}

	return &category, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	endpoint := c.baseURL + path + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return ctx.Err()
		}

		return fmt.Errorf("%w: %v", ErrNetworkFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

		return fmt.Errorf("%w: %s %s - %s", ErrNetworkFailure, path, resp.Status, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedResponse, path, err)
	}

	return nil
}
