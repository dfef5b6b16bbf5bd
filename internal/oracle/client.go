package oracle

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

var ErrNoPairs = errors.New("no pair indexes requested")

// PriceFeed is one oracle price tuple. Values stay as strings, exactly
// as the oracle reports them; the client renders, it does not compute.
type PriceFeed struct {
	PairIndex string `json:"pairIndex"`
	Price     string `json:"price"`
	Decimals  string `json:"decimals"`
	Timestamp string `json:"timestamp"`
}

// Client fetches spot prices from a Supra oracle REST endpoint.
type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type pricesResponse struct {
	Data  []PriceFeed `json:"data"`
	Error string      `json:"error"`
}

func (c *Client) GetPrices(ctx context.Context, pairIndexes []int) ([]PriceFeed, error) {
	if len(pairIndexes) == 0 {
		return nil, ErrNoPairs
	}

	parts := make([]string, 0, len(pairIndexes))
	for _, idx := range pairIndexes {
		parts = append(parts, strconv.Itoa(idx))
	}
	q := url.Values{}
	q.Set("indexes", strings.Join(parts, ","))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/oracle/prices?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oracle request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("oracle response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("oracle status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed pricesResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("oracle decode: %w", err)
	}
	if parsed.Data == nil {
		if parsed.Error != "" {
			return nil, fmt.Errorf("oracle error: %s", parsed.Error)
		}
		return nil, errors.New("oracle returned no data")
	}
	return parsed.Data, nil
}
