package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Default configuration values.
const (
	DefaultTimeout     = 15 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0
)

// Client implements Source over the feed's HTTP API.
type Client struct {
	baseURL     string
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.retryDelay = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.client = client
	}
}

// NewClient creates a new feed HTTP client.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:     baseURL,
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile-time interface check.
var _ Source = (*Client)(nil)

// pairResponse mirrors the feed's token endpoint payload. Prices come back
// as strings, liquidity and volume as nested objects.
type pairResponse struct {
	Pairs []struct {
		PairAddress string `json:"pairAddress"`
		DexID       string `json:"dexId"`
		ChainID     string `json:"chainId"`
		PriceUsd    string `json:"priceUsd"`
		URL         string `json:"url"`
		Liquidity   struct {
			USD float64 `json:"usd"`
		} `json:"liquidity"`
		Volume struct {
			H1  float64 `json:"h1"`
			H24 float64 `json:"h24"`
		} `json:"volume"`
		Fdv       *float64 `json:"fdv"`
		MarketCap *float64 `json:"marketCap"`
	} `json:"pairs"`
}

// PairsForToken returns all pairs the feed knows for the mint.
func (c *Client) PairsForToken(ctx context.Context, mint string) ([]Pair, error) {
	url := fmt.Sprintf("%s/latest/dex/tokens/%s", c.baseURL, mint)

	body, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}

	var resp pairResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode pairs response: %w", err)
	}

	pairs := make([]Pair, 0, len(resp.Pairs))
	for _, p := range resp.Pairs {
		price, err := strconv.ParseFloat(p.PriceUsd, 64)
		if err != nil {
			// Pairs without a usable price cannot feed evaluation.
			continue
		}
		pairs = append(pairs, Pair{
			PairAddress:  p.PairAddress,
			DexID:        p.DexID,
			ChainID:      p.ChainID,
			PriceUsd:     price,
			LiquidityUsd: p.Liquidity.USD,
			VolumeH1Usd:  p.Volume.H1,
			VolumeH24Usd: p.Volume.H24,
			URL:          p.URL,
			FdvUsd:       p.Fdv,
			MarketCapUsd: p.MarketCap,
		})
	}
	return pairs, nil
}

// get performs a GET with retries and exponential backoff.
func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response body: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("http status %d", resp.StatusCode)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("http status %d", resp.StatusCode)
		}

		return body, nil
	}

	return nil, fmt.Errorf("after %d retries: %w", c.maxRetries, lastErr)
}
