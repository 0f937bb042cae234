package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"
)

// Default configuration values.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0
)

// RPCReader implements Reader over HTTP JSON-RPC 2.0.
type RPCReader struct {
	endpoint    string
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
	requestID   atomic.Uint64
}

// ReaderOption configures RPCReader.
type ReaderOption func(*RPCReader)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ReaderOption {
	return func(r *RPCReader) {
		r.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) ReaderOption {
	return func(r *RPCReader) {
		r.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ReaderOption {
	return func(r *RPCReader) {
		r.retryDelay = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ReaderOption {
	return func(r *RPCReader) {
		r.client = client
	}
}

// NewRPCReader creates a new JSON-RPC chain reader.
func NewRPCReader(endpoint string, opts ...ReaderOption) *RPCReader {
	r := &RPCReader{
		endpoint:    endpoint,
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Compile-time interface check.
var _ Reader = (*RPCReader)(nil)

// rpcRequest represents a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

// rpcResponse represents a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// rpcError represents a JSON-RPC 2.0 error.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// VerifyMint checks the mint account and returns supply and decimals.
func (r *RPCReader) VerifyMint(ctx context.Context, mint string) (*MintInfo, error) {
	if err := ValidateAddress(mint); err != nil {
		return nil, fmt.Errorf("invalid mint: %w", err)
	}

	info, err := r.accountInfo(ctx, mint)
	if err != nil {
		return nil, err
	}
	if info == nil {
		return &MintInfo{}, nil
	}
	if info.Data.Parsed.Type != "mint" {
		return &MintInfo{Exists: true}, nil
	}

	supply, err := strconv.ParseUint(info.Data.Parsed.Info.Supply, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse supply %q: %w", info.Data.Parsed.Info.Supply, err)
	}

	return &MintInfo{
		Exists:   true,
		IsMint:   true,
		Supply:   supply,
		Decimals: info.Data.Parsed.Info.Decimals,
	}, nil
}

// Authorities returns the active mint and freeze authorities, "" when revoked.
func (r *RPCReader) Authorities(ctx context.Context, mint string) (string, string, error) {
	info, err := r.accountInfo(ctx, mint)
	if err != nil {
		return "", "", err
	}
	if info == nil || info.Data.Parsed.Type != "mint" {
		return "", "", fmt.Errorf("account %s is not a mint", mint)
	}
	var mintAuth, freezeAuth string
	if info.Data.Parsed.Info.MintAuthority != nil {
		mintAuth = *info.Data.Parsed.Info.MintAuthority
	}
	if info.Data.Parsed.Info.FreezeAuthority != nil {
		freezeAuth = *info.Data.Parsed.Info.FreezeAuthority
	}
	return mintAuth, freezeAuth, nil
}

// Balance returns the lamport balance of an account.
func (r *RPCReader) Balance(ctx context.Context, address string) (uint64, error) {
	var result struct {
		Value uint64 `json:"value"`
	}
	if err := r.call(ctx, "getBalance", []interface{}{address}, &result); err != nil {
		return 0, fmt.Errorf("getBalance: %w", err)
	}
	return result.Value, nil
}

// ChainTime returns the current cluster time in unix seconds.
func (r *RPCReader) ChainTime(ctx context.Context) (int64, error) {
	var slot uint64
	if err := r.call(ctx, "getSlot", nil, &slot); err != nil {
		return 0, fmt.Errorf("getSlot: %w", err)
	}

	var blockTime *int64
	if err := r.call(ctx, "getBlockTime", []interface{}{slot}, &blockTime); err != nil {
		return 0, fmt.Errorf("getBlockTime: %w", err)
	}
	if blockTime == nil {
		return 0, fmt.Errorf("block time not available for slot %d", slot)
	}
	return *blockTime, nil
}

// parsedAccountInfo mirrors the jsonParsed account payload for SPL mints.
type parsedAccountInfo struct {
	Owner string `json:"owner"`
	Data  struct {
		Program string `json:"program"`
		Parsed  struct {
			Type string `json:"type"`
			Info struct {
				MintAuthority   *string `json:"mintAuthority"`
				FreezeAuthority *string `json:"freezeAuthority"`
				Supply          string  `json:"supply"`
				Decimals        uint8   `json:"decimals"`
				IsInitialized   bool    `json:"isInitialized"`
			} `json:"info"`
		} `json:"parsed"`
	} `json:"data"`
}

// accountInfo fetches a jsonParsed account. Returns nil when absent.
func (r *RPCReader) accountInfo(ctx context.Context, address string) (*parsedAccountInfo, error) {
	var result struct {
		Value *parsedAccountInfo `json:"value"`
	}
	params := []interface{}{address, map[string]string{"encoding": "jsonParsed"}}
	if err := r.call(ctx, "getAccountInfo", params, &result); err != nil {
		return nil, fmt.Errorf("getAccountInfo: %w", err)
	}
	return result.Value, nil
}

// call performs a JSON-RPC call with retries and exponential backoff.
func (r *RPCReader) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	reqID := r.requestID.Add(1)
	reqBody := rpcRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	delay := r.retryDelay
	var lastErr error

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * r.backoffMult)
			if delay > r.maxDelay {
				delay = r.maxDelay
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := r.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
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
			return fmt.Errorf("http status %d", resp.StatusCode)
		}

		var rpcResp rpcResponse
		if err := json.Unmarshal(respBody, &rpcResp); err != nil {
			lastErr = fmt.Errorf("decode response: %w", err)
			continue
		}
		if rpcResp.Error != nil {
			return rpcResp.Error
		}

		if result != nil {
			if err := json.Unmarshal(rpcResp.Result, result); err != nil {
				return fmt.Errorf("decode result: %w", err)
			}
		}
		return nil
	}

	return fmt.Errorf("after %d retries: %w", r.maxRetries, lastErr)
}
