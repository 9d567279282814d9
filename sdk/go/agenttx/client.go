// Package agenttx is a Go client for the agenttxd REST API.
package agenttx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"sync"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. Execute waits for the transaction to be broadcast, so it
// is longer than a plain API round trip.
const DefaultHTTPTimeout = 30 * time.Second

const toolPath = "/api/v1/tools/erc20-transfer"

// Client wraps the HTTP interactions with the agenttxd REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu     sync.RWMutex
	apiKey string
}

// Parameters are the erc20-transfer tool inputs.
type Parameters struct {
	To           string `json:"to"`
	Amount       string `json:"amount"`
	TokenAddress string `json:"tokenAddress"`
	RPCURL       string `json:"rpcUrl,omitempty"`
	ChainID      *int64 `json:"chainId,omitempty"`
}

// PrecheckResult mirrors the server's precheck output.
type PrecheckResult struct {
	Success           bool   `json:"success"`
	AddressValid      bool   `json:"addressValid,omitempty"`
	AmountValid       bool   `json:"amountValid,omitempty"`
	TokenAddressValid bool   `json:"tokenAddressValid,omitempty"`
	Error             string `json:"error,omitempty"`
	ErrorCode         string `json:"errorCode,omitempty"`
}

// ExecuteResult mirrors the server's execute output.
type ExecuteResult struct {
	Success      bool   `json:"success"`
	TxHash       string `json:"txHash,omitempty"`
	To           string `json:"to,omitempty"`
	Amount       string `json:"amount,omitempty"`
	TokenAddress string `json:"tokenAddress,omitempty"`
	Timestamp    int64  `json:"timestamp,omitempty"`
	Error        string `json:"error,omitempty"`
	ErrorCode    string `json:"errorCode,omitempty"`
}

// PolicyEvaluation is one policy's verdict.
type PolicyEvaluation struct {
	Allowed           bool   `json:"allowed"`
	Reason            string `json:"reason,omitempty"`
	CurrentCount      int64  `json:"currentCount"`
	MaxSends          int64  `json:"maxSends"`
	RemainingSends    int64  `json:"remainingSends"`
	TimeWindowSeconds int64  `json:"timeWindowSeconds"`
}

// TransferResponse is returned by Execute.
type TransferResponse struct {
	InvocationID string                      `json:"invocation_id"`
	Delegator    string                      `json:"delegator,omitempty"`
	Precheck     PrecheckResult              `json:"precheck"`
	Policies     map[string]PolicyEvaluation `json:"policies,omitempty"`
	Result       ExecuteResult               `json:"result"`
}

// TransferRecord is a ledger entry.
type TransferRecord struct {
	ID           int64  `json:"id"`
	InvocationID string `json:"invocation_id"`
	TxHash       string `json:"tx_hash,omitempty"`
	Delegator    string `json:"delegator,omitempty"`
	To           string `json:"to"`
	Amount       string `json:"amount"`
	TokenAddress string `json:"token_address"`
	ChainID      int64  `json:"chain_id,omitempty"`
	Status       string `json:"status"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	CreatedAt    int64  `json:"created_at"`
}

// APIError represents request rejections such as malformed parameters or
// missing credentials. Tool level failures are reported in the results instead.
type APIError struct {
	StatusCode int
	Code       string `json:"errorCode"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("agenttx api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("agenttx api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the agenttxd API. When httpClient is
// nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", rawURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SetAPIKey sets the bearer key sent with every request.
func (c *Client) SetAPIKey(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apiKey = key
}

// Schema fetches the tool descriptor.
func (c *Client) Schema(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if err := c.do(ctx, http.MethodGet, toolPath+"/schema", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Precheck validates params without submitting anything.
func (c *Client) Precheck(ctx context.Context, params Parameters) (PrecheckResult, error) {
	var out PrecheckResult
	if err := c.do(ctx, http.MethodPost, toolPath+"/precheck", params, nil, &out); err != nil {
		return PrecheckResult{}, err
	}
	return out, nil
}

// Execute submits the transfer. A non-empty invocationID makes retries of the
// same call land on a single ledger entry.
func (c *Client) Execute(ctx context.Context, invocationID string, params Parameters) (TransferResponse, error) {
	header := http.Header{}
	if invocationID != "" {
		header.Set("X-Invocation-ID", invocationID)
	}
	var out TransferResponse
	if err := c.do(ctx, http.MethodPost, toolPath+"/execute", params, header, &out); err != nil {
		return TransferResponse{}, err
	}
	return out, nil
}

// ListTransfers returns the latest ledger entries.
func (c *Client) ListTransfers(ctx context.Context, limit int) ([]TransferRecord, error) {
	endpoint := "/api/v1/transfers"
	if limit > 0 {
		endpoint += "?limit=" + strconv.Itoa(limit)
	}
	var out []TransferRecord
	if err := c.do(ctx, http.MethodGet, endpoint, nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload any, header http.Header, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	ref, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint: %w", err)
	}
	ref.Path = path.Join(c.baseURL.Path, ref.Path)
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.ResolveReference(ref).String(), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.RLock()
	key := c.apiKey
	c.mu.RUnlock()
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if json.Unmarshal(data, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// IsAPIError reports whether err is an APIError with the given status.
func IsAPIError(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}
