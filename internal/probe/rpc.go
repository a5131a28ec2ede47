package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/sony/gobreaker"
)

// RPCClient is a minimal Ethereum JSON-RPC client over HTTP.
type RPCClient struct {
	url     string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	nextID  atomic.Int64
}

// NewRPCClient creates a client for the endpoint at url.
func NewRPCClient(url string, httpClient *http.Client) *RPCClient {
	return &RPCClient{
		url:     url,
		http:    httpClient,
		breaker: NewBreaker("json-rpc"),
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// Call invokes method and returns its string result.
func (c *RPCClient) Call(ctx context.Context, method string, params ...any) (string, error) {
	return execute(c.breaker, func() (string, error) {
		return c.call(ctx, method, params)
	})
}

func (c *RPCClient) call(ctx context.Context, method string, params []any) (string, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%s: HTTP %d: %s", method, resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var out rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode %s: %w", method, err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("%s: rpc error %d: %s", method, out.Error.Code, out.Error.Message)
	}

	var result string
	if err := json.Unmarshal(out.Result, &result); err != nil {
		return "", fmt.Errorf("decode %s result: %w", method, err)
	}
	return result, nil
}
