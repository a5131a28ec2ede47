package treasury

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"

	"github.com/openjobspec/ojs-operator-checks/internal/core"
)

// Client talks to the treasury signer over HTTP.
type Client struct {
	baseURL string
	token   string
	spender string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewClient creates a signer client sending from spender.
func NewClient(baseURL, token, spender string, httpClient *http.Client) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		spender: spender,
		http:    httpClient,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "treasury",
			MaxRequests: 1,
			Interval:    5 * time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
	}
}

type transferRequest struct {
	IdempotencyKey string `json:"idempotencyKey"`
	Kind           string `json:"kind"`
	From           string `json:"from"`
	To             string `json:"to"`
	Amount         string `json:"amount"`
	RequestedAt    string `json:"requestedAt"`
}

type transferStatus struct {
	TransferID string `json:"transferId"`
	Status     string `json:"status"`
}

// Transfer asks the signer to send amount to destination. key is sent both
// in the body and as the Idempotency-Key header, and the signer answers
// status lookups for it.
func (c *Client) Transfer(ctx context.Context, key, kind, destination string, amount decimal.Decimal) (core.TransferReceipt, error) {
	body, err := json.Marshal(transferRequest{
		IdempotencyKey: key,
		Kind:           kind,
		From:           c.spender,
		To:             destination,
		Amount:         amount.String(),
		RequestedAt:    core.NowFormatted(),
	})
	if err != nil {
		return core.TransferReceipt{}, err
	}

	var out transferStatus
	if _, err := c.do(ctx, http.MethodPost, "/v1/transfers", key, body, &out); err != nil {
		return core.TransferReceipt{}, fmt.Errorf("treasury transfer %s to %s: %w", kind, destination, err)
	}
	if out.TransferID == "" {
		out.TransferID = key
	}
	return core.TransferReceipt{TransferID: out.TransferID, Status: NormalizeStatus(out.Status)}, nil
}

// Status returns the live status of the transfer sent under key. A key the
// signer has never seen reports as unknown.
func (c *Client) Status(ctx context.Context, key string) (string, error) {
	var out transferStatus
	found, err := c.do(ctx, http.MethodGet, "/v1/transfers/"+url.PathEscape(key), "", nil, &out)
	if err != nil {
		return "", fmt.Errorf("treasury status %s: %w", key, err)
	}
	if !found {
		return core.TransferUnknown, nil
	}
	return NormalizeStatus(out.Status), nil
}

// do runs one signer call through the breaker. A 404 on a GET is reported
// as not found rather than as a failure.
func (c *Client) do(ctx context.Context, method, path, key string, body []byte, out any) (bool, error) {
	found, err := c.breaker.Execute(func() (any, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		if key != "" {
			req.Header.Set("Idempotency-Key", key)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if method == http.MethodGet && resp.StatusCode == http.StatusNotFound {
			return false, nil
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
		}
		return true, json.NewDecoder(resp.Body).Decode(out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false, fmt.Errorf("treasury unavailable: %w", err)
	}
	if err != nil {
		return false, err
	}
	return found.(bool), nil
}
