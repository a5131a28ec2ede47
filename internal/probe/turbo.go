package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
)

// WincPerCredit is the number of winc in one Turbo credit.
var WincPerCredit = decimal.New(1, 12)

// TurboCredits reads an address's Turbo credit balance from the payment service.
type TurboCredits struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewTurboCredits creates a credits probe against the payment service at baseURL.
func NewTurboCredits(baseURL string, httpClient *http.Client) *TurboCredits {
	return &TurboCredits{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		breaker: NewBreaker("turbo"),
	}
}

type turboBalance struct {
	Winc string `json:"winc"`
}

func (p *TurboCredits) Balance(ctx context.Context, address string) (decimal.Decimal, error) {
	winc, err := execute(p.breaker, func() (string, error) {
		return p.fetchWinc(ctx, address)
	})
	if err != nil {
		return decimal.Zero, err
	}
	amount, err := decimal.NewFromString(winc)
	if err != nil {
		return decimal.Zero, fmt.Errorf("turbo balance %s: invalid winc %q", address, winc)
	}
	return amount.Div(WincPerCredit), nil
}

func (p *TurboCredits) fetchWinc(ctx context.Context, address string) (string, error) {
	endpoint := fmt.Sprintf("%s/v1/account/balance?address=%s", p.baseURL, url.QueryEscape(address))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("turbo balance %s: %w", address, err)
	}
	defer resp.Body.Close()

	// An address that never topped up has no balance record.
	if resp.StatusCode == http.StatusNotFound {
		return "0", nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("turbo balance %s: HTTP %d", address, resp.StatusCode)
	}

	var out turboBalance
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode turbo balance: %w", err)
	}
	if out.Winc == "" {
		return "0", nil
	}
	return out.Winc, nil
}
