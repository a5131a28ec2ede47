package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
)

// WinstonPerAR is the number of winston in one AR.
var WinstonPerAR = decimal.New(1, 12)

// Arweave reads a wallet's AR balance from an Arweave gateway.
type Arweave struct {
	gateway string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewArweave creates an AR balance probe against gateway.
func NewArweave(gateway string, httpClient *http.Client) *Arweave {
	return &Arweave{
		gateway: strings.TrimRight(gateway, "/"),
		http:    httpClient,
		breaker: NewBreaker("arweave"),
	}
}

func (p *Arweave) Balance(ctx context.Context, address string) (decimal.Decimal, error) {
	winston, err := execute(p.breaker, func() (string, error) {
		return p.fetchWinston(ctx, address)
	})
	if err != nil {
		return decimal.Zero, err
	}
	amount, err := decimal.NewFromString(winston)
	if err != nil {
		return decimal.Zero, fmt.Errorf("arweave balance %s: invalid winston %q", address, winston)
	}
	return amount.Div(WinstonPerAR), nil
}

// fetchWinston returns the gateway's plain-text winston balance.
func (p *Arweave) fetchWinston(ctx context.Context, address string) (string, error) {
	endpoint := fmt.Sprintf("%s/wallet/%s/balance", p.gateway, url.PathEscape(address))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("arweave balance %s: %w", address, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("arweave balance %s: HTTP %d", address, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return "", fmt.Errorf("read arweave balance: %w", err)
	}
	return strings.TrimSpace(string(body)), nil
}
