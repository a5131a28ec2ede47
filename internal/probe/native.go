package probe

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// NativeRPC reads an account's native coin balance with eth_getBalance.
type NativeRPC struct {
	rpc      *RPCClient
	decimals int32
}

// NewNativeRPC creates a native balance probe. Balances are scaled by decimals (18 for ETH).
func NewNativeRPC(rpc *RPCClient, decimals int32) *NativeRPC {
	return &NativeRPC{rpc: rpc, decimals: decimals}
}

func (p *NativeRPC) Balance(ctx context.Context, address string) (decimal.Decimal, error) {
	raw, err := p.rpc.Call(ctx, "eth_getBalance", address, "latest")
	if err != nil {
		return decimal.Zero, err
	}
	wei, err := parseHexQuantity(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("eth_getBalance %s: %w", address, err)
	}
	return fromBaseUnits(wei, p.decimals), nil
}

// ERC20 reads a token balance with eth_call balanceOf(address).
type ERC20 struct {
	rpc      *RPCClient
	token    string
	decimals int32
}

// balanceOf(address)
const balanceOfSelector = "0x70a08231"

// NewERC20 creates a token balance probe for the contract at token.
func NewERC20(rpc *RPCClient, token string, decimals int32) *ERC20 {
	return &ERC20{rpc: rpc, token: token, decimals: decimals}
}

func (p *ERC20) Balance(ctx context.Context, address string) (decimal.Decimal, error) {
	data, err := encodeBalanceOf(address)
	if err != nil {
		return decimal.Zero, err
	}
	raw, err := p.rpc.Call(ctx, "eth_call", map[string]string{"to": p.token, "data": data}, "latest")
	if err != nil {
		return decimal.Zero, err
	}
	units, err := parseHexQuantity(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("balanceOf %s: %w", address, err)
	}
	return fromBaseUnits(units, p.decimals), nil
}

func encodeBalanceOf(address string) (string, error) {
	addr := strings.TrimPrefix(strings.TrimPrefix(address, "0x"), "0X")
	if len(addr) != 40 {
		return "", fmt.Errorf("invalid address %q", address)
	}
	for _, r := range addr {
		if !isHex(r) {
			return "", fmt.Errorf("invalid address %q", address)
		}
	}
	return balanceOfSelector + strings.Repeat("0", 64-len(addr)) + addr, nil
}

func isHex(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}
