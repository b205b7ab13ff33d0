// Package stub provides an in-memory chain.Reader for tests and offline replays.
package stub

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"dca-indexer/internal/chain"
)

// TokenInfo is the metadata a stub token answers with.
// A nil field makes the corresponding call revert.
type TokenInfo struct {
	Name     *string
	Symbol   *string
	Decimals *uint8
}

// Token returns TokenInfo with every field set.
func Token(name, symbol string, decimals uint8) TokenInfo {
	return TokenInfo{Name: &name, Symbol: &symbol, Decimals: &decimals}
}

// Reader implements chain.Reader from in-memory tables.
// Unknown tokens revert every metadata call.
type Reader struct {
	mu           sync.Mutex
	tokens       map[common.Address]TokenInfo
	transformers map[common.Address]common.Address
	underlying   map[common.Address][]common.Address
	rates        map[common.Address]*big.Rat // underlying per share; nil reverts
	calls        map[string]int
}

var _ chain.Reader = (*Reader)(nil)

// NewReader creates an empty stub reader.
func NewReader() *Reader {
	return &Reader{
		tokens:       make(map[common.Address]TokenInfo),
		transformers: make(map[common.Address]common.Address),
		underlying:   make(map[common.Address][]common.Address),
		rates:        make(map[common.Address]*big.Rat),
		calls:        make(map[string]int),
	}
}

// SetToken registers token metadata.
func (r *Reader) SetToken(token common.Address, info TokenInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[token] = info
}

// SetTransformer registers token under transformer with its underlying tokens.
// rate is underlying units per share unit; nil makes conversions revert.
func (r *Reader) SetTransformer(token, transformer common.Address, underlying []common.Address, rate *big.Rat) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transformers[token] = transformer
	r.underlying[token] = underlying
	r.rates[token] = rate
}

// Calls returns how many times a method was invoked.
func (r *Reader) Calls(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[method]
}

func (r *Reader) count(method string) {
	r.mu.Lock()
	r.calls[method]++
	r.mu.Unlock()
}

func (r *Reader) info(token common.Address) TokenInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tokens[token]
}

func reverted(method string, token common.Address) error {
	return fmt.Errorf("%s on %s: %w", method, strings.ToLower(token.Hex()), chain.ErrReverted)
}

// Name implements chain.Reader.
func (r *Reader) Name(_ context.Context, token common.Address, _ uint64) (string, error) {
	r.count("name")
	if v := r.info(token).Name; v != nil {
		return *v, nil
	}
	return "", reverted("name", token)
}

// Symbol implements chain.Reader.
func (r *Reader) Symbol(_ context.Context, token common.Address, _ uint64) (string, error) {
	r.count("symbol")
	if v := r.info(token).Symbol; v != nil {
		return *v, nil
	}
	return "", reverted("symbol", token)
}

// Decimals implements chain.Reader.
func (r *Reader) Decimals(_ context.Context, token common.Address, _ uint64) (uint8, error) {
	r.count("decimals")
	if v := r.info(token).Decimals; v != nil {
		return *v, nil
	}
	return 0, reverted("decimals", token)
}

// Transformer implements chain.Reader.
func (r *Reader) Transformer(_ context.Context, token common.Address, _ uint64) (common.Address, error) {
	r.count("transformers")
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transformers[token], nil
}

// UnderlyingTokens implements chain.Reader.
func (r *Reader) UnderlyingTokens(_ context.Context, _ common.Address, token common.Address, _ uint64) ([]common.Address, error) {
	r.count("getUnderlying")
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]common.Address, len(r.underlying[token]))
	copy(out, r.underlying[token])
	return out, nil
}

// TransformToUnderlying implements chain.Reader.
func (r *Reader) TransformToUnderlying(_ context.Context, _ common.Address, token common.Address, amount *big.Int, _ uint64) ([]chain.Underlying, error) {
	r.count("calculateTransformToUnderlying")
	r.mu.Lock()
	defer r.mu.Unlock()

	rate := r.rates[token]
	if rate == nil {
		return nil, reverted("calculateTransformToUnderlying", token)
	}
	out := make([]chain.Underlying, 0, len(r.underlying[token]))
	for _, u := range r.underlying[token] {
		v := new(big.Int).Mul(amount, rate.Num())
		v.Quo(v, rate.Denom())
		out = append(out, chain.Underlying{Underlying: u, Amount: v})
	}
	return out, nil
}
