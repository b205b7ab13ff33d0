// Package chain reads token metadata and transformer data from contracts.
// All reads are pinned to a block so results are a pure function of
// (contract, block) and safe to memoize within a run.
package chain

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ErrReverted is returned when a contract call reverts, the target has no code,
// or the returned data cannot be decoded. Callers apply their documented fallback.
var ErrReverted = errors.New("contract call reverted")

// Underlying is an amount expressed in one underlying token of a share.
type Underlying struct {
	Underlying common.Address
	Amount     *big.Int
}

// Reader is the read-only contract access the token registry depends on.
// Block 0 reads at the latest block.
type Reader interface {
	Name(ctx context.Context, token common.Address, block uint64) (string, error)
	Symbol(ctx context.Context, token common.Address, block uint64) (string, error)
	Decimals(ctx context.Context, token common.Address, block uint64) (uint8, error)

	// Transformer returns the transformer registered for token, or the zero address.
	Transformer(ctx context.Context, token common.Address, block uint64) (common.Address, error)

	// UnderlyingTokens returns the tokens a transformer unwraps token into.
	UnderlyingTokens(ctx context.Context, transformer, token common.Address, block uint64) ([]common.Address, error)

	// TransformToUnderlying converts an amount of token into its underlying tokens.
	TransformToUnderlying(ctx context.Context, transformer, token common.Address, amount *big.Int, block uint64) ([]Underlying, error)
}
