package chain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/time/rate"

	"dca-indexer/internal/observability"
)

// ContractCaller is the subset of ethclient.Client used for reads.
type ContractCaller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// EthReader implements Reader over JSON-RPC eth_call.
type EthReader struct {
	client   ContractCaller
	registry common.Address
	limiter  *rate.Limiter
}

var _ Reader = (*EthReader)(nil)

// EthReaderOptions configures an EthReader.
type EthReaderOptions struct {
	TransformerRegistry common.Address
	RequestsPerSecond   float64 // 0 disables limiting
	Burst               int
}

// NewEthReader creates a reader over client.
func NewEthReader(client ContractCaller, opts EthReaderOptions) *EthReader {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return &EthReader{client: client, registry: opts.TransformerRegistry, limiter: limiter}
}

// Name returns the ERC20 name, accepting string or bytes32 encodings.
func (r *EthReader) Name(ctx context.Context, token common.Address, block uint64) (string, error) {
	return r.stringOrBytes32(ctx, token, "name", block)
}

// Symbol returns the ERC20 symbol, accepting string or bytes32 encodings.
func (r *EthReader) Symbol(ctx context.Context, token common.Address, block uint64) (string, error) {
	return r.stringOrBytes32(ctx, token, "symbol", block)
}

// Decimals returns the ERC20 decimals.
func (r *EthReader) Decimals(ctx context.Context, token common.Address, block uint64) (uint8, error) {
	out, err := r.call(ctx, erc20ABI, token, "decimals", block)
	if err != nil {
		return 0, err
	}
	d, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("decimals: unexpected type %T: %w", out[0], ErrReverted)
	}
	return d, nil
}

// Transformer returns the transformer registered for token.
// Without a configured registry every token is treated as untransformed.
func (r *EthReader) Transformer(ctx context.Context, token common.Address, block uint64) (common.Address, error) {
	if r.registry == (common.Address{}) {
		return common.Address{}, nil
	}
	out, err := r.call(ctx, transformerRegistryABI, r.registry, "transformers", block, []common.Address{token})
	if err != nil {
		return common.Address{}, err
	}
	addrs, ok := out[0].([]common.Address)
	if !ok || len(addrs) != 1 {
		return common.Address{}, fmt.Errorf("transformers: unexpected result %v: %w", out[0], ErrReverted)
	}
	return addrs[0], nil
}

// UnderlyingTokens returns the tokens transformer unwraps token into.
func (r *EthReader) UnderlyingTokens(ctx context.Context, transformer, token common.Address, block uint64) ([]common.Address, error) {
	out, err := r.call(ctx, transformerABI, transformer, "getUnderlying", block, token)
	if err != nil {
		return nil, err
	}
	addrs, ok := out[0].([]common.Address)
	if !ok {
		return nil, fmt.Errorf("getUnderlying: unexpected type %T: %w", out[0], ErrReverted)
	}
	return addrs, nil
}

// TransformToUnderlying converts amount of token into underlying amounts.
func (r *EthReader) TransformToUnderlying(ctx context.Context, transformer, token common.Address, amount *big.Int, block uint64) ([]Underlying, error) {
	out, err := r.call(ctx, transformerABI, transformer, "calculateTransformToUnderlying", block, token, amount)
	if err != nil {
		return nil, err
	}
	converted, ok := abi.ConvertType(out[0], new([]Underlying)).(*[]Underlying)
	if !ok {
		return nil, fmt.Errorf("calculateTransformToUnderlying: unexpected type %T: %w", out[0], ErrReverted)
	}
	return *converted, nil
}

func (r *EthReader) stringOrBytes32(ctx context.Context, token common.Address, method string, block uint64) (string, error) {
	out, err := r.call(ctx, erc20ABI, token, method, block)
	if err == nil {
		if s, ok := out[0].(string); ok {
			return s, nil
		}
	}
	if err != nil && !errors.Is(err, ErrReverted) {
		return "", err
	}

	out, err = r.call(ctx, erc20Bytes32ABI, token, method, block)
	if err != nil {
		return "", err
	}
	raw, ok := out[0].([32]byte)
	if !ok {
		return "", fmt.Errorf("%s: unexpected type %T: %w", method, out[0], ErrReverted)
	}
	return string(bytes.TrimRight(raw[:], "\x00")), nil
}

// call packs, executes and unpacks one eth_call.
func (r *EthReader) call(ctx context.Context, contract abi.ABI, to common.Address, method string, block uint64, args ...interface{}) ([]interface{}, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var blockNumber *big.Int
	if block > 0 {
		blockNumber = new(big.Int).SetUint64(block)
	}

	start := time.Now()
	raw, err := r.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, blockNumber)
	observability.RecordRPCCall("eth_call:"+method, time.Since(start).Seconds(), err)
	if err != nil {
		if isRevert(err) {
			return nil, fmt.Errorf("%s on %s: %w", method, to.Hex(), ErrReverted)
		}
		return nil, fmt.Errorf("%s on %s: %w", method, to.Hex(), err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%s on %s: empty return data: %w", method, to.Hex(), ErrReverted)
	}

	out, err := contract.Unpack(method, raw)
	if err != nil || len(out) == 0 {
		return nil, fmt.Errorf("%s on %s: undecodable return data: %w", method, to.Hex(), ErrReverted)
	}
	return out, nil
}

// isRevert distinguishes execution reverts from transport failures.
func isRevert(err error) bool {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == 3 {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "revert")
}
