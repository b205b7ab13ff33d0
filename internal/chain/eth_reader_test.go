package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// fakeCaller answers eth_call by 4-byte selector.
type fakeCaller struct {
	responses map[string][]byte
	errs      map[string]error
	blocks    []*big.Int
}

func newFakeCaller() *fakeCaller {
	return &fakeCaller{responses: map[string][]byte{}, errs: map[string]error{}}
}

func (f *fakeCaller) CallContract(_ context.Context, call ethereum.CallMsg, block *big.Int) ([]byte, error) {
	f.blocks = append(f.blocks, block)
	key := string(call.Data[:4])
	if err, ok := f.errs[key]; ok {
		return nil, err
	}
	return f.responses[key], nil
}

func (f *fakeCaller) respond(t *testing.T, contract abi.ABI, method string, values ...interface{}) {
	t.Helper()
	m := contract.Methods[method]
	data, err := m.Outputs.Pack(values...)
	if err != nil {
		t.Fatalf("pack %s outputs: %v", method, err)
	}
	f.responses[string(m.ID)] = data
}

func (f *fakeCaller) fail(contract abi.ABI, method string, err error) {
	f.errs[string(contract.Methods[method].ID)] = err
}

var token = common.HexToAddress("0x00000000000000000000000000000000000000aa")

func TestEthReader_Metadata(t *testing.T) {
	caller := newFakeCaller()
	caller.respond(t, erc20ABI, "name", "Wrapped Ether")
	caller.respond(t, erc20ABI, "symbol", "WETH")
	caller.respond(t, erc20ABI, "decimals", uint8(18))

	r := NewEthReader(caller, EthReaderOptions{})
	ctx := context.Background()

	name, err := r.Name(ctx, token, 100)
	if err != nil || name != "Wrapped Ether" {
		t.Errorf("Name = %q, %v", name, err)
	}
	symbol, err := r.Symbol(ctx, token, 100)
	if err != nil || symbol != "WETH" {
		t.Errorf("Symbol = %q, %v", symbol, err)
	}
	decimals, err := r.Decimals(ctx, token, 100)
	if err != nil || decimals != 18 {
		t.Errorf("Decimals = %d, %v", decimals, err)
	}
	if caller.blocks[0] == nil || caller.blocks[0].Uint64() != 100 {
		t.Errorf("call not pinned to block 100: %v", caller.blocks[0])
	}
}

func TestEthReader_Bytes32Symbol(t *testing.T) {
	caller := newFakeCaller()
	var raw [32]byte
	copy(raw[:], "MKR")
	// The string ABI decode of a bytes32 word fails, so the reader retries as bytes32.
	caller.respond(t, erc20Bytes32ABI, "symbol", raw)

	r := NewEthReader(caller, EthReaderOptions{})
	symbol, err := r.Symbol(context.Background(), token, 0)
	if err != nil {
		t.Fatalf("Symbol failed: %v", err)
	}
	if symbol != "MKR" {
		t.Errorf("Symbol = %q, want MKR", symbol)
	}
}

func TestEthReader_RevertIsErrReverted(t *testing.T) {
	caller := newFakeCaller()
	caller.fail(erc20ABI, "decimals", errors.New("execution reverted"))

	r := NewEthReader(caller, EthReaderOptions{})
	_, err := r.Decimals(context.Background(), token, 1)
	if !errors.Is(err, ErrReverted) {
		t.Errorf("expected ErrReverted, got %v", err)
	}
}

func TestEthReader_EmptyReturnIsErrReverted(t *testing.T) {
	r := NewEthReader(newFakeCaller(), EthReaderOptions{})
	_, err := r.Decimals(context.Background(), token, 1)
	if !errors.Is(err, ErrReverted) {
		t.Errorf("expected ErrReverted, got %v", err)
	}
}

func TestEthReader_TransportErrorPropagates(t *testing.T) {
	caller := newFakeCaller()
	boom := errors.New("connection refused")
	caller.fail(erc20ABI, "decimals", boom)

	r := NewEthReader(caller, EthReaderOptions{})
	_, err := r.Decimals(context.Background(), token, 1)
	if errors.Is(err, ErrReverted) || !errors.Is(err, boom) {
		t.Errorf("expected transport error, got %v", err)
	}
}

func TestEthReader_Transformers(t *testing.T) {
	registry := common.HexToAddress("0x0000000000000000000000000000000000000f00")
	transformer := common.HexToAddress("0x0000000000000000000000000000000000000f01")
	underlying := common.HexToAddress("0x00000000000000000000000000000000000000bb")

	caller := newFakeCaller()
	caller.respond(t, transformerRegistryABI, "transformers", []common.Address{transformer})
	caller.respond(t, transformerABI, "getUnderlying", []common.Address{underlying})
	caller.respond(t, transformerABI, "calculateTransformToUnderlying", []struct {
		Underlying common.Address
		Amount     *big.Int
	}{{Underlying: underlying, Amount: big.NewInt(1234)}})

	r := NewEthReader(caller, EthReaderOptions{TransformerRegistry: registry})
	ctx := context.Background()

	got, err := r.Transformer(ctx, token, 0)
	if err != nil || got != transformer {
		t.Fatalf("Transformer = %s, %v", got.Hex(), err)
	}
	tokens, err := r.UnderlyingTokens(ctx, transformer, token, 0)
	if err != nil || len(tokens) != 1 || tokens[0] != underlying {
		t.Fatalf("UnderlyingTokens = %v, %v", tokens, err)
	}
	amounts, err := r.TransformToUnderlying(ctx, transformer, token, big.NewInt(1000), 0)
	if err != nil {
		t.Fatalf("TransformToUnderlying failed: %v", err)
	}
	if len(amounts) != 1 || amounts[0].Underlying != underlying || amounts[0].Amount.Int64() != 1234 {
		t.Errorf("TransformToUnderlying = %+v", amounts)
	}
}

func TestEthReader_NoRegistryMeansNoTransformer(t *testing.T) {
	r := NewEthReader(newFakeCaller(), EthReaderOptions{})
	got, err := r.Transformer(context.Background(), token, 0)
	if err != nil || got != (common.Address{}) {
		t.Errorf("Transformer = %s, %v; want zero address", got.Hex(), err)
	}
}
