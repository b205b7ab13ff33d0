package tokens

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"dca-indexer/internal/chain/stub"
	"dca-indexer/internal/domain"
	"dca-indexer/internal/logging"
	"dca-indexer/internal/storage/memory"
)

var (
	usdc        = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	weth        = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	vault       = common.HexToAddress("0x00000000000000000000000000000000000000a3")
	wrapperTf   = common.HexToAddress("0x0000000000000000000000000000000000000f01")
	erc4626Tf   = common.HexToAddress("0x0000000000000000000000000000000000000f02")
	unknownTf   = common.HexToAddress("0x0000000000000000000000000000000000000f03")
	testTx      = &domain.Transaction{ID: "0x01-0", BlockNumber: 100, Timestamp: 1700000000}
	testOptions = Options{ProtocolTokenTransformer: wrapperTf, YieldBearingTransformer: erc4626Tf, Logger: logging.Discard()}
)

func id(a common.Address) string {
	return strings.ToLower(a.Hex())
}

func TestGetOrCreate_ReadsMetadataOnce(t *testing.T) {
	reader := stub.NewReader()
	reader.SetToken(usdc, stub.Token("USD Coin", "USDC", 6))
	reg := NewRegistry(memory.NewEntityStore(), reader, testOptions)
	ctx := context.Background()

	tok, err := reg.GetOrCreate(ctx, usdc.Hex(), true, testTx)
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if tok.ID != id(usdc) {
		t.Errorf("ID = %s, want lowercase address", tok.ID)
	}
	if tok.Symbol != "USDC" || tok.Name != "USD Coin" || tok.Decimals != 6 {
		t.Errorf("metadata = %s/%s/%d", tok.Name, tok.Symbol, tok.Decimals)
	}
	if tok.Magnitude.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Errorf("Magnitude = %s, want 1000000", tok.Magnitude)
	}
	if tok.Type != domain.TokenTypeBase || !tok.Allowed {
		t.Errorf("type/allowed = %s/%v", tok.Type, tok.Allowed)
	}

	again, err := reg.GetOrCreate(ctx, usdc.Hex(), false, testTx)
	if err != nil {
		t.Fatalf("second GetOrCreate failed: %v", err)
	}
	if !again.Allowed {
		t.Error("allowed should only apply on creation")
	}
	if reader.Calls("decimals") != 1 {
		t.Errorf("decimals called %d times, want 1", reader.Calls("decimals"))
	}
}

func TestGetOrCreate_FallbacksAreIndependent(t *testing.T) {
	reader := stub.NewReader()
	decimals := uint8(8)
	reader.SetToken(usdc, stub.TokenInfo{Decimals: &decimals})
	reg := NewRegistry(memory.NewEntityStore(), reader, testOptions)

	tok, err := reg.GetOrCreate(context.Background(), usdc.Hex(), true, testTx)
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if tok.Decimals != 8 {
		t.Errorf("Decimals = %d, want 8", tok.Decimals)
	}
	if tok.Name != DefaultName || tok.Symbol != DefaultSymbol {
		t.Errorf("name/symbol = %s/%s, want TBD/TBD", tok.Name, tok.Symbol)
	}
}

func TestGetOrCreate_AllRevertedUsesDefaults(t *testing.T) {
	reg := NewRegistry(memory.NewEntityStore(), stub.NewReader(), testOptions)

	tok, err := reg.GetOrCreate(context.Background(), usdc.Hex(), true, testTx)
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if tok.Decimals != DefaultDecimals {
		t.Errorf("Decimals = %d, want %d", tok.Decimals, DefaultDecimals)
	}
	if tok.Magnitude.Cmp(Magnitude(18)) != 0 {
		t.Errorf("Magnitude = %s", tok.Magnitude)
	}
}

func TestGetOrCreate_Classification(t *testing.T) {
	reader := stub.NewReader()
	reader.SetToken(weth, stub.Token("Wrapped Ether", "WETH", 18))
	reader.SetToken(usdc, stub.Token("USD Coin", "USDC", 6))
	reader.SetToken(vault, stub.Token("Vault USDC", "vUSDC", 6))
	reader.SetTransformer(weth, wrapperTf, nil, nil)
	reader.SetTransformer(vault, erc4626Tf, []common.Address{usdc}, big.NewRat(11, 10))

	reg := NewRegistry(memory.NewEntityStore(), reader, testOptions)
	ctx := context.Background()

	wrapped, err := reg.GetOrCreate(ctx, weth.Hex(), true, testTx)
	if err != nil {
		t.Fatalf("GetOrCreate(weth) failed: %v", err)
	}
	if wrapped.Type != domain.TokenTypeWrappedProtocolToken {
		t.Errorf("weth type = %s", wrapped.Type)
	}

	share, err := reg.GetOrCreate(ctx, vault.Hex(), true, testTx)
	if err != nil {
		t.Fatalf("GetOrCreate(vault) failed: %v", err)
	}
	if share.Type != domain.TokenTypeYieldBearingShare {
		t.Errorf("vault type = %s", share.Type)
	}
	if len(share.UnderlyingTokens) != 1 || share.UnderlyingTokens[0] != id(usdc) {
		t.Fatalf("UnderlyingTokens = %v", share.UnderlyingTokens)
	}

	underlying, err := reg.Get(ctx, id(usdc))
	if err != nil {
		t.Fatalf("underlying token not created: %v", err)
	}
	if underlying.Allowed {
		t.Error("underlying tokens are created disallowed")
	}
}

func TestGetOrCreate_UnknownTransformerIsBase(t *testing.T) {
	reader := stub.NewReader()
	reader.SetTransformer(usdc, unknownTf, nil, nil)
	reg := NewRegistry(memory.NewEntityStore(), reader, testOptions)

	tok, err := reg.GetOrCreate(context.Background(), usdc.Hex(), true, testTx)
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if tok.Type != domain.TokenTypeBase {
		t.Errorf("type = %s, want BASE", tok.Type)
	}
}

func TestTransformerLookupIsMemoized(t *testing.T) {
	reader := stub.NewReader()
	store := memory.NewEntityStore()
	reg := NewRegistry(store, reader, testOptions)
	ctx := context.Background()

	if _, err := reg.GetOrCreate(ctx, usdc.Hex(), true, testTx); err != nil {
		t.Fatal(err)
	}
	// Rebuild the store but keep the registry: the memo still answers.
	reg.tokens = NewRegistry(memory.NewEntityStore(), reader, testOptions).tokens
	if _, err := reg.GetOrCreate(ctx, usdc.Hex(), true, testTx); err != nil {
		t.Fatal(err)
	}
	if reader.Calls("transformers") != 1 {
		t.Errorf("transformers called %d times, want 1", reader.Calls("transformers"))
	}

	reg.ResetMemo()
	reg.tokens = NewRegistry(memory.NewEntityStore(), reader, testOptions).tokens
	if _, err := reg.GetOrCreate(ctx, usdc.Hex(), true, testTx); err != nil {
		t.Fatal(err)
	}
	if reader.Calls("transformers") != 2 {
		t.Errorf("transformers called %d times after reset, want 2", reader.Calls("transformers"))
	}
}

func TestSetAllowed(t *testing.T) {
	reg := NewRegistry(memory.NewEntityStore(), stub.NewReader(), testOptions)
	ctx := context.Background()

	tok, err := reg.SetAllowed(ctx, usdc.Hex(), true, testTx)
	if err != nil || !tok.Allowed {
		t.Fatalf("SetAllowed(true) = %v, %v", tok, err)
	}
	tok, err = reg.SetAllowed(ctx, usdc.Hex(), false, testTx)
	if err != nil || tok.Allowed {
		t.Fatalf("SetAllowed(false) = %v, %v", tok, err)
	}
	stored, _ := reg.Get(ctx, id(usdc))
	if stored.Allowed {
		t.Error("allow-list change not persisted")
	}
}

func TestGet_MissingIsSequencingError(t *testing.T) {
	reg := NewRegistry(memory.NewEntityStore(), stub.NewReader(), testOptions)
	_, err := reg.Get(context.Background(), "0xdead")
	if !errors.Is(err, domain.ErrSequencing) {
		t.Errorf("expected ErrSequencing, got %v", err)
	}
}

func TestTransformSharesToUnderlying(t *testing.T) {
	reader := stub.NewReader()
	reader.SetTransformer(vault, erc4626Tf, []common.Address{usdc}, big.NewRat(3, 2))
	reg := NewRegistry(memory.NewEntityStore(), reader, testOptions)
	ctx := context.Background()

	share, err := reg.GetOrCreate(ctx, vault.Hex(), true, testTx)
	if err != nil {
		t.Fatal(err)
	}

	got, err := reg.TransformSharesToUnderlying(ctx, share, big.NewInt(100), 100)
	if err != nil {
		t.Fatalf("TransformSharesToUnderlying failed: %v", err)
	}
	if len(got) != 1 || got[0].Token != id(usdc) || got[0].Amount.Int64() != 150 {
		t.Errorf("converted = %+v", got)
	}

	base, _ := reg.Get(ctx, id(usdc))
	if got, _ := reg.TransformSharesToUnderlying(ctx, base, big.NewInt(100), 100); got != nil {
		t.Errorf("base token conversion = %v, want nil", got)
	}
}

func TestTransformSharesToUnderlying_RevertSentinel(t *testing.T) {
	reader := stub.NewReader()
	reader.SetTransformer(vault, erc4626Tf, []common.Address{usdc}, nil)
	reg := NewRegistry(memory.NewEntityStore(), reader, testOptions)
	ctx := context.Background()

	share, err := reg.GetOrCreate(ctx, vault.Hex(), true, testTx)
	if err != nil {
		t.Fatal(err)
	}

	got, err := reg.TransformSharesToUnderlying(ctx, share, big.NewInt(77), 100)
	if err != nil {
		t.Fatalf("revert should not fail the event: %v", err)
	}
	if len(got) != 1 || got[0].Token != id(common.Address{}) || got[0].Amount.Int64() != 77 {
		t.Errorf("sentinel = %+v, want [{zero, 77}]", got)
	}
}
