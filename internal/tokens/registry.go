// Package tokens resolves token addresses into registry entries and
// classifies them by how the protocol transforms them.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"dca-indexer/internal/chain"
	"dca-indexer/internal/domain"
	"dca-indexer/internal/ids"
	"dca-indexer/internal/logging"
	"dca-indexer/internal/observability"
	"dca-indexer/internal/storage"
)

// Fallbacks used when a metadata call reverts.
const (
	DefaultDecimals uint8 = 18
	DefaultName           = "TBD"
	DefaultSymbol         = "TBD"
)

// Options configures a Registry.
type Options struct {
	// ProtocolTokenTransformer is the transformer that wraps the native gas token.
	ProtocolTokenTransformer common.Address
	// YieldBearingTransformer is the ERC4626 share transformer.
	YieldBearingTransformer common.Address
	Logger                  logrus.FieldLogger
}

// Registry creates and serves Token entities.
type Registry struct {
	tokens *storage.Repository[domain.Token]
	reader chain.Reader
	opts   Options
	logger logrus.FieldLogger

	// Per-run memo of transformer lookups. Never persisted.
	mu          sync.Mutex
	transformer map[common.Address]common.Address
}

// NewRegistry creates a token registry over store.
func NewRegistry(store storage.EntityStore, reader chain.Reader, opts Options) *Registry {
	return &Registry{
		tokens:      storage.NewRepository[domain.Token](store, storage.KindToken),
		reader:      reader,
		opts:        opts,
		logger:      logging.Component(opts.Logger, "tokens"),
		transformer: make(map[common.Address]common.Address),
	}
}

// ResetMemo drops memoized contract reads. Call after rebuilding the store.
func (r *Registry) ResetMemo() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transformer = make(map[common.Address]common.Address)
}

// Get returns a token that must already exist.
func (r *Registry) Get(ctx context.Context, id string) (*domain.Token, error) {
	tok, err := r.tokens.Get(ctx, ids.Token(id))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("token %s: %w", id, domain.ErrSequencing)
	}
	return tok, err
}

// GetOrCreate returns the token at address, creating it on first reference.
// allowed only applies on creation.
func (r *Registry) GetOrCreate(ctx context.Context, address string, allowed bool, tx *domain.Transaction) (*domain.Token, error) {
	return r.getOrCreate(ctx, address, allowed, tx, map[string]bool{})
}

func (r *Registry) getOrCreate(ctx context.Context, address string, allowed bool, tx *domain.Transaction, resolving map[string]bool) (*domain.Token, error) {
	id := ids.Token(address)
	tok, found, err := r.tokens.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if found {
		return tok, nil
	}
	resolving[id] = true

	addr := common.HexToAddress(address)
	block := tx.BlockNumber

	tok = &domain.Token{
		ID:                 id,
		Address:            id,
		Allowed:            allowed,
		Type:               domain.TokenTypeBase,
		CreatedAtBlock:     tx.BlockNumber,
		CreatedAtTimestamp: tx.Timestamp,
	}
	if err := r.fillMetadata(ctx, tok, addr, block); err != nil {
		return nil, err
	}

	transformer, err := r.transformerOf(ctx, addr, block)
	if err != nil {
		return nil, err
	}
	tok.Type = r.classify(transformer)
	if tok.Type != domain.TokenTypeBase {
		tok.Transformer = ids.Token(transformer.Hex())
	}

	if tok.Type == domain.TokenTypeYieldBearingShare {
		underlying, err := r.reader.UnderlyingTokens(ctx, transformer, addr, block)
		if err != nil && !errors.Is(err, chain.ErrReverted) {
			return nil, err
		}
		for _, u := range underlying {
			uid := ids.Token(u.Hex())
			if !resolving[uid] {
				if _, err := r.getOrCreate(ctx, uid, false, tx, resolving); err != nil {
					return nil, fmt.Errorf("underlying %s of %s: %w", uid, id, err)
				}
			}
			tok.UnderlyingTokens = append(tok.UnderlyingTokens, uid)
		}
	}

	if err := r.tokens.Save(ctx, id, tok); err != nil {
		return nil, err
	}
	observability.RecordTokenRegistered(tok.Type.String())
	r.logger.WithFields(logrus.Fields{
		"token":    id,
		"symbol":   tok.Symbol,
		"decimals": tok.Decimals,
		"type":     tok.Type,
		"allowed":  tok.Allowed,
	}).Info("token registered")

	return tok, nil
}

// fillMetadata reads name, symbol and decimals. Each reverted call falls back
// independently; transport errors abort.
func (r *Registry) fillMetadata(ctx context.Context, tok *domain.Token, addr common.Address, block uint64) error {
	var reverted []string

	decimals, err := r.reader.Decimals(ctx, addr, block)
	switch {
	case errors.Is(err, chain.ErrReverted):
		decimals = DefaultDecimals
		reverted = append(reverted, "decimals")
	case err != nil:
		return fmt.Errorf("decimals of %s: %w", tok.ID, err)
	}

	name, err := r.reader.Name(ctx, addr, block)
	switch {
	case errors.Is(err, chain.ErrReverted):
		name = DefaultName
		reverted = append(reverted, "name")
	case err != nil:
		return fmt.Errorf("name of %s: %w", tok.ID, err)
	}

	symbol, err := r.reader.Symbol(ctx, addr, block)
	switch {
	case errors.Is(err, chain.ErrReverted):
		symbol = DefaultSymbol
		reverted = append(reverted, "symbol")
	case err != nil:
		return fmt.Errorf("symbol of %s: %w", tok.ID, err)
	}

	for _, field := range reverted {
		observability.RecordMetadataFallback(field)
	}
	if len(reverted) > 0 {
		r.logger.WithFields(logrus.Fields{
			"token":    tok.ID,
			"reverted": strings.Join(reverted, ","),
		}).Warn("token metadata call reverted, using defaults")
	}

	tok.Decimals = decimals
	tok.Name = name
	tok.Symbol = symbol
	tok.Magnitude = Magnitude(decimals)
	return nil
}

func (r *Registry) transformerOf(ctx context.Context, addr common.Address, block uint64) (common.Address, error) {
	r.mu.Lock()
	cached, ok := r.transformer[addr]
	r.mu.Unlock()
	if ok {
		return cached, nil
	}

	transformer, err := r.reader.Transformer(ctx, addr, block)
	if errors.Is(err, chain.ErrReverted) {
		r.logger.WithField("token", ids.Token(addr.Hex())).Warn("transformer lookup reverted, treating token as base")
		transformer, err = common.Address{}, nil
	}
	if err != nil {
		return common.Address{}, fmt.Errorf("transformer of %s: %w", ids.Token(addr.Hex()), err)
	}

	r.mu.Lock()
	r.transformer[addr] = transformer
	r.mu.Unlock()
	return transformer, nil
}

func (r *Registry) classify(transformer common.Address) domain.TokenType {
	switch {
	case transformer == (common.Address{}):
		return domain.TokenTypeBase
	case transformer == r.opts.ProtocolTokenTransformer:
		return domain.TokenTypeWrappedProtocolToken
	case transformer == r.opts.YieldBearingTransformer:
		return domain.TokenTypeYieldBearingShare
	default:
		return domain.TokenTypeBase
	}
}

// SetAllowed records an allow-list change, creating the token if unseen.
func (r *Registry) SetAllowed(ctx context.Context, address string, allowed bool, tx *domain.Transaction) (*domain.Token, error) {
	tok, err := r.GetOrCreate(ctx, address, allowed, tx)
	if err != nil {
		return nil, err
	}
	if tok.Allowed == allowed {
		return tok, nil
	}
	tok.Allowed = allowed
	if err := r.tokens.Save(ctx, tok.ID, tok); err != nil {
		return nil, err
	}
	return tok, nil
}

// TransformSharesToUnderlying expresses amount of a yield-bearing token in its
// underlying tokens. Non yield-bearing tokens return nil. A reverted conversion
// returns the sentinel [{zero address, amount}].
func (r *Registry) TransformSharesToUnderlying(ctx context.Context, tok *domain.Token, amount *big.Int, block uint64) ([]domain.UnderlyingAmount, error) {
	if tok == nil || !tok.IsYieldBearing() || amount == nil {
		return nil, nil
	}

	converted, err := r.reader.TransformToUnderlying(ctx,
		common.HexToAddress(tok.Transformer), common.HexToAddress(tok.Address), amount, block)
	if errors.Is(err, chain.ErrReverted) {
		observability.RecordConversionFallback()
		r.logger.WithFields(logrus.Fields{
			"token":  tok.ID,
			"amount": amount.String(),
			"block":  block,
		}).Warn("share conversion reverted, reporting unconverted amount")
		return []domain.UnderlyingAmount{{
			Token:  ids.Token(common.Address{}.Hex()),
			Amount: new(big.Int).Set(amount),
		}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("transform %s to underlying: %w", tok.ID, err)
	}

	out := make([]domain.UnderlyingAmount, 0, len(converted))
	for _, c := range converted {
		out = append(out, domain.UnderlyingAmount{Token: ids.Token(c.Underlying.Hex()), Amount: c.Amount})
	}
	return out, nil
}

// Magnitude returns 10^decimals.
func Magnitude(decimals uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}
