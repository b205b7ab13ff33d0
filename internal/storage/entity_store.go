package storage

import "context"

// Kind names an entity type in the store.
type Kind string

const (
	KindToken              Kind = "Token"
	KindPair               Kind = "Pair"
	KindPairSwap           Kind = "PairSwap"
	KindPairSwapInterval   Kind = "PairSwapInterval"
	KindPosition           Kind = "Position"
	KindPositionEpoch      Kind = "PositionEpoch"
	KindPositionPermission Kind = "PositionPermission"
	KindPositionAction     Kind = "PositionAction"
	KindTransaction        Kind = "Transaction"
	KindSwapInterval       Kind = "SwapInterval"
)

// Kinds lists every entity kind.
func Kinds() []Kind {
	return []Kind{
		KindToken,
		KindPair,
		KindPairSwap,
		KindPairSwapInterval,
		KindPosition,
		KindPositionEpoch,
		KindPositionPermission,
		KindPositionAction,
		KindTransaction,
		KindSwapInterval,
	}
}

// String returns the string representation of Kind.
func (k Kind) String() string {
	return string(k)
}

// EntityStore is a key-value store of encoded entities keyed by (kind, id).
// It exposes no transactions; callers rely on deterministic ids and
// get-or-create for replay safety.
type EntityStore interface {
	// Load returns the encoded entity.
	// Returns ErrNotFound if absent.
	Load(ctx context.Context, kind Kind, id string) ([]byte, error)

	// Save inserts or replaces the encoded entity.
	Save(ctx context.Context, kind Kind, id string, data []byte) error

	// Remove deletes the entity. Removing an absent entity is not an error.
	Remove(ctx context.Context, kind Kind, id string) error

	// Count returns the number of stored entities of a kind.
	Count(ctx context.Context, kind Kind) (int, error)
}
