package domain

import (
	"fmt"
	"math/big"
	"strings"
)

// Pair groups every position swapping between two tokens, regardless of direction.
// ID is tokenA-tokenB with the lexicographically smaller address first.
type Pair struct {
	ID                         string                `json:"id"`
	TokenA                     string                `json:"tokenA"`
	TokenB                     string                `json:"tokenB"`
	ActivePositionIDs          []string              `json:"activePositionIds"`
	ActivePositionsPerInterval [IntervalSlots]uint64 `json:"activePositionsPerInterval"`
	LastSwappedAt              [IntervalSlots]uint64 `json:"lastSwappedAt"`
	NextSwapAvailableAt        [IntervalSlots]uint64 `json:"nextSwapAvailableAt"`
	Transaction                string                `json:"transaction"`
	CreatedAtBlock             uint64                `json:"createdAtBlock"`
	CreatedAtTimestamp         uint64                `json:"createdAtTimestamp"`

	index map[string]int // position id -> slot in ActivePositionIDs
}

// PairID builds the canonical pair id for two token ids.
func PairID(tokenA, tokenB string) string {
	a, b := CanonicalTokens(tokenA, tokenB)
	return a + "-" + b
}

// CanonicalTokens orders two token ids so the smaller one comes first.
func CanonicalTokens(tokenA, tokenB string) (string, string) {
	tokenA, tokenB = strings.ToLower(tokenA), strings.ToLower(tokenB)
	if tokenB < tokenA {
		return tokenB, tokenA
	}
	return tokenA, tokenB
}

// NewPair creates an empty pair for two token ids.
func NewPair(tokenA, tokenB string) *Pair {
	a, b := CanonicalTokens(tokenA, tokenB)
	return &Pair{
		ID:                a + "-" + b,
		TokenA:            a,
		TokenB:            b,
		ActivePositionIDs: []string{},
		index:             map[string]int{},
	}
}

func (p *Pair) ensureIndex() {
	if p.index != nil && len(p.index) == len(p.ActivePositionIDs) {
		return
	}
	p.index = make(map[string]int, len(p.ActivePositionIDs))
	for i, id := range p.ActivePositionIDs {
		p.index[id] = i
	}
}

// HasActivePosition reports whether the position is in the active set.
func (p *Pair) HasActivePosition(positionID string) bool {
	p.ensureIndex()
	_, ok := p.index[positionID]
	return ok
}

// AddActivePosition inserts a position and bumps its interval counter.
// Returns false if it was already active.
func (p *Pair) AddActivePosition(positionID string, interval uint32) bool {
	p.ensureIndex()
	if _, ok := p.index[positionID]; ok {
		return false
	}
	p.index[positionID] = len(p.ActivePositionIDs)
	p.ActivePositionIDs = append(p.ActivePositionIDs, positionID)
	p.ActivePositionsPerInterval[IntervalIndex(interval)]++
	return true
}

// RemoveActivePosition drops a position and decrements its interval counter.
// The last active id takes the removed slot. Returns false if it was not active.
// A counter that is already zero for an active position is an
// ErrInvariantViolation; the pair is left unchanged.
func (p *Pair) RemoveActivePosition(positionID string, interval uint32) (bool, error) {
	p.ensureIndex()
	i, ok := p.index[positionID]
	if !ok {
		return false, nil
	}
	slot := IntervalIndex(interval)
	if p.ActivePositionsPerInterval[slot] == 0 {
		return false, fmt.Errorf("pair %s: active count for interval %d underflows removing position %s: %w",
			p.ID, interval, positionID, ErrInvariantViolation)
	}

	last := len(p.ActivePositionIDs) - 1
	if i != last {
		moved := p.ActivePositionIDs[last]
		p.ActivePositionIDs[i] = moved
		p.index[moved] = i
	}
	p.ActivePositionIDs = p.ActivePositionIDs[:last]
	delete(p.index, positionID)
	p.ActivePositionsPerInterval[slot]--
	return true, nil
}

// MarkSwapped records a swap execution for every interval that has active positions.
func (p *Pair) MarkSwapped(ivs []uint32, timestamp uint64) {
	for _, iv := range ivs {
		slot := IntervalIndex(iv)
		if p.ActivePositionsPerInterval[slot] == 0 {
			continue
		}
		p.LastSwappedAt[slot] = timestamp
		p.NextSwapAvailableAt[slot] = (timestamp/uint64(iv) + 1) * uint64(iv)
	}
}

// OtherToken returns the token of the pair that is not tokenID.
func (p *Pair) OtherToken(tokenID string) string {
	if p.TokenA == tokenID {
		return p.TokenB
	}
	return p.TokenA
}

// PairSwap is a snapshot of one batched swap execution for a pair.
// ID is pairId-txId.
type PairSwap struct {
	ID                  string   `json:"id"`
	Pair                string   `json:"pair"`
	Swapper             string   `json:"swapper"`
	RatioAToB           *big.Int `json:"ratioAToB"`
	RatioBToA           *big.Int `json:"ratioBToA"`
	RatioAToBWithFee    *big.Int `json:"ratioAToBWithFee"`
	RatioBToAWithFee    *big.Int `json:"ratioBToAWithFee"`
	AmountToSwapTokenA  *big.Int `json:"amountToSwapTokenA"`
	AmountToSwapTokenB  *big.Int `json:"amountToSwapTokenB"`
	Fee                 uint32   `json:"fee"`
	Intervals           []uint32 `json:"intervals"`
	Transaction         string   `json:"transaction"`
	ExecutedAtBlock     uint64   `json:"executedAtBlock"`
	ExecutedAtTimestamp uint64   `json:"executedAtTimestamp"`
}

// RatioFor returns the fee-applied ratio for positions selling fromToken.
func (s *PairSwap) RatioFor(pair *Pair, fromToken string) *big.Int {
	if fromToken == pair.TokenA {
		return s.RatioAToBWithFee
	}
	return s.RatioBToAWithFee
}

// PairSwapInterval marks one interval executed by a PairSwap.
// ID is pairSwapId-interval.
type PairSwapInterval struct {
	ID           string `json:"id"`
	Pair         string `json:"pair"`
	PairSwap     string `json:"pairSwap"`
	SwapInterval uint32 `json:"swapInterval"`
}
