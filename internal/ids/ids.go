// Package ids builds the deterministic entity ids used by the indexer.
// Every id derives from protocol-assigned values or (tx hash, log index),
// so replaying a block range always addresses the same entities.
package ids

import (
	"fmt"
	"math/big"
	"strings"
)

// Token returns the id of a token: its lowercase hex address.
func Token(address string) string {
	return strings.ToLower(address)
}

// Position returns the id of a position from its on-chain numeric id.
func Position(positionID *big.Int) string {
	return positionID.String()
}

// Transaction returns the id of a handled log.
// Format: lowercase tx hash | "-" | log index
func Transaction(txHash string, logIndex uint) string {
	return fmt.Sprintf("%s-%d", strings.ToLower(txHash), logIndex)
}

// Action returns the id of the action a transaction produced on a position.
func Action(positionID, transactionID string) string {
	return positionID + "-" + transactionID
}

// Epoch returns the id of the accounting epoch a transaction opened on a position.
func Epoch(positionID, transactionID string) string {
	return positionID + "-" + transactionID
}

// Permission returns the id of an operator grant within an epoch.
func Permission(epochID, operator string) string {
	return epochID + "-" + strings.ToLower(operator)
}

// PairSwap returns the id of a pair's swap snapshot within a transaction.
func PairSwap(pairID, transactionID string) string {
	return pairID + "-" + transactionID
}

// PairSwapInterval returns the id of one executed interval of a pair swap.
func PairSwapInterval(pairSwapID string, interval uint32) string {
	return fmt.Sprintf("%s-%d", pairSwapID, interval)
}

// SwapInterval returns the id of an allowed swap interval.
func SwapInterval(interval uint32) string {
	return fmt.Sprintf("%d", interval)
}
