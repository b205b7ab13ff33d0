package domain

import "math/big"

// ActionKind is the kind of a position action.
type ActionKind string

const (
	ActionCreated                 ActionKind = "CREATED"
	ActionModifiedRate            ActionKind = "MODIFIED_RATE"
	ActionModifiedDuration        ActionKind = "MODIFIED_DURATION"
	ActionModifiedRateAndDuration ActionKind = "MODIFIED_RATE_AND_DURATION"
	ActionSwapped                 ActionKind = "SWAPPED"
	ActionWithdrew                ActionKind = "WITHDREW"
	ActionTerminated              ActionKind = "TERMINATED"
	ActionTransfered              ActionKind = "TRANSFERED"
	ActionPermissionsModified     ActionKind = "PERMISSIONS_MODIFIED"
)

// String returns the string representation of ActionKind.
func (k ActionKind) String() string {
	return string(k)
}

// PositionAction is the append-only audit record of one transaction's effect on a position.
// ID is positionId-txId. Only the fields relevant to Action are set.
type PositionAction struct {
	ID       string     `json:"id"`
	Position string     `json:"position"`
	Action   ActionKind `json:"action"`
	Actor    string     `json:"actor"`

	// CREATED / MODIFIED_*
	Rate               *big.Int `json:"rate,omitempty"`
	OldRate            *big.Int `json:"oldRate,omitempty"`
	RemainingSwaps     *big.Int `json:"remainingSwaps,omitempty"`
	OldRemainingSwaps  *big.Int `json:"oldRemainingSwaps,omitempty"`
	PermissionsCreated []string `json:"permissions,omitempty"`

	// SWAPPED
	Ratio             *big.Int           `json:"ratio,omitempty"`
	Swapped           *big.Int           `json:"swapped,omitempty"`
	PairSwap          string             `json:"pairSwap,omitempty"`
	SwappedUnderlying []UnderlyingAmount `json:"swappedUnderlying,omitempty"`

	// WITHDREW
	Withdrawn           *big.Int           `json:"withdrawn,omitempty"`
	WithdrawnUnderlying []UnderlyingAmount `json:"withdrawnUnderlying,omitempty"`
	Recipient           string             `json:"recipient,omitempty"`

	// TERMINATED
	WithdrawnSwapped   *big.Int `json:"withdrawnSwapped,omitempty"`
	WithdrawnRemaining *big.Int `json:"withdrawnRemaining,omitempty"`

	// TRANSFERED
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`

	// PERMISSIONS_MODIFIED
	PermissionsModified []PermissionGrant `json:"permissionsModified,omitempty"`

	Transaction        string `json:"transaction"`
	CreatedAtBlock     uint64 `json:"createdAtBlock"`
	CreatedAtTimestamp uint64 `json:"createdAtTimestamp"`
}
