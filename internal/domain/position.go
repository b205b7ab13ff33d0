package domain

import "math/big"

// PositionStatus is the lifecycle state of a position.
type PositionStatus string

const (
	PositionActive     PositionStatus = "ACTIVE"
	PositionCompleted  PositionStatus = "COMPLETED"
	PositionTerminated PositionStatus = "TERMINATED"
)

// String returns the string representation of PositionStatus.
func (s PositionStatus) String() string {
	return string(s)
}

// Position is a recurring swap order.
// ID is the protocol-assigned position id in decimal form.
//
// Swap accounting is split into epochs; each modify opens a new one.
// Within an epoch, swapped = SwappedBeforeModified + RatioAccumulator*Rate/magnitude(From).
// Withdrawn is lifetime; WithdrawnBeforeModified is its value when the epoch opened.
type Position struct {
	ID           string         `json:"id"`
	Owner        string         `json:"owner"`
	From         string         `json:"from"`
	To           string         `json:"to"`
	Pair         string         `json:"pair"`
	SwapInterval uint32         `json:"swapInterval"`
	Status       PositionStatus `json:"status"`

	Rate               *big.Int `json:"rate"`
	StartingSwap       uint32   `json:"startingSwap"`
	LastSwap           uint32   `json:"lastSwap"`
	RemainingSwaps     *big.Int `json:"remainingSwaps"`
	RemainingLiquidity *big.Int `json:"remainingLiquidity"`

	SwappedBeforeModified   *big.Int `json:"swappedBeforeModified"`
	WithdrawnBeforeModified *big.Int `json:"withdrawnBeforeModified"`
	RatioAccumulator        *big.Int `json:"ratioAccumulator"`
	ToWithdraw              *big.Int `json:"toWithdraw"`
	Withdrawn               *big.Int `json:"withdrawn"`

	// Audit counters, never reset by a modify.
	TotalSwapped       *big.Int `json:"totalSwapped"`
	TotalWithdrawn     *big.Int `json:"totalWithdrawn"`
	TotalDeposited     *big.Int `json:"totalDeposited"`
	TotalSwaps         *big.Int `json:"totalSwaps"`
	TotalExecutedSwaps *big.Int `json:"totalExecutedSwaps"`

	CurrentEpoch string   `json:"currentEpoch"`
	Permissions  []string `json:"permissions"` // PositionPermission ids of the current epoch
	Applied      Ordinal  `json:"applied"`     // last ledger event applied

	Transaction           string `json:"transaction"`
	CreatedAtBlock        uint64 `json:"createdAtBlock"`
	CreatedAtTimestamp    uint64 `json:"createdAtTimestamp"`
	TerminatedAtBlock     uint64 `json:"terminatedAtBlock,omitempty"`
	TerminatedAtTimestamp uint64 `json:"terminatedAtTimestamp,omitempty"`
}

// IsTerminated reports whether the position was closed by its owner.
func (p *Position) IsTerminated() bool {
	return p.Status == PositionTerminated
}

// EpochSwapped returns the total swapped attributable to the current epoch,
// including the balance carried into it.
func (p *Position) EpochSwapped(fromMagnitude *big.Int) *big.Int {
	accrued := new(big.Int).Mul(p.RatioAccumulator, p.Rate)
	accrued.Quo(accrued, fromMagnitude)
	return accrued.Add(accrued, p.SwappedBeforeModified)
}

// PositionEpoch is the immutable set of parameters that opened an accounting epoch.
// ID is positionId-txId.
type PositionEpoch struct {
	ID                      string   `json:"id"`
	Position                string   `json:"position"`
	Rate                    *big.Int `json:"rate"`
	StartingSwap            uint32   `json:"startingSwap"`
	LastSwap                uint32   `json:"lastSwap"`
	RemainingSwaps          *big.Int `json:"remainingSwaps"`
	SwappedBeforeModified   *big.Int `json:"swappedBeforeModified"`
	WithdrawnBeforeModified *big.Int `json:"withdrawnBeforeModified"`
	Transaction             string   `json:"transaction"`
	CreatedAtBlock          uint64   `json:"createdAtBlock"`
	CreatedAtTimestamp      uint64   `json:"createdAtTimestamp"`
}

// Permission is a capability an owner can grant an operator.
type Permission string

const (
	PermissionIncrease  Permission = "INCREASE"
	PermissionReduce    Permission = "REDUCE"
	PermissionWithdraw  Permission = "WITHDRAW"
	PermissionTerminate Permission = "TERMINATE"
)

var permissionsByIndex = [...]Permission{
	PermissionIncrease,
	PermissionReduce,
	PermissionWithdraw,
	PermissionTerminate,
}

// PermissionFromIndex maps the on-chain permission enum value.
func PermissionFromIndex(i uint8) (Permission, bool) {
	if int(i) >= len(permissionsByIndex) {
		return "", false
	}
	return permissionsByIndex[i], true
}

// PositionPermission is one operator grant within a position epoch.
// ID is epochId-operator.
type PositionPermission struct {
	ID          string       `json:"id"`
	Position    string       `json:"position"`
	Epoch       string       `json:"epoch"`
	Operator    string       `json:"operator"`
	Permissions []Permission `json:"permissions"`
}

// PermissionGrant is an (operator, capabilities) entry as carried by events.
// An empty Permissions list revokes the operator.
type PermissionGrant struct {
	Operator    string       `json:"operator"`
	Permissions []Permission `json:"permissions"`
}
