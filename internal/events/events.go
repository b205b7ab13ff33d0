// Package events decodes hub and permissions manager logs into canonical,
// version-independent events.
package events

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"dca-indexer/internal/domain"
	"dca-indexer/internal/ids"
)

// Version is a hub deployment generation. Versions differ in event layouts only.
type Version string

const (
	V1 Version = "v1"
	V2 Version = "v2"
)

// String returns the string representation of Version.
func (v Version) String() string {
	return string(v)
}

// IsValid checks if the version is a known value.
func (v Version) IsValid() bool {
	return v == V1 || v == V2
}

// Source is the kind of contract that emitted a log.
type Source string

const (
	SourceHub         Source = "hub"
	SourcePermissions Source = "permissions"
)

// IsValid checks if the source is a known value.
func (s Source) IsValid() bool {
	return s == SourceHub || s == SourcePermissions
}

func (s Source) prefix() string {
	if s == SourcePermissions {
		return "Pm"
	}
	return "Hub"
}

// Kind tags a canonical event.
type Kind string

const (
	KindDeposited              Kind = "Deposited"
	KindModified               Kind = "Modified"
	KindTerminated             Kind = "Terminated"
	KindWithdrew               Kind = "Withdrew"
	KindWithdrewMany           Kind = "WithdrewMany"
	KindSwapped                Kind = "Swapped"
	KindTokensAllowedUpdated   Kind = "TokensAllowedUpdated"
	KindSwapIntervalsAllowed   Kind = "SwapIntervalsAllowed"
	KindSwapIntervalsForbidden Kind = "SwapIntervalsForbidden"
	KindRoleAdminChanged       Kind = "RoleAdminChanged"
	KindTransfer               Kind = "Transfer"
	KindPermissionsModified    Kind = "PermissionsModified"
	KindApproval               Kind = "Approval"
	KindApprovalForAll         Kind = "ApprovalForAll"
)

// Event is a decoded, version-independent protocol event.
type Event interface {
	Kind() Kind
}

// Deposited opens a position.
type Deposited struct {
	Depositor    common.Address
	Owner        common.Address
	PositionID   *big.Int
	FromToken    common.Address
	ToToken      common.Address
	SwapInterval uint32
	Rate         *big.Int
	StartingSwap uint32
	LastSwap     uint32
	Permissions  []domain.PermissionGrant
}

// Modified changes a position's rate and swap range.
type Modified struct {
	User         common.Address
	PositionID   *big.Int
	Rate         *big.Int
	StartingSwap uint32
	LastSwap     uint32
}

// Terminated closes a position. V1 logs carry no recipients; both are the user.
type Terminated struct {
	User               common.Address
	RecipientUnswapped common.Address
	RecipientSwapped   common.Address
	PositionID         *big.Int
	ReturnedUnswapped  *big.Int
	ReturnedSwapped    *big.Int
}

// Withdrew takes the swapped balance out of one position.
// V1 logs carry no recipient; it is the withdrawer.
type Withdrew struct {
	Withdrawer common.Address
	Recipient  common.Address
	PositionID *big.Int
	Token      common.Address
	Amount     *big.Int
}

// WithdrewMany withdraws from several positions grouped by token.
type WithdrewMany struct {
	Withdrawer common.Address
	Recipient  common.Address
	Positions  []TokenPositions
	Withdrew   []*big.Int // per entry of Positions
}

// TokenPositions is the set of positions withdrawn in one token.
type TokenPositions struct {
	Token       common.Address
	PositionIDs []*big.Int
}

// Swapped is one batched swap across pairs.
type Swapped struct {
	Sender          common.Address
	RewardRecipient common.Address
	CallbackHandler common.Address
	Fee             uint32
	Pairs           []PairSwapped
}

// PairSwapped is one pair's share of a batched swap. Ratios are always
// available both raw and with the protocol fee applied.
type PairSwapped struct {
	TokenA                  common.Address
	TokenB                  common.Address
	TotalAmountToSwapTokenA *big.Int
	TotalAmountToSwapTokenB *big.Int
	RatioAToB               *big.Int
	RatioBToA               *big.Int
	RatioAToBWithFee        *big.Int
	RatioBToAWithFee        *big.Int
	Intervals               []uint32
}

// TokensAllowedUpdated changes the token allow-list. Tokens and Allowed are parallel.
type TokensAllowedUpdated struct {
	Tokens  []common.Address
	Allowed []bool
}

// SwapIntervalsAllowed enables swap intervals.
type SwapIntervalsAllowed struct {
	Intervals []uint32
}

// SwapIntervalsForbidden disables swap intervals.
type SwapIntervalsForbidden struct {
	Intervals []uint32
}

// RoleAdminChanged is emitted while the hub is being deployed.
type RoleAdminChanged struct {
	Role common.Hash
}

// Transfer moves a position NFT.
type Transfer struct {
	From       common.Address
	To         common.Address
	PositionID *big.Int
}

// IsMintOrBurn reports whether either side is the zero address.
func (t *Transfer) IsMintOrBurn() bool {
	return t.From == (common.Address{}) || t.To == (common.Address{})
}

// PermissionsModified is a diff of operator grants. An empty list revokes.
type PermissionsModified struct {
	PositionID  *big.Int
	Permissions []domain.PermissionGrant
}

// Approval is a plain ERC721 approval. Only its transaction is recorded.
type Approval struct {
	Owner      common.Address
	Approved   common.Address
	PositionID *big.Int
}

// ApprovalForAll is a plain ERC721 operator approval. Only its transaction is recorded.
type ApprovalForAll struct {
	Owner    common.Address
	Operator common.Address
	Approved bool
}

func (*Deposited) Kind() Kind              { return KindDeposited }
func (*Modified) Kind() Kind               { return KindModified }
func (*Terminated) Kind() Kind             { return KindTerminated }
func (*Withdrew) Kind() Kind               { return KindWithdrew }
func (*WithdrewMany) Kind() Kind           { return KindWithdrewMany }
func (*Swapped) Kind() Kind                { return KindSwapped }
func (*TokensAllowedUpdated) Kind() Kind   { return KindTokensAllowedUpdated }
func (*SwapIntervalsAllowed) Kind() Kind   { return KindSwapIntervalsAllowed }
func (*SwapIntervalsForbidden) Kind() Kind { return KindSwapIntervalsForbidden }
func (*RoleAdminChanged) Kind() Kind       { return KindRoleAdminChanged }
func (*Transfer) Kind() Kind               { return KindTransfer }
func (*PermissionsModified) Kind() Kind    { return KindPermissionsModified }
func (*Approval) Kind() Kind               { return KindApproval }
func (*ApprovalForAll) Kind() Kind         { return KindApprovalForAll }

// Envelope is a decoded event with its ledger context.
type Envelope struct {
	Version     Version
	Source      Source
	Contract    common.Address
	TxHash      common.Hash
	LogIndex    uint
	BlockNumber uint64
	Timestamp   uint64
	From        common.Address // transaction sender
	To          common.Address // transaction target
	Event       Event
}

// Name is the handler name recorded on the transaction, e.g. "Hub-Deposited".
func (e *Envelope) Name() string {
	kind := string(e.Event.Kind())
	if kind == string(KindPermissionsModified) {
		kind = "Modified"
	}
	return e.Source.prefix() + "-" + kind
}

// Ordinal returns the ledger position of the log.
func (e *Envelope) Ordinal() domain.Ordinal {
	return domain.Ordinal{Block: e.BlockNumber, LogIndex: e.LogIndex}
}

// Transaction builds the transaction record of the log.
func (e *Envelope) Transaction() *domain.Transaction {
	hash := strings.ToLower(e.TxHash.Hex())
	return &domain.Transaction{
		ID:          ids.Transaction(hash, e.LogIndex),
		Hash:        hash,
		LogIndex:    e.LogIndex,
		Event:       e.Name(),
		From:        ids.Token(e.From.Hex()),
		To:          ids.Token(e.To.Hex()),
		BlockNumber: e.BlockNumber,
		Timestamp:   e.Timestamp,
	}
}

// String identifies the envelope in logs.
func (e *Envelope) String() string {
	return fmt.Sprintf("%s@%d:%d", e.Name(), e.BlockNumber, e.LogIndex)
}
