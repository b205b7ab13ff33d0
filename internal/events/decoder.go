package events

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	"dca-indexer/internal/domain"
)

var (
	// ErrUnknownContract is returned for logs of contracts the decoder was not configured with.
	ErrUnknownContract = errors.New("log from unknown contract")
	// ErrUnknownEvent is returned for logs whose topic is not a handled event.
	ErrUnknownEvent = errors.New("unknown event")
	// ErrMalformed is returned when a log does not match its event layout.
	ErrMalformed = errors.New("malformed event")
)

// FeePrecision is the denominator of swap fees.
const FeePrecision = 1_000_000

// Contract is a deployed contract whose logs are decoded.
type Contract struct {
	Address common.Address
	Source  Source
	Version Version
}

type decodeFunc func(d *eventSet, ev *abi.Event, lg *types.Log) (Event, error)

type eventSet struct {
	abi      abi.ABI
	decoders map[string]decodeFunc
}

var (
	hubV1Events = mustEventSet(hubV1JSON, map[string]decodeFunc{
		"Deposited":              decodeDeposited,
		"Modified":               decodeModified,
		"Terminated":             decodeTerminated,
		"Withdrew":               decodeWithdrew,
		"WithdrewMany":           decodeWithdrewMany,
		"Swapped":                decodeSwappedV1,
		"TokensAllowedUpdated":   decodeTokensAllowed,
		"SwapIntervalsAllowed":   decodeSwapIntervalsAllowed,
		"SwapIntervalsForbidden": decodeSwapIntervalsForbidden,
		"RoleAdminChanged":       decodeRoleAdminChanged,
	})
	hubV2Events = mustEventSet(hubV2JSON, map[string]decodeFunc{
		"Deposited":              decodeDeposited,
		"Modified":               decodeModified,
		"Terminated":             decodeTerminated,
		"Withdrew":               decodeWithdrew,
		"WithdrewMany":           decodeWithdrewMany,
		"Swapped":                decodeSwappedV2,
		"TokensAllowedUpdated":   decodeTokensAllowed,
		"SwapIntervalsAllowed":   decodeSwapIntervalsAllowed,
		"SwapIntervalsForbidden": decodeSwapIntervalsForbidden,
		"RoleAdminChanged":       decodeRoleAdminChanged,
	})
	permissionsEvents = mustEventSet(permissionsJSON, map[string]decodeFunc{
		"Transfer":       decodeTransfer,
		"Modified":       decodePermissionsModified,
		"Approval":       decodeApproval,
		"ApprovalForAll": decodeApprovalForAll,
	})
)

func mustEventSet(def string, decoders map[string]decodeFunc) *eventSet {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("events: parse abi: %v", err))
	}
	return &eventSet{abi: parsed, decoders: decoders}
}

func eventsFor(source Source, version Version) (*eventSet, error) {
	switch {
	case source == SourcePermissions:
		return permissionsEvents, nil
	case source == SourceHub && version == V1:
		return hubV1Events, nil
	case source == SourceHub && version == V2:
		return hubV2Events, nil
	}
	return nil, fmt.Errorf("no event layout for %s %s", source, version)
}

// Decoder turns raw logs of configured contracts into envelopes.
type Decoder struct {
	contracts map[common.Address]Contract
}

// NewDecoder creates a decoder for the given contracts.
func NewDecoder(contracts []Contract) (*Decoder, error) {
	d := &Decoder{contracts: make(map[common.Address]Contract, len(contracts))}
	for _, c := range contracts {
		if !c.Source.IsValid() {
			return nil, fmt.Errorf("contract %s: invalid source %q", c.Address.Hex(), c.Source)
		}
		if c.Source == SourceHub && !c.Version.IsValid() {
			return nil, fmt.Errorf("contract %s: invalid version %q", c.Address.Hex(), c.Version)
		}
		if _, dup := d.contracts[c.Address]; dup {
			return nil, fmt.Errorf("contract %s configured twice", c.Address.Hex())
		}
		d.contracts[c.Address] = c
	}
	return d, nil
}

// Addresses returns the configured contract addresses, sorted.
func (d *Decoder) Addresses() []common.Address {
	out := make([]common.Address, 0, len(d.contracts))
	for addr := range d.contracts {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

// Topics returns every event id the decoder handles, for log filters.
func (d *Decoder) Topics() []common.Hash {
	seen := make(map[common.Hash]bool)
	var out []common.Hash
	for _, c := range d.contracts {
		set, err := eventsFor(c.Source, c.Version)
		if err != nil {
			continue
		}
		for name := range set.decoders {
			id := set.abi.Events[name].ID
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Big().Cmp(out[j].Big()) < 0 })
	return out
}

// Decode decodes one log with its transaction context.
func (d *Decoder) Decode(raw RawLog) (*Envelope, error) {
	lg, err := raw.Log()
	if err != nil {
		return nil, err
	}
	c, ok := d.contracts[lg.Address]
	if !ok {
		return nil, fmt.Errorf("%s: %w", lg.Address.Hex(), ErrUnknownContract)
	}
	if len(lg.Topics) == 0 {
		return nil, fmt.Errorf("anonymous log at %d:%d: %w", lg.BlockNumber, lg.Index, ErrUnknownEvent)
	}
	set, err := eventsFor(c.Source, c.Version)
	if err != nil {
		return nil, err
	}
	ev, err := set.abi.EventByID(lg.Topics[0])
	if err != nil {
		return nil, fmt.Errorf("topic %s: %w", lg.Topics[0].Hex(), ErrUnknownEvent)
	}
	decode, ok := set.decoders[ev.Name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", ev.Name, ErrUnknownEvent)
	}
	event, err := decode(set, ev, &lg)
	if err != nil {
		return nil, fmt.Errorf("%s %s at %d:%d: %w", c.Source, ev.Name, lg.BlockNumber, lg.Index, err)
	}

	return &Envelope{
		Version:     c.Version,
		Source:      c.Source,
		Contract:    c.Address,
		TxHash:      lg.TxHash,
		LogIndex:    lg.Index,
		BlockNumber: lg.BlockNumber,
		Timestamp:   raw.Timestamp,
		From:        common.HexToAddress(raw.From),
		To:          common.HexToAddress(raw.To),
		Event:       event,
	}, nil
}

// unpack fills out from both the data and the indexed topics of lg.
func (s *eventSet) unpack(ev *abi.Event, lg *types.Log, out interface{}) error {
	if len(ev.Inputs.NonIndexed()) > 0 {
		if err := s.abi.UnpackIntoInterface(out, ev.Name, lg.Data); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}
	var indexed abi.Arguments
	for _, arg := range ev.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if len(lg.Topics)-1 != len(indexed) {
		return fmt.Errorf("%w: %d topics for %d indexed fields", ErrMalformed, len(lg.Topics)-1, len(indexed))
	}
	if len(indexed) > 0 {
		if err := abi.ParseTopics(out, indexed, lg.Topics[1:]); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}
	return nil
}

// Raw layouts. Top-level fields map to abi arguments by name, nested tuples
// by position.

type permissionSetLog struct {
	Operator    common.Address
	Permissions []uint8
}

type depositedLog struct {
	Depositor    common.Address
	Owner        common.Address
	PositionId   *big.Int
	FromToken    common.Address
	ToToken      common.Address
	SwapInterval uint32
	Rate         *big.Int
	StartingSwap uint32
	LastSwap     uint32
	Permissions  []permissionSetLog
}

type modifiedLog struct {
	User         common.Address
	PositionId   *big.Int
	Rate         *big.Int
	StartingSwap uint32
	LastSwap     uint32
}

type terminatedLog struct {
	User               common.Address
	RecipientUnswapped common.Address
	RecipientSwapped   common.Address
	PositionId         *big.Int
	ReturnedUnswapped  *big.Int
	ReturnedSwapped    *big.Int
}

type withdrewLog struct {
	Withdrawer common.Address
	Recipient  common.Address
	PositionId *big.Int
	Token      common.Address
	Amount     *big.Int
}

type positionSetLog struct {
	Token       common.Address
	PositionIds []*big.Int
}

type withdrewManyLog struct {
	Withdrawer common.Address
	Recipient  common.Address
	Positions  []positionSetLog
	Withdrew   []*big.Int
}

type tokenInSwapLog struct {
	Token       common.Address
	Reward      *big.Int
	ToProvide   *big.Int
	PlatformFee *big.Int
}

type pairInSwapV1Log struct {
	TokenA                  common.Address
	TokenB                  common.Address
	TotalAmountToSwapTokenA *big.Int
	TotalAmountToSwapTokenB *big.Int
	RatioAToB               *big.Int
	RatioBToA               *big.Int
	IntervalsInSwap         [1]byte
}

type pairInSwapV2Log struct {
	TokenA                  common.Address
	TokenB                  common.Address
	TotalAmountToSwapTokenA *big.Int
	TotalAmountToSwapTokenB *big.Int
	RatioAToB               *big.Int
	RatioBToA               *big.Int
	RatioAToBWithFee        *big.Int
	RatioBToAWithFee        *big.Int
	IntervalsInSwap         [1]byte
}

type swappedV1Log struct {
	Sender          common.Address
	RewardRecipient common.Address
	CallbackHandler common.Address
	SwapInformation struct {
		Tokens []tokenInSwapLog
		Pairs  []pairInSwapV1Log
	}
	Borrowed []*big.Int
	Fee      uint32
}

type swappedV2Log struct {
	Sender          common.Address
	RewardRecipient common.Address
	CallbackHandler common.Address
	SwapInformation struct {
		Tokens []tokenInSwapLog
		Pairs  []pairInSwapV2Log
	}
	Borrowed []*big.Int
	Fee      uint32
}

type tokensAllowedLog struct {
	Tokens  []common.Address
	Allowed []bool
}

type swapIntervalsLog struct {
	SwapIntervals []uint32
}

type roleAdminChangedLog struct {
	Role              [32]byte
	PreviousAdminRole [32]byte
	NewAdminRole      [32]byte
}

type transferLog struct {
	From    common.Address
	To      common.Address
	TokenId *big.Int
}

type permissionsModifiedLog struct {
	TokenId     *big.Int
	Permissions []permissionSetLog
}

type approvalLog struct {
	Owner    common.Address
	Approved common.Address
	TokenId  *big.Int
}

type approvalForAllLog struct {
	Owner    common.Address
	Operator common.Address
	Approved bool
}

func decodeDeposited(s *eventSet, ev *abi.Event, lg *types.Log) (Event, error) {
	var raw depositedLog
	if err := s.unpack(ev, lg, &raw); err != nil {
		return nil, err
	}
	if err := checkUints(uintField{"positionId", raw.PositionId, 256}, uintField{"rate", raw.Rate, 120}); err != nil {
		return nil, err
	}
	grants, err := permissionGrants(raw.Permissions)
	if err != nil {
		return nil, err
	}
	return &Deposited{
		Depositor:    raw.Depositor,
		Owner:        raw.Owner,
		PositionID:   raw.PositionId,
		FromToken:    raw.FromToken,
		ToToken:      raw.ToToken,
		SwapInterval: raw.SwapInterval,
		Rate:         raw.Rate,
		StartingSwap: raw.StartingSwap,
		LastSwap:     raw.LastSwap,
		Permissions:  grants,
	}, nil
}

func decodeModified(s *eventSet, ev *abi.Event, lg *types.Log) (Event, error) {
	var raw modifiedLog
	if err := s.unpack(ev, lg, &raw); err != nil {
		return nil, err
	}
	if err := checkUints(uintField{"positionId", raw.PositionId, 256}, uintField{"rate", raw.Rate, 120}); err != nil {
		return nil, err
	}
	return &Modified{
		User:         raw.User,
		PositionID:   raw.PositionId,
		Rate:         raw.Rate,
		StartingSwap: raw.StartingSwap,
		LastSwap:     raw.LastSwap,
	}, nil
}

func decodeTerminated(s *eventSet, ev *abi.Event, lg *types.Log) (Event, error) {
	var raw terminatedLog
	if err := s.unpack(ev, lg, &raw); err != nil {
		return nil, err
	}
	if err := checkUints(
		uintField{"positionId", raw.PositionId, 256},
		uintField{"returnedUnswapped", raw.ReturnedUnswapped, 256},
		uintField{"returnedSwapped", raw.ReturnedSwapped, 256},
	); err != nil {
		return nil, err
	}
	out := &Terminated{
		User:               raw.User,
		RecipientUnswapped: raw.RecipientUnswapped,
		RecipientSwapped:   raw.RecipientSwapped,
		PositionID:         raw.PositionId,
		ReturnedUnswapped:  raw.ReturnedUnswapped,
		ReturnedSwapped:    raw.ReturnedSwapped,
	}
	if out.RecipientUnswapped == (common.Address{}) {
		out.RecipientUnswapped = raw.User
	}
	if out.RecipientSwapped == (common.Address{}) {
		out.RecipientSwapped = raw.User
	}
	return out, nil
}

func decodeWithdrew(s *eventSet, ev *abi.Event, lg *types.Log) (Event, error) {
	var raw withdrewLog
	if err := s.unpack(ev, lg, &raw); err != nil {
		return nil, err
	}
	if err := checkUints(uintField{"positionId", raw.PositionId, 256}, uintField{"amount", raw.Amount, 256}); err != nil {
		return nil, err
	}
	out := &Withdrew{
		Withdrawer: raw.Withdrawer,
		Recipient:  raw.Recipient,
		PositionID: raw.PositionId,
		Token:      raw.Token,
		Amount:     raw.Amount,
	}
	if out.Recipient == (common.Address{}) {
		out.Recipient = raw.Withdrawer
	}
	return out, nil
}

func decodeWithdrewMany(s *eventSet, ev *abi.Event, lg *types.Log) (Event, error) {
	var raw withdrewManyLog
	if err := s.unpack(ev, lg, &raw); err != nil {
		return nil, err
	}
	if len(raw.Withdrew) != len(raw.Positions) {
		return nil, fmt.Errorf("%w: %d amounts for %d position sets", ErrMalformed, len(raw.Withdrew), len(raw.Positions))
	}
	out := &WithdrewMany{
		Withdrawer: raw.Withdrawer,
		Recipient:  raw.Recipient,
		Withdrew:   raw.Withdrew,
	}
	if out.Recipient == (common.Address{}) {
		out.Recipient = raw.Withdrawer
	}
	for i, p := range raw.Positions {
		if err := checkUints(uintField{"withdrew", raw.Withdrew[i], 256}); err != nil {
			return nil, err
		}
		for _, id := range p.PositionIds {
			if err := checkUints(uintField{"positionId", id, 256}); err != nil {
				return nil, err
			}
		}
		out.Positions = append(out.Positions, TokenPositions{Token: p.Token, PositionIDs: p.PositionIds})
	}
	return out, nil
}

func decodeSwappedV1(s *eventSet, ev *abi.Event, lg *types.Log) (Event, error) {
	var raw swappedV1Log
	if err := s.unpack(ev, lg, &raw); err != nil {
		return nil, err
	}
	if raw.Fee > FeePrecision {
		return nil, fmt.Errorf("%w: fee %d above precision", ErrMalformed, raw.Fee)
	}
	out := &Swapped{
		Sender:          raw.Sender,
		RewardRecipient: raw.RewardRecipient,
		CallbackHandler: raw.CallbackHandler,
		Fee:             raw.Fee,
	}
	for _, p := range raw.SwapInformation.Pairs {
		if err := checkUints(
			uintField{"ratioAToB", p.RatioAToB, 256},
			uintField{"ratioBToA", p.RatioBToA, 256},
			uintField{"totalAmountToSwapTokenA", p.TotalAmountToSwapTokenA, 256},
			uintField{"totalAmountToSwapTokenB", p.TotalAmountToSwapTokenB, 256},
		); err != nil {
			return nil, err
		}
		aToB, err := ApplyFee(p.RatioAToB, raw.Fee)
		if err != nil {
			return nil, err
		}
		bToA, err := ApplyFee(p.RatioBToA, raw.Fee)
		if err != nil {
			return nil, err
		}
		out.Pairs = append(out.Pairs, PairSwapped{
			TokenA:                  p.TokenA,
			TokenB:                  p.TokenB,
			TotalAmountToSwapTokenA: p.TotalAmountToSwapTokenA,
			TotalAmountToSwapTokenB: p.TotalAmountToSwapTokenB,
			RatioAToB:               p.RatioAToB,
			RatioBToA:               p.RatioBToA,
			RatioAToBWithFee:        aToB,
			RatioBToAWithFee:        bToA,
			Intervals:               domain.IntervalsFromByte(p.IntervalsInSwap[0]),
		})
	}
	return out, nil
}

func decodeSwappedV2(s *eventSet, ev *abi.Event, lg *types.Log) (Event, error) {
	var raw swappedV2Log
	if err := s.unpack(ev, lg, &raw); err != nil {
		return nil, err
	}
	out := &Swapped{
		Sender:          raw.Sender,
		RewardRecipient: raw.RewardRecipient,
		CallbackHandler: raw.CallbackHandler,
		Fee:             raw.Fee,
	}
	for _, p := range raw.SwapInformation.Pairs {
		if err := checkUints(
			uintField{"ratioAToB", p.RatioAToB, 256},
			uintField{"ratioBToA", p.RatioBToA, 256},
			uintField{"ratioAToBWithFee", p.RatioAToBWithFee, 256},
			uintField{"ratioBToAWithFee", p.RatioBToAWithFee, 256},
			uintField{"totalAmountToSwapTokenA", p.TotalAmountToSwapTokenA, 256},
			uintField{"totalAmountToSwapTokenB", p.TotalAmountToSwapTokenB, 256},
		); err != nil {
			return nil, err
		}
		out.Pairs = append(out.Pairs, PairSwapped{
			TokenA:                  p.TokenA,
			TokenB:                  p.TokenB,
			TotalAmountToSwapTokenA: p.TotalAmountToSwapTokenA,
			TotalAmountToSwapTokenB: p.TotalAmountToSwapTokenB,
			RatioAToB:               p.RatioAToB,
			RatioBToA:               p.RatioBToA,
			RatioAToBWithFee:        p.RatioAToBWithFee,
			RatioBToAWithFee:        p.RatioBToAWithFee,
			Intervals:               domain.IntervalsFromByte(p.IntervalsInSwap[0]),
		})
	}
	return out, nil
}

func decodeTokensAllowed(s *eventSet, ev *abi.Event, lg *types.Log) (Event, error) {
	var raw tokensAllowedLog
	if err := s.unpack(ev, lg, &raw); err != nil {
		return nil, err
	}
	if len(raw.Tokens) != len(raw.Allowed) {
		return nil, fmt.Errorf("%w: %d tokens, %d flags", ErrMalformed, len(raw.Tokens), len(raw.Allowed))
	}
	return &TokensAllowedUpdated{Tokens: raw.Tokens, Allowed: raw.Allowed}, nil
}

func decodeSwapIntervalsAllowed(s *eventSet, ev *abi.Event, lg *types.Log) (Event, error) {
	var raw swapIntervalsLog
	if err := s.unpack(ev, lg, &raw); err != nil {
		return nil, err
	}
	return &SwapIntervalsAllowed{Intervals: raw.SwapIntervals}, nil
}

func decodeSwapIntervalsForbidden(s *eventSet, ev *abi.Event, lg *types.Log) (Event, error) {
	var raw swapIntervalsLog
	if err := s.unpack(ev, lg, &raw); err != nil {
		return nil, err
	}
	return &SwapIntervalsForbidden{Intervals: raw.SwapIntervals}, nil
}

func decodeRoleAdminChanged(s *eventSet, ev *abi.Event, lg *types.Log) (Event, error) {
	var raw roleAdminChangedLog
	if err := s.unpack(ev, lg, &raw); err != nil {
		return nil, err
	}
	return &RoleAdminChanged{Role: common.Hash(raw.Role)}, nil
}

func decodeTransfer(s *eventSet, ev *abi.Event, lg *types.Log) (Event, error) {
	var raw transferLog
	if err := s.unpack(ev, lg, &raw); err != nil {
		return nil, err
	}
	if err := checkUints(uintField{"tokenId", raw.TokenId, 256}); err != nil {
		return nil, err
	}
	return &Transfer{From: raw.From, To: raw.To, PositionID: raw.TokenId}, nil
}

func decodePermissionsModified(s *eventSet, ev *abi.Event, lg *types.Log) (Event, error) {
	var raw permissionsModifiedLog
	if err := s.unpack(ev, lg, &raw); err != nil {
		return nil, err
	}
	if err := checkUints(uintField{"tokenId", raw.TokenId, 256}); err != nil {
		return nil, err
	}
	grants, err := permissionGrants(raw.Permissions)
	if err != nil {
		return nil, err
	}
	return &PermissionsModified{PositionID: raw.TokenId, Permissions: grants}, nil
}

func decodeApproval(s *eventSet, ev *abi.Event, lg *types.Log) (Event, error) {
	var raw approvalLog
	if err := s.unpack(ev, lg, &raw); err != nil {
		return nil, err
	}
	return &Approval{Owner: raw.Owner, Approved: raw.Approved, PositionID: raw.TokenId}, nil
}

func decodeApprovalForAll(s *eventSet, ev *abi.Event, lg *types.Log) (Event, error) {
	var raw approvalForAllLog
	if err := s.unpack(ev, lg, &raw); err != nil {
		return nil, err
	}
	return &ApprovalForAll{Owner: raw.Owner, Operator: raw.Operator, Approved: raw.Approved}, nil
}

func permissionGrants(sets []permissionSetLog) ([]domain.PermissionGrant, error) {
	out := make([]domain.PermissionGrant, 0, len(sets))
	for _, set := range sets {
		g := domain.PermissionGrant{
			Operator:    strings.ToLower(set.Operator.Hex()),
			Permissions: make([]domain.Permission, 0, len(set.Permissions)),
		}
		for _, idx := range set.Permissions {
			p, ok := domain.PermissionFromIndex(idx)
			if !ok {
				return nil, fmt.Errorf("%w: permission index %d", ErrMalformed, idx)
			}
			g.Permissions = append(g.Permissions, p)
		}
		out = append(out, g)
	}
	return out, nil
}

type uintField struct {
	name string
	v    *big.Int
	bits int
}

// checkUints verifies decoded integers fit their declared widths.
func checkUints(fields ...uintField) error {
	for _, f := range fields {
		if f.v == nil {
			return fmt.Errorf("%w: %s missing", ErrMalformed, f.name)
		}
		if f.v.Sign() < 0 {
			return fmt.Errorf("%w: %s negative", ErrMalformed, f.name)
		}
		if _, overflow := uint256.FromBig(f.v); overflow || f.v.BitLen() > f.bits {
			return fmt.Errorf("%w: %s overflows uint%d", ErrMalformed, f.name, f.bits)
		}
	}
	return nil
}

// ApplyFee returns ratio minus fee parts per FeePrecision of it, rounding the
// fee down.
func ApplyFee(ratio *big.Int, fee uint32) (*big.Int, error) {
	r, overflow := uint256.FromBig(ratio)
	if overflow {
		return nil, fmt.Errorf("%w: ratio overflows uint256", ErrMalformed)
	}
	cut, overflow := new(uint256.Int).MulDivOverflow(r, uint256.NewInt(uint64(fee)), uint256.NewInt(FeePrecision))
	if overflow {
		return nil, fmt.Errorf("%w: fee on ratio overflows uint256", ErrMalformed)
	}
	return new(uint256.Int).Sub(r, cut).ToBig(), nil
}
