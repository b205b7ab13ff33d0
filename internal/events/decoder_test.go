package events

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dca-indexer/internal/domain"
)

var (
	hubV1    = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	hubV2    = common.HexToAddress("0x00000000000000000000000000000000000000d2")
	pm       = common.HexToAddress("0x00000000000000000000000000000000000000d3")
	alice    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob      = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	tokenA   = common.HexToAddress("0x0000000000000000000000000000000000000011")
	tokenB   = common.HexToAddress("0x0000000000000000000000000000000000000022")
	txSender = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	txHash   = common.HexToHash("0xabcdef")
)

func newTestDecoder(t *testing.T) *Decoder {
	t.Helper()
	d, err := NewDecoder([]Contract{
		{Address: hubV1, Source: SourceHub, Version: V1},
		{Address: hubV2, Source: SourceHub, Version: V2},
		{Address: pm, Source: SourcePermissions},
	})
	require.NoError(t, err)
	return d
}

func addrTopic(a common.Address) common.Hash {
	return common.BytesToHash(a.Bytes())
}

func buildLog(t *testing.T, set *eventSet, name string, contract common.Address, topics []common.Hash, args ...interface{}) RawLog {
	t.Helper()
	ev, ok := set.abi.Events[name]
	require.True(t, ok, "event %s", name)
	data, err := ev.Inputs.NonIndexed().Pack(args...)
	require.NoError(t, err)
	lg := types.Log{
		Address:     contract,
		Topics:      append([]common.Hash{ev.ID}, topics...),
		Data:        data,
		BlockNumber: 42,
		TxHash:      txHash,
		Index:       7,
	}
	return NewRawLog(lg, 1_700_000_000, txSender, contract)
}

func TestDecodeDeposited(t *testing.T) {
	d := newTestDecoder(t)
	raw := buildLog(t, hubV2Events, "Deposited", hubV2,
		[]common.Hash{addrTopic(alice), addrTopic(bob)},
		big.NewInt(9), tokenA, tokenB, uint32(3600), big.NewInt(500), uint32(1), uint32(10),
		[]permissionSetLog{{Operator: alice, Permissions: []uint8{2, 0}}},
	)

	env, err := d.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, V2, env.Version)
	assert.Equal(t, "Hub-Deposited", env.Name())
	assert.Equal(t, uint64(42), env.BlockNumber)
	assert.Equal(t, uint(7), env.LogIndex)

	ev, ok := env.Event.(*Deposited)
	require.True(t, ok)
	assert.Equal(t, alice, ev.Depositor)
	assert.Equal(t, bob, ev.Owner)
	assert.Equal(t, "9", ev.PositionID.String())
	assert.Equal(t, tokenA, ev.FromToken)
	assert.Equal(t, uint32(3600), ev.SwapInterval)
	assert.Equal(t, "500", ev.Rate.String())
	assert.Equal(t, uint32(10), ev.LastSwap)
	require.Len(t, ev.Permissions, 1)
	assert.Equal(t, []domain.Permission{domain.PermissionWithdraw, domain.PermissionIncrease}, ev.Permissions[0].Permissions)

	tx := env.Transaction()
	assert.Equal(t, "Hub-Deposited", tx.Event)
	assert.Equal(t, txHash.Hex()+"-7", tx.ID)
	assert.Equal(t, uint64(1_700_000_000), tx.Timestamp)
}

func TestDecodeSwappedV1AppliesFee(t *testing.T) {
	d := newTestDecoder(t)
	ratio := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	info := struct {
		Tokens []tokenInSwapLog
		Pairs  []pairInSwapV1Log
	}{
		Pairs: []pairInSwapV1Log{{
			TokenA:                  tokenA,
			TokenB:                  tokenB,
			TotalAmountToSwapTokenA: big.NewInt(100),
			TotalAmountToSwapTokenB: big.NewInt(0),
			RatioAToB:               ratio,
			RatioBToA:               big.NewInt(2_000_000),
			IntervalsInSwap:         [1]byte{0b0001_0001},
		}},
	}
	raw := buildLog(t, hubV1Events, "Swapped", hubV1,
		[]common.Hash{addrTopic(alice), addrTopic(alice), addrTopic(bob)},
		info, []*big.Int{}, uint32(3000),
	)

	env, err := d.Decode(raw)
	require.NoError(t, err)
	ev := env.Event.(*Swapped)
	assert.Equal(t, uint32(3000), ev.Fee)
	require.Len(t, ev.Pairs, 1)
	p := ev.Pairs[0]
	assert.Equal(t, ratio.String(), p.RatioAToB.String())
	assert.Equal(t, "997000000000000000", p.RatioAToBWithFee.String())
	assert.Equal(t, "1994000", p.RatioBToAWithFee.String())
	assert.Equal(t, []uint32{domain.IntervalOneMinute, domain.IntervalOneHour}, p.Intervals)
}

func TestDecodeSwappedV2KeepsFeeAppliedRatios(t *testing.T) {
	d := newTestDecoder(t)
	info := struct {
		Tokens []tokenInSwapLog
		Pairs  []pairInSwapV2Log
	}{
		Tokens: []tokenInSwapLog{{Token: tokenA, Reward: big.NewInt(1), ToProvide: big.NewInt(0), PlatformFee: big.NewInt(0)}},
		Pairs: []pairInSwapV2Log{{
			TokenA:                  tokenA,
			TokenB:                  tokenB,
			TotalAmountToSwapTokenA: big.NewInt(100),
			TotalAmountToSwapTokenB: big.NewInt(7),
			RatioAToB:               big.NewInt(1000),
			RatioBToA:               big.NewInt(1000),
			RatioAToBWithFee:        big.NewInt(990),
			RatioBToAWithFee:        big.NewInt(980),
			IntervalsInSwap:         [1]byte{0b1000_0000},
		}},
	}
	raw := buildLog(t, hubV2Events, "Swapped", hubV2,
		[]common.Hash{addrTopic(alice), addrTopic(alice), addrTopic(bob)},
		info, []*big.Int{big.NewInt(0)}, uint32(5000),
	)

	env, err := d.Decode(raw)
	require.NoError(t, err)
	p := env.Event.(*Swapped).Pairs[0]
	assert.Equal(t, "990", p.RatioAToBWithFee.String())
	assert.Equal(t, "980", p.RatioBToAWithFee.String())
	assert.Equal(t, []uint32{domain.IntervalOneWeek}, p.Intervals)
}

func TestDecodeWithdrewRecipientByVersion(t *testing.T) {
	d := newTestDecoder(t)

	v1 := buildLog(t, hubV1Events, "Withdrew", hubV1, []common.Hash{addrTopic(alice)},
		big.NewInt(3), tokenB, big.NewInt(40))
	env, err := d.Decode(v1)
	require.NoError(t, err)
	w := env.Event.(*Withdrew)
	assert.Equal(t, alice, w.Recipient, "v1 recipient is the withdrawer")
	assert.Equal(t, "40", w.Amount.String())

	v2 := buildLog(t, hubV2Events, "Withdrew", hubV2, []common.Hash{addrTopic(alice), addrTopic(bob)},
		big.NewInt(3), tokenB, big.NewInt(40))
	env, err = d.Decode(v2)
	require.NoError(t, err)
	assert.Equal(t, bob, env.Event.(*Withdrew).Recipient)
}

func TestDecodeWithdrewMany(t *testing.T) {
	d := newTestDecoder(t)
	raw := buildLog(t, hubV2Events, "WithdrewMany", hubV2, []common.Hash{addrTopic(alice), addrTopic(bob)},
		[]positionSetLog{
			{Token: tokenA, PositionIds: []*big.Int{big.NewInt(1), big.NewInt(2)}},
			{Token: tokenB, PositionIds: []*big.Int{big.NewInt(3)}},
		},
		[]*big.Int{big.NewInt(10), big.NewInt(20)},
	)

	env, err := d.Decode(raw)
	require.NoError(t, err)
	ev := env.Event.(*WithdrewMany)
	require.Len(t, ev.Positions, 2)
	assert.Len(t, ev.Positions[0].PositionIDs, 2)
	assert.Equal(t, tokenB, ev.Positions[1].Token)
	assert.Equal(t, bob, ev.Recipient)
}

func TestDecodePermissionsManager(t *testing.T) {
	d := newTestDecoder(t)

	transfer := buildLog(t, permissionsEvents, "Transfer", pm,
		[]common.Hash{addrTopic(alice), addrTopic(bob), common.BigToHash(big.NewInt(12))})
	env, err := d.Decode(transfer)
	require.NoError(t, err)
	assert.Equal(t, "Pm-Transfer", env.Name())
	tr := env.Event.(*Transfer)
	assert.Equal(t, "12", tr.PositionID.String())
	assert.False(t, tr.IsMintOrBurn())

	mint := buildLog(t, permissionsEvents, "Transfer", pm,
		[]common.Hash{addrTopic(common.Address{}), addrTopic(bob), common.BigToHash(big.NewInt(12))})
	env, err = d.Decode(mint)
	require.NoError(t, err)
	assert.True(t, env.Event.(*Transfer).IsMintOrBurn())

	modified := buildLog(t, permissionsEvents, "Modified", pm, nil,
		big.NewInt(12), []permissionSetLog{{Operator: bob, Permissions: nil}})
	env, err = d.Decode(modified)
	require.NoError(t, err)
	assert.Equal(t, "Pm-Modified", env.Name())
	pmod := env.Event.(*PermissionsModified)
	require.Len(t, pmod.Permissions, 1)
	assert.Empty(t, pmod.Permissions[0].Permissions)
}

func TestDecodeErrors(t *testing.T) {
	d := newTestDecoder(t)

	t.Run("unknown contract", func(t *testing.T) {
		raw := buildLog(t, hubV2Events, "SwapIntervalsAllowed", bob, nil, []uint32{60})
		_, err := d.Decode(raw)
		assert.ErrorIs(t, err, ErrUnknownContract)
	})

	t.Run("unknown event", func(t *testing.T) {
		raw := buildLog(t, hubV2Events, "SwapIntervalsAllowed", pm, nil, []uint32{60})
		_, err := d.Decode(raw)
		assert.ErrorIs(t, err, ErrUnknownEvent)
	})

	t.Run("bad permission index", func(t *testing.T) {
		raw := buildLog(t, permissionsEvents, "Modified", pm, nil,
			big.NewInt(1), []permissionSetLog{{Operator: bob, Permissions: []uint8{9}}})
		_, err := d.Decode(raw)
		assert.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("missing topic", func(t *testing.T) {
		raw := buildLog(t, hubV2Events, "Withdrew", hubV2, []common.Hash{addrTopic(alice)},
			big.NewInt(3), tokenB, big.NewInt(40))
		_, err := d.Decode(raw)
		assert.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("truncated data", func(t *testing.T) {
		raw := buildLog(t, hubV2Events, "SwapIntervalsAllowed", hubV2, nil, []uint32{60, 3600})
		raw.Data = raw.Data[:10]
		_, err := d.Decode(raw)
		assert.ErrorIs(t, err, ErrMalformed)
	})
}

func TestCheckUints(t *testing.T) {
	two := big.NewInt(2)
	tests := []struct {
		name    string
		v       *big.Int
		bits    int
		wantErr bool
	}{
		{"fits", big.NewInt(5), 120, false},
		{"max uint120", new(big.Int).Sub(new(big.Int).Exp(two, big.NewInt(120), nil), big.NewInt(1)), 120, false},
		{"uint120 overflow", new(big.Int).Exp(two, big.NewInt(120), nil), 120, true},
		{"uint256 overflow", new(big.Int).Exp(two, big.NewInt(256), nil), 256, true},
		{"negative", big.NewInt(-1), 256, true},
		{"nil", nil, 256, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkUints(uintField{"x", tt.v, tt.bits})
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrMalformed))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestApplyFee(t *testing.T) {
	tests := []struct {
		ratio int64
		fee   uint32
		want  string
	}{
		{1_000_000, 0, "1000000"},
		{1_000_000, 3000, "997000"},
		{999, 3000, "997"}, // fee rounds down: 999*3000/1e6 = 2
		{1_000_000, FeePrecision, "0"},
	}
	for _, tt := range tests {
		got, err := ApplyFee(big.NewInt(tt.ratio), tt.fee)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got.String(), "ratio %d fee %d", tt.ratio, tt.fee)
	}
}

func TestNewDecoderRejectsBadConfig(t *testing.T) {
	_, err := NewDecoder([]Contract{{Address: hubV1, Source: SourceHub, Version: "v9"}})
	assert.Error(t, err)

	_, err = NewDecoder([]Contract{
		{Address: hubV1, Source: SourceHub, Version: V1},
		{Address: hubV1, Source: SourcePermissions},
	})
	assert.Error(t, err)
}

func TestTopicsCoverEveryHandledEvent(t *testing.T) {
	d := newTestDecoder(t)
	topics := d.Topics()
	assert.Contains(t, topics, hubV1Events.abi.Events["Swapped"].ID)
	assert.Contains(t, topics, hubV2Events.abi.Events["Swapped"].ID)
	assert.Contains(t, topics, permissionsEvents.abi.Events["Transfer"].ID)
	assert.NotEqual(t, hubV1Events.abi.Events["Swapped"].ID, hubV2Events.abi.Events["Swapped"].ID)
	assert.Len(t, d.Addresses(), 3)
}
