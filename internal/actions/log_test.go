package actions

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dca-indexer/internal/domain"
	"dca-indexer/internal/logging"
	"dca-indexer/internal/storage"
	"dca-indexer/internal/storage/memory"
)

type recordingExporter struct {
	actions []*domain.PositionAction
}

func (r *recordingExporter) ExportAction(_ context.Context, a *domain.PositionAction) error {
	r.actions = append(r.actions, a)
	return nil
}

func (r *recordingExporter) ExportPairSwap(context.Context, *domain.PairSwap) error {
	return nil
}

func testTx(logIndex uint) *domain.Transaction {
	return &domain.Transaction{
		ID:          "0xabc-" + big.NewInt(int64(logIndex)).String(),
		Hash:        "0xabc",
		LogIndex:    logIndex,
		From:        "0xsender",
		BlockNumber: 10,
		Timestamp:   1000,
	}
}

func TestModifyKind(t *testing.T) {
	one, two := big.NewInt(1), big.NewInt(2)

	tests := []struct {
		name               string
		oldRate, newRate   *big.Int
		oldSwaps, newSwaps *big.Int
		want               domain.ActionKind
	}{
		{"rate only", one, two, one, one, domain.ActionModifiedRate},
		{"duration only", one, one, one, two, domain.ActionModifiedDuration},
		{"both", one, two, one, two, domain.ActionModifiedRateAndDuration},
		{"neither", one, one, two, two, domain.ActionModifiedRate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ModifyKind(tt.oldRate, tt.newRate, tt.oldSwaps, tt.newSwaps))
		})
	}
}

func TestRecordOncePerTransaction(t *testing.T) {
	ctx := context.Background()
	store := memory.NewEntityStore()
	exp := &recordingExporter{}
	log := NewLog(store, exp, logging.Discard())

	pos := &domain.Position{ID: "7", Rate: big.NewInt(50), RemainingSwaps: big.NewInt(10), Permissions: []string{"p1"}}
	tx := testTx(1)

	first, err := log.Created(ctx, pos, tx)
	require.NoError(t, err)
	assert.Equal(t, "7-0xabc-1", first.ID)
	assert.Equal(t, domain.ActionCreated, first.Action)
	assert.Equal(t, "0xsender", first.Actor)
	assert.Equal(t, []string{"p1"}, first.PermissionsCreated)

	// Mutating the position afterwards must not leak into the recorded action.
	pos.Rate.SetInt64(99)

	again, err := log.Created(ctx, pos, tx)
	require.NoError(t, err)
	assert.Equal(t, int64(50), again.Rate.Int64())

	n, err := store.Count(ctx, storage.KindPositionAction)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, exp.actions, 1)
}

func TestSwappedAndWithdrewFields(t *testing.T) {
	ctx := context.Background()
	log := NewLog(memory.NewEntityStore(), nil, logging.Discard())
	pos := &domain.Position{ID: "1", Rate: big.NewInt(10), RemainingSwaps: big.NewInt(3)}
	swap := &domain.PairSwap{ID: "a-b-0xabc-2"}
	under := []domain.UnderlyingAmount{{Token: "0xdai", Amount: big.NewInt(5)}}

	sw, err := log.Swapped(ctx, pos, swap, big.NewInt(2), big.NewInt(20), under, testTx(2))
	require.NoError(t, err)
	assert.Equal(t, domain.ActionSwapped, sw.Action)
	assert.Equal(t, "a-b-0xabc-2", sw.PairSwap)
	assert.Equal(t, int64(20), sw.Swapped.Int64())
	assert.Equal(t, under, sw.SwappedUnderlying)

	wd, err := log.Withdrew(ctx, pos, big.NewInt(20), nil, "0xrecipient", testTx(3))
	require.NoError(t, err)
	assert.Equal(t, domain.ActionWithdrew, wd.Action)
	assert.Equal(t, "0xrecipient", wd.Recipient)
	assert.Equal(t, int64(20), wd.Withdrawn.Int64())
}
