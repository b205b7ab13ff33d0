package domain

import (
	"errors"
	"testing"

	"github.com/sugawarayuuta/sonnet"
)

func checkIntervalCounts(t *testing.T, p *Pair, intervalOf map[string]uint32) {
	t.Helper()
	var want [IntervalSlots]uint64
	for _, id := range p.ActivePositionIDs {
		want[IntervalIndex(intervalOf[id])]++
	}
	if want != p.ActivePositionsPerInterval {
		t.Fatalf("ActivePositionsPerInterval = %v, want %v", p.ActivePositionsPerInterval, want)
	}
}

func TestNewPair_CanonicalOrder(t *testing.T) {
	p := NewPair("0xBB", "0xaa")
	if p.TokenA != "0xaa" || p.TokenB != "0xbb" {
		t.Errorf("tokens = %s/%s, want 0xaa/0xbb", p.TokenA, p.TokenB)
	}
	if p.ID != "0xaa-0xbb" {
		t.Errorf("ID = %s", p.ID)
	}
	if PairID("0xaa", "0xbb") != PairID("0xbb", "0xaa") {
		t.Error("PairID should not depend on argument order")
	}
	if p.OtherToken("0xaa") != "0xbb" || p.OtherToken("0xbb") != "0xaa" {
		t.Error("OtherToken mismatch")
	}
}

func TestPair_AddRemoveActivePosition(t *testing.T) {
	p := NewPair("0x01", "0x02")
	intervalOf := map[string]uint32{
		"1": IntervalOneHour,
		"2": IntervalOneDay,
		"3": IntervalOneHour,
		"4": 12345, // unknown, one-week slot
	}

	for _, id := range []string{"1", "2", "3", "4"} {
		if !p.AddActivePosition(id, intervalOf[id]) {
			t.Fatalf("AddActivePosition(%s) = false", id)
		}
		checkIntervalCounts(t, p, intervalOf)
	}
	if p.AddActivePosition("2", intervalOf["2"]) {
		t.Error("duplicate add should be a no-op")
	}
	checkIntervalCounts(t, p, intervalOf)

	if removed, err := p.RemoveActivePosition("1", intervalOf["1"]); err != nil || !removed {
		t.Fatalf("RemoveActivePosition(1) = %v, %v", removed, err)
	}
	checkIntervalCounts(t, p, intervalOf)
	if p.HasActivePosition("1") {
		t.Error("position 1 still active")
	}
	if removed, err := p.RemoveActivePosition("1", intervalOf["1"]); err != nil || removed {
		t.Errorf("second remove = %v, %v; want a no-op", removed, err)
	}
	for _, id := range []string{"2", "3", "4"} {
		if !p.HasActivePosition(id) {
			t.Errorf("position %s should still be active", id)
		}
	}

	for _, id := range []string{"4", "2", "3"} {
		if _, err := p.RemoveActivePosition(id, intervalOf[id]); err != nil {
			t.Fatalf("RemoveActivePosition(%s): %v", id, err)
		}
		checkIntervalCounts(t, p, intervalOf)
	}
	if len(p.ActivePositionIDs) != 0 {
		t.Errorf("ActivePositionIDs = %v, want empty", p.ActivePositionIDs)
	}
}

func TestPair_RemoveActivePositionReportsCounterUnderflow(t *testing.T) {
	p := NewPair("0x01", "0x02")
	p.AddActivePosition("1", IntervalOneHour)
	p.AddActivePosition("2", IntervalOneDay)
	p.ActivePositionsPerInterval[IntervalIndex(IntervalOneHour)] = 0

	removed, err := p.RemoveActivePosition("1", IntervalOneHour)
	if !errors.Is(err, ErrInvariantViolation) {
		t.Fatalf("err = %v, want ErrInvariantViolation", err)
	}
	if removed {
		t.Error("removed = true on underflow")
	}
	if !p.HasActivePosition("1") || len(p.ActivePositionIDs) != 2 {
		t.Errorf("pair changed on underflow: %v", p.ActivePositionIDs)
	}
	if p.ActivePositionsPerInterval[IntervalIndex(IntervalOneHour)] != 0 {
		t.Errorf("one-hour count = %d, want 0", p.ActivePositionsPerInterval[IntervalIndex(IntervalOneHour)])
	}
}

func TestPair_IndexRebuiltAfterDecode(t *testing.T) {
	p := NewPair("0x01", "0x02")
	p.AddActivePosition("7", IntervalOneMinute)
	p.AddActivePosition("8", IntervalOneMinute)

	data, err := sonnet.Marshal(p)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded Pair
	if err := sonnet.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if !decoded.HasActivePosition("8") {
		t.Error("decoded pair lost membership index")
	}
	if removed, err := decoded.RemoveActivePosition("7", IntervalOneMinute); err != nil || !removed {
		t.Errorf("RemoveActivePosition after decode = %v, %v", removed, err)
	}
	if decoded.ActivePositionsPerInterval[0] != 1 {
		t.Errorf("one-minute count = %d, want 1", decoded.ActivePositionsPerInterval[0])
	}
}

func TestPair_MarkSwapped(t *testing.T) {
	p := NewPair("0x01", "0x02")
	p.AddActivePosition("1", IntervalOneHour)

	p.MarkSwapped([]uint32{IntervalOneHour, IntervalOneDay}, 7300)

	hour := IntervalIndex(IntervalOneHour)
	if p.LastSwappedAt[hour] != 7300 {
		t.Errorf("LastSwappedAt[hour] = %d, want 7300", p.LastSwappedAt[hour])
	}
	if p.NextSwapAvailableAt[hour] != 10800 {
		t.Errorf("NextSwapAvailableAt[hour] = %d, want 10800", p.NextSwapAvailableAt[hour])
	}
	day := IntervalIndex(IntervalOneDay)
	if p.LastSwappedAt[day] != 0 {
		t.Error("interval without active positions should not be marked")
	}
}
