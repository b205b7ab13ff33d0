package ids

import (
	"math/big"
	"testing"
)

func TestTransaction(t *testing.T) {
	tests := []struct {
		name     string
		hash     string
		logIndex uint
		want     string
	}{
		{
			name:     "lowercases hash",
			hash:     "0xABCDEF",
			logIndex: 3,
			want:     "0xabcdef-3",
		},
		{
			name:     "zero log index",
			hash:     "0x01",
			logIndex: 0,
			want:     "0x01-0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Transaction(tt.hash, tt.logIndex)
			if got != tt.want {
				t.Errorf("Transaction() = %q, want %q", got, tt.want)
			}
			if again := Transaction(tt.hash, tt.logIndex); again != got {
				t.Errorf("Transaction() not deterministic: %q != %q", got, again)
			}
		})
	}
}

func TestComposedIDs(t *testing.T) {
	tx := Transaction("0xaa", 1)
	pos := Position(big.NewInt(42))

	if got := Action(pos, tx); got != "42-0xaa-1" {
		t.Errorf("Action() = %q", got)
	}
	if got := Epoch(pos, tx); got != "42-0xaa-1" {
		t.Errorf("Epoch() = %q", got)
	}
	if got := Permission(Epoch(pos, tx), "0xBEEF"); got != "42-0xaa-1-0xbeef" {
		t.Errorf("Permission() = %q", got)
	}
	swap := PairSwap("0x01-0x02", tx)
	if got := PairSwapInterval(swap, 3600); got != "0x01-0x02-0xaa-1-3600" {
		t.Errorf("PairSwapInterval() = %q", got)
	}
	if got := SwapInterval(60); got != "60" {
		t.Errorf("SwapInterval() = %q", got)
	}
	if got := Token("0xAbC"); got != "0xabc" {
		t.Errorf("Token() = %q", got)
	}
}
