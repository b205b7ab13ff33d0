package domain

// Ordinal is the position of a log in the ledger: (block ASC, log index ASC).
type Ordinal struct {
	Block    uint64 `json:"block"`
	LogIndex uint   `json:"logIndex"`
}

// IsZero reports whether no event has been recorded.
func (o Ordinal) IsZero() bool {
	return o.Block == 0 && o.LogIndex == 0
}

// Compare returns -1, 0 or +1 depending on whether o is before, equal to or after other.
func (o Ordinal) Compare(other Ordinal) int {
	if o.Block != other.Block {
		if o.Block < other.Block {
			return -1
		}
		return 1
	}
	if o.LogIndex != other.LogIndex {
		if o.LogIndex < other.LogIndex {
			return -1
		}
		return 1
	}
	return 0
}

// After reports whether o is strictly after other.
func (o Ordinal) After(other Ordinal) bool {
	return o.Compare(other) > 0
}
