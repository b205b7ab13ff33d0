package domain

// Transaction is the deduplicated ledger context of one handled log.
// ID is hash-logIndex.
type Transaction struct {
	ID          string `json:"id"`
	Hash        string `json:"hash"`
	LogIndex    uint   `json:"logIndex"`
	Event       string `json:"event"` // handler name, e.g. "Deposited"
	From        string `json:"from"`
	To          string `json:"to"`
	BlockNumber uint64 `json:"blockNumber"`
	Timestamp   uint64 `json:"timestamp"`
}

// Ordinal returns the ledger position of the transaction's log.
func (t *Transaction) Ordinal() Ordinal {
	return Ordinal{Block: t.BlockNumber, LogIndex: t.LogIndex}
}
