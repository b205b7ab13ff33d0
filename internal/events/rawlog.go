package events

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// RawLog is an undecoded log with the context needed to build its
// transaction record. It is the wire format of recorded and brokered logs.
type RawLog struct {
	Address     string   `json:"address"`
	Topics      []string `json:"topics"`
	Data        string   `json:"data"`
	BlockNumber uint64   `json:"blockNumber"`
	BlockHash   string   `json:"blockHash,omitempty"`
	TxHash      string   `json:"transactionHash"`
	LogIndex    uint     `json:"logIndex"`
	Removed     bool     `json:"removed,omitempty"`
	Timestamp   uint64   `json:"timestamp"`
	From        string   `json:"from"`
	To          string   `json:"to"`
}

// NewRawLog captures a log with its block timestamp and transaction endpoints.
func NewRawLog(lg types.Log, timestamp uint64, from, to common.Address) RawLog {
	topics := make([]string, len(lg.Topics))
	for i, t := range lg.Topics {
		topics[i] = t.Hex()
	}
	return RawLog{
		Address:     lg.Address.Hex(),
		Topics:      topics,
		Data:        hexutil.Encode(lg.Data),
		BlockNumber: lg.BlockNumber,
		BlockHash:   lg.BlockHash.Hex(),
		TxHash:      lg.TxHash.Hex(),
		LogIndex:    lg.Index,
		Removed:     lg.Removed,
		Timestamp:   timestamp,
		From:        from.Hex(),
		To:          to.Hex(),
	}
}

// Log converts back into a go-ethereum log.
func (r RawLog) Log() (types.Log, error) {
	if !common.IsHexAddress(r.Address) {
		return types.Log{}, fmt.Errorf("%w: address %q", ErrMalformed, r.Address)
	}
	data, err := hexutil.Decode(orEmptyHex(r.Data))
	if err != nil {
		return types.Log{}, fmt.Errorf("%w: data: %v", ErrMalformed, err)
	}
	topics := make([]common.Hash, len(r.Topics))
	for i, t := range r.Topics {
		b, err := hexutil.Decode(t)
		if err != nil || len(b) != common.HashLength {
			return types.Log{}, fmt.Errorf("%w: topic %d %q", ErrMalformed, i, t)
		}
		topics[i] = common.BytesToHash(b)
	}
	return types.Log{
		Address:     common.HexToAddress(r.Address),
		Topics:      topics,
		Data:        data,
		BlockNumber: r.BlockNumber,
		BlockHash:   common.HexToHash(r.BlockHash),
		TxHash:      common.HexToHash(r.TxHash),
		Index:       r.LogIndex,
		Removed:     r.Removed,
	}, nil
}

// Less orders logs by (block, log index).
func (r RawLog) Less(other RawLog) bool {
	if r.BlockNumber != other.BlockNumber {
		return r.BlockNumber < other.BlockNumber
	}
	return r.LogIndex < other.LogIndex
}

func orEmptyHex(s string) string {
	if s == "" {
		return "0x"
	}
	return s
}
