package ingestion

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"dca-indexer/internal/events"
	"dca-indexer/internal/logging"
	"dca-indexer/internal/observability"
)

// Default configuration values.
const (
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0
)

// EthClient is the subset of ethclient.Client used to pull logs.
type EthClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionSender(ctx context.Context, tx *types.Transaction, block common.Hash, index uint) (common.Address, error)
}

// EthLogSource fetches hub and permission-manager logs over JSON-RPC.
type EthLogSource struct {
	client    EthClient
	addresses []common.Address
	topics    []common.Hash
	limiter   *rate.Limiter

	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
	logger      logrus.FieldLogger
}

// EthLogSourceOptions contains configuration for creating an EthLogSource.
type EthLogSourceOptions struct {
	Addresses         []common.Address
	Topics            []common.Hash // event ids to filter on, empty for all
	RequestsPerSecond float64       // 0 disables rate limiting
	MaxRetries        int           // Default: 3
	RetryDelay        time.Duration // Default: 1s, doubled per attempt
	MaxDelay          time.Duration // Default: 10s
	Logger            logrus.FieldLogger
}

// NewEthLogSource creates a log source over client.
func NewEthLogSource(client EthClient, opts EthLogSourceOptions) *EthLogSource {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	maxRetries := opts.MaxRetries
	if maxRetries == 0 {
		maxRetries = DefaultMaxRetries
	}
	retryDelay := opts.RetryDelay
	if retryDelay == 0 {
		retryDelay = DefaultRetryDelay
	}
	maxDelay := opts.MaxDelay
	if maxDelay == 0 {
		maxDelay = DefaultMaxDelay
	}

	return &EthLogSource{
		client:      client,
		addresses:   opts.Addresses,
		topics:      opts.Topics,
		limiter:     limiter,
		maxRetries:  maxRetries,
		retryDelay:  retryDelay,
		maxDelay:    maxDelay,
		backoffMult: DefaultBackoffMult,
		logger:      logging.Component(opts.Logger, "eth-source"),
	}
}

// Head returns the latest block number.
func (s *EthLogSource) Head(ctx context.Context) (uint64, error) {
	var head uint64
	err := s.retry(ctx, "eth_blockNumber", func() error {
		var err error
		head, err = s.client.BlockNumber(ctx)
		return err
	})
	return head, err
}

// FetchLogs returns logs in [from, to] with their block timestamp and
// transaction endpoints resolved.
func (s *EthLogSource) FetchLogs(ctx context.Context, from, to uint64) ([]events.RawLog, error) {
	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: s.addresses,
	}
	if len(s.topics) > 0 {
		q.Topics = [][]common.Hash{s.topics}
	}

	var logs []types.Log
	if err := s.retry(ctx, "eth_getLogs", func() error {
		var err error
		logs, err = s.client.FilterLogs(ctx, q)
		return err
	}); err != nil {
		return nil, fmt.Errorf("get logs [%d, %d]: %w", from, to, err)
	}

	timestamps := make(map[common.Hash]uint64)
	senders := make(map[common.Hash][2]common.Address)
	out := make([]events.RawLog, 0, len(logs))
	for _, lg := range logs {
		ts, ok := timestamps[lg.BlockHash]
		if !ok {
			var err error
			if ts, err = s.blockTime(ctx, lg.BlockNumber); err != nil {
				return nil, err
			}
			timestamps[lg.BlockHash] = ts
		}
		ends, ok := senders[lg.TxHash]
		if !ok {
			sender, target, err := s.endpoints(ctx, lg)
			if err != nil {
				return nil, err
			}
			ends = [2]common.Address{sender, target}
			senders[lg.TxHash] = ends
		}
		out = append(out, events.NewRawLog(lg, ts, ends[0], ends[1]))
		observability.RecordLogReceived("rpc")
	}

	s.logger.WithFields(logrus.Fields{
		"from": from,
		"to":   to,
		"logs": len(out),
	}).Debug("fetched logs")
	return out, nil
}

func (s *EthLogSource) blockTime(ctx context.Context, number uint64) (uint64, error) {
	var header *types.Header
	err := s.retry(ctx, "eth_getBlockByNumber", func() error {
		var err error
		header, err = s.client.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("header %d: %w", number, err)
	}
	return header.Time, nil
}

func (s *EthLogSource) endpoints(ctx context.Context, lg types.Log) (common.Address, common.Address, error) {
	var tx *types.Transaction
	err := s.retry(ctx, "eth_getTransactionByHash", func() error {
		var err error
		tx, _, err = s.client.TransactionByHash(ctx, lg.TxHash)
		return err
	})
	if err != nil {
		return common.Address{}, common.Address{}, fmt.Errorf("transaction %s: %w", lg.TxHash.Hex(), err)
	}

	var sender common.Address
	if err := s.retry(ctx, "sender", func() error {
		var err error
		sender, err = s.client.TransactionSender(ctx, tx, lg.BlockHash, lg.TxIndex)
		return err
	}); err != nil {
		return common.Address{}, common.Address{}, fmt.Errorf("sender of %s: %w", lg.TxHash.Hex(), err)
	}

	var to common.Address
	if tx.To() != nil {
		to = *tx.To()
	}
	return sender, to, nil
}

// retry runs call with exponential backoff. Context errors are not retried.
func (s *EthLogSource) retry(ctx context.Context, method string, call func() error) error {
	delay := s.retryDelay
	var lastErr error

	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * s.backoffMult)
			if delay > s.maxDelay {
				delay = s.maxDelay
			}
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}

		start := time.Now()
		err := call()
		observability.RecordRPCCall(method, time.Since(start).Seconds(), err)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
		s.logger.WithFields(logrus.Fields{
			"method":  method,
			"attempt": attempt + 1,
		}).WithError(err).Warn("rpc call failed")
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

var _ LogSource = (*EthLogSource)(nil)
