package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"

	"dca-indexer/internal/chain"
	"dca-indexer/internal/chain/stub"
	"dca-indexer/internal/config"
	"dca-indexer/internal/events"
	"dca-indexer/internal/indexer"
	"dca-indexer/internal/logging"
	"dca-indexer/internal/replay"
	"dca-indexer/internal/storage"
	"dca-indexer/internal/storage/memory"
	"dca-indexer/internal/tokens"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to YAML configuration file")
	file := flag.String("file", "", "JSONL recording to replay (required)")
	offline := flag.Bool("offline", false, "Do not call the node; token metadata uses fallbacks")
	outputJSON := flag.Bool("json", false, "Output as JSON")

	flag.Parse()

	if *file == "" {
		fmt.Fprintln(os.Stderr, "--file is required")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LoggingOptions()).WithField("file", *file)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.WithField("signal", sig.String()).Info("shutting down")
		cancel()
	}()

	summary, err := run(ctx, cfg, *file, *offline, logger)
	if err != nil {
		logger.WithError(err).Fatal("replay failed")
	}

	if *outputJSON {
		output, _ := json.MarshalIndent(summary, "", "  ")
		fmt.Println(string(output))
		return
	}
	fmt.Printf("\n=== Replay Summary ===\n")
	fmt.Printf("Logs:         %d\n", summary.Logs)
	fmt.Printf("Handled:      %d\n", summary.Handled)
	fmt.Printf("Skipped:      %d\n", summary.Skipped)
	if summary.Logs > 0 {
		fmt.Printf("First Block:  %d\n", summary.FirstBlock)
		fmt.Printf("Last Block:   %d\n", summary.LastBlock)
	} else {
		fmt.Printf("First Block:  N/A\n")
		fmt.Printf("Last Block:   N/A\n")
	}
	fmt.Printf("Duration:     %v\n", summary.Duration)

	kinds := make([]string, 0, len(summary.Entities))
	for kind := range summary.Entities {
		kinds = append(kinds, string(kind))
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		fmt.Printf("  %-20s %d\n", kind, summary.Entities[storage.Kind(kind)])
	}
}

func run(ctx context.Context, cfg *config.Config, file string, offline bool, logger logrus.FieldLogger) (*replay.Summary, error) {
	logs, err := replay.LoadFile(file)
	if err != nil {
		return nil, err
	}

	contracts, err := cfg.EventContracts()
	if err != nil {
		return nil, err
	}
	decoder, err := events.NewDecoder(contracts)
	if err != nil {
		return nil, err
	}

	var reader chain.Reader = stub.NewReader()
	if !offline && cfg.RPC.URL != "" {
		client, err := ethclient.DialContext(ctx, cfg.RPC.URL)
		if err != nil {
			return nil, fmt.Errorf("dial rpc: %w", err)
		}
		defer client.Close()
		reader = chain.NewEthReader(client, chain.EthReaderOptions{
			TransformerRegistry: config.Address(cfg.Tokens.TransformerRegistry),
			RequestsPerSecond:   cfg.RPC.RequestsPerSecond,
		})
	} else {
		logger.Warn("replaying offline; token metadata falls back to defaults")
	}

	store := memory.NewEntityStore()
	ix := indexer.New(indexer.Options{
		Store:  store,
		Reader: reader,
		Tokens: tokens.Options{
			ProtocolTokenTransformer: config.Address(cfg.Tokens.ProtocolTokenTransformer),
			YieldBearingTransformer:  config.Address(cfg.Tokens.YieldBearingTransformer),
		},
		Logger: logger,
	})

	return replay.Run(ctx, logs, replay.Options{
		Decoder: decoder,
		Handler: ix,
		Counter: store,
		Logger:  logger,
	})
}
