package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"dca-indexer/internal/chain"
	"dca-indexer/internal/config"
	"dca-indexer/internal/events"
	"dca-indexer/internal/indexer"
	"dca-indexer/internal/ingestion"
	"dca-indexer/internal/logging"
	"dca-indexer/internal/observability"
	"dca-indexer/internal/storage"
	chstore "dca-indexer/internal/storage/clickhouse"
	"dca-indexer/internal/storage/memory"
	"dca-indexer/internal/storage/migrations"
	pgstore "dca-indexer/internal/storage/postgres"
	"dca-indexer/internal/storage/sqlite"
	"dca-indexer/internal/tokens"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to YAML configuration file")
	envFile := flag.String("env-file", ".env", "Optional .env file loaded before the config")
	mode := flag.String("mode", "", "Ingestion mode: backfill, follow or kafka (overrides config)")
	fromBlock := flag.Uint64("from-block", 0, "First block to index (overrides config)")
	toBlock := flag.Uint64("to-block", 0, "Last block for backfill, 0 for the confirmed head")
	driver := flag.String("storage", "", "Storage driver: memory, postgres or sqlite (overrides config)")
	record := flag.String("record", "", "Append every handled raw log to this JSONL file")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus metrics HTTP address (overrides config)")
	logLevel := flag.String("log-level", "", "Log level (overrides config)")

	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	applyFlags(cfg, *mode, *fromBlock, *toBlock, *driver, *record, *metricsAddr, *logLevel)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration:\n%v\n", err)
		os.Exit(2)
	}

	base := logging.New(cfg.LoggingOptions())
	logger := base.WithFields(logrus.Fields{
		"run":     uuid.NewString(),
		"network": cfg.Network,
		"mode":    cfg.Ingestion.Mode,
	})

	if cfg.Metrics.Addr != "" {
		go serveMetrics(cfg.Metrics.Addr, logger)
	}

	ctx, cancel := context.WithCancel(context.Background())

	// Handle shutdown signals with graceful timeout
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan error, 1)

	go func() {
		sig := <-sigCh
		logger.WithField("signal", sig.String()).Info("initiating graceful shutdown")
		cancel()

		select {
		case sig := <-sigCh:
			logger.WithField("signal", sig.String()).Warn("second signal, forcing exit")
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Error("graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	err = run(ctx, cfg, logger)
	done <- err
	cancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Fatal("indexer stopped")
	}
	logger.Info("shutdown complete")
}

func applyFlags(cfg *config.Config, mode string, from, to uint64, driver, record, metricsAddr, logLevel string) {
	if mode != "" {
		cfg.Ingestion.Mode = mode
	}
	if from != 0 {
		cfg.Ingestion.StartBlock = from
	}
	if to != 0 {
		cfg.Ingestion.EndBlock = to
	}
	if driver != "" {
		cfg.Storage.Driver = driver
	}
	if record != "" {
		cfg.Ingestion.Record = record
	}
	if metricsAddr != "" {
		cfg.Metrics.Addr = metricsAddr
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
}

func serveMetrics(addr string, logger logrus.FieldLogger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	logger.WithField("addr", addr).Info("starting metrics server")
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Error("metrics server failed")
	}
}

// stores bundles the entity store with its cursor store and cleanup.
type stores struct {
	entities storage.EntityStore
	cursors  storage.CursorStore
	close    func()
}

func openStores(ctx context.Context, cfg config.StorageConfig, logger logrus.FieldLogger) (*stores, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN, pgstore.PoolOptions{})
		if err != nil {
			return nil, err
		}
		applied, err := migrations.RunPostgresMigrations(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		logger.WithField("applied", applied).Info("postgres migrations complete")
		return &stores{
			entities: pgstore.NewEntityStore(pool),
			cursors:  pgstore.NewCursorStore(pool),
			close:    pool.Close,
		}, nil

	case config.DriverSQLite:
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &stores{entities: db, cursors: db, close: func() { db.Close() }}, nil

	default:
		logger.Warn("using in-memory storage; state is lost on exit")
		return &stores{
			entities: memory.NewEntityStore(),
			cursors:  memory.NewCursorStore(),
			close:    func() {},
		}, nil
	}
}

func run(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) error {
	st, err := openStores(ctx, cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer st.close()

	var exporter *chstore.Exporter
	if cfg.Storage.ClickHouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.Storage.ClickHouseDSN)
		if err != nil {
			return fmt.Errorf("clickhouse: %w", err)
		}
		defer conn.Close()
		exporter = chstore.NewExporter(conn, cfg.Storage.ExportBatchSize)
		defer func() {
			// Flush with a fresh context: ctx is already cancelled on shutdown.
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := exporter.Flush(flushCtx); err != nil {
				logger.WithError(err).Error("flush analytics export")
			}
		}()
	}

	client, err := ethclient.DialContext(ctx, cfg.RPC.URL)
	if err != nil {
		return fmt.Errorf("dial rpc: %w", err)
	}
	defer client.Close()

	contracts, err := cfg.EventContracts()
	if err != nil {
		return err
	}
	decoder, err := events.NewDecoder(contracts)
	if err != nil {
		return err
	}

	ixOpts := indexer.Options{
		Store: st.entities,
		Reader: chain.NewEthReader(client, chain.EthReaderOptions{
			TransformerRegistry: config.Address(cfg.Tokens.TransformerRegistry),
			RequestsPerSecond:   cfg.RPC.RequestsPerSecond,
		}),
		Tokens: tokens.Options{
			ProtocolTokenTransformer: config.Address(cfg.Tokens.ProtocolTokenTransformer),
			YieldBearingTransformer:  config.Address(cfg.Tokens.YieldBearingTransformer),
		},
		Logger: logger,
	}
	if exporter != nil {
		ixOpts.Exporter = exporter
	}
	ix := indexer.New(ixOpts)

	var sinks []ingestion.Sink
	if cfg.Ingestion.Record != "" {
		rec, err := ingestion.OpenRecorder(cfg.Ingestion.Record)
		if err != nil {
			return err
		}
		defer rec.Close()
		sinks = append(sinks, rec)
	}
	if cfg.Kafka.PublishTopic != "" && cfg.Ingestion.Mode != config.ModeKafka {
		pub, err := ingestion.NewKafkaSink(ingestion.KafkaOptions{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.PublishTopic,
		})
		if err != nil {
			return err
		}
		defer pub.Close()
		sinks = append(sinks, pub)
	}

	runner := ingestion.NewRunner(ingestion.RunnerOptions{
		// One cursor per network, shared by every mode.
		Name: cfg.Network,
		Source: ingestion.NewEthLogSource(client, ingestion.EthLogSourceOptions{
			Addresses:         decoder.Addresses(),
			Topics:            decoder.Topics(),
			RequestsPerSecond: cfg.RPC.RequestsPerSecond,
			MaxRetries:        cfg.RPC.MaxRetries,
			RetryDelay:        cfg.RPC.RetryDelay,
			Logger:            logger,
		}),
		Decoder:       decoder,
		Handler:       ix,
		Cursors:       st.cursors,
		Sinks:         sinks,
		StartBlock:    cfg.Ingestion.StartBlock,
		BatchSize:     cfg.Ingestion.BatchSize,
		Confirmations: cfg.Ingestion.Confirmations,
		PollInterval:  cfg.Ingestion.PollInterval,
		Logger:        logger,
	})

	switch cfg.Ingestion.Mode {
	case config.ModeBackfill:
		result, err := runner.Backfill(ctx, cfg.Ingestion.StartBlock, cfg.Ingestion.EndBlock)
		if result != nil {
			logger.WithFields(logrus.Fields{
				"from":     result.From,
				"to":       result.To,
				"handled":  result.Stats.Handled,
				"duration": result.Duration,
			}).Info("backfill finished")
		}
		return err

	case config.ModeFollow:
		return runner.Follow(ctx)

	case config.ModeKafka:
		src, err := ingestion.NewKafkaSource(ingestion.KafkaOptions{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			GroupID: cfg.Kafka.GroupID,
			Logger:  logger,
		})
		if err != nil {
			return err
		}
		defer src.Close()
		return runner.Consume(ctx, src)

	default:
		return fmt.Errorf("unknown mode %q", cfg.Ingestion.Mode)
	}
}
