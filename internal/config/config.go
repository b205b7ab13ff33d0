// Package config loads the indexer configuration from YAML, the environment
// and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"dca-indexer/internal/events"
	"dca-indexer/internal/logging"
)

// Ingestion modes.
const (
	ModeBackfill = "backfill"
	ModeFollow   = "follow"
	ModeKafka    = "kafka"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config is the full indexer configuration.
type Config struct {
	Network   string           `yaml:"network"`
	RPC       RPCConfig        `yaml:"rpc"`
	Contracts []ContractConfig `yaml:"contracts"`
	Tokens    TokensConfig     `yaml:"tokens"`
	Ingestion IngestionConfig  `yaml:"ingestion"`
	Kafka     KafkaConfig      `yaml:"kafka"`
	Storage   StorageConfig    `yaml:"storage"`
	Log       LogConfig        `yaml:"log"`
	Metrics   MetricsConfig    `yaml:"metrics"`
}

// RPCConfig configures the JSON-RPC endpoint.
type RPCConfig struct {
	URL               string        `yaml:"url"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	MaxRetries        int           `yaml:"max_retries"`
	RetryDelay        time.Duration `yaml:"retry_delay"`
}

// ContractConfig names one watched contract.
type ContractConfig struct {
	Address string `yaml:"address"`
	Source  string `yaml:"source"`  // "hub" or "permissions"
	Version string `yaml:"version"` // "v1" or "v2"; ignored for permissions
}

// TokensConfig holds the transformer addresses of the network.
type TokensConfig struct {
	TransformerRegistry      string `yaml:"transformer_registry"`
	ProtocolTokenTransformer string `yaml:"protocol_token_transformer"`
	YieldBearingTransformer  string `yaml:"yield_bearing_transformer"`
}

// IngestionConfig controls how logs are pulled.
type IngestionConfig struct {
	Mode          string        `yaml:"mode"`
	StartBlock    uint64        `yaml:"start_block"`
	EndBlock      uint64        `yaml:"end_block"` // backfill only; 0 means confirmed head
	BatchSize     uint64        `yaml:"batch_size"`
	Confirmations uint64        `yaml:"confirmations"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	Record        string        `yaml:"record"` // optional JSONL path
}

// KafkaConfig configures the broker source and the optional publisher.
type KafkaConfig struct {
	Brokers      []string `yaml:"brokers"`
	Topic        string   `yaml:"topic"`
	GroupID      string   `yaml:"group_id"`
	PublishTopic string   `yaml:"publish_topic"` // republish handled logs when set
}

// StorageConfig selects the entity store and the analytics sink.
type StorageConfig struct {
	Driver          string `yaml:"driver"`
	PostgresDSN     string `yaml:"postgres_dsn"`
	SQLitePath      string `yaml:"sqlite_path"`
	ClickHouseDSN   string `yaml:"clickhouse_dsn"`
	ExportBatchSize int    `yaml:"export_batch_size"`
}

// LogConfig mirrors logging.Options.
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// MetricsConfig configures the /metrics and /health listener.
type MetricsConfig struct {
	Addr string `yaml:"addr"` // empty disables
}

// Default returns a configuration that indexes into memory.
func Default() *Config {
	return &Config{
		Network: "mainnet",
		Ingestion: IngestionConfig{
			Mode:          ModeBackfill,
			BatchSize:     2000,
			Confirmations: 12,
			PollInterval:  12 * time.Second,
		},
		Storage: StorageConfig{
			Driver:          DriverMemory,
			ExportBatchSize: 500,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{Addr: ":9090"},
	}
}

// LoadDotEnv loads variables from path into the process environment.
// A missing file is not an error. Existing variables win.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads the YAML file at path over the defaults. ${VAR} references are
// expanded from the environment before parsing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := Parse(data, cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse expands and decodes data into cfg. Unknown keys are rejected.
func Parse(data []byte, cfg *Config) error {
	expanded := os.ExpandEnv(string(data))
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// Validate checks the configuration for the selected mode.
func (c *Config) Validate() error {
	var errs []error

	// Token metadata is read over RPC in every mode.
	if c.RPC.URL == "" {
		errs = append(errs, errors.New("rpc.url is required"))
	}
	switch c.Ingestion.Mode {
	case ModeBackfill, ModeFollow:
	case ModeKafka:
		if len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "" || c.Kafka.GroupID == "" {
			errs = append(errs, errors.New("kafka.brokers, kafka.topic and kafka.group_id are required for kafka mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown ingestion mode %q", c.Ingestion.Mode))
	}
	if c.Ingestion.Mode == ModeBackfill && c.Ingestion.EndBlock != 0 && c.Ingestion.EndBlock < c.Ingestion.StartBlock {
		errs = append(errs, fmt.Errorf("ingestion.end_block %d is before start_block %d", c.Ingestion.EndBlock, c.Ingestion.StartBlock))
	}

	switch c.Storage.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage.postgres_dsn is required for the postgres driver"))
		}
	case DriverSQLite:
		if c.Storage.SQLitePath == "" {
			errs = append(errs, errors.New("storage.sqlite_path is required for the sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}

	if _, err := c.EventContracts(); err != nil {
		errs = append(errs, err)
	}
	for name, addr := range map[string]string{
		"tokens.transformer_registry":       c.Tokens.TransformerRegistry,
		"tokens.protocol_token_transformer": c.Tokens.ProtocolTokenTransformer,
		"tokens.yield_bearing_transformer":  c.Tokens.YieldBearingTransformer,
	} {
		if addr != "" && !common.IsHexAddress(addr) {
			errs = append(errs, fmt.Errorf("%s: invalid address %q", name, addr))
		}
	}
	return errors.Join(errs...)
}

// EventContracts converts the contract list for the decoder.
func (c *Config) EventContracts() ([]events.Contract, error) {
	if len(c.Contracts) == 0 {
		return nil, errors.New("at least one contract is required")
	}
	out := make([]events.Contract, 0, len(c.Contracts))
	for i, cc := range c.Contracts {
		if !common.IsHexAddress(cc.Address) {
			return nil, fmt.Errorf("contracts[%d]: invalid address %q", i, cc.Address)
		}
		contract := events.Contract{
			Address: common.HexToAddress(cc.Address),
			Source:  events.Source(strings.ToLower(cc.Source)),
			Version: events.Version(strings.ToLower(cc.Version)),
		}
		switch contract.Source {
		case events.SourceHub:
			if contract.Version != events.V1 && contract.Version != events.V2 {
				return nil, fmt.Errorf("contracts[%d]: unknown hub version %q", i, cc.Version)
			}
		case events.SourcePermissions:
		default:
			return nil, fmt.Errorf("contracts[%d]: unknown source %q", i, cc.Source)
		}
		out = append(out, contract)
	}
	return out, nil
}

// LoggingOptions converts the log section for logging.New.
func (c *Config) LoggingOptions() logging.Options {
	return logging.Options{
		Level:      c.Log.Level,
		Format:     c.Log.Format,
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
	}
}

// Address parses an optional address field.
func Address(s string) common.Address {
	if s == "" {
		return common.Address{}
	}
	return common.HexToAddress(s)
}
