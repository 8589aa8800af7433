package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/ghalamif/ColdAnchor/internal/adapters/cas"
	"github.com/ghalamif/ColdAnchor/internal/adapters/ledger"
	"github.com/ghalamif/ColdAnchor/internal/adapters/metadata"
	"github.com/ghalamif/ColdAnchor/internal/adapters/mqttbridge"
	"github.com/ghalamif/ColdAnchor/internal/adapters/observability"
	"github.com/ghalamif/ColdAnchor/internal/adapters/rabbitmq"
	"github.com/ghalamif/ColdAnchor/internal/core/validate"
	"github.com/ghalamif/ColdAnchor/internal/ports"
)

type Config struct {
	Policy    ports.Policy            `yaml:"policy"`
	Validator validate.Config         `yaml:"validator"`
	AMQP      rabbitmq.Config         `yaml:"amqp"`
	MQTT      mqttbridge.Config       `yaml:"mqtt"`
	Artifacts ArtifactsConfig         `yaml:"artifacts"`
	Content   ContentConfig           `yaml:"content"`
	Metadata  MetadataConfig          `yaml:"metadata"`
	Ledger    LedgerConfig            `yaml:"ledger"`
	Dedup     DedupConfig             `yaml:"dedup"`
	Metrics   MetricsConfig           `yaml:"metrics"`
	WAL       WALConfig               `yaml:"wal"`
	Log       observability.LogConfig `yaml:"log"`
}

type ArtifactsConfig struct {
	Dir string `yaml:"dir"`
}

type ContentConfig struct {
	Backend     string        `yaml:"backend"` // "file", "ipfs", "s3"
	Dir         string        `yaml:"dir"`
	IPFSURL     string        `yaml:"ipfs_url"`
	IPFSTimeout time.Duration `yaml:"ipfs_timeout"`
	S3          cas.S3Config  `yaml:"s3"`
}

type MetadataConfig struct {
	Dialect metadata.Dialect `yaml:"dialect"`
	DSN     string           `yaml:"dsn"`
	Table   string           `yaml:"table"`
}

type LedgerConfig struct {
	Backend  string                `yaml:"backend"` // "memory", "ethereum"
	Ethereum ledger.EthereumConfig `yaml:"ethereum"`
}

type DedupConfig struct {
	Path string `yaml:"path"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type WALConfig struct {
	Dir          string        `yaml:"dir"`
	NoSync       bool          `yaml:"no_sync"`
	CompactEvery time.Duration `yaml:"compact_every"`
}

// envOverrides carries secrets and per-deployment values that should not
// live in the YAML file.
type envOverrides struct {
	AMQPURL          string `env:"COLDANCHOR_AMQP_URL"`
	MetadataDSN      string `env:"COLDANCHOR_METADATA_DSN"`
	LedgerPrivateKey string `env:"COLDANCHOR_LEDGER_PRIVATE_KEY"`
	LedgerRPCURL     string `env:"COLDANCHOR_LEDGER_RPC_URL"`
	MQTTPassword     string `env:"COLDANCHOR_MQTT_PASSWORD"`
	MetricsAddr      string `env:"COLDANCHOR_METRICS_ADDR"`
	LogLevel         string `env:"COLDANCHOR_LOG_LEVEL"`
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

// Parse decodes YAML, applies environment overrides and defaults, then
// validates the result.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyEnv() error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.AMQP.URL, o.AMQPURL)
	set(&c.Metadata.DSN, o.MetadataDSN)
	set(&c.Ledger.Ethereum.PrivateKey, o.LedgerPrivateKey)
	set(&c.Ledger.Ethereum.RPCURL, o.LedgerRPCURL)
	set(&c.MQTT.Password, o.MQTTPassword)
	set(&c.Metrics.Addr, o.MetricsAddr)
	set(&c.Log.Level, o.LogLevel)
	return nil
}

func (c *Config) applyDefaults() {
	if c.Policy.FlushThreshold == 0 {
		c.Policy.FlushThreshold = 4
	}
	if c.Policy.Dedup == "" {
		c.Policy.Dedup = ports.DedupOff
	}
	if c.Policy.Workers == 0 {
		c.Policy.Workers = 4
	}
	if c.Policy.MaxWALSizeBytes == 0 {
		c.Policy.MaxWALSizeBytes = 10 << 30
	}
	if c.Policy.MaxQueueLen == 0 {
		c.Policy.MaxQueueLen = 100_000
	}
	if c.Policy.MaxBatchSize == 0 {
		c.Policy.MaxBatchSize = 64
	}
	if c.Policy.IdleSleep == 0 {
		c.Policy.IdleSleep = 50 * time.Millisecond
	}
	if c.Policy.EmitMaxTries == 0 {
		c.Policy.EmitMaxTries = 5
	}
	if c.Policy.PublishMaxTries == 0 {
		c.Policy.PublishMaxTries = 5
	}
	if c.Policy.RetryInitial == 0 {
		c.Policy.RetryInitial = 200 * time.Millisecond
	}
	if c.Policy.RetryMax == 0 {
		c.Policy.RetryMax = 10 * time.Second
	}
	if c.Policy.OnQueueFull == "" {
		c.Policy.OnQueueFull = "block"
	}
	if c.Policy.OnWALFull == "" {
		c.Policy.OnWALFull = "block"
	}

	c.Validator.ApplyDefaults()
	c.AMQP.ApplyDefaults()
	c.MQTT.ApplyDefaults()

	if c.Artifacts.Dir == "" {
		c.Artifacts.Dir = "./batches"
	}
	if c.Content.Backend == "" {
		c.Content.Backend = "file"
	}
	if c.Content.Dir == "" {
		c.Content.Dir = "./data/cas"
	}
	if c.Content.IPFSURL == "" {
		c.Content.IPFSURL = "localhost:5001"
	}
	if c.Metadata.Dialect == "" {
		c.Metadata.Dialect = metadata.SQLite
	}
	if c.Metadata.DSN == "" && c.Metadata.Dialect == metadata.SQLite {
		c.Metadata.DSN = "file:./data/coldanchor.db"
	}
	if c.Metadata.Table == "" {
		c.Metadata.Table = "batches"
	}
	if c.Ledger.Backend == "" {
		c.Ledger.Backend = "memory"
	}
	if c.Dedup.Path == "" {
		c.Dedup.Path = "./data/dedup"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}
	if c.WAL.Dir == "" {
		c.WAL.Dir = "./data/wal"
	}
	if c.WAL.CompactEvery == 0 {
		c.WAL.CompactEvery = 30 * time.Second
	}
}

func (c *Config) validate() error {
	if c.Policy.FlushThreshold < 1 {
		return fmt.Errorf("policy.flush_threshold must be at least 1")
	}
	if c.Policy.IdleFlush < 0 {
		return fmt.Errorf("policy.idle_flush must not be negative")
	}
	switch c.Policy.Dedup {
	case ports.DedupOff, ports.DedupBatch, ports.DedupGlobal:
	default:
		return fmt.Errorf("policy.dedup must be off, batch or global, got %q", c.Policy.Dedup)
	}
	switch c.Policy.OnWALFull {
	case "block", "reject":
	default:
		return fmt.Errorf("policy.on_wal_full must be block or reject, got %q", c.Policy.OnWALFull)
	}
	switch c.Policy.OnQueueFull {
	case "block", "drop":
	default:
		return fmt.Errorf("policy.on_queue_full must be block or drop, got %q", c.Policy.OnQueueFull)
	}
	if err := c.AMQP.Validate(); err != nil {
		return fmt.Errorf("amqp config: %w", err)
	}
	switch c.Content.Backend {
	case "file", "ipfs":
	case "s3":
		if c.Content.S3.Bucket == "" {
			return fmt.Errorf("content.s3.bucket is required")
		}
	default:
		return fmt.Errorf("content.backend must be file, ipfs or s3, got %q", c.Content.Backend)
	}
	switch c.Metadata.Dialect {
	case metadata.Postgres, metadata.SQLite:
	default:
		return fmt.Errorf("metadata.dialect must be postgres or sqlite, got %q", c.Metadata.Dialect)
	}
	if c.Metadata.DSN == "" {
		return fmt.Errorf("metadata.dsn is required")
	}
	switch c.Ledger.Backend {
	case "memory":
	case "ethereum":
		if c.Ledger.Ethereum.RPCURL == "" || c.Ledger.Ethereum.ContractAddress == "" {
			return fmt.Errorf("ledger.ethereum.rpc_url and contract_address are required")
		}
		if c.Ledger.Ethereum.PrivateKey == "" {
			return fmt.Errorf("COLDANCHOR_LEDGER_PRIVATE_KEY is required for the ethereum ledger")
		}
	default:
		return fmt.Errorf("ledger.backend must be memory or ethereum, got %q", c.Ledger.Backend)
	}
	if c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required")
	}
	if c.WAL.Dir == "" {
		return fmt.Errorf("wal.dir is required")
	}
	return nil
}
