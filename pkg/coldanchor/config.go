package coldanchor

import (
	"github.com/ghalamif/ColdAnchor/internal/adapters/cas"
	"github.com/ghalamif/ColdAnchor/internal/adapters/ledger"
	"github.com/ghalamif/ColdAnchor/internal/adapters/mqttbridge"
	"github.com/ghalamif/ColdAnchor/internal/adapters/observability"
	"github.com/ghalamif/ColdAnchor/internal/adapters/rabbitmq"
	"github.com/ghalamif/ColdAnchor/internal/app/config"
	"github.com/ghalamif/ColdAnchor/internal/core/validate"
	"github.com/ghalamif/ColdAnchor/internal/ports"
)

// Config re-exports the root configuration struct so downstream projects can
// construct or modify it programmatically.
type Config = config.Config

type (
	// Policy controls batching, dedup, retries and backpressure.
	Policy = ports.Policy
	// DedupMode selects duplicate suppression: off, batch or global.
	DedupMode = ports.DedupMode
	// ValidatorConfig selects the routing key segment that names a batch.
	ValidatorConfig = validate.Config
	// AMQPConfig configures the RabbitMQ source and publisher.
	AMQPConfig = rabbitmq.Config
	// MQTTConfig configures the device bridge.
	MQTTConfig = mqttbridge.Config
	ArtifactsConfig = config.ArtifactsConfig
	// ContentConfig picks the content-addressable store (file, ipfs, s3).
	ContentConfig = config.ContentConfig
	S3Config      = cas.S3Config
	// MetadataConfig picks the SQL dialect and DSN of the batch index.
	MetadataConfig = config.MetadataConfig
	// LedgerConfig picks the anchoring ledger (memory, ethereum).
	LedgerConfig   = config.LedgerConfig
	EthereumConfig = ledger.EthereumConfig
	DedupConfig    = config.DedupConfig
	// MetricsConfig configures the HTTP server for metrics and the API.
	MetricsConfig = config.MetricsConfig
	// WALConfig configures the recovery log.
	WALConfig = config.WALConfig
	LogConfig = observability.LogConfig
)

const (
	DedupOff    = ports.DedupOff
	DedupBatch  = ports.DedupBatch
	DedupGlobal = ports.DedupGlobal
)

// LoadConfig reads YAML from disk, applies environment overrides and
// defaults, and validates the result.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// ParseConfig is LoadConfig for YAML already in memory.
func ParseConfig(raw []byte) (*Config, error) {
	return config.Parse(raw)
}
