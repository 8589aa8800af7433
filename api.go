package coldanchor

import (
	"context"
	"time"

	base "github.com/ghalamif/ColdAnchor/pkg/coldanchor"
)

// Re-exported errors for convenience.
var (
	ErrRejected            = base.ErrRejected
	ErrBackpressure        = base.ErrBackpressure
	ErrSourceClosed        = base.ErrSourceClosed
	ErrChannelLedgerClosed = base.ErrChannelLedgerClosed
)

// Type aliases so consumers can import github.com/ghalamif/ColdAnchor directly.
type (
	Config           = base.Config
	Policy           = base.Policy
	DedupMode        = base.DedupMode
	AMQPConfig       = base.AMQPConfig
	MQTTConfig       = base.MQTTConfig
	ContentConfig    = base.ContentConfig
	MetadataConfig   = base.MetadataConfig
	LedgerConfig     = base.LedgerConfig
	EthereumConfig   = base.EthereumConfig
	MetricsConfig    = base.MetricsConfig
	WALConfig        = base.WALConfig
	Flow             = base.Flow
	FlowOption       = base.FlowOption
	StreamInOption   = base.StreamInOption
	StreamOutOption  = base.StreamOutOption
	Runtime          = base.Runtime
	RuntimeOption    = base.RuntimeOption
	Stores           = base.Stores
	LocalSource      = base.LocalSource
	AnchorFunc       = base.AnchorFunc
	SensorEvent      = base.SensorEvent
	HashedRecord     = base.HashedRecord
	Digest           = base.Digest
	Batch            = base.Batch
	AnchorRecord     = base.AnchorRecord
	AnchorSubmission = base.AnchorSubmission
	LedgerEntry      = base.LedgerEntry
	Delivery         = base.Delivery
	Source           = base.Source
	ContentStore     = base.ContentStore
	MetadataStore    = base.MetadataStore
	Ledger           = base.Ledger
	DedupIndex       = base.DedupIndex
	Observability    = base.Observability
	WAL              = base.WAL
	StrandedBatch    = base.StrandedBatch
	VerifyReport     = base.VerifyReport
)

// Config helpers.
func LoadConfig(path string) (*Config, error) {
	return base.LoadConfig(path)
}

// Flow builder helpers.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	return base.Conf(path, opts...)
}

func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	return base.ConfFromConfig(cfg, opts...)
}

func WithFlowOptions(opts ...RuntimeOption) FlowOption {
	return base.WithFlowOptions(opts...)
}

func StreamInSource(src Source) StreamInOption {
	return base.StreamInSource(src)
}

func StreamInWAL(w WAL) StreamInOption {
	return base.StreamInWAL(w)
}

func StreamInDedup(idx DedupIndex) StreamInOption {
	return base.StreamInDedup(idx)
}

func StreamInThreshold(n int) StreamInOption {
	return base.StreamInThreshold(n)
}

func StreamInIdleFlush(d time.Duration) StreamInOption {
	return base.StreamInIdleFlush(d)
}

func StreamInObservability(obs Observability) StreamInOption {
	return base.StreamInObservability(obs)
}

func StreamOutArtifacts(dir string) StreamOutOption {
	return base.StreamOutArtifacts(dir)
}

func StreamOutContent(s ContentStore) StreamOutOption {
	return base.StreamOutContent(s)
}

func StreamOutMetadata(s MetadataStore) StreamOutOption {
	return base.StreamOutMetadata(s)
}

func StreamOutLedger(l Ledger) StreamOutOption {
	return base.StreamOutLedger(l)
}

func StreamOutCallback(name string, fn AnchorFunc) StreamOutOption {
	return base.StreamOutCallback(name, fn)
}

// Runtime and options.
func NewRuntime(ctx context.Context, cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	return base.NewRuntime(ctx, cfg, opts...)
}

func OpenStores(ctx context.Context, cfg *Config, overrides Stores) (*Stores, error) {
	return base.OpenStores(ctx, cfg, overrides)
}

func WithSource(src Source) RuntimeOption {
	return base.WithSource(src)
}

func WithWAL(w WAL) RuntimeOption {
	return base.WithWAL(w)
}

func WithContentStore(s ContentStore) RuntimeOption {
	return base.WithContentStore(s)
}

func WithMetadataStore(s MetadataStore) RuntimeOption {
	return base.WithMetadataStore(s)
}

func WithLedger(l Ledger) RuntimeOption {
	return base.WithLedger(l)
}

func WithObservability(obs Observability) RuntimeOption {
	return base.WithObservability(obs)
}

func WithoutHTTP() RuntimeOption {
	return base.WithoutHTTP()
}

// Embedding adapters.
func NewLocalSource() *LocalSource {
	return base.NewLocalSource()
}

func NewCallbackLedger(name string, fn AnchorFunc) Ledger {
	return base.NewCallbackLedger(name, fn)
}

func NewChannelLedger(name string, buffer int) (Ledger, <-chan AnchorSubmission, func()) {
	return base.NewChannelLedger(name, buffer)
}
