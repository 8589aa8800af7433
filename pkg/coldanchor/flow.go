package coldanchor

import (
	"context"
	"fmt"
	"time"
)

// Flow chains Conf → StreamIN → StreamOUT over a Runtime so small programs
// never touch RuntimeOption directly.
type Flow struct {
	cfg  *Config
	opts []RuntimeOption
}

type FlowOption func(*Flow)

// StreamInOption shapes ingest: source, recovery log, batching policy, dedup.
type StreamInOption func(*Flow)

// StreamOutOption shapes publishing: artifacts, content store, index, ledger.
type StreamOutOption func(*Flow)

func Conf(path string, opts ...FlowOption) (*Flow, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return ConfFromConfig(cfg, opts...)
}

func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	f := &Flow{cfg: cfg}
	apply(f, opts)
	return f, nil
}

// Config returns the configuration the runtime will be built from. Stream
// options edit it in place.
func (f *Flow) Config() *Config {
	if f == nil {
		return nil
	}
	return f.cfg
}

func (f *Flow) Options(opts ...RuntimeOption) *Flow {
	if f == nil {
		return nil
	}
	f.appendOptions(opts...)
	return f
}

func (f *Flow) StreamIN(opts ...StreamInOption) *Flow {
	if f == nil {
		return nil
	}
	apply(f, opts)
	return f
}

// StreamOUT applies the publish-side options and builds the Runtime.
func (f *Flow) StreamOUT(ctx context.Context, opts ...StreamOutOption) (*Runtime, error) {
	if f == nil {
		return nil, fmt.Errorf("flow is nil")
	}
	apply(f, opts)
	return NewRuntime(ctx, f.cfg, f.opts...)
}

func (f *Flow) Run(ctx context.Context, opts ...StreamOutOption) error {
	rt, err := f.StreamOUT(ctx, opts...)
	if err != nil {
		return err
	}
	return rt.Run(ctx)
}

func WithFlowOptions(opts ...RuntimeOption) FlowOption {
	return func(f *Flow) { f.appendOptions(opts...) }
}

// StreamInSource replaces the AMQP consumer, e.g. with a LocalSource.
func StreamInSource(src Source) StreamInOption {
	return withRuntime(src != nil, WithSource(src))
}

func StreamInWAL(w WAL) StreamInOption {
	return withRuntime(w != nil, WithWAL(w))
}

// StreamInDedup installs a fingerprint index and switches dedup to global.
func StreamInDedup(idx DedupIndex) StreamInOption {
	return func(f *Flow) {
		if idx == nil {
			return
		}
		f.cfg.Policy.Dedup = DedupGlobal
		f.appendOptions(WithDedupIndex(idx))
	}
}

// StreamInThreshold overrides policy.flush_threshold. Values below one are
// ignored.
func StreamInThreshold(n int) StreamInOption {
	return func(f *Flow) {
		if n >= 1 {
			f.cfg.Policy.FlushThreshold = n
		}
	}
}

// StreamInIdleFlush seals quiet batches after d; zero turns it off.
func StreamInIdleFlush(d time.Duration) StreamInOption {
	return func(f *Flow) {
		if d >= 0 {
			f.cfg.Policy.IdleFlush = d
		}
	}
}

func StreamInObservability(obs Observability) StreamInOption {
	return withRuntime(obs != nil, WithObservability(obs))
}

// StreamOutArtifacts writes batch files under dir instead of artifacts.dir.
func StreamOutArtifacts(dir string) StreamOutOption {
	return func(f *Flow) {
		if dir != "" {
			f.cfg.Artifacts.Dir = dir
		}
	}
}

func StreamOutContent(s ContentStore) StreamOutOption {
	return withRuntime(s != nil, WithContentStore(s))
}

func StreamOutMetadata(s MetadataStore) StreamOutOption {
	return withRuntime(s != nil, WithMetadataStore(s))
}

func StreamOutLedger(l Ledger) StreamOutOption {
	return withRuntime(l != nil, WithLedger(l))
}

// StreamOutCallback anchors through a plain function instead of a ledger node.
func StreamOutCallback(name string, fn AnchorFunc) StreamOutOption {
	return withRuntime(fn != nil, WithLedger(NewCallbackLedger(name, fn)))
}

func withRuntime(ok bool, opt RuntimeOption) func(*Flow) {
	return func(f *Flow) {
		if ok {
			f.appendOptions(opt)
		}
	}
}

func apply[O ~func(*Flow)](f *Flow, opts []O) {
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
}

func (f *Flow) appendOptions(opts ...RuntimeOption) {
	for _, opt := range opts {
		if opt != nil {
			f.opts = append(f.opts, opt)
		}
	}
}
