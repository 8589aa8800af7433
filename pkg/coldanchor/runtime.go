package coldanchor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ghalamif/ColdAnchor/internal/adapters/dedup"
	"github.com/ghalamif/ColdAnchor/internal/adapters/observability"
	"github.com/ghalamif/ColdAnchor/internal/adapters/queue"
	"github.com/ghalamif/ColdAnchor/internal/adapters/rabbitmq"
	"github.com/ghalamif/ColdAnchor/internal/adapters/wal"
	"github.com/ghalamif/ColdAnchor/internal/app/httpapi"
	"github.com/ghalamif/ColdAnchor/internal/app/pipeline"
	"github.com/ghalamif/ColdAnchor/internal/core/emitter"
	"github.com/ghalamif/ColdAnchor/internal/core/retry"
	"github.com/ghalamif/ColdAnchor/internal/core/validate"
	"github.com/ghalamif/ColdAnchor/internal/ports"
)

// RuntimeOption customizes the dependencies used by Runtime.
type RuntimeOption func(*runtimeOverrides)

type runtimeOverrides struct {
	source        Source
	wal           WAL
	queue         ArtifactQueue
	dedup         DedupIndex
	stores        Stores
	observability Observability
	noHTTP        bool
}

// WithSource injects a custom source (in-process, Kafka, simulators, etc.)
// instead of the AMQP consumer.
func WithSource(src Source) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.source = src
	}
}

// WithWAL lets callers bring their own recovery log.
func WithWAL(w WAL) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.wal = w
	}
}

// WithArtifactQueue replaces the bounded in-memory publish queue.
func WithArtifactQueue(q ArtifactQueue) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.queue = q
	}
}

// WithDedupIndex supplies the fingerprint index used by global dedup.
func WithDedupIndex(idx DedupIndex) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.dedup = idx
	}
}

func WithContentStore(s ContentStore) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.stores.Content = s
	}
}

func WithMetadataStore(s MetadataStore) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.stores.Metadata = s
	}
}

func WithLedger(l Ledger) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.stores.Ledger = l
	}
}

// WithObservability plugs in a custom logging and metrics backend.
func WithObservability(obs Observability) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.observability = obs
	}
}

// WithoutHTTP skips the metrics and verification HTTP server.
func WithoutHTTP() RuntimeOption {
	return func(o *runtimeOverrides) {
		o.noHTTP = true
	}
}

// Runtime wires source → recovery log → accumulator → emitter → publish
// queue → content store, index and ledger, and exposes lifecycle hooks for
// embedding ColdAnchor inside any Go service.
type Runtime struct {
	cfg       *Config
	policy    ports.Policy
	obs       ports.Observability
	wal       ports.WAL
	queue     ports.ArtifactQueue
	dedup     ports.DedupIndex
	stores    *Stores
	ingest    *pipeline.Ingest
	publisher *pipeline.Publisher
	httpSrv   *http.Server
	noHTTP    bool

	closers []func() error
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	runErr  chan error
}

// NewRuntime bootstraps the default adapters (AMQP source, file recovery log,
// in-memory publish queue, configured content store, SQL index and ledger,
// zap + Prometheus observability). Any of them can be overridden with a
// RuntimeOption.
func NewRuntime(ctx context.Context, cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	var overrides runtimeOverrides
	for _, opt := range opts {
		if opt != nil {
			opt(&overrides)
		}
	}

	rt := &Runtime{cfg: cfg, policy: cfg.Policy, noHTTP: overrides.noHTTP}
	fail := func(err error) (*Runtime, error) {
		_ = rt.closeAll()
		return nil, err
	}

	rt.obs = overrides.observability
	if rt.obs == nil {
		logger, err := observability.NewLogger(cfg.Log)
		if err != nil {
			return nil, fmt.Errorf("build logger: %w", err)
		}
		rt.closers = append(rt.closers, func() error { _ = logger.Sync(); return nil })
		rt.obs = observability.NewPromObs(logger)
	}

	rt.wal = overrides.wal
	if rt.wal == nil {
		w, err := wal.NewFileWAL(cfg.WAL.Dir, wal.Options{SyncOnAppend: !cfg.WAL.NoSync})
		if err != nil {
			return fail(err)
		}
		rt.wal = w
		rt.closers = append(rt.closers, w.Close)
	}

	rt.queue = overrides.queue
	if rt.queue == nil {
		rt.queue = queue.NewMemQueue(cfg.Policy.MaxQueueLen)
	}

	rt.dedup = overrides.dedup
	if rt.dedup == nil && cfg.Policy.Dedup == ports.DedupGlobal {
		idx, err := dedup.OpenLevelDB(cfg.Dedup.Path, !cfg.WAL.NoSync)
		if err != nil {
			return fail(err)
		}
		rt.dedup = idx
		rt.closers = append(rt.closers, idx.Close)
	}

	src := overrides.source
	if src == nil {
		amqpSrc, err := rabbitmq.NewSource(cfg.AMQP, rt.obs)
		if err != nil {
			return fail(err)
		}
		src = amqpSrc
	}

	stores, err := OpenStores(ctx, cfg, overrides.stores)
	if err != nil {
		return fail(err)
	}
	rt.stores = stores
	rt.closers = append(rt.closers, stores.Close)

	em, err := emitter.New(emitter.Config{
		Dir: cfg.Artifacts.Dir,
		Retry: retry.Policy{
			MaxTries:        cfg.Policy.EmitMaxTries,
			InitialInterval: cfg.Policy.RetryInitial,
			MaxInterval:     cfg.Policy.RetryMax,
		},
	})
	if err != nil {
		return fail(err)
	}
	em.OnRetry(func(err error, next time.Duration) {
		rt.obs.LogError("artifact_write_retry", err, ports.Field{Key: "next", Value: next.String()})
	})

	rt.ingest = pipeline.NewIngest(pipeline.Deps{
		Source:    src,
		Validator: validate.New(cfg.Validator),
		WAL:       rt.wal,
		Emitter:   em,
		Queue:     rt.queue,
		Dedup:     rt.dedup,
		Obs:       rt.obs,
	}, cfg.Policy)

	rt.publisher = &pipeline.Publisher{
		Content:  stores.Content,
		Metadata: stores.Metadata,
		Ledger:   stores.Ledger,
		Obs:      rt.obs,
		Retry: retry.Policy{
			MaxTries:        cfg.Policy.PublishMaxTries,
			InitialInterval: cfg.Policy.RetryInitial,
			MaxInterval:     cfg.Policy.RetryMax,
		},
		OnPublished: rt.ingest.MarkPublished,
	}
	return rt, nil
}

// Start replays the recovery log, then launches ingest, publishing, log
// maintenance and the HTTP server. It returns once everything is running.
// The publisher starts first so batches recovered from the log can drain
// while the queue fills.
func (r *Runtime) Start(ctx context.Context) error {
	if r == nil {
		return fmt.Errorf("runtime is nil")
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		pipeline.RunPublisher(runCtx, r.queue, r.publisher, r.policy)
	}()

	if err := r.ingest.Recover(ctx); err != nil {
		cancel()
		r.wg.Wait()
		return err
	}

	r.cancel = cancel
	r.runErr = make(chan error, 1)

	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		r.runErr <- r.ingest.Run(runCtx)
	}()
	go func() {
		defer r.wg.Done()
		r.ingest.RunMaintenance(runCtx, r.cfg.WAL.CompactEvery)
	}()

	if !r.noHTTP {
		r.startHTTP()
	}
	r.obs.LogInfo("runtime_started",
		ports.Field{Key: "content", Value: r.stores.Content.Name()},
		ports.Field{Key: "metadata", Value: r.stores.Metadata.Name()},
		ports.Field{Key: "ledger", Value: r.stores.Ledger.Name()})
	return nil
}

// Run starts the runtime and blocks until ctx is cancelled or ingest stops,
// then shuts down gracefully.
func (r *Runtime) Run(ctx context.Context) error {
	if err := r.Start(ctx); err != nil {
		_ = r.closeAll()
		return err
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-r.runErr:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return errors.Join(runErr, r.Shutdown(shutdownCtx))
}

// Shutdown stops ingest and publishing, compacts the recovery log and closes
// every adapter. Open batches are not sealed and emitted batches still
// waiting to publish stay in the log; both are restored on the next start.
func (r *Runtime) Shutdown(ctx context.Context) error {
	var errs []error

	if r.cancel != nil {
		r.cancel()
		done := make(chan struct{})
		go func() {
			r.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("waiting for pipeline: %w", ctx.Err()))
		}
		select {
		case err := <-r.runErr:
			if err != nil {
				errs = append(errs, err)
			}
		default:
		}
	}

	if r.ingest != nil {
		if err := r.ingest.Compact(ctx); err != nil {
			errs = append(errs, err)
		}
		if n := r.ingest.Unpublished(); n > 0 {
			r.obs.LogInfo("unpublished_at_shutdown",
				ports.Field{Key: "batches", Value: n},
				ports.Field{Key: "note", Value: "queued again on next start"})
		}
	}

	if r.httpSrv != nil {
		if err := r.httpSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, err)
		}
	}

	if err := r.closeAll(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (r *Runtime) closeAll() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

func (r *Runtime) startHTTP() {
	router := httpapi.NewRouter(&httpapi.Handler{
		Metadata: r.stores.Metadata,
		Verifier: r.stores.Verifier(),
		Stranded: r.ingest,
		Obs:      r.obs,
	})
	r.httpSrv = &http.Server{
		Addr:              r.cfg.Metrics.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := r.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.obs.LogError("http_server_exited", err)
		}
	}()
}

// Ingest exposes the ingest pipeline for inspection and stranded-batch
// control.
func (r *Runtime) Ingest() *pipeline.Ingest { return r.ingest }

// Stores exposes the publish collaborators.
func (r *Runtime) Stores() *Stores { return r.stores }

// Verify checks one batch key end to end.
func (r *Runtime) Verify(ctx context.Context, batchKey string) (VerifyReport, error) {
	return r.stores.Verifier().Verify(ctx, batchKey)
}

// Stranded lists batches whose artifact could not be written.
func (r *Runtime) Stranded() []StrandedBatch { return r.ingest.Stranded() }

// RetryStranded retries every stranded batch once and reports how many remain.
func (r *Runtime) RetryStranded(ctx context.Context) int { return r.ingest.RetryStranded(ctx) }

// PublishDir publishes every artifact in the configured artifact directory.
func (r *Runtime) PublishDir(ctx context.Context) (int, error) {
	return pipeline.PublishDir(ctx, r.cfg.Artifacts.Dir, r.publisher)
}
