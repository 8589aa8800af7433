// Package pipeline wires the source, validator, accumulator and emitter into
// the durable ingest path, and drains emitted artifacts into storage and the
// ledger.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/ghalamif/ColdAnchor/internal/adapters/wal"
	"github.com/ghalamif/ColdAnchor/internal/core/accumulator"
	"github.com/ghalamif/ColdAnchor/internal/core/hasher"
	"github.com/ghalamif/ColdAnchor/internal/core/merkle"
	"github.com/ghalamif/ColdAnchor/internal/domain"
	"github.com/ghalamif/ColdAnchor/internal/ports"
)

// ArtifactWriter persists a sealed batch.
type ArtifactWriter interface {
	Emit(ctx context.Context, b *domain.Batch) (domain.ArtifactHandle, error)
}

// KeyedValidator also exposes how a routing key maps to a batch key, which
// the dispatcher uses for sharding.
type KeyedValidator interface {
	ports.Validator
	BatchKey(routingKey string) (string, error)
}

type Deps struct {
	Source    ports.Source
	Validator KeyedValidator
	WAL       ports.WAL
	Emitter   ArtifactWriter
	Queue     ports.ArtifactQueue
	// Dedup is consulted only when the policy asks for global dedup.
	Dedup ports.DedupIndex
	Obs   ports.Observability
	Now   func() time.Time
}

// Ingest turns deliveries into sealed, emitted batches. Records reach the
// recovery log before they are acknowledged, and a sealed batch keeps its
// records uncommitted until MarkPublished reports it stored and anchored.
type Ingest struct {
	deps Deps
	pol  ports.Policy
	acc  *accumulator.Accumulator

	// Held shared from log append until a sealed snapshot is registered, and
	// exclusively while computing the commit watermark.
	commitMu sync.RWMutex
	flight   *inflight
}

func NewIngest(deps Deps, pol ports.Policy) *Ingest {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if pol.Workers <= 0 {
		pol.Workers = 1
	}
	return &Ingest{
		deps: deps,
		pol:  pol,
		acc: accumulator.New(accumulator.Config{
			Threshold:        pol.FlushThreshold,
			IdleTimeout:      pol.IdleFlush,
			DedupWithinBatch: pol.Dedup == ports.DedupBatch,
			Now:              deps.Now,
		}),
		flight: newInflight(),
	}
}

// Accumulator exposes the open batches for inspection.
func (in *Ingest) Accumulator() *accumulator.Accumulator { return in.acc }

// Recover rebuilds state from the uncommitted tail of the recovery log.
// Batches sealed but not published before a crash are emitted again with
// their original seal time, so the artifact is byte-identical, and queued
// for publishing.
func (in *Ingest) Recover(ctx context.Context) error {
	rec, err := wal.Replay(in.deps.WAL)
	if err != nil {
		return fmt.Errorf("replay recovery log: %w", err)
	}

	unpublished := 0
	for _, f := range rec.InFlight {
		if f.Emitted {
			unpublished++
		}
		s := &accumulator.Sealed{Key: f.Key, SealedAt: f.SealedAt}
		for _, p := range f.Records {
			s.Records = append(s.Records, p.Record)
			s.Refs = append(s.Refs, p.ID)
			in.markSeen(p.Record)
		}
		token := in.flight.register(s, true)
		in.finishSeal(ctx, token)
	}

	restored := 0
	for _, p := range rec.Open {
		in.markSeen(p.Record)
		in.commitMu.RLock()
		sealed, err := in.acc.Restore(p.Record, p.ID)
		var token uint64
		if sealed != nil {
			token = in.flight.register(sealed, false)
		}
		in.commitMu.RUnlock()
		if err != nil && !errors.Is(err, accumulator.ErrDuplicate) {
			return fmt.Errorf("restore entry %d: %w", p.ID, err)
		}
		restored++
		if sealed != nil {
			in.finishSeal(ctx, token)
		}
	}

	in.deps.Obs.LogInfo("recovery_complete",
		ports.Field{Key: "in_flight", Value: len(rec.InFlight)},
		ports.Field{Key: "unpublished", Value: unpublished},
		ports.Field{Key: "open_records", Value: restored})
	return nil
}

// Run consumes the source until ctx is cancelled. Open batches are left in
// the recovery log on shutdown; they are not sealed.
func (in *Ingest) Run(ctx context.Context) error {
	src := make(chan ports.Delivery, in.pol.Workers*16)
	if err := in.deps.Source.Start(src); err != nil {
		return err
	}

	shards := make([]chan ports.Delivery, in.pol.Workers)
	var workers sync.WaitGroup
	for i := range shards {
		shards[i] = make(chan ports.Delivery, 64)
		workers.Add(1)
		go func(ch <-chan ports.Delivery) {
			defer workers.Done()
			for d := range ch {
				in.handle(ctx, d)
			}
		}(shards[i])
	}

	var bg sync.WaitGroup
	if in.pol.IdleFlush > 0 {
		bg.Add(1)
		go func() {
			defer bg.Done()
			in.runIdleSealer(ctx)
		}()
	}

	in.dispatch(ctx, src, shards)

	for _, ch := range shards {
		close(ch)
	}
	workers.Wait()
	bg.Wait()
	return in.deps.Source.Stop()
}

// dispatch routes every delivery of one batch key to the same shard so
// per-key arrival order survives parallel workers.
func (in *Ingest) dispatch(ctx context.Context, src <-chan ports.Delivery, shards []chan ports.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-src:
			key, _ := in.deps.Validator.BatchKey(d.RoutingKey)
			shard := shards[xxhash.Sum64String(key)%uint64(len(shards))]
			select {
			case <-ctx.Done():
				return
			case shard <- d:
			}
		}
	}
}

func (in *Ingest) handle(ctx context.Context, d ports.Delivery) {
	obs := in.deps.Obs

	ev, err := in.deps.Validator.Validate(d.RoutingKey, d.Body)
	if err != nil {
		obs.RecordRejected(d.RoutingKey, err)
		settle(obs, "reject", d.Reject)
		return
	}
	rec := hasher.Hash(ev)

	if in.duplicate(rec) {
		obs.IncCounter("coldanchor_events_duplicate_total", 1)
		settle(obs, "ack", d.Ack)
		return
	}

	if !waitForWALCapacity(ctx, in.deps.WAL, in.pol, obs) {
		settle(obs, "requeue", d.Requeue)
		return
	}

	in.commitMu.RLock()
	id, err := in.deps.WAL.Append(&ports.WALEntry{Kind: ports.WALRecord, BatchKey: rec.BatchKey, Record: &rec})
	if err != nil {
		in.commitMu.RUnlock()
		obs.LogCritical("wal_append_failed", err, ports.Field{Key: "batch_key", Value: rec.BatchKey})
		settle(obs, "requeue", d.Requeue)
		return
	}
	sealed, err := in.acc.Add(rec, id)
	var token uint64
	if sealed != nil {
		token = in.flight.register(sealed, false)
	}
	in.commitMu.RUnlock()
	if err != nil {
		// Unreachable while a key is owned by a single worker; the entry is
		// logged, so the message is still settled.
		obs.LogError("accumulator_add_failed", err, ports.Field{Key: "wal_id", Value: uint64(id)})
	}

	in.markSeen(rec)
	settle(obs, "ack", d.Ack)
	obs.IncCounter("coldanchor_events_accepted_total", 1)

	if sealed != nil {
		in.finishSeal(ctx, token)
	}
}

func (in *Ingest) duplicate(rec domain.HashedRecord) bool {
	switch in.pol.Dedup {
	case ports.DedupBatch:
		return in.acc.Contains(rec.BatchKey, rec.Fingerprint)
	case ports.DedupGlobal:
		if in.deps.Dedup == nil {
			return false
		}
		seen, err := in.deps.Dedup.Has(rec.Fingerprint)
		if err != nil {
			in.deps.Obs.LogError("dedup_lookup_failed", err)
			return false
		}
		return seen
	default:
		return false
	}
}

func (in *Ingest) markSeen(rec domain.HashedRecord) {
	if in.pol.Dedup != ports.DedupGlobal || in.deps.Dedup == nil {
		return
	}
	if err := in.deps.Dedup.Add(rec.Fingerprint); err != nil {
		in.deps.Obs.LogError("dedup_mark_failed", err)
	}
}

func settle(obs ports.Observability, what string, fn func() error) {
	if fn == nil {
		return
	}
	if err := fn(); err != nil {
		obs.LogError("delivery_"+what+"_failed", err)
	}
}

func (in *Ingest) runIdleSealer(ctx context.Context) {
	every := in.pol.IdleFlush / 4
	if every < 10*time.Millisecond {
		every = 10 * time.Millisecond
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			in.SealIdle(ctx)
		}
	}
}

// SealIdle seals batches that stopped receiving records and emits them.
func (in *Ingest) SealIdle(ctx context.Context) int {
	in.commitMu.RLock()
	sealed := in.acc.SealIdle()
	tokens := make([]uint64, len(sealed))
	for i, s := range sealed {
		tokens[i] = in.flight.register(s, false)
	}
	in.commitMu.RUnlock()

	for _, t := range tokens {
		in.finishSeal(ctx, t)
	}
	return len(tokens)
}

// finishSeal logs the seal decision, writes the artifact and queues it for
// publishing. On failure the batch is parked as stranded.
func (in *Ingest) finishSeal(ctx context.Context, token uint64) {
	obs := in.deps.Obs
	s, marked, ok := in.flight.claim(token)
	if !ok {
		return
	}
	ctx = context.WithoutCancel(ctx)

	root, err := merkle.Root(fingerprints(s.Records))
	if err != nil {
		in.park(token, nil, err)
		return
	}
	batch := &domain.Batch{Key: s.Key, Records: s.Records, MerkleRoot: root, SealedAt: s.SealedAt}

	if !marked {
		_, err := in.deps.WAL.Append(&ports.WALEntry{
			Kind:          ports.WALSeal,
			BatchKey:      s.Key,
			SealedFrom:    s.Oldest(),
			SealedThrough: s.Through(),
			SealedAt:      s.SealedAt,
		})
		if err != nil {
			in.park(token, batch, fmt.Errorf("log seal: %w", err))
			return
		}
		in.flight.markSealed(token)
		obs.IncCounter("coldanchor_batches_sealed_total", 1)
	}

	start := in.deps.Now()
	h, err := in.deps.Emitter.Emit(ctx, batch)
	if err != nil {
		obs.IncCounter("coldanchor_artifact_write_failed_total", 1)
		in.park(token, batch, err)
		return
	}
	obs.ObserveLatency("coldanchor_emit_latency_seconds", in.deps.Now().Sub(start).Seconds())
	obs.IncCounter("coldanchor_artifacts_emitted_total", 1)

	if _, err := in.deps.WAL.Append(&ports.WALEntry{
		Kind:          ports.WALEmitted,
		BatchKey:      s.Key,
		SealedFrom:    s.Oldest(),
		SealedThrough: s.Through(),
	}); err != nil {
		// A replay re-emits identical bytes, so this only costs a rewrite.
		obs.LogError("wal_emitted_marker_failed", err, ports.Field{Key: "batch_id", Value: h.BatchID})
	}
	in.flight.emitted(token)
	obs.SetGauge("coldanchor_batches_stranded", float64(in.flight.strandedCount()))

	obs.LogInfo("batch_emitted",
		ports.Field{Key: "batch_id", Value: h.BatchID},
		ports.Field{Key: "records", Value: h.RecordCount},
		ports.Field{Key: "merkle_root", Value: h.MerkleRoot.String()})

	if !enqueueWithPolicy(ctx, in.deps.Queue, h, in.pol, obs) {
		// Still unpublished in the log; the next Recover queues it again.
		obs.IncCounter("coldanchor_publish_failed_total", 1, "queue")
	}
}

// MarkPublished logs that an emitted batch is stored, indexed and anchored
// and releases its records for compaction. Handles of batches this process
// did not emit are ignored.
func (in *Ingest) MarkPublished(h domain.ArtifactHandle) {
	token, s, ok := in.flight.awaiting(h.BatchID)
	if !ok {
		return
	}
	if _, err := in.deps.WAL.Append(&ports.WALEntry{
		Kind:          ports.WALPublished,
		BatchKey:      s.Key,
		SealedFrom:    s.Oldest(),
		SealedThrough: s.Through(),
	}); err != nil {
		// Publishing is idempotent; a replay only queues the batch again.
		in.deps.Obs.LogError("wal_published_marker_failed", err, ports.Field{Key: "batch_id", Value: h.BatchID})
	}
	in.flight.done(token)
	in.deps.Obs.SetGauge("coldanchor_batches_unpublished", float64(in.flight.unpublishedCount()))
}

// Unpublished counts emitted batches still waiting for MarkPublished.
func (in *Ingest) Unpublished() int {
	return in.flight.unpublishedCount()
}

func (in *Ingest) park(token uint64, batch *domain.Batch, err error) {
	sb := in.flight.strand(token, batch, err, in.deps.Now())
	if sb == nil {
		return
	}
	in.deps.Obs.LogCritical("batch_stranded", err,
		ports.Field{Key: "stranded_id", Value: sb.ID},
		ports.Field{Key: "batch_id", Value: sb.BatchID},
		ports.Field{Key: "attempts", Value: sb.Attempts})
	in.deps.Obs.SetGauge("coldanchor_batches_stranded", float64(in.flight.strandedCount()))
}

// Stranded lists batches waiting for a successful artifact write.
func (in *Ingest) Stranded() []StrandedBatch {
	return in.flight.stranded()
}

// RetryStranded attempts every stranded batch once more and reports how many
// are still stranded afterwards.
func (in *Ingest) RetryStranded(ctx context.Context) int {
	for _, t := range in.flight.strandedTokens() {
		in.finishSeal(ctx, t)
	}
	return in.flight.strandedCount()
}

func fingerprints(recs []domain.HashedRecord) []domain.Digest {
	out := make([]domain.Digest, len(recs))
	for i, r := range recs {
		out[i] = r.Fingerprint
	}
	return out
}
