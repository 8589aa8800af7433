package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ghalamif/ColdAnchor/internal/core/emitter"
	"github.com/ghalamif/ColdAnchor/internal/core/merkle"
	"github.com/ghalamif/ColdAnchor/internal/core/retry"
	"github.com/ghalamif/ColdAnchor/internal/domain"
	"github.com/ghalamif/ColdAnchor/internal/ports"
)

// Publisher stores an artifact, indexes it and anchors it. Each step retries
// on its own; a failed anchor never undoes the stored content or metadata.
type Publisher struct {
	Content  ports.ContentStore
	Metadata ports.MetadataStore
	Ledger   ports.Ledger
	Obs      ports.Observability
	Retry    retry.Policy
	// OnPublished, when set, is called after all three steps succeed.
	OnPublished func(domain.ArtifactHandle)
}

// Publish runs the three publish steps for one artifact.
func (p *Publisher) Publish(ctx context.Context, h domain.ArtifactHandle) error {
	start := time.Now()

	data, err := os.ReadFile(h.Path)
	if err != nil {
		return p.fail("read", h, err)
	}
	records, err := emitter.Decode(data)
	if err != nil {
		return p.fail("read", h, err)
	}
	root, err := merkle.Root(fingerprints(records))
	if err != nil {
		return p.fail("read", h, err)
	}
	if !h.MerkleRoot.IsZero() && h.MerkleRoot != root {
		return p.fail("read", h, fmt.Errorf("artifact root %s does not match sealed root %s", root, h.MerkleRoot))
	}

	cid, err := retry.Do(ctx, p.Retry, p.notify("content", h), func() (string, error) {
		return p.Content.Put(ctx, filepath.Base(h.Path), bytes.NewReader(data))
	})
	if err != nil {
		return p.fail("content", h, err)
	}

	rec := domain.AnchorRecord{
		BatchKey:    h.BatchKey,
		ContentID:   cid,
		MerkleRoot:  root,
		RecordCount: len(records),
		CreatedAt:   h.CreatedAt,
	}
	if _, err := retry.Do(ctx, p.Retry, p.notify("metadata", h), func() (struct{}, error) {
		return struct{}{}, p.Metadata.SaveBatch(ctx, rec)
	}); err != nil {
		return p.fail("metadata", h, err)
	}

	sub := domain.AnchorSubmission{
		BatchKey:   h.BatchKey,
		BatchID:    h.BatchID,
		ContentID:  cid,
		MerkleRoot: root,
		Entries:    make([]domain.LedgerEntry, len(records)),
	}
	for i, r := range records {
		sub.Entries[i] = domain.LedgerEntryFromRecord(r)
	}
	if _, err := retry.Do(ctx, p.Retry, p.notify("anchor", h), func() (struct{}, error) {
		return struct{}{}, p.Ledger.Submit(ctx, sub)
	}); err != nil {
		return p.fail("anchor", h, fmt.Errorf("%w: %w", domain.ErrAnchorSubmission, err))
	}

	p.Obs.ObserveLatency("coldanchor_publish_latency_seconds", time.Since(start).Seconds())
	p.Obs.IncCounter("coldanchor_batches_published_total", 1)
	p.Obs.LogInfo("batch_published",
		ports.Field{Key: "batch_id", Value: h.BatchID},
		ports.Field{Key: "cid", Value: cid},
		ports.Field{Key: "merkle_root", Value: root.String()})
	if p.OnPublished != nil {
		p.OnPublished(h)
	}
	return nil
}

func (p *Publisher) notify(stage string, h domain.ArtifactHandle) func(error, time.Duration) {
	return func(err error, next time.Duration) {
		p.Obs.LogError("publish_retry", err,
			ports.Field{Key: "stage", Value: stage},
			ports.Field{Key: "batch_id", Value: h.BatchID},
			ports.Field{Key: "next", Value: next.String()})
	}
}

func (p *Publisher) fail(stage string, h domain.ArtifactHandle, err error) error {
	p.Obs.IncCounter("coldanchor_publish_failed_total", 1, stage)
	p.Obs.LogCritical("publish_failed", err,
		ports.Field{Key: "stage", Value: stage},
		ports.Field{Key: "batch_id", Value: h.BatchID},
		ports.Field{Key: "path", Value: h.Path})
	return fmt.Errorf("publish %s (%s): %w", h.BatchID, stage, err)
}

// RunPublisher drains the artifact queue until ctx is cancelled.
func RunPublisher(ctx context.Context, q ports.ArtifactQueue, pub *Publisher, pol ports.Policy) {
	for {
		batch := q.DequeueBatch(pol.MaxBatchSize)
		if len(batch) == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(idleSleep(pol)):
			}
			continue
		}

		for _, h := range batch {
			// Failures are logged and counted. The batch stays unpublished in
			// the recovery log and is queued again on the next start.
			_ = pub.Publish(ctx, h)
		}
		pub.Obs.SetGauge("coldanchor_publish_queue_length", float64(q.Len()))
	}
}

// HandleFromPath rebuilds an artifact handle from an artifact file name of
// the form <batchKey>_<sealTime>.json.
func HandleFromPath(path string) (domain.ArtifactHandle, error) {
	id := strings.TrimSuffix(filepath.Base(path), ".json")
	i := strings.LastIndex(id, "_")
	if i <= 0 || i == len(id)-1 {
		return domain.ArtifactHandle{}, fmt.Errorf("artifact name %q has no seal time", path)
	}
	key, stamp := id[:i], id[i+1:]

	created, err := time.Parse(domain.BatchIDLayout, stamp)
	if err != nil {
		var legacy error
		created, legacy = time.Parse("20060102T150405Z", stamp)
		if legacy != nil {
			return domain.ArtifactHandle{}, fmt.Errorf("artifact name %q: %w", path, err)
		}
	}
	return domain.ArtifactHandle{BatchKey: key, BatchID: id, Path: path, CreatedAt: created.UTC()}, nil
}

// PublishDir publishes every artifact found in dir in name order. It is
// safe to run repeatedly: every publish step is idempotent.
func PublishDir(ctx context.Context, dir string, pub *Publisher) (published int, err error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return 0, err
	}
	sort.Strings(paths)

	var errs []error
	for _, path := range paths {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		h, herr := HandleFromPath(path)
		if herr != nil {
			errs = append(errs, herr)
			continue
		}
		if perr := pub.Publish(ctx, h); perr != nil {
			errs = append(errs, perr)
			continue
		}
		published++
	}
	return published, errors.Join(errs...)
}
