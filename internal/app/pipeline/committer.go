package pipeline

import (
	"context"
	"time"

	"github.com/ghalamif/ColdAnchor/internal/ports"
)

// Watermark is the highest recovery-log entry no open, in-flight, stranded
// or unpublished batch still depends on.
func (in *Ingest) Watermark() ports.WALEntryID {
	in.commitMu.Lock()
	defer in.commitMu.Unlock()

	latest := in.deps.WAL.Stats().LatestAppended
	oldest, found := in.acc.OldestRef()
	if o, ok := in.flight.oldestRef(); ok && (!found || o < oldest) {
		oldest, found = o, true
	}
	if !found {
		return latest
	}
	if oldest == 0 {
		return 0
	}
	return oldest - 1
}

// Compact retries stranded batches, advances the commit watermark and drops
// committed entries from the log.
func (in *Ingest) Compact(ctx context.Context) error {
	obs := in.deps.Obs
	if n := len(in.flight.strandedTokens()); n > 0 {
		left := in.RetryStranded(ctx)
		obs.LogInfo("stranded_retry", ports.Field{Key: "attempted", Value: n}, ports.Field{Key: "remaining", Value: left})
	}

	if w := in.Watermark(); w > 0 {
		if err := in.deps.WAL.Commit(w); err != nil {
			obs.LogError("wal_commit_failed", err)
			return err
		}
	}
	if err := in.deps.WAL.TruncateCommitted(); err != nil {
		obs.LogError("wal_truncate_failed", err)
		return err
	}
	in.reportGauges()
	return nil
}

func (in *Ingest) reportGauges() {
	obs := in.deps.Obs
	open := in.acc.Open()
	records := 0
	for _, n := range open {
		records += n
	}
	obs.SetGauge("coldanchor_open_batches", float64(len(open)))
	obs.SetGauge("coldanchor_open_records", float64(records))
	obs.SetGauge("coldanchor_wal_size_bytes", float64(in.deps.WAL.Stats().SizeBytes))
	obs.SetGauge("coldanchor_publish_queue_length", float64(in.deps.Queue.Len()))
	obs.SetGauge("coldanchor_batches_stranded", float64(in.flight.strandedCount()))
	obs.SetGauge("coldanchor_batches_unpublished", float64(in.flight.unpublishedCount()))
}

// RunMaintenance calls Compact every interval until ctx is cancelled.
func (in *Ingest) RunMaintenance(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = 30 * time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = in.Compact(ctx)
		}
	}
}
