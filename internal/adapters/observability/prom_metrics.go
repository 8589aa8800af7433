package observability

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ghalamif/ColdAnchor/internal/domain"
	"github.com/ghalamif/ColdAnchor/internal/ports"
)

type PromObs struct {
	log      *zap.Logger
	counters map[string]prometheus.Counter
	vecs     map[string]*prometheus.CounterVec
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
}

func NewPromObs(logger *zap.Logger) *PromObs {
	if logger == nil {
		logger = zap.NewNop()
	}

	accepted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "coldanchor_events_accepted_total",
		Help: "Events durably incorporated into an open batch.",
	})
	rejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coldanchor_events_rejected_total",
		Help: "Malformed events acknowledged and dropped by the validator.",
	}, []string{"reason"})
	duplicates := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "coldanchor_events_duplicate_total",
		Help: "Events dropped by fingerprint deduplication.",
	})
	sealed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "coldanchor_batches_sealed_total",
		Help: "Batches sealed by threshold or idle flush.",
	})
	emitted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "coldanchor_artifacts_emitted_total",
		Help: "Batch artifacts durably written.",
	})
	writeFailed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "coldanchor_artifact_write_failed_total",
		Help: "Artifact writes that exhausted their retries.",
	})
	published := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "coldanchor_batches_published_total",
		Help: "Batches stored, indexed and anchored.",
	})
	publishFailed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coldanchor_publish_failed_total",
		Help: "Publish steps that exhausted their retries.",
	}, []string{"stage"})
	bridgeForwarded := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "coldanchor_bridge_forwarded_total",
		Help: "MQTT messages republished onto the raw exchange.",
	})
	bridgeDropped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "coldanchor_bridge_dropped_total",
		Help: "MQTT messages dropped by the bridge.",
	})
	stranded := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "coldanchor_batches_stranded",
		Help: "Sealed batches waiting for a successful artifact write.",
	})
	unpublished := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "coldanchor_batches_unpublished",
		Help: "Emitted batches not yet stored, indexed and anchored.",
	})
	walGauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "coldanchor_wal_size_bytes",
		Help: "Size of the recovery log on disk.",
	})
	queueGauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "coldanchor_publish_queue_length",
		Help: "Artifacts waiting for storage and anchoring.",
	})
	openRecords := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "coldanchor_open_records",
		Help: "Records held in open batches.",
	})
	openBatches := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "coldanchor_open_batches",
		Help: "Batch keys with at least one open record.",
	})
	emitLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "coldanchor_emit_latency_seconds",
		Help:    "Time from seal to durable artifact.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})
	publishLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "coldanchor_publish_latency_seconds",
		Help:    "Time to store, index and anchor one artifact.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	prometheus.MustRegister(accepted, rejected, duplicates, sealed, emitted, writeFailed,
		published, publishFailed, bridgeForwarded, bridgeDropped, stranded, unpublished, walGauge, queueGauge, openRecords, openBatches,
		emitLatency, publishLatency)

	return &PromObs{
		log: logger,
		counters: map[string]prometheus.Counter{
			"coldanchor_events_accepted_total":       accepted,
			"coldanchor_events_duplicate_total":      duplicates,
			"coldanchor_batches_sealed_total":        sealed,
			"coldanchor_artifacts_emitted_total":     emitted,
			"coldanchor_artifact_write_failed_total": writeFailed,
			"coldanchor_batches_published_total":     published,
			"coldanchor_bridge_forwarded_total":      bridgeForwarded,
			"coldanchor_bridge_dropped_total":        bridgeDropped,
		},
		vecs: map[string]*prometheus.CounterVec{
			"coldanchor_events_rejected_total": rejected,
			"coldanchor_publish_failed_total":  publishFailed,
		},
		gauges: map[string]prometheus.Gauge{
			"coldanchor_batches_stranded":     stranded,
			"coldanchor_batches_unpublished":  unpublished,
			"coldanchor_wal_size_bytes":       walGauge,
			"coldanchor_publish_queue_length": queueGauge,
			"coldanchor_open_records":         openRecords,
			"coldanchor_open_batches":         openBatches,
		},
		histos: map[string]prometheus.Observer{
			"coldanchor_emit_latency_seconds":    emitLatency,
			"coldanchor_publish_latency_seconds": publishLatency,
		},
	}
}

func zapFields(fields []ports.Field) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for _, f := range fields {
		out = append(out, zap.Any(f.Key, f.Value))
	}
	return out
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	p.log.Info(msg, zapFields(fields)...)
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	p.log.Error(msg, append(zapFields(fields), zap.Error(err))...)
}

// LogCritical is for failures an operator has to act on.
func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	p.log.Error(msg, append(zapFields(fields), zap.Error(err), zap.Bool("critical", true))...)
}

func (p *PromObs) IncCounter(name string, v float64, labels ...string) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
		return
	}
	if vec, ok := p.vecs[name]; ok {
		c, err := vec.GetMetricWithLabelValues(labels...)
		if err != nil {
			p.log.Warn("metric_label_mismatch", zap.String("metric", name), zap.Error(err))
			return
		}
		c.Add(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

func (p *PromObs) RecordRejected(routingKey string, err error) {
	reason := "invalid_payload"
	var rej *domain.RejectionError
	if errors.As(err, &rej) {
		reason = rej.Reason()
	}
	p.IncCounter("coldanchor_events_rejected_total", 1, reason)
	p.log.Warn("event_rejected",
		zap.String("routing_key", routingKey),
		zap.String("reason", reason),
		zap.Error(err))
}

var _ ports.Observability = (*PromObs)(nil)
