package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ingest stage labels.
const (
	StageBlock  = "block"
	StageCopy   = "copy"
	StageDedup  = "dedup"
	StageCommit = "commit"
	StageQuery  = "query"
)

// Ingest holds the bulk ingest metrics. A nil *Ingest, or one never registered, records nothing.
type Ingest struct {
	stageDuration *prometheus.HistogramVec
	stageRows     *prometheus.CounterVec
	failures      *prometheus.CounterVec
	blocks        prometheus.Counter
	partitions    prometheus.Counter

	// registerOnce ensures Prometheus metrics are only registered once
	registerOnce sync.Once
}

// NewIngest returns Ingest metrics registered with registry. A nil registry yields no-op metrics.
func NewIngest(registry prometheus.Registerer) *Ingest {
	m := &Ingest{}
	m.Register(registry)
	return m
}

// Register registers Prometheus metrics with the given registry.
// If registry is nil, this is a no-op. Subsequent calls are no-ops.
func (m *Ingest) Register(registry prometheus.Registerer) {
	if registry == nil {
		return
	}

	m.registerOnce.Do(func() {
		factory := promauto.With(registry)

		m.stageDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "blockstore_ingest_stage_duration_seconds",
			Help:    "Duration of each bulk ingest stage",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16),
		}, []string{"stage"})

		m.stageRows = factory.NewCounterVec(prometheus.CounterOpts{
			Name: "blockstore_ingest_stage_rows_total",
			Help: "Rows affected by each bulk ingest stage",
		}, []string{"stage"})

		m.failures = factory.NewCounterVec(prometheus.CounterOpts{
			Name: "blockstore_ingest_failures_total",
			Help: "Failed ingest stages by error kind",
		}, []string{"stage", "kind"})

		m.blocks = factory.NewCounter(prometheus.CounterOpts{
			Name: "blockstore_blocks_ingested_total",
			Help: "Blocks committed to an epoch partition",
		})

		m.partitions = factory.NewCounter(prometheus.CounterOpts{
			Name: "blockstore_partitions_initialized_total",
			Help: "Epoch partitions created or verified by this process",
		})
	})
}

// ObserveStage records the duration and affected rows of one stage.
func (m *Ingest) ObserveStage(stage string, rows int64, d time.Duration) {
	if m == nil || m.stageDuration == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
	if rows > 0 {
		m.stageRows.WithLabelValues(stage).Add(float64(rows))
	}
}

// IncFailure counts a failed stage.
func (m *Ingest) IncFailure(stage, kind string) {
	if m == nil || m.failures == nil {
		return
	}
	m.failures.WithLabelValues(stage, kind).Inc()
}

// IncBlocks counts a committed block.
func (m *Ingest) IncBlocks() {
	if m == nil || m.blocks == nil {
		return
	}
	m.blocks.Inc()
}

// IncPartitions counts an initialized partition.
func (m *Ingest) IncPartitions() {
	if m == nil || m.partitions == nil {
		return
	}
	m.partitions.Inc()
}
