// Package metrics implements fluxcap's Prometheus metrics, per SPEC_FULL
// §6.5: counters for packets processed/rejected per error-taxonomy class
// (spec §7), gauges for each table's entry count and memcap allocated
// bytes (the pipeline sets only the entry-count gauge), and a histogram of per-packet pipeline latency. Grounded on the
// teacher's own metrics.go (promauto-registered package vars) and
// server.go (net/http + promhttp.Handler), retargeted from per-task
// capture-agent metrics to fluxcap's single-pipeline domain.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PacketsAcceptedTotal counts frames that Process carried past decode
	// and defrag, fragments absorbed into a reassembly bucket included. A
	// packet for which a table refused a new entry is counted here and
	// also in PacketsRejectedTotal.
	PacketsAcceptedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fluxcap_packets_accepted_total",
			Help: "Total number of packets fully processed by the pipeline",
		},
	)

	// PacketsRejectedTotal counts packets dropped, labeled by the
	// fluxerr sentinel class that caused the rejection (spec §7).
	PacketsRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluxcap_packets_rejected_total",
			Help: "Total number of packets rejected, by error class",
		},
		[]string{"reason"},
	)

	// PipelineLatencySeconds measures wall-clock time spent in
	// Pipeline.Process per packet.
	PipelineLatencySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fluxcap_pipeline_latency_seconds",
			Help:    "Latency of one Pipeline.Process call",
			Buckets: prometheus.ExponentialBuckets(0.000001, 2, 20),
		},
	)

	// TableSize tracks each aging table's live entry count.
	TableSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fluxcap_table_size",
			Help: "Current number of live entries in a fluxcap table",
		},
		[]string{"table"},
	)

	// TableAllocatedBytes holds each table's memcap allocated-byte count as
	// last passed to SetTableAllocatedBytes; the pipeline does not call it,
	// so this gauge has no series unless another caller does.
	TableAllocatedBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fluxcap_table_allocated_bytes",
			Help: "Current memcap-tracked allocation for a fluxcap table",
		},
		[]string{"table"},
	)
)

// Metrics implements pipeline.Counters against the package's
// promauto-registered collectors.
type Metrics struct{}

// New returns a Metrics backed by the process-wide Prometheus registry.
func New() *Metrics { return &Metrics{} }

func (m *Metrics) PacketAccepted() {
	PacketsAcceptedTotal.Inc()
}

func (m *Metrics) PacketRejected(reason error) {
	label := "unknown"
	if reason != nil {
		label = reason.Error()
	}
	PacketsRejectedTotal.WithLabelValues(label).Inc()
}

func (m *Metrics) ObservePipelineLatency(d time.Duration) {
	PipelineLatencySeconds.Observe(d.Seconds())
}

func (m *Metrics) SetTableSize(table string, n int) {
	TableSize.WithLabelValues(table).Set(float64(n))
}

// SetTableAllocatedBytes records a table's current memcap allocation.
func (m *Metrics) SetTableAllocatedBytes(table string, n uint64) {
	TableAllocatedBytes.WithLabelValues(table).Set(float64(n))
}
