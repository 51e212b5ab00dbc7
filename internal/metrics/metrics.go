// Package metrics provides Prometheus metrics for eavstore
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nainya/eavstore/pkg/eav"
	"github.com/nainya/eavstore/pkg/patch"
)

// Metrics holds all Prometheus metrics for eavstore
type Metrics struct {
	// gRPC request metrics
	GrpcRequestsTotal    *prometheus.CounterVec
	GrpcRequestDuration  *prometheus.HistogramVec
	GrpcRequestsInFlight prometheus.Gauge

	// Patch metrics
	PatchesAppliedTotal      *prometheus.CounterVec
	InstructionsAppliedTotal *prometheus.CounterVec
	PatchApplyDuration       prometheus.Histogram

	// Database metrics, one series per value kind
	DbValues *prometheus.GaugeVec

	// Replication metrics
	DiffEntriesTotal *prometheus.CounterVec
	StoreMappings    *prometheus.GaugeVec

	// Journal metrics
	JournalRecordsTotal *prometheus.CounterVec
	JournalSeq          prometheus.Gauge

	// Server metrics
	ServerUptimeSeconds prometheus.GaugeFunc
	ServerStartTime     time.Time
}

// NewMetrics creates the metrics and registers them with reg. A nil reg
// uses prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	m := &Metrics{
		ServerStartTime: time.Now(),
	}

	m.GrpcRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eavstore_grpc_requests_total",
			Help: "Total number of gRPC requests",
		},
		[]string{"method", "status"},
	)

	m.GrpcRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eavstore_grpc_request_duration_seconds",
			Help:    "Duration of gRPC requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	m.GrpcRequestsInFlight = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "eavstore_grpc_requests_in_flight",
			Help: "Number of gRPC requests currently being processed",
		},
	)

	m.PatchesAppliedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eavstore_patches_applied_total",
			Help: "Total number of patches applied to the database",
		},
		[]string{"status"},
	)

	m.InstructionsAppliedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eavstore_instructions_applied_total",
			Help: "Total number of patch instructions applied, by opcode",
		},
		[]string{"opcode"},
	)

	m.PatchApplyDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "eavstore_patch_apply_duration_seconds",
			Help:    "Duration of patch decode and apply in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	m.DbValues = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "eavstore_db_values",
			Help: "Number of values stored in the database, by kind",
		},
		[]string{"kind"},
	)

	m.DiffEntriesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eavstore_diff_entries_total",
			Help: "Total number of diff entries exchanged",
		},
		[]string{"store", "op"},
	)

	m.StoreMappings = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "eavstore_store_mappings",
			Help: "Approximate number of mappings in the replicated stores",
		},
		[]string{"store"},
	)

	m.JournalRecordsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eavstore_journal_records_total",
			Help: "Total number of journal records written",
		},
		[]string{"kind"},
	)

	m.JournalSeq = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "eavstore_journal_seq",
			Help: "Last journal sequence number written",
		},
	)

	m.ServerUptimeSeconds = factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "eavstore_server_uptime_seconds",
			Help: "Server uptime in seconds",
		},
		func() float64 { return time.Since(m.ServerStartTime).Seconds() },
	)

	return m
}

// RecordGrpcRequest records a gRPC request with its status
func (m *Metrics) RecordGrpcRequest(method string, status string, duration time.Duration) {
	m.GrpcRequestsTotal.WithLabelValues(method, status).Inc()
	m.GrpcRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordPatch records an applied (or rejected) patch
func (m *Metrics) RecordPatch(p patch.Patch, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.PatchesAppliedTotal.WithLabelValues(status).Inc()
	m.PatchApplyDuration.Observe(duration.Seconds())
	if err != nil {
		return
	}
	for op, n := range p.Counts() {
		m.InstructionsAppliedTotal.WithLabelValues(op.String()).Add(float64(n))
	}
}

// RecordDiff records the entries of an exchanged diff
func (m *Metrics) RecordDiff(store string, set, deleted int) {
	m.DiffEntriesTotal.WithLabelValues(store, "set").Add(float64(set))
	m.DiffEntriesTotal.WithLabelValues(store, "deleted").Add(float64(deleted))
}

// UpdateDbStats updates the per-kind value gauges
func (m *Metrics) UpdateDbStats(s eav.Stats) {
	m.DbValues.WithLabelValues("flag").Set(float64(s.Flags))
	m.DbValues.WithLabelValues("float").Set(float64(s.Floats))
	m.DbValues.WithLabelValues("reference").Set(float64(s.References))
	m.DbValues.WithLabelValues("string").Set(float64(s.Strings))
	m.DbValues.WithLabelValues("color").Set(float64(s.Colors))
	m.DbValues.WithLabelValues("image").Set(float64(s.Images))
	m.DbValues.WithLabelValues("mesh").Set(float64(s.Meshes))
	m.DbValues.WithLabelValues("tag").Set(float64(s.Tags))
}

// UpdateStoreStats updates the replicated store gauges
func (m *Metrics) UpdateStoreStats(references, tags int) {
	m.StoreMappings.WithLabelValues("references").Set(float64(references))
	m.StoreMappings.WithLabelValues("tags").Set(float64(tags))
}

// RecordJournal records a written journal record
func (m *Metrics) RecordJournal(kind string, seq uint64) {
	m.JournalRecordsTotal.WithLabelValues(kind).Inc()
	m.JournalSeq.Set(float64(seq))
}
