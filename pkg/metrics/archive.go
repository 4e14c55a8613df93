package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ArchiveMetrics tracks storage manager operations. A nil *ArchiveMetrics
// is a valid no-op instance.
type ArchiveMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	bytesStored       prometheus.Counter
	bytesRetrieved    prometheus.Counter
	tierMoves         *prometheus.CounterVec
}

// NewArchiveMetrics creates Prometheus-backed archive metrics, or nil when
// metrics are disabled.
func NewArchiveMetrics() *ArchiveMetrics {
	if !IsEnabled() {
		return nil
	}

	reg := GetRegistry()

	return &ArchiveMetrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "arkived_storage_operations_total",
				Help: "Total number of storage operations by operation type and status",
			},
			[]string{"operation", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "arkived_storage_operation_duration_seconds",
				Help: "Duration of storage operations in seconds",
				Buckets: []float64{
					0.001, // 1ms
					0.01,  // 10ms
					0.05,  // 50ms
					0.1,   // 100ms
					0.5,   // 500ms
					1.0,   // 1s
					5.0,   // 5s
					30.0,  // 30s
				},
			},
			[]string{"operation"},
		),
		bytesStored: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "arkived_storage_bytes_stored_total",
				Help: "Total content bytes written to the archive",
			},
		),
		bytesRetrieved: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "arkived_storage_bytes_retrieved_total",
				Help: "Total content bytes read back from the archive",
			},
		),
		tierMoves: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "arkived_storage_tier_moves_total",
				Help: "Total tier relocations by target tier",
			},
			[]string{"target"},
		),
	}
}

// ObserveOperation records one storage operation with its outcome.
func (m *ArchiveMetrics) ObserveOperation(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.operationsTotal.WithLabelValues(operation, status).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordStoredBytes counts content bytes written by a store operation.
func (m *ArchiveMetrics) RecordStoredBytes(bytes int64) {
	if m == nil {
		return
	}
	m.bytesStored.Add(float64(bytes))
}

// RecordRetrievedBytes counts content bytes served by a retrieve operation.
func (m *ArchiveMetrics) RecordRetrievedBytes(bytes int64) {
	if m == nil {
		return
	}
	m.bytesRetrieved.Add(float64(bytes))
}

// RecordTierMove counts a completed tier relocation.
func (m *ArchiveMetrics) RecordTierMove(target string) {
	if m == nil {
		return
	}
	m.tierMoves.WithLabelValues(target).Inc()
}
