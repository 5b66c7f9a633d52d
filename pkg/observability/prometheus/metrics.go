package prometheus

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fluxorio/diskbuffer/pkg/diskbuffer"
)

var (
	// DefaultRegistry is the default Prometheus registry
	DefaultRegistry = prometheus.NewRegistry()

	// DefaultRegisterer is the default Prometheus registerer
	DefaultRegisterer = prometheus.WrapRegistererWith(prometheus.Labels{"service": "diskbuffer"}, DefaultRegistry)

	metricsOnce sync.Once
	metrics     *Metrics
)

// Metrics records buffer lifecycle events. It implements diskbuffer.Observer.
type Metrics struct {
	RecoveryDuration    prometheus.Histogram
	RecoveredRecords    prometheus.Gauge
	TruncatedBytesTotal prometheus.Counter
	UncleanOpensTotal   prometheus.Counter

	RotationsTotal        *prometheus.CounterVec
	SealedSegmentBytes    prometheus.Histogram
	SegmentsDeletedTotal  prometheus.Counter
	SegmentDeleteFailures prometheus.Counter
	ReclaimedBytesTotal   prometheus.Counter

	FlushDuration prometheus.Histogram
	FlushErrors   prometheus.Counter
}

var _ diskbuffer.Observer = (*Metrics)(nil)

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metrics = NewMetrics(DefaultRegisterer)
	})
	return metrics
}

// NewMetrics creates the buffer metrics on registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = DefaultRegisterer
	}
	f := promauto.With(registerer)

	return &Metrics{
		RecoveryDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "diskbuffer_recovery_duration_seconds",
			Help:    "Time spent scanning segments when opening a buffer",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8), // 1ms to 16s
		}),
		RecoveredRecords: f.NewGauge(prometheus.GaugeOpts{
			Name: "diskbuffer_recovered_records",
			Help: "Unacknowledged records found on disk at the last open",
		}),
		TruncatedBytesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "diskbuffer_truncated_bytes_total",
			Help: "Bytes of incomplete writes dropped during recovery",
		}),
		UncleanOpensTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "diskbuffer_unclean_opens_total",
			Help: "Opens of a buffer whose writer was not closed",
		}),

		RotationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "diskbuffer_segment_rotations_total",
			Help: "Segment rotations",
		}, []string{"reason"}),
		SealedSegmentBytes: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "diskbuffer_sealed_segment_bytes",
			Help:    "Size of segments at rotation",
			Buckets: prometheus.ExponentialBuckets(1<<10, 4, 10), // 1KiB to 256MiB
		}),
		SegmentsDeletedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "diskbuffer_segments_deleted_total",
			Help: "Fully acknowledged segments deleted",
		}),
		SegmentDeleteFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "diskbuffer_segment_delete_failures_total",
			Help: "Failed attempts to delete a fully acknowledged segment",
		}),
		ReclaimedBytesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "diskbuffer_reclaimed_bytes_total",
			Help: "Disk space released by segment deletion",
		}),

		FlushDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "diskbuffer_flush_duration_seconds",
			Help:    "Time to make buffered writes durable",
			Buckets: prometheus.DefBuckets,
		}),
		FlushErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "diskbuffer_flush_errors_total",
			Help: "Failed flushes",
		}),
	}
}

// OnRecover implements diskbuffer.Observer.
func (m *Metrics) OnRecover(info diskbuffer.RecoverInfo) {
	m.RecoveryDuration.Observe(info.Duration.Seconds())
	m.RecoveredRecords.Set(float64(info.Records))
	if info.TruncatedBytes > 0 {
		m.TruncatedBytesTotal.Add(float64(info.TruncatedBytes))
	}
	if info.LedgerFound && !info.CleanShutdown {
		m.UncleanOpensTotal.Inc()
	}
}

// OnRotate implements diskbuffer.Observer.
func (m *Metrics) OnRotate(info diskbuffer.RotateInfo) {
	m.RotationsTotal.WithLabelValues(info.Reason).Inc()
	m.SealedSegmentBytes.Observe(float64(info.SealedSize))
}

// OnSegmentDeleted implements diskbuffer.Observer.
func (m *Metrics) OnSegmentDeleted(info diskbuffer.DeleteInfo) {
	if info.Err != nil {
		m.SegmentDeleteFailures.Inc()
		return
	}
	m.SegmentsDeletedTotal.Inc()
	m.ReclaimedBytesTotal.Add(float64(info.Size))
}

// OnFlush implements diskbuffer.Observer.
func (m *Metrics) OnFlush(info diskbuffer.FlushInfo) {
	if info.Err != nil {
		m.FlushErrors.Inc()
		return
	}
	m.FlushDuration.Observe(info.Duration.Seconds())
}
