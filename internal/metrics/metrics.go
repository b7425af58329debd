// Package metrics holds the Prometheus instruments of the directory core
// and its gRPC transport.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics implements directory.AllocatorObserver and
// directory.ChannelObserver. A nil *Metrics is a valid no-op.
type Metrics struct {
	// Optimistic allocation attempts lost to a concurrent writer
	AllocationRetries prometheus.Counter

	// Snapshots fanned out to observers and the size of the last one
	SnapshotsPublished prometheus.Counter
	SnapshotSize       prometheus.Gauge

	Observers        prometheus.Gauge
	UpstreamFailures prometheus.Counter

	// Stored images that could not be decoded
	ImageDecodeFailures prometheus.Counter

	// gRPC handling latency by method and status code
	RequestDuration *prometheus.HistogramVec
}

// New creates the instruments and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		AllocationRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "staffsync_allocation_retries_total",
			Help: "Total identifier allocations retried after a concurrent counter change",
		}),
		SnapshotsPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "staffsync_snapshots_published_total",
			Help: "Total directory snapshots published to observers",
		}),
		SnapshotSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "staffsync_snapshot_employees",
			Help: "Number of employees in the last published snapshot",
		}),
		Observers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "staffsync_observers",
			Help: "Number of registered directory observers",
		}),
		UpstreamFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "staffsync_upstream_failures_total",
			Help: "Total failed or cancelled store subscriptions",
		}),
		ImageDecodeFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "staffsync_image_decode_failures_total",
			Help: "Total stored images that could not be decoded",
		}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "staffsync_grpc_request_duration_seconds",
			Help:    "Duration of gRPC requests by method and status code",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"method", "code"}),
	}
}

func (m *Metrics) AllocationRetried() {
	if m != nil {
		m.AllocationRetries.Inc()
	}
}

func (m *Metrics) SnapshotPublished(size int) {
	if m != nil {
		m.SnapshotsPublished.Inc()
		m.SnapshotSize.Set(float64(size))
	}
}

func (m *Metrics) ObserversChanged(count int) {
	if m != nil {
		m.Observers.Set(float64(count))
	}
}

func (m *Metrics) UpstreamFailed() {
	if m != nil {
		m.UpstreamFailures.Inc()
	}
}

// ImageDecodeFailed is passed to imagecodec.New.
func (m *Metrics) ImageDecodeFailed() {
	if m != nil {
		m.ImageDecodeFailures.Inc()
	}
}

// ObserveRequest records the duration of one gRPC call.
func (m *Metrics) ObserveRequest(method, code string, d time.Duration) {
	if m != nil {
		m.RequestDuration.WithLabelValues(method, code).Observe(d.Seconds())
	}
}
