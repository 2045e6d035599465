// Package instrumentation exposes Prometheus metrics for gateway
// operations.
package instrumentation

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the gateway's Prometheus collectors. A nil *Metrics is
// valid and records nothing, so wiring stays optional in tests.
type Metrics struct {
	operations          *prometheus.CounterVec
	operationDuration   *prometheus.HistogramVec
	tokenRefreshes      *prometheus.CounterVec
	attachmentDownloads *prometheus.CounterVec
	downloadsInFlight   prometheus.Gauge
}

// NewMetrics registers the gateway collectors with reg. Pass
// prometheus.DefaultRegisterer in production.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mailgate_operations_total",
			Help: "Gateway operations by name and outcome.",
		}, []string{"operation", "status"}),
		operationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mailgate_operation_duration_seconds",
			Help:    "Gateway operation latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		tokenRefreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mailgate_token_refreshes_total",
			Help: "OAuth token refresh exchanges by outcome.",
		}, []string{"status"}),
		attachmentDownloads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mailgate_attachment_downloads_total",
			Help: "Attachment downloads by outcome.",
		}, []string{"status"}),
		downloadsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mailgate_attachment_downloads_in_flight",
			Help: "Attachment downloads currently holding a concurrency slot.",
		}),
	}
}

// RecordOperation records one completed gateway operation.
func (m *Metrics) RecordOperation(operation, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, status).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// RecordTokenRefresh records one refresh exchange.
func (m *Metrics) RecordTokenRefresh(status string) {
	if m == nil {
		return
	}
	m.tokenRefreshes.WithLabelValues(status).Inc()
}

// RecordAttachmentDownload records one finished download.
func (m *Metrics) RecordAttachmentDownload(status string) {
	if m == nil {
		return
	}
	m.attachmentDownloads.WithLabelValues(status).Inc()
}

// DownloadStarted marks a download as holding a concurrency slot.
func (m *Metrics) DownloadStarted() {
	if m == nil {
		return
	}
	m.downloadsInFlight.Inc()
}

// DownloadFinished releases the in-flight marker.
func (m *Metrics) DownloadFinished() {
	if m == nil {
		return
	}
	m.downloadsInFlight.Dec()
}
