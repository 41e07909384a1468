package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Metrics holds all Prometheus metrics for wablast
type Metrics struct {
	// Send counters
	MessagesSentTotal   prometheus.Counter
	MessagesFailedTotal *prometheus.CounterVec
	SendRetriesTotal    *prometheus.CounterVec
	MediaUploadsTotal   prometheus.Counter

	// Campaign metrics
	CampaignsStartedTotal prometheus.Counter
	CampaignsFailedTotal  prometheus.Counter
	CampaignActive        prometheus.Gauge

	// Pacing
	PacingWaitSeconds prometheus.Histogram

	// API metrics
	APIRequestsTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		MessagesSentTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "wablast_messages_sent_total",
				Help: "Total number of successfully delivered messages",
			},
		),
		MessagesFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wablast_messages_failed_total",
				Help: "Total number of permanently failed messages",
			},
			[]string{"error_kind"},
		),
		SendRetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wablast_send_retries_total",
				Help: "Total number of send retries by reason",
			},
			[]string{"reason"},
		),
		MediaUploadsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "wablast_media_uploads_total",
				Help: "Total number of media uploads to the gateway",
			},
		),
		CampaignsStartedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "wablast_campaigns_started_total",
				Help: "Total number of campaigns started",
			},
		),
		CampaignsFailedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "wablast_campaigns_failed_total",
				Help: "Total number of campaigns that ended in error",
			},
		),
		CampaignActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "wablast_campaign_active",
				Help: "Whether a campaign is currently in flight (0 or 1)",
			},
		),
		PacingWaitSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "wablast_pacing_wait_seconds",
				Help:    "Distribution of pacing delays before each send",
				Buckets: []float64{1, 2.5, 5, 7.5, 10, 30, 60, 120},
			},
		),
		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wablast_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.MessagesSentTotal,
		m.MessagesFailedTotal,
		m.SendRetriesTotal,
		m.MediaUploadsTotal,
		m.CampaignsStartedTotal,
		m.CampaignsFailedTotal,
		m.CampaignActive,
		m.PacingWaitSeconds,
		m.APIRequestsTotal,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetGlobal sets the global metrics instance
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the global metrics instance (may be nil)
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// IncMessagesSent increments the delivered message counter
func IncMessagesSent() {
	if m := Global(); m != nil {
		m.MessagesSentTotal.Inc()
	}
}

// IncMessagesFailed increments the failed message counter
func IncMessagesFailed(errorKind string) {
	if m := Global(); m != nil {
		m.MessagesFailedTotal.WithLabelValues(errorKind).Inc()
	}
}

// IncSendRetries increments the retry counter
func IncSendRetries(reason string) {
	if m := Global(); m != nil {
		m.SendRetriesTotal.WithLabelValues(reason).Inc()
	}
}

// IncMediaUploads increments the media upload counter
func IncMediaUploads() {
	if m := Global(); m != nil {
		m.MediaUploadsTotal.Inc()
	}
}

// IncCampaignsStarted increments the campaign counter
func IncCampaignsStarted() {
	if m := Global(); m != nil {
		m.CampaignsStartedTotal.Inc()
	}
}

// IncCampaignsFailed increments the failed campaign counter
func IncCampaignsFailed() {
	if m := Global(); m != nil {
		m.CampaignsFailedTotal.Inc()
	}
}

// SetCampaignActive sets the active campaign gauge
func SetCampaignActive(active bool) {
	if m := Global(); m != nil {
		if active {
			m.CampaignActive.Set(1)
		} else {
			m.CampaignActive.Set(0)
		}
	}
}

// ObservePacingWait records one pacing delay
func ObservePacingWait(seconds float64) {
	if m := Global(); m != nil {
		m.PacingWaitSeconds.Observe(seconds)
	}
}

// IncAPIRequests increments the API request counter
func IncAPIRequests(method, path, status string) {
	if m := Global(); m != nil {
		m.APIRequestsTotal.WithLabelValues(method, path, status).Inc()
	}
}
