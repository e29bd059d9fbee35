package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	WebhookDeliveries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pagepulse_webhook_deliveries_total",
		Help: "Total webhook POST deliveries received",
	})
	CommentsIngested = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pagepulse_comments_ingested_total",
		Help: "Total comments persisted",
	})
	CommentsDuplicate = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pagepulse_comments_duplicate_total",
		Help: "Total duplicate comment deliveries absorbed",
	})
	IngestErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pagepulse_ingest_errors_total",
		Help: "Total ingestion failures",
	})
	IngestDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pagepulse_ingest_duration_seconds",
		Help:    "Comment ingestion duration seconds",
		Buckets: prometheus.DefBuckets,
	})
	EventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pagepulse_events_dropped_total",
		Help: "Webhook events dropped before ingestion",
	}, []string{"reason"})
	RefreshRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pagepulse_refresh_requests_total",
		Help: "Refresh trigger requests by kind and outcome",
	}, []string{"kind", "outcome"})
	TenantsLoaded = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pagepulse_tenants_loaded",
		Help: "Tenants in the active registry snapshot",
	})
	TenantDecryptFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pagepulse_tenant_decrypt_failures_total",
		Help: "Tenant credentials that failed to decrypt during load",
	})
)

func init() {
	prometheus.MustRegister(
		WebhookDeliveries, CommentsIngested, CommentsDuplicate, IngestErrors,
		IngestDuration, EventsDropped, RefreshRequests, TenantsLoaded,
		TenantDecryptFailures,
	)
}

// ObserveIngestDuration records one ingestion duration.
func ObserveIngestDuration(start time.Time) {
	IngestDuration.Observe(time.Since(start).Seconds())
}

// IncDropped increments the dropped-event counter for a reason.
func IncDropped(reason string) { EventsDropped.WithLabelValues(reason).Inc() }

// IncRefresh increments the refresh counter for a kind/outcome pair.
func IncRefresh(kind, outcome string) { RefreshRequests.WithLabelValues(kind, outcome).Inc() }
