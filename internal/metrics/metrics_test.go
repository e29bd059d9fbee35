package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func TestMetricsExposure(t *testing.T) {
	WebhookDeliveries.Inc()
	CommentsIngested.Inc()
	CommentsDuplicate.Inc()
	IncDropped("unknown_page")
	IncRefresh("posts", "started")
	ObserveIngestDuration(time.Now().Add(-50 * time.Millisecond))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status: %d", rec.Code)
	}
	body := rec.Body.String()
	for _, m := range []string{
		"pagepulse_webhook_deliveries_total",
		"pagepulse_comments_ingested_total",
		"pagepulse_comments_duplicate_total",
		"pagepulse_events_dropped_total",
		"pagepulse_refresh_requests_total",
		"pagepulse_ingest_duration_seconds",
	} {
		if !strings.Contains(body, m) {
			t.Fatalf("expected metric %s in body", m)
		}
	}
}
