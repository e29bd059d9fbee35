package server

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"pagepulse/internal/config"
	"pagepulse/internal/metrics"
	"pagepulse/internal/refresh"
	"pagepulse/internal/registry"
	"pagepulse/internal/webhook"
)

const maxDeliveryBytes = 1 << 20

// Server owns the HTTP surface: webhook verification and intake, health,
// registry reload, and the insights refresh triggers.
type Server struct {
	cfg     config.Config
	reg     *registry.Registry
	disp    *webhook.Dispatcher
	orch    *refresh.Orchestrator
	started time.Time
}

func New(cfg config.Config, reg *registry.Registry, disp *webhook.Dispatcher, orch *refresh.Orchestrator) *Server {
	return &Server{cfg: cfg, reg: reg, disp: disp, orch: orch, started: time.Now()}
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/webhook", s.handleVerify).Methods(http.MethodGet)
	r.HandleFunc("/webhook", s.handleDelivery).Methods(http.MethodPost)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/reload", s.handleReload).Methods(http.MethodGet)
	r.HandleFunc("/insights/refresh-account", s.handleRefresh(refresh.KindAccount)).Methods(http.MethodPost)
	r.HandleFunc("/insights/refresh-posts", s.handleRefresh(refresh.KindPosts)).Methods(http.MethodPost)
	r.HandleFunc("/insights/refresh-all", s.handleRefresh(refresh.KindAll)).Methods(http.MethodPost)
	r.HandleFunc("/insights/status", s.handleStatus).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}

// handleVerify answers the platform's subscription handshake.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")
	if mode == "subscribe" && s.cfg.Webhook.VerifyToken != "" && token == s.cfg.Webhook.VerifyToken {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(challenge))
		return
	}
	logrus.WithField("mode", mode).Warn("webhook verification rejected")
	w.WriteHeader(http.StatusForbidden)
}

// handleDelivery acknowledges immediately and hands the body to the async
// dispatcher. Processing outcomes never change the response; the sender
// treats anything but a fast 200 as a failed delivery and retries.
func (s *Server) handleDelivery(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxDeliveryBytes))
	if err != nil {
		body = nil
	}
	metrics.WebhookDeliveries.Inc()
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("EVENT_RECEIVED"))
	s.disp.Enqueue(body)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"tenants":        s.reg.Count(),
		"uptime_seconds": int(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	n, err := s.reg.Reload(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tenants": n})
}

type refreshRequest struct {
	BusinessAssetID string `json:"business_asset_id"`
	Limit           int    `json:"limit"`
	DaysBack        int    `json:"days_back"`
}

func (s *Server) handleRefresh(kind refresh.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req refreshRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
			return
		}
		if req.BusinessAssetID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "business_asset_id is required"})
			return
		}
		out := s.orch.Request(r.Context(), req.BusinessAssetID, kind, refresh.Params{
			Limit:    req.Limit,
			DaysBack: req.DaysBack,
		})
		switch out.Status {
		case refresh.StatusDisabled:
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "insights refresh is disabled"})
		case refresh.StatusRateLimited:
			writeJSON(w, http.StatusTooManyRequests, map[string]any{"seconds_until_allowed": out.SecondsRemaining})
		case refresh.StatusFailed:
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": out.Err.Error(), "output": out.Output})
		default:
			writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "output": out.Output})
		}
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cooldowns := map[string]string{}
	for k, v := range s.orch.Cooldowns() {
		cooldowns[k] = v.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":          s.orch.Enabled(),
		"cooldown_minutes": int(s.orch.Cooldown().Minutes()),
		"cooldowns":        cooldowns,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
