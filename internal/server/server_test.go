package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pagepulse/internal/config"
	"pagepulse/internal/ingest"
	"pagepulse/internal/refresh"
	"pagepulse/internal/registry"
	"pagepulse/internal/secrets"
	"pagepulse/internal/store"
	"pagepulse/internal/webhook"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

type fakeRunner struct {
	output string
	err    error
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	return f.output, f.err
}

type fixture struct {
	srv   *Server
	store *store.Store
	disp  *webhook.Dispatcher
}

func newFixture(t *testing.T, refreshCfg config.RefreshConfig, runner refresh.Runner) fixture {
	t.Helper()
	st, err := store.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	enc, err := secrets.Encrypt("page-token", testKey)
	require.NoError(t, err)
	require.NoError(t, st.UpsertTenant(context.Background(), store.TenantRow{
		AssetID: "a1", Name: "Shop", PageID: "page1", EncryptedToken: enc,
	}, true))

	reg := registry.New(st, testKey, nil)
	_, err = reg.Load(context.Background())
	require.NoError(t, err)

	disp := webhook.NewDispatcher(reg, ingest.New(st), 32)
	orch := refresh.New(refreshCfg, runner, nil)
	cfg := config.Default()
	cfg.Webhook.VerifyToken = "SECRET"
	return fixture{srv: New(cfg, reg, disp, orch), store: st, disp: disp}
}

func defaultFixture(t *testing.T) fixture {
	return newFixture(t, config.RefreshConfig{Enabled: true, CooldownMinutes: 5}, &fakeRunner{output: "done\n"})
}

func TestVerifyHandshake(t *testing.T) {
	fx := defaultFixture(t)
	router := fx.srv.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token=SECRET&hub.challenge=123", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "123", rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token=WRONG&hub.challenge=123", nil))
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/webhook?hub.mode=unsubscribe&hub.verify_token=SECRET&hub.challenge=123", nil))
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDeliveryAlwaysAccepted(t *testing.T) {
	fx := defaultFixture(t)
	router := fx.srv.Router()
	for _, body := range []string{`not json at all`, `{}`, `{"object":"user"}`} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body)))
		require.Equal(t, http.StatusOK, rec.Code, "body %q", body)
		assert.Equal(t, "EVENT_RECEIVED", rec.Body.String())
	}
}

func TestDeliveryIngestsAsync(t *testing.T) {
	fx := defaultFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fx.disp.Run(ctx)

	body := `{"object":"page","entry":[{"id":"page1","changes":[
	  {"field":"feed","value":{"item":"comment","verb":"add","comment_id":"c1","post_id":"p1","message":"hi","from":{"id":"u1","name":"Ana"}}}
	]}]}`
	rec := httptest.NewRecorder()
	fx.srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool {
		n, err := fx.store.CountComments(context.Background())
		return err == nil && n == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHealthAndReload(t *testing.T) {
	fx := defaultFixture(t)
	router := fx.srv.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var health map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health["status"])
	assert.EqualValues(t, 1, health["tenants"])

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reload", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var reload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reload))
	assert.EqualValues(t, 1, reload["tenants"])
}

func TestRefreshEndpointStatuses(t *testing.T) {
	fx := defaultFixture(t)
	router := fx.srv.Router()

	// missing tenant id
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/insights/refresh-posts", strings.NewReader(`{}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// first trigger succeeds
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/insights/refresh-posts",
		strings.NewReader(`{"business_asset_id":"a1","limit":10}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	var ok map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ok))
	assert.Equal(t, "done\n", ok["output"])

	// immediate retry is rate limited
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/insights/refresh-posts",
		strings.NewReader(`{"business_asset_id":"a1"}`)))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	var limited map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &limited))
	assert.InDelta(t, 300, limited["seconds_until_allowed"], 2)
}

func TestRefreshDisabled(t *testing.T) {
	fx := newFixture(t, config.RefreshConfig{Enabled: false, CooldownMinutes: 5}, &fakeRunner{})
	rec := httptest.NewRecorder()
	fx.srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/insights/refresh-all",
		strings.NewReader(`{"business_asset_id":"a1"}`)))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRefreshJobFailure(t *testing.T) {
	fx := newFixture(t, config.RefreshConfig{Enabled: true, CooldownMinutes: 5},
		&fakeRunner{output: "stderr dump", err: errors.New("exit status 2")})
	rec := httptest.NewRecorder()
	fx.srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/insights/refresh-account",
		strings.NewReader(`{"business_asset_id":"a1"}`)))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "stderr dump", body["output"])
	assert.Contains(t, body["error"], "exit status 2")
}

func TestInsightsStatus(t *testing.T) {
	fx := defaultFixture(t)
	router := fx.srv.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/insights/refresh-posts",
		strings.NewReader(`{"business_asset_id":"a1"}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/insights/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var status struct {
		Enabled         bool              `json:"enabled"`
		CooldownMinutes int               `json:"cooldown_minutes"`
		Cooldowns       map[string]string `json:"cooldowns"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.Enabled)
	assert.Equal(t, 5, status.CooldownMinutes)
	assert.Contains(t, status.Cooldowns, "a1:posts")
}
