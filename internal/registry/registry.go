package registry

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"pagepulse/internal/metrics"
	"pagepulse/internal/model"
	"pagepulse/internal/secrets"
	"pagepulse/internal/store"
)

// Alerter receives operational alerts; may be nil.
type Alerter interface {
	Alert(title, text string)
}

// Registry caches active tenants keyed by platform page id. Lookups read an
// immutable snapshot; Load installs a replacement with one pointer swap, so
// concurrent readers never see a partially built cache.
type Registry struct {
	store   *store.Store
	key     []byte
	alerter Alerter
	snap    atomic.Pointer[snapshot]
}

type snapshot struct {
	byPage   map[string]model.Tenant
	loadedAt time.Time
}

func New(s *store.Store, key []byte, alerter Alerter) *Registry {
	r := &Registry{store: s, key: key, alerter: alerter}
	r.snap.Store(&snapshot{byPage: map[string]model.Tenant{}})
	return r
}

// Load reads all active tenants, decrypts their page tokens, and swaps in a
// fresh snapshot. A tenant whose token fails to decrypt is excluded and
// reported; the load itself still succeeds.
func (r *Registry) Load(ctx context.Context) (int, error) {
	rows, err := r.store.ListActiveTenants(ctx)
	if err != nil {
		return 0, err
	}
	byPage := make(map[string]model.Tenant, len(rows))
	for _, row := range rows {
		token, err := secrets.Decrypt(row.EncryptedToken, r.key)
		if err != nil {
			metrics.TenantDecryptFailures.Inc()
			logrus.WithFields(logrus.Fields{"asset_id": row.AssetID, "error": err.Error()}).
				Warn("tenant excluded: token decrypt failed")
			if r.alerter != nil {
				r.alerter.Alert("tenant decrypt failure", "asset "+row.AssetID+": "+err.Error())
			}
			continue
		}
		byPage[row.PageID] = model.Tenant{
			AssetID:   row.AssetID,
			Name:      row.Name,
			PageID:    row.PageID,
			PageToken: token,
		}
	}
	r.snap.Store(&snapshot{byPage: byPage, loadedAt: time.Now().UTC()})
	metrics.TenantsLoaded.Set(float64(len(byPage)))
	logrus.WithField("tenants", len(byPage)).Info("tenant registry loaded")
	return len(byPage), nil
}

// Reload is Load; the previous snapshot stays live until the swap.
func (r *Registry) Reload(ctx context.Context) (int, error) { return r.Load(ctx) }

// LookupByPageID returns the tenant owning a platform page id.
func (r *Registry) LookupByPageID(pageID string) (model.Tenant, bool) {
	t, ok := r.snap.Load().byPage[pageID]
	return t, ok
}

func (r *Registry) Count() int { return len(r.snap.Load().byPage) }

func (r *Registry) LoadedAt() time.Time { return r.snap.Load().loadedAt }
