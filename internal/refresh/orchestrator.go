package refresh

import (
	"context"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"pagepulse/internal/config"
	"pagepulse/internal/metrics"
)

type Kind string

const (
	KindAccount Kind = "account"
	KindPosts   Kind = "posts"
	KindAll     Kind = "all"
)

// Params carries kind-specific optional knobs for the external job.
type Params struct {
	Limit    int
	DaysBack int
}

type Status string

const (
	StatusStarted     Status = "started"
	StatusRateLimited Status = "rate_limited"
	StatusDisabled    Status = "disabled"
	StatusFailed      Status = "failed"
)

// Outcome is the structured result of a refresh request. Rate limiting and
// the disabled flag are outcomes, not errors.
type Outcome struct {
	Status           Status
	SecondsRemaining int
	Output           string
	Err              error
}

// Runner executes the external refresh job.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// Alerter receives operational alerts; may be nil.
type Alerter interface {
	Alert(title, text string)
}

// Orchestrator gates external refresh jobs behind a per-(tenant, kind)
// cooldown. State is process-local and resets on restart.
type Orchestrator struct {
	mu       sync.Mutex
	last     map[string]time.Time
	cooldown time.Duration
	enabled  bool
	command  string
	runner   Runner
	alerter  Alerter
	now      func() time.Time
}

func New(cfg config.RefreshConfig, runner Runner, alerter Alerter) *Orchestrator {
	cooldown := time.Duration(cfg.CooldownMinutes) * time.Minute
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}
	command := cfg.Command
	if command == "" {
		command = "insights-sync"
	}
	return &Orchestrator{
		last:     map[string]time.Time{},
		cooldown: cooldown,
		enabled:  cfg.Enabled,
		command:  command,
		runner:   runner,
		alerter:  alerter,
		now:      time.Now,
	}
}

func (o *Orchestrator) Enabled() bool { return o.enabled }

func (o *Orchestrator) Cooldown() time.Duration { return o.cooldown }

// Cooldowns returns a copy of the in-memory last-trigger map.
func (o *Orchestrator) Cooldowns() map[string]time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]time.Time, len(o.last))
	for k, v := range o.last {
		out[k] = v
	}
	return out
}

// Request gates and triggers a refresh. For kind "all" both sub-kinds are
// gated together: if either is cooling, neither triggers and the larger
// remaining time is reported.
func (o *Orchestrator) Request(ctx context.Context, assetID string, kind Kind, p Params) Outcome {
	if !o.enabled {
		metrics.IncRefresh(string(kind), string(StatusDisabled))
		return Outcome{Status: StatusDisabled}
	}
	kinds := []Kind{kind}
	if kind == KindAll {
		kinds = []Kind{KindAccount, KindPosts}
	}

	// Check-then-set in one critical section; last-trigger is recorded
	// before the job runs so a slow job cannot be double-triggered.
	o.mu.Lock()
	now := o.now().UTC()
	remaining := 0
	for _, k := range kinds {
		if last, ok := o.last[cooldownKey(assetID, k)]; ok {
			if elapsed := now.Sub(last); elapsed < o.cooldown {
				if r := int(math.Ceil((o.cooldown - elapsed).Seconds())); r > remaining {
					remaining = r
				}
			}
		}
	}
	if remaining > 0 {
		o.mu.Unlock()
		metrics.IncRefresh(string(kind), string(StatusRateLimited))
		return Outcome{Status: StatusRateLimited, SecondsRemaining: remaining}
	}
	for _, k := range kinds {
		o.last[cooldownKey(assetID, k)] = now
	}
	o.mu.Unlock()

	var output string
	for _, k := range kinds {
		out, err := o.runner.Run(ctx, o.command, buildArgs(k, assetID, p)...)
		output += out
		if err != nil {
			metrics.IncRefresh(string(kind), string(StatusFailed))
			logrus.WithFields(logrus.Fields{
				"asset_id": assetID,
				"kind":     string(k),
				"error":    err.Error(),
			}).Error("refresh job failed")
			if o.alerter != nil {
				o.alerter.Alert("refresh job failed", "asset "+assetID+" kind "+string(k)+": "+err.Error())
			}
			return Outcome{Status: StatusFailed, Output: output, Err: err}
		}
	}
	metrics.IncRefresh(string(kind), string(StatusStarted))
	logrus.WithFields(logrus.Fields{"asset_id": assetID, "kind": string(kind)}).Info("refresh job completed")
	return Outcome{Status: StatusStarted, Output: output}
}

func cooldownKey(assetID string, kind Kind) string { return assetID + ":" + string(kind) }

func buildArgs(kind Kind, assetID string, p Params) []string {
	args := []string{string(kind), "--asset", assetID}
	if p.Limit > 0 {
		args = append(args, "--limit", strconv.Itoa(p.Limit))
	}
	if p.DaysBack > 0 {
		args = append(args, "--days-back", strconv.Itoa(p.DaysBack))
	}
	return args
}
