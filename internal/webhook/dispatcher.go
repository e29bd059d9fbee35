package webhook

import (
	"context"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"pagepulse/internal/ingest"
	"pagepulse/internal/metrics"
	"pagepulse/internal/model"
	"pagepulse/internal/registry"
)

// Ingestor persists a comment event for a tenant.
type Ingestor interface {
	Ingest(ctx context.Context, tenant model.Tenant, ev model.CommentEvent) (ingest.Result, error)
}

// Dispatcher routes walked events to tenants and drains delivery bodies
// asynchronously. The HTTP layer acknowledges first and enqueues; the worker
// owns all processing, so a slow store never delays the 200.
type Dispatcher struct {
	reg     *registry.Registry
	ing     Ingestor
	queue   chan []byte
	limiter *rate.Limiter
}

func NewDispatcher(reg *registry.Registry, ing Ingestor, queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Dispatcher{
		reg:     reg,
		ing:     ing,
		queue:   make(chan []byte, queueSize),
		limiter: newDefaultLimiter(),
	}
}

// Enqueue hands a delivery body to the worker without blocking. A full queue
// drops the body; the sender's retry-on-timeout is the backpressure.
func (d *Dispatcher) Enqueue(body []byte) {
	select {
	case d.queue <- body:
	default:
		metrics.IncDropped("queue_full")
		logrus.Warn("webhook queue full, dropping delivery")
	}
}

// Run drains the queue until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			logrus.Info("webhook dispatcher stopped")
			return
		case body := <-d.queue:
			d.Process(ctx, body)
		}
	}
}

// Process walks one delivery body and dispatches each surviving event.
func (d *Dispatcher) Process(ctx context.Context, body []byte) {
	for _, pc := range Walk(body) {
		if err := d.limiter.Wait(ctx); err != nil {
			return
		}
		d.Dispatch(ctx, pc.PageID, pc.Event)
	}
}

// Dispatch routes a single event. Unknown pages and non-add verbs are
// expected and dropped without error.
func (d *Dispatcher) Dispatch(ctx context.Context, pageID string, ev model.CommentEvent) {
	tenant, ok := d.reg.LookupByPageID(pageID)
	if !ok {
		metrics.IncDropped("unknown_page")
		logrus.WithField("page_id", pageID).Debug("dropping event for unknown page")
		return
	}
	if ev.Verb != "add" {
		metrics.IncDropped("verb")
		logrus.WithFields(logrus.Fields{"verb": ev.Verb, "comment_id": ev.CommentID}).
			Debug("dropping non-add comment event")
		return
	}
	res, err := d.ing.Ingest(ctx, tenant, ev)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"asset_id":   tenant.AssetID,
			"comment_id": ev.CommentID,
			"error":      err.Error(),
		}).Error("comment ingestion failed")
		return
	}
	if res.Status == ingest.StatusDuplicate {
		logrus.WithField("comment_id", ev.CommentID).Debug("duplicate comment delivery absorbed")
	}
}
