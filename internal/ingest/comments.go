package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"pagepulse/internal/metrics"
	"pagepulse/internal/model"
	"pagepulse/internal/store"
)

const platform = "facebook"

type Status string

const (
	StatusCreated   Status = "created"
	StatusDuplicate Status = "duplicate"
)

// Result reports what a single ingestion did. Duplicates are a success path:
// at-least-once delivery makes them routine.
type Result struct {
	Status   Status
	RecordID int64
}

// Ingestor writes comment events into the store.
type Ingestor struct {
	store *store.Store
}

func New(s *store.Store) *Ingestor { return &Ingestor{store: s} }

// Ingest persists one comment event as a single atomic insert. The store's
// unique constraint on comment_id decides idempotency; no in-memory dedup.
func (i *Ingestor) Ingest(ctx context.Context, tenant model.Tenant, ev model.CommentEvent) (Result, error) {
	start := time.Now()
	created := ev.CreatedTime
	if created.IsZero() {
		created = time.Now().UTC()
	}
	rec := store.CommentRecord{
		Platform:        platform,
		CommentID:       ev.CommentID,
		PostID:          ev.PostID,
		Message:         ev.Message,
		AuthorID:        ev.AuthorID,
		AuthorName:      ev.AuthorName,
		ParentCommentID: ev.ParentCommentID,
		CreatedTime:     created.Format(time.RFC3339),
		LikeCount:       0,
		Permalink:       ev.Permalink,
		Status:          "pending",
	}
	id, err := i.store.InsertComment(ctx, rec)
	if err == store.ErrDuplicate {
		metrics.CommentsDuplicate.Inc()
		return Result{Status: StatusDuplicate}, nil
	}
	if err != nil {
		metrics.IngestErrors.Inc()
		return Result{}, fmt.Errorf("ingest comment %s: %w", ev.CommentID, err)
	}
	metrics.CommentsIngested.Inc()
	metrics.ObserveIngestDuration(start)
	logrus.WithFields(logrus.Fields{
		"asset_id":   tenant.AssetID,
		"comment_id": ev.CommentID,
		"record_id":  id,
	}).Info("comment ingested")
	return Result{Status: StatusCreated, RecordID: id}, nil
}
