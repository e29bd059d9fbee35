package webhook

import (
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"pagepulse/internal/metrics"
	"pagepulse/internal/model"
)

// Inbound envelope shape: {object, entry:[{id, changes:[{field, value}]}]}.
// Only object=="page", field=="feed", value.item=="comment" survive the walk.

type notification struct {
	Object string  `json:"object"`
	Entry  []entry `json:"entry"`
}

type entry struct {
	ID      string   `json:"id"`
	Time    int64    `json:"time"`
	Changes []change `json:"changes"`
}

type change struct {
	Field string `json:"field"`
	Value value  `json:"value"`
}

type value struct {
	Item         string `json:"item"`
	Verb         string `json:"verb"`
	CommentID    string `json:"comment_id"`
	PostID       string `json:"post_id"`
	ParentID     string `json:"parent_id"`
	Message      string `json:"message"`
	From         author `json:"from"`
	CreatedTime  int64  `json:"created_time"`
	PermalinkURL string `json:"permalink_url"`
}

type author struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// PageComment pairs a surviving comment event with its routing key.
type PageComment struct {
	PageID string
	Event  model.CommentEvent
}

// Walk decomposes a raw notification body into dispatchable comment events,
// preserving entry and change order. Malformed input yields an empty slice;
// it is logged and counted, never surfaced as an error.
func Walk(raw []byte) []PageComment {
	var n notification
	if err := json.Unmarshal(raw, &n); err != nil {
		metrics.IncDropped("malformed")
		logrus.WithField("error", err.Error()).Warn("discarding malformed webhook payload")
		return nil
	}
	if n.Object != "page" {
		metrics.IncDropped("wrong_object")
		logrus.WithField("object", n.Object).Debug("discarding non-page notification")
		return nil
	}
	var out []PageComment
	for _, e := range n.Entry {
		for _, c := range e.Changes {
			if c.Field != "feed" || c.Value.Item != "comment" {
				continue
			}
			v := c.Value
			ev := model.CommentEvent{
				CommentID:  v.CommentID,
				PostID:     v.PostID,
				Message:    v.Message,
				Verb:       v.Verb,
				AuthorID:   v.From.ID,
				AuthorName: v.From.Name,
				Permalink:  v.PermalinkURL,
			}
			// parent_id repeats the post id for top-level comments; only a
			// differing value marks a reply.
			if v.ParentID != "" && v.ParentID != v.PostID {
				ev.ParentCommentID = v.ParentID
			}
			if v.CreatedTime > 0 {
				ev.CreatedTime = time.Unix(v.CreatedTime, 0).UTC()
			}
			out = append(out, PageComment{PageID: e.ID, Event: ev})
		}
	}
	return out
}
