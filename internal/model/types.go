package model

import "time"

// Tenant is one business asset loaded from the store with its page token
// already decrypted. Instances are immutable snapshot entries.
type Tenant struct {
	AssetID   string
	Name      string
	PageID    string
	PageToken string
}

// CommentEvent is a normalized feed-comment change from a webhook delivery.
type CommentEvent struct {
	CommentID       string
	PostID          string
	Message         string
	Verb            string // add, edit, remove
	AuthorID        string
	AuthorName      string
	ParentCommentID string // empty unless the comment is a reply
	Permalink       string
	CreatedTime     time.Time // zero if the provider omitted it
}
