package store

import (
	"context"
	"testing"
	"time"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open("sqlite", ":memory:")
	if err != nil { t.Fatal(err) }
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleComment(id string) CommentRecord {
	return CommentRecord{
		Platform:    "facebook",
		CommentID:   id,
		PostID:      "page_post_1",
		Message:     "great post",
		AuthorID:    "u1",
		AuthorName:  "Ana",
		CreatedTime: time.Now().UTC().Format(time.RFC3339),
		Status:      "pending",
	}
}

func TestInsertCommentAndDuplicate(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	id, err := s.InsertComment(ctx, sampleComment("c1"))
	if err != nil { t.Fatal(err) }
	if id <= 0 { t.Fatalf("expected positive id, got %d", id) }
	if _, err := s.InsertComment(ctx, sampleComment("c1")); err != ErrDuplicate {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	n, err := s.CountComments(ctx)
	if err != nil || n != 1 { t.Fatalf("count mismatch: %v %d", err, n) }
}

func TestNullableFields(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	rec := sampleComment("c2")
	rec.ParentCommentID = "c1"
	rec.Permalink = "https://facebook.com/c2"
	if _, err := s.InsertComment(ctx, rec); err != nil { t.Fatal(err) }
	// empty optional fields insert as NULL without error
	if _, err := s.InsertComment(ctx, sampleComment("c3")); err != nil { t.Fatal(err) }
}

func TestListActiveTenants(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	if err := s.UpsertTenant(ctx, TenantRow{AssetID: "a1", Name: "Shop", PageID: "p1", EncryptedToken: "tok1"}, true); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertTenant(ctx, TenantRow{AssetID: "a2", Name: "Cafe", PageID: "p2", EncryptedToken: "tok2"}, false); err != nil {
		t.Fatal(err)
	}
	rows, err := s.ListActiveTenants(ctx)
	if err != nil { t.Fatal(err) }
	if len(rows) != 1 || rows[0].PageID != "p1" {
		t.Fatalf("expected only active tenant p1, got %+v", rows)
	}
	// upsert flips the inactive tenant on
	if err := s.UpsertTenant(ctx, TenantRow{AssetID: "a2", Name: "Cafe", PageID: "p2", EncryptedToken: "tok2b"}, true); err != nil {
		t.Fatal(err)
	}
	rows, err = s.ListActiveTenants(ctx)
	if err != nil { t.Fatal(err) }
	if len(rows) != 2 || rows[1].EncryptedToken != "tok2b" {
		t.Fatalf("expected updated tenant row, got %+v", rows)
	}
}

func TestRebind(t *testing.T) {
	s := &Store{driver: "postgres"}
	got := s.rebind(`INSERT INTO t(a,b) VALUES(?,?)`)
	if got != `INSERT INTO t(a,b) VALUES($1,$2)` {
		t.Fatalf("rebind mismatch: %s", got)
	}
}
