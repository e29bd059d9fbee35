package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// ErrDuplicate reports a unique-constraint violation on comment_id. The
// database constraint is the idempotency authority; callers treat this as
// "already ingested", not as a failure.
var ErrDuplicate = errors.New("store: duplicate comment id")

// Store wraps a SQL database holding tenant records and ingested comments.
type Store struct {
	db     *sql.DB
	driver string
}

// Open connects and ensures the schema exists. driver is "sqlite" or
// "postgres"; dsn is a file path or a connection string respectively.
func Open(driver, dsn string) (*Store, error) {
	var d *sql.DB
	var err error
	switch driver {
	case "", "sqlite":
		driver = "sqlite"
		d, err = sql.Open("sqlite", dsn)
		if err == nil {
			_, err = d.Exec(`PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;`)
		}
	case "postgres":
		d, err = sql.Open("postgres", dsn)
	default:
		return nil, fmt.Errorf("store: unknown driver %q", driver)
	}
	if err != nil {
		return nil, err
	}
	s := &Store{db: d, driver: driver}
	if err := s.migrate(); err != nil {
		_ = d.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	serial := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.driver == "postgres" {
		serial = "SERIAL PRIMARY KEY"
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS business_assets (
		  id TEXT PRIMARY KEY,
		  name TEXT NOT NULL DEFAULT '',
		  page_id TEXT NOT NULL UNIQUE,
		  page_token_encrypted TEXT NOT NULL,
		  active BOOLEAN NOT NULL DEFAULT TRUE
		)`,
		`CREATE TABLE IF NOT EXISTS comments (
		  id ` + serial + `,
		  platform TEXT NOT NULL,
		  comment_id TEXT NOT NULL UNIQUE,
		  post_id TEXT NOT NULL,
		  message TEXT NOT NULL DEFAULT '',
		  author_id TEXT NOT NULL DEFAULT '',
		  author_name TEXT NOT NULL DEFAULT '',
		  parent_comment_id TEXT,
		  created_time TEXT NOT NULL,
		  like_count INTEGER NOT NULL DEFAULT 0,
		  permalink TEXT,
		  status TEXT NOT NULL DEFAULT 'pending'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_comments_post ON comments(post_id)`,
	}
	for _, q := range stmts {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

// TenantRow is a tenant record as stored, credential still encrypted.
type TenantRow struct {
	AssetID        string
	Name           string
	PageID         string
	EncryptedToken string
}

// ListActiveTenants returns all active tenant rows.
func (s *Store) ListActiveTenants(ctx context.Context) ([]TenantRow, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, name, page_id, page_token_encrypted FROM business_assets WHERE active ORDER BY id`))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TenantRow
	for rows.Next() {
		var t TenantRow
		if err := rows.Scan(&t.AssetID, &t.Name, &t.PageID, &t.EncryptedToken); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpsertTenant inserts or updates a tenant row.
func (s *Store) UpsertTenant(ctx context.Context, t TenantRow, active bool) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO business_assets(id, name, page_id, page_token_encrypted, active)
		 VALUES(?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, page_id=excluded.page_id,
		   page_token_encrypted=excluded.page_token_encrypted, active=excluded.active`),
		t.AssetID, t.Name, t.PageID, t.EncryptedToken, active)
	return err
}

// CommentRecord is one row of the comments table.
type CommentRecord struct {
	Platform        string
	CommentID       string
	PostID          string
	Message         string
	AuthorID        string
	AuthorName      string
	ParentCommentID string // stored NULL when empty
	CreatedTime     string // RFC 3339
	LikeCount       int
	Permalink       string // stored NULL when empty
	Status          string
}

// InsertComment inserts a record in one atomic statement and returns its id.
// A unique violation on comment_id maps to ErrDuplicate.
func (s *Store) InsertComment(ctx context.Context, rec CommentRecord) (int64, error) {
	q := `INSERT INTO comments(platform, comment_id, post_id, message, author_id, author_name,
		parent_comment_id, created_time, like_count, permalink, status)
		VALUES(?,?,?,?,?,?,?,?,?,?,?)`
	args := []any{
		rec.Platform, rec.CommentID, rec.PostID, rec.Message, rec.AuthorID, rec.AuthorName,
		nullable(rec.ParentCommentID), rec.CreatedTime, rec.LikeCount, nullable(rec.Permalink), rec.Status,
	}
	if s.driver == "postgres" {
		var id int64
		err := s.db.QueryRowContext(ctx, s.rebind(q+` RETURNING id`), args...).Scan(&id)
		if err != nil {
			return 0, mapDuplicate(err)
		}
		return id, nil
	}
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, mapDuplicate(err)
	}
	return res.LastInsertId()
}

// CountComments returns the number of stored comments.
func (s *Store) CountComments(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM comments`).Scan(&n)
	return n, err
}

func mapDuplicate(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrDuplicate
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ErrDuplicate
	}
	return err
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *Store) rebind(q string) string {
	if s.driver != "postgres" {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
