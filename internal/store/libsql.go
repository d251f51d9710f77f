package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/canvakit/graphsync/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded
// SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns
// a Store. The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "open libsql: %v", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Documents ---

func (s *LibSQLStore) GetDocument(ctx context.Context, resourceKey string) (*DocumentRecord, error) {
	rec := &DocumentRecord{}
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT resource_key, kind, body, revision, updated_at FROM documents WHERE resource_key = ?`, resourceKey,
	).Scan(&rec.ResourceKey, &rec.Kind, &body, &rec.Revision, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("document", resourceKey)
	}
	if err != nil {
		return nil, err
	}
	rec.Body = json.RawMessage(body)
	return rec, nil
}

func (s *LibSQLStore) PutDocument(ctx context.Context, resourceKey, kind string, body json.RawMessage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (resource_key, kind, body, revision, updated_at) VALUES (?, ?, ?, 1, ?)
		 ON CONFLICT(resource_key) DO UPDATE SET
		   body=excluded.body, kind=excluded.kind, revision=documents.revision+1, updated_at=excluded.updated_at`,
		resourceKey, kind, string(body), time.Now().UTC(),
	)
	return err
}

func (s *LibSQLStore) DeleteDocument(ctx context.Context, resourceKey string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE resource_key = ?`, resourceKey)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "document", resourceKey)
}

func (s *LibSQLStore) ListDocumentKeys(ctx context.Context, kind string) ([]string, error) {
	query := `SELECT resource_key FROM documents`
	var args []any
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY resource_key`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// --- Users ---

func (s *LibSQLStore) GetUser(ctx context.Context, id string) (*User, error) {
	u := &User{}
	var name sql.NullString
	var lastSeen sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, status, created_at, last_seen_at FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &name, &u.Status, &u.CreatedAt, &lastSeen)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("user", id)
	}
	if err != nil {
		return nil, err
	}
	u.Name = name.String
	if lastSeen.Valid {
		u.LastSeenAt = &lastSeen.Time
	}
	return u, nil
}

func (s *LibSQLStore) UpsertUser(ctx context.Context, user *User) error {
	status := user.Status
	if status == "" {
		status = UserStatusActive
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, name, status, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name`,
		user.ID, nullStr(user.Name), status, timeOrNow(user.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) UpdateUserSeen(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET last_seen_at = CURRENT_TIMESTAMP WHERE id = ?`, id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "user", id)
}

func (s *LibSQLStore) SetUserStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET status = ? WHERE id = ?`, status, id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "user", id)
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.SyncError {
	return schema.NewErrorf(schema.ErrCodeStore, "%s %q not found", resource, id).
		WithDetails(map[string]any{"not_found": true})
}

// IsNotFound reports whether err is a store miss (as opposed to an I/O
// or corruption failure).
func IsNotFound(err error) bool {
	se, ok := err.(*schema.SyncError)
	if !ok {
		return false
	}
	v, ok := se.Details["not_found"].(bool)
	return ok && v
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
