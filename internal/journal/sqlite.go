package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/storysync/internal/op"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema
// 1 - Added scope/order index on pending_operations
const currentSchemaVersion = 1

// Store is the SQLite journal.
type Store struct {
	db *sql.DB
}

// OpenStore creates or opens a journal database at path (":memory:" works).
// Applies pragmas and migrations; safe to call on an existing file.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open journal database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to journal database: %w", err)
	}

	// SQLite has a single writer; one connection also keeps :memory: alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append inserts operations, ignoring IDs already present.
func (s *Store) Append(ctx context.Context, ops ...op.Operation) error {
	if len(ops) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append journal: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO pending_operations (id, story_id, chapter_id, kind, ts, payload)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("append journal: %w", err)
	}
	defer stmt.Close()

	for _, o := range ops {
		payload, err := op.Encode(o)
		if err != nil {
			return fmt.Errorf("append journal: %w", err)
		}
		id, err := op.ID(o)
		if err != nil {
			return fmt.Errorf("append journal: %w", err)
		}
		h := o.Head()
		if _, err := stmt.ExecContext(ctx, id, h.StoryID, h.ChapterID, o.Kind().String(), h.Timestamp, string(payload)); err != nil {
			return fmt.Errorf("append journal: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append journal: %w", err)
	}
	return nil
}

// Remove deletes operations by ID.
func (s *Store) Remove(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := "DELETE FROM pending_operations WHERE id IN (" + placeholders + ")"
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("remove journal entries: %w", err)
	}
	return nil
}

// Pending returns one chapter's operations ordered by timestamp, then seq.
func (s *Store) Pending(ctx context.Context, scope op.Scope) ([]op.Operation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM pending_operations
		WHERE story_id = ? AND chapter_id = ?
		ORDER BY ts ASC, seq ASC
	`, scope.StoryID, scope.ChapterID)
	if err != nil {
		return nil, fmt.Errorf("read pending: %w", err)
	}
	defer rows.Close()

	var ops []op.Operation
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("read pending: %w", err)
		}
		o, err := op.Decode([]byte(payload))
		if err != nil {
			return nil, fmt.Errorf("read pending: %w", err)
		}
		ops = append(ops, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read pending: %w", err)
	}
	return ops, nil
}

// Scopes lists chapters with pending operations, sorted.
func (s *Store) Scopes(ctx context.Context) ([]op.Scope, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT story_id, chapter_id FROM pending_operations
		ORDER BY story_id, chapter_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list pending scopes: %w", err)
	}
	defer rows.Close()

	var scopes []op.Scope
	for rows.Next() {
		var sc op.Scope
		if err := rows.Scan(&sc.StoryID, &sc.ChapterID); err != nil {
			return nil, fmt.Errorf("list pending scopes: %w", err)
		}
		scopes = append(scopes, sc)
	}
	return scopes, rows.Err()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	if err := runMigrations(db); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// runMigrations applies incremental migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// migrateToV1 adds the index Pending reads through.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_pending_scope_order
		ON pending_operations(story_id, chapter_id, ts, seq)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}
