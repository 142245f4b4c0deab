// Package store keeps backups of unsaved documents in a SQLite database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// timeLayout is fixed width so created_at sorts as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// ErrNotFound is returned when a backup id is unknown.
var ErrNotFound = errors.New("backup not found")

// Backup is one stored snapshot of a document.
type Backup struct {
	ID      string
	URI     string
	Data    []byte
	Created time.Time
}

// BackupStore persists backups.
type BackupStore struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the database at path. The parent directory is
// created if needed. ":memory:" opens a private in-memory database.
func Open(path string) (*BackupStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// one connection keeps an in-memory database alive and serializes writers
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &BackupStore{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

func (s *BackupStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS backups (
		id TEXT PRIMARY KEY,
		uri TEXT NOT NULL,
		data BLOB NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_backups_uri ON backups(uri, created_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close releases the database.
func (s *BackupStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Save stores b. A missing id is generated and a zero Created is set to now.
// Saving an existing id replaces it.
func (s *BackupStore) Save(ctx context.Context, b Backup) (Backup, error) {
	if b.URI == "" {
		return Backup{}, errors.New("backup uri is required")
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.Created.IsZero() {
		b.Created = s.now()
	}
	b.Created = b.Created.UTC()

	query := `
	INSERT INTO backups (id, uri, data, created_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		uri = excluded.uri,
		data = excluded.data,
		created_at = excluded.created_at
	`
	if _, err := s.db.ExecContext(ctx, query, b.ID, b.URI, b.Data, b.Created.Format(timeLayout)); err != nil {
		return Backup{}, fmt.Errorf("save backup: %w", err)
	}
	return b, nil
}

// Load returns the backup with the given id.
func (s *BackupStore) Load(ctx context.Context, id string) (Backup, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, uri, data, created_at FROM backups WHERE id = ?`, id)
	b, err := scanBackup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Backup{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Backup{}, fmt.Errorf("load backup: %w", err)
	}
	return b, nil
}

// Delete removes the backup. Deleting an unknown id is not an error.
func (s *BackupStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM backups WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete backup: %w", err)
	}
	return nil
}

// List returns the backups of uri, newest first. An empty uri lists all.
func (s *BackupStore) List(ctx context.Context, uri string) ([]Backup, error) {
	query := `SELECT id, uri, data, created_at FROM backups`
	var args []any
	if uri != "" {
		query += ` WHERE uri = ?`
		args = append(args, uri)
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}
	defer rows.Close()

	var backups []Backup
	for rows.Next() {
		b, err := scanBackup(rows)
		if err != nil {
			return nil, fmt.Errorf("list backups: %w", err)
		}
		backups = append(backups, b)
	}
	return backups, rows.Err()
}

// Prune keeps the newest keep backups of uri and deletes the rest.
func (s *BackupStore) Prune(ctx context.Context, uri string, keep int) (int, error) {
	res, err := s.db.ExecContext(ctx, `
	DELETE FROM backups WHERE uri = ? AND id NOT IN (
		SELECT id FROM backups WHERE uri = ? ORDER BY created_at DESC, id LIMIT ?
	)`, uri, uri, keep)
	if err != nil {
		return 0, fmt.Errorf("prune backups: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBackup(row scanner) (Backup, error) {
	var (
		b       Backup
		created string
	)
	if err := row.Scan(&b.ID, &b.URI, &b.Data, &created); err != nil {
		return Backup{}, err
	}
	t, err := time.Parse(timeLayout, created)
	if err != nil {
		return Backup{}, fmt.Errorf("parse created_at: %w", err)
	}
	b.Created = t
	return b, nil
}
