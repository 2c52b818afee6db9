package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Store is the local SQLite journal. It never holds backend data, only a
// record of what the operator did and what the folder watcher uploaded.
type Store struct {
	db *sql.DB
}

// WatchedUpload records one document the folder watcher has already
// uploaded, keyed by its absolute path.
type WatchedUpload struct {
	Path       string    `json:"path"`
	Filename   string    `json:"filename"`
	FileID     string    `json:"file_id,omitempty"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// NewStore opens (or creates) the journal database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	// Ensure target directory exists (e.g., ./data)
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open(sqliteDriver, dbPath+sqliteDSNOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}

	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate performs database migrations.
func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS activity (
			id TEXT PRIMARY KEY,
			file_id TEXT,
			action TEXT NOT NULL,
			actor TEXT NOT NULL,
			details TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS watched_uploads (
			path TEXT PRIMARY KEY,
			filename TEXT NOT NULL,
			file_id TEXT,
			uploaded_at INTEGER NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_activity_file_id ON activity(file_id)`,
		`CREATE INDEX IF NOT EXISTS idx_activity_action ON activity(action)`,
		`CREATE INDEX IF NOT EXISTS idx_activity_created_at ON activity(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_watched_filename ON watched_uploads(filename)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}

	return nil
}

// RecordWatchedUpload remembers that path was uploaded, replacing any
// earlier row for the same path.
func (s *Store) RecordWatchedUpload(ctx context.Context, upload WatchedUpload) error {
	if upload.UploadedAt.IsZero() {
		upload.UploadedAt = time.Now()
	}

	query := `INSERT OR REPLACE INTO watched_uploads (path, filename, file_id, uploaded_at)
		VALUES (?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		upload.Path, upload.Filename, upload.FileID, upload.UploadedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to record watched upload: %w", err)
	}
	return nil
}

// HasWatchedUpload reports whether path was already uploaded by the
// watcher.
func (s *Store) HasWatchedUpload(ctx context.Context, path string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM watched_uploads WHERE path = ?`, path).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check watched upload: %w", err)
	}
	return count > 0, nil
}

// WatchedUploads returns the watcher's upload history, newest first.
func (s *Store) WatchedUploads(ctx context.Context, limit int) ([]WatchedUpload, error) {
	query := `SELECT path, filename, file_id, uploaded_at
		FROM watched_uploads ORDER BY uploaded_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query watched uploads: %w", err)
	}
	defer rows.Close()

	var uploads []WatchedUpload
	for rows.Next() {
		var up WatchedUpload
		var fileID sql.NullString
		var uploadedAt int64

		if err := rows.Scan(&up.Path, &up.Filename, &fileID, &uploadedAt); err != nil {
			return nil, fmt.Errorf("failed to scan watched upload: %w", err)
		}
		if fileID.Valid {
			up.FileID = fileID.String
		}
		up.UploadedAt = time.Unix(uploadedAt, 0)
		uploads = append(uploads, up)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating watched uploads: %w", err)
	}

	return uploads, nil
}

// Reset drops all journal rows. Used by the reset command.
func (s *Store) Reset(ctx context.Context) error {
	for _, table := range []string{"activity", "watched_uploads"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return nil
}
