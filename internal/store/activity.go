package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// ActivityEntry is one journal row describing an operator or watcher
// action against the backend.
type ActivityEntry struct {
	ID        string                 `json:"id"`
	FileID    string                 `json:"file_id,omitempty"`
	Action    string                 `json:"action"` // "upload", "extract", "generate", "improve", "push", "watch_upload"
	Actor     string                 `json:"actor"`  // console session or subcommand identifier
	Details   map[string]interface{} `json:"details"`
	CreatedAt time.Time              `json:"created_at"`
}

// Common action names used across the console.
const (
	ActionUpload      = "upload"
	ActionExtract     = "extract"
	ActionGenerate    = "generate"
	ActionImprove     = "improve"
	ActionPush        = "push"
	ActionWatchUpload = "watch_upload"
	ActionExport      = "export"
)

// AddActivity appends a journal entry. Journaling is advisory; callers log
// a returned error and move on rather than failing the remote operation.
func (s *Store) AddActivity(ctx context.Context, entry ActivityEntry) error {
	if entry.ID == "" {
		entry.ID = fmt.Sprintf("act_%d", time.Now().UnixNano())
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	detailsJSON, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal activity details: %w", err)
	}

	query := `INSERT INTO activity (id, file_id, action, actor, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		entry.ID, entry.FileID, entry.Action, entry.Actor,
		string(detailsJSON), entry.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert activity entry: %w", err)
	}

	return nil
}

// RecentActivity returns journal entries newest first, optionally filtered
// to one file.
func (s *Store) RecentActivity(ctx context.Context, fileID string, limit int) ([]ActivityEntry, error) {
	query := `SELECT id, file_id, action, actor, details, created_at FROM activity`
	args := []interface{}{}
	if fileID != "" {
		query += ` WHERE file_id = ?`
		args = append(args, fileID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity: %w", err)
	}
	defer rows.Close()

	var entries []ActivityEntry
	for rows.Next() {
		var entry ActivityEntry
		var fileID *string
		var detailsJSON string
		var createdAt int64

		err := rows.Scan(&entry.ID, &fileID, &entry.Action, &entry.Actor,
			&detailsJSON, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan activity entry: %w", err)
		}

		if fileID != nil {
			entry.FileID = *fileID
		}
		entry.CreatedAt = time.Unix(createdAt, 0)

		if err := json.Unmarshal([]byte(detailsJSON), &entry.Details); err != nil {
			// Keep the raw text instead of failing the whole result set.
			entry.Details = map[string]interface{}{"raw": detailsJSON}
		}

		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activity entries: %w", err)
	}

	return entries, nil
}

// LogFileAction journals an action against one backend file.
func (s *Store) LogFileAction(ctx context.Context, fileID, action, actor string, details map[string]interface{}) error {
	return s.AddActivity(ctx, ActivityEntry{
		FileID:  fileID,
		Action:  action,
		Actor:   actor,
		Details: details,
	})
}

// LogImprovement journals an improve round-trip including the feedback and
// the rewritten description, so the operator can review history offline.
func (s *Store) LogImprovement(ctx context.Context, fileID, requirementID, tcID, actor, userInput, improved string) error {
	return s.AddActivity(ctx, ActivityEntry{
		FileID: fileID,
		Action: ActionImprove,
		Actor:  actor,
		Details: map[string]interface{}{
			"requirement_id": requirementID,
			"tc_id":          tcID,
			"user_input":     userInput,
			"improved":       improved,
		},
	})
}
