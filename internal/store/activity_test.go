package store

import (
	"context"
	"path/filepath"
	"testing"
)

func TestActivityJournalFlow(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	s, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore error: %v", err)
	}
	defer func() { _ = s.Close() }()

	ctx := context.Background()

	if err := s.LogFileAction(ctx, "file-001", ActionUpload, "console", map[string]interface{}{
		"filenames": []string{"srs_v1.docx"},
	}); err != nil {
		t.Fatalf("LogFileAction error: %v", err)
	}

	if err := s.LogImprovement(ctx, "file-001", "REQ-001", "TC-2", "console",
		"add boundary values", "Improved description"); err != nil {
		t.Fatalf("LogImprovement error: %v", err)
	}

	entries, err := s.RecentActivity(ctx, "file-001", 10)
	if err != nil {
		t.Fatalf("RecentActivity error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	found := false
	for _, e := range entries {
		if e.Action == ActionImprove {
			if e.Details["tc_id"] != "TC-2" {
				t.Fatalf("expected tc_id=TC-2, got %q", e.Details["tc_id"])
			}
			if e.Details["user_input"] != "add boundary values" {
				t.Fatalf("unexpected user_input: %q", e.Details["user_input"])
			}
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("improve entry not found")
	}

	// An entry for another file must not show up in the filtered view.
	if err := s.LogFileAction(ctx, "file-002", ActionExtract, "console", nil); err != nil {
		t.Fatalf("LogFileAction error: %v", err)
	}
	entries, err = s.RecentActivity(ctx, "file-001", 0)
	if err != nil {
		t.Fatalf("RecentActivity error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries for file-001, got %d", len(entries))
	}

	// Unfiltered view sees all three, newest first.
	all, err := s.RecentActivity(ctx, "", 0)
	if err != nil {
		t.Fatalf("RecentActivity error: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 entries total, got %d", len(all))
	}
	if all[0].Action != ActionExtract {
		t.Fatalf("expected newest entry first, got action %q", all[0].Action)
	}
}

func TestAddActivityGeneratesID(t *testing.T) {
	s, err := NewStore(":memory:")
	if err != nil {
		t.Fatalf("NewStore error: %v", err)
	}
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	if err := s.AddActivity(ctx, ActivityEntry{Action: ActionPush, Actor: "console"}); err != nil {
		t.Fatalf("AddActivity error: %v", err)
	}

	entries, err := s.RecentActivity(ctx, "", 1)
	if err != nil {
		t.Fatalf("RecentActivity error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].ID == "" {
		t.Fatalf("expected generated id")
	}
	if entries[0].CreatedAt.IsZero() {
		t.Fatalf("expected created_at to be set")
	}
}
