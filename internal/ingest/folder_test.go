package ingest

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/seralys/medgen-console/internal/api"
	"github.com/seralys/medgen-console/internal/bus"
	"github.com/seralys/medgen-console/internal/store"
)

func newUploadTestServer(t *testing.T) (*httptest.Server, *int) {
	t.Helper()
	calls := 0

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/files/upload", func(w http.ResponseWriter, r *http.Request) {
		calls++
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			http.Error(w, "bad multipart", http.StatusInternalServerError)
			return
		}
		files := r.MultipartForm.File["requirement_files"]
		if len(files) == 0 {
			t.Errorf("expected a requirement file")
			http.Error(w, "no files", http.StatusInternalServerError)
			return
		}
		name := files[0].Filename

		w.Header().Set("Content-Type", "application/json")
		if name == "dupe.txt" {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{
				"detail": "File 'dupe.txt' has already been uploaded",
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"file_ids":  []string{"file-" + name},
			"filenames": []string{name},
			"message":   "Files uploaded successfully",
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newTestIngestor(t *testing.T, srv *httptest.Server, dir string) *FolderIngestor {
	t.Helper()
	quiet := log.New(io.Discard, "", 0)

	client, err := api.NewClient(srv.URL, quiet)
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	st, err := store.NewStore(":memory:")
	if err != nil {
		t.Fatalf("NewStore error: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	return NewFolderIngestor(client, st, bus.NewNullBus(quiet), FolderOptions{
		Dir:    dir,
		Logger: quiet,
	})
}

func writeDoc(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestUploadIfNewDedup(t *testing.T) {
	srv, calls := newUploadTestServer(t)
	dir := t.TempDir()
	fi := newTestIngestor(t, srv, dir)

	path := writeDoc(t, dir, "srs_v1.txt", "1. The device shall alarm.")
	ctx := context.Background()

	if err := fi.uploadIfNew(ctx, path); err != nil {
		t.Fatalf("uploadIfNew error: %v", err)
	}
	if *calls != 1 {
		t.Fatalf("expected 1 upload call, got %d", *calls)
	}
	if fi.uploaded != 1 {
		t.Fatalf("expected uploaded=1, got %d", fi.uploaded)
	}

	seen, err := fi.store.HasWatchedUpload(ctx, path)
	if err != nil {
		t.Fatalf("HasWatchedUpload error: %v", err)
	}
	if !seen {
		t.Fatalf("expected path to be journaled")
	}

	// A second pass over the same path must not re-upload.
	if err := fi.uploadIfNew(ctx, path); err != nil {
		t.Fatalf("uploadIfNew error: %v", err)
	}
	if *calls != 1 {
		t.Fatalf("expected upload calls to stay at 1, got %d", *calls)
	}
}

func TestUploadIfNewSkipsBackendDuplicate(t *testing.T) {
	srv, calls := newUploadTestServer(t)
	dir := t.TempDir()
	fi := newTestIngestor(t, srv, dir)

	path := writeDoc(t, dir, "dupe.txt", "1. Something.")
	ctx := context.Background()

	// Backend rejects the filename as already uploaded; the watcher treats
	// that as done, not as an error.
	if err := fi.uploadIfNew(ctx, path); err != nil {
		t.Fatalf("uploadIfNew error: %v", err)
	}
	if fi.skipped != 1 {
		t.Fatalf("expected skipped=1, got %d", fi.skipped)
	}

	seen, err := fi.store.HasWatchedUpload(ctx, path)
	if err != nil {
		t.Fatalf("HasWatchedUpload error: %v", err)
	}
	if !seen {
		t.Fatalf("expected rejected path to be journaled so it is not retried")
	}

	if err := fi.uploadIfNew(ctx, path); err != nil {
		t.Fatalf("uploadIfNew error: %v", err)
	}
	if *calls != 1 {
		t.Fatalf("expected no retry after 400, got %d calls", *calls)
	}
}

func TestScanOnceUploadsOnlyMatchingFiles(t *testing.T) {
	srv, calls := newUploadTestServer(t)
	dir := t.TempDir()
	fi := newTestIngestor(t, srv, dir)

	writeDoc(t, dir, "spec.docx", "requirements")
	writeDoc(t, dir, "notes.exe", "binary")
	writeDoc(t, dir, "empty.pdf", "")
	if err := os.Mkdir(filepath.Join(dir, "archive"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	if err := fi.scanOnce(context.Background()); err != nil {
		t.Fatalf("scanOnce error: %v", err)
	}
	if *calls != 1 {
		t.Fatalf("expected only spec.docx to upload, got %d calls", *calls)
	}
}

func TestMatchesPatterns(t *testing.T) {
	fi := NewFolderIngestor(nil, nil, nil, FolderOptions{
		Dir:    ".",
		Logger: log.New(io.Discard, "", 0),
	})

	cases := []struct {
		name string
		want bool
	}{
		{"srs_v1.pdf", true},
		{"SRS_V2.DOCX", true},
		{"readme.md", true},
		{"export.xml", true},
		{"notes.html", true},
		{"requirements.txt", true},
		{"image.png", false},
		{"program.exe", false},
	}
	for _, tc := range cases {
		if got := fi.matches(tc.name); got != tc.want {
			t.Errorf("matches(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}
