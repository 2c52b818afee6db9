package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/seralys/medgen-console/internal/api"
	"github.com/seralys/medgen-console/internal/bus"
	"github.com/seralys/medgen-console/internal/store"
)

// DefaultPatterns matches the document types the backend can parse.
var DefaultPatterns = []string{"*.pdf", "*.docx", "*.txt", "*.md", "*.html", "*.xml"}

// FolderOptions controls watch-folder behavior.
type FolderOptions struct {
	Dir      string
	Watch    bool
	Patterns []string // e.g. []string{"*.pdf", "*.docx"}
	Actor    string   // default "watcher"
	Logger   *log.Logger
	// How long a file must sit quiet after its last write before it is
	// uploaded, so documents are not caught mid-copy.
	SettleDelay time.Duration
	// How often the directory is rescanned for files missed by fsnotify.
	RescanInterval time.Duration
}

// FolderIngestor uploads requirement documents dropped into a directory
// (one-shot or watch mode).
type FolderIngestor struct {
	client *api.Client
	store  *store.Store
	bus    bus.Bus
	opts   FolderOptions

	pending map[string]time.Time // last write event per path
	mu      sync.Mutex

	uploaded int
	skipped  int
	errors   int
}

// NewFolderIngestor constructs a folder ingestor.
func NewFolderIngestor(client *api.Client, st *store.Store, b bus.Bus, opts FolderOptions) *FolderIngestor {
	if opts.Logger == nil {
		opts.Logger = log.New(log.Writer(), "[watch-folder] ", log.LstdFlags)
	}
	if len(opts.Patterns) == 0 {
		opts.Patterns = DefaultPatterns
	}
	if opts.Actor == "" {
		opts.Actor = "watcher"
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = 2 * time.Second
	}
	if opts.RescanInterval <= 0 {
		opts.RescanInterval = 30 * time.Second
	}
	return &FolderIngestor{
		client:  client,
		store:   st,
		bus:     b,
		opts:    opts,
		pending: make(map[string]time.Time),
	}
}

// Run executes per options (one-shot or watch).
func (fi *FolderIngestor) Run(ctx context.Context) error {
	// Initial pass picks up documents that predate the watcher.
	if err := fi.scanOnce(ctx); err != nil {
		return err
	}

	if !fi.opts.Watch {
		fi.opts.Logger.Printf("Completed one-shot scan: uploaded=%d skipped=%d errors=%d",
			fi.uploaded, fi.skipped, fi.errors)
		return nil
	}

	return fi.watchLoop(ctx)
}

func (fi *FolderIngestor) matches(name string) bool {
	lower := strings.ToLower(name)
	for _, pat := range fi.opts.Patterns {
		p := strings.TrimSpace(strings.ToLower(pat))
		ok, _ := filepath.Match(p, lower)
		if ok {
			return true
		}
	}
	return false
}

func (fi *FolderIngestor) scanOnce(ctx context.Context) error {
	entries, err := os.ReadDir(fi.opts.Dir)
	if err != nil {
		return fmt.Errorf("read dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !fi.matches(e.Name()) {
			continue
		}
		path := filepath.Join(fi.opts.Dir, e.Name())
		if err := fi.uploadIfNew(ctx, path); err != nil {
			fi.opts.Logger.Printf("error uploading %s: %v", path, err)
			fi.errors++
		}
	}
	return nil
}

func (fi *FolderIngestor) watchLoop(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify: %w", err)
	}
	defer w.Close()

	if err := w.Add(fi.opts.Dir); err != nil {
		return fmt.Errorf("watch add: %w", err)
	}

	fi.opts.Logger.Printf("Watching directory: %s (patterns: %s)", fi.opts.Dir, strings.Join(fi.opts.Patterns, ","))
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	lastRescan := time.Now()

	for {
		select {
		case <-ctx.Done():
			fi.opts.Logger.Printf("Watch stopping: uploaded=%d skipped=%d errors=%d",
				fi.uploaded, fi.skipped, fi.errors)
			return ctx.Err()
		case ev := <-w.Events:
			name := filepath.Base(ev.Name)
			if !fi.matches(name) {
				continue
			}
			if (ev.Op&fsnotify.Create) != 0 || (ev.Op&fsnotify.Write) != 0 {
				// Not uploaded yet; the document may still be copying.
				fi.mu.Lock()
				fi.pending[ev.Name] = time.Now()
				fi.mu.Unlock()
			}
			if (ev.Op&fsnotify.Remove) != 0 || (ev.Op&fsnotify.Rename) != 0 {
				fi.mu.Lock()
				delete(fi.pending, ev.Name)
				fi.mu.Unlock()
			}
		case err := <-w.Errors:
			if err != nil {
				fi.opts.Logger.Printf("watch error: %v", err)
			}
		case <-ticker.C:
			fi.flushPending(ctx)
			if time.Since(lastRescan) >= fi.opts.RescanInterval {
				lastRescan = time.Now()
				if err := fi.scanOnce(ctx); err != nil {
					fi.opts.Logger.Printf("rescan error: %v", err)
				}
			}
		}
	}
}

// flushPending uploads pending paths whose last write is older than the
// settle delay.
func (fi *FolderIngestor) flushPending(ctx context.Context) {
	fi.mu.Lock()
	var ready []string
	for path, last := range fi.pending {
		if time.Since(last) >= fi.opts.SettleDelay {
			ready = append(ready, path)
		}
	}
	for _, path := range ready {
		delete(fi.pending, path)
	}
	fi.mu.Unlock()

	for _, path := range ready {
		if err := fi.uploadIfNew(ctx, path); err != nil {
			fi.opts.Logger.Printf("error uploading %s: %v", path, err)
			fi.errors++
		}
	}
}

// uploadIfNew uploads path as a requirement document unless the journal or
// the backend has seen it before.
func (fi *FolderIngestor) uploadIfNew(ctx context.Context, path string) error {
	seen, err := fi.store.HasWatchedUpload(ctx, path)
	if err != nil {
		return err
	}
	if seen {
		return nil
	}

	st, err := os.Stat(path)
	if err != nil {
		// Transiently missing (rename/rotate)
		return nil
	}
	if st.Size() == 0 {
		return nil
	}

	result, err := fi.client.UploadFiles(ctx, []string{path}, nil)
	if err != nil {
		var apiErr *api.APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusBadRequest {
			// Backend already holds a document with this filename. Remember
			// the path so we stop retrying it.
			_ = fi.store.RecordWatchedUpload(ctx, store.WatchedUpload{
				Path:     path,
				Filename: filepath.Base(path),
			})
			fi.opts.Logger.Printf("skipping %s: %s", path, apiErr.Detail)
			fi.skipped++
			return nil
		}
		return err
	}

	fileID := ""
	if len(result.FileIDs) > 0 {
		fileID = result.FileIDs[0]
	}

	if err := fi.store.RecordWatchedUpload(ctx, store.WatchedUpload{
		Path:     path,
		Filename: filepath.Base(path),
		FileID:   fileID,
	}); err != nil {
		fi.opts.Logger.Printf("journal error for %s: %v", path, err)
	}
	if err := fi.store.LogFileAction(ctx, fileID, store.ActionWatchUpload, fi.opts.Actor, map[string]interface{}{
		"path":     path,
		"filename": filepath.Base(path),
	}); err != nil {
		fi.opts.Logger.Printf("journal error for %s: %v", path, err)
	}

	// Best-effort publish to bus (no-op on NullBus)
	_ = fi.bus.PublishActivity(ctx, bus.ActivityMessage{
		FileID:   fileID,
		Filename: filepath.Base(path),
		Action:   store.ActionWatchUpload,
		Actor:    fi.opts.Actor,
		Detail:   path,
	})

	fi.uploaded++
	fi.opts.Logger.Printf("Uploaded %s (file_id=%s)", filepath.Base(path), fileID)
	return nil
}
