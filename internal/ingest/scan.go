package ingest

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/ramccor/recall/internal/obslog"
)

// Scan enumerates transcript (.jsonl) files under roots. Directories are
// opaque; files are matched by extension alone.
func Scan(roots []string) ([]string, error) {
	var files []string
	for _, root := range roots {
		err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				// A directory disappearing mid-walk is not fatal to the
				// overall scan; skip it and continue.
				return nil
			}
			if info.IsDir() {
				return nil
			}
			if strings.HasSuffix(path, ".jsonl") {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}

// Watcher supplements the periodic scan with an fsnotify-driven fast path:
// a Write event on a tracked file is surfaced immediately instead of
// waiting for the next scan tick, so a hot file's growth is picked up at
// sub-scan-interval latency. The scan loop remains authoritative: if
// fsnotify drops events (heavy write bursts, some network filesystems)
// the next periodic scan still finds and enqueues the file via its mtime.
type Watcher struct {
	fsw     *fsnotify.Watcher
	log     obslog.Logger
	Changed chan string
}

// NewWatcher starts watching roots for file-write events. Callers treat
// an initialization error as non-fatal; the scan loop alone remains
// correct, just slower to notice new writes.
func NewWatcher(roots []string, log obslog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, root := range roots {
		_ = filepath.Walk(root, func(path string, info os.FileInfo, walkErr error) error {
			if walkErr != nil {
				return nil
			}
			if info.IsDir() {
				return fsw.Add(path)
			}
			return nil
		})
	}
	w := &Watcher{fsw: fsw, log: log, Changed: make(chan string, 256)}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				close(w.Changed)
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if !strings.HasSuffix(ev.Name, ".jsonl") {
				continue
			}
			select {
			case w.Changed <- ev.Name:
			default:
				// Channel full: the periodic scan will pick this file up
				// on its next tick regardless.
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if w.log != nil {
				w.log.Error("watcher_error", map[string]any{"error": err.Error()})
			}
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	if w == nil || w.fsw == nil {
		return nil
	}
	return w.fsw.Close()
}
