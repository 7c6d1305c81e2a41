// Package ingest watches a drop directory and feeds its files into the
// bookmark and document services. Files named *.url hold one URL per
// line and become bookmarks; everything else with an allowed extension
// becomes a document upload.
package ingest

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// defaultExts lists the file types the watcher picks up (lowercase,
// without '.').
var defaultExts = map[string]struct{}{
	"url":  {},
	"html": {},
	"htm":  {},
	"pdf":  {},
	"txt":  {},
	"md":   {},
	"png":  {},
	"jpg":  {},
	"jpeg": {},
	"epub": {},
}

type WatchConfig struct {
	Root        string
	AllowedExts map[string]struct{}
	InitialScan bool          // walk the root and emit existing files first
	Debounce    time.Duration // coalesce rapid write/rename bursts
}

// StartWatcher emits file paths from the drop directory, recursively,
// until the context ends.
func StartWatcher(ctx context.Context, cfg WatchConfig, logger *slog.Logger) (<-chan string, error) {
	if cfg.Root == "" {
		return nil, errors.New("no drop directory provided")
	}
	if cfg.AllowedExts == nil {
		cfg.AllowedExts = defaultExts
	}
	if logger == nil {
		logger = slog.Default()
	}
	evCh := make(chan string, 256)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Error("failed to create fsnotify watcher", "error", err)
		return nil, err
	}

	err = filepath.WalkDir(cfg.Root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return w.Add(path)
		}
		if cfg.InitialScan && allowed(path, cfg.AllowedExts) {
			select {
			case evCh <- path:
			default:
			}
		}
		return nil
	})
	if err != nil {
		logger.Error("failed to watch drop directory", "root", cfg.Root, "error", err)
		_ = w.Close()
		return nil, err
	}

	go func() {
		defer close(evCh)
		defer w.Close()

		var debounce <-chan time.Time
		pending := map[string]struct{}{}

		sendPending := func() {
			for p := range pending {
				select {
				case evCh <- p:
				default:
				}
				delete(pending, p)
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case e := <-w.Events:
				if e.Op&fsnotify.Create == fsnotify.Create {
					// New subdirectories join the watch; for plain files the
					// add fails and is ignored.
					_ = w.Add(e.Name)
				}
				if allowed(e.Name, cfg.AllowedExts) && e.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
					pending[e.Name] = struct{}{}
					if cfg.Debounce > 0 {
						debounce = time.After(cfg.Debounce)
					} else {
						sendPending()
					}
				}
			case <-debounce:
				debounce = nil
				sendPending()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Error("watcher error", "error", err)
			}
		}
	}()

	return evCh, nil
}

func allowed(path string, exts map[string]struct{}) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	_, ok := exts[ext]
	return ok
}
