package fraud

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Provider hands out the policy in force right now
type Provider interface {
	Policy() Policy
}

// Static is a Provider that never changes
type Static Policy

func (s Static) Policy() Policy {
	return Policy(s)
}

// Watcher reloads a TOML policy file whenever it changes on disk.
// A file that fails to parse or validate leaves the previous policy in place.
type Watcher struct {
	path    string
	current atomic.Pointer[Policy]
	fsw     *fsnotify.Watcher
	logger  *slog.Logger
}

func NewWatcher(path string, logger *slog.Logger) (*Watcher, error) {
	policy, err := LoadPolicy(path)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create policy watcher: %w", err)
	}
	// editors replace files by rename, so watch the directory
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	w := &Watcher{path: filepath.Clean(path), fsw: fsw, logger: logger}
	w.current.Store(&policy)
	return w, nil
}

func (w *Watcher) Policy() Policy {
	return *w.current.Load()
}

// Reload re-reads the file and swaps the policy on success
func (w *Watcher) Reload() error {
	policy, err := LoadPolicy(w.path)
	if err != nil {
		return err
	}
	w.current.Store(&policy)
	return nil
}

// Run processes file events until ctx is cancelled
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := w.Reload(); err != nil {
				w.logger.Warn("fraud policy reload rejected, keeping previous policy",
					slog.String("path", w.path),
					slog.String("error", err.Error()),
				)
				continue
			}
			w.logger.Info("fraud policy reloaded", slog.String("path", w.path))

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("fraud policy watcher error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) Close() error {
	return w.fsw.Close()
}
