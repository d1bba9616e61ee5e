package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const maxSettleChecks = 20

// Handler processes one detected file to completion.
type Handler func(ctx context.Context, path string)

// Watcher monitors one directory and hands every new file whose name
// matches the pattern to its handler. Files are handled one at a time in
// the watch goroutine; while a file is being handled, later events wait in
// the fsnotify buffer.
type Watcher struct {
	dir     string
	pattern *regexp.Regexp
	settle  time.Duration
	handle  Handler
	logger  *zap.Logger
	ready   chan struct{}
}

// New compiles pattern so that it must match at the start of the file
// name. A settle of zero dispatches immediately.
func New(dir, pattern string, settle time.Duration, handle Handler, logger *zap.Logger) (*Watcher, error) {
	re, err := regexp.Compile("^(?:" + pattern + ")")
	if err != nil {
		return nil, fmt.Errorf("compile pattern %q: %w", pattern, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		dir:     dir,
		pattern: re,
		settle:  settle,
		handle:  handle,
		logger:  logger.With(zap.String("dir", dir)),
		ready:   make(chan struct{}),
	}, nil
}

// Matches reports whether a base file name triggers processing.
func (w *Watcher) Matches(name string) bool {
	return w.pattern.MatchString(name)
}

// Ready is closed once the directory is being watched.
func (w *Watcher) Ready() <-chan struct{} { return w.ready }

// Run watches until ctx is cancelled. Cancellation is observed between
// events only: a file being handled is always finished first.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	close(w.ready)
	w.logger.Info("watching", zap.String("pattern", w.pattern.String()))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watcher stopped")
			return nil
		case evt, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if evt.Op&(fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if ctx.Err() != nil {
				w.logger.Info("watcher stopped")
				return nil
			}
			w.dispatch(ctx, evt.Name)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) dispatch(ctx context.Context, path string) {
	if ctx.Err() != nil {
		return
	}
	name := filepath.Base(path)
	if !w.Matches(name) {
		w.logger.Debug("ignored", zap.String("file", name))
		return
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}
	if w.settle > 0 {
		if err := waitForStableSize(ctx, path, w.settle, 1); err != nil {
			w.logger.Warn("file did not settle", zap.String("file", name), zap.Error(err))
			return
		}
	}
	w.logger.Info("new file detected", zap.String("file", name))
	w.handle(ctx, path)
}

// waitForStableSize returns once the size of path has been unchanged for
// required consecutive checks spaced by interval. A file that keeps
// growing is handed over after maxSettleChecks.
func waitForStableSize(ctx context.Context, path string, interval time.Duration, required int) error {
	var last int64 = -1
	stable := 0
	for i := 0; i < maxSettleChecks; i++ {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("stat: %w", err)
		}
		size := info.Size()
		if size == last {
			stable++
			if stable >= required {
				return nil
			}
		} else {
			stable = 0
		}
		last = size
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	return nil
}
