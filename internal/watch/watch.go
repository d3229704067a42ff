// Package watch observes the cache directory and invokes a callback after
// change bursts settle, so a long-running consumer can keep a current graph
// without polling.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 2 * time.Second

// Watcher debounces filesystem events under one cache root.
type Watcher struct {
	root     string
	debounce time.Duration
	onChange func()
	log      *zap.Logger
}

func New(root string, debounce time.Duration, onChange func(), log *zap.Logger) (*Watcher, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("watch root is required")
	}
	if onChange == nil {
		return nil, fmt.Errorf("change callback is required")
	}
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Watcher{root: filepath.Clean(root), debounce: debounce, onChange: onChange, log: log}, nil
}

// Run blocks until the context is canceled, invoking the callback once per
// settled burst of cache writes. Newly created subdirectories are picked up
// as they appear.
func (w *Watcher) Run(ctx context.Context) error {
	notifier, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer notifier.Close()

	if err := addRecursive(notifier, w.root); err != nil {
		return err
	}

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	pending := false

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-notifier.Events:
			if !ok {
				return nil
			}
			if isTempFile(event.Name) {
				continue
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := addRecursive(notifier, event.Name); err != nil {
						w.log.Warn("watch new directory", zap.String("dir", event.Name), zap.Error(err))
					}
				}
			}
			if !pending {
				pending = true
			} else if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(w.debounce)
		case err, ok := <-notifier.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", zap.Error(err))
		case <-timer.C:
			pending = false
			w.log.Debug("cache changed", zap.String("root", w.root))
			w.onChange()
		}
	}
}

func addRecursive(notifier *fsnotify.Watcher, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || !info.IsDir() {
			return err
		}
		return notifier.Add(path)
	})
}

// isTempFile filters the hidden staging files used by atomic writes.
func isTempFile(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".") && strings.Contains(base, ".tmp-")
}
