package credentials

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 25 * time.Millisecond

// FileWatcher caches the token stored in a file and reloads it whenever the
// file changes. Stop must be called to release filesystem resources.
type FileWatcher struct {
	path   string
	logger *slog.Logger

	mu    sync.RWMutex
	token string
	err   error

	reloaded chan struct{}
	cancel   context.CancelFunc
	done     chan struct{}
	once     sync.Once
}

// WatchFile loads the token at path and keeps it current. The parent
// directory is watched so editors that replace the file atomically are seen.
func WatchFile(ctx context.Context, path string, logger *slog.Logger) (*FileWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	resolved, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("credentials: resolve %s: %w", path, err)
	}
	resolved = filepath.Clean(resolved)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("credentials: watch: %w", err)
	}
	if err := watcher.Add(filepath.Dir(resolved)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("credentials: watch add %s: %w", filepath.Dir(resolved), err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	w := &FileWatcher{
		path:     resolved,
		logger:   logger.With(slog.String("agent", "credentials")),
		reloaded: make(chan struct{}, 1),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	w.reload()

	go w.run(watchCtx, watcher)
	return w, nil
}

// Token returns the most recently loaded token.
func (w *FileWatcher) Token(context.Context) (string, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.token, w.err
}

// Reloaded signals after each reload triggered by a file change. The channel
// holds at most one pending signal.
func (w *FileWatcher) Reloaded() <-chan struct{} { return w.reloaded }

// Stop halts the watcher and waits for the underlying goroutine to exit.
func (w *FileWatcher) Stop() {
	if w == nil {
		return
	}
	w.once.Do(func() {
		w.cancel()
		<-w.done
	})
}

func (w *FileWatcher) reload() {
	token, err := readTokenFile(w.path)
	w.mu.Lock()
	w.token, w.err = token, err
	w.mu.Unlock()
	if err != nil {
		w.logger.Warn("token reload failed", slog.String("path", w.path), slog.Any("error", err))
		return
	}
	w.logger.Debug("token reloaded", slog.String("path", w.path), slog.Bool("present", token != ""))
}

func (w *FileWatcher) run(ctx context.Context, watcher *fsnotify.Watcher) {
	defer close(w.done)
	defer func() {
		if err := watcher.Close(); err != nil {
			w.logger.Warn("token watcher close failed", slog.Any("error", err))
		}
	}()

	var timer *time.Timer
	var fire <-chan time.Time
	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(reloadDebounce)
		} else {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(reloadDebounce)
		}
		fire = timer.C
	}
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-fire:
			fire = nil
			w.reload()
			select {
			case w.reloaded <- struct{}{}:
			default:
			}
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove|fsnotify.Chmod) != 0 {
				schedule()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("token watcher error", slog.Any("error", err))
		}
	}
}
