// Package keyfile loads hex-encoded session keys from disk and watches
// the key file for changes so that long-running processes pick up rotated
// keys without a restart.
package keyfile

import (
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Load reads a hex-encoded key from the file at path. Surrounding
// whitespace is ignored.
func Load(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	defer wipe(raw)

	key, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("failed to decode key file %s: %w", path, err)
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("key file %s is empty", path)
	}
	return key, nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// ReloadCallback is invoked with the previous and newly loaded key when
// the key file changes. Returning an error rejects the new key and keeps
// the previous one in place.
type ReloadCallback func(old, new []byte) error

// Reloader watches a key file and reloads it on change or SIGHUP.
type Reloader struct {
	path    string
	logger  *logrus.Logger
	watcher *fsnotify.Watcher

	mu       sync.RWMutex
	current  []byte
	onReload ReloadCallback

	sighup chan os.Signal
	done   chan struct{}
	once   sync.Once
}

// NewReloader creates a reloader for the key file at path. The initial
// key is loaded immediately. An empty path disables file watching and
// leaves only SIGHUP-triggered reloads.
func NewReloader(path string, logger *logrus.Logger) (*Reloader, error) {
	r := &Reloader{
		path:   path,
		logger: logger,
		sighup: make(chan os.Signal, 1),
		done:   make(chan struct{}),
	}

	if path != "" {
		key, err := Load(path)
		if err != nil {
			return nil, err
		}
		r.current = key

		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, fmt.Errorf("failed to create file watcher: %w", err)
		}
		// Watch the directory rather than the file itself so that
		// atomic rename-over-replace rotations are seen.
		if err := watcher.Add(filepath.Dir(path)); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("failed to watch key file directory: %w", err)
		}
		r.watcher = watcher
	}

	signal.Notify(r.sighup, syscall.SIGHUP)
	return r, nil
}

// SetOnReloadCallback registers a callback invoked on every successful
// key reload.
func (r *Reloader) SetOnReloadCallback(cb ReloadCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onReload = cb
}

// CurrentKey returns a copy of the active key.
func (r *Reloader) CurrentKey() []byte {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key := make([]byte, len(r.current))
	copy(key, r.current)
	return key
}

// Start runs the watch loop. It blocks until Stop is called.
func (r *Reloader) Start() {
	var events chan fsnotify.Event
	var errs chan error
	if r.watcher != nil {
		events = r.watcher.Events
		errs = r.watcher.Errors
	}

	for {
		select {
		case <-r.done:
			return
		case <-r.sighup:
			r.logger.Info("Received SIGHUP, reloading key file")
			r.reload()
		case event, ok := <-events:
			if !ok {
				return
			}
			if event.Name != r.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			r.logger.WithField("event", event.Op.String()).Debug("Key file changed, reloading")
			r.reload()
		case err, ok := <-errs:
			if !ok {
				return
			}
			r.logger.WithError(err).Warn("Key file watcher error")
		}
	}
}

// Stop shuts down the watch loop. Safe to call more than once.
func (r *Reloader) Stop() {
	r.once.Do(func() {
		close(r.done)
		signal.Stop(r.sighup)
		if r.watcher != nil {
			r.watcher.Close()
		}
	})
}

func (r *Reloader) reload() {
	if r.path == "" {
		r.logger.Warn("No key file configured, ignoring reload request")
		return
	}

	key, err := Load(r.path)
	if err != nil {
		r.logger.WithError(err).Error("Failed to reload key file, keeping current key")
		return
	}

	r.mu.Lock()
	old := r.current
	if r.onReload != nil {
		if err := r.onReload(old, key); err != nil {
			r.mu.Unlock()
			wipe(key)
			r.logger.WithError(err).Error("Key reload rejected, keeping current key")
			return
		}
	}
	r.current = key
	r.mu.Unlock()

	wipe(old)
	r.logger.Info("Key file reloaded")
}
