package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] stats its file.
const DefaultWatchInterval = 5 * time.Second

// ChangeFunc receives a validated config change. It runs on the watcher
// goroutine, so a slow callback delays the next poll.
type ChangeFunc func(old, new *Config, d ConfigDiff)

// Watcher polls a config file and hands validated edits to a [ChangeFunc].
//
// An edit that fails to parse or validate is logged once and ignored; the
// last good config stays current until the file is fixed.
type Watcher struct {
	path     string
	interval time.Duration
	onChange ChangeFunc

	mu      sync.Mutex
	current *Config
	seen    fileStamp // last content looked at, good or bad

	done     chan struct{}
	stopOnce sync.Once
}

type fileStamp struct {
	mtime time.Time
	sum   [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval overrides [DefaultWatchInterval].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and starts polling it. The initial load must
// succeed.
func NewWatcher(path string, onChange ChangeFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	stamp, data, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	w.current, w.seen = cfg, stamp

	go w.loop()
	return w, nil
}

// Current returns the last config that passed validation.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends polling. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *Watcher) loop() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.poll()
		}
	}
}

func (w *Watcher) poll() {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: stat failed", "path", w.path, "err", err)
		return
	}
	w.mu.Lock()
	moved := !info.ModTime().Equal(w.seen.mtime)
	w.mu.Unlock()
	if !moved {
		return
	}

	stamp, data, err := w.read()
	if err != nil {
		slog.Warn("config watcher: read failed", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	same := stamp.sum == w.seen.sum
	w.seen = stamp
	w.mu.Unlock()
	if same {
		return
	}

	next, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		slog.Warn("config watcher: edit rejected, keeping previous config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	prev := w.current
	w.current = next
	w.mu.Unlock()

	d := Diff(prev, next)
	slog.Info("config watcher: reloaded",
		"path", w.path,
		"session_changed", d.SessionChanged,
		"log_level_changed", d.LogLevelChanged,
	)
	if len(d.RestartRequired) > 0 {
		slog.Warn("config watcher: restart needed to apply", "fields", d.RestartRequired)
	}
	if w.onChange != nil {
		w.onChange(prev, next, d)
	}
}

func (w *Watcher) read() (fileStamp, []byte, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return fileStamp{}, nil, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return fileStamp{}, nil, err
	}
	return fileStamp{mtime: info.ModTime(), sum: sha256.Sum256(data)}, data, nil
}
