// Package watch runs an action when a file's content changes on disk.
// Notifications come from fsnotify on the parent directory, so editors and
// writers that replace the file by rename are seen like in-place writes.
// Bursts are collapsed by a debounce window, and an action only fires when
// the content digest differs from the last one processed.
//
// Typical usage:
//
//	w := watch.New(svc.ConfigPath(), watch.Options{Debounce: 500 * time.Millisecond})
//	go w.OnChange(ctx, svc.ReloadConfiguration)
package watch

import (
	"context"
	"crypto/sha256"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Options tunes the watcher.
type Options struct {
	// Debounce is the quiet period after the last event before the action
	// fires. Default: 500ms.
	Debounce time.Duration
	// Logger overrides slog.Default().
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Debounce <= 0 {
		o.Debounce = 500 * time.Millisecond
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Watcher watches a single file. It is safe for concurrent use.
type Watcher struct {
	path string
	opts Options

	mu     sync.Mutex
	digest [sha256.Size]byte
	seen   bool

	ready chan struct{}

	events  atomic.Int64
	reloads atomic.Int64
	errors  atomic.Int64
}

// Stats are point-in-time counters.
type Stats struct {
	Events  int64 `json:"events"`
	Reloads int64 `json:"reloads"`
	Errors  int64 `json:"errors"`
}

// New creates a Watcher for path. Call OnChange to start it.
func New(path string, opts Options) *Watcher {
	opts.defaults()
	return &Watcher{path: filepath.Clean(path), opts: opts, ready: make(chan struct{})}
}

// Stats returns the current counters.
func (w *Watcher) Stats() Stats {
	return Stats{Events: w.events.Load(), Reloads: w.reloads.Load(), Errors: w.errors.Load()}
}

// Ready is closed once the watch is installed.
func (w *Watcher) Ready() <-chan struct{} { return w.ready }

// OnChange blocks until ctx is cancelled. The content present when it starts
// is the baseline and does not fire. If action fails the digest is not
// recorded, so the next event retries it.
func (w *Watcher) OnChange(ctx context.Context, action func() error) error {
	log := w.opts.Logger.With("path", w.path)

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	if d, ok, err := w.read(); err == nil && ok {
		w.record(d)
	}
	close(w.ready)
	log.Info("watch: started", "debounce", w.opts.Debounce)

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info("watch: stopped")
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			w.events.Add(1)
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.opts.Debounce)
			fire = timer.C

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.errors.Add(1)
			log.Warn("watch: notify error", "error", err)

		case <-fire:
			fire = nil
			w.maybeRun(log, action)
		}
	}
}

func (w *Watcher) maybeRun(log *slog.Logger, action func() error) {
	d, ok, err := w.read()
	if err != nil {
		w.errors.Add(1)
		log.Warn("watch: read failed", "error", err)
		return
	}
	if !ok || !w.changed(d) {
		return
	}
	start := time.Now()
	if err := action(); err != nil {
		w.errors.Add(1)
		log.Error("watch: reload failed", "error", err)
		return
	}
	w.record(d)
	w.reloads.Add(1)
	log.Info("watch: reload complete", "duration", time.Since(start))
}

// read returns the file digest; ok is false when the file does not exist.
func (w *Watcher) read() (d [sha256.Size]byte, ok bool, err error) {
	data, err := os.ReadFile(w.path)
	if errors.Is(err, fs.ErrNotExist) {
		return d, false, nil
	}
	if err != nil {
		return d, false, err
	}
	return sha256.Sum256(data), true, nil
}

func (w *Watcher) changed(d [sha256.Size]byte) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.seen || w.digest != d
}

func (w *Watcher) record(d [sha256.Size]byte) {
	w.mu.Lock()
	w.digest, w.seen = d, true
	w.mu.Unlock()
}
