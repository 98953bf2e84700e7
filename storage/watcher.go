package storage

import (
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/status-im/status-connect/logutils"
)

type fileStamp struct {
	modTime time.Time
	size    int64
}

// Watcher reports keys of a FileStore directory that were changed, created
// or removed, by this or any other process. It relies on fsnotify and falls
// back to polling modification times when notifications are unavailable.
type Watcher struct {
	dir          string
	pollInterval time.Duration
	logger       *zap.Logger

	events chan string
	quit   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once

	fsw *fsnotify.Watcher
}

// NewWatcher starts watching dir.
func NewWatcher(dir string, pollInterval time.Duration, logger *zap.Logger) (*Watcher, error) {
	return newWatcher(dir, pollInterval, logger, true)
}

func newWatcher(dir string, pollInterval time.Duration, logger *zap.Logger, notify bool) (*Watcher, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, err
	}

	w := &Watcher{
		dir:          dir,
		pollInterval: pollInterval,
		logger:       logutils.OrDefault(logger).Named("storage-watcher"),
		events:       make(chan string, 64),
		quit:         make(chan struct{}),
	}

	if notify {
		w.fsw = w.initNotify()
	}
	w.wg.Add(1)
	if w.fsw != nil {
		go w.runNotify()
	} else {
		go w.runPolling(w.scan())
	}
	return w, nil
}

// Polling reports whether the watcher fell back to polling.
func (w *Watcher) Polling() bool {
	return w.fsw == nil
}

// Events returns the channel of changed keys. It is closed by Close.
func (w *Watcher) Events() <-chan string {
	return w.events
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.quit)
		if w.fsw != nil {
			err = w.fsw.Close()
		}
		w.wg.Wait()
		close(w.events)
	})
	return err
}

func (w *Watcher) initNotify() *fsnotify.Watcher {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("failed to create watcher, falling back to polling", zap.Error(err))
		return nil
	}
	if err := fsw.Add(w.dir); err != nil {
		_ = fsw.Close()
		w.logger.Warn("failed to watch directory, falling back to polling", zap.String("dir", w.dir), zap.Error(err))
		return nil
	}
	return fsw
}

func (w *Watcher) emit(key string) {
	select {
	case w.events <- key:
	case <-w.quit:
	}
}

func (w *Watcher) runNotify() {
	defer w.wg.Done()
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if key, ok := KeyFromFileName(event.Name); ok {
				w.emit(key)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		case <-w.quit:
			return
		}
	}
}

func (w *Watcher) runPolling(known map[string]fileStamp) {
	defer w.wg.Done()

	interval := w.pollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			current := w.scan()
			for key, stamp := range current {
				if prev, ok := known[key]; !ok || prev != stamp {
					w.emit(key)
				}
			}
			for key := range known {
				if _, ok := current[key]; !ok {
					w.emit(key)
				}
			}
			known = current
		case <-w.quit:
			return
		}
	}
}

func (w *Watcher) scan() map[string]fileStamp {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Warn("failed to scan directory", zap.String("dir", w.dir), zap.Error(err))
		return map[string]fileStamp{}
	}
	res := make(map[string]fileStamp, len(entries))
	for _, entry := range entries {
		key, ok := KeyFromFileName(entry.Name())
		if !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		res[key] = fileStamp{modTime: info.ModTime(), size: info.Size()}
	}
	return res
}
