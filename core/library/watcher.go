package library

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"harmony/core/audio"
	"harmony/core/player"
	"harmony/logger"
	"harmony/model"
	"harmony/repository"

	"github.com/fsnotify/fsnotify"
	"github.com/samber/lo"
)

// Refresher reconciles the catalog with the filesystem.
type Refresher interface {
	Refresh(ctx context.Context) (int, error)
}

// Watcher watches the directories of catalogued tracks and triggers a
// refresh shortly after an audio file in them is removed or renamed.
type Watcher struct {
	catalog   repository.TrackRepository
	refresher Refresher
	debounce  time.Duration

	watcher *fsnotify.Watcher
	mu      sync.Mutex
	dirs    map[string]bool
	resync  chan struct{}

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWatcher 创建曲库目录监听器
func NewWatcher(catalog repository.TrackRepository, refresher Refresher, debounce time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = 300 * time.Millisecond
	}
	return &Watcher{
		catalog:   catalog,
		refresher: refresher,
		debounce:  debounce,
		watcher:   fw,
		dirs:      make(map[string]bool),
		resync:    make(chan struct{}, 1),
		stopChan:  make(chan struct{}),
	}, nil
}

// Start watches the current catalog directories and begins processing events.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.syncDirs(ctx); err != nil {
		return err
	}
	w.wg.Add(1)
	go w.run(ctx)
	return nil
}

// Stop 停止监听
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		w.wg.Wait()
		w.watcher.Close()
	})
}

// Notify lets the watcher follow catalog changes made by the player.
func (w *Watcher) Notify(e player.Event) {
	switch e.(type) {
	case player.SongsAdded, player.SongsRemoved:
		select {
		case w.resync <- struct{}{}:
		default:
		}
	}
}

// Dirs returns the watched directories.
func (w *Watcher) Dirs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return lo.Keys(w.dirs)
}

func (w *Watcher) syncDirs(ctx context.Context) error {
	tracks, err := w.catalog.ListOrdered(ctx)
	if err != nil {
		return err
	}
	want := lo.SliceToMap(tracks, func(t model.Track) (string, bool) {
		return filepath.Dir(t.FilePath), true
	})

	w.mu.Lock()
	defer w.mu.Unlock()
	for dir := range want {
		if w.dirs[dir] {
			continue
		}
		if err := w.watcher.Add(dir); err != nil {
			logger.Warn("cannot watch directory", logger.String("dir", dir), logger.ErrorField(err))
			continue
		}
		w.dirs[dir] = true
	}
	for dir := range w.dirs {
		if want[dir] {
			continue
		}
		_ = w.watcher.Remove(dir)
		delete(w.dirs, dir)
	}
	logger.Debug("library watch list synced", logger.Int("dirs", len(w.dirs)))
	return nil
}

func (w *Watcher) run(ctx context.Context) {
	defer w.wg.Done()

	var pending bool
	var lastEvent time.Time
	checkTicker := time.NewTicker(w.debounce / 2)
	defer checkTicker.Stop()

	for {
		select {
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Remove|fsnotify.Rename) == 0 || !audio.SupportedExtension(event.Name) {
				continue
			}
			logger.Debug("library file went away", logger.String("path", event.Name), logger.String("op", event.Op.String()))
			pending = true
			lastEvent = time.Now()

		case <-checkTicker.C:
			if !pending || time.Since(lastEvent) < w.debounce {
				continue
			}
			pending = false
			removed, err := w.refresher.Refresh(ctx)
			if err != nil {
				logger.Warn("library refresh failed", logger.ErrorField(err))
				continue
			}
			logger.Info("library refreshed after file change", logger.Int("removed", removed))
			if err := w.syncDirs(ctx); err != nil {
				logger.Warn("cannot update watch list", logger.ErrorField(err))
			}

		case <-w.resync:
			if err := w.syncDirs(ctx); err != nil {
				logger.Warn("cannot update watch list", logger.ErrorField(err))
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("library watcher error", logger.ErrorField(err))
		}
	}
}
