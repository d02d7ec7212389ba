// Package watcher turns fsnotify notifications below the sync root into
// root-relative FileEvents.
package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"vaultsync/internal/logger"
	"vaultsync/internal/model"
	"vaultsync/internal/util"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultRenameWindow is how long a Rename waits for the Create that names
// its destination.
const DefaultRenameWindow = 100 * time.Millisecond

type Watcher struct {
	fw      *fsnotify.Watcher
	root    string
	window  time.Duration
	eventCh chan model.FileEvent
	doneCh  chan struct{}

	// pending is the source of a rename whose destination has not been seen.
	// Only the run goroutine touches it.
	pending *model.FileEvent
}

func New(bufferSize int, renameWindow time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if renameWindow <= 0 {
		renameWindow = DefaultRenameWindow
	}

	return &Watcher{
		fw:      fw,
		window:  renameWindow,
		eventCh: make(chan model.FileEvent, bufferSize),
		doneCh:  make(chan struct{}),
	}, nil
}

func (w *Watcher) Watch(dir string) error {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	if _, err := os.Stat(absDir); err != nil {
		return fmt.Errorf("source directory not found: %w", err)
	}
	w.root = absDir

	if err := w.addRecursive(absDir); err != nil {
		return err
	}

	go w.run()

	logger.Log.Info("watcher started",
		zap.String("dir", absDir))
	return nil
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			if err := w.fw.Add(path); err != nil {
				return fmt.Errorf("failed to watch %s: %w", path, err)
			}
			logger.Log.Debug("watching directory",
				zap.String("path", path))
		}

		return nil
	})
}

func (w *Watcher) run() {
	defer close(w.eventCh)

	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)

	for {
		select {
		case <-w.doneCh:
			logger.Log.Info("watcher stopping")
			if timer != nil {
				timer.Stop()
			}
			return

		case fsEvent, ok := <-w.fw.Events:
			if !ok {
				return
			}

			isDir := false
			if fsEvent.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(fsEvent.Name); err == nil && info.IsDir() {
					isDir = true
					if err := w.addRecursive(fsEvent.Name); err != nil {
						logger.Log.Warn("failed to watch new directory",
							zap.String("path", fsEvent.Name),
							zap.Error(err))
					}
				}
			}

			w.handle(fsEvent.Op, w.rel(fsEvent.Name), isDir, time.Now())

			switch {
			case w.pending != nil && timer == nil:
				timer = time.NewTimer(w.window)
				timerC = timer.C
			case w.pending == nil && timer != nil:
				timer.Stop()
				timer, timerC = nil, nil
			}

		case <-timerC:
			timer, timerC = nil, nil
			w.expire()

		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}

			logger.Log.Error("watcher error",
				zap.Error(err))
		}
	}
}

// handle converts one notification. A Rename is held back until the next
// Create pairs with it or the window expires.
func (w *Watcher) handle(op fsnotify.Op, path string, isDir bool, now time.Time) {
	if path == "" || strings.HasSuffix(path, util.TempSuffix) {
		return
	}

	switch {
	case op.Has(fsnotify.Rename):
		w.expire()
		w.pending = &model.FileEvent{Type: model.EventRemove, Path: path, Timestamp: now}

	case op.Has(fsnotify.Create):
		if w.pending != nil {
			from := w.pending.Path
			w.pending = nil
			w.emit(model.FileEvent{Type: model.EventRename, Path: path, OldPath: from, IsDir: isDir, Timestamp: now})
			return
		}
		w.emit(model.FileEvent{Type: model.EventCreate, Path: path, IsDir: isDir, Timestamp: now})

	case op.Has(fsnotify.Write):
		w.emit(model.FileEvent{Type: model.EventWrite, Path: path, Timestamp: now})

	case op.Has(fsnotify.Remove):
		w.emit(model.FileEvent{Type: model.EventRemove, Path: path, Timestamp: now})
	}
}

// expire turns an unpaired rename into a remove; the file left the root.
func (w *Watcher) expire() {
	if w.pending == nil {
		return
	}
	ev := *w.pending
	w.pending = nil
	w.emit(ev)
}

func (w *Watcher) emit(event model.FileEvent) {
	select {
	case w.eventCh <- event:
	default:
		logger.Log.Warn("event channel is full, dropping event",
			zap.String("path", event.Path))
	}
}

// rel maps an absolute fsnotify name to a slash path below the root.
func (w *Watcher) rel(name string) string {
	rel, err := filepath.Rel(w.root, name)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return ""
	}
	return filepath.ToSlash(rel)
}

func (w *Watcher) Events() <-chan model.FileEvent {
	return w.eventCh
}

func (w *Watcher) Stop() {
	close(w.doneCh)
	_ = w.fw.Close()
}
