package scheduler

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/dl-alexandre/drivesync/internal/logging"
	"github.com/dl-alexandre/drivesync/internal/utils"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
)

var osFs = afero.NewOsFs()

// watcher reports changes anywhere below a root. fsnotify is not
// recursive, so every directory is added and new ones are added as they
// appear.
type watcher struct {
	fsw     *fsnotify.Watcher
	root    string
	ignore  func(relPath string, isDir bool) bool
	logger  logging.Logger
	changes chan struct{}
}

func newWatcher(root string, ignore func(string, bool) bool, logger logging.Logger) (*watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &watcher{
		fsw:     fsw,
		root:    root,
		ignore:  ignore,
		logger:  logger,
		changes: make(chan struct{}, 1),
	}
	if err := w.addTree(root); err != nil {
		if closeErr := fsw.Close(); closeErr != nil {
			logger.Warn("Failed to close file watcher", logging.F("error", closeErr.Error()))
		}
		return nil, err
	}
	go w.loop()
	return w, nil
}

func (w *watcher) Close() error {
	return w.fsw.Close()
}

func (w *watcher) addTree(dir string) error {
	return afero.Walk(osFs, dir, func(current string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if current != w.root && w.ignored(current, true) {
			return filepath.SkipDir
		}
		return w.fsw.Add(current)
	})
}

func (w *watcher) ignored(abs string, isDir bool) bool {
	if strings.HasSuffix(abs, utils.PartialDownloadSuffix) {
		return true
	}
	if w.ignore == nil {
		return false
	}
	rel, err := filepath.Rel(w.root, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return true
	}
	return w.ignore(filepath.ToSlash(rel), isDir)
}

func (w *watcher) loop() {
	defer close(w.changes)
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op == fsnotify.Chmod {
				continue
			}
			isDir := false
			if event.Op&fsnotify.Create != 0 {
				if info, err := osFs.Stat(event.Name); err == nil && info.IsDir() {
					isDir = true
					if !w.ignored(event.Name, true) {
						if err := w.addTree(event.Name); err != nil {
							w.logger.Warn("Failed to watch new directory", logging.F("path", event.Name), logging.F("error", err.Error()))
						}
					}
				}
			}
			if w.ignored(event.Name, isDir) {
				continue
			}
			select {
			case w.changes <- struct{}{}:
			default:
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("File watcher error", logging.F("error", err.Error()))
		}
	}
}
