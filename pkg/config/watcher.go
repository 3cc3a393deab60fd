package config

import (
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/vinit-sh/vinit/pkg/logging"
)

// DirWatcher watches one or more service description directories for
// changes and reports the affected service name. It does not reload
// anything itself; callers wire OnChange to a loader's ReloadService.
type DirWatcher struct {
	w      *fsnotify.Watcher
	logger *logging.Logger
	done   chan struct{}

	// OnChange is invoked (on the watcher's own goroutine) with the
	// service name derived from the changed file's base name. Callers
	// must marshal back onto the cooperative scheduler thread before
	// touching any ServiceRecord state.
	OnChange func(name string)
}

// NewDirWatcher begins watching the given directories. A directory that
// does not exist yet is skipped rather than failing the whole watcher,
// since not every service directory is guaranteed to exist at startup.
func NewDirWatcher(dirs []string, logger *logging.Logger) (*DirWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	added := 0
	for _, dir := range dirs {
		if err := w.Add(dir); err == nil {
			added++
		} else {
			logger.Debug("Not watching %s: %v", dir, err)
		}
	}

	dw := &DirWatcher{w: w, logger: logger, done: make(chan struct{})}
	go dw.run()
	return dw, nil
}

func (dw *DirWatcher) run() {
	for {
		select {
		case ev, ok := <-dw.w.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			name := strings.TrimSuffix(filepath.Base(ev.Name), filepath.Ext(ev.Name))
			if dw.OnChange != nil {
				dw.OnChange(name)
			}
		case err, ok := <-dw.w.Errors:
			if !ok {
				return
			}
			dw.logger.Debug("Service directory watcher error: %v", err)
		case <-dw.done:
			return
		}
	}
}

// Close stops the watcher.
func (dw *DirWatcher) Close() error {
	close(dw.done)
	return dw.w.Close()
}
