package redeploy

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/karrick/godirwalk"

	"github.com/coredeploy/vertexd/timer"
	"github.com/coredeploy/vertexd/xlog"
)

// Watcher is the native-watcher Redeployer engine:
// it subscribes every watched module's directory tree recursively via
// fsnotify and arms a timer-wheel grace timeout per module, re-armed on
// every event so a write burst collapses into a single reload once the
// tree has been silent for one checkPeriod.
type Watcher struct {
	reloader    *Reloader
	fsw         *fsnotify.Watcher
	clock       timer.Timer
	checkPeriod time.Duration
	closeOnce   sync.Once

	mu          sync.Mutex
	dirToModule map[string]string
	graceTimers map[string]*timer.Timeout
}

// NewWatcher builds and starts a Watcher. It owns its own dedicated timer
// wheel rather than sharing the caller's, since grace timeouts are an
// internal implementation detail of the engine.
func NewWatcher(reloader *Reloader, checkPeriod time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if checkPeriod <= 0 {
		checkPeriod = 2 * time.Second
	}
	w := &Watcher{
		reloader:    reloader,
		fsw:         fsw,
		clock:       timer.NewDedicated(50*time.Millisecond, 64, 16),
		checkPeriod: checkPeriod,
		dirToModule: make(map[string]string),
		graceTimers: make(map[string]*timer.Timeout),
	}
	go w.loop()
	return w, nil
}

// RegisterModule starts watching dir (and every existing subdirectory)
// under moduleName. Called by VerticleRuntime when a module with
// auto-redeploy set deploys successfully.
func (w *Watcher) RegisterModule(moduleName, dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.addTreeLocked(dir, moduleName)
}

// UnregisterModule stops watching moduleName's directories and cancels any
// pending grace timer. Safe to call even if the module was never
// registered.
func (w *Watcher) UnregisterModule(moduleName string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for dir, mod := range w.dirToModule {
		if mod == moduleName {
			_ = w.fsw.Remove(dir)
			delete(w.dirToModule, dir)
		}
	}
	if t, ok := w.graceTimers[moduleName]; ok {
		t.Cancel()
		delete(w.graceTimers, moduleName)
	}
}

// Close stops the engine. Idempotent; any grace timer fire observed after
// Close is a shutdown race and is silently dropped by Trigger's own
// watched-module check.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.clock.Stop()
		err = w.fsw.Close()
	})
	return err
}

func (w *Watcher) addTreeLocked(root, moduleName string) error {
	return godirwalk.Walk(root, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if !de.IsDir() {
				return nil
			}
			if err := w.fsw.Add(path); err != nil {
				return err
			}
			w.dirToModule[path] = moduleName
			return nil
		},
	})
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			xlog.Warningf("redeploy watcher: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	w.mu.Lock()
	moduleName, ok := w.resolveModuleLocked(filepath.Dir(ev.Name))
	if ok && ev.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			_ = w.addTreeLocked(ev.Name, moduleName)
		}
	}
	w.mu.Unlock()
	if !ok {
		return
	}
	w.armGrace(moduleName)
}

func (w *Watcher) resolveModuleLocked(dir string) (string, bool) {
	for {
		if name, ok := w.dirToModule[dir]; ok {
			return name, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

// armGrace cancels any pending grace timer for moduleName and schedules a
// fresh one checkPeriod out, the collapse-a-burst-into-one-reload
// mechanism.
func (w *Watcher) armGrace(moduleName string) {
	w.mu.Lock()
	if old, ok := w.graceTimers[moduleName]; ok {
		old.Cancel()
	}
	w.mu.Unlock()

	t := w.clock.NewTimeout(timer.TaskFunc(func(*timer.Timeout) {
		w.mu.Lock()
		delete(w.graceTimers, moduleName)
		w.mu.Unlock()
		w.reloader.Trigger(context.Background(), moduleName)
	}), w.checkPeriod, false)

	w.mu.Lock()
	w.graceTimers[moduleName] = t
	w.mu.Unlock()
}
