package redeploy

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/OneOfOne/xxhash"
	"github.com/karrick/godirwalk"

	"github.com/coredeploy/vertexd/timer"
	"github.com/coredeploy/vertexd/xlog"
)

// moduleScanState is one registered module's state as of the previous scan
// cycle.
type moduleScanState struct {
	dir       string
	mtimes    map[string]time.Time
	shapeHash uint64
	dirty     bool
}

// Poll is the polling-walker Redeployer engine: a periodic timer scans
// each registered directory tree, comparing file modification times
// against the previous scan.
//
// A pure mtime comparison misses a deleted subdirectory whose remaining
// files are untouched. Poll additionally
// hashes the sorted list of relative paths seen on each scan with xxhash;
// a deletion changes that digest even when no surviving file's mtime
// does, without an extra os.Stat probe per candidate path.
type Poll struct {
	reloader    *Reloader
	checkPeriod time.Duration
	clock       timer.Timer
	grace       *timer.Timeout
	closeOnce   sync.Once

	mu     sync.Mutex
	states map[string]*moduleScanState
}

// NewPoll builds and starts a Poll engine ticking every checkPeriod.
func NewPoll(reloader *Reloader, checkPeriod time.Duration) *Poll {
	if checkPeriod <= 0 {
		checkPeriod = 2 * time.Second
	}
	p := &Poll{
		reloader:    reloader,
		checkPeriod: checkPeriod,
		clock:       timer.NewDedicated(100*time.Millisecond, 64, 16),
		states:      make(map[string]*moduleScanState),
	}
	p.grace = p.clock.NewTimeout(timer.TaskFunc(p.scanAll), checkPeriod, true)
	return p
}

func (p *Poll) RegisterModule(moduleName, dir string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	mtimes, hash, err := scanTree(dir)
	if err != nil {
		xlog.Warningf("redeploy poll: initial scan of %s: %v", dir, err)
	}
	p.states[moduleName] = &moduleScanState{dir: dir, mtimes: mtimes, shapeHash: hash}
}

func (p *Poll) UnregisterModule(moduleName string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.states, moduleName)
}

func (p *Poll) Close() error {
	p.closeOnce.Do(func() {
		p.clock.Remove(p.grace)
		p.clock.Stop()
	})
	return nil
}

func (p *Poll) scanAll(*timer.Timeout) {
	p.mu.Lock()
	names := make([]string, 0, len(p.states))
	for name := range p.states {
		names = append(names, name)
	}
	p.mu.Unlock()

	for _, name := range names {
		p.scanOne(name)
	}
}

func (p *Poll) scanOne(moduleName string) {
	p.mu.Lock()
	state, ok := p.states[moduleName]
	if !ok {
		p.mu.Unlock()
		return // unregistered since names was snapshotted
	}
	dir := state.dir
	p.mu.Unlock()

	mtimes, hash, err := scanTree(dir)
	if err != nil {
		xlog.Warningf("redeploy poll: scanning %s: %v", dir, err)
		return
	}

	p.mu.Lock()
	state, ok = p.states[moduleName]
	if !ok {
		p.mu.Unlock()
		return
	}
	changed := hash != state.shapeHash
	if !changed {
		for path, mtime := range mtimes {
			if old, ok := state.mtimes[path]; !ok || mtime.After(old) {
				changed = true
				break
			}
		}
	}

	shouldTrigger := !changed && state.dirty
	state.mtimes = mtimes
	state.shapeHash = hash
	state.dirty = changed
	p.mu.Unlock()

	if shouldTrigger {
		p.reloader.Trigger(context.Background(), moduleName)
	}
}

// scanTree walks root recursively, returning every regular file's relative
// path mapped to its modification time, plus an xxhash digest of the
// sorted list of every path (file or directory) seen.
func scanTree(root string) (map[string]time.Time, uint64, error) {
	mtimes := make(map[string]time.Time)
	var paths []string

	err := godirwalk.Walk(root, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			paths = append(paths, rel)
			if de.IsDir() {
				return nil
			}
			info, err := os.Stat(path)
			if err != nil {
				return nil // file vanished mid-walk; next scan will see the deletion via shapeHash
			}
			mtimes[rel] = info.ModTime()
			return nil
		},
	})
	if err != nil {
		return nil, 0, err
	}

	sort.Strings(paths)
	h := xxhash.New64()
	h.Write([]byte(strings.Join(paths, "\n")))
	return mtimes, h.Sum64(), nil
}
