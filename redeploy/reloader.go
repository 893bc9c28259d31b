// Package redeploy implements the two interchangeable engines that watch a
// module's directory tree and emit "module changed" events after
// quiescence: a native fsnotify-backed watcher and a
// godirwalk polling walker. Both funnel into the same Reloader coupling.
package redeploy

import (
	"context"
	"sync"

	"github.com/coredeploy/vertexd/deploy"
	"github.com/coredeploy/vertexd/metrics"
	"github.com/coredeploy/vertexd/xlog"
)

// TreeLookup is the slice of deploy.Tree the Reloader needs: resolving a
// module name to the deployments currently bound to it.
type TreeLookup interface {
	NamesForModule(moduleName string) []string
}

// Undeployer is the slice of deploy.Runtime the Reloader drives.
type Undeployer interface {
	Reload(ctx context.Context, names []string, done func(name string, err error))
}

// Reloader translates a change event on one module into an
// undeploy-then-redeploy of every deployment bound to it. It implements deploy.Redeployer, so a Runtime
// registers/unregisters directly against it.
type Reloader struct {
	tree    TreeLookup
	runtime Undeployer

	mu      sync.Mutex
	watched map[string]string // module name -> module directory
}

func NewReloader(tree TreeLookup, runtime Undeployer) *Reloader {
	return &Reloader{
		tree:    tree,
		runtime: runtime,
		watched: make(map[string]string),
	}
}

func (r *Reloader) ModuleDeployed(moduleName, moduleDir string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.watched[moduleName] = moduleDir
}

func (r *Reloader) ModuleUndeployed(moduleName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.watched, moduleName)
}

// WatchedDir returns the registered directory for moduleName, or "" if it
// is not currently watched (it may have been undeployed since the engine
// last scanned it — a shutdown race the engine must treat as a no-op).
func (r *Reloader) WatchedDir(moduleName string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.watched[moduleName]
}

// WatchedModules returns a snapshot of every currently-registered module
// name, for an engine to seed its watch set from.
func (r *Reloader) WatchedModules() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.watched))
	for k, v := range r.watched {
		out[k] = v
	}
	return out
}

// Trigger reloads every deployment bound to moduleName. It is a no-op —
// not an error — if the module has since been undeployed.
func (r *Reloader) Trigger(ctx context.Context, moduleName string) {
	if r.WatchedDir(moduleName) == "" {
		return
	}
	names := r.tree.NamesForModule(moduleName)
	if len(names) == 0 {
		return
	}
	metrics.RedeploysTotal.Inc()
	ctx = deploy.WithWorkerThread(ctx)
	r.runtime.Reload(ctx, names, func(name string, err error) {
		if err != nil {
			xlog.Warningf("redeploy: reloading %s (module %s): %v", name, moduleName, err)
		}
	})
}

var _ deploy.Redeployer = (*Reloader)(nil)
