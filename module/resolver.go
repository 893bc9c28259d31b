package module

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/seiflotfy/cuckoofilter"
	"golang.org/x/sync/singleflight"

	"github.com/coredeploy/vertexd/cmn/xerrors"
	"github.com/coredeploy/vertexd/metrics"
	"github.com/coredeploy/vertexd/tracing"
	"github.com/coredeploy/vertexd/xlog"
)

// VisitResult replaces exception-based walker control flow with an
// explicit return value a Visitor hands back after each module is
// visited.
type VisitResult int

const (
	VisitContinue VisitResult = iota
	VisitSkipSubtree
	VisitSkipSiblings
	VisitTerminate
)

// Visitor customizes the DFS walk. The default Resolver policy implements
// the include-graph walk exactly; a custom Visitor is primarily a testing
// and extensibility seam.
type Visitor interface {
	// Visit is called once per module, after its own directory/jars have
	// been folded into Dependencies but before its includes are walked.
	Visit(name string, deps *Dependencies) VisitResult
	// Missing is called when an include is not present on disk and every
	// configured Repository failed to install it. Returning true tells the
	// walker to treat the include as skipped rather than fail resolution;
	// the default policy always returns false.
	Missing(name string) bool
}

type defaultVisitor struct{}

func (defaultVisitor) Visit(string, *Dependencies) VisitResult { return VisitContinue }
func (defaultVisitor) Missing(string) bool                     { return false }

// Resolver resolves a module's transitive include graph: cycle detection,
// jar-collision accounting, classpath construction.
type Resolver struct {
	ModRoot      string
	Repositories []Repository
	InstallTimeout time.Duration
	Visitor      Visitor

	visited *cuckoofilter.Filter // fast "definitely not visited" pre-check
	group   singleflight.Group   // dedupes concurrent installs of the same name
}

// NewResolver builds a Resolver rooted at modRoot, trying repos in order on
// a missing include.
func NewResolver(modRoot string, repos []Repository, installTimeout time.Duration) *Resolver {
	if installTimeout <= 0 {
		installTimeout = 30 * time.Second
	}
	return &Resolver{
		ModRoot:        modRoot,
		Repositories:   repos,
		InstallTimeout: installTimeout,
		Visitor:        defaultVisitor{},
		visited:        cuckoofilter.NewFilter(1024),
	}
}

// Install ensures name is present under ModRoot, trying each configured
// repository in order and stopping at the first success. It
// is a no-op if the module directory already exists.
func (r *Resolver) Install(ctx context.Context, name string) error {
	if Exists(r.ModRoot, name) {
		return nil
	}
	_, err, _ := r.group.Do(name, func() (any, error) {
		if Exists(r.ModRoot, name) {
			return nil, nil
		}
		var lastErr error
		for _, repo := range r.Repositories {
			ictx, span := tracing.StartInstall(ctx, name, repo.Name())
			ictx, cancel := context.WithTimeout(ictx, r.InstallTimeout)
			err := repo.Install(ictx, name, r.ModRoot)
			cancel()
			if err == nil {
				span.End()
				metrics.RepositoryInstalls.WithLabelValues(repo.Name(), "ok").Inc()
				xlog.Infof("module %s installed via %s", name, repo.Name())
				return nil, nil
			}
			span.End()
			metrics.RepositoryInstalls.WithLabelValues(repo.Name(), "error").Inc()
			xlog.Warningf("module %s: repository %s failed: %v", name, repo.Name(), err)
			lastErr = err
		}
		if lastErr == nil {
			lastErr = fmt.Errorf("no repositories configured")
		}
		return nil, xerrors.Wrap(xerrors.KindResolution, lastErr, "install failed: "+name)
	})
	return err
}

// Resolve walks the include graph of name depth-first, seeding
// Dependencies with name's own contributions first (outer module wins
// classpath precedence). It is idempotent: repeated calls
// against an unchanged module tree return the same URL ordering and the
// same IncludedModules set.
func (r *Resolver) Resolve(ctx context.Context, name string) *Dependencies {
	start := time.Now()
	ctx, span := tracing.StartResolve(ctx, name)
	defer span.End()

	deps := newDependencies(name)
	deps.Success = true
	r.walk(ctx, name, deps)
	metrics.ResolveDuration.Observe(time.Since(start).Seconds())
	return deps
}

func (r *Resolver) walk(ctx context.Context, name string, deps *Dependencies) VisitResult {
	// Cuckoo filter first: a "definitely not visited" answer skips the map
	// lookup outright; a "maybe visited" answer falls through to the exact
	// IncludedModules set, which is always the source of truth and is what
	// makes cycles impossible.
	if r.visited.Lookup([]byte(name)) {
		if _, ok := deps.IncludedModules[name]; ok {
			return VisitContinue
		}
	}

	r.visited.InsertUnique([]byte(name))

	modDir := Dir(r.ModRoot, name)
	deps.addURL(dirURL(modDir))

	r.collectJars(modDir, name, deps)
	deps.visit(name)

	result := r.Visitor.Visit(name, deps)
	if result == VisitTerminate || result == VisitSkipSubtree {
		return result
	}

	cfg, err := LoadConfig(r.ModRoot, name)
	if err != nil {
		deps.warn("module %s: %v", name, err)
		return VisitContinue
	}
	for _, inc := range cfg.Includes() {
		if _, ok := deps.IncludedModules[inc]; ok {
			continue // each include resolved at most once
		}
		if !Exists(r.ModRoot, inc) {
			if err := r.Install(ctx, inc); err != nil {
				if r.Visitor.Missing(inc) {
					deps.warn("module %s: include %s unavailable, skipped", name, inc)
					continue
				}
				deps.warn("module %s: include %s: %v", name, inc, err)
				deps.Success = false
				return VisitTerminate
			}
		}
		if sub := r.walk(ctx, inc, deps); sub == VisitTerminate {
			return VisitTerminate
		} else if sub == VisitSkipSiblings {
			break
		}
	}
	return VisitContinue
}

// collectJars enumerates the non-recursive file children of
// <modDir>/lib/*, recording collisions across modules.
func (r *Resolver) collectJars(modDir, owner string, deps *Dependencies) {
	libDir := filepath.Join(modDir, "lib")
	entries, err := os.ReadDir(libDir)
	if err != nil {
		return // no lib/ directory is not an error
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		base := e.Name()
		if owners, ok := deps.IncludedJars[base]; ok {
			deps.IncludedJars[base] = append(owners, owner)
			deps.warn("jar collision: %s contributed by %v and %s", base, owners, owner)
			continue
		}
		deps.IncludedJars[base] = []string{owner}
		deps.addURL(dirURL(filepath.Join(libDir, base)))
	}
}

func dirURL(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "file://" + path
	}
	return "file://" + filepath.ToSlash(abs)
}
