package deploy

import (
	"context"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/teris-io/shortid"

	"github.com/coredeploy/vertexd/async"
	"github.com/coredeploy/vertexd/cmn/xerrors"
	"github.com/coredeploy/vertexd/metrics"
	"github.com/coredeploy/vertexd/module"
	"github.com/coredeploy/vertexd/tracing"
	"github.com/coredeploy/vertexd/xlog"
)

// Redeployer is the narrow slice of the redeploy package's contract
// VerticleRuntime needs: registering/unregistering a module directory for
// watching. Defined here, not imported
// from the redeploy package, so deploy has no dependency on it — redeploy
// depends on deploy instead.
type Redeployer interface {
	ModuleDeployed(moduleName, moduleDir string)
	ModuleUndeployed(moduleName string)
}

type noopRedeployer struct{}

func (noopRedeployer) ModuleDeployed(string, string) {}
func (noopRedeployer) ModuleUndeployed(string)       {}

// DoneHandler is invoked exactly once per deploy/undeploy call, on success
// with (deploymentName, nil) and on failure with ("", err).
type DoneHandler func(deploymentName string, err error)

// Runtime builds per-instance execution units from a dependency-resolved
// module and runs their lifecycle hooks.
type Runtime struct {
	Tree       *Tree
	Resolver   *module.Resolver
	Factories  *FactoryMap
	Runner     *async.Runner
	Redeployer Redeployer
}

// NewRuntime wires a Runtime; redeployer may be nil, in which case
// auto-redeploy registration is a no-op.
func NewRuntime(tree *Tree, resolver *module.Resolver, factories *FactoryMap, runner *async.Runner, redeployer Redeployer) *Runtime {
	if redeployer == nil {
		redeployer = noopRedeployer{}
	}
	return &Runtime{Tree: tree, Resolver: resolver, Factories: factories, Runner: runner, Redeployer: redeployer}
}

// DeployModuleRequest bundles deploy_module's parameters; ParentName is the deploying party's own deployment name, if any.
type DeployModuleRequest struct {
	DeploymentName string // optional; generated from uuid.NewString() if empty
	ModuleName     string
	Config         map[string]any
	Instances      int
	CWD            string // optional override, honored only if the module's preserve-cwd is set
	ParentName     string
}

// DeployModule resolves mod_name, launches Instances execution units, and
// registers the result in the tree. ctx must carry
// WithWorkerThread — RequireWorkerThread enforces this.
func (rt *Runtime) DeployModule(ctx context.Context, req DeployModuleRequest, done DoneHandler) {
	if err := RequireWorkerThread(ctx); err != nil {
		done("", err)
		return
	}
	if req.Instances < 1 {
		req.Instances = 1
	}

	ctx, span := tracing.StartDeploy(ctx, req.ModuleName, req.DeploymentName)
	defer span.End()

	deps := rt.Resolver.Resolve(ctx, req.ModuleName)
	if !deps.Success {
		done("", xerrors.Newf(xerrors.KindResolution, "resolving %s: %v", req.ModuleName, deps.Warnings))
		return
	}

	cfg, err := module.LoadConfig(rt.Resolver.ModRoot, req.ModuleName)
	if err != nil {
		done("", err)
		return
	}
	if !cfg.Runnable() {
		done("", xerrors.New(xerrors.KindConfiguration, "module has no main: "+req.ModuleName))
		return
	}

	modDir := module.Dir(rt.Resolver.ModRoot, req.ModuleName)
	effectiveCWD := modDir
	if cfg.PreserveCWD && req.CWD != "" {
		effectiveCWD = req.CWD
	}

	factory, err := rt.Factories.Resolve(cfg.Main)
	if err != nil {
		done("", err)
		return
	}

	name := req.DeploymentName
	if name == "" {
		name = uuid.NewString()
	}
	d := &Deployment{
		Name:          name,
		ModuleName:    req.ModuleName,
		InstanceCount: req.Instances,
		Config:        req.Config,
		ClasspathURLs: deps.URLs,
		ModDir:        effectiveCWD,
		ParentName:    req.ParentName,
		AutoRedeploy:  cfg.AutoRedeploy,
	}
	if err := rt.Tree.Insert(d); err != nil {
		done("", err)
		return
	}
	metrics.DeploymentsActive.Inc()

	rt.launchInstances(ctx, d, factory, cfg.Worker, cfg.Main, func(failed bool) {
		if failed {
			rt.Undeploy(ctx, d.Name, func(string, error) {})
			done("", xerrors.New(xerrors.KindRuntime, "one or more instances failed to start: "+d.Name))
			return
		}
		if d.AutoRedeploy {
			rt.Redeployer.ModuleDeployed(d.ModuleName, modDir)
		}
		done(d.Name, nil)
	})
}

// DeployVerticleRequest is the ad-hoc variant of deploy_module: urls are
// caller-supplied and includes is an optional comma-separated list of
// module names resolved once and appended to the classpath.
type DeployVerticleRequest struct {
	DeploymentName string
	Main           string
	Config         map[string]any
	URLs           []string
	Instances      int
	Worker         bool
	CWD            string
	Includes       string
	ParentName     string
}

// DeployVerticle is deploy_module's ad-hoc sibling: no ModuleName is
// recorded, urls are preset by the caller.
func (rt *Runtime) DeployVerticle(ctx context.Context, req DeployVerticleRequest, done DoneHandler) {
	if err := RequireWorkerThread(ctx); err != nil {
		done("", err)
		return
	}
	if req.Instances < 1 {
		req.Instances = 1
	}

	ctx, span := tracing.StartDeploy(ctx, "", req.DeploymentName)
	defer span.End()

	urls := append([]string(nil), req.URLs...)
	for _, inc := range splitIncludes(req.Includes) {
		deps := rt.Resolver.Resolve(ctx, inc)
		if !deps.Success {
			done("", xerrors.Newf(xerrors.KindResolution, "resolving include %s: %v", inc, deps.Warnings))
			return
		}
		urls = append(urls, deps.URLs...)
	}

	factory, err := rt.Factories.Resolve(req.Main)
	if err != nil {
		done("", err)
		return
	}

	name := req.DeploymentName
	if name == "" {
		name = uuid.NewString()
	}
	d := &Deployment{
		Name:          name,
		InstanceCount: req.Instances,
		Config:        req.Config,
		ClasspathURLs: urls,
		ModDir:        req.CWD,
		ParentName:    req.ParentName,
	}
	if err := rt.Tree.Insert(d); err != nil {
		done("", err)
		return
	}
	metrics.DeploymentsActive.Inc()

	rt.launchInstances(ctx, d, factory, req.Worker, req.Main, func(failed bool) {
		if failed {
			rt.Undeploy(ctx, d.Name, func(string, error) {})
			done("", xerrors.New(xerrors.KindRuntime, "one or more instances failed to start: "+d.Name))
			return
		}
		done(d.Name, nil)
	})
}

func splitIncludes(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// launchInstances spawns d.InstanceCount execution units in index order;
// they may complete in any order. Worker modules share one ExecutionContext
// across instances, since a worker module's instances are meant to share
// state rather than run in isolation.
func (rt *Runtime) launchInstances(ctx context.Context, d *Deployment, factory Factory, worker bool, main string, onDone func(failed bool)) {
	var shared *ExecutionContext
	if worker {
		shared = &ExecutionContext{Deployment: d}
	}

	handler := async.NewCountingHandler(d.InstanceCount, onDone)
	for i := 0; i < d.InstanceCount; i++ {
		i := i
		ec := shared
		if ec == nil {
			ec = &ExecutionContext{Deployment: d}
		}
		// shortid, not a plain counter, disambiguates per-instance loggers
		// when instances of the same deployment start concurrently on the
		// worker pool and would otherwise share a millisecond-resolution
		// timestamp.
		sid, err := shortid.Generate()
		if err != nil {
			sid = strconv.Itoa(i)
		}
		holder := &VerticleHolder{
			DeploymentName: d.Name,
			InstanceIndex:  i,
			LoggerName:     d.Name + "#" + strconv.Itoa(i) + "-" + sid,
			ConfigSnapshot: d.Config,
			state:          stateCreating,
		}
		ec.Instance = holder
		d.VerticleHolders = append(d.VerticleHolders, holder)

		async.SubmitCtx(rt.Runner, ctx, func(ctx context.Context) (struct{}, error) {
			v, err := factory.CreateVerticle(main, d.Config)
			if err != nil {
				holder.state = stateStopped
				xlog.Warningf("deployment %s instance %d: factory error: %v", d.Name, i, err)
				handler.Failed()
				return struct{}{}, nil
			}
			holder.Verticle = v
			if err := v.Start(ctx, ec); err != nil {
				holder.state = stateStopped
				xlog.Warningf("deployment %s instance %d: start failed: %v", d.Name, i, err)
				handler.Failed()
				return struct{}{}, nil
			}
			holder.state = stateReady
			handler.Succeeded()
			return struct{}{}, nil
		})
	}
}

// Undeploy removes name from the tree depth-first: every child is fully
// undeployed before name's own instances are stopped and it is removed
// from its parent's child list.
func (rt *Runtime) Undeploy(ctx context.Context, name string, done DoneHandler) {
	if err := RequireWorkerThread(ctx); err != nil {
		done("", err)
		return
	}
	d, ok := rt.Tree.Get(name)
	if !ok {
		done(name, nil) // already gone: undeploy is idempotent
		return
	}

	ctx, span := tracing.StartUndeploy(ctx, name)
	defer span.End()

	for _, child := range append([]string(nil), d.ChildNames...) {
		childDone := make(chan struct{})
		rt.Undeploy(ctx, child, func(string, error) { close(childDone) })
		<-childDone
	}

	handler := async.NewCountingHandler(max(1, len(d.VerticleHolders)), func(bool) {
		if d.AutoRedeploy {
			rt.Redeployer.ModuleUndeployed(d.ModuleName)
		}
		_ = rt.Tree.Remove(name)
		metrics.DeploymentsActive.Dec()
		done(name, nil)
	})
	if len(d.VerticleHolders) == 0 {
		handler.Succeeded()
		return
	}
	for _, h := range d.VerticleHolders {
		h := h
		ec := &ExecutionContext{Deployment: d, Instance: h}
		async.SubmitCtx(rt.Runner, ctx, func(ctx context.Context) (struct{}, error) {
			h.state = stateStopping
			if h.Verticle != nil {
				if err := h.Verticle.Stop(ctx, ec); err != nil {
					xlog.Warningf("deployment %s instance %d: stop error: %v", name, h.InstanceIndex, err)
				}
			}
			for _, hook := range ec.CloseHooks {
				if err := hook(ctx); err != nil {
					xlog.Warningf("deployment %s instance %d: close hook error: %v", name, h.InstanceIndex, err)
				}
			}
			h.state = stateStopped
			handler.Succeeded()
			return struct{}{}, nil
		})
	}
}

// Reload undeploys then redeploys each named deployment using its recorded
// module name, config, and instance count.
func (rt *Runtime) Reload(ctx context.Context, names []string, done func(name string, err error)) {
	for _, name := range names {
		name := name
		d, ok := rt.Tree.Get(name)
		if !ok {
			continue
		}
		rt.Undeploy(ctx, name, func(_ string, err error) {
			if err != nil {
				done(name, err)
				return
			}
			rt.DeployModule(ctx, DeployModuleRequest{
				DeploymentName: d.Name,
				ModuleName:     d.ModuleName,
				Config:         d.Config,
				Instances:      d.InstanceCount,
				ParentName:     d.ParentName,
			}, func(_ string, err error) { done(name, err) })
		})
	}
}
