package deploy

import (
	"context"

	"github.com/coredeploy/vertexd/cmn/xerrors"
)

type workerCtxKey struct{}

// WithWorkerThread marks ctx as running on a deployment worker thread.
// Callers that drive DeployModule/DeployVerticle/Undeploy/Reload — the CLI
// launcher, Reloader.Trigger — must wrap their context with this before
// calling in; RequireWorkerThread rejects anything that didn't.
func WithWorkerThread(ctx context.Context) context.Context {
	return context.WithValue(ctx, workerCtxKey{}, true)
}

// RequireWorkerThread enforces that deployment operations run on a worker
// thread; the runtime refuses otherwise rather than risk a torn
// deployment-tree mutation from a caller's own goroutine.
func RequireWorkerThread(ctx context.Context) error {
	if v, _ := ctx.Value(workerCtxKey{}).(bool); v {
		return nil
	}
	return xerrors.New(xerrors.KindValidation, "deployment operation invoked off the worker thread")
}
