package module

import "context"

// Repository installs name under modRoot such that
// <modRoot>/<name>/mod.json exists on success. Concrete backends (HTTP,
// fasthttp, S3, Azure Blob, GCS, OCI Object Storage — see the repo
// subpackage) each implement this against a different transport;
// ModuleResolver.Install tries a caller-supplied ordered list, stopping at
// the first success.
//
// Failure is always non-fatal to the resolver: a timeout, a transport
// error, and a malformed archive are all reported as a returned error so
// the resolver can move on to the next configured repository.
type Repository interface {
	Install(ctx context.Context, name, modRoot string) error
	// Name identifies the backend for logging/tracing (e.g. "s3://bucket").
	Name() string
}
