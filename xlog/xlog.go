// Package xlog is the process-wide leveled logger. It is a thin wrapper
// around glog so that the rest of the tree never imports glog directly and
// can add call-site context (module name, deployment name) consistently.
package xlog

import (
	"fmt"

	"github.com/golang/glog"
)

// Infof logs at informational level.
func Infof(format string, args ...any) { glog.Infof(format, args...) }

// Warningf logs at warning level.
func Warningf(format string, args ...any) { glog.Warningf(format, args...) }

// Errorf logs at error level.
func Errorf(format string, args ...any) { glog.Errorf(format, args...) }

// V reports whether verbosity level l is enabled, mirroring glog's V(l).
func V(l glog.Level) bool { return bool(glog.V(l).Enabled()) }

// Flush flushes all pending log I/O; call before process exit.
func Flush() { glog.Flush() }

// Recover, deferred directly by the caller, logs (rather than propagates)
// any panic raised in the caller, tagged with ctx (e.g. "timer task"). The
// timer's task dispatch defers it so a user panic never takes down the
// worker thread or event loop that is running the task.
func Recover(ctx string) {
	if r := recover(); r != nil {
		glog.Errorf("%s: recovered from panic: %v", ctx, r)
	}
}

// Tag formats a short "[component] message" prefix, matching the bracketed
// component tags aistore's own log call sites use.
func Tag(component, format string, args ...any) string {
	return fmt.Sprintf("[%s] %s", component, fmt.Sprintf(format, args...))
}
