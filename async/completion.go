package async

import "sync/atomic"

// CountingHandler is an atomic counter paired with a one-shot completion
// sink: the first failure sets a sticky bit, the last arrival invokes the
// supplied callback exactly once.
type CountingHandler struct {
	remaining int64
	failed    atomic.Bool
	fired     atomic.Bool
	onDone    func(failed bool)
}

// NewCountingHandler builds a handler expecting exactly n completions
// before onDone fires. n must be >= 1.
func NewCountingHandler(n int, onDone func(failed bool)) *CountingHandler {
	if n < 1 {
		n = 1
	}
	return &CountingHandler{remaining: int64(n), onDone: onDone}
}

// Succeeded reports one successful completion.
func (h *CountingHandler) Succeeded() { h.arrive(false) }

// Failed reports one failed completion; sets the sticky failure bit.
func (h *CountingHandler) Failed() { h.arrive(true) }

func (h *CountingHandler) arrive(failed bool) {
	if failed {
		h.failed.Store(true)
	}
	if atomic.AddInt64(&h.remaining, -1) == 0 {
		if h.fired.CompareAndSwap(false, true) {
			h.onDone(h.failed.Load())
		}
	}
}
