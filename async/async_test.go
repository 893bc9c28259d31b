package async_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coredeploy/vertexd/async"
)

func TestActionFutureGetTimesOut(t *testing.T) {
	f := async.NewActionFuture[int]()
	r := f.Get(10 * time.Millisecond)
	if r.Outcome != async.TimedOut {
		t.Fatalf("expected TimedOut, got %v", r.Outcome)
	}
}

func TestActionFutureCompleteThenGet(t *testing.T) {
	f := async.NewActionFuture[int]()
	f.Complete(42)
	r := f.Get(time.Second)
	if r.Outcome != async.Ok || r.Value != 42 {
		t.Fatalf("expected Ok(42), got %v / %v", r.Outcome, r.Value)
	}
}

func TestActionFutureSecondCompleteIgnored(t *testing.T) {
	f := async.NewActionFuture[int]()
	f.Complete(1)
	f.Complete(2)
	r := f.Get(time.Second)
	if r.Value != 1 {
		t.Fatalf("expected first Complete to win, got %v", r.Value)
	}
}

func TestActionFutureFail(t *testing.T) {
	f := async.NewActionFuture[int]()
	f.Fail(errors.New("boom"))
	r := f.Get(time.Second)
	if r.Outcome != async.Err || r.Err == nil {
		t.Fatalf("expected Err, got %v", r.Outcome)
	}
}

func TestCountingHandlerFiresOnceOnLastArrival(t *testing.T) {
	var fired int32
	var gotFailed bool
	h := async.NewCountingHandler(3, func(failed bool) {
		atomic.AddInt32(&fired, 1)
		gotFailed = failed
	})
	h.Succeeded()
	h.Failed()
	if atomic.LoadInt32(&fired) != 0 {
		t.Fatal("handler fired before all completions arrived")
	}
	h.Succeeded()
	if atomic.LoadInt32(&fired) != 1 {
		t.Fatalf("expected handler to fire exactly once, fired=%d", fired)
	}
	if !gotFailed {
		t.Fatal("expected sticky failure bit to propagate")
	}
}

func TestRunnerSubmitRunsOnPool(t *testing.T) {
	r := async.NewRunner(2)
	defer r.Close()
	fut := async.Submit(r, func(ctx context.Context) (string, error) {
		return "done", nil
	})
	res := fut.Get(time.Second)
	if res.Outcome != async.Ok || res.Value != "done" {
		t.Fatalf("expected Ok(done), got %v/%v", res.Outcome, res.Value)
	}
}

func TestRunnerSubmitPropagatesError(t *testing.T) {
	r := async.NewRunner(1)
	defer r.Close()
	fut := async.Submit(r, func(ctx context.Context) (int, error) {
		return 0, errors.New("install failed")
	})
	res := fut.Get(time.Second)
	if res.Outcome != async.Err {
		t.Fatalf("expected Err, got %v", res.Outcome)
	}
}
