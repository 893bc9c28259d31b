// Package timer implements the hashed-wheel timer: Wheel, Bucket, Worker,
// and the Timer public facade in both of its deployment modes. All wheel/bucket/worker mutation happens on exactly one
// owning thread; everything else reaches the worker through a bounded,
// serially-drained event queue.
package timer

import (
	"strconv"
	"time"

	"github.com/coredeploy/vertexd/metrics"
	"github.com/coredeploy/vertexd/xlog"
)

const defaultQueueCapacity = 16

// Timer is the public facade: it masks whether the worker underneath is
// driven by a dedicated goroutine (mode A) or an external event loop's
// wait-timeout hook (mode B).
type Timer interface {
	// NewTimeout schedules task to run after delay. If periodic is true it
	// re-arms every delay (at least 1ms) until cancelled.
	NewTimeout(task Task, delay time.Duration, periodic bool) *Timeout
	// Remove cancels and dequeues t.
	Remove(t *Timeout)
	// Stop drains the timer and returns whatever was still pending.
	// Must not be called from within a firing task.
	Stop() []*Timeout
}

// dispatch runs task.Run(t), recovering and logging any panic so a user
// task can never kill the worker thread. A periodic
// task that panics stays scheduled — the panic only aborts this firing.
func dispatch(t *Timeout) {
	metrics.TimerFirings.WithLabelValues(strconv.FormatBool(t.Periodic())).Inc()
	defer xlog.Recover("timer task")
	t.Task.Run(t)
}

// ---- Mode A: dedicated worker goroutine -----------------------------------

// Dedicated is the mode-A Timer: a single background goroutine owns the
// Worker and drains a bounded event queue between ticks.
type Dedicated struct {
	worker  *Worker
	eventCh chan event
	doneCh  chan struct{}
}

// NewDedicated starts a Dedicated timer with the given tick duration and
// wheel size, using wall-clock milliseconds. queueCapacity <= 0 uses the
// suggested default of 16: producers block when the
// queue is full, which is the intended backpressure — queues here are
// either empty or full, never in between for long.
func NewDedicated(tickDuration time.Duration, wheelSize int, queueCapacity int) *Dedicated {
	if queueCapacity <= 0 {
		queueCapacity = defaultQueueCapacity
	}
	d := &Dedicated{
		worker:  NewWorker(tickDuration.Milliseconds(), wheelSize, nowMS),
		eventCh: make(chan event, queueCapacity),
		doneCh:  make(chan struct{}),
	}
	go d.loop()
	return d
}

func nowMS() int64 { return time.Now().UnixMilli() }

func (d *Dedicated) loop() {
	for {
		sleep := d.worker.SleepTime()
		if sleep < 0 {
			sleep = 0
		}
		select {
		case ev := <-d.eventCh:
			if d.handle(ev) {
				return
			}
			d.drainNonBlocking()
		case <-time.After(sleep):
			d.tick()
		}
	}
}

// drainNonBlocking forwards any further already-queued events before
// returning to the sleep/select loop, so a burst of schedule/remove calls
// doesn't each force a fresh SleepTime recomputation.
func (d *Dedicated) drainNonBlocking() {
	for {
		select {
		case ev := <-d.eventCh:
			if d.handle(ev) {
				return
			}
		default:
			return
		}
	}
}

// handle applies one event to the worker. It returns true iff the event was
// a shutdown request (caller should stop looping).
func (d *Dedicated) handle(ev event) bool {
	switch ev.kind {
	case eventSchedule:
		d.worker.Schedule(ev.schedule)
	case eventCancel:
		ev.cancel.Cancel()
		d.worker.Remove(ev.cancel)
	case eventShutdown:
		ev.done <- d.worker.Pending()
		close(d.doneCh)
		return true
	}
	return false
}

func (d *Dedicated) tick() {
	metrics.TimerTicks.Inc()
	expired := d.worker.Expired()
	d.worker.Notify(expired)
	for _, t := range expired {
		if t.State() == StateExpired {
			dispatch(t)
		}
	}
}

func (d *Dedicated) NewTimeout(task Task, delay time.Duration, periodic bool) *Timeout {
	deadline := nowMS() + delay.Milliseconds()
	var delayMS int64
	if periodic {
		delayMS = delay.Milliseconds()
		if delayMS <= 0 {
			delayMS = 1
		}
	}
	t := NewTimeout(deadline, delayMS, task)
	d.eventCh <- event{kind: eventSchedule, schedule: t}
	return t
}

func (d *Dedicated) Remove(t *Timeout) {
	t.Cancel()
	d.eventCh <- event{kind: eventCancel, cancel: t}
}

// Stop posts a shutdown event, waits for the worker goroutine to process
// and exit, and returns whatever timeouts were still pending. Must not be
// called from within a firing task (it would deadlock waiting on itself).
func (d *Dedicated) Stop() []*Timeout {
	done := make(chan []*Timeout, 1)
	d.eventCh <- event{kind: eventShutdown, done: done}
	pending := <-done
	<-d.doneCh
	return pending
}

// ---- Mode B: event-loop plug-in --------------------------------------------

// LoopPlugin is the mode-B Timer: the Worker is owned and driven by an
// external event loop's goroutine. Schedule/Remove may be called from any
// goroutine (they enqueue); the loop goroutine must call WaitTimeout before
// blocking on its selector and PostSelect immediately after waking, so that
// Worker mutation happens only on the loop's own thread.
type LoopPlugin struct {
	worker        *Worker
	eventCh       chan event
	defaultWait   time.Duration
	stopped       bool
}

// NewLoopPlugin builds a mode-B timer. defaultWait bounds how long
// WaitTimeout ever asks the loop to block, even if nothing is scheduled.
func NewLoopPlugin(tickDuration time.Duration, wheelSize int, defaultWait time.Duration, queueCapacity int) *LoopPlugin {
	if queueCapacity <= 0 {
		queueCapacity = defaultQueueCapacity
	}
	return &LoopPlugin{
		worker:      NewWorker(tickDuration.Milliseconds(), wheelSize, nowMS),
		eventCh:     make(chan event, queueCapacity),
		defaultWait: defaultWait,
	}
}

func (p *LoopPlugin) NewTimeout(task Task, delay time.Duration, periodic bool) *Timeout {
	deadline := nowMS() + delay.Milliseconds()
	var delayMS int64
	if periodic {
		delayMS = delay.Milliseconds()
		if delayMS <= 0 {
			delayMS = 1
		}
	}
	t := NewTimeout(deadline, delayMS, task)
	p.eventCh <- event{kind: eventSchedule, schedule: t}
	return t
}

func (p *LoopPlugin) Remove(t *Timeout) {
	t.Cancel()
	p.eventCh <- event{kind: eventCancel, cancel: t}
}

// Stop marks the plugin stopped, applies any queued schedule/remove events,
// and returns the timeouts still pending; after it, WaitTimeout returns 0
// and PostSelect no longer ticks. A second call returns nil. Like
// Dedicated.Stop, must not be called from within a firing task.
func (p *LoopPlugin) Stop() []*Timeout {
	if p.stopped {
		return nil
	}
	p.stopped = true
	p.drain()
	return p.worker.Pending()
}

// WaitTimeout is called by the event loop immediately before it blocks on
// its selector; it returns how long the loop may block, clamped to
// [0, defaultWait].
func (p *LoopPlugin) WaitTimeout() time.Duration {
	if p.stopped {
		return 0
	}
	p.drain()
	sleep := p.worker.SleepTime()
	if sleep < 0 {
		sleep = 0
	}
	if sleep > p.defaultWait {
		sleep = p.defaultWait
	}
	return sleep
}

// PostSelect is called by the event loop right after it wakes from its
// selector (whether due to I/O or the wait timing out); it applies queued
// schedule/remove events, advances the wheel, and dispatches fired tasks.
func (p *LoopPlugin) PostSelect() {
	if p.stopped {
		return
	}
	p.drain()
	metrics.TimerTicks.Inc()
	expired := p.worker.Expired()
	p.worker.Notify(expired)
	for _, t := range expired {
		if t.State() == StateExpired {
			dispatch(t)
		}
	}
}

func (p *LoopPlugin) drain() {
	for {
		select {
		case ev := <-p.eventCh:
			switch ev.kind {
			case eventSchedule:
				p.worker.Schedule(ev.schedule)
			case eventCancel:
				p.worker.Remove(ev.cancel)
			case eventShutdown:
				if ev.done != nil {
					ev.done <- p.worker.Pending()
				}
			}
		default:
			return
		}
	}
}

// interface guards
var (
	_ Timer = (*Dedicated)(nil)
	_ Timer = (*LoopPlugin)(nil)
)
