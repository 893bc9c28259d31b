package timer

import "testing"

// virtualClock lets tests advance time deterministically instead of
// sleeping, by advancing a fake wall clock by a fixed number of milliseconds.
type virtualClock struct{ ms int64 }

func (c *virtualClock) now() int64    { return c.ms }
func (c *virtualClock) advance(d int64) { c.ms += d }

func newTestWorker(t *testing.T, tickMS int64, n int) (*Worker, *virtualClock) {
	t.Helper()
	vc := &virtualClock{ms: 0}
	w := NewWorker(tickMS, n, vc.now)
	return w, vc
}

// TestWheelModularIndexing checks that Wheel(N).Get(i) ==
// Wheel(N).Get(i mod N) for every N >= 1 and non-negative i.
func TestWheelModularIndexing(t *testing.T) {
	for _, n := range []int{1, 2, 3, 7, 16, 100} {
		w := NewWheel[int](n)
		for i := 0; i < n; i++ {
			w.Set(i, i+1)
		}
		for i := 0; i < 3*n+5; i++ {
			if w.Get(i) != w.Get(i%n) {
				t.Fatalf("n=%d i=%d: Get(i)=%v != Get(i%%n)=%v", n, i, w.Get(i), w.Get(i%n))
			}
		}
	}
}

// TestTimeoutFiresOnlyAtOrAfterDeadline: tick=100ms, schedule a timeout at
// deadline=50ms, advance by 49 (nothing fires), then by 1 more (it fires).
func TestTimeoutFiresOnlyAtOrAfterDeadline(t *testing.T) {
	w, vc := newTestWorker(t, 100, 512)
	fired := false
	to := NewTimeout(50, 0, TaskFunc(func(*Timeout) { fired = true }))
	w.Schedule(to)

	vc.advance(49)
	exp := w.Expired()
	w.Notify(exp)
	if len(exp) != 0 {
		t.Fatalf("expected 0 expired at t=49, got %d", len(exp))
	}
	if len(w.Pending()) != 1 {
		t.Fatalf("expected 1 pending at t=49, got %d", len(w.Pending()))
	}

	vc.advance(1)
	exp = w.Expired()
	w.Notify(exp)
	if len(exp) != 1 {
		t.Fatalf("expected 1 expired at t=50, got %d", len(exp))
	}
	for _, e := range exp {
		if e.State() == StateExpired {
			dispatch(e)
		}
	}
	if !fired {
		t.Fatal("expected task to have fired")
	}
	if len(w.Pending()) != 0 {
		t.Fatalf("expected 0 pending after firing, got %d", len(w.Pending()))
	}
}

// TestPeriodicTimeoutReschedulesUntilCancelled: periodic P=50ms scheduled
// at t=0 fires on every 50ms boundary, four times across four 50ms
// advances, then stops firing once cancelled.
func TestPeriodicTimeoutReschedulesUntilCancelled(t *testing.T) {
	w, vc := newTestWorker(t, 100, 512)
	count := 0
	to := NewTimeout(50, 50, TaskFunc(func(*Timeout) { count++ }))
	w.Schedule(to)

	for i := 0; i < 4; i++ {
		vc.advance(50)
		exp := w.Expired()
		w.Notify(exp)
		for _, e := range exp {
			if e.State() == StateExpired {
				dispatch(e)
			}
		}
	}
	if count != 4 {
		t.Fatalf("expected 4 firings, got %d", count)
	}

	to.Cancel()
	vc.advance(200)
	exp := w.Expired()
	w.Notify(exp)
	for _, e := range exp {
		if e.State() == StateExpired {
			dispatch(e)
		}
	}
	if count != 4 {
		t.Fatalf("expected count to stay at 4 after cancel, got %d", count)
	}
}

// TestEveryTimeoutExpiresExactlyOnce: every scheduled timeout appears in
// Expired() exactly once, at or after its deadline, never before, never
// twice.
func TestEveryTimeoutExpiresExactlyOnce(t *testing.T) {
	w, vc := newTestWorker(t, 10, 64)
	deadlines := []int64{0, 5, 10, 55, 100, 640}
	seen := map[int64]int{}
	var timeouts []*Timeout
	for _, d := range deadlines {
		d := d
		to := NewTimeout(d, 0, TaskFunc(func(*Timeout) { seen[d]++ }))
		timeouts = append(timeouts, to)
		w.Schedule(to)
	}
	_ = timeouts

	for step := 0; step < 200; step++ {
		vc.advance(10)
		exp := w.Expired()
		w.Notify(exp)
		for _, e := range exp {
			if e.State() == StateExpired {
				dispatch(e)
			}
		}
	}
	for _, d := range deadlines {
		if seen[d] != 1 {
			t.Fatalf("deadline %d fired %d times, want 1", d, seen[d])
		}
	}
}

// TestRemoveBeforeFirePreventsExpiry: remove(schedule(x)) means x never
// appears in any Expired() output.
func TestRemoveBeforeFirePreventsExpiry(t *testing.T) {
	w, vc := newTestWorker(t, 10, 64)
	fired := false
	to := NewTimeout(5, 0, TaskFunc(func(*Timeout) { fired = true }))
	w.Schedule(to)
	w.Remove(to)

	for step := 0; step < 10; step++ {
		vc.advance(10)
		exp := w.Expired()
		w.Notify(exp)
		for _, e := range exp {
			if e == to {
				t.Fatal("removed timeout reappeared in Expired()")
			}
		}
	}
	if fired {
		t.Fatal("removed timeout's task ran")
	}
}

// TestRemoveByIDNonPeriodic exercises RemoveByID's non-periodic fast path:
// locate by slot bits, match on full id.
func TestRemoveByIDNonPeriodic(t *testing.T) {
	w, _ := newTestWorker(t, 10, 64)
	to := NewTimeout(100, 0, TaskFunc(func(*Timeout) {}))
	w.Schedule(to)
	id := to.ID()
	w.RemoveByID(id, false)
	if len(w.Pending()) != 0 {
		t.Fatalf("expected timeout removed by id, %d still pending", len(w.Pending()))
	}
}

// TestRemoveByIDPeriodicAfterReschedule exercises the periodic path: the
// timeout moves slots after firing once, so RemoveByID must scan every
// bucket comparing counter bits, not just the original slot.
func TestRemoveByIDPeriodicAfterReschedule(t *testing.T) {
	w, vc := newTestWorker(t, 10, 8)
	to := NewTimeout(10, 10, TaskFunc(func(*Timeout) {}))
	w.Schedule(to)
	id := to.ID()

	vc.advance(10)
	exp := w.Expired()
	w.Notify(exp)

	if to.SlotIndex == 0 {
		t.Skip("rescheduled into the same slot; inconclusive for this seed")
	}
	w.RemoveByID(id, true)
	if len(w.Pending()) != 0 {
		t.Fatalf("expected rescheduled periodic removed by id, %d still pending", len(w.Pending()))
	}
}

// TestCounterPreservedAcrossReschedule: a periodic timeout's id keeps its
// counter bits across reschedule; only the slot bits change.
func TestCounterPreservedAcrossReschedule(t *testing.T) {
	w, vc := newTestWorker(t, 10, 8)
	to := NewTimeout(10, 10, TaskFunc(func(*Timeout) {}))
	w.Schedule(to)
	firstCounter := w.counterOf(to.ID())

	vc.advance(10)
	exp := w.Expired()
	w.Notify(exp)
	_ = exp

	if w.counterOf(to.ID()) != firstCounter {
		t.Fatalf("counter changed across reschedule: %d -> %d", firstCounter, w.counterOf(to.ID()))
	}
}

func TestBucketIteratorSafeDuringRemove(t *testing.T) {
	b := &Bucket[int]{}
	for i := 1; i <= 5; i++ {
		b.Add(i)
	}
	it := b.Iterator()
	var got []int
	for it.Next() {
		v := it.Value()
		got = append(got, v)
		if v%2 == 0 {
			it.Remove()
		}
	}
	if len(got) != 5 {
		t.Fatalf("expected to visit 5 entries, visited %d", len(got))
	}
	if b.count != 3 {
		t.Fatalf("expected 3 live entries after removing evens, got %d", b.count)
	}
}

func TestBucketCompactionThreshold(t *testing.T) {
	b := &Bucket[int]{}
	for i := 1; i <= compactThreshold+1; i++ {
		b.Add(i)
	}
	for i := 0; i < compactThreshold+1; i++ {
		b.Remove(i + 1)
	}
	if !b.IsEmpty() {
		t.Fatal("expected bucket empty")
	}
	if len(b.entries) != 0 {
		t.Fatalf("expected compaction to drop the backing slice, len=%d", len(b.entries))
	}
}
