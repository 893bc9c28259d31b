package timer_test

import (
	"sync/atomic"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/coredeploy/vertexd/timer"
)

func TestTimer(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "timer suite")
}

var _ = Describe("Dedicated timer", func() {
	It("fires a one-shot timeout once, close to its deadline", func() {
		d := timer.NewDedicated(5*time.Millisecond, 64, 16)
		defer d.Stop()

		var fires int32
		d.NewTimeout(timer.TaskFunc(func(*timer.Timeout) {
			atomic.AddInt32(&fires, 1)
		}), 20*time.Millisecond, false)

		Eventually(func() int32 { return atomic.LoadInt32(&fires) }, time.Second, 5*time.Millisecond).Should(Equal(int32(1)))
		Consistently(func() int32 { return atomic.LoadInt32(&fires) }, 50*time.Millisecond, 5*time.Millisecond).Should(Equal(int32(1)))
	})

	It("stops firing a periodic timeout once Remove is called", func() {
		d := timer.NewDedicated(5*time.Millisecond, 64, 16)
		defer d.Stop()

		var fires int32
		to := d.NewTimeout(timer.TaskFunc(func(*timer.Timeout) {
			atomic.AddInt32(&fires, 1)
		}), 10*time.Millisecond, true)

		Eventually(func() int32 { return atomic.LoadInt32(&fires) }, time.Second, 5*time.Millisecond).Should(BeNumerically(">=", 2))
		d.Remove(to)
		snapshot := atomic.LoadInt32(&fires)
		Consistently(func() int32 { return atomic.LoadInt32(&fires) }, 60*time.Millisecond, 5*time.Millisecond).Should(Equal(snapshot))
	})

	It("returns unprocessed timeouts from Stop", func() {
		d := timer.NewDedicated(5*time.Millisecond, 64, 16)
		d.NewTimeout(timer.TaskFunc(func(*timer.Timeout) {}), time.Hour, false)
		pending := d.Stop()
		Expect(pending).To(HaveLen(1))
	})
})

var _ = Describe("LoopPlugin timer", func() {
	It("only advances when the owning loop drives it", func() {
		p := timer.NewLoopPlugin(10*time.Millisecond, 64, 50*time.Millisecond, 16)
		var fires int32
		p.NewTimeout(timer.TaskFunc(func(*timer.Timeout) {
			atomic.AddInt32(&fires, 1)
		}), 10*time.Millisecond, false)

		time.Sleep(30 * time.Millisecond)
		Expect(atomic.LoadInt32(&fires)).To(Equal(int32(0)), "nothing should fire without PostSelect driving the loop")

		p.WaitTimeout()
		time.Sleep(15 * time.Millisecond)
		p.PostSelect()
		Expect(atomic.LoadInt32(&fires)).To(Equal(int32(1)))
	})
})
