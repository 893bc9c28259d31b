package redeploy_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/coredeploy/vertexd/redeploy"
)

func TestRedeploy(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "redeploy suite")
}

// fakeTree implements redeploy.TreeLookup against a fixed module -> names
// mapping, standing in for a real deploy.Tree.
type fakeTree struct {
	mu       sync.Mutex
	byModule map[string][]string
}

func newFakeTree(byModule map[string][]string) *fakeTree {
	return &fakeTree{byModule: byModule}
}

func (f *fakeTree) NamesForModule(moduleName string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.byModule[moduleName]...)
}

// fakeRuntime implements redeploy.Undeployer, recording every Reload call.
type fakeRuntime struct {
	mu    sync.Mutex
	calls [][]string
}

func (f *fakeRuntime) Reload(_ context.Context, names []string, done func(name string, err error)) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string(nil), names...))
	f.mu.Unlock()
	for _, n := range names {
		done(n, nil)
	}
}

func (f *fakeRuntime) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeRuntime) lastCall() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return nil
	}
	return f.calls[len(f.calls)-1]
}

var _ = Describe("Reloader", func() {
	It("scopes a reload to only the deployments bound to the changed module", func() {
		tree := newFakeTree(map[string][]string{
			"my-mod":    {"dep1", "dep2"},
			"other-mod": {"dep3"},
		})
		runtime := &fakeRuntime{}
		reloader := redeploy.NewReloader(tree, runtime)
		reloader.ModuleDeployed("my-mod", "/mods/my-mod")
		reloader.ModuleDeployed("other-mod", "/mods/other-mod")

		reloader.Trigger(context.Background(), "my-mod")

		Expect(runtime.callCount()).To(Equal(1))
		Expect(runtime.lastCall()).To(ConsistOf("dep1", "dep2"))
	})

	It("is a no-op once the module has been undeployed (shutdown race)", func() {
		tree := newFakeTree(map[string][]string{"my-mod": {"dep1"}})
		runtime := &fakeRuntime{}
		reloader := redeploy.NewReloader(tree, runtime)
		reloader.ModuleDeployed("my-mod", "/mods/my-mod")
		reloader.ModuleUndeployed("my-mod")

		reloader.Trigger(context.Background(), "my-mod")

		Expect(runtime.callCount()).To(Equal(0))
	})
})

func writePollModule(root, name string) string {
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		panic(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "foo.js"), []byte("x"), 0o644); err != nil {
		panic(err)
	}
	return dir
}

var _ = Describe("Poll engine", func() {
	var root string

	BeforeEach(func() {
		root = GinkgoT().TempDir()
	})

	// A file create triggers a reload, and a burst of several writes in
	// quick succession still coalesces into one, compressed into fast check
	// periods so the "one CheckPeriod of silence" behavior can be observed
	// without a real 2s wait.
	It("emits exactly one reload after a write burst goes quiet", func() {
		tree := newFakeTree(map[string][]string{"my-mod": {"dep1"}})
		runtime := &fakeRuntime{}
		reloader := redeploy.NewReloader(tree, runtime)

		dir := writePollModule(root, "my-mod")
		poll := redeploy.NewPoll(reloader, 80*time.Millisecond)
		defer poll.Close()
		poll.RegisterModule("my-mod", dir)
		reloader.ModuleDeployed("my-mod", dir)

		// Burst: several rapid writes within less than one check period.
		for i := 0; i < 3; i++ {
			_ = os.WriteFile(filepath.Join(dir, "blah.txt"), []byte("data"), 0o644)
			time.Sleep(10 * time.Millisecond)
		}

		Eventually(runtime.callCount, 2*time.Second, 20*time.Millisecond).Should(Equal(1))
		Consistently(runtime.callCount, 200*time.Millisecond, 20*time.Millisecond).Should(Equal(1))
	})

	It("does not reload an unrelated module", func() {
		tree := newFakeTree(map[string][]string{"my-mod": {"dep1"}, "other-mod": {"dep3"}})
		runtime := &fakeRuntime{}
		reloader := redeploy.NewReloader(tree, runtime)

		myDir := writePollModule(root, "my-mod")
		otherDir := writePollModule(root, "other-mod")
		poll := redeploy.NewPoll(reloader, 80*time.Millisecond)
		defer poll.Close()
		poll.RegisterModule("my-mod", myDir)
		poll.RegisterModule("other-mod", otherDir)
		reloader.ModuleDeployed("my-mod", myDir)
		reloader.ModuleDeployed("other-mod", otherDir)

		_ = os.WriteFile(filepath.Join(myDir, "blah.txt"), []byte("data"), 0o644)

		Eventually(runtime.callCount, 2*time.Second, 20*time.Millisecond).Should(Equal(1))
		Expect(runtime.lastCall()).To(ConsistOf("dep1"))
	})
})
