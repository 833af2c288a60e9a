package shutdown_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
	"code.cloudfoundry.org/lager/v3/lagertest"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/tdmtrader/proa/kube"
	"github.com/tdmtrader/proa/shutdown"
)

// recordingAction is a scriptable Action for executor tests.
type recordingAction struct {
	name string
	kind shutdown.Kind
	err  error
	run  func()

	mu       sync.Mutex
	executed int
	lastSnap kube.Snapshot
}

func (a *recordingAction) Kind() shutdown.Kind {
	return a.kind
}

func (a *recordingAction) Name() string {
	return a.name
}

func (a *recordingAction) Execute(_ context.Context, snap kube.Snapshot) error {
	a.mu.Lock()
	a.executed++
	a.lastSnap = snap
	a.mu.Unlock()
	if a.run != nil {
		a.run()
	}
	return a.err
}

func (a *recordingAction) executions() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.executed
}

var _ = Describe("Executor", func() {
	var (
		logger *lagertest.TestLogger
		ctx    context.Context
	)

	BeforeEach(func() {
		logger = lagertest.NewTestLogger("test")
		ctx = context.Background()
	})

	newExecutor := func(actions ...shutdown.Action) *shutdown.Executor {
		return shutdown.NewExecutor(logger, clock.NewClock(), actions)
	}

	It("executes every action exactly once and reports outcomes in order", func() {
		a := &recordingAction{name: "a", kind: shutdown.KindHTTPGet}
		b := &recordingAction{name: "b", kind: shutdown.KindHTTPPost, err: errors.New("boom")}

		outcomes := newExecutor(a, b).Execute(ctx, kube.Snapshot{Name: "my-pod"})
		Expect(outcomes).To(HaveLen(2))
		Expect(outcomes[0].Action).To(Equal("a"))
		Expect(outcomes[0].Succeeded()).To(BeTrue())
		Expect(outcomes[1].Action).To(Equal("b"))
		Expect(outcomes[1].Succeeded()).To(BeFalse())
		Expect(outcomes[1].Err).To(MatchError("boom"))

		Expect(a.executions()).To(Equal(1))
		Expect(b.executions()).To(Equal(1))
	})

	It("passes the latest snapshot to every action", func() {
		a := &recordingAction{name: "a", kind: shutdown.KindHTTPGet}

		newExecutor(a).Execute(ctx, kube.Snapshot{Name: "my-pod", ResourceVersion: "7"})
		Expect(a.lastSnap.Name).To(Equal("my-pod"))
		Expect(a.lastSnap.ResourceVersion).To(Equal("7"))
	})

	It("does not let one failing action abort the others", func() {
		a := &recordingAction{name: "a", kind: shutdown.KindHTTPGet, err: errors.New("500")}
		b := &recordingAction{name: "b", kind: shutdown.KindHTTPGet}

		outcomes := newExecutor(a, b).Execute(ctx, kube.Snapshot{})
		Expect(outcomes[0].Succeeded()).To(BeFalse())
		Expect(outcomes[1].Succeeded()).To(BeTrue())
		Expect(b.executions()).To(Equal(1))
	})

	It("runs http actions concurrently", func() {
		// Two actions that each block until the other has started can
		// only complete if they run in parallel.
		started := make(chan struct{}, 2)
		proceed := make(chan struct{})
		var once sync.Once

		rendezvous := func() {
			started <- struct{}{}
			if len(started) == 2 {
				once.Do(func() { close(proceed) })
			}
			select {
			case <-proceed:
			case <-time.After(5 * time.Second):
			}
		}

		a := &recordingAction{name: "a", kind: shutdown.KindHTTPGet, run: rendezvous}
		b := &recordingAction{name: "b", kind: shutdown.KindHTTPGet, run: rendezvous}

		start := time.Now()
		outcomes := newExecutor(a, b).Execute(ctx, kube.Snapshot{})
		Expect(outcomes).To(HaveLen(2))

		// Sequential execution would hit the 5s rendezvous timeout.
		Expect(time.Since(start)).To(BeNumerically("<", 4*time.Second))
	})

	It("runs signal actions strictly after http actions", func() {
		var mu sync.Mutex
		var order []string

		slowHTTP := &recordingAction{name: "http", kind: shutdown.KindHTTPGet, run: func() {
			time.Sleep(100 * time.Millisecond)
			mu.Lock()
			order = append(order, "http")
			mu.Unlock()
		}}
		sig := &recordingAction{name: "signal", kind: shutdown.KindSignalKill, run: func() {
			mu.Lock()
			order = append(order, "signal")
			mu.Unlock()
		}}

		// Signal configured first; it must still run last.
		newExecutor(sig, slowHTTP).Execute(ctx, kube.Snapshot{})

		mu.Lock()
		defer mu.Unlock()
		Expect(order).To(Equal([]string{"http", "signal"}))
	})

	It("handles an empty action list", func() {
		executor := newExecutor()
		Expect(executor.Empty()).To(BeTrue())
		Expect(executor.Execute(ctx, kube.Snapshot{})).To(BeEmpty())
	})
})
