//go:build linux

package shutdown_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/tdmtrader/proa/kube"
	"github.com/tdmtrader/proa/shutdown"
)

var _ = Describe("SignalBroadcast", func() {
	It("resolves conventional signal names", func() {
		action, err := shutdown.NewSignalBroadcast("SIGTERM")
		Expect(err).ToNot(HaveOccurred())
		Expect(action.Name()).To(Equal("signal SIGTERM"))
		Expect(action.Kind()).To(Equal(shutdown.KindSignalKill))
	})

	It("accepts names without the SIG prefix", func() {
		action, err := shutdown.NewSignalBroadcast("term")
		Expect(err).ToNot(HaveOccurred())
		Expect(action.Name()).To(Equal("signal SIGTERM"))
	})

	It("rejects unknown signal names", func() {
		_, err := shutdown.NewSignalBroadcast("SIGBOGUS")
		Expect(err).To(MatchError(ContainSubstring("unknown signal")))
	})

	It("refuses to broadcast into a shared host PID namespace", func() {
		action, err := shutdown.NewSignalBroadcast("SIGTERM")
		Expect(err).ToNot(HaveOccurred())

		err = action.Execute(context.Background(), kube.Snapshot{HostPID: true})
		Expect(err).To(MatchError(ContainSubstring("host PID namespace")))
	})
})
