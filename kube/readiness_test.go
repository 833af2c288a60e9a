package kube_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/tdmtrader/proa/kube"
)

func snapshotOf(containers ...kube.Container) kube.Snapshot {
	return kube.Snapshot{Name: "my-pod", Containers: containers}
}

var self = kube.Container{Name: "main", State: kube.ContainerRunning}

var _ = Describe("EvaluateReadiness", func() {
	It("returns no-peers for a pod with only the self container", func() {
		v := kube.EvaluateReadiness(snapshotOf(self), "main", false)
		Expect(v).To(Equal(kube.VerdictNoPeers))
	})

	It("waits while a peer is running but not ready", func() {
		v := kube.EvaluateReadiness(snapshotOf(
			self,
			kube.Container{Name: "proxy", State: kube.ContainerRunning},
		), "main", false)
		Expect(v).To(Equal(kube.VerdictWaiting))
	})

	It("waits while a peer has not started", func() {
		v := kube.EvaluateReadiness(snapshotOf(
			self,
			kube.Container{Name: "proxy", State: kube.ContainerWaiting},
		), "main", false)
		Expect(v).To(Equal(kube.VerdictWaiting))
	})

	It("returns all-ready when every peer is ready", func() {
		v := kube.EvaluateReadiness(snapshotOf(
			self,
			kube.Container{Name: "proxy", State: kube.ContainerRunning, Ready: true},
			kube.Container{Name: "agent", State: kube.ContainerRunning, Ready: true},
		), "main", false)
		Expect(v).To(Equal(kube.VerdictAllReady))
	})

	It("treats a terminated peer as settled when another peer is ready", func() {
		v := kube.EvaluateReadiness(snapshotOf(
			self,
			kube.Container{Name: "init-helper", State: kube.ContainerTerminated, ExitCode: 0},
			kube.Container{Name: "proxy", State: kube.ContainerRunning, Ready: true},
		), "main", false)
		Expect(v).To(Equal(kube.VerdictAllReady))
	})

	It("treats all peers exited zero before readiness as no-peers", func() {
		v := kube.EvaluateReadiness(snapshotOf(
			self,
			kube.Container{Name: "init-helper", State: kube.ContainerTerminated, ExitCode: 0},
		), "main", false)
		Expect(v).To(Equal(kube.VerdictNoPeers))
	})

	It("flags a peer that died nonzero before readiness", func() {
		v := kube.EvaluateReadiness(snapshotOf(
			self,
			kube.Container{Name: "proxy", State: kube.ContainerTerminated, ExitCode: 1},
		), "main", false)
		Expect(v).To(Equal(kube.VerdictPeerFailedEarly))
	})

	It("flags early failure even when another peer exited cleanly", func() {
		v := kube.EvaluateReadiness(snapshotOf(
			self,
			kube.Container{Name: "helper", State: kube.ContainerTerminated, ExitCode: 0},
			kube.Container{Name: "proxy", State: kube.ContainerTerminated, ExitCode: 137},
		), "main", false)
		Expect(v).To(Equal(kube.VerdictPeerFailedEarly))
	})

	It("treats post-launch termination as normal wind-down, not early failure", func() {
		v := kube.EvaluateReadiness(snapshotOf(
			self,
			kube.Container{Name: "proxy", State: kube.ContainerTerminated, ExitCode: 1},
		), "main", true)
		Expect(v).To(Equal(kube.VerdictAllReady))
	})

	It("is deterministic over repeated evaluation of the same snapshot", func() {
		snap := snapshotOf(
			self,
			kube.Container{Name: "proxy", State: kube.ContainerRunning, Ready: true},
		)
		first := kube.EvaluateReadiness(snap, "main", false)
		for i := 0; i < 10; i++ {
			Expect(kube.EvaluateReadiness(snap, "main", false)).To(Equal(first))
		}
	})
})

var _ = Describe("Evaluator", func() {
	identity := kube.Identity{PodName: "my-pod", Namespace: "jobs", ContainerName: "main"}

	It("fails when the self container is missing from the snapshot", func() {
		ev := kube.NewEvaluator(identity)
		_, err := ev.Observe(snapshotOf(
			kube.Container{Name: "proxy", State: kube.ContainerRunning, Ready: true},
		))

		var identityErr *kube.IdentityError
		Expect(err).To(HaveOccurred())
		Expect(errors.As(err, &identityErr)).To(BeTrue())
	})

	It("latches once a launching verdict has been observed", func() {
		ev := kube.NewEvaluator(identity)

		v, err := ev.Observe(snapshotOf(
			self,
			kube.Container{Name: "proxy", State: kube.ContainerRunning, Ready: true},
		))
		Expect(err).ToNot(HaveOccurred())
		Expect(v).To(Equal(kube.VerdictAllReady))
		Expect(ev.Launched()).To(BeTrue())

		// The peer dying after launch is wind-down, not early failure.
		v, err = ev.Observe(snapshotOf(
			self,
			kube.Container{Name: "proxy", State: kube.ContainerTerminated, ExitCode: 1},
		))
		Expect(err).ToNot(HaveOccurred())
		Expect(v).ToNot(Equal(kube.VerdictPeerFailedEarly))
	})

	It("does not latch while waiting", func() {
		ev := kube.NewEvaluator(identity)

		v, err := ev.Observe(snapshotOf(
			self,
			kube.Container{Name: "proxy", State: kube.ContainerRunning},
		))
		Expect(err).ToNot(HaveOccurred())
		Expect(v).To(Equal(kube.VerdictWaiting))
		Expect(ev.Launched()).To(BeFalse())
	})
})
