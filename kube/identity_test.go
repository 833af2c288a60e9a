package kube_test

import (
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/tdmtrader/proa/kube"
)

var _ = Describe("ResolveIdentity", func() {
	var originalHostname string

	BeforeEach(func() {
		originalHostname = os.Getenv("HOSTNAME")
	})

	AfterEach(func() {
		if originalHostname == "" {
			os.Unsetenv("HOSTNAME")
		} else {
			os.Setenv("HOSTNAME", originalHostname)
		}
	})

	It("derives the pod name from HOSTNAME", func() {
		os.Setenv("HOSTNAME", "payments-job-abc12")

		identity, err := kube.ResolveIdentity("main", "jobs")
		Expect(err).ToNot(HaveOccurred())
		Expect(identity.PodName).To(Equal("payments-job-abc12"))
		Expect(identity.Namespace).To(Equal("jobs"))
		Expect(identity.ContainerName).To(Equal("main"))
	})

	It("falls back to the kernel hostname when HOSTNAME is unset", func() {
		os.Unsetenv("HOSTNAME")

		hostname, err := os.Hostname()
		Expect(err).ToNot(HaveOccurred())

		identity, err := kube.ResolveIdentity("main", "jobs")
		Expect(err).ToNot(HaveOccurred())
		Expect(identity.PodName).To(Equal(hostname))
	})

	It("defaults the container name to main", func() {
		os.Setenv("HOSTNAME", "payments-job-abc12")

		identity, err := kube.ResolveIdentity("", "jobs")
		Expect(err).ToNot(HaveOccurred())
		Expect(identity.ContainerName).To(Equal(kube.DefaultContainerName))
	})
})
