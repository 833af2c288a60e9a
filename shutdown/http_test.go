package shutdown_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/tdmtrader/proa/kube"
	"github.com/tdmtrader/proa/shutdown"
)

func mustParseURL(raw string) *url.URL {
	u, err := url.Parse(raw)
	Expect(err).ToNot(HaveOccurred())
	return u
}

var _ = Describe("HTTPAction", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("succeeds on any 2xx response", func() {
		var requests int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&requests, 1)
			w.WriteHeader(http.StatusAccepted)
		}))
		defer server.Close()

		action := shutdown.NewHTTPGet(mustParseURL(server.URL+"/shutdown"), time.Second)
		err := action.Execute(ctx, kube.Snapshot{})
		Expect(err).ToNot(HaveOccurred())
		Expect(atomic.LoadInt32(&requests)).To(Equal(int32(1)))
	})

	It("fails on a non-2xx response without retrying", func() {
		var requests int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&requests, 1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		action := shutdown.NewHTTPGet(mustParseURL(server.URL), time.Second)
		err := action.Execute(ctx, kube.Snapshot{})
		Expect(err).To(MatchError(ContainSubstring("unexpected status 500")))
		Expect(atomic.LoadInt32(&requests)).To(Equal(int32(1)))
	})

	It("fails when the connection is refused", func() {
		// A closed server's address refuses connections.
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		addr := server.URL
		server.Close()

		action := shutdown.NewHTTPGet(mustParseURL(addr), time.Second)
		err := action.Execute(ctx, kube.Snapshot{})
		Expect(err).To(HaveOccurred())
	})

	It("times out slow endpoints", func() {
		release := make(chan struct{})
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-release
		}))
		defer func() {
			close(release)
			server.Close()
		}()

		action := shutdown.NewHTTPGet(mustParseURL(server.URL), 50*time.Millisecond)

		start := time.Now()
		err := action.Execute(ctx, kube.Snapshot{})
		Expect(err).To(HaveOccurred())
		Expect(time.Since(start)).To(BeNumerically("<", 5*time.Second))
	})

	It("issues POST with an empty body for post actions", func() {
		var method string
		var bodyLen int64 = -1
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			method = r.Method
			bodyLen = r.ContentLength
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		action := shutdown.NewHTTPPost(mustParseURL(server.URL+"/quitquitquit"), time.Second)
		err := action.Execute(ctx, kube.Snapshot{})
		Expect(err).ToNot(HaveOccurred())
		Expect(method).To(Equal(http.MethodPost))
		Expect(bodyLen).To(BeZero())
	})

	It("follows redirects up to the cap", func() {
		var hops int32
		var server *httptest.Server
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			n := atomic.AddInt32(&hops, 1)
			if n <= 3 {
				http.Redirect(w, r, server.URL, http.StatusFound)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		action := shutdown.NewHTTPGet(mustParseURL(server.URL), time.Second)
		err := action.Execute(ctx, kube.Snapshot{})
		Expect(err).ToNot(HaveOccurred())
	})

	It("gives up after too many redirects", func() {
		var server *httptest.Server
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, server.URL, http.StatusFound)
		}))
		defer server.Close()

		action := shutdown.NewHTTPGet(mustParseURL(server.URL), time.Second)
		err := action.Execute(ctx, kube.Snapshot{})
		Expect(err).To(MatchError(ContainSubstring("redirects")))
	})

	It("names itself after its method and url", func() {
		action := shutdown.NewHTTPGet(mustParseURL("http://localhost:8080/shutdown"), time.Second)
		Expect(action.Name()).To(Equal("http-get http://localhost:8080/shutdown"))
		Expect(action.Kind()).To(Equal(shutdown.KindHTTPGet))

		post := shutdown.NewHTTPPost(mustParseURL("http://localhost:15000/quitquitquit"), time.Second)
		Expect(post.Name()).To(Equal("http-post http://localhost:15000/quitquitquit"))
		Expect(post.Kind()).To(Equal(shutdown.KindHTTPPost))
	})
})
