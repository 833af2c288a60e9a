package shutdown

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/tdmtrader/proa/kube"
)

// maxRedirects caps how many redirects a shutdown probe follows.
const maxRedirects = 5

// HTTPAction issues a single HTTP request to a sidecar's shutdown endpoint.
// Any 2xx response is success; any other response, connection error, or
// timeout is a failure. The request is attempted exactly once — sidecar
// shutdown endpoints are expected to be idempotent but are not retried.
type HTTPAction struct {
	kind    Kind
	url     *url.URL
	timeout time.Duration
	client  *http.Client
}

// NewHTTPGet builds an HTTP GET shutdown action.
func NewHTTPGet(u *url.URL, timeout time.Duration) *HTTPAction {
	return newHTTPAction(KindHTTPGet, u, timeout)
}

// NewHTTPPost builds an HTTP POST shutdown action with an empty body.
func NewHTTPPost(u *url.URL, timeout time.Duration) *HTTPAction {
	return newHTTPAction(KindHTTPPost, u, timeout)
}

func newHTTPAction(kind Kind, u *url.URL, timeout time.Duration) *HTTPAction {
	return &HTTPAction{
		kind:    kind,
		url:     u,
		timeout: timeout,
		client: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) > maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
	}
}

func (a *HTTPAction) Kind() Kind {
	return a.kind
}

func (a *HTTPAction) Name() string {
	return fmt.Sprintf("%s %s", a.kind, a.url)
}

func (a *HTTPAction) Execute(ctx context.Context, _ kube.Snapshot) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	method := http.MethodGet
	if a.kind == KindHTTPPost {
		method = http.MethodPost
	}

	req, err := http.NewRequestWithContext(ctx, method, a.url.String(), nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused; the body content is
	// irrelevant to the outcome.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
