package kube

import (
	"errors"
	"fmt"
	"net"
	"net/url"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
)

// IdentityError is a fatal failure to establish which Pod and container this
// process is running in: a missing hostname, an unreadable namespace, or a
// snapshot that does not contain the configured container name.
type IdentityError struct {
	Reason string
	Cause  error
}

func (e *IdentityError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("identity: %s: %s", e.Reason, e.Cause)
	}
	return fmt.Sprintf("identity: %s", e.Reason)
}

func (e *IdentityError) Unwrap() error {
	return e.Cause
}

// APIAccessError is a fatal cluster API failure: the credentials are bad,
// the RBAC role is missing get/watch/list on pods, or the Pod itself does
// not exist. These are not retried.
type APIAccessError struct {
	Cause error
}

func (e *APIAccessError) Error() string {
	return fmt.Sprintf("cluster api access: %s", e.Cause)
}

func (e *APIAccessError) Unwrap() error {
	return e.Cause
}

// isFatalAPIError returns true for API errors that no amount of retrying
// will fix. A 404 on the Pod itself is fatal: the watch is scoped to our
// own Pod, which must exist for as long as we are running.
func isFatalAPIError(err error) bool {
	return apierrors.IsUnauthorized(err) ||
		apierrors.IsForbidden(err) ||
		apierrors.IsNotFound(err) ||
		apierrors.IsInvalid(err)
}

// isTransientAPIError returns true if the error represents a transient API
// failure that is likely to succeed on retry. This includes server-side
// errors (429, 500, 503, 504) and network-level errors.
func isTransientAPIError(err error) bool {
	if apierrors.IsServerTimeout(err) ||
		apierrors.IsServiceUnavailable(err) ||
		apierrors.IsTooManyRequests(err) ||
		apierrors.IsInternalError(err) ||
		apierrors.IsTimeout(err) {
		return true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return false
}

// classifyAPIError wraps fatal API errors as *APIAccessError so callers can
// short-circuit to the minimal shutdown path. Everything else is treated as
// transient and returned unchanged for the retry loop.
func classifyAPIError(err error) error {
	if err == nil {
		return nil
	}
	if isFatalAPIError(err) {
		return &APIAccessError{Cause: err}
	}
	return err
}
