package shutdown

import (
	"context"
	"time"

	"github.com/tdmtrader/proa/kube"
)

// Kind tags the shutdown action variants. Ordering between kinds matters:
// HTTP actions run concurrently with one another, signal actions strictly
// after, so cooperative shutdown paths get priority.
type Kind int

const (
	KindHTTPGet Kind = iota
	KindHTTPPost
	KindSignalKill
)

func (k Kind) String() string {
	switch k {
	case KindHTTPPost:
		return "http-post"
	case KindSignalKill:
		return "signal"
	default:
		return "http-get"
	}
}

// Action is one configured shutdown step. Actions are built at startup and
// never change; Execute is called at most once, after the wrapped command
// has exited (or an early-failure path was entered).
type Action interface {
	// Kind returns the variant tag used for execution ordering.
	Kind() Kind

	// Name identifies the action in logs and metrics.
	Name() string

	// Execute performs the action against the given latest pod snapshot.
	// A non-nil error marks the action as failed; failures are recorded
	// and logged but never abort the shutdown sequence.
	Execute(ctx context.Context, snap kube.Snapshot) error
}

// Outcome records the result of one executed action.
type Outcome struct {
	Action   string
	Kind     Kind
	Err      error
	Duration time.Duration
}

// Succeeded reports whether the action completed without error.
func (o Outcome) Succeeded() bool {
	return o.Err == nil
}
