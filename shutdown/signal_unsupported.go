//go:build !linux

package shutdown

import (
	"context"
	"fmt"

	"github.com/tdmtrader/proa/kube"
)

// SignalBroadcast requires /proc and kill(2); it only exists on Linux.
type SignalBroadcast struct{}

// NewSignalBroadcast always fails on non-Linux platforms.
func NewSignalBroadcast(name string) (*SignalBroadcast, error) {
	return nil, fmt.Errorf("signal broadcast is only supported on linux")
}

func (b *SignalBroadcast) Kind() Kind {
	return KindSignalKill
}

func (b *SignalBroadcast) Name() string {
	return "signal"
}

func (b *SignalBroadcast) Execute(_ context.Context, _ kube.Snapshot) error {
	return fmt.Errorf("signal broadcast is only supported on linux")
}
