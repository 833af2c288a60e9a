//go:build !procsignal

package main

import (
	"github.com/tdmtrader/proa/shutdown"
)

// SignalOptions is empty in default builds: the signal broadcast feature
// and its --shutdown-signal flag require the procsignal build tag.
type SignalOptions struct{}

func (o SignalOptions) signalActions() ([]shutdown.Action, error) {
	return nil, nil
}

func (o SignalOptions) allowSignalActions() bool {
	return false
}
