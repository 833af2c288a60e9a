//go:build procsignal

package main

import (
	"github.com/tdmtrader/proa/shutdown"
)

// SignalOptions exists only in builds with the procsignal tag. Without the
// tag, --shutdown-signal is an unknown flag and option parsing rejects it,
// which is the configuration-time rejection the feature gate requires.
type SignalOptions struct {
	ShutdownSignal string `long:"shutdown-signal" value-name:"NAME" description:"Signal to deliver to sibling processes in the shared process namespace once the wrapped command exits (e.g. SIGTERM)."`
}

func (o SignalOptions) signalActions() ([]shutdown.Action, error) {
	if o.ShutdownSignal == "" {
		return nil, nil
	}
	action, err := shutdown.NewSignalBroadcast(o.ShutdownSignal)
	if err != nil {
		return nil, err
	}
	return []shutdown.Action{action}, nil
}

func (o SignalOptions) allowSignalActions() bool {
	return true
}
