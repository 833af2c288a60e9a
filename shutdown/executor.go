package shutdown

import (
	"context"

	"code.cloudfoundry.org/clock"
	"code.cloudfoundry.org/lager/v3"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/tdmtrader/proa/kube"
	"github.com/tdmtrader/proa/metric"
)

// Executor runs the configured shutdown actions. HTTP actions run
// concurrently with one another; signal actions run strictly after every
// HTTP action has finished, so cooperative shutdown endpoints get a chance
// before processes are signalled. Execute never fails — it records and logs
// per-action outcomes and always returns after every action has finished.
type Executor struct {
	logger  lager.Logger
	clk     clock.Clock
	actions []Action
}

// NewExecutor creates an Executor over the given action list. Order within
// the list is preserved for each kind; kinds are sequenced by Execute.
func NewExecutor(logger lager.Logger, clk clock.Clock, actions []Action) *Executor {
	return &Executor{
		logger:  logger.Session("shutdown"),
		clk:     clk,
		actions: actions,
	}
}

// Empty reports whether there are no actions to run.
func (e *Executor) Empty() bool {
	return len(e.actions) == 0
}

// Execute runs every action against the given latest pod snapshot and
// returns their outcomes in configuration order.
func (e *Executor) Execute(ctx context.Context, snap kube.Snapshot) []Outcome {
	var httpActions, signalActions []int
	for i, a := range e.actions {
		if a.Kind() == KindSignalKill {
			signalActions = append(signalActions, i)
		} else {
			httpActions = append(httpActions, i)
		}
	}

	outcomes := make([]Outcome, len(e.actions))

	grp, grpCtx := errgroup.WithContext(ctx)
	for _, i := range httpActions {
		grp.Go(func() error {
			outcomes[i] = e.runOne(grpCtx, e.actions[i], snap)
			return nil
		})
	}
	_ = grp.Wait()

	for _, i := range signalActions {
		outcomes[i] = e.runOne(ctx, e.actions[i], snap)
	}

	var failures *multierror.Error
	for _, o := range outcomes {
		if o.Err != nil {
			failures = multierror.Append(failures, o.Err)
		}
	}
	if err := failures.ErrorOrNil(); err != nil {
		e.logger.Error("completed-with-failures", err, lager.Data{
			"actions": len(outcomes),
			"failed":  len(failures.Errors),
		})
	} else if len(outcomes) > 0 {
		e.logger.Info("completed", lager.Data{"actions": len(outcomes)})
	}

	return outcomes
}

func (e *Executor) runOne(ctx context.Context, action Action, snap kube.Snapshot) Outcome {
	logger := e.logger.Session("action", lager.Data{"action": action.Name()})
	logger.Debug("start")

	start := e.clk.Now()
	err := action.Execute(ctx, snap)
	elapsed := e.clk.Since(start)

	metric.RecordShutdownAction(ctx, action.Name(), err == nil)

	if err != nil {
		logger.Error("failed", err, lager.Data{"elapsed": elapsed.String()})
	} else {
		logger.Info("succeeded", lager.Data{"elapsed": elapsed.String()})
	}

	return Outcome{
		Action:   action.Name(),
		Kind:     action.Kind(),
		Err:      err,
		Duration: elapsed,
	}
}
