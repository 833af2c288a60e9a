package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"code.cloudfoundry.org/clock"
	"code.cloudfoundry.org/lager/v3/lagerctx"
	"github.com/concourse/flag/v2"

	"github.com/tdmtrader/proa/kube"
	"github.com/tdmtrader/proa/metric"
	"github.com/tdmtrader/proa/shutdown"
	"github.com/tdmtrader/proa/supervisor"
	"github.com/tdmtrader/proa/tracing"
)

// ProaCommand is the flag surface of the proa binary. Everything after the
// literal "--" separator is the wrapped command and its arguments,
// untouched by option parsing.
type ProaCommand struct {
	Version func() `short:"v" long:"version" description:"Print the version of proa and exit"`

	Logger flag.Lager

	ContainerName string `long:"container-name" default:"main" description:"Name of this container within the enclosing Pod, used to identify self."`
	Namespace     string `long:"namespace" description:"Namespace of the enclosing Pod. Defaults to the in-cluster service account namespace."`
	Kubeconfig    flag.File `long:"kubeconfig" description:"Path to a kubeconfig file for out-of-cluster runs. When empty, in-cluster configuration is used."`

	ShutdownHTTPGet  []flag.URL    `long:"shutdown-http-get"  value-name:"URL" description:"URL to GET once the wrapped command exits. Can be given multiple times."`
	ShutdownHTTPPost []flag.URL    `long:"shutdown-http-post" value-name:"URL" description:"URL to POST (empty body) once the wrapped command exits. Can be given multiple times."`
	ShutdownConfig   flag.File     `long:"shutdown-config" description:"YAML file listing additional shutdown actions."`
	ShutdownTimeout  time.Duration `long:"shutdown-timeout" default:"30s" description:"Timeout applied to each HTTP shutdown action."`
	GraceTimeout     time.Duration `long:"grace-timeout" default:"0s" description:"Bound on waiting for sidecars to terminate after shutdown actions. 0 waits forever."`

	SignalOptions

	Tracing tracing.Config `group:"Tracing" namespace:"tracing"`
}

// Execute wires the components together and runs the supervisor to
// completion; the return value is the process exit code.
func (cmd *ProaCommand) Execute(args []string) int {
	logger, _ := cmd.Logger.Logger("proa")

	if !doubleDashPresent(os.Args[1:]) {
		logger.Error("missing-separator", fmt.Errorf("usage: proa [OPTIONS] -- COMMAND [ARGS...]"))
		return supervisor.ExitConfigError
	}
	if len(args) == 0 {
		logger.Error("missing-command", fmt.Errorf("no command given after --"))
		return supervisor.ExitConfigError
	}

	ctx := lagerctx.NewContext(context.Background(), logger)

	tracingShutdown, err := cmd.Tracing.Prepare(ctx)
	if err != nil {
		logger.Error("failed-to-configure-tracing", err)
		return supervisor.ExitConfigError
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracingShutdown(flushCtx)
	}()
	if tracing.MetricsConfigured {
		metric.InitOTelMetrics()
	}

	identity, err := kube.ResolveIdentity(cmd.ContainerName, cmd.Namespace)
	if err != nil {
		logger.Error("failed-to-resolve-identity", err)
		return supervisor.ExitConfigError
	}

	clientset, err := kube.NewClientset(cmd.Kubeconfig.Path())
	if err != nil {
		logger.Error("failed-to-build-clientset", err)
		return supervisor.ExitConfigError
	}

	actions, err := cmd.buildActions()
	if err != nil {
		logger.Error("invalid-shutdown-actions", err)
		return supervisor.ExitConfigError
	}

	clk := clock.NewClock()
	watcher := kube.NewPodWatcher(logger, clientset, clk, identity.Namespace, identity.PodName)
	executor := shutdown.NewExecutor(logger, clk, actions)

	sup := supervisor.New(logger, clk, watcher, executor, supervisor.Config{
		Identity:     identity,
		Argv:         args,
		GraceTimeout: cmd.GraceTimeout,
	})

	signals, stop := supervisor.NotifyTermination()
	defer stop()

	return sup.Run(ctx, signals)
}

// buildActions combines flag-configured actions with the declarative
// action file and the (feature-gated) signal broadcast.
func (cmd *ProaCommand) buildActions() ([]shutdown.Action, error) {
	var actions []shutdown.Action
	for _, u := range cmd.ShutdownHTTPGet {
		actions = append(actions, shutdown.NewHTTPGet(u.URL, cmd.ShutdownTimeout))
	}
	for _, u := range cmd.ShutdownHTTPPost {
		actions = append(actions, shutdown.NewHTTPPost(u.URL, cmd.ShutdownTimeout))
	}

	if cmd.ShutdownConfig.Path() != "" {
		data, err := os.ReadFile(cmd.ShutdownConfig.Path())
		if err != nil {
			return nil, fmt.Errorf("reading shutdown config: %w", err)
		}
		fileActions, err := shutdown.ParseActionConfigs(data, cmd.ShutdownTimeout, cmd.allowSignalActions())
		if err != nil {
			return nil, err
		}
		actions = append(actions, fileActions...)
	}

	signalActions, err := cmd.signalActions()
	if err != nil {
		return nil, err
	}
	actions = append(actions, signalActions...)

	return actions, nil
}

func doubleDashPresent(args []string) bool {
	for _, a := range args {
		if a == "--" {
			return true
		}
	}
	return false
}
