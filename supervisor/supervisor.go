package supervisor

import (
	"context"
	"os"
	"sync"
	"syscall"
	"time"

	"code.cloudfoundry.org/clock"
	"code.cloudfoundry.org/lager/v3"

	"github.com/tdmtrader/proa/kube"
	"github.com/tdmtrader/proa/metric"
	"github.com/tdmtrader/proa/shutdown"
	"github.com/tdmtrader/proa/tracing"
)

// Process-wide exit codes for the paths that override the child's own code.
const (
	// ExitPeerFailedEarly is returned when a sidecar died before the
	// peers were ever collectively ready; the child is never started.
	ExitPeerFailedEarly = 1

	// ExitConfigError is returned for configuration and startup
	// failures: bad flags, missing self container, RBAC denial, or a
	// child that cannot be executed.
	ExitConfigError = 2

	// ExitTerminated is returned when an external SIGTERM/SIGINT ends
	// the run before the child could (or did) decide the exit code.
	ExitTerminated = 130
)

// SnapshotSource is the lazy sequence of pod snapshots the coordinator
// consumes. kube.PodWatcher implements it.
type SnapshotSource interface {
	Next(ctx context.Context) (kube.Snapshot, error)
	Stop()
}

// Executor runs the configured shutdown actions against the latest
// snapshot. shutdown.Executor implements it.
type Executor interface {
	Execute(ctx context.Context, snap kube.Snapshot) []shutdown.Outcome
}

// Config carries the coordinator's immutable inputs.
type Config struct {
	Identity kube.Identity

	// Argv is the wrapped command and its arguments, verbatim.
	Argv []string

	// GraceTimeout bounds how long to wait for sidecar containers to
	// terminate after the shutdown actions have run. Zero waits forever,
	// relying on the orchestrator's own grace period.
	GraceTimeout time.Duration
}

// Supervisor is the top-level lifecycle coordinator. It sequences waiting
// for sidecars, running the wrapped command, executing shutdown actions,
// and waiting for sidecars to exit — reconciling external termination
// signals with child exit throughout. States progress strictly forward;
// the child is spawned at most once and shutdown actions run at most once.
type Supervisor struct {
	logger   lager.Logger
	clk      clock.Clock
	source   SnapshotSource
	executor Executor
	cfg      Config

	spawn func(argv []string) (Process, error)

	mu          sync.Mutex
	latest      kube.Snapshot
	watchFailed bool
	terminated  bool
	forced      bool
}

// New creates a Supervisor. The source and executor are owned by the
// supervisor from here on; the source is stopped when Run returns.
func New(logger lager.Logger, clk clock.Clock, source SnapshotSource, executor Executor, cfg Config) *Supervisor {
	return &Supervisor{
		logger:   logger.Session("supervisor", lager.Data{
			"pod":       cfg.Identity.PodName,
			"namespace": cfg.Identity.Namespace,
			"container": cfg.Identity.ContainerName,
		}),
		clk:      clk,
		source:   source,
		executor: executor,
		cfg:      cfg,
		spawn:    SpawnChild,
	}
}

// SetSpawnFunc overrides how the child process is created. Used by tests.
func (s *Supervisor) SetSpawnFunc(spawn func(argv []string) (Process, error)) {
	s.spawn = spawn
}

// Run drives the state machine to completion and returns the process exit
// code. signals delivers external SIGTERM/SIGINT: the first is handled as
// a graceful termination request, the second forces an immediate return
// with code 130, abandoning any in-flight shutdown actions. Cancelling ctx
// is handled like a first termination signal, except that it also ends the
// pod watch, so the final wait for sidecar exit is skipped.
func (s *Supervisor) Run(ctx context.Context, signals <-chan os.Signal) int {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.source.Stop()

	ctx, span := tracing.StartSpan(ctx, "proa.run", tracing.Attrs{
		"pod":       s.cfg.Identity.PodName,
		"namespace": s.cfg.Identity.Namespace,
	})
	defer tracing.End(span, nil)

	snapCh := make(chan kube.Snapshot, 1)
	watchErrCh := make(chan error, 1)
	go s.pump(ctx, snapCh, watchErrCh)

	code, launch := s.waitForSidecars(ctx, signals, snapCh, watchErrCh)
	if !launch {
		if s.abandoned() {
			return code
		}
		return s.shutdownAndAwait(ctx, code, signals, snapCh, watchErrCh)
	}

	code = s.runChild(ctx, signals, watchErrCh)
	if s.abandoned() {
		return code
	}
	return s.shutdownAndAwait(ctx, code, signals, snapCh, watchErrCh)
}

// waitForSidecars consumes snapshots until a launching verdict arrives.
// The second return value is false when the run must skip the child and
// proceed straight to shutdown with the given code.
func (s *Supervisor) waitForSidecars(ctx context.Context, signals <-chan os.Signal, snapCh <-chan kube.Snapshot, watchErrCh <-chan error) (int, bool) {
	logger := s.logger.Session("waiting-for-sidecars")
	s.transition("waiting-for-sidecars")

	waitStart := s.clk.Now()
	evaluator := kube.NewEvaluator(s.cfg.Identity)
	lastVerdict := kube.Verdict(-1)

	for {
		select {
		case <-ctx.Done():
			s.noteTermination()
			logger.Info("cancelled")
			return ExitTerminated, false

		case sig := <-signals:
			if s.noteTermination() {
				logger.Info("second-signal-forcing-exit")
				return ExitTerminated, false
			}
			logger.Info("termination-signal", lager.Data{"signal": sig.String()})
			return ExitTerminated, false

		case err := <-watchErrCh:
			logger.Error("pod-watch-failed", err)
			return ExitConfigError, false

		case snap := <-snapCh:
			verdict, err := evaluator.Observe(snap)
			if err != nil {
				logger.Error("identity-error", err)
				return ExitConfigError, false
			}
			if verdict != lastVerdict {
				logger.Info("readiness-verdict", lager.Data{
					"verdict": verdict.String(),
					"peers":   len(snap.Peers(s.cfg.Identity.ContainerName)),
				})
				lastVerdict = verdict
			}

			switch {
			case verdict == kube.VerdictPeerFailedEarly:
				return ExitPeerFailedEarly, false
			case verdict.Launches():
				metric.RecordSidecarWaitDuration(ctx, s.clk.Since(waitStart))
				return 0, true
			}
		}
	}
}

// runChild spawns the wrapped command and waits for it to exit. A first
// termination signal forwards SIGTERM to the child and keeps waiting, so a
// single signal never ends the run before the child has been reaped; a
// second signal returns 130 at once without waiting for the child.
func (s *Supervisor) runChild(ctx context.Context, signals <-chan os.Signal, watchErrCh <-chan error) int {
	logger := s.logger.Session("running-child")
	s.transition("running-child")

	command := ""
	if len(s.cfg.Argv) > 0 {
		command = s.cfg.Argv[0]
	}
	ctx, span := tracing.StartSpan(ctx, "proa.child", tracing.Attrs{
		"command": command,
	})
	var spanErr error
	defer func() { tracing.End(span, spanErr) }()

	child, err := s.spawn(s.cfg.Argv)
	if err != nil {
		logger.Error("failed-to-spawn", err)
		spanErr = err
		return ExitConfigError
	}
	logger.Info("spawned", lager.Data{"pid": child.Pid(), "command": command})

	childStart := s.clk.Now()
	childDone := make(chan int, 1)
	go func() {
		childDone <- child.Wait()
	}()

	ctxDone := ctx.Done()
	for {
		select {
		case code := <-childDone:
			logger.Info("exited", lager.Data{"exit-code": code})
			metric.RecordChildDuration(ctx, s.clk.Since(childStart), code)
			return code

		case <-ctxDone:
			s.noteTermination()
			logger.Info("cancelled-forwarding-sigterm", lager.Data{"pid": child.Pid()})
			if err := child.Signal(syscall.SIGTERM); err != nil {
				logger.Error("failed-to-forward-signal", err)
			}
			ctxDone = nil

		case sig := <-signals:
			if s.noteTermination() {
				logger.Info("second-signal-forcing-exit")
				return ExitTerminated
			}
			logger.Info("forwarding-sigterm", lager.Data{"signal": sig.String(), "pid": child.Pid()})
			if err := child.Signal(syscall.SIGTERM); err != nil {
				logger.Error("failed-to-forward-signal", err)
			}

		case err := <-watchErrCh:
			// The child governs the rest of the run; a dead watch only
			// means the final sidecar wait will be skipped.
			logger.Error("pod-watch-failed", err)
			watchErrCh = nil
		}
	}
}

// shutdownAndAwait runs the shutdown actions against the latest snapshot
// and then waits for every peer container to terminate. code is carried
// through untouched: shutdown failures never mask the child's exit code.
func (s *Supervisor) shutdownAndAwait(ctx context.Context, code int, signals <-chan os.Signal, snapCh <-chan kube.Snapshot, watchErrCh <-chan error) int {
	logger := s.logger.Session("shutting-down", lager.Data{"exit-code": code})
	s.transition("shutting-down")

	// Shutdown still runs after cancellation; only a second signal
	// abandons it.
	shutdownCtx, shutdownSpan := tracing.StartSpan(context.WithoutCancel(ctx), "proa.shutdown", nil)

	execDone := make(chan []shutdown.Outcome, 1)
	go func() {
		execDone <- s.executor.Execute(shutdownCtx, s.latestSnapshot())
	}()

	for done := false; !done; {
		select {
		case outcomes := <-execDone:
			failed := 0
			for _, o := range outcomes {
				if !o.Succeeded() {
					failed++
				}
			}
			logger.Info("shutdown-actions-finished", lager.Data{
				"actions": len(outcomes),
				"failed":  failed,
			})
			done = true

		case <-signals:
			if s.noteTermination() {
				logger.Info("second-signal-abandoning-shutdown")
				tracing.End(shutdownSpan, nil)
				return ExitTerminated
			}

		case <-snapCh:
			// Keep draining so the pump's latest value stays fresh.
		}
	}
	tracing.End(shutdownSpan, nil)

	return s.awaitSidecarExit(code, signals, snapCh, watchErrCh)
}

// awaitSidecarExit consumes snapshots until every peer container has
// terminated, the grace deadline elapses, or the watch is gone.
func (s *Supervisor) awaitSidecarExit(code int, signals <-chan os.Signal, snapCh <-chan kube.Snapshot, watchErrCh <-chan error) int {
	logger := s.logger.Session("awaiting-sidecar-exit")
	s.transition("awaiting-sidecar-exit")

	if s.watchDead() {
		logger.Info("skipping-no-watch")
		s.transition("done")
		return code
	}

	var graceCh <-chan time.Time
	if s.cfg.GraceTimeout > 0 {
		timer := s.clk.NewTimer(s.cfg.GraceTimeout)
		defer timer.Stop()
		graceCh = timer.C()
	}

	for {
		if s.latestSnapshot().AllPeersTerminated(s.cfg.Identity.ContainerName) {
			logger.Info("sidecars-terminated")
			s.transition("done")
			return code
		}

		select {
		case <-snapCh:
			// Re-check against the latest snapshot.

		case <-graceCh:
			logger.Info("grace-timeout-elapsed", lager.Data{"timeout": s.cfg.GraceTimeout.String()})
			s.transition("done")
			return code

		case <-signals:
			if s.noteTermination() {
				logger.Info("second-signal-forcing-exit")
				return ExitTerminated
			}

		case err := <-watchErrCh:
			logger.Error("pod-watch-failed", err)
			s.transition("done")
			return code
		}
	}
}

// pump feeds snapshots from the source into a conflated latest-value
// channel. The watcher is the sole producer; consumers only care about the
// most recent snapshot, so an unread older value is replaced rather than
// queued behind.
func (s *Supervisor) pump(ctx context.Context, snapCh chan kube.Snapshot, errCh chan<- error) {
	for {
		snap, err := s.source.Next(ctx)
		if err != nil {
			s.mu.Lock()
			s.watchFailed = true
			s.mu.Unlock()
			if ctx.Err() == nil {
				errCh <- err
			}
			return
		}

		s.mu.Lock()
		s.latest = snap
		s.mu.Unlock()

		select {
		case snapCh <- snap:
		default:
			select {
			case <-snapCh:
			default:
			}
			select {
			case snapCh <- snap:
			default:
			}
		}
	}
}

func (s *Supervisor) latestSnapshot() kube.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

func (s *Supervisor) watchDead() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watchFailed
}

// noteTermination records a termination request. It returns true when one
// was already recorded — the caller must then force an immediate exit, and
// the run is marked as forcibly abandoned.
func (s *Supervisor) noteTermination() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminated {
		s.forced = true
		return true
	}
	s.terminated = true
	return false
}

// abandoned reports whether a second termination signal forced the run to
// give up; no further phases may execute after that.
func (s *Supervisor) abandoned() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.forced
}

func (s *Supervisor) transition(state string) {
	s.logger.Info("state", lager.Data{"state": state})
}
