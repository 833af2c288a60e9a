//go:build linux

package shutdown

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sys/unix"

	"github.com/tdmtrader/proa/kube"
)

// SignalBroadcast delivers a signal to every process visible in the
// (shared) process namespace, except the supervisor itself, its ancestors,
// and kernel threads. It only makes sense in a Pod with
// shareProcessNamespace enabled; elsewhere the only visible processes are
// the supervisor's own tree.
type SignalBroadcast struct {
	signame string
	signal  unix.Signal
}

// NewSignalBroadcast builds a signal broadcast action for the named signal
// (e.g. "SIGTERM" or "TERM"). Unknown names are a configuration error.
func NewSignalBroadcast(name string) (*SignalBroadcast, error) {
	normalized := strings.ToUpper(name)
	if !strings.HasPrefix(normalized, "SIG") {
		normalized = "SIG" + normalized
	}
	sig := unix.SignalNum(normalized)
	if sig == 0 {
		return nil, fmt.Errorf("unknown signal %q", name)
	}
	return &SignalBroadcast{signame: normalized, signal: sig}, nil
}

func (b *SignalBroadcast) Kind() Kind {
	return KindSignalKill
}

func (b *SignalBroadcast) Name() string {
	return "signal " + b.signame
}

// Execute enumerates /proc and signals every eligible process. Processes
// that exit between enumeration and delivery are not an error. The action
// refuses to run when the pod shares the host PID namespace: broadcasting
// there would signal processes far outside the Pod.
func (b *SignalBroadcast) Execute(_ context.Context, snap kube.Snapshot) error {
	if snap.HostPID {
		return fmt.Errorf("refusing to broadcast %s: pod shares the host PID namespace", b.signame)
	}

	self := os.Getpid()
	excluded, err := processAncestors(self)
	if err != nil {
		return fmt.Errorf("resolving own ancestry: %w", err)
	}

	pids, err := listPids()
	if err != nil {
		return fmt.Errorf("enumerating processes: %w", err)
	}

	var result *multierror.Error
	for _, pid := range pids {
		if excluded[pid] {
			continue
		}
		if isKernelThread(pid) {
			continue
		}
		if err := unix.Kill(pid, b.signal); err != nil && err != unix.ESRCH {
			result = multierror.Append(result, fmt.Errorf("pid %d: %w", pid, err))
		}
	}
	return result.ErrorOrNil()
}

// listPids returns every numeric entry of /proc.
func listPids() ([]int, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, err
	}
	var pids []int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		pids = append(pids, pid)
	}
	return pids, nil
}

// processAncestors returns pid and every ancestor of pid, resolved by
// walking the ppid chain in /proc/<pid>/stat.
func processAncestors(pid int) (map[int]bool, error) {
	ancestors := map[int]bool{}
	for pid > 0 && !ancestors[pid] {
		ancestors[pid] = true
		ppid, err := parentPid(pid)
		if err != nil {
			// The chain ends where /proc stops answering; what we
			// have collected is still a correct exclusion set.
			break
		}
		pid = ppid
	}
	return ancestors, nil
}

// parentPid reads the ppid from /proc/<pid>/stat. The comm field may
// contain spaces and parentheses, so fields are parsed after the last ')'.
func parentPid(pid int) (int, error) {
	data, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "stat"))
	if err != nil {
		return 0, err
	}
	s := string(data)
	idx := strings.LastIndexByte(s, ')')
	if idx < 0 || idx+2 >= len(s) {
		return 0, fmt.Errorf("malformed stat for pid %d", pid)
	}
	fields := strings.Fields(s[idx+2:])
	if len(fields) < 2 {
		return 0, fmt.Errorf("malformed stat for pid %d", pid)
	}
	return strconv.Atoi(fields[1])
}

// isKernelThread reports whether the pid has an empty cmdline, the
// conventional marker of a kernel thread.
func isKernelThread(pid int) bool {
	data, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "cmdline"))
	if err != nil {
		return false
	}
	return len(data) == 0
}
