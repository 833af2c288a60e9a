package kube

// Verdict is the derived judgment of peer-sidecar state. It is a
// deterministic function of (snapshot, self identity, launch latch).
type Verdict int

const (
	// VerdictWaiting means some peer is neither Ready nor Terminated.
	VerdictWaiting Verdict = iota

	// VerdictAllReady means every peer is settled (Ready or Terminated)
	// and at least one peer is currently Ready — there will be something
	// to shut down later.
	VerdictAllReady

	// VerdictNoPeers means there is nothing to wait for and nothing to
	// shut down: either the Pod has no sidecars at all, or every sidecar
	// already exited successfully before the workload started.
	VerdictNoPeers

	// VerdictPeerFailedEarly means a peer terminated with a nonzero exit
	// code before the peers were ever collectively ready.
	VerdictPeerFailedEarly
)

func (v Verdict) String() string {
	switch v {
	case VerdictAllReady:
		return "all-ready"
	case VerdictNoPeers:
		return "no-peers"
	case VerdictPeerFailedEarly:
		return "peer-failed-early"
	default:
		return "waiting"
	}
}

// Launches reports whether the verdict permits starting the child.
func (v Verdict) Launches() bool {
	return v == VerdictAllReady || v == VerdictNoPeers
}

// EvaluateReadiness computes the Verdict for a snapshot. A peer counts as
// settled when it is Ready or has Terminated — a container that already
// exited is not something to wait for. launched is the edge-latch bit: once
// a launching verdict has been observed, an all-terminated peer set is the
// normal post-main wind-down rather than an early failure.
//
// When every peer terminated before a launching verdict was ever observed,
// exit codes disambiguate: all zero means the sidecars were init-style
// helpers that finished their work (treated as no peers), any nonzero means
// a sidecar died before the workload could run.
func EvaluateReadiness(snap Snapshot, self string, launched bool) Verdict {
	peers := snap.Peers(self)
	if len(peers) == 0 {
		return VerdictNoPeers
	}

	anyReady := false
	allTerminated := true
	allExitedZero := true
	for _, p := range peers {
		if !p.Ready && !p.Terminated() {
			return VerdictWaiting
		}
		if p.Ready && !p.Terminated() {
			anyReady = true
		}
		if p.Terminated() {
			if p.ExitCode != 0 {
				allExitedZero = false
			}
		} else {
			allTerminated = false
		}
	}

	if anyReady {
		return VerdictAllReady
	}

	// Every peer has terminated.
	if launched {
		return VerdictAllReady
	}
	if allTerminated && allExitedZero {
		return VerdictNoPeers
	}
	return VerdictPeerFailedEarly
}

// Evaluator folds snapshots into verdicts, remembering whether a launching
// verdict was ever produced so that early peer failure can be told apart
// from normal post-main termination.
type Evaluator struct {
	self     Identity
	launched bool
}

func NewEvaluator(self Identity) *Evaluator {
	return &Evaluator{self: self}
}

// Observe evaluates one snapshot. A snapshot that does not contain the
// configured self container is a fatal configuration error.
func (e *Evaluator) Observe(snap Snapshot) (Verdict, error) {
	if !snap.HasContainer(e.self.ContainerName) {
		return VerdictWaiting, &IdentityError{
			Reason: "container " + e.self.ContainerName + " not found in pod " + snap.Name,
		}
	}

	v := EvaluateReadiness(snap, e.self.ContainerName, e.launched)
	if v.Launches() {
		e.launched = true
	}
	return v, nil
}

// Launched reports whether a launching verdict (AllReady or NoPeers) has
// ever been observed.
func (e *Evaluator) Launched() bool {
	return e.launched
}
