package kube

import (
	corev1 "k8s.io/api/core/v1"
)

// ContainerState is the coarse lifecycle state of a container within a
// Pod snapshot.
type ContainerState int

const (
	ContainerWaiting ContainerState = iota
	ContainerRunning
	ContainerTerminated
)

func (s ContainerState) String() string {
	switch s {
	case ContainerRunning:
		return "running"
	case ContainerTerminated:
		return "terminated"
	default:
		return "waiting"
	}
}

// Container is one container's observed state within a Snapshot.
type Container struct {
	Name     string
	State    ContainerState
	ExitCode int32 // meaningful only when State is ContainerTerminated
	Ready    bool
}

// Terminated reports whether the container has exited.
func (c Container) Terminated() bool {
	return c.State == ContainerTerminated
}

// Snapshot is an immutable observation of the enclosing Pod at one point in
// time. The watcher produces a new Snapshot per update; consumers only ever
// read the most recent one.
//
// Restartable init containers (restartPolicy: Always) are included in
// Containers — they are sidecars in the native Kubernetes sense and are
// managed exactly like regular peer containers. Ordinary init containers
// are excluded: they are expected to exit before the main containers start
// and are not something to wait for or shut down.
type Snapshot struct {
	Name            string
	Namespace       string
	ResourceVersion string
	HostPID         bool
	Containers      []Container
}

// NewSnapshot converts a Pod object into a Snapshot. Containers declared in
// the spec but without a reported status yet are surfaced as Waiting.
func NewSnapshot(pod *corev1.Pod) Snapshot {
	statuses := make(map[string]*corev1.ContainerStatus, len(pod.Status.ContainerStatuses))
	for i := range pod.Status.ContainerStatuses {
		cs := &pod.Status.ContainerStatuses[i]
		statuses[cs.Name] = cs
	}
	initStatuses := make(map[string]*corev1.ContainerStatus, len(pod.Status.InitContainerStatuses))
	for i := range pod.Status.InitContainerStatuses {
		cs := &pod.Status.InitContainerStatuses[i]
		initStatuses[cs.Name] = cs
	}

	var containers []Container
	for _, c := range pod.Spec.InitContainers {
		if c.RestartPolicy == nil || *c.RestartPolicy != corev1.ContainerRestartPolicyAlways {
			continue
		}
		containers = append(containers, containerFromStatus(c.Name, initStatuses[c.Name]))
	}
	for _, c := range pod.Spec.Containers {
		containers = append(containers, containerFromStatus(c.Name, statuses[c.Name]))
	}

	return Snapshot{
		Name:            pod.Name,
		Namespace:       pod.Namespace,
		ResourceVersion: pod.ResourceVersion,
		HostPID:         pod.Spec.HostPID,
		Containers:      containers,
	}
}

func containerFromStatus(name string, cs *corev1.ContainerStatus) Container {
	c := Container{Name: name, State: ContainerWaiting}
	if cs == nil {
		return c
	}
	c.Ready = cs.Ready
	switch {
	case cs.State.Terminated != nil:
		c.State = ContainerTerminated
		c.ExitCode = cs.State.Terminated.ExitCode
	case cs.State.Running != nil:
		c.State = ContainerRunning
	}
	return c
}

// Container returns the container with the given name, if present.
func (s Snapshot) Container(name string) (Container, bool) {
	for _, c := range s.Containers {
		if c.Name == name {
			return c, true
		}
	}
	return Container{}, false
}

// HasContainer reports whether a container with the given name appears in
// the snapshot.
func (s Snapshot) HasContainer(name string) bool {
	_, ok := s.Container(name)
	return ok
}

// Peers returns every container except the one named self. Peers are the
// sidecars the coordinator manages.
func (s Snapshot) Peers(self string) []Container {
	var peers []Container
	for _, c := range s.Containers {
		if c.Name != self {
			peers = append(peers, c)
		}
	}
	return peers
}

// AllPeersTerminated reports whether every peer container has exited. A
// snapshot with no peers trivially satisfies this.
func (s Snapshot) AllPeersTerminated(self string) bool {
	for _, c := range s.Peers(self) {
		if !c.Terminated() {
			return false
		}
	}
	return true
}
