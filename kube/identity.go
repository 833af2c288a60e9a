package kube

import (
	"os"
	"strings"
)

const (
	// DefaultContainerName is the conventional name of the primary
	// container in a Pod, used when --container-name is not given.
	DefaultContainerName = "main"

	// inClusterNamespaceFile is where the kubelet projects the service
	// account namespace inside a Pod.
	inClusterNamespaceFile = "/var/run/secrets/kubernetes.io/serviceaccount/namespace"
)

// Identity is the coordinator's knowledge of which Pod and container it is
// running in. It is resolved once at startup and never changes.
type Identity struct {
	PodName       string
	Namespace     string
	ContainerName string
}

// ResolveIdentity derives the process's identity from the ambient
// environment. The orchestrator sets the hostname to the Pod name; the
// namespace comes from namespaceOverride when non-empty, otherwise from the
// in-cluster service account projection. Failure to resolve either is a
// fatal startup error.
func ResolveIdentity(containerName, namespaceOverride string) (Identity, error) {
	if containerName == "" {
		containerName = DefaultContainerName
	}

	podName := os.Getenv("HOSTNAME")
	if podName == "" {
		var err error
		podName, err = os.Hostname()
		if err != nil {
			return Identity{}, &IdentityError{Reason: "resolving hostname", Cause: err}
		}
	}
	if podName == "" {
		return Identity{}, &IdentityError{Reason: "hostname is empty; cannot derive pod name"}
	}

	namespace := namespaceOverride
	if namespace == "" {
		data, err := os.ReadFile(inClusterNamespaceFile)
		if err != nil {
			return Identity{}, &IdentityError{Reason: "reading in-cluster namespace", Cause: err}
		}
		namespace = strings.TrimSpace(string(data))
	}
	if namespace == "" {
		return Identity{}, &IdentityError{Reason: "namespace is empty"}
	}

	return Identity{
		PodName:       podName,
		Namespace:     namespace,
		ContainerName: containerName,
	}, nil
}
