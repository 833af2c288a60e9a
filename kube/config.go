package kube

import (
	"fmt"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// NewClientset creates a Kubernetes clientset. If kubeconfigPath is set, the
// client is built from that file (out-of-cluster development). Otherwise,
// in-cluster configuration is used: the service account token, CA bundle,
// and API endpoint are discovered from the standard ambient locations.
func NewClientset(kubeconfigPath string) (kubernetes.Interface, error) {
	restConfig, err := restConfig(kubeconfigPath)
	if err != nil {
		return nil, fmt.Errorf("building k8s rest config: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("creating k8s clientset: %w", err)
	}

	return clientset, nil
}

func restConfig(kubeconfigPath string) (*rest.Config, error) {
	if kubeconfigPath != "" {
		return clientcmd.BuildConfigFromFlags("", kubeconfigPath)
	}
	return rest.InClusterConfig()
}
