package kube

import (
	"context"
	"fmt"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
	"code.cloudfoundry.org/lager/v3"
	"github.com/cenkalti/backoff/v5"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"

	"github.com/tdmtrader/proa/metric"
)

const (
	// watchBackoffInitial is the first reconnect delay after a watch or
	// API failure.
	watchBackoffInitial = time.Second

	// watchBackoffMax caps the reconnect delay.
	watchBackoffMax = 30 * time.Second
)

// WatchPod starts a Kubernetes Watch on a specific pod identified by name
// within the given namespace. The watch uses a field selector
// (metadata.name=<podName>) to receive events only for that pod. If
// resourceVersion is non-empty, the watch resumes from that version to
// avoid missing events after a reconnection.
func WatchPod(ctx context.Context, clientset kubernetes.Interface, namespace, podName, resourceVersion string) (watch.Interface, error) {
	opts := metav1.ListOptions{
		FieldSelector:   fmt.Sprintf("metadata.name=%s", podName),
		ResourceVersion: resourceVersion,
	}
	return clientset.CoreV1().Pods(namespace).Watch(ctx, opts)
}

// PodWatcher produces a lazy, long-lived sequence of Snapshots of a single
// pod. It wraps the Kubernetes list+watch pattern: an initial Get to sync
// current state, then a field-selector watch resumed by resourceVersion.
// Disconnects, version gaps, and transient API errors are recovered
// transparently with jittered exponential backoff; fatal errors
// (authentication, RBAC, a 404 on the pod itself) end the sequence.
type PodWatcher struct {
	mu                  sync.Mutex
	logger              lager.Logger
	clientset           kubernetes.Interface
	clk                 clock.Clock
	namespace           string
	podName             string
	lastResourceVersion string
	watcher             watch.Interface
	synced              bool
	stopped             bool
	backoff             *backoff.ExponentialBackOff
}

// NewPodWatcher creates a PodWatcher for the given pod. Nothing is fetched
// until the first call to Next(), which does the initial Get; the watch is
// established lazily on the next call after that.
func NewPodWatcher(logger lager.Logger, clientset kubernetes.Interface, clk clock.Clock, namespace, podName string) *PodWatcher {
	bo := &backoff.ExponentialBackOff{
		InitialInterval:     watchBackoffInitial,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         watchBackoffMax,
	}
	bo.Reset()

	return &PodWatcher{
		logger:    logger.Session("pod-watcher", lager.Data{"namespace": namespace, "pod": podName}),
		clientset: clientset,
		clk:       clk,
		namespace: namespace,
		podName:   podName,
		backoff:   bo,
	}
}

// Stop stops the underlying watch. After Stop(), Next() must not be called.
func (pw *PodWatcher) Stop() {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	pw.stopped = true
	if pw.watcher != nil {
		pw.watcher.Stop()
		pw.watcher = nil
	}
}

// Next blocks until the next pod update is observed and returns it as a
// Snapshot. On the first call it does a Get() to sync current state, so
// changes that happened before the watch existed are not missed. Transient
// failures are retried indefinitely with backoff; a fatal API error is
// returned wrapped as *APIAccessError.
func (pw *PodWatcher) Next(ctx context.Context) (Snapshot, error) {
	pw.mu.Lock()
	needsInitialSync := !pw.synced
	pw.mu.Unlock()

	if needsInitialSync {
		return pw.initialSync(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return Snapshot{}, ctx.Err()
		default:
		}

		// Establish the watch if needed.
		pw.mu.Lock()
		if pw.watcher == nil {
			w, err := WatchPod(ctx, pw.clientset, pw.namespace, pw.podName, pw.lastResourceVersion)
			if err != nil {
				pw.mu.Unlock()
				if isFatalAPIError(err) {
					pw.logger.Error("watch-failed-fatally", err)
					return Snapshot{}, classifyAPIError(err)
				}
				pw.logRetry("failed-to-establish-watch", err)
				if err := pw.sleepBackoff(ctx); err != nil {
					return Snapshot{}, err
				}
				continue
			}
			pw.watcher = w
			pw.backoff.Reset()
		}
		ch := pw.watcher.ResultChan()
		pw.mu.Unlock()

		select {
		case <-ctx.Done():
			return Snapshot{}, ctx.Err()

		case event, ok := <-ch:
			if !ok {
				// Channel closed — watch disconnected. Re-establish.
				pw.logger.Debug("watch-disconnected")
				metric.RecordWatchReconnect(ctx)
				pw.mu.Lock()
				pw.watcher = nil
				pw.mu.Unlock()
				if err := pw.sleepBackoff(ctx); err != nil {
					return Snapshot{}, err
				}
				continue
			}

			if event.Type == watch.Error {
				// Typically a 410 Gone after a version gap. Drop the
				// stored resourceVersion so the next watch relists.
				pw.logger.Info("watch-error-event", lager.Data{"object": fmt.Sprintf("%T", event.Object)})
				metric.RecordWatchReconnect(ctx)
				pw.mu.Lock()
				pw.lastResourceVersion = ""
				if pw.watcher != nil {
					pw.watcher.Stop()
				}
				pw.watcher = nil
				pw.mu.Unlock()
				if err := pw.sleepBackoff(ctx); err != nil {
					return Snapshot{}, err
				}
				continue
			}

			pod, isPod := event.Object.(*corev1.Pod)
			if !isPod {
				continue
			}

			pw.mu.Lock()
			pw.lastResourceVersion = pod.ResourceVersion
			pw.mu.Unlock()
			return NewSnapshot(pod), nil
		}
	}
}

// initialSync retrieves the pod's current state with a single Get, retried
// with backoff on transient failure. The resulting resourceVersion seeds
// the watch.
func (pw *PodWatcher) initialSync(ctx context.Context) (Snapshot, error) {
	for {
		select {
		case <-ctx.Done():
			return Snapshot{}, ctx.Err()
		default:
		}

		pod, err := pw.clientset.CoreV1().Pods(pw.namespace).Get(ctx, pw.podName, metav1.GetOptions{})
		if err != nil {
			if isFatalAPIError(err) {
				pw.logger.Error("initial-sync-failed-fatally", err)
				return Snapshot{}, classifyAPIError(err)
			}
			pw.logRetry("initial-sync-failed", err)
			if err := pw.sleepBackoff(ctx); err != nil {
				return Snapshot{}, err
			}
			continue
		}

		pw.mu.Lock()
		pw.synced = true
		pw.lastResourceVersion = pod.ResourceVersion
		pw.mu.Unlock()
		pw.backoff.Reset()
		return NewSnapshot(pod), nil
	}
}

// logRetry logs a retried failure, at error level for errors that are not
// recognizably transient so they stand out in the stream.
func (pw *PodWatcher) logRetry(action string, err error) {
	if isTransientAPIError(err) {
		pw.logger.Debug(action, lager.Data{"error": err.Error(), "transient": true})
		return
	}
	pw.logger.Error(action, err)
}

// sleepBackoff sleeps for the next backoff interval or until the context is
// cancelled.
func (pw *PodWatcher) sleepBackoff(ctx context.Context) error {
	d := pw.backoff.NextBackOff()
	timer := pw.clk.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C():
		return nil
	}
}
