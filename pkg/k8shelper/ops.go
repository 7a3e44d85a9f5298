package k8shelper

import (
	"context"
	"fmt"
	"math"
	"os"
	"time"

	"go.uber.org/zap"
	v1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/utils/ptr"

	"github.com/truefoundry/bigtable-autoscaler/pkg/cluster"
	"github.com/truefoundry/bigtable-autoscaler/pkg/values"
)

const readyPollInterval = 5 * time.Second

// Ops sizes a self-hosted wide-column cluster running as a StatefulSet.
type Ops struct {
	kClient      kubernetes.Interface
	namespace    string
	statefulSet  string
	readyTimeout time.Duration
	pollInterval time.Duration
	logger       *zap.Logger
}

var _ cluster.Sizer = (*Ops)(nil)

// RestConfig prefers the in-cluster config and falls back to kubeconfig (or the default home file).
func RestConfig(kubeconfig string) (*rest.Config, error) {
	if cfg, err := rest.InClusterConfig(); err == nil {
		return cfg, nil
	}
	if kubeconfig == "" {
		kubeconfig = os.Getenv("KUBECONFIG")
	}
	if kubeconfig == "" {
		kubeconfig = clientcmd.RecommendedHomeFile
	}
	cfg, err := clientcmd.BuildConfigFromFlags("", kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("build kube config: %w", err)
	}
	return cfg, nil
}

// NewOps creates an Ops for the named StatefulSet. A zero readyTimeout returns from
// SetClusterSize as soon as the replica count is patched.
func NewOps(logger *zap.Logger, config *rest.Config, namespace, statefulSet string, readyTimeout time.Duration) (*Ops, error) {
	kClient, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("error connecting with kubernetes: %w", err)
	}
	return NewOpsForClient(logger, kClient, namespace, statefulSet, readyTimeout), nil
}

func NewOpsForClient(logger *zap.Logger, kClient kubernetes.Interface, namespace, statefulSet string, readyTimeout time.Duration) *Ops {
	return &Ops{
		kClient:      kClient,
		namespace:    namespace,
		statefulSet:  statefulSet,
		readyTimeout: readyTimeout,
		pollInterval: readyPollInterval,
		logger:       logger.Named("k8sOps"),
	}
}

func (k *Ops) GetClusterSize(ctx context.Context) (int, error) {
	sts, err := k.kClient.AppsV1().StatefulSets(k.namespace).Get(ctx, k.statefulSet, metav1.GetOptions{})
	if err != nil {
		return 0, fmt.Errorf("GetClusterSize - GET: %w", err)
	}
	return int(ptr.Deref(sts.Spec.Replicas, 1)), nil
}

// SetClusterSize patches the StatefulSet replicas and, if configured, waits until that many
// replicas report ready.
func (k *Ops) SetClusterSize(ctx context.Context, size int) error {
	if size <= 0 || size > math.MaxInt32 {
		return fmt.Errorf("SetClusterSize - invalid replica count %d", size)
	}
	replicas := int32(size)
	patchBytes := []byte(fmt.Sprintf(`{"spec":{"replicas":%d}}`, replicas))
	_, err := k.kClient.AppsV1().StatefulSets(k.namespace).Patch(ctx, k.statefulSet, types.StrategicMergePatchType, patchBytes, metav1.PatchOptions{})
	if err != nil {
		k.recordEvent(ctx, v1.EventTypeWarning, "ResizeFailed", fmt.Sprintf("Failed to scale %s to %d replicas: %v", k.statefulSet, replicas, err))
		return fmt.Errorf("SetClusterSize - Patch: %w", err)
	}
	k.logger.Info("StatefulSet scaled", zap.String("statefulSet", k.statefulSet), zap.Int32("replicas", replicas))

	if k.readyTimeout > 0 {
		if err := k.waitForReady(ctx, replicas); err != nil {
			k.recordEvent(ctx, v1.EventTypeWarning, "ResizeNotReady", fmt.Sprintf("%s did not reach %d ready replicas: %v", k.statefulSet, replicas, err))
			return fmt.Errorf("SetClusterSize - wait for ready: %w", err)
		}
	}

	k.recordEvent(ctx, v1.EventTypeNormal, "Resized", fmt.Sprintf("Successfully scaled %s to %d replicas", k.statefulSet, replicas))
	return nil
}

func (k *Ops) waitForReady(ctx context.Context, replicas int32) error {
	return wait.PollUntilContextTimeout(ctx, k.pollInterval, k.readyTimeout, true, func(ctx context.Context) (bool, error) {
		sts, err := k.kClient.AppsV1().StatefulSets(k.namespace).Get(ctx, k.statefulSet, metav1.GetOptions{})
		if err != nil {
			return false, err
		}
		if sts.Status.ObservedGeneration < sts.Generation {
			return false, nil
		}
		k.logger.Debug("Waiting for replicas", zap.Int32("ready", sts.Status.ReadyReplicas), zap.Int32("desired", replicas))
		return sts.Status.ReadyReplicas == replicas, nil
	})
}

// recordEvent creates an event on the StatefulSet; failures are only logged.
func (k *Ops) recordEvent(ctx context.Context, eventType, reason, message string) {
	now := metav1.Now()
	event := &v1.Event{
		ObjectMeta: metav1.ObjectMeta{
			Name:      fmt.Sprintf("%s.%x", k.statefulSet, now.UnixNano()),
			Namespace: k.namespace,
		},
		InvolvedObject: v1.ObjectReference{
			APIVersion: "apps/v1",
			Kind:       "StatefulSet",
			Name:       k.statefulSet,
			Namespace:  k.namespace,
		},
		Type:    eventType,
		Reason:  reason,
		Message: message,
		Action:  "Scale",
		Source: v1.EventSource{
			Component: values.EventComponent,
		},
		FirstTimestamp: now,
		LastTimestamp:  now,
		Count:          1,
	}

	if _, err := k.kClient.CoreV1().Events(k.namespace).Create(ctx, event, metav1.CreateOptions{}); err != nil {
		k.logger.Error("Failed to create event", zap.String("reason", reason), zap.Error(err))
	}
}
