// Package resolver is the target resolver: it maps a
// Config to a concrete TargetPod, choosing a ready pod when the target is
// a service or a label selector.
package resolver

import (
	"context"
	"strconv"
	"strings"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/client-go/kubernetes"

	"kftray-core/internal/core"
)

// Target is either a named service or a raw pod-label selector, mirroring
// the ServiceName(name) / PodLabel(selector) variants.
type Target struct {
	ServiceName string
	PodLabel    string
	// Port is either numeric ("8080") or a named targetPort ("http").
	Port string
}

// Resolve implements resolve(client, target) -> TargetPod.
func Resolve(ctx context.Context, clientset kubernetes.Interface, namespace string, target Target) (core.TargetPod, error) {
	var (
		pod *corev1.Pod
		err error
	)

	if target.ServiceName != "" {
		pod, err = resolveViaService(ctx, clientset, namespace, target.ServiceName)
		if isNotFound(err) {
			// Service missing (404): fall back to treating the name
			// itself as a label selector.
			pod, err = resolveViaLabelSelector(ctx, clientset, namespace, target.ServiceName)
		}
	} else {
		pod, err = resolveViaLabelSelector(ctx, clientset, namespace, target.PodLabel)
	}
	if err != nil {
		return core.TargetPod{}, err
	}

	containerPort, err := resolvePort(pod, target.Port)
	if err != nil {
		return core.TargetPod{}, err
	}

	return core.TargetPod{PodName: pod.Name, ContainerPort: containerPort}, nil
}

func resolveViaService(ctx context.Context, clientset kubernetes.Interface, namespace, name string) (*corev1.Pod, error) {
	svc, err := clientset.CoreV1().Services(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, err
	}
	if len(svc.Spec.Selector) == 0 {
		return nil, &Error{Kind: PodLookupFailed, Message: "service " + namespace + "/" + name + " has no selector"}
	}
	selector := labels.SelectorFromSet(svc.Spec.Selector).String()
	return pickReadyPod(ctx, clientset, namespace, selector)
}

func resolveViaLabelSelector(ctx context.Context, clientset kubernetes.Interface, namespace, selector string) (*corev1.Pod, error) {
	if selector == "" {
		return nil, &Error{Kind: PodLookupFailed, Message: "empty pod label selector"}
	}
	return pickReadyPod(ctx, clientset, namespace, selector)
}

// pickReadyPod implements the "AnyReady" policy: the first pod whose
// status contains a condition Ready=True.
func pickReadyPod(ctx context.Context, clientset kubernetes.Interface, namespace, selector string) (*corev1.Pod, error) {
	list, err := clientset.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{LabelSelector: selector})
	if err != nil {
		return nil, &Error{Kind: PodLookupFailed, Message: "listing pods with selector " + selector, Err: err}
	}
	for i := range list.Items {
		pod := &list.Items[i]
		if isPodReady(pod) {
			return pod, nil
		}
	}
	return nil, &Error{Kind: PodLookupFailed, Message: "no ready pod matched selector " + selector + " in " + namespace}
}

func isPodReady(pod *corev1.Pod) bool {
	for _, cond := range pod.Status.Conditions {
		if cond.Type == corev1.PodReady && cond.Status == corev1.ConditionTrue {
			return true
		}
	}
	return false
}

// resolvePort implements the port-resolution rule: numeric
// ports are used as-is; named ports are resolved by walking the pod's
// containers for a matching port.name.
func resolvePort(pod *corev1.Pod, port string) (int32, error) {
	if port == "" {
		return 0, &Error{Kind: PortLookupFailed, Message: "no port specified"}
	}
	if n, err := strconv.ParseUint(port, 10, 16); err == nil {
		return int32(n), nil
	}

	for _, c := range pod.Spec.Containers {
		for _, p := range c.Ports {
			if p.Name == port {
				return p.ContainerPort, nil
			}
		}
	}
	return 0, &Error{Kind: PortLookupFailed, Message: "named port " + strings.TrimSpace(port) + " not found on pod " + pod.Name}
}

func isNotFound(err error) bool {
	return err != nil && apierrors.IsNotFound(err)
}
