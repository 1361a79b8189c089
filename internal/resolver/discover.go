package resolver

import (
	"context"
	"strconv"
	"strings"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

const (
	annotationEnabled = "kftray.app/enabled"
	annotationConfigs = "kftray.app/configs"
)

// DiscoveredConfig is one entry parsed out of the kftray.app/configs
// annotation.
type DiscoveredConfig struct {
	Alias            string
	LocalPort        uint16
	TargetPortOrName string
}

// DiscoverAnnotated scans services and pods in namespace for
// kftray.app/enabled=true and returns the configs declared by their
// kftray.app/configs annotation ("alias-localPort-targetPortOrName, ...").
func DiscoverAnnotated(ctx context.Context, clientset kubernetes.Interface, namespace string) (map[string][]DiscoveredConfig, error) {
	result := make(map[string][]DiscoveredConfig)

	svcs, err := clientset.CoreV1().Services(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, &Error{Kind: PodLookupFailed, Message: "listing services for annotation discovery", Err: err}
	}
	for _, svc := range svcs.Items {
		if entries, ok := parseAnnotated(svc.Annotations); ok {
			result[svc.Name] = entries
		}
	}

	pods, err := clientset.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, &Error{Kind: PodLookupFailed, Message: "listing pods for annotation discovery", Err: err}
	}
	for _, pod := range pods.Items {
		if entries, ok := parseAnnotated(pod.Annotations); ok {
			result[pod.Name] = entries
		}
	}

	return result, nil
}

func parseAnnotated(annotations map[string]string) ([]DiscoveredConfig, bool) {
	if annotations[annotationEnabled] != "true" {
		return nil, false
	}
	raw := annotations[annotationConfigs]
	if raw == "" {
		return nil, false
	}

	var entries []DiscoveredConfig
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		parts := strings.SplitN(item, "-", 3)
		if len(parts) != 3 {
			continue
		}
		port, err := strconv.ParseUint(parts[1], 10, 16)
		if err != nil {
			continue
		}
		entries = append(entries, DiscoveredConfig{
			Alias:            parts[0],
			LocalPort:        uint16(port),
			TargetPortOrName: parts[2],
		})
	}
	return entries, len(entries) > 0
}
