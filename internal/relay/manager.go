package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"kftray-core/internal/core"
	"kftray-core/pkg/logging"
)

const readinessDeadline = 60 * time.Second

// Manager creates, waits for readiness of, and tears down relay
// workloads. Templates are rendered once per call from parsed trees held
// by the caller-supplied TemplateSet.
type Manager struct {
	Templates TemplateSet
	rng       *rand.Rand
}

// TemplateSet groups the four parsed relay manifest templates.
type TemplateSet struct {
	ProxyPod         *Template
	ExposeDeployment *Template
	ExposeService    *Template
	ExposeIngress    *Template
}

// ParseDefaultTemplateSet parses the built-in defaults; callers load
// user-customized copies from the config directory instead when present.
func ParseDefaultTemplateSet() (TemplateSet, error) {
	defaults := DefaultTemplates()
	proxyT, err := ParseTemplate([]byte(defaults["proxy_manifest.json"]))
	if err != nil {
		return TemplateSet{}, err
	}
	deployT, err := ParseTemplate([]byte(defaults["expose_deployment.json"]))
	if err != nil {
		return TemplateSet{}, err
	}
	svcT, err := ParseTemplate([]byte(defaults["expose_service.json"]))
	if err != nil {
		return TemplateSet{}, err
	}
	ingT, err := ParseTemplate([]byte(defaults["expose_ingress.json"]))
	if err != nil {
		return TemplateSet{}, err
	}
	return TemplateSet{ProxyPod: proxyT, ExposeDeployment: deployT, ExposeService: svcT, ExposeIngress: ingT}, nil
}

func NewManager(templates TemplateSet) *Manager {
	return &Manager{Templates: templates, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// CreateProxyPod implements the proxy-mode lifecycle's first steps:
// render and create the pod.
func (m *Manager) CreateProxyPod(ctx context.Context, clientset kubernetes.Interface, namespace string, cfg core.Config, user string) (string, error) {
	name := Name(user, string(cfg.Protocol), time.Now(), m.rng)

	values := map[string]string{
		"hashed_name":    name,
		"config_id":      strconv.FormatInt(cfg.ID, 10),
		"local_port":     strconv.Itoa(int(cfg.LocalPort)),
		"remote_port":    cfg.RemotePort,
		"remote_address": cfg.RemoteAddress,
		"protocol":       strings.ToUpper(string(cfg.Protocol)),
	}

	raw, err := m.Templates.ProxyPod.Render(values)
	if err != nil {
		return "", &Error{Kind: ResourceCreationFailed, Message: "render proxy manifest", Err: err}
	}

	var pod corev1.Pod
	if err := json.Unmarshal(raw, &pod); err != nil {
		return "", &Error{Kind: ResourceCreationFailed, Message: "decode rendered pod manifest", Err: err}
	}
	pod.Namespace = namespace

	created, err := clientset.CoreV1().Pods(namespace).Create(ctx, &pod, metav1.CreateOptions{})
	if err != nil {
		return "", &Error{Kind: ResourceCreationFailed, Message: "create relay pod", Err: err}
	}

	logging.Info("relay", "created relay pod %s/%s for config %d", namespace, created.Name, cfg.ID)
	return created.Name, nil
}

// WaitReady polls the pod with exponential-bounded backoff up to a
// 60-second deadline. Failed/Unknown phases
// short-circuit to error; Running with Ready=True succeeds.
func (m *Manager) WaitReady(ctx context.Context, clientset kubernetes.Interface, namespace, podName string) error {
	deadline := time.Now().Add(readinessDeadline)
	backoff := 200 * time.Millisecond
	const maxBackoff = 5 * time.Second

	for {
		pod, err := clientset.CoreV1().Pods(namespace).Get(ctx, podName, metav1.GetOptions{})
		if err != nil {
			return &Error{Kind: ReadinessTimeout, Message: "get relay pod " + podName, Err: err}
		}

		switch pod.Status.Phase {
		case corev1.PodFailed, corev1.PodUnknown:
			return &Error{Kind: ReadinessTimeout, Message: fmt.Sprintf("relay pod %s entered phase %s", podName, pod.Status.Phase)}
		case corev1.PodRunning:
			if podReady(pod) {
				return nil
			}
		}

		if time.Now().After(deadline) {
			return &Error{Kind: ReadinessTimeout, Message: "relay pod " + podName + " not ready within 60s"}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func podReady(pod *corev1.Pod) bool {
	for _, cond := range pod.Status.Conditions {
		if cond.Type == corev1.PodReady && cond.Status == corev1.ConditionTrue {
			return true
		}
	}
	return false
}

// DeleteProxyPod tears the relay pod down: delete with
// propagation=Background and grace-period=0, falling back to a
// config_id-label list when the exact name was lost.
func (m *Manager) DeleteProxyPod(ctx context.Context, clientset kubernetes.Interface, namespace, podName string, configID int64) error {
	background := metav1.DeletePropagationBackground
	grace := int64(0)
	opts := metav1.DeleteOptions{PropagationPolicy: &background, GracePeriodSeconds: &grace}

	if podName != "" {
		err := clientset.CoreV1().Pods(namespace).Delete(ctx, podName, opts)
		if err == nil || apierrors.IsNotFound(err) {
			return nil
		}
		logging.Warn("relay", "delete by name %s failed, falling back to label lookup: %v", podName, err)
	}

	pods, err := clientset.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: "config_id=" + strconv.FormatInt(configID, 10),
	})
	if err != nil {
		return &Error{Kind: TeardownFailed, Message: "list pods by config_id label", Err: err}
	}
	for _, pod := range pods.Items {
		if err := clientset.CoreV1().Pods(namespace).Delete(ctx, pod.Name, opts); err != nil && !apierrors.IsNotFound(err) {
			return &Error{Kind: TeardownFailed, Message: "delete relay pod " + pod.Name, Err: err}
		}
	}
	return nil
}

// ExposeWorkload names the three resources CreateExpose creates.
type ExposeWorkload struct {
	DeploymentName string
	ServiceName    string
	IngressName    string
}

// CreateExpose implements the expose-mode lifecycle: creates a
// Deployment, Service (ports 8080/http, 9999/ws, selector scoped by
// config_id) and, if a domain is requested, an Ingress.
func (m *Manager) CreateExpose(ctx context.Context, clientset kubernetes.Interface, namespace string, cfg core.Config, user, domain string) (ExposeWorkload, error) {
	name := Name(user, "expose", time.Now(), m.rng)
	wl := ExposeWorkload{DeploymentName: name, ServiceName: name}

	values := map[string]string{
		"deployment_name": wl.DeploymentName,
		"service_name":    wl.ServiceName,
		"namespace":       namespace,
		"config_id":       strconv.FormatInt(cfg.ID, 10),
		"local_port":      strconv.Itoa(int(cfg.LocalPort)),
		"domain":          domain,
	}

	deployRaw, err := m.Templates.ExposeDeployment.Render(values)
	if err != nil {
		return wl, &Error{Kind: ResourceCreationFailed, Message: "render expose deployment", Err: err}
	}
	var deploy appsv1.Deployment
	if err := json.Unmarshal(deployRaw, &deploy); err != nil {
		return wl, &Error{Kind: ResourceCreationFailed, Message: "decode expose deployment", Err: err}
	}
	if _, err := clientset.AppsV1().Deployments(namespace).Create(ctx, &deploy, metav1.CreateOptions{}); err != nil {
		return wl, &Error{Kind: ResourceCreationFailed, Message: "create expose deployment", Err: err}
	}

	svcRaw, err := m.Templates.ExposeService.Render(values)
	if err != nil {
		return wl, &Error{Kind: ResourceCreationFailed, Message: "render expose service", Err: err}
	}
	var svc corev1.Service
	if err := json.Unmarshal(svcRaw, &svc); err != nil {
		return wl, &Error{Kind: ResourceCreationFailed, Message: "decode expose service", Err: err}
	}
	if _, err := clientset.CoreV1().Services(namespace).Create(ctx, &svc, metav1.CreateOptions{}); err != nil {
		return wl, &Error{Kind: ResourceCreationFailed, Message: "create expose service", Err: err}
	}

	if domain != "" {
		wl.IngressName = name
		values["ingress_name"] = wl.IngressName
		ingRaw, err := m.Templates.ExposeIngress.Render(values)
		if err != nil {
			return wl, &Error{Kind: ResourceCreationFailed, Message: "render expose ingress", Err: err}
		}
		var ing networkingv1.Ingress
		if err := json.Unmarshal(ingRaw, &ing); err != nil {
			return wl, &Error{Kind: ResourceCreationFailed, Message: "decode expose ingress", Err: err}
		}
		if _, err := clientset.NetworkingV1().Ingresses(namespace).Create(ctx, &ing, metav1.CreateOptions{}); err != nil {
			return wl, &Error{Kind: ResourceCreationFailed, Message: "create expose ingress", Err: err}
		}
	}

	logging.Info("relay", "created expose workload %s in %s for config %d", name, namespace, cfg.ID)
	return wl, nil
}

// DeleteExpose tears down the Deployment/Service/Ingress created by
// CreateExpose, ignoring not-found errors.
func (m *Manager) DeleteExpose(ctx context.Context, clientset kubernetes.Interface, namespace string, wl ExposeWorkload) error {
	background := metav1.DeletePropagationBackground
	opts := metav1.DeleteOptions{PropagationPolicy: &background}

	if err := clientset.AppsV1().Deployments(namespace).Delete(ctx, wl.DeploymentName, opts); err != nil && !apierrors.IsNotFound(err) {
		return &Error{Kind: TeardownFailed, Message: "delete expose deployment", Err: err}
	}
	if err := clientset.CoreV1().Services(namespace).Delete(ctx, wl.ServiceName, opts); err != nil && !apierrors.IsNotFound(err) {
		return &Error{Kind: TeardownFailed, Message: "delete expose service", Err: err}
	}
	if wl.IngressName != "" {
		if err := clientset.NetworkingV1().Ingresses(namespace).Delete(ctx, wl.IngressName, opts); err != nil && !apierrors.IsNotFound(err) {
			return &Error{Kind: TeardownFailed, Message: "delete expose ingress", Err: err}
		}
	}
	return nil
}
