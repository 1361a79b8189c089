package registry

import (
	"context"
	"strconv"
	"time"

	"k8s.io/client-go/kubernetes"

	"kftray-core/internal/core"
	"kftray-core/internal/kubeclient"
	"kftray-core/internal/relay/tunnel"
	"kftray-core/internal/resolver"
	"kftray-core/pkg/logging"
)

const exposeReadinessDeadline = 60 * time.Second

// startExpose implements the expose-mode lifecycle: create the
// Deployment/Service, wait for a ready backing pod, then run a
// tunnel.Client that dials the pod's ws port and serves requests
// against the local address/port. Unlike proxy/service/pod configs,
// expose carries no locally bound listener; the tunnel pulls traffic
// from the cluster instead of the forwarder accepting it locally.
func (s *Supervisor) startExpose(ctx context.Context, client *kubeclient.Client, cfg core.Config, result core.ForwardResult) core.ForwardResult {
	wl, err := s.relayMgr.CreateExpose(ctx, client.Clientset, cfg.Namespace, cfg, "kftray", "")
	if err != nil {
		result.Status = 1
		result.Stderr = err.Error()
		return result
	}

	podTarget, err := waitForExposeTarget(ctx, client.Clientset, cfg)
	if err != nil {
		_ = s.relayMgr.DeleteExpose(ctx, client.Clientset, cfg.Namespace, wl)
		result.Status = 1
		result.Stderr = err.Error()
		return result
	}

	forwardCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	handle := core.NewForwardHandle(cfg.ID, cancel, done)
	handle.RelayNamespace = cfg.Namespace
	handle.ExposeDeploymentName = wl.DeploymentName
	handle.ExposeServiceName = wl.ServiceName
	handle.ExposeIngressName = wl.IngressName
	handle.BoundLocalPort = cfg.LocalPort

	e := &entry{handle: handle, cfg: cfg}

	tc := tunnel.NewClient(tunnel.DialPortForward(client, cfg.Namespace, podTarget.PodName, podTarget.ContainerPort), localAddr(cfg), cfg.LocalPort)
	tc.Touch = func() { s.Touch(cfg.ID) }
	e.tunnel = tc

	go func() {
		if err := tc.Run(forwardCtx); err != nil && forwardCtx.Err() == nil {
			logging.Warn("registry", "expose tunnel for config %d ended: %v", cfg.ID, err)
		}
	}()
	go func() {
		<-forwardCtx.Done()
		close(done)
	}()

	s.mu.Lock()
	s.entries[cfg.ID] = e
	s.mu.Unlock()

	s.store.Set(core.ConfigState{ConfigID: cfg.ID, IsRunning: true})
	s.bus.Publish(ChangeEvent{ConfigID: cfg.ID, Kind: ChangeStarted, Timestamp: time.Now()})

	result.Status = 0
	result.BoundLocalPort = cfg.LocalPort
	return result
}

// waitForExposeTarget polls the expose Deployment's backing pod
// (selected by the same config_id label CreateExpose assigns it) with
// exponential-bounded backoff until a ready pod exposes the ws port,
// mirroring relay.Manager.WaitReady's polling shape for the pod-based
// proxy path.
func waitForExposeTarget(ctx context.Context, clientset kubernetes.Interface, cfg core.Config) (core.TargetPod, error) {
	deadline := time.Now().Add(exposeReadinessDeadline)
	backoff := 200 * time.Millisecond
	const maxBackoff = 5 * time.Second

	selector := resolver.Target{PodLabel: "config_id=" + strconv.FormatInt(cfg.ID, 10), Port: "ws"}

	for {
		target, err := resolver.Resolve(ctx, clientset, cfg.Namespace, selector)
		if err == nil {
			return target, nil
		}
		if time.Now().After(deadline) {
			return core.TargetPod{}, err
		}
		select {
		case <-ctx.Done():
			return core.TargetPod{}, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
