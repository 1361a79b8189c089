package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"kftray-core/internal/core"
	"kftray-core/internal/httplog"
	"kftray-core/internal/kubeclient"
	"kftray-core/internal/relay"
	"kftray-core/internal/relay/tunnel"
	"kftray-core/internal/resolver"
	"kftray-core/internal/tcpforward"
	"kftray-core/internal/udpforward"
	"kftray-core/pkg/logging"
)

// NetworkMonitor is the external "network is up" collaborator; the
// core only consumes its verdict.
type NetworkMonitor interface {
	IsUp() bool
}

type alwaysUp struct{}

func (alwaysUp) IsUp() bool { return true }

// StateStore is the external config-state store collaborator; the
// supervisor only writes to it, via Set.
type StateStore interface {
	Set(state core.ConfigState)
}

type noopStateStore struct{}

func (noopStateStore) Set(core.ConfigState) {}

// Settings mirrors the read-only settings store consulted by the
// supervisor and its health loop.
type Settings struct {
	DisconnectTimeoutMinutes int
	NetworkMonitorEnabled    bool
	HealthCheckInterval      time.Duration // default 15s, fast mode 2s
	HTTPLogsMaxFileSize      int64
	HTTPLogsRetentionDays    int
	HTTPLogsQueueCapacity    int
	HTTPLogsFlushInterval    time.Duration
	HTTPLogDir               string
}

func DefaultSettings() Settings {
	return Settings{
		DisconnectTimeoutMinutes: 0,
		NetworkMonitorEnabled:    true,
		HealthCheckInterval:      15 * time.Second,
		HTTPLogsMaxFileSize:      10 << 20,
		HTTPLogsRetentionDays:    7,
		HTTPLogsQueueCapacity:    1024,
		HTTPLogsFlushInterval:    2 * time.Second,
		HTTPLogDir:               "./kftray-logs",
	}
}

// entry is the supervisor's bookkeeping for one running forward, layered
// on top of the public core.ForwardHandle.
type entry struct {
	handle     *core.ForwardHandle
	cfg        core.Config
	tcp        *tcpforward.Forwarder
	udp        *udpforward.Forwarder
	tunnel     *tunnel.Client
	pipeline   *httplog.Pipeline
	consecFail int
	mu         sync.Mutex
}

// Supervisor is the process-wide registry of active forwards plus its
// health-check loop and change-notification stream. Ownership is
// linear: the Supervisor owns entries; entries own their forwarders;
// forwarders hold only a cancellation signal.
type Supervisor struct {
	factory  *kubeclient.Factory
	relayMgr *relay.Manager
	logs     *httplog.EnableMap
	network  NetworkMonitor
	store    StateStore
	settings Settings

	mu      sync.Mutex
	entries map[int64]*entry
	locks   map[int64]*sync.Mutex // per-config serialization (ordering guarantee)

	bus *eventBus

	healthCancel context.CancelFunc
	healthDone   chan struct{}
}

// NewSupervisor wires the registry to its collaborators. network and
// store may be nil, in which case permissive defaults are used (the
// network is assumed always up; state changes are only reflected via the
// change stream).
func NewSupervisor(factory *kubeclient.Factory, relayMgr *relay.Manager, logs *httplog.EnableMap, network NetworkMonitor, store StateStore, settings Settings) *Supervisor {
	if network == nil {
		network = alwaysUp{}
	}
	if store == nil {
		store = noopStateStore{}
	}
	s := &Supervisor{
		factory:  factory,
		relayMgr: relayMgr,
		logs:     logs,
		network:  network,
		store:    store,
		settings: settings,
		entries:  make(map[int64]*entry),
		locks:    make(map[int64]*sync.Mutex),
		bus:      newEventBus(),
	}
	s.startHealthLoop()
	return s
}

func (s *Supervisor) configLock(id int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// Start processes each config entirely (including relay-pod deploy)
// before moving to the next, to keep error reporting aligned with
// input order. Calls on distinct config ids still run concurrently
// with each other if invoked from multiple goroutines; serialization
// is per-configId only.
func (s *Supervisor) Start(ctx context.Context, configs []core.Config) []core.ForwardResult {
	results := make([]core.ForwardResult, 0, len(configs))
	for _, cfg := range configs {
		results = append(results, s.startOne(ctx, cfg))
	}
	return results
}

func (s *Supervisor) startOne(ctx context.Context, cfg core.Config) core.ForwardResult {
	lock := s.configLock(cfg.ID)
	lock.Lock()
	defer lock.Unlock()

	result := core.ForwardResult{
		ConfigID:  cfg.ID,
		RemotePort: cfg.RemotePort,
		Service:   cfg.Service,
		Context:   cfg.Context,
		Namespace: cfg.Namespace,
		Protocol:  cfg.Protocol,
	}

	if err := cfg.Validate(); err != nil {
		result.Status = 1
		result.Stderr = err.Error()
		return result
	}

	s.mu.Lock()
	if _, exists := s.entries[cfg.ID]; exists {
		s.mu.Unlock()
		result.Status = 1
		result.Stderr = fmt.Sprintf("config %d already running", cfg.ID)
		return result
	}
	s.mu.Unlock()

	client, err := s.factory.GetClient(ctx, cfg.Context, cfg.Kubeconfig)
	if err != nil {
		result.Status = 1
		result.Stderr = err.Error()
		return result
	}

	if cfg.WorkloadType == core.WorkloadExpose {
		return s.startExpose(ctx, client, cfg, result)
	}

	effectiveCfg := cfg
	var relayPodName string
	if cfg.WorkloadType == core.WorkloadProxy {
		podName, err := s.relayMgr.CreateProxyPod(ctx, client.Clientset, cfg.Namespace, cfg, "kftray")
		if err != nil {
			result.Status = 1
			result.Stderr = err.Error()
			return result
		}
		if err := s.relayMgr.WaitReady(ctx, client.Clientset, cfg.Namespace, podName); err != nil {
			_ = s.relayMgr.DeleteProxyPod(ctx, client.Clientset, cfg.Namespace, podName, cfg.ID)
			result.Status = 1
			result.Stderr = err.Error()
			return result
		}
		relayPodName = podName
		effectiveCfg.Service = podName
		if effectiveCfg.RemoteAddress == "" {
			effectiveCfg.RemoteAddress = cfg.Service
		}
	}

	target, err := resolver.Resolve(ctx, client.Clientset, effectiveCfg.Namespace, resolveTarget(effectiveCfg))
	if err != nil {
		if relayPodName != "" {
			_ = s.relayMgr.DeleteProxyPod(ctx, client.Clientset, cfg.Namespace, relayPodName, cfg.ID)
		}
		result.Status = 1
		result.Stderr = err.Error()
		return result
	}

	forwardCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	handle := core.NewForwardHandle(cfg.ID, cancel, done)
	handle.RelayPodName = relayPodName
	handle.RelayNamespace = cfg.Namespace

	e := &entry{handle: handle, cfg: cfg}

	var pipeline *httplog.Pipeline
	var tap tcpforward.HTTPTap
	if cfg.Protocol == core.ProtocolTCP && s.logs.Enabled(cfg.ID) {
		writer, werr := httplog.NewWriter(httplog.WriterConfig{
			Dir: s.settings.HTTPLogDir, Alias: cfg.DisplayAlias(), ConfigID: cfg.ID,
			LocalPort: cfg.LocalPort, MaxFileSize: s.settings.HTTPLogsMaxFileSize, RetentionDays: s.settings.HTTPLogsRetentionDays,
		})
		if werr == nil {
			pipeline = httplog.NewPipeline(cfg.ID, s.settings.HTTPLogsQueueCapacity, s.settings.HTTPLogsFlushInterval, writer)
			tap = pipeline
		} else {
			logging.Warn("registry", "failed to open http log writer for config %d: %v", cfg.ID, werr)
		}
	}
	e.pipeline = pipeline

	switch cfg.Protocol {
	case core.ProtocolTCP:
		fwd, boundPort, err := tcpforward.Start(forwardCtx, client, effectiveCfg.Namespace, target, localAddr(cfg), cfg.LocalPort, tap, func() { s.Touch(cfg.ID) })
		if err != nil {
			cancel()
			s.cleanupFailedStart(ctx, client, cfg, relayPodName)
			result.Status = 1
			result.Stderr = err.Error()
			return result
		}
		e.tcp = fwd
		handle.BoundLocalPort = boundPort
		result.BoundLocalPort = boundPort
	case core.ProtocolUDP:
		fwd, boundPort, err := udpforward.Start(forwardCtx, client, effectiveCfg.Namespace, target, localAddr(cfg), cfg.LocalPort, func() { s.Touch(cfg.ID) })
		if err != nil {
			cancel()
			s.cleanupFailedStart(ctx, client, cfg, relayPodName)
			result.Status = 1
			result.Stderr = err.Error()
			return result
		}
		e.udp = fwd
		handle.BoundLocalPort = boundPort
		result.BoundLocalPort = boundPort
	}

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
	return result
}

func (s *Supervisor) cleanupFailedStart(ctx context.Context, client *kubeclient.Client, cfg core.Config, relayPodName string) {
	if relayPodName != "" {
		_ = s.relayMgr.DeleteProxyPod(ctx, client.Clientset, cfg.Namespace, relayPodName, cfg.ID)
	}
}

func resolveTarget(cfg core.Config) resolver.Target {
	switch cfg.WorkloadType {
	case core.WorkloadService, core.WorkloadProxy:
		return resolver.Target{ServiceName: cfg.Service, Port: cfg.RemotePort}
	default:
		return resolver.Target{PodLabel: cfg.Target, Port: cfg.RemotePort}
	}
}

func localAddr(cfg core.Config) string {
	if cfg.LocalAddress != "" {
		return cfg.LocalAddress
	}
	return "127.0.0.1"
}

// Stop implements stop(configId): cancel, await up to 5s, then abort;
// delete the relay pod or expose workload if any; mark state stopped.
func (s *Supervisor) Stop(ctx context.Context, configID int64) error {
	lock := s.configLock(configID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	e, ok := s.entries[configID]
	if ok {
		delete(s.entries, configID)
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}

	e.handle.Cancel()

	select {
	case <-e.handle.Done:
	case <-time.After(5 * time.Second):
		logging.Warn("registry", "config %d did not stop within 5s grace period, forcing", configID)
	}

	if e.pipeline != nil {
		e.pipeline.Close()
	}

	if e.handle.RelayPodName != "" {
		client, err := s.factory.GetClient(ctx, e.cfg.Context, e.cfg.Kubeconfig)
		if err == nil {
			_ = s.relayMgr.DeleteProxyPod(ctx, client.Clientset, e.handle.RelayNamespace, e.handle.RelayPodName, configID)
		}
	}

	if e.handle.ExposeDeploymentName != "" {
		client, err := s.factory.GetClient(ctx, e.cfg.Context, e.cfg.Kubeconfig)
		if err == nil {
			wl := relay.ExposeWorkload{
				DeploymentName: e.handle.ExposeDeploymentName,
				ServiceName:    e.handle.ExposeServiceName,
				IngressName:    e.handle.ExposeIngressName,
			}
			_ = s.relayMgr.DeleteExpose(ctx, client.Clientset, e.handle.RelayNamespace, wl)
		}
	}

	s.store.Set(core.ConfigState{ConfigID: configID, IsRunning: false})
	s.bus.Publish(ChangeEvent{ConfigID: configID, Kind: ChangeStopped, Timestamp: time.Now()})
	return nil
}

// StopAll implements stopAll(): stop for every known id.
func (s *Supervisor) StopAll(ctx context.Context) {
	s.mu.Lock()
	ids := make([]int64, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_ = s.Stop(ctx, id)
		}(id)
	}
	wg.Wait()
}

// List implements list(): a snapshot of active forwards.
func (s *Supervisor) List() []core.ForwardResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]core.ForwardResult, 0, len(s.entries))
	for id, e := range s.entries {
		out = append(out, core.ForwardResult{
			ConfigID:       id,
			BoundLocalPort: e.handle.BoundLocalPort,
			RemotePort:     e.cfg.RemotePort,
			Service:        e.cfg.Service,
			Context:        e.cfg.Context,
			Namespace:      e.cfg.Namespace,
			Protocol:       e.cfg.Protocol,
			Status:         0,
		})
	}
	return out
}

// SubscribeChanges implements subscribeChanges(): delivers start/stop/
// health transitions in program order; subscribers may lag but not
// reorder.
func (s *Supervisor) SubscribeChanges(bufferSize int) *ChangeSubscription {
	return s.bus.Subscribe(bufferSize)
}

// Metrics exposes the change bus's publish/deliver/drop counters.
func (s *Supervisor) Metrics() Metrics { return s.bus.Metrics() }

// Shutdown stops the health-check loop and every running forward.
func (s *Supervisor) Shutdown(ctx context.Context) {
	if s.healthCancel != nil {
		s.healthCancel()
		<-s.healthDone
	}
	s.StopAll(ctx)
}

// Touch records client activity on a forward's idle timer (called by a
// forwarder when it accepts a connection).
func (s *Supervisor) Touch(configID int64) {
	s.mu.Lock()
	e, ok := s.entries[configID]
	s.mu.Unlock()
	if ok {
		e.handle.Touch()
	}
}
