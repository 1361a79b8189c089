// Package core holds the data model shared by every forwarding component:
// Config, ConfigState, TargetPod, ForwardHandle, HttpTrace and LogMessage.
package core

import (
	"context"
	"time"
)

// WorkloadType selects the target-resolution path for a Config.
type WorkloadType string

const (
	WorkloadService WorkloadType = "service"
	WorkloadPod     WorkloadType = "pod"
	WorkloadProxy   WorkloadType = "proxy"
	WorkloadExpose  WorkloadType = "expose"
)

// Protocol is the transport a Config forwards.
type Protocol string

const (
	ProtocolTCP Protocol = "tcp"
	ProtocolUDP Protocol = "udp"
)

// Config is user-declared forwarding intent, as persisted by the external
// config store.
type Config struct {
	ID              int64        `yaml:"id,omitempty"`
	WorkloadType    WorkloadType `yaml:"workloadType"`
	Protocol        Protocol     `yaml:"protocol"`
	Context         string       `yaml:"context"`
	Kubeconfig      string       `yaml:"kubeconfig"`
	Namespace       string       `yaml:"namespace"`
	Service         string       `yaml:"service,omitempty"`
	Target          string       `yaml:"target,omitempty"`
	RemoteAddress   string       `yaml:"remoteAddress,omitempty"`
	RemotePort      string       `yaml:"remotePort,omitempty"`
	LocalPort       uint16       `yaml:"localPort,omitempty"`
	LocalAddress    string       `yaml:"localAddress,omitempty"`
	Alias           string       `yaml:"alias,omitempty"`
	DomainEnabled   bool         `yaml:"domainEnabled,omitempty"`
	HTTPLogsEnabled bool         `yaml:"httpLogsEnabled,omitempty"`
}

// Validate enforces the invariants attached to Config.
func (c Config) Validate() error {
	if c.Protocol == ProtocolUDP && (c.WorkloadType == WorkloadService || c.WorkloadType == WorkloadPod) {
		return &ValidationError{Field: "protocol", Reason: "udp requires workloadType=proxy"}
	}
	if (c.WorkloadType == WorkloadProxy || c.WorkloadType == WorkloadExpose) && c.RemotePort == "" {
		return &ValidationError{Field: "remotePort", Reason: "required for proxy and expose"}
	}
	return nil
}

// ValidationError reports a Config that fails its invariants.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid config field " + e.Field + ": " + e.Reason
}

// DisplayAlias returns Alias, or a generated fallback when empty.
func (c Config) DisplayAlias() string {
	if c.Alias != "" {
		return c.Alias
	}
	name := c.Service
	if name == "" {
		name = c.Target
	}
	if name == "" {
		name = c.RemoteAddress
	}
	return string(c.WorkloadType) + "-" + name
}

// ConfigState is the observed liveness of a Config.
type ConfigState struct {
	ConfigID  int64
	IsRunning bool
	ProcessID *int
}

// TargetPod is the resolved (podName, containerPort) pair C2 produces.
type TargetPod struct {
	PodName       string
	ContainerPort int32
}

// ForwardHandle is the supervisor-owned runtime state of one active
// forward. Workers hold only ConfigID and Cancel; the supervisor
// exclusively owns the handle itself.
type ForwardHandle struct {
	ConfigID       int64
	Cancel         context.CancelFunc
	Done           <-chan struct{}
	AncillaryDone  []<-chan struct{}
	BoundLocalPort uint16
	RelayPodName   string
	RelayNamespace string

	// Expose* is set only for WorkloadExpose configs, identifying the
	// Deployment/Service/Ingress CreateExpose created so Stop can tear
	// them down again.
	ExposeDeploymentName string
	ExposeServiceName    string
	ExposeIngressName    string

	StartedAt    time.Time
	lastActivity *atomicTime
}

func NewForwardHandle(configID int64, cancel context.CancelFunc, done <-chan struct{}) *ForwardHandle {
	h := &ForwardHandle{
		ConfigID:     configID,
		Cancel:       cancel,
		Done:         done,
		StartedAt:    time.Now(),
		lastActivity: newAtomicTime(),
	}
	h.Touch()
	return h
}

// Touch records client activity, used by the idle-disconnect timer.
func (h *ForwardHandle) Touch() {
	h.lastActivity.Set(time.Now())
}

// IdleFor reports how long it has been since the last Touch.
func (h *ForwardHandle) IdleFor() time.Duration {
	return time.Since(h.lastActivity.Get())
}

// HttpTrace correlates one HTTP request with its response inside C3.
type HttpTrace struct {
	TraceID       string
	Timestamp     time.Time
	RequestBytes  []byte
	ResponseBytes []byte
	TookMillis    int64
	Resolved      bool
}

// LogMessageKind discriminates the LogMessage variant.
type LogMessageKind int

const (
	LogRequest LogMessageKind = iota
	LogResponse
	LogPreformattedResponse
	LogFlushTrigger
)

// LogMessage is the unit flowing through C3's bounded queue.
type LogMessage struct {
	Kind     LogMessageKind
	ConfigID int64
	Text     string
}

// ForwardResult is the outbound shape of a start/list call.
type ForwardResult struct {
	ConfigID       int64
	BoundLocalPort uint16
	RemotePort     string
	Service        string
	Context        string
	Namespace      string
	Protocol       Protocol
	Status         int
	Stderr         string
}
