// Package registry is the forward registry and supervisor: a
// process-wide concurrent map of active ForwardHandles, a
// dependency-free start/stop/list API, a periodic health-check loop, and
// a change-notification event bus.
package registry

import "time"

// ChangeKind discriminates the start/stop/health transitions the change
// stream delivers.
type ChangeKind string

const (
	ChangeStarted    ChangeKind = "started"
	ChangeStopped    ChangeKind = "stopped"
	ChangeHealthy    ChangeKind = "healthy"
	ChangeUnhealthy  ChangeKind = "unhealthy"
	ChangeRestarting ChangeKind = "restarting"
	ChangeFailed     ChangeKind = "failed"
)

// ChangeEvent is one change-stream delivery, serialized per forward.
type ChangeEvent struct {
	ConfigID  int64
	Kind      ChangeKind
	Timestamp time.Time
	Err       error
}
