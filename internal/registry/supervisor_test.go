package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kftray-core/internal/core"
)

func TestStart_ValidationFailureReportsError(t *testing.T) {
	s := newTestSupervisor(t)

	results := s.Start(context.Background(), []core.Config{
		{ID: 1, Protocol: core.ProtocolUDP, WorkloadType: core.WorkloadService},
	})

	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].Status)
	assert.Contains(t, results[0].Stderr, "protocol")

	s.mu.Lock()
	_, exists := s.entries[1]
	s.mu.Unlock()
	assert.False(t, exists)
}

func TestStartOne_RejectsAlreadyRunningConfig(t *testing.T) {
	s := newTestSupervisor(t)

	done := make(chan struct{})
	close(done)
	handle := core.NewForwardHandle(5, func() {}, done)
	s.entries[5] = &entry{handle: handle, cfg: core.Config{ID: 5}}

	result := s.startOne(context.Background(), core.Config{ID: 5, Protocol: core.ProtocolTCP, WorkloadType: core.WorkloadService, Service: "web", RemotePort: "80"})

	assert.Equal(t, 1, result.Status)
	assert.Contains(t, result.Stderr, "already running")
}

func TestStop_UnknownConfigIsANoOp(t *testing.T) {
	s := newTestSupervisor(t)
	err := s.Stop(context.Background(), 999)
	assert.NoError(t, err)
}

func TestStop_RemovesEntryAndPublishesStopped(t *testing.T) {
	s := newTestSupervisor(t)
	sub := s.SubscribeChanges(4)
	defer sub.Close()

	forwardCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		<-forwardCtx.Done()
		close(done)
	}()
	handle := core.NewForwardHandle(6, cancel, done)
	s.entries[6] = &entry{handle: handle, cfg: core.Config{ID: 6}}

	err := s.Stop(context.Background(), 6)
	require.NoError(t, err)

	s.mu.Lock()
	_, exists := s.entries[6]
	s.mu.Unlock()
	assert.False(t, exists)

	select {
	case ev := <-sub.Events():
		assert.Equal(t, ChangeStopped, ev.Kind)
		assert.Equal(t, int64(6), ev.ConfigID)
	case <-time.After(time.Second):
		t.Fatal("expected a stopped event")
	}
}

func TestStopAll_StopsEveryEntry(t *testing.T) {
	s := newTestSupervisor(t)

	for _, id := range []int64{10, 11, 12} {
		forwardCtx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			<-forwardCtx.Done()
			close(done)
		}()
		handle := core.NewForwardHandle(id, cancel, done)
		s.entries[id] = &entry{handle: handle, cfg: core.Config{ID: id}}
	}

	s.StopAll(context.Background())

	s.mu.Lock()
	remaining := len(s.entries)
	s.mu.Unlock()
	assert.Equal(t, 0, remaining)
}

func TestList_ReturnsSnapshotOfActiveForwards(t *testing.T) {
	s := newTestSupervisor(t)

	done := make(chan struct{})
	close(done)
	handle := core.NewForwardHandle(20, func() {}, done)
	handle.BoundLocalPort = 9000
	s.entries[20] = &entry{handle: handle, cfg: core.Config{ID: 20, Service: "web", Protocol: core.ProtocolTCP}}

	list := s.List()
	require.Len(t, list, 1)
	assert.Equal(t, int64(20), list[0].ConfigID)
	assert.Equal(t, uint16(9000), list[0].BoundLocalPort)
	assert.Equal(t, "web", list[0].Service)
}

func TestTouch_UpdatesIdleTimerForKnownConfig(t *testing.T) {
	s := newTestSupervisor(t)

	done := make(chan struct{})
	close(done)
	handle := core.NewForwardHandle(30, func() {}, done)
	s.entries[30] = &entry{handle: handle, cfg: core.Config{ID: 30}}

	time.Sleep(5 * time.Millisecond)
	before := handle.IdleFor()
	s.Touch(30)
	after := handle.IdleFor()
	assert.Less(t, after, before)
}

func TestTouch_UnknownConfigIsANoOp(t *testing.T) {
	s := newTestSupervisor(t)
	assert.NotPanics(t, func() { s.Touch(999) })
}

func TestMetrics_ReflectsPublishedEvents(t *testing.T) {
	s := newTestSupervisor(t)
	sub := s.SubscribeChanges(4)
	defer sub.Close()

	forwardCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		<-forwardCtx.Done()
		close(done)
	}()
	handle := core.NewForwardHandle(40, cancel, done)
	s.entries[40] = &entry{handle: handle, cfg: core.Config{ID: 40}}

	require.NoError(t, s.Stop(context.Background(), 40))

	m := s.Metrics()
	assert.GreaterOrEqual(t, m.Published, int64(1))
	assert.GreaterOrEqual(t, m.Delivered, int64(1))
}
