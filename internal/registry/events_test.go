package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChangeKind_Values(t *testing.T) {
	assert.Equal(t, ChangeKind("started"), ChangeStarted)
	assert.Equal(t, ChangeKind("stopped"), ChangeStopped)
	assert.Equal(t, ChangeKind("healthy"), ChangeHealthy)
	assert.Equal(t, ChangeKind("unhealthy"), ChangeUnhealthy)
	assert.Equal(t, ChangeKind("restarting"), ChangeRestarting)
	assert.Equal(t, ChangeKind("failed"), ChangeFailed)
}
