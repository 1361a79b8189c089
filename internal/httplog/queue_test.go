package httplog

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"kftray-core/internal/core"
)

func TestQueue_EnqueueDeliversWithinCapacity(t *testing.T) {
	q := NewQueue(2)
	q.Enqueue(core.LogMessage{ConfigID: 1, Text: "a"})
	q.Enqueue(core.LogMessage{ConfigID: 1, Text: "b"})

	assert.Equal(t, int64(0), q.Dropped())
	assert.Equal(t, "a", (<-q.Chan()).Text)
	assert.Equal(t, "b", (<-q.Chan()).Text)
}

func TestQueue_EnqueueDropsNewestWhenFull(t *testing.T) {
	q := NewQueue(1)
	q.Enqueue(core.LogMessage{Text: "kept"})
	q.Enqueue(core.LogMessage{Text: "dropped"})

	assert.Equal(t, int64(1), q.Dropped())
	msg := <-q.Chan()
	assert.Equal(t, "kept", msg.Text)
}
