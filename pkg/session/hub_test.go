package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatcoord/pkg/bus"
	"chatcoord/pkg/models"
	"chatcoord/pkg/validation"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	validation.SetRules(validation.Rules{MaxLen: 2000})
	h := NewHub(testCoordConfig(), bus.New(64), &fakePersist{}, 0)
	t.Cleanup(h.Close)
	return h
}

func TestGetReturnsSingletonPerTopic(t *testing.T) {
	h := newTestHub(t)

	a := h.Get("order:1")
	b := h.Get("order:1")
	assert.Same(t, a, b)

	other := h.Get("order:2")
	assert.NotSame(t, a, other)
	assert.Equal(t, "order:2", other.Topic())
}

func TestPeekDoesNotCreate(t *testing.T) {
	h := newTestHub(t)

	_, ok := h.Peek("order:1")
	assert.False(t, ok)

	c := h.Get("order:1")
	got, ok := h.Peek("order:1")
	require.True(t, ok)
	assert.Same(t, c, got)
	assert.Equal(t, []string{"order:1"}, h.Topics())
}

func TestCloseShutsDownCoordinators(t *testing.T) {
	h := newTestHub(t)
	c := h.Get("order:1")

	h.Close()
	h.Close() // second close is safe

	_, err := c.Send(context.Background(), models.Draft{Sender: "alice", Text: "hello"})
	assert.ErrorIs(t, err, ErrTopicClosed)
	assert.Empty(t, h.Topics())
}
