package delivery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatcoord/pkg/models"
)

func TestStatusProgression(t *testing.T) {
	tr := NewTracker()
	tr.Init("m1", "alice")

	st, ok := tr.StatusOf("m1")
	require.True(t, ok)
	assert.Equal(t, models.StatusSent, st)

	assert.True(t, tr.MarkDelivered("m1", "bob"))
	st, _ = tr.StatusOf("m1")
	assert.Equal(t, models.StatusDelivered, st)

	assert.True(t, tr.MarkRead("m1", "bob"))
	st, _ = tr.StatusOf("m1")
	assert.Equal(t, models.StatusRead, st)
}

func TestAcksIdempotent(t *testing.T) {
	tr := NewTracker()
	tr.Init("m1", "alice")

	assert.True(t, tr.MarkDelivered("m1", "bob"))
	assert.False(t, tr.MarkDelivered("m1", "bob"))
	assert.True(t, tr.MarkRead("m1", "bob"))
	assert.False(t, tr.MarkRead("m1", "bob"))

	delivered, readBy, ok := tr.Snapshot("m1")
	require.True(t, ok)
	assert.Equal(t, []string{"bob"}, delivered)
	assert.Equal(t, []string{"bob"}, readBy)
}

func TestReadImpliesDelivered(t *testing.T) {
	tr := NewTracker()
	tr.Init("m1", "alice")

	// read arrives before any delivery ack
	assert.True(t, tr.MarkRead("m1", "bob"))
	delivered, readBy, ok := tr.Snapshot("m1")
	require.True(t, ok)
	assert.Equal(t, []string{"bob"}, delivered)
	assert.Equal(t, []string{"bob"}, readBy)

	st, _ := tr.StatusOf("m1")
	assert.Equal(t, models.StatusRead, st)

	// a late delivery ack changes nothing
	assert.False(t, tr.MarkDelivered("m1", "bob"))
}

func TestStatusNeverRegresses(t *testing.T) {
	tr := NewTracker()
	tr.Init("m1", "alice")

	tr.MarkRead("m1", "bob")
	st, _ := tr.StatusOf("m1")
	assert.Equal(t, models.StatusRead, st)

	// further delivery acks from others keep the furthest stage
	tr.MarkDelivered("m1", "carol")
	st, _ = tr.StatusOf("m1")
	assert.Equal(t, models.StatusRead, st)
}

func TestSenderAcksIgnored(t *testing.T) {
	tr := NewTracker()
	tr.Init("m1", "alice")

	assert.False(t, tr.MarkDelivered("m1", "alice"))
	assert.False(t, tr.MarkRead("m1", "alice"))
	st, _ := tr.StatusOf("m1")
	assert.Equal(t, models.StatusSent, st)
}

func TestUnknownMessage(t *testing.T) {
	tr := NewTracker()
	assert.False(t, tr.MarkDelivered("nope", "bob"))
	_, ok := tr.StatusOf("nope")
	assert.False(t, ok)
}

func TestSnapshotSorted(t *testing.T) {
	tr := NewTracker()
	tr.Init("m1", "alice")
	tr.MarkDelivered("m1", "zed")
	tr.MarkDelivered("m1", "bob")
	tr.MarkDelivered("m1", "carol")

	delivered, _, ok := tr.Snapshot("m1")
	require.True(t, ok)
	assert.Equal(t, []string{"bob", "carol", "zed"}, delivered)
}

func TestApplyRehydrates(t *testing.T) {
	tr := NewTracker()
	tr.Apply(models.Message{
		ID:          "m1",
		Sender:      "alice",
		DeliveredTo: []string{"bob", "carol"},
		ReadBy:      []string{"bob"},
	})

	st, ok := tr.StatusOf("m1")
	require.True(t, ok)
	assert.Equal(t, models.StatusRead, st)

	delivered, readBy, _ := tr.Snapshot("m1")
	assert.Equal(t, []string{"bob", "carol"}, delivered)
	assert.Equal(t, []string{"bob"}, readBy)
}

func TestStamp(t *testing.T) {
	tr := NewTracker()
	tr.Init("m1", "alice")
	tr.MarkRead("m1", "bob")

	m := models.Message{ID: "m1", Sender: "alice", Status: models.StatusSent}
	tr.Stamp(&m)
	assert.Equal(t, models.StatusRead, m.Status)
	assert.Equal(t, []string{"bob"}, m.DeliveredTo)
	assert.Equal(t, []string{"bob"}, m.ReadBy)
}
