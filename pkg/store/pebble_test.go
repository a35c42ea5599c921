package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatcoord/pkg/models"
)

func openTestStore(t *testing.T) {
	t.Helper()
	require.NoError(t, Open(t.TempDir()))
	t.Cleanup(func() { require.NoError(t, Close()) })
}

func saved(t *testing.T, topic, id, text string, ts int64) models.Message {
	t.Helper()
	m, err := SaveMessage(topic, models.Message{
		ID: id, Sender: "alice", Kind: models.KindPlain, Text: text, TS: ts,
		Status: models.StatusSent,
	})
	require.NoError(t, err)
	return m
}

func TestSaveAndListInOrder(t *testing.T) {
	openTestStore(t)

	saved(t, "order:1", "m1", "first", 100)
	saved(t, "order:1", "m2", "second", 200)
	saved(t, "order:1", "m3", "third", 300)

	msgs, err := ListMessages("order:1", 0, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "m3", msgs[2].ID)
	assert.Equal(t, "order:1", msgs[0].Topic)
}

func TestListBeforeAndLimit(t *testing.T) {
	openTestStore(t)

	saved(t, "order:1", "m1", "a", 100)
	saved(t, "order:1", "m2", "b", 200)
	saved(t, "order:1", "m3", "c", 300)

	older, err := ListMessages("order:1", 300, 0)
	require.NoError(t, err)
	require.Len(t, older, 2)
	assert.Equal(t, "m2", older[1].ID)

	newest, err := ListMessages("order:1", 0, 1)
	require.NoError(t, err)
	require.Len(t, newest, 1)
	assert.Equal(t, "m3", newest[0].ID)
}

func TestTopicsIsolated(t *testing.T) {
	openTestStore(t)

	saved(t, "order:1", "m1", "mine", 100)
	saved(t, "order:2", "m2", "theirs", 100)

	msgs, err := ListMessages("order:1", 0, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID)
}

func TestUpdateResolvesToLatestVersion(t *testing.T) {
	openTestStore(t)

	m := saved(t, "order:1", "m1", "hello", 100)
	m.Status = models.StatusRead
	m.DeliveredTo = []string{"bob"}
	m.ReadBy = []string{"bob"}
	require.NoError(t, UpdateMessage(m))

	got, err := GetLatestMessage("m1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRead, got.Status)
	assert.Equal(t, []string{"bob"}, got.ReadBy)

	msgs, err := ListMessages("order:1", 0, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.StatusRead, msgs[0].Status)
}

func TestGetLatestUnknown(t *testing.T) {
	openTestStore(t)

	_, err := GetLatestMessage("nope")
	assert.Error(t, err)
}

func TestSaveFillsTimestamp(t *testing.T) {
	openTestStore(t)

	m, err := SaveMessage("order:1", models.Message{ID: "m1", Sender: "alice", Text: "x"})
	require.NoError(t, err)
	assert.NotZero(t, m.TS)
	assert.LessOrEqual(t, m.TS, time.Now().UTC().UnixNano())
}

func TestPurgeOlderThan(t *testing.T) {
	openTestStore(t)

	old := saved(t, "order:1", "m1", "old", 100)
	old.Status = models.StatusDelivered
	require.NoError(t, UpdateMessage(old))
	saved(t, "order:1", "m2", "new", 500)

	n, ids, err := PurgeOlderThan(200, 10, true)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"m1"}, ids)

	// dry run deleted nothing
	msgs, err := ListMessages("order:1", 0, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)

	n, _, err = PurgeOlderThan(200, 10, false)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	msgs, err = ListMessages("order:1", 0, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "m2", msgs[0].ID)

	// version index is gone too
	_, err = GetLatestMessage("m1")
	assert.Error(t, err)
}
