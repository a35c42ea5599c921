package thread

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatcoord/pkg/models"
)

func msg(id, replyTo, text string) models.Message {
	return models.Message{ID: id, Sender: "u1", Kind: models.KindPlain, Text: text, ReplyTo: replyTo}
}

func TestRootsAndReplies(t *testing.T) {
	idx := NewIndex([]models.Message{
		msg("m1", "", "first root"),
		msg("m2", "m1", "reply one"),
		msg("m3", "", "second root"),
		msg("m4", "m1", "reply two"),
	}, 80)

	assert.Equal(t, []string{"m1", "m3"}, idx.Roots())

	n, ok := idx.ReplyCount("m1")
	require.True(t, ok)
	assert.Equal(t, 2, n)

	// a root nothing replied to reports none, not zero
	_, ok = idx.ReplyCount("m3")
	assert.False(t, ok)

	replies := idx.ThreadOf("m1")
	require.Len(t, replies, 2)
	assert.Equal(t, "m2", replies[0].ID)
	assert.Equal(t, "m4", replies[1].ID)
}

func TestReplyCountNoneWithoutReplies(t *testing.T) {
	idx := NewIndex([]models.Message{msg("m1", "", "root")}, 80)

	_, ok := idx.ReplyCount("nope")
	assert.False(t, ok)
	_, ok = idx.ReplyCount("m1")
	assert.False(t, ok)

	// ThreadOf still tells a known root apart from an unknown id
	assert.Nil(t, idx.ThreadOf("nope"))
	assert.NotNil(t, idx.ThreadOf("m1"))
	assert.Empty(t, idx.ThreadOf("m1"))
}

func TestReplyToReplyFoldsOntoRoot(t *testing.T) {
	idx := NewIndex([]models.Message{
		msg("m1", "", "root"),
		msg("m2", "m1", "reply"),
		// aimed at the reply; lands in m1's thread
		msg("m3", "m2", "reply to reply"),
	}, 80)

	n, ok := idx.ReplyCount("m1")
	require.True(t, ok)
	assert.Equal(t, 2, n)

	// nothing replies directly to a reply once threads are flat
	_, ok = idx.ReplyCount("m2")
	assert.False(t, ok)
}

func TestRootOfResolvesReplies(t *testing.T) {
	idx := NewIndex([]models.Message{
		msg("m1", "", "root"),
		msg("m2", "m1", "reply"),
	}, 80)

	root, ok := idx.RootOf("m2")
	require.True(t, ok)
	assert.Equal(t, "m1", root)

	root, ok = idx.RootOf("m1")
	require.True(t, ok)
	assert.Equal(t, "m1", root)

	_, ok = idx.RootOf("nope")
	assert.False(t, ok)
}

func TestSystemMessagesExcluded(t *testing.T) {
	sys := models.Message{ID: "s1", Sender: models.SystemSender, Kind: models.KindSystem, Text: "x entered"}
	idx := NewIndex([]models.Message{msg("m1", "", "root"), sys}, 80)

	assert.Equal(t, []string{"m1"}, idx.Roots())
	_, ok := idx.ReplyCount("s1")
	assert.False(t, ok)
}

func TestPreviewTruncation(t *testing.T) {
	long := strings.Repeat("a", 100)
	idx := NewIndex([]models.Message{msg("m1", "", long), msg("m2", "", "short")}, 80)

	p, ok := idx.PreviewOf("m1")
	require.True(t, ok)
	assert.Equal(t, strings.Repeat("a", 80)+"…", p)

	p, ok = idx.PreviewOf("m2")
	require.True(t, ok)
	assert.Equal(t, "short", p)
}

func TestPreviewCutsAtRuneBoundary(t *testing.T) {
	assert.Equal(t, strings.Repeat("é", 10)+"…", Preview(strings.Repeat("é", 11), 10))
	assert.Equal(t, "abc", Preview("  abc  ", 10))
}
