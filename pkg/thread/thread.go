package thread

import (
	"strings"

	"chatcoord/pkg/models"
)

// Index is a read-only view of reply threads built over one history
// snapshot. Threads are flat: every reply points at a root message, never
// at another reply, and system messages take no part in threading.
type Index struct {
	previewLen int
	roots      []string
	replies    map[string][]models.Message
	byID       map[string]models.Message
}

// NewIndex builds an index from msgs, which must be in history order.
// previewLen bounds root previews in characters; values <= 0 fall back to
// a default of 80.
func NewIndex(msgs []models.Message, previewLen int) *Index {
	if previewLen <= 0 {
		previewLen = 80
	}
	idx := &Index{
		previewLen: previewLen,
		replies:    make(map[string][]models.Message),
		byID:       make(map[string]models.Message, len(msgs)),
	}
	for _, m := range msgs {
		if m.IsSystem() {
			continue
		}
		idx.byID[m.ID] = m
	}
	for _, m := range msgs {
		if m.IsSystem() {
			continue
		}
		if m.ReplyTo == "" {
			idx.roots = append(idx.roots, m.ID)
			continue
		}
		root := idx.rootOf(m.ReplyTo)
		idx.replies[root] = append(idx.replies[root], m)
	}
	return idx
}

// rootOf follows at most one hop: a reply targeting another reply is
// folded onto that reply's own root.
func (idx *Index) rootOf(id string) string {
	if m, ok := idx.byID[id]; ok && m.ReplyTo != "" {
		return m.ReplyTo
	}
	return id
}

// Roots returns root message IDs in history order.
func (idx *Index) Roots() []string {
	out := make([]string, len(idx.roots))
	copy(out, idx.roots)
	return out
}

// ReplyCount returns the number of messages replying directly to id. The
// second return is false when nothing replies to it, so callers can tell
// "no replies" apart from a counted thread. Replies themselves and unknown
// ids both come back false.
func (idx *Index) ReplyCount(id string) (int, bool) {
	n := len(idx.replies[id])
	if n == 0 {
		return 0, false
	}
	return n, true
}

// RootOf resolves an id to its thread root id. The second return is false
// for unknown or system ids.
func (idx *Index) RootOf(id string) (string, bool) {
	if _, ok := idx.byID[id]; !ok {
		return "", false
	}
	return idx.rootOf(id), true
}

// ThreadOf returns the replies under rootID in history order. A nil slice
// means the id is unknown; an empty slice means a thread with no replies.
func (idx *Index) ThreadOf(rootID string) []models.Message {
	if _, ok := idx.byID[rootID]; !ok {
		return nil
	}
	rs := idx.replies[idx.rootOf(rootID)]
	out := make([]models.Message, len(rs))
	copy(out, rs)
	return out
}

// PreviewOf returns a truncated root text for thread listings. Texts
// longer than the preview length are cut at a rune boundary with an
// ellipsis appended.
func (idx *Index) PreviewOf(rootID string) (string, bool) {
	m, ok := idx.byID[rootID]
	if !ok {
		return "", false
	}
	return Preview(m.Text, idx.previewLen), true
}

// Preview truncates text to max characters, appending an ellipsis when
// anything was cut.
func Preview(text string, max int) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "…"
}
