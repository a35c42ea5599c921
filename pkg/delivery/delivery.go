package delivery

import (
	"sort"
	"sync"

	"chatcoord/pkg/metrics"
	"chatcoord/pkg/models"
)

// Tracker records per-message delivery and read acknowledgments. Both sets
// only ever grow, and read implies delivered, so the derived status moves
// monotonically through sent, delivered, read no matter how acks arrive or
// repeat.
type Tracker struct {
	mu   sync.Mutex
	msgs map[string]*state
}

type state struct {
	sender    string
	delivered map[string]struct{}
	readBy    map[string]struct{}
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{msgs: make(map[string]*state)}
}

// Init registers a freshly persisted message. The sender's own acks are
// ignored; seeing your own message is not delivery.
func (t *Tracker) Init(msgID, sender string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.msgs[msgID]; ok {
		return
	}
	t.msgs[msgID] = &state{
		sender:    sender,
		delivered: make(map[string]struct{}),
		readBy:    make(map[string]struct{}),
	}
}

// MarkDelivered records a delivery ack from recipient and reports whether
// the set changed. Unknown messages and sender self-acks are no-ops.
func (t *Tracker) MarkDelivered(msgID, recipient string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.msgs[msgID]
	if !ok || recipient == st.sender {
		return false
	}
	if _, dup := st.delivered[recipient]; dup {
		return false
	}
	st.delivered[recipient] = struct{}{}
	metrics.AcksTotal.WithLabelValues("delivered").Inc()
	return true
}

// MarkRead records a read ack from recipient, which also implies delivery.
// Reports whether either set changed.
func (t *Tracker) MarkRead(msgID, recipient string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.msgs[msgID]
	if !ok || recipient == st.sender {
		return false
	}
	changed := false
	if _, dup := st.delivered[recipient]; !dup {
		st.delivered[recipient] = struct{}{}
		changed = true
	}
	if _, dup := st.readBy[recipient]; !dup {
		st.readBy[recipient] = struct{}{}
		changed = true
	}
	if changed {
		metrics.AcksTotal.WithLabelValues("read").Inc()
	}
	return changed
}

// StatusOf derives the message status from the ack sets.
func (t *Tracker) StatusOf(msgID string) (models.Status, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.msgs[msgID]
	if !ok {
		return "", false
	}
	switch {
	case len(st.readBy) > 0:
		return models.StatusRead, true
	case len(st.delivered) > 0:
		return models.StatusDelivered, true
	default:
		return models.StatusSent, true
	}
}

// Snapshot returns sorted copies of the ack sets for embedding into a
// message payload.
func (t *Tracker) Snapshot(msgID string) (delivered, readBy []string, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, found := t.msgs[msgID]
	if !found {
		return nil, nil, false
	}
	return sortedKeys(st.delivered), sortedKeys(st.readBy), true
}

// Forget drops tracking state for messages the caller no longer serves,
// typically after retention purges them.
func (t *Tracker) Forget(msgIDs []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range msgIDs {
		delete(t.msgs, id)
	}
}

// Apply replays persisted ack sets, used when rehydrating a topic from the
// store after restart.
func (t *Tracker) Apply(m models.Message) {
	t.Init(m.ID, m.Sender)
	for _, r := range m.DeliveredTo {
		t.MarkDelivered(m.ID, r)
	}
	for _, r := range m.ReadBy {
		t.MarkRead(m.ID, r)
	}
}

// Stamp fills a message's status and ack sets from the tracker.
func (t *Tracker) Stamp(m *models.Message) {
	if st, ok := t.StatusOf(m.ID); ok {
		m.Status = st
	}
	if d, r, ok := t.Snapshot(m.ID); ok {
		m.DeliveredTo = d
		m.ReadBy = r
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
