package presence

import (
	"sort"
	"sync"
	"time"

	"chatcoord/pkg/logger"
	"chatcoord/pkg/models"
)

// Registry is the shared per-topic roster of connected identities. One
// identity may own several concurrent connections; the roster merges them
// and only membership changes (first connection in, last connection out)
// produce a diff. Within one topic, diffs reach every watcher in the order
// the changes occurred at the registry.
type Registry struct {
	mu       sync.Mutex
	topics   map[string]*roster
	onChange func(topic string, roster []models.PresenceEntry)
}

type roster struct {
	mu       sync.Mutex
	entries  map[string]*entry
	watchers map[*Watcher]struct{}
}

type entry struct {
	name  string
	conns []models.ConnMeta
}

// Diff is the roster delta produced by a membership change.
type Diff struct {
	Joined []models.PresenceEntry
	Left   []models.PresenceEntry
}

// Watcher receives a topic's presence diffs. Consumers range over C and
// call Cancel exactly once.
type Watcher struct {
	C      chan Diff
	roster *roster
	once   sync.Once
}

// watcherBuffer bounds the per-watcher diff backlog; a watcher that falls
// this far behind loses diffs instead of stalling the roster.
const watcherBuffer = 64

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{topics: make(map[string]*roster)}
}

// SetOnChange installs a hook invoked after each membership change with
// the topic's new merged roster. Set once at startup, before connections
// arrive.
func (r *Registry) SetOnChange(fn func(topic string, roster []models.PresenceEntry)) {
	r.onChange = fn
}

func (r *Registry) rosterFor(topic string) *roster {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.topics[topic]
	if !ok {
		t = &roster{entries: make(map[string]*entry), watchers: make(map[*Watcher]struct{})}
		r.topics[topic] = t
	}
	return t
}

// Track registers a connection for identity on the topic. A diff is
// emitted only when this is the identity's first live connection.
func (r *Registry) Track(topic, identity, name, connID string, now time.Time) {
	t := r.rosterFor(topic)
	t.mu.Lock()
	e, ok := t.entries[identity]
	if !ok {
		e = &entry{name: name}
		t.entries[identity] = e
	}
	if name != "" {
		e.name = name
	}
	e.conns = append(e.conns, models.ConnMeta{ConnID: connID, JoinedTS: now.UnixNano()})
	first := len(e.conns) == 1
	if first {
		t.emitLocked(topic, Diff{Joined: []models.PresenceEntry{e.snapshot(identity)}})
	}
	t.mu.Unlock()
	if first {
		r.changed(topic)
	}
}

// Untrack removes one connection. The identity leaves the roster only when
// its last connection closes, which emits a leave diff.
func (r *Registry) Untrack(topic, identity, connID string) {
	t := r.rosterFor(topic)
	t.mu.Lock()
	e, ok := t.entries[identity]
	if !ok {
		t.mu.Unlock()
		return
	}
	kept := e.conns[:0]
	for _, c := range e.conns {
		if c.ConnID != connID {
			kept = append(kept, c)
		}
	}
	e.conns = kept
	last := len(e.conns) == 0
	if last {
		d := Diff{Left: []models.PresenceEntry{e.snapshot(identity)}}
		delete(t.entries, identity)
		t.emitLocked(topic, d)
	}
	t.mu.Unlock()
	if last {
		r.changed(topic)
	}
}

// List returns the merged roster for the topic, sorted by identity.
func (r *Registry) List(topic string) []models.PresenceEntry {
	t := r.rosterFor(topic)
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.PresenceEntry, 0, len(t.entries))
	for id, e := range t.entries {
		out = append(out, e.snapshot(id))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Watch registers a diff watcher on the topic.
func (r *Registry) Watch(topic string) *Watcher {
	t := r.rosterFor(topic)
	w := &Watcher{C: make(chan Diff, watcherBuffer), roster: t}
	t.mu.Lock()
	t.watchers[w] = struct{}{}
	t.mu.Unlock()
	return w
}

// Cancel removes the watcher from its roster.
func (w *Watcher) Cancel() {
	w.once.Do(func() {
		w.roster.mu.Lock()
		delete(w.roster.watchers, w)
		w.roster.mu.Unlock()
	})
}

// emitLocked delivers the diff to every watcher. It runs inside the same
// critical section that changed the roster, so every watcher sees diffs in
// the order the changes occurred. Sends never block; a full watcher loses
// the diff instead.
func (t *roster) emitLocked(topic string, d Diff) {
	for w := range t.watchers {
		select {
		case w.C <- d:
		default:
			logger.Warn("presence_watcher_lagging", "topic", topic)
		}
	}
}

func (r *Registry) changed(topic string) {
	if r.onChange != nil {
		r.onChange(topic, r.List(topic))
	}
}

func (e *entry) snapshot(id string) models.PresenceEntry {
	conns := make([]models.ConnMeta, len(e.conns))
	copy(conns, e.conns)
	return models.PresenceEntry{ID: id, Name: e.name, Conns: conns}
}
