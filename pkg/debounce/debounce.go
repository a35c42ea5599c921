package debounce

import (
	"sort"
	"sync"
	"time"

	"chatcoord/pkg/metrics"
	"chatcoord/pkg/models"
)

// Config holds the suppression windows. JoinSuppress squelches repeat join
// notices for the same identity; Reconnect is how long a leave is held back
// so a quick rejoin can cancel it, and also squelches join churn right
// after a surfaced leave; Expiry bounds how long a cache entry may sit
// idle before the sweeper reclaims it.
type Config struct {
	JoinSuppress time.Duration
	Reconnect    time.Duration
	Expiry       time.Duration
}

type record struct {
	lastJoin    time.Time
	lastLeave   time.Time
	pendingAt   time.Time
	pendingName string
}

// Pending is a held-back leave released by Flush.
type Pending struct {
	Identity string
	Name     string
}

// Notifier decides which presence events are worth surfacing to a single
// observer. Leaves are never surfaced from Observe: they are held for the
// reconnect window and either cancelled by a rejoin or released by Flush.
// Each connection owns one Notifier; the cache is never shared, so two
// observers of the same roster may reach different verdicts.
type Notifier struct {
	mu   sync.Mutex
	cfg  Config
	seen map[string]*record
}

// NewNotifier creates a Notifier with the given windows.
func NewNotifier(cfg Config) *Notifier {
	return &Notifier{cfg: cfg, seen: make(map[string]*record)}
}

// Observe reports whether the event for identity should be surfaced now.
// A join within the reconnect window of a held leave cancels that leave and
// surfaces nothing, so connection flaps cost zero notifications. Leaves
// always return false; Flush releases the ones that outlive the window.
// Suppressed events do not refresh the cache; only surfaced events count as
// the identity's last recorded activity.
func (n *Notifier) Observe(identity, name string, kind models.PresenceEventKind, now time.Time) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	rec, ok := n.seen[identity]
	if !ok {
		rec = &record{}
		n.seen[identity] = rec
	}
	if kind == models.PresenceLeave {
		if !rec.pendingAt.IsZero() {
			metrics.NotificationsSuppressed.Inc()
			return false
		}
		if !rec.lastLeave.IsZero() && now.Sub(rec.lastLeave) < n.cfg.Reconnect {
			metrics.NotificationsSuppressed.Inc()
			return false
		}
		rec.pendingAt = now
		rec.pendingName = name
		return false
	}

	// join
	if !rec.pendingAt.IsZero() {
		if now.Sub(rec.pendingAt) < n.cfg.Reconnect {
			// Rejoin caught the held leave; both transitions vanish.
			rec.pendingAt = time.Time{}
			rec.pendingName = ""
			metrics.NotificationsSuppressed.Inc()
			return false
		}
		// The flusher missed this one; count the leave as surfaced and
		// judge the join on its own.
		rec.lastLeave = rec.pendingAt
		rec.pendingAt = time.Time{}
		rec.pendingName = ""
	}
	last, lastKind := rec.latest()
	if !last.IsZero() {
		if lastKind == models.PresenceJoin && now.Sub(last) < n.cfg.JoinSuppress {
			metrics.NotificationsSuppressed.Inc()
			return false
		}
		if lastKind == models.PresenceLeave && now.Sub(last) < n.cfg.Reconnect {
			metrics.NotificationsSuppressed.Inc()
			return false
		}
	}
	rec.lastJoin = now
	metrics.NotificationsEmitted.Inc()
	return true
}

// Flush releases held leaves older than the reconnect window, sorted by
// identity, and records each as that identity's last surfaced event.
// Callers run it on a ticker and turn the results into leave notices.
func (n *Notifier) Flush(now time.Time) []Pending {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []Pending
	for id, rec := range n.seen {
		if rec.pendingAt.IsZero() || now.Sub(rec.pendingAt) < n.cfg.Reconnect {
			continue
		}
		rec.lastLeave = rec.pendingAt
		rec.pendingAt = time.Time{}
		out = append(out, Pending{Identity: id, Name: rec.pendingName})
		rec.pendingName = ""
		metrics.NotificationsEmitted.Inc()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}

// Sweep drops cache entries whose latest surfaced event is older than the
// expiry window and returns how many were removed. Entries with a held
// leave are never swept. Callers run it on a ticker instead of relying on
// incidental cleanup.
func (n *Notifier) Sweep(now time.Time) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	removed := 0
	for id, rec := range n.seen {
		if !rec.pendingAt.IsZero() {
			continue
		}
		last, _ := rec.latest()
		if now.Sub(last) >= n.cfg.Expiry {
			delete(n.seen, id)
			removed++
		}
	}
	return removed
}

// Len reports the number of identities currently cached.
func (n *Notifier) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.seen)
}

// latest returns the most recent surfaced event time and its kind.
func (r *record) latest() (time.Time, models.PresenceEventKind) {
	if r.lastJoin.After(r.lastLeave) {
		return r.lastJoin, models.PresenceJoin
	}
	if r.lastLeave.IsZero() && r.lastJoin.IsZero() {
		return time.Time{}, models.PresenceJoin
	}
	return r.lastLeave, models.PresenceLeave
}
