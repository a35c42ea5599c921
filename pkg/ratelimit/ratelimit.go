package ratelimit

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// Denial reasons, stable strings carried on the wire.
const (
	ReasonRateLimited     = "rateLimited"
	ReasonDuplicateSpam   = "duplicateSpam"
	ReasonLongMessageSpam = "longMessageSpam"
)

// Config holds the per-sender sliding windows. System senders bypass the
// limiter entirely at the call site.
type Config struct {
	MaxSends        int           // sends allowed per SendWindow
	SendWindow      time.Duration
	DuplicateWindow time.Duration // window for repeated identical text
	LongMessageLen  int           // chars beyond which a message counts as long
	MaxLongMessages int           // long sends allowed per LongWindow
	LongWindow      time.Duration
}

// Denial explains why a send was refused and when retrying may succeed.
type Denial struct {
	Reason     string
	RetryAfter time.Duration
}

// Limiter applies per-sender sliding-window limits. Check never mutates
// the window state; callers Record only messages that were accepted, so a
// denied attempt consumes no budget.
type Limiter struct {
	mu      sync.Mutex
	cfg     Config
	senders map[string]*senderState
}

type senderState struct {
	sends []time.Time
	texts []textEntry
	longs []time.Time
}

type textEntry struct {
	norm string
	ts   time.Time
}

// NewLimiter creates a Limiter with the given windows.
func NewLimiter(cfg Config) *Limiter {
	return &Limiter{cfg: cfg, senders: make(map[string]*senderState)}
}

// Check reports whether sender may send text at now. A nil return means the
// send is allowed; the caller must follow up with Record once the message
// is actually accepted.
func (l *Limiter) Check(sender, text string, now time.Time) *Denial {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.senders[sender]
	if !ok {
		return nil
	}
	st.purge(now, l.cfg)

	if l.cfg.MaxSends > 0 && len(st.sends) >= l.cfg.MaxSends {
		return &Denial{
			Reason:     ReasonRateLimited,
			RetryAfter: retryAfter(st.sends[0], l.cfg.SendWindow, now),
		}
	}
	norm := normalize(text)
	if norm != "" && l.cfg.DuplicateWindow > 0 {
		for _, e := range st.texts {
			if e.norm == norm {
				return &Denial{
					Reason:     ReasonDuplicateSpam,
					RetryAfter: retryAfter(e.ts, l.cfg.DuplicateWindow, now),
				}
			}
		}
	}
	if l.cfg.MaxLongMessages > 0 && isLong(text, l.cfg.LongMessageLen) && len(st.longs) >= l.cfg.MaxLongMessages {
		return &Denial{
			Reason:     ReasonLongMessageSpam,
			RetryAfter: retryAfter(st.longs[0], l.cfg.LongWindow, now),
		}
	}
	return nil
}

// Record charges an accepted send against sender's windows.
func (l *Limiter) Record(sender, text string, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.senders[sender]
	if !ok {
		st = &senderState{}
		l.senders[sender] = st
	}
	st.purge(now, l.cfg)
	st.sends = append(st.sends, now)
	if norm := normalize(text); norm != "" {
		st.texts = append(st.texts, textEntry{norm: norm, ts: now})
	}
	if isLong(text, l.cfg.LongMessageLen) {
		st.longs = append(st.longs, now)
	}
}

// Sweep drops senders whose every window has drained and returns how many
// were removed.
func (l *Limiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for id, st := range l.senders {
		st.purge(now, l.cfg)
		if len(st.sends) == 0 && len(st.texts) == 0 && len(st.longs) == 0 {
			delete(l.senders, id)
			removed++
		}
	}
	return removed
}

func (st *senderState) purge(now time.Time, cfg Config) {
	cut := func(ts []time.Time, w time.Duration) []time.Time {
		i := 0
		for i < len(ts) && now.Sub(ts[i]) >= w {
			i++
		}
		return ts[i:]
	}
	st.sends = cut(st.sends, cfg.SendWindow)
	st.longs = cut(st.longs, cfg.LongWindow)
	i := 0
	for i < len(st.texts) && now.Sub(st.texts[i].ts) >= cfg.DuplicateWindow {
		i++
	}
	st.texts = st.texts[i:]
}

// retryAfter is the wait until the oldest disqualifying entry leaves its
// window.
func retryAfter(oldest time.Time, window time.Duration, now time.Time) time.Duration {
	d := window - now.Sub(oldest)
	if d < 0 {
		return 0
	}
	return d
}

func isLong(text string, limit int) bool {
	return limit > 0 && utf8.RuneCountInString(text) > limit
}

// normalize lowercases and collapses whitespace so near-identical spam
// variants compare equal.
func normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}
