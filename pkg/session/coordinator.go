package session

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"time"

	"chatcoord/pkg/bus"
	"chatcoord/pkg/delivery"
	"chatcoord/pkg/logger"
	"chatcoord/pkg/metrics"
	"chatcoord/pkg/models"
	"chatcoord/pkg/ratelimit"
	"chatcoord/pkg/thread"
	"chatcoord/pkg/utils"
	"chatcoord/pkg/validation"
)

// Persistence is the storage surface a coordinator writes through. The
// create call is the only one awaited inside the send pipeline; everything
// after a successful write is fire-and-forget fan-out.
type Persistence interface {
	CreateMessage(ctx context.Context, topic string, m models.Message) (models.Message, error)
	UpdateMessage(ctx context.Context, m models.Message) error
	ListMessages(ctx context.Context, topic string, beforeTS int64, limit int) ([]models.Message, error)
}

// Config tunes a coordinator.
type Config struct {
	SystemSender string
	PreviewLen   int
	Rate         ratelimit.Config
}

// Coordinator serializes all message operations for one topic. All state
// (history, rate windows, delivery record) is owned by the run loop; the
// exported methods post commands onto it, so two racing sends can never
// both pass the same rate-limit check.
type Coordinator struct {
	topic   string
	cfg     Config
	bus     *bus.Bus
	persist Persistence
	limiter *ratelimit.Limiter
	tracker *delivery.Tracker

	cmds      chan func()
	done      chan struct{}
	closeOnce sync.Once

	// history is touched only from the run loop.
	history []models.Message
}

// New creates a coordinator for topic, rehydrates its history from
// persistence and starts the run loop.
func New(topic string, cfg Config, b *bus.Bus, p Persistence) *Coordinator {
	c := &Coordinator{
		topic:   topic,
		cfg:     cfg,
		bus:     b,
		persist: p,
		limiter: ratelimit.NewLimiter(cfg.Rate),
		tracker: delivery.NewTracker(),
		cmds:    make(chan func(), 64),
		done:    make(chan struct{}),
	}
	if p != nil {
		msgs, err := p.ListMessages(context.Background(), topic, 0, 0)
		if err != nil {
			logger.Error("history_rehydrate_failed", "topic", topic, "error", err)
		}
		for _, m := range msgs {
			c.history = append(c.history, m)
			if !m.IsSystem() {
				c.tracker.Apply(m)
			}
		}
	}
	go c.run()
	return c
}

func (c *Coordinator) run() {
	for {
		select {
		case fn := <-c.cmds:
			fn()
		case <-c.done:
			return
		}
	}
}

// do posts fn to the run loop and waits for it. Callers that give up
// (context cancelled, topic closed) return immediately; fn may still run
// later but its result is discarded.
func (c *Coordinator) do(ctx context.Context, fn func()) error {
	ran := make(chan struct{})
	wrapped := func() {
		fn()
		close(ran)
	}
	select {
	case c.cmds <- wrapped:
	case <-c.done:
		return ErrTopicClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ran:
		return nil
	case <-c.done:
		return ErrTopicClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Topic returns the topic this coordinator serves.
func (c *Coordinator) Topic() string { return c.topic }

// Send runs the full pipeline for a draft: validation, reply resolution,
// rate limiting, persistence, then broadcast. A draft that fails any stage
// is never broadcast and charges no rate budget. System-sender drafts skip
// rate limiting and persistence.
func (c *Coordinator) Send(ctx context.Context, d models.Draft) (models.Message, error) {
	var (
		msg  models.Message
		merr error
	)
	err := c.do(ctx, func() {
		msg, merr = c.send(ctx, d)
	})
	if err != nil {
		return models.Message{}, err
	}
	return msg, merr
}

func (c *Coordinator) send(ctx context.Context, d models.Draft) (models.Message, error) {
	if err := validation.ValidateDraft(d); err != nil {
		var verr *validation.Error
		if errors.As(err, &verr) {
			metrics.RejectedTotal.WithLabelValues(verr.Reason).Inc()
		}
		return models.Message{}, err
	}

	replyTo := d.ReplyTo
	if replyTo != "" {
		root, ok := c.resolveRoot(replyTo)
		if !ok {
			metrics.RejectedTotal.WithLabelValues(ReasonUnknownReplyTarget).Inc()
			return models.Message{}, &validation.Error{Reason: ReasonUnknownReplyTarget, Detail: replyTo}
		}
		replyTo = root
	}

	now := time.Now().UTC()
	system := d.Sender == c.cfg.SystemSender
	if !system {
		if denial := c.limiter.Check(d.Sender, d.Text, now); denial != nil {
			metrics.RejectedTotal.WithLabelValues(denial.Reason).Inc()
			logger.Debug("send_denied", "topic", c.topic, "sender", d.Sender, "reason", denial.Reason)
			return models.Message{}, &DenialError{Reason: denial.Reason, RetryAfter: denial.RetryAfter}
		}
	}

	att := d.Attachment()
	kind := att.MessageKind()
	if system {
		kind = models.KindSystem
	}
	msg := models.Message{
		ID:         utils.NewMessageID(),
		Topic:      c.topic,
		Sender:     d.Sender,
		SenderName: d.SenderName,
		Kind:       kind,
		Text:       d.Text,
		Attachment: att,
		ReplyTo:    replyTo,
		TS:         now.UnixNano(),
		Status:     models.StatusSent,
	}

	if !system {
		persisted, err := c.persist.CreateMessage(ctx, c.topic, msg)
		if err != nil {
			logger.Error("persist_failed", "topic", c.topic, "msg_id", msg.ID, "error", err)
			return models.Message{}, &PersistenceError{Err: err}
		}
		msg = persisted
		c.limiter.Record(d.Sender, d.Text, now)
		c.tracker.Init(msg.ID, msg.Sender)
	}

	c.history = append(c.history, msg)
	metrics.SendsTotal.Inc()
	c.bus.Publish(c.topic, models.NewMessage{Message: msg})
	for _, target := range mentionTargets(msg.Text, msg.Sender) {
		c.bus.Publish(bus.MentionsTopic(target), models.Mention{
			MessageID: msg.ID,
			Topic:     c.topic,
			Sender:    msg.Sender,
			Target:    target,
			TS:        msg.TS,
		})
	}
	return msg, nil
}

// resolveRoot maps a reply target onto its thread root. A reply aimed at
// another reply folds onto that reply's root so threads stay flat.
func (c *Coordinator) resolveRoot(id string) (string, bool) {
	for _, m := range c.history {
		if m.ID != id {
			continue
		}
		if m.IsSystem() {
			return "", false
		}
		if m.ReplyTo != "" {
			return m.ReplyTo, true
		}
		return m.ID, true
	}
	return "", false
}

// MarkDelivered applies a delivery acknowledgment and reports whether it
// changed anything. Changes are persisted and announced as StatusChanged.
func (c *Coordinator) MarkDelivered(ctx context.Context, msgID, recipient string) (bool, error) {
	return c.ack(ctx, msgID, recipient, false)
}

// MarkRead applies a read acknowledgment, which implies delivery.
func (c *Coordinator) MarkRead(ctx context.Context, msgID, recipient string) (bool, error) {
	return c.ack(ctx, msgID, recipient, true)
}

func (c *Coordinator) ack(ctx context.Context, msgID, recipient string, read bool) (bool, error) {
	var changed bool
	err := c.do(ctx, func() {
		if read {
			changed = c.tracker.MarkRead(msgID, recipient)
		} else {
			changed = c.tracker.MarkDelivered(msgID, recipient)
		}
		if !changed {
			return
		}
		for i := range c.history {
			if c.history[i].ID != msgID {
				continue
			}
			c.tracker.Stamp(&c.history[i])
			if err := c.persist.UpdateMessage(ctx, c.history[i]); err != nil {
				logger.Warn("ack_persist_failed", "topic", c.topic, "msg_id", msgID, "error", err)
			}
			ev := models.StatusChanged{
				MessageID: msgID,
				Status:    c.history[i].Status,
				Recipient: recipient,
				TS:        time.Now().UTC().UnixNano(),
			}
			c.bus.Publish(c.topic, ev)
			// the sender hears about their message even when they are
			// not connected to the order topic
			c.bus.Publish(bus.NotificationsTopic(c.history[i].Sender), ev)
			break
		}
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

// History returns the topic's messages in send order, each stamped with
// its current delivery status. When beforeTS > 0 only older messages are
// returned; when limit > 0 only the newest limit of those.
func (c *Coordinator) History(ctx context.Context, beforeTS int64, limit int) ([]models.Message, error) {
	var out []models.Message
	err := c.do(ctx, func() {
		for _, m := range c.history {
			if beforeTS > 0 && m.TS >= beforeTS {
				continue
			}
			if !m.IsSystem() {
				c.tracker.Stamp(&m)
			}
			out = append(out, m)
		}
		if limit > 0 && len(out) > limit {
			out = out[len(out)-limit:]
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Threads builds a flat thread index over the current history snapshot.
func (c *Coordinator) Threads(ctx context.Context) (*thread.Index, error) {
	msgs, err := c.History(ctx, 0, 0)
	if err != nil {
		return nil, err
	}
	return thread.NewIndex(msgs, c.cfg.PreviewLen), nil
}

// StatusOf returns a message's derived delivery status.
func (c *Coordinator) StatusOf(ctx context.Context, msgID string) (models.Status, bool, error) {
	var (
		st models.Status
		ok bool
	)
	err := c.do(ctx, func() {
		st, ok = c.tracker.StatusOf(msgID)
	})
	if err != nil {
		return "", false, err
	}
	return st, ok, nil
}

// SweepLimiter drops drained rate-limit state. Run periodically by the
// owning hub.
func (c *Coordinator) SweepLimiter(now time.Time) int {
	return c.limiter.Sweep(now)
}

// Close shuts the coordinator down. Pending callers receive
// ErrTopicClosed.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

var mentionRe = regexp.MustCompile(`@([A-Za-z0-9_.-]+)`)

// mentionTargets extracts unique @-mentions from text, excluding the
// sender's own handle.
func mentionTargets(text, sender string) []string {
	matches := mentionRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	var out []string
	for _, m := range matches {
		t := m[1]
		if t == sender {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
