package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/valyala/bytebufferpool"

	"chatcoord/pkg/bus"
	"chatcoord/pkg/debounce"
	"chatcoord/pkg/logger"
	"chatcoord/pkg/metrics"
	"chatcoord/pkg/models"
	"chatcoord/pkg/presence"
	"chatcoord/pkg/session"
	"chatcoord/pkg/utils"
	"chatcoord/pkg/validation"
)

// Origin policy is enforced by the auth middleware in front of the
// router, so the upgrader accepts what reached it.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// frame is the wire envelope in both directions. Outbound Type carries
// the event name; inbound Type is one of send, delivered, read.
type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type outFrame struct {
	typ  string
	data any
}

type wsConn struct {
	conn     *websocket.Conn
	coord    *session.Coordinator
	user     string
	connID   string
	out      chan outFrame
	done     chan struct{}
	stopOnce sync.Once
}

const wsSendTimeout = 10 * time.Second

// serveWS upgrades the connection and runs the per-connection worker: a
// read pump feeding the coordinator and a single writer that owns the
// socket and fans in bus events, presence diffs and command replies.
func (d Deps) serveWS(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["order"]
	user := r.URL.Query().Get("user")
	name := r.URL.Query().Get("name")
	if user == "" {
		utils.JSONError(w, http.StatusBadRequest, "user missing")
		return
	}
	topic := bus.OrderTopic(orderID)
	coord := d.Hub.Get(topic)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("ws_upgrade_failed", "topic", topic, "error", err)
		return
	}

	c := &wsConn{
		conn:   conn,
		coord:  coord,
		user:   user,
		connID: utils.NewConnectionID(),
		out:    make(chan outFrame, 32),
		done:   make(chan struct{}),
	}

	topicSub := d.Bus.Subscribe(topic)
	notifSub := d.Bus.Subscribe(bus.NotificationsTopic(user))
	mentionSub := d.Bus.Subscribe(bus.MentionsTopic(user))
	watcher := d.Registry.Watch(topic)
	d.Registry.Track(topic, user, name, c.connID, time.Now())
	metrics.ConnectionsActive.Inc()
	logger.Info("ws_connected", "topic", topic, "user", user, "conn_id", c.connID)

	defer func() {
		d.Registry.Untrack(topic, user, c.connID)
		watcher.Cancel()
		topicSub.Cancel()
		notifSub.Cancel()
		mentionSub.Cancel()
		metrics.ConnectionsActive.Dec()
		conn.Close()
		logger.Info("ws_disconnected", "topic", topic, "user", user, "conn_id", c.connID)
	}()

	// Each connection judges presence churn with its own cache, so what
	// one observer sees suppressed another may still see.
	dcfg := d.Cfg.Chat.Debounce
	notifier := debounce.NewNotifier(debounce.Config{
		JoinSuppress: dcfg.JoinSuppress.Duration(),
		Reconnect:    dcfg.Reconnect.Duration(),
		Expiry:       dcfg.Expiry.Duration(),
	})
	sweep := time.NewTicker(dcfg.SweepInterval.Duration())
	defer sweep.Stop()
	// Held-back leaves are released on a ticker at half the reconnect
	// window so a released leave is at most 1.5 windows late.
	flushEvery := dcfg.Reconnect.Duration() / 2
	if flushEvery < time.Second {
		flushEvery = time.Second
	}
	flush := time.NewTicker(flushEvery)
	defer flush.Stop()

	go c.readPump()

	for {
		select {
		case ev := <-topicSub.C:
			if err := writeEvent(conn, ev.EventName(), ev); err != nil {
				c.stop()
				return
			}
		case ev := <-notifSub.C:
			if err := writeEvent(conn, ev.EventName(), ev); err != nil {
				c.stop()
				return
			}
		case ev := <-mentionSub.C:
			if err := writeEvent(conn, ev.EventName(), ev); err != nil {
				c.stop()
				return
			}
		case diff := <-watcher.C:
			now := time.Now()
			for _, n := range presenceNotices(diff, c.user, notifier, now) {
				if err := writeEvent(conn, n.EventName(), n); err != nil {
					c.stop()
					return
				}
			}
		case <-flush.C:
			now := time.Now()
			for _, p := range notifier.Flush(now) {
				n := leaveNotice(p, now)
				if err := writeEvent(conn, n.EventName(), n); err != nil {
					c.stop()
					return
				}
			}
		case <-sweep.C:
			if removed := notifier.Sweep(time.Now()); removed > 0 {
				logger.Debug("debounce_swept", "conn_id", c.connID, "removed", removed)
			}
		case f := <-c.out:
			if err := writeEvent(conn, f.typ, f.data); err != nil {
				c.stop()
				return
			}
		case <-c.done:
			return
		}
	}
}

// presenceNotices turns a roster diff into the system lines this observer
// should see right away, consulting the connection's debouncer. Only joins
// can surface here; leaves go into the debouncer's hold and come back out
// through Flush unless a rejoin cancels them first. The observer's own
// comings and goings are never surfaced to itself.
func presenceNotices(diff presence.Diff, self string, notifier *debounce.Notifier, now time.Time) []models.SystemNotification {
	var out []models.SystemNotification
	observe := func(e models.PresenceEntry, kind models.PresenceEventKind) {
		if e.ID == self {
			return
		}
		if !notifier.Observe(e.ID, e.Name, kind, now) {
			return
		}
		who := e.Name
		if who == "" {
			who = e.ID
		}
		out = append(out, models.SystemNotification{
			ID:     utils.NewNotificationID(),
			Text:   who + " entered the conversation",
			Sender: models.SystemSender,
			Target: e.ID,
			Kind:   kind,
			TS:     now.UnixNano(),
		})
	}
	for _, e := range diff.Joined {
		observe(e, models.PresenceJoin)
	}
	for _, e := range diff.Left {
		observe(e, models.PresenceLeave)
	}
	return out
}

// leaveNotice builds the system line for a leave released from the hold.
func leaveNotice(p debounce.Pending, now time.Time) models.SystemNotification {
	who := p.Name
	if who == "" {
		who = p.Identity
	}
	return models.SystemNotification{
		ID:     utils.NewNotificationID(),
		Text:   who + " left the conversation",
		Sender: models.SystemSender,
		Target: p.Identity,
		Kind:   models.PresenceLeave,
		TS:     now.UnixNano(),
	}
}

// writeEvent marshals one outbound frame through the buffer pool and
// writes it as a single text message.
func writeEvent(conn *websocket.Conn, typ string, data any) error {
	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	bb.B = append(bb.B, `{"type":"`...)
	bb.B = append(bb.B, typ...)
	bb.B = append(bb.B, `","data":`...)
	bb.B = append(bb.B, payload...)
	bb.B = append(bb.B, '}')
	return conn.WriteMessage(websocket.TextMessage, bb.B)
}

func (c *wsConn) stop() {
	c.stopOnce.Do(func() { close(c.done) })
}

func (c *wsConn) reply(typ string, data any) {
	select {
	case c.out <- outFrame{typ: typ, data: data}:
	case <-c.done:
	}
}

// readPump handles inbound frames: sends and acknowledgment commands.
func (c *wsConn) readPump() {
	defer c.stop()
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var f frame
		if err := json.Unmarshal(raw, &f); err != nil {
			c.reply("error", map[string]any{"reason": "invalidFrame"})
			continue
		}
		switch f.Type {
		case "send":
			c.handleSend(f.Data)
		case "delivered", "read":
			c.handleAck(f.Type, f.Data)
		default:
			c.reply("error", map[string]any{"reason": "unknownFrameType"})
		}
	}
}

func (c *wsConn) handleSend(data json.RawMessage) {
	var draft models.Draft
	if err := json.Unmarshal(data, &draft); err != nil {
		c.reply("error", map[string]any{"reason": "invalidDraft"})
		return
	}
	// The socket identity is authoritative for the sender.
	draft.Sender = c.user

	ctx, cancel := context.WithTimeout(context.Background(), wsSendTimeout)
	msg, err := c.coord.Send(ctx, draft)
	cancel()
	if err != nil {
		c.reply("error", sendErrorPayload(err))
		return
	}
	c.reply("ack", msg)
}

func (c *wsConn) handleAck(kind string, data json.RawMessage) {
	var body struct {
		MessageID string `json:"message_id"`
	}
	if err := json.Unmarshal(data, &body); err != nil || body.MessageID == "" {
		c.reply("error", map[string]any{"reason": "invalidAck"})
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), wsSendTimeout)
	defer cancel()
	var err error
	if kind == "read" {
		_, err = c.coord.MarkRead(ctx, body.MessageID, c.user)
	} else {
		_, err = c.coord.MarkDelivered(ctx, body.MessageID, c.user)
	}
	if err != nil {
		c.reply("error", sendErrorPayload(err))
	}
}

func sendErrorPayload(err error) map[string]any {
	var verr *validation.Error
	if errors.As(err, &verr) {
		return map[string]any{"reason": verr.Reason, "detail": verr.Detail}
	}
	var derr *session.DenialError
	if errors.As(err, &derr) {
		return map[string]any{"reason": derr.Reason, "retry_after_ms": derr.RetryAfter.Milliseconds()}
	}
	if errors.Is(err, session.ErrTopicClosed) {
		return map[string]any{"reason": "topicClosed"}
	}
	return map[string]any{"reason": "internal"}
}
