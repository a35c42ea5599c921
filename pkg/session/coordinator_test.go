package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatcoord/pkg/bus"
	"chatcoord/pkg/models"
	"chatcoord/pkg/ratelimit"
	"chatcoord/pkg/validation"
)

type fakePersist struct {
	mu         sync.Mutex
	created    []models.Message
	updated    []models.Message
	history    []models.Message
	failCreate error
}

func (p *fakePersist) CreateMessage(_ context.Context, _ string, m models.Message) (models.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failCreate != nil {
		return models.Message{}, p.failCreate
	}
	p.created = append(p.created, m)
	return m, nil
}

func (p *fakePersist) UpdateMessage(_ context.Context, m models.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updated = append(p.updated, m)
	return nil
}

func (p *fakePersist) ListMessages(_ context.Context, _ string, _ int64, _ int) ([]models.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.history, nil
}

func (p *fakePersist) createdCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.created)
}

func (p *fakePersist) setFail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failCreate = err
}

func testCoordConfig() Config {
	return Config{
		SystemSender: models.SystemSender,
		PreviewLen:   80,
		Rate: ratelimit.Config{
			MaxSends:        3,
			SendWindow:      10 * time.Second,
			DuplicateWindow: 20 * time.Second,
			LongMessageLen:  500,
			MaxLongMessages: 3,
			LongWindow:      60 * time.Second,
		},
	}
}

func newTestCoordinator(t *testing.T, p Persistence) (*Coordinator, *bus.Bus) {
	t.Helper()
	validation.SetRules(validation.Rules{MaxLen: 2000})
	b := bus.New(64)
	c := New("order:test", testCoordConfig(), b, p)
	t.Cleanup(c.Close)
	return c, b
}

func TestSendBroadcastsAndPersists(t *testing.T) {
	p := &fakePersist{}
	c, b := newTestCoordinator(t, p)
	sub := b.Subscribe("order:test")
	defer sub.Cancel()

	msg, err := c.Send(context.Background(), models.Draft{Sender: "alice", Text: "hello"})
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "order:test", msg.Topic)
	assert.Equal(t, models.KindPlain, msg.Kind)
	assert.Equal(t, models.StatusSent, msg.Status)
	assert.Equal(t, 1, p.createdCount())

	ev := <-sub.C
	assert.Equal(t, msg.ID, ev.(models.NewMessage).Message.ID)
}

func TestDuplicateDeniedAndNeverBroadcast(t *testing.T) {
	p := &fakePersist{}
	c, b := newTestCoordinator(t, p)
	sub := b.Subscribe("order:test")
	defer sub.Cancel()

	_, err := c.Send(context.Background(), models.Draft{Sender: "alice", Text: "hello world"})
	require.NoError(t, err)

	_, err = c.Send(context.Background(), models.Draft{Sender: "alice", Text: "  Hello   WORLD "})
	var denial *DenialError
	require.ErrorAs(t, err, &denial)
	assert.Equal(t, ratelimit.ReasonDuplicateSpam, denial.Reason)
	assert.Greater(t, denial.RetryAfter, time.Duration(0))

	// only the accepted message reached the topic or the store
	assert.Equal(t, 1, p.createdCount())
	<-sub.C
	assert.Empty(t, sub.C)
}

func TestRateLimitDenial(t *testing.T) {
	p := &fakePersist{}
	c, _ := newTestCoordinator(t, p)

	for i := 0; i < 3; i++ {
		_, err := c.Send(context.Background(), models.Draft{Sender: "alice", Text: fmt.Sprintf("m%d", i)})
		require.NoError(t, err)
	}
	_, err := c.Send(context.Background(), models.Draft{Sender: "alice", Text: "one more"})
	var denial *DenialError
	require.ErrorAs(t, err, &denial)
	assert.Equal(t, ratelimit.ReasonRateLimited, denial.Reason)

	// other senders keep their own budget
	_, err = c.Send(context.Background(), models.Draft{Sender: "bob", Text: "unaffected"})
	assert.NoError(t, err)
}

func TestPersistenceFailureConsumesNoBudget(t *testing.T) {
	p := &fakePersist{}
	c, b := newTestCoordinator(t, p)
	sub := b.Subscribe("order:test")
	defer sub.Cancel()

	p.setFail(errors.New("disk full"))
	_, err := c.Send(context.Background(), models.Draft{Sender: "alice", Text: "hello"})
	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Empty(t, sub.C)

	// the failed attempt charged nothing, so the same text passes once
	// storage recovers instead of tripping the duplicate window
	p.setFail(nil)
	msg, err := c.Send(context.Background(), models.Draft{Sender: "alice", Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, msg.ID, (<-sub.C).(models.NewMessage).Message.ID)
}

func TestValidationRejection(t *testing.T) {
	p := &fakePersist{}
	c, _ := newTestCoordinator(t, p)

	_, err := c.Send(context.Background(), models.Draft{Sender: "alice", Text: "   "})
	var verr *validation.Error
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, validation.ReasonEmpty, verr.Reason)
	assert.Equal(t, 0, p.createdCount())
}

func TestReplyToReplyFoldsOntoRoot(t *testing.T) {
	c, _ := newTestCoordinator(t, &fakePersist{})
	ctx := context.Background()

	root, err := c.Send(ctx, models.Draft{Sender: "alice", Text: "root"})
	require.NoError(t, err)
	reply, err := c.Send(ctx, models.Draft{Sender: "bob", Text: "reply", ReplyTo: root.ID})
	require.NoError(t, err)
	assert.Equal(t, root.ID, reply.ReplyTo)

	nested, err := c.Send(ctx, models.Draft{Sender: "carol", Text: "nested", ReplyTo: reply.ID})
	require.NoError(t, err)
	assert.Equal(t, root.ID, nested.ReplyTo)
}

func TestUnknownReplyTargetRejected(t *testing.T) {
	c, _ := newTestCoordinator(t, &fakePersist{})

	_, err := c.Send(context.Background(), models.Draft{Sender: "alice", Text: "hi", ReplyTo: "msg_nope"})
	var verr *validation.Error
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ReasonUnknownReplyTarget, verr.Reason)
}

func TestReplyToSystemMessageRejected(t *testing.T) {
	c, _ := newTestCoordinator(t, &fakePersist{})
	ctx := context.Background()

	sys, err := c.Send(ctx, models.Draft{Sender: models.SystemSender, Text: "alice entered the conversation"})
	require.NoError(t, err)

	_, err = c.Send(ctx, models.Draft{Sender: "bob", Text: "re", ReplyTo: sys.ID})
	var verr *validation.Error
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ReasonUnknownReplyTarget, verr.Reason)
}

func TestSystemSenderSkipsLimitsAndStorage(t *testing.T) {
	p := &fakePersist{}
	c, _ := newTestCoordinator(t, p)
	ctx := context.Background()

	// well past MaxSends, none denied
	for i := 0; i < 10; i++ {
		msg, err := c.Send(ctx, models.Draft{Sender: models.SystemSender, Text: fmt.Sprintf("notice %d", i)})
		require.NoError(t, err)
		assert.Equal(t, models.KindSystem, msg.Kind)
	}
	assert.Equal(t, 0, p.createdCount())
}

func TestAckPublishesStatusChangedOnce(t *testing.T) {
	p := &fakePersist{}
	c, b := newTestCoordinator(t, p)
	ctx := context.Background()

	msg, err := c.Send(ctx, models.Draft{Sender: "alice", Text: "hello"})
	require.NoError(t, err)

	sub := b.Subscribe("order:test")
	defer sub.Cancel()
	senderSub := b.Subscribe(bus.NotificationsTopic("alice"))
	defer senderSub.Cancel()

	changed, err := c.MarkDelivered(ctx, msg.ID, "bob")
	require.NoError(t, err)
	assert.True(t, changed)

	ev := (<-sub.C).(models.StatusChanged)
	assert.Equal(t, msg.ID, ev.MessageID)
	assert.Equal(t, models.StatusDelivered, ev.Status)
	assert.Equal(t, "bob", ev.Recipient)

	// the sender's notification channel carries the same event
	assert.Equal(t, ev, (<-senderSub.C).(models.StatusChanged))

	// repeated ack changes nothing and stays silent
	changed, err = c.MarkDelivered(ctx, msg.ID, "bob")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Empty(t, sub.C)

	changed, err = c.MarkRead(ctx, msg.ID, "bob")
	require.NoError(t, err)
	assert.True(t, changed)
	ev = (<-sub.C).(models.StatusChanged)
	assert.Equal(t, models.StatusRead, ev.Status)
}

func TestSenderAckIgnored(t *testing.T) {
	c, _ := newTestCoordinator(t, &fakePersist{})
	ctx := context.Background()

	msg, err := c.Send(ctx, models.Draft{Sender: "alice", Text: "hello"})
	require.NoError(t, err)

	changed, err := c.MarkRead(ctx, msg.ID, "alice")
	require.NoError(t, err)
	assert.False(t, changed)

	st, ok, err := c.StatusOf(ctx, msg.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.StatusSent, st)
}

func TestMentionsFanOut(t *testing.T) {
	c, b := newTestCoordinator(t, &fakePersist{})
	bobSub := b.Subscribe(bus.MentionsTopic("bob"))
	defer bobSub.Cancel()
	aliceSub := b.Subscribe(bus.MentionsTopic("alice"))
	defer aliceSub.Cancel()

	msg, err := c.Send(context.Background(), models.Draft{
		Sender: "alice",
		Text:   "@bob see this @bob, also @alice",
	})
	require.NoError(t, err)

	ev := (<-bobSub.C).(models.Mention)
	assert.Equal(t, msg.ID, ev.MessageID)
	assert.Equal(t, "bob", ev.Target)
	assert.Equal(t, "alice", ev.Sender)
	// duplicate mentions collapse, self-mentions are dropped
	assert.Empty(t, bobSub.C)
	assert.Empty(t, aliceSub.C)
}

func TestHistoryPagination(t *testing.T) {
	c, _ := newTestCoordinator(t, &fakePersist{})
	ctx := context.Background()

	var msgs []models.Message
	for i := 0; i < 3; i++ {
		m, err := c.Send(ctx, models.Draft{Sender: "alice", Text: fmt.Sprintf("m%d", i)})
		require.NoError(t, err)
		msgs = append(msgs, m)
	}

	all, err := c.History(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, msgs[0].ID, all[0].ID)

	newest, err := c.History(ctx, 0, 1)
	require.NoError(t, err)
	require.Len(t, newest, 1)
	assert.Equal(t, msgs[2].ID, newest[0].ID)

	older, err := c.History(ctx, msgs[2].TS, 0)
	require.NoError(t, err)
	require.Len(t, older, 2)
	assert.Equal(t, msgs[1].ID, older[1].ID)
}

func TestThreadsIndex(t *testing.T) {
	c, _ := newTestCoordinator(t, &fakePersist{})
	ctx := context.Background()

	root, err := c.Send(ctx, models.Draft{Sender: "alice", Text: "root"})
	require.NoError(t, err)
	_, err = c.Send(ctx, models.Draft{Sender: "bob", Text: "reply", ReplyTo: root.ID})
	require.NoError(t, err)

	idx, err := c.Threads(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{root.ID}, idx.Roots())
	n, ok := idx.ReplyCount(root.ID)
	require.True(t, ok)
	assert.Equal(t, 1, n)
}

func TestRehydrationFromPersistence(t *testing.T) {
	p := &fakePersist{history: []models.Message{
		{ID: "m1", Topic: "order:test", Sender: "alice", Kind: models.KindPlain, Text: "old", TS: 1,
			Status: models.StatusRead, DeliveredTo: []string{"bob"}, ReadBy: []string{"bob"}},
	}}
	c, _ := newTestCoordinator(t, p)
	ctx := context.Background()

	hist, err := c.History(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "m1", hist[0].ID)
	assert.Equal(t, models.StatusRead, hist[0].Status)

	// rehydrated messages are valid reply targets
	reply, err := c.Send(ctx, models.Draft{Sender: "bob", Text: "new", ReplyTo: "m1"})
	require.NoError(t, err)
	assert.Equal(t, "m1", reply.ReplyTo)
}

func TestClosedCoordinatorRefuses(t *testing.T) {
	c, _ := newTestCoordinator(t, &fakePersist{})
	c.Close()
	c.Close() // second close is safe

	_, err := c.Send(context.Background(), models.Draft{Sender: "alice", Text: "hello"})
	assert.ErrorIs(t, err, ErrTopicClosed)

	_, err = c.History(context.Background(), 0, 0)
	assert.ErrorIs(t, err, ErrTopicClosed)
}
