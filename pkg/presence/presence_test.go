package presence

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatcoord/pkg/models"
)

func TestFirstConnectionJoins(t *testing.T) {
	r := NewRegistry()
	w := r.Watch("order:1")
	defer w.Cancel()

	r.Track("order:1", "u1", "Alice", "c1", time.Now())

	d := <-w.C
	require.Len(t, d.Joined, 1)
	assert.Equal(t, "u1", d.Joined[0].ID)
	assert.Equal(t, "Alice", d.Joined[0].Name)
	assert.Empty(t, d.Left)
}

func TestSecondConnectionSilent(t *testing.T) {
	r := NewRegistry()
	r.Track("order:1", "u1", "Alice", "c1", time.Now())

	w := r.Watch("order:1")
	defer w.Cancel()

	r.Track("order:1", "u1", "Alice", "c2", time.Now())
	select {
	case d := <-w.C:
		t.Fatalf("unexpected diff: %+v", d)
	default:
	}

	roster := r.List("order:1")
	require.Len(t, roster, 1)
	assert.Len(t, roster[0].Conns, 2)
}

func TestLeaveOnlyWhenLastConnectionCloses(t *testing.T) {
	r := NewRegistry()
	now := time.Now()
	r.Track("order:1", "u1", "Alice", "c1", now)
	r.Track("order:1", "u1", "Alice", "c2", now)

	w := r.Watch("order:1")
	defer w.Cancel()

	r.Untrack("order:1", "u1", "c1")
	select {
	case d := <-w.C:
		t.Fatalf("unexpected diff: %+v", d)
	default:
	}

	r.Untrack("order:1", "u1", "c2")
	d := <-w.C
	require.Len(t, d.Left, 1)
	assert.Equal(t, "u1", d.Left[0].ID)
	assert.Empty(t, r.List("order:1"))
}

func TestUntrackUnknownIdentityNoop(t *testing.T) {
	r := NewRegistry()
	w := r.Watch("order:1")
	defer w.Cancel()

	r.Untrack("order:1", "ghost", "c1")
	select {
	case d := <-w.C:
		t.Fatalf("unexpected diff: %+v", d)
	default:
	}
}

func TestListSortedByIdentity(t *testing.T) {
	r := NewRegistry()
	now := time.Now()
	r.Track("order:1", "zed", "Zed", "c1", now)
	r.Track("order:1", "bob", "Bob", "c2", now)
	r.Track("order:1", "ann", "Ann", "c3", now)

	roster := r.List("order:1")
	require.Len(t, roster, 3)
	assert.Equal(t, "ann", roster[0].ID)
	assert.Equal(t, "bob", roster[1].ID)
	assert.Equal(t, "zed", roster[2].ID)
}

func TestTopicsIsolated(t *testing.T) {
	r := NewRegistry()
	w := r.Watch("order:2")
	defer w.Cancel()

	r.Track("order:1", "u1", "Alice", "c1", time.Now())
	select {
	case d := <-w.C:
		t.Fatalf("unexpected cross-topic diff: %+v", d)
	default:
	}
	assert.Empty(t, r.List("order:2"))
}

func TestDiffsArriveInChangeOrder(t *testing.T) {
	r := NewRegistry()
	w := r.Watch("order:1")
	defer w.Cancel()

	now := time.Now()
	r.Track("order:1", "u1", "Alice", "c1", now)
	r.Track("order:1", "u2", "Bob", "c2", now)
	r.Untrack("order:1", "u1", "c1")

	d := <-w.C
	require.Len(t, d.Joined, 1)
	assert.Equal(t, "u1", d.Joined[0].ID)

	d = <-w.C
	require.Len(t, d.Joined, 1)
	assert.Equal(t, "u2", d.Joined[0].ID)

	d = <-w.C
	require.Len(t, d.Left, 1)
	assert.Equal(t, "u1", d.Left[0].ID)
}

func TestConcurrentJoinsSameOrderForAllWatchers(t *testing.T) {
	r := NewRegistry()
	w1 := r.Watch("order:1")
	defer w1.Cancel()
	w2 := r.Watch("order:1")
	defer w2.Cancel()

	const n = 32
	var wg sync.WaitGroup
	now := time.Now()
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("u%02d", i)
			r.Track("order:1", id, id, "c1", now)
		}(i)
	}
	wg.Wait()

	drain := func(w *Watcher) []string {
		ids := make([]string, 0, n)
		for i := 0; i < n; i++ {
			d := <-w.C
			require.Len(t, d.Joined, 1)
			ids = append(ids, d.Joined[0].ID)
		}
		return ids
	}
	assert.Equal(t, drain(w1), drain(w2))
}

func TestCancelledWatcherStops(t *testing.T) {
	r := NewRegistry()
	w := r.Watch("order:1")
	w.Cancel()
	w.Cancel() // second cancel is safe

	r.Track("order:1", "u1", "Alice", "c1", time.Now())
	select {
	case d := <-w.C:
		t.Fatalf("unexpected diff after cancel: %+v", d)
	default:
	}
}

func TestOnChangeSeesNewRoster(t *testing.T) {
	r := NewRegistry()
	var gotTopic string
	var gotRoster []models.PresenceEntry
	r.SetOnChange(func(topic string, roster []models.PresenceEntry) {
		gotTopic = topic
		gotRoster = roster
	})

	r.Track("order:1", "u1", "Alice", "c1", time.Now())
	assert.Equal(t, "order:1", gotTopic)
	require.Len(t, gotRoster, 1)
	assert.Equal(t, "u1", gotRoster[0].ID)

	r.Untrack("order:1", "u1", "c1")
	assert.Empty(t, gotRoster)
}
