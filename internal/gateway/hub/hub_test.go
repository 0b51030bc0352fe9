package hub

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/park285/cheese-arena/internal/session"
)

type collector struct {
	mu     sync.Mutex
	events []session.Event
}

func (c *collector) add(ev session.Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *collector) kinds() []session.EventKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]session.EventKind, 0, len(c.events))
	for _, ev := range c.events {
		out = append(out, ev.Kind)
	}
	return out
}

func TestRoutesByGame(t *testing.T) {
	h := New(nil, 8)
	defer h.Close()

	var g1, g2, all collector
	h.Subscribe("g1", g1.add)
	h.Subscribe("g2", g2.add)
	h.SubscribeAll(all.add)

	h.Publish(session.Event{Kind: session.EventMove, GameID: "g1"})
	h.Publish(session.Event{Kind: session.EventClock, GameID: "g1"})
	h.Publish(session.Event{Kind: session.EventChat, GameID: "g2"})

	require.Eventually(t, func() bool { return len(all.kinds()) == 3 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(g1.kinds()) == 2 }, time.Second, 5*time.Millisecond)
	require.Equal(t, []session.EventKind{session.EventMove, session.EventClock}, g1.kinds())
	require.Eventually(t, func() bool { return len(g2.kinds()) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, 1, h.Subscribers("g1"))
	require.Equal(t, 0, h.Subscribers("g3"))
}

func TestCloseSubscription(t *testing.T) {
	h := New(nil, 8)
	defer h.Close()

	var c collector
	sub := h.Subscribe("g1", c.add)
	sub.Close()
	sub.Close()
	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription did not finish")
	}
	h.Publish(session.Event{Kind: session.EventMove, GameID: "g1"})
	require.Equal(t, 0, h.Subscribers("g1"))
	require.Empty(t, c.kinds())
}

func TestSlowSubscriberIsCutOff(t *testing.T) {
	h := New(nil, 1)
	defer h.Close()

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	slow := h.Subscribe("g1", func(session.Event) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
	})
	h.Publish(session.Event{Kind: session.EventMove, GameID: "g1"})
	<-started
	// One event sits in the buffer, the next one overflows.
	h.Publish(session.Event{Kind: session.EventClock, GameID: "g1"})
	h.Publish(session.Event{Kind: session.EventClock, GameID: "g1"})

	require.Equal(t, 0, h.Subscribers("g1"))
	close(release)
	select {
	case <-slow.Done():
	case <-time.After(time.Second):
		t.Fatal("slow subscriber still attached")
	}
}

func TestGlobalSubscriberDropsInsteadOfDisconnecting(t *testing.T) {
	h := New(nil, 1)
	defer h.Close()

	release := make(chan struct{})
	var got collector
	all := h.SubscribeAll(func(ev session.Event) {
		<-release
		got.add(ev)
	})
	for i := 0; i < 5; i++ {
		h.Publish(session.Event{Kind: session.EventClock, GameID: "g1"})
	}
	close(release)
	require.Eventually(t, func() bool {
		h.Publish(session.Event{Kind: session.EventRetired, GameID: "g1"})
		k := got.kinds()
		return len(k) > 0 && k[len(k)-1] == session.EventRetired
	}, time.Second, 5*time.Millisecond)
	select {
	case <-all.Done():
		t.Fatal("global subscriber should stay attached")
	default:
	}
}

func TestSubscribeAfterClose(t *testing.T) {
	h := New(nil, 4)
	h.Close()
	sub := h.Subscribe("g1", func(session.Event) {})
	<-sub.Done()
	h.Publish(session.Event{Kind: session.EventMove, GameID: "g1"})
}
