// Package hub fans session events out to subscribers without letting a slow
// consumer stall the session goroutine.
package hub

import (
	"sync"

	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/session"
)

const DefaultBuffer = 256

// Subscription delivers events to one handler on its own goroutine.
type Subscription struct {
	hub    *Hub
	id     uint64
	gameID string
	ch     chan session.Event
	done   chan struct{}
	once   sync.Once
	// lossy subscriptions drop events on overflow instead of being cut off.
	lossy bool
}

// Done is closed once the subscription stops delivering, either through
// Close or because the subscriber fell behind.
func (s *Subscription) Done() <-chan struct{} { return s.done }

func (s *Subscription) Close() { s.hub.remove(s) }

type Hub struct {
	mu     sync.RWMutex
	games  map[string]map[uint64]*Subscription
	global map[uint64]*Subscription
	next   uint64
	buffer int
	log    *zap.Logger
	closed bool
}

func New(log *zap.Logger, buffer int) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		games:  make(map[string]map[uint64]*Subscription),
		global: make(map[uint64]*Subscription),
		buffer: buffer,
		log:    log,
	}
}

// Subscribe registers fn for events of one game. A subscriber whose buffer
// fills up is disconnected.
func (h *Hub) Subscribe(gameID string, fn func(session.Event)) *Subscription {
	return h.add(gameID, fn, false)
}

// SubscribeAll registers fn for every game. Overflowing events are dropped
// and logged; the subscription stays.
func (h *Hub) SubscribeAll(fn func(session.Event)) *Subscription {
	return h.add("", fn, true)
}

func (h *Hub) add(gameID string, fn func(session.Event), lossy bool) *Subscription {
	s := &Subscription{
		hub:    h,
		gameID: gameID,
		ch:     make(chan session.Event, h.buffer),
		done:   make(chan struct{}),
		lossy:  lossy,
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(s.ch)
		s.once.Do(func() { close(s.done) })
		return s
	}
	h.next++
	s.id = h.next
	if lossy {
		h.global[s.id] = s
	} else {
		subs := h.games[gameID]
		if subs == nil {
			subs = make(map[uint64]*Subscription)
			h.games[gameID] = subs
		}
		subs[s.id] = s
	}
	h.mu.Unlock()

	go func() {
		defer s.once.Do(func() { close(s.done) })
		for ev := range s.ch {
			fn(ev)
		}
	}()
	return s
}

// Publish implements session.Sink.
func (h *Hub) Publish(ev session.Event) {
	var overflow []*Subscription
	h.mu.RLock()
	for _, s := range h.global {
		select {
		case s.ch <- ev:
		default:
			h.log.Warn("hub_event_dropped", zap.String("game_id", ev.GameID), zap.String("kind", string(ev.Kind)))
		}
	}
	for _, s := range h.games[ev.GameID] {
		select {
		case s.ch <- ev:
		default:
			overflow = append(overflow, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range overflow {
		h.log.Warn("hub_subscriber_overflow", zap.String("game_id", s.gameID), zap.Uint64("subscriber", s.id))
		h.remove(s)
	}
}

// Subscribers reports the per-game subscriber count.
func (h *Hub) Subscribers(gameID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.games[gameID])
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	removed := false
	if s.lossy {
		if _, ok := h.global[s.id]; ok {
			delete(h.global, s.id)
			removed = true
		}
	} else if subs := h.games[s.gameID]; subs != nil {
		if _, ok := subs[s.id]; ok {
			delete(subs, s.id)
			removed = true
			if len(subs) == 0 {
				delete(h.games, s.gameID)
			}
		}
	}
	h.mu.Unlock()
	if removed {
		close(s.ch)
	}
}

// Close stops every subscription. Queued events are still delivered.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var all []*Subscription
	for _, s := range h.global {
		all = append(all, s)
	}
	for _, subs := range h.games {
		for _, s := range subs {
			all = append(all, s)
		}
	}
	h.global = make(map[uint64]*Subscription)
	h.games = make(map[string]map[uint64]*Subscription)
	h.mu.Unlock()
	for _, s := range all {
		close(s.ch)
	}
}
