package sqlite

import (
	"context"
	"sync"
)

type collection int

const (
	kindTasks collection = iota
	kindGoals
	kindPreferences
)

// hub fans committed writes out to subscribers. Each subscriber owns a
// goroutine and a one-slot signal channel, so bursts of writes coalesce
// into a single re-read of the latest state and delivery order is kept
// per subscription.
type hub struct {
	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

type subscriber struct {
	uid    string
	kind   collection
	signal chan struct{}
	stop   chan struct{}
	once   sync.Once
	hub    *hub
}

func newHub() *hub {
	return &hub{subs: make(map[*subscriber]struct{})}
}

func (h *hub) subscribe(ctx context.Context, uid string, kind collection, fetch func(context.Context) error, onErr func(error)) *subscriber {
	s := &subscriber{
		uid:    uid,
		kind:   kind,
		signal: make(chan struct{}, 1),
		stop:   make(chan struct{}),
		hub:    h,
	}

	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	// initial snapshot
	s.signal <- struct{}{}

	loopCtx, cancel := context.WithCancel(context.Background())
	go func() {
		defer cancel()
		for {
			select {
			case <-s.stop:
				return
			case <-ctx.Done():
				s.Unsubscribe()
				return
			case <-s.signal:
				if err := fetch(loopCtx); err != nil && onErr != nil {
					onErr(err)
				}
			}
		}
	}()

	return s
}

// Unsubscribe stops deliveries. Safe to call more than once and from
// inside the delivery callback.
func (s *subscriber) Unsubscribe() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s)
		s.hub.mu.Unlock()
		close(s.stop)
	})
}

func (s *subscriber) poke() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (h *hub) notify(uid string, kind collection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		if s.uid == uid && s.kind == kind {
			s.poke()
		}
	}
}

func (h *hub) notifyAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		s.poke()
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
}
