package events

import (
	"context"
	"slices"
	"sync"
)

// Reducer folds events into state synchronously, inside Publish and in publish
// order. A reducer must not publish.
type Reducer interface {
	Reduce(Event)
}

// ReducerFunc adapts a function to the Reducer interface.
type ReducerFunc func(Event)

// Reduce calls f(e).
func (f ReducerFunc) Reduce(e Event) {
	f(e)
}

// Bus gives every published event a position in a single total order. Reducers
// see each event before any subscriber does, so state read after Publish returns
// always reflects the published event.
type Bus struct {
	mu       sync.Mutex
	reducers []Reducer
	subs     []*Subscription
	closed   bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// AddReducer registers a reducer. Reducers run in registration order.
func (b *Bus) AddReducer(r Reducer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reducers = append(b.reducers, r)
}

// Publish applies the events to every reducer and enqueues them for every
// matching subscription, keeping them contiguous in the total order. Publish
// never blocks on subscribers. Events published after Close are dropped and
// Publish reports false.
func (b *Bus) Publish(evs ...Event) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.publishLocked(evs)
	return true
}

// PublishCtx publishes the events only if ctx is still active at the moment
// they enter the total order. A reducer that cancels ctx while handling an
// earlier event therefore stops every later PublishCtx with that ctx.
func (b *Bus) PublishCtx(ctx context.Context, evs ...Event) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || ctx.Err() != nil {
		return false
	}
	b.publishLocked(evs)
	return true
}

func (b *Bus) publishLocked(evs []Event) {
	for _, ev := range evs {
		if ev == nil {
			continue
		}
		for _, r := range b.reducers {
			r.Reduce(ev)
		}
		for _, s := range b.subs {
			s.deliver(ev)
		}
	}
}

// Subscribe returns a subscription receiving every event of the given kinds
// published from now on. With no kinds, every event is received.
func (b *Bus) Subscribe(kinds ...Kind) *Subscription {
	s := newSubscription(b, kinds)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.stopOnce.Do(func() { close(s.stop) })
		return s
	}
	b.subs = append(b.subs, s)
	return s
}

// Close detaches all subscriptions. Their channels are closed once drained.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.closed = true
	b.mu.Unlock()

	for _, s := range subs {
		s.stopOnce.Do(func() { close(s.stop) })
	}
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = slices.DeleteFunc(b.subs, func(other *Subscription) bool { return other == s })
}

// Subscription is an unbounded, order-preserving mailbox fed by a Bus.
type Subscription struct {
	bus   *Bus
	kinds []Kind

	mu    sync.Mutex
	queue []Event
	ready chan struct{}

	out      chan Event
	stop     chan struct{}
	stopOnce sync.Once
}

func newSubscription(b *Bus, kinds []Kind) *Subscription {
	s := &Subscription{
		bus:   b,
		kinds: kinds,
		ready: make(chan struct{}, 1),
		out:   make(chan Event),
		stop:  make(chan struct{}),
	}
	go s.pump()
	return s
}

// C returns the channel on which events are delivered. It is closed after Close.
func (s *Subscription) C() <-chan Event {
	return s.out
}

// Close detaches the subscription from the bus and discards undelivered events.
func (s *Subscription) Close() {
	s.bus.remove(s)
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Subscription) matches(ev Event) bool {
	return len(s.kinds) == 0 || slices.Contains(s.kinds, ev.Kind())
}

// deliver is called with the bus lock held.
func (s *Subscription) deliver(ev Event) {
	if !s.matches(ev) {
		return
	}
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.ready <- struct{}{}:
	default:
	}
}

func (s *Subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.ready:
				continue
			case <-s.stop:
				return
			}
		}
		ev := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- ev:
		case <-s.stop:
			return
		}
	}
}
