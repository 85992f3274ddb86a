package engine

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/cadenroberts/OllamaBot-sub000/internal/model"
)

// ErrBusClosed is returned by Subscription.Next once the bus is closed and
// the subscription drained.
var ErrBusClosed = errors.New("event bus closed")

// EventKind distinguishes bus events.
type EventKind string

const (
	EventTransitionCommitted EventKind = "transition_committed"
	EventViolationRaised     EventKind = "violation_raised"
	EventCheckpointWritten   EventKind = "checkpoint_written"
	EventSuspensionResolved  EventKind = "suspension_resolved"
	EventPromptTerminated    EventKind = "prompt_terminated"
)

// Event is one notification to UI or narrative collaborators. Exactly the
// fields relevant to Kind are set.
type Event struct {
	Seq  int64     `json:"seq"`
	Kind EventKind `json:"kind"`

	Transition *model.Transition    `json:"transition,omitempty"`
	Node       int                  `json:"node,omitempty"`
	Suspension *SuspensionRecord    `json:"suspension,omitempty"`
	Checkpoint *model.CheckpointRef `json:"checkpoint,omitempty"`
	Directive  Directive            `json:"directive,omitempty"`
	FlowCode   string               `json:"flow_code,omitempty"`
}

// Bus fans events out to subscribers.
//
// Publishing never blocks: every subscription is an unbounded FIFO, so a
// slow consumer cannot stall the navigator. Taps run synchronously inside
// Publish and must not call back into the session.
type Bus struct {
	clock *Clock

	mu     sync.Mutex
	subs   map[int]*Subscription
	taps   []func(Event)
	nextID int
	closed bool
}

// NewBus returns an open bus with its own clock.
func NewBus() *Bus {
	return &Bus{clock: NewClock(), subs: make(map[int]*Subscription)}
}

// Subscribe registers a new consumer. Events published before the call are
// not delivered to it. Subscribing to a closed bus returns a closed
// subscription.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := &Subscription{
		bus:    b,
		id:     b.nextID,
		events: make([]Event, 0, 16),
		signal: make(chan struct{}, 1),
	}
	b.nextID++
	if b.closed {
		s.close()
		return s
	}
	b.subs[s.id] = s
	return s
}

// Tap registers fn to observe every event synchronously.
func (b *Bus) Tap(fn func(Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.taps = append(b.taps, fn)
}

// Publish stamps e with the next seq and delivers it. It returns the
// stamped event; publishing to a closed bus is a no-op.
func (b *Bus) Publish(e Event) Event {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return e
	}
	e.Seq = b.clock.Next()
	taps := slices.Clone(b.taps)
	subs := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, fn := range taps {
		fn(e)
	}
	for _, s := range subs {
		s.enqueue(e)
	}
	return e
}

// Close closes every subscription. Queued events stay readable.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		s.close()
		delete(b.subs, id)
	}
}

func (b *Bus) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// Subscription is one consumer's FIFO of events.
type Subscription struct {
	bus *Bus
	id  int

	mu     sync.Mutex
	events []Event
	closed bool
	signal chan struct{} // buffered, size 1; closed on close
}

func (s *Subscription) enqueue(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.events = append(s.events, e)

	// Coalesce wakeups.
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// TryNext pops the oldest event without blocking.
func (s *Subscription) TryNext() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.events) == 0 {
		return Event{}, false
	}
	e := s.events[0]

	// Release the record pointers held by the backing array.
	s.events[0] = Event{}
	if len(s.events) == 1 {
		s.events = s.events[:0]
	} else {
		s.events = s.events[1:]
	}
	return e, true
}

// Next blocks until an event is available, the context is done, or the
// subscription is closed and drained (ErrBusClosed).
func (s *Subscription) Next(ctx context.Context) (Event, error) {
	for {
		if e, ok := s.TryNext(); ok {
			return e, nil
		}

		s.mu.Lock()
		done := s.closed && len(s.events) == 0
		s.mu.Unlock()
		if done {
			return Event{}, ErrBusClosed
		}

		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-s.signal:
		}
	}
}

// Drain pops every queued event.
func (s *Subscription) Drain() []Event {
	var out []Event
	for {
		e, ok := s.TryNext()
		if !ok {
			return out
		}
		out = append(out, e)
	}
}

// Len returns the number of queued events.
func (s *Subscription) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// Close detaches the subscription from its bus. Queued events stay readable.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s.id)
	s.close()
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.signal)
}
