// Package feed is the change-notification stream for committed order
// mutations: an append-only, per-subscriber-ordered fan-out where a slow
// subscriber is disconnected instead of slowing writers or other subscribers.
package feed

import (
	"errors"
	"sync"
	"time"

	"github.com/delelinus/orderledger/internal/entity"
	"github.com/google/uuid"
)

// ErrOverrun means the subscriber fell behind its buffer and was disconnected.
var ErrOverrun = errors.New("feed overrun: subscriber fell behind")

// DefaultBuffer is the per-subscriber buffer bound before overrun.
const DefaultBuffer = 64

type Operation string

const (
	OpCreated Operation = "Created"
	OpUpdated Operation = "Updated"
)

// Event describes one committed mutation to the order kind.
type Event struct {
	EventID    string        `json:"event_id"`
	Op         Operation     `json:"operation"`
	OrderID    int64         `json:"order_id"`
	CustomerID int64         `json:"customer_id"`
	Status     entity.Status `json:"status"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// NewEvent stamps a fresh event ID over the given order fields.
func NewEvent(op Operation, o entity.Order) Event {
	return Event{
		EventID:    uuid.NewString(),
		Op:         op,
		OrderID:    o.ID,
		CustomerID: o.CustomerID,
		Status:     o.Status,
		OccurredAt: o.OrderDate,
	}
}

// Subscription is a live cursor positioned at subscribe time. Events arrive
// in commit order until Unsubscribe or overrun closes the channel.
type Subscription struct {
	id uint64
	ch chan Event

	mu  sync.Mutex
	err error
}

// Events yields the subscriber's stream. The channel closes on Unsubscribe or
// overrun; check Err afterwards to tell the two apart.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Err reports why the stream ended: ErrOverrun, or nil after Unsubscribe.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Feed fans committed events out to independent subscribers. Publish never
// blocks: each subscriber owns a bounded buffer and is cut off with ErrOverrun
// when it is full.
type Feed struct {
	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
	buffer int
	closed bool
}

type Option func(*Feed)

// WithBuffer overrides the per-subscriber buffer bound.
func WithBuffer(n int) Option {
	return func(f *Feed) {
		if n > 0 {
			f.buffer = n
		}
	}
}

func New(opts ...Option) *Feed {
	f := &Feed{
		subs:   make(map[uint64]*Subscription),
		buffer: DefaultBuffer,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Subscribe returns a cursor positioned at "now". Earlier events are not
// replayed.
func (f *Feed) Subscribe() *Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	sub := &Subscription{id: f.nextID, ch: make(chan Event, f.buffer)}
	if f.closed {
		close(sub.ch)
		return sub
	}
	f.subs[sub.id] = sub
	return sub
}

// Unsubscribe stops delivery and releases the subscriber's resources.
func (f *Feed) Unsubscribe(sub *Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subs[sub.id]; !ok {
		return
	}
	delete(f.subs, sub.id)
	close(sub.ch)
}

// Publish delivers ev to every live subscriber. A subscriber whose buffer is
// full is disconnected with ErrOverrun; the publisher never waits.
func (f *Feed) Publish(ev Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	for id, sub := range f.subs {
		select {
		case sub.ch <- ev:
		default:
			sub.fail(ErrOverrun)
			delete(f.subs, id)
			close(sub.ch)
		}
	}
}

// Close ends every subscription. Later Publish calls are dropped.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for id, sub := range f.subs {
		delete(f.subs, id)
		close(sub.ch)
	}
}
