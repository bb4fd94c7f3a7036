// Package events broadcasts kernel lifecycle status changes to any
// number of observers. Each orchestrator owns its own Bus so multiple
// embedded cell groups never see each other's events.
package events

import (
	"sync"
)

// Well-known status values. Provisioning phase names (waiting,
// building, pushing, launching, ...) are service-defined and pass
// through lowercased as-is.
const (
	StatusBuilding         = "building"
	StatusServerReady      = "server-ready"
	StatusReady            = "ready"
	StatusExecuting        = "executing"
	StatusRequestingKernel = "requesting-kernel"
	StatusFailed           = "failed"
)

// Event is a single lifecycle status change.
type Event struct {
	Status string
	Data   map[string]interface{}
}

// Bus is an in-process broadcast of lifecycle events. Delivery to each
// subscriber is in emission order; a slow subscriber delays only its
// own delivery, never the publisher or other subscribers.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]*subscriber
	nextID int
	closed bool
}

type subscriber struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Event
	ch     chan Event
	closed bool
}

func newSubscriber() *subscriber {
	s := &subscriber{ch: make(chan Event)}
	s.cond = sync.NewCond(&s.mu)
	go s.pump()
	return s
}

// pump moves queued events onto the subscriber channel in order.
func (s *subscriber) pump() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed && len(s.queue) == 0 {
			s.mu.Unlock()
			close(s.ch)
			return
		}
		ev := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		s.ch <- ev
	}
}

func (s *subscriber) enqueue(ev Event) {
	s.mu.Lock()
	if !s.closed {
		s.queue = append(s.queue, ev)
		s.cond.Signal()
	}
	s.mu.Unlock()
}

func (s *subscriber) stop() {
	s.mu.Lock()
	s.closed = true
	s.cond.Signal()
	s.mu.Unlock()
	// Drain so the pump can observe closure even if the receiver is gone.
	go func() {
		for range s.ch {
		}
	}()
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]*subscriber)}
}

// Subscribe registers an observer and returns its event channel along
// with an unsubscribe function. The channel is closed after
// unsubscribe once all already-queued events have been delivered or
// discarded.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	sub := newSubscriber()
	b.subs[id] = sub

	unsubscribe := func() {
		b.mu.Lock()
		if s, ok := b.subs[id]; ok {
			delete(b.subs, id)
			s.stop()
		}
		b.mu.Unlock()
	}
	return sub.ch, unsubscribe
}

// Publish broadcasts an event to all current subscribers. It never
// blocks on subscriber consumption.
func (b *Bus) Publish(status string, data map[string]interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	ev := Event{Status: status, Data: data}
	for _, sub := range b.subs {
		sub.enqueue(ev)
	}
}

// Close shuts the bus down. Subsequent publishes are dropped and all
// subscriber channels are closed after their queues drain.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		sub.stop()
	}
}
