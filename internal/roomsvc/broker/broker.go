// Package broker fans room events out to every live viewer of a room.
//
// Each subscription owns a bounded buffer. Publish never waits on a viewer:
// when a buffer is full the overflow policy either drops the oldest queued
// event or disconnects the viewer. Events for one room reach every
// subscription in the order they were published.
package broker

import (
	"sync"
	"sync/atomic"

	"github.com/avvvet/allocation-rooms/internal/comm"
	log "github.com/sirupsen/logrus"
)

type Policy string

const (
	DropOldest Policy = "drop-oldest"
	Disconnect Policy = "disconnect"
)

const DefaultBufferSize = 32

// Relay mirrors published events outside the process. Failures are logged
// and never reach the publisher.
type Relay interface {
	Relay(evt comm.Event) error
}

type Options struct {
	BufferSize int
	Policy     Policy
	Relay      Relay
}

type Broker struct {
	mu     sync.RWMutex
	topics map[string]*topic
	closed bool

	bufSize int
	policy  Policy
	relay   Relay
}

type topic struct {
	mu   sync.Mutex
	seq  uint64
	subs map[*Subscription]struct{}
}

func NewBroker(opts Options) *Broker {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.Policy != Disconnect {
		opts.Policy = DropOldest
	}
	return &Broker{
		topics:  make(map[string]*topic),
		bufSize: opts.BufferSize,
		policy:  opts.Policy,
		relay:   opts.Relay,
	}
}

// Subscribe attaches a new viewer to room code. Every event published after
// Subscribe returns is delivered to it.
func (b *Broker) Subscribe(code string) *Subscription {
	s := &Subscription{
		broker: b,
		code:   code,
		ch:     make(chan comm.Event, b.bufSize),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.closed = true
		close(s.ch)
		return s
	}
	t, ok := b.topics[code]
	if !ok {
		t = &topic{subs: make(map[*Subscription]struct{})}
		b.topics[code] = t
	}
	t.mu.Lock()
	t.subs[s] = struct{}{}
	t.mu.Unlock()
	return s
}

// Publish stamps evt with the next topic sequence number and offers it to
// every subscription of its room without blocking.
func (b *Broker) Publish(evt comm.Event) comm.Event {
	b.mu.RLock()
	t, ok := b.topics[evt.RoomCode]
	empty := false
	if ok {
		t.mu.Lock()
		t.seq++
		evt.Seq = t.seq
		for s := range t.subs {
			if !s.offer(evt, b.policy) {
				log.WithFields(log.Fields{"room": evt.RoomCode, "type": evt.Type}).
					Warn("slow subscriber disconnected")
				delete(t.subs, s)
				s.closed = true
				close(s.ch)
			}
		}
		empty = len(t.subs) == 0
		t.mu.Unlock()
	}
	b.mu.RUnlock()

	if empty {
		b.collect(evt.RoomCode)
	}

	if b.relay != nil {
		if err := b.relay.Relay(evt); err != nil {
			log.Errorf("relay event %s for room %s: %v", evt.Type, evt.RoomCode, err)
		}
	}
	return evt
}

// collect drops the topic for code if nobody is subscribed to it.
func (b *Broker) collect(code string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[code]
	if !ok {
		return
	}
	t.mu.Lock()
	if len(t.subs) == 0 {
		delete(b.topics, code)
	}
	t.mu.Unlock()
}

func (b *Broker) unsubscribe(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[s.code]
	if !ok {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if s.closed {
		return
	}
	delete(t.subs, s)
	s.closed = true
	close(s.ch)
	if len(t.subs) == 0 {
		delete(b.topics, s.code)
	}
}

// Close ends every subscription. Later subscriptions start closed.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for code, t := range b.topics {
		t.mu.Lock()
		for s := range t.subs {
			s.closed = true
			close(s.ch)
		}
		t.subs = nil
		t.mu.Unlock()
		delete(b.topics, code)
	}
}

type Stats struct {
	Topics      int `json:"topics"`
	Subscribers int `json:"subscribers"`
}

func (b *Broker) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	st := Stats{Topics: len(b.topics)}
	for _, t := range b.topics {
		t.mu.Lock()
		st.Subscribers += len(t.subs)
		t.mu.Unlock()
	}
	return st
}

// Subscription is one viewer's handle on a room stream.
type Subscription struct {
	broker  *Broker
	code    string
	ch      chan comm.Event
	closed  bool // guarded by the topic lock
	dropped atomic.Uint64
}

// Events is closed when the subscription ends for any reason.
func (s *Subscription) Events() <-chan comm.Event {
	return s.ch
}

func (s *Subscription) RoomCode() string {
	return s.code
}

// Dropped counts events discarded because the buffer was full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close is safe to call more than once and from any goroutine.
func (s *Subscription) Close() {
	s.broker.unsubscribe(s)
}

// offer runs under the topic lock, so it is the only sender on s.ch.
func (s *Subscription) offer(evt comm.Event, policy Policy) bool {
	select {
	case s.ch <- evt:
		return true
	default:
	}
	if policy == Disconnect {
		return false
	}
	select {
	case <-s.ch:
		s.dropped.Add(1)
	default:
	}
	select {
	case s.ch <- evt:
	default:
		s.dropped.Add(1)
	}
	return true
}
