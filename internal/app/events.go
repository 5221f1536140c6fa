package app

import (
	"sync"
	"time"

	"github.com/dkeye/Jingle/internal/domain"
)

type EventKind uint8

const (
	EventCallCreated EventKind = iota + 1
	EventCallEnded
	EventPeerAdded
	EventPeerRemoved
	EventPeerState
	EventRemoteHold
	EventConferenceFocus
	EventMediaReady
)

var eventNames = map[EventKind]string{
	EventCallCreated:     "call-created",
	EventCallEnded:       "call-ended",
	EventPeerAdded:       "peer-added",
	EventPeerRemoved:     "peer-removed",
	EventPeerState:       "peer-state",
	EventRemoteHold:      "remote-hold",
	EventConferenceFocus: "conference-focus",
	EventMediaReady:      "media-ready",
}

func (k EventKind) String() string {
	if n, ok := eventNames[k]; ok {
		return n
	}
	return "event"
}

// Event is a call lifecycle notification. Fields that do not apply to Kind are zero.
type Event struct {
	Kind   EventKind
	CallID string
	SID    string
	Peer   domain.JID
	State  domain.PeerState
	Reason string
	// Flag carries the on/off value of hold and focus events.
	Flag bool
	At   time.Time
}

// EventBus delivers events in publish order to a single consumer.
// Publishers are never holding a call or registry lock when they publish.
type EventBus struct {
	ch   chan Event
	done chan struct{}
	once sync.Once

	// mu orders sends against closing ch.
	mu     sync.RWMutex
	closed bool
}

func NewEventBus(size int) *EventBus {
	if size <= 0 {
		size = 256
	}
	return &EventBus{
		ch:   make(chan Event, size),
		done: make(chan struct{}),
	}
}

// Events is closed by Close once buffered events are delivered.
func (b *EventBus) Events() <-chan Event { return b.ch }

// publish blocks while the buffer is full and returns at once after Close.
func (b *EventBus) publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	select {
	case b.ch <- e:
	case <-b.done:
	}
}

// Close releases blocked publishers, drops later events and closes the
// channel so a ranging consumer finishes.
func (b *EventBus) Close() {
	b.once.Do(func() {
		close(b.done)
		b.mu.Lock()
		b.closed = true
		close(b.ch)
		b.mu.Unlock()
	})
}
