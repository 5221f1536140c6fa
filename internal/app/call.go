package app

import (
	"slices"
	"sync"

	"github.com/dkeye/Jingle/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Call aggregates the peer sessions of one conversation.
type Call struct {
	ID string

	events *EventBus
	log    zerolog.Logger

	mu          sync.RWMutex
	peers       []*PeerSession
	placeholder *PeerSession
	announced   bool
	ended       bool
	focus       bool
	onEnded     func(callID string) bool
}

func newCall(events *EventBus) *Call {
	id := uuid.NewString()
	return &Call{
		ID:     id,
		events: events,
		log:    log.With().Str("module", "app.call").Str("call", id).Logger(),
	}
}

func (c *Call) setOnEnded(fn func(string) bool) {
	c.mu.Lock()
	c.onEnded = fn
	c.mu.Unlock()
}

// Peers returns a snapshot of the call's peers.
func (c *Call) Peers() []*PeerSession {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.peers)
}

func (c *Call) PeerCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.peers)
}

// Announced reports whether CallCreated has been published for c.
func (c *Call) Announced() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.announced
}

func (c *Call) Ended() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ended
}

// IsConferenceFocus reports whether we act as the mixer of this call.
func (c *Call) IsConferenceFocus() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.focus
}

func (c *Call) setFocus(on bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	changed := c.focus != on
	c.focus = on
	return changed
}

func (c *Call) peerBySID(sid string) (*PeerSession, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.peers {
		if p.sid == sid {
			return p, true
		}
	}
	return nil, false
}

func (c *Call) hasPlaceholder() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.placeholder != nil
}

// addPlaceholder adds a peer that is replaced by the next real peer. No events
// are published for it.
func (c *Call) addPlaceholder(p *PeerSession) {
	c.mu.Lock()
	c.peers = append(c.peers, p)
	c.placeholder = p
	c.mu.Unlock()
	c.log.Debug().Str("sid", p.sid).Msg("placeholder peer added")
}

// addPeer adds p and publishes CallCreated on the first real peer. A pending
// placeholder is dropped without notice. It reports false when c already ended.
func (c *Call) addPeer(p *PeerSession) bool {
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return false
	}
	discarded := c.placeholder
	if discarded != nil {
		c.placeholder = nil
		c.peers = slices.DeleteFunc(c.peers, func(x *PeerSession) bool { return x == discarded })
	}
	c.peers = append(c.peers, p)
	created := !c.announced && len(c.peers) == 1
	if created {
		c.announced = true
	}
	c.mu.Unlock()

	if discarded != nil {
		discarded.discard()
		c.log.Info().Str("placeholder", discarded.sid).Str("sid", p.sid).Msg("placeholder replaced")
	}
	if created {
		c.events.publish(Event{Kind: EventCallCreated, CallID: c.ID, SID: p.sid, Peer: p.remote})
	}
	c.events.publish(Event{Kind: EventPeerAdded, CallID: c.ID, SID: p.sid, Peer: p.remote})
	return true
}

// removePeer drops a peer that reached a terminal state. The call ends with
// its last peer.
func (c *Call) removePeer(p *PeerSession) {
	c.mu.Lock()
	idx := slices.Index(c.peers, p)
	if idx < 0 {
		c.mu.Unlock()
		return
	}
	c.peers = slices.Delete(c.peers, idx, idx+1)
	silent := c.placeholder == p
	if silent {
		c.placeholder = nil
	}
	last := len(c.peers) == 0 && !c.ended
	if last {
		c.ended = true
	}
	onEnded := c.onEnded
	c.mu.Unlock()

	if !silent {
		c.events.publish(Event{Kind: EventPeerRemoved, CallID: c.ID, SID: p.sid, Peer: p.remote})
	}
	if last {
		c.log.Info().Msg("last peer gone")
		if onEnded != nil {
			onEnded(c.ID)
		}
	}
}

// remoteFocus reports whether any peer announced itself as a conference focus.
func (c *Call) remoteFocus() bool {
	for _, p := range c.Peers() {
		if p.ConferenceFocus() {
			return true
		}
	}
	return false
}

// connectedPeers returns the peers able to receive session-info.
func (c *Call) connectedPeers() []*PeerSession {
	return slices.DeleteFunc(c.Peers(), func(p *PeerSession) bool {
		return p.State() != domain.StateConnected
	})
}
