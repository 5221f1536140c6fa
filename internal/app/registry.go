package app

import (
	"sync"

	"github.com/dkeye/Jingle/internal/domain"
	"github.com/rs/zerolog/log"
)

// Registry is the per-account table of active calls.
type Registry struct {
	mu     sync.RWMutex
	calls  map[string]*Call
	events *EventBus
}

func NewRegistry(events *EventBus) *Registry {
	return &Registry{
		calls:  make(map[string]*Call),
		events: events,
	}
}

// Add registers c and arranges for its removal when its last peer ends.
// Adding a call id twice is a no-op.
func (r *Registry) Add(c *Call) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.calls[c.ID]; dup {
		return
	}
	c.setOnEnded(r.remove)
	r.calls[c.ID] = c
	log.Info().Str("module", "app.registry").Str("call", c.ID).Int("active", len(r.calls)).Msg("call added")
}

// remove drops callID and publishes CallEnded. Only the caller that actually
// removed the entry publishes, so a call ends at most once.
func (r *Registry) remove(callID string) bool {
	r.mu.Lock()
	_, ok := r.calls[callID]
	if ok {
		delete(r.calls, callID)
	}
	active := len(r.calls)
	r.mu.Unlock()
	if !ok {
		return false
	}
	log.Info().Str("module", "app.registry").Str("call", callID).Int("active", active).Msg("call removed")
	if r.events != nil {
		r.events.publish(Event{Kind: EventCallEnded, CallID: callID})
	}
	return true
}

func (r *Registry) FindByCallID(id string) (*Call, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.calls[id]
	return c, ok
}

// FindBySessionID returns the live peer session with sid.
func (r *Registry) FindBySessionID(sid string) (*PeerSession, bool) {
	for _, c := range r.ActiveCalls() {
		if p, ok := c.peerBySID(sid); ok {
			return p, true
		}
	}
	return nil, false
}

// FindByInitiatingMessageID returns the peer whose session-initiate had id.
func (r *Registry) FindByInitiatingMessageID(id string) (*PeerSession, bool) {
	if id == "" {
		return nil, false
	}
	for _, c := range r.ActiveCalls() {
		for _, p := range c.Peers() {
			if p.InitiatingMessageID() == id {
				return p, true
			}
		}
	}
	return nil, false
}

// ActiveCalls returns a snapshot safe to iterate while calls come and go.
func (r *Registry) ActiveCalls() []*Call {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Call, 0, len(r.calls))
	for _, c := range r.calls {
		out = append(out, c)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.calls)
}

// PeerView is a read-only summary of one peer session.
type PeerView struct {
	SID        string     `json:"sid"`
	Remote     domain.JID `json:"remote"`
	State      string     `json:"state"`
	Initiator  bool       `json:"initiator"`
	OnHold     bool       `json:"on_hold,omitempty"`
	RemoteHold bool       `json:"remote_hold,omitempty"`
	Focus      bool       `json:"focus,omitempty"`
}

type CallView struct {
	ID    string     `json:"id"`
	Focus bool       `json:"focus,omitempty"`
	Peers []PeerView `json:"peers"`
}

// Snapshot summarizes every active call.
func (r *Registry) Snapshot() []CallView {
	calls := r.ActiveCalls()
	out := make([]CallView, 0, len(calls))
	for _, c := range calls {
		v := CallView{ID: c.ID, Focus: c.IsConferenceFocus()}
		for _, p := range c.Peers() {
			v.Peers = append(v.Peers, PeerView{
				SID:        p.SID(),
				Remote:     p.Remote(),
				State:      p.State().String(),
				Initiator:  p.IsInitiator(),
				OnHold:     p.OnHold(),
				RemoteHold: p.RemotelyOnHold(),
				Focus:      p.ConferenceFocus(),
			})
		}
		out = append(out, v)
	}
	return out
}
