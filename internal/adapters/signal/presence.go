package signal

import (
	"slices"
	"sync"

	"github.com/dkeye/Jingle/internal/domain"
	"github.com/dkeye/Jingle/internal/jingle"
)

// Presences tracks the available resources of each bare JID.
// The switchboard routes with it and Client exposes it as core.Roster.
type Presences struct {
	mu     sync.RWMutex
	byBare map[domain.JID]map[string]jingle.Presence
}

func NewPresences() *Presences {
	return &Presences{byBare: make(map[domain.JID]map[string]jingle.Presence)}
}

// Update records pr for full. An unavailable presence removes the resource.
func (p *Presences) Update(full domain.JID, pr jingle.Presence) {
	if !pr.Available {
		p.Remove(full)
		return
	}
	bare, res := full.Bare(), full.Resource()
	p.mu.Lock()
	defer p.mu.Unlock()
	rs, ok := p.byBare[bare]
	if !ok {
		rs = make(map[string]jingle.Presence)
		p.byBare[bare] = rs
	}
	rs[res] = pr
}

func (p *Presences) Remove(full domain.JID) {
	bare, res := full.Bare(), full.Resource()
	p.mu.Lock()
	defer p.mu.Unlock()
	rs, ok := p.byBare[bare]
	if !ok {
		return
	}
	delete(rs, res)
	if len(rs) == 0 {
		delete(p.byBare, bare)
	}
}

func (p *Presences) Contains(bare domain.JID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.byBare[bare.Bare()]
	return ok
}

func (p *Presences) OnlineContacts() []domain.JID {
	p.mu.RLock()
	out := make([]domain.JID, 0, len(p.byBare))
	for bare := range p.byBare {
		out = append(out, bare)
	}
	p.mu.RUnlock()
	slices.Sort(out)
	return out
}

// BestResource picks the jingle-capable resource with the highest priority.
// Ties go to the lexically smallest resource.
func (p *Presences) BestResource(bare domain.JID) (domain.JID, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	bare = bare.Bare()
	var (
		best  string
		prio  int
		found bool
	)
	for res, pr := range p.byBare[bare] {
		if !pr.Jingle || res == "" {
			continue
		}
		if !found || pr.Priority > prio || (pr.Priority == prio && res < best) {
			best, prio, found = res, pr.Priority, true
		}
	}
	if !found {
		return "", false
	}
	return bare.WithResource(best), true
}

// Snapshot lists every available full JID with its presence.
func (p *Presences) Snapshot() map[domain.JID]jingle.Presence {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[domain.JID]jingle.Presence)
	for bare, rs := range p.byBare {
		for res, pr := range rs {
			out[bare.WithResource(res)] = pr
		}
	}
	return out
}
