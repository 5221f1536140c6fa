// Package relaynode discovers third-party relay nodes and wraps their channels.
package relaynode

import (
	"errors"
	"slices"
	"sync"

	"github.com/dkeye/Jingle/internal/domain"
	"github.com/dkeye/Jingle/internal/jingle"
)

var (
	ErrNoRelay         = errors.New("no relay node available")
	ErrBadAllocation   = errors.New("relay returned an unusable allocation")
	ErrDiscoveryClosed = errors.New("relay discovery closed")
)

// TrackerEntry is a relay or tracker found by the search.
// Lower Priority is preferred.
type TrackerEntry struct {
	JID      domain.JID
	Kind     jingle.ServiceKind
	Policy   jingle.ServicePolicy
	Protocol string
	Priority int
}

// ServiceNode is the outcome of one discovery sweep.
type ServiceNode struct {
	mu       sync.RWMutex
	relays   []TrackerEntry
	trackers []TrackerEntry
	order    map[domain.JID]int
}

func NewServiceNode() *ServiceNode {
	return &ServiceNode{order: make(map[domain.JID]int)}
}

// Add keeps the best priority seen for a JID. It reports whether e was new.
func (n *ServiceNode) Add(e TrackerEntry) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	list := &n.trackers
	if e.Kind == jingle.ServiceRelay {
		list = &n.relays
	}
	for i := range *list {
		if (*list)[i].JID == e.JID {
			if e.Priority < (*list)[i].Priority {
				(*list)[i].Priority = e.Priority
			}
			return false
		}
	}
	if _, seen := n.order[e.JID]; !seen {
		n.order[e.JID] = len(n.order)
	}
	*list = append(*list, e)
	return true
}

func (n *ServiceNode) RelayCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.relays)
}

// Relays returns a snapshot sorted by priority then discovery order.
func (n *ServiceNode) Relays() []TrackerEntry {
	return n.sorted(func() []TrackerEntry { return n.relays })
}

func (n *ServiceNode) Trackers() []TrackerEntry {
	return n.sorted(func() []TrackerEntry { return n.trackers })
}

func (n *ServiceNode) sorted(pick func() []TrackerEntry) []TrackerEntry {
	n.mu.RLock()
	out := slices.Clone(pick())
	order := n.order
	slices.SortStableFunc(out, func(a, b TrackerEntry) int {
		if a.Priority != b.Priority {
			return a.Priority - b.Priority
		}
		return order[a.JID] - order[b.JID]
	})
	n.mu.RUnlock()
	return out
}

// PreferredRelay returns the best relay for a channel request.
func (n *ServiceNode) PreferredRelay() (TrackerEntry, bool) {
	relays := n.Relays()
	if len(relays) == 0 {
		return TrackerEntry{}, false
	}
	return relays[0], true
}
