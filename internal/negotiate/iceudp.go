package negotiate

import (
	"context"
	"sync"

	"github.com/dkeye/Jingle/internal/core"
	"github.com/dkeye/Jingle/internal/domain"
)

// ICEUDP is full ICE negotiation over pion agents, one per component.
type ICEUDP struct {
	s *iceSession

	mu    sync.Mutex
	local []domain.Content
}

func NewICEUDP(sid string, initiator bool, opts Options) *ICEUDP {
	return &ICEUDP{s: newICESession(sid, initiator, opts, "negotiate.iceudp")}
}

func (n *ICEUDP) Kind() domain.TransportKind { return domain.TransportICEUDP }

func (n *ICEUDP) BeginHarvest(_ context.Context, remote, local []domain.Content) error {
	n.mu.Lock()
	n.local = domain.CloneContents(local)
	n.mu.Unlock()
	if remote != nil {
		n.s.feed(parseICE(remote))
	}
	return n.s.begin(contentNames(local))
}

func (n *ICEUDP) WrapupHarvest(ctx context.Context) ([]domain.Content, error) {
	if err := n.s.wait(ctx); err != nil {
		return nil, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := range n.local {
		n.fill(&n.local[i])
	}
	return domain.CloneContents(n.local), nil
}

func (n *ICEUDP) fill(c *domain.Content) {
	ufrag, pwd, cands, ok := n.s.localCandidates(c.Name)
	if !ok {
		return
	}
	c.Transport = domain.Transport{
		Kind:       domain.TransportICEUDP,
		Ufrag:      ufrag,
		Pwd:        pwd,
		Candidates: cands,
	}
}

func (n *ICEUDP) StartConnectivityEstablishment(remote []domain.Content) bool {
	_, started := n.s.feed(parseICE(remote))
	return started
}

func (n *ICEUDP) WrapupConnectivityEstablishment(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, n.s.opts.checkTimeout()+n.s.opts.RelayAcceptDelay)
	defer cancel()
	return n.s.waitConnected(ctx)
}

func (n *ICEUDP) AddContent(ctx context.Context, local domain.Content, remote *domain.Content) error {
	if remote != nil {
		n.s.feed(parseICE([]domain.Content{*remote}))
	}
	if err := n.s.add(ctx, local.Name); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fill(&local)
	n.local = append(n.local, local)
	return nil
}

// Local returns the current local descriptor of one content.
func (n *ICEUDP) Local(name string) (domain.Content, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return domain.FindContent(n.local, name)
}

func (n *ICEUDP) RemoveContent(name string) {
	n.s.remove(name)
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, c := range n.local {
		if c.Name == name {
			n.local = append(n.local[:i], n.local[i+1:]...)
			break
		}
	}
}

func (n *ICEUDP) Streams() []core.MediaStream { return n.s.mediaStreams() }

func (n *ICEUDP) OnLocalCandidate(fn func(content string, c domain.Candidate)) {
	n.s.mu.Lock()
	n.s.trickle = fn
	n.s.mu.Unlock()
}

// Restart regathers under a new generation with fresh credentials and returns
// the new local descriptors.
func (n *ICEUDP) Restart(ctx context.Context) ([]domain.Content, error) {
	if _, err := n.s.restart(ctx); err != nil {
		return nil, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := range n.local {
		n.fill(&n.local[i])
	}
	return domain.CloneContents(n.local), nil
}

func (n *ICEUDP) Close() error { return n.s.close() }

// parseICE extracts candidates and per-component credentials from ice-udp
// descriptors.
func parseICE(remote []domain.Content) (map[string][]domain.Candidate, map[string]map[domain.Component]creds) {
	cands := make(map[string][]domain.Candidate, len(remote))
	rc := make(map[string]map[domain.Component]creds, len(remote))
	for _, c := range remote {
		t := c.Transport
		if t.Kind != "" && t.Kind != domain.TransportICEUDP {
			continue
		}
		cands[c.Name] = append(cands[c.Name], t.Candidates...)
		if t.Ufrag != "" {
			byComp := make(map[domain.Component]creds, len(domain.Components))
			for _, comp := range domain.Components {
				byComp[comp] = creds{componentUfrag(t.Ufrag, comp), t.Pwd}
			}
			rc[c.Name] = byComp
		}
	}
	return cands, rc
}

var (
	_ core.TransportNegotiator = (*ICEUDP)(nil)
	_ core.Trickler            = (*ICEUDP)(nil)
)
