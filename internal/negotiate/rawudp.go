package negotiate

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/dkeye/Jingle/internal/core"
	"github.com/dkeye/Jingle/internal/domain"
	"github.com/dkeye/Jingle/internal/harvest"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RawUDP negotiates one host address per component with no checks. The
// target is whatever the remote advertises first.
type RawUDP struct {
	sid  string
	host *harvest.Host
	ids  *domain.IDGenerator
	log  zerolog.Logger

	mu      sync.Mutex
	local   []domain.Content
	socks   map[string]map[domain.Component]*net.UDPConn
	remote  map[string][]domain.Candidate
	targets map[string]map[domain.Component]domain.Candidate
	started bool
	closed  bool
}

func NewRawUDP(sid string, opts Options) *RawUDP {
	host := opts.Host
	if host == nil {
		host = &harvest.Host{}
	}
	return &RawUDP{
		sid:     sid,
		host:    host,
		ids:     domain.NewIDGenerator(sid[:min(4, len(sid))] + "r"),
		log:     log.With().Str("module", "negotiate.rawudp").Str("sid", sid).Logger(),
		socks:   make(map[string]map[domain.Component]*net.UDPConn),
		remote:  make(map[string][]domain.Candidate),
		targets: make(map[string]map[domain.Component]domain.Candidate),
	}
}

func (n *RawUDP) Kind() domain.TransportKind { return domain.TransportRawUDP }

// BeginHarvest binds the sockets synchronously; there is nothing slow to defer.
func (n *RawUDP) BeginHarvest(_ context.Context, remote, local []domain.Content) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return ErrClosed
	}
	n.local = domain.CloneContents(local)
	for i := range n.local {
		if err := n.bind(&n.local[i]); err != nil {
			n.closeSockets()
			return err
		}
	}
	n.mergeRemote(remote)
	return nil
}

func (n *RawUDP) bind(c *domain.Content) error {
	ips, err := n.host.Addresses()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSocketAllocation, err)
	}
	rtp, rtcp, err := n.host.BindPair(ips[0])
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSocketAllocation, c.Name, err)
	}
	n.socks[c.Name] = map[domain.Component]*net.UDPConn{
		domain.ComponentRTP:  rtp,
		domain.ComponentRTCP: rtcp,
	}
	t := domain.Transport{Kind: domain.TransportRawUDP}
	for _, comp := range domain.Components {
		addr := n.socks[c.Name][comp].LocalAddr().(*net.UDPAddr)
		t.Candidates = append(t.Candidates, domain.Candidate{
			Component: comp,
			ID:        n.ids.Next(),
			Protocol:  "udp",
			Type:      domain.CandidateHost,
			Address:   addr.IP.String(),
			Port:      addr.Port,
		})
	}
	c.Transport = t
	n.log.Debug().
		Str("content", c.Name).
		Int("rtp", t.Candidates[0].Port).
		Int("rtcp", t.Candidates[1].Port).
		Msg("sockets bound")
	return nil
}

func (n *RawUDP) WrapupHarvest(_ context.Context) ([]domain.Content, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, ErrClosed
	}
	return domain.CloneContents(n.local), nil
}

func (n *RawUDP) mergeRemote(remote []domain.Content) {
	for _, c := range remote {
		if c.Transport.Kind != "" && c.Transport.Kind != domain.TransportRawUDP {
			continue
		}
		stored := n.remote[c.Name]
		mergeCandidates(&stored, c.Transport.Candidates)
		n.remote[c.Name] = stored
	}
}

// pin records the first remote address of each component of name.
func (n *RawUDP) pin(name string) {
	if _, done := n.targets[name]; done {
		return
	}
	t := make(map[domain.Component]domain.Candidate, len(domain.Components))
	for _, comp := range domain.Components {
		for _, c := range n.remote[name] {
			if c.Component == comp {
				t[comp] = c
				break
			}
		}
	}
	n.targets[name] = t
}

func (n *RawUDP) StartConnectivityEstablishment(remote []domain.Content) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.mergeRemote(remote)
	if n.started || n.closed {
		return false
	}
	names := contentNames(n.local)
	if !hasAllComponents(names, n.remote) {
		return false
	}
	for _, name := range names {
		n.pin(name)
	}
	n.started = true
	n.log.Info().Int("contents", len(names)).Msg("targets pinned")
	return true
}

func (n *RawUDP) WrapupConnectivityEstablishment(_ context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.started {
		return ErrNoRemoteCandidates
	}
	return nil
}

func (n *RawUDP) AddContent(_ context.Context, local domain.Content, remote *domain.Content) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return ErrClosed
	}
	if _, dup := n.socks[local.Name]; dup {
		return nil
	}
	if err := n.bind(&local); err != nil {
		return err
	}
	n.local = append(n.local, local)
	if remote != nil {
		n.mergeRemote([]domain.Content{*remote})
	}
	if n.started && hasAllComponents([]string{local.Name}, n.remote) {
		n.pin(local.Name)
	}
	return nil
}

// Local returns the current local descriptor of one content.
func (n *RawUDP) Local(name string) (domain.Content, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return domain.FindContent(n.local, name)
}

func (n *RawUDP) RemoveContent(name string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, s := range n.socks[name] {
		s.Close()
	}
	delete(n.socks, name)
	delete(n.remote, name)
	delete(n.targets, name)
	for i, c := range n.local {
		if c.Name == name {
			n.local = append(n.local[:i], n.local[i+1:]...)
			break
		}
	}
}

func (n *RawUDP) Streams() []core.MediaStream {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []core.MediaStream
	for _, c := range n.local {
		targets, ok := n.targets[c.Name]
		if !ok {
			continue
		}
		ms := core.MediaStream{Content: c.Name, Conns: make(map[domain.Component]net.Conn)}
		for _, comp := range domain.Components {
			remote, ok := targets[comp]
			if !ok {
				continue
			}
			addr, err := remote.UDPAddr()
			if err != nil {
				n.log.Warn().Err(err).Str("content", c.Name).Msg("unresolvable target")
				continue
			}
			local := c.Transport.ForComponent(comp)
			ms.Conns[comp] = newPacketConn(n.socks[c.Name][comp], addr)
			ms.Pairs = append(ms.Pairs, domain.CandidatePair{Local: local[0], Remote: remote})
		}
		out = append(out, ms)
	}
	return out
}

func (n *RawUDP) closeSockets() {
	for name, m := range n.socks {
		for _, s := range m {
			s.Close()
		}
		delete(n.socks, name)
	}
}

func (n *RawUDP) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	n.closeSockets()
	n.log.Info().Msg("negotiator closed")
	return nil
}

var _ core.TransportNegotiator = (*RawUDP)(nil)
