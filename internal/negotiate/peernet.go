package negotiate

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/dkeye/Jingle/internal/core"
	"github.com/dkeye/Jingle/internal/domain"
	"github.com/dkeye/Jingle/internal/harvest"
	"github.com/pion/stun/v3"
)

const (
	relayAuthHeader     = "X-Talk-Google-Relay-Auth"
	relayAuthHeaderLong = "X-Google-Relay-Auth"
	maxRelaySessionBody = 16 << 10
)

// PeerNet is ICE in the peer-network vocabulary: per-candidate credentials,
// named components, float preferences and no port-mapped candidates.
type PeerNet struct {
	s *iceSession

	mu    sync.Mutex
	local []domain.Content
}

// NewPeerNet builds the variant. info may be nil; when set, server STUN hints
// and the relay session are added to the harvest.
func NewPeerNet(sid string, initiator bool, opts Options, info core.InfoProvider, client *http.Client) *PeerNet {
	s := newICESession(sid, initiator, opts, "negotiate.peernet")
	if info != nil {
		if client == nil {
			client = http.DefaultClient
		}
		s.extra = append(s.extra, &RelaySession{Info: info, Client: client})
	}
	s.shape = firstSTUNOnly
	return &PeerNet{s: s}
}

// firstSTUNOnly keeps the first STUN server and every TURN server.
func firstSTUNOnly(c *harvest.Contribution) {
	seen := false
	c.URLs = slices.DeleteFunc(c.URLs, func(u *stun.URI) bool {
		if u.Scheme != stun.SchemeTypeSTUN {
			return false
		}
		if seen {
			return true
		}
		seen = true
		return false
	})
}

func (n *PeerNet) Kind() domain.TransportKind { return domain.TransportP2P }

func (n *PeerNet) BeginHarvest(_ context.Context, remote, local []domain.Content) error {
	n.mu.Lock()
	n.local = domain.CloneContents(local)
	n.mu.Unlock()
	if remote != nil {
		n.s.feed(parseP2P(remote))
	}
	return n.s.begin(contentNames(local))
}

func (n *PeerNet) WrapupHarvest(ctx context.Context) ([]domain.Content, error) {
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

func (n *PeerNet) fill(c *domain.Content) {
	ufrag, pwd, cands, ok := n.s.localCandidates(c.Name)
	if !ok {
		return
	}
	c.Transport = domain.Transport{
		Kind:       domain.TransportP2P,
		Candidates: presentP2P(c.Name, ufrag, pwd, cands, n.s.mappedIPs()),
	}
}

// presentP2P rewrites local candidates into the peer-network vocabulary and
// drops candidates that only exist because of a gateway port mapping.
func presentP2P(content, ufrag, pwd string, cands []domain.Candidate, mapped []string) []domain.Candidate {
	out := make([]domain.Candidate, 0, len(cands))
	for _, c := range cands {
		if c.Type == domain.CandidateServerReflexive && slices.Contains(mapped, c.Address) {
			continue
		}
		c.Name = componentName(content, c.Component)
		c.Username = componentUfrag(ufrag, c.Component)
		c.Password = pwd
		c.Preference = typePreference(c.Type)
		out = append(out, c)
	}
	return out
}

func componentName(content string, comp domain.Component) string {
	prefix := ""
	if content == "video" {
		prefix = "video_"
	}
	if comp == domain.ComponentRTCP {
		return prefix + "rtcp"
	}
	return prefix + "rtp"
}

func typePreference(t domain.CandidateType) float64 {
	switch t {
	case domain.CandidateHost:
		return 1
	case domain.CandidateServerReflexive, domain.CandidatePeerReflexive:
		return 0.9
	default:
		return 0.5
	}
}

// parseP2P maps peer-network descriptors onto components and credentials.
func parseP2P(remote []domain.Content) (map[string][]domain.Candidate, map[string]map[domain.Component]creds) {
	cands := make(map[string][]domain.Candidate, len(remote))
	rc := make(map[string]map[domain.Component]creds, len(remote))
	for _, content := range remote {
		if k := content.Transport.Kind; k != "" && k != domain.TransportP2P {
			continue
		}
		byComp := make(map[domain.Component]creds)
		for _, c := range content.Transport.Candidates {
			if strings.HasSuffix(c.Name, "rtcp") {
				c.Component = domain.ComponentRTCP
			} else if strings.HasSuffix(c.Name, "rtp") {
				c.Component = domain.ComponentRTP
			}
			if c.Protocol == "ssltcp" {
				c.Protocol = "tcp"
			}
			if c.Priority == 0 && c.Preference > 0 {
				c.Priority = uint32(c.Preference * 1000)
			}
			if _, ok := byComp[c.Component]; !ok && c.Username != "" {
				byComp[c.Component] = creds{c.Username, c.Password}
			}
			cands[content.Name] = append(cands[content.Name], c)
		}
		if len(byComp) > 0 {
			rc[content.Name] = byComp
		}
	}
	return cands, rc
}

// StartConnectivityEstablishment reports true only on the call that starts
// checks. Later calls merge candidates into the running agents.
func (n *PeerNet) StartConnectivityEstablishment(remote []domain.Content) bool {
	_, started := n.s.feed(parseP2P(remote))
	return started
}

func (n *PeerNet) WrapupConnectivityEstablishment(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, n.s.opts.checkTimeout()+n.s.opts.RelayAcceptDelay)
	defer cancel()
	return n.s.waitConnected(ctx)
}

func (n *PeerNet) AddContent(ctx context.Context, local domain.Content, remote *domain.Content) error {
	if remote != nil {
		n.s.feed(parseP2P([]domain.Content{*remote}))
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

func (n *PeerNet) Local(name string) (domain.Content, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return domain.FindContent(n.local, name)
}

func (n *PeerNet) RemoveContent(name string) {
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

func (n *PeerNet) Streams() []core.MediaStream { return n.s.mediaStreams() }

func (n *PeerNet) OnLocalCandidate(fn func(content string, c domain.Candidate)) {
	n.s.mu.Lock()
	defer n.s.mu.Unlock()
	if fn == nil {
		n.s.trickle = nil
		return
	}
	n.s.trickle = func(content string, c domain.Candidate) {
		mapped := n.s.mappedIPs()
		ufrag, pwd := n.s.credentials(content)
		for _, pc := range presentP2P(content, ufrag, pwd, []domain.Candidate{c}, mapped) {
			fn(content, pc)
		}
	}
}

func (n *PeerNet) Close() error { return n.s.close() }

// RelaySession contributes server STUN hints and, when the server hands out a
// relay token, a relay session fetched over HTTP.
type RelaySession struct {
	Info   core.InfoProvider
	Client *http.Client
}

func (r *RelaySession) Name() string { return "relaysession" }

func (r *RelaySession) Harvest(ctx context.Context, _ []string) (*harvest.Contribution, error) {
	info, err := r.Info.JingleInfo(ctx)
	if err != nil {
		return nil, err
	}
	c := &harvest.Contribution{Source: r.Name()}
	for _, s := range info.STUN {
		u, err := stun.ParseURI("stun:" + net.JoinHostPort(s.Host, strconv.Itoa(s.Port)))
		if err == nil {
			c.URLs = append(c.URLs, u)
		}
	}
	if info.RelayToken == "" || len(info.RelayHosts) == 0 {
		return c, nil
	}
	var lastErr error
	for _, host := range info.RelayHosts {
		u, err := r.createSession(ctx, host, info.RelayToken)
		if err != nil {
			lastErr = err
			continue
		}
		c.URLs = append(c.URLs, u)
		return c, nil
	}
	return c, lastErr
}

// RelayGrant is the parsed answer of a relay create_session request.
type RelayGrant struct {
	IP         string
	UDPPort    int
	TCPPort    int
	SSLTCPPort int
	Username   string
	Password   string
}

func (r *RelaySession) createSession(ctx context.Context, host, token string) (*stun.URI, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+host+"/create_session", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(relayAuthHeader, token)
	req.Header.Set(relayAuthHeaderLong, token)
	resp, err := r.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("create_session on %s: %s", host, resp.Status)
	}
	grant, err := ParseRelayGrant(io.LimitReader(resp.Body, maxRelaySessionBody))
	if err != nil {
		return nil, err
	}
	return grant.URI()
}

// ParseRelayGrant reads key=value lines.
func ParseRelayGrant(r io.Reader) (*RelayGrant, error) {
	g := &RelayGrant{}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		k, v, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok {
			continue
		}
		switch k {
		case "relay.ip":
			g.IP = v
		case "relay.udp_port":
			g.UDPPort, _ = strconv.Atoi(v)
		case "relay.tcp_port":
			g.TCPPort, _ = strconv.Atoi(v)
		case "relay.ssltcp_port":
			g.SSLTCPPort, _ = strconv.Atoi(v)
		case "username":
			g.Username = v
		case "password":
			g.Password = v
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if g.IP == "" || g.UDPPort == 0 {
		return nil, fmt.Errorf("relay grant without address")
	}
	return g, nil
}

// URI is the UDP TURN endpoint of the grant.
func (g *RelayGrant) URI() (*stun.URI, error) {
	u, err := stun.ParseURI("turn:" + net.JoinHostPort(g.IP, strconv.Itoa(g.UDPPort)) + "?transport=udp")
	if err != nil {
		return nil, err
	}
	u.Username = g.Username
	u.Password = g.Password
	return u, nil
}

var (
	_ core.TransportNegotiator = (*PeerNet)(nil)
	_ core.Trickler            = (*PeerNet)(nil)
)
