package negotiate

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/dkeye/Jingle/internal/core"
	"github.com/dkeye/Jingle/internal/domain"
	"github.com/dkeye/Jingle/internal/harvest"
	"github.com/pion/ice/v4"
	"github.com/pion/transport/v3/stdnet"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
)

// creds are the ICE credentials of one component agent.
type creds struct {
	ufrag string
	pwd   string
}

// iceAgent drives one component of a content line.
type iceAgent struct {
	comp  domain.Component
	local creds
	agent *ice.Agent

	mu           sync.Mutex
	gathered     chan struct{}
	gatherDone   bool
	candidates   []domain.Candidate
	remote       []domain.Candidate
	trickle      bool
	onTrickle    func(domain.Candidate)
	generation   int
	ids          *domain.IDGenerator
	conn         net.Conn
	pair         domain.CandidatePair
	closeHandles []func() error
}

// iceStream is one content line: one agent per component plus an optional
// relay channel used when checks fail.
type iceStream struct {
	name    string
	ufrag   string
	pwd     string
	agents  map[domain.Component]*iceAgent
	relay   *harvest.RelayedStream
	started bool

	// mu guards the fields a restart replaces.
	mu   sync.Mutex
	done chan struct{}
	err  error

	log zerolog.Logger
}

type streamConfig struct {
	opts       Options
	contrib    *harvest.Contribution
	ids        *domain.IDGenerator
	generation int
	onTrickle  func(content string, c domain.Candidate)
	log        zerolog.Logger
}

func newICEStream(name string, sc streamConfig) (*iceStream, error) {
	ufrag, pwd := newCredentials()
	s := &iceStream{
		name:   name,
		ufrag:  ufrag,
		pwd:    pwd,
		agents: make(map[domain.Component]*iceAgent, len(domain.Components)),
		done:   make(chan struct{}),
		log:    sc.log.With().Str("content", name).Logger(),
	}
	if sc.contrib != nil {
		s.relay = sc.contrib.Relayed[name]
	}
	for _, comp := range domain.Components {
		a, err := newICEAgent(comp, creds{componentUfrag(ufrag, comp), pwd}, sc)
		if err != nil {
			s.close()
			return nil, fmt.Errorf("%w: agent %s/%s: %v", ErrSocketAllocation, name, comp, err)
		}
		if sc.onTrickle != nil {
			a.onTrickle = func(c domain.Candidate) { sc.onTrickle(name, c) }
		}
		s.agents[comp] = a
	}
	return s, nil
}

func agentConfig(local creds, sc streamConfig) (*ice.AgentConfig, error) {
	nw, err := stdnet.NewNet()
	if err != nil {
		return nil, err
	}
	cfg := &ice.AgentConfig{
		LocalUfrag:       local.ufrag,
		LocalPwd:         local.pwd,
		NetworkTypes:     []ice.NetworkType{ice.NetworkTypeUDP4},
		PortMin:          sc.opts.PortMin,
		PortMax:          sc.opts.PortMax,
		MulticastDNSMode: ice.MulticastDNSModeDisabled,
		IncludeLoopback:  sc.opts.IncludeLoopback,
		LoggerFactory:    sc.opts.LoggerFactory,
		Net:              nw,
	}
	failed := sc.opts.checkTimeout()
	cfg.FailedTimeout = &failed

	var relayWait time.Duration
	if sc.opts.Nomination != NominationFirstValid {
		relayWait = sc.opts.RelayAcceptDelay
		if relayWait <= 0 {
			relayWait = 2 * time.Second
		}
	}
	cfg.RelayAcceptanceMinWait = &relayWait

	if c := sc.contrib; c != nil {
		cfg.Urls = c.URLs
		if len(c.IPs) > 0 {
			allowed := c.IPs
			cfg.IPFilter = func(ip net.IP) bool {
				for _, a := range allowed {
					if a.Equal(ip) {
						return true
					}
				}
				return false
			}
		}
		if c.UDPMux != nil {
			cfg.UDPMux = c.UDPMux
			cfg.NAT1To1IPs = c.NAT1To1IPs
			cfg.NAT1To1IPCandidateType = ice.CandidateTypeServerReflexive
		}
	}
	cfg.CandidateTypes = []ice.CandidateType{ice.CandidateTypeHost, ice.CandidateTypeServerReflexive}
	if len(cfg.Urls) > 0 {
		cfg.CandidateTypes = append(cfg.CandidateTypes, ice.CandidateTypeRelay)
	}
	return cfg, nil
}

func newICEAgent(comp domain.Component, local creds, sc streamConfig) (*iceAgent, error) {
	cfg, err := agentConfig(local, sc)
	if err != nil {
		return nil, err
	}
	agent, err := ice.NewAgent(cfg)
	if err != nil {
		return nil, err
	}
	a := &iceAgent{
		comp:       comp,
		local:      local,
		agent:      agent,
		gathered:   make(chan struct{}),
		generation: sc.generation,
		ids:        sc.ids,
	}
	if err := agent.OnCandidate(a.onCandidate); err != nil {
		agent.Close()
		return nil, err
	}
	return a, nil
}

func (a *iceAgent) onCandidate(c ice.Candidate) {
	a.mu.Lock()
	if c == nil {
		if !a.gatherDone {
			a.gatherDone = true
			close(a.gathered)
		}
		a.mu.Unlock()
		return
	}
	dc := fromICE(c, a.comp, a.generation, a.ids.Next())
	a.candidates = append(a.candidates, dc)
	fn := a.onTrickle
	trickle := a.trickle
	a.mu.Unlock()
	if trickle && fn != nil {
		fn(dc)
	}
}

// gather starts gathering on every agent and waits until all finish or ctx ends.
// Candidates found afterwards are trickled.
func (s *iceStream) gather(ctx context.Context) error {
	for _, a := range s.agents {
		if err := a.agent.GatherCandidates(); err != nil {
			return fmt.Errorf("%w: gather %s/%s: %v", ErrSocketAllocation, s.name, a.comp, err)
		}
	}
	for _, a := range s.agents {
		a.mu.Lock()
		gathered := a.gathered
		a.mu.Unlock()
		select {
		case <-gathered:
		case <-ctx.Done():
			s.log.Debug().Str("component", a.comp.String()).Msg("gathering still running, trickling the rest")
		}
	}
	for _, comp := range domain.Components {
		a := s.agents[comp]
		a.mu.Lock()
		a.trickle = true
		bound := a.hasHost()
		a.mu.Unlock()
		if !bound {
			return fmt.Errorf("%w: %s/%s: no local port could be bound", ErrSocketAllocation, s.name, comp)
		}
	}
	return nil
}

// hasHost reports whether a host candidate was gathered. a.mu must be held.
func (a *iceAgent) hasHost() bool {
	for _, c := range a.candidates {
		if c.Type == domain.CandidateHost {
			return true
		}
	}
	return false
}

// localCandidates returns gathered and relay channel candidates.
func (s *iceStream) localCandidates() []domain.Candidate {
	var out []domain.Candidate
	for _, comp := range domain.Components {
		a := s.agents[comp]
		a.mu.Lock()
		out = append(out, a.candidates...)
		a.mu.Unlock()
	}
	if s.relay != nil {
		out = append(out, s.relay.Candidates...)
	}
	sortCandidates(out)
	return out
}

// addRemote hands new remote candidates to the matching agents.
func (s *iceStream) addRemote(cands []domain.Candidate) int {
	added := 0
	for _, c := range cands {
		a, ok := s.agents[c.Component]
		if !ok {
			continue
		}
		a.mu.Lock()
		fresh := mergeCandidates(&a.remote, []domain.Candidate{c})
		a.mu.Unlock()
		if len(fresh) == 0 {
			continue
		}
		ic, err := toICE(c)
		if err != nil {
			s.log.Debug().Err(err).Str("candidate", c.String()).Msg("remote candidate skipped")
			continue
		}
		if err := a.agent.AddRemoteCandidate(ic); err != nil {
			s.log.Debug().Err(err).Str("candidate", c.String()).Msg("remote candidate rejected")
			continue
		}
		added++
	}
	return added
}

// connect runs checks on every component and falls back to the relay channel
// for components whose checks fail.
func (s *iceStream) connect(ctx context.Context, controlling bool, remote map[domain.Component]creds) {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	defer close(done)

	var wg conc.WaitGroup
	errs := make([]error, len(domain.Components))
	for i, comp := range domain.Components {
		a := s.agents[comp]
		rc := remote[comp]
		wg.Go(func() {
			errs[i] = s.connectAgent(ctx, a, controlling, rc)
		})
	}
	wg.Wait()
	err := errors.Join(errs...)
	s.mu.Lock()
	if s.done == done {
		s.err = err
	}
	s.mu.Unlock()
	if err != nil {
		s.log.Warn().Err(err).Msg("connectivity failed")
		return
	}
	s.log.Info().Msg("connectivity established")
}

func (s *iceStream) connectAgent(ctx context.Context, a *iceAgent, controlling bool, rc creds) error {
	var (
		conn *ice.Conn
		err  error
	)
	if controlling {
		conn, err = a.agent.Dial(ctx, rc.ufrag, rc.pwd)
	} else {
		conn, err = a.agent.Accept(ctx, rc.ufrag, rc.pwd)
	}
	if err == nil {
		a.mu.Lock()
		a.conn = conn
		if pair, perr := a.agent.GetSelectedCandidatePair(); perr == nil && pair != nil {
			a.pair = domain.CandidatePair{
				Local:  fromICE(pair.Local, a.comp, a.generation, ""),
				Remote: fromICE(pair.Remote, a.comp, a.generation, ""),
			}
		}
		a.mu.Unlock()
		return nil
	}
	if fb := s.fallback(a); fb {
		s.log.Info().Str("component", a.comp.String()).Err(err).Msg("checks failed, using relay channel")
		return nil
	}
	return fmt.Errorf("%s: %w", a.comp, err)
}

// fallback pins the component to a relay channel: ours if we allocated one,
// otherwise the remote's advertised relay candidate.
func (s *iceStream) fallback(a *iceAgent) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s.relay != nil {
		sock := s.relay.Sockets[a.comp]
		if sock == nil {
			return false
		}
		var local domain.Candidate
		for _, c := range s.relay.Candidates {
			if c.Component == a.comp {
				local = c
			}
		}
		a.conn = newPacketConn(sock, sock.RelayAddr())
		a.pair = domain.CandidatePair{Local: local, Remote: local}
		return true
	}
	for _, rc := range a.remote {
		if rc.Type != domain.CandidateRelayed {
			continue
		}
		target, err := rc.UDPAddr()
		if err != nil {
			continue
		}
		pc, err := net.ListenUDP("udp4", nil)
		if err != nil {
			return false
		}
		a.conn = newPacketConn(pc, target)
		a.closeHandles = append(a.closeHandles, pc.Close)
		a.pair = domain.CandidatePair{Local: domain.Candidate{
			Component: a.comp,
			Type:      domain.CandidateHost,
			Protocol:  "udp",
			Address:   pc.LocalAddr().(*net.UDPAddr).IP.String(),
			Port:      pc.LocalAddr().(*net.UDPAddr).Port,
		}, Remote: rc}
		return true
	}
	return false
}

// renew moves every agent to fresh credentials under a new generation. The
// caller regathers afterwards.
func (s *iceStream) renew(generation int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ufrag, s.pwd = newCredentials()
	for _, comp := range domain.Components {
		a := s.agents[comp]
		a.mu.Lock()
		a.local = creds{componentUfrag(s.ufrag, comp), s.pwd}
		a.generation = generation
		a.candidates = nil
		a.remote = nil
		a.trickle = false
		a.gathered = make(chan struct{})
		a.gatherDone = false
		a.mu.Unlock()
		if err := a.agent.Restart(a.local.ufrag, a.local.pwd); err != nil {
			return err
		}
	}
	s.started = false
	s.done = make(chan struct{})
	s.err = nil
	return nil
}

func (s *iceStream) established() bool {
	done, err := s.result()
	select {
	case <-done:
		return err() == nil
	default:
		return false
	}
}

// result returns the current generation's completion channel and a reader
// for its error.
func (s *iceStream) result() (<-chan struct{}, func() error) {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	return done, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.err
	}
}

func (s *iceStream) credentials() (ufrag, pwd string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ufrag, s.pwd
}

func (s *iceStream) mediaStream() core.MediaStream {
	ms := core.MediaStream{Content: s.name, Conns: make(map[domain.Component]net.Conn)}
	for _, comp := range domain.Components {
		a := s.agents[comp]
		a.mu.Lock()
		if a.conn != nil {
			ms.Conns[comp] = a.conn
			ms.Pairs = append(ms.Pairs, a.pair)
		}
		a.mu.Unlock()
	}
	return ms
}

func (s *iceStream) close() {
	for _, a := range s.agents {
		if err := a.agent.Close(); err != nil {
			s.log.Debug().Err(err).Str("component", a.comp.String()).Msg("agent close")
		}
		for _, h := range a.closeHandles {
			_ = h()
		}
	}
}

func toICE(c domain.Candidate) (ice.Candidate, error) {
	if c.Protocol != "" && c.Protocol != "udp" {
		return nil, fmt.Errorf("unsupported protocol %q", c.Protocol)
	}
	switch c.Type {
	case domain.CandidateHost, "":
		return ice.NewCandidateHost(&ice.CandidateHostConfig{
			Network:    "udp",
			Address:    c.Address,
			Port:       c.Port,
			Component:  ice.ComponentRTP,
			Priority:   c.Priority,
			Foundation: c.Foundation,
		})
	case domain.CandidateServerReflexive:
		return ice.NewCandidateServerReflexive(&ice.CandidateServerReflexiveConfig{
			Network:    "udp",
			Address:    c.Address,
			Port:       c.Port,
			Component:  ice.ComponentRTP,
			Priority:   c.Priority,
			Foundation: c.Foundation,
			RelAddr:    c.RelAddr,
			RelPort:    c.RelPort,
		})
	case domain.CandidatePeerReflexive:
		return ice.NewCandidatePeerReflexive(&ice.CandidatePeerReflexiveConfig{
			Network:    "udp",
			Address:    c.Address,
			Port:       c.Port,
			Component:  ice.ComponentRTP,
			Priority:   c.Priority,
			Foundation: c.Foundation,
			RelAddr:    c.RelAddr,
			RelPort:    c.RelPort,
		})
	case domain.CandidateRelayed:
		return ice.NewCandidateRelay(&ice.CandidateRelayConfig{
			Network:    "udp",
			Address:    c.Address,
			Port:       c.Port,
			Component:  ice.ComponentRTP,
			Priority:   c.Priority,
			Foundation: c.Foundation,
			RelAddr:    c.RelAddr,
			RelPort:    c.RelPort,
		})
	}
	return nil, fmt.Errorf("unknown candidate type %q", c.Type)
}

func fromICE(c ice.Candidate, comp domain.Component, generation int, id string) domain.Candidate {
	dc := domain.Candidate{
		Component:  comp,
		Generation: generation,
		ID:         id,
		Foundation: c.Foundation(),
		Protocol:   "udp",
		Address:    c.Address(),
		Port:       c.Port(),
		Priority:   c.Priority(),
	}
	switch c.Type() {
	case ice.CandidateTypeServerReflexive:
		dc.Type = domain.CandidateServerReflexive
	case ice.CandidateTypePeerReflexive:
		dc.Type = domain.CandidatePeerReflexive
	case ice.CandidateTypeRelay:
		dc.Type = domain.CandidateRelayed
	default:
		dc.Type = domain.CandidateHost
	}
	if ra := c.RelatedAddress(); ra != nil {
		dc.RelAddr = ra.Address
		dc.RelPort = ra.Port
	}
	return dc
}
