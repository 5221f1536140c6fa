package relaynode

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/Jingle/internal/core"
	"github.com/dkeye/Jingle/internal/domain"
	"github.com/dkeye/Jingle/internal/jingle"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// sweepScale bounds a whole sweep as a multiple of the per-query reply timeout.
const sweepScale = 3

type DiscoveryConfig struct {
	// Self is our own full JID; it is never queried.
	Self   domain.JID
	Server domain.JID

	Trackers      []TrackerEntry
	Prefixes      []string
	StopOnFirst   bool
	AutoDiscover  bool
	SearchBuddies bool

	MaxDepth       int
	MaxEntries     int
	MaxSearchNodes int
	Protocol       string
	Timeout        time.Duration
}

// LANBrowser finds relays on the local link.
type LANBrowser interface {
	Browse(ctx context.Context) ([]TrackerEntry, error)
}

// Discovery runs the bounded relay search for one account.
// Concurrent callers share a single in-flight sweep.
type Discovery struct {
	cfg    DiscoveryConfig
	dir    core.ServiceDirectory
	roster core.Roster
	lan    LANBrowser

	flight singleflight.Group

	mu     sync.Mutex
	node   *ServiceNode
	closed bool

	log zerolog.Logger
}

func NewDiscovery(cfg DiscoveryConfig, dir core.ServiceDirectory, roster core.Roster, lan LANBrowser) *Discovery {
	if cfg.Protocol == "" {
		cfg.Protocol = "udp"
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 3
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 6
	}
	if cfg.MaxSearchNodes <= 0 {
		cfg.MaxSearchNodes = 20
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Discovery{
		cfg:    cfg,
		dir:    dir,
		roster: roster,
		lan:    lan,
		log:    log.With().Str("module", "relaynode.discovery").Str("account", string(cfg.Self)).Logger(),
	}
}

// Start kicks off a background sweep.
func (d *Discovery) Start(ctx context.Context) {
	go func() {
		if _, err := d.Sweep(ctx); err != nil {
			d.log.Warn().Err(err).Msg("relay discovery failed")
		}
	}()
}

// Sweep runs a search, or joins the one already running.
func (d *Discovery) Sweep(ctx context.Context) (*ServiceNode, error) {
	ch := d.flight.DoChan("sweep", func() (any, error) {
		sweepCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sweepScale*d.cfg.Timeout)
		defer cancel()
		node := d.search(sweepCtx)

		d.mu.Lock()
		defer d.mu.Unlock()
		if d.closed {
			return nil, ErrDiscoveryClosed
		}
		d.node = node
		return node, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*ServiceNode), nil
	}
}

// ServiceNode returns the last sweep result, waiting for the first one if needed.
func (d *Discovery) ServiceNode(ctx context.Context) (*ServiceNode, error) {
	d.mu.Lock()
	node, closed := d.node, d.closed
	d.mu.Unlock()
	if closed {
		return nil, ErrDiscoveryClosed
	}
	if node != nil {
		return node, nil
	}
	return d.Sweep(ctx)
}

func (d *Discovery) Close() {
	d.mu.Lock()
	d.closed = true
	d.node = nil
	d.mu.Unlock()
}

// search walks configured trackers, then the server, then online contacts.
func (d *Discovery) search(ctx context.Context) *ServiceNode {
	s := &search{
		cfg:     d.cfg,
		dir:     d.dir,
		node:    NewServiceNode(),
		visited: make(map[domain.JID]struct{}),
		log:     d.log,
	}
	ctx, s.stop = context.WithCancel(ctx)
	defer s.stop()

	for _, t := range d.cfg.Trackers {
		if t.Kind == jingle.ServiceRelay && t.Protocol == d.cfg.Protocol {
			s.node.Add(t)
		}
	}
	s.fanOut(ctx, entryJIDs(d.cfg.Trackers), d.cfg.MaxDepth-1)

	if d.lan != nil && ctx.Err() == nil {
		lanCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
		entries, err := d.lan.Browse(lanCtx)
		cancel()
		if err != nil {
			d.log.Debug().Err(err).Msg("lan browse failed")
		}
		for _, e := range entries {
			e.Priority++
			s.node.Add(e)
		}
	}

	if d.cfg.AutoDiscover && d.cfg.Server != "" && ctx.Err() == nil {
		if !s.searchServer(ctx, d.cfg.Server, d.cfg.MaxDepth-1) {
			d.log.Debug().Int("relays", s.node.RelayCount()).Msg("prefix match, stopping search")
		} else if d.cfg.SearchBuddies && d.roster != nil && ctx.Err() == nil {
			s.fanOut(ctx, d.roster.OnlineContacts(), d.cfg.MaxDepth-1)
		}
	}

	d.log.Info().
		Int("relays", s.node.RelayCount()).
		Int("queried", int(s.queried.Load())).
		Msg("relay discovery finished")
	return s.node
}

type search struct {
	cfg  DiscoveryConfig
	dir  core.ServiceDirectory
	node *ServiceNode
	stop context.CancelFunc

	mu      sync.Mutex
	visited map[domain.JID]struct{}
	queried atomic.Int32

	log zerolog.Logger
}

func (s *search) matchesPrefix(j domain.JID) bool {
	name := string(j.Bare())
	for _, p := range s.cfg.Prefixes {
		if p != "" && strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// searchServer looks at the server's own service items, querying prefix
// matches first. It reports whether the search should continue.
func (s *search) searchServer(ctx context.Context, server domain.JID, depth int) bool {
	items, ok := s.query(ctx, server)
	if !ok {
		return true
	}
	var first, rest []domain.JID
	for _, it := range items {
		if it.JID == s.cfg.Self {
			continue
		}
		if s.matchesPrefix(it.JID) {
			first = append(first, it.JID)
		} else {
			rest = append(rest, it.JID)
		}
		if it.Kind == jingle.ServiceRelay && it.Protocol == s.cfg.Protocol {
			prio := s.cfg.MaxDepth - depth
			if s.matchesPrefix(it.JID) {
				prio--
			}
			s.node.Add(TrackerEntry{JID: it.JID, Kind: it.Kind, Policy: it.Policy, Protocol: it.Protocol, Priority: prio})
		}
	}
	for _, j := range first {
		before := s.node.RelayCount()
		s.deepSearch(ctx, j, depth)
		if s.cfg.StopOnFirst && s.node.RelayCount() > before {
			return false
		}
	}
	if s.cfg.StopOnFirst && len(first) > 0 && s.node.RelayCount() > 0 {
		return false
	}
	s.fanOut(ctx, rest, depth)
	return true
}

// deepSearch queries one node and follows its trackers.
func (s *search) deepSearch(ctx context.Context, start domain.JID, depth int) {
	if depth < 0 || ctx.Err() != nil {
		return
	}
	if s.node.RelayCount() > s.cfg.MaxEntries {
		return
	}
	items, ok := s.query(ctx, start)
	if !ok {
		return
	}
	var next []domain.JID
	for _, it := range items {
		if it.Protocol != "" && it.Protocol != s.cfg.Protocol {
			continue
		}
		e := TrackerEntry{
			JID:      it.JID,
			Kind:     it.Kind,
			Policy:   it.Policy,
			Protocol: it.Protocol,
			Priority: s.cfg.MaxDepth - depth,
		}
		if s.matchesPrefix(it.JID) {
			e.Priority--
		}
		if s.node.Add(e) && it.Kind == jingle.ServiceTracker {
			next = append(next, it.JID)
		}
	}
	if depth > 0 {
		s.fanOut(ctx, next, depth-1)
	}
}

// fanOut searches siblings concurrently, at most MaxEntries at a time.
func (s *search) fanOut(ctx context.Context, nodes []domain.JID, depth int) {
	if len(nodes) == 0 || depth < 0 {
		return
	}
	if len(nodes) > s.cfg.MaxEntries {
		nodes = nodes[:s.cfg.MaxEntries]
	}
	var g errgroup.Group
	g.SetLimit(s.cfg.MaxEntries)
	for _, n := range nodes {
		g.Go(func() error {
			s.deepSearch(ctx, n, depth)
			return nil
		})
	}
	_ = g.Wait()
}

// query marks start visited and asks it for services. ok is false when start
// was skipped or did not answer.
func (s *search) query(ctx context.Context, start domain.JID) ([]jingle.ServiceItem, bool) {
	if start == "" || start == s.cfg.Self {
		return nil, false
	}
	s.mu.Lock()
	if _, seen := s.visited[start]; seen {
		s.mu.Unlock()
		return nil, false
	}
	s.visited[start] = struct{}{}
	s.mu.Unlock()

	if int(s.queried.Add(1)) > s.cfg.MaxSearchNodes {
		return nil, false
	}

	qctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	items, err := s.dir.Services(qctx, start)
	if err != nil {
		s.log.Debug().Err(err).Str("node", string(start)).Msg("service query failed")
		return nil, false
	}
	return items, true
}

func entryJIDs(entries []TrackerEntry) []domain.JID {
	out := make([]domain.JID, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.JID)
	}
	return out
}
