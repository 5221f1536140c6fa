package harvest

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/dkeye/Jingle/internal/core"
	"github.com/dkeye/Jingle/internal/domain"
	"github.com/dkeye/Jingle/internal/relaynode"
	"github.com/rs/zerolog/log"
)

// relayPreference keeps relay channel candidates behind everything else.
const relayPreference = 0

// NodeSource yields the current relay search result.
type NodeSource interface {
	ServiceNode(ctx context.Context) (*relaynode.ServiceNode, error)
}

// RelayNode allocates one relay channel per content line and derives both
// component candidates from it.
type RelayNode struct {
	Source    NodeSource
	Requester core.ChannelRequester
	Host      *Host
	Protocol  string
	Timeout   time.Duration
	IDs       *domain.IDGenerator
}

func (r *RelayNode) Name() string { return "relaynode" }

func (r *RelayNode) Harvest(ctx context.Context, streams []string) (*Contribution, error) {
	node, err := r.Source.ServiceNode(ctx)
	if err != nil {
		return nil, err
	}
	entry, ok := node.PreferredRelay()
	if !ok {
		return nil, relaynode.ErrNoRelay
	}

	ips, err := r.Host.Addresses()
	if err != nil {
		return nil, err
	}

	c := &Contribution{Source: r.Name(), Relayed: make(map[string]*RelayedStream, len(streams))}
	for _, name := range streams {
		rs, err := r.stream(ctx, entry.JID, ips[0], name)
		if err != nil {
			c.Close()
			return nil, err
		}
		for _, s := range rs.Sockets {
			c.addCloser(s)
		}
		c.Relayed[name] = rs
	}
	log.Info().
		Str("module", "harvest.relaynode").
		Str("relay", string(entry.JID)).
		Int("streams", len(streams)).
		Msg("relay channels allocated")
	return c, nil
}

func (r *RelayNode) stream(ctx context.Context, relay domain.JID, ip net.IP, name string) (*RelayedStream, error) {
	alloc, err := relaynode.Allocate(ctx, r.Requester, relay, r.Protocol, r.Timeout)
	if err != nil {
		return nil, err
	}
	rs := &RelayedStream{
		Allocation: alloc,
		Sockets:    make(map[domain.Component]*relaynode.RelaySocket, len(domain.Components)),
	}
	for _, comp := range domain.Components {
		target, err := alloc.Target(comp)
		if err != nil {
			closeSockets(rs.Sockets)
			return nil, err
		}
		public, err := alloc.Public(comp)
		if err != nil {
			closeSockets(rs.Sockets)
			return nil, err
		}
		conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: ip})
		if err != nil {
			closeSockets(rs.Sockets)
			return nil, fmt.Errorf("relay socket for %s/%s: %w", name, comp, err)
		}
		rs.Sockets[comp] = relaynode.NewRelaySocket(conn, target, public, comp)
		rs.Candidates = append(rs.Candidates, domain.Candidate{
			Component: comp,
			ID:        r.IDs.Next(),
			Protocol:  "udp",
			Type:      domain.CandidateRelayed,
			Address:   public.IP.String(),
			Port:      public.Port,
			Priority:  relayPreference,
			RelAddr:   target.IP.String(),
			RelPort:   target.Port,
		})
	}
	return rs, nil
}

func closeSockets(m map[domain.Component]*relaynode.RelaySocket) {
	for _, s := range m {
		s.Close()
	}
}
