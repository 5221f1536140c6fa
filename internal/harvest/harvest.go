// Package harvest gathers the inputs a transport negotiator seeds its agents
// with: local interfaces, reflexive and relay servers, port mappings and
// third-party relay channels.
package harvest

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/dkeye/Jingle/internal/domain"
	"github.com/dkeye/Jingle/internal/relaynode"
	"github.com/pion/ice/v4"
	"github.com/pion/stun/v3"
)

var (
	ErrNoAddress = errors.New("no usable local address")
	ErrNoGateway = errors.New("no internet gateway found")
)

// Harvester contributes to one negotiation. Harvest may be slow; callers run
// it off the signaling path and treat a failure as "nothing contributed".
type Harvester interface {
	Name() string
	Harvest(ctx context.Context, streams []string) (*Contribution, error)
}

// Contribution is what one harvester adds to a negotiation.
type Contribution struct {
	Source string

	// URLs are STUN and TURN servers handed to the agents.
	URLs []*stun.URI
	// IPs restricts host gathering to these addresses when non-empty.
	IPs []net.IP

	// NAT1To1IPs and UDPMux carry a port mapping made on the gateway.
	NAT1To1IPs []string
	UDPMux     ice.UDPMux
	MappedPort int

	// Relayed holds relay channel candidates keyed by content name.
	Relayed map[string]*RelayedStream

	closers []io.Closer
}

// RelayedStream is one relay channel serving both components of a content.
type RelayedStream struct {
	Allocation *relaynode.Allocation
	Candidates []domain.Candidate
	Sockets    map[domain.Component]*relaynode.RelaySocket
}

func (c *Contribution) addCloser(cl io.Closer) {
	c.closers = append(c.closers, cl)
}

// Close releases whatever the harvester allocated.
func (c *Contribution) Close() error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

// Merge folds contributions into one, skipping nils.
func Merge(parts ...*Contribution) *Contribution {
	out := &Contribution{Source: "merged", Relayed: make(map[string]*RelayedStream)}
	for _, p := range parts {
		if p == nil {
			continue
		}
		out.URLs = append(out.URLs, p.URLs...)
		out.IPs = append(out.IPs, p.IPs...)
		out.NAT1To1IPs = append(out.NAT1To1IPs, p.NAT1To1IPs...)
		if p.UDPMux != nil && out.UDPMux == nil {
			out.UDPMux = p.UDPMux
			out.MappedPort = p.MappedPort
		}
		for name, rs := range p.Relayed {
			out.Relayed[name] = rs
		}
		out.closers = append(out.closers, p.closers...)
	}
	return out
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
