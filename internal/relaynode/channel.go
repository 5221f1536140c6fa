package relaynode

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/dkeye/Jingle/internal/core"
	"github.com/dkeye/Jingle/internal/domain"
)

// allocScale scales the reply timeout for channel requests.
const allocScale = 2

// Allocation is one relay channel. Each side owns a port pair: RTP on the
// even port, RTCP on the next one.
type Allocation struct {
	Relay      domain.JID
	Host       string
	LocalPort  int
	RemotePort int
	ID         string
}

// Allocate issues exactly one channel request to relay.
func Allocate(ctx context.Context, req core.ChannelRequester, relay domain.JID, protocol string, timeout time.Duration) (*Allocation, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, allocScale*timeout)
		defer cancel()
	}
	ch, err := req.RequestChannel(ctx, relay, protocol)
	if err != nil {
		return nil, fmt.Errorf("relay channel from %s: %w", relay, err)
	}
	if ch == nil || ch.Host == "" || ch.LocalPort <= 0 || ch.RemotePort <= 0 {
		return nil, ErrBadAllocation
	}
	return &Allocation{
		Relay:      relay,
		Host:       ch.Host,
		LocalPort:  ch.LocalPort,
		RemotePort: ch.RemotePort,
		ID:         ch.ID,
	}, nil
}

// componentOffset maps RTCP onto the second port of each pair.
func componentOffset(c domain.Component) int {
	if c == domain.ComponentRTCP {
		return 1
	}
	return 0
}

// Target is where our side sends for component c.
func (a *Allocation) Target(c domain.Component) (*net.UDPAddr, error) {
	return resolve(a.Host, a.LocalPort+componentOffset(c))
}

// Public is the relayed address the remote side sends to for component c.
func (a *Allocation) Public(c domain.Component) (*net.UDPAddr, error) {
	return resolve(a.Host, a.RemotePort+componentOffset(c))
}

func resolve(host string, port int) (*net.UDPAddr, error) {
	return net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(port)))
}
