package relay

import (
	"net"
	"sync/atomic"

	"github.com/dkeye/Jingle/internal/domain"
)

type LegState int32

const (
	LegWaiting LegState = iota
	LegActive
	LegClosed
)

// Leg is one side of a channel: an RTP and an RTCP socket. The peer address
// of each component is learned from the first packet received on it.
type Leg struct {
	conns [2]*net.UDPConn
	peers [2]atomic.Pointer[net.UDPAddr]
	state atomic.Int32 // Zero by default (LegWaiting)

	packets atomic.Uint64
}

func NewLeg(rtp, rtcp *net.UDPConn) *Leg {
	return &Leg{conns: [2]*net.UDPConn{rtp, rtcp}}
}

func idx(c domain.Component) int {
	if c == domain.ComponentRTCP {
		return 1
	}
	return 0
}

func (l *Leg) Conn(c domain.Component) *net.UDPConn { return l.conns[idx(c)] }

// Port is the RTP port the leg listens on.
func (l *Leg) Port() int { return l.conns[0].LocalAddr().(*net.UDPAddr).Port }

func (l *Leg) GetState() LegState {
	return LegState(l.state.Load())
}

// latch records src as the peer of c once. It reports the address in use.
func (l *Leg) latch(c domain.Component, src *net.UDPAddr) *net.UDPAddr {
	if l.peers[idx(c)].CompareAndSwap(nil, src) {
		l.state.CompareAndSwap(int32(LegWaiting), int32(LegActive))
		return src
	}
	return l.peers[idx(c)].Load()
}

func (l *Leg) Peer(c domain.Component) *net.UDPAddr {
	return l.peers[idx(c)].Load()
}

func (l *Leg) MarkClosed() {
	l.state.Store(int32(LegClosed))
}

func (l *Leg) close() {
	l.MarkClosed()
	for _, c := range l.conns {
		if c != nil {
			_ = c.Close()
		}
	}
}
