package relaynode

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/Jingle/internal/domain"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultLossLogInterval rate-limits loss reports per socket.
const DefaultLossLogInterval = 5 * time.Second

// maxSeqJump treats larger sequence jumps as a stream reset, not loss.
const maxSeqJump = 1000

// RelaySocket is a candidate socket backed by a relay channel. Every write goes
// to the relay regardless of its destination argument, and LocalAddr reports
// the relayed address.
type RelaySocket struct {
	conn      net.PacketConn
	relay     *net.UDPAddr
	public    *net.UDPAddr
	component domain.Component

	sent     atomic.Uint64
	received atomic.Uint64
	lost     atomic.Uint64
	rtcp     atomic.Uint64

	seqMu   sync.Mutex
	lastSeq uint16
	haveSeq bool

	LossLogInterval time.Duration
	lastLossLog     atomic.Int64
	loggedLost      atomic.Uint64

	log zerolog.Logger
}

// SocketStats is a point-in-time copy of the socket counters.
type SocketStats struct {
	Sent        uint64
	Received    uint64
	Lost        uint64
	RTCPPackets uint64
}

func NewRelaySocket(conn net.PacketConn, relay, public *net.UDPAddr, component domain.Component) *RelaySocket {
	return &RelaySocket{
		conn:            conn,
		relay:           relay,
		public:          public,
		component:       component,
		LossLogInterval: DefaultLossLogInterval,
		log: log.With().
			Str("module", "relaynode.socket").
			Str("relay", relay.String()).
			Str("component", component.String()).
			Logger(),
	}
}

// WriteTo sends p to the relay; addr is ignored.
func (s *RelaySocket) WriteTo(p []byte, _ net.Addr) (int, error) {
	n, err := s.conn.WriteTo(p, s.relay)
	if err != nil {
		return n, err
	}
	s.sent.Add(1)
	s.inspect(p, false)
	return n, nil
}

func (s *RelaySocket) ReadFrom(p []byte) (int, net.Addr, error) {
	n, addr, err := s.conn.ReadFrom(p)
	if err != nil {
		return n, addr, err
	}
	s.received.Add(1)
	s.inspect(p[:n], true)
	return n, addr, nil
}

func (s *RelaySocket) inspect(p []byte, inbound bool) {
	if s.component == domain.ComponentRTCP {
		if pkts, err := rtcp.Unmarshal(p); err == nil {
			s.rtcp.Add(uint64(len(pkts)))
		}
		return
	}
	if !inbound {
		return
	}
	var h rtp.Header
	if _, err := h.Unmarshal(p); err != nil {
		return
	}
	s.trackSeq(h.SequenceNumber)
}

func (s *RelaySocket) trackSeq(seq uint16) {
	s.seqMu.Lock()
	if !s.haveSeq {
		s.lastSeq, s.haveSeq = seq, true
		s.seqMu.Unlock()
		return
	}
	gap := seq - s.lastSeq
	if gap == 0 || gap > maxSeqJump {
		// duplicate, reordered or reset
		if gap > maxSeqJump && gap < 0x8000 {
			s.lastSeq = seq
		}
		s.seqMu.Unlock()
		return
	}
	s.lastSeq = seq
	s.seqMu.Unlock()

	if gap > 1 {
		s.lost.Add(uint64(gap - 1))
		s.maybeLogLoss()
	}
}

func (s *RelaySocket) maybeLogLoss() {
	now := time.Now().UnixNano()
	last := s.lastLossLog.Load()
	if now-last < int64(s.LossLogInterval) || !s.lastLossLog.CompareAndSwap(last, now) {
		return
	}
	lost := s.lost.Load()
	s.log.Info().
		Uint64("lost", lost).
		Uint64("lost_since_last", lost-s.loggedLost.Swap(lost)).
		Uint64("received", s.received.Load()).
		Msg("relay packet loss")
}

func (s *RelaySocket) Stats() SocketStats {
	return SocketStats{
		Sent:        s.sent.Load(),
		Received:    s.received.Load(),
		Lost:        s.lost.Load(),
		RTCPPackets: s.rtcp.Load(),
	}
}

// LocalAddr reports the relayed address so callers see the relay as our endpoint.
func (s *RelaySocket) LocalAddr() net.Addr { return s.public }

// RelayAddr is where writes actually go.
func (s *RelaySocket) RelayAddr() *net.UDPAddr { return s.relay }

func (s *RelaySocket) Close() error {
	st := s.Stats()
	s.log.Debug().
		Uint64("sent", st.Sent).
		Uint64("received", st.Received).
		Uint64("lost", st.Lost).
		Msg("relay socket closed")
	return s.conn.Close()
}

func (s *RelaySocket) SetDeadline(t time.Time) error      { return s.conn.SetDeadline(t) }
func (s *RelaySocket) SetReadDeadline(t time.Time) error  { return s.conn.SetReadDeadline(t) }
func (s *RelaySocket) SetWriteDeadline(t time.Time) error { return s.conn.SetWriteDeadline(t) }

var _ net.PacketConn = (*RelaySocket)(nil)
