package rtc

import (
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

const (
	frameDuration = 20 * time.Millisecond
	pollInterval  = 200 * time.Millisecond
	maxPacket     = 1500
)

type Stats struct {
	PacketsSent     uint64
	PacketsReceived uint64
	PacketsLost     uint64
	ReportsReceived uint64
}

type session struct {
	sid     string
	cfg     Config
	streams []*stream

	cancel context.CancelFunc
	wg     conc.WaitGroup
}

func newSession(sid string, cfg Config) *session {
	return &session{sid: sid, cfg: cfg}
}

func (s *session) addStream(content string, rtpConn, rtcpConn net.Conn) {
	st := &stream{
		content: content,
		rtp:     rtpConn,
		rtcp:    rtcpConn,
		ssrc:    rand.Uint32(),
		video:   strings.Contains(content, "video"),
		log:     log.With().Str("module", "rtc").Str("sid", s.sid).Str("content", content).Logger(),
	}
	if !st.video {
		st.tone = newTone(s.cfg.ToneHz, audioCodecs[0].ClockRate)
	}
	s.streams = append(s.streams, st)
}

func (s *session) start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	for _, st := range s.streams {
		if !st.video {
			s.wg.Go(func() { st.sendLoop(ctx) })
		}
		go st.receiveLoop(ctx)
		if st.rtcp != nil {
			s.wg.Go(func() { st.reportLoop(ctx, s.cfg.ReportInterval) })
			go st.rtcpLoop(ctx)
		}
	}
}

// stop waits for the writers only. Some transports ignore read deadlines, so
// a reader may linger until its next datagram.
func (s *session) stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// stream is one content line. Audio sends a tone; video only listens.
type stream struct {
	content string
	rtp     net.Conn
	rtcp    net.Conn
	ssrc    uint32
	video   bool
	tone    *tone
	log     zerolog.Logger

	sent     atomic.Uint64
	octets   atomic.Uint64
	received atomic.Uint64
	lost     atomic.Uint64
	reports  atomic.Uint64

	seqMu   sync.Mutex
	seqInit bool
	lastSeq uint16
}

func (st *stream) stats() Stats {
	return Stats{
		PacketsSent:     st.sent.Load(),
		PacketsReceived: st.received.Load(),
		PacketsLost:     st.lost.Load(),
		ReportsReceived: st.reports.Load(),
	}
}

func (st *stream) sendLoop(ctx context.Context) {
	t := time.NewTicker(frameDuration)
	defer t.Stop()

	pkt := &rtp.Packet{Header: rtp.Header{
		Version:        2,
		PayloadType:    audioCodecs[0].PayloadType,
		SequenceNumber: uint16(rand.Uint32()),
		Timestamp:      rand.Uint32(),
		SSRC:           st.ssrc,
	}}
	samples := uint32(audioCodecs[0].ClockRate) * uint32(frameDuration/time.Millisecond) / 1000
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		pkt.Payload = st.tone.frame(int(samples))
		b, err := pkt.Marshal()
		if err != nil {
			st.log.Error().Err(err).Msg("rtp marshal")
			return
		}
		_ = st.rtp.SetWriteDeadline(time.Now().Add(frameDuration))
		if _, err := st.rtp.Write(b); err != nil {
			if isTimeout(err) {
				continue
			}
			st.log.Debug().Err(err).Msg("rtp write")
			return
		}
		st.sent.Add(1)
		st.octets.Add(uint64(len(pkt.Payload)))
		pkt.SequenceNumber++
		pkt.Timestamp += samples
	}
}

// read polls conn so that ctx cancellation is seen without closing the
// socket, which the transport owns.
func read(ctx context.Context, conn net.Conn, handle func([]byte)) {
	buf := make([]byte, maxPacket)
	for ctx.Err() == nil {
		_ = conn.SetReadDeadline(time.Now().Add(pollInterval))
		n, err := conn.Read(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			return
		}
		handle(buf[:n])
	}
}

func (st *stream) receiveLoop(ctx context.Context) {
	read(ctx, st.rtp, func(b []byte) {
		var pkt rtp.Packet
		if err := pkt.Unmarshal(b); err != nil {
			st.log.Debug().Err(err).Msg("non-rtp datagram dropped")
			return
		}
		st.received.Add(1)
		st.trackSeq(pkt.SequenceNumber)
	})
}

func (st *stream) trackSeq(seq uint16) {
	st.seqMu.Lock()
	defer st.seqMu.Unlock()
	if !st.seqInit {
		st.seqInit, st.lastSeq = true, seq
		return
	}
	if gap := seq - st.lastSeq; gap > 1 && gap < 1<<15 {
		st.lost.Add(uint64(gap - 1))
	}
	if int16(seq-st.lastSeq) > 0 {
		st.lastSeq = seq
	}
}

func (st *stream) reportLoop(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		sr := &rtcp.SenderReport{
			SSRC:        st.ssrc,
			NTPTime:     ntpTime(time.Now()),
			PacketCount: uint32(st.sent.Load()),
			OctetCount:  uint32(st.octets.Load()),
		}
		b, err := sr.Marshal()
		if err != nil {
			st.log.Error().Err(err).Msg("rtcp marshal")
			return
		}
		_ = st.rtcp.SetWriteDeadline(time.Now().Add(frameDuration))
		if _, err := st.rtcp.Write(b); err != nil && !isTimeout(err) {
			st.log.Debug().Err(err).Msg("rtcp write")
			return
		}
	}
}

func (st *stream) rtcpLoop(ctx context.Context) {
	read(ctx, st.rtcp, func(b []byte) {
		pkts, err := rtcp.Unmarshal(b)
		if err != nil {
			st.log.Debug().Err(err).Msg("bad rtcp dropped")
			return
		}
		st.reports.Add(uint64(len(pkts)))
	})
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// ntpTime converts t to the 32.32 fixed point NTP format.
func ntpTime(t time.Time) uint64 {
	const ntpEpochOffset = 2208988800
	secs := uint64(t.Unix()) + ntpEpochOffset
	frac := uint64(t.Nanosecond()) << 32 / 1e9
	return secs<<32 | frac
}
