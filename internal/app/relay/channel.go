package relay

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"time"

	"github.com/dkeye/Jingle/internal/domain"
	"github.com/rs/zerolog"
)

const maxPacket = 1500

// Channel forwards UDP between two legs. Packets arriving before the opposite
// leg has learned its peer are dropped.
type Channel struct {
	ID       string
	Protocol string
	Created  time.Time

	a, b *Leg

	lastActive atomic.Int64
	dropped    atomic.Uint64

	cancel context.CancelFunc
}

func NewChannel(id, protocol string, a, b *Leg, cancel context.CancelFunc) *Channel {
	ch := &Channel{
		ID:       id,
		Protocol: protocol,
		Created:  time.Now(),
		a:        a,
		b:        b,
		cancel:   cancel,
	}
	ch.lastActive.Store(ch.Created.UnixNano())
	return ch
}

// Idle reports how long the channel has carried nothing.
func (ch *Channel) Idle(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, ch.lastActive.Load()))
}

func (ch *Channel) Packets() (a, b, dropped uint64) {
	return ch.a.packets.Load(), ch.b.packets.Load(), ch.dropped.Load()
}

// start runs one forward loop per direction and component.
func (ch *Channel) start(ctx context.Context, logger *zerolog.Logger) {
	for _, c := range domain.Components {
		go ch.loop(ctx, ch.a, ch.b, c, logger)
		go ch.loop(ctx, ch.b, ch.a, c, logger)
	}
}

// loop reads packets arriving on from and forwards them to the peer of to.
func (ch *Channel) loop(ctx context.Context, from, to *Leg, comp domain.Component, logger *zerolog.Logger) {
	conn := from.Conn(comp)
	buf := make([]byte, maxPacket)
	for {
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				logger.Error().Err(err).Str("component", comp.String()).Msg("relay read error, stopping")
			}
			from.MarkClosed()
			return
		}
		if from.GetState() == LegClosed {
			return
		}
		if peer := from.latch(comp, src); !peer.IP.Equal(src.IP) || peer.Port != src.Port {
			// Only the first sender owns a leg.
			ch.dropped.Add(1)
			continue
		}
		ch.lastActive.Store(time.Now().UnixNano())
		from.packets.Add(1)

		dst := to.Peer(comp)
		if dst == nil {
			ch.dropped.Add(1)
			continue
		}
		if _, err := to.Conn(comp).WriteToUDP(buf[:n], dst); err != nil {
			logger.Warn().Err(err).Str("dst", dst.String()).Msg("relay write error")
		}
	}
}

func (ch *Channel) close() {
	if ch.cancel != nil {
		ch.cancel()
	}
	ch.a.close()
	ch.b.close()
}
