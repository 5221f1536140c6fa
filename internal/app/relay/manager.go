// Package relay is the relay node service: it hands out UDP channels to
// sessions that cannot reach each other directly.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/dkeye/Jingle/internal/harvest"
	"github.com/dkeye/Jingle/internal/jingle"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	ErrUnsupportedProtocol = errors.New("unsupported relay protocol")
	ErrClosed              = errors.New("relay service closed")
)

// DefaultTTL closes channels that carried nothing for this long.
const DefaultTTL = 60 * time.Second

type Manager struct {
	host   *harvest.Host
	ip     net.IP
	public string
	ttl    time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	channels map[string]*Channel
	closed   bool
}

// NewManager binds channels on ip and advertises public (ip when empty).
func NewManager(host *harvest.Host, ip net.IP, public string, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if public == "" {
		public = ip.String()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		host:     host,
		ip:       ip,
		public:   public,
		ttl:      ttl,
		ctx:      ctx,
		cancel:   cancel,
		channels: make(map[string]*Channel),
	}
}

// Allocate binds a new channel and starts forwarding.
func (m *Manager) Allocate(_ context.Context, protocol string) (*jingle.ChannelIQ, error) {
	if protocol == "" {
		protocol = "udp"
	}
	if protocol != "udp" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProtocol, protocol)
	}

	aRTP, aRTCP, err := m.host.BindPair(m.ip)
	if err != nil {
		return nil, fmt.Errorf("bind requester leg: %w", err)
	}
	bRTP, bRTCP, err := m.host.BindPair(m.ip)
	if err != nil {
		aRTP.Close()
		aRTCP.Close()
		return nil, fmt.Errorf("bind peer leg: %w", err)
	}

	id := uuid.NewString()
	logger := log.With().
		Str("module", "relay").
		Str("channel", id).
		Logger()

	chCtx, cancel := context.WithCancel(m.ctx)
	ch := NewChannel(id, protocol, NewLeg(aRTP, aRTCP), NewLeg(bRTP, bRTCP), cancel)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		ch.close()
		return nil, ErrClosed
	}
	m.channels[id] = ch
	active := len(m.channels)
	m.mu.Unlock()

	logger.Info().Int("local_port", ch.a.Port()).Int("remote_port", ch.b.Port()).Int("active", active).Msg("channel allocated")
	ch.start(chCtx, &logger)

	return &jingle.ChannelIQ{
		Protocol:   protocol,
		Host:       m.public,
		LocalPort:  ch.a.Port(),
		RemotePort: ch.b.Port(),
		ID:         id,
	}, nil
}

// Release closes one channel.
func (m *Manager) Release(id string) bool {
	m.mu.Lock()
	ch, ok := m.channels[id]
	if ok {
		delete(m.channels, id)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	ch.close()
	a, b, dropped := ch.Packets()
	log.Info().Str("module", "relay").Str("channel", id).
		Uint64("from_requester", a).Uint64("from_peer", b).Uint64("dropped", dropped).
		Msg("channel released")
	return true
}

func (m *Manager) Channel(id string) (*Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[id]
	return ch, ok
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.channels)
}

// Expire releases channels idle for longer than the TTL and returns how many.
func (m *Manager) Expire(now time.Time) int {
	m.mu.RLock()
	var stale []string
	for id, ch := range m.channels {
		if ch.Idle(now) > m.ttl {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	n := 0
	for _, id := range stale {
		if m.Release(id) {
			n++
		}
	}
	return n
}

// Run expires idle channels until ctx ends.
func (m *Manager) Run(ctx context.Context) {
	tick := time.NewTicker(max(m.ttl/4, time.Second))
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.ctx.Done():
			return
		case now := <-tick.C:
			if n := m.Expire(now); n > 0 {
				log.Debug().Str("module", "relay").Int("expired", n).Msg("idle channels closed")
			}
		}
	}
}

// Close releases every channel and refuses new ones.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	ids := make([]string, 0, len(m.channels))
	for id := range m.channels {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.Release(id)
	}
	m.cancel()
}
