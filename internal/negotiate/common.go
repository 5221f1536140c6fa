// Package negotiate implements the transport negotiation strategies: full ICE,
// single-pair raw UDP and the peer-network variant.
package negotiate

import (
	"context"
	"errors"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dkeye/Jingle/internal/domain"
	"github.com/dkeye/Jingle/internal/harvest"
	"github.com/google/uuid"
	"github.com/pion/logging"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
)

var (
	ErrSocketAllocation     = errors.New("socket allocation failed")
	ErrNoRemoteCandidates   = errors.New("remote offered no usable candidates")
	ErrUnknownContent       = errors.New("unknown content")
	ErrClosed               = errors.New("negotiator closed")
	ErrNotConnected         = errors.New("connectivity not established")
	ErrUnsupportedTransport = errors.New("unsupported transport")
)

const (
	NominationPreferDirect = "prefer-direct"
	NominationFirstValid   = "first-valid"
)

// Options carries what every strategy needs from configuration.
type Options struct {
	Harvesters []harvest.Harvester
	Host       *harvest.Host

	PortMin          uint16
	PortMax          uint16
	Nomination       string
	RelayAcceptDelay time.Duration
	CheckTimeout     time.Duration
	HarvestTimeout   time.Duration
	IncludeLoopback  bool

	LoggerFactory logging.LoggerFactory
}

func (o Options) harvestTimeout() time.Duration {
	if o.HarvestTimeout <= 0 {
		return 10 * time.Second
	}
	return o.HarvestTimeout
}

func (o Options) checkTimeout() time.Duration {
	if o.CheckTimeout <= 0 {
		return 30 * time.Second
	}
	return o.CheckTimeout
}

// runHarvesters runs every harvester concurrently under the harvest timeout.
// A failing harvester is logged and contributes nothing.
func runHarvesters(ctx context.Context, sid string, hs []harvest.Harvester, streams []string, timeout time.Duration) *harvest.Contribution {
	if len(hs) == 0 {
		return harvest.Merge()
	}
	p := pool.NewWithResults[*harvest.Contribution]().WithMaxGoroutines(len(hs))
	for _, h := range hs {
		p.Go(func() *harvest.Contribution {
			hctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			start := time.Now()
			c, err := h.Harvest(hctx, streams)
			if err != nil {
				log.Warn().
					Str("module", "negotiate.harvest").
					Str("sid", sid).
					Str("harvester", h.Name()).
					Err(err).
					Msg("harvester skipped")
				c.Close()
				return nil
			}
			log.Debug().
				Str("module", "negotiate.harvest").
				Str("sid", sid).
				Str("harvester", h.Name()).
				Dur("took", time.Since(start)).
				Msg("harvester done")
			return c
		})
	}
	return harvest.Merge(p.Wait()...)
}

// contentNames returns the names of contents in order.
func contentNames(contents []domain.Content) []string {
	out := make([]string, 0, len(contents))
	for _, c := range contents {
		out = append(out, c.Name)
	}
	return out
}

// hasAllComponents reports whether every named content has at least one
// candidate per component in remote.
func hasAllComponents(names []string, remote map[string][]domain.Candidate) bool {
	if len(names) == 0 {
		return false
	}
	for _, name := range names {
		cands := remote[name]
		for _, comp := range domain.Components {
			if !slices.ContainsFunc(cands, func(c domain.Candidate) bool { return c.Component == comp }) {
				return false
			}
		}
	}
	return true
}

// mergeCandidates appends the candidates of in that dst lacks and returns the
// additions.
func mergeCandidates(dst *[]domain.Candidate, in []domain.Candidate) []domain.Candidate {
	var added []domain.Candidate
	for _, c := range in {
		if slices.ContainsFunc(*dst, c.Equal) {
			continue
		}
		*dst = append(*dst, c)
		added = append(added, c)
	}
	return added
}

// sortCandidates orders host before reflexive before relayed, then by priority.
func sortCandidates(cands []domain.Candidate) {
	slices.SortStableFunc(cands, func(a, b domain.Candidate) int {
		if a.Component != b.Component {
			return int(a.Component) - int(b.Component)
		}
		if a.Type != b.Type {
			if a.Type.Less(b.Type) {
				return -1
			}
			if b.Type.Less(a.Type) {
				return 1
			}
		}
		switch {
		case a.Priority > b.Priority:
			return -1
		case a.Priority < b.Priority:
			return 1
		}
		return 0
	})
}

// newCredentials returns an ICE ufrag and password.
func newCredentials() (ufrag, pwd string) {
	a := strings.ReplaceAll(uuid.NewString(), "-", "")
	b := strings.ReplaceAll(uuid.NewString(), "-", "")
	return a[:8], b
}

// componentUfrag derives the ufrag of a component agent. RTP uses the
// transport ufrag as is; other components append their number.
func componentUfrag(ufrag string, c domain.Component) string {
	if c == domain.ComponentRTP || ufrag == "" {
		return ufrag
	}
	return ufrag + strconv.Itoa(int(c))
}

// packetConn pins a PacketConn to one remote address.
type packetConn struct {
	net.PacketConn
	remote net.Addr
}

func newPacketConn(pc net.PacketConn, remote net.Addr) net.Conn {
	return &packetConn{PacketConn: pc, remote: remote}
}

func (c *packetConn) Read(p []byte) (int, error) {
	n, _, err := c.ReadFrom(p)
	return n, err
}

func (c *packetConn) Write(p []byte) (int, error) { return c.WriteTo(p, c.remote) }

func (c *packetConn) RemoteAddr() net.Addr { return c.remote }
