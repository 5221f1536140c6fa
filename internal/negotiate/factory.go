package negotiate

import (
	"fmt"
	"net/http"

	"github.com/dkeye/Jingle/internal/core"
	"github.com/dkeye/Jingle/internal/domain"
)

// Factory builds negotiators that share one set of harvesters.
type Factory struct {
	Opts Options
	// Info feeds server hints to the peer-network variant. Optional.
	Info   core.InfoProvider
	Client *http.Client
}

func (f *Factory) New(sid string, kind domain.TransportKind, initiator bool) (core.TransportNegotiator, error) {
	switch kind {
	case domain.TransportICEUDP:
		return NewICEUDP(sid, initiator, f.Opts), nil
	case domain.TransportRawUDP:
		return NewRawUDP(sid, f.Opts), nil
	case domain.TransportP2P:
		return NewPeerNet(sid, initiator, f.Opts, f.Info, f.Client), nil
	default:
		return nil, fmt.Errorf("transport %q: %w", kind, ErrUnsupportedTransport)
	}
}

var _ core.NegotiatorFactory = (*Factory)(nil)
