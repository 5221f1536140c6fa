package core

import (
	"net"

	"github.com/dkeye/Jingle/internal/domain"
)

// MediaStream is the negotiated path of one content line.
type MediaStream struct {
	Content string
	Pairs   []domain.CandidatePair
	// Conns holds the per-component connection; it may be empty for transports
	// that hand sockets over directly.
	Conns map[domain.Component]net.Conn
}

// MediaEngine is the opaque media plane. It owns format descriptions and
// consumes negotiated paths.
type MediaEngine interface {
	// Offer returns local content lines for an outbound offer.
	Offer(video bool) []domain.Content
	// Answer returns the local contents accepted from a remote offer; an error
	// marks the offer unacceptable.
	Answer(remote []domain.Content) ([]domain.Content, error)
	// Encryption lists the methods this engine can negotiate.
	Encryption() []string
	Start(sid string, streams []MediaStream) error
	Stop(sid string)
}
