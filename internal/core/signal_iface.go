package core

//go:generate mockgen -source=signal_iface.go -destination=mock_core/signal_mock.go -package=mock_core

import (
	"context"

	"github.com/dkeye/Jingle/internal/domain"
	"github.com/dkeye/Jingle/internal/jingle"
)

// Frame is a raw encoded stanza.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// Signaler delivers stanzas to the federated signaling network on behalf of one account.
type Signaler interface {
	LocalJID() domain.JID
	// Send is fire-and-forget.
	Send(ctx context.Context, st *jingle.Stanza) error
	// Request sends st and waits for the result or error stanza with the same ID.
	Request(ctx context.Context, st *jingle.Stanza) (*jingle.Stanza, error)
}

// StanzaHandler consumes inbound stanzas addressed to the account.
type StanzaHandler interface {
	HandleStanza(ctx context.Context, st *jingle.Stanza)
}
