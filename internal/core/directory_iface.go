package core

//go:generate mockgen -source=directory_iface.go -destination=mock_core/directory_mock.go -package=mock_core

import (
	"context"

	"github.com/dkeye/Jingle/internal/domain"
	"github.com/dkeye/Jingle/internal/jingle"
)

// ServiceDirectory lists the relay and tracker services a node advertises.
type ServiceDirectory interface {
	Services(ctx context.Context, node domain.JID) ([]jingle.ServiceItem, error)
}

// ChannelRequester allocates a channel on a relay node.
type ChannelRequester interface {
	RequestChannel(ctx context.Context, relay domain.JID, protocol string) (*jingle.ChannelIQ, error)
}

// InfoProvider returns server-side STUN and relay hints.
type InfoProvider interface {
	JingleInfo(ctx context.Context) (*jingle.JingleInfo, error)
}

// Roster is the contact view call setup and discovery need.
type Roster interface {
	Contains(bare domain.JID) bool
	OnlineContacts() []domain.JID
	// BestResource returns the highest-priority jingle capable full JID for bare.
	BestResource(bare domain.JID) (domain.JID, bool)
}
