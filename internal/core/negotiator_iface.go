package core

import (
	"context"

	"github.com/dkeye/Jingle/internal/domain"
)

// TransportNegotiator gathers local candidates for a peer session's content lines,
// exchanges them with the remote side and establishes a working path.
//
// The harvest is two-phase: BeginHarvest must return quickly and WrapupHarvest is the
// single blocking join point.
type TransportNegotiator interface {
	Kind() domain.TransportKind

	// BeginHarvest fills or schedules transport descriptors for local.
	// remote is nil when we are the offerer.
	BeginHarvest(ctx context.Context, remote, local []domain.Content) error
	// WrapupHarvest blocks until background harvesting finishes and returns local
	// contents with their transports filled in.
	WrapupHarvest(ctx context.Context) ([]domain.Content, error)

	// StartConnectivityEstablishment feeds remote candidates. It returns true only
	// the first time establishment actually starts, which requires a remote
	// candidate for every component of every content line.
	StartConnectivityEstablishment(remote []domain.Content) bool
	// WrapupConnectivityEstablishment blocks until the path is selected or fails.
	WrapupConnectivityEstablishment(ctx context.Context) error

	// AddContent negotiates a new line mid-session without touching the others.
	AddContent(ctx context.Context, local domain.Content, remote *domain.Content) error
	// RemoveContent releases the sockets of one line.
	RemoveContent(name string)
	// Local returns the current local descriptor of one line.
	Local(name string) (domain.Content, bool)

	// Streams reports the selected path of every established line.
	Streams() []MediaStream

	// Close releases every socket and aborts in-flight harvesting.
	Close() error
}

// Trickler is implemented by negotiators that report candidates found after wrapup.
type Trickler interface {
	OnLocalCandidate(func(content string, c domain.Candidate))
}

// NegotiatorFactory builds a negotiator for one peer session.
type NegotiatorFactory interface {
	New(sid string, kind domain.TransportKind, initiator bool) (TransportNegotiator, error)
}
