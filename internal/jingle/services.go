package jingle

import "github.com/dkeye/Jingle/internal/domain"

type ServiceKind string

const (
	ServiceRelay   ServiceKind = "relay"
	ServiceTracker ServiceKind = "tracker"
)

type ServicePolicy string

const (
	PolicyPublic ServicePolicy = "public"
	PolicyRoster ServicePolicy = "roster"
)

// ServiceItem is one relay or tracker advertised by a node.
type ServiceItem struct {
	JID      domain.JID    `json:"jid"`
	Kind     ServiceKind   `json:"kind"`
	Policy   ServicePolicy `json:"policy"`
	Protocol string        `json:"protocol"`
}

// DiscoQuery asks a node which relay services it knows.
type DiscoQuery struct {
	Items []ServiceItem `json:"items,omitempty"`
}

// ChannelIQ allocates a relay channel. The response fills Host and the ports.
// LocalPort is for the requester, RemotePort for its peer.
type ChannelIQ struct {
	Protocol   string `json:"protocol"`
	Host       string `json:"host,omitempty"`
	LocalPort  int    `json:"localport,omitempty"`
	RemotePort int    `json:"remoteport,omitempty"`
	ID         string `json:"id,omitempty"`
}

// JingleInfo carries server-provided STUN and relay hints.
type JingleInfo struct {
	STUN       []STUNServer `json:"stun,omitempty"`
	RelayHosts []string     `json:"relay_hosts,omitempty"`
	RelayToken string       `json:"relay_token,omitempty"`
}

type STUNServer struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}
