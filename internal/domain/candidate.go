package domain

import (
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
)

// Component identifies a media component within a content line.
type Component uint16

const (
	ComponentRTP  Component = 1
	ComponentRTCP Component = 2
)

// Components lists every component a content line negotiates.
var Components = []Component{ComponentRTP, ComponentRTCP}

func (c Component) String() string {
	switch c {
	case ComponentRTP:
		return "rtp"
	case ComponentRTCP:
		return "rtcp"
	default:
		return "component(" + strconv.Itoa(int(c)) + ")"
	}
}

type CandidateType string

const (
	CandidateHost            CandidateType = "host"
	CandidateServerReflexive CandidateType = "srflx"
	CandidatePeerReflexive   CandidateType = "prflx"
	CandidateRelayed         CandidateType = "relay"
)

// rank orders types host < reflexive < relayed.
func (t CandidateType) rank() int {
	switch t {
	case CandidateHost:
		return 0
	case CandidateServerReflexive, CandidatePeerReflexive:
		return 1
	case CandidateRelayed:
		return 2
	default:
		return 3
	}
}

// Less reports whether t should be tried before o.
func (t CandidateType) Less(o CandidateType) bool { return t.rank() < o.rank() }

// Candidate is one local or remote address a media component could use.
// Treat it as a value: copy it, don't mutate a shared one.
type Candidate struct {
	Component  Component     `json:"component"`
	Generation int           `json:"generation"`
	ID         string        `json:"id"`
	Foundation string        `json:"foundation,omitempty"`
	Protocol   string        `json:"protocol"`
	Type       CandidateType `json:"type"`
	Address    string        `json:"ip"`
	Port       int           `json:"port"`
	Priority   uint32        `json:"priority"`
	Network    int           `json:"network,omitempty"`
	RelAddr    string        `json:"rel-addr,omitempty"`
	RelPort    int           `json:"rel-port,omitempty"`

	// Name, Username, Password and Preference carry the peer-network vocabulary.
	Name       string  `json:"name,omitempty"`
	Username   string  `json:"username,omitempty"`
	Password   string  `json:"password,omitempty"`
	Preference float64 `json:"preference,omitempty"`
}

type CandidateKey struct {
	Component  Component
	Generation int
	Address    string
	Port       int
}

func (c Candidate) Key() CandidateKey {
	return CandidateKey{
		Component:  c.Component,
		Generation: c.Generation,
		Address:    c.Address,
		Port:       c.Port,
	}
}

func (c Candidate) Equal(o Candidate) bool { return c.Key() == o.Key() }

func (c Candidate) UDPAddr() (*net.UDPAddr, error) {
	ip := net.ParseIP(c.Address)
	if ip == nil {
		addrs, err := net.LookupIP(c.Address)
		if err != nil || len(addrs) == 0 {
			return nil, fmt.Errorf("resolve candidate %s: %w", c.Address, err)
		}
		ip = addrs[0]
	}
	return &net.UDPAddr{IP: ip, Port: c.Port}, nil
}

func (c Candidate) String() string {
	return fmt.Sprintf("%s %s %s:%d gen=%d prio=%d", c.Component, c.Type, c.Address, c.Port, c.Generation, c.Priority)
}

// CandidatePair is a local/remote pairing selected for a component.
type CandidatePair struct {
	Local  Candidate
	Remote Candidate
}

// IDGenerator hands out candidate IDs unique within its owner.
type IDGenerator struct {
	prefix string
	n      atomic.Uint64
}

func NewIDGenerator(prefix string) *IDGenerator {
	return &IDGenerator{prefix: prefix}
}

func (g *IDGenerator) Next() string {
	return g.prefix + strconv.FormatUint(g.n.Add(1), 36)
}
