package domain

import "encoding/json"

type TransportKind string

const (
	TransportICEUDP TransportKind = "ice-udp"
	TransportRawUDP TransportKind = "raw-udp"
	TransportP2P    TransportKind = "p2p"
)

type Senders string

const (
	SendersBoth      Senders = "both"
	SendersInitiator Senders = "initiator"
	SendersResponder Senders = "responder"
	SendersNone      Senders = "none"
)

// Transport is the candidate descriptor of one content line.
type Transport struct {
	Kind       TransportKind `json:"kind"`
	Ufrag      string        `json:"ufrag,omitempty"`
	Pwd        string        `json:"pwd,omitempty"`
	Candidates []Candidate   `json:"candidates,omitempty"`
}

// ForComponent returns the candidates for c in descriptor order.
func (t Transport) ForComponent(c Component) []Candidate {
	out := make([]Candidate, 0, len(t.Candidates))
	for _, cand := range t.Candidates {
		if cand.Component == c {
			out = append(out, cand)
		}
	}
	return out
}

// Content is a named media line. Description is opaque to this module.
type Content struct {
	Name        string          `json:"name"`
	Creator     string          `json:"creator,omitempty"`
	Senders     Senders         `json:"senders,omitempty"`
	Transport   Transport       `json:"transport"`
	Description json.RawMessage `json:"description,omitempty"`
}

func FindContent(contents []Content, name string) (Content, bool) {
	for _, c := range contents {
		if c.Name == name {
			return c, true
		}
	}
	return Content{}, false
}

// CloneContents copies contents deep enough that candidate slices are not shared.
func CloneContents(in []Content) []Content {
	if in == nil {
		return nil
	}
	out := make([]Content, len(in))
	for i, c := range in {
		out[i] = c
		out[i].Transport.Candidates = append([]Candidate(nil), c.Transport.Candidates...)
	}
	return out
}
