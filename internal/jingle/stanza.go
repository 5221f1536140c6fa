// Package jingle defines the JSON stanza vocabulary exchanged over the switchboard.
package jingle

import (
	"github.com/dkeye/Jingle/internal/domain"
	"github.com/google/uuid"
)

type StanzaType string

const (
	TypeSet    StanzaType = "set"
	TypeGet    StanzaType = "get"
	TypeResult StanzaType = "result"
	TypeError  StanzaType = "error"
)

// Stanza is the routed envelope. Exactly one payload is set.
type Stanza struct {
	ID   string     `json:"id"`
	Type StanzaType `json:"type"`
	From domain.JID `json:"from,omitempty"`
	To   domain.JID `json:"to,omitempty"`

	Jingle   *IQ         `json:"jingle,omitempty"`
	Disco    *DiscoQuery `json:"disco,omitempty"`
	Channel  *ChannelIQ  `json:"channel,omitempty"`
	Info     *JingleInfo `json:"jingleinfo,omitempty"`
	Presence *Presence   `json:"presence,omitempty"`
	Error    *Error      `json:"error,omitempty"`
}

func NewID() string { return uuid.NewString() }

// Result builds an empty acknowledgement for s.
func (s *Stanza) Result() *Stanza {
	return &Stanza{ID: s.ID, Type: TypeResult, From: s.To, To: s.From}
}

// ErrorReply builds an error response for s.
func (s *Stanza) ErrorReply(condition, text string) *Stanza {
	return &Stanza{
		ID:    s.ID,
		Type:  TypeError,
		From:  s.To,
		To:    s.From,
		Error: &Error{Condition: condition, Text: text},
	}
}

type Error struct {
	Condition string `json:"condition"`
	Text      string `json:"text,omitempty"`
}

const (
	CondServiceUnavailable = "service-unavailable"
	CondItemNotFound       = "item-not-found"
	CondBadRequest         = "bad-request"
	CondResourceConstraint = "resource-constraint"
	CondPolicyViolation    = "policy-violation"
)

// Presence announces availability of a full JID with a priority.
type Presence struct {
	Available bool `json:"available"`
	Priority  int  `json:"priority"`
	Jingle    bool `json:"jingle"`
}
