package jingle

import "github.com/dkeye/Jingle/internal/domain"

type Action string

const (
	ActionSessionInitiate  Action = "session-initiate"
	ActionSessionAccept    Action = "session-accept"
	ActionSessionTerminate Action = "session-terminate"
	ActionSessionInfo      Action = "session-info"
	ActionContentAdd       Action = "content-add"
	ActionContentAccept    Action = "content-accept"
	ActionContentModify    Action = "content-modify"
	ActionContentReject    Action = "content-reject"
	ActionContentRemove    Action = "content-remove"
	ActionTransportInfo    Action = "transport-info"
	ActionTransportReplace Action = "transport-replace"
	ActionTransportAccept  Action = "transport-accept"
	ActionTransportReject  Action = "transport-reject"
	ActionDescriptionInfo  Action = "description-info"
)

type Reason string

const (
	ReasonSuccess                Reason = "success"
	ReasonBusy                   Reason = "busy"
	ReasonCancel                 Reason = "cancel"
	ReasonTimeout                Reason = "timeout"
	ReasonSecurityError          Reason = "security-error"
	ReasonIncompatibleParameters Reason = "incompatible-parameters"
	ReasonFailedApplication      Reason = "failed-application"
	ReasonGeneralError           Reason = "general-error"
	ReasonConnectivityError      Reason = "connectivity-error"
	ReasonUnsupportedTransports  Reason = "unsupported-transports"
)

type SessionInfoType string

const (
	InfoRinging SessionInfoType = "ringing"
	InfoHold    SessionInfoType = "hold"
	InfoUnhold  SessionInfoType = "unhold"
	InfoActive  SessionInfoType = "active"
)

// IQ is the jingle payload.
type IQ struct {
	Action    Action           `json:"action"`
	SID       string           `json:"sid"`
	Initiator domain.JID       `json:"initiator,omitempty"`
	Responder domain.JID       `json:"responder,omitempty"`
	Contents  []domain.Content `json:"contents,omitempty"`

	Transfer *Transfer        `json:"transfer,omitempty"`
	CallID   string           `json:"callid,omitempty"`
	Focus    *bool            `json:"focus,omitempty"`
	Reason   *ReasonElement   `json:"reason,omitempty"`
	Info     *SessionInfoType `json:"info,omitempty"`

	// Encryption lists the methods the sender is able to negotiate.
	Encryption []string `json:"encryption,omitempty"`
}

// Transfer names the attendant session of an attended transfer.
type Transfer struct {
	SID  string     `json:"sid,omitempty"`
	From domain.JID `json:"from,omitempty"`
	To   domain.JID `json:"to,omitempty"`
}

type ReasonElement struct {
	Reason Reason `json:"reason"`
	Text   string `json:"text,omitempty"`
}

func (iq *IQ) HasContents() bool { return len(iq.Contents) > 0 }

func NewSessionIQ(action Action, sid string, from, to domain.JID, contents []domain.Content) *Stanza {
	return &Stanza{
		ID:   NewID(),
		Type: TypeSet,
		From: from,
		To:   to,
		Jingle: &IQ{
			Action:   action,
			SID:      sid,
			Contents: contents,
		},
	}
}

func NewTerminate(sid string, from, to domain.JID, reason Reason, text string) *Stanza {
	st := NewSessionIQ(ActionSessionTerminate, sid, from, to, nil)
	st.Jingle.Reason = &ReasonElement{Reason: reason, Text: text}
	return st
}

func NewSessionInfo(sid string, from, to domain.JID, info SessionInfoType) *Stanza {
	st := NewSessionIQ(ActionSessionInfo, sid, from, to, nil)
	st.Jingle.Info = &info
	return st
}
