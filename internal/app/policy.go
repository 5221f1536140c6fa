package app

// AnswerAction is what happens to an incoming peer once it rings.
type AnswerAction int

const (
	Ring AnswerAction = iota
	AutoAnswer
	RejectBusy
)

func (a AnswerAction) String() string {
	switch a {
	case AutoAnswer:
		return "auto-answer"
	case RejectBusy:
		return "reject-busy"
	default:
		return "ring"
	}
}

// Policy decides how incoming sessions are treated.
type Policy interface {
	OnIncoming(reg *Registry, call *Call, peer *PeerSession) AnswerAction
}

// ManualPolicy leaves every call ringing for the user.
type ManualPolicy struct{}

func (ManualPolicy) OnIncoming(*Registry, *Call, *PeerSession) AnswerAction { return Ring }

// AutoAnswerPolicy answers everything.
type AutoAnswerPolicy struct{}

func (AutoAnswerPolicy) OnIncoming(*Registry, *Call, *PeerSession) AnswerAction { return AutoAnswer }

// SingleCallPolicy rejects with busy while another call has a connected peer
// and defers to Next otherwise.
type SingleCallPolicy struct {
	Next Policy
}

func (s SingleCallPolicy) OnIncoming(reg *Registry, call *Call, peer *PeerSession) AnswerAction {
	for _, c := range reg.ActiveCalls() {
		if c == call {
			continue
		}
		if len(c.connectedPeers()) > 0 {
			return RejectBusy
		}
	}
	if s.Next == nil {
		return Ring
	}
	return s.Next.OnIncoming(reg, call, peer)
}
