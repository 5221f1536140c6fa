package app

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/dkeye/Jingle/internal/domain"
	"github.com/dkeye/Jingle/internal/jingle"
)

func TestResolveCallee(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		callee  string
		want    domain.JID
		voice   bool
		errCode ErrorCode
	}{
		{name: "bare contact gets best resource", callee: "alice@example.com", want: aliceJID},
		{name: "local part gets account domain", callee: "alice", want: aliceJID},
		{name: "full jid kept", callee: "carol@example.com/tablet", want: "carol@example.com/tablet"},
		{name: "empty", callee: "  ", errCode: IllegalArgument},
		{name: "not a contact", callee: "mallory@example.com", errCode: NotFound},
		{name: "no jingle resource", callee: "dave@example.com", errCode: InternalError},
		{
			name:   "phone suffix with bypass domain",
			cfg:    Config{PhoneSuffix: "sip.example.net", BypassCapsDomain: "sip.example.net"},
			callee: "5551234",
			want:   "5551234@sip.example.net",
		},
		{
			name:    "phone suffix without bypass",
			cfg:     Config{PhoneSuffix: "sip.example.net"},
			callee:  "5551234",
			errCode: NotFound,
		},
		{
			name:   "voice number",
			cfg:    Config{VoiceGatewayAccount: true},
			callee: "5551234",
			want:   "5551234@voice.google.com",
			voice:  true,
		},
		{
			name:   "voice domain spelled out",
			cfg:    Config{VoiceGatewayAccount: true},
			callee: "5551234@voice.google.com",
			want:   "5551234@voice.google.com",
			voice:  true,
		},
		{
			name:   "voice account calling a contact",
			cfg:    Config{VoiceGatewayAccount: true},
			callee: "alice@example.com",
			want:   aliceJID,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.cfg, nil)
			got, voice, err := h.tel.resolveCallee(tt.callee)
			if tt.errCode != 0 {
				code, ok := CodeOf(err)
				if !ok || code != tt.errCode {
					t.Fatalf("resolveCallee() error = %v, want code %s", err, tt.errCode)
				}
				return
			}
			if err != nil {
				t.Fatalf("resolveCallee() error = %v", err)
			}
			if got != tt.want || voice != tt.voice {
				t.Errorf("resolveCallee() = %s, %v; want %s, %v", got, voice, tt.want, tt.voice)
			}
		})
	}
}

func TestOutboundCallConnects(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	call, p, err := h.tel.CreateCall(context.Background(), "alice@example.com", false)
	if err != nil {
		t.Fatalf("CreateCall() error = %v", err)
	}
	waitFor(t, "offer", func() bool { return h.out.find(jingle.ActionSessionInitiate, aliceJID) != nil })

	offer := h.out.find(jingle.ActionSessionInitiate, aliceJID)
	if offer.Jingle.CallID != call.ID || offer.Jingle.Initiator != bobJID {
		t.Errorf("offer callid = %q initiator = %q", offer.Jingle.CallID, offer.Jingle.Initiator)
	}
	if len(offer.Jingle.Contents) != 1 || offer.Jingle.Contents[0].Transport.Kind != domain.TransportICEUDP {
		t.Fatalf("offer contents = %+v", offer.Jingle.Contents)
	}
	if got := p.InitiatingMessageID(); got != offer.ID {
		t.Errorf("InitiatingMessageID() = %q, want %q", got, offer.ID)
	}
	if got := p.State(); got != domain.StateConnecting {
		t.Fatalf("state after offer = %s", got)
	}

	h.deliver(&jingle.Stanza{ID: "r1", Type: jingle.TypeSet, From: aliceJID, To: bobJID, Jingle: &jingle.IQ{
		Action: jingle.ActionSessionInfo,
		SID:    p.SID(),
		Info:   ptr(jingle.InfoRinging),
	}})
	if got := p.State(); got != domain.StateAlerting {
		t.Fatalf("state after ringing = %s", got)
	}

	accept := jingle.NewSessionIQ(jingle.ActionSessionAccept, p.SID(), aliceJID, bobJID, audioContents())
	accept.Jingle.Encryption = []string{"srtp"}
	h.deliver(accept)
	if got := p.State(); got != domain.StateConnected {
		t.Fatalf("state after accept = %s", got)
	}
	waitFor(t, "media", func() bool { return h.media.startCount(p.SID()) == 1 })

	got := kinds(h.drain())
	want := []EventKind{EventCallCreated, EventPeerAdded, EventPeerState, EventPeerState, EventPeerState, EventPeerState}
	if len(got) < len(want) || !slices.Equal(got[:len(want)], want) {
		t.Errorf("events = %v, want prefix %v", got, want)
	}
	if !slices.Contains(got, EventMediaReady) {
		waitFor(t, "media-ready", func() bool { return slices.Contains(kinds(h.drain()), EventMediaReady) })
	}
}

func ptr[T any](v T) *T { return &v }

func TestIncomingMalformedOfferFails(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	h.deliver(offerFrom(aliceJID, "s1", nil))

	term := h.out.find(jingle.ActionSessionTerminate, aliceJID)
	if term == nil || term.Jingle.Reason.Reason != jingle.ReasonIncompatibleParameters {
		t.Fatalf("terminate = %+v", term)
	}
	if h.tel.Registry().Len() != 0 {
		t.Errorf("registry holds %d calls", h.tel.Registry().Len())
	}
	if ev := h.drain(); len(ev) != 0 {
		t.Errorf("events = %v, want none", kinds(ev))
	}
}

func TestIncomingUnknownTransportFails(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	contents := audioContents()
	contents[0].Transport.Kind = "smoke-signals"
	h.deliver(offerFrom(aliceJID, "s1", contents))

	term := h.out.find(jingle.ActionSessionTerminate, aliceJID)
	if term == nil || term.Jingle.Reason.Reason != jingle.ReasonUnsupportedTransports {
		t.Fatalf("terminate = %+v", term)
	}
}

func TestParanoiaRejectsPlainOffer(t *testing.T) {
	h := newHarness(t, Config{Paranoia: true}, nil)
	st := offerFrom(aliceJID, "s1", audioContents())
	st.Jingle.Encryption = nil
	h.deliver(st)

	term := h.out.find(jingle.ActionSessionTerminate, aliceJID)
	if term == nil || term.Jingle.Reason.Reason != jingle.ReasonSecurityError {
		t.Fatalf("terminate = %+v", term)
	}
	if h.tel.Registry().Len() != 0 {
		t.Errorf("registry holds %d calls", h.tel.Registry().Len())
	}
}

func TestIncomingRingsThenAnswer(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	p := h.incoming(t, aliceJID, "s1")
	if got := p.State(); got != domain.StateIncoming {
		t.Fatalf("state = %s, want incoming", got)
	}
	if got := kinds(h.drain()); !slices.Equal(got, []EventKind{EventCallCreated, EventPeerAdded, EventPeerState}) {
		t.Errorf("events = %v", got)
	}
	// The offer was acknowledged.
	if h.out.stanzas[0].Type != jingle.TypeResult {
		t.Errorf("first stanza = %+v, want ack", h.out.stanzas[0])
	}

	if err := h.tel.Answer(context.Background(), p); err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	acc := h.out.find(jingle.ActionSessionAccept, aliceJID)
	if acc == nil || acc.Jingle.Responder != bobJID || len(acc.Jingle.Contents) != 1 {
		t.Fatalf("session-accept = %+v", acc)
	}
	if got := p.State(); got != domain.StateConnected {
		t.Fatalf("state = %s", got)
	}
	waitFor(t, "media", func() bool { return h.media.startCount("s1") == 1 })

	if err := h.tel.Answer(context.Background(), p); err == nil {
		t.Error("second Answer() succeeded")
	}
}

func TestAutoAnswerPolicy(t *testing.T) {
	h := newHarness(t, Config{}, AutoAnswerPolicy{})
	p := h.incoming(t, aliceJID, "s1")
	waitFor(t, "connected", stateIs(p, domain.StateConnected))
}

func TestSingleCallPolicyRejectsBusy(t *testing.T) {
	h := newHarness(t, Config{}, SingleCallPolicy{})
	h.connected(t, aliceJID, "s1")

	h.deliver(offerFrom(carolJID, "s2", audioContents()))
	term := h.out.find(jingle.ActionSessionTerminate, carolJID)
	if term == nil || term.Jingle.Reason.Reason != jingle.ReasonBusy {
		t.Fatalf("terminate = %+v", term)
	}
	if _, ok := h.tel.Registry().FindBySessionID("s2"); ok {
		t.Error("rejected session still registered")
	}
}

func TestTerminateReason(t *testing.T) {
	tests := []struct {
		state  domain.PeerState
		reason HangupReason
		want   jingle.Reason
	}{
		{domain.StateConnected, HangupNormal, jingle.ReasonSuccess},
		{domain.StateConnecting, HangupNormal, jingle.ReasonCancel},
		{domain.StateAlerting, HangupNormal, jingle.ReasonCancel},
		{domain.StateInitiating, HangupNormal, jingle.ReasonCancel},
		{domain.StateIncoming, HangupNormal, jingle.ReasonBusy},
		{domain.StateConnected, HangupEncryptionRequired, jingle.ReasonSecurityError},
		{domain.StateConnected, HangupTimeout, jingle.ReasonTimeout},
		{domain.StateConnecting, HangupBusy, jingle.ReasonBusy},
	}
	for _, tt := range tests {
		if got := terminateReason(tt.state, tt.reason); got != tt.want {
			t.Errorf("terminateReason(%s, %d) = %s, want %s", tt.state, tt.reason, got, tt.want)
		}
	}
}

func TestHangupIncomingSendsBusy(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	p := h.incoming(t, aliceJID, "s1")
	h.drain()

	if err := h.tel.Hangup(context.Background(), p, HangupNormal); err != nil {
		t.Fatalf("Hangup() error = %v", err)
	}
	term := h.out.find(jingle.ActionSessionTerminate, aliceJID)
	if term == nil || term.Jingle.Reason.Reason != jingle.ReasonBusy {
		t.Fatalf("terminate = %+v", term)
	}
	if got := p.State(); got != domain.StateEnded {
		t.Errorf("state = %s", got)
	}
	if got := kinds(h.drain()); !slices.Equal(got, []EventKind{EventPeerState, EventPeerRemoved, EventCallEnded}) {
		t.Errorf("events = %v", got)
	}
	if err := h.tel.Hangup(context.Background(), p, HangupNormal); err != nil {
		t.Errorf("second Hangup() error = %v", err)
	}
	if n := h.out.count(jingle.ActionSessionTerminate); n != 1 {
		t.Errorf("terminates sent = %d", n)
	}
}

func TestHangupConnectedSendsSuccess(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	p := h.connected(t, aliceJID, "s1")
	waitFor(t, "media", func() bool { return h.media.startCount("s1") == 1 })

	if err := h.tel.Hangup(context.Background(), p, HangupNormal); err != nil {
		t.Fatalf("Hangup() error = %v", err)
	}
	term := h.out.find(jingle.ActionSessionTerminate, aliceJID)
	if term == nil || term.Jingle.Reason.Reason != jingle.ReasonSuccess {
		t.Fatalf("terminate = %+v", term)
	}
	if !h.factory.neg("s1").isClosed() {
		t.Error("negotiator left open")
	}
}

func TestHangupBeforeOfferSendsNothing(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	h.factory.block = true
	_, p, err := h.tel.CreateCall(context.Background(), "alice@example.com", false)
	if err != nil {
		t.Fatalf("CreateCall() error = %v", err)
	}
	if err := h.tel.Hangup(context.Background(), p, HangupNormal); err != nil {
		t.Fatalf("Hangup() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.tel.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if n := h.out.count(jingle.ActionSessionInitiate) + h.out.count(jingle.ActionSessionTerminate); n != 0 {
		t.Errorf("sent %d session stanzas, want none", n)
	}
	if got := p.State(); got != domain.StateEnded {
		t.Errorf("state = %s", got)
	}
}

func TestRemoteTerminateDisconnects(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	p := h.connected(t, aliceJID, "s1")

	h.deliver(jingle.NewTerminate("s1", aliceJID, bobJID, jingle.ReasonSuccess, ""))
	if got := p.State(); got != domain.StateDisconnected {
		t.Fatalf("state = %s", got)
	}
	if h.tel.Registry().Len() != 0 {
		t.Error("call still registered")
	}
}

func TestForeignSenderIgnored(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	p := h.connected(t, aliceJID, "s1")

	h.deliver(jingle.NewTerminate("s1", "mallory@example.com/x", bobJID, jingle.ReasonSuccess, ""))
	if got := p.State(); got != domain.StateConnected {
		t.Errorf("state = %s", got)
	}
}

func TestErrorReplyFailsOffer(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	_, p, err := h.tel.CreateCall(context.Background(), "alice@example.com", false)
	if err != nil {
		t.Fatalf("CreateCall() error = %v", err)
	}
	waitFor(t, "offer", func() bool { return h.out.find(jingle.ActionSessionInitiate, aliceJID) != nil })

	offer := h.out.find(jingle.ActionSessionInitiate, aliceJID)
	h.deliver(offer.ErrorReply(jingle.CondServiceUnavailable, ""))
	if got := p.State(); got != domain.StateFailed {
		t.Fatalf("state = %s", got)
	}
	if p.Reason() != jingle.CondServiceUnavailable {
		t.Errorf("reason = %q", p.Reason())
	}
}

func TestStrayStanzaIgnored(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	h.deliver(jingle.NewTerminate("nope", aliceJID, bobJID, jingle.ReasonSuccess, ""))
	if h.tel.Registry().Len() != 0 {
		t.Error("stray stanza created a call")
	}
}

func TestPlaceholderReplacedByGatewaySession(t *testing.T) {
	h := newHarness(t, Config{VoiceGatewayAccount: true}, nil)
	call, placeholder, err := h.tel.CreateCall(context.Background(), "5551234", false)
	if err != nil {
		t.Fatalf("CreateCall() error = %v", err)
	}
	waitFor(t, "offer", func() bool { return placeholder.InitiatingMessageID() != "" })
	if ev := h.drain(); len(ev) != 0 {
		t.Fatalf("placeholder published %v", kinds(ev))
	}

	gw := domain.JID("5551234@voice.google.com/gw1")
	st := offerFrom(gw, "gw-sid", audioContents())
	st.Jingle.CallID = call.ID
	h.deliver(st)

	peers := call.Peers()
	if len(peers) != 1 || peers[0].SID() != "gw-sid" {
		t.Fatalf("peers = %v", peers)
	}
	if got := placeholder.State(); got != domain.StateEnded {
		t.Errorf("placeholder state = %s", got)
	}
	if !h.factory.neg(placeholder.SID()).isClosed() {
		t.Error("placeholder negotiator left open")
	}
	waitFor(t, "auto answer", stateIs(peers[0], domain.StateConnected))

	got := kinds(h.drain())
	if len(got) < 2 || got[0] != EventCallCreated || got[1] != EventPeerAdded {
		t.Errorf("events = %v", got)
	}
	if slices.Contains(got, EventCallEnded) || slices.Contains(got, EventPeerRemoved) {
		t.Errorf("placeholder removal leaked events: %v", got)
	}
}

func TestPlaceholderOnlyCallEndsOnce(t *testing.T) {
	h := newHarness(t, Config{VoiceGatewayAccount: true}, nil)
	call, placeholder, err := h.tel.CreateCall(context.Background(), "5551234", false)
	if err != nil {
		t.Fatalf("CreateCall() error = %v", err)
	}
	waitFor(t, "offer", func() bool { return placeholder.InitiatingMessageID() != "" })
	if err := h.tel.Hangup(context.Background(), placeholder, HangupNormal); err != nil {
		t.Fatalf("Hangup() error = %v", err)
	}
	got := h.drain()
	if len(got) != 1 || got[0].Kind != EventCallEnded || got[0].CallID != call.ID {
		t.Errorf("events = %v, want a single call-ended", kinds(got))
	}
	if _, ok := h.tel.Registry().FindByCallID(call.ID); ok {
		t.Error("call still registered")
	}
}

func TestAttendedTransferAnswersAndHangsUpAttendant(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	attendant := h.connected(t, aliceJID, "att")

	st := offerFrom(carolJID, "xfer", audioContents())
	st.Jingle.Transfer = &jingle.Transfer{SID: "att", From: aliceJID, To: bobJID}
	h.deliver(st)

	p, ok := h.tel.Registry().FindBySessionID("xfer")
	if !ok {
		t.Fatal("transfer session not registered")
	}
	waitFor(t, "transfer answered", stateIs(p, domain.StateConnected))
	waitFor(t, "attendant hung up", stateIs(attendant, domain.StateEnded))
	if h.out.find(jingle.ActionSessionAccept, carolJID) == nil {
		t.Error("no session-accept to transferee")
	}
	term := h.out.find(jingle.ActionSessionTerminate, aliceJID)
	if term == nil || term.Jingle.Reason.Reason != jingle.ReasonSuccess {
		t.Errorf("attendant terminate = %+v", term)
	}
}

func TestAttendedTransferIdentityMismatchRings(t *testing.T) {
	tests := []struct {
		name string
		tr   jingle.Transfer
	}{
		{"foreign from", jingle.Transfer{SID: "att", From: "mallory@example.com/x", To: bobJID}},
		{"foreign to", jingle.Transfer{SID: "att", From: aliceJID, To: "bob@example.com/other"}},
		{"unknown session", jingle.Transfer{SID: "nope", From: aliceJID, To: bobJID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{}, nil)
			attendant := h.connected(t, aliceJID, "att")

			st := offerFrom(carolJID, "xfer", audioContents())
			st.Jingle.Transfer = &tt.tr
			h.deliver(st)

			p, ok := h.tel.Registry().FindBySessionID("xfer")
			if !ok {
				t.Fatal("transfer session not registered")
			}
			if got := p.State(); got != domain.StateIncoming {
				t.Errorf("transferee state = %s, want incoming", got)
			}
			if got := attendant.State(); got != domain.StateConnected {
				t.Errorf("attendant state = %s", got)
			}
		})
	}
}

func TestBareAttendantMatchesFullFrom(t *testing.T) {
	if !sameIdentity("alice@example.com/phone", "alice@example.com") {
		t.Error("bare should match full")
	}
	if sameIdentity("alice@example.com/phone", "alice@example.com/laptop") {
		t.Error("different resources matched")
	}
	if sameIdentity("", "alice@example.com") {
		t.Error("empty matched")
	}
}

func TestTransferRequestPlacesNewCall(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	p := h.connected(t, aliceJID, "s1")

	info := jingle.NewSessionIQ(jingle.ActionSessionInfo, "s1", aliceJID, bobJID, nil)
	info.Jingle.Transfer = &jingle.Transfer{SID: "a-c", From: aliceJID, To: carolJID}
	h.deliver(info)

	waitFor(t, "offer to target", func() bool { return h.out.find(jingle.ActionSessionInitiate, carolJID) != nil })
	offer := h.out.find(jingle.ActionSessionInitiate, carolJID)
	if tr := offer.Jingle.Transfer; tr == nil || tr.SID != "a-c" || tr.From != aliceJID || tr.To != carolJID {
		t.Errorf("forwarded transfer = %+v", offer.Jingle.Transfer)
	}
	if got := p.State(); got != domain.StateEnded {
		t.Errorf("transferor state = %s", got)
	}
}

func TestTransferSendsSessionInfo(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	p := h.connected(t, aliceJID, "s1")
	att := h.connected(t, carolJID, "s2")

	if err := h.tel.Transfer(context.Background(), p, "", att); err != nil {
		t.Fatalf("Transfer() error = %v", err)
	}
	info := h.out.find(jingle.ActionSessionInfo, aliceJID)
	if info == nil || info.Jingle.Transfer == nil {
		t.Fatalf("session-info = %+v", info)
	}
	if tr := info.Jingle.Transfer; tr.SID != "s2" || tr.From != bobJID || tr.To != carolJID {
		t.Errorf("transfer = %+v", tr)
	}
}

func TestHold(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	p := h.incoming(t, aliceJID, "s1")
	if err := h.tel.PutOnHold(context.Background(), p); err == nil {
		t.Fatal("PutOnHold() on ringing peer succeeded")
	}
	if err := h.tel.Answer(context.Background(), p); err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if err := h.tel.PutOnHold(context.Background(), p); err != nil {
		t.Fatalf("PutOnHold() error = %v", err)
	}
	info := h.out.find(jingle.ActionSessionInfo, aliceJID)
	if info == nil || info.Jingle.Info == nil || *info.Jingle.Info != jingle.InfoHold || !p.OnHold() {
		t.Fatalf("hold = %+v", info)
	}
	h.drain()

	h.deliver(jingle.NewSessionInfo("s1", aliceJID, bobJID, jingle.InfoHold))
	if !p.RemotelyOnHold() {
		t.Error("remote hold not recorded")
	}
	i := slices.IndexFunc(h.drain(), func(e Event) bool { return e.Kind == EventRemoteHold })
	if i < 0 {
		t.Error("no remote-hold event")
	}
}

func TestTransportInfoDoesNotStallSignaling(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	p := h.connected(t, aliceJID, "s1")
	neg := h.factory.neg("s1")
	before := neg.remoteCount()

	gate := make(chan struct{})
	neg.mu.Lock()
	neg.gate = gate
	neg.mu.Unlock()
	defer func() {
		select {
		case <-gate:
		default:
			close(gate)
		}
	}()

	delivered := make(chan struct{})
	go func() {
		defer close(delivered)
		for range 2 {
			h.deliver(jingle.NewSessionIQ(jingle.ActionTransportInfo, "s1", aliceJID, bobJID, audioContents()))
		}
		h.deliver(jingle.NewSessionInfo("s1", aliceJID, bobJID, jingle.InfoHold))
	}()
	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("HandleStanza() blocked behind a slow transport-info")
	}
	if !p.RemotelyOnHold() {
		t.Error("session-info not handled while transport-info was pending")
	}

	close(gate)
	waitFor(t, "transport-info applied", func() bool { return neg.remoteCount() == before+2 })
}

func TestConferenceFocus(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	p := h.connected(t, aliceJID, "s1")

	if err := h.tel.SetConferenceFocus(context.Background(), p.Call(), true); err != nil {
		t.Fatalf("SetConferenceFocus() error = %v", err)
	}
	info := h.out.find(jingle.ActionSessionInfo, aliceJID)
	if info == nil || info.Jingle.Focus == nil || !*info.Jingle.Focus {
		t.Fatalf("focus info = %+v", info)
	}
	if !p.Call().IsConferenceFocus() {
		t.Error("call not marked as focus")
	}

	st := jingle.NewSessionIQ(jingle.ActionSessionInfo, "s1", aliceJID, bobJID, nil)
	st.Jingle.Focus = ptr(true)
	h.deliver(st)
	if !p.ConferenceFocus() || !p.Call().remoteFocus() {
		t.Error("remote focus not recorded")
	}
}

func TestContentAddAndRemove(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	p := h.connected(t, aliceJID, "s1")

	video := audioContents()
	video[0].Name = "video"
	video[0].Description = []byte(`{"media":"video"}`)
	fax := audioContents()
	fax[0].Name = "fax"
	fax[0].Description = []byte(`{"media":"fax"}`)
	h.deliver(jingle.NewSessionIQ(jingle.ActionContentAdd, "s1", aliceJID, bobJID, append(video, fax...)))

	waitFor(t, "content-accept", func() bool { return h.out.find(jingle.ActionContentAccept, aliceJID) != nil })
	acc := h.out.find(jingle.ActionContentAccept, aliceJID)
	if len(acc.Jingle.Contents) != 1 || acc.Jingle.Contents[0].Name != "video" {
		t.Errorf("accepted = %+v", acc.Jingle.Contents)
	}
	waitFor(t, "content-reject", func() bool { return h.out.find(jingle.ActionContentReject, aliceJID) != nil })
	if _, ok := domain.FindContent(p.LocalContents(), "video"); !ok {
		t.Fatal("video not in local contents")
	}

	h.deliver(jingle.NewSessionIQ(jingle.ActionContentRemove, "s1", aliceJID, bobJID, []domain.Content{{Name: "video"}}))
	if _, ok := domain.FindContent(p.LocalContents(), "video"); ok {
		t.Error("video still in local contents")
	}
	if _, ok := h.factory.neg("s1").Local("video"); ok {
		t.Error("negotiator kept video")
	}
}

func TestAddVideoSendsContentAdd(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	p := h.connected(t, aliceJID, "s1")

	if err := h.tel.AddVideo(context.Background(), p); err != nil {
		t.Fatalf("AddVideo() error = %v", err)
	}
	add := h.out.find(jingle.ActionContentAdd, aliceJID)
	if add == nil || len(add.Jingle.Contents) != 1 || add.Jingle.Contents[0].Name != "video" {
		t.Fatalf("content-add = %+v", add)
	}
	if err := h.tel.RemoveContent(context.Background(), p, "video"); err != nil {
		t.Fatalf("RemoveContent() error = %v", err)
	}
	if h.out.find(jingle.ActionContentRemove, aliceJID) == nil {
		t.Error("no content-remove sent")
	}
}

func TestTransportReplace(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	p := h.connected(t, aliceJID, "s1")
	old := h.factory.neg("s1")

	raw := audioContents()
	raw[0].Transport.Kind = domain.TransportRawUDP
	h.deliver(jingle.NewSessionIQ(jingle.ActionTransportReplace, "s1", aliceJID, bobJID, raw))

	waitFor(t, "transport-accept", func() bool { return h.out.find(jingle.ActionTransportAccept, aliceJID) != nil })
	acc := h.out.find(jingle.ActionTransportAccept, aliceJID)
	if acc.Jingle.Contents[0].Transport.Kind != domain.TransportRawUDP {
		t.Errorf("accepted transport = %s", acc.Jingle.Contents[0].Transport.Kind)
	}
	if !old.isClosed() {
		t.Error("old negotiator left open")
	}
	if p.negotiator().Kind() != domain.TransportRawUDP {
		t.Error("negotiator not swapped")
	}
}

func TestTransportReplaceRejected(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	p := h.connected(t, aliceJID, "s1")

	bad := audioContents()
	bad[0].Transport.Kind = "carrier-pigeon"
	h.deliver(jingle.NewSessionIQ(jingle.ActionTransportReplace, "s1", aliceJID, bobJID, bad))

	waitFor(t, "transport-reject", func() bool { return h.out.find(jingle.ActionTransportReject, aliceJID) != nil })
	if p.negotiator().Kind() != domain.TransportICEUDP {
		t.Error("negotiator replaced after reject")
	}
	if got := p.State(); got != domain.StateConnected {
		t.Errorf("state = %s", got)
	}
}

func TestShutdownWithFullEventBuffer(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	h.connected(t, aliceJID, "s1")
	h.connected(t, carolJID, "s2")

	bus := h.tel.Events()
	for len(bus.ch) < cap(bus.ch) {
		bus.publish(Event{Kind: EventPeerState})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	returned := make(chan struct{})
	go func() {
		_ = h.tel.Shutdown(ctx)
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown() blocked on a full event buffer")
	}

	n := 0
	for range bus.Events() {
		n++
	}
	if n != cap(bus.ch) {
		t.Errorf("drained %d events after Shutdown, want %d", n, cap(bus.ch))
	}
}

func TestShutdownClosesEventBus(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	h.connected(t, aliceJID, "s1")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.tel.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	var got []EventKind
	for e := range h.tel.Events().Events() {
		got = append(got, e.Kind)
	}
	if !slices.Contains(got, EventCallEnded) {
		t.Errorf("events = %v, want call-ended before the bus closed", got)
	}
}

func TestShutdownHangsUpEveryPeer(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	a := h.connected(t, aliceJID, "s1")
	c := h.incoming(t, carolJID, "s2")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.tel.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if a.State() != domain.StateEnded || c.State() != domain.StateEnded {
		t.Errorf("states = %s, %s", a.State(), c.State())
	}
	if h.tel.Registry().Len() != 0 {
		t.Error("calls left after shutdown")
	}
	if _, _, err := h.tel.CreateCall(context.Background(), "alice@example.com", false); err == nil {
		t.Error("CreateCall() after shutdown succeeded")
	}
}
