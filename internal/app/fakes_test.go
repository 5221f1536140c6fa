package app

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Jingle/internal/core"
	"github.com/dkeye/Jingle/internal/core/mock_core"
	"github.com/dkeye/Jingle/internal/domain"
	"github.com/dkeye/Jingle/internal/jingle"
	"go.uber.org/mock/gomock"
)

const (
	bobJID   domain.JID = "bob@example.com/desk"
	aliceJID domain.JID = "alice@example.com/phone"
	carolJID domain.JID = "carol@example.com/pc"
)

type fakeNeg struct {
	kind    domain.TransportKind
	block   bool
	connErr error
	// gate, when set, holds StartConnectivityEstablishment until closed.
	gate chan struct{}

	mu      sync.Mutex
	local   []domain.Content
	remote  []domain.Content
	started bool
	closed  bool
}

func (f *fakeNeg) Kind() domain.TransportKind { return f.kind }

func (f *fakeNeg) BeginHarvest(_ context.Context, remote, local []domain.Content) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remote = domain.CloneContents(remote)
	f.local = domain.CloneContents(local)
	for i := range f.local {
		f.local[i].Transport = domain.Transport{
			Kind: f.kind,
			Candidates: []domain.Candidate{
				{Component: domain.ComponentRTP, Type: domain.CandidateHost, Protocol: "udp", Address: "192.0.2.10", Port: 5000 + 2*i},
				{Component: domain.ComponentRTCP, Type: domain.CandidateHost, Protocol: "udp", Address: "192.0.2.10", Port: 5001 + 2*i},
			},
		}
	}
	return nil
}

func (f *fakeNeg) WrapupHarvest(ctx context.Context) ([]domain.Content, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, errors.New("closed")
	}
	return domain.CloneContents(f.local), nil
}

func (f *fakeNeg) StartConnectivityEstablishment(remote []domain.Content) bool {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remote = append(f.remote, domain.CloneContents(remote)...)
	if f.started || len(f.remote) == 0 {
		return false
	}
	f.started = true
	return true
}

func (f *fakeNeg) WrapupConnectivityEstablishment(context.Context) error { return f.connErr }

func (f *fakeNeg) AddContent(_ context.Context, local domain.Content, _ *domain.Content) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	local.Transport = domain.Transport{Kind: f.kind}
	f.local = append(f.local, local)
	return nil
}

func (f *fakeNeg) RemoveContent(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.local = slices.DeleteFunc(f.local, func(c domain.Content) bool { return c.Name == name })
}

func (f *fakeNeg) Local(name string) (domain.Content, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return domain.FindContent(f.local, name)
}

func (f *fakeNeg) Streams() []core.MediaStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]core.MediaStream, 0, len(f.local))
	for _, c := range f.local {
		out = append(out, core.MediaStream{Content: c.Name})
	}
	return out
}

func (f *fakeNeg) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeNeg) remoteCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.remote)
}

func (f *fakeNeg) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeFactory struct {
	mu    sync.Mutex
	block bool
	negs  map[string]*fakeNeg
}

func (f *fakeFactory) New(sid string, kind domain.TransportKind, _ bool) (core.TransportNegotiator, error) {
	if kind != domain.TransportICEUDP && kind != domain.TransportRawUDP && kind != domain.TransportP2P {
		return nil, errors.New("unsupported transport")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.negs == nil {
		f.negs = make(map[string]*fakeNeg)
	}
	n := &fakeNeg{kind: kind, block: f.block}
	f.negs[sid] = n
	return n, nil
}

func (f *fakeFactory) neg(sid string) *fakeNeg {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.negs[sid]
}

type fakeMedia struct {
	mu      sync.Mutex
	started map[string]int
	stopped map[string]int
}

func newFakeMedia() *fakeMedia {
	return &fakeMedia{started: make(map[string]int), stopped: make(map[string]int)}
}

func (m *fakeMedia) Offer(video bool) []domain.Content {
	out := []domain.Content{{Name: "audio", Creator: "initiator", Senders: domain.SendersBoth, Description: json.RawMessage(`{"media":"audio"}`)}}
	if video {
		out = append(out, domain.Content{Name: "video", Creator: "initiator", Senders: domain.SendersBoth, Description: json.RawMessage(`{"media":"video"}`)})
	}
	return out
}

func (m *fakeMedia) Answer(remote []domain.Content) ([]domain.Content, error) {
	out := make([]domain.Content, 0, len(remote))
	for _, c := range remote {
		if string(c.Description) == `{"media":"fax"}` {
			return nil, errors.New("unsupported media")
		}
		out = append(out, domain.Content{Name: c.Name, Creator: c.Creator, Senders: c.Senders, Description: c.Description})
	}
	return out, nil
}

func (m *fakeMedia) Encryption() []string { return []string{"srtp"} }

func (m *fakeMedia) Start(sid string, _ []core.MediaStream) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started[sid]++
	return nil
}

func (m *fakeMedia) Stop(sid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped[sid]++
}

func (m *fakeMedia) startCount(sid string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started[sid]
}

type fakeRoster map[domain.JID]domain.JID

func (r fakeRoster) Contains(bare domain.JID) bool {
	_, ok := r[bare]
	return ok
}

func (r fakeRoster) OnlineContacts() []domain.JID {
	out := make([]domain.JID, 0, len(r))
	for bare := range r {
		out = append(out, bare)
	}
	return out
}

func (r fakeRoster) BestResource(bare domain.JID) (domain.JID, bool) {
	full, ok := r[bare]
	return full, ok && full != ""
}

// outbox records what the telephony sent.
type outbox struct {
	mu      sync.Mutex
	stanzas []*jingle.Stanza
}

func (o *outbox) send(_ context.Context, st *jingle.Stanza) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stanzas = append(o.stanzas, st)
	return nil
}

// find returns the last jingle stanza with action addressed to to.
func (o *outbox) find(action jingle.Action, to domain.JID) *jingle.Stanza {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.stanzas) - 1; i >= 0; i-- {
		st := o.stanzas[i]
		if st.Jingle != nil && st.Type == jingle.TypeSet && st.Jingle.Action == action && st.To == to {
			return st
		}
	}
	return nil
}

func (o *outbox) count(action jingle.Action) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, st := range o.stanzas {
		if st.Jingle != nil && st.Type == jingle.TypeSet && st.Jingle.Action == action {
			n++
		}
	}
	return n
}

type harness struct {
	tel     *Telephony
	out     *outbox
	factory *fakeFactory
	media   *fakeMedia
}

func newHarness(t *testing.T, cfg Config, policy Policy) *harness {
	t.Helper()
	ctrl := gomock.NewController(t)
	sig := mock_core.NewMockSignaler(ctrl)
	out := &outbox{}
	sig.EXPECT().LocalJID().Return(bobJID).AnyTimes()
	sig.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(out.send).AnyTimes()

	h := &harness{out: out, factory: &fakeFactory{}, media: newFakeMedia()}
	h.tel = NewTelephony(cfg, Deps{
		Signaler: sig,
		Roster: fakeRoster{
			"alice@example.com": aliceJID,
			"carol@example.com": carolJID,
			"dave@example.com":  "",
		},
		Factory: h.factory,
		Media:   h.media,
		Policy:  policy,
		Events:  NewEventBus(512),
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = h.tel.Shutdown(ctx)
	})
	return h
}

func audioContents() []domain.Content {
	return []domain.Content{{
		Name:    "audio",
		Creator: "initiator",
		Senders: domain.SendersBoth,
		Transport: domain.Transport{
			Kind: domain.TransportICEUDP,
			Candidates: []domain.Candidate{
				{Component: domain.ComponentRTP, Type: domain.CandidateHost, Protocol: "udp", Address: "198.51.100.7", Port: 7000},
				{Component: domain.ComponentRTCP, Type: domain.CandidateHost, Protocol: "udp", Address: "198.51.100.7", Port: 7001},
			},
		},
		Description: json.RawMessage(`{"media":"audio"}`),
	}}
}

func offerFrom(from domain.JID, sid string, contents []domain.Content) *jingle.Stanza {
	st := jingle.NewSessionIQ(jingle.ActionSessionInitiate, sid, from, bobJID, contents)
	st.Jingle.Initiator = from
	st.Jingle.Encryption = []string{"srtp"}
	return st
}

func (h *harness) deliver(st *jingle.Stanza) {
	h.tel.HandleStanza(context.Background(), st)
}

// incoming delivers an offer and returns the ringing peer.
func (h *harness) incoming(t *testing.T, from domain.JID, sid string) *PeerSession {
	t.Helper()
	h.deliver(offerFrom(from, sid, audioContents()))
	p, ok := h.tel.Registry().FindBySessionID(sid)
	if !ok {
		t.Fatalf("session %s not registered", sid)
	}
	return p
}

// connected returns an answered incoming peer.
func (h *harness) connected(t *testing.T, from domain.JID, sid string) *PeerSession {
	t.Helper()
	p := h.incoming(t, from, sid)
	if err := h.tel.Answer(context.Background(), p); err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	return p
}

func (h *harness) drain() []Event {
	var out []Event
	for {
		select {
		case e, ok := <-h.tel.Events().Events():
			if !ok {
				return out
			}
			out = append(out, e)
		default:
			return out
		}
	}
}

func kinds(events []Event) []EventKind {
	out := make([]EventKind, 0, len(events))
	for _, e := range events {
		out = append(out, e.Kind)
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func stateIs(p *PeerSession, s domain.PeerState) func() bool {
	return func() bool { return p.State() == s }
}

func terminate(sid string, from domain.JID) *jingle.Stanza {
	return jingle.NewTerminate(sid, from, bobJID, jingle.ReasonSuccess, "")
}
