package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/Jingle/internal/core"
	"github.com/dkeye/Jingle/internal/domain"
	"github.com/dkeye/Jingle/internal/jingle"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// HangupReason selects the session-terminate reason of a local hangup.
type HangupReason int

const (
	HangupNormal HangupReason = iota
	HangupBusy
	HangupTimeout
	HangupEncryptionRequired
)

type Config struct {
	// Transport is used for outbound offers.
	Transport           domain.TransportKind
	VoiceDomain         string
	VoiceGatewayAccount bool
	PhoneSuffix         string
	BypassCapsDomain    string
	// Paranoia refuses sessions that do not negotiate encryption.
	Paranoia bool

	SendTimeout time.Duration
	InitWait    time.Duration
}

func (c *Config) defaults() {
	if c.Transport == "" {
		c.Transport = domain.TransportICEUDP
	}
	if c.VoiceDomain == "" {
		c.VoiceDomain = "voice.google.com"
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 5 * time.Second
	}
	if c.InitWait <= 0 {
		c.InitWait = 10 * time.Second
	}
}

type Deps struct {
	Signaler core.Signaler
	Roster   core.Roster
	Factory  core.NegotiatorFactory
	Media    core.MediaEngine
	Policy   Policy
	Events   *EventBus
}

// Telephony owns the calls of one account and drives them from inbound stanzas
// and local commands.
type Telephony struct {
	cfg      Config
	sig      core.Signaler
	roster   core.Roster
	factory  core.NegotiatorFactory
	media    core.MediaEngine
	policy   Policy
	events   *EventBus
	registry *Registry
	log      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewTelephony(cfg Config, d Deps) *Telephony {
	cfg.defaults()
	if d.Events == nil {
		d.Events = NewEventBus(0)
	}
	if d.Policy == nil {
		d.Policy = ManualPolicy{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Telephony{
		cfg:      cfg,
		sig:      d.Signaler,
		roster:   d.Roster,
		factory:  d.Factory,
		media:    d.Media,
		policy:   d.Policy,
		events:   d.Events,
		registry: NewRegistry(d.Events),
		log:      log.With().Str("module", "app.telephony").Logger(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (t *Telephony) Registry() *Registry { return t.registry }
func (t *Telephony) Events() *EventBus   { return t.events }

func (t *Telephony) goBackground(fn func()) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		fn()
	}()
}

// CreateCall starts an outbound call. The offer is harvested and sent in the
// background; the returned peer is in Initiating.
func (t *Telephony) CreateCall(ctx context.Context, callee string, video bool) (*Call, *PeerSession, error) {
	return t.createCall(ctx, callee, video, nil)
}

func (t *Telephony) createCall(ctx context.Context, callee string, video bool, ext func(*jingle.IQ)) (*Call, *PeerSession, error) {
	if err := t.ctx.Err(); err != nil {
		return nil, nil, opError(GeneralError, err, "telephony stopped")
	}
	remote, voice, err := t.resolveCallee(callee)
	if err != nil {
		return nil, nil, err
	}

	call := newCall(t.events)
	t.registry.Add(call)
	p := newPeerSession(t, call, remote, t.newSID(), true)
	if voice {
		// The gateway calls back with a session carrying our call id.
		p.silent = true
		call.addPlaceholder(p)
	} else {
		call.addPeer(p)
	}
	if err := p.setState(domain.StateInitiating, ""); err != nil {
		return nil, nil, opError(InternalError, err, "initiate %s", remote)
	}
	t.log.Info().Str("call", call.ID).Str("sid", p.sid).Str("callee", remote.String()).Bool("video", video).Msg("outbound call")
	t.goBackground(func() { p.initiate(video, ext) })
	return call, p, nil
}

// resolveCallee applies the address rules of outbound calls and reports
// whether the callee is a voice gateway number.
func (t *Telephony) resolveCallee(callee string) (domain.JID, bool, error) {
	callee = strings.TrimSpace(callee)
	if callee == "" {
		return "", false, opError(IllegalArgument, nil, "empty callee")
	}
	voice := false
	if t.cfg.VoiceGatewayAccount {
		if !strings.Contains(callee, "@") {
			callee += "@" + t.cfg.VoiceDomain
			voice = true
		} else {
			voice = strings.HasSuffix(domain.JID(callee).Bare().String(), "@"+t.cfg.VoiceDomain)
		}
	}
	if !strings.Contains(callee, "@") {
		suffix := t.cfg.PhoneSuffix
		if suffix == "" {
			suffix = t.sig.LocalJID().Domain()
		}
		callee += "@" + suffix
	}
	jid, err := domain.ParseJID(callee)
	if err != nil {
		return "", false, opError(IllegalArgument, err, "callee %q", callee)
	}

	bypass := voice || (t.cfg.BypassCapsDomain != "" && jid.Domain() == t.cfg.BypassCapsDomain)
	if !bypass && (t.roster == nil || !t.roster.Contains(jid.Bare())) {
		return "", false, opError(NotFound, nil, "%s does not belong to our contact list", jid.Bare())
	}
	if jid.IsFull() {
		return jid, voice, nil
	}
	if t.roster != nil {
		if full, ok := t.roster.BestResource(jid.Bare()); ok {
			return full, voice, nil
		}
	}
	if bypass {
		return jid, voice, nil
	}
	return "", false, opError(InternalError, nil, "no resource of %s supports jingle", jid)
}

func (t *Telephony) newSID() string {
	for {
		sid := strings.ReplaceAll(jingle.NewID(), "-", "")[:16]
		if _, taken := t.registry.FindBySessionID(sid); !taken {
			return sid
		}
	}
}

// HandleStanza acknowledges and dispatches an inbound stanza.
func (t *Telephony) HandleStanza(ctx context.Context, st *jingle.Stanza) {
	switch {
	case st.Type == jingle.TypeError:
		t.handleErrorReply(st)
	case st.Jingle != nil && st.Type == jingle.TypeSet:
		if err := t.sig.Send(ctx, st.Result()); err != nil {
			t.log.Warn().Err(err).Str("id", st.ID).Msg("ack failed")
		}
		t.handleJingle(ctx, st)
	default:
		t.log.Debug().Str("id", st.ID).Str("type", string(st.Type)).Msg("stanza ignored")
	}
}

// handleErrorReply fails the session whose offer the remote refused.
func (t *Telephony) handleErrorReply(st *jingle.Stanza) {
	p, ok := t.registry.FindByInitiatingMessageID(st.ID)
	if !ok {
		t.log.Debug().Str("id", st.ID).Msg("error reply for unknown request")
		return
	}
	text := "remote refused the session"
	if st.Error != nil {
		text = st.Error.Condition
		if st.Error.Text != "" {
			text += ": " + st.Error.Text
		}
	}
	if err := p.setState(domain.StateFailed, text); err != nil {
		p.log.Debug().Err(err).Msg("error reply")
	}
}

func (t *Telephony) handleJingle(ctx context.Context, st *jingle.Stanza) {
	iq := st.Jingle
	if iq.Action == jingle.ActionSessionInitiate {
		t.processSessionInitiate(ctx, st)
		return
	}
	p, ok := t.registry.FindBySessionID(iq.SID)
	if !ok {
		t.log.Debug().Str("sid", iq.SID).Str("action", string(iq.Action)).Msg("stray session stanza")
		return
	}
	if !strings.EqualFold(st.From.Bare().String(), p.remote.Bare().String()) {
		p.log.Warn().Str("from", st.From.String()).Str("action", string(iq.Action)).Msg("stanza from foreign jid")
		return
	}

	switch iq.Action {
	case jingle.ActionSessionAccept:
		p.processAccept(iq)
	case jingle.ActionSessionTerminate:
		p.processTerminate(iq)
	case jingle.ActionSessionInfo:
		p.processInfo(ctx, iq)
	case jingle.ActionTransportInfo:
		p.serially(func() { p.processTransportInfo(iq) })
	case jingle.ActionTransportAccept:
		p.serially(func() { p.feed(iq.Contents) })
	case jingle.ActionTransportReplace:
		t.goBackground(func() { p.processTransportReplace(iq) })
	case jingle.ActionTransportReject:
		p.log.Warn().Msg("transport-reject")
	case jingle.ActionContentAdd:
		t.goBackground(func() { p.processContentAdd(iq) })
	case jingle.ActionContentAccept:
		p.processContentAccept(iq)
	case jingle.ActionContentReject, jingle.ActionContentRemove:
		p.processContentRemove(iq)
	case jingle.ActionContentModify:
		p.processContentModify(iq)
	default:
		p.log.Debug().Str("action", string(iq.Action)).Msg("action ignored")
	}
}

func (t *Telephony) processSessionInitiate(ctx context.Context, st *jingle.Stanza) {
	iq := st.Jingle
	if _, dup := t.registry.FindBySessionID(iq.SID); dup {
		t.log.Warn().Str("sid", iq.SID).Msg("duplicate session-initiate")
		return
	}

	var (
		call   *Call
		joined bool
	)
	if iq.CallID != "" {
		call, joined = t.registry.FindByCallID(iq.CallID)
	}
	if joined && iq.Transfer != nil {
		t.log.Warn().Str("sid", iq.SID).Str("call", iq.CallID).Msg("offer carries call id and transfer; joining call")
	}
	if !joined {
		call = newCall(t.events)
	}

	p := newPeerSession(t, call, st.From, iq.SID, false)
	// Offers that fail validation never surface as events.
	p.silent = true
	if err := p.processOffer(iq); err != nil {
		return
	}
	p.mu.Lock()
	p.silent = false
	p.mu.Unlock()
	replacesPlaceholder := joined && call.hasPlaceholder()
	if !joined {
		t.registry.Add(call)
	}
	if !call.addPeer(p) {
		// The joined call ended while the offer was processed.
		call = newCall(t.events)
		p.call = call
		t.registry.Add(call)
		call.addPeer(p)
		replacesPlaceholder = false
	}
	if err := p.setState(domain.StateIncoming, ""); err != nil {
		return
	}
	p.log.Info().Bool("joined", joined).Msg("incoming session")

	switch {
	case replacesPlaceholder:
		t.goBackground(func() { t.autoAnswer(p) })
	case !joined && iq.Transfer != nil && t.attendedTransfer(p, iq.Transfer):
	default:
		switch t.policy.OnIncoming(t.registry, call, p) {
		case AutoAnswer:
			t.goBackground(func() { t.autoAnswer(p) })
		case RejectBusy:
			_ = p.hangup(ctx, HangupBusy)
		}
	}
}

func (t *Telephony) autoAnswer(p *PeerSession) {
	if err := p.answer(p.ctx); err != nil {
		p.log.Warn().Err(err).Msg("auto answer")
	}
}

// attendedTransfer answers p when it replaces one of our sessions, then hangs
// up the session it replaces. Each step is best effort.
func (t *Telephony) attendedTransfer(p *PeerSession, tr *jingle.Transfer) bool {
	if tr.SID == "" {
		return false
	}
	attendant, ok := t.registry.FindBySessionID(tr.SID)
	if !ok || attendant == p {
		p.log.Info().Str("attendant", tr.SID).Msg("transfer names no session of ours")
		return false
	}
	if !sameIdentity(tr.From, attendant.remote) || !sameIdentity(tr.To, t.sig.LocalJID()) {
		p.log.Warn().
			Str("from", tr.From.String()).
			Str("to", tr.To.String()).
			Str("attendant", attendant.remote.String()).
			Msg("transfer identities do not match")
		return false
	}
	t.goBackground(func() {
		if err := p.answer(p.ctx); err != nil {
			p.log.Error().Err(err).Msg("transfer: answer failed")
		}
		ctx, cancel := context.WithTimeout(t.ctx, t.cfg.SendTimeout)
		defer cancel()
		if err := attendant.hangup(ctx, HangupNormal); err != nil {
			attendant.log.Error().Err(err).Msg("transfer: hangup of attendant failed")
		}
	})
	return true
}

// processTransfer calls the transfer target and hangs up the transferor.
func (t *Telephony) processTransfer(ctx context.Context, p *PeerSession, tr *jingle.Transfer) {
	if tr.To == "" {
		p.log.Warn().Msg("transfer without target")
		return
	}
	from := tr.From
	if from == "" {
		from = p.remote
	} else if !sameIdentity(from, p.remote) {
		p.log.Warn().Str("from", from.String()).Msg("transfer from foreign jid")
		return
	}
	var ext func(*jingle.IQ)
	if tr.SID != "" {
		fwd := &jingle.Transfer{SID: tr.SID, From: from, To: tr.To}
		ext = func(iq *jingle.IQ) { iq.Transfer = fwd }
	}
	_, np, err := t.createCall(ctx, tr.To.String(), false, ext)
	if err != nil {
		p.log.Error().Err(err).Str("target", tr.To.String()).Msg("transfer call failed")
		return
	}
	p.log.Info().Str("target", tr.To.String()).Str("new_sid", np.sid).Msg("transferring")
	if err := p.hangup(ctx, HangupNormal); err != nil {
		p.log.Warn().Err(err).Msg("hangup after transfer")
	}
}

// sameIdentity compares full JIDs when both carry a resource and bare JIDs
// otherwise.
func sameIdentity(a, b domain.JID) bool {
	if a == "" || b == "" {
		return false
	}
	if a.IsFull() && b.IsFull() {
		return strings.EqualFold(a.String(), b.String())
	}
	return strings.EqualFold(a.Bare().String(), b.Bare().String())
}

func (t *Telephony) Answer(ctx context.Context, p *PeerSession) error {
	return p.answer(ctx)
}

func (t *Telephony) Hangup(ctx context.Context, p *PeerSession, reason HangupReason) error {
	return p.hangup(ctx, reason)
}

func (t *Telephony) PutOnHold(ctx context.Context, p *PeerSession) error {
	return p.putOnHold(ctx, true)
}

func (t *Telephony) PutOffHold(ctx context.Context, p *PeerSession) error {
	return p.putOnHold(ctx, false)
}

// Transfer asks p to call target. With an attendant, p is asked to replace
// our session with the attendant instead.
func (t *Telephony) Transfer(ctx context.Context, p *PeerSession, target domain.JID, attendant *PeerSession) error {
	if st := p.State(); st != domain.StateConnected {
		return fmt.Errorf("transfer in %s: %w", st, ErrIllegalState)
	}
	tr := &jingle.Transfer{To: target}
	if attendant != nil {
		tr = &jingle.Transfer{SID: attendant.sid, From: t.sig.LocalJID(), To: attendant.remote}
	}
	if tr.To == "" {
		return opError(IllegalArgument, nil, "transfer without target")
	}
	st := p.sessionIQ(jingle.ActionSessionInfo, nil)
	st.Jingle.Transfer = tr
	return p.send(ctx, st)
}

// SetConferenceFocus announces whether we mix the call to every connected peer.
func (t *Telephony) SetConferenceFocus(ctx context.Context, call *Call, on bool) error {
	if !call.setFocus(on) {
		return nil
	}
	var errs []error
	for _, p := range call.connectedPeers() {
		st := p.sessionIQ(jingle.ActionSessionInfo, nil)
		st.Jingle.Focus = &on
		if err := p.send(ctx, st); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AddVideo offers a video line to a connected peer.
func (t *Telephony) AddVideo(ctx context.Context, p *PeerSession) error {
	return p.addContent(ctx, true)
}

func (t *Telephony) RemoveContent(ctx context.Context, p *PeerSession, name string) error {
	return p.removeContent(ctx, name)
}

// Shutdown hangs up every live peer, waits for background work and closes
// the event bus. When ctx ends first, the bus is closed so publishers
// blocked on a full buffer return.
func (t *Telephony) Shutdown(ctx context.Context) error {
	stop := context.AfterFunc(ctx, t.events.Close)
	defer stop()
	defer t.events.Close()

	for _, c := range t.registry.ActiveCalls() {
		for _, p := range c.Peers() {
			if err := p.hangup(ctx, HangupNormal); err != nil {
				p.log.Warn().Err(err).Msg("hangup on shutdown")
			}
		}
	}
	t.cancel()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		t.log.Info().Msg("telephony stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
