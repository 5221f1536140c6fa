package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dkeye/Jingle/internal/core"
	"github.com/dkeye/Jingle/internal/domain"
	"github.com/dkeye/Jingle/internal/jingle"
	"github.com/rs/zerolog"
)

var errMalformedOffer = errors.New("offer carries no usable content")

// PeerSession is the signaling state of one remote party in a call.
type PeerSession struct {
	t         *Telephony
	call      *Call
	remote    domain.JID
	sid       string
	initiator bool
	log       zerolog.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	initDone chan struct{}
	initOnce sync.Once

	mu             sync.Mutex
	state          domain.PeerState
	reason         string
	silent         bool
	offerSent      bool
	initMsgID      string
	neg            core.TransportNegotiator
	establishing   bool
	mediaUp        bool
	local          []domain.Content
	remoteContents []domain.Content
	transfer       *jingle.Transfer
	focus          bool
	onHold         bool
	remoteHold     bool

	// transport updates run in arrival order off the signaling loop.
	updMu      sync.Mutex
	updates    []func()
	updRunning bool
}

func newPeerSession(t *Telephony, call *Call, remote domain.JID, sid string, initiator bool) *PeerSession {
	ctx, cancel := context.WithCancel(t.ctx)
	return &PeerSession{
		t:         t,
		call:      call,
		remote:    remote,
		sid:       sid,
		initiator: initiator,
		ctx:       ctx,
		cancel:    cancel,
		initDone:  make(chan struct{}),
		log: t.log.With().
			Str("call", call.ID).
			Str("sid", sid).
			Str("peer", remote.String()).
			Logger(),
	}
}

func (p *PeerSession) SID() string        { return p.sid }
func (p *PeerSession) Remote() domain.JID { return p.remote }
func (p *PeerSession) Call() *Call        { return p.call }
func (p *PeerSession) IsInitiator() bool  { return p.initiator }

func (p *PeerSession) State() domain.PeerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Reason is the text recorded with the last transition.
func (p *PeerSession) Reason() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reason
}

func (p *PeerSession) InitiatingMessageID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initMsgID
}

// Transfer returns the transfer request carried by the offer, if any.
func (p *PeerSession) Transfer() *jingle.Transfer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.transfer
}

func (p *PeerSession) ConferenceFocus() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.focus
}

func (p *PeerSession) OnHold() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.onHold
}

func (p *PeerSession) RemotelyOnHold() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remoteHold
}

// LocalContents returns the contents we advertised.
func (p *PeerSession) LocalContents() []domain.Content {
	p.mu.Lock()
	defer p.mu.Unlock()
	return domain.CloneContents(p.local)
}

func (p *PeerSession) negotiator() core.TransportNegotiator {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.neg
}

func (p *PeerSession) publish(e Event) {
	p.mu.Lock()
	silent := p.silent
	p.mu.Unlock()
	if silent {
		return
	}
	e.CallID = p.call.ID
	e.SID = p.sid
	e.Peer = p.remote
	p.t.events.publish(e)
}

// setState applies a validated transition. Entering a terminal state releases
// the negotiator and media and drops p from its call.
func (p *PeerSession) setState(to domain.PeerState, reason string) error {
	p.mu.Lock()
	from := p.state
	next, err := from.Transition(to)
	if err != nil {
		p.mu.Unlock()
		return err
	}
	p.state = next
	p.reason = reason
	var (
		neg     core.TransportNegotiator
		mediaUp bool
	)
	if next.IsTerminal() {
		neg, p.neg = p.neg, nil
		mediaUp, p.mediaUp = p.mediaUp, false
		p.cancel()
	}
	p.mu.Unlock()

	p.log.Info().Str("from", from.String()).Str("to", next.String()).Str("reason", reason).Msg("peer state")
	p.publish(Event{Kind: EventPeerState, State: next, Reason: reason})

	if next.IsTerminal() {
		p.markInitDone()
		p.release(neg, mediaUp)
		p.call.removePeer(p)
	}
	return nil
}

func (p *PeerSession) release(neg core.TransportNegotiator, mediaUp bool) {
	if neg != nil {
		if err := neg.Close(); err != nil {
			p.log.Debug().Err(err).Msg("negotiator close")
		}
	}
	if mediaUp {
		p.t.media.Stop(p.sid)
	}
}

// discard ends a placeholder that was replaced. It publishes nothing and does
// not touch the call, which already dropped it.
func (p *PeerSession) discard() {
	p.mu.Lock()
	p.silent = true
	if next, err := p.state.Transition(domain.StateEnded); err == nil {
		p.state = next
	}
	neg := p.neg
	p.neg = nil
	p.cancel()
	p.mu.Unlock()
	p.markInitDone()
	p.release(neg, false)
}

func (p *PeerSession) markInitDone() {
	p.initOnce.Do(func() { close(p.initDone) })
}

func (p *PeerSession) send(ctx context.Context, st *jingle.Stanza) error {
	if err := p.t.sig.Send(ctx, st); err != nil {
		p.log.Warn().Err(err).Str("action", string(st.Jingle.Action)).Msg("send failed")
		return err
	}
	return nil
}

func (p *PeerSession) sessionIQ(action jingle.Action, contents []domain.Content) *jingle.Stanza {
	return jingle.NewSessionIQ(action, p.sid, p.t.sig.LocalJID(), p.remote, contents)
}

func (p *PeerSession) sendTerminate(ctx context.Context, reason jingle.Reason, text string) {
	st := jingle.NewTerminate(p.sid, p.t.sig.LocalJID(), p.remote, reason, text)
	_ = p.send(ctx, st)
}

// fail moves p to Failed. The remote side is told unless we are the caller and
// never got the offer out.
func (p *PeerSession) fail(reason jingle.Reason, cause error) {
	p.mu.Lock()
	if p.state.IsTerminal() {
		p.mu.Unlock()
		return
	}
	notify := !p.initiator || p.offerSent
	p.mu.Unlock()

	p.log.Warn().Err(cause).Str("reason", string(reason)).Msg("peer failed")
	if notify {
		ctx, cancel := context.WithTimeout(context.Background(), p.t.cfg.SendTimeout)
		p.sendTerminate(ctx, reason, cause.Error())
		cancel()
	}
	_ = p.setState(domain.StateFailed, cause.Error())
}

// initiate harvests and sends the offer. ext decorates the offer payload.
func (p *PeerSession) initiate(video bool, ext func(*jingle.IQ)) {
	ctx := p.ctx
	local := p.t.media.Offer(video)

	neg, err := p.t.factory.New(p.sid, p.t.cfg.Transport, true)
	if err != nil {
		p.fail(jingle.ReasonUnsupportedTransports, err)
		return
	}
	p.mu.Lock()
	if p.state.IsTerminal() {
		p.mu.Unlock()
		_ = neg.Close()
		return
	}
	p.neg = neg
	p.mu.Unlock()

	if err := neg.BeginHarvest(ctx, nil, local); err != nil {
		p.fail(jingle.ReasonFailedApplication, err)
		return
	}
	if err := p.setState(domain.StateConnecting, ""); err != nil {
		return
	}
	contents, err := neg.WrapupHarvest(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.fail(jingle.ReasonFailedApplication, err)
		}
		return
	}

	st := p.sessionIQ(jingle.ActionSessionInitiate, contents)
	st.Jingle.Initiator = p.t.sig.LocalJID()
	st.Jingle.CallID = p.call.ID
	st.Jingle.Encryption = p.t.media.Encryption()
	if ext != nil {
		ext(st.Jingle)
	}
	p.mu.Lock()
	if p.state.IsTerminal() {
		p.mu.Unlock()
		p.log.Info().Msg("hung up before the offer went out")
		return
	}
	p.local = contents
	p.initMsgID = st.ID
	p.offerSent = true
	p.mu.Unlock()

	p.watchTrickle(neg)
	if err := p.send(ctx, st); err != nil {
		p.fail(jingle.ReasonGeneralError, err)
		return
	}
	p.markInitDone()
}

// processOffer validates an inbound session-initiate and starts the answer
// harvest. Any error has already moved p to Failed.
func (p *PeerSession) processOffer(iq *jingle.IQ) error {
	defer p.markInitDone()

	p.mu.Lock()
	p.remoteContents = domain.CloneContents(iq.Contents)
	p.transfer = iq.Transfer
	p.focus = iq.Focus != nil && *iq.Focus
	p.mu.Unlock()

	kind, err := offerTransport(iq.Contents)
	if err != nil {
		p.fail(jingle.ReasonIncompatibleParameters, err)
		return err
	}
	if p.t.cfg.Paranoia && len(iq.Encryption) == 0 {
		err := errors.New("remote offers no encryption")
		p.fail(jingle.ReasonSecurityError, err)
		return err
	}
	answer, err := p.t.media.Answer(iq.Contents)
	if err != nil {
		p.fail(jingle.ReasonIncompatibleParameters, err)
		return err
	}
	neg, err := p.t.factory.New(p.sid, kind, false)
	if err != nil {
		p.fail(jingle.ReasonUnsupportedTransports, err)
		return err
	}
	p.mu.Lock()
	p.neg = neg
	p.local = answer
	p.mu.Unlock()

	if err := neg.BeginHarvest(p.ctx, iq.Contents, answer); err != nil {
		p.fail(jingle.ReasonFailedApplication, err)
		return err
	}
	return nil
}

// offerTransport returns the single transport kind all contents agree on.
func offerTransport(contents []domain.Content) (domain.TransportKind, error) {
	if len(contents) == 0 {
		return "", errMalformedOffer
	}
	kind := contents[0].Transport.Kind
	for _, c := range contents {
		if c.Name == "" || c.Transport.Kind == "" {
			return "", errMalformedOffer
		}
		if c.Transport.Kind != kind {
			return "", fmt.Errorf("%w: mixed transports %s and %s", errMalformedOffer, kind, c.Transport.Kind)
		}
	}
	return kind, nil
}

// answer accepts an Incoming session.
func (p *PeerSession) answer(ctx context.Context) error {
	p.mu.Lock()
	if p.state != domain.StateIncoming {
		state := p.state
		p.mu.Unlock()
		return fmt.Errorf("answer in %s: %w", state, ErrIllegalState)
	}
	neg := p.neg
	p.mu.Unlock()

	if err := p.setState(domain.StateConnecting, ""); err != nil {
		return err
	}
	contents, err := neg.WrapupHarvest(ctx)
	if err != nil {
		p.fail(jingle.ReasonFailedApplication, err)
		return err
	}

	p.mu.Lock()
	if p.state.IsTerminal() {
		p.mu.Unlock()
		return fmt.Errorf("answer: %w", ErrIllegalState)
	}
	p.local = contents
	remote := domain.CloneContents(p.remoteContents)
	p.mu.Unlock()

	st := p.sessionIQ(jingle.ActionSessionAccept, contents)
	st.Jingle.Responder = p.t.sig.LocalJID()
	st.Jingle.Encryption = p.t.media.Encryption()
	p.watchTrickle(neg)
	if err := p.send(ctx, st); err != nil {
		p.fail(jingle.ReasonGeneralError, err)
		return err
	}
	if err := p.setState(domain.StateConnected, ""); err != nil {
		return err
	}
	p.feed(remote)
	return nil
}

// hangup ends p locally. Hanging up a terminal peer is a no-op.
func (p *PeerSession) hangup(ctx context.Context, reason HangupReason) error {
	p.mu.Lock()
	state := p.state
	sent := p.offerSent
	p.mu.Unlock()
	if state.IsTerminal() {
		return nil
	}

	jr := terminateReason(state, reason)
	if p.initiator && !sent {
		p.log.Info().Msg("cancelled before the offer was sent")
	} else {
		p.sendTerminate(ctx, jr, "")
	}
	err := p.setState(domain.StateEnded, string(jr))
	if errors.Is(err, domain.ErrTerminalState) {
		return nil
	}
	return err
}

// terminateReason maps a local hangup to the session-terminate reason.
func terminateReason(state domain.PeerState, reason HangupReason) jingle.Reason {
	switch reason {
	case HangupEncryptionRequired:
		return jingle.ReasonSecurityError
	case HangupTimeout:
		return jingle.ReasonTimeout
	case HangupBusy:
		return jingle.ReasonBusy
	}
	switch state {
	case domain.StateConnected:
		return jingle.ReasonSuccess
	case domain.StateIncoming:
		return jingle.ReasonBusy
	default:
		return jingle.ReasonCancel
	}
}

// feed hands remote candidates to the negotiator and starts establishment
// once it has everything.
func (p *PeerSession) feed(remote []domain.Content) {
	neg := p.negotiator()
	if neg == nil {
		return
	}
	if !neg.StartConnectivityEstablishment(remote) {
		return
	}
	p.mu.Lock()
	if p.establishing || p.neg != neg {
		p.mu.Unlock()
		return
	}
	p.establishing = true
	p.mu.Unlock()
	p.t.goBackground(func() { p.establish(neg) })
}

func (p *PeerSession) establish(neg core.TransportNegotiator) {
	ctx := p.ctx
	if err := neg.WrapupConnectivityEstablishment(ctx); err != nil {
		if ctx.Err() == nil && p.negotiator() == neg {
			p.fail(jingle.ReasonConnectivityError, err)
		}
		return
	}
	streams := neg.Streams()
	if err := p.t.media.Start(p.sid, streams); err != nil {
		p.log.Error().Err(err).Msg("media start")
		return
	}
	p.mu.Lock()
	if p.state.IsTerminal() || p.neg != neg {
		p.mu.Unlock()
		p.t.media.Stop(p.sid)
		return
	}
	p.mediaUp = true
	p.mu.Unlock()
	p.log.Info().Int("streams", len(streams)).Msg("media path established")
	p.publish(Event{Kind: EventMediaReady})
}

// watchTrickle forwards candidates found after wrapup as transport-info.
func (p *PeerSession) watchTrickle(neg core.TransportNegotiator) {
	tr, ok := neg.(core.Trickler)
	if !ok {
		return
	}
	tr.OnLocalCandidate(func(content string, c domain.Candidate) {
		desc := domain.Transport{Kind: neg.Kind(), Candidates: []domain.Candidate{c}}
		if local, ok := neg.Local(content); ok {
			desc.Ufrag, desc.Pwd = local.Transport.Ufrag, local.Transport.Pwd
		}
		st := p.sessionIQ(jingle.ActionTransportInfo, []domain.Content{{Name: content, Transport: desc}})
		_ = p.send(p.ctx, st)
	})
}

func (p *PeerSession) processAccept(iq *jingle.IQ) {
	state := p.State()
	if state != domain.StateConnecting && state != domain.StateAlerting {
		p.log.Warn().Str("state", state.String()).Msg("session-accept ignored")
		return
	}
	if p.t.cfg.Paranoia && len(iq.Encryption) == 0 {
		p.fail(jingle.ReasonSecurityError, errors.New("remote answered without encryption"))
		return
	}
	if neg := p.negotiator(); neg != nil {
		// Lines the callee left out of the answer were declined.
		for _, c := range p.LocalContents() {
			if _, ok := domain.FindContent(iq.Contents, c.Name); !ok {
				neg.RemoveContent(c.Name)
				p.dropLocal(c.Name)
			}
		}
	}
	p.mu.Lock()
	p.remoteContents = domain.CloneContents(iq.Contents)
	p.mu.Unlock()
	if err := p.setState(domain.StateConnected, ""); err != nil {
		p.log.Warn().Err(err).Msg("session-accept")
		return
	}
	p.feed(iq.Contents)
}

func (p *PeerSession) processTerminate(iq *jingle.IQ) {
	reason := ""
	if iq.Reason != nil {
		reason = string(iq.Reason.Reason)
		if iq.Reason.Text != "" {
			reason += ": " + iq.Reason.Text
		}
	}
	if err := p.setState(domain.StateDisconnected, reason); err != nil {
		p.log.Debug().Err(err).Msg("session-terminate")
	}
}

// serially runs fn after earlier queued transport updates, in the background.
func (p *PeerSession) serially(fn func()) {
	p.updMu.Lock()
	p.updates = append(p.updates, fn)
	if p.updRunning {
		p.updMu.Unlock()
		return
	}
	p.updRunning = true
	p.updMu.Unlock()
	p.t.goBackground(p.runUpdates)
}

func (p *PeerSession) runUpdates() {
	for {
		p.updMu.Lock()
		if len(p.updates) == 0 {
			p.updRunning = false
			p.updMu.Unlock()
			return
		}
		fn := p.updates[0]
		p.updates = p.updates[1:]
		p.updMu.Unlock()
		fn()
	}
}

// processTransportInfo waits for the offer to be handled so early candidates
// are not fed to a negotiator that does not exist yet.
func (p *PeerSession) processTransportInfo(iq *jingle.IQ) {
	wait := time.NewTimer(p.t.cfg.InitWait)
	defer wait.Stop()
	select {
	case <-p.initDone:
	case <-wait.C:
		p.log.Warn().Msg("transport-info before session setup finished")
		return
	case <-p.ctx.Done():
		return
	}
	p.mu.Lock()
	for _, c := range iq.Contents {
		for i := range p.remoteContents {
			if p.remoteContents[i].Name == c.Name {
				p.remoteContents[i].Transport.Candidates = append(p.remoteContents[i].Transport.Candidates, c.Transport.Candidates...)
			}
		}
	}
	p.mu.Unlock()
	p.feed(iq.Contents)
}

func (p *PeerSession) processInfo(ctx context.Context, iq *jingle.IQ) {
	switch {
	case iq.Transfer != nil:
		p.t.processTransfer(ctx, p, iq.Transfer)
	case iq.Focus != nil:
		p.mu.Lock()
		p.focus = *iq.Focus
		p.mu.Unlock()
		p.publish(Event{Kind: EventConferenceFocus, Flag: *iq.Focus})
	case iq.Info != nil:
		switch *iq.Info {
		case jingle.InfoRinging:
			if p.State() == domain.StateConnecting {
				_ = p.setState(domain.StateAlerting, "")
			}
		case jingle.InfoHold, jingle.InfoUnhold:
			on := *iq.Info == jingle.InfoHold
			p.mu.Lock()
			changed := p.remoteHold != on
			p.remoteHold = on
			p.mu.Unlock()
			if changed {
				p.publish(Event{Kind: EventRemoteHold, Flag: on})
			}
		}
	}
}

// putOnHold sends hold or unhold to a connected peer.
func (p *PeerSession) putOnHold(ctx context.Context, on bool) error {
	if st := p.State(); st != domain.StateConnected {
		return fmt.Errorf("hold in %s: %w", st, ErrIllegalState)
	}
	info := jingle.InfoUnhold
	if on {
		info = jingle.InfoHold
	}
	if err := p.send(ctx, jingle.NewSessionInfo(p.sid, p.t.sig.LocalJID(), p.remote, info)); err != nil {
		return err
	}
	p.mu.Lock()
	p.onHold = on
	p.mu.Unlock()
	return nil
}

// processContentAdd accepts the remote lines the media engine and transport can
// carry and rejects the rest.
func (p *PeerSession) processContentAdd(iq *jingle.IQ) {
	neg := p.negotiator()
	if neg == nil {
		return
	}
	var accepted, rejected []domain.Content
	for _, rc := range iq.Contents {
		answer, err := p.t.media.Answer([]domain.Content{rc})
		if err == nil && len(answer) == 1 {
			err = neg.AddContent(p.ctx, answer[0], &rc)
		} else if err == nil {
			err = errMalformedOffer
		}
		if err != nil {
			p.log.Info().Err(err).Str("content", rc.Name).Msg("content rejected")
			rejected = append(rejected, domain.Content{Name: rc.Name, Creator: rc.Creator})
			continue
		}
		local, _ := neg.Local(rc.Name)
		accepted = append(accepted, local)
	}
	if len(accepted) > 0 {
		p.mu.Lock()
		p.local = append(p.local, accepted...)
		p.remoteContents = append(p.remoteContents, domain.CloneContents(iq.Contents)...)
		p.mu.Unlock()
		_ = p.send(p.ctx, p.sessionIQ(jingle.ActionContentAccept, accepted))
		p.refreshStreams(neg)
	}
	if len(rejected) > 0 {
		_ = p.send(p.ctx, p.sessionIQ(jingle.ActionContentReject, rejected))
	}
}

// addContent offers a new line to a connected peer.
func (p *PeerSession) addContent(ctx context.Context, video bool) error {
	if st := p.State(); st != domain.StateConnected {
		return fmt.Errorf("content-add in %s: %w", st, ErrIllegalState)
	}
	neg := p.negotiator()
	var added []domain.Content
	for _, c := range p.t.media.Offer(video) {
		if _, ok := domain.FindContent(p.LocalContents(), c.Name); ok {
			continue
		}
		if err := neg.AddContent(ctx, c, nil); err != nil {
			return err
		}
		local, _ := neg.Local(c.Name)
		added = append(added, local)
	}
	if len(added) == 0 {
		return nil
	}
	p.mu.Lock()
	p.local = append(p.local, added...)
	p.mu.Unlock()
	return p.send(ctx, p.sessionIQ(jingle.ActionContentAdd, added))
}

func (p *PeerSession) processContentAccept(iq *jingle.IQ) {
	p.mu.Lock()
	p.remoteContents = append(p.remoteContents, domain.CloneContents(iq.Contents)...)
	p.mu.Unlock()
	p.feed(iq.Contents)
	if neg := p.negotiator(); neg != nil {
		p.refreshStreams(neg)
	}
}

// processContentRemove handles content-remove and content-reject alike.
func (p *PeerSession) processContentRemove(iq *jingle.IQ) {
	neg := p.negotiator()
	for _, c := range iq.Contents {
		if neg != nil {
			neg.RemoveContent(c.Name)
		}
		p.dropLocal(c.Name)
	}
	if neg != nil {
		p.refreshStreams(neg)
	}
}

// removeContent drops a line locally and tells the peer.
func (p *PeerSession) removeContent(ctx context.Context, name string) error {
	if _, ok := domain.FindContent(p.LocalContents(), name); !ok {
		return fmt.Errorf("content %q: %w", name, ErrUnknownContent)
	}
	if neg := p.negotiator(); neg != nil {
		neg.RemoveContent(name)
		p.refreshStreams(neg)
	}
	p.dropLocal(name)
	return p.send(ctx, p.sessionIQ(jingle.ActionContentRemove, []domain.Content{{Name: name}}))
}

func (p *PeerSession) processContentModify(iq *jingle.IQ) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range iq.Contents {
		for i := range p.remoteContents {
			if p.remoteContents[i].Name == c.Name && c.Senders != "" {
				p.remoteContents[i].Senders = c.Senders
				p.log.Info().Str("content", c.Name).Str("senders", string(c.Senders)).Msg("content modified")
			}
		}
	}
}

// processTransportReplace renegotiates every line over the transport the peer
// asks for. On failure the current transport stays.
func (p *PeerSession) processTransportReplace(iq *jingle.IQ) {
	kind, err := offerTransport(iq.Contents)
	var neg core.TransportNegotiator
	if err == nil {
		neg, err = p.t.factory.New(p.sid, kind, p.initiator)
	}
	var contents []domain.Content
	if err == nil {
		local := p.LocalContents()
		for i := range local {
			local[i].Transport = domain.Transport{Kind: kind}
		}
		err = neg.BeginHarvest(p.ctx, iq.Contents, local)
		if err == nil {
			contents, err = neg.WrapupHarvest(p.ctx)
		}
	}
	if err != nil {
		if neg != nil {
			_ = neg.Close()
		}
		p.log.Warn().Err(err).Msg("transport-replace rejected")
		_ = p.send(p.ctx, p.sessionIQ(jingle.ActionTransportReject, iq.Contents))
		return
	}

	p.mu.Lock()
	if p.state.IsTerminal() {
		p.mu.Unlock()
		_ = neg.Close()
		return
	}
	old, mediaUp := p.neg, p.mediaUp
	p.neg, p.local = neg, contents
	p.establishing, p.mediaUp = false, false
	p.mu.Unlock()
	p.release(old, mediaUp)

	p.watchTrickle(neg)
	if err := p.send(p.ctx, p.sessionIQ(jingle.ActionTransportAccept, contents)); err != nil {
		return
	}
	p.feed(iq.Contents)
}

func (p *PeerSession) dropLocal(name string) {
	p.mu.Lock()
	p.local = slices.DeleteFunc(p.local, func(c domain.Content) bool { return c.Name == name })
	p.mu.Unlock()
}

// refreshStreams restarts media when the set of established lines changed.
func (p *PeerSession) refreshStreams(neg core.TransportNegotiator) {
	p.mu.Lock()
	up := p.mediaUp && p.neg == neg
	p.mu.Unlock()
	if !up {
		return
	}
	if err := p.t.media.Start(p.sid, neg.Streams()); err != nil {
		p.log.Warn().Err(err).Msg("media restart")
	}
}
