package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/dkeye/Jingle/internal/domain"
	"github.com/dkeye/Jingle/internal/jingle"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Allocator hands out relay channels.
type Allocator interface {
	Allocate(ctx context.Context, protocol string) (*jingle.ChannelIQ, error)
}

type Options struct {
	Domain     string
	ReadLimit  int64
	PingPeriod time.Duration
	RateLimit  int
	RateWindow time.Duration

	// Served to jingleinfo queries.
	STUN       []jingle.STUNServer
	RelayHosts []string
	RelayToken string

	// Trackers are extra service items listed by the domain.
	Trackers []jingle.ServiceItem
	// AdvertiseRelay lists relay.<domain> in the domain's service items.
	AdvertiseRelay bool
}

// Switchboard binds websockets to full JIDs and routes stanzas between them.
// Every bound account sees the presence of every other.
type Switchboard struct {
	opts      Options
	relay     Allocator
	limiter   *RateLimiter
	presences *Presences

	mu    sync.RWMutex
	conns map[domain.JID]*WsSignalConn
}

// NewSwitchboard builds a switchboard for opts.Domain. relay may be nil when
// the domain runs no relay service.
func NewSwitchboard(opts Options, relay Allocator) *Switchboard {
	return &Switchboard{
		opts:      opts,
		relay:     relay,
		limiter:   NewRateLimiter(opts.RateLimit, opts.RateWindow),
		presences: NewPresences(),
		conns:     make(map[domain.JID]*WsSignalConn),
	}
}

func (sb *Switchboard) Domain() domain.JID { return domain.JID(sb.opts.Domain) }

func (sb *Switchboard) RelayJID() domain.JID { return domain.JID("relay." + sb.opts.Domain) }

// Online lists the bound full JIDs.
func (sb *Switchboard) Online() []domain.JID {
	sb.mu.RLock()
	out := make([]domain.JID, 0, len(sb.conns))
	for jid := range sb.conns {
		out = append(out, jid)
	}
	sb.mu.RUnlock()
	slices.Sort(out)
	return out
}

// HandleSignal upgrades the request and binds it to ?jid=, which must be a
// full JID on this domain. ?priority= sets the initial presence priority.
func (sb *Switchboard) HandleSignal(ctx context.Context, c *gin.Context) {
	jid, err := domain.ParseJID(c.Query("jid"))
	if err != nil || !jid.IsFull() || jid.Domain() != sb.opts.Domain {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "a full jid on " + sb.opts.Domain + " is required"})
		return
	}
	prio, err := strconv.Atoi(c.DefaultQuery("priority", "0"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "bad priority"})
		return
	}
	log.Info().Str("module", "signal").Str("jid", string(jid)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade")
		return
	}
	if sb.opts.ReadLimit > 0 {
		ws.SetReadLimit(sb.opts.ReadLimit)
	}
	sb.serveConn(ctx, ws, jid, jingle.Presence{Available: true, Priority: prio, Jingle: c.DefaultQuery("jingle", "true") != "false"})
}

func (sb *Switchboard) serveConn(ctx context.Context, ws *websocket.Conn, jid domain.JID, pr jingle.Presence) {
	conn := newConn(ws, jid)
	sb.bind(conn, pr)

	go writePump(ctx, conn, sb.opts.PingPeriod)
	go func() {
		err := readPump(conn, sb.opts.PingPeriod, func(data []byte) { sb.handleFrame(ctx, conn, data) })
		log.Info().Err(err).Str("module", "signal").Str("jid", string(jid)).Msg("readPump closing")
		sb.unbind(conn)
		conn.Close()
	}()
}

// bind replaces any connection already holding the JID and exchanges
// presence with everyone else.
func (sb *Switchboard) bind(c *WsSignalConn, pr jingle.Presence) {
	sb.mu.Lock()
	old := sb.conns[c.jid]
	sb.conns[c.jid] = c
	sb.mu.Unlock()
	if old != nil {
		log.Warn().Str("module", "signal").Str("jid", string(c.jid)).Msg("resource conflict, dropping older connection")
		old.Close()
	}

	for full, p := range sb.presences.Snapshot() {
		if full == c.jid {
			continue
		}
		_ = c.sendStanza(presenceStanza(full, c.jid, p))
	}
	sb.setPresence(c.jid, pr)
}

func (sb *Switchboard) unbind(c *WsSignalConn) {
	sb.mu.Lock()
	if sb.conns[c.jid] != c {
		sb.mu.Unlock()
		return
	}
	delete(sb.conns, c.jid)
	sb.mu.Unlock()

	sb.limiter.Forget(c.jid)
	sb.setPresence(c.jid, jingle.Presence{})
}

func (sb *Switchboard) setPresence(from domain.JID, pr jingle.Presence) {
	sb.presences.Update(from, pr)

	sb.mu.RLock()
	targets := make([]*WsSignalConn, 0, len(sb.conns))
	for jid, c := range sb.conns {
		if jid != from {
			targets = append(targets, c)
		}
	}
	sb.mu.RUnlock()

	for _, c := range targets {
		if err := c.sendStanza(presenceStanza(from, c.jid, pr)); err != nil {
			log.Debug().Err(err).Str("module", "signal").Str("to", string(c.jid)).Msg("presence dropped")
		}
	}
}

func presenceStanza(from, to domain.JID, pr jingle.Presence) *jingle.Stanza {
	return &jingle.Stanza{ID: jingle.NewID(), From: from, To: to, Presence: &pr}
}

func (sb *Switchboard) handleFrame(ctx context.Context, c *WsSignalConn, data []byte) {
	var st jingle.Stanza
	if err := json.Unmarshal(data, &st); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("jid", string(c.jid)).Msg("bad json")
		return
	}
	st.From = c.jid

	if !sb.limiter.Allow(c.jid) {
		log.Warn().Str("module", "signal").Str("jid", string(c.jid)).Msg("rate limited")
		if isRequest(&st) {
			_ = c.sendStanza(st.ErrorReply(jingle.CondPolicyViolation, "rate limited"))
		}
		return
	}
	sb.route(ctx, &st)
}

func isRequest(st *jingle.Stanza) bool {
	return st.Type == jingle.TypeSet || st.Type == jingle.TypeGet
}

func (sb *Switchboard) isLocal(to domain.JID) bool {
	return to == "" || to == sb.Domain() || to.Bare() == sb.RelayJID()
}

func (sb *Switchboard) route(ctx context.Context, st *jingle.Stanza) {
	if st.Presence != nil && st.To == "" {
		sb.setPresence(st.From, *st.Presence)
		return
	}
	if sb.isLocal(st.To) {
		sb.serve(ctx, st)
		return
	}

	target := sb.lookup(st.To)
	if target == nil {
		log.Debug().Str("module", "signal").Str("from", string(st.From)).Str("to", string(st.To)).Msg("recipient unavailable")
		if isRequest(st) {
			sb.reply(st.ErrorReply(jingle.CondServiceUnavailable, "recipient unavailable"))
		}
		return
	}
	if err := target.sendStanza(st); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("to", string(st.To)).Msg("route failed")
		if isRequest(st) {
			sb.reply(st.ErrorReply(jingle.CondResourceConstraint, err.Error()))
		}
	}
}

// lookup resolves a full JID exactly and a bare JID to its best resource.
func (sb *Switchboard) lookup(to domain.JID) *WsSignalConn {
	if !to.IsFull() {
		full, ok := sb.presences.BestResource(to)
		if !ok {
			return nil
		}
		to = full
	}
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	return sb.conns[to]
}

func (sb *Switchboard) reply(st *jingle.Stanza) {
	sb.mu.RLock()
	c := sb.conns[st.To]
	sb.mu.RUnlock()
	if c == nil {
		return
	}
	if err := c.sendStanza(st); err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("to", string(st.To)).Msg("reply dropped")
	}
}

// Close drops every connection.
func (sb *Switchboard) Close() {
	sb.mu.RLock()
	conns := make([]*WsSignalConn, 0, len(sb.conns))
	for _, c := range sb.conns {
		conns = append(conns, c)
	}
	sb.mu.RUnlock()
	for _, c := range conns {
		c.Close()
	}
}
