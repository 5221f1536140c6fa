package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/dkeye/Jingle/internal/core"
	"github.com/dkeye/Jingle/internal/domain"
	"github.com/dkeye/Jingle/internal/jingle"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrIQTimeout = errors.New("iq timed out")

// StanzaError is an error reply to a request.
type StanzaError struct {
	Condition string
	Text      string
}

func (e *StanzaError) Error() string {
	if e.Text == "" {
		return e.Condition
	}
	return e.Condition + ": " + e.Text
}

type ClientOptions struct {
	Priority   int
	IQTimeout  time.Duration
	PingPeriod time.Duration
	ReadLimit  int64
}

// Client is one account's link to a switchboard. It is the account's
// signaler, service directory, channel requester, jingleinfo source and
// roster.
type Client struct {
	jid       domain.JID
	conn      *WsSignalConn
	presences *Presences
	timeout   time.Duration
	log       zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	pending map[string]chan *jingle.Stanza
	handler core.StanzaHandler
}

var (
	_ core.Signaler         = (*Client)(nil)
	_ core.ServiceDirectory = (*Client)(nil)
	_ core.ChannelRequester = (*Client)(nil)
	_ core.InfoProvider     = (*Client)(nil)
	_ core.Roster           = (*Client)(nil)
)

// Dial binds jid on the switchboard at rawURL.
func Dial(ctx context.Context, rawURL string, jid domain.JID, opts ClientOptions) (*Client, error) {
	if !jid.IsFull() {
		return nil, fmt.Errorf("dial switchboard: %s is not a full jid", jid)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("dial switchboard: %w", err)
	}
	q := u.Query()
	q.Set("jid", string(jid))
	q.Set("priority", strconv.Itoa(opts.Priority))
	u.RawQuery = q.Encode()

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial switchboard: %w", err)
	}
	if opts.ReadLimit > 0 {
		ws.SetReadLimit(opts.ReadLimit)
	}

	cctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		jid:       jid,
		conn:      newConn(ws, jid),
		presences: NewPresences(),
		timeout:   opts.IQTimeout,
		log:       log.With().Str("module", "signal").Str("jid", string(jid)).Logger(),
		ctx:       cctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		pending:   make(map[string]chan *jingle.Stanza),
	}
	go writePump(cctx, c.conn, opts.PingPeriod)
	go func() {
		defer close(c.done)
		err := readPump(c.conn, opts.PingPeriod, c.handleFrame)
		c.log.Info().Err(err).Msg("switchboard link closed")
		c.conn.Close()
	}()
	return c, nil
}

// SetHandler routes inbound stanzas that are not replies to h.
func (c *Client) SetHandler(h core.StanzaHandler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

func (c *Client) LocalJID() domain.JID { return c.jid }

// Done is closed once the link is gone.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) Send(_ context.Context, st *jingle.Stanza) error {
	if st.ID == "" {
		st.ID = jingle.NewID()
	}
	st.From = c.jid
	return c.conn.sendStanza(st)
}

func (c *Client) Request(ctx context.Context, st *jingle.Stanza) (*jingle.Stanza, error) {
	if st.ID == "" {
		st.ID = jingle.NewID()
	}
	ch := make(chan *jingle.Stanza, 1)
	c.mu.Lock()
	c.pending[st.ID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, st.ID)
		c.mu.Unlock()
	}()

	if err := c.Send(ctx, st); err != nil {
		return nil, err
	}

	var timeout <-chan time.Time
	if c.timeout > 0 {
		t := time.NewTimer(c.timeout)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case res := <-ch:
		if res.Type == jingle.TypeError {
			se := &StanzaError{Condition: jingle.CondServiceUnavailable}
			if res.Error != nil {
				se.Condition, se.Text = res.Error.Condition, res.Error.Text
			}
			return res, se
		}
		return res, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeout:
		return nil, ErrIQTimeout
	case <-c.done:
		return nil, ErrConnClosed
	}
}

func (c *Client) Services(ctx context.Context, node domain.JID) ([]jingle.ServiceItem, error) {
	res, err := c.Request(ctx, &jingle.Stanza{Type: jingle.TypeGet, To: node, Disco: &jingle.DiscoQuery{}})
	if err != nil {
		return nil, err
	}
	if res.Disco == nil {
		return nil, nil
	}
	return res.Disco.Items, nil
}

func (c *Client) RequestChannel(ctx context.Context, relay domain.JID, protocol string) (*jingle.ChannelIQ, error) {
	res, err := c.Request(ctx, &jingle.Stanza{Type: jingle.TypeSet, To: relay, Channel: &jingle.ChannelIQ{Protocol: protocol}})
	if err != nil {
		return nil, err
	}
	if res.Channel == nil {
		return nil, fmt.Errorf("relay %s answered without a channel", relay)
	}
	return res.Channel, nil
}

func (c *Client) JingleInfo(ctx context.Context) (*jingle.JingleInfo, error) {
	res, err := c.Request(ctx, &jingle.Stanza{Type: jingle.TypeGet, To: domain.JID(c.jid.Domain()), Info: &jingle.JingleInfo{}})
	if err != nil {
		return nil, err
	}
	if res.Info == nil {
		return &jingle.JingleInfo{}, nil
	}
	return res.Info, nil
}

func (c *Client) Contains(bare domain.JID) bool { return c.presences.Contains(bare) }

func (c *Client) OnlineContacts() []domain.JID { return c.presences.OnlineContacts() }

func (c *Client) BestResource(bare domain.JID) (domain.JID, bool) {
	return c.presences.BestResource(bare)
}

func (c *Client) handleFrame(data []byte) {
	var st jingle.Stanza
	if err := json.Unmarshal(data, &st); err != nil {
		c.log.Error().Err(err).Msg("bad json")
		return
	}

	switch {
	case st.Presence != nil && !isRequest(&st):
		c.presences.Update(st.From, *st.Presence)
		return
	case st.Type == jingle.TypeResult || st.Type == jingle.TypeError:
		c.mu.Lock()
		ch, ok := c.pending[st.ID]
		c.mu.Unlock()
		if ok {
			select {
			case ch <- &st:
			default:
			}
			return
		}
	case st.Type == jingle.TypeGet && st.Disco != nil:
		// Accounts advertise no services of their own.
		res := st.Result()
		res.Disco = &jingle.DiscoQuery{}
		if err := c.Send(c.ctx, res); err != nil {
			c.log.Debug().Err(err).Msg("disco reply dropped")
		}
		return
	}

	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h == nil {
		c.log.Debug().Str("id", st.ID).Msg("no handler, stanza dropped")
		return
	}
	h.HandleStanza(c.ctx, &st)
}

// Close tears the link down and waits for the reader to stop.
func (c *Client) Close() {
	c.cancel()
	c.conn.Close()
	<-c.done
}
