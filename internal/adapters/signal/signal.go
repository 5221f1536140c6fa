// Package signal carries jingle stanzas over websockets: the Switchboard
// routes between bound accounts and answers service queries for its domain,
// and Client is the account side of the same link.
package signal

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/dkeye/Jingle/internal/core"
	"github.com/dkeye/Jingle/internal/domain"
	"github.com/dkeye/Jingle/internal/jingle"
	"github.com/gorilla/websocket"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

const sendBuffer = 64

// WsSignalConn is one websocket bound to a full JID.
type WsSignalConn struct {
	jid  domain.JID
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func newConn(ws *websocket.Conn, jid domain.JID) *WsSignalConn {
	return &WsSignalConn{jid: jid, conn: ws, send: make(chan core.Frame, sendBuffer)}
}

func (c *WsSignalConn) JID() domain.JID { return c.jid }

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

func (c *WsSignalConn) sendStanza(st *jingle.Stanza) error {
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return c.TrySend(b)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}
