package harvest

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/pion/logging"
	"github.com/pion/stun/v3"
	"github.com/pion/turn/v4"
	"github.com/rs/zerolog/log"
)

// TURNServer is one relay server with its long-term credentials.
type TURNServer struct {
	URL      string
	Username string
	Password string
}

// URI parses the server URL, accepting a bare host:port as turn:host:port.
func (s TURNServer) URI() (*stun.URI, error) {
	raw := s.URL
	if !strings.HasPrefix(raw, "turn:") && !strings.HasPrefix(raw, "turns:") {
		raw = "turn:" + raw
	}
	u, err := stun.ParseURI(raw)
	if err != nil {
		return nil, err
	}
	u.Username = s.Username
	u.Password = s.Password
	return u, nil
}

// TURN contributes relay servers; with Probe set each is verified by a real
// allocation first.
type TURN struct {
	Servers       []TURNServer
	Probe         bool
	LoggerFactory logging.LoggerFactory
}

func (t *TURN) Name() string { return "turn" }

func (t *TURN) Harvest(ctx context.Context, _ []string) (*Contribution, error) {
	c := &Contribution{Source: t.Name()}
	for _, s := range t.Servers {
		u, err := s.URI()
		if err != nil {
			log.Warn().Str("module", "harvest.turn").Str("server", s.URL).Err(err).Msg("bad turn url")
			continue
		}
		if t.Probe {
			relayed, err := t.allocate(ctx, u)
			if err != nil {
				log.Warn().Str("module", "harvest.turn").Str("server", s.URL).Err(err).Msg("turn allocation failed")
				continue
			}
			log.Debug().Str("module", "harvest.turn").Str("server", s.URL).Str("relayed", relayed.String()).Msg("turn allocation ok")
		}
		c.URLs = append(c.URLs, u)
	}
	if len(t.Servers) > 0 && len(c.URLs) == 0 {
		return c, fmt.Errorf("none of %d turn servers usable", len(t.Servers))
	}
	return c, nil
}

// allocate makes and drops one allocation on u.
func (t *TURN) allocate(ctx context.Context, u *stun.URI) (net.Addr, error) {
	conn, err := net.ListenPacket("udp4", "0.0.0.0:0")
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	addr := net.JoinHostPort(u.Host, fmt.Sprint(u.Port))
	client, err := turn.NewClient(&turn.ClientConfig{
		STUNServerAddr: addr,
		TURNServerAddr: addr,
		Conn:           conn,
		Username:       u.Username,
		Password:       u.Password,
		LoggerFactory:  t.LoggerFactory,
	})
	if err != nil {
		return nil, err
	}
	defer client.Close()
	if err := client.Listen(); err != nil {
		return nil, err
	}

	type result struct {
		addr net.Addr
		err  error
	}
	done := make(chan result, 1)
	go func() {
		relayConn, err := client.Allocate()
		if err != nil {
			done <- result{err: err}
			return
		}
		a := relayConn.LocalAddr()
		relayConn.Close()
		done <- result{addr: a}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		return r.addr, r.err
	}
}
