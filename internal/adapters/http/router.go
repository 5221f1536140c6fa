package http

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/dkeye/Jingle/internal/adapters/signal"
	"github.com/dkeye/Jingle/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pion/stun/v3"
	"github.com/rs/zerolog/log"
)

const (
	relayAuthHeader     = "X-Talk-Google-Relay-Auth"
	relayAuthHeaderLong = "X-Google-Relay-Auth"
)

// RelayToken derives the create_session token advertised in jingleinfo.
// An empty secret disables relay sessions.
func RelayToken(secret, domain string) string {
	if secret == "" {
		return ""
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(secret+"@"+domain)).String()
}

func RelayTokenMiddleware(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(relayAuthHeader)
		if got == "" {
			got = c.GetHeader(relayAuthHeaderLong)
		}
		if token == "" || got != token {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Next()
	}
}

// relayGrant renders the first UDP TURN server as a create_session answer.
func relayGrant(servers []config.TURNServer) (string, error) {
	for _, s := range servers {
		u, err := stun.ParseURI(s.URL)
		if err != nil {
			return "", fmt.Errorf("turn server %q: %w", s.URL, err)
		}
		if u.Scheme != stun.SchemeTypeTURN || u.Proto != stun.ProtoTypeUDP {
			continue
		}
		var b strings.Builder
		fmt.Fprintf(&b, "relay.ip=%s\n", u.Host)
		fmt.Fprintf(&b, "relay.udp_port=%d\n", u.Port)
		fmt.Fprintf(&b, "username=%s\n", s.Username)
		fmt.Fprintf(&b, "password=%s\n", s.Password)
		return b.String(), nil
	}
	return "", nil
}

// SetupRouter serves the switchboard websocket and the relay session endpoint.
func SetupRouter(ctx context.Context, cfg *config.Config, sb *signal.Switchboard) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	grant, err := relayGrant(cfg.TURN.Servers)
	if err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Msg("relay sessions disabled")
	}
	token := RelayToken(cfg.Secret, cfg.Switchboard.Domain)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "online": len(sb.Online())})
	})
	r.GET("/create_session", RelayTokenMiddleware(token), func(c *gin.Context) {
		if grant == "" {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.String(http.StatusOK, grant)
	})

	log.Info().Str("module", "adapters.http").Str("domain", cfg.Switchboard.Domain).Bool("relay_sessions", grant != "" && token != "").Msg("router setup")

	api := r.Group("/api")
	api.GET("/online", func(c *gin.Context) {
		c.JSON(http.StatusOK, sb.Online())
	})
	api.GET("/ws/signal", func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("jid", c.Query("jid")).Msg("ws signal endpoint hit")
		sb.HandleSignal(ctx, c)
	})

	return r
}
