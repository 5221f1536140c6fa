package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	router "github.com/dkeye/Jingle/internal/adapters/http"
	"github.com/dkeye/Jingle/internal/adapters/signal"
	"github.com/dkeye/Jingle/internal/app/relay"
	"github.com/dkeye/Jingle/internal/config"
	"github.com/dkeye/Jingle/internal/harvest"
	"github.com/dkeye/Jingle/internal/jingle"
)

func runSwitchboard(ctx context.Context, cfg *config.Config) error {
	opts := signal.Options{
		Domain:         cfg.Switchboard.Domain,
		ReadLimit:      cfg.ReadLimit,
		PingPeriod:     cfg.PingPeriod,
		RateLimit:      cfg.Switchboard.RateLimit,
		RateWindow:     cfg.Switchboard.RateWindow,
		STUN:           stunServers(cfg.STUN.Servers),
		AdvertiseRelay: cfg.RelayService.Advertise,
	}
	if token := router.RelayToken(cfg.Secret, cfg.Switchboard.Domain); token != "" && len(cfg.TURN.Servers) > 0 {
		opts.RelayToken = token
		if u, err := url.Parse(cfg.Switchboard.URL); err == nil && u.Hostname() != "" {
			opts.RelayHosts = []string{net.JoinHostPort(u.Hostname(), strconv.Itoa(cfg.Port))}
		}
	}

	var alloc signal.Allocator
	if cfg.RelayService.Enabled {
		ip := net.ParseIP(cfg.RelayService.Host)
		if ip == nil {
			return fmt.Errorf("relay_service.host %q is not an ip address", cfg.RelayService.Host)
		}
		host := &harvest.Host{Fixed: []net.IP{ip}, PortMin: cfg.RelayService.PortMin, PortMax: cfg.RelayService.PortMax}
		m := relay.NewManager(host, ip, cfg.RelayService.Host, cfg.RelayService.ChannelTTL)
		defer m.Close()
		go m.Run(ctx)
		alloc = m
	}

	sb := signal.NewSwitchboard(opts, alloc)
	defer sb.Close()

	r := router.SetupRouter(ctx, cfg, sb)
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Str("domain", opts.Domain).Bool("relay", alloc != nil).Msg("switchboard started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
	return nil
}

func stunServers(servers []string) []jingle.STUNServer {
	out := make([]jingle.STUNServer, 0, len(servers))
	for _, s := range servers {
		host, port, err := net.SplitHostPort(s)
		if err != nil {
			host, port = s, "3478"
		}
		p, err := strconv.Atoi(port)
		if err != nil {
			log.Warn().Str("server", s).Msg("bad stun server skipped")
			continue
		}
		out = append(out, jingle.STUNServer{Host: host, Port: p})
	}
	return out
}
