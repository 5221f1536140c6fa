package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Jingle/internal/adapters/pionlog"
	"github.com/dkeye/Jingle/internal/adapters/rtc"
	"github.com/dkeye/Jingle/internal/adapters/signal"
	"github.com/dkeye/Jingle/internal/app"
	"github.com/dkeye/Jingle/internal/config"
	"github.com/dkeye/Jingle/internal/domain"
	"github.com/dkeye/Jingle/internal/harvest"
	"github.com/dkeye/Jingle/internal/jingle"
	"github.com/dkeye/Jingle/internal/negotiate"
	"github.com/dkeye/Jingle/internal/relaynode"
	control "github.com/dkeye/Jingle/internal/transport/http"
)

// outbound is the call the call command places once the agent is up.
type outbound struct {
	to    string
	video bool
}

func runAgent(ctx context.Context, cfg *config.Config, dial *outbound) error {
	bare, err := domain.ParseJID(cfg.Account.JID)
	if err != nil {
		return fmt.Errorf("account.jid: %w", err)
	}
	self := bare.WithResource(cfg.Account.Resource)

	client, err := signal.Dial(ctx, cfg.Switchboard.URL, self, signal.ClientOptions{
		Priority:   cfg.Account.Priority,
		IQTimeout:  cfg.Switchboard.IQTimeout,
		PingPeriod: cfg.PingPeriod,
		ReadLimit:  cfg.ReadLimit,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	pionLevel := zerolog.WarnLevel
	if zerolog.GlobalLevel() <= zerolog.DebugLevel {
		pionLevel = zerolog.DebugLevel
	}
	lf := pionlog.NewFactory(pionLevel)

	host := &harvest.Host{
		IncludeLoopback: cfg.ICE.IncludeLoopback,
		PortMin:         int(cfg.ICE.PortMin),
		PortMax:         int(cfg.ICE.PortMax),
	}
	harvesters := []harvest.Harvester{host, stunHarvester(cfg, self)}
	if len(cfg.TURN.Servers) > 0 {
		t := &harvest.TURN{Probe: cfg.TURN.Probe, LoggerFactory: lf}
		for _, s := range cfg.TURN.Servers {
			t.Servers = append(t.Servers, harvest.TURNServer{URL: s.URL, Username: s.Username, Password: s.Password})
		}
		harvesters = append(harvesters, t)
	}
	if cfg.UPnP.Enabled {
		harvesters = append(harvesters, &harvest.UPnP{Host: host, Lease: cfg.UPnP.Lease, LoggerFactory: lf})
	}

	var discovery *relaynode.Discovery
	if cfg.RelayNodes.Enabled {
		discovery = newDiscovery(cfg, self, client)
		defer discovery.Close()
		harvesters = append(harvesters, &harvest.RelayNode{
			Source:    discovery,
			Requester: client,
			Host:      host,
			Protocol:  "udp",
			Timeout:   cfg.RelayNodes.Timeout,
			IDs:       domain.NewIDGenerator("rn"),
		})
	}

	factory := &negotiate.Factory{
		Opts: negotiate.Options{
			Harvesters:       harvesters,
			Host:             host,
			PortMin:          cfg.ICE.PortMin,
			PortMax:          cfg.ICE.PortMax,
			Nomination:       cfg.ICE.Nomination,
			RelayAcceptDelay: cfg.ICE.RelayAcceptDelay,
			CheckTimeout:     cfg.ICE.CheckTimeout,
			HarvestTimeout:   cfg.ICE.HarvestTimeout,
			IncludeLoopback:  cfg.ICE.IncludeLoopback,
			LoggerFactory:    lf,
		},
		Info:   client,
		Client: &http.Client{Timeout: 10 * time.Second},
	}

	var policy app.Policy = app.ManualPolicy{}
	if cfg.Account.AutoAnswer {
		policy = app.SingleCallPolicy{Next: app.AutoAnswerPolicy{}}
	}
	tel := app.NewTelephony(app.Config{
		Transport:           domain.TransportKind(cfg.ICE.Transport),
		VoiceDomain:         cfg.Account.VoiceDomain,
		VoiceGatewayAccount: cfg.Account.VoiceGatewayAccount,
		PhoneSuffix:         cfg.Account.PhoneSuffix,
		BypassCapsDomain:    cfg.Account.BypassCapsDomain,
		Paranoia:            cfg.Account.Paranoia,
	}, app.Deps{
		Signaler: client,
		Roster:   client,
		Factory:  factory,
		Media:    rtc.NewEngine(rtc.Config{}),
		Policy:   policy,
	})
	client.SetHandler(tel)
	if discovery != nil {
		discovery.Start(ctx)
	}

	srv := &http.Server{Addr: cfg.Account.ControlAddr, Handler: control.SetupRouter(tel)}
	go func() {
		log.Info().Str("addr", srv.Addr).Str("jid", string(self)).Msg("agent started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("control api error")
		}
	}()

	var callID string
	if dial != nil {
		call, _, err := tel.CreateCall(ctx, dial.to, dial.video)
		if err != nil {
			return err
		}
		callID = call.ID
	}

	err = watch(ctx, tel, client, callID)

	log.Info().Msg("Shutting down")
	// Shutdown publishes while it hangs up; keep reading until it closes the bus.
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for e := range tel.Events().Events() {
			logEvent(e)
		}
	}()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if serr := tel.Shutdown(shutdownCtx); serr != nil {
		log.Warn().Err(serr).Msg("telephony shutdown")
	}
	<-drained
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		log.Error().Err(serr).Msg("Server forced to shutdown")
	}
	return err
}

// watch logs call events until ctx ends, the link drops or, when callID is
// set, that call ends.
func watch(ctx context.Context, tel *app.Telephony, client *signal.Client, callID string) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-client.Done():
			return errors.New("switchboard link lost")
		case e, ok := <-tel.Events().Events():
			if !ok {
				return nil
			}
			logEvent(e)
			if callID != "" && e.Kind == app.EventCallEnded && e.CallID == callID {
				return nil
			}
		}
	}
}

func logEvent(e app.Event) {
	ev := log.Info().Str("event", e.Kind.String()).Str("call", e.CallID)
	if e.SID != "" {
		ev = ev.Str("sid", e.SID).Str("peer", string(e.Peer))
	}
	if e.Kind == app.EventPeerState {
		ev = ev.Str("state", e.State.String()).Str("reason", e.Reason)
	}
	ev.Msg("call event")
}

func stunHarvester(cfg *config.Config, self domain.JID) *harvest.STUN {
	s := &harvest.STUN{
		Servers:      cfg.STUN.Servers,
		Domain:       self.Domain(),
		AutoDiscover: cfg.STUN.AutoDiscover,
	}
	if cfg.STUN.UseDefault {
		s.Default = config.DefaultSTUNServer
	}
	if s.AutoDiscover {
		r, err := harvest.NewDNSResolver()
		if err != nil {
			log.Warn().Err(err).Msg("stun srv discovery disabled")
		} else {
			s.Resolver = r
		}
	}
	return s
}

func newDiscovery(cfg *config.Config, self domain.JID, client *signal.Client) *relaynode.Discovery {
	rc := cfg.RelayNodes
	dc := relaynode.DiscoveryConfig{
		Self:           self,
		Server:         domain.JID(self.Domain()),
		Prefixes:       rc.Prefixes,
		StopOnFirst:    rc.StopOnFirst,
		AutoDiscover:   rc.AutoDiscover,
		SearchBuddies:  rc.SearchBuddies,
		MaxDepth:       rc.MaxDepth,
		MaxEntries:     rc.MaxEntries,
		MaxSearchNodes: rc.MaxSearchNodes,
		Protocol:       "udp",
		Timeout:        rc.Timeout,
	}
	for _, t := range rc.Trackers {
		dc.Trackers = append(dc.Trackers, relaynode.TrackerEntry{
			JID:      domain.JID(t.JID),
			Kind:     jingle.ServiceKind(t.Kind),
			Policy:   jingle.ServicePolicy(t.Policy),
			Protocol: t.Protocol,
		})
	}

	var lan relaynode.LANBrowser
	if rc.MDNS {
		b, err := relaynode.NewMDNSBrowser()
		if err != nil {
			log.Warn().Err(err).Msg("mdns relay browsing disabled")
		} else {
			lan = b
		}
	}
	return relaynode.NewDiscovery(dc, client, client, lan)
}
