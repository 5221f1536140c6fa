package harvest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/huin/goupnp/dcps/internetgateway2"
	"github.com/pion/ice/v4"
	"github.com/pion/logging"
	"github.com/rs/zerolog/log"
)

const upnpDescription = "jingled media"

// PortMapper is the part of an IGD connection service UPnP needs.
type PortMapper interface {
	GetExternalIPAddress() (string, error)
	AddPortMapping(remoteHost string, extPort uint16, proto string, intPort uint16, intClient string, enabled bool, desc string, lease uint32) error
	DeletePortMapping(remoteHost string, extPort uint16, proto string) error
}

// DiscoverGateway returns the first WANIPConnection service on the LAN.
func DiscoverGateway() (PortMapper, error) {
	clients, errs, err := internetgateway2.NewWANIPConnection1Clients()
	if err != nil {
		return nil, err
	}
	if len(clients) == 0 {
		if len(errs) > 0 {
			return nil, fmt.Errorf("%w: %v", ErrNoGateway, errs[0])
		}
		return nil, ErrNoGateway
	}
	return clients[0], nil
}

// UPnP maps one UDP socket on the gateway and shares it between agents.
type UPnP struct {
	Host *Host
	// Discover finds the gateway; DiscoverGateway by default.
	Discover      func() (PortMapper, error)
	Lease         time.Duration
	LoggerFactory logging.LoggerFactory
}

func (u *UPnP) Name() string { return "upnp" }

func (u *UPnP) Harvest(ctx context.Context, _ []string) (*Contribution, error) {
	discover := u.Discover
	if discover == nil {
		discover = DiscoverGateway
	}

	type found struct {
		pm  PortMapper
		err error
	}
	ch := make(chan found, 1)
	go func() {
		pm, err := discover()
		ch <- found{pm, err}
	}()
	var pm PortMapper
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case f := <-ch:
		if f.err != nil {
			return nil, f.err
		}
		pm = f.pm
	}

	extIP, err := pm.GetExternalIPAddress()
	if err != nil {
		return nil, fmt.Errorf("external address: %w", err)
	}
	if net.ParseIP(extIP) == nil {
		return nil, fmt.Errorf("gateway reported bad external address %q", extIP)
	}

	ips, err := u.Host.Addresses()
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: ips[0]})
	if err != nil {
		return nil, err
	}
	port := conn.LocalAddr().(*net.UDPAddr).Port

	lease := uint32(u.Lease / time.Second)
	if err := pm.AddPortMapping("", uint16(port), "UDP", uint16(port), ips[0].String(), true, upnpDescription, lease); err != nil {
		conn.Close()
		return nil, fmt.Errorf("add port mapping: %w", err)
	}

	params := ice.UDPMuxParams{UDPConn: conn}
	if u.LoggerFactory != nil {
		params.Logger = u.LoggerFactory.NewLogger("udpmux")
	}
	mux := ice.NewUDPMuxDefault(params)

	log.Info().
		Str("module", "harvest.upnp").
		Str("external", extIP).
		Int("port", port).
		Msg("gateway port mapped")

	c := &Contribution{
		Source:     u.Name(),
		NAT1To1IPs: []string{extIP},
		UDPMux:     mux,
		MappedPort: port,
	}
	c.addCloser(closerFunc(func() error {
		return pm.DeletePortMapping("", uint16(port), "UDP")
	}))
	c.addCloser(closerFunc(func() error {
		if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			return err
		}
		return nil
	}))
	c.addCloser(mux)
	return c, nil
}
