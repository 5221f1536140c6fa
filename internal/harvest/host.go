package harvest

import (
	"context"
	"fmt"
	"net"
	"sync"
)

// Host lists local interface addresses and binds media sockets on them.
type Host struct {
	// Fixed overrides interface detection.
	Fixed           []net.IP
	IncludeLoopback bool
	PortMin         int
	PortMax         int

	mu   sync.Mutex
	next int
}

func (h *Host) Name() string { return "host" }

// Addresses returns usable IPv4 addresses, loopback last and only when allowed.
func (h *Host) Addresses() ([]net.IP, error) {
	if len(h.Fixed) > 0 {
		return h.Fixed, nil
	}
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}
	var out, loop []net.IP
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		ip4 := ipnet.IP.To4()
		if ip4 == nil || ip4.IsLinkLocalUnicast() {
			continue
		}
		if ip4.IsLoopback() {
			loop = append(loop, ip4)
			continue
		}
		out = append(out, ip4)
	}
	if h.IncludeLoopback || len(out) == 0 {
		out = append(out, loop...)
	}
	if len(out) == 0 {
		return nil, ErrNoAddress
	}
	return out, nil
}

// Harvest restricts agent host gathering to the detected addresses.
func (h *Host) Harvest(_ context.Context, _ []string) (*Contribution, error) {
	ips, err := h.Addresses()
	if err != nil {
		return nil, err
	}
	return &Contribution{Source: h.Name(), IPs: ips}, nil
}

// BindPair binds an RTP socket on an even port and RTCP on the next one.
// Without a port range both ports are ephemeral.
func (h *Host) BindPair(ip net.IP) (rtp, rtcp *net.UDPConn, err error) {
	if h.PortMin <= 0 || h.PortMax <= h.PortMin {
		if rtp, err = net.ListenUDP("udp4", &net.UDPAddr{IP: ip}); err != nil {
			return nil, nil, err
		}
		if rtcp, err = net.ListenUDP("udp4", &net.UDPAddr{IP: ip}); err != nil {
			rtp.Close()
			return nil, nil, err
		}
		return rtp, rtcp, nil
	}

	span := max(1, (h.PortMax-h.PortMin)/2)
	for tries := 0; tries < span; tries++ {
		port := h.nextEven()
		rtp, err = net.ListenUDP("udp4", &net.UDPAddr{IP: ip, Port: port})
		if err != nil {
			continue
		}
		rtcp, err = net.ListenUDP("udp4", &net.UDPAddr{IP: ip, Port: port + 1})
		if err != nil {
			rtp.Close()
			continue
		}
		return rtp, rtcp, nil
	}
	return nil, nil, fmt.Errorf("no free port pair in %d-%d: %w", h.PortMin, h.PortMax, err)
}

func (h *Host) nextEven() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	base := h.PortMin &^ 1
	if base < h.PortMin {
		base += 2
	}
	span := (h.PortMax - base) / 2
	if span <= 0 {
		return base
	}
	port := base + 2*(h.next%span)
	h.next++
	return port
}
