package harvest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/miekg/dns"
	"github.com/pion/stun/v3"
	"github.com/rs/zerolog/log"
)

const (
	stunProbeTimeout = 3 * time.Second
	resolvConf       = "/etc/resolv.conf"
)

var ErrSTUNNoMapping = errors.New("stun response carries no mapped address")

// SRVResolver looks up service records.
type SRVResolver interface {
	LookupSRV(ctx context.Context, service, proto, name string) ([]*net.SRV, error)
}

// DNSResolver queries the system nameservers for SRV records.
type DNSResolver struct {
	Servers []string
	Client  *dns.Client
}

func NewDNSResolver() (*DNSResolver, error) {
	cc, err := dns.ClientConfigFromFile(resolvConf)
	if err != nil {
		return nil, err
	}
	r := &DNSResolver{Client: new(dns.Client)}
	for _, s := range cc.Servers {
		r.Servers = append(r.Servers, net.JoinHostPort(s, cc.Port))
	}
	return r, nil
}

func (r *DNSResolver) LookupSRV(ctx context.Context, service, proto, name string) ([]*net.SRV, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn("_"+service+"._"+proto+"."+name), dns.TypeSRV)

	var lastErr error
	for _, server := range r.Servers {
		in, _, err := r.Client.ExchangeContext(ctx, m, server)
		if err != nil {
			lastErr = err
			continue
		}
		if in.Rcode != dns.RcodeSuccess {
			lastErr = fmt.Errorf("srv %s: %s", name, dns.RcodeToString[in.Rcode])
			continue
		}
		var out []*net.SRV
		for _, rr := range in.Answer {
			if srv, ok := rr.(*dns.SRV); ok {
				out = append(out, &net.SRV{
					Target:   srv.Target,
					Port:     srv.Port,
					Priority: srv.Priority,
					Weight:   srv.Weight,
				})
			}
		}
		return out, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no nameservers")
	}
	return nil, lastErr
}

// STUN contributes reachable STUN servers.
type STUN struct {
	Servers []string
	// Domain is looked up as _stun._udp.<Domain> when AutoDiscover is set.
	Domain       string
	AutoDiscover bool
	// Default is used when nothing else is configured or discovered.
	Default  string
	Resolver SRVResolver
	// Probe sends a binding request to every server and keeps the ones that answer.
	Probe bool
}

func (s *STUN) Name() string { return "stun" }

// Endpoints returns host:port for every configured or discovered server.
func (s *STUN) Endpoints(ctx context.Context) []string {
	out := append([]string(nil), s.Servers...)
	if s.AutoDiscover && s.Domain != "" && s.Resolver != nil {
		srvs, err := s.Resolver.LookupSRV(ctx, "stun", "udp", s.Domain)
		if err != nil {
			log.Debug().Str("module", "harvest.stun").Err(err).Str("domain", s.Domain).Msg("srv lookup failed")
		}
		for _, srv := range srvs {
			host := srv.Target
			if l := len(host); l > 0 && host[l-1] == '.' {
				host = host[:l-1]
			}
			out = append(out, net.JoinHostPort(host, strconv.Itoa(int(srv.Port))))
		}
	}
	if len(out) == 0 && s.Default != "" {
		out = append(out, s.Default)
	}
	return out
}

func (s *STUN) Harvest(ctx context.Context, _ []string) (*Contribution, error) {
	endpoints := s.Endpoints(ctx)
	if len(endpoints) == 0 {
		return &Contribution{Source: s.Name()}, nil
	}

	keep := make([]bool, len(endpoints))
	if s.Probe {
		var wg sync.WaitGroup
		for i, ep := range endpoints {
			wg.Add(1)
			go func() {
				defer wg.Done()
				mapped, err := BindingRequest(ctx, ep)
				if err != nil {
					log.Debug().Str("module", "harvest.stun").Str("server", ep).Err(err).Msg("stun probe failed")
					return
				}
				log.Debug().Str("module", "harvest.stun").Str("server", ep).Str("mapped", mapped.String()).Msg("stun probe ok")
				keep[i] = true
			}()
		}
		wg.Wait()
	} else {
		for i := range keep {
			keep[i] = true
		}
	}

	c := &Contribution{Source: s.Name()}
	for i, ep := range endpoints {
		if !keep[i] {
			continue
		}
		u, err := stun.ParseURI("stun:" + ep)
		if err != nil {
			log.Warn().Str("module", "harvest.stun").Str("server", ep).Err(err).Msg("bad stun server")
			continue
		}
		c.URLs = append(c.URLs, u)
	}
	if len(c.URLs) == 0 {
		return c, fmt.Errorf("none of %d stun servers answered", len(endpoints))
	}
	return c, nil
}

// BindingRequest asks server for our reflexive address.
func BindingRequest(ctx context.Context, server string) (*net.UDPAddr, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", server)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	deadline := time.Now().Add(stunProbeTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetDeadline(deadline)

	req, err := stun.Build(stun.TransactionID, stun.BindingRequest, stun.Fingerprint)
	if err != nil {
		return nil, err
	}
	if _, err = conn.Write(req.Raw); err != nil {
		return nil, err
	}

	buf := make([]byte, 1500)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return nil, err
		}
		res := &stun.Message{Raw: append([]byte(nil), buf[:n]...)}
		if err := res.Decode(); err != nil {
			continue
		}
		if res.TransactionID != req.TransactionID {
			continue
		}
		var xor stun.XORMappedAddress
		if err := xor.GetFrom(res); err != nil {
			var mapped stun.MappedAddress
			if err := mapped.GetFrom(res); err != nil {
				return nil, ErrSTUNNoMapping
			}
			return &net.UDPAddr{IP: mapped.IP, Port: mapped.Port}, nil
		}
		return &net.UDPAddr{IP: xor.IP, Port: xor.Port}, nil
	}
}
