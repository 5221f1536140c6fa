package relaynode

import (
	"context"
	"strings"

	"github.com/dkeye/Jingle/internal/domain"
	"github.com/dkeye/Jingle/internal/jingle"
	"github.com/grandcat/zeroconf"
)

const (
	MDNSService = "_jinglenodes._udp"
	MDNSDomain  = "local."
)

// MDNSResolver is the part of zeroconf.Resolver the LAN browser needs.
type MDNSResolver interface {
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

// MDNSBrowser finds relay nodes advertised on the local link. Each entry
// carries the relay JID in a "jid=" TXT record.
type MDNSBrowser struct {
	Resolver MDNSResolver
}

func NewMDNSBrowser() (*MDNSBrowser, error) {
	r, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, err
	}
	return &MDNSBrowser{Resolver: r}, nil
}

func (b *MDNSBrowser) Browse(ctx context.Context) ([]TrackerEntry, error) {
	entries := make(chan *zeroconf.ServiceEntry, 8)
	errCh := make(chan error, 1)
	go func() {
		errCh <- b.Resolver.Browse(ctx, MDNSService, MDNSDomain, entries)
	}()

	var out []TrackerEntry
	for {
		select {
		case <-ctx.Done():
			return out, nil
		case err := <-errCh:
			if err != nil {
				return out, err
			}
			errCh = nil
		case e, ok := <-entries:
			if !ok {
				return out, nil
			}
			if te, ok := entryFromTXT(e); ok {
				out = append(out, te)
			}
		}
	}
}

func entryFromTXT(e *zeroconf.ServiceEntry) (TrackerEntry, bool) {
	if e == nil {
		return TrackerEntry{}, false
	}
	te := TrackerEntry{
		Kind:     jingle.ServiceRelay,
		Policy:   jingle.PolicyPublic,
		Protocol: "udp",
	}
	for _, kv := range e.Text {
		k, v, found := strings.Cut(kv, "=")
		if !found {
			continue
		}
		switch k {
		case "jid":
			te.JID = domain.JID(v)
		case "kind":
			te.Kind = jingle.ServiceKind(v)
		case "protocol":
			te.Protocol = v
		}
	}
	if te.JID == "" {
		return TrackerEntry{}, false
	}
	return te, true
}
