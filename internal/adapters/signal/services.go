package signal

import (
	"context"
	"errors"

	"github.com/dkeye/Jingle/internal/app/relay"
	"github.com/dkeye/Jingle/internal/jingle"
	"github.com/rs/zerolog/log"
)

// serve answers requests addressed to the domain or its relay service.
// An empty request is a ping.
func (sb *Switchboard) serve(ctx context.Context, st *jingle.Stanza) {
	if !isRequest(st) {
		return
	}
	switch {
	case st.Disco != nil:
		res := st.Result()
		res.Disco = &jingle.DiscoQuery{Items: sb.services(st)}
		sb.reply(res)
	case st.Info != nil:
		res := st.Result()
		res.Info = &jingle.JingleInfo{
			STUN:       sb.opts.STUN,
			RelayHosts: sb.opts.RelayHosts,
			RelayToken: sb.opts.RelayToken,
		}
		sb.reply(res)
	case st.Channel != nil:
		sb.reply(sb.allocate(ctx, st))
	case st.Jingle != nil:
		sb.reply(st.ErrorReply(jingle.CondServiceUnavailable, "the domain takes no calls"))
	default:
		sb.reply(st.Result())
	}
}

func (sb *Switchboard) services(st *jingle.Stanza) []jingle.ServiceItem {
	if st.To.Bare() == sb.RelayJID() {
		return nil
	}
	var items []jingle.ServiceItem
	if sb.relay != nil && sb.opts.AdvertiseRelay {
		items = append(items, jingle.ServiceItem{
			JID:      sb.RelayJID(),
			Kind:     jingle.ServiceRelay,
			Policy:   jingle.PolicyPublic,
			Protocol: "udp",
		})
	}
	return append(items, sb.opts.Trackers...)
}

func (sb *Switchboard) allocate(ctx context.Context, st *jingle.Stanza) *jingle.Stanza {
	if sb.relay == nil {
		return st.ErrorReply(jingle.CondServiceUnavailable, "no relay service")
	}
	ch, err := sb.relay.Allocate(ctx, st.Channel.Protocol)
	switch {
	case errors.Is(err, relay.ErrUnsupportedProtocol):
		return st.ErrorReply(jingle.CondBadRequest, err.Error())
	case err != nil:
		log.Error().Err(err).Str("module", "signal").Str("from", string(st.From)).Msg("channel allocation failed")
		return st.ErrorReply(jingle.CondResourceConstraint, err.Error())
	}
	log.Info().Str("module", "signal").Str("from", string(st.From)).Str("channel", ch.ID).Msg("channel allocated")
	res := st.Result()
	res.Channel = ch
	return res
}
