// Package rtc is a minimal media plane: it negotiates codec descriptions and
// streams a generated tone over the sockets a transport negotiated.
package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/Jingle/internal/core"
	"github.com/dkeye/Jingle/internal/domain"
	"github.com/rs/zerolog/log"
)

var ErrNoCommonCodec = errors.New("no common codec")

// Codec is one payload format of a content description.
type Codec struct {
	Name        string `json:"name"`
	PayloadType uint8  `json:"pt"`
	ClockRate   uint32 `json:"clockrate"`
}

// Description is the media description carried in a content line.
type Description struct {
	Media  string  `json:"media"`
	Codecs []Codec `json:"codecs"`
}

var (
	audioCodecs = []Codec{{Name: "PCMU", PayloadType: 0, ClockRate: 8000}}
	videoCodecs = []Codec{{Name: "VP8", PayloadType: 96, ClockRate: 90000}}
)

type Config struct {
	// Encryption lists the methods advertised in offers and answers.
	Encryption []string
	// ReportInterval paces RTCP sender reports.
	ReportInterval time.Duration
	// ToneHz is the frequency of the generated audio.
	ToneHz float64
}

// Engine implements core.MediaEngine.
type Engine struct {
	cfg Config

	mu       sync.Mutex
	sessions map[string]*session
}

var _ core.MediaEngine = (*Engine)(nil)

func NewEngine(cfg Config) *Engine {
	if cfg.ReportInterval <= 0 {
		cfg.ReportInterval = 5 * time.Second
	}
	if cfg.ToneHz <= 0 {
		cfg.ToneHz = 440
	}
	return &Engine{cfg: cfg, sessions: make(map[string]*session)}
}

func describe(media string, codecs []Codec) json.RawMessage {
	b, _ := json.Marshal(Description{Media: media, Codecs: codecs})
	return b
}

func (e *Engine) Offer(video bool) []domain.Content {
	out := []domain.Content{{
		Name:        "audio",
		Creator:     "initiator",
		Senders:     domain.SendersBoth,
		Description: describe("audio", audioCodecs),
	}}
	if video {
		out = append(out, domain.Content{
			Name:        "video",
			Creator:     "initiator",
			Senders:     domain.SendersBoth,
			Description: describe("video", videoCodecs),
		})
	}
	return out
}

// Answer accepts every audio and video content sharing a codec with us.
// Other media are left out; an offer with nothing acceptable is an error.
func (e *Engine) Answer(remote []domain.Content) ([]domain.Content, error) {
	out := make([]domain.Content, 0, len(remote))
	var firstErr error
	for _, rc := range remote {
		var d Description
		if err := json.Unmarshal(rc.Description, &d); err != nil {
			firstErr = cmpErr(firstErr, fmt.Errorf("content %s: %w", rc.Name, err))
			continue
		}
		var ours []Codec
		switch d.Media {
		case "audio":
			ours = audioCodecs
		case "video":
			ours = videoCodecs
		default:
			firstErr = cmpErr(firstErr, fmt.Errorf("content %s: unsupported media %q", rc.Name, d.Media))
			continue
		}
		common := intersect(ours, d.Codecs)
		if len(common) == 0 {
			firstErr = cmpErr(firstErr, fmt.Errorf("content %s: %w", rc.Name, ErrNoCommonCodec))
			continue
		}
		out = append(out, domain.Content{
			Name:        rc.Name,
			Creator:     rc.Creator,
			Senders:     rc.Senders,
			Description: describe(d.Media, common),
		})
	}
	if len(out) == 0 {
		if firstErr == nil {
			firstErr = errors.New("offer has no contents")
		}
		return nil, firstErr
	}
	return out, nil
}

func cmpErr(first, err error) error {
	if first != nil {
		return first
	}
	return err
}

// intersect keeps the remote payload types of the codecs we support.
func intersect(ours, theirs []Codec) []Codec {
	var out []Codec
	for _, t := range theirs {
		for _, o := range ours {
			if strings.EqualFold(o.Name, t.Name) && (t.ClockRate == 0 || t.ClockRate == o.ClockRate) {
				out = append(out, Codec{Name: o.Name, PayloadType: t.PayloadType, ClockRate: o.ClockRate})
				break
			}
		}
	}
	return out
}

func (e *Engine) Encryption() []string { return e.cfg.Encryption }

// Start streams on every content that has an RTP connection. A second Start
// for the same session replaces the first.
func (e *Engine) Start(sid string, streams []core.MediaStream) error {
	e.Stop(sid)

	s := newSession(sid, e.cfg)
	for _, st := range streams {
		rtpConn := st.Conns[domain.ComponentRTP]
		if rtpConn == nil {
			log.Debug().Str("module", "rtc").Str("sid", sid).Str("content", st.Content).Msg("no rtp connection, stream skipped")
			continue
		}
		s.addStream(st.Content, rtpConn, st.Conns[domain.ComponentRTCP])
	}
	if len(s.streams) == 0 {
		return fmt.Errorf("session %s: no usable streams", sid)
	}

	e.mu.Lock()
	e.sessions[sid] = s
	e.mu.Unlock()
	s.start(context.Background())
	log.Info().Str("module", "rtc").Str("sid", sid).Int("streams", len(s.streams)).Msg("media started")
	return nil
}

func (e *Engine) Stop(sid string) {
	e.mu.Lock()
	s, ok := e.sessions[sid]
	delete(e.sessions, sid)
	e.mu.Unlock()
	if !ok {
		return
	}
	s.stop()
	for _, st := range s.streams {
		stats := st.stats()
		log.Info().
			Str("module", "rtc").
			Str("sid", sid).
			Str("content", st.content).
			Uint64("rtp_sent", stats.PacketsSent).
			Uint64("rtp_received", stats.PacketsReceived).
			Uint64("rtp_lost", stats.PacketsLost).
			Uint64("rtcp_received", stats.ReportsReceived).
			Msg("media stopped")
	}
}

// Stats reports the counters of one content of a running session.
func (e *Engine) Stats(sid, content string) (Stats, bool) {
	e.mu.Lock()
	s, ok := e.sessions[sid]
	e.mu.Unlock()
	if !ok {
		return Stats{}, false
	}
	for _, st := range s.streams {
		if st.content == content {
			return st.stats(), true
		}
	}
	return Stats{}, false
}
