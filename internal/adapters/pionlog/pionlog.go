// Package pionlog routes pion library logs into zerolog.
package pionlog

import (
	"fmt"

	"github.com/pion/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Factory implements logging.LoggerFactory on top of the global zerolog logger.
type Factory struct {
	// Level caps pion verbosity independently of the global level.
	Level zerolog.Level
}

func NewFactory(level zerolog.Level) *Factory {
	return &Factory{Level: level}
}

func (f *Factory) NewLogger(scope string) logging.LeveledLogger {
	l := log.With().Str("module", "pion."+scope).Logger().Level(f.Level)
	return &leveled{l: l}
}

type leveled struct {
	l zerolog.Logger
}

func (p *leveled) Trace(msg string) { p.l.Trace().Msg(msg) }
func (p *leveled) Tracef(format string, args ...interface{}) {
	p.l.Trace().Msg(fmt.Sprintf(format, args...))
}
func (p *leveled) Debug(msg string) { p.l.Debug().Msg(msg) }
func (p *leveled) Debugf(format string, args ...interface{}) {
	p.l.Debug().Msg(fmt.Sprintf(format, args...))
}
func (p *leveled) Info(msg string) { p.l.Info().Msg(msg) }
func (p *leveled) Infof(format string, args ...interface{}) {
	p.l.Info().Msg(fmt.Sprintf(format, args...))
}
func (p *leveled) Warn(msg string) { p.l.Warn().Msg(msg) }
func (p *leveled) Warnf(format string, args ...interface{}) {
	p.l.Warn().Msg(fmt.Sprintf(format, args...))
}
func (p *leveled) Error(msg string) { p.l.Error().Msg(msg) }
func (p *leveled) Errorf(format string, args ...interface{}) {
	p.l.Error().Msg(fmt.Sprintf(format, args...))
}
