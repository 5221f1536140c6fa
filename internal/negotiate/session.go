package negotiate

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/Jingle/internal/core"
	"github.com/dkeye/Jingle/internal/domain"
	"github.com/dkeye/Jingle/internal/harvest"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

// iceSession holds the agent state shared by the ICE based strategies. The
// strategies translate descriptors in and out of it.
type iceSession struct {
	sid         string
	controlling bool
	opts        Options
	ids         *domain.IDGenerator
	log         zerolog.Logger

	mu          sync.Mutex
	streams     map[string]*iceStream
	order       []string
	remote      map[string][]domain.Candidate
	remoteCreds map[string]map[domain.Component]creds
	contrib     *harvest.Contribution
	generation  int
	running     bool
	closed      bool
	trickle     func(content string, c domain.Candidate)

	// extra harvesters run only for this session.
	extra []harvest.Harvester
	// shape adjusts the merged contribution before agents are built.
	shape func(*harvest.Contribution)

	harvestDone chan struct{}
	harvestErr  error
	ctx         context.Context
	cancel      context.CancelFunc
}

func newICESession(sid string, controlling bool, opts Options, module string) *iceSession {
	ctx, cancel := context.WithCancel(context.Background())
	return &iceSession{
		sid:         sid,
		controlling: controlling,
		opts:        opts,
		ids:         domain.NewIDGenerator(sid[:min(4, len(sid))] + "c"),
		log:         log.With().Str("module", module).Str("sid", sid).Logger(),
		streams:     make(map[string]*iceStream),
		remote:      make(map[string][]domain.Candidate),
		remoteCreds: make(map[string]map[domain.Component]creds),
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (s *iceSession) streamConfig() streamConfig {
	return streamConfig{
		opts:       s.opts,
		contrib:    s.contrib,
		ids:        s.ids,
		generation: s.generation,
		onTrickle:  s.onTrickle,
		log:        s.log,
	}
}

func (s *iceSession) onTrickle(content string, c domain.Candidate) {
	s.mu.Lock()
	fn := s.trickle
	s.mu.Unlock()
	if fn != nil {
		fn(content, c)
	}
}

// begin schedules harvesting for names and returns at once.
func (s *iceSession) begin(names []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.harvestDone != nil {
		return nil
	}
	s.order = append([]string(nil), names...)
	s.harvestDone = make(chan struct{})
	go s.harvest(names)
	return nil
}

func (s *iceSession) harvest(names []string) {
	defer close(s.harvestDone)

	hs := append(append([]harvest.Harvester(nil), s.opts.Harvesters...), s.extra...)
	contrib := runHarvesters(s.ctx, s.sid, hs, names, s.opts.harvestTimeout())

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		contrib.Close()
		return
	}
	if s.shape != nil {
		s.shape(contrib)
	}
	s.contrib = contrib
	sc := s.streamConfig()
	s.mu.Unlock()

	streams := make(map[string]*iceStream, len(names))
	for _, name := range names {
		st, err := newICEStream(name, sc)
		if err != nil {
			for _, built := range streams {
				built.close()
			}
			s.harvestErr = err
			return
		}
		streams[name] = st
	}

	gctx, cancel := context.WithTimeout(s.ctx, s.opts.harvestTimeout())
	defer cancel()
	var wg conc.WaitGroup
	errs := make([]error, len(names))
	for i, name := range names {
		st := streams[name]
		wg.Go(func() {
			errs[i] = st.gather(gctx)
		})
	}
	wg.Wait()
	if err := errors.Join(errs...); err != nil {
		for _, st := range streams {
			st.close()
		}
		s.harvestErr = err
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		for _, st := range streams {
			st.close()
		}
		return
	}
	for name, st := range streams {
		s.streams[name] = st
	}
}

// wait blocks until the harvest finishes.
func (s *iceSession) wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.harvestDone
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return s.harvestErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *iceSession) harvested() bool {
	s.mu.Lock()
	done := s.harvestDone
	s.mu.Unlock()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return s.harvestErr == nil
	default:
		return false
	}
}

// localCandidates returns the candidates of content name.
func (s *iceSession) localCandidates(name string) (ufrag, pwd string, cands []domain.Candidate, ok bool) {
	s.mu.Lock()
	st := s.streams[name]
	s.mu.Unlock()
	if st == nil {
		return "", "", nil, false
	}
	ufrag, pwd = st.credentials()
	return ufrag, pwd, st.localCandidates(), true
}

func (s *iceSession) credentials(name string) (ufrag, pwd string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st := s.streams[name]; st != nil {
		return st.credentials()
	}
	return "", ""
}

func (s *iceSession) mappedIPs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.contrib == nil {
		return nil
	}
	return s.contrib.NAT1To1IPs
}

// feed records remote candidates and credentials. The second return reports
// whether connectivity started on this call.
func (s *iceSession) feed(remote map[string][]domain.Candidate, rc map[string]map[domain.Component]creds) (running, started bool) {
	s.mu.Lock()
	fresh := make(map[string][]domain.Candidate)
	for name, cands := range remote {
		stored := s.remote[name]
		fresh[name] = mergeCandidates(&stored, cands)
		s.remote[name] = stored
	}
	for name, byComp := range rc {
		if s.remoteCreds[name] == nil {
			s.remoteCreds[name] = make(map[domain.Component]creds)
		}
		for comp, c := range byComp {
			if c.ufrag != "" {
				s.remoteCreds[name][comp] = c
			}
		}
	}

	if s.running {
		targets := make(map[*iceStream][]domain.Candidate)
		var late []string
		for name, cands := range fresh {
			st := s.streams[name]
			switch {
			case st == nil || len(cands) == 0:
			case st.started:
				targets[st] = cands
			default:
				late = append(late, name)
			}
		}
		s.mu.Unlock()
		for st, cands := range targets {
			n := st.addRemote(cands)
			s.log.Debug().Str("content", st.name).Int("added", n).Msg("merged remote candidates")
		}
		for _, name := range late {
			s.startLate(name)
		}
		return true, false
	}

	if s.closed || len(s.streams) == 0 || !hasAllComponents(s.order, s.remote) {
		s.mu.Unlock()
		return false, false
	}
	s.running = true
	type job struct {
		st    *iceStream
		cands []domain.Candidate
		creds map[domain.Component]creds
	}
	jobs := make([]job, 0, len(s.order))
	for _, name := range s.order {
		if st := s.streams[name]; st != nil {
			st.started = true
			jobs = append(jobs, job{st, s.remote[name], s.remoteCreds[name]})
		}
	}
	ctx := s.ctx
	s.mu.Unlock()

	for _, j := range jobs {
		j.st.addRemote(j.cands)
		go j.st.connect(ctx, s.controlling, j.creds)
	}
	s.log.Info().Int("streams", len(jobs)).Bool("controlling", s.controlling).Msg("connectivity checks started")
	return true, true
}

// waitConnected blocks until every started stream has a path.
func (s *iceSession) waitConnected(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotConnected
	}
	streams := make([]*iceStream, 0, len(s.streams))
	for _, name := range s.order {
		if st := s.streams[name]; st != nil && st.started {
			streams = append(streams, st)
		}
	}
	s.mu.Unlock()

	var errs []error
	for _, st := range streams {
		done, result := st.result()
		select {
		case <-done:
			if err := result(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", st.name, err))
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return errors.Join(errs...)
}

// add builds and gathers a stream for a content added mid-session.
func (s *iceSession) add(ctx context.Context, name string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if _, dup := s.streams[name]; dup {
		s.mu.Unlock()
		return nil
	}
	sc := s.streamConfig()
	s.mu.Unlock()

	st, err := newICEStream(name, sc)
	if err != nil {
		return err
	}
	gctx, cancel := context.WithTimeout(ctx, s.opts.harvestTimeout())
	defer cancel()
	if err := st.gather(gctx); err != nil {
		st.close()
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		st.close()
		return ErrClosed
	}
	s.streams[name] = st
	s.order = append(s.order, name)
	s.mu.Unlock()

	s.startLate(name)
	return nil
}

// startLate connects a stream that was added before its remote candidates.
func (s *iceSession) startLate(name string) {
	s.mu.Lock()
	st := s.streams[name]
	if st == nil || st.started || !s.running || !hasAllComponents([]string{name}, s.remote) {
		s.mu.Unlock()
		return
	}
	st.started = true
	cands, rc, ctx := s.remote[name], s.remoteCreds[name], s.ctx
	s.mu.Unlock()
	st.addRemote(cands)
	go st.connect(ctx, s.controlling, rc)
}

func (s *iceSession) remove(name string) {
	s.mu.Lock()
	st := s.streams[name]
	delete(s.streams, name)
	delete(s.remote, name)
	delete(s.remoteCreds, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	if st != nil {
		st.close()
		s.log.Info().Str("content", name).Msg("content removed")
	}
}

// restart regathers every stream under a new generation. Agents are renewed
// under s.mu so a concurrent feed never reaches a stale generation.
func (s *iceSession) restart(ctx context.Context) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrClosed
	}
	s.generation++
	gen := s.generation
	s.running = false
	s.remote = make(map[string][]domain.Candidate)
	s.remoteCreds = make(map[string]map[domain.Component]creds)
	streams := make([]*iceStream, 0, len(s.streams))
	for _, name := range s.order {
		st := s.streams[name]
		if st == nil {
			continue
		}
		if err := st.renew(gen); err != nil {
			s.mu.Unlock()
			return gen, fmt.Errorf("restart %s: %w", st.name, err)
		}
		streams = append(streams, st)
	}
	s.mu.Unlock()

	gctx, cancel := context.WithTimeout(ctx, s.opts.harvestTimeout())
	defer cancel()
	for _, st := range streams {
		if err := st.gather(gctx); err != nil {
			return gen, fmt.Errorf("restart %s: %w", st.name, err)
		}
	}
	s.log.Info().Int("generation", gen).Msg("ice restarted")
	return gen, nil
}

func (s *iceSession) mediaStreams() []core.MediaStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.MediaStream
	for _, name := range s.order {
		st := s.streams[name]
		if st == nil || !st.established() {
			continue
		}
		out = append(out, st.mediaStream())
	}
	return out
}

func (s *iceSession) close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	streams := s.streams
	s.streams = make(map[string]*iceStream)
	contrib := s.contrib
	s.contrib = nil
	s.mu.Unlock()

	s.cancel()
	for _, st := range streams {
		st.close()
	}
	err := contrib.Close()
	s.log.Info().Msg("negotiator closed")
	return err
}
