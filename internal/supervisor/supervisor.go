// Package supervisor owns the lifecycle of every active session: open with a
// hard cap, close with a bounded drain, periodic sweep, and backpressure from
// the inference pool.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hausruf/hausruf/internal/audit"
	"github.com/hausruf/hausruf/internal/convo"
	"github.com/hausruf/hausruf/internal/infer"
	"github.com/hausruf/hausruf/pkg/provider/llm"
	"github.com/hausruf/hausruf/pkg/types"
)

// ErrOverloaded indicates the session cap is reached or the inference pool
// is saturated; phone callers get a busy signal, chat gets HTTP 429.
var ErrOverloaded = errors.New("supervisor: overloaded")

// Saturation reports whether the inference pool is above its high-water
// mark. Satisfied by *infer.Pool.
type Saturation interface {
	Saturated() bool
}

// Config tunes the supervisor. Zero values select the defaults.
type Config struct {
	MaxSessions int // default 100

	PhoneTurnTimeout time.Duration // default 8s
	ChatTurnTimeout  time.Duration // default 45s
	PhoneHardCap     time.Duration // default 20m
	ChatHardCap      time.Duration // default 2h

	DrainTimeout  time.Duration // default 2s
	SweepInterval time.Duration // default 30s

	// Convo carries the machine defaults shared by all sessions (timeouts,
	// confidence floor, emergency transfer target).
	Convo convo.Config
}

func (c Config) withDefaults() Config {
	if c.MaxSessions <= 0 {
		c.MaxSessions = 100
	}
	if c.PhoneTurnTimeout <= 0 {
		c.PhoneTurnTimeout = 8 * time.Second
	}
	if c.ChatTurnTimeout <= 0 {
		c.ChatTurnTimeout = 45 * time.Second
	}
	if c.PhoneHardCap <= 0 {
		c.PhoneHardCap = 20 * time.Minute
	}
	if c.ChatHardCap <= 0 {
		c.ChatHardCap = 2 * time.Hour
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 2 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 30 * time.Second
	}
	return c
}

// Supervisor is the session registry. Safe for concurrent use.
type Supervisor struct {
	cfg     Config
	profile convo.Profile
	llm     llm.Generator
	creator convo.JobCreator
	ledger  *audit.Ledger
	pool    Saturation
	log     *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool

	sweepStop chan struct{}
	sweepDone chan struct{}
}

// New creates a Supervisor and starts its sweep loop.
func New(cfg Config, profile convo.Profile, gen llm.Generator, creator convo.JobCreator, ledger *audit.Ledger, pool Saturation, log *slog.Logger) *Supervisor {
	s := &Supervisor{
		cfg:       cfg.withDefaults(),
		profile:   profile,
		llm:       gen,
		creator:   creator,
		ledger:    ledger,
		pool:      pool,
		log:       log,
		sessions:  make(map[string]*Session),
		sweepStop: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
	go s.sweep()
	return s
}

// Open allocates a session actor and starts its conversation loop. New
// sessions are rejected while the cap is hit or the inference pool is
// saturated; running sessions are unaffected by either condition.
func (s *Supervisor) Open(desc Descriptor) (*Session, error) {
	if desc.TenantID == "" {
		return nil, fmt.Errorf("supervisor: tenant id required")
	}
	if s.pool != nil && s.pool.Saturated() {
		s.log.Warn("rejecting session, inference pool saturated", "session_id", desc.SessionID)
		return nil, ErrOverloaded
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("supervisor: shut down")
	}
	if len(s.sessions) >= s.cfg.MaxSessions {
		s.mu.Unlock()
		s.log.Warn("rejecting session, cap reached",
			"session_id", desc.SessionID, "max", s.cfg.MaxSessions)
		return nil, ErrOverloaded
	}
	if _, exists := s.sessions[desc.SessionID]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("supervisor: session %s already open", desc.SessionID)
	}

	mcfg := s.cfg.Convo
	mcfg.TenantID = desc.TenantID
	mcfg.SessionID = desc.SessionID
	mcfg.CallerPhone = desc.CallerPhone
	mcfg.OutOfHours = desc.OutOfHours
	if desc.Channel == ChannelChat {
		mcfg.Source = types.SourceChat
	} else {
		mcfg.Source = types.SourcePhone
	}

	// Model calls share the bounded inference pool: phone turns run at call
	// priority, chat turns behind them.
	gen := s.llm
	if pool, ok := s.pool.(*infer.Pool); ok && gen != nil {
		pri := infer.PriorityCall
		if desc.Channel == ChannelChat {
			pri = infer.PriorityChat
		}
		gen = infer.NewPooledGenerator(pool, pri, gen)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sess := &Session{
		ID:          desc.SessionID,
		TenantID:    desc.TenantID,
		Channel:     desc.Channel,
		CallID:      desc.CallID,
		machine:     convo.New(s.profile, mcfg, gen, s.creator, s.log.With("session_id", desc.SessionID)),
		log:         s.log,
		In:          make(chan Inbound, 4),
		Out:         make(chan convo.Outgoing, 4),
		turnTimeout: s.cfg.PhoneTurnTimeout,
		hardCap:     s.cfg.PhoneHardCap,
		started:     time.Now(),
		cancel:      cancel,
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	if desc.Channel == ChannelChat {
		sess.turnTimeout = s.cfg.ChatTurnTimeout
		sess.hardCap = s.cfg.ChatHardCap
	}
	s.sessions[desc.SessionID] = sess
	s.mu.Unlock()

	go sess.run(ctx)
	s.log.Info("session opened",
		"session_id", desc.SessionID,
		"tenant_id", desc.TenantID,
		"channel", desc.Channel,
	)
	return sess, nil
}

// Get returns a live session by id.
func (s *Supervisor) Get(sessionID string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	return sess, ok
}

// Live returns the number of open sessions.
func (s *Supervisor) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Close ends a session: the loop gets DrainTimeout to finish its current
// turn, then is cancelled. The session summary is written to the audit
// ledger.
func (s *Supervisor) Close(ctx context.Context, sessionID, reason string) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if ok {
		delete(s.sessions, sessionID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	close(sess.quit)
	select {
	case <-sess.Done():
	case <-time.After(s.cfg.DrainTimeout):
		s.log.Warn("session drain timeout, terminating", "session_id", sessionID)
		sess.cancel()
		<-sess.Done()
	}
	sess.cancel()

	if s.ledger != nil {
		_, err := s.ledger.Record(ctx, sess.TenantID, sessionID, "session_ended", "session", sessionID,
			map[string]string{
				"reason":    reason,
				"status":    string(sess.machine.Status()),
				"summary":   sess.machine.Summary(),
				"escalated": fmt.Sprintf("%t", sess.machine.Status() == convo.StatusEscalated),
			})
		if err != nil {
			s.log.Error("session summary audit failed", "session_id", sessionID, "error", err)
		}
	}
	s.log.Info("session closed",
		"session_id", sessionID,
		"reason", reason,
		"status", sess.machine.Status(),
		"duration", time.Since(sess.started).Round(time.Second),
	)
}

// Shutdown closes every live session and stops the sweep loop.
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.mu.Lock()
	s.closed = true
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.Close(ctx, id, "shutdown")
	}
	close(s.sweepStop)
	<-s.sweepDone
}

// sweep reaps sessions whose loop has exited without a Close call (hard cap,
// abandoned, transport error) and logs registry health.
func (s *Supervisor) sweep() {
	defer close(s.sweepDone)
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.sweepStop:
			return
		case <-ticker.C:
			s.mu.Lock()
			var dead []string
			for id, sess := range s.sessions {
				select {
				case <-sess.Done():
					dead = append(dead, id)
				default:
				}
			}
			live := len(s.sessions) - len(dead)
			s.mu.Unlock()

			for _, id := range dead {
				s.Close(context.Background(), id, "reaped")
			}
			s.log.Debug("session sweep", "live", live, "reaped", len(dead))
		}
	}
}
