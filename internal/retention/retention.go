// Package retention enforces the configured storage retention windows.
//
// A Sweeper runs a daily pass over the store, purging records older than
// their per-kind window: terminal jobs, soft-deleted contacts, revoked or
// expired consents, and old audit rows. Active records are never purged
// regardless of age, and every pass that removes something is itself
// recorded in the audit ledger.
package retention

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/hausruf/hausruf/internal/audit"
	"github.com/hausruf/hausruf/internal/store"
)

// Config tunes a Sweeper.
type Config struct {
	// TenantID scopes the sweep.
	TenantID string

	// Days maps entity kinds (jobs, contacts, consents, audit) to their
	// retention window. Zero or absent kinds are kept forever.
	Days map[string]int

	// Interval between passes. Zero selects 24h.
	Interval time.Duration
}

// Sweeper purges expired records on a fixed interval.
type Sweeper struct {
	store  store.Retention
	ledger *audit.Ledger
	cfg    Config
	log    *slog.Logger
	now    func() time.Time

	stop chan struct{}
	done chan struct{}
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithClock overrides the time source. Tests use this to age records.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

// New creates a Sweeper. Call Start to begin sweeping.
func New(st store.Retention, ledger *audit.Ledger, cfg Config, log *slog.Logger, opts ...Option) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	s := &Sweeper{
		store:  st,
		ledger: ledger,
		cfg:    cfg,
		log:    log,
		now:    time.Now,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start launches the sweep loop. The first pass runs immediately.
func (s *Sweeper) Start() {
	go s.loop()
}

// Close stops the loop and waits for an in-flight pass to finish.
func (s *Sweeper) Close() {
	close(s.stop)
	<-s.done
}

func (s *Sweeper) loop() {
	defer close(s.done)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.runPass()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.runPass()
		}
	}
}

func (s *Sweeper) runPass() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if _, err := s.SweepOnce(ctx); err != nil {
		s.log.Error("retention sweep failed", "tenant_id", s.cfg.TenantID, "error", err)
	}
}

// SweepOnce runs a single purge pass and returns what it removed. A pass
// that removed anything is recorded in the audit ledger.
func (s *Sweeper) SweepOnce(ctx context.Context) (store.RetentionReport, error) {
	rep, err := s.store.PurgeExpired(ctx, s.cfg.TenantID, s.cutoffs())
	if err != nil {
		return rep, err
	}
	if rep.Empty() {
		return rep, nil
	}

	s.log.Info("retention sweep purged records",
		"tenant_id", s.cfg.TenantID,
		"jobs", rep.Jobs,
		"contacts", rep.Contacts,
		"consents", rep.Consents,
		"audit", rep.Audit,
	)
	if s.ledger != nil {
		if _, err := s.ledger.Record(ctx, s.cfg.TenantID, "system", "retention_purged", "tenant", s.cfg.TenantID,
			map[string]string{
				"jobs":     strconv.Itoa(rep.Jobs),
				"contacts": strconv.Itoa(rep.Contacts),
				"consents": strconv.Itoa(rep.Consents),
				"audit":    strconv.Itoa(rep.Audit),
			}); err != nil {
			s.log.Error("retention sweep audit failed", "tenant_id", s.cfg.TenantID, "error", err)
		}
	}
	return rep, nil
}

// cutoffs translates the day windows into absolute thresholds. Kinds without
// a positive window stay at the zero time and are skipped by the store.
func (s *Sweeper) cutoffs() store.RetentionCutoffs {
	now := s.now().UTC()
	at := func(kind string) time.Time {
		days := s.cfg.Days[kind]
		if days <= 0 {
			return time.Time{}
		}
		return now.AddDate(0, 0, -days)
	}
	return store.RetentionCutoffs{
		Jobs:     at("jobs"),
		Contacts: at("contacts"),
		Consents: at("consents"),
		Audit:    at("audit"),
	}
}
