// Package app wires all hausruf subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP and pumps telephony events until the context
// is cancelled, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithMetrics). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/hausruf/hausruf/internal/audit"
	"github.com/hausruf/hausruf/internal/config"
	"github.com/hausruf/hausruf/internal/convo"
	"github.com/hausruf/hausruf/internal/health"
	"github.com/hausruf/hausruf/internal/httpapi"
	"github.com/hausruf/hausruf/internal/infer"
	"github.com/hausruf/hausruf/internal/jobs"
	"github.com/hausruf/hausruf/internal/match"
	"github.com/hausruf/hausruf/internal/observe"
	"github.com/hausruf/hausruf/internal/outbound"
	"github.com/hausruf/hausruf/internal/retention"
	"github.com/hausruf/hausruf/internal/routing"
	"github.com/hausruf/hausruf/internal/schedule"
	"github.com/hausruf/hausruf/internal/store"
	"github.com/hausruf/hausruf/internal/store/memstore"
	"github.com/hausruf/hausruf/internal/store/postgres"
	"github.com/hausruf/hausruf/internal/supervisor"
	"github.com/hausruf/hausruf/internal/telephony"
	"github.com/hausruf/hausruf/internal/triage"
	"github.com/hausruf/hausruf/pkg/provider/llm"
	"github.com/hausruf/hausruf/pkg/provider/stt"
	"github.com/hausruf/hausruf/pkg/provider/tts"
	"github.com/hausruf/hausruf/pkg/provider/vad"
	"github.com/hausruf/hausruf/pkg/provider/vad/energy"
)

// Providers holds one interface value per provider slot. Populated by
// main.go via the config registry; resilience wrappers go on before the
// struct reaches New.
type Providers struct {
	STT stt.Transcriber
	LLM llm.Generator
	TTS tts.Synthesizer
	VAD vad.Engine

	// Telephony is optional; without it the server answers chat and REST
	// only.
	Telephony telephony.Adapter
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	log       *slog.Logger

	store       store.Store
	ledger      *audit.Ledger
	jobs        *jobs.Service
	triage      *triage.Engine
	triageTable triage.Table
	matcher     *match.Matcher
	schedule    *schedule.Engine
	planner     *outbound.Planner
	pool        *infer.Pool
	sup         *supervisor.Supervisor
	metrics     *observe.Metrics
	server      *http.Server

	// legs tracks the live phone sessions by call id.
	legMu sync.Mutex
	legs  map[string]*phoneCall

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// phoneCall pairs a telephony leg with its session id so call events can be
// dispatched and the session torn down on hangup.
type phoneCall struct {
	leg       *supervisor.PhoneLeg
	sessionID string
	cancel    context.CancelFunc
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a store instead of creating one from config.
func WithStore(st store.Store) Option {
	return func(a *App) { a.store = st }
}

// WithMetrics injects a metrics set instead of using the process default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together. The providers
// struct comes from main.go. Construction is synchronous: storage
// connection, service assembly, supervisor start, HTTP route tree.
func New(ctx context.Context, cfg *config.Config, providers *Providers, log *slog.Logger, opts ...Option) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		log:       log,
		legs:      make(map[string]*phoneCall),
	}
	for _, o := range opts {
		o(a)
	}
	if a.providers.VAD == nil {
		a.providers.VAD = energy.New()
	}

	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}
	if err := a.initServices(); err != nil {
		return nil, fmt.Errorf("app: init services: %w", err)
	}
	a.initSupervisor()
	a.initHTTP()

	return a, nil
}

// initStore opens the configured backend. An empty DSN selects the
// in-memory store, which is what the test and demo setups run on.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	if dsn := a.cfg.Storage.PostgresDSN; dsn != "" {
		st, err := postgres.NewStore(ctx, dsn)
		if err != nil {
			return err
		}
		a.store = st
		a.closers = append(a.closers, func() error { st.Close(); return nil })
		return nil
	}
	a.log.Warn("storage.postgres_dsn is empty, using the in-memory store")
	st := memstore.New()
	a.store = st
	a.closers = append(a.closers, func() error { st.Close(); return nil })
	return nil
}

// initServices assembles the domain layer on top of the store.
func (a *App) initServices() error {
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	a.ledger = audit.New(a.store)

	var routeOpts []routing.Option
	if id := a.cfg.Routing.FallbackDepartmentID; id != "" {
		routeOpts = append(routeOpts, routing.WithFallbackDepartment(id))
	}
	router := routing.New(routeOpts...)

	escalator := routing.NewEscalator(a.store, a.ledger, a.log)
	a.closers = append(a.closers, func() error { escalator.Close(); return nil })

	a.jobs = jobs.New(a.store, router, a.ledger, a.log, jobs.WithEscalator(escalator))

	table, err := triage.TableForVersion(a.cfg.Triage.RulesVersion)
	if err != nil {
		return err
	}
	a.triageTable = table
	a.triage = triage.New(table)
	a.matcher = match.New()
	a.schedule = schedule.New(a.store)
	a.planner = outbound.New(a.store, outbound.Config{
		CallWindow:    a.cfg.Tenant.BusinessHours.Week()[time.Monday],
		QuietWeekdays: []time.Weekday{time.Sunday},
	}, a.log)

	if days := a.cfg.Storage.RetentionDays; len(days) > 0 {
		sweeper := retention.New(a.store, a.ledger, retention.Config{
			TenantID: a.cfg.Tenant.ID,
			Days:     days,
		}, a.log)
		sweeper.Start()
		a.closers = append(a.closers, func() error { sweeper.Close(); return nil })
	}
	return nil
}

// initSupervisor starts the inference pool and the session supervisor.
func (a *App) initSupervisor() {
	limits := a.cfg.Session.Limits

	// Pool sizing follows the session cap: a quarter of the sessions
	// thinking at once keeps the queue ahead of the soft timeout.
	workers := limits.MaxConcurrent / 4
	if workers <= 0 {
		workers = 4
	}
	a.pool = infer.NewPool(workers, 4*workers, 3*workers, a.log)
	a.closers = append(a.closers, func() error { a.pool.Close(); return nil })

	profile := convo.TradesProfile()
	profile.Triage = a.triageTable

	a.sup = supervisor.New(supervisor.Config{
		MaxSessions:      limits.MaxConcurrent,
		PhoneTurnTimeout: limits.PhoneIdle(),
		ChatTurnTimeout:  limits.ChatIdle(),
		PhoneHardCap:     limits.PhoneMax(),
		ChatHardCap:      limits.ChatMax(),
		Convo: convo.Config{
			EmergencyTransfer: a.cfg.Routing.EmergencyTransfer,
			SoftTimeout:       a.cfg.Inference.Timeouts.LLMSoft(),
			HardTimeout:       a.cfg.Inference.Timeouts.LLMHard(),
		},
	}, profile, a.providers.LLM, a.jobs, a.ledger, a.pool, a.log)
}

// initHTTP builds the route tree and the server.
func (a *App) initHTTP() {
	checkers := []health.Checker{{
		Name: "store",
		Check: func(ctx context.Context) error {
			if p, ok := a.store.(interface{ Ping(context.Context) error }); ok {
				return p.Ping(ctx)
			}
			return nil
		},
	}}
	hh := health.New(checkers...)

	apiCfg := httpapi.Config{
		WebhookSecret:      []byte(a.cfg.Webhook.Secret),
		SignatureTolerance: a.cfg.Webhook.SignatureTolerance(),
		BusinessHours:      a.cfg.Tenant.BusinessHours.Week(),
		ChatIdleTimeout:    a.cfg.Session.Limits.ChatIdle(),
	}

	var apiOpts []httpapi.Option
	if sink, ok := a.providers.Telephony.(httpapi.WebhookSink); ok {
		apiOpts = append(apiOpts, httpapi.WithWebhookSink(sink))
	}
	if media := a.mediaHandler(); media != nil {
		apiOpts = append(apiOpts, httpapi.WithMediaHandler(media))
	}
	apiOpts = append(apiOpts, httpapi.WithPlanner(a.planner))

	srv := httpapi.New(apiCfg, a.store, a.jobs, a.triage, a.matcher,
		a.schedule, a.ledger, a.sup, hh, a.metrics, a.log, apiOpts...)

	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// mediaHandler upgrades /media requests and hands the socket to the
// telephony adapter when it speaks WebSocket media.
func (a *App) mediaHandler() http.Handler {
	type wsMedia interface {
		ServeConn(ctx context.Context, conn *websocket.Conn) error
	}
	adapter, ok := a.providers.Telephony.(wsMedia)
	if !ok {
		return nil
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			a.log.Warn("media upgrade failed", "error", err)
			return
		}
		if err := adapter.ServeConn(r.Context(), conn); err != nil {
			a.log.Warn("media connection ended with error", "error", err)
		}
		conn.Close(websocket.StatusNormalClosure, "media done")
	})
}

// Planner exposes the outbound campaign planner.
func (a *App) Planner() *outbound.Planner { return a.planner }

// Run serves HTTP and pumps telephony events until ctx is cancelled, then
// shuts down. It returns the first serve error, or nil on a clean stop.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info("http server listening", "addr", a.server.Addr)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})

	if a.providers.Telephony != nil {
		g.Go(func() error {
			a.pumpTelephony(ctx)
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.Shutdown(shutCtx)
	})

	return g.Wait()
}

// Shutdown tears down all subsystems in order: stop accepting HTTP, drain
// live sessions, then run the closers. It respects the context deadline;
// closers remaining when ctx expires are skipped.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down")

		if err := a.server.Shutdown(ctx); err != nil {
			a.log.Warn("http shutdown error", "error", err)
		}

		if a.providers.Telephony != nil {
			if err := a.providers.Telephony.Close(); err != nil {
				a.log.Warn("telephony close error", "error", err)
			}
		}

		a.sup.Shutdown(ctx)

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "error", err)
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}
