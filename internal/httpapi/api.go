// Package httpapi exposes the tenant-scoped REST surface, the chat
// WebSocket, the telephony webhook and media endpoints, and the operational
// probes (/metrics, /healthz, /readyz).
//
// All business routes live under /api/v1 and require the X-Tenant-ID header;
// handlers delegate to the service packages and only translate between HTTP
// and domain errors.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hausruf/hausruf/internal/audit"
	"github.com/hausruf/hausruf/internal/health"
	"github.com/hausruf/hausruf/internal/jobs"
	"github.com/hausruf/hausruf/internal/match"
	"github.com/hausruf/hausruf/internal/observe"
	"github.com/hausruf/hausruf/internal/outbound"
	"github.com/hausruf/hausruf/internal/schedule"
	"github.com/hausruf/hausruf/internal/store"
	"github.com/hausruf/hausruf/internal/supervisor"
	"github.com/hausruf/hausruf/internal/triage"
	"github.com/hausruf/hausruf/pkg/types"
)

// tenantHeader carries the tenant scope on every business request.
const tenantHeader = "X-Tenant-ID"

// ctxKey is the private context key type for request-scoped values.
type ctxKey int

const tenantKey ctxKey = iota

// WebhookSink receives verified provider webhook payloads.
type WebhookSink interface {
	HandleWebhook(ctx context.Context, provider string, body []byte) error
}

// Config tunes the server. Zero values fall back to sensible defaults.
type Config struct {
	// WebhookSecret signs inbound provider webhooks.
	WebhookSecret []byte

	// SignatureTolerance bounds webhook timestamp skew. Zero means the
	// telephony default of 300s.
	SignatureTolerance time.Duration

	// BusinessHours are the tenant's opening hours, used as the slot-search
	// default when the request does not carry its own.
	BusinessHours types.WeekHours

	// ChatIdleTimeout closes chat connections with no traffic. Zero means
	// 10 minutes.
	ChatIdleTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.ChatIdleTimeout <= 0 {
		c.ChatIdleTimeout = 10 * time.Minute
	}
	return c
}

// Server wires the HTTP surface to the service layer.
type Server struct {
	cfg      Config
	store    store.Store
	jobs     *jobs.Service
	triage   *triage.Engine
	matcher  *match.Matcher
	schedule *schedule.Engine
	ledger   *audit.Ledger
	sup      *supervisor.Supervisor
	health   *health.Handler
	metrics  *observe.Metrics
	webhooks WebhookSink
	media    http.Handler
	planner  *outbound.Planner
	log      *slog.Logger

	now func() time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithWebhookSink wires the consumer of verified telephony webhooks.
func WithWebhookSink(s WebhookSink) Option {
	return func(srv *Server) { srv.webhooks = s }
}

// WithMediaHandler mounts the telephony media WebSocket endpoint.
func WithMediaHandler(h http.Handler) Option {
	return func(srv *Server) { srv.media = h }
}

// New creates a Server over the given services.
func New(cfg Config, st store.Store, jobSvc *jobs.Service, triageEng *triage.Engine,
	matcher *match.Matcher, schedEng *schedule.Engine, ledger *audit.Ledger,
	sup *supervisor.Supervisor, hh *health.Handler, m *observe.Metrics,
	log *slog.Logger, opts ...Option) *Server {

	s := &Server{
		cfg:      cfg.withDefaults(),
		store:    st,
		jobs:     jobSvc,
		triage:   triageEng,
		matcher:  matcher,
		schedule: schedEng,
		ledger:   ledger,
		sup:      sup,
		health:   hh,
		metrics:  m,
		log:      log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the full route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(observe.Middleware(s.metrics))

	// Operational endpoints, not tenant-scoped.
	r.Get("/healthz", s.health.Healthz)
	r.Get("/readyz", s.health.Readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Post("/webhooks/telephony/{provider}", s.handleWebhook)
	if s.media != nil {
		r.Handle("/media", s.media)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.requireTenant)

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.createJob)
			r.Get("/", s.listJobs)
			r.Get("/stats", s.jobStats)
			r.Get("/{id}", s.getJob)
			r.Patch("/{id}/status", s.updateJobStatus)
			r.Patch("/{id}/assign", s.assignJob)
			r.Delete("/{id}", s.cancelJob)
		})

		r.Post("/triage/assess", s.assessTriage)
		r.Post("/technicians/search", s.searchTechnicians)
		r.Post("/appointments/slots", s.findSlots)
		r.Post("/appointments/book", s.bookSlot)
		r.Get("/outbound/plan", s.outboundPlan)

		r.Route("/consent/{contact_id}", func(r chi.Router) {
			r.Get("/", s.listConsents)
			r.Post("/", s.grantConsent)
			r.Delete("/{kind}", s.revokeConsent)
		})

		r.Get("/audit", s.queryAudit)
		r.Get("/audit/integrity", s.verifyAudit)
		r.Get("/export/{contact_id}", s.exportContact)
		r.Delete("/erasure/{contact_id}", s.eraseContact)

		r.Get("/chat", s.handleChat)
	})

	return r
}

// requireTenant rejects requests without the tenant header and stores the
// tenant id in the request context.
func (s *Server) requireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant := r.Header.Get(tenantHeader)
		if tenant == "" {
			tenant = r.URL.Query().Get("tenant_id")
		}
		if tenant == "" {
			badRequest(w, "missing "+tenantHeader+" header", "tenant_id")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), tenantKey, tenant)))
	})
}

// tenantID returns the tenant set by requireTenant.
func tenantID(r *http.Request) string {
	t, _ := r.Context().Value(tenantKey).(string)
	return t
}
