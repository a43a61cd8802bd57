package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/guard"
	"github.com/platinummonkey/gatekeeper/pkg/httputil"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/rbac"
	"github.com/platinummonkey/gatekeeper/pkg/transitions"
)

// UserIDHeader identifies the calling user. Authentication happens upstream;
// this service only resolves the user to a tenant membership.
const UserIDHeader = "X-User-ID"

// Config wires a Server
type Config struct {
	Guard       *guard.Guard
	Transitions *transitions.Manager
	Members     *rbac.Service

	// Audit receives membership and plan changes. AuditSearch serves
	// /v1/tenants/{tenant}/audit when set.
	Audit       audit.Logger
	AuditSearch audit.Searcher

	// Optional operational endpoints
	Health  *observability.HealthChecker
	Metrics *observability.Metrics
	// MetricsHandler serves /metrics when set
	MetricsHandler http.Handler

	// LandingPath receives navigation denied by a mounted module route
	LandingPath string

	MaxBodyBytes int64
	Logger       *logrus.Logger
}

// Server is the HTTP surface of the entitlement engine
type Server struct {
	guard       *guard.Guard
	transitions *transitions.Manager
	members     *rbac.Service
	audit       audit.Logger
	auditSearch audit.Searcher
	model       *rbac.Model
	landingPath string
	logger      *logrus.Logger
	router      *mux.Router
}

// NewServer creates the API server and its routes
func NewServer(config Config) *Server {
	if config.Logger == nil {
		config.Logger = logrus.New()
	}
	if config.Audit == nil {
		config.Audit = audit.NopLogger{}
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = 1 << 20
	}

	s := &Server{
		guard:       config.Guard,
		transitions: config.Transitions,
		members:     config.Members,
		audit:       config.Audit,
		auditSearch: config.AuditSearch,
		model:       config.Guard.Model(),
		landingPath: config.LandingPath,
		logger:      config.Logger,
		router:      mux.NewRouter(),
	}
	s.setupRoutes(config)
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes(config Config) {
	s.router.Use(
		httputil.RequestIDMiddleware,
		httputil.RecoveryMiddleware(s.logger),
	)
	if config.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(config.Metrics))
	}

	if config.Health != nil {
		observability.RegisterHealthRoutes(s.router, config.Health)
	}
	if config.MetricsHandler != nil {
		s.router.Handle("/metrics", config.MetricsHandler).Methods(http.MethodGet)
	}

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.Use(
		httputil.LoggingMiddleware(s.logger),
		httputil.MaxBytesMiddleware(config.MaxBodyBytes),
		httputil.ContentTypeMiddleware,
		ActorMiddleware(s.members, s.logger),
	)

	// Decisions
	v1.HandleFunc("/authorize", s.authorize).Methods(http.MethodPost)
	v1.HandleFunc("/release", s.release).Methods(http.MethodPost)

	// Tenants
	v1.HandleFunc("/tenants/{tenant}/entitlements", s.getEntitlements).Methods(http.MethodGet)
	v1.HandleFunc("/tenants/{tenant}/{transition:onboard|upgrade|downgrade|renew|deactivate|reactivate}", s.applyTransition).
		Methods(http.MethodPost)
	if s.auditSearch != nil {
		v1.HandleFunc("/tenants/{tenant}/audit", s.listAuditEvents).Methods(http.MethodGet)
	}

	// Members
	v1.HandleFunc("/members", s.grantMembership).Methods(http.MethodPost)
	v1.HandleFunc("/members/{user}/permissions", s.updatePermissions).Methods(http.MethodPut)
	v1.HandleFunc("/members/{user}", s.removeMembership).Methods(http.MethodDelete)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Router exposes the underlying router
func (s *Server) Router() *mux.Router {
	return s.router
}

// Mount serves handler at path for actors holding module. Everyone else is
// redirected to the landing path.
func (s *Server) Mount(path string, module rbac.Module, handler http.Handler) *mux.Route {
	guarded := s.guard.RequireModule(module, s.landingPath)(handler)
	return s.router.PathPrefix(path).Handler(
		httputil.LoggingMiddleware(s.logger)(ActorMiddleware(s.members, s.logger)(guarded)),
	)
}
