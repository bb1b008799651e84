package api

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mobilyecommerce/storefront/pkg/auth"
	"github.com/mobilyecommerce/storefront/pkg/httputil"
	"github.com/mobilyecommerce/storefront/pkg/middleware"
	"github.com/mobilyecommerce/storefront/pkg/observability"
)

// ServerDeps are the collaborators of Server. Service, Validator and both
// cleaners are required; a nil Limiter disables admission control.
type ServerDeps struct {
	Service        AuthService
	Validator      middleware.TokenChecker
	AccessCleaner  TokenCleaner
	RefreshCleaner TokenCleaner
	Limiter        middleware.Admitter
	Audit          *auth.AuditLogger
	Logger         *observability.Logger
	Metrics        *observability.Metrics

	// PublicPaths skip bearer validation; nil means middleware.DefaultPublicPaths
	PublicPaths  []string
	MaxBodyBytes int64
}

// Server represents our API server
type Server struct {
	router  *mux.Router
	handler http.Handler
	logger  *observability.Logger
}

// NewServer builds the router and wraps it, outermost first, in tracing,
// request IDs, panic recovery, access logging, body limits, rate limiting
// and bearer authentication.
func NewServer(deps ServerDeps) (*Server, error) {
	if deps.Service == nil || deps.Validator == nil || deps.AccessCleaner == nil || deps.RefreshCleaner == nil {
		return nil, fmt.Errorf("api server requires service, validator and both token cleaners")
	}
	if deps.Logger == nil {
		deps.Logger = observability.NopLogger()
	}
	if deps.Audit == nil {
		deps.Audit = auth.NewAuditLogger(deps.Logger, nil)
	}

	s := &Server{
		router: mux.NewRouter(),
		logger: deps.Logger,
	}
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteRequestError(w, r, http.StatusNotFound, "no route for "+r.URL.Path)
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteRequestError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})
	s.router.Use(observability.HTTPMetricsMiddleware(deps.Metrics))

	s.RegisterRoutes(NewAuthHandlers(deps.Service, deps.Logger))
	s.RegisterRoutes(NewCleanupHandlers(deps.AccessCleaner, deps.RefreshCleaner, deps.Audit, deps.Logger))

	chain := []func(http.Handler) http.Handler{
		httputil.RequestIDMiddleware(deps.Logger),
		httputil.RecoveryMiddleware(deps.Logger),
		httputil.LoggingMiddleware(deps.Logger),
	}
	if deps.MaxBodyBytes > 0 {
		chain = append(chain, httputil.MaxBytesMiddleware(deps.MaxBodyBytes))
	}
	if deps.Limiter != nil {
		chain = append(chain, middleware.NewRateLimitMiddleware(deps.Limiter, deps.Audit, deps.Logger, deps.Metrics).Handler)
	}
	chain = append(chain, middleware.NewAuthMiddleware(deps.Validator, deps.PublicPaths, deps.Logger, deps.Metrics).Handler)

	s.handler = observability.HTTPHandler(httputil.Chain(chain...)(s.router), "storefront-api")
	return s, nil
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Router returns the bare router, without the middleware chain
func (s *Server) Router() *mux.Router {
	return s.router
}

// RouteRegistrar is an interface for types that can register routes
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}

// RegisterRoutes registers routes from a RouteRegistrar
func (s *Server) RegisterRoutes(registrar RouteRegistrar) {
	registrar.RegisterRoutes(s.router)
}
