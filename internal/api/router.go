package api

import (
	"net/http"
	"strings"

	"github.com/booksapi/booksapi/internal/auth"
	"github.com/booksapi/booksapi/internal/books"
	"github.com/booksapi/booksapi/internal/config"
	apperrors "github.com/booksapi/booksapi/internal/errors"
	"github.com/booksapi/booksapi/internal/feed"
	"github.com/booksapi/booksapi/internal/health"
	"github.com/booksapi/booksapi/internal/logger"
	"github.com/booksapi/booksapi/internal/metrics"
	"github.com/booksapi/booksapi/internal/middleware"
	"github.com/booksapi/booksapi/internal/ratelimit"
)

// Deps are the services the router mounts. Metrics and Logger fall back to
// the package defaults when nil.
type Deps struct {
	Config  *config.Config
	Auth    *auth.Service
	Books   books.Store
	Limiter ratelimit.Limiter
	Hub     *feed.Hub
	Health  *health.Checker
	Metrics *metrics.Metrics
	Logger  *logger.Logger
}

type Router struct {
	mux     *http.ServeMux
	handler http.Handler
	deps    Deps
	prefix  string
	log     *logger.Logger

	authHandlers   *auth.Handlers
	bookHandlers   *books.Handlers
	feedHandler    *feed.Handler
	healthHandlers *health.Handler
}

func NewRouter(deps Deps) *Router {
	if deps.Metrics == nil {
		deps.Metrics = metrics.Default()
	}
	if deps.Logger == nil {
		deps.Logger = logger.Default()
	}
	cfg := deps.Config

	r := &Router{
		mux:            http.NewServeMux(),
		deps:           deps,
		prefix:         cfg.RoutePrefix(),
		log:            deps.Logger.WithComponent("api"),
		authHandlers:   auth.NewHandlers(deps.Auth, cfg.CookieSecure),
		bookHandlers:   books.NewHandlers(deps.Books),
		feedHandler:    feed.NewHandler(deps.Hub, deps.Books, cfg.FeedInterval, cfg.CORSAllowedOrigins, deps.Metrics, deps.Logger),
		healthHandlers: health.NewHandler(deps.Health),
	}
	r.setupRoutes()

	r.handler = middleware.Chain(r.mux,
		apperrors.RequestIDMiddleware,
		middleware.Recoverer(deps.Logger),
		middleware.Logging(deps.Logger),
		metrics.Middleware(deps.Metrics),
		middleware.CORS(cfg.CORSAllowedOrigins),
	)
	return r
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.handler.ServeHTTP(w, req)
}

func (r *Router) setupRoutes() {
	// Operational endpoints are not versioned.
	r.mux.HandleFunc("GET /health", r.healthHandlers.HealthHandler)
	r.mux.HandleFunc("GET /health/live", r.healthHandlers.LivenessHandler)
	r.mux.HandleFunc("GET /health/ready", r.healthHandlers.ReadinessHandler)
	r.mux.Handle("GET /metrics", r.deps.Metrics.Handler())

	// Auth routes (rate limited, no auth required)
	r.handle("POST /auth/register", r.limited("register", r.wrap(r.authHandlers.Register)))
	r.handle("POST /auth/login", r.limited("login", r.wrap(r.authHandlers.Login)))
	r.handle("GET /auth/logout", r.limited("logout", r.wrap(r.authHandlers.Logout)))
	r.handle("POST /auth/refresh", r.limited("refresh", r.wrap(r.authHandlers.Refresh)))

	// Auth routes (auth required)
	r.handle("GET /auth/me", r.withAuth(r.wrap(r.authHandlers.Me)))

	// Book routes (auth required)
	r.handle("GET /books/get_books", r.withAuth(cached(r.wrap(r.bookHandlers.List))))
	r.handle("GET /books/get_book/{id}", r.withAuth(cached(r.wrap(r.bookHandlers.Get))))
	r.handle("POST /books/create_book", r.withAuth(r.wrap(r.bookHandlers.Create)))
	r.handle("PUT /books/update_book/{id}", r.withAuth(r.wrap(r.bookHandlers.Update)))
	r.handle("DELETE /books/delete_book/{id}", r.withAuth(r.wrap(r.bookHandlers.Delete)))

	// Update feed (auth required, streaming)
	r.handle("GET /books/updates", r.withAuth(r.wrap(r.feedHandler.ServeSSE)))
	r.handle("GET /books/updates/ws", r.withAuth(http.HandlerFunc(r.feedHandler.ServeWS)))
}

// handle mounts h under the API version prefix. pattern is "METHOD /path".
func (r *Router) handle(pattern string, h http.Handler) {
	method, path, _ := strings.Cut(pattern, " ")
	r.mux.Handle(method+" "+r.prefix+path, h)
}

func (r *Router) wrap(h apperrors.Handler) http.Handler {
	return apperrors.HandleFunc(h, r.observeError)
}

// observeError logs the cause of every server-side failure. Client errors are
// already covered by the access log.
func (r *Router) observeError(req *http.Request, err *apperrors.AppError) {
	if err.HTTPStatus < http.StatusInternalServerError {
		return
	}
	r.log.Error(req.Context(), err.Message, err.Cause, map[string]interface{}{
		"code":   err.Code,
		"method": req.Method,
		"path":   req.URL.Path,
	})
}

func (r *Router) withAuth(next http.Handler) http.Handler {
	return auth.Middleware(r.deps.Auth)(next)
}

func (r *Router) limited(name string, next http.Handler) http.Handler {
	cfg := r.deps.Config
	rule := ratelimit.Rule{
		Name:     name,
		Requests: cfg.RateLimitRequests,
		Window:   cfg.RateLimitWindow,
		KeyFunc:  ratelimit.KeyByIP(cfg.TrustProxyHeaders),
	}
	return ratelimit.Middleware(r.deps.Limiter, rule, r.deps.Logger)(next)
}

// cached adds ETag validation and gzip to plain JSON reads. ETag sits outside
// so the validator matches the bytes actually sent.
func cached(h http.Handler) http.Handler {
	return middleware.ETag(middleware.Gzip(h))
}
