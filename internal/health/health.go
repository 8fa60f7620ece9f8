package health

import (
	"context"
	"database/sql"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/booksapi/booksapi/internal/errors"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

type ComponentHealth struct {
	Status   Status `json:"status"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
}

type HealthResponse struct {
	Status     Status                     `json:"status"`
	Timestamp  string                     `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

// Checker probes the service's dependencies. Redis is only checked when the
// rate limiter uses it.
type Checker struct {
	db           *sql.DB
	redis        redis.UniversalClient
	version      string
	checkTimeout time.Duration
}

type CheckerConfig struct {
	DB      *sql.DB
	Redis   redis.UniversalClient
	Version string
	Timeout time.Duration
}

func NewChecker(cfg *CheckerConfig) *Checker {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &Checker{
		db:           cfg.DB,
		redis:        cfg.Redis,
		version:      cfg.Version,
		checkTimeout: timeout,
	}
}

func (c *Checker) CheckDB(ctx context.Context) ComponentHealth {
	start := time.Now()

	if c.db == nil {
		return ComponentHealth{Status: StatusUnhealthy, Message: "database not configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, c.checkTimeout)
	defer cancel()

	if err := c.db.PingContext(ctx); err != nil {
		return ComponentHealth{
			Status:   StatusUnhealthy,
			Message:  "database ping failed",
			Duration: time.Since(start).String(),
		}
	}

	// A ping can succeed on a pooled connection while queries still fail.
	var one int
	if err := c.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return ComponentHealth{
			Status:   StatusDegraded,
			Message:  "database query failed",
			Duration: time.Since(start).String(),
		}
	}

	return ComponentHealth{Status: StatusHealthy, Duration: time.Since(start).String()}
}

// CheckRedis is degraded rather than unhealthy on failure: the rate limiter
// fails open, so requests are still served.
func (c *Checker) CheckRedis(ctx context.Context) ComponentHealth {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.checkTimeout)
	defer cancel()

	if err := c.redis.Ping(ctx).Err(); err != nil {
		return ComponentHealth{
			Status:   StatusDegraded,
			Message:  "redis ping failed",
			Duration: time.Since(start).String(),
		}
	}

	return ComponentHealth{Status: StatusHealthy, Duration: time.Since(start).String()}
}

// Check is the liveness answer: the process is up.
func (c *Checker) Check(ctx context.Context) *HealthResponse {
	return &HealthResponse{
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   c.version,
	}
}

// DeepCheck runs every configured component check in parallel.
func (c *Checker) DeepCheck(ctx context.Context) *HealthResponse {
	response := &HealthResponse{
		Status:     StatusHealthy,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Version:    c.version,
		Components: make(map[string]ComponentHealth),
	}

	checks := map[string]func(context.Context) ComponentHealth{
		"database": c.CheckDB,
	}
	if c.redis != nil {
		checks["redis"] = c.CheckRedis
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for name, check := range checks {
		wg.Add(1)
		go func(n string, ch func(context.Context) ComponentHealth) {
			defer wg.Done()
			result := ch(ctx)
			mu.Lock()
			response.Components[n] = result
			mu.Unlock()
		}(name, check)
	}
	wg.Wait()

	for _, comp := range response.Components {
		if comp.Status == StatusUnhealthy {
			response.Status = StatusUnhealthy
			break
		}
		if comp.Status == StatusDegraded {
			response.Status = StatusDegraded
		}
	}

	return response
}

type Handler struct {
	checker *Checker
}

func NewHandler(checker *Checker) *Handler {
	return &Handler{checker: checker}
}

func (h *Handler) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, h.checker.Check(r.Context()))
}

// ReadinessHandler answers 503 only when a component is unhealthy; a
// degraded service still takes traffic.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	response := h.checker.DeepCheck(r.Context())

	status := http.StatusOK
	if response.Status == StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), status, response)
}

// HealthHandler serves /health; ?deep=true runs the readiness checks.
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("deep") == "true" {
		h.ReadinessHandler(w, r)
		return
	}
	h.LivenessHandler(w, r)
}
