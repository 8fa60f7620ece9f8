package feed

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/booksapi/booksapi/internal/auth"
	apperrors "github.com/booksapi/booksapi/internal/errors"
	"github.com/booksapi/booksapi/internal/logger"
	"github.com/booksapi/booksapi/internal/metrics"
)

const writeWait = 10 * time.Second

// Handler serves the book count feed. Routes using it must sit behind the
// auth middleware.
type Handler struct {
	hub      *Hub
	counter  Counter
	interval time.Duration
	metrics  *metrics.Metrics
	log      *logger.Logger
	upgrader websocket.Upgrader
}

func NewHandler(hub *Hub, counter Counter, interval time.Duration, allowedOrigins []string, m *metrics.Metrics, log *logger.Logger) *Handler {
	if m == nil {
		m = metrics.Default()
	}
	if log == nil {
		log = logger.Default()
	}
	return &Handler{
		hub:      hub,
		counter:  counter,
		interval: interval,
		metrics:  m,
		log:      log.WithComponent("feed"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

// originChecker allows requests without an Origin header (non-browser
// clients) and those whose origin is listed. "*" allows any origin.
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}

func (h *Handler) subscribe(r *http.Request) (context.Context, func()) {
	var userID int64
	if user := auth.UserFromContext(r.Context()); user != nil {
		userID = user.ID
	}

	ctx, release := h.hub.Subscribe(r.Context(), userID)
	h.metrics.IncFeedSubscribers()

	var once sync.Once
	return ctx, func() {
		once.Do(func() {
			release()
			h.metrics.DecFeedSubscribers()
		})
	}
}

// ServeSSE streams updates as text/event-stream until the client goes away.
func (h *Handler) ServeSSE(w http.ResponseWriter, r *http.Request) error {
	if !canFlush(w) {
		return apperrors.InternalError("streaming not supported")
	}
	rc := http.NewResponseController(w)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// Headers are committed from here on; failures can only be logged.
	if err := rc.Flush(); err != nil {
		h.log.Warn(r.Context(), "sse flush failed", map[string]interface{}{"reason": err.Error()})
		return nil
	}

	ctx, release := h.subscribe(r)
	defer release()

	err := Poll(ctx, h.counter, h.interval, func(u Update) error {
		if _, err := w.Write([]byte(u.SSE())); err != nil {
			return err
		}
		return rc.Flush()
	})
	if err != nil {
		h.log.Warn(r.Context(), "sse stream ended", map[string]interface{}{"reason": err.Error()})
	}
	return nil
}

// canFlush reports whether w, or a writer it wraps, supports flushing.
func canFlush(w http.ResponseWriter) bool {
	for {
		if _, ok := w.(http.Flusher); ok {
			return true
		}
		u, ok := w.(interface{ Unwrap() http.ResponseWriter })
		if !ok {
			return false
		}
		w = u.Unwrap()
	}
}

// ServeWS upgrades the connection and sends each update as a JSON frame.
// Incoming frames are discarded; a read error ends the stream.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn(r.Context(), "websocket upgrade failed", map[string]interface{}{"reason": err.Error()})
		return
	}
	defer conn.Close()

	ctx, release := h.subscribe(r)
	defer release()

	go func() {
		defer release()
		conn.SetReadLimit(512)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	err = Poll(ctx, h.counter, h.interval, func(u Update) error {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(u)
	})
	if err != nil {
		h.log.Warn(r.Context(), "websocket stream ended", map[string]interface{}{"reason": err.Error()})
	}

	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
}
