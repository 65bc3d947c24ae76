package api

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/ory/herodot"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	apperrors "rag-chatbot/internal/errors"
)

type requestIDKey struct{}

// RequestIDHeader is echoed on every response.
const RequestIDHeader = "X-Request-ID"

// requestID keeps a caller supplied id or assigns a new UUID.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// routeSpanName renames the request span to the chi route pattern so span
// names stay bounded. Unmatched requests keep the method-only name.
func routeSpanName(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)

		rctx := chi.RouteContext(r.Context())
		if rctx == nil {
			return
		}
		if pattern := rctx.RoutePattern(); pattern != "" {
			span := trace.SpanFromContext(r.Context())
			span.SetName(r.Method + " " + pattern)
			span.SetAttributes(attribute.String("http.route", pattern))
		}
	})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		log.WithFields(log.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"bytes":      ww.BytesWritten(),
			"duration":   time.Since(start).String(),
			"request_id": RequestIDFromContext(r.Context()),
			"remote_ip":  apperrors.ClientIP(r),
		}).Info("request handled")
	})
}

// frameAncestors restricts which sites may embed the widget. The bare root
// is never embeddable.
func frameAncestors(ancestors string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			policy := ancestors
			if r.URL.Path == "/" || policy == "" {
				policy = "'none'"
			}
			w.Header().Set("Content-Security-Policy", "frame-ancestors "+policy)
			next.ServeHTTP(w, r)
		})
	}
}

// clientLimiter applies a token bucket per client address.
type clientLimiter struct {
	rps   rate.Limit
	burst int

	mu      sync.Mutex
	clients map[string]*limiterEntry
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const limiterIdle = 10 * time.Minute

func newClientLimiter(rps float64, burst int) *clientLimiter {
	return &clientLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		clients: make(map[string]*limiterEntry),
	}
}

func (c *clientLimiter) allow(key string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.clients[key]
	if !ok {
		// Sweep idle clients as new ones arrive
		for k, old := range c.clients {
			if now.Sub(old.lastSeen) > limiterIdle {
				delete(c.clients, k)
			}
		}
		e = &limiterEntry{limiter: rate.NewLimiter(c.rps, c.burst)}
		c.clients[key] = e
	}
	e.lastSeen = now

	return e.limiter.AllowN(now, 1)
}

func (c *clientLimiter) middleware(writer *herodot.JSONWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.RemoteAddr
			if host, _, err := net.SplitHostPort(key); err == nil {
				key = host
			}
			if !c.allow(key, time.Now()) {
				w.Header().Set("Retry-After", "1")
				writer.WriteError(w, r, &herodot.DefaultError{
					CodeField:   http.StatusTooManyRequests,
					StatusField: http.StatusText(http.StatusTooManyRequests),
					ErrorField:  "Too many requests",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
