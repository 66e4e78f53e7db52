package handlers

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lifequest/lifequest-hub/pkg/logger"
)

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Wrap applies mws around h; the first one sees the request first.
func Wrap(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			h = mws[i](h)
		}
	}
	return h
}

// ErrorWriter writes an error envelope. The server supplies its own so every
// rejection has the same shape as a handler error.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, status int, code, message string)

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST ID AND ACCESS LOG
// ══════════════════════════════════════════════════════════════════════════════

type requestIDKey struct{}

// RequestIDHeader is read from and echoed on every request.
const RequestIDHeader = "X-Request-ID"

// RequestID returns the request ID stored by WithRequestID.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// WithRequestID keeps the caller's X-Request-ID or issues a UUID, and puts a
// logger bound to it into the request context.
func WithRequestID(log *logger.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(RequestIDHeader)
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, id)

			ctx := context.WithValue(r.Context(), requestIDKey{}, id)
			ctx = logger.WithContext(ctx, log.WithRequestID(id))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// AccessLog writes one entry per request with the request-scoped logger.
func AccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		logger.FromContext(r.Context()).Info("http request",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", rec.status),
			logger.Latency(time.Since(start)),
			logger.String("ip", ClientIP(r)),
		)
	})
}

// Recover turns a handler panic into a 500 envelope.
func Recover(log *logger.Logger, writeError ErrorWriter) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if p := recover(); p != nil {
					log.Error("panic recovered",
						logger.String("error", fmt.Sprint(p)),
						logger.String("path", r.URL.Path),
						logger.String("stack", string(debug.Stack())),
					)
					writeError(w, r, http.StatusInternalServerError, "internal_server_error", "An unexpected error occurred")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// HEADERS
// ══════════════════════════════════════════════════════════════════════════════

// apiHeaders go on every response. Progression changes with every record
// write, so nothing is cacheable.
var apiHeaders = [][2]string{
	{"Cache-Control", "no-store, max-age=0"},
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Referrer-Policy", "no-referrer"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
}

// APIHeaders sets the fixed response headers.
func APIHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, h := range apiHeaders {
			w.Header().Set(h[0], h[1])
		}
		next.ServeHTTP(w, r)
	})
}

// CORS answers preflights and echoes allowed origins. "*" allows any origin.
// Nil is returned for an empty list so Wrap skips it.
func CORS(origins []string) Middleware {
	if len(origins) == 0 {
		return nil
	}
	allowed := func(origin string) bool {
		for _, o := range origins {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := r.Header.Get("Origin"); origin != "" && allowed(origin) {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type, "+RequestIDHeader)
				h.Set("Access-Control-Max-Age", "86400")
				h.Add("Vary", "Origin")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// LIMITS
// ══════════════════════════════════════════════════════════════════════════════

// BodyLimit rejects declared bodies over limit bytes and caps undeclared ones.
func BodyLimit(limit int64, writeError ErrorWriter) Middleware {
	if limit <= 0 {
		return nil
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > limit {
				writeError(w, r, http.StatusRequestEntityTooLarge, "payload_too_large", "Request body too large")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}

// Deadline bounds the request context; the store and the aggregator stop on it.
func Deadline(d time.Duration) Middleware {
	if d <= 0 {
		return nil
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RateLimiter is a token bucket per client IP. Each bucket holds up to limit
// tokens and refills at limit per window.
type RateLimiter struct {
	mu      sync.Mutex
	limit   float64
	perSec  float64
	window  time.Duration
	buckets map[string]*bucket
	swept   time.Time
	now     func() time.Time
}

type bucket struct {
	tokens float64
	seen   time.Time
}

// NewRateLimiter allows limit requests per window per key.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:   float64(limit),
		perSec:  float64(limit) / window.Seconds(),
		window:  window,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow takes a token for key if one is available.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.swept) > rl.window {
		// A bucket idle for a whole window is full again.
		for k, b := range rl.buckets {
			if now.Sub(b.seen) > rl.window {
				delete(rl.buckets, k)
			}
		}
		rl.swept = now
	}

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: rl.limit, seen: now}
		rl.buckets[key] = b
	}
	b.tokens = min(rl.limit, b.tokens+now.Sub(b.seen).Seconds()*rl.perSec)
	b.seen = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Middleware answers 429 once a client runs out of tokens.
func (rl *RateLimiter) Middleware(writeError ErrorWriter) Middleware {
	if rl == nil {
		return nil
	}
	perToken := int(rl.window/time.Second) / max(int(rl.limit), 1)
	retryAfter := strconv.Itoa(max(perToken, 1))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.Allow(ClientIP(r)) {
				w.Header().Set("Retry-After", retryAfter)
				writeError(w, r, http.StatusTooManyRequests, "rate_limit_exceeded", "Too many requests, please try again later")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// peer address without its port.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i != -1 {
		host = host[:i]
	}
	return host
}
