package ratelimit

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"pharmatrace/pkg/platform/httputil"
	"pharmatrace/pkg/platform/middleware/auth"
	request "pharmatrace/pkg/platform/middleware/request"
)

type Limiter struct {
	store    Store
	limit    int
	window   time.Duration
	logger   *slog.Logger
	rejected *prometheus.CounterVec
}

type Option func(*Limiter)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}

// WithRegisterer exposes the rejection counter on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(l *Limiter) {
		l.rejected = promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "pharmatrace_ratelimit_rejected_total",
			Help: "Requests rejected by the API rate limiter",
		}, []string{"scope"})
	}
}

// New admits at most limit requests per window for each caller.
func New(store Store, limit int, window time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		store:  store,
		limit:  limit,
		window: window,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

type exceededResponse struct {
	Error      string `json:"error"`
	Message    string `json:"error_description"`
	RetryAfter int    `json:"retry_after"`
}

// Middleware rejects callers over their quota with 429. Store failures let
// the request through.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scope, key := callerKey(r)
		result, err := l.store.AllowN(r.Context(), key, 1, l.limit, l.window)
		if err != nil {
			l.logger.ErrorContext(r.Context(), "rate limit check failed", "scope", scope, "error", err)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

		if !result.Allowed {
			if l.rejected != nil {
				l.rejected.WithLabelValues(scope).Inc()
			}
			retry := int(math.Ceil(result.RetryAfter.Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			httputil.WriteJSON(w, http.StatusTooManyRequests, exceededResponse{
				Error:      "rate_limit_exceeded",
				Message:    "too many requests, try again later",
				RetryAfter: retry,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// callerKey prefers the declared party so callers behind one proxy do not
// share a quota.
func callerKey(r *http.Request) (scope, key string) {
	if party := r.Header.Get(auth.HeaderPartyID); party != "" {
		return "party", "party:" + party
	}
	return "ip", "ip:" + request.ClientIP(r)
}
