package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/metrics"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/ratecontrol"
)

// RateLimiter limits requests per client address over a fixed window
type RateLimiter struct {
	limiter *ratecontrol.WindowLimiter
	logger  *zap.Logger
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(limiter *ratecontrol.WindowLimiter, logger *zap.Logger) *RateLimiter {
	return &RateLimiter{limiter: limiter, logger: logger}
}

// Middleware returns the HTTP middleware function
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := clientIP(r)
		decision, err := rl.limiter.Allow(r.Context(), client)
		if err != nil {
			// fail open
			rl.logger.Warn("Rate limit check failed", zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}
		if decision.Limit > 0 {
			reset := int(decision.ResetIn.Seconds())
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.Itoa(reset))
			if !decision.Allowed {
				metrics.RateLimited.WithLabelValues("api").Inc()
				rl.logger.Warn("Rate limit exceeded", zap.String("client", client), zap.String("path", r.URL.Path))
				w.Header().Set("Retry-After", strconv.Itoa(reset))
				sendError(w, http.StatusTooManyRequests, "Rate limit exceeded", "Too many requests. Retry after the window resets.")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP prefers the first X-Forwarded-For hop
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func sendError(w http.ResponseWriter, status int, msg, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := map[string]string{"error": msg}
	if details != "" {
		body["details"] = details
	}
	_ = json.NewEncoder(w).Encode(body)
}
