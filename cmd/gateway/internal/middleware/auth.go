package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// CronAuth guards batch trigger endpoints with a shared bearer secret
type CronAuth struct {
	secret string
	logger *zap.Logger
}

// NewCronAuth creates the guard. An empty secret rejects every request.
func NewCronAuth(secret string, logger *zap.Logger) *CronAuth {
	return &CronAuth{secret: secret, logger: logger}
}

// Middleware returns the HTTP middleware function
func (a *CronAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.secret == "" {
			a.logger.Warn("Cron endpoint called but no cron secret is configured", zap.String("path", r.URL.Path))
			sendError(w, http.StatusUnauthorized, "Unauthorized", "")
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(a.secret)) != 1 {
			sendError(w, http.StatusUnauthorized, "Unauthorized", "")
			return
		}
		next.ServeHTTP(w, r)
	})
}
