package middleware

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"
)

const (
	maxListLimit = 500
	maxHistory   = 365
)

// ValidationMiddleware rejects malformed query parameters before they reach a handler.
// It keys off the matched mux pattern, so it must wrap handlers registered on a ServeMux.
type ValidationMiddleware struct {
	logger *zap.Logger
}

func NewValidationMiddleware(logger *zap.Logger) *ValidationMiddleware {
	return &ValidationMiddleware{logger: logger}
}

func (vm *ValidationMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Pattern {
		case "GET /api/visibility-scores", "GET /api/pages":
			if !vm.validateIntParam(w, r, "limit", 1, maxListLimit) {
				return
			}
		case "GET /api/visibility-scores/{domain}":
			if !vm.validateIntParam(w, r, "history", 0, maxHistory) {
				return
			}
		case "GET /api/competitors", "GET /api/competitors/leaderboard", "GET /api/trends":
			if !vm.requireParams(w, r, "domain") {
				return
			}
		case "GET /api/pages/queries":
			if !vm.requireParams(w, r, "url") {
				return
			}
		case "GET /api/competitors/queries":
			if !vm.requireParams(w, r, "domain", "competitor") {
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// --- helpers ---

func (vm *ValidationMiddleware) validateIntParam(w http.ResponseWriter, r *http.Request, name string, min, max int) bool {
	v := r.URL.Query().Get(name)
	if v == "" {
		return true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < min || n > max {
		vm.sendBadRequest(w, "Invalid "+name+" parameter", name+" must be an integer between "+strconv.Itoa(min)+" and "+strconv.Itoa(max))
		return false
	}
	return true
}

func (vm *ValidationMiddleware) requireParams(w http.ResponseWriter, r *http.Request, names ...string) bool {
	q := r.URL.Query()
	for _, name := range names {
		if q.Get(name) == "" {
			vm.sendBadRequest(w, "Missing "+name+" parameter", "")
			return false
		}
	}
	return true
}

func (vm *ValidationMiddleware) sendBadRequest(w http.ResponseWriter, msg, details string) {
	vm.logger.Debug("Rejected request", zap.String("reason", msg))
	sendError(w, http.StatusBadRequest, msg, details)
}
