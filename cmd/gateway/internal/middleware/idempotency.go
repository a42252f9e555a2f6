package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/circuitbreaker"
)

const idempotencyPrefix = "visibility:idempotency:"

// IdempotencyMiddleware replays the first successful response for a repeated Idempotency-Key
type IdempotencyMiddleware struct {
	redis  *circuitbreaker.RedisWrapper
	logger *zap.Logger
	ttl    time.Duration
}

// NewIdempotencyMiddleware creates a new idempotency middleware
func NewIdempotencyMiddleware(rw *circuitbreaker.RedisWrapper, ttl time.Duration, logger *zap.Logger) *IdempotencyMiddleware {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotencyMiddleware{redis: rw, logger: logger, ttl: ttl}
}

// IdempotencyResult stores the cached result of an idempotent request
type IdempotencyResult struct {
	StatusCode int                 `json:"status_code"`
	Headers    map[string][]string `json:"headers"`
	Body       []byte              `json:"body"`
	Timestamp  time.Time           `json:"timestamp"`
}

// responseRecorder captures the response for caching
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
	written    bool
}

func newResponseRecorder(w http.ResponseWriter) *responseRecorder {
	return &responseRecorder{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
		body:           &bytes.Buffer{},
	}
}

func (r *responseRecorder) WriteHeader(code int) {
	if !r.written {
		r.statusCode = code
		r.written = true
		r.ResponseWriter.WriteHeader(code)
	}
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if !r.written {
		r.WriteHeader(http.StatusOK)
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

// Middleware returns the HTTP middleware function
func (im *IdempotencyMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("Idempotency-Key")
		if r.Method != http.MethodPost || key == "" {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		cacheKey, err := cacheKeyFor(r, key)
		if err != nil {
			sendError(w, http.StatusBadRequest, "Invalid request body", err.Error())
			return
		}

		cached, err := im.getCachedResult(ctx, cacheKey)
		if err != nil {
			im.logger.Warn("Idempotency lookup failed", zap.Error(err))
		}
		if cached != nil {
			for k, values := range cached.Headers {
				for _, v := range values {
					w.Header().Add(k, v)
				}
			}
			w.Header().Set("X-Idempotency-Cached", "true")
			w.WriteHeader(cached.StatusCode)
			_, _ = w.Write(cached.Body)
			return
		}

		recorder := newResponseRecorder(w)
		next.ServeHTTP(recorder, r)

		if recorder.statusCode < 200 || recorder.statusCode >= 300 {
			return
		}
		result := &IdempotencyResult{
			StatusCode: recorder.statusCode,
			Headers:    recorder.Header().Clone(),
			Body:       recorder.body.Bytes(),
			Timestamp:  time.Now().UTC(),
		}
		// per-request headers are set again on replay
		delete(result.Headers, "X-Trace-Id")
		delete(result.Headers, "X-Ratelimit-Limit")
		delete(result.Headers, "X-Ratelimit-Remaining")
		delete(result.Headers, "X-Ratelimit-Reset")
		if err := im.cacheResult(ctx, cacheKey, result); err != nil {
			im.logger.Warn("Failed to cache idempotent response", zap.String("idempotency_key", key), zap.Error(err))
		}
	})
}

// cacheKeyFor hashes the key with the path and body so a reused key on a
// different request does not replay the wrong response.
func cacheKeyFor(r *http.Request, key string) (string, error) {
	h := sha256.New()
	h.Write([]byte(key))
	h.Write([]byte{0})
	h.Write([]byte(r.URL.RequestURI()))
	h.Write([]byte{0})
	if r.Body != nil {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return "", fmt.Errorf("read body: %w", err)
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		h.Write(body)
	}
	return idempotencyPrefix + hex.EncodeToString(h.Sum(nil))[:32], nil
}

func (im *IdempotencyMiddleware) getCachedResult(ctx context.Context, key string) (*IdempotencyResult, error) {
	data, err := im.redis.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var result IdempotencyResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (im *IdempotencyMiddleware) cacheResult(ctx context.Context, key string, result *IdempotencyResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return im.redis.Set(ctx, key, data, im.ttl).Err()
}
