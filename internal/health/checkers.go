package health

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/circuitbreaker"
)

const slowProbe = 100 * time.Millisecond

// DatabaseHealthChecker pings the relational store
type DatabaseHealthChecker struct {
	wrapper *circuitbreaker.DatabaseWrapper
	logger  *zap.Logger
	timeout time.Duration
}

// NewDatabaseHealthChecker creates a database health checker
func NewDatabaseHealthChecker(wrapper *circuitbreaker.DatabaseWrapper, logger *zap.Logger) *DatabaseHealthChecker {
	return &DatabaseHealthChecker{wrapper: wrapper, logger: logger, timeout: 5 * time.Second}
}

func (d *DatabaseHealthChecker) Name() string           { return "database" }
func (d *DatabaseHealthChecker) IsCritical() bool       { return true }
func (d *DatabaseHealthChecker) Timeout() time.Duration { return d.timeout }

func (d *DatabaseHealthChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	if d.wrapper.IsCircuitBreakerOpen() {
		return CheckResult{
			Status:  StatusUnhealthy,
			Error:   "circuit breaker open",
			Message: "Database circuit breaker is open",
		}
	}

	err := d.wrapper.PingContext(ctx)
	latency := time.Since(start)
	if err != nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Error:   err.Error(),
			Message: "Database ping failed",
			Details: map[string]interface{}{"latency_ms": latency.Milliseconds()},
		}
	}

	stats := d.wrapper.Stats()
	result := CheckResult{
		Status:  StatusHealthy,
		Message: "Database healthy",
		Details: map[string]interface{}{
			"latency_ms":           latency.Milliseconds(),
			"open_connections":     stats.OpenConnections,
			"max_open_connections": stats.MaxOpenConnections,
			"in_use_connections":   stats.InUse,
		},
	}
	switch {
	case stats.MaxOpenConnections > 0 && stats.InUse >= stats.MaxOpenConnections:
		result.Status = StatusDegraded
		result.Message = "Database connection pool exhausted"
	case latency > slowProbe:
		result.Status = StatusDegraded
		result.Message = "Database responding but with high latency"
	}
	return result
}

// RedisHealthChecker pings the cache. The cache is optional, so it is not critical.
type RedisHealthChecker struct {
	wrapper *circuitbreaker.RedisWrapper
	logger  *zap.Logger
	timeout time.Duration
}

// NewRedisHealthChecker creates a Redis health checker
func NewRedisHealthChecker(wrapper *circuitbreaker.RedisWrapper, logger *zap.Logger) *RedisHealthChecker {
	return &RedisHealthChecker{wrapper: wrapper, logger: logger, timeout: 2 * time.Second}
}

func (r *RedisHealthChecker) Name() string           { return "redis" }
func (r *RedisHealthChecker) IsCritical() bool       { return false }
func (r *RedisHealthChecker) Timeout() time.Duration { return r.timeout }

func (r *RedisHealthChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	if r.wrapper.IsCircuitBreakerOpen() {
		return CheckResult{
			Status:  StatusUnhealthy,
			Error:   "circuit breaker open",
			Message: "Redis circuit breaker is open",
		}
	}

	err := r.wrapper.Ping(ctx).Err()
	latency := time.Since(start)
	if err != nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Error:   err.Error(),
			Message: "Redis ping failed",
		}
	}

	result := CheckResult{
		Status:  StatusHealthy,
		Message: "Redis healthy",
		Details: map[string]interface{}{"latency_ms": latency.Milliseconds()},
	}
	if latency > slowProbe {
		result.Status = StatusDegraded
		result.Message = "Redis responding but with high latency"
	}
	return result
}

// JobFreshnessChecker degrades when a batch job has not succeeded within maxAge.
// A job that never ran since startup is reported as unknown.
type JobFreshnessChecker struct {
	job         string
	lastSuccess func() time.Time
	maxAge      time.Duration
	now         func() time.Time
}

// NewJobFreshnessChecker watches the last successful run of job
func NewJobFreshnessChecker(job string, lastSuccess func() time.Time, maxAge time.Duration) *JobFreshnessChecker {
	return &JobFreshnessChecker{job: job, lastSuccess: lastSuccess, maxAge: maxAge, now: time.Now}
}

func (j *JobFreshnessChecker) Name() string           { return "job:" + j.job }
func (j *JobFreshnessChecker) IsCritical() bool       { return false }
func (j *JobFreshnessChecker) Timeout() time.Duration { return time.Second }

func (j *JobFreshnessChecker) Check(ctx context.Context) CheckResult {
	last := j.lastSuccess()
	if last.IsZero() {
		return CheckResult{Status: StatusUnknown, Message: "No successful run since startup"}
	}
	age := j.now().Sub(last)
	details := map[string]interface{}{"last_success": last.UTC().Format(time.RFC3339), "age_seconds": int64(age.Seconds())}
	if age > j.maxAge {
		return CheckResult{
			Status:  StatusDegraded,
			Message: fmt.Sprintf("Last successful run %s ago", age.Truncate(time.Second)),
			Details: details,
		}
	}
	return CheckResult{Status: StatusHealthy, Message: "Fresh", Details: details}
}

// BreakerHealthChecker degrades while any circuit breaker is not closed
type BreakerHealthChecker struct {
	collector *circuitbreaker.MetricsCollector
}

// NewBreakerHealthChecker reports the breakers registered with collector
func NewBreakerHealthChecker(collector *circuitbreaker.MetricsCollector) *BreakerHealthChecker {
	return &BreakerHealthChecker{collector: collector}
}

func (b *BreakerHealthChecker) Name() string           { return "circuit_breakers" }
func (b *BreakerHealthChecker) IsCritical() bool       { return false }
func (b *BreakerHealthChecker) Timeout() time.Duration { return time.Second }

func (b *BreakerHealthChecker) Check(ctx context.Context) CheckResult {
	details := make(map[string]interface{})
	tripped := 0
	for key, state := range b.collector.Snapshot() {
		details[key] = state.String()
		if state != circuitbreaker.StateClosed {
			tripped++
		}
	}
	if tripped > 0 {
		return CheckResult{
			Status:  StatusDegraded,
			Message: fmt.Sprintf("%d circuit breaker(s) not closed", tripped),
			Details: details,
		}
	}
	return CheckResult{Status: StatusHealthy, Message: "All circuit breakers closed", Details: details}
}

// CustomHealthChecker adapts a function to a Checker
type CustomHealthChecker struct {
	name     string
	critical bool
	timeout  time.Duration
	checkFn  func(ctx context.Context) CheckResult
}

// NewCustomHealthChecker creates a function backed checker
func NewCustomHealthChecker(name string, critical bool, timeout time.Duration, checkFn func(ctx context.Context) CheckResult) *CustomHealthChecker {
	return &CustomHealthChecker{name: name, critical: critical, timeout: timeout, checkFn: checkFn}
}

func (c *CustomHealthChecker) Name() string           { return c.name }
func (c *CustomHealthChecker) IsCritical() bool       { return c.critical }
func (c *CustomHealthChecker) Timeout() time.Duration { return c.timeout }

func (c *CustomHealthChecker) Check(ctx context.Context) CheckResult {
	return c.checkFn(ctx)
}
