package schedules

import (
	"context"
	"time"
)

// JobFunc is one run of a batch job
type JobFunc func(ctx context.Context) error

// Job is a named batch job on a cron schedule
type Job struct {
	Name     string
	Schedule string // five field cron expression, UTC
	Timeout  time.Duration
	Run      JobFunc
}

// Status reports the run history of a job since startup
type Status struct {
	Name          string     `json:"name"`
	Schedule      string     `json:"schedule"`
	Running       bool       `json:"running"`
	Runs          int        `json:"runs"`
	Failures      int        `json:"failures"`
	Skipped       int        `json:"skipped"`
	LastRunAt     *time.Time `json:"lastRunAt,omitempty"`
	LastSuccessAt *time.Time `json:"lastSuccessAt,omitempty"`
	LastError     string     `json:"lastError,omitempty"`
	NextRunAt     *time.Time `json:"nextRunAt,omitempty"`
}
