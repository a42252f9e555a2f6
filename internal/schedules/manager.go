package schedules

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/metrics"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/tracing"
)

var (
	ErrInvalidCronExpression = errors.New("invalid cron expression")
	ErrIntervalTooShort      = errors.New("cron interval too short")
	ErrJobNotFound           = errors.New("job not found")
	ErrJobExists             = errors.New("job already registered")
	ErrJobRunning            = errors.New("job is already running")
)

// Config holds scheduler limits
type Config struct {
	MinIntervalMins int // 0 disables the check
}

type entry struct {
	job      Job
	schedule cron.Schedule
	running  atomic.Bool

	mu     sync.Mutex
	status Status
}

// Manager runs batch jobs on cron schedules. A job never overlaps itself:
// a tick that finds the previous run still active is skipped.
type Manager struct {
	cron    *cron.Cron
	parser  cron.Parser
	config  *Config
	entries map[string]*entry
	logger  *zap.Logger
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
}

// NewManager creates a scheduler. Schedules are evaluated in UTC.
func NewManager(cfg *Config, logger *zap.Logger) *Manager {
	if cfg == nil {
		cfg = &Config{}
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	cl := cronLogger{logger.Sugar()}
	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
		parser:  parser,
		config:  cfg,
		entries: make(map[string]*entry),
		logger:  logger,
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Register validates and schedules job
func (m *Manager) Register(job Job) error {
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("job needs a name and a run function")
	}
	schedule, err := m.parser.Parse(job.Schedule)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidCronExpression, job.Schedule, err)
	}
	if !m.validateMinInterval(schedule) {
		return fmt.Errorf("%w: %s runs more often than every %d minutes", ErrIntervalTooShort, job.Schedule, m.config.MinIntervalMins)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entries[job.Name]; exists {
		return fmt.Errorf("%w: %s", ErrJobExists, job.Name)
	}

	e := &entry{job: job, schedule: schedule, status: Status{Name: job.Name, Schedule: job.Schedule}}
	m.entries[job.Name] = e
	m.cron.Schedule(schedule, cron.FuncJob(func() {
		// outcome is logged and counted by execute
		_ = m.execute(m.ctx, e, "schedule")
	}))

	m.logger.Info("Job scheduled",
		zap.String("job", job.Name),
		zap.String("cron", job.Schedule),
		zap.Time("next_run", schedule.Next(m.now().UTC())),
	)
	return nil
}

// RunNow runs a registered job immediately in the calling goroutine.
// It returns ErrJobRunning when the job is active.
func (m *Manager) RunNow(ctx context.Context, name string) error {
	m.mu.RLock()
	e, ok := m.entries[name]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	return m.execute(ctx, e, "manual")
}

func (m *Manager) execute(ctx context.Context, e *entry, trigger string) error {
	name := e.job.Name
	if !e.running.CompareAndSwap(false, true) {
		metrics.JobsSkipped.WithLabelValues(name).Inc()
		e.mu.Lock()
		e.status.Skipped++
		e.mu.Unlock()
		m.logger.Warn("Job still running, skipping", zap.String("job", name), zap.String("trigger", trigger))
		return fmt.Errorf("%w: %s", ErrJobRunning, name)
	}
	defer e.running.Store(false)

	m.wg.Add(1)
	defer m.wg.Done()

	if e.job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.job.Timeout)
		defer cancel()
	}
	ctx, span := tracing.StartSpan(ctx, "job."+name, attribute.String("trigger", trigger))
	defer span.End()

	start := m.now()
	err := e.job.Run(ctx)
	duration := m.now().Sub(start)
	metrics.RecordJob(name, err, duration.Seconds())

	e.mu.Lock()
	e.status.Runs++
	started := start.UTC()
	e.status.LastRunAt = &started
	if err != nil {
		e.status.Failures++
		e.status.LastError = err.Error()
	} else {
		e.status.LastSuccessAt = &started
		e.status.LastError = ""
	}
	e.mu.Unlock()

	if err != nil {
		span.RecordError(err)
		m.logger.Error("Job failed",
			zap.String("job", name),
			zap.String("trigger", trigger),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return err
	}
	m.logger.Info("Job completed",
		zap.String("job", name),
		zap.String("trigger", trigger),
		zap.Duration("duration", duration),
	)
	return nil
}

// Start begins firing schedules
func (m *Manager) Start() {
	m.cron.Start()
	m.logger.Info("Scheduler started", zap.Int("jobs", len(m.Statuses())))
}

// Stop stops firing schedules and waits for running jobs until ctx is done,
// then cancels them.
func (m *Manager) Stop(ctx context.Context) error {
	cronDone := m.cron.Stop()
	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		m.wg.Wait()
		close(done)
	}()

	defer m.cancel()
	select {
	case <-done:
		m.logger.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		m.logger.Warn("Scheduler stop timed out, cancelling running jobs")
		return ctx.Err()
	}
}

// Statuses reports every job, ordered by name
func (m *Manager) Statuses() []Status {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	now := m.now().UTC()
	out := make([]Status, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		s := e.status
		e.mu.Unlock()
		s.Running = e.running.Load()
		next := e.schedule.Next(now)
		s.NextRunAt = &next
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// LastSuccess returns the start of the last successful run of name, or the zero time
func (m *Manager) LastSuccess(name string) time.Time {
	m.mu.RLock()
	e, ok := m.entries[name]
	m.mu.RUnlock()
	if !ok {
		return time.Time{}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status.LastSuccessAt == nil {
		return time.Time{}
	}
	return *e.status.LastSuccessAt
}

// validateMinInterval checks the gap between the next two firings
func (m *Manager) validateMinInterval(schedule cron.Schedule) bool {
	if m.config.MinIntervalMins <= 0 {
		return true
	}
	next1 := schedule.Next(m.now().UTC())
	next2 := schedule.Next(next1)
	return next2.Sub(next1).Minutes() >= float64(m.config.MinIntervalMins)
}

// cronLogger routes cron's own messages to zap
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
