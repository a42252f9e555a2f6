// Package jobs defines the batch jobs of the pipeline and binds them to the scheduler.
package jobs

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/competitors"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/config"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/db"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/metrics"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/schedules"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/urlperf"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/visibility"
)

const jobTimeout = 30 * time.Minute

// DefaultSchedules are used when a job has no configured schedule
var DefaultSchedules = map[string]string{
	config.JobVisibilityScore:   "0 3 * * *",
	config.JobCompetitorRefresh: "30 3 * * *",
	config.JobURLPerformance:    "0 4 * * *",
	config.JobDailySummary:      "0 5 * * *",
}

// order keeps scoring ahead of the jobs that read scores
var order = []string{
	config.JobVisibilityScore,
	config.JobCompetitorRefresh,
	config.JobURLPerformance,
	config.JobDailySummary,
}

// SummaryReader counts the corpus
type SummaryReader interface {
	Summary(ctx context.Context) (db.Summary, error)
}

// Deps are the services the jobs drive
type Deps struct {
	Scores      *visibility.Runner
	Competitors *competitors.Service
	URLs        *urlperf.Runner
	Summary     SummaryReader
	Logger      *zap.Logger
}

// Build returns the enabled jobs. A nil settings map enables every job on its default schedule.
func Build(d Deps, settings map[string]config.Job) []schedules.Job {
	runs := map[string]schedules.JobFunc{
		config.JobVisibilityScore:   d.scoreRun,
		config.JobCompetitorRefresh: d.competitorRun,
		config.JobURLPerformance:    d.urlRun,
		config.JobDailySummary:      d.summaryRun,
	}

	out := make([]schedules.Job, 0, len(order))
	for _, name := range order {
		spec := DefaultSchedules[name]
		if settings != nil {
			s, ok := settings[name]
			if !ok || !s.Enabled {
				continue
			}
			if s.Schedule != "" {
				spec = s.Schedule
			}
		}
		out = append(out, schedules.Job{Name: name, Schedule: spec, Timeout: jobTimeout, Run: runs[name]})
	}
	return out
}

// Register adds every job to m
func Register(m *schedules.Manager, jobs []schedules.Job) error {
	for _, j := range jobs {
		if err := m.Register(j); err != nil {
			return fmt.Errorf("register %s: %w", j.Name, err)
		}
	}
	return nil
}

func (d Deps) scoreRun(ctx context.Context) error {
	summary, err := d.Scores.Run(ctx)
	if err != nil {
		return err
	}
	d.Logger.Info("Visibility scores computed",
		zap.Int("domains", summary.DomainsScored),
		zap.Int("citations", summary.Citations),
		zap.Duration("duration", summary.Duration),
	)
	return nil
}

func (d Deps) competitorRun(ctx context.Context) error {
	summary, err := d.Competitors.RefreshAll(ctx)
	if err != nil {
		return err
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d competitor targets failed", summary.Failed, summary.Targets)
	}
	return nil
}

func (d Deps) urlRun(ctx context.Context) error {
	_, err := d.URLs.Run(ctx)
	return err
}

func (d Deps) summaryRun(ctx context.Context) error {
	s, err := d.Summary.Summary(ctx)
	if err != nil {
		return fmt.Errorf("summary: %w", err)
	}
	metrics.DomainsScored.Set(float64(s.ScoredDomains))
	d.Logger.Info("Daily corpus summary",
		zap.Int("queries", s.Queries),
		zap.Int("responses", s.Responses),
		zap.Int("citations", s.Citations),
		zap.Int("scored_domains", s.ScoredDomains),
	)
	return nil
}
