package jobs

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/citations"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/competitors"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/config"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/db"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/ingest"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/schedules"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/urlnorm"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/urlperf"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/visibility"
)

func names(jobs []schedules.Job) []string {
	return lo.Map(jobs, func(j schedules.Job, _ int) string { return j.Name })
}

func TestBuildSelectsJobs(t *testing.T) {
	tests := []struct {
		name      string
		settings  map[string]config.Job
		want      []string
		schedules map[string]string
	}{
		{
			name: "nil enables all on defaults",
			want: []string{config.JobVisibilityScore, config.JobCompetitorRefresh, config.JobURLPerformance, config.JobDailySummary},
			schedules: map[string]string{
				config.JobVisibilityScore: "0 3 * * *",
				config.JobDailySummary:    "0 5 * * *",
			},
		},
		{
			name: "only enabled jobs",
			settings: map[string]config.Job{
				config.JobVisibilityScore:   {Enabled: true, Schedule: "15 2 * * *"},
				config.JobCompetitorRefresh: {Enabled: false, Schedule: "30 3 * * *"},
				config.JobURLPerformance:    {Enabled: true},
			},
			want: []string{config.JobVisibilityScore, config.JobURLPerformance},
			schedules: map[string]string{
				config.JobVisibilityScore: "15 2 * * *",
				config.JobURLPerformance:  "0 4 * * *",
			},
		},
		{
			name:     "empty map enables nothing",
			settings: map[string]config.Job{},
			want:     []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs := Build(Deps{}, tt.settings)
			assert.Equal(t, tt.want, names(jobs))
			for _, j := range jobs {
				assert.NotNil(t, j.Run)
				assert.Equal(t, jobTimeout, j.Timeout)
				if want, ok := tt.schedules[j.Name]; ok {
					assert.Equal(t, want, j.Schedule)
				}
			}
		})
	}
}

func TestJobsRunAgainstStore(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)
	store, err := db.NewClient(&db.Config{
		Driver:      db.DriverSQLite,
		Path:        filepath.Join(t.TempDir(), "visibility.db"),
		AutoMigrate: true,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	norm := urlnorm.New(urlnorm.Options{})
	ingester := ingest.NewService(store, citations.NewExtractor(norm), logger)
	for _, req := range []ingest.Request{
		{Query: "best crm", Model: "gpt-4", RawResponseText: "See https://acme.com/pricing and https://beta.io/blog."},
		{Query: "crm for startups", Model: "gpt-4", RawResponseText: "Try https://www.acme.com/startups or https://gamma.dev."},
	} {
		_, err := ingester.Ingest(ctx, req)
		require.NoError(t, err)
	}

	m := schedules.NewManager(nil, logger)
	require.NoError(t, Register(m, Build(Deps{
		Scores:      visibility.NewRunner(store, visibility.DefaultParams(), logger),
		Competitors: competitors.NewService(store, nil, norm, competitors.Options{Concurrency: 2}, logger),
		URLs:        urlperf.NewRunner(store, norm, logger),
		Summary:     store,
		Logger:      logger,
	}, nil)))

	for _, name := range []string{config.JobVisibilityScore, config.JobCompetitorRefresh, config.JobURLPerformance, config.JobDailySummary} {
		require.NoError(t, m.RunNow(ctx, name), name)
		assert.False(t, m.LastSuccess(name).IsZero(), name)
	}

	scores, err := store.ListScores(ctx, 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"acme.com", "beta.io", "gamma.dev"},
		lo.Map(scores, func(s db.ScoreRow, _ int) string { return s.Domain }))
	assert.Equal(t, "acme.com", scores[0].Domain)

	rivals, err := store.CompetitorMetrics(ctx, "acme.com")
	require.NoError(t, err)
	assert.Len(t, rivals, 2)

	urls, err := store.TopURLs(ctx, "acme.com", 10)
	require.NoError(t, err)
	assert.Len(t, urls, 2)

	summary, err := store.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, db.Summary{Queries: 2, Responses: 2, Citations: 4, ScoredDomains: 3}, summary)
}

func TestRegisterRejectsBadSchedule(t *testing.T) {
	m := schedules.NewManager(nil, zaptest.NewLogger(t))
	jobs := Build(Deps{}, map[string]config.Job{config.JobDailySummary: {Enabled: true, Schedule: "never"}})
	err := Register(m, jobs)
	assert.ErrorIs(t, err, schedules.ErrInvalidCronExpression)
}
