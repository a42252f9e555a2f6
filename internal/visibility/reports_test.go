package visibility

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var day1 = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

func point(domain, score string, at time.Time) ScorePoint {
	return ScorePoint{Domain: domain, Score: dec(score), ComputedAt: at}
}

func nullDec(s string) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: dec(s), Valid: true}
}

type fakeReportStore struct {
	scores      []ScoreRecord
	history     []ScorePoint
	times       []time.Time
	competitors []string
	err         error

	historyDomains []string
	historySince   time.Time
	citationsSince time.Time
	competitorsN   int
}

func (f *fakeReportStore) AllScores(ctx context.Context) ([]ScoreRecord, error) {
	return f.scores, f.err
}

func (f *fakeReportStore) ScoreOf(ctx context.Context, domain string) (*ScoreRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, s := range f.scores {
		if s.Domain == domain {
			s := s
			return &s, nil
		}
	}
	return nil, nil
}

func (f *fakeReportStore) ScoreHistorySince(ctx context.Context, domains []string, since time.Time) ([]ScorePoint, error) {
	f.historyDomains = domains
	f.historySince = since
	var out []ScorePoint
	for _, p := range f.history {
		for _, d := range domains {
			if p.Domain == d && !p.ComputedAt.Before(since) {
				out = append(out, p)
			}
		}
	}
	return out, nil
}

func (f *fakeReportStore) CitationTimes(ctx context.Context, domain string, since time.Time) ([]time.Time, error) {
	f.citationsSince = since
	return f.times, nil
}

func (f *fakeReportStore) TopCompetitors(ctx context.Context, target string, n int) ([]string, error) {
	f.competitorsN = n
	if len(f.competitors) > n {
		return f.competitors[:n], nil
	}
	return f.competitors, nil
}

func TestParseTrendRange(t *testing.T) {
	tests := []struct {
		in        string
		wantLabel string
		wantDays  int
	}{
		{"7d", "7d", 7},
		{"30d", "30d", 30},
		{"90d", "90d", 90},
		{"", "30d", 30},
		{"1y", "30d", 30},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			label, days := ParseTrendRange(tt.in)
			assert.Equal(t, tt.wantLabel, label)
			assert.Equal(t, tt.wantDays, days)
		})
	}
}

func TestDailyScoresKeepsLastScoreOfDay(t *testing.T) {
	plus2 := time.FixedZone("UTC+2", 2*60*60)
	points := []ScorePoint{
		point("a.com", "10", day1.Add(10*time.Hour)),
		point("a.com", "5", day1.Add(8*time.Hour)),
		point("a.com", "20", day1.Add(30*time.Hour)),
		// 01:00 local is still the previous UTC day
		point("a.com", "12", time.Date(2026, 6, 2, 1, 0, 0, 0, plus2)),
	}

	got := DailyScores(points)

	require.Len(t, got, 2)
	assert.Equal(t, "2026-06-01", got[0].Date)
	assert.Equal(t, "12", got[0].Score.String())
	assert.Equal(t, "2026-06-02", got[1].Date)
	assert.Equal(t, "20", got[1].Score.String())

	assert.NotNil(t, DailyScores(nil))
}

func TestSmooth(t *testing.T) {
	var days []DailyScore
	for i, s := range []string{"10", "20", "30", "40", "50", "60", "70", "80"} {
		days = append(days, DailyScore{Date: day1.AddDate(0, 0, i).Format(dayLayout), Score: dec(s)})
	}

	got := Smooth(days, SmoothingWindow)

	require.Len(t, got, 8)
	want := []string{"10", "15", "20", "25", "30", "35", "40", "50"}
	for i := range want {
		assert.Equal(t, want[i], got[i].Score.String(), "day %d", i)
		assert.Equal(t, days[i].Date, got[i].Date)
	}

	thirds := Smooth([]DailyScore{{Date: "a", Score: dec("1")}, {Date: "b", Score: dec("1")}, {Date: "c", Score: dec("2")}}, 3)
	assert.Equal(t, "1.3333", thirds[2].Score.String())
}

func TestCountByDay(t *testing.T) {
	counts := CountByDay([]time.Time{day1, day1.Add(time.Hour), day1.Add(25 * time.Hour)})
	assert.Equal(t, map[string]int{"2026-06-01": 2, "2026-06-02": 1}, counts)
}

func TestBuildTrends(t *testing.T) {
	day2 := day1.AddDate(0, 0, 1)
	day3 := day1.AddDate(0, 0, 2)
	current := &ScoreRecord{Domain: "t.com", Score: dec("58"), Change: nullDec("3")}
	history := []ScorePoint{
		point("t.com", "50", day1.Add(time.Hour)),
		point("t.com", "55", day2.Add(time.Hour)),
		point("t.com", "60", day2.Add(2*time.Hour)),
		point("a.com", "40", day2),
		point("c.com", "99", day2),
	}
	times := []time.Time{day1, day1.Add(time.Minute), day3}

	got := BuildTrends("t.com", "30d", current, []string{"a.com", "b.com", "c.com"}, history, times)

	assert.Equal(t, "t.com", got.Domain)
	assert.Equal(t, "30d", got.Range)
	require.NotNil(t, got.Domains.Competitor1)
	require.NotNil(t, got.Domains.Competitor2)
	assert.Equal(t, "a.com", *got.Domains.Competitor1)
	assert.Equal(t, "b.com", *got.Domains.Competitor2)

	require.Len(t, got.Series, 3)
	assert.Equal(t, "2026-06-01", got.Series[0].Date)
	assert.Equal(t, "50", got.Series[0].Score.Decimal.String())
	assert.False(t, got.Series[0].ScoreCompetitor1.Valid)
	assert.Equal(t, 2, got.Series[0].CitationCount)

	assert.Equal(t, "55", got.Series[1].Score.Decimal.String())
	assert.Equal(t, "40", got.Series[1].ScoreCompetitor1.Decimal.String())
	assert.False(t, got.Series[1].ScoreCompetitor2.Valid)
	assert.Zero(t, got.Series[1].CitationCount)

	assert.False(t, got.Series[2].Score.Valid)
	assert.Equal(t, 1, got.Series[2].CitationCount)

	assert.Equal(t, "58", got.Summary.CurrentVisibility.String())
	assert.Equal(t, "3", got.Summary.Change30d.Decimal.String())
	assert.Equal(t, "55", got.Summary.PeakScore.String())
}

func TestBuildTrendsPeakFallback(t *testing.T) {
	scored := BuildTrends("t.com", "7d", &ScoreRecord{Domain: "t.com", Score: dec("42.46")}, nil, nil, nil)
	assert.Equal(t, "42.5", scored.Summary.PeakScore.String())
	assert.False(t, scored.Summary.Change30d.Valid)
	assert.Nil(t, scored.Domains.Competitor1)
	assert.NotNil(t, scored.Series)
	assert.Empty(t, scored.Series)

	unscored := BuildTrends("t.com", "7d", nil, nil, nil, nil)
	assert.True(t, unscored.Summary.PeakScore.IsZero())
	assert.True(t, unscored.Summary.CurrentVisibility.IsZero())
}

func TestBuildTrendsJSON(t *testing.T) {
	decimal.MarshalJSONWithoutQuotes = true
	t.Cleanup(func() { decimal.MarshalJSONWithoutQuotes = false })

	got := BuildTrends("t.com", "7d", nil, []string{"a.com"}, []ScorePoint{point("t.com", "50", day1)}, nil)
	raw, err := json.Marshal(got)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"domain": "t.com",
		"range": "7d",
		"summary": {"currentVisibility": 0, "change30d": null, "peakScore": 50},
		"domains": {"target": "t.com", "competitor1": "a.com", "competitor2": null},
		"series": [{"date": "2026-06-01", "score": 50, "scoreCompetitor1": null, "scoreCompetitor2": null, "citationCount": 0}]
	}`, string(raw))
}

func TestPickOverviewDomain(t *testing.T) {
	scores := []ScoreRecord{{Domain: "a.com", Score: dec("70")}, {Domain: "b.com", Score: dec("50")}}

	_, ok := PickOverviewDomain("a.com", nil)
	assert.False(t, ok)

	got, ok := PickOverviewDomain("b.com", scores)
	assert.True(t, ok)
	assert.Equal(t, "b.com", got.Domain)

	got, _ = PickOverviewDomain("", scores)
	assert.Equal(t, "a.com", got.Domain)

	got, _ = PickOverviewDomain("unknown.com", scores)
	assert.Equal(t, "a.com", got.Domain)
}

func TestReportsOverview(t *testing.T) {
	now := day1.AddDate(0, 0, 40)
	store := &fakeReportStore{
		scores: []ScoreRecord{
			{Domain: "a.com", Score: dec("70"), ComputedAt: now},
			{Domain: "b.com", Score: dec("50"), PreviousScore: nullDec("45"), Change: nullDec("5"), ComputedAt: now},
		},
		history: []ScorePoint{
			point("b.com", "30", day1),
			point("b.com", "45", now.AddDate(0, 0, -2)),
			point("b.com", "50", now.AddDate(0, 0, -1)),
			point("a.com", "70", now.AddDate(0, 0, -1)),
		},
	}
	reports := NewReports(store, zaptest.NewLogger(t))
	reports.now = func() time.Time { return now }

	got, err := reports.Overview(context.Background(), "b.com")
	require.NoError(t, err)

	require.NotNil(t, got.Domain)
	assert.Equal(t, "b.com", *got.Domain)
	assert.Equal(t, "50", got.Score.Decimal.String())
	assert.Equal(t, "5", got.Change.Decimal.String())
	assert.Equal(t, []string{"b.com"}, store.historyDomains)
	assert.True(t, store.historySince.Equal(now.AddDate(0, 0, -OverviewDays)))
	require.Len(t, got.History, 2)
	assert.Equal(t, "45", got.History[0].Score.String())
	assert.Len(t, got.Domains, 2)
	assert.Equal(t, "a.com", got.Domains[0].Domain)
}

func TestReportsOverviewWithoutScores(t *testing.T) {
	reports := NewReports(&fakeReportStore{}, zaptest.NewLogger(t))

	got, err := reports.Overview(context.Background(), "")
	require.NoError(t, err)
	assert.Nil(t, got.Domain)
	assert.False(t, got.Score.Valid)
	assert.Nil(t, got.ComputedAt)
	assert.NotNil(t, got.History)
	assert.NotNil(t, got.Domains)
}

func TestReportsTrends(t *testing.T) {
	now := day1.AddDate(0, 0, 10)
	store := &fakeReportStore{
		scores:      []ScoreRecord{{Domain: "t.com", Score: dec("60"), Change: nullDec("-2")}},
		competitors: []string{"a.com", "b.com", "c.com"},
		history: []ScorePoint{
			point("t.com", "62", now.AddDate(0, 0, -3)),
			point("t.com", "60", now.AddDate(0, 0, -1)),
			point("a.com", "20", now.AddDate(0, 0, -1)),
			point("t.com", "90", now.AddDate(0, 0, -9)),
		},
		times: []time.Time{now.AddDate(0, 0, -1)},
	}
	reports := NewReports(store, zaptest.NewLogger(t))
	reports.now = func() time.Time { return now }

	got, err := reports.Trends(context.Background(), "t.com", "7d")
	require.NoError(t, err)

	assert.Equal(t, 2, store.competitorsN)
	assert.Equal(t, []string{"t.com", "a.com", "b.com"}, store.historyDomains)
	assert.True(t, store.historySince.Equal(now.AddDate(0, 0, -7)))
	assert.True(t, store.citationsSince.Equal(now.AddDate(0, 0, -7)))

	assert.Equal(t, "7d", got.Range)
	require.Len(t, got.Series, 2)
	assert.Equal(t, "62", got.Series[0].Score.Decimal.String())
	assert.Equal(t, "61", got.Series[1].Score.Decimal.String())
	assert.Equal(t, "20", got.Series[1].ScoreCompetitor1.Decimal.String())
	assert.Equal(t, 1, got.Series[1].CitationCount)
	assert.Equal(t, "62", got.Summary.PeakScore.String())
	assert.Equal(t, "-2", got.Summary.Change30d.Decimal.String())
}

func TestReportsStoreFailure(t *testing.T) {
	boom := errors.New("connection refused")
	reports := NewReports(&fakeReportStore{err: boom}, zaptest.NewLogger(t))

	_, err := reports.Overview(context.Background(), "")
	assert.ErrorIs(t, err, boom)

	_, err = reports.Trends(context.Background(), "t.com", "30d")
	assert.ErrorIs(t, err, boom)
}
