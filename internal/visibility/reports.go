package visibility

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/tracing"
)

const (
	// DefaultTrendRange is used when a trend range is empty or unknown.
	DefaultTrendRange = "30d"
	// SmoothingWindow is the number of daily scores averaged into one trend point.
	SmoothingWindow = 7
	// OverviewDays bounds the history returned by an overview.
	OverviewDays = 30

	trendCompetitors = 2
	dayLayout        = "2006-01-02"
)

var trendRanges = map[string]int{"7d": 7, "30d": 30, "90d": 90}

// ScoreRecord is the stored current score of a domain.
type ScoreRecord struct {
	Domain        string              `db:"domain" json:"domain"`
	Score         decimal.Decimal     `db:"score" json:"score"`
	PreviousScore decimal.NullDecimal `db:"previous_score" json:"previousScore"`
	Change        decimal.NullDecimal `db:"change" json:"change"`
	ComputedAt    time.Time           `db:"computed_at" json:"computedAt"`
}

// ScorePoint is one history entry of a domain.
type ScorePoint struct {
	Domain     string          `db:"domain" json:"domain"`
	Score      decimal.Decimal `db:"score" json:"score"`
	ComputedAt time.Time       `db:"computed_at" json:"computedAt"`
}

// DailyScore is the score of a domain on one UTC day.
type DailyScore struct {
	Date  string          `json:"date"`
	Score decimal.Decimal `json:"score"`
}

// ReportStore is what the dashboard reads need.
type ReportStore interface {
	// AllScores returns every current score, best first.
	AllScores(ctx context.Context) ([]ScoreRecord, error)
	// ScoreOf returns the current score of domain, or nil when it has none.
	ScoreOf(ctx context.Context, domain string) (*ScoreRecord, error)
	ScoreHistorySince(ctx context.Context, domains []string, since time.Time) ([]ScorePoint, error)
	CitationTimes(ctx context.Context, domain string, since time.Time) ([]time.Time, error)
	TopCompetitors(ctx context.Context, target string, n int) ([]string, error)
}

// ParseTrendRange returns the canonical label and length in days of a trend
// range ("7d", "30d", "90d").
func ParseTrendRange(label string) (string, int) {
	if days, ok := trendRanges[label]; ok {
		return label, days
	}
	return DefaultTrendRange, trendRanges[DefaultTrendRange]
}

// DailyScores keeps the last score of every UTC day, oldest day first.
// points must belong to a single domain.
func DailyScores(points []ScorePoint) []DailyScore {
	sorted := make([]ScorePoint, len(points))
	copy(sorted, points)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ComputedAt.Before(sorted[j].ComputedAt)
	})

	out := []DailyScore{}
	for _, p := range sorted {
		day := p.ComputedAt.UTC().Format(dayLayout)
		if n := len(out); n > 0 && out[n-1].Date == day {
			out[n-1].Score = p.Score
			continue
		}
		out = append(out, DailyScore{Date: day, Score: p.Score})
	}
	return out
}

// Smooth replaces every daily score by the mean of itself and up to
// window-1 preceding entries, rounded to 4 places. Days without a score
// are not filled in, so the window spans entries rather than calendar days.
func Smooth(days []DailyScore, window int) []DailyScore {
	if window < 1 {
		window = 1
	}
	out := make([]DailyScore, len(days))
	sum := decimal.Zero
	for i, d := range days {
		sum = sum.Add(d.Score)
		if i >= window {
			sum = sum.Sub(days[i-window].Score)
		}
		n := i + 1
		if n > window {
			n = window
		}
		out[i] = DailyScore{Date: d.Date, Score: sum.Div(decimal.NewFromInt(int64(n))).Round(4)}
	}
	return out
}

// CountByDay counts timestamps per UTC day.
func CountByDay(times []time.Time) map[string]int {
	out := make(map[string]int)
	for _, t := range times {
		out[t.UTC().Format(dayLayout)]++
	}
	return out
}

// TrendSummary is the headline of a trend report.
type TrendSummary struct {
	CurrentVisibility decimal.Decimal     `json:"currentVisibility"`
	Change30d         decimal.NullDecimal `json:"change30d"`
	PeakScore         decimal.Decimal     `json:"peakScore"`
}

// TrendDomains names the domains plotted in a trend report.
type TrendDomains struct {
	Target      string  `json:"target"`
	Competitor1 *string `json:"competitor1"`
	Competitor2 *string `json:"competitor2"`
}

// TrendPoint is one day of a trend report.
type TrendPoint struct {
	Date             string              `json:"date"`
	Score            decimal.NullDecimal `json:"score"`
	ScoreCompetitor1 decimal.NullDecimal `json:"scoreCompetitor1"`
	ScoreCompetitor2 decimal.NullDecimal `json:"scoreCompetitor2"`
	CitationCount    int                 `json:"citationCount"`
}

// Trends is the smoothed score series of a target and its top competitors.
type Trends struct {
	Domain  string       `json:"domain"`
	Range   string       `json:"range"`
	Summary TrendSummary `json:"summary"`
	Domains TrendDomains `json:"domains"`
	Series  []TrendPoint `json:"series"`
}

// BuildTrends assembles a trend report. history holds the score points of
// target and competitors within the range, citationTimes the creation times
// of target's citations within the range. current is nil for an unscored
// target. Only the first two competitors are plotted.
func BuildTrends(target, rangeLabel string, current *ScoreRecord, competitors []string, history []ScorePoint, citationTimes []time.Time) Trends {
	if len(competitors) > trendCompetitors {
		competitors = competitors[:trendCompetitors]
	}

	byDomain := make(map[string][]ScorePoint)
	for _, p := range history {
		byDomain[p.Domain] = append(byDomain[p.Domain], p)
	}

	days := make(map[string]struct{})
	smoothed := make(map[string]map[string]decimal.Decimal, len(byDomain))
	var targetSeries []DailyScore
	for domain, points := range byDomain {
		series := Smooth(DailyScores(points), SmoothingWindow)
		if domain == target {
			targetSeries = series
		}
		m := make(map[string]decimal.Decimal, len(series))
		for _, d := range series {
			m[d.Date] = d.Score
			days[d.Date] = struct{}{}
		}
		smoothed[domain] = m
	}

	citations := CountByDay(citationTimes)
	for day := range citations {
		days[day] = struct{}{}
	}
	sortedDays := make([]string, 0, len(days))
	for day := range days {
		sortedDays = append(sortedDays, day)
	}
	sort.Strings(sortedDays)

	lookup := func(domain, day string) decimal.NullDecimal {
		score, ok := smoothed[domain][day]
		return decimal.NullDecimal{Decimal: score, Valid: ok}
	}

	out := Trends{
		Domain:  target,
		Range:   rangeLabel,
		Domains: TrendDomains{Target: target},
		Series:  make([]TrendPoint, 0, len(sortedDays)),
	}
	if len(competitors) > 0 {
		c1 := competitors[0]
		out.Domains.Competitor1 = &c1
	}
	if len(competitors) > 1 {
		c2 := competitors[1]
		out.Domains.Competitor2 = &c2
	}

	for _, day := range sortedDays {
		point := TrendPoint{Date: day, Score: lookup(target, day), CitationCount: citations[day]}
		if out.Domains.Competitor1 != nil {
			point.ScoreCompetitor1 = lookup(*out.Domains.Competitor1, day)
		}
		if out.Domains.Competitor2 != nil {
			point.ScoreCompetitor2 = lookup(*out.Domains.Competitor2, day)
		}
		out.Series = append(out.Series, point)
	}

	peak := decimal.Zero
	if current != nil {
		out.Summary.CurrentVisibility = current.Score
		out.Summary.Change30d = current.Change
		peak = current.Score
	}
	if len(targetSeries) > 0 {
		peak = targetSeries[0].Score
		for _, d := range targetSeries[1:] {
			if d.Score.GreaterThan(peak) {
				peak = d.Score
			}
		}
	}
	out.Summary.PeakScore = peak.Round(1)
	return out
}

// DomainScoreSummary is one entry of the overview domain picker.
type DomainScoreSummary struct {
	Domain string          `json:"domain"`
	Score  decimal.Decimal `json:"score"`
}

// Overview is the dashboard landing view of one domain.
type Overview struct {
	Domain        *string              `json:"domain"`
	Score         decimal.NullDecimal  `json:"score"`
	PreviousScore decimal.NullDecimal  `json:"previousScore"`
	Change        decimal.NullDecimal  `json:"change"`
	ComputedAt    *time.Time           `json:"computedAt"`
	History       []DailyScore         `json:"history"`
	Domains       []DomainScoreSummary `json:"domains"`
}

// PickOverviewDomain returns the score of requested, falling back to the
// first (best) score when requested is empty or unscored. ok is false when
// scores is empty.
func PickOverviewDomain(requested string, scores []ScoreRecord) (ScoreRecord, bool) {
	if len(scores) == 0 {
		return ScoreRecord{}, false
	}
	for _, s := range scores {
		if s.Domain == requested {
			return s, true
		}
	}
	return scores[0], true
}

// BuildOverview assembles the overview of current from its score history.
func BuildOverview(current ScoreRecord, scores []ScoreRecord, history []ScorePoint) Overview {
	domain := current.Domain
	computedAt := current.ComputedAt.UTC()
	out := Overview{
		Domain:        &domain,
		Score:         decimal.NullDecimal{Decimal: current.Score, Valid: true},
		PreviousScore: current.PreviousScore,
		Change:        current.Change,
		ComputedAt:    &computedAt,
		History:       DailyScores(history),
		Domains:       make([]DomainScoreSummary, len(scores)),
	}
	for i, s := range scores {
		out.Domains[i] = DomainScoreSummary{Domain: s.Domain, Score: s.Score}
	}
	return out
}

// Reports serves the dashboard views of stored scores.
type Reports struct {
	store  ReportStore
	logger *zap.Logger
	now    func() time.Time
}

// NewReports creates Reports reading from store.
func NewReports(store ReportStore, logger *zap.Logger) *Reports {
	return &Reports{store: store, logger: logger, now: time.Now}
}

// Overview returns the overview of domain. An empty or unscored domain falls
// back to the best scored domain; with no scores at all every field is empty.
func (r *Reports) Overview(ctx context.Context, domain string) (Overview, error) {
	ctx, span := tracing.StartSpan(ctx, "visibility.overview")
	defer span.End()

	scores, err := r.store.AllScores(ctx)
	if err != nil {
		return Overview{}, fmt.Errorf("load scores: %w", err)
	}
	current, ok := PickOverviewDomain(domain, scores)
	if !ok {
		return Overview{History: []DailyScore{}, Domains: []DomainScoreSummary{}}, nil
	}
	span.SetAttributes(attribute.String("domain", current.Domain))

	since := r.now().UTC().AddDate(0, 0, -OverviewDays)
	history, err := r.store.ScoreHistorySince(ctx, []string{current.Domain}, since)
	if err != nil {
		return Overview{}, fmt.Errorf("load history of %s: %w", current.Domain, err)
	}
	return BuildOverview(current, scores, history), nil
}

// Trends returns the trend report of target over rangeLabel.
func (r *Reports) Trends(ctx context.Context, target, rangeLabel string) (Trends, error) {
	rangeLabel, days := ParseTrendRange(rangeLabel)
	ctx, span := tracing.StartSpan(ctx, "visibility.trends",
		attribute.String("domain", target),
		attribute.String("range", rangeLabel),
	)
	defer span.End()

	since := r.now().UTC().AddDate(0, 0, -days)

	current, err := r.store.ScoreOf(ctx, target)
	if err != nil {
		return Trends{}, fmt.Errorf("load score of %s: %w", target, err)
	}
	competitors, err := r.store.TopCompetitors(ctx, target, trendCompetitors)
	if err != nil {
		return Trends{}, fmt.Errorf("load competitors of %s: %w", target, err)
	}
	history, err := r.store.ScoreHistorySince(ctx, append([]string{target}, competitors...), since)
	if err != nil {
		return Trends{}, fmt.Errorf("load history of %s: %w", target, err)
	}
	times, err := r.store.CitationTimes(ctx, target, since)
	if err != nil {
		return Trends{}, fmt.Errorf("load citations of %s: %w", target, err)
	}

	out := BuildTrends(target, rangeLabel, current, competitors, history, times)
	r.logger.Debug("Trends built",
		zap.String("domain", target),
		zap.String("range", rangeLabel),
		zap.Int("points", len(out.Series)),
	)
	return out, nil
}
