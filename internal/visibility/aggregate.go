package visibility

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/corpus"
)

const day = 24 * time.Hour

// Params are the tunable constants of an aggregation and scoring run.
type Params struct {
	RecencyHalfLifeDays float64 `mapstructure:"recency_half_life_days" yaml:"recency_half_life_days"`
	RecencyWindowDays   float64 `mapstructure:"recency_window_days" yaml:"recency_window_days"`
	PositionDecayRange  float64 `mapstructure:"position_decay_range" yaml:"position_decay_range"`
}

// DefaultParams returns a 15 day half-life, a 30 day window and a decay range of 10.
func DefaultParams() Params {
	return Params{
		RecencyHalfLifeDays: 15,
		RecencyWindowDays:   30,
		PositionDecayRange:  10,
	}
}

func (p Params) withDefaults() Params {
	d := DefaultParams()
	if p.RecencyHalfLifeDays <= 0 {
		p.RecencyHalfLifeDays = d.RecencyHalfLifeDays
	}
	if p.RecencyWindowDays <= 0 {
		p.RecencyWindowDays = d.RecencyWindowDays
	}
	if p.PositionDecayRange <= 0 {
		p.PositionDecayRange = d.PositionDecayRange
	}
	return p
}

// DomainAggregate holds the per-domain statistics of one corpus snapshot.
type DomainAggregate struct {
	Domain             string
	CitationCount      int
	DistinctQueryCount int
	// AvgPosition is nil when the domain has no citations.
	AvgPosition      *decimal.Decimal
	RecencyWeightSum decimal.Decimal
	TotalCitations   int
	TotalQueries     int
}

// CitationShare is CitationCount / TotalCitations, 0 for an empty corpus.
func (a DomainAggregate) CitationShare() decimal.Decimal {
	return ratio(a.CitationCount, a.TotalCitations)
}

// QueryCoverage is DistinctQueryCount / TotalQueries, 0 when there are no queries.
func (a DomainAggregate) QueryCoverage() decimal.Decimal {
	return ratio(a.DistinctQueryCount, a.TotalQueries)
}

func ratio(n, d int) decimal.Decimal {
	if d == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(n)).Div(decimal.NewFromInt(int64(d)))
}

// RecencyWeight is exp(-ln2/halfLife * ageDays) for ages inside the window, else 0.
// Negative ages count as age 0.
func RecencyWeight(age time.Duration, p Params) float64 {
	p = p.withDefaults()
	ageDays := age.Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	if ageDays > p.RecencyWindowDays {
		return 0
	}
	lambda := math.Ln2 / p.RecencyHalfLifeDays
	return math.Exp(-lambda * ageDays)
}

type domainAccumulator struct {
	count       int
	positionSum int
	queries     map[string]struct{}
	recency     float64
}

// Aggregate computes one DomainAggregate per cited domain, ordered by domain.
func Aggregate(snap corpus.Snapshot, p Params) []DomainAggregate {
	p = p.withDefaults()
	acc := make(map[string]*domainAccumulator)

	// AssignPositions walks citations in (created_at, id) order, so the float
	// sums below are taken in the same order on every run.
	for _, c := range corpus.AssignPositions(snap.Citations) {
		a, ok := acc[c.Domain]
		if !ok {
			a = &domainAccumulator{queries: make(map[string]struct{})}
			acc[c.Domain] = a
		}
		a.count++
		a.positionSum += c.Position
		a.queries[c.QueryID] = struct{}{}
		a.recency += RecencyWeight(snap.TakenAt.Sub(c.CreatedAt), p)
	}

	out := make([]DomainAggregate, 0, len(acc))
	for domain, a := range acc {
		agg := DomainAggregate{
			Domain:             domain,
			CitationCount:      a.count,
			DistinctQueryCount: len(a.queries),
			RecencyWeightSum:   decimal.NewFromFloat(a.recency),
			TotalCitations:     len(snap.Citations),
			TotalQueries:       snap.TotalQueries,
		}
		if a.count > 0 {
			avg := decimal.NewFromInt(int64(a.positionSum)).Div(decimal.NewFromInt(int64(a.count)))
			agg.AvgPosition = &avg
		}
		out = append(out, agg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out
}
