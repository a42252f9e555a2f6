package visibility

import (
	"sort"

	"github.com/shopspring/decimal"
)

// ScalePlaces is the number of decimal places kept for scores and changes.
const ScalePlaces = 4

var (
	weightCitationShare = decimal.RequireFromString("0.4")
	weightQueryCoverage = decimal.RequireFromString("0.3")
	weightPosition      = decimal.RequireFromString("0.2")
	weightRecency       = decimal.RequireFromString("0.1")

	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

// DomainScoreResult is the score of one domain for one run.
type DomainScoreResult struct {
	Domain        string           `json:"domain"`
	Score         decimal.Decimal  `json:"score"`
	PreviousScore *decimal.Decimal `json:"previousScore"`
	Change        *decimal.Decimal `json:"change"`

	CitationShare decimal.Decimal `json:"citationShare"`
	QueryCoverage decimal.Decimal `json:"queryCoverage"`
	PositionScore decimal.Decimal `json:"positionScore"`
	RecencyScore  decimal.Decimal `json:"recencyScore"`
}

// PositionScore is max(0, 1 - (avg-1)/decayRange); a nil average scores 0.
func PositionScore(avg *decimal.Decimal, decayRange decimal.Decimal) decimal.Decimal {
	if avg == nil || !decayRange.IsPositive() {
		return decimal.Zero
	}
	s := one.Sub(avg.Sub(one).Div(decayRange))
	return clamp01(s)
}

// RecencyScore is weight/max clamped to [0,1]; 0 when max is not positive.
func RecencyScore(weight, max decimal.Decimal) decimal.Decimal {
	if !max.IsPositive() {
		return decimal.Zero
	}
	return clamp01(weight.Div(max))
}

func clamp01(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	if d.GreaterThan(one) {
		return one
	}
	return d
}

// Score turns aggregates into 0-100 scores with deltas against previous.
// Output is ordered by domain and depends only on its arguments.
func Score(aggs []DomainAggregate, previous map[string]decimal.Decimal, p Params) []DomainScoreResult {
	p = p.withDefaults()
	decayRange := decimal.NewFromFloat(p.PositionDecayRange)

	maxRecency := decimal.Zero
	for _, a := range aggs {
		if a.RecencyWeightSum.GreaterThan(maxRecency) {
			maxRecency = a.RecencyWeightSum
		}
	}

	out := make([]DomainScoreResult, 0, len(aggs))
	for _, a := range aggs {
		r := DomainScoreResult{
			Domain:        a.Domain,
			CitationShare: a.CitationShare(),
			QueryCoverage: a.QueryCoverage(),
			PositionScore: PositionScore(a.AvgPosition, decayRange),
			RecencyScore:  RecencyScore(a.RecencyWeightSum, maxRecency),
		}
		r.Score = hundred.Mul(
			weightCitationShare.Mul(r.CitationShare).
				Add(weightQueryCoverage.Mul(r.QueryCoverage)).
				Add(weightPosition.Mul(r.PositionScore)).
				Add(weightRecency.Mul(r.RecencyScore)),
		).Round(ScalePlaces)

		if prev, ok := previous[a.Domain]; ok {
			prev := prev
			change := r.Score.Sub(prev).Round(ScalePlaces)
			r.PreviousScore = &prev
			r.Change = &change
		}
		out = append(out, r)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out
}
