// Package competitors computes which domains share queries with a target
// domain, how much of the conversation each one holds, and how they rank.
package competitors

import (
	"sort"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/corpus"
)

// CompetitorMetric is one (target, competitor) row.
type CompetitorMetric struct {
	TargetDomain              string           `json:"targetDomain" db:"target_domain"`
	CompetitorDomain          string           `json:"competitorDomain" db:"competitor_domain"`
	OverlapScore              float64          `json:"overlapScore" db:"overlap_score"`
	SharedQueries             int              `json:"sharedQueries" db:"shared_queries"`
	TotalQueriesTarget        int              `json:"totalQueriesTarget" db:"total_queries_target"`
	CompetitorVisibilityScore *decimal.Decimal `json:"competitorVisibilityScore" db:"competitor_visibility_score"`
	CompetitorRank            *int             `json:"competitorRank" db:"competitor_rank"`
	ShareOfVoice              float64          `json:"shareOfVoice" db:"share_of_voice"`
	ComputedAt                time.Time        `json:"computedAt" db:"computed_at"`
}

// TargetQueries returns the set of queries in which target was cited.
func TargetQueries(snap corpus.Snapshot, target string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, c := range snap.Citations {
		if c.Domain == target {
			out[c.QueryID] = struct{}{}
		}
	}
	return out
}

// ShareOfVoice returns each domain's fraction of all citations made in the
// queries where target was cited. Target is included; the values sum to 1.
func ShareOfVoice(snap corpus.Snapshot, target string) map[string]float64 {
	counts, total := citationsInTargetQueries(snap, TargetQueries(snap, target))
	out := make(map[string]float64, len(counts))
	for domain, n := range counts {
		out[domain] = fraction(n, total)
	}
	return out
}

func citationsInTargetQueries(snap corpus.Snapshot, targetQueries map[string]struct{}) (map[string]int, int) {
	counts := make(map[string]int)
	total := 0
	for _, c := range snap.Citations {
		if _, ok := targetQueries[c.QueryID]; ok {
			counts[c.Domain]++
			total++
		}
	}
	return counts, total
}

func fraction(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

// Compute returns the competitors of target: every other domain cited in at
// least one of target's queries. Rows are ordered by rank (unranked last),
// then overlap descending, then domain.
func Compute(snap corpus.Snapshot, target string, scores map[string]decimal.Decimal) []CompetitorMetric {
	targetQueries := TargetQueries(snap, target)
	if len(targetQueries) == 0 {
		return []CompetitorMetric{}
	}

	shared := make(map[string]map[string]struct{})
	for _, c := range snap.Citations {
		if c.Domain == target {
			continue
		}
		if _, ok := targetQueries[c.QueryID]; !ok {
			continue
		}
		set, ok := shared[c.Domain]
		if !ok {
			set = make(map[string]struct{})
			shared[c.Domain] = set
		}
		set[c.QueryID] = struct{}{}
	}

	counts, total := citationsInTargetQueries(snap, targetQueries)
	ranks := denseRanks(scores, lo.Keys(shared))

	out := make([]CompetitorMetric, 0, len(shared))
	for domain, queries := range shared {
		m := CompetitorMetric{
			TargetDomain:       target,
			CompetitorDomain:   domain,
			SharedQueries:      len(queries),
			TotalQueriesTarget: len(targetQueries),
			OverlapScore:       fraction(len(queries), len(targetQueries)),
			ShareOfVoice:       fraction(counts[domain], total),
			ComputedAt:         snap.TakenAt,
		}
		if score, ok := scores[domain]; ok {
			score := score
			m.CompetitorVisibilityScore = &score
			rank := ranks[domain]
			m.CompetitorRank = &rank
		}
		out = append(out, m)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch {
		case a.CompetitorRank != nil && b.CompetitorRank == nil:
			return true
		case a.CompetitorRank == nil && b.CompetitorRank != nil:
			return false
		case a.CompetitorRank != nil && *a.CompetitorRank != *b.CompetitorRank:
			return *a.CompetitorRank < *b.CompetitorRank
		case a.OverlapScore != b.OverlapScore:
			return a.OverlapScore > b.OverlapScore
		}
		return a.CompetitorDomain < b.CompetitorDomain
	})
	return out
}

// denseRanks ranks the scored domains by score descending; equal scores share a rank.
func denseRanks(scores map[string]decimal.Decimal, domains []string) map[string]int {
	scored := lo.Filter(domains, func(d string, _ int) bool {
		_, ok := scores[d]
		return ok
	})
	sort.Slice(scored, func(i, j int) bool {
		if c := scores[scored[i]].Cmp(scores[scored[j]]); c != 0 {
			return c > 0
		}
		return scored[i] < scored[j]
	})

	ranks := make(map[string]int, len(scored))
	rank := 0
	for i, d := range scored {
		if i == 0 || !scores[d].Equal(scores[scored[i-1]]) {
			rank++
		}
		ranks[d] = rank
	}
	return ranks
}
