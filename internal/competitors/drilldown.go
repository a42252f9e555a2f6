package competitors

import (
	"errors"
	"sort"

	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/corpus"
)

// ErrSameDomain is returned when a drill-down compares a domain with itself.
var ErrSameDomain = errors.New("target and competitor must differ")

// Winner labels which side ranked better in one query.
type Winner string

const (
	WinnerTarget     Winner = "target"
	WinnerCompetitor Winner = "competitor"
	WinnerTie        Winner = "tie"
)

// QueryComparison compares target and competitor within one shared query.
// Ranks are by citation count among every domain cited in the query; ties
// share a rank and the next rank skips.
type QueryComparison struct {
	QueryID             string `json:"queryId"`
	QueryText           string `json:"queryText,omitempty"`
	TargetCitations     int    `json:"targetCitations"`
	CompetitorCitations int    `json:"competitorCitations"`
	TargetRank          int    `json:"targetRank"`
	CompetitorRank      int    `json:"competitorRank"`
	Winner              Winner `json:"winner"`
}

// DrillDown lists every query where both target and competitor were cited,
// ordered by target rank, competitor rank and query id.
func DrillDown(snap corpus.Snapshot, target, competitor string) ([]QueryComparison, error) {
	if target == competitor {
		return nil, ErrSameDomain
	}

	perQuery := make(map[string]map[string]int)
	for _, c := range snap.Citations {
		counts, ok := perQuery[c.QueryID]
		if !ok {
			counts = make(map[string]int)
			perQuery[c.QueryID] = counts
		}
		counts[c.Domain]++
	}

	out := []QueryComparison{}
	for queryID, counts := range perQuery {
		if counts[target] == 0 || counts[competitor] == 0 {
			continue
		}
		ranks := rankByCount(counts)
		qc := QueryComparison{
			QueryID:             queryID,
			TargetCitations:     counts[target],
			CompetitorCitations: counts[competitor],
			TargetRank:          ranks[target],
			CompetitorRank:      ranks[competitor],
		}
		switch {
		case qc.TargetRank < qc.CompetitorRank:
			qc.Winner = WinnerTarget
		case qc.CompetitorRank < qc.TargetRank:
			qc.Winner = WinnerCompetitor
		default:
			qc.Winner = WinnerTie
		}
		out = append(out, qc)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.TargetRank != b.TargetRank {
			return a.TargetRank < b.TargetRank
		}
		if a.CompetitorRank != b.CompetitorRank {
			return a.CompetitorRank < b.CompetitorRank
		}
		return a.QueryID < b.QueryID
	})
	return out, nil
}

// rankByCount ranks domains by citation count, highest first. Ties share a
// rank and leave a gap: counts {3,3,2} rank 1,1,3.
func rankByCount(counts map[string]int) map[string]int {
	ranks := make(map[string]int, len(counts))
	for domain, n := range counts {
		rank := 1
		for _, other := range counts {
			if other > n {
				rank++
			}
		}
		ranks[domain] = rank
	}
	return ranks
}
