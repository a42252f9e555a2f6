// Package corpus holds the typed citation snapshot that the batch jobs read.
package corpus

import (
	"sort"
	"time"

	"github.com/samber/lo"
)

// CitationRecord is one stored citation joined to its response's query.
type CitationRecord struct {
	ID         string
	ResponseID string
	QueryID    string
	URL        string
	Domain     string
	CreatedAt  time.Time
}

// Snapshot is a consistent read of the citation corpus.
type Snapshot struct {
	Citations    []CitationRecord
	TotalQueries int
	TakenAt      time.Time
}

// PositionedCitation is a citation with its 1-based rank inside its response.
type PositionedCitation struct {
	CitationRecord
	Position int
}

// Ordered returns a copy of recs sorted by (CreatedAt, ID).
func Ordered(recs []CitationRecord) []CitationRecord {
	out := make([]CitationRecord, len(recs))
	copy(out, recs)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// AssignPositions ranks citations within each response by (CreatedAt, ID).
// The result is in (CreatedAt, ID) order across the whole corpus.
func AssignPositions(recs []CitationRecord) []PositionedCitation {
	ordered := Ordered(recs)
	next := make(map[string]int)
	out := make([]PositionedCitation, len(ordered))
	for i, rec := range ordered {
		next[rec.ResponseID]++
		out[i] = PositionedCitation{CitationRecord: rec, Position: next[rec.ResponseID]}
	}
	return out
}

// Domains returns the distinct cited domains in ascending order.
func (s Snapshot) Domains() []string {
	domains := lo.Uniq(lo.Map(s.Citations, func(c CitationRecord, _ int) string { return c.Domain }))
	sort.Strings(domains)
	return domains
}

// QueriesByDomain maps each domain to the set of queries it was cited in.
func (s Snapshot) QueriesByDomain() map[string]map[string]struct{} {
	out := make(map[string]map[string]struct{})
	for _, c := range s.Citations {
		set, ok := out[c.Domain]
		if !ok {
			set = make(map[string]struct{})
			out[c.Domain] = set
		}
		set[c.QueryID] = struct{}{}
	}
	return out
}
