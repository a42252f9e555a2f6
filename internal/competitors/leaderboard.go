package competitors

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/tracing"
)

// MaxLeaderboardEntries caps the competitors listed next to the target.
const MaxLeaderboardEntries = 500

// LeaderboardEntry is one row of a leaderboard. Percentages are 0-100 with one decimal.
type LeaderboardEntry struct {
	Rank            int              `json:"rank"`
	Domain          string           `json:"domain"`
	VisibilityScore *decimal.Decimal `json:"visibilityScore"`
	ShareOfVoice    *float64         `json:"shareOfVoice"`
	OverlapPercent  *float64         `json:"overlapPercent"`
	IsTarget        bool             `json:"isTarget"`
}

// Leaderboard ranks a target among its competitors by visibility score.
type Leaderboard struct {
	Domain  string             `json:"domain"`
	Entries []LeaderboardEntry `json:"entries"`
}

func percent(fraction float64) *float64 {
	p := math.Round(fraction*1000) / 10
	return &p
}

// BuildLeaderboard places target among rows and ranks every entry by
// visibility score descending, unscored entries counting as 0. Ranks are
// positions (1..n). The target wins ties because it is listed first.
// targetShare is a fraction; nil when target has no citations.
func BuildLeaderboard(target string, targetScore *decimal.Decimal, targetShare *float64, rows []CompetitorMetric) Leaderboard {
	if len(rows) > MaxLeaderboardEntries {
		rows = rows[:MaxLeaderboardEntries]
	}

	entries := make([]LeaderboardEntry, 0, len(rows)+1)
	self := LeaderboardEntry{Domain: target, VisibilityScore: targetScore, IsTarget: true}
	if targetShare != nil {
		self.ShareOfVoice = percent(*targetShare)
	}
	entries = append(entries, self)
	for _, m := range rows {
		entries = append(entries, LeaderboardEntry{
			Domain:          m.CompetitorDomain,
			VisibilityScore: m.CompetitorVisibilityScore,
			ShareOfVoice:    percent(m.ShareOfVoice),
			OverlapPercent:  percent(m.OverlapScore),
		})
	}

	scoreOf := func(e LeaderboardEntry) decimal.Decimal {
		if e.VisibilityScore == nil {
			return decimal.Zero
		}
		return *e.VisibilityScore
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return scoreOf(entries[i]).GreaterThan(scoreOf(entries[j]))
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return Leaderboard{Domain: target, Entries: entries}
}

// targetShare derives target's share of voice. Shares over target's queries
// sum to 1, so with competitors present target holds the remainder.
func targetShare(rows []CompetitorMetric, shares map[string]float64, target string) *float64 {
	if len(rows) > 0 {
		rest := lo.SumBy(rows, func(m CompetitorMetric) float64 { return m.ShareOfVoice })
		share := math.Max(0, math.Min(1, 1-rest))
		return &share
	}
	if share, ok := shares[target]; ok {
		return &share
	}
	return nil
}

// Leaderboard returns target ranked among its competitors.
func (s *Service) Leaderboard(ctx context.Context, target string) (Leaderboard, error) {
	target, err := s.CanonicalDomain(target)
	if err != nil {
		return Leaderboard{}, err
	}
	ctx, span := tracing.StartSpan(ctx, "competitors.leaderboard", attribute.String("target", target))
	defer span.End()

	rows, err := s.List(ctx, target)
	if err != nil {
		return Leaderboard{}, err
	}
	scores, err := s.store.CurrentScores(ctx)
	if err != nil {
		return Leaderboard{}, fmt.Errorf("load scores: %w", err)
	}

	var shares map[string]float64
	if len(rows) == 0 {
		snap, err := s.store.LoadCorpus(ctx)
		if err != nil {
			return Leaderboard{}, fmt.Errorf("load corpus: %w", err)
		}
		shares = ShareOfVoice(snap, target)
	}

	var targetScore *decimal.Decimal
	if score, ok := scores[target]; ok {
		targetScore = &score
	}
	return BuildLeaderboard(target, targetScore, targetShare(rows, shares, target), rows), nil
}
