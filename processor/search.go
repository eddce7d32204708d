package processor

import (
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"

	"coinflow/models"
)

const (
	scoreExactName      = 100
	scoreExactSymbol    = 95
	scoreNameContains   = 80
	scoreSymbolContains = 75
	scoreFuzzyBase      = 50
	fuzzyThreshold      = 3
)

type scoredCoin struct {
	coin  models.Coin
	score int
}

// Search ranks the current snapshot against a free-text query. Results are
// ordered by descending relevance, ties broken by ascending rank with
// unranked coins last. A blank query or a query matching nothing returns an
// empty result, never an error.
func (r *Reconciler) Search(query string) []models.Coin {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}

	snap := r.current.Load()
	scored := make([]scoredCoin, 0, len(snap.coins))
	for _, c := range snap.coins {
		if s := scoreCoin(query, c); s > 0 {
			scored = append(scored, scoredCoin{coin: c, score: s})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		ci, cj := scored[i].coin, scored[j].coin
		if ci.Ranked() != cj.Ranked() {
			return ci.Ranked()
		}
		return ci.MarketCapRank < cj.MarketCapRank
	})

	out := make([]models.Coin, len(scored))
	for i, s := range scored {
		out[i] = s.coin
	}
	return out
}

// scoreCoin applies the match rules in priority order and stops at the first
// hit, so an exact name match is never downgraded by a weaker rule on the
// symbol. The query must already be lowercased.
func scoreCoin(query string, c models.Coin) int {
	name := strings.ToLower(c.Name)
	symbol := strings.ToLower(c.Symbol)

	switch {
	case name == query:
		return scoreExactName
	case symbol == query:
		return scoreExactSymbol
	case strings.Contains(name, query):
		return scoreNameContains
	case strings.Contains(symbol, query):
		return scoreSymbolContains
	}

	dist := levenshtein.ComputeDistance(query, name)
	if d := levenshtein.ComputeDistance(query, symbol); d < dist {
		dist = d
	}
	if dist > fuzzyThreshold {
		return 0
	}
	score := scoreFuzzyBase - dist
	if score < 0 {
		score = 0
	}
	return score
}
