package learning

import (
	"github.com/yungbote/rulelearn/internal/learning/similarity"
	"github.com/yungbote/rulelearn/internal/learning/textnorm"
	"github.com/yungbote/rulelearn/internal/types"
)

// MatchResult is the outcome of a cache lookup. A miss is a normal result,
// not an error; the caller falls back to the external interpreter.
type MatchResult struct {
	Matched bool               `json:"matched"`
	Pattern *types.RulePattern `json:"pattern,omitempty"`
	Score   float64            `json:"score,omitempty"`
	Stage   string             `json:"stage,omitempty"` // "field" or "global"
}

const scoreEpsilon = 1e-9

// bestMatch scores every candidate against the query and returns the top
// one. The idf table is computed over the given candidate pool, so scores
// are pool-relative. Ties go to higher confidence, then higher usage.
func bestMatch(queryTokens []string, queryNorm string, candidates []*types.RulePattern) (*types.RulePattern, float64) {
	if len(candidates) == 0 {
		return nil, 0
	}
	docs := make([][]string, 0, len(candidates))
	candTokens := make([][]string, len(candidates))
	for i, c := range candidates {
		candTokens[i] = textnorm.Tokens(c.NormalizedText)
		docs = append(docs, candTokens[i])
	}
	idf := similarity.IDF(docs)
	weights := similarity.WeightsFor(similarity.InferCategory(queryTokens))

	var best *types.RulePattern
	bestScore := 0.0
	for i, c := range candidates {
		score := similarity.Score(queryTokens, queryNorm, candTokens[i], c.NormalizedText, idf, weights)
		if best == nil || score > bestScore+scoreEpsilon {
			best = c
			bestScore = score
			continue
		}
		if score > bestScore-scoreEpsilon && preferOnTie(c, best) {
			best = c
			bestScore = score
		}
	}
	return best, bestScore
}

func preferOnTie(challenger, incumbent *types.RulePattern) bool {
	if challenger.ConfidenceScore != incumbent.ConfidenceScore {
		return challenger.ConfidenceScore > incumbent.ConfidenceScore
	}
	return challenger.TimesMatched > incumbent.TimesMatched
}
