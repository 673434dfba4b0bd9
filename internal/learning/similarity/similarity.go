// Package similarity scores how close an incoming rule description is to a
// learned pattern. The score is a weighted blend of token-set overlap,
// tf-idf cosine similarity and normalized edit distance; the blend weights
// depend on the inferred field-type category because edit distance separates
// date-format strings far better than term overlap does, and vice versa for
// free-form numeric-bound text.
package similarity

import (
	"math"
	"strings"
)

type Category string

const (
	CategoryDate    Category = "date"
	CategoryNumeric Category = "numeric"
	CategoryOther   Category = "other"
)

// Weights blend the three signals. Each tuple sums to 1 so an exact match
// scores 1.0 regardless of category.
type Weights struct {
	Jaccard float64
	Term    float64
	Edit    float64
}

// categoryWeights is a lookup table so new categories are additive.
var categoryWeights = map[Category]Weights{
	CategoryDate:    {Jaccard: 0.25, Term: 0.25, Edit: 0.50},
	CategoryNumeric: {Jaccard: 0.25, Term: 0.50, Edit: 0.25},
	CategoryOther:   {Jaccard: 0.30, Term: 0.40, Edit: 0.30},
}

// WeightsFor returns the blend weights for a category, falling back to the
// default equal-ish tuple favoring term similarity.
func WeightsFor(c Category) Weights {
	if w, ok := categoryWeights[c]; ok {
		return w
	}
	return categoryWeights[CategoryOther]
}

var dateKeywords = map[string]bool{
	"yyyymmdd": true, "yyyy": true, "mmdd": true, "date": true,
	"일자": true, "날짜": true, "생년월일": true, "년월일": true,
	"입사일": true, "입사일자": true, "퇴사일": true, "퇴사일자": true,
}

var numericKeywords = map[string]bool{
	"min": true, "max": true, "range": true, "이상": true, "이하": true,
	"미만": true, "초과": true, "범위": true, "숫자": true, "금액": true,
	"나이": true, "임금": true, "급여": true,
}

// InferCategory guesses the field-type category from normalized tokens.
// Date wins over numeric: an 8-digit token is far more likely a YYYYMMDD
// literal than a bound.
func InferCategory(tokens []string) Category {
	numeric := false
	for _, t := range tokens {
		if dateKeywords[t] || len(t) == 8 && allDigits(t) {
			return CategoryDate
		}
		if strings.Contains(t, "yyyy") || strings.Contains(t, "mmdd") {
			return CategoryDate
		}
		if numericKeywords[t] || allDigits(t) {
			numeric = true
		}
	}
	if numeric {
		return CategoryNumeric
	}
	return CategoryOther
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Jaccard is |A ∩ B| / |A ∪ B| over token sets.
func Jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := toSet(a)
	setB := toSet(b)
	inter := 0
	for t := range setA {
		if setB[t] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func toSet(tokens []string) map[string]bool {
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	return set
}

// IDF computes inverse document frequencies over the current candidate pool.
// The pool-relative idf makes scores depend on the candidate set; that is
// the intended behavior, not a bug.
func IDF(docs [][]string) map[string]float64 {
	df := map[string]int{}
	for _, doc := range docs {
		for t := range toSet(doc) {
			df[t]++
		}
	}
	n := float64(len(docs))
	idf := make(map[string]float64, len(df))
	for t, f := range df {
		idf[t] = math.Log(n/float64(f)) + 1
	}
	return idf
}

// TermCosine is the cosine similarity between tf-idf vectors of the two
// token lists. Terms absent from the idf table weigh 1 (seen once,
// query-only terms).
func TermCosine(a, b []string, idf map[string]float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	va := tfidfVector(a, idf)
	vb := tfidfVector(b, idf)
	dot := 0.0
	for t, wa := range va {
		if wb, ok := vb[t]; ok {
			dot += wa * wb
		}
	}
	if dot == 0 {
		return 0
	}
	return dot / (norm(va) * norm(vb))
}

func tfidfVector(tokens []string, idf map[string]float64) map[string]float64 {
	tf := map[string]float64{}
	for _, t := range tokens {
		tf[t]++
	}
	v := make(map[string]float64, len(tf))
	for t, f := range tf {
		w := 1.0
		if iv, ok := idf[t]; ok {
			w = iv
		}
		v[t] = f / float64(len(tokens)) * w
	}
	return v
}

func norm(v map[string]float64) float64 {
	sum := 0.0
	for _, w := range v {
		sum += w * w
	}
	return math.Sqrt(sum)
}

// EditSimilarity is 1 - levenshtein(a, b) / max(len(a), len(b)), rune-based.
func EditSimilarity(a, b string) float64 {
	if a == "" && b == "" {
		return 1
	}
	ra := []rune(a)
	rb := []rune(b)
	longest := len(ra)
	if len(rb) > longest {
		longest = len(rb)
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein(ra, rb))/float64(longest)
}

func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := 0; j <= len(b); j++ {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = minInt(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func minInt(vals ...int) int {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

// Score blends the three signals for one candidate.
func Score(queryTokens []string, queryNorm string, candTokens []string, candNorm string, idf map[string]float64, w Weights) float64 {
	j := Jaccard(queryTokens, candTokens)
	t := TermCosine(queryTokens, candTokens, idf)
	e := EditSimilarity(queryNorm, candNorm)
	return w.Jaccard*j + w.Term*t + w.Edit*e
}
