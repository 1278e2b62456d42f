// Package relevance implements the lexical scoring primitives used by the
// memory tiers: keyword extraction, Jaccard similarity and importance
// estimation. Everything here is deterministic and stateless, so scoring can
// run synchronously on the hot path of every exchange.
package relevance

import (
	"sort"
	"strings"
	"unicode"
)

// stopWords is the fixed multilingual (Portuguese + English) stop-word set.
var stopWords = map[string]struct{}{
	"o": {}, "a": {}, "de": {}, "da": {}, "do": {}, "para": {}, "com": {},
	"em": {}, "um": {}, "uma": {}, "que": {}, "se": {}, "por": {}, "mas": {},
	"como": {}, "foi": {}, "ser": {}, "tem": {}, "sao": {},
	"the": {}, "is": {}, "and": {}, "or": {}, "to": {}, "in": {}, "of": {},
	"for": {}, "on": {}, "at": {},
}

// signalWords mark a thought as worth keeping long-term. Each occurrence adds
// a fixed importance boost.
var signalWords = []string{
	"error", "critical", "important", "bug", "fix", "solution",
	"erro", "problema", "solucao", "importante", "critico",
}

const (
	signalWordBoost = 0.1
	resultBoost     = 0.2
	minKeywordLen   = 4
)

// Keywords tokenizes text into its lowercase keyword set: tokens of at least
// four characters that are not stop words. Order-independent by construction.
func Keywords(text string) map[string]struct{} {
	kw := make(map[string]struct{})
	for _, tok := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len([]rune(tok)) < minKeywordLen {
			continue
		}
		if _, stop := stopWords[tok]; stop {
			continue
		}
		kw[tok] = struct{}{}
	}
	return kw
}

// Similarity is the Jaccard index of the two texts' keyword sets. Returns 0
// when either set is empty.
func Similarity(a, b string) float64 {
	return KeywordSimilarity(Keywords(a), Keywords(b))
}

// KeywordSimilarity is Similarity over already-extracted keyword sets, for
// callers that reuse one side across many comparisons.
func KeywordSimilarity(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for k := range a {
		if _, ok := b[k]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// Importance estimates the long-term value of a reasoning step: the step's
// confidence, boosted per signal word found in the thought and once more when
// the step produced a tool result. Always in [0, 1].
func Importance(thought string, confidence float64, hasResult bool) float64 {
	score := confidence
	lower := strings.ToLower(thought)
	for _, w := range signalWords {
		if strings.Contains(lower, w) {
			score += signalWordBoost
		}
	}
	if hasResult {
		score += resultBoost
	}
	return Clamp(score)
}

// Clamp bounds v to [0, 1].
func Clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// JoinKeywords renders a keyword set as the space-joined string persisted in
// the steps table for LIKE-based lookup.
func JoinKeywords(kw map[string]struct{}) string {
	parts := make([]string, 0, len(kw))
	for k := range kw {
		parts = append(parts, k)
	}
	// Sorted so the stored string is deterministic.
	sort.Strings(parts)
	return strings.Join(parts, " ")
}
