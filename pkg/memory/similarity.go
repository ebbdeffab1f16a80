package memory

import (
	"regexp"
	"strings"
)

var nonWordPattern = regexp.MustCompile(`\W+`)

// wordSet splits text on non-word characters and returns the lower-cased,
// non-empty tokens as a set.
func wordSet(text string) map[string]struct{} {
	parts := nonWordPattern.Split(strings.ToLower(text), -1)
	out := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		out[p] = struct{}{}
	}
	return out
}

// Similarity returns the Jaccard overlap of the word sets of a and b, in
// [0,1]. Either side having no words yields 0.
func Similarity(a, b string) float64 {
	return jaccard(wordSet(a), wordSet(b))
}

func jaccard(left, right map[string]struct{}) float64 {
	if len(left) == 0 || len(right) == 0 {
		return 0
	}
	inter := 0
	for tok := range left {
		if _, ok := right[tok]; ok {
			inter++
		}
	}
	union := len(left) + len(right) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func sharesWord(query map[string]struct{}, content string) bool {
	for tok := range wordSet(content) {
		if _, ok := query[tok]; ok {
			return true
		}
	}
	return false
}
