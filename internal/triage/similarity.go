package triage

import "strings"

// Similarity returns the Jaccard index of the whitespace-separated word sets
// of a and b. Tokens are compared case-sensitively. Two empty inputs are
// identical (1.0).
func Similarity(a, b string) float64 {
	wa := wordSet(a)
	wb := wordSet(b)
	if len(wa) == 0 && len(wb) == 0 {
		return 1.0
	}

	var inter int
	for w := range wa {
		if _, ok := wb[w]; ok {
			inter++
		}
	}
	union := len(wa) + len(wb) - inter
	if union == 0 {
		return 1.0
	}
	return float64(inter) / float64(union)
}

func wordSet(s string) map[string]struct{} {
	fields := strings.Fields(s)
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// WordCount returns the number of whitespace-separated words in s.
func WordCount(s string) int {
	return len(strings.Fields(s))
}

// TruncateRunes returns at most n characters of s, cutting on rune boundaries.
func TruncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	var count int
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
