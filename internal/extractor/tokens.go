package extractor

import (
	"regexp"
	"strings"
)

var wordPattern = regexp.MustCompile(`[a-z0-9]+`)

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true, "in": true,
	"on": true, "at": true, "to": true, "for": true, "of": true, "with": true, "by": true,
}

// Tokens normalises a narration into its ordered significant words: case
// folded, punctuation stripped, stopwords and words of two characters or
// fewer dropped, month names reduced to their three-letter form.
func Tokens(text string) []string {
	words := wordPattern.FindAllString(strings.ToLower(text), -1)
	out := make([]string, 0, len(words))
	for _, w := range words {
		if m, ok := CanonicalMonth(w); ok {
			w = strings.ToLower(m)
		}
		if len(w) <= 2 || stopwords[w] {
			continue
		}
		out = append(out, w)
	}
	return out
}

// TokenSet is the deduplicated form of Tokens.
type TokenSet map[string]struct{}

// NewTokenSet builds a token set from a narration.
func NewTokenSet(text string) TokenSet {
	set := make(TokenSet)
	for _, t := range Tokens(text) {
		set[t] = struct{}{}
	}
	return set
}

// Jaccard returns |a ∩ b| / |a ∪ b|, or 0 when both sets are empty.
func Jaccard(a, b TokenSet) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	inter := 0
	for t := range small {
		if _, ok := large[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// Similarity is Jaccard over two raw narrations.
func Similarity(a, b string) float64 {
	return Jaccard(NewTokenSet(a), NewTokenSet(b))
}

// CommonPhrase returns the longest run of consecutive normalised tokens the
// two narrations share, joined by spaces.
func CommonPhrase(a, b string) string {
	ta, tb := Tokens(a), Tokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return ""
	}

	prev := make([]int, len(tb)+1)
	cur := make([]int, len(tb)+1)
	best, end := 0, 0
	for i := 1; i <= len(ta); i++ {
		for j := 1; j <= len(tb); j++ {
			if ta[i-1] == tb[j-1] {
				cur[j] = prev[j-1] + 1
				if cur[j] > best {
					best, end = cur[j], i
				}
			} else {
				cur[j] = 0
			}
		}
		prev, cur = cur, prev
	}
	return strings.Join(ta[end-best:end], " ")
}
