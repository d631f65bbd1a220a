package similarity

import (
	"math"

	"github.com/agnivade/levenshtein"
)

// TextSimilarity is 1 - levenshtein(a, b) / max(len(a), len(b)) counted in runes.
// Two empty texts are identical.
func TextSimilarity(a, b string) float64 {
	la, lb := runeLen(a), runeLen(b)
	if la == 0 && lb == 0 {
		return 1
	}
	if a == b {
		return 1
	}
	longest := max(la, lb)
	d := levenshtein.ComputeDistance(a, b)
	return clamp01(1 - float64(d)/float64(longest))
}

// textUpperBound is the best TextSimilarity two texts of these rune lengths can reach.
// The edit distance is at least the length difference.
func textUpperBound(la, lb int) float64 {
	if la == 0 && lb == 0 {
		return 1
	}
	return float64(min(la, lb)) / float64(max(la, lb))
}

// Cosine compares two bags of category counts. An empty bag scores 0 against everything.
func Cosine(a, b map[string]int) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if len(b) < len(a) {
		a, b = b, a
	}
	var dot, na, nb int
	for k, va := range a {
		na += va * va
		dot += va * b[k]
	}
	for _, vb := range b {
		nb += vb * vb
	}
	if na == 0 || nb == 0 {
		return 0
	}
	if dot == na && na == nb {
		return 1
	}
	return clamp01(float64(dot) / math.Sqrt(float64(na)*float64(nb)))
}

// Jaccard is |a ∩ b| / |a ∪ b|. Two empty sets score emptyScore.
func Jaccard(a, b map[string]struct{}, emptyScore float64) float64 {
	if len(a) == 0 && len(b) == 0 {
		return emptyScore
	}
	if len(b) < len(a) {
		a, b = b, a
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func runeLen(s string) int {
	n := 0
	for range s {
		n++
	}
	return n
}
