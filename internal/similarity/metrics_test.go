package similarity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTextSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, TextSimilarity("", ""))
	assert.Equal(t, 1.0, TextSimilarity("abc", "abc"))
	assert.Equal(t, 0.0, TextSimilarity("abc", ""))
	assert.InDelta(t, 1-3.0/7.0, TextSimilarity("kitten", "sitting"), 1e-12)
	// Counted in runes, not bytes.
	assert.InDelta(t, 0.5, TextSimilarity("你好", "你们"), 1e-12)
}

func TestTextUpperBound(t *testing.T) {
	for _, pair := range [][2]string{{"kitten", "sitting"}, {"a", "abcdef"}, {"same", "same"}} {
		bound := textUpperBound(runeLen(pair[0]), runeLen(pair[1]))
		assert.GreaterOrEqual(t, bound, TextSimilarity(pair[0], pair[1]))
	}
}

func TestCosine(t *testing.T) {
	a := map[string]int{"If": 2, "Call": 3}
	assert.Equal(t, 1.0, Cosine(a, map[string]int{"If": 2, "Call": 3}))
	assert.Equal(t, 0.0, Cosine(a, map[string]int{"For": 1}))
	assert.Equal(t, 0.0, Cosine(a, nil))
	assert.InDelta(t, 1.0, Cosine(a, map[string]int{"If": 4, "Call": 6}), 1e-12)
	assert.Equal(t, Cosine(a, map[string]int{"If": 1}), Cosine(map[string]int{"If": 1}, a))
}

func TestJaccard(t *testing.T) {
	set := func(words ...string) map[string]struct{} {
		m := make(map[string]struct{})
		for _, w := range words {
			m[w] = struct{}{}
		}
		return m
	}
	assert.Equal(t, 1.0, Jaccard(set("a", "b"), set("a", "b"), 0))
	assert.InDelta(t, 1.0/3.0, Jaccard(set("a", "b"), set("b", "c"), 0), 1e-12)
	assert.Equal(t, 0.0, Jaccard(set(), set(), 0))
	assert.Equal(t, 1.0, Jaccard(set(), set(), 1))
	assert.Equal(t, 0.0, Jaccard(set("a"), set(), 1))
}
