package domain

// SimilarityPair is an unordered pair of submissions scored by the similarity engine.
// StudentA always sorts before StudentB.
type SimilarityPair struct {
	StudentA   string  `json:"student_a"`
	StudentB   string  `json:"student_b"`
	Score      float64 `json:"score"`
	Text       float64 `json:"text"`
	Structural float64 `json:"structural"`
	Identifier float64 `json:"identifier"`
}

// NewSimilarityPair builds a pair with its members in canonical order.
func NewSimilarityPair(a, b string) SimilarityPair {
	if b < a {
		a, b = b, a
	}
	return SimilarityPair{StudentA: a, StudentB: b}
}

// Peer returns the other member of the pair, or "" if id is not a member.
func (p SimilarityPair) Peer(id string) string {
	switch id {
	case p.StudentA:
		return p.StudentB
	case p.StudentB:
		return p.StudentA
	}
	return ""
}
