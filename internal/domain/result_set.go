package domain

import "time"

// SimilarityFlag marks a result entry as suspiciously similar to a peer.
type SimilarityFlag struct {
	Peer       string  `json:"peer"`
	Score      float64 `json:"score"`
	Text       float64 `json:"text"`
	Structural float64 `json:"structural"`
	Identifier float64 `json:"identifier"`
}

// ResultEntry is one terminal record joined with its similarity flags.
type ResultEntry struct {
	ProgressRecord
	Flags []SimilarityFlag `json:"similarity_flags,omitempty"`
}

// ResultCounts summarises the entries of a ResultSet.
type ResultCounts struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Flagged   int `json:"flagged"`
}

// ResultSet is the export-agnostic view handed to exporters.
// Entries are sorted by student ID.
type ResultSet struct {
	GeneratedAt time.Time        `json:"generated_at"`
	Entries     []ResultEntry    `json:"entries"`
	Pairs       []SimilarityPair `json:"similarity_pairs,omitempty"`
	Counts      ResultCounts     `json:"counts"`
}

// Scores returns the scores of every succeeded entry in entry order.
func (rs *ResultSet) Scores() []float64 {
	scores := make([]float64, 0, len(rs.Entries))
	for _, e := range rs.Entries {
		if e.Succeeded() && e.Result != nil {
			scores = append(scores, e.Result.Score)
		}
	}
	return scores
}

// FlagFromPair returns the flag that pair contributes to the entry of self.
func FlagFromPair(pair SimilarityPair, self string) SimilarityFlag {
	return SimilarityFlag{
		Peer:       pair.Peer(self),
		Score:      pair.Score,
		Text:       pair.Text,
		Structural: pair.Structural,
		Identifier: pair.Identifier,
	}
}
