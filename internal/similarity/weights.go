package similarity

import (
	"errors"
	"fmt"
	"math"
)

// Weights holds the weight of each similarity metric in the composite score.
// The composite is normalised by the sum of the weights, so they need not add up to 1.
type Weights struct {
	Text       float64 `json:"text"`
	Structural float64 `json:"structural"`
	Identifier float64 `json:"identifier"`
}

// DefaultWeights weighs every metric equally.
var DefaultWeights = Weights{Text: 1, Structural: 1, Identifier: 1}

var errZeroWeights = errors.New("at least one similarity weight must be positive")

// Validate checks that every weight is finite and non-negative, and that they are not all zero.
func (w Weights) Validate() error {
	for name, v := range map[string]float64{
		"text":       w.Text,
		"structural": w.Structural,
		"identifier": w.Identifier,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("similarity weight %s must be a non-negative number, got %v", name, v)
		}
	}
	if w.sum() == 0 {
		return errZeroWeights
	}
	return nil
}

func (w Weights) sum() float64 {
	return w.Text + w.Structural + w.Identifier
}

// Composite returns the weighted mean of the three metric scores.
func (w Weights) Composite(text, structural, identifier float64) float64 {
	total := w.sum()
	if total == 0 {
		return 0
	}
	return (w.Text*text + w.Structural*structural + w.Identifier*identifier) / total
}
