package report

import (
	"math"
	"sort"

	"github.com/timmy/autograde/internal/domain"
)

// Bucket counts the scores falling in one band.
type Bucket struct {
	Label      string  `json:"label"`
	Min        float64 `json:"min"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// Statistics describes the scores of the succeeded entries of a ResultSet.
type Statistics struct {
	Count        int      `json:"count"`
	Mean         float64  `json:"mean"`
	Median       float64  `json:"median"`
	Mode         float64  `json:"mode"`
	Stdev        float64  `json:"stdev"`
	Min          float64  `json:"min"`
	Max          float64  `json:"max"`
	Range        float64  `json:"range"`
	P25          float64  `json:"p25"`
	P50          float64  `json:"p50"`
	P75          float64  `json:"p75"`
	Distribution []Bucket `json:"distribution"`
	Grades       []Bucket `json:"grades"`
	LowScores    []string `json:"low_scores,omitempty"` // students below 60
}

type band struct {
	label string
	min   float64
}

var distributionBands = []band{
	{"95-100", 95}, {"90-94", 90}, {"85-89", 85}, {"80-84", 80},
	{"70-79", 70}, {"60-69", 60}, {"<60", math.Inf(-1)},
}

var gradeBands = []band{
	{"优秀", 95}, {"良好", 90}, {"中等", 80}, {"及格", 60}, {"不及格", math.Inf(-1)},
}

// passMark is the score below which a student is listed in LowScores.
const passMark = 60

// Summarize computes score statistics over the succeeded entries of set.
// Percentiles follow the nearest-rank convention of the legacy reports: index n/4, n/2 and 3n/4
// of the sorted scores.
func Summarize(set *domain.ResultSet) Statistics {
	var stats Statistics
	if set == nil {
		return stats
	}

	var ids []string
	var scores []float64
	for _, e := range set.Entries {
		if e.Succeeded() && e.Result != nil {
			ids = append(ids, e.StudentID)
			scores = append(scores, e.Result.Score)
		}
	}
	n := len(scores)
	stats.Count = n
	stats.Distribution = bucketize(scores, distributionBands)
	stats.Grades = bucketize(scores, gradeBands)
	if n == 0 {
		return stats
	}

	for i, s := range scores {
		if s < passMark {
			stats.LowScores = append(stats.LowScores, ids[i])
		}
	}
	stats.Mode = mode(scores)

	sorted := append([]float64(nil), scores...)
	sort.Float64s(sorted)

	var sum float64
	for _, s := range sorted {
		sum += s
	}
	stats.Mean = sum / float64(n)
	stats.Min = sorted[0]
	stats.Max = sorted[n-1]
	stats.Range = stats.Max - stats.Min

	if n%2 == 1 {
		stats.Median = sorted[n/2]
	} else {
		stats.Median = (sorted[n/2-1] + sorted[n/2]) / 2
	}

	if n > 1 {
		var sq float64
		for _, s := range sorted {
			d := s - stats.Mean
			sq += d * d
		}
		stats.Stdev = math.Sqrt(sq / float64(n-1))
	}

	stats.P25, stats.P75 = sorted[0], sorted[n-1]
	if n >= 4 {
		stats.P25 = sorted[n/4]
		stats.P75 = sorted[3*n/4]
	}
	stats.P50 = sorted[n/2]

	return stats
}

func bucketize(scores []float64, bands []band) []Bucket {
	buckets := make([]Bucket, len(bands))
	for i, b := range bands {
		buckets[i] = Bucket{Label: b.label, Min: b.min}
		if math.IsInf(b.min, -1) {
			buckets[i].Min = 0
		}
	}
	for _, s := range scores {
		for i, b := range bands {
			if s >= b.min {
				buckets[i].Count++
				break
			}
		}
	}
	if len(scores) > 0 {
		for i := range buckets {
			buckets[i].Percentage = math.Round(1000*float64(buckets[i].Count)/float64(len(scores))) / 10
		}
	}
	return buckets
}

// mode returns the most frequent score; ties go to the score seen first.
func mode(scores []float64) float64 {
	counts := make(map[float64]int, len(scores))
	for _, s := range scores {
		counts[s]++
	}
	best := scores[0]
	for _, s := range scores {
		if counts[s] > counts[best] {
			best = s
		}
	}
	return best
}
