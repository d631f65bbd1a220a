package similarity

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync/atomic"
	"time"

	"github.com/timmy/autograde/internal/domain"
	"github.com/timmy/autograde/internal/logger"
	"golang.org/x/sync/errgroup"
)

// boundSlack absorbs floating-point rounding when comparing an upper bound to the threshold.
const boundSlack = 1e-9

// Engine computes pairwise similarity across a corpus of submissions.
type Engine struct {
	weights     Weights
	refIdents   map[string]struct{}
	parallelism int
	logger      *logger.Logger
}

// Options configures an Engine.
type Options struct {
	Weights Weights
	// Reference is the reference answer; its identifiers never count towards similarity.
	Reference *domain.Submission
	// Parallelism bounds the goroutines used by Analyze; 0 uses GOMAXPROCS.
	Parallelism int
	Logger      *logger.Logger
}

// NewEngine creates a similarity engine.
// Parameters:
//   - opts: metric weights, optional reference answer and parallelism.
//
// Returns:
//   - *Engine: engine ready for Analyze and Compare.
//   - error: non-nil if the weights are invalid.
func NewEngine(opts Options) (*Engine, error) {
	if err := opts.Weights.Validate(); err != nil {
		return nil, err
	}
	parallelism := opts.Parallelism
	if parallelism <= 0 {
		parallelism = runtime.GOMAXPROCS(0)
	}
	log := opts.Logger
	if log == nil {
		log = logger.GetDefault()
	}

	e := &Engine{
		weights:     opts.Weights,
		refIdents:   make(map[string]struct{}),
		parallelism: parallelism,
		logger:      log,
	}
	if ref := opts.Reference; ref != nil {
		lang := ref.Language
		if lang == "" {
			lang = domain.LanguageFromFilename(ref.Filename)
		}
		// identifiers are collected even when the reference does not parse
		_, idents, _ := shapeOf(lang, ref.Filename, ref.Content)
		e.refIdents = idents
	}
	return e, nil
}

// Weights returns the metric weights of the engine.
func (e *Engine) Weights() Weights {
	return e.weights
}

// Prepare computes the profile of one submission.
// A parse failure is recorded on the profile and never returned as an error.
func (e *Engine) Prepare(sub domain.Submission) *Profile {
	lang := sub.Language
	if lang == "" {
		lang = domain.LanguageFromFilename(sub.Filename)
	}

	structure, idents, err := shapeOf(lang, sub.Filename, sub.Content)
	for name := range e.refIdents {
		delete(idents, name)
	}

	text := NormalizeText(sub.Content)
	p := &Profile{
		StudentID:   sub.StudentID,
		Language:    lang,
		text:        text,
		textLen:     runeLen(text),
		structure:   structure,
		identifiers: idents,
	}
	if err != nil {
		p.structure = nil
		p.ParseErr = &ParseError{StudentID: sub.StudentID, Language: lang, Err: err}
	}
	return p
}

// Compare scores two prepared submissions. It is symmetric in a and b.
func (e *Engine) Compare(a, b *Profile) domain.SimilarityPair {
	pair := domain.NewSimilarityPair(a.StudentID, b.StudentID)
	pair.Text = TextSimilarity(a.text, b.text)
	pair.Structural = structuralSimilarity(a, b)
	pair.Identifier = identifierSimilarity(a, b)
	pair.Score = e.weights.Composite(pair.Text, pair.Structural, pair.Identifier)
	return pair
}

// compareAtLeast is Compare restricted to pairs scoring at least threshold.
// The edit distance is skipped when even a perfect text score could not reach it.
func (e *Engine) compareAtLeast(a, b *Profile, threshold float64) (pair domain.SimilarityPair, ok, pruned bool) {
	structural := structuralSimilarity(a, b)
	identifier := identifierSimilarity(a, b)

	best := e.weights.Composite(textUpperBound(a.textLen, b.textLen), structural, identifier)
	if best+boundSlack < threshold {
		return pair, false, true
	}

	pair = domain.NewSimilarityPair(a.StudentID, b.StudentID)
	pair.Text = TextSimilarity(a.text, b.text)
	pair.Structural = structural
	pair.Identifier = identifier
	pair.Score = e.weights.Composite(pair.Text, structural, identifier)
	return pair, pair.Score >= threshold, false
}

func structuralSimilarity(a, b *Profile) float64 {
	if !a.Parsed() || !b.Parsed() {
		return 0
	}
	return Cosine(a.structure, b.structure)
}

func identifierSimilarity(a, b *Profile) float64 {
	empty := 0.0
	if a.text == b.text {
		empty = 1
	}
	return Jaccard(a.identifiers, b.identifiers, empty)
}

// Analysis is the outcome of one Analyze call.
type Analysis struct {
	Pairs       []domain.SimilarityPair // composite >= threshold, by score desc then IDs
	ParseErrors []*ParseError
	Submissions int
	Compared    int // pairs whose edit distance was computed
	Pruned      int // pairs ruled out by the length bound
	Threshold   float64
	Duration    time.Duration
}

// Analyze compares every unordered pair of submissions and keeps those at or above threshold.
// Profiles are computed concurrently and pair rows are evaluated in parallel.
// Parameters:
//   - ctx: cancelling it abandons the analysis.
//   - subs: submissions with decoded content; student IDs are expected to be unique.
//   - threshold: minimum composite score in [0, 1].
//
// Returns:
//   - *Analysis: flagged pairs and the submissions that failed to parse.
//   - error: non-nil for an invalid threshold or a cancelled context.
func (e *Engine) Analyze(ctx context.Context, subs []domain.Submission, threshold float64) (*Analysis, error) {
	if math.IsNaN(threshold) || threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("similarity threshold must be within [0, 1], got %v", threshold)
	}
	ctx = logger.SetComponent(ctx, "similarity")
	start := time.Now()

	profiles := make([]*Profile, len(subs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallelism)
	for i := range subs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			profiles[i] = e.Prepare(subs[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Slice(profiles, func(i, j int) bool {
		return profiles[i].StudentID < profiles[j].StudentID
	})

	analysis := &Analysis{
		Submissions: len(profiles),
		Threshold:   threshold,
	}
	for _, p := range profiles {
		if pe, ok := p.ParseErr.(*ParseError); ok {
			analysis.ParseErrors = append(analysis.ParseErrors, pe)
			e.logger.WithFields(logger.Fields{
				logger.FieldStudentID: p.StudentID,
				logger.FieldErrorKind: string(domain.ErrorKindSimilarityParse),
			}).WithError(pe.Err).Warn("Submission does not parse, structural similarity degraded to 0")
		}
	}

	pairs, compared, pruned, err := e.evaluate(ctx, profiles, threshold)
	if err != nil {
		return nil, err
	}
	analysis.Pairs = pairs
	analysis.Compared = compared
	analysis.Pruned = pruned
	analysis.Duration = time.Since(start)

	logger.With(nil).Count(len(pairs)).Took(analysis.Duration).Info(ctx, "Similarity analysis of %d submissions: %d pairs flagged, %d compared, %d pruned",
		len(profiles), len(pairs), compared, pruned)

	return analysis, nil
}

func (e *Engine) evaluate(ctx context.Context, profiles []*Profile, threshold float64) ([]domain.SimilarityPair, int, int, error) {
	rows := make([][]domain.SimilarityPair, len(profiles))
	var compared, pruned atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallelism)
	for i := range profiles {
		g.Go(func() error {
			for j := i + 1; j < len(profiles); j++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				pair, ok, skipped := e.compareAtLeast(profiles[i], profiles[j], threshold)
				if skipped {
					pruned.Add(1)
					continue
				}
				compared.Add(1)
				if ok {
					rows[i] = append(rows[i], pair)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, 0, err
	}

	var pairs []domain.SimilarityPair
	for _, row := range rows {
		pairs = append(pairs, row...)
	}
	SortPairs(pairs)
	return pairs, int(compared.Load()), int(pruned.Load()), nil
}

// SortPairs orders pairs by score descending, then by student IDs.
func SortPairs(pairs []domain.SimilarityPair) {
	sort.SliceStable(pairs, func(i, j int) bool {
		if pairs[i].Score != pairs[j].Score {
			return pairs[i].Score > pairs[j].Score
		}
		if pairs[i].StudentA != pairs[j].StudentA {
			return pairs[i].StudentA < pairs[j].StudentA
		}
		return pairs[i].StudentB < pairs[j].StudentB
	})
}

// Groups returns the connected components of the flagged pairs, each sorted by ID,
// ordered by their first member. Students in no pair are omitted.
func Groups(pairs []domain.SimilarityPair) [][]string {
	parent := make(map[string]string)
	var find func(string) string
	find = func(x string) string {
		if parent[x] != x {
			parent[x] = find(parent[x])
		}
		return parent[x]
	}
	for _, p := range pairs {
		for _, id := range []string{p.StudentA, p.StudentB} {
			if _, ok := parent[id]; !ok {
				parent[id] = id
			}
		}
		ra, rb := find(p.StudentA), find(p.StudentB)
		if ra != rb {
			if rb < ra {
				ra, rb = rb, ra
			}
			parent[rb] = ra
		}
	}

	members := make(map[string][]string)
	for id := range parent {
		root := find(id)
		members[root] = append(members[root], id)
	}

	groups := make([][]string, 0, len(members))
	for _, m := range members {
		sort.Strings(m)
		groups = append(groups, m)
	}
	sort.Slice(groups, func(i, j int) bool {
		return groups[i][0] < groups[j][0]
	})
	return groups
}
