package similarity

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/timmy/autograde/internal/domain"
)

// Profile is everything the engine needs to compare one submission, computed once.
type Profile struct {
	StudentID string
	Language  domain.Language

	text        string // lower-cased, whitespace collapsed
	textLen     int    // in runes
	structure   map[string]int
	identifiers map[string]struct{}

	// ParseErr is set when the submission could not be parsed for structural comparison.
	ParseErr error
}

// Parsed reports whether the profile has a structural component.
func (p *Profile) Parsed() bool {
	return p.ParseErr == nil && len(p.structure) > 0
}

// Structure returns a copy of the syntax-category counts.
func (p *Profile) Structure() map[string]int {
	out := make(map[string]int, len(p.structure))
	for k, v := range p.structure {
		out[k] = v
	}
	return out
}

// Identifiers returns the identifiers that count towards identifier similarity, sorted.
func (p *Profile) Identifiers() []string {
	out := make([]string, 0, len(p.identifiers))
	for name := range p.identifiers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ParseError reports a submission that failed to parse for structural comparison.
// It only degrades that submission's structural score.
type ParseError struct {
	StudentID string
	Language  domain.Language
	Err       error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s (%s): %v", domain.ErrorKindSimilarityParse, e.StudentID, e.Language, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Kind returns domain.ErrorKindSimilarityParse.
func (e *ParseError) Kind() domain.ErrorKind {
	return domain.ErrorKindSimilarityParse
}

// NormalizeText lower-cases s and collapses every whitespace run to one space.
func NormalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

var wordPattern = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

// shapeOf dispatches to the language's parser. Plain text has no structure.
func shapeOf(lang domain.Language, filename, content string) (map[string]int, map[string]struct{}, error) {
	switch lang {
	case domain.LanguagePython:
		return pythonShape(content)
	case domain.LanguageGo:
		return goShape(filename, content)
	default:
		idents := make(map[string]struct{})
		for _, w := range wordPattern.FindAllString(content, -1) {
			idents[w] = struct{}{}
		}
		return nil, idents, nil
	}
}
