package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/timmy/autograde/internal/domain"
)

// ErrDirNotFound is returned when the submissions directory does not exist.
var ErrDirNotFound = errors.New("submissions directory not found")

// Options configures a catalog scan.
type Options struct {
	Dir              string   // submissions directory
	Extensions       []string // eligible extensions, e.g. ".py"; empty accepts every file
	ReferencePath    string   // reference-answer file, never part of the corpus
	StudentID        string   // optional single-student filter
	FallbackEncoding string   // charset tried when a file is not UTF-8; empty derives it from the locale
}

// EntryError reports a file the catalog could not turn into a Submission.
// It never aborts the scan.
type EntryError struct {
	Filename  string
	Path      string
	StudentID string
	Err       error
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("%s: %v", e.Filename, e.Err)
}

func (e *EntryError) Unwrap() error {
	return e.Err
}

// Kind returns the error kind of every catalog entry failure.
func (e *EntryError) Kind() domain.ErrorKind {
	return domain.ErrorKindCatalog
}

// ScanResult holds the submissions and per-entry errors of one scan.
type ScanResult struct {
	Submissions []domain.Submission // sorted by student ID, at most one per ID
	Errors      []*EntryError
}

// IDs returns the student IDs of the scanned submissions in order.
func (r *ScanResult) IDs() []string {
	ids := make([]string, len(r.Submissions))
	for i, s := range r.Submissions {
		ids[i] = s.StudentID
	}
	return ids
}

// Catalog discovers gradeable submissions in a directory.
type Catalog struct {
	opts     Options
	fallback string
}

// New creates a catalog for the given options.
// Parameters:
//   - opts: directory, eligible extensions, reference file and optional filters.
//
// Returns:
//   - *Catalog: catalog ready to scan.
func New(opts Options) *Catalog {
	return &Catalog{
		opts:     opts,
		fallback: FallbackEncoding(opts.FallbackEncoding),
	}
}

// Scan enumerates eligible files and reads them into Submissions.
// Files are visited in name order; when two files map to the same student ID the first one wins
// and later ones are reported as entry errors.
// Parameters:
//   - ctx: context for cancellation.
//
// Returns:
//   - *ScanResult: submissions plus per-entry errors.
//   - error: ErrDirNotFound when the directory is missing, or a read error on the directory itself.
func (c *Catalog) Scan(ctx context.Context) (*ScanResult, error) {
	entries, err := os.ReadDir(c.opts.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrDirNotFound, c.opts.Dir)
		}
		return nil, fmt.Errorf("failed to read submissions directory: %w", err)
	}

	reference := cleanAbs(c.opts.ReferencePath)
	result := &ScanResult{}
	owners := make(map[string]string)

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() || !entry.Type().IsRegular() {
			continue
		}

		name := entry.Name()
		path := filepath.Join(c.opts.Dir, name)
		if !c.eligible(name) || (reference != "" && cleanAbs(path) == reference) {
			continue
		}

		id := StudentIDFromFilename(name)
		if c.opts.StudentID != "" && id != c.opts.StudentID {
			continue
		}
		if id == "" {
			result.Errors = append(result.Errors, &EntryError{Filename: name, Path: path, Err: errors.New("empty student ID")})
			continue
		}
		if owner, ok := owners[id]; ok {
			result.Errors = append(result.Errors, &EntryError{
				Filename:  name,
				Path:      path,
				StudentID: id,
				Err:       fmt.Errorf("duplicate student ID %q, already provided by %s", id, owner),
			})
			continue
		}

		sub, err := c.read(name, path, id)
		if err != nil {
			result.Errors = append(result.Errors, &EntryError{Filename: name, Path: path, StudentID: id, Err: err})
			continue
		}
		owners[id] = name
		result.Submissions = append(result.Submissions, *sub)
	}

	sort.Slice(result.Submissions, func(i, j int) bool {
		return result.Submissions[i].StudentID < result.Submissions[j].StudentID
	})

	return result, nil
}

func (c *Catalog) read(name, path, id string) (*domain.Submission, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("empty submission")
	}

	text, enc, err := Decode(data, c.fallback)
	if err != nil {
		return nil, err
	}

	return &domain.Submission{
		StudentID: id,
		Filename:  name,
		Path:      path,
		Language:  domain.LanguageFromFilename(name),
		Size:      int64(len(data)),
		Encoding:  enc,
		Content:   text,
	}, nil
}

func (c *Catalog) eligible(name string) bool {
	if len(c.opts.Extensions) == 0 {
		return true
	}
	ext := filepath.Ext(name)
	for _, e := range c.opts.Extensions {
		if strings.EqualFold(ext, e) {
			return true
		}
	}
	return false
}

// StudentIDFromFilename derives the student ID from a file name:
// the token before the first underscore, or the whole stem when there is none.
func StudentIDFromFilename(name string) string {
	if i := strings.Index(name, "_"); i >= 0 {
		return name[:i]
	}
	return strings.TrimSuffix(name, filepath.Ext(name))
}

func cleanAbs(path string) string {
	if path == "" {
		return ""
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return abs
}
