package report

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
)

// ReportPatterns match the files Exporter writes.
var ReportPatterns = []string{
	"grading_data_*.json",
	"grading_results_*.csv",
	"grading_report_*.md",
	"grading_report_*.xlsx",
}

// Clean removes the regular files in dir matching any of patterns. A missing dir is not an error.
// Files that cannot be removed do not stop the others; their errors are returned together.
//
// Returns:
//   - []string: paths removed.
//   - error: accumulated errors, nil if none.
func Clean(dir string, patterns ...string) ([]string, error) {
	var (
		removed []string
		result  *multierror.Error
	)
	for _, pattern := range patterns {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("pattern %q: %w", pattern, err))
			continue
		}
		for _, m := range matches {
			info, err := os.Lstat(m)
			if err != nil || !info.Mode().IsRegular() {
				continue
			}
			if err := os.Remove(m); err != nil && !errors.Is(err, os.ErrNotExist) {
				result = multierror.Append(result, err)
				continue
			}
			removed = append(removed, m)
		}
	}
	return removed, result.ErrorOrNil()
}
