package report

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/timmy/autograde/internal/domain"
	"github.com/timmy/autograde/internal/logger"
	"github.com/timmy/autograde/internal/similarity"
	"github.com/timmy/autograde/internal/storage"
)

// Format is an export file format.
type Format string

const (
	FormatJSON     Format = "json"
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "markdown"
	FormatExcel    Format = "xlsx"
)

// AllFormats lists every supported format in export order.
var AllFormats = []Format{FormatJSON, FormatCSV, FormatMarkdown, FormatExcel}

// ParseFormats resolves format names; "all" selects every format, "md" is an alias of markdown
// and "excel" of xlsx.
func ParseFormats(names []string) ([]Format, error) {
	seen := make(map[Format]bool)
	var out []Format
	add := func(f Format) {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	for _, name := range names {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "all":
			for _, f := range AllFormats {
				add(f)
			}
		case "json":
			add(FormatJSON)
		case "csv":
			add(FormatCSV)
		case "markdown", "md":
			add(FormatMarkdown)
		case "xlsx", "excel":
			add(FormatExcel)
		case "":
		default:
			return nil, fmt.Errorf("unknown export format %q", name)
		}
	}
	return out, nil
}

// Report is everything an export writes.
type Report struct {
	RunID      string
	Results    *domain.ResultSet
	Stats      Statistics
	Threshold  float64
	Metadata   map[string]interface{}
	ParseFails []string // students whose structure could not be compared
}

// Exporter writes reports under one directory and optionally uploads them.
type Exporter struct {
	dir      string
	now      func() time.Time
	store    storage.ObjectStorage
	prefix   string
	logger   *logger.Logger
	uploaded map[string]string
}

// ExporterOption configures an Exporter.
type ExporterOption func(*Exporter)

// WithUpload publishes every written file to store under prefix.
func WithUpload(store storage.ObjectStorage, prefix string) ExporterOption {
	return func(e *Exporter) {
		e.store = store
		e.prefix = prefix
	}
}

// WithClock overrides the clock used for file name timestamps.
func WithClock(now func() time.Time) ExporterOption {
	return func(e *Exporter) {
		e.now = now
	}
}

// NewExporter creates an exporter writing into dir.
func NewExporter(dir string, log *logger.Logger, opts ...ExporterOption) *Exporter {
	if log == nil {
		log = logger.GetDefault()
	}
	e := &Exporter{
		dir:      dir,
		now:      time.Now,
		logger:   log,
		uploaded: make(map[string]string),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Uploaded returns the URL of each uploaded file keyed by local path.
func (e *Exporter) Uploaded() map[string]string {
	return e.uploaded
}

// Export writes rep in every requested format. A failing format does not stop the others;
// their errors are returned together.
// Parameters:
//   - ctx: context for uploads.
//   - rep: result set, statistics and metadata to write.
//   - formats: formats to write.
//
// Returns:
//   - []string: paths of the files written.
//   - error: accumulated write and upload errors, nil if none.
func (e *Exporter) Export(ctx context.Context, rep *Report, formats []Format) ([]string, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create report directory: %w", err)
	}

	if rep.Results == nil {
		rep.Results = &domain.ResultSet{}
	}
	stamp := e.now().Format("20060102_150405")
	var (
		paths  []string
		result *multierror.Error
	)
	for _, f := range formats {
		var (
			path string
			err  error
		)
		switch f {
		case FormatJSON:
			path = filepath.Join(e.dir, fmt.Sprintf("grading_data_%s.json", stamp))
			err = writeFile(path, func(w *bufio.Writer) error { return writeJSON(w, rep, stamp) })
		case FormatCSV:
			path = filepath.Join(e.dir, fmt.Sprintf("grading_results_%s.csv", stamp))
			err = writeFile(path, func(w *bufio.Writer) error { return writeCSV(w, rep.Results) })
		case FormatMarkdown:
			path = filepath.Join(e.dir, fmt.Sprintf("grading_report_%s.md", stamp))
			err = writeFile(path, func(w *bufio.Writer) error { return writeMarkdown(w, rep, stamp) })
		case FormatExcel:
			path = filepath.Join(e.dir, fmt.Sprintf("grading_report_%s.xlsx", stamp))
			err = writeExcel(path, rep)
		default:
			err = fmt.Errorf("unknown export format %q", f)
		}
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%s export: %w", f, err))
			continue
		}
		paths = append(paths, path)
		e.logger.WithFields(logger.Fields{"format": string(f), "path": path}).Info("Report exported")
	}

	if e.store != nil {
		for _, p := range paths {
			url, err := storage.UploadFile(ctx, e.store, storage.ObjectKey(e.prefix, p), p)
			if err != nil {
				result = multierror.Append(result, fmt.Errorf("upload %s: %w", filepath.Base(p), err))
				continue
			}
			e.uploaded[p] = url
			e.logger.WithField("url", url).Info("Report uploaded")
		}
	}

	return paths, result.ErrorOrNil()
}

func writeFile(path string, write func(*bufio.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	w := bufio.NewWriter(f)
	if err := write(w); err != nil {
		return err
	}
	return w.Flush()
}

type jsonReport struct {
	Timestamp  string                  `json:"timestamp"`
	RunID      string                  `json:"run_id,omitempty"`
	Metadata   map[string]interface{}  `json:"metadata"`
	Results    []domain.ResultEntry    `json:"results"`
	Pairs      []domain.SimilarityPair `json:"similarity_pairs"`
	Groups     [][]string              `json:"similarity_groups"`
	ParseFails []string                `json:"similarity_parse_errors,omitempty"`
	Summary    domain.ResultCounts     `json:"summary"`
	Statistics Statistics              `json:"statistics"`
}

func writeJSON(w *bufio.Writer, rep *Report, stamp string) error {
	set := rep.Results
	doc := jsonReport{
		Timestamp:  stamp,
		RunID:      rep.RunID,
		Metadata:   rep.Metadata,
		Results:    set.Entries,
		Pairs:      set.Pairs,
		Groups:     similarity.Groups(set.Pairs),
		ParseFails: rep.ParseFails,
		Summary:    set.Counts,
		Statistics: rep.Stats,
	}
	if doc.Metadata == nil {
		doc.Metadata = map[string]interface{}{}
	}
	if doc.Pairs == nil {
		doc.Pairs = []domain.SimilarityPair{}
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

var csvHeader = []string{
	"student_id", "score", "feedback", "status", "error_kind", "error_message",
	"attempts", "retry_count", "similar_to", "max_similarity",
}

// writeCSV writes one row per entry, prefixed with a UTF-8 BOM so spreadsheet tools detect the charset.
func writeCSV(w *bufio.Writer, set *domain.ResultSet) error {
	if _, err := w.WriteString("\ufeff"); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, e := range set.Entries {
		row := resultRow(e)
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// resultRow renders e in csvHeader column order.
func resultRow(e domain.ResultEntry) []string {
	row := make([]string, len(csvHeader))
	row[0] = e.StudentID
	row[3] = string(e.Status)
	row[7] = strconv.Itoa(e.RetryCount)
	if r := e.Result; r != nil {
		if e.Succeeded() {
			row[1] = formatScore(r.Score)
		}
		row[2] = r.Feedback
		if r.Error != nil {
			row[4] = string(r.Error.Kind)
			row[5] = r.Error.Message
		}
		row[6] = strconv.Itoa(r.Attempts)
	}
	if len(e.Flags) > 0 {
		peers := make([]string, len(e.Flags))
		for i, f := range e.Flags {
			peers[i] = f.Peer
		}
		row[8] = strings.Join(peers, ";")
		row[9] = strconv.FormatFloat(e.Flags[0].Score, 'f', 3, 64)
	}
	return row
}

func writeMarkdown(w *bufio.Writer, rep *Report, stamp string) error {
	set, stats := rep.Results, rep.Stats

	fmt.Fprintf(w, "# 作业评分报告\n\n生成时间：%s\n\n", stamp)

	fmt.Fprintf(w, "## 统计概要\n\n| 指标 | 值 |\n|------|----|\n")
	fmt.Fprintf(w, "| 总数 | %d |\n| 成功 | %d |\n| 失败 | %d |\n| 疑似抄袭 | %d |\n",
		set.Counts.Total, set.Counts.Succeeded, set.Counts.Failed, set.Counts.Flagged)
	if stats.Count > 0 {
		fmt.Fprintf(w, "| 平均分 | %.2f |\n| 中位数 | %s |\n| 标准差 | %.2f |\n| 最高分 | %s |\n| 最低分 | %s |\n",
			stats.Mean, formatScore(stats.Median), stats.Stdev, formatScore(stats.Max), formatScore(stats.Min))
	}

	fmt.Fprintf(w, "\n## 评分详情\n\n| 学号 | 分数 | 评语 | 状态 |\n|------|------|------|------|\n")
	entries := append([]domain.ResultEntry(nil), set.Entries...)
	sort.SliceStable(entries, func(i, j int) bool {
		return entryScore(entries[i]) > entryScore(entries[j])
	})
	for _, e := range entries {
		score, comment, status := "-", "", "✗"
		if r := e.Result; r != nil {
			comment = r.Feedback
			if e.Succeeded() {
				score, status = formatScore(r.Score), "✓"
			} else if r.Error != nil {
				comment = fmt.Sprintf("%s: %s", r.Error.Kind, r.Error.Message)
			}
		}
		fmt.Fprintf(w, "| %s | %s | %s | %s |\n", e.StudentID, score, markdownCell(comment), status)
	}

	if stats.Count > 0 {
		fmt.Fprintf(w, "\n## 分数分布\n\n| 区间 | 人数 | 百分比 |\n|------|------|--------|\n")
		for _, b := range stats.Distribution {
			fmt.Fprintf(w, "| %s | %d | %.1f%% |\n", b.Label, b.Count, b.Percentage)
		}
		fmt.Fprintf(w, "\n## 等级分布\n\n| 等级 | 人数 | 百分比 |\n|------|------|--------|\n")
		for _, b := range stats.Grades {
			fmt.Fprintf(w, "| %s | %d | %.1f%% |\n", b.Label, b.Count, b.Percentage)
		}
	}

	if len(set.Pairs) > 0 {
		fmt.Fprintf(w, "\n## 相似度检测（阈值 %.2f）\n\n", rep.Threshold)
		fmt.Fprintf(w, "| 学生A | 学生B | 综合 | 文本 | 结构 | 标识符 |\n|------|------|------|------|------|------|\n")
		for _, p := range set.Pairs {
			fmt.Fprintf(w, "| %s | %s | %.3f | %.3f | %.3f | %.3f |\n",
				p.StudentA, p.StudentB, p.Score, p.Text, p.Structural, p.Identifier)
		}
		if groups := similarity.Groups(set.Pairs); len(groups) > 0 {
			fmt.Fprintf(w, "\n### 相似组\n\n")
			for i, g := range groups {
				fmt.Fprintf(w, "%d. %s\n", i+1, strings.Join(g, ", "))
			}
		}
	}
	if len(rep.ParseFails) > 0 {
		fmt.Fprintf(w, "\n无法解析结构的提交：%s\n", strings.Join(rep.ParseFails, ", "))
	}
	return nil
}

func entryScore(e domain.ResultEntry) float64 {
	if e.Succeeded() && e.Result != nil {
		return e.Result.Score
	}
	return -1
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func markdownCell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	return strings.Join(strings.Fields(s), " ")
}
