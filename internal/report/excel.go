package report

import (
	"fmt"
	"strings"

	"github.com/timmy/autograde/internal/domain"
	"github.com/xuri/excelize/v2"
)

// Sheet names of the Excel workbook, in workbook order.
const (
	SheetResults    = "评分结果"
	SheetSimilarity = "相似度检测"
	SheetStatistics = "统计分析"
	SheetGrades     = "等级汇总"
)

// gradeStudentsShown caps the student list of one grade row.
const gradeStudentsShown = 10

// writeExcel writes rep as a workbook with one sheet each for results, similarity pairs,
// statistics and the per-grade summary. Every sheet is written even when it has no data rows.
func writeExcel(path string, rep *Report) (err error) {
	f := excelize.NewFile()
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	// The default sheet becomes the results sheet so it opens first.
	if err := f.SetSheetName(f.GetSheetName(0), SheetResults); err != nil {
		return err
	}
	for _, name := range []string{SheetSimilarity, SheetStatistics, SheetGrades} {
		if _, err := f.NewSheet(name); err != nil {
			return err
		}
	}

	if err := writeRows(f, SheetResults, resultRows(rep.Results)); err != nil {
		return err
	}
	if err := writeRows(f, SheetSimilarity, similarityRows(rep.Results.Pairs)); err != nil {
		return err
	}
	if err := writeRows(f, SheetStatistics, statisticsRows(rep)); err != nil {
		return err
	}
	if err := writeRows(f, SheetGrades, gradeRows(rep.Results, rep.Stats)); err != nil {
		return err
	}

	if err := f.SetColWidth(SheetResults, "C", "C", 60); err != nil {
		return err
	}
	f.SetActiveSheet(0)
	return f.SaveAs(path)
}

func writeRows(f *excelize.File, sheet string, rows [][]interface{}) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("sheet %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

// resultRows mirrors the CSV columns but keeps numeric cells numeric.
func resultRows(set *domain.ResultSet) [][]interface{} {
	header := make([]interface{}, len(csvHeader))
	for i, h := range csvHeader {
		header[i] = h
	}
	rows := [][]interface{}{header}
	for _, e := range set.Entries {
		text := resultRow(e)
		row := make([]interface{}, len(text))
		for i, v := range text {
			row[i] = v
		}
		row[7] = e.RetryCount
		if r := e.Result; r != nil {
			if e.Succeeded() {
				row[1] = r.Score
			}
			row[6] = r.Attempts
		}
		if len(e.Flags) > 0 {
			row[9] = e.Flags[0].Score
		}
		rows = append(rows, row)
	}
	return rows
}

func similarityRows(pairs []domain.SimilarityPair) [][]interface{} {
	rows := [][]interface{}{{"学生A", "学生B", "综合相似度", "文本", "结构", "标识符"}}
	for _, p := range pairs {
		rows = append(rows, []interface{}{p.StudentA, p.StudentB, p.Score, p.Text, p.Structural, p.Identifier})
	}
	return rows
}

func statisticsRows(rep *Report) [][]interface{} {
	set, stats := rep.Results, rep.Stats
	rows := [][]interface{}{
		{"类别", "指标", "值"},
		{"概要", "总数", set.Counts.Total},
		{"概要", "成功", set.Counts.Succeeded},
		{"概要", "失败", set.Counts.Failed},
		{"概要", "疑似抄袭", set.Counts.Flagged},
		{"概要", "相似度阈值", rep.Threshold},
	}
	if stats.Count == 0 {
		return rows
	}
	rows = append(rows,
		[]interface{}{"基本统计", "平均分", stats.Mean},
		[]interface{}{"基本统计", "中位数", stats.Median},
		[]interface{}{"基本统计", "众数", stats.Mode},
		[]interface{}{"基本统计", "标准差", stats.Stdev},
		[]interface{}{"基本统计", "最高分", stats.Max},
		[]interface{}{"基本统计", "最低分", stats.Min},
		[]interface{}{"基本统计", "极差", stats.Range},
		[]interface{}{"百分位数", "P25", stats.P25},
		[]interface{}{"百分位数", "P50", stats.P50},
		[]interface{}{"百分位数", "P75", stats.P75},
	)
	for _, b := range stats.Distribution {
		rows = append(rows, []interface{}{"分数分布", b.Label, b.Count})
	}
	for _, b := range stats.Grades {
		rows = append(rows, []interface{}{"等级分布", b.Label, b.Count})
	}
	return rows
}

// gradeRows lists each grade band with its score range, head count and up to
// gradeStudentsShown students.
func gradeRows(set *domain.ResultSet, stats Statistics) [][]interface{} {
	members := make(map[string][]string, len(gradeBands))
	for _, e := range set.Entries {
		if !e.Succeeded() || e.Result == nil {
			continue
		}
		for _, b := range gradeBands {
			if e.Result.Score >= b.min {
				members[b.label] = append(members[b.label], e.StudentID)
				break
			}
		}
	}

	rows := [][]interface{}{{"等级", "分数范围", "人数", "学生列表"}}
	upper := "100"
	for _, b := range stats.Grades {
		scoreRange := fmt.Sprintf("%s-%s", formatScore(b.Min), upper)
		if b.Min == 0 {
			scoreRange = "<" + upper
		}
		upper = formatScore(b.Min)

		students := members[b.Label]
		list := strings.Join(students, ", ")
		if len(students) > gradeStudentsShown {
			list = strings.Join(students[:gradeStudentsShown], ", ") + fmt.Sprintf(" 等%d人", len(students))
		}
		rows = append(rows, []interface{}{b.Label, scoreRange, b.Count, list})
	}
	return rows
}
