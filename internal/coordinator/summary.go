package coordinator

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/LJTian/MarketPulse/internal/processor"
)

// SourceResult 单个数据源的结果
type SourceResult struct {
	Source string          `json:"source"`
	Kind   string          `json:"kind"`
	Stats  processor.Stats `json:"stats"`
	// 跨批次去重丢弃的条数
	Seen  int    `json:"seen"`
	Error string `json:"error,omitempty"`
}

func (r SourceResult) Failed() bool { return r.Error != "" }

// Summary 每次采集的计数汇总：尝试 / 成功的数据源、按数据源与按分类的记录数
type Summary struct {
	Attempted  int                        `json:"attempted"`
	Succeeded  int                        `json:"succeeded"`
	Records    int                        `json:"records"`
	Sources    []SourceResult             `json:"sources"`
	Categories map[processor.Category]int `json:"categories"`
}

func newSummary() Summary {
	return Summary{Categories: make(map[processor.Category]int)}
}

func (s Summary) Failures() int { return s.Attempted - s.Succeeded }

func (s *Summary) addFailure(source, kind string, err error) {
	s.Attempted++
	s.Sources = append(s.Sources, SourceResult{Source: source, Kind: kind, Error: err.Error()})
}

func (s *Summary) addSuccess(res SourceResult, records []processor.Record) {
	s.Attempted++
	s.Succeeded++
	s.Records += len(records)
	for _, rec := range records {
		s.Categories[rec.Category]++
	}
	s.Sources = append(s.Sources, res)
}

// CategoryCounts 分类计数，key 为字符串便于序列化
func (s Summary) CategoryCounts() map[string]int {
	out := make(map[string]int, len(s.Categories))
	for c, n := range s.Categories {
		out[string(c)] = n
	}
	return out
}

// SourceCounts 每个成功数据源写入产物的记录数
func (s Summary) SourceCounts() map[string]int {
	out := make(map[string]int, len(s.Sources))
	for _, r := range s.Sources {
		if r.Failed() {
			continue
		}
		out[r.Source] += r.Stats.Kept
	}
	return out
}

// Table 按显示宽度对齐的汇总表，每个数据源一行，末尾附分类计数
func (s Summary) Table() string {
	rows := [][]string{{"source", "kind", "fetched", "kept", "excluded", "unmapped", "filtered", "dup", "seen", "status"}}
	for _, r := range s.Sources {
		status := "ok"
		if r.Failed() {
			status = "failed: " + r.Error
		}
		rows = append(rows, []string{
			r.Source,
			r.Kind,
			strconv.Itoa(r.Stats.Fetched),
			strconv.Itoa(r.Stats.Kept),
			strconv.Itoa(r.Stats.Excluded),
			strconv.Itoa(r.Stats.Unmapped),
			strconv.Itoa(r.Stats.Irrelevant),
			strconv.Itoa(r.Stats.Duplicates),
			strconv.Itoa(r.Seen),
			status,
		})
	}

	widths := make([]int, len(rows[0]))
	for _, row := range rows {
		for i, cell := range row {
			if w := runewidth.StringWidth(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	var sb strings.Builder
	for _, row := range rows {
		for i, cell := range row {
			if i > 0 {
				sb.WriteString("  ")
			}
			if i == len(row)-1 {
				sb.WriteString(cell)
				continue
			}
			sb.WriteString(runewidth.FillRight(cell, widths[i]))
		}
		sb.WriteString("\n")
	}

	categories := make([]string, 0, len(s.Categories))
	for c := range s.Categories {
		categories = append(categories, string(c))
	}
	sort.Strings(categories)
	parts := make([]string, 0, len(categories))
	for _, c := range categories {
		parts = append(parts, fmt.Sprintf("%s=%d", c, s.Categories[processor.Category(c)]))
	}
	fmt.Fprintf(&sb, "sources: %d/%d succeeded, records: %d, categories: %s\n",
		s.Succeeded, s.Attempted, s.Records, strings.Join(parts, " "))
	return sb.String()
}
