package processor

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/LJTian/MarketPulse/internal/config"
)

// Columns 输出表的固定列，顺序即 CSV 列顺序
var Columns = []string{
	"id",
	"source_category",
	"source_kind",
	"title",
	"content",
	"url",
	"score",
	"ratio",
	"count_metric",
	"event_timestamp",
	"author",
	"collection_timestamp",
}

// Record 归一化后的一行。ID / Category / CollectedAt 必填，其余字段缺失时为空值，
// 与 0 或空字符串区分。
type Record struct {
	ID       string
	Category Category
	Kind     config.SourceKind

	Title   *string
	Content *string
	URL     *string

	// 讨论类为分数；行情类为空
	Score *int64
	// 讨论类为赞成比例；行情类为 24h 涨跌幅（百分比）
	Ratio decimal.NullDecimal
	// 讨论类为评论数；行情类为最新价格
	CountMetric decimal.NullDecimal

	EventTime   *time.Time
	Author      *string
	CollectedAt time.Time
}

// Row 按 Columns 顺序输出，空值为空字符串，时间统一为 UTC RFC3339
func (r Record) Row() []string {
	return []string{
		r.ID,
		string(r.Category),
		string(r.Kind),
		deref(r.Title),
		deref(r.Content),
		deref(r.URL),
		formatInt(r.Score),
		formatDecimal(r.Ratio),
		formatDecimal(r.CountMetric),
		formatTime(r.EventTime),
		deref(r.Author),
		r.CollectedAt.UTC().Format(time.RFC3339),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func formatInt(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}

func formatDecimal(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.String()
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
