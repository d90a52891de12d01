package processor

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/LJTian/MarketPulse/internal/collector"
	"github.com/LJTian/MarketPulse/internal/config"
)

// Normalizer 把 RawItem 转成固定列的 Record。纯函数：采集时间在构造时确定。
type Normalizer struct {
	collectedAt time.Time
	maxText     int
}

func NewNormalizer(collectedAt time.Time, maxTextLength int) *Normalizer {
	return &Normalizer{
		collectedAt: collectedAt.UTC().Truncate(time.Second),
		maxText:     maxTextLength,
	}
}

// Normalize 按 RawItem 的具体类型分派；新增类型未处理时返回错误
func (n *Normalizer) Normalize(item collector.RawItem, category Category) (Record, error) {
	switch it := item.(type) {
	case *collector.DiscussionItem:
		if it == nil {
			return Record{}, fmt.Errorf("normalize: nil discussion item")
		}
		return n.discussion(it, category), nil
	case *collector.PriceTick:
		if it == nil {
			return Record{}, fmt.Errorf("normalize: nil price tick")
		}
		return n.price(it, category), nil
	default:
		return Record{}, fmt.Errorf("normalize: unsupported item type %T", item)
	}
}

func (n *Normalizer) discussion(it *collector.DiscussionItem, category Category) Record {
	rec := Record{
		ID:          it.ID,
		Category:    category,
		Kind:        config.KindDiscussion,
		Title:       n.text(it.Title),
		Content:     n.text(it.Body),
		URL:         optional(strings.TrimSpace(it.URL)),
		Score:       it.Score,
		Ratio:       it.Ratio,
		EventTime:   optionalTime(it.CreatedAt),
		Author:      optional(strings.TrimSpace(it.Author)),
		CollectedAt: n.collectedAt,
	}
	if it.Comments != nil {
		rec.CountMetric = decimal.NewNullDecimal(decimal.NewFromInt(*it.Comments))
	}
	return rec
}

func (n *Normalizer) price(it *collector.PriceTick, category Category) Record {
	return Record{
		ID:          priceID(it),
		Category:    category,
		Kind:        config.KindPrice,
		Title:       n.text(it.Label),
		URL:         optional(strings.TrimSpace(it.URL)),
		Ratio:       it.Change24h,
		CountMetric: decimal.NewNullDecimal(it.Price),
		EventTime:   optionalTime(it.ObservedAt),
		CollectedAt: n.collectedAt,
	}
}

func (n *Normalizer) text(s string) *string {
	return optional(sanitizeText(s, n.maxText))
}

// priceID 同一 feed、代码、观测时间得到同一个 ID
func priceID(it *collector.PriceTick) string {
	return hashKey(it.Feed, strings.ToUpper(it.Symbol), strconv.FormatInt(it.ObservedAt.Unix(), 10))
}

func hashKey(parts ...string) string {
	h := sha1.New()
	h.Write([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(h.Sum(nil))
}

// sanitizeText 修复非法 UTF-8，控制字符替换为空格，合并连续空白，按字符数截断
func sanitizeText(s string, limit int) string {
	s = strings.ToValidUTF8(s, "�")
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, s)
	s = strings.Join(strings.Fields(s), " ")
	return truncateRunes(s, limit)
}

// truncateRunes 超过 limit 个字符时截断，末尾的省略号计入 limit
func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + "…"
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
