package processor

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/LJTian/MarketPulse/internal/collector"
	"github.com/LJTian/MarketPulse/internal/config"
)

// Processor 在写入产物前做过滤、分类、归一化与批内去重
type Processor struct {
	categories CategoryMap
	policy     string
	maxText    int
	relevance  RelevanceFilter
	log        logrus.FieldLogger
}

func New(categories CategoryMap, unmappedPolicy string, maxTextLength int, log logrus.FieldLogger) *Processor {
	return &Processor{
		categories: categories,
		policy:     unmappedPolicy,
		maxText:    maxTextLength,
		relevance:  NewRelevanceFilter(),
		log:        log,
	}
}

// Stats 单个数据源的处理计数
type Stats struct {
	Fetched    int `json:"fetched"`
	Excluded   int `json:"excluded"`
	Unmapped   int `json:"unmapped"`
	Dropped    int `json:"dropped"`
	Irrelevant int `json:"irrelevant"`
	Duplicates int `json:"duplicates"`
	Kept       int `json:"kept"`
}

// Batch 一次采集内的处理状态：采集时间与已出现的记录 ID
type Batch struct {
	p          *Processor
	normalizer *Normalizer
	seen       map[string]struct{}
}

// NewBatch 每次采集新建一个 Batch，collectedAt 写入所有记录
func (p *Processor) NewBatch(collectedAt time.Time) *Batch {
	return &Batch{
		p:          p,
		normalizer: NewNormalizer(collectedAt, p.maxText),
		seen:       make(map[string]struct{}),
	}
}

// Process 处理一个数据源的原始记录，输出保持输入顺序；同一 ID 以第一次出现为准
func (b *Batch) Process(src config.Source, items []collector.RawItem) ([]Record, Stats, error) {
	stats := Stats{Fetched: len(items)}
	out := make([]Record, 0, len(items))
	log := b.p.log.WithField("source", src.Name())

	// 被相关性过滤掉的帖子，其评论一并丢弃
	skippedPosts := make(map[string]struct{})
	warned := make(map[string]struct{})

	for _, item := range items {
		if nilItem(item) {
			return nil, stats, fmt.Errorf("process %s: nil item", src.Name())
		}
		if d, ok := item.(*collector.DiscussionItem); ok && d.Excluded() {
			stats.Excluded++
			continue
		}

		key := lookupKey(src, item)
		category, err := b.p.categories.Lookup(key)
		if err != nil {
			if !errors.Is(err, ErrUnmappedSource) {
				return nil, stats, err
			}
			stats.Unmapped++
			if _, ok := warned[key]; !ok {
				warned[key] = struct{}{}
				log.WithField("key", key).WithField("policy", b.p.policy).Warn("unmapped source")
			}
			if b.p.policy == config.UnmappedDrop {
				stats.Dropped++
				continue
			}
			category = CategoryOther
		}

		if d, ok := item.(*collector.DiscussionItem); ok && src.FiltersKeywords(string(category)) {
			if _, skipped := skippedPosts[d.ParentID]; d.Type == collector.TypeComment && skipped {
				stats.Irrelevant++
				continue
			}
			if d.Type != collector.TypeComment && !b.p.relevance.Relevant(d.Title, d.Body) {
				skippedPosts[d.ID] = struct{}{}
				stats.Irrelevant++
				continue
			}
		}

		rec, err := b.normalizer.Normalize(item, category)
		if err != nil {
			return nil, stats, err
		}
		if _, dup := b.seen[rec.ID]; dup {
			stats.Duplicates++
			continue
		}
		b.seen[rec.ID] = struct{}{}
		out = append(out, rec)
	}

	stats.Kept = len(out)
	return out, stats, nil
}

// KeepsPost 帖子是否会进入产物：未被排除、分类策略不丢弃、需要时通过相关性过滤。
// 与 Process 使用同一套规则，供采集器挑选抓取评论的帖子。
func (p *Processor) KeepsPost(src config.Source, post *collector.DiscussionItem) bool {
	if post == nil || post.Excluded() {
		return false
	}
	category, err := p.categories.Lookup(lookupKey(src, post))
	if err != nil {
		if p.policy == config.UnmappedDrop {
			return false
		}
		category = CategoryOther
	}
	if !src.FiltersKeywords(string(category)) {
		return true
	}
	return p.relevance.Relevant(post.Title, post.Body)
}

// lookupKey 讨论类按社区查分类（组合社区的每条记录带自己的 subreddit），行情类按代码
func lookupKey(src config.Source, item collector.RawItem) string {
	switch it := item.(type) {
	case *collector.DiscussionItem:
		if it.Community != "" {
			return it.Community
		}
	case *collector.PriceTick:
		if it.Symbol != "" {
			return it.Symbol
		}
	}
	if keys := categoryKeys(src); len(keys) > 0 {
		return keys[0]
	}
	return src.ID
}

func nilItem(item collector.RawItem) bool {
	switch it := item.(type) {
	case nil:
		return true
	case *collector.DiscussionItem:
		return it == nil
	case *collector.PriceTick:
		return it == nil
	}
	return false
}
