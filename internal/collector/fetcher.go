package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/LJTian/MarketPulse/internal/config"
)

// ErrSourceUnavailable 数据源不可达、鉴权失败或返回了无法解析的内容
var ErrSourceUnavailable = errors.New("source unavailable")

// UnavailableError 携带具体数据源与底层错误，errors.Is(err, ErrSourceUnavailable) 为 true
type UnavailableError struct {
	Source string
	Err    error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s: source unavailable: %v", e.Source, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

func (e *UnavailableError) Is(target error) bool { return target == ErrSourceUnavailable }

func unavailable(source string, err error) error {
	return &UnavailableError{Source: source, Err: err}
}

// RawItem 采集后的原始记录，只有 *DiscussionItem 与 *PriceTick 两种实现
type RawItem interface {
	Kind() config.SourceKind
	rawItem()
}

// 讨论类记录类型
const (
	TypePost    = "post"
	TypeComment = "comment"
)

// DiscussionItem 帖子或评论
type DiscussionItem struct {
	// 源内唯一 ID，例如 reddit fullname t3_xxx / t1_xxx
	ID        string
	Community string
	Type      string
	Title     string
	Body      string
	URL       string
	Author    string
	Flair     string
	ParentID  string
	CreatedAt time.Time

	// 上游缺失时为空，与 0 区分
	Score    *int64
	Ratio    decimal.NullDecimal
	Comments *int64

	Removed bool
	Deleted bool
	Pinned  bool
}

func (*DiscussionItem) Kind() config.SourceKind { return config.KindDiscussion }
func (*DiscussionItem) rawItem()                {}

// Excluded 被源站标记为删除 / 移除 / 置顶的记录不进入输出
func (d *DiscussionItem) Excluded() bool {
	return d.Removed || d.Deleted || d.Pinned
}

// PriceTick 一条行情快照
type PriceTick struct {
	Feed       string
	Symbol     string
	Price      decimal.Decimal
	Change24h  decimal.NullDecimal // 百分比
	MarketCap  decimal.NullDecimal
	Label      string
	URL        string
	ObservedAt time.Time
}

func (*PriceTick) Kind() config.SourceKind { return config.KindPrice }
func (*PriceTick) rawItem()                {}

// PostFilter 判断帖子是否会进入产物，用于挑选需要抓取评论的帖子
type PostFilter func(src config.Source, post *DiscussionItem) bool

// Fetcher 抽象每一个数据源
type Fetcher interface {
	// Name 即配置中的 feed 名称
	Name() string
	Kind() config.SourceKind
	Fetch(ctx context.Context, src config.Source) ([]RawItem, error)
}

// Registry 按 feed 名称查找采集器
type Registry map[string]Fetcher

func NewRegistry(fetchers ...Fetcher) Registry {
	r := make(Registry, len(fetchers))
	for _, f := range fetchers {
		r[f.Name()] = f
	}
	return r
}

// Lookup 返回 feed 对应的采集器；未注册的 feed 视为数据源不可用
func (r Registry) Lookup(src config.Source) (Fetcher, error) {
	f, ok := r[src.Feed]
	if !ok {
		return nil, unavailable(src.Name(), fmt.Errorf("no fetcher registered for feed %q", src.Feed))
	}
	if f.Kind() != src.Kind {
		return nil, unavailable(src.Name(), fmt.Errorf("feed %q serves %s sources, not %s", src.Feed, f.Kind(), src.Kind))
	}
	return f, nil
}
