package processor

import (
	"errors"
	"strings"

	"github.com/LJTian/MarketPulse/internal/config"
)

// Category 粗粒度的市场分类
type Category string

const (
	CategoryUSStocks  Category = "US_STOCKS"
	CategoryIPOs      Category = "IPOS"
	CategoryCrypto    Category = "CRYPTO"
	CategoryEconomics Category = "ECONOMICS"
	CategoryNews      Category = "NEWS"
	// 未映射来源在 default 策略下归入此类
	CategoryOther Category = "OTHER"
)

// ErrUnmappedSource 来源（社区 / 行情代码）不在分类表中
var ErrUnmappedSource = errors.New("unmapped source")

// CategoryMap 来源标识到分类的静态表，key 统一小写
type CategoryMap map[string]Category

// NewCategoryMap 按顺序叠加多组数据源配置，后出现的覆盖先出现的；未声明分类的数据源不参与
func NewCategoryMap(layers ...[]config.Source) CategoryMap {
	m := make(CategoryMap)
	for _, sources := range layers {
		for _, src := range sources {
			if src.Category == "" {
				continue
			}
			for _, key := range categoryKeys(src) {
				m.Set(key, Category(src.Category))
			}
		}
	}
	return m
}

func (m CategoryMap) Set(key string, c Category) {
	m[strings.ToLower(strings.TrimSpace(key))] = c
}

// Lookup 大小写不敏感地查找分类
func (m CategoryMap) Lookup(key string) (Category, error) {
	if c, ok := m[strings.ToLower(strings.TrimSpace(key))]; ok {
		return c, nil
	}
	return "", ErrUnmappedSource
}

// categoryKeys 数据源在分类表中登记的 key：
// reddit 组合社区 a+b 拆成多个，hackernews 统一用 feed 名，行情类用代码
func categoryKeys(src config.Source) []string {
	switch src.Feed {
	case config.FeedReddit:
		parts := strings.Split(src.ID, "+")
		keys := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				keys = append(keys, p)
			}
		}
		return keys
	case config.FeedHackerNews:
		return []string{config.FeedHackerNews}
	default:
		return []string{src.ID}
	}
}
