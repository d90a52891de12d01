package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// SourceKind 区分讨论类与行情类数据源
type SourceKind string

const (
	KindDiscussion SourceKind = "discussion"
	KindPrice      SourceKind = "price"
)

// 采集器注册表能识别的 feed 名称
const (
	FeedReddit     = "reddit"
	FeedHackerNews = "hackernews"
	FeedBluesky    = "bluesky"
	FeedCoinGecko  = "coingecko"
	FeedYahoo      = "yahoo"
	FeedFearGreed  = "feargreed"
)

var feedKinds = map[string]SourceKind{
	FeedReddit:     KindDiscussion,
	FeedHackerNews: KindDiscussion,
	FeedBluesky:    KindDiscussion,
	FeedCoinGecko:  KindPrice,
	FeedYahoo:      KindPrice,
	FeedFearGreed:  KindPrice,
}

var (
	ErrNoSources     = errors.New("at least one source is required")
	ErrSourceNoID    = errors.New("source id is required")
	ErrUnknownFeed   = errors.New("unknown source feed")
	ErrKindMismatch  = errors.New("source kind does not match its feed")
	ErrNegativeLimit = errors.New("source limit and comments cannot be negative")
)

//go:embed default_sources.yaml
var defaultSourcesYAML []byte

// Source 一次采集中的一个数据源配置
type Source struct {
	Kind SourceKind `yaml:"kind"`
	Feed string     `yaml:"feed"`
	// 社区名（如 subreddit，可用 a+b 组合）、Bluesky 搜索词或行情代码（如 BTC）
	ID       string `yaml:"id"`
	Category string `yaml:"category"`
	// 数据源内部标识，例如 CoinGecko 的 coin id
	Ref      string `yaml:"ref"`
	Limit    int    `yaml:"limit"`
	Comments int    `yaml:"comments"`
	// nil 时按分类决定：NEWS 默认开启
	KeywordFilter *bool `yaml:"keyword_filter"`
}

// Name 用于日志与汇总的标识，例如 "reddit:stocks"
func (s Source) Name() string {
	return s.Feed + ":" + s.ID
}

// FiltersKeywords 是否需要做金融相关性关键词过滤
func (s Source) FiltersKeywords(category string) bool {
	if s.KeywordFilter != nil {
		return *s.KeywordFilter
	}
	return strings.EqualFold(category, "NEWS")
}

type sourcesFile struct {
	Sources []Source `yaml:"sources"`
}

// DefaultSources 内置数据源列表，同时作为分类映射的默认表
func DefaultSources() ([]Source, error) {
	return ParseSources(defaultSourcesYAML)
}

// LoadSources 读取数据源文件；路径为空时使用内置列表
func LoadSources(path string) ([]Source, error) {
	data := defaultSourcesYAML
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read sources file: %w", err)
		}
		data = b
	}
	return ParseSources(data)
}

// ParseSources 解析并校验数据源配置
func ParseSources(data []byte) ([]Source, error) {
	var f sourcesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse sources: %w", err)
	}
	if len(f.Sources) == 0 {
		return nil, ErrNoSources
	}

	for i := range f.Sources {
		s := &f.Sources[i]
		s.Feed = strings.ToLower(strings.TrimSpace(s.Feed))
		s.ID = strings.TrimSpace(s.ID)
		s.Category = strings.ToUpper(strings.TrimSpace(s.Category))

		if s.ID == "" {
			return nil, fmt.Errorf("source %d: %w", i, ErrSourceNoID)
		}
		kind, ok := feedKinds[s.Feed]
		if !ok {
			return nil, fmt.Errorf("source %d (%s): %w %q", i, s.ID, ErrUnknownFeed, s.Feed)
		}
		if s.Kind == "" {
			s.Kind = kind
		} else if s.Kind != kind {
			return nil, fmt.Errorf("source %d (%s): %w", i, s.ID, ErrKindMismatch)
		}
		if s.Limit < 0 || s.Comments < 0 {
			return nil, fmt.Errorf("source %d (%s): %w", i, s.ID, ErrNegativeLimit)
		}
	}
	return f.Sources, nil
}
