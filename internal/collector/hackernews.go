package collector

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/LJTian/MarketPulse/internal/config"
)

const hnDefaultLimit = 30

// HackerNewsFetcher 通过官方 Firebase API 抓取 Hacker News 故事列表。
// 数据源 id 取 top / new / best，对应 topstories / newstories / beststories。
type HackerNewsFetcher struct {
	baseURL string
	client  *resty.Client
	log     logrus.FieldLogger
}

func NewHackerNewsFetcher(cfg config.HackerNewsConfig, timeout time.Duration, log logrus.FieldLogger) *HackerNewsFetcher {
	return &HackerNewsFetcher{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  newRateLimitedClient(timeout, userAgent, cfg.RequestsPerSecond),
		log:     log.WithField("feed", config.FeedHackerNews),
	}
}

func (h *HackerNewsFetcher) Name() string { return config.FeedHackerNews }

func (h *HackerNewsFetcher) Kind() config.SourceKind { return config.KindDiscussion }

type hnItem struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Text        string `json:"text"`
	URL         string `json:"url"`
	Score       *int64 `json:"score"`
	Descendants *int64 `json:"descendants"`
	By          string `json:"by"`
	Time        int64  `json:"time"`
	Type        string `json:"type"`
	Deleted     bool   `json:"deleted"`
	Dead        bool   `json:"dead"`
}

func (h *HackerNewsFetcher) Fetch(ctx context.Context, src config.Source) ([]RawItem, error) {
	list := strings.ToLower(src.ID)
	switch list {
	case "top", "new", "best":
	default:
		return nil, unavailable(src.Name(), fmt.Errorf("unknown story list %q", src.ID))
	}

	limit := src.Limit
	if limit <= 0 {
		limit = hnDefaultLimit
	}

	var ids []int64
	if err := getJSON(ctx, h.client, fmt.Sprintf("%s/%sstories.json", h.baseURL, list), nil, &ids); err != nil {
		return nil, unavailable(src.Name(), fmt.Errorf("fetch %s stories: %w", list, err))
	}
	if len(ids) > limit {
		ids = ids[:limit]
	}

	results := make([]RawItem, 0, len(ids))
	var failed int
	var lastErr error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var it hnItem
		if err := getJSON(ctx, h.client, fmt.Sprintf("%s/item/%d.json", h.baseURL, id), nil, &it); err != nil {
			h.log.WithError(err).WithField("id", id).Warn("fetch item failed")
			failed++
			lastErr = err
			continue
		}
		if it.Type != "story" || it.Title == "" {
			continue
		}

		item := it.discussion()
		if item.Excluded() {
			continue
		}
		results = append(results, item)
	}

	// 列表成功但条目全部失败时同样视为数据源不可用
	if len(ids) > 0 && failed == len(ids) {
		return nil, unavailable(src.Name(), fmt.Errorf("all %d items failed: %w", failed, lastErr))
	}
	if len(results) == 0 {
		h.log.WithField("source", src.Name()).Warn("hackernews: no items fetched")
	}
	return results, nil
}

func (it hnItem) discussion() *DiscussionItem {
	itemURL := it.URL
	if itemURL == "" {
		itemURL = fmt.Sprintf("https://news.ycombinator.com/item?id=%d", it.ID)
	}
	var created time.Time
	if it.Time > 0 {
		created = time.Unix(it.Time, 0).UTC()
	}
	return &DiscussionItem{
		ID:        fmt.Sprintf("hn_%d", it.ID),
		Community: config.FeedHackerNews,
		Type:      TypePost,
		Title:     it.Title,
		Body:      it.Text,
		URL:       itemURL,
		Author:    it.By,
		CreatedAt: created,
		Score:     it.Score,
		Comments:  it.Descendants,
		Removed:   it.Dead,
		Deleted:   it.Deleted,
	}
}
