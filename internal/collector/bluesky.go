package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/LJTian/MarketPulse/internal/config"
)

const (
	blueskyDefaultLimit = 50
	blueskyPageSize     = 100
	// accessJwt 约两小时过期
	blueskySessionTTL = 90 * time.Minute
)

// BlueskyFetcher 用 app password 建立会话后按关键词搜索帖子。
// 数据源 id 即搜索词，同时作为记录的社区。
type BlueskyFetcher struct {
	cfg    config.BlueskyConfig
	client *resty.Client
	auth   *resty.Client
	log    logrus.FieldLogger
	now    func() time.Time

	token       string
	tokenExpiry time.Time
}

func NewBlueskyFetcher(cfg config.BlueskyConfig, timeout time.Duration, log logrus.FieldLogger) *BlueskyFetcher {
	return &BlueskyFetcher{
		cfg:    cfg,
		client: newRateLimitedClient(timeout, userAgent, cfg.RequestsPerSecond),
		auth:   resty.New().SetTimeout(timeout).SetHeader("User-Agent", userAgent),
		log:    log.WithField("feed", config.FeedBluesky),
		now:    time.Now,
	}
}

func (b *BlueskyFetcher) Name() string { return config.FeedBluesky }

func (b *BlueskyFetcher) Kind() config.SourceKind { return config.KindDiscussion }

type bskySearch struct {
	Cursor string     `json:"cursor"`
	Posts  []bskyPost `json:"posts"`
}

type bskyPost struct {
	URI    string `json:"uri"`
	Author struct {
		Handle string `json:"handle"`
	} `json:"author"`
	Record struct {
		Text      string `json:"text"`
		CreatedAt string `json:"createdAt"`
	} `json:"record"`
	ReplyCount *int64 `json:"replyCount"`
	LikeCount  *int64 `json:"likeCount"`
	IndexedAt  string `json:"indexedAt"`
	Labels     []struct {
		Val string `json:"val"`
	} `json:"labels"`
}

func (b *BlueskyFetcher) Fetch(ctx context.Context, src config.Source) ([]RawItem, error) {
	limit := src.Limit
	if limit <= 0 {
		limit = blueskyDefaultLimit
	}

	if err := b.authorize(ctx); err != nil {
		return nil, unavailable(src.Name(), err)
	}

	endpoint := strings.TrimRight(b.cfg.BaseURL, "/") + "/app.bsky.feed.searchPosts"
	items := make([]RawItem, 0, limit)
	cursor := ""
	for len(items) < limit {
		query := map[string]string{
			"q":     src.ID,
			"limit": strconv.Itoa(min(blueskyPageSize, limit-len(items))),
			"sort":  "latest",
		}
		if cursor != "" {
			query["cursor"] = cursor
		}

		var page bskySearch
		if err := getJSON(ctx, b.client, endpoint, query, &page); err != nil {
			return nil, unavailable(src.Name(), fmt.Errorf("search %q: %w", src.ID, err))
		}
		for _, p := range page.Posts {
			item := p.discussion(src.ID)
			if item.Excluded() {
				continue
			}
			items = append(items, item)
			if len(items) >= limit {
				break
			}
		}

		cursor = page.Cursor
		if cursor == "" || len(page.Posts) == 0 {
			break
		}
	}

	b.log.WithFields(logrus.Fields{"source": src.Name(), "items": len(items)}).Info("bluesky fetched")
	return items, nil
}

// authorize 会话有效期内复用 accessJwt
func (b *BlueskyFetcher) authorize(ctx context.Context) error {
	if !b.cfg.Authenticated() {
		return errors.New("bluesky credentials not configured")
	}
	if b.token != "" && b.now().Before(b.tokenExpiry) {
		return nil
	}

	resp, err := b.auth.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{"identifier": b.cfg.Identifier, "password": b.cfg.AppPassword}).
		Post(strings.TrimRight(b.cfg.BaseURL, "/") + "/com.atproto.server.createSession")
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	var session struct {
		AccessJwt string `json:"accessJwt"`
		Error     string `json:"error"`
		Message   string `json:"message"`
	}
	// 错误响应同样是 JSON，解码失败时只报状态码
	_ = json.Unmarshal(resp.Body(), &session)
	if resp.IsError() {
		return fmt.Errorf("create session: unexpected status %d %s", resp.StatusCode(), firstNonEmpty(session.Message, session.Error))
	}
	if session.AccessJwt == "" {
		return errors.New("create session: empty access token")
	}

	b.token = session.AccessJwt
	b.tokenExpiry = b.now().Add(blueskySessionTTL)
	b.client.SetAuthToken(b.token)
	return nil
}

func (p bskyPost) discussion(query string) *DiscussionItem {
	rkey := p.URI[strings.LastIndex(p.URI, "/")+1:]
	link := ""
	if p.Author.Handle != "" && rkey != "" {
		link = fmt.Sprintf("https://bsky.app/profile/%s/post/%s", p.Author.Handle, rkey)
	}
	return &DiscussionItem{
		ID:        p.URI,
		Community: query,
		Type:      TypePost,
		Body:      p.Record.Text,
		URL:       link,
		Author:    p.Author.Handle,
		CreatedAt: parseRFC3339(firstNonEmpty(p.Record.CreatedAt, p.IndexedAt)),
		Score:     p.LikeCount,
		Comments:  p.ReplyCount,
		Removed:   p.hidden(),
		Deleted:   p.URI == "",
	}
}

// hidden 带 !hide / !takedown 等以 ! 开头的审核标签
func (p bskyPost) hidden() bool {
	for _, l := range p.Labels {
		if strings.HasPrefix(l.Val, "!") {
			return true
		}
	}
	return false
}

func parseRFC3339(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
