package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/LJTian/MarketPulse/internal/config"
)

const (
	redditDefaultLimit = 50
	redditPageSize     = 100
	redditCommentLimit = 20
	// token 提前一分钟视为过期
	redditTokenSkew = time.Minute
)

// RedditFetcher 抓取 subreddit 热门帖子以及高分帖子下的评论
type RedditFetcher struct {
	cfg    config.RedditConfig
	client *resty.Client
	// 仅用于换取 token，避免与 Bearer 头互相覆盖
	auth *resty.Client
	log  logrus.FieldLogger
	now  func() time.Time
	// 为 nil 时所有帖子都可作为评论来源
	keep PostFilter

	token       string
	tokenExpiry time.Time
}

func NewRedditFetcher(cfg config.RedditConfig, timeout time.Duration, log logrus.FieldLogger) *RedditFetcher {
	return &RedditFetcher{
		cfg:    cfg,
		client: newRateLimitedClient(timeout, cfg.UserAgent, cfg.RequestsPerSecond),
		auth:   resty.New().SetTimeout(timeout).SetHeader("User-Agent", cfg.UserAgent),
		log:    log.WithField("feed", config.FeedReddit),
		now:    time.Now,
	}
}

// WithCommentFilter 只从通过 keep 的帖子中挑选分数最高的若干个抓取评论
func (r *RedditFetcher) WithCommentFilter(keep PostFilter) *RedditFetcher {
	r.keep = keep
	return r
}

func (r *RedditFetcher) Name() string { return config.FeedReddit }

func (r *RedditFetcher) Kind() config.SourceKind { return config.KindDiscussion }

type redditListing struct {
	Kind string `json:"kind"`
	Data struct {
		After    string        `json:"after"`
		Children []redditThing `json:"children"`
	} `json:"data"`
}

type redditThing struct {
	Kind string     `json:"kind"`
	Data redditData `json:"data"`
}

// 帖子 (t3) 与评论 (t1) 共用的字段
type redditData struct {
	ID                string              `json:"id"`
	Name              string              `json:"name"`
	Subreddit         string              `json:"subreddit"`
	Title             string              `json:"title"`
	Selftext          string              `json:"selftext"`
	Body              string              `json:"body"`
	URL               string              `json:"url"`
	Permalink         string              `json:"permalink"`
	Author            string              `json:"author"`
	LinkFlairText     string              `json:"link_flair_text"`
	LinkID            string              `json:"link_id"`
	Score             *int64              `json:"score"`
	UpvoteRatio       decimal.NullDecimal `json:"upvote_ratio"`
	NumComments       *int64              `json:"num_comments"`
	CreatedUTC        float64             `json:"created_utc"`
	Stickied          bool                `json:"stickied"`
	Pinned            bool                `json:"pinned"`
	RemovedByCategory *string             `json:"removed_by_category"`
}

func (r *RedditFetcher) Fetch(ctx context.Context, src config.Source) ([]RawItem, error) {
	limit := src.Limit
	if limit <= 0 {
		limit = redditDefaultLimit
	}

	base, err := r.authorize(ctx)
	if err != nil {
		return nil, unavailable(src.Name(), err)
	}

	posts, err := r.hotPosts(ctx, base, src.ID, limit)
	if err != nil {
		return nil, unavailable(src.Name(), err)
	}

	items := make([]RawItem, 0, len(posts))
	for _, p := range posts {
		items = append(items, p)
	}

	candidates := posts
	if r.keep != nil {
		candidates = make([]*DiscussionItem, 0, len(posts))
		for _, p := range posts {
			if r.keep(src, p) {
				candidates = append(candidates, p)
			}
		}
	}

	for _, p := range topByScore(candidates, src.Comments) {
		comments, err := r.comments(ctx, base, p)
		if err != nil {
			// 单个帖子的评论失败不影响整个数据源
			r.log.WithError(err).WithField("post", p.ID).Warn("fetch comments failed")
			continue
		}
		items = append(items, comments...)
	}

	r.log.WithFields(logrus.Fields{
		"source": src.Name(),
		"posts":  len(posts),
		"items":  len(items),
	}).Info("reddit fetched")
	return items, nil
}

// authorize 配置了凭据时走 OAuth（client credentials），否则使用公开 JSON 接口
func (r *RedditFetcher) authorize(ctx context.Context) (string, error) {
	if !r.cfg.Authenticated() {
		return strings.TrimRight(r.cfg.BaseURL, "/"), nil
	}
	oauth := strings.TrimRight(r.cfg.OAuthURL, "/")
	if r.token != "" && r.now().Before(r.tokenExpiry) {
		return oauth, nil
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
		Error       string `json:"error"`
	}
	resp, err := r.auth.R().
		SetContext(ctx).
		SetBasicAuth(r.cfg.ClientID, r.cfg.ClientSecret).
		SetFormData(map[string]string{"grant_type": "client_credentials"}).
		Post(r.cfg.AuthURL)
	if err != nil {
		return "", fmt.Errorf("request token: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("request token: unexpected status %d", resp.StatusCode())
	}
	if err := json.Unmarshal(resp.Body(), &tok); err != nil {
		return "", fmt.Errorf("decode token: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("request token: %s", firstNonEmpty(tok.Error, "empty access token"))
	}

	r.token = tok.AccessToken
	r.tokenExpiry = r.now().Add(time.Duration(tok.ExpiresIn)*time.Second - redditTokenSkew)
	r.client.SetAuthToken(r.token)
	return oauth, nil
}

func (r *RedditFetcher) hotPosts(ctx context.Context, base, community string, limit int) ([]*DiscussionItem, error) {
	endpoint := fmt.Sprintf("%s/r/%s/hot.json", base, url.PathEscape(community))

	out := make([]*DiscussionItem, 0, limit)
	after := ""
	for len(out) < limit {
		query := map[string]string{
			"limit":    strconv.Itoa(min(redditPageSize, limit-len(out))),
			"raw_json": "1",
		}
		if after != "" {
			query["after"] = after
		}

		var listing redditListing
		if err := getJSON(ctx, r.client, endpoint, query, &listing); err != nil {
			return nil, fmt.Errorf("hot listing r/%s: %w", community, err)
		}

		for _, child := range listing.Data.Children {
			if child.Kind != "t3" {
				continue
			}
			item := child.Data.post()
			if item.Excluded() {
				continue
			}
			out = append(out, item)
			if len(out) >= limit {
				break
			}
		}

		after = listing.Data.After
		if after == "" || len(listing.Data.Children) == 0 {
			break
		}
	}
	return out, nil
}

func (r *RedditFetcher) comments(ctx context.Context, base string, post *DiscussionItem) ([]RawItem, error) {
	endpoint := fmt.Sprintf("%s/r/%s/comments/%s.json",
		base, url.PathEscape(post.Community), url.PathEscape(strings.TrimPrefix(post.ID, "t3_")))
	query := map[string]string{
		"limit":    strconv.Itoa(redditCommentLimit),
		"depth":    "1",
		"sort":     "top",
		"raw_json": "1",
	}

	// 返回 [帖子 listing, 评论 listing]
	var listings []redditListing
	if err := getJSON(ctx, r.client, endpoint, query, &listings); err != nil {
		return nil, err
	}
	if len(listings) < 2 {
		return nil, nil
	}

	out := make([]RawItem, 0, len(listings[1].Data.Children))
	for _, child := range listings[1].Data.Children {
		// "more" 占位不展开
		if child.Kind != "t1" {
			continue
		}
		c := child.Data.comment(post.ID)
		if c.Excluded() {
			continue
		}
		out = append(out, c)
		if len(out) >= redditCommentLimit {
			break
		}
	}
	return out, nil
}

func (d redditData) post() *DiscussionItem {
	return &DiscussionItem{
		ID:        fullname(d.Name, "t3_", d.ID),
		Community: d.Subreddit,
		Type:      TypePost,
		Title:     d.Title,
		Body:      d.Selftext,
		URL:       d.URL,
		Author:    d.Author,
		Flair:     d.LinkFlairText,
		CreatedAt: unixSeconds(d.CreatedUTC),
		Score:     d.Score,
		Ratio:     d.UpvoteRatio,
		Comments:  d.NumComments,
		Removed:   isRemoved(d.RemovedByCategory, d.Selftext),
		Deleted:   d.Selftext == "[deleted]",
		Pinned:    d.Stickied || d.Pinned,
	}
}

func (d redditData) comment(postID string) *DiscussionItem {
	link := ""
	if d.Permalink != "" {
		link = "https://www.reddit.com" + d.Permalink
	}
	return &DiscussionItem{
		ID:        fullname(d.Name, "t1_", d.ID),
		Community: d.Subreddit,
		Type:      TypeComment,
		Body:      d.Body,
		URL:       link,
		Author:    d.Author,
		ParentID:  firstNonEmpty(d.LinkID, postID),
		CreatedAt: unixSeconds(d.CreatedUTC),
		Score:     d.Score,
		Removed:   isRemoved(d.RemovedByCategory, d.Body),
		Deleted:   d.Body == "[deleted]",
		Pinned:    d.Stickied,
	}
}

func isRemoved(category *string, text string) bool {
	return (category != nil && *category != "") || text == "[removed]"
}

// topByScore 取分数最高的 n 个帖子，分数相同保持原顺序
func topByScore(posts []*DiscussionItem, n int) []*DiscussionItem {
	if n <= 0 || len(posts) == 0 {
		return nil
	}
	sorted := append([]*DiscussionItem(nil), posts...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return scoreOf(sorted[i]) > scoreOf(sorted[j])
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

func scoreOf(d *DiscussionItem) int64 {
	if d.Score == nil {
		return 0
	}
	return *d.Score
}

func fullname(name, prefix, id string) string {
	if name != "" {
		return name
	}
	return prefix + id
}

func unixSeconds(f float64) time.Time {
	if f <= 0 {
		return time.Time{}
	}
	return time.Unix(int64(f), 0).UTC()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
