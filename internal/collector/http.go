package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gocolly/colly/v2"
	"golang.org/x/time/rate"
)

const userAgent = "MarketPulse/1.0"

// newRateLimitedClient 返回一个每次请求前先等待限流器的 resty 客户端；限流完全交给 x/time/rate
func newRateLimitedClient(timeout time.Duration, ua string, rps float64) *resty.Client {
	limiter := rate.NewLimiter(rate.Limit(rps), 1)

	client := resty.New().
		SetTimeout(timeout).
		SetHeader("User-Agent", ua).
		SetHeader("Accept", "application/json")
	client.OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
		return limiter.Wait(r.Context())
	})
	return client
}

// getJSON 发起 GET 并解码 JSON 响应；非 2xx 视为错误
func getJSON(ctx context.Context, client *resty.Client, url string, query map[string]string, out any) error {
	req := client.R().SetContext(ctx)
	if len(query) > 0 {
		req.SetQueryParams(query)
	}
	resp, err := req.Get(url)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("unexpected status %d", resp.StatusCode())
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// newPriceCollector 行情接口共用的 colly 采集器。同域请求间隔由 LimitRule 控制，
// Clone 出来的采集器共享同一个 backend，因此间隔在多个数据源之间同样生效。
func newPriceCollector(timeout, delay time.Duration) *colly.Collector {
	c := colly.NewCollector(
		colly.UserAgent(userAgent),
		colly.AllowURLRevisit(),
	)
	c.SetRequestTimeout(timeout)
	if delay > 0 {
		_ = c.Limit(&colly.LimitRule{DomainGlob: "*", Delay: delay})
	}
	return c
}

// visitJSON 用 base 的克隆访问 url 并把响应体解码到 out
func visitJSON(ctx context.Context, base *colly.Collector, url string, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c := base.Clone()
	var decodeErr error
	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "application/json")
	})
	c.OnResponse(func(r *colly.Response) {
		if err := json.Unmarshal(r.Body, out); err != nil {
			decodeErr = fmt.Errorf("decode response: %w", err)
		}
	})

	if err := c.Visit(url); err != nil {
		return err
	}
	return decodeErr
}
