package collector

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/LJTian/MarketPulse/internal/config"
)

// 常用代码到 CoinGecko coin id 的映射；数据源可用 ref 覆盖
var coinGeckoIDs = map[string]string{
	"BTC":  "bitcoin",
	"ETH":  "ethereum",
	"SOL":  "solana",
	"DOGE": "dogecoin",
}

// CoinGeckoFetcher 从 CoinGecko 免费接口拉取加密货币的美元价格、24h 涨跌与市值
type CoinGeckoFetcher struct {
	baseURL   string
	collector *colly.Collector
	log       logrus.FieldLogger
	now       func() time.Time
}

func NewCoinGeckoFetcher(cfg config.PriceConfig, timeout time.Duration, log logrus.FieldLogger) *CoinGeckoFetcher {
	return &CoinGeckoFetcher{
		baseURL:   strings.TrimRight(cfg.CoinGeckoURL, "/"),
		collector: newPriceCollector(timeout, cfg.RequestDelay),
		log:       log.WithField("feed", config.FeedCoinGecko),
		now:       time.Now,
	}
}

func (g *CoinGeckoFetcher) Name() string { return config.FeedCoinGecko }

func (g *CoinGeckoFetcher) Kind() config.SourceKind { return config.KindPrice }

type coinGeckoQuote struct {
	USD           decimal.NullDecimal `json:"usd"`
	USDMarketCap  decimal.NullDecimal `json:"usd_market_cap"`
	USD24hChange  decimal.NullDecimal `json:"usd_24h_change"`
	LastUpdatedAt int64               `json:"last_updated_at"`
}

func (g *CoinGeckoFetcher) Fetch(ctx context.Context, src config.Source) ([]RawItem, error) {
	symbol := strings.ToUpper(src.ID)
	coinID := src.Ref
	if coinID == "" {
		coinID = coinGeckoIDs[symbol]
	}
	if coinID == "" {
		coinID = strings.ToLower(src.ID)
	}

	q := url.Values{}
	q.Set("ids", coinID)
	q.Set("vs_currencies", "usd")
	q.Set("include_market_cap", "true")
	q.Set("include_24hr_change", "true")
	q.Set("include_last_updated_at", "true")
	endpoint := g.baseURL + "/simple/price?" + q.Encode()

	var data map[string]coinGeckoQuote
	if err := visitJSON(ctx, g.collector, endpoint, &data); err != nil {
		return nil, unavailable(src.Name(), err)
	}

	quote, ok := data[coinID]
	if !ok || !quote.USD.Valid {
		return nil, unavailable(src.Name(), fmt.Errorf("no usd price for %q", coinID))
	}

	// 使用接口返回的时间戳，缺失时退回当前时间
	observed := g.now().UTC()
	if quote.LastUpdatedAt > 0 {
		observed = time.Unix(quote.LastUpdatedAt, 0).UTC()
	}

	g.log.WithFields(logrus.Fields{"symbol": symbol, "price": quote.USD.Decimal.String()}).Debug("coingecko quote")
	return []RawItem{&PriceTick{
		Feed:       config.FeedCoinGecko,
		Symbol:     symbol,
		Price:      quote.USD.Decimal,
		Change24h:  quote.USD24hChange,
		MarketCap:  quote.USDMarketCap,
		URL:        endpoint,
		ObservedAt: observed,
	}}, nil
}
