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

// YahooFetcher 通过 Yahoo Finance（非官方）chart 接口拉取 ETF / 股票最新价
type YahooFetcher struct {
	baseURL   string
	collector *colly.Collector
	log       logrus.FieldLogger
	now       func() time.Time
}

func NewYahooFetcher(cfg config.PriceConfig, timeout time.Duration, log logrus.FieldLogger) *YahooFetcher {
	return &YahooFetcher{
		baseURL:   strings.TrimRight(cfg.YahooURL, "/"),
		collector: newPriceCollector(timeout, cfg.RequestDelay),
		log:       log.WithField("feed", config.FeedYahoo),
		now:       time.Now,
	}
}

func (y *YahooFetcher) Name() string { return config.FeedYahoo }

func (y *YahooFetcher) Kind() config.SourceKind { return config.KindPrice }

type yahooChart struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Currency           string              `json:"currency"`
				Symbol             string              `json:"symbol"`
				RegularMarketPrice decimal.NullDecimal `json:"regularMarketPrice"`
				PreviousClose      decimal.NullDecimal `json:"previousClose"`
				ChartPreviousClose decimal.NullDecimal `json:"chartPreviousClose"`
				RegularMarketTime  int64               `json:"regularMarketTime"`
			} `json:"meta"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func (y *YahooFetcher) Fetch(ctx context.Context, src config.Source) ([]RawItem, error) {
	symbol := strings.ToUpper(src.ID)
	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s?interval=1d&range=1d", y.baseURL, url.PathEscape(symbol))

	var chart yahooChart
	if err := visitJSON(ctx, y.collector, endpoint, &chart); err != nil {
		return nil, unavailable(src.Name(), err)
	}
	if chart.Chart.Error != nil {
		return nil, unavailable(src.Name(), fmt.Errorf("%s: %s", chart.Chart.Error.Code, chart.Chart.Error.Description))
	}
	if len(chart.Chart.Result) == 0 || !chart.Chart.Result[0].Meta.RegularMarketPrice.Valid {
		return nil, unavailable(src.Name(), fmt.Errorf("no market price for %s", symbol))
	}

	meta := chart.Chart.Result[0].Meta
	price := meta.RegularMarketPrice.Decimal

	prev := meta.PreviousClose
	if !prev.Valid {
		prev = meta.ChartPreviousClose
	}
	change := decimal.NullDecimal{}
	if prev.Valid && !prev.Decimal.IsZero() {
		change = decimal.NewNullDecimal(price.Sub(prev.Decimal).Div(prev.Decimal).Mul(decimal.NewFromInt(100)).Round(4))
	}

	observed := y.now().UTC()
	if meta.RegularMarketTime > 0 {
		observed = time.Unix(meta.RegularMarketTime, 0).UTC()
	}

	y.log.WithFields(logrus.Fields{"symbol": symbol, "price": price.String()}).Debug("yahoo quote")
	return []RawItem{&PriceTick{
		Feed:       config.FeedYahoo,
		Symbol:     symbol,
		Price:      price,
		Change24h:  change,
		URL:        endpoint,
		ObservedAt: observed,
	}}, nil
}
