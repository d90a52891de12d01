package collector

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/LJTian/MarketPulse/internal/config"
)

// FearGreedFetcher 从 alternative.me 拉取加密市场恐惧贪婪指数，数值记为价格，分级记为标签
type FearGreedFetcher struct {
	baseURL   string
	collector *colly.Collector
	log       logrus.FieldLogger
	now       func() time.Time
}

func NewFearGreedFetcher(cfg config.PriceConfig, timeout time.Duration, log logrus.FieldLogger) *FearGreedFetcher {
	return &FearGreedFetcher{
		baseURL:   strings.TrimRight(cfg.FearGreedURL, "/"),
		collector: newPriceCollector(timeout, cfg.RequestDelay),
		log:       log.WithField("feed", config.FeedFearGreed),
		now:       time.Now,
	}
}

func (f *FearGreedFetcher) Name() string { return config.FeedFearGreed }

func (f *FearGreedFetcher) Kind() config.SourceKind { return config.KindPrice }

type fearGreedResp struct {
	Data []struct {
		Value               decimal.NullDecimal `json:"value"`
		ValueClassification string              `json:"value_classification"`
		Timestamp           string              `json:"timestamp"`
	} `json:"data"`
	Metadata struct {
		Error *string `json:"error"`
	} `json:"metadata"`
}

func (f *FearGreedFetcher) Fetch(ctx context.Context, src config.Source) ([]RawItem, error) {
	endpoint := f.baseURL + "/fng/?limit=1"

	var data fearGreedResp
	if err := visitJSON(ctx, f.collector, endpoint, &data); err != nil {
		return nil, unavailable(src.Name(), err)
	}
	if data.Metadata.Error != nil && *data.Metadata.Error != "" {
		return nil, unavailable(src.Name(), fmt.Errorf("api error: %s", *data.Metadata.Error))
	}
	if len(data.Data) == 0 || !data.Data[0].Value.Valid {
		return nil, unavailable(src.Name(), fmt.Errorf("empty index response"))
	}

	current := data.Data[0]
	observed := f.now().UTC()
	if ts, err := strconv.ParseInt(current.Timestamp, 10, 64); err == nil && ts > 0 {
		observed = time.Unix(ts, 0).UTC()
	}

	f.log.WithFields(logrus.Fields{
		"value":          current.Value.Decimal.String(),
		"classification": current.ValueClassification,
	}).Debug("fear & greed index")
	return []RawItem{&PriceTick{
		Feed:       config.FeedFearGreed,
		Symbol:     strings.ToUpper(src.ID),
		Price:      current.Value.Decimal,
		Label:      current.ValueClassification,
		URL:        endpoint,
		ObservedAt: observed,
	}}, nil
}
