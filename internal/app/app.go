package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/LJTian/MarketPulse/internal/collector"
	"github.com/LJTian/MarketPulse/internal/config"
	"github.com/LJTian/MarketPulse/internal/coordinator"
	"github.com/LJTian/MarketPulse/internal/notify"
	"github.com/LJTian/MarketPulse/internal/processor"
	"github.com/LJTian/MarketPulse/internal/storage"
)

// App cmd/collect 与 cmd/api 共用的组件装配结果
type App struct {
	Sources     []config.Source
	Coordinator *coordinator.Coordinator
	// 未配置 POSTGRES_DSN 时为 nil
	Store *storage.Store

	closers []func() error
	log     logrus.FieldLogger
}

// Build 按配置装配采集器、处理器、上传器以及可选的 Redis / Postgres / Kafka
func Build(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*App, error) {
	sources, err := config.LoadSources(cfg.SourcesFile)
	if err != nil {
		return nil, err
	}
	defaults, err := config.DefaultSources()
	if err != nil {
		return nil, err
	}

	uploader, err := newUploader(ctx, cfg)
	if err != nil {
		return nil, err
	}

	a := &App{Sources: sources, log: log}
	var opts []coordinator.Option

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = storage.NewRedisClient(cfg.RedisAddr, log)
		a.closers = append(a.closers, rdb.Close)
	}
	if seen := seenStore(cfg, rdb); seen != nil {
		opts = append(opts, coordinator.WithSeenStore(seen))
	}

	if cfg.PostgresDSN != "" {
		store, err := storage.NewStore(cfg.PostgresDSN, rdb, log)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Store = store
		a.closers = append(a.closers, store.Close)
		opts = append(opts, coordinator.WithLedger(store))
	}

	if len(cfg.KafkaBrokers) > 0 {
		pub := notify.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, log)
		a.closers = append(a.closers, pub.Close)
		opts = append(opts, coordinator.WithNotifier(pub))
	}

	p := processor.New(processor.NewCategoryMap(defaults, sources), cfg.UnmappedPolicy, cfg.MaxTextLength, log)
	a.Coordinator = coordinator.New(
		NewRegistry(cfg, p.KeepsPost, log),
		p,
		uploader,
		coordinator.Options{CollectionPrefix: cfg.CollectionPrefix, ArtifactPrefix: cfg.ArtifactPrefix},
		log,
		opts...,
	)

	log.WithFields(logrus.Fields{
		"sources": len(sources),
		"storage": cfg.StorageBackend,
		"ledger":  a.Store != nil,
		"dedupe":  cfg.DedupeEnabled,
		"notify":  len(cfg.KafkaBrokers) > 0,
	}).Info("collector assembled")
	return a, nil
}

// NewRegistry 注册全部内置采集器；keep 决定 Reddit 从哪些帖子抓取评论，可为 nil
func NewRegistry(cfg *config.Config, keep collector.PostFilter, log logrus.FieldLogger) collector.Registry {
	return collector.NewRegistry(
		collector.NewRedditFetcher(cfg.Reddit, cfg.HTTPTimeout, log).WithCommentFilter(keep),
		collector.NewHackerNewsFetcher(cfg.HackerNews, cfg.HTTPTimeout, log),
		collector.NewBlueskyFetcher(cfg.Bluesky, cfg.HTTPTimeout, log),
		collector.NewCoinGeckoFetcher(cfg.Prices, cfg.HTTPTimeout, log),
		collector.NewYahooFetcher(cfg.Prices, cfg.HTTPTimeout, log),
		collector.NewFearGreedFetcher(cfg.Prices, cfg.HTTPTimeout, log),
	)
}

// seenStore 跨批次去重需显式开启；只配置 Redis 时仅用作台账缓存
func seenStore(cfg *config.Config, rdb *redis.Client) coordinator.SeenStore {
	if !cfg.DedupeEnabled || rdb == nil {
		return nil
	}
	return storage.NewSeenStore(rdb, cfg.DedupeTTL)
}

func newUploader(ctx context.Context, cfg *config.Config) (storage.Uploader, error) {
	switch cfg.StorageBackend {
	case config.StorageLocal:
		return storage.NewLocalUploader(cfg.LocalOutputDir), nil
	case config.StorageS3:
		return storage.NewS3Uploader(ctx, cfg.S3Bucket, cfg.S3Region, cfg.S3Endpoint)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

// Close 关闭 Redis / Postgres / Kafka 等连接，错误只记日志
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.WithError(err).Warn("close resource failed")
		}
	}
	a.closers = nil
}
