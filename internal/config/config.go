package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// 未映射社区的处理策略
const (
	UnmappedDefault = "default"
	UnmappedDrop    = "drop"
)

// 存储后端
const (
	StorageS3    = "s3"
	StorageLocal = "local"
)

// Config 运行所需的全部配置，由调用方显式传入各组件，不使用全局状态
type Config struct {
	AppPort  string
	CronSpec string
	// 单次采集的最长时间，0 表示不限制
	RunTimeout time.Duration
	// 均非空时 API 启用 Basic Auth（/health 除外）
	BasicAuthUser string
	BasicAuthPass string

	LogLevel  string
	LogFormat string

	SourcesFile      string
	CollectionPrefix string
	ArtifactPrefix   string
	MaxTextLength    int
	UnmappedPolicy   string

	StorageBackend string
	S3Bucket       string
	S3Region       string
	S3Endpoint     string
	LocalOutputDir string

	Reddit     RedditConfig
	HackerNews HackerNewsConfig
	Bluesky    BlueskyConfig
	Prices     PriceConfig

	HTTPTimeout time.Duration

	// 为空时不启用运行记录 / 通知；Redis 同时用作台账列表缓存
	PostgresDSN string
	RedisAddr   string
	// 跨批次去重需显式开启并依赖 Redis；开启后相同输入的两次采集结果不再相同
	DedupeEnabled bool
	DedupeTTL     time.Duration
	KafkaBrokers  []string
	KafkaTopic    string
}

type RedditConfig struct {
	ClientID     string
	ClientSecret string
	UserAgent    string
	BaseURL      string
	OAuthURL     string
	AuthURL      string
	// 每秒请求数，交给 x/time/rate 控制
	RequestsPerSecond float64
}

// Authenticated 是否配置了 Reddit 应用凭据（未配置时走公开 JSON 接口）
func (r RedditConfig) Authenticated() bool {
	return r.ClientID != "" && r.ClientSecret != ""
}

type HackerNewsConfig struct {
	BaseURL           string
	RequestsPerSecond float64
}

// BlueskyConfig 使用 app password 创建会话后按关键词搜索帖子
type BlueskyConfig struct {
	Identifier  string
	AppPassword string
	BaseURL     string
	// 搜索接口额度较低，默认每两秒一次
	RequestsPerSecond float64
}

func (b BlueskyConfig) Authenticated() bool {
	return b.Identifier != "" && b.AppPassword != ""
}

type PriceConfig struct {
	CoinGeckoURL string
	YahooURL     string
	FearGreedURL string
	// 同一域名两次请求之间的间隔，由 colly LimitRule 执行
	RequestDelay time.Duration
}

// Load 从环境变量读取配置并校验
func Load() (*Config, error) {
	cfg := &Config{
		AppPort:  getEnv("APP_PORT", "9000"),
		CronSpec: getEnv("CRON_SPEC", "0 */6 * * *"),

		RunTimeout:    getDuration("RUN_TIMEOUT", "30m"),
		BasicAuthUser: getEnv("APP_BASIC_USER", ""),
		BasicAuthPass: getEnv("APP_BASIC_PASS", ""),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		SourcesFile:      getEnv("SOURCES_FILE", ""),
		CollectionPrefix: getEnv("COLLECTION_PREFIX", "market_sentiment"),
		ArtifactPrefix:   strings.Trim(getEnv("ARTIFACT_PREFIX", "raw-data"), "/"),
		MaxTextLength:    getInt("MAX_TEXT_LENGTH", 2000),
		UnmappedPolicy:   strings.ToLower(getEnv("UNMAPPED_POLICY", UnmappedDefault)),

		StorageBackend: strings.ToLower(getEnv("STORAGE_BACKEND", StorageS3)),
		S3Bucket:       getEnv("S3_BUCKET_NAME", ""),
		S3Region:       getEnv("AWS_REGION", "us-west-2"),
		S3Endpoint:     getEnv("S3_ENDPOINT", ""),
		LocalOutputDir: getEnv("LOCAL_OUTPUT_DIR", "./out"),

		Reddit: RedditConfig{
			ClientID:          getEnv("REDDIT_CLIENT_ID", ""),
			ClientSecret:      getEnv("REDDIT_CLIENT_SECRET", ""),
			UserAgent:         getEnv("REDDIT_USER_AGENT", "MarketPulse/1.0"),
			BaseURL:           getEnv("REDDIT_BASE_URL", "https://www.reddit.com"),
			OAuthURL:          getEnv("REDDIT_OAUTH_URL", "https://oauth.reddit.com"),
			AuthURL:           getEnv("REDDIT_AUTH_URL", "https://www.reddit.com/api/v1/access_token"),
			RequestsPerSecond: getFloat("REDDIT_RPS", 1),
		},
		HackerNews: HackerNewsConfig{
			BaseURL:           getEnv("HACKERNEWS_BASE_URL", "https://hacker-news.firebaseio.com/v0"),
			RequestsPerSecond: getFloat("HACKERNEWS_RPS", 5),
		},
		Bluesky: BlueskyConfig{
			Identifier:        getEnv("BLUESKY_USERNAME", ""),
			AppPassword:       getEnv("BLUESKY_APP_PASSWORD", ""),
			BaseURL:           getEnv("BLUESKY_BASE_URL", "https://bsky.social/xrpc"),
			RequestsPerSecond: getFloat("BLUESKY_RPS", 0.5),
		},
		Prices: PriceConfig{
			CoinGeckoURL: getEnv("COINGECKO_BASE_URL", "https://api.coingecko.com/api/v3"),
			YahooURL:     getEnv("YAHOO_BASE_URL", "https://query1.finance.yahoo.com"),
			FearGreedURL: getEnv("FEARGREED_BASE_URL", "https://api.alternative.me"),
			RequestDelay: getDuration("PRICE_REQUEST_DELAY", "2s"),
		},

		HTTPTimeout: getDuration("HTTP_TIMEOUT", "10s"),

		PostgresDSN:   getEnv("POSTGRES_DSN", ""),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		DedupeEnabled: getBool("DEDUPE_ENABLED", false),
		DedupeTTL:     getDuration("DEDUPE_TTL", "168h"),
		KafkaBrokers:  splitAndTrim(getEnv("KAFKA_BROKERS", "")),
		KafkaTopic:    getEnv("KAFKA_TOPIC", "collection_runs"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.CollectionPrefix == "" {
		return fmt.Errorf("COLLECTION_PREFIX must not be empty")
	}
	if c.MaxTextLength <= 0 {
		return fmt.Errorf("MAX_TEXT_LENGTH must be positive")
	}
	switch c.UnmappedPolicy {
	case UnmappedDefault, UnmappedDrop:
	default:
		return fmt.Errorf("UNMAPPED_POLICY must be %q or %q, got %q", UnmappedDefault, UnmappedDrop, c.UnmappedPolicy)
	}
	switch c.StorageBackend {
	case StorageS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET_NAME is required for the s3 storage backend")
		}
	case StorageLocal:
		if c.LocalOutputDir == "" {
			return fmt.Errorf("LOCAL_OUTPUT_DIR is required for the local storage backend")
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be %q or %q, got %q", StorageS3, StorageLocal, c.StorageBackend)
	}
	if c.Reddit.RequestsPerSecond <= 0 || c.HackerNews.RequestsPerSecond <= 0 || c.Bluesky.RequestsPerSecond <= 0 {
		return fmt.Errorf("REDDIT_RPS, HACKERNEWS_RPS and BLUESKY_RPS must be positive")
	}
	if c.DedupeEnabled {
		if c.RedisAddr == "" {
			return fmt.Errorf("DEDUPE_ENABLED requires REDIS_ADDR")
		}
		// TTL 为 0 的 key 永不过期，去重窗口会变成永久
		if c.DedupeTTL <= 0 {
			return fmt.Errorf("DEDUPE_TTL must be positive when dedupe is enabled")
		}
	}
	if c.Prices.RequestDelay < 0 {
		return fmt.Errorf("PRICE_REQUEST_DELAY cannot be negative")
	}
	if c.RunTimeout < 0 {
		return fmt.Errorf("RUN_TIMEOUT cannot be negative")
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be positive")
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return def
}

func getDuration(key, def string) time.Duration {
	d, err := time.ParseDuration(getEnv(key, def))
	if err != nil {
		fd, ferr := time.ParseDuration(def)
		if ferr != nil {
			panic(fmt.Sprintf("invalid fallback duration %q: %v", def, ferr))
		}
		return fd
	}
	return d
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
