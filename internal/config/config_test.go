package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGetEnvWithDefault(t *testing.T) {
	const key = "TEST_APP_PORT"

	// 环境变量未设置时，应该返回默认值
	t.Setenv(key, "")
	require.Equal(t, "9000", getEnv(key, "9000"))

	// 环境变量设置后，应优先返回环境变量
	t.Setenv(key, "8080")
	require.Equal(t, "8080", getEnv(key, "9000"))
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("S3_BUCKET_NAME", "bucket")
	t.Setenv("STORAGE_BACKEND", "")
	t.Setenv("UNMAPPED_POLICY", "")
	t.Setenv("ARTIFACT_PREFIX", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, StorageS3, cfg.StorageBackend)
	require.Equal(t, "raw-data", cfg.ArtifactPrefix)
	require.Equal(t, "market_sentiment", cfg.CollectionPrefix)
	require.Equal(t, UnmappedDefault, cfg.UnmappedPolicy)
	require.Equal(t, 168*time.Hour, cfg.DedupeTTL)
	require.Equal(t, 2*time.Second, cfg.Prices.RequestDelay)
	require.False(t, cfg.Reddit.Authenticated())
	require.Empty(t, cfg.KafkaBrokers)
	require.Equal(t, 30*time.Minute, cfg.RunTimeout)
	require.False(t, cfg.DedupeEnabled)
	require.False(t, cfg.Bluesky.Authenticated())
	require.Equal(t, "https://bsky.social/xrpc", cfg.Bluesky.BaseURL)
}

func TestLoadDedupe(t *testing.T) {
	t.Setenv("S3_BUCKET_NAME", "bucket")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	// 只配置 Redis 不会开启去重
	cfg, err := Load()
	require.NoError(t, err)
	require.False(t, cfg.DedupeEnabled)

	t.Setenv("DEDUPE_ENABLED", "true")
	t.Setenv("DEDUPE_TTL", "24h")
	cfg, err = Load()
	require.NoError(t, err)
	require.True(t, cfg.DedupeEnabled)
	require.Equal(t, 24*time.Hour, cfg.DedupeTTL)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "LOCAL")
	t.Setenv("LOCAL_OUTPUT_DIR", "/tmp/out")
	t.Setenv("ARTIFACT_PREFIX", "/raw-data/")
	t.Setenv("UNMAPPED_POLICY", "drop")
	t.Setenv("REDDIT_CLIENT_ID", "id")
	t.Setenv("REDDIT_CLIENT_SECRET", "secret")
	t.Setenv("PRICE_REQUEST_DELAY", "0s")
	t.Setenv("DEDUPE_TTL", "not-a-duration")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("MAX_TEXT_LENGTH", "140")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, StorageLocal, cfg.StorageBackend)
	require.Equal(t, "/tmp/out", cfg.LocalOutputDir)
	require.Equal(t, "raw-data", cfg.ArtifactPrefix)
	require.Equal(t, UnmappedDrop, cfg.UnmappedPolicy)
	require.True(t, cfg.Reddit.Authenticated())
	require.Zero(t, cfg.Prices.RequestDelay)
	// 非法值回退到默认
	require.Equal(t, 168*time.Hour, cfg.DedupeTTL)
	require.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	require.Equal(t, 140, cfg.MaxTextLength)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "s3 without bucket", env: map[string]string{"STORAGE_BACKEND": "s3", "S3_BUCKET_NAME": ""}},
		{name: "unknown backend", env: map[string]string{"STORAGE_BACKEND": "ftp"}},
		{name: "bad policy", env: map[string]string{"S3_BUCKET_NAME": "b", "UNMAPPED_POLICY": "guess"}},
		{name: "zero text length", env: map[string]string{"S3_BUCKET_NAME": "b", "MAX_TEXT_LENGTH": "0"}},
		{name: "zero rps", env: map[string]string{"S3_BUCKET_NAME": "b", "REDDIT_RPS": "0"}},
		{name: "zero bluesky rps", env: map[string]string{"S3_BUCKET_NAME": "b", "BLUESKY_RPS": "0"}},
		{name: "dedupe without redis", env: map[string]string{"S3_BUCKET_NAME": "b", "DEDUPE_ENABLED": "true", "REDIS_ADDR": ""}},
		{name: "dedupe zero ttl", env: map[string]string{"S3_BUCKET_NAME": "b", "DEDUPE_ENABLED": "true", "REDIS_ADDR": "localhost:6379", "DEDUPE_TTL": "0s"}},
		{name: "dedupe negative ttl", env: map[string]string{"S3_BUCKET_NAME": "b", "DEDUPE_ENABLED": "1", "REDIS_ADDR": "localhost:6379", "DEDUPE_TTL": "-1h"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
		})
	}
}

func TestLoadSourcesDefault(t *testing.T) {
	sources, err := LoadSources("")
	require.NoError(t, err)
	require.NotEmpty(t, sources)

	require.Equal(t, FeedReddit, sources[0].Feed)
	require.Equal(t, "wallstreetbets", sources[0].ID)
	require.Equal(t, KindDiscussion, sources[0].Kind)
	require.Equal(t, "US_STOCKS", sources[0].Category)

	last := sources[len(sources)-1]
	require.Equal(t, FeedFearGreed, last.Feed)
	require.Equal(t, KindPrice, last.Kind)
}

func TestLoadSourcesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sources.yaml")
	doc := `sources:
  - feed: Reddit
    id: " exampleforum "
    category: crypto
    keyword_filter: false
  - feed: coingecko
    kind: price
    id: BTC
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	sources, err := LoadSources(path)
	require.NoError(t, err)
	require.Len(t, sources, 2)

	require.Equal(t, "reddit", sources[0].Feed)
	require.Equal(t, "exampleforum", sources[0].ID)
	require.Equal(t, "CRYPTO", sources[0].Category)
	require.Equal(t, "reddit:exampleforum", sources[0].Name())
	require.False(t, sources[0].FiltersKeywords("NEWS"))

	require.Equal(t, KindPrice, sources[1].Kind)
	require.Empty(t, sources[1].Category)
}

func TestParseSourcesErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want error
	}{
		{name: "empty", doc: "sources: []", want: ErrNoSources},
		{name: "missing id", doc: "sources:\n  - feed: reddit\n", want: ErrSourceNoID},
		{name: "unknown feed", doc: "sources:\n  - feed: twitter\n    id: x\n", want: ErrUnknownFeed},
		{name: "kind mismatch", doc: "sources:\n  - feed: yahoo\n    kind: discussion\n    id: SPY\n", want: ErrKindMismatch},
		{name: "negative limit", doc: "sources:\n  - feed: reddit\n    id: a\n    limit: -1\n", want: ErrNegativeLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSources([]byte(tt.doc))
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestFiltersKeywordsDefaultsToNews(t *testing.T) {
	s := Source{Feed: FeedReddit, ID: "news"}
	require.True(t, s.FiltersKeywords("NEWS"))
	require.False(t, s.FiltersKeywords("CRYPTO"))
}
