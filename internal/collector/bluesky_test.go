package collector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/LJTian/MarketPulse/internal/config"
	"github.com/LJTian/MarketPulse/internal/logger"
)

const bskyPage1 = `{"cursor":"c1","posts":[
 {"uri":"at://did:plc:alice/app.bsky.feed.post/3kaa","author":{"handle":"alice.bsky.social"},"record":{"text":"Bitcoin breaks out","createdAt":"2026-10-17T08:00:00.000Z"},"replyCount":4,"likeCount":40},
 {"uri":"at://did:plc:spam/app.bsky.feed.post/3kbb","author":{"handle":"spam.bsky.social"},"record":{"text":"buy now","createdAt":"2026-10-17T08:01:00.000Z"},"likeCount":1,"labels":[{"val":"!hide"}]}
]}`

const bskyPage2 = `{"posts":[
 {"uri":"at://did:plc:bob/app.bsky.feed.post/3kcc","author":{"handle":"bob.bsky.social"},"record":{"text":"btc dip"},"indexedAt":"2026-10-17T09:00:00Z","replyCount":0,"likeCount":0}
]}`

func newBlueskyServer(t *testing.T, sessions, searches *int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/xrpc/com.atproto.server.createSession", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(sessions, 1)
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		if r.Method != http.MethodPost || body["identifier"] != "me.bsky.social" || body["password"] != "app-pass" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"AuthenticationRequired","message":"Invalid identifier or password"}`))
			return
		}
		_, _ = w.Write([]byte(`{"accessJwt":"jwt","refreshJwt":"refresh","handle":"me.bsky.social"}`))
	})
	mux.HandleFunc("/xrpc/app.bsky.feed.searchPosts", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(searches, 1)
		if r.Header.Get("Authorization") != "Bearer jwt" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("q") != "bitcoin" || r.URL.Query().Get("sort") != "latest" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("cursor") == "c1" {
			_, _ = w.Write([]byte(bskyPage2))
			return
		}
		_, _ = w.Write([]byte(bskyPage1))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testBlueskyConfig(base string) config.BlueskyConfig {
	return config.BlueskyConfig{
		Identifier:        "me.bsky.social",
		AppPassword:       "app-pass",
		BaseURL:           base + "/xrpc",
		RequestsPerSecond: 1000,
	}
}

func TestBlueskyFetch(t *testing.T) {
	var sessions, searches int32
	srv := newBlueskyServer(t, &sessions, &searches)

	f := NewBlueskyFetcher(testBlueskyConfig(srv.URL), 5*time.Second, logger.Discard())
	src := config.Source{Feed: config.FeedBluesky, ID: "bitcoin", Limit: 10}
	items, err := f.Fetch(context.Background(), src)
	require.NoError(t, err)
	require.Equal(t, int32(2), atomic.LoadInt32(&searches))

	// 带审核标签的帖子被过滤
	require.Len(t, items, 2)

	first := items[0].(*DiscussionItem)
	require.Equal(t, "at://did:plc:alice/app.bsky.feed.post/3kaa", first.ID)
	require.Equal(t, "bitcoin", first.Community)
	require.Equal(t, TypePost, first.Type)
	require.Equal(t, "Bitcoin breaks out", first.Body)
	require.Equal(t, "https://bsky.app/profile/alice.bsky.social/post/3kaa", first.URL)
	require.Equal(t, "alice.bsky.social", first.Author)
	require.Equal(t, int64(40), *first.Score)
	require.Equal(t, int64(4), *first.Comments)
	require.Equal(t, time.Date(2026, 10, 17, 8, 0, 0, 0, time.UTC), first.CreatedAt)

	second := items[1].(*DiscussionItem)
	require.Equal(t, time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC), second.CreatedAt)
	require.Equal(t, int64(0), *second.Score)

	// 会话复用
	_, err = f.Fetch(context.Background(), src)
	require.NoError(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&sessions))
}

func TestBlueskyFetchRespectsLimit(t *testing.T) {
	var sessions, searches int32
	srv := newBlueskyServer(t, &sessions, &searches)

	f := NewBlueskyFetcher(testBlueskyConfig(srv.URL), 5*time.Second, logger.Discard())
	items, err := f.Fetch(context.Background(), config.Source{Feed: config.FeedBluesky, ID: "bitcoin", Limit: 1})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, int32(1), atomic.LoadInt32(&searches))
}

func TestBlueskyFetchUnavailable(t *testing.T) {
	var sessions, searches int32
	srv := newBlueskyServer(t, &sessions, &searches)
	src := config.Source{Feed: config.FeedBluesky, ID: "bitcoin"}

	tests := []struct {
		name string
		cfg  config.BlueskyConfig
	}{
		{name: "no credentials", cfg: config.BlueskyConfig{BaseURL: srv.URL + "/xrpc", RequestsPerSecond: 1000}},
		{name: "bad password", cfg: func() config.BlueskyConfig {
			c := testBlueskyConfig(srv.URL)
			c.AppPassword = "wrong"
			return c
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBlueskyFetcher(tt.cfg, 5*time.Second, logger.Discard()).Fetch(context.Background(), src)
			require.ErrorIs(t, err, ErrSourceUnavailable)
		})
	}
	require.Zero(t, atomic.LoadInt32(&searches))
}
