package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const seenKeyPrefix = "marketpulse:seen:"

// DefaultSeenTTL 默认去重窗口 7 天
const DefaultSeenTTL = 7 * 24 * time.Hour

// SeenStore 记录最近上传过的记录 ID，用于跨批次去重；过期时间即去重窗口
type SeenStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewSeenStore ttl 不为正时使用 DefaultSeenTTL，key 必须带过期时间
func NewSeenStore(rdb *redis.Client, ttl time.Duration) *SeenStore {
	if ttl <= 0 {
		ttl = DefaultSeenTTL
	}
	return &SeenStore{rdb: rdb, ttl: ttl}
}

// Seen 返回 ids 中已在窗口内出现过的集合
func (s *SeenStore) Seen(ctx context.Context, ids []string) (map[string]bool, error) {
	out := make(map[string]bool)
	if len(ids) == 0 {
		return out, nil
	}

	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.IntCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Exists(ctx, seenKeyPrefix+id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("check seen ids: %w", err)
	}
	for i, cmd := range cmds {
		if cmd.Val() > 0 {
			out[ids[i]] = true
		}
	}
	return out, nil
}

// Mark 标记 ids 为已上传，窗口从本次开始重新计算
func (s *SeenStore) Mark(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pipe := s.rdb.Pipeline()
	for _, id := range ids {
		pipe.Set(ctx, seenKeyPrefix+id, 1, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mark seen ids: %w", err)
	}
	return nil
}
