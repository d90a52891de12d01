package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// ErrRunNotFound 运行记录不存在
var ErrRunNotFound = errors.New("run not found")

// RunRecord 一次采集的台账记录；Summary 为按数据源 / 分类的计数明细
type RunRecord struct {
	ID               string            `gorm:"primaryKey;size:36" json:"id"`
	State            string            `gorm:"size:16;index" json:"state"`
	StartedAt        time.Time         `gorm:"index" json:"startedAt"`
	FinishedAt       *time.Time        `json:"finishedAt,omitempty"`
	ArtifactPath     string            `gorm:"size:512" json:"artifactPath"`
	RecordCount      int               `json:"recordCount"`
	SourcesAttempted int               `json:"sourcesAttempted"`
	SourcesSucceeded int               `json:"sourcesSucceeded"`
	Error            string            `gorm:"size:1024" json:"error,omitempty"`
	Summary          datatypes.JSONMap `gorm:"type:jsonb" json:"summary"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

const (
	runListCacheTTL     = time.Minute
	runListVersionKey   = "runs:list:version"
	defaultRunListLimit = 20
)

// Store 运行台账：Postgres 持久化，Redis 缓存列表查询（可选）
type Store struct {
	DB    *gorm.DB
	Redis *redis.Client
	log   logrus.FieldLogger
}

func NewStore(dsn string, rdb *redis.Client, log logrus.FieldLogger) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.AutoMigrate(&RunRecord{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{DB: db, Redis: rdb, log: log}, nil
}

// Close 关闭 Postgres 连接池；Redis 由创建方关闭
func (s *Store) Close() error {
	if s.DB == nil {
		return nil
	}
	sqlDB, err := s.DB.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	return sqlDB.Close()
}

// NewRedisClient ping 失败只告警，缓存与去重在 Redis 不可用时各自降级
func NewRedisClient(addr string, log logrus.FieldLogger) *redis.Client {
	rdb := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.WithError(err).Warn("redis ping failed")
	}
	return rdb
}

// SaveRun 按 ID upsert，同一次采集的状态变化写到同一行
func (s *Store) SaveRun(ctx context.Context, rec RunRecord) error {
	if err := s.DB.WithContext(ctx).Save(&rec).Error; err != nil {
		return fmt.Errorf("save run %s: %w", rec.ID, err)
	}
	// 列表缓存 key 带版本号，写入后递增版本即可失效，无需通配删除
	if s.Redis != nil {
		if err := s.Redis.Incr(ctx, runListVersionKey).Err(); err != nil {
			s.log.WithError(err).Warn("bump run list cache version failed")
		}
	}
	return nil
}

// ListRuns 最近的运行记录，按开始时间倒序
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = defaultRunListLimit
	}

	cacheKey := s.listCacheKey(ctx, limit)
	if cacheKey != "" {
		if bs, err := s.Redis.Get(ctx, cacheKey).Bytes(); err == nil {
			var cached []RunRecord
			if err := json.Unmarshal(bs, &cached); err == nil {
				return cached, nil
			}
		}
	}

	var list []RunRecord
	if err := s.DB.WithContext(ctx).Order("started_at DESC").Limit(limit).Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	if cacheKey != "" && len(list) > 0 {
		s.cacheRuns(ctx, cacheKey, list)
	}
	return list, nil
}

// GetRun 按 ID 查询
func (s *Store) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	var rec RunRecord
	err := s.DB.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return &rec, nil
}

func (s *Store) listCacheKey(ctx context.Context, limit int) string {
	if s.Redis == nil {
		return ""
	}
	version, err := s.Redis.Get(ctx, runListVersionKey).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return ""
	}
	return fmt.Sprintf("runs:list:%d:%d", version, limit)
}

func (s *Store) cacheRuns(ctx context.Context, key string, list []RunRecord) {
	bs, err := json.Marshal(list)
	if err != nil {
		return
	}
	_ = s.Redis.Set(ctx, key, bs, runListCacheTTL).Err()
}
