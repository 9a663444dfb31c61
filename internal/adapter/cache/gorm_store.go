package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"classifyhub/internal/common"
	"classifyhub/internal/domain"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// cacheRecord 缓存表的一行，(owner, name) 为联合主键
type cacheRecord struct {
	Owner     string    `gorm:"primaryKey;size:255"`
	Name      string    `gorm:"primaryKey;size:255"`
	Payload   []byte    `gorm:"not null"`
	NotFound  bool      `gorm:"not null"`
	FetchedAt time.Time `gorm:"index;not null"`
}

func (cacheRecord) TableName() string {
	return "repository_cache"
}

// GormStore 实现了 port.CacheStore 接口
// 单行 upsert 保证同一个 key 的写入是原子的，读者不会看到写了一半的记录
type GormStore struct {
	db      *gorm.DB
	nowFunc func() time.Time
}

// NewGormStore 包装一个已经迁移好表结构的连接
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db, nowFunc: time.Now}
}

// OpenSQLite 打开（或创建）本地 sqlite 缓存文件并自动迁移
func OpenSQLite(path string) (*GormStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, common.WrapError(common.ErrCodeCache, "创建缓存目录失败", err)
	}
	dsn := path + "?_busy_timeout=5000&_journal_mode=WAL"
	return open(sqlite.Open(dsn))
}

// OpenPostgres 连接 postgres 缓存并自动迁移
func OpenPostgres(dsn string) (*GormStore, error) {
	return open(postgres.Open(dsn))
}

func open(dialector gorm.Dialector) (*GormStore, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, common.WrapError(common.ErrCodeCache, "连接缓存数据库失败", err)
	}
	if err := db.AutoMigrate(&cacheRecord{}); err != nil {
		return nil, common.WrapError(common.ErrCodeCache, "缓存表迁移失败", err)
	}
	return NewGormStore(db), nil
}

// Get 读取缓存，记录不存在或已超过 maxAge 时返回 ok=false
func (s *GormStore) Get(ctx context.Context, id domain.RepositoryID, maxAge time.Duration) (*domain.CacheEntry, bool, error) {
	var rec cacheRecord
	err := s.db.WithContext(ctx).
		Where("owner = ? AND name = ?", id.Owner, id.Name).
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, common.WrapError(common.ErrCodeCache, "读取缓存失败", err)
	}

	entry := &domain.CacheEntry{
		ID:        id,
		Payload:   rec.Payload,
		NotFound:  rec.NotFound,
		FetchedAt: rec.FetchedAt,
	}
	if entry.Expired(s.nowFunc(), maxAge) {
		return nil, false, nil
	}
	return entry, true, nil
}

// Put 写入或覆盖缓存记录，后写者胜出
func (s *GormStore) Put(ctx context.Context, entry *domain.CacheEntry) error {
	if entry == nil || entry.ID.IsZero() {
		return common.NewError(common.ErrCodeInvalidInput, "缓存记录缺少仓库标识")
	}
	payload := entry.Payload
	if payload == nil {
		payload = []byte{}
	}
	rec := cacheRecord{
		Owner:     entry.ID.Owner,
		Name:      entry.ID.Name,
		Payload:   payload,
		NotFound:  entry.NotFound,
		FetchedAt: entry.FetchedAt.UTC(),
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&rec).Error
	if err != nil {
		return common.WrapError(common.ErrCodeCache, fmt.Sprintf("写入缓存 %s 失败", entry.ID), err)
	}
	return nil
}

// InvalidateOlderThan 删除抓取时间早于 now-maxAge 的记录
func (s *GormStore) InvalidateOlderThan(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := s.nowFunc().Add(-maxAge).UTC()
	result := s.db.WithContext(ctx).
		Where("fetched_at < ?", cutoff).
		Delete(&cacheRecord{})
	if result.Error != nil {
		return 0, common.WrapError(common.ErrCodeCache, "清理缓存失败", result.Error)
	}
	return result.RowsAffected, nil
}

// Close 关闭底层连接
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
