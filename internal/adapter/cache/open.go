// Package cache 提供磁盘持久化的仓库数据缓存
package cache

import (
	"context"
	"fmt"

	"classifyhub/internal/config"
	"classifyhub/internal/port"
)

// Open 根据配置选择缓存后端
func Open(ctx context.Context, cfg *config.Config) (port.CacheStore, error) {
	switch cfg.Cache.Driver {
	case "", "sqlite":
		return OpenSQLite(cfg.SQLitePath())
	case "postgres":
		return OpenPostgres(cfg.Cache.DSN)
	case "redis":
		return OpenRedis(ctx, cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB)
	default:
		return nil, fmt.Errorf("未知的缓存驱动: %q", cfg.Cache.Driver)
	}
}
