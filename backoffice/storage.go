package backoffice

import (
	"context"
	"fmt"

	jsonfile "hotlympics/adapters/jsonfile"
	mem "hotlympics/adapters/memory"
	redisAdapter "hotlympics/adapters/redis"
	sqlxAdapter "hotlympics/adapters/sqlx"
	"hotlympics/config"
	"hotlympics/engine"
)

// OpenStorage creates the storage adapter named by cfg.Adapter. Adapters that
// hold connections implement io.Closer.
func OpenStorage(ctx context.Context, cfg config.StorageConfig) (engine.Storage, error) {
	switch cfg.Adapter {
	case "memory", "":
		return mem.New(mem.WithQuota(cfg.Memory.QuotaBytes)), nil
	case "redis":
		return redisAdapter.New(cfg.Redis)
	case "sql":
		return sqlxAdapter.New(ctx, cfg.SQL)
	case "file":
		return jsonfile.New(cfg.File.Path)
	default:
		return nil, fmt.Errorf("unknown storage adapter: %s", cfg.Adapter)
	}
}
