package storage

import (
	"fmt"

	"github.com/cardioscan/backend/internal/storage/kv"
	"github.com/cardioscan/backend/internal/storage/redis"
	"github.com/cardioscan/backend/internal/storage/sqlite"
	"github.com/cardioscan/backend/pkg/config"
)

// Open returns the kv.Store selected by storage.driver.
func Open(cfg *config.Config) (kv.Store, error) {
	switch cfg.Storage.Driver {
	case "sqlite":
		client, err := sqlite.NewClient(cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		if err := client.InitSchema(); err != nil {
			client.Close()
			return nil, err
		}
		return client, nil
	case "redis":
		return redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
	case "memory":
		return kv.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}
