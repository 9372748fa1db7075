package store

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/aluiziolira/go-price-watch/config"
)

// OpenBackend builds the backend selected by cfg.
func OpenBackend(ctx context.Context, cfg *config.Config) (Backend, error) {
	switch cfg.StoreBackend {
	case "memory":
		return NewMemoryBackend(), nil
	case "file":
		return NewFileBackend(cfg.StorePath)
	case "sqlite":
		path := cfg.StorePath
		if filepath.Ext(path) == "" {
			path = filepath.Join(path, "pricewatch.db")
		}
		return OpenSQLite(path)
	case "redis":
		return DialRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, "pricewatch:")
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", cfg.StoreBackend)
	}
}
