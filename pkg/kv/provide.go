// pkg/kv/provide.go
package kv

import (
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/joeydtaylor/steeze-gate/pkg/config"
)

// ProvideStore picks the backend from configuration: Redis when REDIS_ADDR is
// set, otherwise the in-process Memory store.
func ProvideStore(src config.Source, log *zap.Logger) Store {
	addr := src.Get("REDIS_ADDR")
	if addr == "" {
		log.Info("kv store: in-memory (REDIS_ADDR not set)")
		return NewMemory()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: src.Get("REDIS_PASSWORD"),
		DB:       config.Int(src, "REDIS_DB", 0),
	})
	log.Info("kv store: redis", zap.String("addr", addr))
	return NewRedis(client)
}

var Module = fx.Options(
	fx.Provide(ProvideStore),
)
