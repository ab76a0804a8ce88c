package cache

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// StoreConfig selects and configures a backend.
type StoreConfig struct {
	Backend   string // memory, file or redis
	MaxItems  int
	Dir       string
	RedisAddr string
	RedisPass string
	RedisDB   int
	Prefix    string
	Retention time.Duration
}

// NewStore builds the backend named by cfg.Backend. An empty backend means memory.
func NewStore(cfg StoreConfig) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "memory":
		return NewMemoryStore(cfg.MaxItems), nil
	case "file":
		return NewFileStore(cfg.Dir)
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("redis cache: empty address")
		}
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPass,
			DB:       cfg.RedisDB,
		})
		return NewRedisStore(client, cfg.Prefix, cfg.Retention), nil
	}
	return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
}
