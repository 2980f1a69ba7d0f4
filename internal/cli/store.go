package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/MrEthical07/goAudit/store"
	"github.com/MrEthical07/goAudit/store/memory"
	"github.com/MrEthical07/goAudit/store/postgres"
	"github.com/MrEthical07/goAudit/store/redisstore"
)

func bindStoreFlags(fs *pflag.FlagSet) {
	fs.String("store", "memory", "backend (memory, redis, postgres)")
	fs.String("redis-addr", "", "redis address; empty starts an embedded miniredis")
	fs.String("redis-prefix", redisstore.DefaultPrefix, "redis key prefix")
	fs.String("postgres-url", "", "postgres connection URL")
}

// openStore connects the configured backend. The returned cleanup releases
// it and must be called after the trail has stopped.
func openStore(ctx context.Context, v *viper.Viper, logger *zap.Logger) (store.Store, func(), error) {
	switch kind := v.GetString("store"); kind {
	case "memory", "":
		logger.Info("using in-memory store")
		return memory.New(), func() {}, nil

	case "redis":
		addr := v.GetString("redis-addr")
		var mr *miniredis.Miniredis
		if addr == "" {
			var err error
			mr, err = miniredis.Run()
			if err != nil {
				return nil, nil, fmt.Errorf("start miniredis: %w", err)
			}
			addr = mr.Addr()
			logger.Info("using miniredis", zap.String("addr", addr))
		} else {
			logger.Info("using redis", zap.String("addr", addr))
		}
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup := func() {
			_ = client.Close()
			if mr != nil {
				mr.Close()
			}
		}
		if err := client.Ping(ctx).Err(); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		return redisstore.New(client, v.GetString("redis-prefix")), cleanup, nil

	case "postgres":
		url := v.GetString("postgres-url")
		if url == "" {
			return nil, nil, errors.New("postgres-url is required for the postgres store")
		}
		st, err := postgres.Open(ctx, url)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using postgres")
		return st, st.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown store %q", kind)
	}
}
