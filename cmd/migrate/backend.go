package main

import (
	"context"
	"fmt"

	"github.com/mirajehossain/datamigratex/internal/config"
	"github.com/mirajehossain/datamigratex/internal/db"
	"github.com/mirajehossain/datamigratex/internal/store"
	"github.com/mirajehossain/datamigratex/internal/store/memory"
	"github.com/mirajehossain/datamigratex/internal/store/redisstore"
	"github.com/mirajehossain/datamigratex/internal/store/sqlstore"
)

// openStore connects the configured backend. The returned func releases it.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	switch cfg.Backend {
	case "memory":
		return memory.New(), func() {}, nil
	case "mysql", "postgres", "sqlite":
		database, err := db.Open(cfg.Backend, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		dialect, err := sqlstore.DialectFor(cfg.Backend)
		if err != nil {
			_ = database.Close()
			return nil, nil, err
		}
		return sqlstore.New(database, dialect), func() { _ = database.Close() }, nil
	case "redis":
		rs, err := redisstore.Connect(ctx, redisstore.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})
		if err != nil {
			return nil, nil, err
		}
		return rs, func() { _ = rs.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unsupported backend %q", cfg.Backend)
}
