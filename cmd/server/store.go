package main

import (
	"context"
	"fmt"

	"github.com/dtroode/staffsync/internal/config"
	"github.com/dtroode/staffsync/internal/logger"
	"github.com/dtroode/staffsync/internal/model"
	"github.com/dtroode/staffsync/internal/repository/memory"
	"github.com/dtroode/staffsync/internal/repository/postgres"
	"github.com/dtroode/staffsync/internal/repository/redis"
	"github.com/dtroode/staffsync/internal/repository/sqlite"
)

type closableStore interface {
	model.RemoteStore
	Close() error
}

func openStore(ctx context.Context, cfg *config.Config, logger *logger.Logger) (closableStore, error) {
	switch cfg.Store.Driver {
	case config.DriverMemory:
		logger.Warn("Using in-memory store, data is lost on restart")
		return memory.NewStore(), nil

	case config.DriverPostgres:
		db, err := postgres.NewConnection(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
		return postgres.NewStore(db, logger), nil

	case config.DriverRedis:
		client, err := redis.NewClient(ctx, redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, err
		}
		return redis.NewStore(client, logger), nil

	case config.DriverSQLite:
		db, err := sqlite.Open(ctx, cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		return sqlite.NewStore(db, logger, sqlite.WithPollInterval(cfg.SQLite.PollInterval)), nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
