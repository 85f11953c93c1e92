package main

import (
	"context"
	"fmt"

	"github.com/diewo77/go-prefacturation/internal/config"
	"github.com/diewo77/go-prefacturation/internal/db"
	"github.com/diewo77/go-prefacturation/internal/lock"
	"github.com/diewo77/go-prefacturation/internal/metrics"
	"github.com/diewo77/go-prefacturation/internal/services"
	"github.com/diewo77/go-prefacturation/internal/store"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// container holds the wired services shared by the server and the jobs.
type container struct {
	db      *gorm.DB
	log     *zap.Logger
	metrics *metrics.Metrics
	redis   *redis.Client

	prefacturations *services.PrefacturationService
	blocks          *services.BlockRegistry
	compliance      *services.ComplianceService
	disputes        *services.DisputeService
	exports         *services.ExportService
}

func newContainer(ctx context.Context, cfg *config.Config, log *zap.Logger) (*container, error) {
	conn, err := db.Connect(cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if cfg.App.Migrations {
		if err := db.Migrate(conn); err != nil {
			return nil, fmt.Errorf("migration failed: %w", err)
		}
		log.Info("migrations completed")
	}

	c := &container{db: conn, log: log, metrics: metrics.New()}

	var locker lock.Locker
	switch cfg.Lock.Backend {
	case "redis":
		c.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := c.redis.Ping(ctx).Err(); err != nil {
			c.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		locker = lock.NewRedisLocker(c.redis, cfg.Lock.Prefix, cfg.Lock.TTL)
	case "memory", "":
		locker = lock.NewMemoryLocker()
	default:
		c.Close()
		return nil, fmt.Errorf("unknown lock backend %q", cfg.Lock.Backend)
	}

	opts := []services.Option{
		services.WithLogger(log),
		services.WithMetrics(c.metrics),
		services.WithSettings(services.Settings{
			VATRate:             cfg.Billing.VATRate,
			FuelSurchargeRate:   cfg.Billing.FuelSurchargeRate,
			PaymentTermDays:     cfg.Billing.PaymentTermDays,
			AutoAcceptThreshold: cfg.Billing.AutoAcceptThreshold,
			VigilanceAlertDays:  cfg.Billing.VigilanceAlertDays,
		}),
	}
	st := store.New(conn)
	c.blocks = services.NewBlockRegistry(st, locker, opts...)
	c.prefacturations = services.NewPrefacturationService(st, locker, c.blocks, opts...)
	c.compliance = services.NewComplianceService(st, locker, opts...)
	c.disputes = services.NewDisputeService(st, locker, opts...)
	c.exports = services.NewExportService(st, locker, opts...)
	return c, nil
}

// Close releases the database and Redis connections.
func (c *container) Close() {
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			c.log.Warn("closing redis", zap.Error(err))
		}
	}
	if sqlDB, err := c.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
