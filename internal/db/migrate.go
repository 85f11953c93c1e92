package db

import (
	"errors"
	"fmt"
	"time"

	"github.com/diewo77/go-prefacturation/internal/config"
	"github.com/diewo77/go-prefacturation/internal/models"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	connectAttempts = 5
	connectBackoff  = 2 * time.Second
)

// Models lists every table managed by AutoMigrate.
func Models() []any {
	return []any{
		&models.Prefacturation{},
		&models.Block{},
		&models.Dispute{},
		&models.CarrierVigilance{},
		&models.ERPExport{},
	}
}

// Connect opens the configured database, retrying to give Postgres time to start.
func Connect(cfg config.DatabaseConfig, log *zap.Logger) (*gorm.DB, error) {
	logLevel := logger.Silent
	if cfg.Debug {
		logLevel = logger.Info
	}
	gormCfg := &gorm.Config{Logger: logger.Default.LogMode(logLevel)}

	if cfg.Driver == "sqlite" {
		dsn := cfg.RawDSN
		if dsn == "" {
			dsn = "prefacturation.db"
		}
		log.Info("opening sqlite database", zap.String("path", dsn))
		return gorm.Open(sqlite.Open(dsn), gormCfg)
	}

	dsn := NormalizeDSN(cfg.DSN())
	if dsn == "" {
		return nil, errors.New("empty database DSN")
	}
	log.Info("connecting to database", zap.String("dsn", MaskDSN(dsn)))

	var db *gorm.DB
	var err error
	for i := 0; i < connectAttempts; i++ {
		db, err = gorm.Open(postgres.Open(dsn), gormCfg)
		if err == nil {
			break
		}
		log.Warn("database connection failed, retrying",
			zap.Int("attempt", i+1), zap.Int("max_attempts", connectAttempts), zap.Error(err))
		time.Sleep(connectBackoff)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect database after retries: %w", err)
	}

	// Basic connectivity test
	if pingErr := db.Exec("SELECT 1").Error; pingErr != nil {
		return nil, fmt.Errorf("db ping failed: %w", pingErr)
	}
	return db, nil
}

// Migrate runs AutoMigrate for all models.
func Migrate(db *gorm.DB) error {
	for _, m := range Models() {
		if err := db.AutoMigrate(m); err != nil {
			return fmt.Errorf("automigrate %T: %w", m, err)
		}
	}
	for _, table := range []string{"prefacturations", "blocks", "disputes", "carrier_vigilances", "erp_exports"} {
		if !db.Migrator().HasTable(table) {
			return errors.New("missing table after migration: " + table)
		}
	}
	return nil
}
