// Package bootstrap 服务与命令行共用的初始化
package bootstrap

import (
	"context"
	"fmt"

	"github.com/bitfantasy/nimo-ipc/internal/config"
	"github.com/bitfantasy/nimo-ipc/internal/ipc/entity"
	"github.com/bitfantasy/nimo-ipc/internal/ipc/gateway"
	"github.com/bitfantasy/nimo-ipc/internal/ipc/repository"
	"github.com/bitfantasy/nimo-ipc/internal/ipc/service"
	"github.com/bitfantasy/nimo-ipc/internal/shared/lock"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// App 已初始化的运行时依赖
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	DB       *gorm.DB
	Redis    *redis.Client
	Services *service.Services
}

// Close 释放连接
func (a *App) Close() {
	if a.Redis != nil {
		a.Redis.Close()
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			sqlDB.Close()
		}
	}
	a.Logger.Sync()
}

// New 连接数据库与 Redis，组装网关和服务
func New(ctx context.Context, cfg *config.Config, zapLogger *zap.Logger) (*App, error) {
	db, err := InitDatabase(cfg.Database)
	if err != nil {
		return nil, err
	}
	zapLogger.Info("Database connected", zap.String("driver", db.Dialector.Name()))

	if err := entity.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	app := &App{Config: cfg, Logger: zapLogger, DB: db}
	if cfg.Redis.Host != "" {
		app.Redis = InitRedis(cfg.Redis)
		if err := app.Redis.Ping(ctx).Err(); err != nil {
			zapLogger.Warn("Redis unavailable, continuing without cache", zap.Error(err))
			app.Redis.Close()
			app.Redis = nil
		}
	}

	deps, err := buildDeps(ctx, cfg, db, app.Redis, zapLogger)
	if err != nil {
		app.Close()
		return nil, err
	}
	svc, err := service.NewServices(deps)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Services = svc
	return app, nil
}

// InitLogger 按配置构建 zap 日志
func InitLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zapCfg zap.Config

	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	switch cfg.Level {
	case "debug":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	}

	if cfg.Output == "file" && cfg.FilePath != "" {
		zapCfg.OutputPaths = []string{cfg.FilePath}
	}

	return zapCfg.Build()
}

// InitDatabase postgres 为生产库；sqlite 用于单机与测试
func InitDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		if cfg.Path == "" {
			return nil, fmt.Errorf("database.path is required for sqlite")
		}
		dialector = sqlite.Open(cfg.Path + "?_busy_timeout=5000&_foreign_keys=on")
	case "postgres", "":
		dialector = postgres.Open(cfg.DSN())
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	if cfg.Driver == "sqlite" {
		sqlDB.SetMaxOpenConns(1)
		return db, nil
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	return db, nil
}

func InitRedis(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// NewLocker 按 engine.lock_backend 选择合同锁
func NewLocker(cfg config.EngineConfig, db *gorm.DB, rdb *redis.Client, zapLogger *zap.Logger) (lock.Locker, error) {
	opts := lock.Options{Timeout: cfg.LockTimeout, PollInterval: cfg.LockPollInterval}
	switch cfg.LockBackend {
	case "postgres", "":
		if db.Dialector.Name() != "postgres" {
			zapLogger.Warn("Advisory locks need postgres, falling back to in-process lock",
				zap.String("driver", db.Dialector.Name()))
			return lock.NewMemoryLocker(opts), nil
		}
		return lock.NewPostgresLocker(opts), nil
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("lock backend redis requires a reachable redis")
		}
		return lock.NewRedisLocker(rdb, opts, zapLogger), nil
	case "memory":
		return lock.NewMemoryLocker(opts), nil
	default:
		return nil, fmt.Errorf("unsupported lock backend %q", cfg.LockBackend)
	}
}

func buildDeps(ctx context.Context, cfg *config.Config, db *gorm.DB, rdb *redis.Client, zapLogger *zap.Logger) (service.Deps, error) {
	locker, err := NewLocker(cfg.Engine, db, rdb, zapLogger)
	if err != nil {
		return service.Deps{}, err
	}
	workflows, err := config.LoadWorkflows(cfg.Engine.WorkflowFile)
	if err != nil {
		return service.Deps{}, fmt.Errorf("load workflows: %w", err)
	}

	var txOpts = repository.SnapshotTxOptions()
	if db.Dialector.Name() == "sqlite" {
		txOpts = nil
	}
	readModel, err := repository.NewReadModel(db, txOpts)
	if err != nil {
		return service.Deps{}, err
	}

	bonding, err := gateway.NewStaticBonding(cfg.Engine.DefaultPolicy)
	if err != nil {
		return service.Deps{}, fmt.Errorf("default policy: %w", err)
	}

	deps := service.Deps{
		DB:        db,
		Locker:    locker,
		Workflows: workflows,
		ReadModel: readModel,
		Logger:    zapLogger,
		Bonding:   bonding,
	}

	if cfg.IndexSource.BaseURL != "" {
		var source gateway.IndexReader = gateway.NewHTTPIndexSource(cfg.IndexSource.BaseURL, cfg.IndexSource.Token, cfg.IndexSource.Timeout)
		if rdb != nil && cfg.IndexSource.CacheTTL > 0 {
			source = gateway.NewCachedIndexSource(source, rdb, cfg.IndexSource.CacheTTL, zapLogger)
		}
		deps.IndexSource = source
	}

	switch {
	case cfg.Tax.BaseURL != "":
		deps.Tax = gateway.NewHTTPTaxService(cfg.Tax.BaseURL, "", cfg.Tax.Timeout)
	case len(cfg.Tax.Rates) > 0:
		tax, err := gateway.NewFlatRateTax(cfg.Tax.Rates)
		if err != nil {
			return service.Deps{}, fmt.Errorf("tax rates: %w", err)
		}
		deps.Tax = tax
	}

	if cfg.Ledger.Table != "" {
		ddb, err := gateway.NewDynamoClient(ctx, cfg.Ledger)
		if err != nil {
			return service.Deps{}, err
		}
		deps.Ledger = gateway.NewDynamoLedgerSink(ddb, cfg.Ledger.Table)
	}

	archiver, err := gateway.NewMinioArchiver(cfg.MinIO)
	if err != nil {
		return service.Deps{}, err
	}
	if archiver != nil {
		deps.Archiver = archiver
	}

	zapLogger.Info("Engine configured",
		zap.String("lock_backend", cfg.Engine.LockBackend),
		zap.Bool("index_source", deps.IndexSource != nil),
		zap.Bool("tax", deps.Tax != nil),
		zap.Bool("ledger", deps.Ledger != nil),
		zap.Bool("archive", deps.Archiver != nil),
	)
	return deps, nil
}
