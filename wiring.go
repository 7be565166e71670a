package main

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/hijab-blur/internal/artifacts"
	"github.com/example/hijab-blur/internal/classifier"
	"github.com/example/hijab-blur/internal/config"
	"github.com/example/hijab-blur/internal/detector"
	"github.com/example/hijab-blur/internal/pipeline"
	"github.com/example/hijab-blur/internal/repository"
	"github.com/example/hijab-blur/internal/task"
)

// newPipeline builds the detector, the classifier client and the pipeline for layout.
func newPipeline(cfg *config.Config, layout *artifacts.Layout, logger *zap.Logger) (*pipeline.Pipeline, error) {
	if err := layout.Ensure(); err != nil {
		return nil, err
	}
	det, err := detector.NewPigo(cfg.Detector.PigoConfig())
	if err != nil {
		return nil, fmt.Errorf("load face detector: %w", err)
	}
	cls := classifier.NewHTTPClient(cfg.Classifier.URL, cfg.Classifier.Timeout, logger)
	return pipeline.New(det, cls, layout, cfg.PipelineConfig(), logger), nil
}

func newLayout(cfg *config.Config) *artifacts.Layout {
	return artifacts.NewLayout(cfg.Storage.UploadDir, cfg.Storage.VisualizationDir, cfg.Storage.CroppedDir)
}

// initTaskStore returns the configured store and a function releasing its resources.
func initTaskStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (task.Store, func(), error) {
	if !cfg.UsesRedis() {
		logger.Info("using in-memory task store")
		return task.NewMemoryStore(), func() {}, nil
	}

	redisCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	client, err := initRedis(redisCtx, cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("using redis task store", zap.String("addr", cfg.Redis.Addr))
	return task.NewRedisStore(client, cfg.Tasks.Retention, logger), func() { _ = client.Close() }, nil
}

func initRedis(ctx context.Context, rc config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: rc.Addr, Password: rc.Password, DB: rc.DB})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return client, nil
}

// initAuditLog connects to Postgres when a DSN is configured. It returns nil when the
// audit log is disabled.
func initAuditLog(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*repository.TaskLogRepository, func(), error) {
	if cfg.Database.DSN == "" {
		return nil, func() {}, nil
	}

	dbCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	db, err := initDatabase(dbCtx, cfg.Database.DSN)
	if err != nil {
		return nil, nil, err
	}
	closeDB := func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}

	repo := repository.NewTaskLogRepository(db, logger)
	if err := repo.AutoMigrate(dbCtx); err != nil {
		closeDB()
		return nil, nil, fmt.Errorf("auto migrate failed: %w", err)
	}
	logger.Info("audit log enabled")
	return repo, closeDB, nil
}

func initDatabase(ctx context.Context, dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access db handle: %w", err)
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	return db, nil
}
