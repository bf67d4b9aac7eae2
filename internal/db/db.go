package db

import (
	"context"
	"fmt"
	"time"

	"liveblood/internal/config"
	"liveblood/internal/models"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Options 控制连接池与启动重试。
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	Attempts        int
	SlowThreshold   time.Duration
}

func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: time.Hour,
		Attempts:        cfg.DBConnAttempts,
		SlowThreshold:   cfg.DBSlowThreshold,
	}
}

// Connect 建立到 Postgres 的连接，并带有递增间隔的重试来等待容器就绪。
// ctx 取消时立即放弃。
func Connect(ctx context.Context, dsn string, opts Options) (*gorm.DB, error) {
	if opts.Attempts <= 0 {
		opts.Attempts = 1
	}
	var err error
	for i := 0; i < opts.Attempts; i++ {
		var gdb *gorm.DB
		if gdb, err = open(ctx, dsn, opts); err == nil {
			return gdb, nil
		}
		log.Warn().Err(err).Int("attempt", i+1).Int("of", opts.Attempts).Msg("db not ready")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(500+i*200) * time.Millisecond):
		}
	}
	return nil, fmt.Errorf("connect postgres after %d attempts: %w", opts.Attempts, err)
}

func open(ctx context.Context, dsn string, opts Options) (*gorm.DB, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: NewLogger(opts.SlowThreshold)})
	if err != nil {
		return nil, err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return gdb, nil
}

// Migrate 自动迁移用户、献血档案与聊天消息三张表。
func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(&models.User{}, &models.Donor{}, &models.Message{})
}
