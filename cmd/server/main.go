package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"liveblood/internal/config"
	"liveblood/internal/db"
	clog "liveblood/internal/log"
	"liveblood/internal/relay"
	"liveblood/internal/server"
	"liveblood/internal/service"
	"liveblood/internal/ws"

	"github.com/rs/zerolog/log"
)

func main() {
	// main 函数负责加载配置、初始化日志、连接数据库并启动 Gin 服务。
	cfg := config.Load()
	clog.Init(cfg.Env, cfg.LogLevel)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gdb, err := db.Connect(ctx, cfg.DatabaseDSN, db.OptionsFromConfig(cfg))
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}

	hub := ws.NewHub()
	var out ws.Broadcaster = hub
	if cfg.RedisAddr != "" {
		client, err := relay.NewRedisClient(cfg)
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("redis connect")
		}
		defer client.Close()
		rr := relay.NewRedisRelay(client, hub)
		ready, failed := make(chan struct{}), make(chan error, 1)
		go func() {
			if err := rr.Run(ctx, ready); err != nil {
				failed <- err
				log.Error().Err(err).Msg("relay stopped, broadcasting locally")
			}
		}()
		select {
		case <-ready:
		case err := <-failed:
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("relay subscribe")
		case <-time.After(10 * time.Second):
			log.Fatal().Str("addr", cfg.RedisAddr).Msg("relay subscribe timed out")
		}
		out = rr
	}
	gateway := ws.NewGateway(hub, out, service.NewMessageService(gdb), service.NewDonorService(gdb))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.SetupRouter(ctx, cfg, gdb, hub, gateway),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", srv.Addr).Str("env", cfg.Env).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server run")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
	gateway.Wait()
	if sqlDB, err := gdb.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
