package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/LJTian/MarketPulse/internal/api"
	"github.com/LJTian/MarketPulse/internal/app"
	"github.com/LJTian/MarketPulse/internal/config"
	"github.com/LJTian/MarketPulse/internal/logger"
	"github.com/LJTian/MarketPulse/internal/scheduler"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.New("info", "text").WithError(err).Fatal("load config failed")
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("init collector failed")
	}
	defer a.Close()

	s, err := scheduler.New(cfg.CronSpec, a.Coordinator, a.Sources, cfg.RunTimeout, log)
	if err != nil {
		log.WithError(err).Fatal("init scheduler failed")
	}
	s.Start()

	// API
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	// 若配置了全局访问密码，则启用 Basic Auth 保护（/health 仍然免认证）
	if cfg.BasicAuthUser != "" && cfg.BasicAuthPass != "" {
		r.Use(api.BasicAuth(cfg.BasicAuthUser, cfg.BasicAuthPass))
	}

	// 注意不能把 nil 的 *storage.Store 直接赋给接口
	var runs api.RunStore
	if a.Store != nil {
		runs = a.Store
	} else {
		log.Warn("POSTGRES_DSN not set, run history endpoints disabled")
	}
	api.NewServer(runs, s, log).RegisterRoutes(r)

	srv := &http.Server{Addr: ":" + cfg.AppPort, Handler: r}
	go func() {
		log.WithField("addr", srv.Addr).Info("starting api server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server exit")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown failed")
	}
	if err := s.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("scheduler did not stop in time")
	}
}
