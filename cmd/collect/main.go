package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/LJTian/MarketPulse/internal/app"
	"github.com/LJTian/MarketPulse/internal/config"
	"github.com/LJTian/MarketPulse/internal/logger"
)

// 一个仅执行一次采集任务的命令行入口：适合手动触发采集或由外部调度（cron / k8s CronJob）调用。
// 采集失败（无数据或上传失败）时以非零状态退出。
func main() {
	// .env 可选，不存在时直接使用环境变量
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(2)
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.RunTimeout)
		defer cancel()
	}

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Error("init collector failed")
		os.Exit(2)
	}
	defer a.Close()

	run, err := a.Coordinator.Run(ctx, a.Sources)
	if run != nil {
		fmt.Print(run.Summary.Table())
	}
	if err != nil {
		a.Close()
		os.Exit(1)
	}
	fmt.Printf("artifact: %s\n", run.ArtifactPath)
}
