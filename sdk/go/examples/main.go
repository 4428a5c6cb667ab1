package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"go.uber.org/zap"

	sdk "github.com/hewenyu/church-monitor/sdk/go"
)

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	// 配置SDK客户端
	config := &sdk.Config{
		ServerAddr:     "localhost:8080",
		ServiceName:    "member-portal",
		ServiceURL:     "http://localhost:3000",
		HealthPath:     "/api/health",
		Category:       "web",
		Tags:           []string{"example", "sdk"},
		Metadata:       map[string]string{"version": "1.0.0"},
		ReportInterval: 15 * time.Second,
		Logger:         logger,
	}

	client, err := sdk.NewClient(config)
	if err != nil {
		logger.Fatal("创建SDK客户端失败", zap.Error(err))
	}

	ctx := context.Background()
	if err := client.Register(ctx); err != nil {
		logger.Fatal("服务注册失败", zap.Error(err))
	}
	logger.Info("服务注册成功")

	// 上报进程自身的运行指标
	client.StartReporting(func() []sdk.Sample {
		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)
		return []sdk.Sample{
			{Name: "goroutines", Value: float64(runtime.NumGoroutine())},
			{Name: "heap_mb", Value: float64(mem.HeapAlloc) / (1 << 20), Unit: "MB"},
		}
	})
	logger.Info("指标上报已启动", zap.Duration("interval", config.ReportInterval))

	// 等待终止信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("正在关闭服务...")
	if err := client.Close(ctx); err != nil {
		logger.Error("关闭SDK客户端失败", zap.Error(err))
	}
}
