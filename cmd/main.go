package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hewenyu/church-monitor/internal/alert"
	"github.com/hewenyu/church-monitor/internal/api"
	"github.com/hewenyu/church-monitor/internal/config"
	"github.com/hewenyu/church-monitor/internal/health"
	"github.com/hewenyu/church-monitor/internal/hub"
	"github.com/hewenyu/church-monitor/internal/metrics"
	"github.com/hewenyu/church-monitor/internal/prober"
	"github.com/hewenyu/church-monitor/internal/registry"
	"github.com/hewenyu/church-monitor/internal/scheduler"
	"github.com/hewenyu/church-monitor/internal/telemetry"
	"github.com/hewenyu/church-monitor/pkg/storage"
	"github.com/hewenyu/church-monitor/pkg/storage/etcd"
	"github.com/hewenyu/church-monitor/pkg/storage/memory"
	"github.com/hewenyu/church-monitor/pkg/storage/postgres"
	"github.com/hewenyu/church-monitor/pkg/storage/redis"
)

// backends 已打开的存储后端及其关闭函数
type backends struct {
	services storage.ServiceStorage
	alerts   storage.AlertStorage
	metrics  storage.MetricStorage
	closers  []func()
}

func (b *backends) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// openBackends 按配置打开各组件的存储
func openBackends(ctx context.Context, cfg *config.Config) (*backends, error) {
	b := &backends{}

	switch cfg.Backends.Registry {
	case config.BackendEtcd:
		client, err := etcd.NewClient(&cfg.Etcd)
		if err != nil {
			return nil, fmt.Errorf("连接etcd失败: %w", err)
		}
		b.closers = append(b.closers, func() { _ = client.Close() })
		b.services = etcd.NewServiceStorage(client)
	default:
		b.services = memory.NewServiceStorage()
	}

	switch cfg.Backends.Alerts {
	case config.BackendPostgres:
		store, err := postgres.Connect(ctx, cfg.Postgres.URL, cfg.Postgres.MaxConns)
		if err != nil {
			b.close()
			return nil, fmt.Errorf("连接postgres失败: %w", err)
		}
		b.closers = append(b.closers, store.Close)
		if err := store.Migrate(ctx); err != nil {
			b.close()
			return nil, fmt.Errorf("初始化告警表失败: %w", err)
		}
		b.alerts = store
	default:
		b.alerts = memory.NewAlertStorage()
	}

	switch cfg.Backends.Metrics {
	case config.BackendRedis:
		store, err := redis.Connect(ctx, cfg.Redis.URL, cfg.Redis.KeyPrefix)
		if err != nil {
			b.close()
			return nil, fmt.Errorf("连接redis失败: %w", err)
		}
		b.closers = append(b.closers, func() { _ = store.Close() })
		b.metrics = store
	default:
		b.metrics = memory.NewMetricStorage()
	}

	return b, nil
}

func main() {
	// 解析命令行参数
	configFile := flag.String("config", "", "配置文件路径")
	flag.Parse()

	// 加载配置
	appConfig, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logger, err := config.NewLoggerWithLevel(appConfig.Log.Development, appConfig.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Church Monitor Starting...",
		zap.String("version", "0.1.0"),
		zap.String("registry_backend", appConfig.Backends.Registry),
		zap.String("alert_backend", appConfig.Backends.Alerts),
		zap.String("metric_backend", appConfig.Backends.Metrics),
		zap.Int("port", appConfig.Server.Port),
	)

	if err := run(appConfig, logger); err != nil {
		logger.Error("服务异常退出", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger config.Logger) error {
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	stores, err := openBackends(connectCtx, cfg)
	cancel()
	if err != nil {
		return err
	}
	defer stores.close()

	tel := telemetry.New(nil)
	wsHub := hub.New(cfg.Server.AllowOrigins, logger)
	go wsHub.Run(ctx)

	// 服务注册表
	reg := registry.New(stores.services, registry.MetricsPolicy{
		Alpha:             cfg.Monitor.EMAAlpha,
		ErrorStep:         cfg.Monitor.ErrorStep,
		UptimeSuccessStep: cfg.Monitor.UptimeSuccessStep,
		UptimeFailureStep: cfg.Monitor.UptimeFailureStep,
	}, registry.Defaults{
		Interval: cfg.Monitor.DefaultInterval,
		Timeout:  cfg.Monitor.DefaultTimeout,
		Retries:  cfg.Monitor.DefaultRetries,
	}, logger)
	if cfg.Monitor.CatalogFile != "" {
		n, err := reg.LoadCatalog(ctx, cfg.Monitor.CatalogFile)
		if err != nil {
			return fmt.Errorf("加载服务目录失败: %w", err)
		}
		logger.Info("服务目录已加载", zap.Int("registered", n))
	}

	// 指标与告警
	agg := metrics.New(stores.metrics, metrics.Options{
		Retention:      cfg.Metrics.Retention,
		DefaultWindow:  cfg.Metrics.DefaultWindow,
		MaxQueryPoints: cfg.Metrics.MaxQueryPoints,
	}, logger)
	alerts := alert.NewManager(stores.alerts, alert.Options{
		MaxEscalation: cfg.Alert.MaxEscalation,
		DefaultMute:   cfg.Alert.DefaultMute,
	}, logger)
	alerts.AddPublisher(wsHub)
	alerts.AddPublisher(tel)

	// 探测
	dispatcher := &prober.Dispatcher{
		HTTP: prober.NewHTTPProber(cfg.Monitor.DefaultTimeout),
		DNS:  prober.NewDNSProber(cfg.Monitor.DNSResolver, cfg.Monitor.DefaultTimeout),
	}
	poller := prober.NewPoller(reg, dispatcher, agg, tel, prober.Options{
		Concurrency:       cfg.Monitor.Concurrency,
		DegradedThreshold: cfg.Monitor.DegradedThreshold,
	}, logger)
	poller.AddHandler(alert.NewDetector(alerts, logger))
	poller.AddHandler(wsHub)

	// 周期任务
	sched := scheduler.New(logger)
	if err := sched.Add("probe", cfg.Monitor.Tick, func(ctx context.Context) {
		_, _ = poller.Tick(ctx)
	}); err != nil {
		return err
	}
	if cfg.Alert.EscalationSchedule != "" {
		job := alert.NewEscalationJob(alerts, cfg.Alert.EscalateAfter, logger)
		if err := sched.Add("escalation", cfg.Alert.EscalationSchedule, func(ctx context.Context) {
			job.Run(ctx)
		}); err != nil {
			return err
		}
	}
	if cfg.Metrics.PruneSchedule != "" {
		if err := sched.Add("prune", cfg.Metrics.PruneSchedule, func(ctx context.Context) {
			_, _ = agg.Prune(ctx)
		}); err != nil {
			return err
		}
	}
	sched.Start()

	server := api.NewServer(cfg, api.Dependencies{
		Registry:  reg,
		Poller:    poller,
		Alerts:    alerts,
		Metrics:   agg,
		Health:    health.NewAggregator(reg, alerts, agg),
		Hub:       wsHub,
		Telemetry: tel,
	}, logger)
	if err := server.Start(); err != nil {
		return err
	}

	// 等待信号以优雅关闭
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("接收到关闭信号，正在优雅关闭...")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP服务关闭超时", zap.Error(err))
	}
	sched.Stop(shutdownCtx)
	stop()
	return nil
}
