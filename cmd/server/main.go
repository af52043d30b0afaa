package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mealsub/internal/config"
	"mealsub/internal/gateway"
	"mealsub/internal/handler"
	"mealsub/internal/infrastructure/cache"
	"mealsub/internal/infrastructure/database"
	"mealsub/internal/infrastructure/lock"
	"mealsub/internal/infrastructure/logger"
	"mealsub/internal/infrastructure/metrics"
	"mealsub/internal/infrastructure/mq"
	"mealsub/internal/job"
	"mealsub/internal/notify"
	"mealsub/internal/service"
	"mealsub/pkg/idgen"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "配置文件路径")
	flag.Parse()

	// 加载配置
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	zlog, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	if err := run(cfg, zlog); err != nil {
		zlog.Fatal("服务异常退出", zap.Error(err))
	}
}

func run(cfg *config.Config, zlog *zap.Logger) error {
	// 初始化 ID 生成器
	if err := idgen.Init(cfg.Server.WorkerID); err != nil {
		return err
	}

	// 初始化 MySQL
	db, err := database.InitMySQL(&cfg.MySQL, zlog)
	if err != nil {
		return err
	}
	if err := database.Migrate(db); err != nil {
		return fmt.Errorf("数据库迁移失败: %w", err)
	}

	// 未启用 Redis 时使用进程内锁，仅适用于单实例部署
	var locker lock.Locker = lock.NewLocalLocker()
	if cfg.Redis.Enabled {
		redisClient, err := cache.InitRedis(&cfg.Redis, zlog)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		locker = lock.NewRedisLocker(redisClient)
	}

	var (
		publisher mq.Publisher
		notifier  notify.Notifier = notify.NewLogNotifier(zlog)
	)
	if cfg.Kafka.Enabled {
		producer, err := mq.NewKafkaProducer(&cfg.Kafka)
		if err != nil {
			return err
		}
		defer producer.Close()
		publisher = producer
		notifier = notify.NewKafkaNotifier(producer, cfg.Kafka.Topic.Notification)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	svc := service.NewServices(service.Deps{
		DB:       db,
		Config:   cfg,
		Log:      zlog,
		Locker:   locker,
		Gateway:  gateway.NewHTTPClient(cfg.Gateway),
		Notifier: notifier,
		Metrics:  m,
	})

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 启动后台任务
	if publisher != nil {
		outboxSender := job.NewOutboxSender(db, publisher, cfg, zlog, m)
		go outboxSender.Start(ctx)
	} else {
		zlog.Warn("未启用 Kafka，领域事件保留在 outbox_message 表中")
	}

	sweeper := job.NewPaymentSweeper(svc.Settlement, zlog)
	go sweeper.Start(ctx)

	// 设置路由
	router := handler.SetupRouter(handler.NewHandler(svc, cfg, zlog), zlog, registry)

	// 启动 HTTP 服务
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		zlog.Info("服务启动", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("服务启动失败: %w", err)
	}

	zlog.Info("正在关闭服务...")

	// 取消上下文，停止后台任务
	cancel()

	// 关闭 HTTP 服务（等待最多5秒）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error("服务关闭异常", zap.Error(err))
	}
	svc.Delivery.Wait()

	zlog.Info("服务已关闭")
	return nil
}
