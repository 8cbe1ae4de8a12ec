package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gustavoferreira/dropmart-backend/internal/cron"
	"github.com/gustavoferreira/dropmart-backend/internal/dispatch"
	"github.com/gustavoferreira/dropmart-backend/internal/orders"
	"github.com/gustavoferreira/dropmart-backend/pkg/config"
	"github.com/gustavoferreira/dropmart-backend/pkg/db"
	"github.com/gustavoferreira/dropmart-backend/pkg/logger"
	"github.com/gustavoferreira/dropmart-backend/pkg/metrics"
	"github.com/gustavoferreira/dropmart-backend/pkg/migrate"
	"github.com/gustavoferreira/dropmart-backend/pkg/redis"
	"github.com/gustavoferreira/dropmart-backend/pkg/supplierhttp"
)

const lockKeyFormat = "dm:cron-worker:lock:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	conn := dbClient.DB()
	ordersRepo := orders.NewRepository(conn)

	ordersService, err := orders.NewService(ordersRepo, dbClient, orders.NewStockRestorer())
	if err != nil {
		logg.Error(ctx, "failed to create order service", err)
		os.Exit(1)
	}

	notifier, err := dispatch.NewHTTPNotifier(supplierhttp.NewClient(supplierhttp.WithTimeout(cfg.Dispatch.NotifyTimeout)))
	if err != nil {
		logg.Error(ctx, "failed to create supplier notifier", err)
		os.Exit(1)
	}

	bridge, err := dispatch.NewService(dispatch.ServiceParams{
		OrdersRepo: ordersRepo,
		Suppliers:  dispatch.NewSupplierRepository(conn),
		Notifier:   notifier,
		Dispatch:   cfg.Dispatch,
		Logger:     logg,
	})
	if err != nil {
		logg.Error(ctx, "failed to create dispatch service", err)
		os.Exit(1)
	}

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)

	expiryJob, err := cron.NewOrderExpiryJob(cron.OrderExpiryJobParams{
		Logger:  logg,
		Reader:  ordersRepo,
		Orders:  ordersService,
		Metrics: metricsCollector,
		MaxAge:  cfg.Cron.PendingOrderTTL,
	})
	if err != nil {
		logg.Error(ctx, "failed to create order expiry job", err)
		os.Exit(1)
	}

	retryJob, err := cron.NewDispatchRetryJob(cron.DispatchRetryJobParams{
		Logger:  logg,
		Reader:  ordersRepo,
		Bridge:  bridge,
		Metrics: metricsCollector,
		MinAge:  cfg.Dispatch.RetryAge,
	})
	if err != nil {
		logg.Error(ctx, "failed to create dispatch retry job", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), 0)
	if err != nil {
		logg.Error(ctx, "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(expiryJob, retryJob),
		Lock:     lock,
		Metrics:  metricsCollector,
		Interval: cfg.Cron.TickInterval,
	})
	if err != nil {
		logg.Error(ctx, "failed to create cron service", err)
		os.Exit(1)
	}

	go serveMetrics(ctx, cfg.Cron.MetricsPort, logg)

	runCtx := logg.WithFields(ctx, map[string]any{"env": cfg.App.Env})
	logg.Info(runCtx, "starting cron worker")

	if err := service.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(runCtx, "cron worker shutting down gracefully")
}

func serveMetrics(ctx context.Context, port string, logg *logger.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: ":" + port, Handler: mux}

	go func() {
		<-ctx.Done()
		_ = server.Close()
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logg.Error(ctx, "metrics server stopped unexpectedly", err)
	}
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
