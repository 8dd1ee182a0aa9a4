package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/streadway/amqp"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/Pushwoosh/web-push-notifications-sub000/internal/api"
	"github.com/Pushwoosh/web-push-notifications-sub000/internal/bridge"
	"github.com/Pushwoosh/web-push-notifications-sub000/internal/config"
	"github.com/Pushwoosh/web-push-notifications-sub000/internal/consumer"
	"github.com/Pushwoosh/web-push-notifications-sub000/internal/delivery"
	"github.com/Pushwoosh/web-push-notifications-sub000/internal/inbox"
	"github.com/Pushwoosh/web-push-notifications-sub000/internal/params"
	"github.com/Pushwoosh/web-push-notifications-sub000/internal/routes"
	"github.com/Pushwoosh/web-push-notifications-sub000/internal/storage"
	"github.com/Pushwoosh/web-push-notifications-sub000/pkg/logger"
	"github.com/Pushwoosh/web-push-notifications-sub000/pkg/metrics"
	"github.com/Pushwoosh/web-push-notifications-sub000/pkg/retry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if cfg.RabbitURL == "" {
		log.Fatal("config error: RABBITMQ_URL is required for the worker")
	}

	logr := logger.Component(logger.New(cfg.LogLevel), "worker")
	logr.Info("starting push worker", slog.String("app", cfg.AppName))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	retryCfg := retry.Config{
		MaxAttempts:    cfg.RetryMaxAttempts,
		InitialBackoff: cfg.RetryInitialBackoff,
		MaxBackoff:     cfg.RetryMaxBackoff,
	}

	kv, err := openStorage(ctx, cfg, retryCfg)
	if err != nil {
		logr.Error("failed to open storage", slog.Any("error", err))
		os.Exit(1)
	}
	defer kv.Close()

	paramStore, err := params.Open(ctx, kv)
	if err != nil {
		logr.Error("failed to open params", slog.Any("error", err))
		os.Exit(1)
	}

	apiClient := api.New(paramStore, cfg.APIEntrypoint, cfg.APITimeout, logr)

	var inboxSvc *inbox.Service
	if cfg.DatabaseURL != "" {
		db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
		if err != nil {
			logr.Error("failed to connect database", slog.Any("error", err))
			os.Exit(1)
		}
		store, err := inbox.NewPostgresStore(db, cfg.InboxTable)
		if err != nil {
			logr.Error("failed to prepare inbox store", slog.Any("error", err))
			os.Exit(1)
		}
		inboxSvc = inbox.NewService(store, apiClient, logr)
	}

	hwid, err := paramStore.HWID(ctx)
	if err != nil {
		logr.Error("failed to read hwid", slog.Any("error", err))
		os.Exit(1)
	}
	if hwid == "" {
		logr.Warn("no device identity yet; run pagectl init first")
	}

	defaultTitle := ""
	if remoteCfg, err := apiClient.GetConfig(ctx); err != nil {
		logr.Warn("getConfig failed, notifications fall back to payload titles",
			slog.Any("error", err))
	} else {
		defaultTitle = remoteCfg.DefaultTitle
	}

	metricsCollector := metrics.New()
	hub := bridge.NewHub(cfg.CanOpenWindow, logr)
	workerCtx := delivery.NewContext(hwid, defaultTitle)
	pipeline := delivery.New(workerCtx, &logNotifier{logger: logr}, hub, apiClient,
		inboxSvc, kv, paramStore, metricsCollector, logr)

	var conn *amqp.Connection
	if err := retry.Do(ctx, retryCfg, func() error {
		var dialErr error
		conn, dialErr = amqp.Dial(cfg.RabbitURL)
		return dialErr
	}); err != nil {
		logr.Error("failed to connect rabbitmq", slog.Any("error", err))
		os.Exit(1)
	}
	defer conn.Close()

	base := consumer.NewBaseConsumer(
		conn,
		cfg.PushQueue,
		cfg.DeadLetterQueue,
		cfg.PrefetchCount,
		cfg.WorkerCount,
		logr,
	)
	pushConsumer := consumer.NewPushConsumer(base, pipeline, logr, cfg.MaxDeliveries)

	started := time.Now()
	httpSrv := startHTTPServer(cfg.HTTPPort, hub, metricsCollector, logr, started)

	if err := pushConsumer.Start(ctx); err != nil {
		logr.Error("push consumer exited", slog.Any("error", err))
	}

	shutdownHTTP(httpSrv, logr)
	logr.Info("push worker stopped")
}

// logNotifier is the worker's notification surface: a daemon has no native
// display, so shown notifications go to the structured log. The pipeline
// separately broadcasts them to attached pages and appends the message log.
type logNotifier struct {
	logger *slog.Logger
}

func (n *logNotifier) ShowNotification(_ context.Context, options delivery.ShowOptions) error {
	n.logger.Info("notification shown",
		slog.String("code", options.Code),
		slog.String("title", options.Title),
		slog.String("body", options.Body))
	return nil
}

func (n *logNotifier) CloseNotification(_ context.Context, code string) error {
	n.logger.Info("notification closed", slog.String("code", code))
	return nil
}

func openStorage(ctx context.Context, cfg *config.Config, retryCfg retry.Config) (storage.Store, error) {
	if cfg.RedisURL == "" {
		return storage.NewFile(cfg.StorageDir)
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
	if err := retry.Do(ctx, retryCfg, func() error {
		return rdb.Ping(ctx).Err()
	}); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return storage.NewRedis(rdb), nil
}

func startHTTPServer(port string, hub *bridge.Hub, metricsCollector *metrics.Metrics, logr *slog.Logger, started time.Time) *http.Server {
	if port == "" {
		port = "8082"
	}
	handler := routes.NewRouter(hub, metricsCollector, logr, started)
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Error("http server error", slog.Any("error", err))
		}
	}()
	return srv
}

func shutdownHTTP(srv *http.Server, logr *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logr.Error("failed to shutdown http server", slog.Any("error", err))
	}
}
