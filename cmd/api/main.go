package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/swiftride/ridepay/internal/api"
	"github.com/swiftride/ridepay/internal/auth"
	"github.com/swiftride/ridepay/internal/config"
	"github.com/swiftride/ridepay/internal/db"
	"github.com/swiftride/ridepay/internal/dispatch"
	"github.com/swiftride/ridepay/internal/gateway"
	"github.com/swiftride/ridepay/internal/logger"
	"github.com/swiftride/ridepay/internal/metrics"
	"github.com/swiftride/ridepay/internal/middleware"
	"github.com/swiftride/ridepay/internal/repository/postgres"
	"github.com/swiftride/ridepay/internal/services"
	"github.com/swiftride/ridepay/internal/worker"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("db connect", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	if os.Getenv("APP_MIGRATE") == "true" {
		if err := db.RunMigrations(ctx, pool); err != nil {
			log.Error("migrations", "err", err)
			os.Exit(1)
		}
	}

	metrics.Init()
	repos := postgres.NewRepositories(pool)

	var notifier dispatch.Notifier
	amqpNotifier, err := dispatch.NewAMQPNotifier(cfg.AMQPURL, cfg.NotifyQueue)
	if err != nil {
		// Notifications are best-effort; the engine runs without them.
		log.Warn("amqp unavailable, notifications disabled", "err", err)
		notifier = dispatch.NoopNotifier{}
	} else {
		notifier = amqpNotifier
		defer amqpNotifier.Close()
	}

	// Created after the notifier so the deferred Stop drains queued
	// side effects before the AMQP channel closes.
	wp := worker.NewPool(cfg.Workers)
	defer wp.Stop()

	var rides dispatch.RideUpdater = dispatch.NoopRideUpdater{}
	if cfg.RideServiceURL != "" {
		rides = dispatch.NewHTTPRideUpdater(cfg.RideServiceURL)
	}
	disp := dispatch.NewDispatcher(wp, notifier, rides)

	gateways := gateway.NewRegistry()
	gateways.Register("paystack", func() (gateway.Adapter, error) {
		return gateway.NewPaystack(gateway.PaystackConfig{
			SecretKey:   cfg.PaystackSecretKey,
			BaseURL:     cfg.PaystackBaseURL,
			CallbackURL: cfg.PaymentCallbackURL,
			Timeout:     cfg.GatewayTimeout,
		}), nil
	})

	paymentSvc := services.NewPaymentService(repos.Transactions, repos.AuditLogs, repos.Gaps,
		gateways, cfg.GatewayName, disp)
	balanceSvc := services.NewBalanceService(repos.Transactions, disp)

	am := middleware.NewAuthMiddleware(auth.NewTokenManager(cfg.JWTSecret, cfg.JWTIssuer))
	r := api.NewRouter(cfg, am, paymentSvc, balanceSvc)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("server starting", "port", cfg.HTTPPort, "gateway", cfg.GatewayName)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server", "err", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
