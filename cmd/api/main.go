package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/arielvz/go-store-backend/internal/auth"
	"github.com/arielvz/go-store-backend/internal/config"
	"github.com/arielvz/go-store-backend/internal/httpx"
	kafkax "github.com/arielvz/go-store-backend/internal/kafka"
	"github.com/arielvz/go-store-backend/internal/orders"
	"github.com/arielvz/go-store-backend/internal/payments"
	"github.com/arielvz/go-store-backend/internal/postgres"
	"github.com/arielvz/go-store-backend/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := newLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producers
	prodReconciled := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderReconciled, 1024)
	prodReconciled.Start(ctx)
	prodFailed := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicReconciliationFailed, 1024)
	prodFailed.Start(ctx)

	// Repos & services
	productRepo := &orders.ProductRepo{DB: db}
	orderRepo := &orders.Repo{DB: db, Stock: productRepo}
	failureRepo := &orders.FailureRepo{DB: db}
	userRepo := &auth.UserRepo{DB: db}

	tokens := auth.NewTokens(cfg.JWTSecret)
	authSvc := &auth.Service{Users: userRepo, Tokens: tokens}

	paySvc := &payments.Service{
		Gateway:            payments.NewStripeGateway(cfg.StripeSecretKey),
		Catalog:            productRepo,
		Orders:             orderRepo,
		Failures:           failureRepo,
		ProducerReconciled: prodReconciled,
		ProducerFailed:     prodFailed,
		Redis:              rdb,
		WebhookSecret:      cfg.StripeWebhookSecret,
		SuccessURL:         cfg.CheckoutSuccessURL,
		CancelURL:          cfg.CheckoutCancelURL,
		ServiceName:        cfg.ServiceName,
		Log:                log,
	}

	// Router
	authed := auth.Middleware(tokens)
	admin := auth.RequireRole(auth.RoleAdmin)

	router := httpx.NewRouter()
	router.Group(func(r chi.Router) {
		(&httpx.AuthHandler{Service: authSvc}).Register(r)
		(&httpx.PaymentsHandler{Service: paySvc, Log: log}).Register(r, authed)
		(&httpx.OrdersHandler{Repo: orderRepo, Failures: failureRepo, Redis: rdb}).Register(r, authed, admin)
		(&httpx.ProductsHandler{Repo: productRepo}).Register(r, authed, admin)
	})

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prodReconciled.Close() // close inbox -> flush & close writer
	prodFailed.Close()
	cancel() // stop producer loops
	prodReconciled.WaitClosed()
	prodFailed.WaitClosed()
}

func newLogger(cfg config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).Level(level).With().
		Timestamp().
		Str("service", cfg.ServiceName).
		Logger()
}
