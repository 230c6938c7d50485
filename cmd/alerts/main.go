// alerts drains the reconciliation-failure topic into structured alert
// logs: every entry is a settled payment that could not reserve stock and
// needs manual follow-up.
package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/arielvz/go-store-backend/internal/config"
	kafkax "github.com/arielvz/go-store-backend/internal/kafka"
	"github.com/arielvz/go-store-backend/internal/orders"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).Level(level).With().
		Timestamp().
		Str("service", cfg.ServiceName+"-alerts").
		Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	group := getenv("ALERTS_GROUP", "reconciliation-alerts")
	workers := mustAtoi(os.Getenv("ALERTS_WORKERS"), 4)
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, group, orders.TopicReconciliationFailed, workers, log)

	go func() {
		log.Info().
			Str("group", group).
			Str("topic", orders.TopicReconciliationFailed).
			Int("workers", workers).
			Msg("alerts consumer started")
		if err := cons.Start(ctx, handleFailure(log)); err != nil {
			log.Error().Err(err).Msg("consumer exit")
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutting down consumer...")
	cancel()
}

func handleFailure(log zerolog.Logger) kafkax.Handler {
	return func(ctx context.Context, m kafkago.Message) error {
		var env orders.Envelope
		if err := json.Unmarshal(m.Value, &env); err != nil {
			return err
		}
		if env.EventType != orders.EventReconciliationFailed {
			return nil
		}
		p, err := kafkax.UnwrapPayload[orders.ReconciliationFailedPayload](env.Payload)
		if err != nil {
			return err
		}
		log.Error().
			Str("event_id", env.EventID).
			Str("session_id", p.SessionID).
			Str("user_id", p.UserID).
			Str("product_id", p.ProductID).
			Int("required", p.Required).
			Int("available", p.Available).
			Int("total_cents", p.TotalCents).
			Str("reason", p.Reason).
			Msg("ALERT: paid session without order, needs manual follow-up")
		return nil
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func mustAtoi(s string, def int) int {
	if s == "" {
		return def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}
