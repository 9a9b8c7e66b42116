// Worker consumes challenge messages from Kafka and delivers them over SMS Local.
// Set KAFKA_BROKERS, SMS_KAFKA_TOPIC, KAFKA_GROUP_ID and SMS_LOCAL_API_KEY.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"

	"authsession/backend/internal/config"
	"authsession/backend/internal/logging"
	"authsession/backend/internal/mfa/sms"
	"authsession/backend/internal/notify"
)

const (
	serviceName = "authsession-sms-worker"
	sendTimeout = 30 * time.Second
)

var version = "dev"

// messageReader is the part of *kafka.Reader used by consume.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}
	logger := logging.SetDefault(serviceName, version, cfg.LogFormat)

	brokers := cfg.KafkaBrokersList()
	if len(brokers) == 0 {
		logger.Error("worker: KAFKA_BROKERS is required")
		os.Exit(1)
	}
	if cfg.SMSLocalAPIKey == "" {
		logger.Error("worker: SMS_LOCAL_API_KEY is required")
		os.Exit(1)
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          cfg.SMSKafkaTopic,
		GroupID:        cfg.KafkaGroupID,
		MinBytes:       1,
		MaxBytes:       1e6,
		MaxWait:        time.Second,
		CommitInterval: 0,
	})
	defer reader.Close()

	client := sms.NewSMSLocalClient(cfg.SMSLocalAPIKey, cfg.SMSLocalBaseURL, cfg.SMSLocalSender)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("worker: consuming", "topic", cfg.SMSKafkaTopic, "group", cfg.KafkaGroupID)
	consume(ctx, reader, client, logger)
	logger.Info("worker: stopped")
}

// consume delivers messages until ctx is canceled. A message is committed after one delivery
// attempt (the client retries transient failures itself); undecodable messages are committed and skipped.
func consume(ctx context.Context, r messageReader, n notify.Notifier, logger *slog.Logger) {
	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			logger.Warn("worker: kafka fetch failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		deliver(ctx, msg, n, logger)
		if err := r.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			logger.Warn("worker: commit failed", "offset", msg.Offset, "error", err)
		}
	}
}

func deliver(ctx context.Context, msg kafka.Message, n notify.Notifier, logger *slog.Logger) {
	m, err := notify.DecodeMessage(msg.Value)
	if err != nil {
		logger.Warn("worker: dropping malformed message", "offset", msg.Offset, "error", err)
		return
	}
	sctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := n.Send(sctx, m.Destination, m.Body); err != nil {
		logger.Error("worker: sms delivery failed",
			"destination", notify.Mask(m.Destination),
			"age_ms", time.Since(m.CreatedAt).Milliseconds(),
			"error", err)
		return
	}
	logger.Info("worker: sms delivered", "destination", notify.Mask(m.Destination))
}
