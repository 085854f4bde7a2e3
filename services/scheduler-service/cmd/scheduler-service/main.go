package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/novadent/platform/libs/config"
	"github.com/novadent/platform/libs/consumer"
	"github.com/novadent/platform/libs/db"
	"github.com/novadent/platform/libs/httpx"
	"github.com/novadent/platform/libs/inbox"
	"github.com/novadent/platform/libs/kafkax"
	otelx "github.com/novadent/platform/libs/otel"
	"github.com/novadent/platform/libs/outbox"
	"github.com/novadent/platform/libs/runtime"
	"github.com/novadent/platform/services/scheduler-service/internal/jobs"
)

func main() {
	service := config.String("SERVICE_NAME", "scheduler-service")
	port, err := config.Port("PORT", "8087")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}

	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	repo := jobs.NewRepository(pool)
	outboxRepo := outbox.NewRepository(pool)

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	pollEvery := time.Duration(config.Int("POLL_INTERVAL_SECONDS", 10)) * time.Second
	worker := jobs.NewWorker(repo, outboxRepo, logger, pollEvery)
	go worker.Run(ctx)

	inboxRepo := inbox.NewRepository(pool)
	startConsumer := func(topic string, handler consumer.Handler) {
		if strings.TrimSpace(topic) == "" {
			return
		}
		c := consumer.New(logger, inboxRepo, consumer.Config{
			Brokers: config.String("KAFKA_BROKERS", ""),
			GroupID: config.String("KAFKA_GROUP_ID", "scheduler-service"),
			Topic:   topic,
		}, handler)
		go c.Run(ctx)
	}

	startConsumer("booking.reminder.requested.v1", reminderRequestedHandler(logger, repo))
	startConsumer("booking.appointment.cancelled.v1", appointmentCancelledHandler(logger, repo))
	startConsumer("booking.appointment.rescheduled.v1", appointmentRescheduledHandler(logger, repo))

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	httpHandler := httpx.Chain(mux,
		httpx.WithRecover(logger),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

// reminderRequestedHandler persists a reminder job for later dispatch. The
// idempotency key makes re-delivered requests a no-op.
func reminderRequestedHandler(logger *slog.Logger, repo *jobs.Repository) consumer.Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var payload struct {
			AppointmentID string          `json:"appointment_id"`
			Channel       string          `json:"channel"`
			Recipient     string          `json:"recipient"`
			RemindAt      string          `json:"remind_at"`
			TemplateData  json.RawMessage `json:"template_data"`
		}
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid event payload", "err", err, "topic", msg.Topic)
			return nil
		}
		if payload.AppointmentID == "" || payload.Channel == "" || payload.Recipient == "" {
			logger.Error("reminder request missing required fields", "appointment_id", payload.AppointmentID)
			return nil
		}
		remindAt, err := time.Parse(time.RFC3339, payload.RemindAt)
		if err != nil {
			logger.Error("reminder request with bad remind_at", "value", payload.RemindAt)
			return nil
		}

		traceparent, tracestate := otelx.TraceContextStrings(ctx)
		job := jobs.Job{
			ID:             uuid.NewString(),
			AppointmentID:  payload.AppointmentID,
			Channel:        payload.Channel,
			Recipient:      payload.Recipient,
			TemplateName:   "appointment_reminder",
			TemplateData:   payload.TemplateData,
			RemindAt:       remindAt.UTC(),
			IdempotencyKey: payload.AppointmentID + "|" + remindAt.UTC().Format(time.RFC3339) + "|" + payload.Channel,
			Traceparent:    traceparent,
			Tracestate:     tracestate,
		}

		tx, err := repo.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		inserted, err := repo.Insert(ctx, tx, job)
		if err != nil {
			return err
		}
		if !inserted {
			logger.Info("duplicate reminder request ignored", "idempotency_key", job.IdempotencyKey)
		}
		return tx.Commit(ctx)
	}
}

// appointmentCancelledHandler drops pending reminders for appointments that
// will no longer happen.
func appointmentCancelledHandler(logger *slog.Logger, repo *jobs.Repository) consumer.Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var payload struct {
			AppointmentID string `json:"appointment_id"`
		}
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid event payload", "err", err, "topic", msg.Topic)
			return nil
		}
		if payload.AppointmentID == "" {
			logger.Error("cancellation event missing appointment_id")
			return nil
		}

		tx, err := repo.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		cancelled, err := repo.CancelByAppointment(ctx, tx, payload.AppointmentID)
		if err != nil {
			return err
		}
		if cancelled > 0 {
			logger.Info("cancelled pending reminders", "appointment_id", payload.AppointmentID, "count", cancelled)
		}
		return tx.Commit(ctx)
	}
}

type rescheduledEvent struct {
	AppointmentID string `json:"appointment_id"`
	FromDate      string `json:"from_date"`
	FromStart     string `json:"from_start"`
}

func parseRescheduledEvent(data []byte) (rescheduledEvent, error) {
	var evt rescheduledEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return rescheduledEvent{}, err
	}
	if evt.AppointmentID == "" || evt.FromDate == "" || evt.FromStart == "" {
		return rescheduledEvent{}, fmt.Errorf("rescheduled event missing appointment_id, from_date, or from_start")
	}
	return evt, nil
}

// appointmentRescheduledHandler drops pending reminders still pointing at
// the old slot. Reminders for the new slot arrive as separate requests with
// their own idempotency keys and are not touched.
func appointmentRescheduledHandler(logger *slog.Logger, repo *jobs.Repository) consumer.Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		evt, err := parseRescheduledEvent(msg.Value)
		if err != nil {
			logger.Error("invalid event payload", "err", err, "topic", msg.Topic)
			return nil
		}

		tx, err := repo.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		cancelled, err := repo.CancelBySlot(ctx, tx, evt.AppointmentID, evt.FromDate, evt.FromStart)
		if err != nil {
			return err
		}
		if cancelled > 0 {
			logger.Info("cancelled stale reminders after reschedule",
				"appointment_id", evt.AppointmentID, "from_date", evt.FromDate, "count", cancelled)
		}
		return tx.Commit(ctx)
	}
}
