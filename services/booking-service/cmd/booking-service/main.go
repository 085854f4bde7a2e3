package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/novadent/platform/libs/clock"
	"github.com/novadent/platform/libs/config"
	"github.com/novadent/platform/libs/consumer"
	"github.com/novadent/platform/libs/db"
	"github.com/novadent/platform/libs/httpx"
	"github.com/novadent/platform/libs/inbox"
	"github.com/novadent/platform/libs/kafkax"
	otelx "github.com/novadent/platform/libs/otel"
	"github.com/novadent/platform/libs/outbox"
	"github.com/novadent/platform/libs/runtime"
	"github.com/novadent/platform/services/booking-service/internal/handlers"
	"github.com/novadent/platform/services/booking-service/internal/model"
	"github.com/novadent/platform/services/booking-service/internal/policy"
	"github.com/novadent/platform/services/booking-service/internal/scheduling"
	"github.com/novadent/platform/services/booking-service/internal/storage"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func parseReminderOffsets(raw string, logger *slog.Logger) []time.Duration {
	var offsets []time.Duration
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		mins, err := strconv.Atoi(part)
		if err != nil || mins <= 0 {
			logger.Warn("invalid reminder offset", "value", part)
			continue
		}
		offsets = append(offsets, time.Duration(mins)*time.Minute)
	}
	if len(offsets) == 0 {
		offsets = []time.Duration{24 * time.Hour}
	}
	return offsets
}

func main() {
	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8083")
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

	repo := storage.NewBookingRepository(pool)
	schedules := storage.NewScheduleRepository(pool)
	outboxRepo := outbox.NewRepository(pool)

	offsets := parseReminderOffsets(config.String("REMINDER_OFFSETS_MINUTES", "1440,60"), logger)
	maxReschedules := config.Int("MAX_RESCHEDULES", policy.DefaultMaxReschedules)
	policyProvider, err := policy.NewClinicPolicyProvider(logger, offsets, maxReschedules, config.String("CLINIC_GRPC_ADDR", ""))
	if err != nil {
		logger.Error("policy provider init failed", "err", err)
		policyProvider = policy.NewStaticProvider(offsets, maxReschedules)
	}
	schedulingProvider, err := scheduling.NewProvider(config.String("CLINIC_GRPC_ADDR", ""))
	if err != nil {
		logger.Error("scheduling provider init failed; time off checks disabled", "err", err)
		schedulingProvider = nil
	}

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	inboxRepo := inbox.NewRepository(pool)
	startConsumer := func(topic string, handler consumer.Handler) {
		if strings.TrimSpace(topic) == "" {
			return
		}
		c := consumer.New(logger, inboxRepo, consumer.Config{
			Brokers: config.String("KAFKA_BROKERS", ""),
			GroupID: config.String("KAFKA_GROUP_ID", "booking-service"),
			Topic:   topic,
		}, handler)
		go c.Run(ctx)
	}

	startConsumer("clinic.schedule.updated.v1", scheduleUpdatedHandler(logger, pool, schedules))
	startConsumer("clinic.service.upserted.v1", serviceUpsertedHandler(logger, pool, schedules))
	startConsumer("billing.reservation.paid.v1", reservationPaidHandler(logger, repo))

	bookingHandler := handlers.NewBookingHandler(repo, schedules, outboxRepo, logger, policyProvider, schedulingProvider)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	mux.HandleFunc("/api/v1/public/slots", bookingHandler.Slots)
	mux.HandleFunc("/api/v1/public/book", bookingHandler.Create)
	mux.HandleFunc("/api/v1/public/appointment", bookingHandler.Lookup)
	mux.HandleFunc("/api/v1/appointments", bookingHandler.List)
	mux.HandleFunc("/api/v1/appointments/confirm", bookingHandler.Confirm)
	mux.HandleFunc("/api/v1/appointments/complete", bookingHandler.Complete)
	mux.HandleFunc("/api/v1/appointments/no-show", bookingHandler.NoShow)
	mux.HandleFunc("/api/v1/appointments/cancel", bookingHandler.Cancel)
	mux.HandleFunc("/api/v1/appointments/reschedule", bookingHandler.Reschedule)
	httpHandler := httpx.Chain(mux,
		httpx.WithRecover(logger),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
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

// scheduleUpdatedHandler keeps the local schedule cache in sync with the
// clinic service. Invalid entries are dropped with a warning rather than
// poisoning the consumer.
func scheduleUpdatedHandler(logger *slog.Logger, pool *db.Pool, schedules *storage.ScheduleRepository) consumer.Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var payload struct {
			ProviderID     string  `json:"provider_id"`
			Weekday        int     `json:"weekday"`
			IsAvailable    bool    `json:"is_available"`
			StartTime      string  `json:"start_time"`
			EndTime        string  `json:"end_time"`
			BreakStartTime *string `json:"break_start_time"`
			BreakEndTime   *string `json:"break_end_time"`
		}
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid event payload", "err", err, "topic", msg.Topic)
			return nil
		}

		entry := model.ScheduleEntry{
			ProviderID:  payload.ProviderID,
			Weekday:     payload.Weekday,
			IsAvailable: payload.IsAvailable,
		}
		if payload.IsAvailable {
			start, err := clock.ParseHHMM(payload.StartTime)
			if err != nil {
				logger.Warn("schedule event with bad start_time", "value", payload.StartTime)
				return nil
			}
			end, err := clock.ParseHHMM(payload.EndTime)
			if err != nil {
				logger.Warn("schedule event with bad end_time", "value", payload.EndTime)
				return nil
			}
			entry.StartMinute = start
			entry.EndMinute = end
			if payload.BreakStartTime != nil && payload.BreakEndTime != nil {
				bs, err1 := clock.ParseHHMM(*payload.BreakStartTime)
				be, err2 := clock.ParseHHMM(*payload.BreakEndTime)
				if err1 != nil || err2 != nil {
					logger.Warn("schedule event with bad break window", "provider_id", payload.ProviderID)
					return nil
				}
				entry.BreakStart = &bs
				entry.BreakEnd = &be
			}
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		if err := schedules.UpsertScheduleEntry(ctx, tx, entry); err != nil {
			logger.Warn("rejected schedule entry", "err", err, "provider_id", payload.ProviderID, "weekday", payload.Weekday)
			return nil
		}
		return tx.Commit(ctx)
	}
}

func serviceUpsertedHandler(logger *slog.Logger, pool *db.Pool, schedules *storage.ScheduleRepository) consumer.Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var payload struct {
			ServiceID       string `json:"service_id"`
			Name            string `json:"name"`
			DurationMinutes int    `json:"duration_minutes"`
			Active          bool   `json:"active"`
		}
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid event payload", "err", err, "topic", msg.Topic)
			return nil
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		if err := schedules.UpsertService(ctx, tx, model.Service{
			ID:              payload.ServiceID,
			Name:            payload.Name,
			DurationMinutes: payload.DurationMinutes,
			Active:          payload.Active,
		}); err != nil {
			logger.Warn("rejected service entry", "err", err, "service_id", payload.ServiceID)
			return nil
		}
		return tx.Commit(ctx)
	}
}

// reservationPaidHandler confirms a pending appointment once the billing
// service reports its reservation fee as paid.
func reservationPaidHandler(logger *slog.Logger, repo *storage.BookingRepository) consumer.Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var payload struct {
			AppointmentID string `json:"appointment_id"`
		}
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid event payload", "err", err, "topic", msg.Topic)
			return nil
		}
		if payload.AppointmentID == "" {
			logger.Error("reservation paid event missing appointment_id")
			return nil
		}

		tx, err := repo.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		appt, err := repo.GetAppointmentForUpdate(ctx, tx, payload.AppointmentID)
		if err != nil {
			if storage.IsNotFound(err) {
				logger.Warn("reservation paid for unknown appointment", "appointment_id", payload.AppointmentID)
				return nil
			}
			return err
		}
		if appt.Status != model.StatusPending {
			logger.Info("reservation paid ignored for non-pending appointment",
				"appointment_id", appt.ID, "status", appt.Status)
			return nil
		}
		if err := repo.UpdateStatus(ctx, tx, appt.ID, model.StatusConfirmed); err != nil {
			return err
		}
		return tx.Commit(ctx)
	}
}
