package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/novadent/platform/libs/config"
	"github.com/novadent/platform/libs/consumer"
	"github.com/novadent/platform/libs/db"
	"github.com/novadent/platform/libs/httpx"
	"github.com/novadent/platform/libs/inbox"
	"github.com/novadent/platform/libs/kafkax"
	otelx "github.com/novadent/platform/libs/otel"
	"github.com/novadent/platform/libs/outbox"
	"github.com/novadent/platform/libs/runtime"
	"github.com/novadent/platform/services/billing-service/internal/handlers"
	"github.com/novadent/platform/services/billing-service/internal/payments"
	"github.com/novadent/platform/services/billing-service/internal/storage"
)

func main() {
	service := config.String("SERVICE_NAME", "billing-service")
	port, err := config.Port("PORT", "8084")
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

	paymentsCfg, err := payments.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid payment config", "err", err)
		panic(err)
	}

	repo := storage.NewRepository(pool)
	outboxRepo := outbox.NewRepository(pool)
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	inboxRepo := inbox.NewRepository(pool)
	bookedConsumer := consumer.New(logger, inboxRepo, consumer.Config{
		Brokers: config.String("KAFKA_BROKERS", ""),
		GroupID: config.String("KAFKA_GROUP_ID", "billing-service"),
		Topic:   "booking.appointment.booked.v1",
	}, appointmentBookedHandler(logger, repo, outboxRepo, paymentsCfg))
	go bookedConsumer.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	h := handlers.New(repo, outboxRepo, logger, handlers.Config{
		Payments:                      paymentsCfg,
		StripeWebhookSecret:           config.String("STRIPE_WEBHOOK_SECRET", ""),
		StripeWebhookToleranceSeconds: config.Int("STRIPE_WEBHOOK_TOLERANCE_SECONDS", 300),
		StripeSecretKey:               config.String("STRIPE_SECRET_KEY", ""),
		CheckoutSuccessURL:            config.String("CHECKOUT_SUCCESS_URL", ""),
		CheckoutCancelURL:             config.String("CHECKOUT_CANCEL_URL", ""),
	})
	mux.HandleFunc("/api/v1/billing/config", h.PaymentConfig)
	mux.HandleFunc("/api/v1/billing/checkout", h.CreateCheckout)
	mux.HandleFunc("/api/v1/billing/payment", h.PaymentStatus)
	mux.HandleFunc("/api/v1/billing/checkout/ack", h.AckCheckoutReturn)
	mux.HandleFunc("/api/v1/billing/webhooks/stripe", h.StripeWebhook)

	handler := httpx.Chain(mux,
		httpx.WithRecover(logger),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "billing")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
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

// appointmentBookedHandler opens a payment record for each new appointment.
// When online payment is disabled or the fee is zero there is nothing to
// collect, so the reservation is reported paid immediately and the booking
// service confirms the appointment.
func appointmentBookedHandler(logger *slog.Logger, repo *storage.Repository, outboxRepo *outbox.Repository, cfg payments.Config) consumer.Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var payload struct {
			AppointmentID string `json:"appointment_id"`
		}
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid event payload", "err", err, "topic", msg.Topic)
			return nil
		}
		if strings.TrimSpace(payload.AppointmentID) == "" {
			logger.Error("booked event missing appointment_id")
			return nil
		}

		waived := !cfg.EnableOnlinePayment || cfg.TotalCents() == 0
		status := "created"
		if waived {
			status = "waived"
		}

		tx, err := repo.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		if err := repo.CreatePayment(ctx, tx, storage.Payment{
			AppointmentID: payload.AppointmentID,
			AmountCents:   cfg.ReservationFeeCents,
			TaxCents:      cfg.TaxCents(),
			Currency:      cfg.Currency,
			Status:        status,
		}); err != nil {
			return err
		}

		if waived {
			evtPayload, err := json.Marshal(map[string]any{
				"appointment_id": payload.AppointmentID,
				"amount_cents":   0,
				"currency":       cfg.Currency,
				"paid_at":        time.Now().UTC().Format(time.RFC3339),
			})
			if err != nil {
				return err
			}
			if err := outboxRepo.Insert(ctx, tx, outbox.Event{
				AggregateType: "payment",
				AggregateID:   payload.AppointmentID,
				EventType:     "billing.reservation.paid.v1",
				Payload:       evtPayload,
			}); err != nil {
				return err
			}
		}

		return tx.Commit(ctx)
	}
}
