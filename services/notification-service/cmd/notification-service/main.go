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
	"github.com/novadent/platform/services/notification-service/internal/email"
	"github.com/novadent/platform/services/notification-service/internal/sms"
	"github.com/novadent/platform/services/notification-service/internal/storage"
	"github.com/novadent/platform/services/notification-service/internal/templates"
)

// dispatcher delivers one message per channel, records the attempt, and
// publishes the delivery outcome event.
type dispatcher struct {
	pool        *db.Pool
	logger      *slog.Logger
	repo        *storage.Repository
	outboxRepo  *outbox.Repository
	emailSender email.Sender
	smsSender   sms.Sender
	failSuffix  string
}

func (d *dispatcher) deliver(ctx context.Context, appointmentID, templateName, channel, recipient string, data map[string]any) error {
	channel = strings.ToLower(channel)

	status := "sent"
	failureReason := ""
	providerID := ""

	// Test hook: recipients matching the configured suffix fail without a
	// real send, so the failure path can be exercised end to end.
	if d.failSuffix != "" && strings.HasSuffix(recipient, d.failSuffix) {
		status = "failed"
		failureReason = "simulated failure"
	}

	if status == "sent" {
		msg, err := templates.Render(templateName, templates.DataFromMap(data))
		if err != nil {
			status = "failed"
			failureReason = err.Error()
			d.logger.Error("template render failed", "err", err, "template", templateName)
		} else {
			switch channel {
			case "email":
				if err := d.emailSender.Send(recipient, msg.Subject, msg.Body); err != nil {
					status = "failed"
					failureReason = err.Error()
					d.logger.Error("email send failed", "err", err, "recipient", recipient)
				} else {
					providerID = "smtp"
				}
			case "sms":
				if err := d.smsSender.Send(ctx, recipient, msg.SMS); err != nil {
					status = "failed"
					failureReason = err.Error()
					d.logger.Error("sms send failed", "err", err, "recipient", recipient)
				} else {
					providerID = d.smsSender.ProviderID()
				}
			default:
				status = "failed"
				failureReason = "unsupported channel: " + channel
				d.logger.Error("unsupported channel", "channel", channel)
			}
		}
	}

	if err := d.repo.Insert(ctx, storage.Notification{
		AppointmentID: appointmentID,
		Channel:       channel,
		Recipient:     recipient,
		TemplateName:  templateName,
		Payload:       data,
		Status:        status,
		FailureReason: failureReason,
		ProviderID:    providerID,
	}); err != nil {
		d.logger.Error("failed to persist notification", "err", err)
		return err
	}

	if err := d.publishOutcome(ctx, appointmentID, channel, status, providerID, failureReason); err != nil {
		d.logger.Error("failed to enqueue delivery outcome", "err", err)
		return err
	}

	d.logger.Info("notification processed",
		"appointment_id", appointmentID, "template", templateName, "channel", channel, "status", status)
	return nil
}

func (d *dispatcher) publishOutcome(ctx context.Context, appointmentID, channel, status, providerID, failureReason string) error {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	eventType := "notification.sent.v1"
	fields := map[string]any{
		"appointment_id": appointmentID,
		"channel":        channel,
	}
	if status == "failed" {
		eventType = "notification.failed.v1"
		fields["error_reason"] = failureReason
		fields["failed_at"] = time.Now().UTC().Format(time.RFC3339)
	} else {
		if providerID == "" {
			providerID = "unknown"
		}
		fields["provider_id"] = providerID
		fields["sent_at"] = time.Now().UTC().Format(time.RFC3339)
	}
	payload, err := json.Marshal(fields)
	if err != nil {
		return err
	}

	if err := d.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "notification",
		AggregateID:   appointmentID,
		EventType:     eventType,
		Payload:       payload,
	}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// reminderDueHandler delivers reminders the scheduler marked as due.
func reminderDueHandler(d *dispatcher) consumer.Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var payload struct {
			AppointmentID string         `json:"appointment_id"`
			Channel       string         `json:"channel"`
			Recipient     string         `json:"recipient"`
			TemplateName  string         `json:"template_name"`
			TemplateData  map[string]any `json:"template_data"`
			RemindAt      string         `json:"remind_at"`
		}
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			d.logger.Error("invalid reminder payload", "err", err)
			return nil
		}
		if payload.AppointmentID == "" || payload.Channel == "" || payload.Recipient == "" {
			d.logger.Error("reminder missing required fields", "appointment_id", payload.AppointmentID)
			return nil
		}
		if payload.TemplateName == "" {
			payload.TemplateName = "appointment_reminder"
		}
		return d.deliver(ctx, payload.AppointmentID, payload.TemplateName, payload.Channel, payload.Recipient, payload.TemplateData)
	}
}

type appointmentEvent struct {
	AppointmentID string `json:"appointment_id"`
	ServiceName   string `json:"service_name"`
	PatientName   string `json:"patient_name"`
	PatientEmail  string `json:"patient_email"`
	PatientPhone  string `json:"patient_phone"`
	Date          string `json:"date"`
	ToDate        string `json:"to_date"`
	StartTime     string `json:"start_time"`
	Code          string `json:"confirmation_code"`
	Reason        string `json:"reason"`
}

// appointmentEventHandler sends an immediate confirmation for lifecycle
// events published by the booking service.
func appointmentEventHandler(d *dispatcher, templateName string) consumer.Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var evt appointmentEvent
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			d.logger.Error("invalid appointment event", "err", err, "topic", msg.Topic)
			return nil
		}
		if evt.AppointmentID == "" {
			d.logger.Error("appointment event missing appointment_id", "topic", msg.Topic)
			return nil
		}

		date := evt.Date
		if evt.ToDate != "" {
			date = evt.ToDate
		}
		data := map[string]any{
			"patient_name":      evt.PatientName,
			"service_name":      evt.ServiceName,
			"date":              date,
			"start_time":        evt.StartTime,
			"confirmation_code": evt.Code,
			"reason":            evt.Reason,
		}

		if strings.TrimSpace(evt.PatientEmail) != "" {
			if err := d.deliver(ctx, evt.AppointmentID, templateName, "email", evt.PatientEmail, data); err != nil {
				return err
			}
		}
		if strings.TrimSpace(evt.PatientPhone) != "" {
			if err := d.deliver(ctx, evt.AppointmentID, templateName, "sms", evt.PatientPhone, data); err != nil {
				return err
			}
		}
		return nil
	}
}

func main() {
	service := config.String("SERVICE_NAME", "notification-service")
	port, err := config.Port("PORT", "8085")
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

	outboxRepo := outbox.NewRepository(pool)
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	smtpHost := config.String("SMTP_HOST", "mailpit")
	smtpPort := config.String("SMTP_PORT", "1025")
	smtpFrom := config.String("SMTP_FROM", "no-reply@novadent.local")

	smsWebhookURL := config.String("SMS_WEBHOOK_URL", "")
	smsWebhookToken := config.String("SMS_WEBHOOK_TOKEN", "")
	var smsSender sms.Sender
	switch strings.ToLower(config.String("SMS_PROVIDER", "noop")) {
	case "noop":
		smsSender = sms.NewNoopSender()
	default:
		smsSender = sms.NewWebhookSender(smsWebhookURL, smsWebhookToken)
	}

	d := &dispatcher{
		pool:        pool,
		logger:      logger,
		repo:        storage.NewRepository(pool),
		outboxRepo:  outboxRepo,
		emailSender: email.NewSMTPSender(smtpHost, smtpPort, smtpFrom),
		smsSender:   smsSender,
		failSuffix:  config.String("NOTIFICATION_FAIL_SUFFIX", ""),
	}

	inboxRepo := inbox.NewRepository(pool)
	startConsumer := func(topic string, handler consumer.Handler) {
		if strings.TrimSpace(topic) == "" {
			return
		}
		c := consumer.New(logger, inboxRepo, consumer.Config{
			Brokers: config.String("KAFKA_BROKERS", ""),
			GroupID: config.String("KAFKA_GROUP_ID", "notification-service"),
			Topic:   topic,
		}, handler)
		go c.Run(ctx)
	}

	startConsumer("scheduler.reminder.due.v1", reminderDueHandler(d))
	startConsumer("booking.appointment.booked.v1", appointmentEventHandler(d, "appointment_booked"))
	startConsumer("booking.appointment.rescheduled.v1", appointmentEventHandler(d, "appointment_rescheduled"))
	startConsumer("booking.appointment.cancelled.v1", appointmentEventHandler(d, "appointment_cancelled"))

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	handler := httpx.Chain(mux,
		httpx.WithRecover(logger),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "notification")
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
