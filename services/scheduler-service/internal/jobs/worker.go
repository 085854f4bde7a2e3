package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	otelx "github.com/novadent/platform/libs/otel"
	"github.com/novadent/platform/libs/outbox"
)

const (
	defaultBatchSize   = 100
	defaultMaxAttempts = 5
	defaultBackoff     = 2 * time.Minute
)

// Worker polls for due reminder jobs and hands them to the notification
// pipeline through the outbox.
type Worker struct {
	repo        *Repository
	outboxRepo  *outbox.Repository
	logger      *slog.Logger
	interval    time.Duration
	batchSize   int
	maxAttempts int
	backoff     time.Duration
}

func NewWorker(repo *Repository, outboxRepo *outbox.Repository, logger *slog.Logger, interval time.Duration) *Worker {
	return &Worker{
		repo:        repo,
		outboxRepo:  outboxRepo,
		logger:      logger,
		interval:    interval,
		batchSize:   defaultBatchSize,
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultBackoff,
	}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.processBatch(ctx); err != nil {
				w.logger.Error("scheduler batch failed", "error", err)
			}
		}
	}
}

func (w *Worker) processBatch(ctx context.Context) error {
	tx, err := w.repo.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	jobs, err := w.repo.FetchDue(ctx, tx, time.Now().UTC(), w.batchSize)
	if err != nil {
		return err
	}

	for _, job := range jobs {
		jobCtx := otelx.ContextWithTraceContext(ctx, job.Traceparent, job.Tracestate)
		tracer := otel.Tracer("scheduler-service")
		spanCtx, span := tracer.Start(jobCtx, "scheduler.dispatch",
			trace.WithSpanKind(trace.SpanKindInternal))

		if err := w.dispatch(spanCtx, tx, job); err != nil {
			span.RecordError(err)
			span.End()
			attempts, abandoned, ferr := w.repo.MarkFailed(ctx, tx, job.ID, w.maxAttempts, w.backoff)
			if ferr != nil {
				return ferr
			}
			w.logger.Warn("reminder dispatch failed",
				"job_id", job.ID, "attempts", attempts, "abandoned", abandoned, "error", err)
			if abandoned {
				if derr := w.enqueueDLQ(spanCtx, tx, job, err); derr != nil {
					return derr
				}
			}
			continue
		}
		span.End()

		if err := w.repo.MarkProcessed(ctx, tx, job.ID); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	if len(jobs) > 0 {
		w.logger.Info("scheduler batch processed", "count", len(jobs))
	}
	return nil
}

// dispatch emits the due reminder to the notification pipeline. The outbox
// insert rides the same transaction as the job status update, so a reminder
// is either dispatched and marked processed or neither.
func (w *Worker) dispatch(ctx context.Context, tx pgx.Tx, job Job) error {
	payload, err := json.Marshal(map[string]any{
		"job_id":         job.ID,
		"appointment_id": job.AppointmentID,
		"channel":        job.Channel,
		"recipient":      job.Recipient,
		"template_name":  job.TemplateName,
		"template_data":  json.RawMessage(job.TemplateData),
		"remind_at":      job.RemindAt.Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return w.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "reminder",
		AggregateID:   job.AppointmentID,
		EventType:     "scheduler.reminder.due.v1",
		Payload:       payload,
	})
}

func (w *Worker) enqueueDLQ(ctx context.Context, tx pgx.Tx, job Job, cause error) error {
	payload, err := json.Marshal(map[string]any{
		"job_id":         job.ID,
		"appointment_id": job.AppointmentID,
		"channel":        job.Channel,
		"remind_at":      job.RemindAt.Format(time.RFC3339),
		"attempts":       job.Attempts + 1,
		"error":          cause.Error(),
	})
	if err != nil {
		return err
	}
	return w.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "reminder",
		AggregateID:   job.ID,
		EventType:     "scheduler.reminder.dlq.v1",
		Payload:       payload,
	})
}
