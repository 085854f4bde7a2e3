package handlers

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stripe/stripe-go/v79"
	checkoutsession "github.com/stripe/stripe-go/v79/checkout/session"

	"github.com/novadent/platform/libs/outbox"
	"github.com/novadent/platform/services/billing-service/internal/payments"
	"github.com/novadent/platform/services/billing-service/internal/storage"
)

type Handler struct {
	repo                   *storage.Repository
	outboxRepo             *outbox.Repository
	logger                 *slog.Logger
	payments               payments.Config
	stripeWebhookSecret    string
	stripeWebhookTolerance time.Duration
	stripeSecretKey        string
	checkoutSuccessURL     string
	checkoutCancelURL      string
}

type Config struct {
	Payments                      payments.Config
	StripeWebhookSecret           string
	StripeWebhookToleranceSeconds int
	StripeSecretKey               string
	CheckoutSuccessURL            string
	CheckoutCancelURL             string
}

func New(repo *storage.Repository, outboxRepo *outbox.Repository, logger *slog.Logger, cfg Config) *Handler {
	tolSeconds := cfg.StripeWebhookToleranceSeconds
	if tolSeconds <= 0 {
		tolSeconds = 300
	}
	return &Handler{
		repo:                   repo,
		outboxRepo:             outboxRepo,
		logger:                 logger,
		payments:               cfg.Payments,
		stripeWebhookSecret:    strings.TrimSpace(cfg.StripeWebhookSecret),
		stripeWebhookTolerance: time.Duration(tolSeconds) * time.Second,
		stripeSecretKey:        strings.TrimSpace(cfg.StripeSecretKey),
		checkoutSuccessURL:     strings.TrimSpace(cfg.CheckoutSuccessURL),
		checkoutCancelURL:      strings.TrimSpace(cfg.CheckoutCancelURL),
	}
}

// PaymentConfig exposes the fee policy so the booking UI can show the
// reservation fee before checkout.
func (h *Handler) PaymentConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reservation_fee_cents": h.payments.ReservationFeeCents,
		"tax_rate_basis_points": h.payments.TaxRateBasisPoints,
		"tax_cents":             h.payments.TaxCents(),
		"total_cents":           h.payments.TotalCents(),
		"currency":              h.payments.Currency,
		"enable_online_payment": h.payments.EnableOnlinePayment,
	})
}

type checkoutRequest struct {
	AppointmentID string `json:"appointment_id"`
	SuccessURL    string `json:"success_url,omitempty"`
	CancelURL     string `json:"cancel_url,omitempty"`
}

// CreateCheckout opens a Stripe Checkout session for an appointment's
// reservation fee.
func (h *Handler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.payments.EnableOnlinePayment {
		http.Error(w, "online payment is disabled", http.StatusNotImplemented)
		return
	}
	if h.stripeSecretKey == "" {
		http.Error(w, "stripe checkout not configured (STRIPE_SECRET_KEY missing)", http.StatusNotImplemented)
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.AppointmentID == "" {
		http.Error(w, "appointment_id is required", http.StatusBadRequest)
		return
	}

	payment, err := h.repo.GetPayment(r.Context(), req.AppointmentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			http.Error(w, "no payment due for appointment", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load payment", http.StatusInternalServerError)
		return
	}
	if payment.Status == "paid" {
		http.Error(w, "payment already completed", http.StatusConflict)
		return
	}

	successURL := strings.TrimSpace(req.SuccessURL)
	if successURL == "" {
		successURL = h.checkoutSuccessURL
	}
	cancelURL := strings.TrimSpace(req.CancelURL)
	if cancelURL == "" {
		cancelURL = h.checkoutCancelURL
	}
	if successURL == "" || cancelURL == "" {
		http.Error(w, "success_url and cancel_url are required (or configure default URLs)", http.StatusBadRequest)
		return
	}

	// Protect the public return pages from session-id guessing / tampering.
	returnToken := newReturnToken()
	successURL = withQueryParam(successURL, "state", returnToken)
	cancelURL = withQueryParam(cancelURL, "state", returnToken)

	// Stripe uses a global API key. Keep usage limited to this handler call.
	stripe.Key = h.stripeSecretKey

	// Stripe-level idempotency: allows safe retries.
	idemKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idemKey == "" {
		idemKey = "reservation:" + req.AppointmentID
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(successURL),
		CancelURL:         stripe.String(cancelURL),
		ClientReferenceID: stripe.String(req.AppointmentID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(payment.Currency),
					UnitAmount: stripe.Int64(payment.AmountCents + payment.TaxCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String("Appointment reservation fee"),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		Metadata: map[string]string{
			"appointment_id": req.AppointmentID,
		},
	}
	params.AddExpand("url")
	params.IdempotencyKey = stripe.String(idemKey)

	sess, err := checkoutsession.New(params)
	if err != nil {
		h.logger.Error("stripe checkout session create failed", "err", err)
		http.Error(w, "failed to create checkout session", http.StatusBadGateway)
		return
	}

	tx, err := h.repo.Begin(r.Context())
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(r.Context()) }()
	if err := h.repo.AttachCheckoutSession(r.Context(), tx, req.AppointmentID, sess.ID, sess.URL, returnToken); err != nil {
		http.Error(w, "failed to persist checkout session", http.StatusInternalServerError)
		return
	}
	if err := h.recordAudit(r.Context(), tx, r, "billing.checkout.created", "", req.AppointmentID, map[string]any{
		"stripe_session_id": sess.ID,
		"amount_cents":      payment.AmountCents,
		"tax_cents":         payment.TaxCents,
		"currency":          payment.Currency,
	}); err != nil {
		http.Error(w, "failed to record audit event", http.StatusInternalServerError)
		return
	}
	if err := tx.Commit(r.Context()); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sess.ID,
		"url":        sess.URL,
	})
}

// PaymentStatus is intentionally public: Stripe redirects the customer
// without a JWT. It returns non-sensitive state only.
func (h *Handler) PaymentStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	appointmentID := strings.TrimSpace(r.URL.Query().Get("appointment_id"))
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if appointmentID == "" && sessionID == "" {
		http.Error(w, "appointment_id or session_id is required", http.StatusBadRequest)
		return
	}

	var payment storage.Payment
	var err error
	if appointmentID != "" {
		payment, err = h.repo.GetPayment(r.Context(), appointmentID)
	} else {
		payment, err = h.repo.GetPaymentBySession(r.Context(), sessionID)
	}
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load payment", http.StatusInternalServerError)
		return
	}

	resp := map[string]any{
		"appointment_id": payment.AppointmentID,
		"amount_cents":   payment.AmountCents,
		"tax_cents":      payment.TaxCents,
		"currency":       payment.Currency,
		"status":         payment.Status,
		"updated_at":     payment.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if payment.PaidAt != nil {
		resp["paid_at"] = payment.PaidAt.UTC().Format(time.RFC3339)
	}
	if payment.ExpiredAt != nil {
		resp["expired_at"] = payment.ExpiredAt.UTC().Format(time.RFC3339)
	}
	if payment.CanceledAt != nil {
		resp["canceled_at"] = payment.CanceledAt.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

type checkoutAckRequest struct {
	SessionID string `json:"session_id"`
	State     string `json:"state"`
	Result    string `json:"result"` // success | cancel
}

// AckCheckoutReturn is public but protected by the per-session return_token (state).
func (h *Handler) AckCheckoutReturn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req checkoutAckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.SessionID = strings.TrimSpace(req.SessionID)
	req.State = strings.TrimSpace(req.State)
	req.Result = strings.TrimSpace(strings.ToLower(req.Result))
	if req.SessionID == "" || req.State == "" {
		http.Error(w, "session_id and state are required", http.StatusBadRequest)
		return
	}
	if req.Result != "success" && req.Result != "cancel" {
		http.Error(w, "invalid result", http.StatusBadRequest)
		return
	}

	tx, err := h.repo.Begin(r.Context())
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(r.Context()) }()

	if err := h.repo.AckCheckoutReturn(r.Context(), tx, req.SessionID, req.State, req.Result, time.Now().UTC()); err != nil {
		http.Error(w, "failed to record return", http.StatusInternalServerError)
		return
	}
	if err := tx.Commit(r.Context()); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func newReturnToken() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	// URL-safe, no padding.
	return base64.RawURLEncoding.EncodeToString(b[:])
}

func withQueryParam(rawURL string, key string, value string) string {
	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + key + "=" + url.QueryEscape(value)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) recordAudit(ctx context.Context, tx pgx.Tx, r *http.Request, eventType string, actorType string, appointmentID string, metadata map[string]any) error {
	if actorType == "" {
		actorType = strings.TrimSpace(r.Header.Get("X-Role"))
	}
	if actorType == "" {
		actorType = "system"
	}
	actorID := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if metadata == nil {
		metadata = map[string]any{}
	}
	if reqID := strings.TrimSpace(r.Header.Get("X-Request-Id")); reqID != "" {
		metadata["request_id"] = reqID
	}
	raw, _ := json.Marshal(metadata)
	return h.repo.InsertAuditEvent(ctx, tx, storage.AuditEvent{
		EventType:     eventType,
		ActorType:     actorType,
		ActorID:       actorID,
		AppointmentID: appointmentID,
		Metadata:      raw,
	})
}
