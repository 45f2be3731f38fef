package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/plm/crossbridge/api/middleware"
	"github.com/plm/crossbridge/apperr"
	"github.com/plm/crossbridge/fees"
	"github.com/plm/crossbridge/payment"
	"github.com/plm/crossbridge/quote"
)

// PaymentStore is the subset of the payment store the HTTP handlers need.
type PaymentStore interface {
	CreatePayment(ctx context.Context, p *payment.Payment) error
	GetPayment(ctx context.Context, id string) (*payment.Payment, error)
	TransitionStatus(ctx context.Context, paymentID string, to payment.Status, metadata []byte, txFields map[string]string, enqueueWebhook bool) (string, error)
}

// JobQueue is the subset of the NATS client the handlers publish onto.
type JobQueue interface {
	PublishPaymentJob(ctx context.Context, paymentID string) error
	PublishWebhookJob(ctx context.Context, deliveryID string) error
}

type PaymentHandler struct {
	store  PaymentStore
	quotes *quote.Service
	jobs   JobQueue
	log    zerolog.Logger
}

func NewPaymentHandler(store PaymentStore, quotes *quote.Service, jobs JobQueue, log zerolog.Logger) *PaymentHandler {
	return &PaymentHandler{store: store, quotes: quotes, jobs: jobs, log: log}
}

type initiateRequest struct {
	QuoteID             string  `json:"quote_id"`
	Amount              float64 `json:"amount"`
	DestinationCurrency string  `json:"destination_currency"`
	PaymentMethod       string  `json:"payment_method"`
	FeeHandling         string  `json:"fee_handling"`
}

type initiateResponse struct {
	PaymentID      string `json:"payment_id"`
	Status         string `json:"status"`
	QuoteExpiresAt string `json:"quote_expires_at"`
}

// Initiate computes a fresh fee/rate breakdown (the Quote Service is
// stateless per its own contract) and persists a new payment in
// INITIATED status. quote_id, if supplied, is reused as the payment's
// dedup key; otherwise a new one is minted.
func (h *PaymentHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, apperr.New(apperr.InvalidInput, "malformed request body"))
		return
	}

	mode := fees.HandlingMode(req.FeeHandling)
	if mode == "" {
		mode = fees.Inclusive
	}

	q, err := h.quotes.Generate(r.Context(), req.Amount, fees.Method(req.PaymentMethod), fees.Corridor(req.DestinationCurrency), mode)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	quoteID := req.QuoteID
	if quoteID == "" {
		quoteID = q.ID
	}

	now := time.Now()
	p := &payment.Payment{
		ID:                  uuid.NewString(),
		UserID:              middleware.UserID(r),
		QuoteID:             quoteID,
		SourceCurrency:      "USD",
		DestinationCurrency: req.DestinationCurrency,
		Amount:              req.Amount,
		PaymentMethod:       fees.Method(req.PaymentMethod),
		FeeHandling:         mode,
		FeeOnramp:           q.Breakdown.Onramp,
		FeeCorridor:         q.Breakdown.Corridor,
		FeePlatform:         q.Breakdown.Platform,
		FeeNetworkGas:       q.Breakdown.NetworkGas,
		FeeTotal:            q.Breakdown.Total,
		UsdcSent:            q.Breakdown.UsdcSent,
		ExchangeRate:        q.ExchangeRate,
		DestinationAmount:   q.DestinationAmount,
		QuoteExpiresAt:      now.Add(60 * time.Second),
		Status:              payment.StatusInitiated,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	if err := h.store.CreatePayment(r.Context(), p); err != nil {
		middleware.WriteError(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, initiateResponse{
		PaymentID:      p.ID,
		Status:         string(p.Status),
		QuoteExpiresAt: p.QuoteExpiresAt.UTC().Format(timeLayout),
	})
}

type confirmRequest struct {
	PaymentID string `json:"payment_id"`
}

type confirmResponse struct {
	PaymentID  string `json:"payment_id"`
	Status     string `json:"status"`
	Processing bool   `json:"processing"`
}

// Confirm transitions a payment from INITIATED to CONFIRMED and enqueues
// it for orchestration, failing with QuoteExpired if the 60-second quote
// lifetime has elapsed.
func (h *PaymentHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, apperr.New(apperr.InvalidInput, "malformed request body"))
		return
	}

	p, err := h.store.GetPayment(r.Context(), req.PaymentID)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	if time.Now().After(p.QuoteExpiresAt) {
		middleware.WriteError(w, apperr.New(apperr.QuoteExpired, "quote expired, initiate a new payment"))
		return
	}

	deliveryID, err := h.store.TransitionStatus(r.Context(), p.ID, payment.StatusConfirmed, nil, nil, true)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	if deliveryID != "" {
		if err := h.jobs.PublishWebhookJob(r.Context(), deliveryID); err != nil {
			h.log.Warn().Err(err).Str("delivery_id", deliveryID).Msg("failed to publish webhook job")
		}
	}

	if err := h.jobs.PublishPaymentJob(r.Context(), p.ID); err != nil {
		middleware.WriteError(w, apperr.Wrap(apperr.Internal, "failed to enqueue payment processing", err))
		return
	}

	middleware.WriteJSON(w, http.StatusOK, confirmResponse{
		PaymentID:  p.ID,
		Status:     string(payment.StatusConfirmed),
		Processing: true,
	})
}
