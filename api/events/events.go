// Package events streams payment lifecycle events over SSE. There is no
// pub/sub fan-out here by design: each connection polls the event log
// directly rather than registering for a broadcast channel, since
// Postgres is already the single source of truth for event order.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/plm/crossbridge/apperr"
	"github.com/plm/crossbridge/payment"
)

const pollInterval = 500 * time.Millisecond

// Store is the subset of the payment store the SSE handlers read from.
type Store interface {
	GetPayment(ctx context.Context, id string) (*payment.Payment, error)
	ListEventsSince(ctx context.Context, paymentID string, since time.Time) ([]payment.Event, error)
	ListPaymentIDsForUser(ctx context.Context, userID string, limit int) ([]string, error)
}

type Handler struct {
	store Store
	log   zerolog.Logger
}

func NewHandler(store Store, log zerolog.Logger) *Handler {
	return &Handler{store: store, log: log}
}

type eventFrame struct {
	ID        string          `json:"id"`
	PaymentID string          `json:"payment_id"`
	EventType string          `json:"event_type"`
	Status    string          `json:"status"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func toFrame(e payment.Event) eventFrame {
	return eventFrame{
		ID:        e.ID,
		PaymentID: e.PaymentID,
		EventType: e.EventType,
		Status:    string(e.Status),
		Metadata:  e.Metadata,
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}

func writeSSE(w http.ResponseWriter, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if event != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

// PaymentEvents streams the event log for a single payment: an initial
// burst of every event recorded so far, oldest first, then newly
// appended events every pollInterval. The stream closes itself once the
// payment reaches a terminal state, after emitting one final
// payment.complete frame.
func (h *Handler) PaymentEvents(w http.ResponseWriter, r *http.Request) {
	paymentID := r.PathValue("paymentId")
	if paymentID == "" {
		writeJSONError(w, apperr.New(apperr.InvalidInput, "missing payment id"))
		return
	}

	if _, err := h.store.GetPayment(r.Context(), paymentID); err != nil {
		writeJSONError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, apperr.New(apperr.Internal, "streaming unsupported"))
		return
	}
	prepareSSEHeaders(w)

	ctx := r.Context()
	since := time.Unix(0, 0)

	for {
		evts, err := h.store.ListEventsSince(ctx, paymentID, since)
		if err != nil {
			h.log.Warn().Err(err).Str("payment_id", paymentID).Msg("event poll failed")
		}
		for _, e := range evts {
			if err := writeSSE(w, "payment.event", toFrame(e)); err != nil {
				return
			}
			since = e.Timestamp.Add(time.Nanosecond)
		}
		flusher.Flush()

		p, err := h.store.GetPayment(ctx, paymentID)
		if err == nil && p.Status.IsTerminal() {
			writeSSE(w, "payment.complete", toFrame(payment.Event{
				PaymentID: paymentID,
				EventType: "payment.complete",
				Status:    p.Status,
				Timestamp: time.Now(),
			}))
			flusher.Flush()
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(pollInterval):
		}
	}
}

type userPaymentFrame struct {
	eventFrame
	Payment paymentSummary `json:"payment"`
}

type paymentSummary struct {
	ID                  string  `json:"id"`
	Status              string  `json:"status"`
	Amount              float64 `json:"amount"`
	DestinationCurrency string  `json:"destination_currency"`
	DestinationAmount   float64 `json:"destination_amount"`
	CreatedAt           string  `json:"created_at"`
}

// UserEvents streams every event across every payment belonging to a
// user, then live as new payments and events appear. The initial burst
// is newest first: payments most recently created first, and each
// payment's events newest first; events of different payments are not
// interleaved by timestamp. It never closes voluntarily; the caller
// disconnects when done.
func (h *Handler) UserEvents(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	if userID == "" {
		writeJSONError(w, apperr.New(apperr.InvalidInput, "missing user id"))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, apperr.New(apperr.Internal, "streaming unsupported"))
		return
	}
	prepareSSEHeaders(w)

	ctx := r.Context()
	watermarks := map[string]time.Time{}
	first := true

	for {
		ids, err := h.store.ListPaymentIDsForUser(ctx, userID, 200)
		if err != nil {
			h.log.Warn().Err(err).Str("user_id", userID).Msg("payment list poll failed")
		}
		for _, id := range ids {
			h.emitUserBurst(ctx, w, id, watermarks, first)
		}
		first = false
		flusher.Flush()

		select {
		case <-ctx.Done():
			return
		case <-time.After(pollInterval):
		}
	}
}

func (h *Handler) emitUserBurst(ctx context.Context, w http.ResponseWriter, paymentID string, watermarks map[string]time.Time, newestFirst bool) {
	since, ok := watermarks[paymentID]
	if !ok {
		since = time.Unix(0, 0)
	}

	evts, err := h.store.ListEventsSince(ctx, paymentID, since)
	if err != nil || len(evts) == 0 {
		return
	}

	p, err := h.store.GetPayment(ctx, paymentID)
	if err != nil {
		return
	}

	for i := range evts {
		e := evts[i]
		if newestFirst {
			e = evts[len(evts)-1-i]
		}
		frame := userPaymentFrame{
			eventFrame: toFrame(e),
			Payment: paymentSummary{
				ID:                  p.ID,
				Status:              string(p.Status),
				Amount:              p.Amount,
				DestinationCurrency: p.DestinationCurrency,
				DestinationAmount:   p.DestinationAmount,
				CreatedAt:           p.CreatedAt.UTC().Format(time.RFC3339Nano),
			},
		}
		writeSSE(w, "user.event", frame)
	}
	watermarks[paymentID] = evts[len(evts)-1].Timestamp.Add(time.Nanosecond)
}

func prepareSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
}

func writeJSONError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error(), "code": string(kind)})
}
