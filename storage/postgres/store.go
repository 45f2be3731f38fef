package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/plm/crossbridge/apperr"
	"github.com/plm/crossbridge/fees"
	"github.com/plm/crossbridge/payment"
)

// Store is the Payment/Event/WebhookDelivery repository built on top of
// Client's connection pool.
type Store struct {
	client *Client
}

func NewStore(client *Client) *Store {
	return &Store{client: client}
}

// CreatePayment inserts a new payment row in INITIATED status and its
// opening event, in one transaction. quote_id is unique, so replaying the
// same quote a second time surfaces as a constraint violation, returned
// as an apperr.Internal insert failure.
func (s *Store) CreatePayment(ctx context.Context, p *payment.Payment) error {
	now := p.CreatedAt

	tx, err := s.client.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO payments (
			id, user_id, quote_id, source_currency, destination_currency, amount,
			payment_method, fee_handling, fee_onramp, fee_corridor, fee_platform,
			fee_network_gas, fee_total, usdc_sent, exchange_rate, destination_amount,
			quote_expires_at, status, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
	`,
		p.ID, p.UserID, p.QuoteID, p.SourceCurrency, p.DestinationCurrency, p.Amount,
		string(p.PaymentMethod), string(p.FeeHandling), p.FeeOnramp, p.FeeCorridor, p.FeePlatform,
		p.FeeNetworkGas, p.FeeTotal, p.UsdcSent, p.ExchangeRate, p.DestinationAmount,
		p.QuoteExpiresAt, string(p.Status), now, now,
	)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "failed to insert payment", err)
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO events (id, payment_id, event_type, status, metadata, timestamp) VALUES ($1,$2,$3,$4,$5,$6)",
		uuid.NewString(), p.ID, p.Status.EventType(), string(p.Status), json.RawMessage("{}"), now,
	)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "failed to insert opening event", err)
	}

	if err := tx.Commit(); err != nil {
		return apperr.Wrap(apperr.Internal, "failed to commit payment creation", err)
	}
	return nil
}

// GetPayment loads a payment by id.
func (s *Store) GetPayment(ctx context.Context, id string) (*payment.Payment, error) {
	row := s.client.db.QueryRowContext(ctx, paymentSelectColumns+" FROM payments WHERE id = $1", id)
	return scanPayment(row)
}

// GetPaymentByQuoteID looks up a payment created from a given quote. The
// initiate handler does not call it; a reused quote_id is caught by the
// unique constraint in CreatePayment instead.
func (s *Store) GetPaymentByQuoteID(ctx context.Context, quoteID string) (*payment.Payment, error) {
	row := s.client.db.QueryRowContext(ctx, paymentSelectColumns+" FROM payments WHERE quote_id = $1", quoteID)
	return scanPayment(row)
}

// ListPaymentIDsForUser returns payment ids for a user, most recent first.
func (s *Store) ListPaymentIDsForUser(ctx context.Context, userID string, limit int) ([]string, error) {
	rows, err := s.client.db.QueryContext(ctx,
		"SELECT id FROM payments WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2", userID, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to list payments", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Wrap(apperr.Internal, "failed to scan payment id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const paymentSelectColumns = `SELECT
	id, user_id, quote_id, source_currency, destination_currency, amount,
	payment_method, fee_handling, fee_onramp, fee_corridor, fee_platform,
	fee_network_gas, fee_total, usdc_sent, exchange_rate, destination_amount,
	quote_expires_at, status, onramp_tx_id, offramp_tx_id, created_at, updated_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (*payment.Payment, error) {
	var p payment.Payment
	var method, handling, status string
	var onrampTxID, offrampTxID sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(
		&p.ID, &p.UserID, &p.QuoteID, &p.SourceCurrency, &p.DestinationCurrency, &p.Amount,
		&method, &handling, &p.FeeOnramp, &p.FeeCorridor, &p.FeePlatform,
		&p.FeeNetworkGas, &p.FeeTotal, &p.UsdcSent, &p.ExchangeRate, &p.DestinationAmount,
		&p.QuoteExpiresAt, &status, &onrampTxID, &offrampTxID, &p.CreatedAt, &p.UpdatedAt, &completedAt,
	)
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.NotFound, "payment not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to scan payment", err)
	}

	p.PaymentMethod = fees.Method(method)
	p.FeeHandling = fees.HandlingMode(handling)
	p.Status = payment.Status(status)
	p.OnrampTxID = onrampTxID.String
	p.OfframpTxID = offrampTxID.String
	if completedAt.Valid {
		p.CompletedAt = &completedAt.Time
	}
	return &p, nil
}

// webhookAPIVersion is the contract version stamped on every envelope
// frozen into webhook_deliveries.payload.
const webhookAPIVersion = "2026-01-01"

// webhookEnvelope is the versioned notification body delivered to a
// merchant's webhook sink. It is built once, inside the transition's
// transaction, and never reconstructed later — a retry or replay always
// carries the same bytes it was enqueued with.
type webhookEnvelope struct {
	ID         string             `json:"id"`
	EventType  string             `json:"event_type"`
	APIVersion string             `json:"api_version"`
	CreatedAt  time.Time          `json:"created_at"`
	Data       webhookPaymentData `json:"data"`
}

type webhookPaymentData struct {
	PaymentID           string     `json:"payment_id"`
	UserID              string     `json:"user_id"`
	Status              string     `json:"status"`
	Amount              float64    `json:"amount"`
	DestinationCurrency string     `json:"destination_currency"`
	ExchangeRate        float64    `json:"exchange_rate"`
	FeeOnramp           float64    `json:"fee_onramp"`
	FeeCorridor         float64    `json:"fee_corridor"`
	FeePlatform         float64    `json:"fee_platform"`
	FeeNetworkGas       float64    `json:"fee_network_gas"`
	FeeTotal            float64    `json:"fee_total"`
	UsdcSent            float64    `json:"usdc_sent"`
	DestinationAmount   float64    `json:"destination_amount"`
	OnrampTxID          string     `json:"onramp_tx_id,omitempty"`
	OfframpTxID         string     `json:"offramp_tx_id,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
}

// TransitionStatus atomically moves a payment to a new status, appends an
// event row, and optionally enqueues a webhook delivery row for the new
// status's event type — all in one transaction with the payment row
// locked for the duration, so two workers racing on the same payment
// serialize rather than double-apply a transition.
func (s *Store) TransitionStatus(ctx context.Context, paymentID string, to payment.Status, metadata []byte, txFields map[string]string, enqueueWebhook bool) (string, error) {
	tx, err := s.client.db.BeginTx(ctx, nil)
	if err != nil {
		return "", apperr.Wrap(apperr.Internal, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	current, err := scanPayment(tx.QueryRowContext(ctx, paymentSelectColumns+" FROM payments WHERE id = $1 FOR UPDATE", paymentID))
	if err != nil {
		return "", err
	}

	from := current.Status
	if err := payment.CheckTransition(from, to); err != nil {
		return "", err
	}

	now := time.Now()
	setClauses := "status = $1, updated_at = $2"
	args := []any{string(to), now}
	argN := 3

	if to == payment.StatusOnrampCompleted {
		if txID, ok := txFields["onramp_tx_id"]; ok {
			setClauses += fmt.Sprintf(", onramp_tx_id = $%d", argN)
			args = append(args, txID)
			argN++
		}
	}
	if to == payment.StatusOfframpCompleted {
		if txID, ok := txFields["offramp_tx_id"]; ok {
			setClauses += fmt.Sprintf(", offramp_tx_id = $%d", argN)
			args = append(args, txID)
			argN++
		}
	}
	if to.IsTerminal() {
		setClauses += fmt.Sprintf(", completed_at = $%d", argN)
		args = append(args, now)
		argN++
	}

	args = append(args, paymentID)
	_, err = tx.ExecContext(ctx, fmt.Sprintf("UPDATE payments SET %s WHERE id = $%d", setClauses, argN), args...)
	if err != nil {
		return "", apperr.Wrap(apperr.Internal, "failed to update payment status", err)
	}

	if metadata == nil {
		metadata = json.RawMessage("{}")
	}
	_, err = tx.ExecContext(ctx,
		"INSERT INTO events (id, payment_id, event_type, status, metadata, timestamp) VALUES ($1,$2,$3,$4,$5,$6)",
		uuid.NewString(), paymentID, to.EventType(), string(to), metadata, now,
	)
	if err != nil {
		return "", apperr.Wrap(apperr.Internal, "failed to insert event", err)
	}

	var deliveryID string
	if enqueueWebhook {
		deliveryID = uuid.NewString()

		onrampTxID := current.OnrampTxID
		if v, ok := txFields["onramp_tx_id"]; ok {
			onrampTxID = v
		}
		offrampTxID := current.OfframpTxID
		if v, ok := txFields["offramp_tx_id"]; ok {
			offrampTxID = v
		}
		completedAt := current.CompletedAt
		if to.IsTerminal() {
			completedAt = &now
		}

		payload, err := json.Marshal(webhookEnvelope{
			ID:         deliveryID,
			EventType:  to.EventType(),
			APIVersion: webhookAPIVersion,
			CreatedAt:  now,
			Data: webhookPaymentData{
				PaymentID:           paymentID,
				UserID:              current.UserID,
				Status:              string(to),
				Amount:              current.Amount,
				DestinationCurrency: current.DestinationCurrency,
				ExchangeRate:        current.ExchangeRate,
				FeeOnramp:           current.FeeOnramp,
				FeeCorridor:         current.FeeCorridor,
				FeePlatform:         current.FeePlatform,
				FeeNetworkGas:       current.FeeNetworkGas,
				FeeTotal:            current.FeeTotal,
				UsdcSent:            current.UsdcSent,
				DestinationAmount:   current.DestinationAmount,
				OnrampTxID:          onrampTxID,
				OfframpTxID:         offrampTxID,
				CreatedAt:           current.CreatedAt,
				UpdatedAt:           now,
				CompletedAt:         completedAt,
			},
		})
		if err != nil {
			return "", apperr.Wrap(apperr.Internal, "failed to marshal webhook envelope", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO webhook_deliveries (id, payment_id, event_type, payload, signature, status, attempts, max_attempts, created_at)
			VALUES ($1,$2,$3,$4,'',$5,0,3,$6)
		`, deliveryID, paymentID, to.EventType(), payload, string(payment.WebhookPending), now)
		if err != nil {
			return "", apperr.Wrap(apperr.Internal, "failed to enqueue webhook delivery", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", apperr.Wrap(apperr.Internal, "failed to commit transition", err)
	}
	return deliveryID, nil
}

// ListEventsSince returns events for a payment with timestamp strictly
// after `since`, ordered oldest first — the query the SSE fan-out polls
// on to discover newly appended events.
func (s *Store) ListEventsSince(ctx context.Context, paymentID string, since time.Time) ([]payment.Event, error) {
	rows, err := s.client.db.QueryContext(ctx,
		"SELECT id, payment_id, event_type, status, metadata, timestamp FROM events WHERE payment_id = $1 AND timestamp > $2 ORDER BY timestamp ASC",
		paymentID, since,
	)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to list events", err)
	}
	defer rows.Close()

	var events []payment.Event
	for rows.Next() {
		var e payment.Event
		var status string
		if err := rows.Scan(&e.ID, &e.PaymentID, &e.EventType, &status, &e.Metadata, &e.Timestamp); err != nil {
			return nil, apperr.Wrap(apperr.Internal, "failed to scan event", err)
		}
		e.Status = payment.Status(status)
		events = append(events, e)
	}
	return events, rows.Err()
}

// ListEvents returns the full event history for a payment, oldest first.
func (s *Store) ListEvents(ctx context.Context, paymentID string) ([]payment.Event, error) {
	return s.ListEventsSince(ctx, paymentID, time.Unix(0, 0))
}

// GetWebhookDelivery loads a single delivery row by id, the shape the
// webhook worker pool's job handler looks up by.
func (s *Store) GetWebhookDelivery(ctx context.Context, id string) (*payment.WebhookDelivery, error) {
	row := s.client.db.QueryRowContext(ctx, `
		SELECT id, payment_id, event_type, payload, signature, status, attempts, max_attempts,
		       last_attempt_at, next_retry_at, response_code, response_body, created_at
		FROM webhook_deliveries WHERE id = $1
	`, id)

	var d payment.WebhookDelivery
	var status string
	var responseCode sql.NullInt64
	var responseBody sql.NullString
	err := row.Scan(&d.ID, &d.PaymentID, &d.EventType, &d.Payload, &d.Signature, &status,
		&d.Attempts, &d.MaxAttempts, &d.LastAttemptAt, &d.NextRetryAt, &responseCode, &responseBody, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.NotFound, "webhook delivery not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to scan webhook delivery", err)
	}
	d.Status = payment.WebhookStatus(status)
	d.ResponseCode = int(responseCode.Int64)
	d.ResponseBody = responseBody.String
	return &d, nil
}

// DueWebhookDeliveries returns deliveries in pending/failed status whose
// next retry is due, up to limit rows, for the webhook worker to pick up.
func (s *Store) DueWebhookDeliveries(ctx context.Context, limit int) ([]payment.WebhookDelivery, error) {
	rows, err := s.client.db.QueryContext(ctx, `
		SELECT id, payment_id, event_type, payload, signature, status, attempts, max_attempts,
		       last_attempt_at, next_retry_at, response_code, response_body, created_at
		FROM webhook_deliveries
		WHERE status IN ('pending', 'failed') AND (next_retry_at IS NULL OR next_retry_at <= now())
		ORDER BY created_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to list due webhook deliveries", err)
	}
	defer rows.Close()

	var out []payment.WebhookDelivery
	for rows.Next() {
		var d payment.WebhookDelivery
		var status string
		var responseCode sql.NullInt64
		var responseBody sql.NullString
		if err := rows.Scan(&d.ID, &d.PaymentID, &d.EventType, &d.Payload, &d.Signature, &status,
			&d.Attempts, &d.MaxAttempts, &d.LastAttemptAt, &d.NextRetryAt, &responseCode, &responseBody, &d.CreatedAt); err != nil {
			return nil, apperr.Wrap(apperr.Internal, "failed to scan webhook delivery", err)
		}
		d.Status = payment.WebhookStatus(status)
		d.ResponseCode = int(responseCode.Int64)
		d.ResponseBody = responseBody.String
		out = append(out, d)
	}
	return out, rows.Err()
}

// RecordWebhookAttempt updates a delivery row in place after one HTTP
// attempt — never inserts a new row per attempt.
func (s *Store) RecordWebhookAttempt(ctx context.Context, id string, status payment.WebhookStatus, responseCode int, responseBody string, nextRetryAt *time.Time) error {
	now := time.Now()
	_, err := s.client.db.ExecContext(ctx, `
		UPDATE webhook_deliveries
		SET status = $1, attempts = attempts + 1, last_attempt_at = $2, next_retry_at = $3,
		    response_code = $4, response_body = $5
		WHERE id = $6
	`, string(status), now, nextRetryAt, responseCode, responseBody, id)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "failed to record webhook attempt", err)
	}
	return nil
}
