// Package webhook delivers queued webhook notifications to the single
// sink URL configured by WEBHOOK_SINK_URL, signing each payload with
// HMAC-SHA256 and retrying with backoff until max attempts is exhausted.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/plm/crossbridge/payment"
)

// Store is the subset of the payment store the webhook worker depends on.
type Store interface {
	GetWebhookDelivery(ctx context.Context, id string) (*payment.WebhookDelivery, error)
	DueWebhookDeliveries(ctx context.Context, limit int) ([]payment.WebhookDelivery, error)
	RecordWebhookAttempt(ctx context.Context, id string, status payment.WebhookStatus, responseCode int, responseBody string, nextRetryAt *time.Time) error
}

// Requeuer publishes a follow-up delivery attempt job, the shape the NATS
// client satisfies.
type Requeuer interface {
	PublishWebhookJob(ctx context.Context, deliveryID string) error
}

// retryBackoff is the delay before each successive attempt, indexed by
// attempts-already-made (0 -> delay before 2nd attempt, etc): base 2s,
// doubling, capped at max 3 attempts total (MaxAttempts on the delivery
// row). Retries are driven by RunRetryScheduler polling next_retry_at,
// not by NATS redelivery — a delivery attempt that fails still records
// a durable outcome and acks its job, so the scheduler, not MaxDeliver,
// is what wakes the delivery back up.
var retryBackoff = []time.Duration{
	2 * time.Second,
	4 * time.Second,
}

// Worker delivers due webhook rows via signed HTTP POST.
type Worker struct {
	store      Store
	secret     string
	sinkURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

func New(store Store, log zerolog.Logger) *Worker {
	return &Worker{
		store:      store,
		secret:     signingSecretFromEnv(),
		sinkURL:    os.Getenv("WEBHOOK_SINK_URL"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        log,
	}
}

func signingSecretFromEnv() string {
	if s := os.Getenv("WEBHOOK_SIGNING_SECRET"); s != "" {
		return s
	}
	return "dev-signing-secret"
}

// DeliverOne attempts delivery of a single queued webhook row, identified
// by its delivery id (the jobID the worker pool hands to this handler).
func (w *Worker) DeliverOne(ctx context.Context, deliveryID string) error {
	d, err := w.store.GetWebhookDelivery(ctx, deliveryID)
	if err != nil {
		return err
	}
	if d.Status == payment.WebhookDelivered || d.Status == payment.WebhookExhausted {
		return nil
	}
	return w.attempt(ctx, *d)
}

// RunRetryScheduler periodically re-publishes a job for every delivery
// whose retry is due. A failed attempt only records next_retry_at; it is
// this loop, not the handler itself, that wakes the delivery back up.
func (w *Worker) RunRetryScheduler(ctx context.Context, requeuer Requeuer, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			due, err := w.store.DueWebhookDeliveries(ctx, 500)
			if err != nil {
				w.log.Warn().Err(err).Msg("failed to list due webhook deliveries")
				continue
			}
			for _, d := range due {
				if err := requeuer.PublishWebhookJob(ctx, d.ID); err != nil {
					w.log.Warn().Err(err).Str("delivery_id", d.ID).Msg("failed to requeue webhook delivery")
				}
			}
		}
	}
}

func (w *Worker) attempt(ctx context.Context, d payment.WebhookDelivery) error {
	sig := sign(w.secret, d.Payload)

	if w.sinkURL == "" {
		w.log.Debug().Str("delivery_id", d.ID).Msg("no webhook sink configured, marking delivered (mock mode)")
		return w.store.RecordWebhookAttempt(ctx, d.ID, payment.WebhookDelivered, 200, "", nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.sinkURL, bytes.NewReader(d.Payload))
	if err != nil {
		return w.recordFailure(ctx, d, 0, err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", sig)
	req.Header.Set("X-Webhook-Event", d.EventType)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return w.recordFailure(ctx, d, 0, err.Error())
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return w.store.RecordWebhookAttempt(ctx, d.ID, payment.WebhookDelivered, resp.StatusCode, string(respBody), nil)
	}
	return w.recordFailure(ctx, d, resp.StatusCode, string(respBody))
}

func (w *Worker) recordFailure(ctx context.Context, d payment.WebhookDelivery, responseCode int, responseBody string) error {
	attemptsAfter := d.Attempts + 1
	if attemptsAfter >= d.MaxAttempts {
		return w.store.RecordWebhookAttempt(ctx, d.ID, payment.WebhookExhausted, responseCode, responseBody, nil)
	}

	delay := retryBackoff[len(retryBackoff)-1]
	if d.Attempts < len(retryBackoff) {
		delay = retryBackoff[d.Attempts]
	}
	next := time.Now().Add(delay)
	return w.store.RecordWebhookAttempt(ctx, d.ID, payment.WebhookFailed, responseCode, responseBody, &next)
}

func sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
