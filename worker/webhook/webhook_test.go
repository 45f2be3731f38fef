package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/plm/crossbridge/payment"
)

type fakeStore struct {
	deliveries map[string]*payment.WebhookDelivery
	attempts   []string
}

func newFakeStore(d payment.WebhookDelivery) *fakeStore {
	return &fakeStore{deliveries: map[string]*payment.WebhookDelivery{d.ID: &d}}
}

func (f *fakeStore) GetWebhookDelivery(ctx context.Context, id string) (*payment.WebhookDelivery, error) {
	return f.deliveries[id], nil
}

func (f *fakeStore) DueWebhookDeliveries(ctx context.Context, limit int) ([]payment.WebhookDelivery, error) {
	var out []payment.WebhookDelivery
	for _, d := range f.deliveries {
		if d.Status == payment.WebhookPending || d.Status == payment.WebhookFailed {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (f *fakeStore) RecordWebhookAttempt(ctx context.Context, id string, status payment.WebhookStatus, responseCode int, responseBody string, nextRetryAt *time.Time) error {
	f.attempts = append(f.attempts, string(status))
	d := f.deliveries[id]
	d.Status = status
	d.Attempts++
	d.ResponseCode = responseCode
	d.NextRetryAt = nextRetryAt
	return nil
}

func TestDeliverOne_MockModeMarksDelivered(t *testing.T) {
	t.Setenv("WEBHOOK_SINK_URL", "")
	store := newFakeStore(payment.WebhookDelivery{ID: "d1", Status: payment.WebhookPending, MaxAttempts: 3})
	w := New(store, zerolog.Nop())

	require.NoError(t, w.DeliverOne(context.Background(), "d1"))
	require.Equal(t, payment.WebhookDelivered, store.deliveries["d1"].Status)
}

func TestDeliverOne_SkipsAlreadyTerminalDelivery(t *testing.T) {
	t.Setenv("WEBHOOK_SINK_URL", "")
	store := newFakeStore(payment.WebhookDelivery{ID: "d2", Status: payment.WebhookDelivered, MaxAttempts: 3})
	w := New(store, zerolog.Nop())

	require.NoError(t, w.DeliverOne(context.Background(), "d2"))
	require.Empty(t, store.attempts)
}

func TestDeliverOne_SuccessfulHTTPPostMarksDelivered(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NotEmpty(t, r.Header.Get("X-Webhook-Signature"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	t.Setenv("WEBHOOK_SINK_URL", srv.URL)
	store := newFakeStore(payment.WebhookDelivery{ID: "d3", Status: payment.WebhookPending, MaxAttempts: 3, Payload: []byte(`{}`)})
	w := New(store, zerolog.Nop())

	require.NoError(t, w.DeliverOne(context.Background(), "d3"))
	require.Equal(t, payment.WebhookDelivered, store.deliveries["d3"].Status)
}

func TestDeliverOne_FailureSchedulesRetryUntilExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	t.Setenv("WEBHOOK_SINK_URL", srv.URL)
	store := newFakeStore(payment.WebhookDelivery{ID: "d4", Status: payment.WebhookPending, MaxAttempts: 2, Payload: []byte(`{}`)})
	w := New(store, zerolog.Nop())

	require.NoError(t, w.DeliverOne(context.Background(), "d4"))
	require.Equal(t, payment.WebhookFailed, store.deliveries["d4"].Status)
	require.NotNil(t, store.deliveries["d4"].NextRetryAt)

	require.NoError(t, w.DeliverOne(context.Background(), "d4"))
	require.Equal(t, payment.WebhookExhausted, store.deliveries["d4"].Status)
}
