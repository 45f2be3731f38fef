package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/plm/crossbridge/payment"
	"github.com/plm/crossbridge/quote"
	"github.com/plm/crossbridge/rates"
)

type fakeStore struct {
	payments map[string]*payment.Payment
}

func (f *fakeStore) CreatePayment(ctx context.Context, p *payment.Payment) error {
	f.payments[p.ID] = p
	return nil
}

func (f *fakeStore) GetPayment(ctx context.Context, id string) (*payment.Payment, error) {
	p, ok := f.payments[id]
	if !ok {
		return nil, context.DeadlineExceeded
	}
	return p, nil
}

func (f *fakeStore) TransitionStatus(ctx context.Context, paymentID string, to payment.Status, metadata []byte, txFields map[string]string, enqueueWebhook bool) (string, error) {
	f.payments[paymentID].Status = to
	return "delivery-1", nil
}

type fakeJobs struct {
	published []string
	webhooks  []string
}

func (f *fakeJobs) PublishPaymentJob(ctx context.Context, paymentID string) error {
	f.published = append(f.published, paymentID)
	return nil
}

func (f *fakeJobs) PublishWebhookJob(ctx context.Context, deliveryID string) error {
	f.webhooks = append(f.webhooks, deliveryID)
	return nil
}

type fixedSource struct{ rate float64 }

func (s fixedSource) Fetch(ctx context.Context) (map[string]float64, error) {
	return map[string]float64{"MXN": s.rate}, nil
}

func newTestQuoteService(t *testing.T) *quote.Service {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	rdb := goredis.NewClient(&goredis.Options{Addr: addr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not reachable at %s: %v", addr, err)
	}
	t.Cleanup(func() { rdb.Close() })
	return quote.NewService(rates.NewCache(rdb, fixedSource{rate: 17.0}, zerolog.Nop()))
}

func TestInitiate_CreatesPaymentInInitiatedStatus(t *testing.T) {
	quotes := newTestQuoteService(t)
	store := &fakeStore{payments: map[string]*payment.Payment{}}
	jobs := &fakeJobs{}
	h := NewPaymentHandler(store, quotes, jobs, zerolog.Nop())

	body, _ := json.Marshal(initiateRequest{Amount: 100, DestinationCurrency: "MXN", PaymentMethod: "ach"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/initiate", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Initiate(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp initiateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.PaymentID)
	require.Equal(t, "INITIATED", resp.Status)
	require.Len(t, store.payments, 1)
}

func TestConfirm_TransitionsAndEnqueuesProcessing(t *testing.T) {
	quotes := newTestQuoteService(t)
	store := &fakeStore{payments: map[string]*payment.Payment{
		"p1": {ID: "p1", Status: payment.StatusInitiated, QuoteExpiresAt: time.Now().Add(time.Minute)},
	}}
	jobs := &fakeJobs{}
	h := NewPaymentHandler(store, quotes, jobs, zerolog.Nop())

	body, _ := json.Marshal(confirmRequest{PaymentID: "p1"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/confirm", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Confirm(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, payment.StatusConfirmed, store.payments["p1"].Status)
	require.Equal(t, []string{"p1"}, jobs.published)
	require.Equal(t, []string{"delivery-1"}, jobs.webhooks)
}

func TestConfirm_RejectsExpiredQuote(t *testing.T) {
	quotes := newTestQuoteService(t)
	store := &fakeStore{payments: map[string]*payment.Payment{
		"p2": {ID: "p2", Status: payment.StatusInitiated, QuoteExpiresAt: time.Now().Add(-time.Second)},
	}}
	h := NewPaymentHandler(store, quotes, &fakeJobs{}, zerolog.Nop())

	body, _ := json.Marshal(confirmRequest{PaymentID: "p2"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/confirm", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Confirm(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
