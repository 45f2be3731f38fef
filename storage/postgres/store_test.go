package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/plm/crossbridge/fees"
	"github.com/plm/crossbridge/payment"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	client, err := NewClient(context.Background(), DefaultConfig())
	if err != nil {
		t.Skipf("postgres not reachable: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	require.NoError(t, client.EnsureSchema(context.Background()))
	return NewStore(client)
}

func newTestPayment() *payment.Payment {
	now := time.Now()
	return &payment.Payment{
		ID:                  uuid.NewString(),
		UserID:              "user-" + uuid.NewString(),
		QuoteID:             uuid.NewString(),
		SourceCurrency:      "USD",
		DestinationCurrency: "MXN",
		Amount:              100,
		PaymentMethod:       fees.MethodACH,
		FeeHandling:         fees.Inclusive,
		FeeTotal:            4.54,
		UsdcSent:            95.46,
		ExchangeRate:        17.0,
		DestinationAmount:   1622.82,
		QuoteExpiresAt:      now.Add(time.Minute),
		Status:              payment.StatusInitiated,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

func TestCreateAndGetPayment_SeedsOpeningEvent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := newTestPayment()

	require.NoError(t, s.CreatePayment(ctx, p))

	got, err := s.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, p.ID, got.ID)
	require.Equal(t, payment.StatusInitiated, got.Status)

	events, err := s.ListEvents(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "payment.initiated", events[0].EventType)
}

func TestTransitionStatus_EnforcesStateMachineAndEnqueuesWebhook(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := newTestPayment()
	require.NoError(t, s.CreatePayment(ctx, p))

	deliveryID, err := s.TransitionStatus(ctx, p.ID, payment.StatusConfirmed, nil, nil, true)
	require.NoError(t, err)
	require.NotEmpty(t, deliveryID)

	delivery, err := s.GetWebhookDelivery(ctx, deliveryID)
	require.NoError(t, err)
	require.Equal(t, p.ID, delivery.PaymentID)
	require.Equal(t, payment.WebhookPending, delivery.Status)

	_, err = s.TransitionStatus(ctx, p.ID, payment.StatusOnrampCompleted, nil, nil, false)
	require.Error(t, err)

	var envelope webhookEnvelope
	require.NoError(t, json.Unmarshal(delivery.Payload, &envelope))
	require.Equal(t, webhookAPIVersion, envelope.APIVersion)
	require.Equal(t, payment.StatusConfirmed.EventType(), envelope.EventType)
	require.Equal(t, p.ID, envelope.Data.PaymentID)
	require.Equal(t, string(payment.StatusConfirmed), envelope.Data.Status)
	require.Equal(t, p.FeeTotal, envelope.Data.FeeTotal)
	require.Equal(t, p.DestinationAmount, envelope.Data.DestinationAmount)
}

func TestTransitionStatus_PersistsTxFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := newTestPayment()
	require.NoError(t, s.CreatePayment(ctx, p))

	_, err := s.TransitionStatus(ctx, p.ID, payment.StatusConfirmed, nil, nil, false)
	require.NoError(t, err)
	_, err = s.TransitionStatus(ctx, p.ID, payment.StatusOnrampPending, nil, nil, false)
	require.NoError(t, err)
	_, err = s.TransitionStatus(ctx, p.ID, payment.StatusOnrampCompleted, nil, map[string]string{"onramp_tx_id": "tx-123"}, false)
	require.NoError(t, err)

	got, err := s.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, "tx-123", got.OnrampTxID)
}
