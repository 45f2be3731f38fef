package orchestrator

import (
	"context"
	"os"
	"testing"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/plm/crossbridge/payment"
	"github.com/plm/crossbridge/providers"
	redisstore "github.com/plm/crossbridge/storage/redis"
)

type fakeStore struct {
	payments    map[string]*payment.Payment
	transitions []payment.Status
}

func newFakeStore(p *payment.Payment) *fakeStore {
	return &fakeStore{payments: map[string]*payment.Payment{p.ID: p}}
}

func (f *fakeStore) GetPayment(ctx context.Context, id string) (*payment.Payment, error) {
	return f.payments[id], nil
}

func (f *fakeStore) TransitionStatus(ctx context.Context, paymentID string, to payment.Status, metadata []byte, txFields map[string]string, enqueueWebhook bool) (string, error) {
	f.payments[paymentID].Status = to
	f.transitions = append(f.transitions, to)
	if !enqueueWebhook {
		return "", nil
	}
	return "delivery-" + string(to), nil
}

type fakeRequeuer struct{ published []string }

func (f *fakeRequeuer) PublishWebhookJob(ctx context.Context, deliveryID string) error {
	f.published = append(f.published, deliveryID)
	return nil
}

type fakeOnramp struct{ err error }

func (f fakeOnramp) Charge(ctx context.Context, amount float64, method, userID string) (providers.OnrampResult, error) {
	if f.err != nil {
		return providers.OnrampResult{}, f.err
	}
	return providers.OnrampResult{TxID: "onramp-tx", Status: "succeeded"}, nil
}

type fakeOfframp struct{ err error }

func (f fakeOfframp) Settle(ctx context.Context, usdc float64, currency, userID string) (providers.OfframpResult, error) {
	if f.err != nil {
		return providers.OfframpResult{}, f.err
	}
	return providers.OfframpResult{TxID: "offramp-tx", Status: "succeeded"}, nil
}

func newTestBreakers(t *testing.T) (Breaker, Breaker) {
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
	return redisstore.NewProviderBreaker(rdb, "test-onramp"), redisstore.NewProviderBreaker(rdb, "test-offramp")
}

func TestProcessPayment_DrivesConfirmedToCompleted(t *testing.T) {
	onrampCB, offrampCB := newTestBreakers(t)
	p := &payment.Payment{ID: "p1", UserID: "user-1", Status: payment.StatusConfirmed, Amount: 100, UsdcSent: 95, DestinationCurrency: "MXN"}
	store := newFakeStore(p)
	requeuer := &fakeRequeuer{}

	o := New(store, requeuer, fakeOnramp{}, fakeOfframp{}, providers.AlwaysSufficientBalanceOracle{}, onrampCB, offrampCB, zerolog.Nop())

	require.NoError(t, o.ProcessPayment(context.Background(), "p1"))
	require.Equal(t, payment.StatusCompleted, p.Status)

	require.NoError(t, o.ProcessPayment(context.Background(), "p1"))
	require.Equal(t, payment.StatusCompleted, p.Status)

	require.NotEmpty(t, requeuer.published)
}

func TestProcessPayment_OnrampFailureTransitionsToFailed(t *testing.T) {
	onrampCB, offrampCB := newTestBreakers(t)
	p := &payment.Payment{ID: "p2", UserID: "user-2", Status: payment.StatusConfirmed, Amount: 100}
	store := newFakeStore(p)
	requeuer := &fakeRequeuer{}

	o := New(store, requeuer, fakeOnramp{err: context.DeadlineExceeded}, fakeOfframp{}, providers.AlwaysSufficientBalanceOracle{}, onrampCB, offrampCB, zerolog.Nop())

	require.Error(t, o.ProcessPayment(context.Background(), "p2"))
	require.Equal(t, payment.StatusFailed, p.Status)
	require.Equal(t, []payment.Status{payment.StatusOnrampPending, payment.StatusOnrampFailed, payment.StatusFailed}, store.transitions)
}

func TestProcessPayment_SkipsUnactionableStatus(t *testing.T) {
	onrampCB, offrampCB := newTestBreakers(t)
	p := &payment.Payment{ID: "p3", Status: payment.StatusCompleted}
	store := newFakeStore(p)

	o := New(store, &fakeRequeuer{}, fakeOnramp{}, fakeOfframp{}, providers.AlwaysSufficientBalanceOracle{}, onrampCB, offrampCB, zerolog.Nop())
	require.NoError(t, o.ProcessPayment(context.Background(), "p3"))
	require.Equal(t, payment.StatusCompleted, p.Status)
}
