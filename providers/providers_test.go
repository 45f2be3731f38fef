package providers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStripeOnramp_MockModeSucceeds(t *testing.T) {
	t.Setenv("STRIPE_SECRET_KEY", "")
	s := NewStripeOnramp()

	result, err := s.Charge(context.Background(), 100.5, "ach", "user-1")
	require.NoError(t, err)
	require.Equal(t, "succeeded", result.Status)
	require.Equal(t, 100.5, result.USDCReceived)
	require.NotEmpty(t, result.TxID)
}

func TestHTTPOfframp_MockModeSucceeds(t *testing.T) {
	t.Setenv("OFFRAMP_SINK_URL", "")
	o := NewHTTPOfframp()

	result, err := o.Settle(context.Background(), 95.46, "MXN", "user-1")
	require.NoError(t, err)
	require.Equal(t, "succeeded", result.Status)
	require.Equal(t, "MXN", result.Currency)
	require.Equal(t, 95.46, result.LocalAmount)
}

func TestAlwaysSufficientBalanceOracle(t *testing.T) {
	var o AlwaysSufficientBalanceOracle
	balance, err := o.Balance(context.Background(), "user-1")
	require.NoError(t, err)
	require.Greater(t, balance, 0.0)
}
