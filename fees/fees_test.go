package fees

import (
	"testing"

	"github.com/plm/crossbridge/apperr"
	"github.com/stretchr/testify/require"
)

func TestCompute_AchMxnInclusive(t *testing.T) {
	b, err := Compute(100, MethodACH, MXN, Inclusive)
	require.NoError(t, err)
	require.Equal(t, 0.0, b.Onramp)
	require.Equal(t, 1.00, b.Corridor)
	require.Equal(t, 3.49, b.Platform)
	require.Equal(t, 0.05, b.NetworkGas)
	require.Equal(t, 4.54, b.Total)
	require.Equal(t, 95.46, b.UsdcSent)
	require.Equal(t, 100.0, b.TotalCharged)
}

func TestCompute_CardNgnAdditive(t *testing.T) {
	b, err := Compute(500, MethodCard, NGN, Additive)
	require.NoError(t, err)
	require.Equal(t, 14.50, b.Onramp)
	require.Equal(t, 10.00, b.Corridor)
	require.Equal(t, 5.49, b.Platform)
	require.Equal(t, 30.04, b.Total)
	require.Equal(t, 500.0, b.UsdcSent)
	require.Equal(t, 530.04, b.TotalCharged)
}

func TestCompute_PlatformClampsAtFloor(t *testing.T) {
	b, err := Compute(10, MethodACH, MXN, Inclusive)
	require.NoError(t, err)
	require.Equal(t, 0.99, b.Platform)
}

func TestCompute_PlatformClampsAtCeiling(t *testing.T) {
	b, err := Compute(10000, MethodACH, MXN, Inclusive)
	require.NoError(t, err)
	require.Equal(t, 50.00, b.Platform)
}

func TestCompute_AmountBoundaries(t *testing.T) {
	_, err := Compute(9.99, MethodACH, MXN, Inclusive)
	require.Error(t, err)
	require.Equal(t, apperr.InvalidInput, apperr.KindOf(err))

	_, err = Compute(10.00, MethodACH, MXN, Inclusive)
	require.NoError(t, err)

	_, err = Compute(10000.01, MethodACH, MXN, Inclusive)
	require.Error(t, err)
}

func TestCompute_InclusiveInvariant(t *testing.T) {
	for _, corridor := range []Corridor{MXN, NGN, PHP, INR, BRL} {
		b, err := Compute(273.41, MethodCard, corridor, Inclusive)
		require.NoError(t, err)
		require.InDelta(t, b.InputAmount, b.UsdcSent+b.Total, 0.001)
	}
}

func TestCompute_AdditiveInvariant(t *testing.T) {
	b, err := Compute(273.41, MethodCard, PHP, Additive)
	require.NoError(t, err)
	require.InDelta(t, b.TotalCharged-b.Total, b.InputAmount, 0.001)
}

func TestCompute_UnknownMethod(t *testing.T) {
	_, err := Compute(100, "wire", MXN, Inclusive)
	require.Error(t, err)
	require.Equal(t, apperr.InvalidInput, apperr.KindOf(err))
}

func TestCompute_UnknownCorridor(t *testing.T) {
	_, err := Compute(100, MethodACH, "GBP", Inclusive)
	require.Error(t, err)
}
