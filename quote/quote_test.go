package quote

import (
	"context"
	"os"
	"testing"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/plm/crossbridge/fees"
	"github.com/plm/crossbridge/rates"
)

type fixedSource struct{ rate float64 }

func (f fixedSource) Fetch(ctx context.Context) (map[string]float64, error) {
	return map[string]float64{"MXN": f.rate}, nil
}

func newTestService(t *testing.T, rate float64) *Service {
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
	return NewService(rates.NewCache(rdb, fixedSource{rate: rate}, zerolog.Nop()))
}

func TestGenerate_PopulatesBreakdownAndMargin(t *testing.T) {
	s := newTestService(t, 17.0)
	q, err := s.Generate(context.Background(), 100, fees.MethodACH, fees.MXN, fees.Inclusive)
	require.NoError(t, err)

	require.NotEmpty(t, q.ID)
	require.Equal(t, 17.0, q.ExchangeRate)
	require.InDelta(t, q.Breakdown.InputAmount, q.Breakdown.UsdcSent+q.Breakdown.Total, 0.001)
	require.Greater(t, q.Margin, 0.0)
	require.Less(t, q.Margin, 1.0)
	require.True(t, q.ExpiresAt.After(q.ExpiresAt.Add(-expiry)))
}

func TestGenerate_RejectsOutOfRangeAmount(t *testing.T) {
	s := newTestService(t, 17.0)
	_, err := s.Generate(context.Background(), 1, fees.MethodACH, fees.MXN, fees.Inclusive)
	require.Error(t, err)
}
