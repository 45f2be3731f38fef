package rates

import (
	"context"
	"os"
	"testing"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/plm/crossbridge/apperr"
)

type stubSource struct {
	rates map[string]float64
	err   error
}

func (s stubSource) Fetch(ctx context.Context) (map[string]float64, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.rates, nil
}

func newTestCache(t *testing.T, source Source) *Cache {
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
	return NewCache(rdb, source, zerolog.Nop())
}

func TestRate_FetchesFromSourceOnMiss(t *testing.T) {
	c := newTestCache(t, stubSource{rates: map[string]float64{"MXN": 18.5}})
	rate, err := c.Rate(context.Background(), "MXN")
	require.NoError(t, err)
	require.Equal(t, 18.5, rate)
}

func TestRate_FallsBackToStaticTableOnSourceFailure(t *testing.T) {
	c := newTestCache(t, stubSource{err: context.DeadlineExceeded})
	rate, err := c.Rate(context.Background(), "NGN")
	require.NoError(t, err)
	require.Equal(t, fallback["NGN"], rate)
}

func TestRate_UnavailableWhenNoSourceAndNoFallback(t *testing.T) {
	c := newTestCache(t, stubSource{err: context.DeadlineExceeded})
	_, err := c.Rate(context.Background(), "XYZ")
	require.Error(t, err)
	require.Equal(t, apperr.RateUnavailable, apperr.KindOf(err))
}
