package idempotency

import (
	"context"
	"os"
	"testing"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestFingerprint_DeterministicAndSensitiveToBody(t *testing.T) {
	a := Fingerprint([]byte(`{"amount":100}`))
	b := Fingerprint([]byte(`{"amount":100}`))
	c := Fingerprint([]byte(`{"amount":200}`))

	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
}

// newTestStore connects to a real Redis instance for the exactly-once
// replay/conflict behavior that can't be verified against the
// fingerprint helper alone. Skips when no instance is reachable, the
// same gate the rest of the Redis-backed suite uses.
func newTestStore(t *testing.T) *Store {
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
	return NewStore(rdb)
}

func TestStore_ProceedThenReplay(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	body := []byte(`{"amount":100}`)

	outcome, rec, err := s.Check(ctx, "initiate", "user-1", "11111111-1111-4111-8111-111111111111", body)
	require.NoError(t, err)
	require.Equal(t, Proceed, outcome)
	require.Nil(t, rec)

	require.NoError(t, s.Store(ctx, "initiate", "user-1", "11111111-1111-4111-8111-111111111111", body, 200, map[string]string{"X-Test": "1"}, []byte(`{"payment_id":"p1"}`)))

	outcome, rec, err = s.Check(ctx, "initiate", "user-1", "11111111-1111-4111-8111-111111111111", body)
	require.NoError(t, err)
	require.Equal(t, Replay, outcome)
	require.Equal(t, 200, rec.Status)
	require.Equal(t, []byte(`{"payment_id":"p1"}`), rec.Body)
}

func TestStore_ConflictOnDifferentBody(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := "22222222-2222-4222-8222-222222222222"

	require.NoError(t, s.Store(ctx, "initiate", "user-2", key, []byte(`{"amount":100}`), 200, nil, []byte(`{}`)))

	outcome, _, err := s.Check(ctx, "initiate", "user-2", key, []byte(`{"amount":200}`))
	require.NoError(t, err)
	require.Equal(t, Conflict, outcome)
}
