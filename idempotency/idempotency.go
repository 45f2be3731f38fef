// Package idempotency implements the exactly-once response cache applied
// to the initiate and confirm endpoints: a body-fingerprinted record
// keyed by (endpoint, user, key) with a 24-hour TTL.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/plm/crossbridge/apperr"
)

const ttl = 24 * time.Hour

// Record is what is stored and replayed verbatim on a fingerprint match.
type Record struct {
	Fingerprint string            `json:"fingerprint"`
	Status      int               `json:"status"`
	Headers     map[string]string `json:"headers"`
	Body        []byte            `json:"body"`
}

// Store is the Redis-backed idempotency store.
type Store struct {
	rdb goredis.UniversalClient
}

func NewStore(rdb goredis.UniversalClient) *Store {
	return &Store{rdb: rdb}
}

func Fingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func key(endpoint, user, idempotencyKey string) string {
	return fmt.Sprintf("idempotency:%s:%s:%s", endpoint, user, idempotencyKey)
}

// Outcome describes what the caller should do next.
type Outcome int

const (
	// Proceed means no prior record exists; run the handler and call Store.
	Proceed Outcome = iota
	// Replay means a matching record exists; return it verbatim.
	Replay
	// Conflict means a record exists with a different body fingerprint.
	Conflict
)

// Check looks up any existing record for this key and compares it against
// the current request body's fingerprint.
func (s *Store) Check(ctx context.Context, endpoint, user, idempotencyKey string, body []byte) (Outcome, *Record, error) {
	data, err := s.rdb.Get(ctx, key(endpoint, user, idempotencyKey)).Bytes()
	if err != nil {
		if err == goredis.Nil {
			return Proceed, nil, nil
		}
		return Proceed, nil, apperr.Wrap(apperr.Internal, "idempotency lookup failed", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Proceed, nil, apperr.Wrap(apperr.Internal, "idempotency record corrupt", err)
	}

	fp := Fingerprint(body)
	if rec.Fingerprint == fp {
		return Replay, &rec, nil
	}
	return Conflict, nil, nil
}

// Store atomically persists the response for later replay, with a 24h TTL.
func (s *Store) Store(ctx context.Context, endpoint, user, idempotencyKey string, body []byte, status int, headers map[string]string, responseBody []byte) error {
	rec := Record{
		Fingerprint: Fingerprint(body),
		Status:      status,
		Headers:     headers,
		Body:        responseBody,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "failed to marshal idempotency record", err)
	}

	if err := s.rdb.Set(ctx, key(endpoint, user, idempotencyKey), data, ttl).Err(); err != nil {
		return apperr.Wrap(apperr.Internal, "failed to store idempotency record", err)
	}
	return nil
}
