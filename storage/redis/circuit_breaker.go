package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// State is a circuit's position in the closed/open/half-open cycle.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrCircuitOpen is returned by Allow while a provider leg is tripped.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// circuitState is the JSON blob persisted per provider leg.
type circuitState struct {
	State           State     `json:"state"`
	Successes       int64     `json:"successes"`
	LastStateChange time.Time `json:"last_state_change"`
}

// ProviderBreaker is a Redis-backed circuit breaker scoped to a single
// onramp or offramp settlement leg: it trips on repeated
// apperr.ProviderFailure from that leg's provider call and holds it open
// for a timeout before probing again, closing it once enough
// consecutive half-open probes succeed. One instance guards exactly one
// leg — there is no generic named-circuit registry, since the
// orchestrator only ever has the two legs to guard.
type ProviderBreaker struct {
	rdb     redis.UniversalClient
	leg     string
	key     string
	failKey string

	failureThreshold int64
	successThreshold int64
	timeout          time.Duration
	failureWindow    time.Duration
}

// NewProviderBreaker builds a breaker for one named leg ("onramp" or
// "offramp"), with the failure/recovery thresholds this service runs in
// production: trip after 5 failures inside a 60s window, hold open 30s,
// require 3 consecutive half-open successes to close.
func NewProviderBreaker(rdb redis.UniversalClient, leg string) *ProviderBreaker {
	return &ProviderBreaker{
		rdb:              rdb,
		leg:              leg,
		key:              "crossbridge:circuit:" + leg,
		failKey:          "crossbridge:circuit:" + leg + ":failures",
		failureThreshold: 5,
		successThreshold: 3,
		timeout:          30 * time.Second,
		failureWindow:    60 * time.Second,
	}
}

func (cb *ProviderBreaker) state(ctx context.Context) (*circuitState, error) {
	data, err := cb.rdb.Get(ctx, cb.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return &circuitState{State: StateClosed, LastStateChange: time.Now()}, nil
		}
		return nil, fmt.Errorf("failed to get circuit state: %w", err)
	}

	var st circuitState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to unmarshal circuit state: %w", err)
	}

	if st.State == StateOpen && time.Since(st.LastStateChange) >= cb.timeout {
		st.State = StateHalfOpen
		st.Successes = 0
		st.LastStateChange = time.Now()
		if err := cb.save(ctx, &st); err != nil {
			return nil, err
		}
	}
	return &st, nil
}

func (cb *ProviderBreaker) save(ctx context.Context, st *circuitState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal circuit state: %w", err)
	}
	return cb.rdb.Set(ctx, cb.key, data, 24*time.Hour).Err()
}

// Allow reports whether a call to this leg's provider should proceed.
// Half-open allows through to probe recovery; open rejects outright.
func (cb *ProviderBreaker) Allow(ctx context.Context) error {
	st, err := cb.state(ctx)
	if err != nil {
		return err
	}
	if st.State == StateOpen {
		return ErrCircuitOpen
	}
	return nil
}

// RecordSuccess counts a half-open probe success, closing the circuit
// once successThreshold consecutive probes succeed. A success while
// closed is a no-op.
func (cb *ProviderBreaker) RecordSuccess(ctx context.Context) error {
	st, err := cb.state(ctx)
	if err != nil {
		return err
	}
	if st.State != StateHalfOpen {
		return nil
	}
	st.Successes++
	if st.Successes >= cb.successThreshold {
		st.State = StateClosed
		st.Successes = 0
		st.LastStateChange = time.Now()
	}
	return cb.save(ctx, st)
}

// RecordFailure counts a provider failure in the sliding failure
// window, tripping the circuit open once failureThreshold is reached.
// Any failure while half-open reopens it immediately.
func (cb *ProviderBreaker) RecordFailure(ctx context.Context) error {
	st, err := cb.state(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	count, err := cb.bumpFailureCount(ctx, now)
	if err != nil {
		return err
	}

	switch {
	case st.State == StateHalfOpen:
		st.State = StateOpen
		st.Successes = 0
		st.LastStateChange = now
	case st.State == StateClosed && count >= cb.failureThreshold:
		st.State = StateOpen
		st.LastStateChange = now
	default:
		return nil
	}
	return cb.save(ctx, st)
}

func (cb *ProviderBreaker) bumpFailureCount(ctx context.Context, now time.Time) (int64, error) {
	windowStart := now.Add(-cb.failureWindow).UnixMilli()

	pipe := cb.rdb.Pipeline()
	pipe.ZRemRangeByScore(ctx, cb.failKey, "-inf", fmt.Sprintf("%d", windowStart))
	pipe.ZAdd(ctx, cb.failKey, redis.Z{Score: float64(now.UnixMilli()), Member: fmt.Sprintf("%d", now.UnixNano())})
	countCmd := pipe.ZCard(ctx, cb.failKey)
	pipe.PExpire(ctx, cb.failKey, cb.failureWindow)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to record %s failure: %w", cb.leg, err)
	}
	return countCmd.Val(), nil
}
