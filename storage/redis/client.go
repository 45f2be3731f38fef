// Package redis wraps go-redis with the connection pooling, endpoint rate
// limiter, and provider circuit breakers this service needs on top of the
// raw client. The idempotency store and exchange rate cache live in their
// own packages and take the raw client from Client.Redis.
package redis

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis connection configuration
type Config struct {
	// Sentinel configuration (used only when both fields are non-empty)
	MasterName    string
	SentinelAddrs []string

	// Standalone configuration
	Addr     string
	Password string
	DB       int

	// Pool configuration
	PoolSize     int
	MinIdleConns int

	// Timeouts
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns a default configuration for local development,
// reading REDIS_ADDR (falling back to localhost:6379) from the environment.
func DefaultConfig() *Config {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	return &Config{
		Addr:         addr,
		Password:     os.Getenv("REDIS_PASSWORD"),
		DB:           0,
		PoolSize:     100,
		MinIdleConns: 10,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// Client wraps Redis client with endpoint rate limiting and per-leg
// provider circuit breaking.
type Client struct {
	rdb             redis.UniversalClient
	endpointLimiter *EndpointLimiter
	onrampBreaker   *ProviderBreaker
	offrampBreaker  *ProviderBreaker
	mu              sync.RWMutex
}

// NewClient creates a new Redis client with Sentinel support
func NewClient(ctx context.Context, cfg *Config) (*Client, error) {
	var rdb redis.UniversalClient

	// Try Sentinel first, fallback to standalone
	if len(cfg.SentinelAddrs) > 0 && cfg.MasterName != "" {
		rdb = redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    cfg.MasterName,
			SentinelAddrs: cfg.SentinelAddrs,
			Password:      cfg.Password,
			DB:            cfg.DB,
			PoolSize:      cfg.PoolSize,
			MinIdleConns:  cfg.MinIdleConns,
			ReadTimeout:   cfg.ReadTimeout,
			WriteTimeout:  cfg.WriteTimeout,
		})
	} else {
		rdb = redis.NewClient(&redis.Options{
			Addr:         cfg.Addr,
			Password:     cfg.Password,
			DB:           cfg.DB,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})
	}

	// Verify connection
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	client := &Client{
		rdb:             rdb,
		endpointLimiter: NewEndpointLimiter(rdb),
		onrampBreaker:   NewProviderBreaker(rdb, "onramp"),
		offrampBreaker:  NewProviderBreaker(rdb, "offramp"),
	}

	return client, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Redis returns the underlying Redis client
func (c *Client) Redis() redis.UniversalClient {
	return c.rdb
}

// EndpointLimiter returns the sliding-window rate limiter for mutating
// HTTP endpoints.
func (c *Client) EndpointLimiter() *EndpointLimiter {
	return c.endpointLimiter
}

// OnrampBreaker returns the circuit breaker guarding the onramp provider leg.
func (c *Client) OnrampBreaker() *ProviderBreaker {
	return c.onrampBreaker
}

// OfframpBreaker returns the circuit breaker guarding the offramp provider leg.
func (c *Client) OfframpBreaker() *ProviderBreaker {
	return c.offrampBreaker
}
