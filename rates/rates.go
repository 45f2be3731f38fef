// Package rates implements the USD exchange rate cache: a short-TTL
// Redis cache in front of an external rate source, with a static
// fallback table when the upstream is unavailable.
//
// The fetch-on-ticker shape mirrors an fx-rate worker that polls an
// external rate API on a timer and persists the result; here the
// persistence target is the Redis cache, and a fetch can also happen
// synchronously on a cache miss.
package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/plm/crossbridge/apperr"
)

const cacheTTL = 30 * time.Second

// Source fetches live rates from an upstream provider.
type Source interface {
	Fetch(ctx context.Context) (map[string]float64, error)
}

// fallback is used when the upstream source fails and no cached value
// exists either.
var fallback = map[string]float64{
	"MXN": 17.10,
	"NGN": 780.00,
	"PHP": 56.20,
	"INR": 83.40,
	"BRL": 5.05,
}

// Cache is the rate(from, to) interface the quote service consumes.
type Cache struct {
	rdb    goredis.UniversalClient
	source Source
	log    zerolog.Logger
}

func NewCache(rdb goredis.UniversalClient, source Source, log zerolog.Logger) *Cache {
	return &Cache{rdb: rdb, source: source, log: log}
}

func cacheKey(to string) string {
	return "rate:USD:" + to
}

// Rate returns the USD-to-`to` exchange rate, consulting the cache first,
// falling back to a live fetch, then to the static table.
func (c *Cache) Rate(ctx context.Context, to string) (float64, error) {
	val, err := c.rdb.Get(ctx, cacheKey(to)).Result()
	if err == nil {
		f, parseErr := strconv.ParseFloat(val, 64)
		if parseErr == nil {
			return f, nil
		}
	}

	rates, fetchErr := c.source.Fetch(ctx)
	if fetchErr == nil {
		if rate, ok := rates[to]; ok {
			c.storeAll(ctx, rates)
			return rate, nil
		}
	} else {
		c.log.Warn().Err(fetchErr).Msg("exchange rate upstream fetch failed, using fallback table")
	}

	if rate, ok := fallback[to]; ok {
		return rate, nil
	}

	return 0, apperr.New(apperr.RateUnavailable, "no rate available for "+to)
}

func (c *Cache) storeAll(ctx context.Context, rates map[string]float64) {
	for currency, rate := range rates {
		c.rdb.Set(ctx, cacheKey(currency), strconv.FormatFloat(rate, 'f', 6, 64), cacheTTL)
	}
}

// RunRefresher periodically refreshes the cache in the background so
// that a request rarely has to wait on a live fetch. It returns when ctx
// is cancelled.
func (c *Cache) RunRefresher(ctx context.Context, interval time.Duration) {
	c.refreshOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.refreshOnce(ctx)
		}
	}
}

func (c *Cache) refreshOnce(ctx context.Context) {
	rates, err := c.source.Fetch(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("periodic exchange rate refresh failed")
		return
	}
	c.storeAll(ctx, rates)
}

// exchangeRateAPISource implements Source against exchangerate-api.com.
type exchangeRateAPISource struct {
	apiKey     string
	httpClient *http.Client
}

func NewExchangeRateAPISource(apiKey string) Source {
	return &exchangeRateAPISource{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type exchangeRateAPIResponse struct {
	Result          string             `json:"result"`
	ConversionRates map[string]float64 `json:"conversion_rates"`
}

func (s *exchangeRateAPISource) Fetch(ctx context.Context) (map[string]float64, error) {
	url := fmt.Sprintf("https://v6.exchangerate-api.com/v6/%s/latest/USD", s.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("exchange rate api returned status %d", resp.StatusCode)
	}

	var body exchangeRateAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	if body.Result != "success" {
		return nil, fmt.Errorf("exchange rate api result: %s", body.Result)
	}

	return body.ConversionRates, nil
}

// NewSourceFromEnv returns the exchangerate-api.com source when
// EXCHANGE_RATE_API_KEY is set, otherwise a source that always fails so
// callers fall through to the static table.
func NewSourceFromEnv() Source {
	key := os.Getenv("EXCHANGE_RATE_API_KEY")
	if key == "" {
		return unavailableSource{}
	}
	return NewExchangeRateAPISource(key)
}

type unavailableSource struct{}

func (unavailableSource) Fetch(ctx context.Context) (map[string]float64, error) {
	return nil, fmt.Errorf("no exchange rate api key configured")
}
