// Package quote composes the fee engine and exchange rate cache into the
// quote contract: a short-lived, non-persisted handle carrying a fee
// breakdown and a destination amount.
package quote

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/plm/crossbridge/fees"
	"github.com/plm/crossbridge/rates"
)

const expiry = 60 * time.Second

type Quote struct {
	ID                string
	ExpiresAt         time.Time
	ExchangeRate      float64
	Breakdown         fees.Breakdown
	DestinationAmount float64
	EffectiveRate     float64
	// Margin is the platform's take rate: total fees as a fraction of the
	// input amount, to 6 decimals.
	Margin float64
}

type Service struct {
	rateCache *rates.Cache
}

func NewService(rateCache *rates.Cache) *Service {
	return &Service{rateCache: rateCache}
}

// Generate mints a new quote for the given inputs. It performs no
// persistence; the returned ID is informational only, since the quote
// handle itself is transient.
func (s *Service) Generate(ctx context.Context, amount float64, method fees.Method, corridor fees.Corridor, mode fees.HandlingMode) (Quote, error) {
	breakdown, err := fees.Compute(amount, method, corridor, mode)
	if err != nil {
		return Quote{}, err
	}

	rate, err := s.rateCache.Rate(ctx, string(corridor))
	if err != nil {
		return Quote{}, err
	}

	destinationAmount := round2(breakdown.UsdcSent * rate)
	effectiveRate := math.Round((destinationAmount/breakdown.InputAmount)*1e6) / 1e6
	margin := math.Round((breakdown.Total/breakdown.InputAmount)*1e6) / 1e6

	return Quote{
		ID:                uuid.NewString(),
		ExpiresAt:         time.Now().Add(expiry),
		ExchangeRate:      rate,
		Breakdown:         breakdown,
		DestinationAmount: destinationAmount,
		EffectiveRate:     effectiveRate,
		Margin:            margin,
	}, nil
}

func round2(v float64) float64 {
	if v >= 0 {
		return math.Floor(v*100+0.5) / 100
	}
	return math.Ceil(v*100-0.5) / 100
}
