// Package fees implements the deterministic fee computation shared by the
// quote and payment-initiation paths. It performs no I/O and is computed
// entirely in integer cents so that the rounding invariants the caller
// relies on (usdc_sent + total == amount for inclusive mode, and the
// reverse for additive mode) hold exactly rather than approximately.
package fees

import (
	"github.com/plm/crossbridge/apperr"
)

type Method string

const (
	MethodACH  Method = "ach"
	MethodCard Method = "card"
)

type HandlingMode string

const (
	Inclusive HandlingMode = "inclusive"
	Additive  HandlingMode = "additive"
)

type Corridor string

const (
	MXN Corridor = "MXN"
	NGN Corridor = "NGN"
	PHP Corridor = "PHP"
	INR Corridor = "INR"
	BRL Corridor = "BRL"
)

// corridorRate holds each corridor's fee rate expressed in ten-thousandths
// (e.g. 0.010 == 100), matching the scale bpsOf divides by.
var corridorRate = map[Corridor]int64{
	MXN: 100,
	NGN: 200,
	PHP: 150,
	INR: 120,
	BRL: 180,
}

const (
	minAmountCents   = 1000    // $10.00
	maxAmountCents   = 1000000 // $10000.00
	cardOnrampBps    = 290     // 0.029 in ten-thousandths (2.9%)
	platformBaseCent = 299     // $2.99
	platformVarBps   = 50      // 0.005 in ten-thousandths
	platformMinCent  = 99      // $0.99
	platformMaxCent  = 5000    // $50.00
	networkGasCent   = 5       // $0.05
)

// Breakdown is the fully rounded fee result, all fields in two-decimal
// dollars (not cents) for direct JSON exposure.
type Breakdown struct {
	InputAmount    float64 `json:"input_amount"`
	Onramp         float64 `json:"onramp"`
	Corridor       float64 `json:"corridor"`
	Platform       float64 `json:"platform"`
	NetworkGas     float64 `json:"network_gas"`
	Total          float64 `json:"total"`
	UsdcSent       float64 `json:"usdc_sent"`
	TotalCharged   float64 `json:"total_charged"`
}

// Compute runs the fee formula for the given amount (USD, two decimals),
// method, corridor, and handling mode. amount must be between 10 and
// 10000 inclusive.
func Compute(amount float64, method Method, corridor Corridor, mode HandlingMode) (Breakdown, error) {
	amountCents := toCents(amount)

	if amountCents < minAmountCents || amountCents > maxAmountCents {
		return Breakdown{}, apperr.New(apperr.InvalidInput, "amount must be between 10.00 and 10000.00")
	}

	var onrampBps int64
	switch method {
	case MethodACH:
		onrampBps = 0
	case MethodCard:
		onrampBps = cardOnrampBps
	default:
		return Breakdown{}, apperr.New(apperr.InvalidInput, "unknown payment method: "+string(method))
	}

	rateBps, ok := corridorRate[corridor]
	if !ok {
		return Breakdown{}, apperr.New(apperr.InvalidInput, "unknown destination currency: "+string(corridor))
	}

	onrampCents := bpsOf(amountCents, onrampBps)
	corridorCents := bpsOf(amountCents, rateBps)
	platformCents := clamp(platformBaseCent+bpsOf(amountCents, platformVarBps), platformMinCent, platformMaxCent)
	totalCents := onrampCents + corridorCents + platformCents + networkGasCent

	var usdcSentCents, totalChargedCents int64
	switch mode {
	case Inclusive:
		usdcSentCents = amountCents - totalCents
		totalChargedCents = amountCents
	case Additive:
		usdcSentCents = amountCents
		totalChargedCents = amountCents + totalCents
	default:
		return Breakdown{}, apperr.New(apperr.InvalidInput, "unknown fee handling mode: "+string(mode))
	}

	return Breakdown{
		InputAmount:  fromCents(amountCents),
		Onramp:       fromCents(onrampCents),
		Corridor:     fromCents(corridorCents),
		Platform:     fromCents(platformCents),
		NetworkGas:   fromCents(networkGasCent),
		Total:        fromCents(totalCents),
		UsdcSent:     fromCents(usdcSentCents),
		TotalCharged: fromCents(totalChargedCents),
	}, nil
}

// PaymentMethodFromOnramp recovers the Method implied by an onramp fee
// amount (zero means ACH). Nothing in this module calls it: payments
// store their method explicitly and the orchestrator reads that column.
func PaymentMethodFromOnramp(onrampFeeCents int64) Method {
	if onrampFeeCents == 0 {
		return MethodACH
	}
	return MethodCard
}

func toCents(amount float64) int64 {
	return int64(roundHalfAwayFromZero(amount * 100))
}

func fromCents(cents int64) float64 {
	return float64(cents) / 100
}

// bpsOf returns round(amountCents * bps / 10000), i.e. amountCents scaled
// by a rate expressed in ten-thousandths, half-away-from-zero rounded.
func bpsOf(amountCents, bps int64) int64 {
	num := amountCents * bps
	if num >= 0 {
		return (num + 5000) / 10000
	}
	return (num - 5000) / 10000
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func roundHalfAwayFromZero(v float64) float64 {
	if v >= 0 {
		return float64(int64(v + 0.5))
	}
	return float64(int64(v - 0.5))
}
