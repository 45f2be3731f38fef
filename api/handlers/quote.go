// Package handlers implements the HTTP surface: quote, initiate, confirm.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/plm/crossbridge/api/middleware"
	"github.com/plm/crossbridge/apperr"
	"github.com/plm/crossbridge/fees"
	"github.com/plm/crossbridge/quote"
)

type QuoteHandler struct {
	quotes *quote.Service
	log    zerolog.Logger
}

func NewQuoteHandler(quotes *quote.Service, log zerolog.Logger) *QuoteHandler {
	return &QuoteHandler{quotes: quotes, log: log}
}

type quoteRequest struct {
	Amount              float64 `json:"amount"`
	DestinationCurrency string  `json:"destination_currency"`
	PaymentMethod       string  `json:"payment_method"`
	FeeHandling         string  `json:"fee_handling"`
}

type quoteResponse struct {
	QuoteID           string         `json:"quote_id"`
	ExpiresAt         string         `json:"expires_at"`
	ExchangeRate      float64        `json:"exchange_rate"`
	Breakdown         quoteBreakdown `json:"breakdown"`
	Margin            float64        `json:"margin"`
}

type quoteBreakdown struct {
	InputAmount       float64  `json:"input_amount"`
	Fees              quoteFees `json:"fees"`
	UsdcSent          float64  `json:"usdc_sent"`
	DestinationAmount float64  `json:"destination_amount"`
	EffectiveRate     float64  `json:"effective_rate"`
}

type quoteFees struct {
	Onramp     float64 `json:"onramp"`
	Corridor   float64 `json:"corridor"`
	Platform   float64 `json:"platform"`
	NetworkGas float64 `json:"network_gas"`
	Total      float64 `json:"total"`
}

func (h *QuoteHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, apperr.New(apperr.InvalidInput, "malformed request body"))
		return
	}

	mode := fees.HandlingMode(req.FeeHandling)
	if mode == "" {
		mode = fees.Inclusive
	}

	q, err := h.quotes.Generate(r.Context(), req.Amount, fees.Method(req.PaymentMethod), fees.Corridor(req.DestinationCurrency), mode)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, quoteResponse{
		QuoteID:      q.ID,
		ExpiresAt:    q.ExpiresAt.UTC().Format(timeLayout),
		ExchangeRate: q.ExchangeRate,
		Breakdown: quoteBreakdown{
			InputAmount: q.Breakdown.InputAmount,
			Fees: quoteFees{
				Onramp:     q.Breakdown.Onramp,
				Corridor:   q.Breakdown.Corridor,
				Platform:   q.Breakdown.Platform,
				NetworkGas: q.Breakdown.NetworkGas,
				Total:      q.Breakdown.Total,
			},
			UsdcSent:          q.Breakdown.UsdcSent,
			DestinationAmount: q.DestinationAmount,
			EffectiveRate:     q.EffectiveRate,
		},
		Margin: q.Margin,
	})
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"
