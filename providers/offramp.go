package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/plm/crossbridge/apperr"
)

// HTTPOfframp settles a USDC amount into local currency by POSTing to a
// configured offramp sink, following the same request/response and
// mock-mode shape StripeOnramp uses for the onramp side.
type HTTPOfframp struct {
	sinkURL    string
	httpClient *http.Client
	mockMode   bool
}

func NewHTTPOfframp() *HTTPOfframp {
	url := os.Getenv("OFFRAMP_SINK_URL")
	return &HTTPOfframp{
		sinkURL:    url,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		mockMode:   url == "",
	}
}

type offrampRequest struct {
	Usdc     float64 `json:"usdc"`
	Currency string  `json:"currency"`
	UserID   string  `json:"user_id"`
}

type offrampResponse struct {
	TxID        string  `json:"tx_id"`
	LocalAmount float64 `json:"local_amount"`
	Status      string  `json:"status"`
}

func (o *HTTPOfframp) Settle(ctx context.Context, usdc float64, currency string, userID string) (OfframpResult, error) {
	if o.mockMode {
		return OfframpResult{
			TxID:        fmt.Sprintf("offramp_mock_%s_%d", userID, time.Now().UnixNano()),
			LocalAmount: usdc,
			Currency:    currency,
			Status:      "succeeded",
			Timestamp:   time.Now().Unix(),
		}, nil
	}

	body, err := json.Marshal(offrampRequest{Usdc: usdc, Currency: currency, UserID: userID})
	if err != nil {
		return OfframpResult{}, apperr.Wrap(apperr.Internal, "failed to marshal offramp request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.sinkURL, bytes.NewReader(body))
	if err != nil {
		return OfframpResult{}, apperr.Wrap(apperr.Internal, "failed to build offramp request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return OfframpResult{}, apperr.Wrap(apperr.ProviderFailure, "offramp request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return OfframpResult{}, apperr.New(apperr.ProviderFailure, fmt.Sprintf("offramp sink returned status %d", resp.StatusCode))
	}

	var out offrampResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return OfframpResult{}, apperr.Wrap(apperr.ProviderFailure, "offramp response decode failed", err)
	}

	return OfframpResult{
		TxID:        out.TxID,
		LocalAmount: out.LocalAmount,
		Currency:    currency,
		Status:      out.Status,
		Timestamp:   time.Now().Unix(),
	}, nil
}
