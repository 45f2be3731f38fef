package providers

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"

	"github.com/plm/crossbridge/apperr"
)

// StripeOnramp charges a USD amount via Stripe PaymentIntents and reports
// it as onramp completion. It runs in mock mode (no network call) when
// STRIPE_SECRET_KEY is unset, so the service is runnable without a real
// Stripe account.
type StripeOnramp struct {
	secretKey string
	mockMode  bool
}

func NewStripeOnramp() *StripeOnramp {
	secretKey := os.Getenv("STRIPE_SECRET_KEY")
	mockMode := secretKey == ""
	if mockMode {
		secretKey = "sk_test_mock_key"
	}
	stripe.Key = secretKey

	return &StripeOnramp{secretKey: secretKey, mockMode: mockMode}
}

func (s *StripeOnramp) Charge(ctx context.Context, amount float64, method string, userID string) (OnrampResult, error) {
	amountCents := int64(amount*100 + 0.5)

	if s.mockMode {
		return OnrampResult{
			TxID:         fmt.Sprintf("pi_mock_%s_%d", userID, amountCents),
			USDCReceived: amount,
			Status:       "succeeded",
			Timestamp:    time.Now().Unix(),
		}, nil
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amountCents),
		Currency: stripe.String("usd"),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		Metadata: map[string]string{
			"user_id":        userID,
			"payment_method": method,
		},
		Confirm: stripe.Bool(true),
	}
	params.Context = ctx

	pi, err := paymentintent.New(params)
	if err != nil {
		return OnrampResult{}, apperr.Wrap(apperr.ProviderFailure, "stripe charge failed", err)
	}
	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		return OnrampResult{}, apperr.New(apperr.ProviderFailure, "stripe payment intent did not succeed: "+string(pi.Status))
	}

	return OnrampResult{
		TxID:         pi.ID,
		USDCReceived: amount,
		Status:       string(pi.Status),
		Timestamp:    time.Now().Unix(),
	}, nil
}
