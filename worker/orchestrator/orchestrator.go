// Package orchestrator drives a payment through onramp and offramp to
// completion. It is the resumable core of the payment orchestrator
// worker: ProcessPayment can be called again after a crash or a nacked
// job and picks up from whatever status the payment is currently in,
// rather than re-running stages that already committed.
package orchestrator

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/plm/crossbridge/apperr"
	"github.com/plm/crossbridge/payment"
	"github.com/plm/crossbridge/providers"
)

// Store is the subset of the payment store the orchestrator depends on.
// TransitionStatus returns the webhook delivery id it enqueued, empty
// when enqueueWebhook was false.
type Store interface {
	GetPayment(ctx context.Context, id string) (*payment.Payment, error)
	TransitionStatus(ctx context.Context, paymentID string, to payment.Status, metadata []byte, txFields map[string]string, enqueueWebhook bool) (string, error)
}

// Requeuer hands a newly enqueued webhook delivery off to the webhook
// delivery stream, satisfied by the NATS client.
type Requeuer interface {
	PublishWebhookJob(ctx context.Context, deliveryID string) error
}

// Breaker is the circuit breaker contract for a single provider leg,
// satisfied by storage/redis's ProviderBreaker.
type Breaker interface {
	Allow(ctx context.Context) error
	RecordSuccess(ctx context.Context) error
	RecordFailure(ctx context.Context) error
}

// Orchestrator wires the provider adapters and per-leg circuit breakers
// around the payment state machine.
type Orchestrator struct {
	store          Store
	webhooks       Requeuer
	onramp         providers.OnrampProvider
	offramp        providers.OfframpProvider
	balance        providers.BalanceOracle
	onrampBreaker  Breaker
	offrampBreaker Breaker
	log            zerolog.Logger
}

func New(store Store, webhooks Requeuer, onramp providers.OnrampProvider, offramp providers.OfframpProvider, balance providers.BalanceOracle, onrampBreaker, offrampBreaker Breaker, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		store:          store,
		webhooks:       webhooks,
		onramp:         onramp,
		offramp:        offramp,
		balance:        balance,
		onrampBreaker:  onrampBreaker,
		offrampBreaker: offrampBreaker,
		log:            log,
	}
}

// ProcessPayment drives one payment from its stored status through every
// remaining stage, onramp then offramp, to COMPLETED or FAILED before it
// returns, so the NATS consumer calling this does not need to know the
// state machine shape.
func (o *Orchestrator) ProcessPayment(ctx context.Context, paymentID string) error {
	p, err := o.store.GetPayment(ctx, paymentID)
	if err != nil {
		return err
	}

	switch p.Status {
	case payment.StatusConfirmed:
		return o.beginOnramp(ctx, p)
	case payment.StatusOnrampPending:
		return o.runOnramp(ctx, p)
	case payment.StatusOnrampCompleted:
		return o.beginOfframp(ctx, p)
	case payment.StatusOfframpPending:
		return o.runOfframp(ctx, p)
	case payment.StatusOfframpCompleted:
		return o.complete(ctx, p)
	default:
		o.log.Debug().Str("payment_id", paymentID).Str("status", string(p.Status)).Msg("payment not actionable, skipping")
		return nil
	}
}

// transition performs a status transition and requeues the webhook it
// enqueues, if any.
func (o *Orchestrator) transition(ctx context.Context, paymentID string, to payment.Status, metadata []byte, txFields map[string]string) error {
	deliveryID, err := o.store.TransitionStatus(ctx, paymentID, to, metadata, txFields, true)
	if err != nil {
		return err
	}
	if deliveryID != "" {
		if err := o.webhooks.PublishWebhookJob(ctx, deliveryID); err != nil {
			o.log.Warn().Err(err).Str("delivery_id", deliveryID).Msg("failed to publish webhook job")
		}
	}
	return nil
}

func (o *Orchestrator) beginOnramp(ctx context.Context, p *payment.Payment) error {
	if _, err := o.balance.Balance(ctx, p.UserID); err != nil {
		return apperr.Wrap(apperr.Internal, "balance check failed", err)
	}
	if err := o.transition(ctx, p.ID, payment.StatusOnrampPending, nil, nil); err != nil {
		return err
	}
	return o.runOnramp(ctx, p)
}

func (o *Orchestrator) runOnramp(ctx context.Context, p *payment.Payment) error {
	if err := o.onrampBreaker.Allow(ctx); err != nil {
		return apperr.Wrap(apperr.ProviderFailure, "onramp circuit open", err)
	}

	result, err := o.onramp.Charge(ctx, p.Amount, string(p.PaymentMethod), p.UserID)
	if err != nil {
		o.onrampBreaker.RecordFailure(ctx)
		return o.fail(ctx, p.ID, payment.StatusOnrampFailed, err)
	}
	o.onrampBreaker.RecordSuccess(ctx)

	if err := o.transition(ctx, p.ID, payment.StatusOnrampCompleted,
		[]byte(fmt.Sprintf(`{"tx_id":%q}`, result.TxID)),
		map[string]string{"onramp_tx_id": result.TxID}); err != nil {
		return err
	}
	return o.beginOfframp(ctx, p)
}

func (o *Orchestrator) beginOfframp(ctx context.Context, p *payment.Payment) error {
	if err := o.transition(ctx, p.ID, payment.StatusOfframpPending, nil, nil); err != nil {
		return err
	}
	return o.runOfframp(ctx, p)
}

func (o *Orchestrator) runOfframp(ctx context.Context, p *payment.Payment) error {
	if err := o.offrampBreaker.Allow(ctx); err != nil {
		return apperr.Wrap(apperr.ProviderFailure, "offramp circuit open", err)
	}

	result, err := o.offramp.Settle(ctx, p.UsdcSent, p.DestinationCurrency, p.UserID)
	if err != nil {
		o.offrampBreaker.RecordFailure(ctx)
		return o.fail(ctx, p.ID, payment.StatusOfframpFailed, err)
	}
	o.offrampBreaker.RecordSuccess(ctx)

	if err := o.transition(ctx, p.ID, payment.StatusOfframpCompleted,
		[]byte(fmt.Sprintf(`{"tx_id":%q}`, result.TxID)),
		map[string]string{"offramp_tx_id": result.TxID}); err != nil {
		return err
	}

	reloaded, err := o.store.GetPayment(ctx, p.ID)
	if err != nil {
		return err
	}
	return o.complete(ctx, reloaded)
}

func (o *Orchestrator) complete(ctx context.Context, p *payment.Payment) error {
	return o.transition(ctx, p.ID, payment.StatusCompleted, nil, nil)
}

// fail drives a payment from a runnable stage through its sticky failure
// substate to terminal FAILED, then returns a non-nil error so the caller
// nacks the job instead of acknowledging a payment that never reached a
// terminal status.
func (o *Orchestrator) fail(ctx context.Context, paymentID string, sticky payment.Status, cause error) error {
	if err := o.transition(ctx, paymentID, sticky, nil, nil); err != nil {
		return err
	}
	if err := o.transition(ctx, paymentID, payment.StatusFailed, nil, nil); err != nil {
		return err
	}
	return apperr.Wrap(apperr.ProviderFailure, "payment failed at "+string(sticky), cause)
}
