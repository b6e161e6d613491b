package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Clemson-Esports/dues-bot/model"
)

// Engine runs one payer's dues workflow from invoice creation through
// payment polling to a terminal outcome. It holds no state across
// runs, so instances for different payers are fully independent.
type Engine struct {
	gateway      BillingGateway
	clock        Clock
	amountCents  int64
	currency     string
	daysUntilDue int
	pollInterval time.Duration
}

func NewEngine(gateway BillingGateway, clock Clock, amountCents int64, currency string, daysUntilDue int, pollInterval time.Duration) *Engine {
	return &Engine{
		gateway:      gateway,
		clock:        clock,
		amountCents:  amountCents,
		currency:     currency,
		daysUntilDue: daysUntilDue,
		pollInterval: pollInterval,
	}
}

// Run drives Created -> Polling -> {Paid | NotPaid}.
//
// onInvoiceReady fires exactly once, right after the invoice exists, so
// the caller can surface the payment link. A creation failure aborts
// the run with no outcome; a canceled context aborts between poll
// ticks. Transient payment-check failures are logged and treated as
// "not paid this tick".
func (e *Engine) Run(ctx context.Context, payer model.Payer, onInvoiceReady func(model.Invoice)) (model.DuesOutcome, error) {
	invoice, err := e.gateway.CreateDuesInvoice(ctx, payer, e.amountCents, e.currency, e.daysUntilDue)
	if err != nil {
		return model.OutcomeNone, err
	}

	if onInvoiceReady != nil {
		onInvoiceReady(invoice)
	}

	log.Info().
		Str("invoice", invoice.ID).
		Int64("chat", payer.ChatID).
		Time("due", invoice.DueAt).
		Msg("invoice sent, polling for payment")

	for e.clock.Now().Before(invoice.DueAt) {
		if err := e.clock.Sleep(ctx, e.pollInterval); err != nil {
			return model.OutcomeNone, err
		}
		// Re-check after sleeping so the last query always lands
		// strictly before the deadline.
		if !e.clock.Now().Before(invoice.DueAt) {
			break
		}

		paid, err := e.gateway.IsPaid(ctx, invoice.ID)
		if err != nil {
			log.Warn().
				Str("invoice", invoice.ID).
				Time("at", e.clock.Now()).
				Err(err).
				Msg("payment check failed, will retry next tick")
			continue
		}
		if paid {
			return model.OutcomePaid, nil
		}
	}

	return model.OutcomeNotPaid, nil
}
