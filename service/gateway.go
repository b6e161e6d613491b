package service

import (
	"context"
	"fmt"

	"github.com/Clemson-Esports/dues-bot/model"
)

// BillingGateway isolates the billing provider behind the two
// operations the workflow engine needs.
type BillingGateway interface {
	// CreateDuesInvoice creates and sends a payable invoice for the
	// payer. Any provider-side failure is returned as a *GatewayError
	// and aborts the workflow attempt.
	CreateDuesInvoice(ctx context.Context, payer model.Payer, amountCents int64, currency string, daysUntilDue int) (model.Invoice, error)
	// IsPaid reports whether a payment-succeeded event exists for the
	// invoice. Errors are transient query failures, not termination.
	IsPaid(ctx context.Context, invoiceID string) (bool, error)
}

// GatewayError marks a provider-side failure during invoice creation.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("billing gateway: %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// eventScanLimit is the page size used when walking the event feed.
const eventScanLimit = 100

// StripeGateway implements BillingGateway against the Stripe API.
type StripeGateway struct {
	api           *StripeClient
	clock         Clock
	productPrefix string
}

func NewStripeGateway(api *StripeClient, clock Clock, productPrefix string) *StripeGateway {
	return &StripeGateway{
		api:           api,
		clock:         clock,
		productPrefix: productPrefix,
	}
}

// productName labels the invoice with the current dues season.
func (g *StripeGateway) productName() string {
	year := g.clock.Now().Year()
	return fmt.Sprintf("%s Dues %d-%d", g.productPrefix, year, year+1)
}

// CreateDuesInvoice walks the provider's product -> price -> customer ->
// invoice -> invoice item chain and sends the result to the payer's
// email. The due time is fixed here from daysUntilDue and never
// recomputed afterwards.
func (g *StripeGateway) CreateDuesInvoice(ctx context.Context, payer model.Payer, amountCents int64, currency string, daysUntilDue int) (model.Invoice, error) {
	product, err := g.api.CreateProduct(ctx, g.productName())
	if err != nil {
		return model.Invoice{}, &GatewayError{Op: "create product", Err: err}
	}

	price, err := g.api.CreatePrice(ctx, product.ID, amountCents, currency)
	if err != nil {
		return model.Invoice{}, &GatewayError{Op: "create price", Err: err}
	}

	customer, err := g.api.CreateCustomer(ctx, payer.Name, payer.Email)
	if err != nil {
		return model.Invoice{}, &GatewayError{Op: "create customer", Err: err}
	}

	invoice, err := g.api.CreateInvoice(ctx, customer.ID, daysUntilDue)
	if err != nil {
		return model.Invoice{}, &GatewayError{Op: "create invoice", Err: err}
	}

	if _, err := g.api.CreateInvoiceItem(ctx, customer.ID, price.ID, invoice.ID); err != nil {
		return model.Invoice{}, &GatewayError{Op: "create invoice item", Err: err}
	}

	sent, err := g.api.SendInvoice(ctx, invoice.ID)
	if err != nil {
		return model.Invoice{}, &GatewayError{Op: "send invoice", Err: err}
	}

	issued := g.clock.Now()
	return model.Invoice{
		ID:          invoice.ID,
		CustomerID:  customer.ID,
		AmountCents: amountCents,
		Currency:    currency,
		IssuedAt:    issued,
		DueAt:       g.clock.Deadline(issued, daysUntilDue),
		HostedURL:   sent.HostedInvoiceURL,
	}, nil
}

// IsPaid walks the account-wide event feed, page by page, for a
// payment-succeeded event carrying this invoice's id. Events failing
// either filter are ignored. Pagination follows has_more so a burst of
// unrelated payments between polls cannot push the event out of reach.
func (g *StripeGateway) IsPaid(ctx context.Context, invoiceID string) (bool, error) {
	var after string
	for {
		events, more, err := g.api.ListPaymentEvents(ctx, eventScanLimit, after)
		if err != nil {
			return false, err
		}
		for _, event := range events {
			if event.Type != PaymentSucceededEvent {
				continue
			}
			if event.Data.Object.ID == invoiceID {
				return true, nil
			}
		}
		if !more || len(events) == 0 {
			return false, nil
		}
		after = events[len(events)-1].ID
	}
}
