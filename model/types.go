package model

import "time"

// Payer identifies the member an invoice is issued to. Immutable for
// the life of a workflow.
type Payer struct {
	ChatID int64
	Name   string
	Email  string
}

// Invoice is the billing provider's record of one due amount owed by
// one payer. Created once per workflow attempt, never mutated.
type Invoice struct {
	ID          string
	CustomerID  string
	AmountCents int64
	Currency    string
	IssuedAt    time.Time
	DueAt       time.Time
	HostedURL   string
}

// DuesOutcome is the terminal result of one workflow instance.
type DuesOutcome int

const (
	OutcomeNone DuesOutcome = iota
	OutcomePaid
	OutcomeNotPaid
)

func (o DuesOutcome) String() string {
	switch o {
	case OutcomePaid:
		return "paid"
	case OutcomeNotPaid:
		return "not_paid"
	}
	return "none"
}

// EphemeralChannel is a temporary forum topic created for one payer's
// workflow and deleted after completion.
type EphemeralChannel struct {
	ChatID    int64
	ThreadID  int
	OwnerID   int64
	CreatedAt time.Time
}

// DuesRecord is the persisted audit row for one workflow attempt.
// Outcome stays empty until the workflow is terminal.
type DuesRecord struct {
	InvoiceID   string
	ChatID      int64
	Name        string
	Email       string
	AmountCents int64
	Currency    string
	IssuedAt    time.Time
	DueAt       time.Time
	Outcome     string
	DecidedAt   *time.Time
}

// Stripe wire types. Only the fields the dues flow reads.

// StripeObject covers responses where only the id matters
// (products, prices, customers, invoice items).
type StripeObject struct {
	ID string `json:"id"`
}

// StripeInvoice is an invoice as returned by the Stripe API.
type StripeInvoice struct {
	ID               string `json:"id"`
	Status           string `json:"status"`
	DueDate          int64  `json:"due_date"`
	HostedInvoiceURL string `json:"hosted_invoice_url"`
}

// StripeEvent is one entry of the global event feed.
type StripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID string `json:"id"`
		} `json:"object"`
	} `json:"data"`
}

// StripeEventList is the envelope of GET /v1/events.
type StripeEventList struct {
	Data    []StripeEvent `json:"data"`
	HasMore bool          `json:"has_more"`
}

// StripeAPIError is the error envelope Stripe returns on non-2xx.
type StripeAPIError struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}
