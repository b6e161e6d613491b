package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Clemson-Esports/dues-bot/model"
)

// PaymentSucceededEvent is the event type Stripe emits when an invoice
// gets paid.
const PaymentSucceededEvent = "invoice.payment_succeeded"

// sendInvoiceMethod bills the customer by email instead of charging a
// stored payment method.
const sendInvoiceMethod = "send_invoice"

// StripeClient talks to the handful of Stripe API endpoints the dues
// flow needs. One method per endpoint, form-encoded requests.
type StripeClient struct {
	client  *http.Client
	apiKey  string
	baseURL string
}

func NewStripeClient(apiKey, baseURL string) *StripeClient {
	if baseURL == "" {
		baseURL = "https://api.stripe.com"
	}
	return &StripeClient{
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (s *StripeClient) CreateProduct(ctx context.Context, name string) (model.StripeObject, error) {
	form := url.Values{}
	form.Set("name", name)

	var product model.StripeObject
	err := s.post(ctx, "/v1/products", form, &product)
	return product, err
}

func (s *StripeClient) CreatePrice(ctx context.Context, productID string, amountCents int64, currency string) (model.StripeObject, error) {
	form := url.Values{}
	form.Set("product", productID)
	form.Set("unit_amount", strconv.FormatInt(amountCents, 10))
	form.Set("currency", currency)

	var price model.StripeObject
	err := s.post(ctx, "/v1/prices", form, &price)
	return price, err
}

func (s *StripeClient) CreateCustomer(ctx context.Context, name, email string) (model.StripeObject, error) {
	form := url.Values{}
	form.Set("name", name)
	form.Set("email", email)

	var customer model.StripeObject
	err := s.post(ctx, "/v1/customers", form, &customer)
	return customer, err
}

func (s *StripeClient) CreateInvoice(ctx context.Context, customerID string, daysUntilDue int) (model.StripeInvoice, error) {
	form := url.Values{}
	form.Set("customer", customerID)
	form.Set("collection_method", sendInvoiceMethod)
	form.Set("days_until_due", strconv.Itoa(daysUntilDue))

	var invoice model.StripeInvoice
	err := s.post(ctx, "/v1/invoices", form, &invoice)
	return invoice, err
}

func (s *StripeClient) CreateInvoiceItem(ctx context.Context, customerID, priceID, invoiceID string) (model.StripeObject, error) {
	form := url.Values{}
	form.Set("customer", customerID)
	form.Set("price", priceID)
	form.Set("invoice", invoiceID)

	var item model.StripeObject
	err := s.post(ctx, "/v1/invoiceitems", form, &item)
	return item, err
}

func (s *StripeClient) SendInvoice(ctx context.Context, invoiceID string) (model.StripeInvoice, error) {
	var invoice model.StripeInvoice
	err := s.post(ctx, "/v1/invoices/"+invoiceID+"/send", url.Values{}, &invoice)
	return invoice, err
}

// ListPaymentEvents returns one page of payment-succeeded events from
// the global event feed, newest first, plus whether more pages follow.
// Pass the last event id of the previous page as startingAfter to walk
// the feed. The feed is account-wide; callers still have to match
// events to their own invoice.
func (s *StripeClient) ListPaymentEvents(ctx context.Context, limit int, startingAfter string) ([]model.StripeEvent, bool, error) {
	params := url.Values{}
	params.Set("type", PaymentSucceededEvent)
	params.Set("limit", strconv.Itoa(limit))
	if startingAfter != "" {
		params.Set("starting_after", startingAfter)
	}

	var list model.StripeEventList
	if err := s.get(ctx, "/v1/events", params, &list); err != nil {
		return nil, false, err
	}
	return list.Data, list.HasMore, nil
}

func (s *StripeClient) post(ctx context.Context, path string, form url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Idempotency-Key", uuid.NewString())

	return s.do(req, out)
}

func (s *StripeClient) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	reqURL := s.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("create request failed: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	return s.do(req, out)
}

func (s *StripeClient) do(req *http.Request, out interface{}) error {
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %s", s.redact(err.Error()))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr model.StripeAPIError
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("api error: %s (status %d)", s.redact(apiErr.Error.Message), resp.StatusCode)
		}
		return fmt.Errorf("bad status code: %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode error: %w", err)
	}
	return nil
}

// redact keeps the API key out of error text.
func (s *StripeClient) redact(msg string) string {
	if s.apiKey == "" {
		return msg
	}
	return strings.ReplaceAll(msg, s.apiKey, "***")
}
