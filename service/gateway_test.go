package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

// stripeStub emulates the handful of Stripe endpoints the gateway
// touches and records the forms it received.
func stripeStub(t *testing.T, forms map[string]url.Values) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk_test_123" {
			t.Errorf("unexpected authorization header %q", auth)
		}
		if r.Method == http.MethodPost {
			if err := r.ParseForm(); err != nil {
				t.Fatalf("parse form: %v", err)
			}
		}

		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/products":
			forms["products"] = r.PostForm
			json.NewEncoder(w).Encode(map[string]string{"id": "prod_1"})
		case r.Method == http.MethodPost && r.URL.Path == "/v1/prices":
			forms["prices"] = r.PostForm
			json.NewEncoder(w).Encode(map[string]string{"id": "price_1"})
		case r.Method == http.MethodPost && r.URL.Path == "/v1/customers":
			forms["customers"] = r.PostForm
			json.NewEncoder(w).Encode(map[string]string{"id": "cus_1"})
		case r.Method == http.MethodPost && r.URL.Path == "/v1/invoices":
			forms["invoices"] = r.PostForm
			json.NewEncoder(w).Encode(map[string]string{"id": "in_1", "status": "draft"})
		case r.Method == http.MethodPost && r.URL.Path == "/v1/invoiceitems":
			forms["invoiceitems"] = r.PostForm
			json.NewEncoder(w).Encode(map[string]string{"id": "ii_1"})
		case r.Method == http.MethodPost && r.URL.Path == "/v1/invoices/in_1/send":
			forms["send"] = r.PostForm
			json.NewEncoder(w).Encode(map[string]string{
				"id":                 "in_1",
				"status":             "open",
				"hosted_invoice_url": "https://pay.stripe.test/in_1",
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func TestCreateDuesInvoiceChain(t *testing.T) {
	forms := map[string]url.Values{}
	srv := httptest.NewServer(stripeStub(t, forms))
	defer srv.Close()

	start := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	clock := newFakeClock(start)
	gateway := NewStripeGateway(NewStripeClient("sk_test_123", srv.URL), clock, "Clemson Esports")

	invoice, err := gateway.CreateDuesInvoice(context.Background(), testPayer, 5000, "usd", 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if invoice.ID != "in_1" {
		t.Fatalf("expected invoice in_1, got %q", invoice.ID)
	}
	if invoice.HostedURL != "https://pay.stripe.test/in_1" {
		t.Fatalf("unexpected hosted URL %q", invoice.HostedURL)
	}
	if !invoice.DueAt.Equal(start.AddDate(0, 0, 7)) {
		t.Fatalf("expected due time issue+7d, got %v", invoice.DueAt)
	}

	if got := forms["products"].Get("name"); got != "Clemson Esports Dues 2026-2027" {
		t.Fatalf("unexpected product name %q", got)
	}
	if got := forms["prices"].Get("unit_amount"); got != "5000" {
		t.Fatalf("unexpected unit_amount %q", got)
	}
	if got := forms["customers"].Get("email"); got != testPayer.Email {
		t.Fatalf("unexpected customer email %q", got)
	}
	if got := forms["invoices"].Get("collection_method"); got != "send_invoice" {
		t.Fatalf("unexpected collection_method %q", got)
	}
	if got := forms["invoices"].Get("days_until_due"); got != "7" {
		t.Fatalf("unexpected days_until_due %q", got)
	}
	if got := forms["invoiceitems"].Get("invoice"); got != "in_1" {
		t.Fatalf("invoice item not attached to the invoice, got %q", got)
	}
	if _, ok := forms["send"]; !ok {
		t.Fatal("invoice was never sent")
	}
}

func TestCreateDuesInvoiceProviderRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/products", "/v1/prices":
			json.NewEncoder(w).Encode(map[string]string{"id": "obj_1"})
		case "/v1/customers":
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]map[string]string{
				"error": {"type": "invalid_request_error", "message": "Invalid email address"},
			})
		default:
			t.Errorf("unexpected call to %s after rejection", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	clock := newFakeClock(time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC))
	gateway := NewStripeGateway(NewStripeClient("sk_test_123", srv.URL), clock, "Clemson Esports")

	_, err := gateway.CreateDuesInvoice(context.Background(), testPayer, 5000, "usd", 7)
	var gerr *GatewayError
	if !errors.As(err, &gerr) {
		t.Fatalf("expected a GatewayError, got %v", err)
	}
	if gerr.Op != "create customer" {
		t.Fatalf("expected failure at create customer, got %q", gerr.Op)
	}
	if !strings.Contains(err.Error(), "Invalid email address") {
		t.Fatalf("provider message lost: %v", err)
	}
}

func TestIsPaidFiltersEventFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/events" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if got := r.URL.Query().Get("type"); got != PaymentSucceededEvent {
			t.Errorf("expected type filter %q, got %q", PaymentSucceededEvent, got)
		}
		// A feed with noise: wrong type, wrong invoice, then a match.
		w.Write([]byte(`{
            "data": [
                {"id": "evt_1", "type": "customer.created", "data": {"object": {"id": "in_other"}}},
                {"id": "evt_2", "type": "invoice.payment_succeeded", "data": {"object": {"id": "in_other"}}},
                {"id": "evt_3", "type": "invoice.payment_succeeded", "data": {"object": {"id": "in_match"}}}
            ],
            "has_more": false
        }`))
	}))
	defer srv.Close()

	clock := newFakeClock(time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC))
	gateway := NewStripeGateway(NewStripeClient("sk_test_123", srv.URL), clock, "Clemson Esports")

	paid, err := gateway.IsPaid(context.Background(), "in_match")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !paid {
		t.Fatal("matching event not recognized")
	}

	paid, err = gateway.IsPaid(context.Background(), "in_absent")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if paid {
		t.Fatal("invoice without a matching event reported paid")
	}
}

func TestIsPaidFollowsPagination(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/events" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		requests++
		switch after := r.URL.Query().Get("starting_after"); after {
		case "":
			// First page: unrelated payments only, more to come.
			w.Write([]byte(`{
                "data": [
                    {"id": "evt_1", "type": "invoice.payment_succeeded", "data": {"object": {"id": "in_noise_1"}}},
                    {"id": "evt_2", "type": "invoice.payment_succeeded", "data": {"object": {"id": "in_noise_2"}}}
                ],
                "has_more": true
            }`))
		case "evt_2":
			w.Write([]byte(`{
                "data": [
                    {"id": "evt_3", "type": "invoice.payment_succeeded", "data": {"object": {"id": "in_match"}}}
                ],
                "has_more": false
            }`))
		default:
			t.Errorf("unexpected starting_after cursor %q", after)
			w.Write([]byte(`{"data": [], "has_more": false}`))
		}
	}))
	defer srv.Close()

	clock := newFakeClock(time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC))
	gateway := NewStripeGateway(NewStripeClient("sk_test_123", srv.URL), clock, "Clemson Esports")

	paid, err := gateway.IsPaid(context.Background(), "in_match")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !paid {
		t.Fatal("event on the second page not recognized")
	}
	if requests != 2 {
		t.Fatalf("expected 2 feed pages fetched, got %d", requests)
	}

	requests = 0
	paid, err = gateway.IsPaid(context.Background(), "in_absent")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if paid {
		t.Fatal("absent invoice reported paid")
	}
	if requests != 2 {
		t.Fatalf("expected the whole feed walked, got %d pages", requests)
	}
}

func TestIsPaidTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	clock := newFakeClock(time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC))
	gateway := NewStripeGateway(NewStripeClient("sk_test_123", srv.URL), clock, "Clemson Esports")

	if _, err := gateway.IsPaid(context.Background(), "in_1"); err == nil {
		t.Fatal("expected an error from a dead endpoint")
	}
}
