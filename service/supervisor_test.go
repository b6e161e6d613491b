package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Clemson-Esports/dues-bot/model"
)

// gatedGateway keeps invoices unpaid until release is closed, so tests
// can hold a workflow in its polling phase.
type gatedGateway struct {
	fakeGateway
	release chan struct{}
}

func (g *gatedGateway) IsPaid(ctx context.Context, invoiceID string) (bool, error) {
	select {
	case <-g.release:
		return true, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func newTestSupervisor(gateway BillingGateway, chat ChatPlatform, store Store, grace time.Duration) *Supervisor {
	engine := NewEngine(gateway, SystemClock{}, 5000, "usd", 1, time.Millisecond)
	dispatcher := NewDispatcher(chat, store, SystemClock{}, grace)
	return NewSupervisor(engine, dispatcher, chat, store)
}

func waitInactive(t *testing.T, sup *Supervisor, chatID int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !sup.ActiveFor(chatID) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("workflow for chat %d did not finish", chatID)
}

func TestSupervisorRejectsDuplicatePayer(t *testing.T) {
	chat := &fakeChat{}
	store := newMemStore()
	gw := &gatedGateway{fakeGateway: fakeGateway{clock: SystemClock{}}, release: make(chan struct{})}
	sup := newTestSupervisor(gw, chat, store, 5*time.Millisecond)
	defer sup.Stop()

	invoice, err := sup.Begin(testPayer)
	if err != nil {
		t.Fatalf("first request rejected: %v", err)
	}
	if invoice.HostedURL == "" {
		t.Fatal("expected the payment link synchronously")
	}

	if _, err := sup.Begin(testPayer); !errors.Is(err, ErrDuplicateRequest) {
		t.Fatalf("expected ErrDuplicateRequest, got %v", err)
	}

	// A different payer is unaffected by the duplicate guard.
	other := model.Payer{ChatID: 43, Name: "Other Member", Email: "other@example.com"}
	if _, err := sup.Begin(other); err != nil {
		t.Fatalf("independent payer rejected: %v", err)
	}

	close(gw.release)
	waitInactive(t, sup, testPayer.ChatID)
	waitInactive(t, sup, other.ChatID)

	if _, err := sup.Begin(testPayer); err != nil {
		t.Fatalf("payer with a finished workflow rejected: %v", err)
	}
}

func TestSupervisorReacceptsBeforeChannelGrace(t *testing.T) {
	chat := &fakeChat{withChannels: true}
	store := newMemStore()
	gw := &gatedGateway{fakeGateway: fakeGateway{clock: SystemClock{}}, release: make(chan struct{})}
	sup := newTestSupervisor(gw, chat, store, 30*time.Second)
	defer sup.Stop()

	if _, err := sup.Begin(testPayer); err != nil {
		t.Fatalf("request rejected: %v", err)
	}

	close(gw.release)
	waitInactive(t, sup, testPayer.ChatID)

	// The outcome has been dispatched but the channel teardown is still
	// waiting out its grace period.
	grants, paid, _, deleted := chat.counts()
	if grants != 1 || paid != 1 {
		t.Fatalf("expected the paid effects dispatched, got %d grants %d notices", grants, paid)
	}
	if deleted != 0 {
		t.Fatalf("channel deleted before the grace period, %d deletions", deleted)
	}

	// A fresh request must not wait for the pending teardown.
	if _, err := sup.Begin(testPayer); err != nil {
		t.Fatalf("payer rejected while only the channel teardown was pending: %v", err)
	}
}

func TestSupervisorChannelFirstOrdering(t *testing.T) {
	chat := &fakeChat{createErr: errors.New("forum unavailable")}
	store := newMemStore()
	gw := &fakeGateway{clock: SystemClock{}}
	sup := newTestSupervisor(gw, chat, store, 5*time.Millisecond)
	defer sup.Stop()

	if _, err := sup.Begin(testPayer); err == nil {
		t.Fatal("expected the channel-create failure to surface")
	}
	if gw.createCalls != 0 {
		t.Fatalf("billing was called despite the channel failure: %d", gw.createCalls)
	}
	if sup.ActiveFor(testPayer.ChatID) {
		t.Fatal("payer still registered after the abort")
	}
}

func TestSupervisorSurfacesCreationFailure(t *testing.T) {
	chat := &fakeChat{}
	store := newMemStore()
	gw := &fakeGateway{
		clock:     SystemClock{},
		createErr: &GatewayError{Op: "create customer", Err: errors.New("invalid email")},
	}
	sup := newTestSupervisor(gw, chat, store, 5*time.Millisecond)
	defer sup.Stop()

	_, err := sup.Begin(testPayer)
	var gerr *GatewayError
	if !errors.As(err, &gerr) {
		t.Fatalf("expected a GatewayError, got %v", err)
	}

	waitInactive(t, sup, testPayer.ChatID)

	grants, paid, unpaid, _ := chat.counts()
	if grants+paid+unpaid != 0 {
		t.Fatal("aborted workflow dispatched side effects")
	}
}

func TestSupervisorStopCancelsWorkflows(t *testing.T) {
	chat := &fakeChat{}
	store := newMemStore()
	gw := &gatedGateway{fakeGateway: fakeGateway{clock: SystemClock{}}, release: make(chan struct{})}
	sup := newTestSupervisor(gw, chat, store, 5*time.Millisecond)

	if _, err := sup.Begin(testPayer); err != nil {
		t.Fatalf("request rejected: %v", err)
	}

	done := make(chan struct{})
	go func() {
		sup.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after cancellation")
	}

	grants, paid, unpaid, _ := chat.counts()
	if grants+paid+unpaid != 0 {
		t.Fatal("canceled workflow dispatched side effects")
	}
}
