package service

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Clemson-Esports/dues-bot/model"
)

// ErrDuplicateRequest is returned when a payer already has an active
// dues workflow.
var ErrDuplicateRequest = errors.New("a dues workflow is already active for this payer")

// Supervisor runs one independent workflow per request and enforces
// the one-active-workflow-per-payer invariant with an atomic
// check-and-register keyed by the payer's chat id.
type Supervisor struct {
	engine     *Engine
	dispatcher *Dispatcher
	chat       ChatPlatform
	store      Store

	mu     sync.Mutex
	active map[int64]context.CancelFunc

	group  errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
}

func NewSupervisor(engine *Engine, dispatcher *Dispatcher, chat ChatPlatform, store Store) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		engine:     engine,
		dispatcher: dispatcher,
		chat:       chat,
		store:      store,
		active:     map[int64]context.CancelFunc{},
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Begin accepts a dues request for payer. It registers the payer,
// opens the ephemeral channel, blocks until the invoice exists (so the
// caller can surface the payment link synchronously), and leaves
// polling plus side effects running on their own goroutine.
//
// A payer with a workflow still in flight is rejected with
// ErrDuplicateRequest before anything is created. The registration is
// released as soon as the prior workflow's side effects have been
// dispatched; only the channel teardown outlives it.
func (s *Supervisor) Begin(payer model.Payer) (model.Invoice, error) {
	s.mu.Lock()
	if _, exists := s.active[payer.ChatID]; exists {
		s.mu.Unlock()
		return model.Invoice{}, ErrDuplicateRequest
	}
	runCtx, cancelRun := context.WithCancel(s.ctx)
	s.active[payer.ChatID] = cancelRun
	s.mu.Unlock()

	// Channel-first ordering: a failed channel create aborts the
	// request before any billing call happens.
	channel, err := s.chat.CreateChannel(runCtx, payer)
	if err != nil {
		s.release(payer.ChatID)
		return model.Invoice{}, err
	}

	ready := make(chan model.Invoice, 1)
	failed := make(chan error, 1)

	s.group.Go(func() error {
		defer s.release(payer.ChatID)

		var invoice model.Invoice
		outcome, err := s.engine.Run(runCtx, payer, func(inv model.Invoice) {
			invoice = inv
			s.recordInvoice(payer, inv)
			ready <- inv
		})
		if err != nil {
			failed <- err
			if outcome == model.OutcomeNone {
				log.Warn().Int64("chat", payer.ChatID).Err(err).Msg("workflow aborted without outcome")
			}
			s.dispatcher.Discard(channel)
			return nil
		}

		log.Info().
			Int64("chat", payer.ChatID).
			Str("invoice", invoice.ID).
			Str("outcome", outcome.String()).
			Msg("workflow reached terminal outcome")

		s.dispatcher.Apply(runCtx, outcome, payer, invoice, channel)

		// The workflow is terminal and its effects are dispatched, so
		// the payer may request again right away. Only the channel
		// teardown lingers past this point, on the supervisor's own
		// context since release cancels runCtx.
		s.release(payer.ChatID)
		s.dispatcher.Teardown(s.ctx, channel)
		return nil
	})

	select {
	case invoice := <-ready:
		return invoice, nil
	case err := <-failed:
		return model.Invoice{}, err
	}
}

// ActiveFor reports whether payer chatID currently has a workflow in
// flight.
func (s *Supervisor) ActiveFor(chatID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[chatID]
	return ok
}

// Stop cancels all workflows cooperatively and waits for them to tear
// down. In-flight provider calls finish first; cancellation lands at
// the next poll sleep.
func (s *Supervisor) Stop() {
	s.cancel()
	if err := s.group.Wait(); err != nil {
		log.Error().Err(err).Msg("workflow group shutdown")
	}
}

func (s *Supervisor) release(chatID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancelRun, ok := s.active[chatID]; ok {
		cancelRun()
		delete(s.active, chatID)
	}
}

func (s *Supervisor) recordInvoice(payer model.Payer, invoice model.Invoice) {
	err := s.store.RecordInvoice(model.DuesRecord{
		InvoiceID:   invoice.ID,
		ChatID:      payer.ChatID,
		Name:        payer.Name,
		Email:       payer.Email,
		AmountCents: invoice.AmountCents,
		Currency:    invoice.Currency,
		IssuedAt:    invoice.IssuedAt,
		DueAt:       invoice.DueAt,
	})
	if err != nil {
		log.Error().Str("invoice", invoice.ID).Err(err).Msg("could not record invoice")
	}
}
