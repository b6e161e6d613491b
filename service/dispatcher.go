package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Clemson-Esports/dues-bot/model"
)

// ChatPlatform is the narrow surface the dues flow needs from the chat
// side: deliver notices, grant access, manage ephemeral channels.
// bot.Bot implements it.
type ChatPlatform interface {
	// CreateChannel opens an ephemeral channel for the payer's
	// workflow. A (nil, nil) return means channels are not configured
	// and the workflow runs without one.
	CreateChannel(ctx context.Context, payer model.Payer) (*model.EphemeralChannel, error)
	DeleteChannel(ctx context.Context, channel *model.EphemeralChannel) error
	GrantMemberAccess(ctx context.Context, payer model.Payer) error
	NotifyPaid(ctx context.Context, payer model.Payer, channel *model.EphemeralChannel) error
	NotifyNotPaid(ctx context.Context, payer model.Payer, channel *model.EphemeralChannel) error
}

// Store is the persistence the workflow path needs. *db.DB implements
// it.
type Store interface {
	RecordInvoice(rec model.DuesRecord) error
	RecordOutcome(invoiceID, outcome string, decidedAt time.Time) error
	WasEffectApplied(invoiceID string) (bool, error)
	MarkEffectApplied(invoiceID, outcome string) error
}

// Dispatcher applies the side effects of a terminal outcome: role
// grant or failure notice, then channel teardown after a grace period.
// Effects run at most once per workflow instance, guarded by the
// store.
type Dispatcher struct {
	chat  ChatPlatform
	store Store
	clock Clock
	grace time.Duration
}

func NewDispatcher(chat ChatPlatform, store Store, clock Clock, grace time.Duration) *Dispatcher {
	return &Dispatcher{
		chat:  chat,
		store: store,
		clock: clock,
		grace: grace,
	}
}

// Apply performs the side effects for one decided workflow. Failures
// past the guard never roll back the outcome: they are logged and the
// rest of the effects still run. An unreadable guard skips the effects
// entirely, since dispatching without it could grant twice.
func (d *Dispatcher) Apply(ctx context.Context, outcome model.DuesOutcome, payer model.Payer, invoice model.Invoice, channel *model.EphemeralChannel) {
	applied, err := d.store.WasEffectApplied(invoice.ID)
	if err != nil {
		log.Error().Str("invoice", invoice.ID).Err(err).Msg("effect guard unreadable, side effects withheld")
		return
	}
	if applied {
		log.Warn().Str("invoice", invoice.ID).Msg("side effects already applied, skipping")
		return
	}

	if err := d.store.RecordOutcome(invoice.ID, outcome.String(), d.clock.Now()); err != nil {
		log.Error().Str("invoice", invoice.ID).Err(err).Msg("could not record outcome")
	}

	switch outcome {
	case model.OutcomePaid:
		if err := d.chat.GrantMemberAccess(ctx, payer); err != nil {
			log.Error().Str("invoice", invoice.ID).Int64("chat", payer.ChatID).Err(err).Msg("role grant failed")
		}
		if err := d.chat.NotifyPaid(ctx, payer, channel); err != nil {
			log.Error().Str("invoice", invoice.ID).Int64("chat", payer.ChatID).Err(err).Msg("paid notice failed")
		}
	case model.OutcomeNotPaid:
		if err := d.chat.NotifyNotPaid(ctx, payer, channel); err != nil {
			log.Error().Str("invoice", invoice.ID).Int64("chat", payer.ChatID).Err(err).Msg("failure notice failed")
		}
	}

	if err := d.store.MarkEffectApplied(invoice.ID, outcome.String()); err != nil {
		log.Error().Str("invoice", invoice.ID).Err(err).Msg("could not mark effects applied")
	}
}

// Teardown deletes the workflow's channel once the grace period has
// elapsed. The grace lets the payer read the outcome before the
// channel goes away; a canceled context (shutdown) skips the wait and
// deletes right away. The workflow itself is already over when this
// runs.
func (d *Dispatcher) Teardown(ctx context.Context, channel *model.EphemeralChannel) {
	if channel == nil {
		return
	}
	if err := d.clock.Sleep(ctx, d.grace); err != nil {
		log.Debug().Int64("channel_chat", channel.ChatID).Int("thread", channel.ThreadID).Msg("channel grace period cut short")
	}
	d.Discard(channel)
}

// Discard deletes a channel immediately, best-effort. Used both after
// the grace period and when an aborted workflow leaves a channel
// behind.
func (d *Dispatcher) Discard(channel *model.EphemeralChannel) {
	if channel == nil {
		return
	}
	if err := d.chat.DeleteChannel(context.Background(), channel); err != nil {
		log.Warn().Int64("channel_chat", channel.ChatID).Int("thread", channel.ThreadID).Err(err).Msg("channel deletion failed")
	}
}
