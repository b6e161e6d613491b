package bot

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"github.com/Clemson-Esports/dues-bot/model"
	"github.com/Clemson-Esports/dues-bot/service"
)

func (bot *Bot) setupHandlers() {
	// Commands
	bot.b.Handle("/start", bot.handleStart)
	bot.b.Handle("/menu", bot.handleStart)
	bot.b.Handle("/help", bot.handleHelp)
	bot.b.Handle("/cancel", bot.handleCancel)
	bot.b.Handle("/dues", bot.startDuesWizard)
	bot.b.Handle("/status", bot.handleStatus)

	// Text Input
	bot.b.Handle(tele.OnText, bot.handleText)

	// Callbacks
	bot.b.Handle(&btnRequestDues, bot.startDuesWizard)
	bot.b.Handle(&btnStatus, bot.handleStatus)
	bot.b.Handle(&btnRecent, bot.handleRecentOutcomes)
	bot.b.Handle(&btnBackToMain, bot.handleBackToMain)
}

func (bot *Bot) handleStart(c tele.Context) error {
	welcomeText := fmt.Sprintf("👋 Welcome to the %s dues bot!\n\n"+
		"Yearly dues are %s. Request an invoice below, pay it online, and your member invite arrives automatically.",
		bot.cfg.Dues.ProductPrefix,
		formatAmount(bot.cfg.Dues.AmountCents, bot.cfg.CurrencyDisplay()))

	return c.Send(welcomeText, bot.mainMenuKeyboard())
}

func (bot *Bot) handleHelp(c tele.Context) error {
	helpText := "📌 *Dues bot help*\n\n" +
		"Commands:\n" +
		"/dues - request a dues invoice\n" +
		"/status - check your current invoice\n" +
		"/cancel - abandon the current input step\n" +
		"/menu - show the main menu\n\n" +
		"How it works:\n" +
		"1. Tell me your name and email\n" +
		fmt.Sprintf("2. I send a Stripe invoice for %s, due in %d days\n",
			formatAmount(bot.cfg.Dues.AmountCents, bot.cfg.CurrencyDisplay()), bot.cfg.Dues.DaysUntilDue) +
		"3. Pay it online; once payment clears you get a members invite\n\n" +
		fmt.Sprintf("Trouble paying? Contact %s.", bot.cfg.Telegram.EscalationContact)

	return c.Send(helpText, tele.ModeMarkdown)
}

func (bot *Bot) handleCancel(c tele.Context) error {
	chatID := c.Chat().ID
	bot.setState(chatID, StateIdle)
	bot.clearTempData(chatID)

	return c.Send("❌ Input canceled. Back to the main menu:", bot.mainMenuKeyboard())
}

func (bot *Bot) handleText(c tele.Context) error {
	chatID := c.Chat().ID
	state := bot.getState(chatID)
	text := strings.TrimSpace(c.Text())

	switch state {
	case StateWaitingForName:
		return bot.processNameInput(c, chatID, text)
	case StateWaitingForEmail:
		return bot.processEmailInput(c, chatID, text)
	}

	return nil
}

// Wizard Steps

func (bot *Bot) startDuesWizard(c tele.Context) error {
	chatID := c.Chat().ID

	if bot.supervisor.ActiveFor(chatID) {
		return c.Send("⚠️ You already have a dues invoice in progress. Pay that one first, or check /status.")
	}

	bot.setState(chatID, StateWaitingForName)
	bot.clearTempData(chatID)

	return c.Send("🪪 What name should go on the invoice?\nExample: Jacob Jeffries")
}

func (bot *Bot) processNameInput(c tele.Context, chatID int64, text string) error {
	if text == "" || strings.HasPrefix(text, "/") {
		return c.Send("❌ That doesn't look like a name. Try again.")
	}

	bot.setTempData(chatID, "name", text)
	bot.setState(chatID, StateWaitingForEmail)

	return c.Send("📧 Where should the invoice be emailed?\nExample: you@clemson.edu")
}

func (bot *Bot) processEmailInput(c tele.Context, chatID int64, text string) error {
	if !strings.Contains(text, "@") || !strings.Contains(text, ".") {
		return c.Send("❌ That doesn't look like an email address. Try again.")
	}

	name := bot.getTempData(chatID, "name")
	if name == "" {
		bot.setState(chatID, StateIdle)
		return c.Send("❌ Something went wrong, please start over with /dues.", bot.mainMenuKeyboard())
	}

	bot.setState(chatID, StateIdle)
	bot.clearTempData(chatID)

	payer := model.Payer{ChatID: chatID, Name: name, Email: text}

	c.Send("🧾 Creating your dues invoice...")

	invoice, err := bot.supervisor.Begin(payer)
	if errors.Is(err, service.ErrDuplicateRequest) {
		return c.Send("⚠️ You already have a dues invoice in progress. Pay that one first.")
	}
	if err != nil {
		log.Error().Int64("chat", chatID).Err(err).Msg("dues request failed")
		return c.Send("❌ Could not create your invoice. Please try again later.")
	}

	msg := fmt.Sprintf("💳 *Your dues invoice is ready*\n\n"+
		"💰 Amount: %s\n"+
		"📅 Due by: %s\n"+
		"🔗 Pay here: %s\n\n"+
		"I'll watch for your payment and send the members invite as soon as it clears.",
		formatAmount(invoice.AmountCents, strings.ToUpper(invoice.Currency)),
		invoice.DueAt.Format("Jan 2, 2006 15:04 MST"),
		invoice.HostedURL)

	return c.Send(msg, tele.ModeMarkdown)
}

// Logic Handlers

func (bot *Bot) handleStatus(c tele.Context) error {
	chatID := c.Chat().ID

	rec, err := bot.db.LatestRecordFor(chatID)
	if err != nil {
		log.Error().Int64("chat", chatID).Err(err).Msg("status lookup failed")
		return c.Send("❌ Could not look up your status, try again later.")
	}
	if rec == nil {
		return c.Send("📭 You have no dues invoice on record. Use /dues to request one.", bot.mainMenuKeyboard())
	}

	if bot.supervisor.ActiveFor(chatID) {
		return c.Send(fmt.Sprintf("⏳ *Invoice awaiting payment*\n\n💰 %s\n📅 Due by: %s",
			formatAmount(rec.AmountCents, strings.ToUpper(rec.Currency)),
			rec.DueAt.Format("Jan 2, 2006 15:04 MST")), tele.ModeMarkdown)
	}

	switch rec.Outcome {
	case model.OutcomePaid.String():
		return c.Send("✅ Your dues are paid. See you on the server!", bot.mainMenuKeyboard())
	case model.OutcomeNotPaid.String():
		return c.Send(fmt.Sprintf("❌ Your last invoice expired unpaid. Use /dues to request a new one, or contact %s.",
			bot.cfg.Telegram.EscalationContact), bot.mainMenuKeyboard())
	}
	return c.Send("📭 Your last request didn't complete. Use /dues to try again.", bot.mainMenuKeyboard())
}

func (bot *Bot) handleRecentOutcomes(c tele.Context) error {
	records, err := bot.db.RecentOutcomes(10)
	if err != nil {
		log.Error().Err(err).Msg("recent outcomes lookup failed")
		return c.Send("❌ Could not load recent outcomes.")
	}
	if len(records) == 0 {
		return c.Send("📭 No decided dues workflows yet.")
	}

	msg := "📜 *Recent dues outcomes*\n\n"
	for _, rec := range records {
		statusEmoji := "❌"
		if rec.Outcome == model.OutcomePaid.String() {
			statusEmoji = "✅"
		}
		decided := ""
		if rec.DecidedAt != nil {
			decided = rec.DecidedAt.Format("Jan 2 15:04")
		}
		msg += fmt.Sprintf("%s %s - %s\n📅 %s\n\n",
			statusEmoji, rec.Name, formatAmount(rec.AmountCents, strings.ToUpper(rec.Currency)), decided)
	}

	return c.Send(msg, tele.ModeMarkdown)
}

func (bot *Bot) handleBackToMain(c tele.Context) error {
	return c.Edit("📋 Main menu - pick an action:", bot.mainMenuKeyboard())
}
