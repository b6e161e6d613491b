package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"github.com/Clemson-Esports/dues-bot/config"
	"github.com/Clemson-Esports/dues-bot/db"
	"github.com/Clemson-Esports/dues-bot/model"
	"github.com/Clemson-Esports/dues-bot/service"
)

type State int

const (
	StateIdle State = iota
	StateWaitingForName
	StateWaitingForEmail
)

type Bot struct {
	b          *tele.Bot
	db         *db.DB
	cfg        config.Config
	supervisor *service.Supervisor
	userStates map[int64]State
	tempData   map[int64]map[string]string
	mu         sync.RWMutex
}

func NewBot(cfg config.Config, database *db.DB, gateway service.BillingGateway, clock service.Clock) (*Bot, error) {
	pref := tele.Settings{
		Token:  cfg.TelegramToken,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	}

	b, err := tele.NewBot(pref)
	if err != nil {
		return nil, err
	}

	bot := &Bot{
		b:          b,
		db:         database,
		cfg:        cfg,
		userStates: make(map[int64]State),
		tempData:   make(map[int64]map[string]string),
	}

	engine := service.NewEngine(gateway, clock, cfg.Dues.AmountCents, cfg.Dues.Currency, cfg.Dues.DaysUntilDue, cfg.PollInterval())
	dispatcher := service.NewDispatcher(bot, database, clock, cfg.ChannelGrace())
	bot.supervisor = service.NewSupervisor(engine, dispatcher, bot, database)
	bot.setupHandlers()

	return bot, nil
}

func (bot *Bot) Start() {
	log.Info().Msg("dues bot started")
	bot.b.Start()
}

func (bot *Bot) Stop() {
	bot.supervisor.Stop()
	bot.b.Stop()
}

// ChatPlatform implementation

func (bot *Bot) CreateChannel(ctx context.Context, payer model.Payer) (*model.EphemeralChannel, error) {
	forumID := bot.cfg.Telegram.ForumChatID
	if forumID == 0 {
		// No forum configured: the workflow runs channel-less.
		return nil, nil
	}

	topic, err := bot.b.CreateTopic(&tele.Chat{ID: forumID}, &tele.Topic{
		Name: fmt.Sprintf("dues: %s", payer.Name),
	})
	if err != nil {
		return nil, fmt.Errorf("create topic: %w", err)
	}

	return &model.EphemeralChannel{
		ChatID:    forumID,
		ThreadID:  topic.ThreadID,
		OwnerID:   payer.ChatID,
		CreatedAt: time.Now(),
	}, nil
}

func (bot *Bot) DeleteChannel(ctx context.Context, channel *model.EphemeralChannel) error {
	return bot.b.DeleteTopic(&tele.Chat{ID: channel.ChatID}, &tele.Topic{ThreadID: channel.ThreadID})
}

// GrantMemberAccess hands the payer a single-use, expiring invite link
// to the members group.
func (bot *Bot) GrantMemberAccess(ctx context.Context, payer model.Payer) error {
	link, err := bot.b.CreateInviteLink(&tele.Chat{ID: bot.cfg.Telegram.MembersChatID}, &tele.ChatInviteLink{
		Name:           fmt.Sprintf("dues %s", payer.Name),
		MemberLimit:    1,
		ExpireUnixtime: time.Now().Add(bot.cfg.InviteTTL()).Unix(),
	})
	if err != nil {
		return fmt.Errorf("create invite link: %w", err)
	}

	msg := fmt.Sprintf("🎉 *Welcome aboard, %s!*\n\nYour members invite (single use, expires in %dh):\n%s",
		payer.Name, bot.cfg.Telegram.InviteTTLHours, link.InviteLink)

	_, err = bot.b.Send(&tele.User{ID: payer.ChatID}, msg, tele.ModeMarkdown)
	if err != nil && bot.isUserBlocked(err) {
		log.Warn().Int64("chat", payer.ChatID).Msg("payer blocked the bot, invite not delivered")
		return nil
	}
	return err
}

func (bot *Bot) NotifyPaid(ctx context.Context, payer model.Payer, channel *model.EphemeralChannel) error {
	msg := fmt.Sprintf("✅ *Dues received*\n\n💰 Amount: %s\n👤 %s\n⏱️ Paid: %s",
		formatAmount(bot.cfg.Dues.AmountCents, bot.cfg.CurrencyDisplay()),
		payer.Name,
		time.Now().Format("Jan 2, 2006 15:04 MST"))

	bot.postToChannel(channel, msg)

	_, err := bot.b.Send(&tele.User{ID: payer.ChatID}, msg, tele.ModeMarkdown)
	if err != nil && bot.isUserBlocked(err) {
		log.Warn().Int64("chat", payer.ChatID).Msg("payer blocked the bot, paid notice not delivered")
		return nil
	}
	return err
}

func (bot *Bot) NotifyNotPaid(ctx context.Context, payer model.Payer, channel *model.EphemeralChannel) error {
	msg := fmt.Sprintf("❌ *Dues not received*\n\n👤 %s\nThe invoice was not paid before its due date, so no member access was granted.\n\nThink this is a mistake? Contact %s.",
		payer.Name, bot.cfg.Telegram.EscalationContact)

	bot.postToChannel(channel, msg)

	_, err := bot.b.Send(&tele.User{ID: payer.ChatID}, msg, tele.ModeMarkdown)
	if err != nil && bot.isUserBlocked(err) {
		log.Warn().Int64("chat", payer.ChatID).Msg("payer blocked the bot, failure notice not delivered")
		return nil
	}
	return err
}

// postToChannel mirrors a notice into the workflow's topic, best-effort.
func (bot *Bot) postToChannel(channel *model.EphemeralChannel, msg string) {
	if channel == nil {
		return
	}
	_, err := bot.b.Send(tele.ChatID(channel.ChatID), msg, &tele.SendOptions{
		ParseMode: tele.ModeMarkdown,
		ThreadID:  channel.ThreadID,
	})
	if err != nil {
		log.Warn().Int64("channel_chat", channel.ChatID).Int("thread", channel.ThreadID).Err(err).Msg("channel notice failed")
	}
}

// Helper to check for blocked user errors
func (bot *Bot) isUserBlocked(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "forbidden") ||
		strings.Contains(errStr, "bot was blocked") ||
		strings.Contains(errStr, "user is deactivated") ||
		strings.Contains(errStr, "chat not found")
}

func (bot *Bot) setState(chatID int64, state State) {
	bot.mu.Lock()
	defer bot.mu.Unlock()
	bot.userStates[chatID] = state
}

func (bot *Bot) getState(chatID int64) State {
	bot.mu.RLock()
	defer bot.mu.RUnlock()
	return bot.userStates[chatID]
}

func (bot *Bot) setTempData(chatID int64, key, value string) {
	bot.mu.Lock()
	defer bot.mu.Unlock()
	if bot.tempData[chatID] == nil {
		bot.tempData[chatID] = make(map[string]string)
	}
	bot.tempData[chatID][key] = value
}

func (bot *Bot) getTempData(chatID int64, key string) string {
	bot.mu.RLock()
	defer bot.mu.RUnlock()
	if data, ok := bot.tempData[chatID]; ok {
		return data[key]
	}
	return ""
}

func (bot *Bot) clearTempData(chatID int64) {
	bot.mu.Lock()
	defer bot.mu.Unlock()
	delete(bot.tempData, chatID)
}

func formatAmount(cents int64, currency string) string {
	return fmt.Sprintf("%.2f %s", float64(cents)/100, currency)
}
