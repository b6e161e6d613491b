package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds everything the bot reads at startup. Tunables come from
// the YAML file, credentials from the environment.
type Config struct {
	Dues struct {
		AmountCents         int64   `yaml:"amount_cents"`
		Currency            string  `yaml:"currency"`
		DaysUntilDue        int     `yaml:"days_until_due"`
		PollIntervalSeconds float64 `yaml:"poll_interval_seconds"`
		ProductPrefix       string  `yaml:"product_prefix"`
	} `yaml:"dues"`
	Telegram struct {
		MembersChatID     int64  `yaml:"members_chat_id"`
		ForumChatID       int64  `yaml:"forum_chat_id"`
		EscalationContact string `yaml:"escalation_contact"`
		InviteTTLHours    int    `yaml:"invite_ttl_hours"`
	} `yaml:"telegram"`
	Channel struct {
		DeletionGraceSeconds float64 `yaml:"deletion_grace_seconds"`
	} `yaml:"channel"`
	Stripe struct {
		BaseURL string `yaml:"base_url"`
	} `yaml:"stripe"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	StripeAPIKey  string `yaml:"-"`
	TelegramToken string `yaml:"-"`
}

// Load reads the YAML file at path, applies defaults, pulls credentials
// from the environment and validates the result.
func Load(path string) (Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyDefaults()
	cfg.StripeAPIKey = os.Getenv("STRIPE_API_KEY")
	cfg.TelegramToken = os.Getenv("TELEGRAM_BOT_TOKEN")

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Dues.Currency == "" {
		c.Dues.Currency = "usd"
	}
	if c.Dues.DaysUntilDue == 0 {
		c.Dues.DaysUntilDue = 7
	}
	if c.Dues.PollIntervalSeconds == 0 {
		c.Dues.PollIntervalSeconds = 60
	}
	if c.Dues.ProductPrefix == "" {
		c.Dues.ProductPrefix = "Clemson Esports"
	}
	if c.Telegram.InviteTTLHours == 0 {
		c.Telegram.InviteTTLHours = 48
	}
	if c.Channel.DeletionGraceSeconds == 0 {
		c.Channel.DeletionGraceSeconds = 600
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/dues.db"
	}
}

// Validate rejects configurations the workflow cannot run with.
func (c Config) Validate() error {
	if c.Dues.AmountCents <= 0 {
		return fmt.Errorf("dues.amount_cents must be positive, got %d", c.Dues.AmountCents)
	}
	if len(c.Dues.Currency) != 3 {
		return fmt.Errorf("dues.currency must be a 3-letter code, got %q", c.Dues.Currency)
	}
	if c.Dues.DaysUntilDue < 1 {
		return fmt.Errorf("dues.days_until_due must be at least 1, got %d", c.Dues.DaysUntilDue)
	}
	if c.Dues.PollIntervalSeconds <= 0 {
		return fmt.Errorf("dues.poll_interval_seconds must be positive, got %v", c.Dues.PollIntervalSeconds)
	}
	if c.Telegram.MembersChatID == 0 {
		return fmt.Errorf("telegram.members_chat_id is required")
	}
	if c.StripeAPIKey == "" {
		return fmt.Errorf("STRIPE_API_KEY is not set")
	}
	if c.TelegramToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN is not set")
	}
	return nil
}

func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Dues.PollIntervalSeconds * float64(time.Second))
}

func (c Config) ChannelGrace() time.Duration {
	return time.Duration(c.Channel.DeletionGraceSeconds * float64(time.Second))
}

func (c Config) InviteTTL() time.Duration {
	return time.Duration(c.Telegram.InviteTTLHours) * time.Hour
}

// CurrencyDisplay returns the currency code upper-cased for messages.
func (c Config) CurrencyDisplay() string {
	return strings.ToUpper(c.Dues.Currency)
}
