package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Clemson-Esports/dues-bot/bot"
	"github.com/Clemson-Esports/dues-bot/config"
	"github.com/Clemson-Esports/dues-bot/db"
	"github.com/Clemson-Esports/dues-bot/service"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("no .env file loaded")
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("could not load configuration")
	}

	// Initialize DB
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0755); err != nil {
		log.Fatal().Err(err).Msg("could not create data directory")
	}
	database, err := db.NewDB(cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("could not initialize database")
	}
	defer database.Close()

	// Initialize services
	clock := service.SystemClock{}
	stripeAPI := service.NewStripeClient(cfg.StripeAPIKey, cfg.Stripe.BaseURL)
	gateway := service.NewStripeGateway(stripeAPI, clock, cfg.Dues.ProductPrefix)

	// Initialize Bot
	b, err := bot.NewBot(cfg, database, gateway, clock)
	if err != nil {
		log.Fatal().Err(err).Msg("could not create bot")
	}

	// Start Bot
	go b.Start()

	// Start periodic cleanup
	go func() {
		for {
			time.Sleep(24 * time.Hour)
			log.Info().Msg("cleaning old dues records")
			if err := database.CleanOldRecords(730); err != nil {
				log.Error().Err(err).Msg("cleaning old dues records failed")
			}
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	b.Stop()
	log.Info().Msg("dues bot stopped")
}
