// Package main is the entry point for the expedition bot.
package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"expedition-bot/internal/backend"
	"expedition-bot/internal/bot"
	"expedition-bot/internal/config"
	"expedition-bot/internal/expedition"
	"expedition-bot/internal/handler"
	"expedition-bot/internal/model"
	"expedition-bot/internal/pkg/db"
	"expedition-bot/internal/pkg/events"
	"expedition-bot/internal/pkg/lock"
	"expedition-bot/internal/session"
)

func main() {
	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	setupLogging(cfg.Log)
	log.Info().Msg("Configuration loaded successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := newBackend(cfg)
	publisher := newPublisher(cfg)
	defer publisher.Close()

	stores, closeStores := newStores(ctx, cfg)
	defer closeStores()

	svc := expedition.NewService(client, publisher, expedition.Policy{AllowLateJoin: cfg.Expedition.AllowLateJoin})
	dispatcher := handler.NewDispatcher(svc, stores)

	telegramBot, err := bot.New(&bot.Dependencies{
		Config:     cfg,
		Dispatcher: dispatcher,
		UserLock:   lock.New[int64](),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create bot")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info().Msg("Bot is starting...")
		telegramBot.Start()
	}()

	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	telegramBot.Stop()
	log.Info().Msg("Bot stopped gracefully")
}

func setupLogging(cfg config.LogConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func newBackend(cfg *config.Config) backend.Client {
	if cfg.Backend.Mode == "memory" {
		log.Warn().Msg("Using in-memory backend sandbox")
		return sandbox(cfg)
	}
	log.Info().Str("base_url", cfg.Backend.BaseURL).Msg("Using game backend")
	return backend.NewHTTPClient(cfg.Backend.BaseURL, cfg.Backend.APIKey, cfg.Backend.Timeout)
}

// sandbox seeds a memory backend: one stocked town per whitelisted chat and
// one character per admin in each town.
func sandbox(cfg *config.Config) *backend.Memory {
	m := backend.NewMemory(backend.WithLateJoin(cfg.Expedition.AllowLateJoin))
	m.SetResourceTypes([]model.ResourceType{
		{ID: 1, Name: model.ResourceRawFood, Emoji: "🌾"},
		{ID: 2, Name: model.ResourcePreparedMeal, Emoji: "🍲"},
	})
	for _, chatID := range cfg.Whitelist.Chats {
		guild := strconv.FormatInt(chatID, 10)
		townID := "town-" + guild
		m.AddTown(model.Town{ID: townID, Name: "Camp " + guild, GuildID: guild}, map[int]int{1: 100, 2: 20})
		for _, adminID := range cfg.Admin.IDs {
			user := strconv.FormatInt(adminID, 10)
			m.AddCharacter(model.Character{ID: townID + "-" + user, Name: "Admin " + user, UserID: user, TownID: townID})
		}
	}
	return m
}

func newPublisher(cfg *config.Config) events.Publisher {
	if len(cfg.Events.Brokers) == 0 {
		return events.LogPublisher{}
	}
	log.Info().Strs("brokers", cfg.Events.Brokers).Str("topic", cfg.Events.Topic).Msg("Publishing lifecycle events to Kafka")
	return events.NewKafkaPublisher(cfg.Events.Brokers, cfg.Events.Topic)
}

func newStores(ctx context.Context, cfg *config.Config) (handler.Stores, func()) {
	ttl, formTTL := cfg.Session.TTL, cfg.Session.FormTimeout
	if cfg.Session.Store != "postgres" {
		return handler.Stores{
			Creates:   session.NewMemory[handler.CreateDraft]("cr_", ttl),
			Transfers: session.NewMemory[handler.TransferDraft]("tr_", ttl),
			Forms:     session.NewMemory[handler.PendingForm]("fm_", formTTL),
		}, func() {}
	}

	pool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	if err := session.EnsureSchema(ctx, pool.Pool); err != nil {
		log.Fatal().Err(err).Msg("Failed to create session schema")
	}
	return handler.Stores{
		Creates:   session.NewPostgres[handler.CreateDraft](pool.Pool, "create", "cr_", ttl),
		Transfers: session.NewPostgres[handler.TransferDraft](pool.Pool, "transfer", "tr_", ttl),
		Forms:     session.NewPostgres[handler.PendingForm](pool.Pool, "form", "fm_", formTTL),
	}, pool.Close
}
