package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/OvyFlash/telegram-bot-api"
	"github.com/spf13/cobra"

	"medrelay/internal/album"
	"medrelay/internal/api"
	"medrelay/internal/config"
	"medrelay/internal/handlers"
	"medrelay/internal/metrics"
	"medrelay/internal/moderation"
	"medrelay/internal/news"
	"medrelay/internal/relay"
	"medrelay/internal/retention"
	"medrelay/internal/telegram_api"
	"medrelay/internal/thanks"
)

const (
	// long polling держит соединение до pollTimeout секунд
	pollTimeout     = 50
	shutdownTimeout = 10 * time.Second
	retryBackoff    = time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Запустить бота и административный HTTP API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := setup(ctx, true)
	if err != nil {
		return err
	}
	defer rt.Close()
	cfg, log := rt.cfg, rt.log

	if err := cfg.ValidateBot(); err != nil {
		return fmt.Errorf("конфигурация бота: %w", err)
	}

	m := metrics.New()

	client, err := telegram_api.NewBotClient(telegram_api.ClientOptions{
		Token:       cfg.TelegramToken,
		Timeout:     cfg.SendTimeout,
		PollTimeout: pollTimeout * time.Second,
		Debug:       cfg.IsDev(),
		DropWebhook: true,
	}, log)
	if err != nil {
		return fmt.Errorf("не удалось инициализировать Telegram бота: %w", err)
	}
	transport := telegram_api.NewTransport(client, cfg.SendRate, m, log)
	rt.logSink.Store(transport)

	botUsername := cfg.BotUsername
	if botUsername == "" {
		botUsername = client.Username()
	}

	latePolicy, err := album.ParseLatePolicy(cfg.AlbumLatePolicy)
	if err != nil {
		return err
	}
	engine := relay.NewEngine(relay.Options{
		StaffChat: relay.Destination{ChatID: cfg.AdminGroupID, ThreadID: cfg.AdminTopicID},
		Signature: cfg.RelaySignature,
		Limits:    relay.DefaultLimits(),
		Retry:     relay.RetryPolicy{Attempts: cfg.SendAttempts, Backoff: retryBackoff},
		Album:     album.Options{Wait: cfg.AlbumWait, MaxWait: cfg.AlbumMaxWait, Late: latePolicy},
	}, rt.store, transport, transport, m, log)

	modService := moderation.NewService(rt.store, transport, cfg.MuteDuration, m, log)

	words, err := loadThanksWords(cfg.ThanksWordsFile)
	if err != nil {
		log.Warn().Err(err).Msg("Список слов благодарности не загружен, используется встроенный")
	}
	thanksCounter := thanks.NewCounter(rt.store, thanks.NewDetector(words), m, log)

	deps := handlers.HandlerDependencies{
		Relay:      engine,
		Moderation: modService,
		Thanks:     thanksCounter,
		Sender:     engine.Sender(),
		Messenger:  transport,
	}
	if cfg.SourceChannelID != 0 && cfg.TargetGroupID != 0 {
		pipeline, err := newsPipeline(cfg, rt, engine, m)
		if err != nil {
			return err
		}
		deps.News = pipeline
	} else {
		log.Info().Msg("SOURCE_CHANNEL_ID или TARGET_GROUP_ID не заданы, пересылка новостей отключена")
	}

	botHandler := handlers.NewBotHandler(deps, handlers.Options{
		StaffChat:       relay.Destination{ChatID: cfg.AdminGroupID, ThreadID: cfg.AdminTopicID},
		ProGroup:        relay.Destination{ChatID: cfg.ProGroupID, ThreadID: cfg.ProGroupTopicID},
		SourceChannelID: cfg.SourceChannelID,
		TargetGroupID:   cfg.TargetGroupID,
		LogChannelID:    cfg.LogChannelID,
		BotID:           client.ID(),
		BotUsername:     botUsername,
	}, log)

	if err := client.SetCommands(telegram_api.ScopeAllPrivateChats, handlers.PrivateCommands); err != nil {
		log.Warn().Err(err).Msg("Не удалось установить команды для личных чатов")
	}
	if err := client.SetCommands(telegram_api.ScopeAllGroupChats, handlers.StaffCommands); err != nil {
		log.Warn().Err(err).Msg("Не удалось установить команды для групп")
	}

	runner, err := retention.New(rt.store, retention.Options{
		MappingAge: cfg.MappingRetention,
		NewsAge:    cfg.NewsRetention,
		Cron:       cfg.RetentionCron,
	}, m, log)
	if err != nil {
		return err
	}
	go runner.Run(ctx)

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: api.NewRouter(api.Dependencies{
			Moderation:  modService,
			Thanks:      thanksCounter,
			Retention:   runner,
			Metrics:     m.Handler(),
			BotUsername: botUsername,
			AdminToken:  cfg.AdminAPIToken,
			Log:         log,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("Запуск HTTP-сервера административного API")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP-сервер остановлен с ошибкой")
		}
	}()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeout
	u.AllowedUpdates = []string{"message", "edited_message", "channel_post"}
	updates := client.GetUpdatesChan(u)
	go func() {
		<-ctx.Done()
		client.StopReceivingUpdates()
	}()

	log.Info().
		Str("bot", botUsername).
		Int64("staff_chat", cfg.AdminGroupID).
		Bool("news", deps.News != nil).
		Msg("Бот и API-сервер запущены и готовы к работе...")

	botHandler.Run(ctx, updates)

	log.Info().Msg("Остановка: ожидание завершения HTTP-сервера")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Ошибка остановки HTTP-сервера")
	}
	return nil
}

func newsPipeline(cfg *config.Config, rt *app, engine *relay.Engine, m *metrics.Metrics) (*news.Pipeline, error) {
	table, err := config.LoadTopics(cfg.TopicsFile)
	if err != nil {
		return nil, err
	}
	if table == nil {
		table = news.DefaultTopics
	}
	return news.NewPipeline(news.Options{
		SourceChannelID: cfg.SourceChannelID,
		TargetChatID:    cfg.TargetGroupID,
		TargetTopicID:   cfg.TargetTopicID,
		Suffix:          cfg.NewsSourceSuffix,
		Topics:          news.NewTopicRouter(table),
	}, rt.store, engine.Sender(), m, rt.log), nil
}

func loadThanksWords(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return thanks.ReadWords(f)
}
