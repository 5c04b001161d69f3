package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"medrelay/internal/config"
	"medrelay/internal/db"
	"medrelay/internal/logging"
	"medrelay/internal/relay"
	"medrelay/internal/richtext"
	"medrelay/internal/telegram_api"
)

// app: то, что нужно каждой команде: конфигурация, логгер и хранилище.
type app struct {
	cfg   *config.Config
	log   zerolog.Logger
	store db.Store

	closeLog func() error
	tgLog    *logging.TelegramWriter
	// logSink появляется после авторизации в Telegram; до этого строки для канала логов
	// уходят только в stderr.
	logSink atomic.Pointer[telegram_api.Transport]
}

// setup загружает .env и конфигурацию, настраивает логирование и открывает хранилище.
func setup(ctx context.Context, withTelegramLog bool) (*app, error) {
	bootLog := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime}).With().Timestamp().Logger()

	if err := godotenv.Load(envFile); err != nil {
		bootLog.Warn().Str("file", envFile).Msg("Не удалось загрузить файл .env. Переменные окружения должны быть установлены иным способом.")
	}

	cfg, err := config.LoadConfig(bootLog)
	if err != nil {
		return nil, fmt.Errorf("не удалось загрузить конфигурацию: %w", err)
	}

	rt := &app{cfg: cfg}

	var extra []io.Writer
	if withTelegramLog && cfg.EnableTelegramLogging && cfg.LogChannelID != 0 {
		dst := relay.Destination{ChatID: cfg.LogChannelID}
		rt.tgLog = logging.NewTelegramWriter(func(ctx context.Context, text richtext.FormattedText) error {
			tr := rt.logSink.Load()
			if tr == nil {
				return errors.New("транспорт Telegram ещё не готов")
			}
			_, err := tr.SendText(ctx, dst, text)
			return err
		}, zerolog.WarnLevel, 0, 0)
		extra = append(extra, rt.tgLog)
	}

	log, closeLog, err := logging.New(logging.Options{
		Level:   cfg.LogLevel,
		Console: cfg.IsDev(),
		File:    cfg.LogFile,
	}, extra...)
	if err != nil {
		rt.closeTelegramLog()
		return nil, fmt.Errorf("не удалось настроить логирование: %w", err)
	}
	rt.log = log.With().Str("app", "medrelay").Logger()
	rt.closeLog = closeLog

	store, err := openStore(ctx, cfg, rt.log)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.store = store
	return rt, nil
}

// openStore открывает хранилище, выбранное STORE_DRIVER. Для Postgres схема создаётся сразу.
func openStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (db.Store, error) {
	switch cfg.StoreDriver {
	case "postgres":
		s, err := db.OpenPostgres(ctx, cfg.DatabaseURL, log)
		if err != nil {
			return nil, fmt.Errorf("не удалось инициализировать базу данных: %w", err)
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("не удалось создать схему базы данных: %w", err)
		}
		log.Info().Str("host", cfg.DBHost).Str("db", cfg.DBName).Msg("Хранилище: PostgreSQL")
		return s, nil
	default:
		s, err := db.OpenPebble(cfg.PebblePath, log)
		if err != nil {
			return nil, fmt.Errorf("не удалось открыть хранилище pebble: %w", err)
		}
		log.Info().Str("path", cfg.PebblePath).Msg("Хранилище: pebble")
		return s, nil
	}
}

func (rt *app) closeTelegramLog() {
	if rt.tgLog != nil {
		rt.tgLog.Close()
	}
}

// Close отправляет остаток логов и закрывает хранилище и файл лога.
func (rt *app) Close() {
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			rt.log.Error().Err(err).Msg("Ошибка закрытия хранилища")
		}
	}
	rt.closeTelegramLog()
	if rt.closeLog != nil {
		rt.closeLog()
	}
}
