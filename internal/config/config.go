// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"medrelay/internal/constants"
)

// Config хранит все конфигурационные параметры приложения.
type Config struct {
	TelegramToken string
	BotUsername   string
	AppEnv        string
	DebugMode     bool

	LogLevel              string
	LogFile               string
	EnableTelegramLogging bool
	LogChannelID          int64

	AdminGroupID     int64 // группа сотрудников
	AdminTopicID     int
	ProGroupID       int64
	ProGroupTopicID  int
	SourceChannelID  int64
	TargetGroupID    int64
	TargetTopicID    int
	NewsSourceSuffix string
	TopicsFile       string
	ThanksWordsFile  string

	StoreDriver      string // postgres | pebble
	DatabaseURL      string
	DBHost           string
	DBName           string
	PebblePath       string
	MappingRetention time.Duration
	NewsRetention    time.Duration
	RetentionCron    string

	AlbumWait       time.Duration
	AlbumMaxWait    time.Duration
	AlbumLatePolicy string
	MuteDuration    time.Duration
	SendTimeout     time.Duration
	SendAttempts    int
	SendRate        float64
	RelaySignature  bool

	HTTPAddr      string
	AdminAPIToken string
}

// env читает переменные окружения и предупреждает о некорректных значениях.
type env struct {
	log zerolog.Logger
}

func (e env) str(name, def string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return def
}

func (e env) int64(name string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		e.log.Warn().Err(err).Str("var", name).Str("value", raw).Msg("Некорректное число, используется значение по умолчанию")
		return def
	}
	return v
}

func (e env) int(name string, def int) int {
	return int(e.int64(name, int64(def)))
}

// topic: ID темы форума; 0 и 1 означают общую тему.
func (e env) topic(name string) int {
	v := e.int(name, 0)
	if v < 0 {
		e.log.Warn().Str("var", name).Int("value", v).Msg("Отрицательный ID темы игнорируется")
		return 0
	}
	return v
}

func (e env) bool(name string, def bool) bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(name)))
	switch raw {
	case "":
		return def
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}
	e.log.Warn().Str("var", name).Str("value", raw).Bool("default", def).Msg("Некорректное булево значение")
	return def
}

func (e env) duration(name string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil || v <= 0 {
		e.log.Warn().Str("var", name).Str("value", raw).Dur("default", def).Msg("Некорректная длительность")
		return def
	}
	return v
}

func (e env) float(name string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		e.log.Warn().Err(err).Str("var", name).Str("value", raw).Msg("Некорректное число")
		return def
	}
	return v
}

// LoadConfig загружает конфигурацию из переменных окружения.
func LoadConfig(log zerolog.Logger) (*Config, error) {
	e := env{log: log.With().Str("component", "config").Logger()}

	cfg := &Config{
		TelegramToken: e.str("BOT_TOKEN", ""),
		BotUsername:   strings.TrimPrefix(e.str("BOT_USERNAME", ""), "@"),
		AppEnv:        e.str("ENV", ""),
		DebugMode:     e.bool("DEBUG_MODE", false),

		LogLevel:              e.str("LOG_LEVEL", "info"),
		LogFile:               e.str("LOG_FILE", ""),
		EnableTelegramLogging: e.bool("ENABLE_TELEGRAM_LOGGING", false),
		LogChannelID:          e.int64("LOG_CHANNEL_ID", 0),

		AdminGroupID:     e.int64("ADMIN_GROUP_ID", 0),
		AdminTopicID:     e.topic("ADMIN_TOPIC_ID"),
		ProGroupID:       e.int64("MEDPHYSPRO_GROUP_ID", 0),
		ProGroupTopicID:  e.topic("MEDPHYSPRO_GROUP_TOPIC_ID"),
		SourceChannelID:  e.int64("SOURCE_CHANNEL_ID", 0),
		TargetGroupID:    e.int64("TARGET_GROUP_ID", 0),
		TargetTopicID:    e.topic("TARGET_TOPIC_ID"),
		NewsSourceSuffix: e.str("NEWS_SOURCE_SIGNATURE", constants.NEWS_SOURCE_SUFFIX),
		TopicsFile:       e.str("TOPICS_FILE", ""),
		ThanksWordsFile:  e.str("THANKS_WORDS_FILE", ""),

		StoreDriver:      strings.ToLower(e.str("STORE_DRIVER", "pebble")),
		DatabaseURL:      e.str("DATABASE_URL", ""),
		PebblePath:       e.str("PEBBLE_PATH", "data/medrelay"),
		MappingRetention: e.duration("MAPPING_RETENTION", constants.DEFAULT_MAPPING_RETENTION),
		NewsRetention:    e.duration("NEWS_RETENTION", constants.DEFAULT_NEWS_RETENTION),
		RetentionCron:    e.str("RETENTION_CRON", constants.DEFAULT_RETENTION_CRON),

		AlbumWait:       e.duration("ALBUM_WAIT", constants.DEFAULT_ALBUM_WAIT),
		AlbumMaxWait:    e.duration("ALBUM_MAX_WAIT", constants.DEFAULT_ALBUM_MAX_WAIT),
		AlbumLatePolicy: e.str("ALBUM_LATE_POLICY", "drop"),
		MuteDuration:    e.duration("MUTE_DURATION", constants.DEFAULT_MUTE_DURATION),
		SendTimeout:     e.duration("SEND_TIMEOUT", constants.DEFAULT_SEND_TIMEOUT),
		SendAttempts:    e.int("SEND_ATTEMPTS", 1),
		SendRate:        e.float("SEND_RATE", 25),
		RelaySignature:  e.bool("RELAY_SIGNATURE", true),

		HTTPAddr:      e.str("HTTP_ADDR", ":8080"),
		AdminAPIToken: e.str("ADMIN_API_TOKEN", ""),
	}

	if cfg.AlbumMaxWait < cfg.AlbumWait {
		e.log.Warn().Dur("album_wait", cfg.AlbumWait).Dur("album_max_wait", cfg.AlbumMaxWait).
			Msg("ALBUM_MAX_WAIT меньше ALBUM_WAIT, используется ALBUM_WAIT")
		cfg.AlbumMaxWait = cfg.AlbumWait
	}
	if cfg.DatabaseURL != "" {
		parsedURL, err := url.Parse(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("ошибка парсинга DATABASE_URL: %w", err)
		}
		cfg.DBHost = parsedURL.Hostname()
		cfg.DBName = strings.TrimPrefix(parsedURL.Path, "/")
	}
	if cfg.StoreDriver != "pebble" && cfg.StoreDriver != "postgres" {
		return nil, fmt.Errorf("неизвестный STORE_DRIVER %q (ожидается pebble или postgres)", cfg.StoreDriver)
	}
	if cfg.StoreDriver == "postgres" && cfg.DatabaseURL == "" {
		return nil, errors.New("STORE_DRIVER=postgres требует DATABASE_URL")
	}
	if cfg.AdminAPIToken == "" {
		e.log.Warn().Msg("ADMIN_API_TOKEN не установлен, административный API отключён")
	}
	return cfg, nil
}

// IsDev: режим разработки: консольные логи, отладка Bot API.
func (c *Config) IsDev() bool {
	return c.AppEnv == "dev" || c.DebugMode
}

// ValidateBot проверяет то, без чего бот не запустится.
func (c *Config) ValidateBot() error {
	var errs []error
	if c.TelegramToken == "" {
		errs = append(errs, errors.New("BOT_TOKEN не установлен"))
	}
	if c.AdminGroupID == 0 {
		errs = append(errs, errors.New("ADMIN_GROUP_ID не установлен"))
	}
	if c.EnableTelegramLogging && c.LogChannelID == 0 {
		errs = append(errs, errors.New("ENABLE_TELEGRAM_LOGGING требует LOG_CHANNEL_ID"))
	}
	return errors.Join(errs...)
}

// LoadTopics читает YAML-файл вида
//
//	24851: ["#юмор", "#хобби"]
//	24852: ["#радбез"]
//
// Пустой путь означает "использовать встроенную таблицу" и возвращает nil.
func LoadTopics(path string) (map[int][]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("не удалось прочитать файл тем %s: %w", path, err)
	}
	var topics map[int][]string
	if err := yaml.Unmarshal(data, &topics); err != nil {
		return nil, fmt.Errorf("ошибка разбора файла тем %s: %w", path, err)
	}
	for id := range topics {
		if id <= 1 {
			return nil, fmt.Errorf("файл тем %s: ID темы должен быть больше 1, получено %d", path, id)
		}
	}
	return topics, nil
}
