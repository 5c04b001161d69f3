package telegram_api

import (
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/OvyFlash/telegram-bot-api"
	"github.com/rs/zerolog"
)

// BotClient представляет собой обертку для Telegram Bot API.
// BotClient represents a wrapper for the Telegram Bot API.
type BotClient struct {
	api *tgbotapi.BotAPI
	// poller держит long polling; у него свой HTTP-клиент с таймаутом больше времени опроса
	poller *tgbotapi.BotAPI
	log    zerolog.Logger
	Debug  bool
}

// ClientOptions: параметры подключения к Bot API.
type ClientOptions struct {
	Token    string
	Endpoint string        // по умолчанию tgbotapi.APIEndpoint; в тестах адрес httptest-сервера
	Timeout  time.Duration // таймаут одного исходящего запроса (отправка, правка)
	// PollTimeout: сколько Telegram держит getUpdates. Если задан, опрос идёт через
	// отдельный HTTP-клиент с таймаутом Timeout+PollTimeout, а отправки укладываются в Timeout.
	PollTimeout time.Duration
	Debug       bool
	// DropWebhook отключает вебхук при старте (нужно для getUpdates).
	DropWebhook bool
}

// NewBotClient авторизуется в Bot API и возвращает клиента.
// NewBotClient authorizes against the Bot API and returns a client.
func NewBotClient(opts ClientOptions, log zerolog.Logger) (*BotClient, error) {
	if opts.Token == "" {
		return nil, fmt.Errorf("токен Telegram API не предоставлен")
	}
	if opts.Endpoint == "" {
		opts.Endpoint = tgbotapi.APIEndpoint
	}
	log = log.With().Str("component", "telegram").Logger()

	api, err := tgbotapi.NewBotAPIWithClient(opts.Token, opts.Endpoint, &http.Client{Timeout: opts.Timeout})
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации Telegram Bot API: %w", err)
	}
	api.Debug = opts.Debug

	poller := api
	if opts.PollTimeout > 0 {
		pollClient := &http.Client{Timeout: opts.Timeout + opts.PollTimeout}
		if poller, err = tgbotapi.NewBotAPIWithClient(opts.Token, opts.Endpoint, pollClient); err != nil {
			return nil, fmt.Errorf("ошибка инициализации клиента getUpdates: %w", err)
		}
		poller.Debug = opts.Debug
	}

	log.Info().Str("username", api.Self.UserName).Msg("Авторизован в Telegram")

	if opts.DropWebhook {
		// Ошибка возможна, если вебхука и не было
		if _, err := api.Request(tgbotapi.DeleteWebhookConfig{DropPendingUpdates: false}); err != nil {
			log.Warn().Err(err).Msg("Не удалось отключить вебхук, это нормально, если он не был установлен")
		}
	}

	return &BotClient{api: api, poller: poller, log: log, Debug: opts.Debug}, nil
}

// Username возвращает имя бота без @.
func (bc *BotClient) Username() string {
	return bc.api.Self.UserName
}

// ID возвращает идентификатор бота.
func (bc *BotClient) ID() int64 {
	return bc.api.Self.ID
}

// GetUpdatesChan возвращает канал обновлений от Telegram.
// GetUpdatesChan returns the update channel from Telegram.
func (bc *BotClient) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	if bc.Debug {
		bc.log.Debug().Int("offset", config.Offset).Int("timeout", config.Timeout).Msg("Запрос канала обновлений")
	}
	return bc.poller.GetUpdatesChan(config)
}

// StopReceivingUpdates останавливает long polling.
func (bc *BotClient) StopReceivingUpdates() {
	bc.poller.StopReceivingUpdates()
}

// Send отправляет сообщение через BotClient.
// Send sends a message via BotClient.
func (bc *BotClient) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if bc.Debug {
		bc.log.Debug().Str("type", fmt.Sprintf("%T", c)).Msg("Отправка")
	}
	return bc.api.Send(c)
}

// Request выполняет запрос, результат которого не является сообщением (правки, удаление).
// Request performs a request via BotClient.
func (bc *BotClient) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	if bc.Debug {
		bc.log.Debug().Str("type", fmt.Sprintf("%T", c)).Msg("Выполнение запроса")
	}
	return bc.api.Request(c)
}

// CopyMessage копирует сообщение и возвращает ID копии.
func (bc *BotClient) CopyMessage(c tgbotapi.CopyMessageConfig) (tgbotapi.MessageID, error) {
	return bc.api.CopyMessage(c)
}

// MakeRequest выполняет произвольный запрос к API Telegram.
// Нужен для методов, которые удобнее собрать вручную (sendMediaGroup, sendPoll).
// MakeRequest performs an arbitrary request to the Telegram API.
func (bc *BotClient) MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error) {
	if bc.Debug {
		bc.log.Debug().Str("endpoint", endpoint).Msg("Выполнение MakeRequest")
	}
	return bc.api.MakeRequest(endpoint, params)
}
