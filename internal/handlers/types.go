package handlers

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"medrelay/internal/constants"
	"medrelay/internal/models"
	"medrelay/internal/moderation"
	"medrelay/internal/news"
	"medrelay/internal/relay"
	"medrelay/internal/richtext"
)

// Relay: ядро пересылки.
type Relay interface {
	RelayInbound(ctx context.Context, msg relay.Message) (relay.DeliveryResult, error)
	RelayReply(ctx context.Context, msg relay.Message) (relay.DeliveryResult, error)
	PropagateEdit(ctx context.Context, msg relay.Message) (relay.DeliveryResult, error)
	GetStatus(ctx context.Context, userID int64) (models.ModerationStatus, error)
}

// Moderator выполняет команды модерации.
type Moderator interface {
	ResolveTarget(ctx context.Context, replyToMsgID int, replyAuthorID int64) (int64, error)
	Apply(ctx context.Context, action moderation.Action, userID int64) (string, error)
	Status(ctx context.Context, userID int64) (models.ModerationStatus, error)
}

// NewsPipeline копирует посты канала в целевую группу.
type NewsPipeline interface {
	Handle(ctx context.Context, msg relay.Message) (news.Outcome, error)
}

// ThanksCounter считает благодарности.
type ThanksCounter interface {
	Observe(ctx context.Context, text string, fromID, targetID int64, targetName string) (bool, error)
	TopText(ctx context.Context, limit int) (string, error)
}

// Deliverer доставляет произвольный контент в чат с разбиением под лимиты.
type Deliverer interface {
	Deliver(ctx context.Context, dst relay.Destination, msg relay.Message, suffix richtext.FormattedText) (relay.Delivery, error)
}

// Messenger: служебные сообщения бота.
type Messenger interface {
	relay.Notifier
	SendText(ctx context.Context, dst relay.Destination, text richtext.FormattedText) (int, error)
	SendTemporary(ctx context.Context, dst relay.Destination, text string, ttl time.Duration) error
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
}

// HandlerDependencies содержит все зависимости, необходимые для обработчиков.
// HandlerDependencies contains all dependencies required for handlers.
type HandlerDependencies struct {
	Relay      Relay
	Moderation Moderator
	News       NewsPipeline  // nil: канал новостей не настроен
	Thanks     ThanksCounter // nil: благодарности не считаются
	Sender     Deliverer
	Messenger  Messenger
}

// Options: чаты, в которых работает бот.
type Options struct {
	StaffChat       relay.Destination
	ProGroup        relay.Destination
	SourceChannelID int64
	TargetGroupID   int64
	LogChannelID    int64
	BotID           int64
	BotUsername     string
	HintTTL         time.Duration // время жизни подсказки "используйте в ответ"
	HandleTimeout   time.Duration // предел на обработку одного обновления
}

// BotHandler инкапсулирует логику обработки обновлений Telegram.
// BotHandler encapsulates the logic for handling Telegram updates.
type BotHandler struct {
	Deps HandlerDependencies
	opts Options
	log  zerolog.Logger
}

// NewBotHandler создает новый экземпляр BotHandler.
// NewBotHandler creates a new instance of BotHandler.
func NewBotHandler(deps HandlerDependencies, opts Options, log zerolog.Logger) *BotHandler {
	if deps.Relay == nil || deps.Moderation == nil || deps.Sender == nil || deps.Messenger == nil {
		// Это ошибка сборки приложения, а не состояние времени выполнения.
		panic("Не все зависимости для BotHandler были предоставлены.")
	}
	if opts.HintTTL <= 0 {
		opts.HintTTL = constants.USAGE_HINT_TTL
	}
	if opts.HandleTimeout <= 0 {
		opts.HandleTimeout = 2 * time.Minute
	}
	return &BotHandler{
		Deps: deps,
		opts: opts,
		log:  log.With().Str("component", "handlers").Logger(),
	}
}
