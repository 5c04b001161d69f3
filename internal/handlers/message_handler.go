// Файл: internal/handlers/message_handler.go

package handlers

import (
	"context"
	"errors"
	"strings"
	"sync"

	tgbotapi "github.com/OvyFlash/telegram-bot-api"
	"github.com/rs/zerolog"

	"medrelay/internal/constants"
	"medrelay/internal/relay"
	"medrelay/internal/telegram_api"
)

// Run обрабатывает обновления, пока не закроется канал или не отменится ctx.
// Каждое обновление идёт в своей горутине: участники альбома должны успеть
// дойти до агрегатора, пока первый из них ждёт. Перед возвратом Run дожидается
// всех начатых обработчиков.
func (bh *BotHandler) Run(ctx context.Context, updates <-chan tgbotapi.Update) {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				// начатая обработка доводится до конца и при остановке
				hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bh.opts.HandleTimeout)
				defer cancel()
				bh.HandleUpdate(hctx, update)
			}()
		}
	}
}

// HandleUpdate направляет обновление нужному обработчику.
func (bh *BotHandler) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			bh.log.Error().Interface("panic", r).Int("update_id", update.UpdateID).Msg("Паника при обработке обновления")
		}
	}()

	switch {
	case update.Message != nil:
		bh.HandleMessage(ctx, update.Message)
	case update.EditedMessage != nil:
		bh.HandleEdit(ctx, update.EditedMessage)
	case update.ChannelPost != nil:
		bh.HandleChannelPost(ctx, update.ChannelPost)
	}
}

// HandleMessage обрабатывает входящие сообщения от Telegram.
func (bh *BotHandler) HandleMessage(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID
	bh.log.Debug().
		Int64("chat_id", chatID).
		Int("msg_id", message.MessageID).
		Str("media_group_id", message.MediaGroupID).
		Bool("command", message.IsCommand()).
		Msg("HandleMessage")

	switch {
	case message.Chat.Type == "private":
		bh.handlePrivate(ctx, message)
	case chatID == bh.opts.StaffChat.ChatID:
		bh.handleStaff(ctx, message)
	case bh.opts.TargetGroupID != 0 && chatID == bh.opts.TargetGroupID:
		bh.handleTargetGroup(ctx, message)
	}
}

func (bh *BotHandler) handlePrivate(ctx context.Context, message *tgbotapi.Message) {
	if message.From == nil || message.From.IsBot {
		return
	}
	if cmd, ok := bh.command(message); ok {
		bh.handlePrivateCommand(ctx, message, cmd)
		return
	}

	res, err := bh.Deps.Relay.RelayInbound(ctx, telegram_api.ConvertMessage(message))
	bh.logRelay("inbound", message, res, err)
}

func (bh *BotHandler) handleStaff(ctx context.Context, message *tgbotapi.Message) {
	if message.From != nil && message.From.ID == bh.opts.BotID {
		return
	}
	if cmd, ok := bh.command(message); ok {
		bh.handleStaffCommand(ctx, message, cmd)
		return
	}
	msg := telegram_api.ConvertMessage(message)
	// участники альбома без ответа всё равно идут в агрегатор: ответ мог прийти в первом
	if msg.ReplyToMessageID == 0 && msg.BatchID == "" {
		return
	}
	res, err := bh.Deps.Relay.RelayReply(ctx, msg)
	bh.logRelay("reply", message, res, err)
}

func (bh *BotHandler) handleTargetGroup(ctx context.Context, message *tgbotapi.Message) {
	if cmd, ok := bh.command(message); ok {
		if cmd == constants.CMD_TOP10 {
			bh.sendTop(ctx, relay.Destination{ChatID: message.Chat.ID, ThreadID: threadOf(message)})
		}
		return
	}
	bh.countThanks(ctx, message)
}

// HandleEdit переносит правку в личном чате или в группе сотрудников.
func (bh *BotHandler) HandleEdit(ctx context.Context, message *tgbotapi.Message) {
	if message.Chat.Type != "private" && message.Chat.ID != bh.opts.StaffChat.ChatID {
		return
	}
	if message.IsCommand() {
		return
	}
	res, err := bh.Deps.Relay.PropagateEdit(ctx, telegram_api.ConvertMessage(message))
	bh.logRelay("edit", message, res, err)
}

// HandleChannelPost передаёт пост канала-источника в конвейер новостей.
func (bh *BotHandler) HandleChannelPost(ctx context.Context, post *tgbotapi.Message) {
	if bh.Deps.News == nil || post.Chat.ID != bh.opts.SourceChannelID {
		return
	}
	outcome, err := bh.Deps.News.Handle(ctx, telegram_api.ConvertMessage(post))
	if err != nil {
		bh.log.Error().Err(err).Int("post_id", post.MessageID).Str("outcome", string(outcome)).Msg("Ошибка обработки поста канала")
		return
	}
	bh.log.Debug().Int("post_id", post.MessageID).Str("outcome", string(outcome)).Msg("Пост канала обработан")
}

// command возвращает имя команды, если сообщение адресовано этому боту.
func (bh *BotHandler) command(message *tgbotapi.Message) (string, bool) {
	if !message.IsCommand() {
		return "", false
	}
	name, at, found := strings.Cut(message.CommandWithAt(), "@")
	if found && bh.opts.BotUsername != "" && !strings.EqualFold(at, bh.opts.BotUsername) {
		return "", false
	}
	return strings.ToLower(name), true
}

// logRelay пишет итог пересылки. Ожидаемые исходы (отказ модерации, нет соответствия,
// опоздавший участник альбома) не являются ошибками обработчика.
func (bh *BotHandler) logRelay(direction string, message *tgbotapi.Message, res relay.DeliveryResult, err error) {
	var ev *zerolog.Event
	var rejection *relay.GateRejection
	switch {
	case err == nil:
		ev = bh.log.Debug()
	case errors.As(err, &rejection),
		errors.Is(err, relay.ErrMappingNotFound),
		errors.Is(err, relay.ErrLateBatchMember),
		errors.Is(err, relay.ErrNotEditable):
		ev = bh.log.Info().Err(err)
	default:
		ev = bh.log.Error().Err(err)
	}
	ev.Str("direction", direction).
		Int64("chat_id", message.Chat.ID).
		Int("msg_id", message.MessageID).
		Stringer("status", res.Status).
		Ints("delivered", res.DeliveredIDs()).
		Msg("Результат пересылки")
}

func threadOf(message *tgbotapi.Message) int {
	if message.IsTopicMessage {
		return message.MessageThreadID
	}
	return 0
}
