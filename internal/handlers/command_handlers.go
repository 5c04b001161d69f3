package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	tgbotapi "github.com/OvyFlash/telegram-bot-api"

	"medrelay/internal/constants"
	"medrelay/internal/moderation"
	"medrelay/internal/relay"
	"medrelay/internal/richtext"
	"medrelay/internal/telegram_api"
)

// PrivateCommands и StaffCommands: меню команд для личных чатов и групп.
var (
	PrivateCommands = []telegram_api.BotCommand{
		{Command: constants.CMD_START, Description: "Запустить бота"},
		{Command: constants.CMD_STATUS, Description: "Проверить ограничения"},
		{Command: constants.CMD_HELP, Description: "Справка по командам"},
	}
	StaffCommands = []telegram_api.BotCommand{
		{Command: constants.CMD_STATUS, Description: "Проверить ограничения"},
		{Command: constants.CMD_BAN, Description: "Забанить пользователя"},
		{Command: constants.CMD_UNBAN, Description: "Разбанить пользователя"},
		{Command: constants.CMD_MUTE, Description: "Выдать мут"},
		{Command: constants.CMD_UNMUTE, Description: "Снять мут"},
		{Command: constants.CMD_SEND_TO_PRO, Description: "Отправить в PRO-группу"},
		{Command: constants.CMD_TOP10, Description: "Топ благодарностей"},
		{Command: constants.CMD_HELP, Description: "Справка по командам"},
	}
)

func (bh *BotHandler) handlePrivateCommand(ctx context.Context, message *tgbotapi.Message, cmd string) {
	dst := relay.Destination{ChatID: message.Chat.ID}
	switch cmd {
	case constants.CMD_START:
		bh.log.Info().Int64("user_id", message.From.ID).Msg("/start")
		bh.notify(ctx, dst, constants.MSG_START)
	case constants.CMD_STATUS:
		st, err := bh.Deps.Relay.GetStatus(ctx, message.From.ID)
		if err != nil {
			bh.log.Error().Err(err).Int64("user_id", message.From.ID).Msg("Ошибка получения статуса")
			bh.notify(ctx, dst, constants.MSG_STAFF_STATUS_FAILED)
			return
		}
		bh.notify(ctx, dst, moderation.UserStatusText(st))
	default:
		bh.notify(ctx, dst, constants.MSG_HELP_PRIVATE)
	}
}

func (bh *BotHandler) handleStaffCommand(ctx context.Context, message *tgbotapi.Message, cmd string) {
	dst := relay.Destination{ChatID: message.Chat.ID, ThreadID: threadOf(message)}
	bh.log.Info().Str("command", cmd).Int64("chat_id", message.Chat.ID).Int("msg_id", message.MessageID).Msg("Команда в группе сотрудников")

	switch cmd {
	case constants.CMD_HELP:
		bh.notify(ctx, dst, constants.MSG_HELP_STAFF)
	case constants.CMD_TOP10:
		bh.sendTop(ctx, dst)
	case constants.CMD_STATUS:
		userID, ok := bh.resolveTarget(ctx, message, dst, cmd)
		if !ok {
			return
		}
		st, err := bh.Deps.Moderation.Status(ctx, userID)
		if err != nil {
			bh.log.Error().Err(err).Int64("user_id", userID).Msg("Ошибка получения статуса")
			bh.notify(ctx, dst, constants.MSG_STAFF_STATUS_FAILED)
			return
		}
		bh.notify(ctx, dst, moderation.StaffStatusText(st))
	case constants.CMD_SEND_TO_PRO:
		bh.sendToProGroup(ctx, message, dst)
	default:
		action, ok := moderation.ParseAction(cmd)
		if !ok {
			return
		}
		userID, ok := bh.resolveTarget(ctx, message, dst, cmd)
		if !ok {
			return
		}
		text, err := bh.Deps.Moderation.Apply(ctx, action, userID)
		if err != nil {
			bh.log.Error().Err(err).Str("action", string(action)).Int64("user_id", userID).Msg("Команда модерации не выполнена")
			bh.notify(ctx, dst, fmt.Sprintf(constants.MSG_STAFF_ACTION_FAILED, "хранилище недоступно"))
			return
		}
		bh.notify(ctx, dst, text)
	}
}

// resolveTarget находит пользователя, к которому относится команда.
// Команда без ответа получает временную подсказку.
func (bh *BotHandler) resolveTarget(ctx context.Context, message *tgbotapi.Message, dst relay.Destination, cmd string) (int64, bool) {
	reply := message.ReplyToMessage
	if reply == nil || (message.IsTopicMessage && reply.MessageID == message.MessageThreadID) {
		bh.replyRequired(ctx, message, dst, cmd)
		return 0, false
	}
	var authorID int64
	if reply.From != nil && reply.From.ID != bh.opts.BotID {
		authorID = reply.From.ID
	}
	userID, err := bh.Deps.Moderation.ResolveTarget(ctx, reply.MessageID, authorID)
	switch {
	case errors.Is(err, moderation.ErrNoTarget):
		bh.replyRequired(ctx, message, dst, cmd)
		return 0, false
	case err != nil:
		bh.log.Error().Err(err).Int("reply_to", reply.MessageID).Msg("Ошибка поиска пользователя по ответу")
		bh.notify(ctx, dst, fmt.Sprintf(constants.MSG_STAFF_ACTION_FAILED, "хранилище недоступно"))
		return 0, false
	}
	return userID, true
}

// replyRequired показывает подсказку и через HintTTL удаляет её вместе с командой.
func (bh *BotHandler) replyRequired(ctx context.Context, message *tgbotapi.Message, dst relay.Destination, cmd string) {
	hint := fmt.Sprintf(constants.MSG_STAFF_REPLY_REQUIRED, "/"+cmd)
	if err := bh.Deps.Messenger.SendTemporary(ctx, dst, hint, bh.opts.HintTTL); err != nil {
		bh.log.Warn().Err(err).Msg("Не удалось отправить подсказку")
	}
	chatID, msgID := message.Chat.ID, message.MessageID
	time.AfterFunc(bh.opts.HintTTL, func() {
		if err := bh.Deps.Messenger.DeleteMessage(context.Background(), chatID, msgID); err != nil {
			bh.log.Warn().Err(err).Int("msg_id", msgID).Msg("Не удалось удалить команду")
		}
	})
}

// sendToProGroup копирует сообщение, на которое ответили, в тему PRO-группы
// и пишет об этом в канал логов.
func (bh *BotHandler) sendToProGroup(ctx context.Context, message *tgbotapi.Message, dst relay.Destination) {
	reply := message.ReplyToMessage
	if reply == nil || (message.IsTopicMessage && reply.MessageID == message.MessageThreadID) {
		bh.replyRequired(ctx, message, dst, constants.CMD_SEND_TO_PRO)
		return
	}
	if bh.opts.ProGroup.ChatID == 0 {
		bh.notify(ctx, dst, fmt.Sprintf(constants.MSG_STAFF_PRO_FAILED, "PRO-группа не настроена"))
		return
	}

	src := telegram_api.ConvertMessage(reply)
	d, err := bh.Deps.Sender.Deliver(ctx, bh.opts.ProGroup, src, richtext.FormattedText{})
	if err != nil {
		bh.log.Error().Err(err).Int("source_msg_id", reply.MessageID).Ints("delivered", d.MessageIDs).Msg("Ошибка пересылки в PRO-группу")
		bh.notify(ctx, dst, fmt.Sprintf(constants.MSG_STAFF_PRO_FAILED, err.Error()))
		return
	}

	var senderID int64
	var senderName string
	if message.From != nil {
		senderID, senderName = message.From.ID, telegram_api.DisplayName(message.From)
	}
	bh.log.Info().
		Int("source_msg_id", reply.MessageID).
		Int("delivered_msg_id", d.Anchor()).
		Int64("by", senderID).
		Msg("Переслано в PRO-группу")

	if bh.opts.LogChannelID != 0 {
		audit := fmt.Sprintf(constants.MSG_STAFF_PRO_AUDIT, reply.MessageID, d.Anchor(), senderName, senderID)
		if _, err := bh.Deps.Messenger.SendText(context.WithoutCancel(ctx), relay.Destination{ChatID: bh.opts.LogChannelID}, richtext.Plain(audit)); err != nil {
			bh.log.Warn().Err(err).Msg("Не удалось записать аудит в канал логов")
		}
	}
	bh.notify(ctx, dst, constants.MSG_STAFF_PRO_SENT)
}

func (bh *BotHandler) sendTop(ctx context.Context, dst relay.Destination) {
	if bh.Deps.Thanks == nil {
		return
	}
	text, err := bh.Deps.Thanks.TopText(ctx, 10)
	if err != nil {
		bh.log.Error().Err(err).Msg("Ошибка получения топа благодарностей")
		return
	}
	bh.notify(ctx, dst, text)
}

// countThanks засчитывает благодарность автору сообщения, на которое ответили.
func (bh *BotHandler) countThanks(ctx context.Context, message *tgbotapi.Message) {
	if bh.Deps.Thanks == nil || message.From == nil {
		return
	}
	reply := message.ReplyToMessage
	if reply == nil || reply.From == nil || reply.From.IsBot {
		return
	}
	if message.IsTopicMessage && reply.MessageID == message.MessageThreadID {
		return
	}
	text := telegram_api.PlainText(message)
	if text == "" {
		return
	}
	if _, err := bh.Deps.Thanks.Observe(ctx, text, message.From.ID, reply.From.ID, telegram_api.DisplayName(reply.From)); err != nil {
		bh.log.Error().Err(err).Msg("Ошибка учёта благодарности")
	}
}

func (bh *BotHandler) notify(ctx context.Context, dst relay.Destination, text string) {
	if err := bh.Deps.Messenger.Notify(ctx, dst, text); err != nil {
		bh.log.Warn().Err(err).Stringer("dst", dst).Msg("Не удалось отправить сообщение")
	}
}
