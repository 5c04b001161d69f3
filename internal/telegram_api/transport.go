package telegram_api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	tgbotapi "github.com/OvyFlash/telegram-bot-api"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"medrelay/internal/metrics"
	"medrelay/internal/relay"
	"medrelay/internal/richtext"
)

// Transport реализует relay.Transport и relay.Notifier поверх Bot API.
// Все вызовы проходят через общий ограничитель частоты.
type Transport struct {
	client  *BotClient
	limiter *rate.Limiter
	metrics *metrics.Metrics
	log     zerolog.Logger
}

var (
	_ relay.Transport = (*Transport)(nil)
	_ relay.Notifier  = (*Transport)(nil)
)

// NewTransport создаёт транспорт. perSecond <= 0 снимает ограничение частоты.
func NewTransport(client *BotClient, perSecond float64, m *metrics.Metrics, log zerolog.Logger) *Transport {
	limit, burst := rate.Inf, 1
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
		burst = max(1, int(perSecond))
	}
	return &Transport{
		client:  client,
		limiter: rate.NewLimiter(limit, burst),
		metrics: m,
		log:     log.With().Str("component", "transport").Logger(),
	}
}

// do ждёт своей очереди у ограничителя и классифицирует ошибку вызова.
func (t *Transport) do(ctx context.Context, op string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return t.fail(op, err)
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return t.fail(op, err)
	}
	return t.fail(op, fn())
}

func (t *Transport) fail(op string, err error) error {
	if err == nil {
		return nil
	}
	cerr := classify(op, err)
	if !errors.Is(cerr, relay.ErrNotModified) {
		t.metrics.ObserveTransportError(op, relay.IsPermanent(cerr))
		t.log.Debug().Err(cerr).Str("op", op).Msg("Ошибка вызова Bot API")
	}
	return cerr
}

func (t *Transport) SendText(ctx context.Context, dst relay.Destination, text richtext.FormattedText) (int, error) {
	msg := tgbotapi.NewMessage(dst.ChatID, text.Text)
	msg.Entities = EntitiesFromSpans(text.Spans)
	msg.MessageThreadID = dst.ThreadID

	var id int
	err := t.do(ctx, "send_text", func() error {
		sent, err := t.client.Send(msg)
		id = sent.MessageID
		return err
	})
	return id, err
}

func (t *Transport) SendMedia(ctx context.Context, dst relay.Destination, media relay.MediaContent) (int, error) {
	cfg, err := mediaConfig(dst, media)
	if err != nil {
		return 0, &relay.TransportError{Op: "send_media", Permanent: true, Reason: err.Error(), Err: err}
	}
	var id int
	err = t.do(ctx, "send_media", func() error {
		sent, err := t.client.Send(cfg)
		id = sent.MessageID
		return err
	})
	return id, err
}

func mediaConfig(dst relay.Destination, m relay.MediaContent) (tgbotapi.Chattable, error) {
	file := tgbotapi.FileID(m.FileID)
	text, entities := m.Caption.Text, EntitiesFromSpans(m.Caption.Spans)
	switch m.Kind {
	case relay.MediaPhoto:
		c := tgbotapi.NewPhoto(dst.ChatID, file)
		c.Caption, c.CaptionEntities, c.MessageThreadID = text, entities, dst.ThreadID
		return c, nil
	case relay.MediaVideo:
		c := tgbotapi.NewVideo(dst.ChatID, file)
		c.Caption, c.CaptionEntities, c.MessageThreadID = text, entities, dst.ThreadID
		return c, nil
	case relay.MediaAnimation:
		c := tgbotapi.NewAnimation(dst.ChatID, file)
		c.Caption, c.CaptionEntities, c.MessageThreadID = text, entities, dst.ThreadID
		return c, nil
	case relay.MediaDocument:
		c := tgbotapi.NewDocument(dst.ChatID, file)
		c.Caption, c.CaptionEntities, c.MessageThreadID = text, entities, dst.ThreadID
		return c, nil
	case relay.MediaAudio:
		c := tgbotapi.NewAudio(dst.ChatID, file)
		c.Caption, c.CaptionEntities, c.MessageThreadID = text, entities, dst.ThreadID
		return c, nil
	case relay.MediaVoice:
		c := tgbotapi.NewVoice(dst.ChatID, file)
		c.Caption, c.CaptionEntities, c.MessageThreadID = text, entities, dst.ThreadID
		return c, nil
	case relay.MediaVideoNote:
		c := tgbotapi.NewVideoNote(dst.ChatID, 0, file)
		c.MessageThreadID = dst.ThreadID
		return c, nil
	case relay.MediaSticker:
		c := tgbotapi.NewSticker(dst.ChatID, file)
		c.MessageThreadID = dst.ThreadID
		return c, nil
	}
	return nil, fmt.Errorf("неизвестный вид вложения %q", m.Kind)
}

// inputMedia: элемент sendMediaGroup. Отправляем только file_id, загрузка файлов не нужна.
type inputMedia struct {
	Type            string                   `json:"type"`
	Media           string                   `json:"media"`
	Caption         string                   `json:"caption,omitempty"`
	CaptionEntities []tgbotapi.MessageEntity `json:"caption_entities,omitempty"`
}

func destParams(dst relay.Destination) tgbotapi.Params {
	params := tgbotapi.Params{"chat_id": strconv.FormatInt(dst.ChatID, 10)}
	if dst.ThreadID != 0 {
		params["message_thread_id"] = strconv.Itoa(dst.ThreadID)
	}
	return params
}

func (t *Transport) SendMediaGroup(ctx context.Context, dst relay.Destination, items []relay.MediaContent) ([]int, error) {
	media := make([]inputMedia, 0, len(items))
	for _, it := range items {
		media = append(media, inputMedia{
			Type:            string(it.Kind),
			Media:           it.FileID,
			Caption:         it.Caption.Text,
			CaptionEntities: EntitiesFromSpans(it.Caption.Spans),
		})
	}
	raw, err := json.Marshal(media)
	if err != nil {
		return nil, &relay.TransportError{Op: "send_media_group", Permanent: true, Reason: err.Error(), Err: err}
	}
	params := destParams(dst)
	params["media"] = string(raw)

	var ids []int
	err = t.do(ctx, "send_media_group", func() error {
		resp, err := t.client.MakeRequest("sendMediaGroup", params)
		if err != nil {
			return err
		}
		var sent []tgbotapi.Message
		if err := json.Unmarshal(resp.Result, &sent); err != nil {
			return fmt.Errorf("разбор ответа sendMediaGroup: %w", err)
		}
		for _, m := range sent {
			ids = append(ids, m.MessageID)
		}
		return nil
	})
	return ids, err
}

type pollOption struct {
	Text string `json:"text"`
}

func (t *Transport) SendPoll(ctx context.Context, dst relay.Destination, poll relay.PollContent) (int, error) {
	options := make([]pollOption, 0, len(poll.Options))
	for _, o := range poll.Options {
		options = append(options, pollOption{Text: o})
	}
	raw, err := json.Marshal(options)
	if err != nil {
		return 0, &relay.TransportError{Op: "send_poll", Permanent: true, Reason: err.Error(), Err: err}
	}
	params := destParams(dst)
	params["question"] = poll.Question
	params["options"] = string(raw)
	params["is_anonymous"] = strconv.FormatBool(poll.IsAnonymous)
	params["allows_multiple_answers"] = strconv.FormatBool(poll.AllowsMultipleAnswers)
	if poll.Type != "" {
		params["type"] = poll.Type
	}

	var id int
	err = t.do(ctx, "send_poll", func() error {
		resp, err := t.client.MakeRequest("sendPoll", params)
		if err != nil {
			return err
		}
		var sent tgbotapi.Message
		if err := json.Unmarshal(resp.Result, &sent); err != nil {
			return fmt.Errorf("разбор ответа sendPoll: %w", err)
		}
		id = sent.MessageID
		return nil
	})
	return id, err
}

func (t *Transport) CopyMessage(ctx context.Context, dst relay.Destination, fromChatID int64, messageID int) (int, error) {
	cfg := tgbotapi.NewCopyMessage(dst.ChatID, fromChatID, messageID)
	cfg.MessageThreadID = dst.ThreadID

	var id int
	err := t.do(ctx, "copy", func() error {
		sent, err := t.client.CopyMessage(cfg)
		id = sent.MessageID
		return err
	})
	return id, err
}

func (t *Transport) ForwardMessage(ctx context.Context, dst relay.Destination, fromChatID int64, messageID int) (int, error) {
	cfg := tgbotapi.NewForward(dst.ChatID, fromChatID, messageID)
	cfg.MessageThreadID = dst.ThreadID

	var id int
	err := t.do(ctx, "forward", func() error {
		sent, err := t.client.Send(cfg)
		id = sent.MessageID
		return err
	})
	return id, err
}

func (t *Transport) EditText(ctx context.Context, chatID int64, messageID int, text richtext.FormattedText) error {
	cfg := tgbotapi.NewEditMessageText(chatID, messageID, text.Text)
	cfg.Entities = EntitiesFromSpans(text.Spans)
	return t.do(ctx, "edit_text", func() error {
		_, err := t.client.Request(cfg)
		return err
	})
}

func (t *Transport) EditCaption(ctx context.Context, chatID int64, messageID int, caption richtext.FormattedText) error {
	cfg := tgbotapi.NewEditMessageCaption(chatID, messageID, caption.Text)
	cfg.CaptionEntities = EntitiesFromSpans(caption.Spans)
	return t.do(ctx, "edit_caption", func() error {
		_, err := t.client.Request(cfg)
		return err
	})
}

func (t *Transport) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	if messageID == 0 {
		return nil
	}
	return t.do(ctx, "delete", func() error {
		_, err := t.client.Request(tgbotapi.NewDeleteMessage(chatID, messageID))
		return err
	})
}

// Notify отправляет служебный текст без разметки.
func (t *Transport) Notify(ctx context.Context, dst relay.Destination, text string) error {
	_, err := t.SendText(ctx, dst, richtext.Plain(text))
	return err
}

// SendTemporary отправляет подсказку и удаляет её через ttl.
func (t *Transport) SendTemporary(ctx context.Context, dst relay.Destination, text string, ttl time.Duration) error {
	id, err := t.SendText(ctx, dst, richtext.Plain(text))
	if err != nil {
		return err
	}
	go func() {
		timer := time.NewTimer(ttl)
		defer timer.Stop()
		<-timer.C
		if err := t.DeleteMessage(context.Background(), dst.ChatID, id); err != nil {
			t.log.Debug().Err(err).Int("msg_id", id).Msg("Не удалось удалить подсказку")
		}
	}()
	return nil
}
