package telegram_api

import (
	"strings"

	tgbotapi "github.com/OvyFlash/telegram-bot-api"

	"medrelay/internal/relay"
	"medrelay/internal/richtext"
)

// SpansFromEntities переводит entities Telegram в участки разметки.
func SpansFromEntities(entities []tgbotapi.MessageEntity) []richtext.Span {
	if len(entities) == 0 {
		return nil
	}
	spans := make([]richtext.Span, 0, len(entities))
	for _, e := range entities {
		s := richtext.Span{
			Type:          e.Type,
			Offset:        e.Offset,
			Length:        e.Length,
			URL:           e.URL,
			Language:      e.Language,
			CustomEmojiID: e.CustomEmojiID,
		}
		if e.User != nil {
			s.UserID = e.User.ID
		}
		spans = append(spans, s)
	}
	return spans
}

// EntitiesFromSpans: обратное преобразование.
func EntitiesFromSpans(spans []richtext.Span) []tgbotapi.MessageEntity {
	if len(spans) == 0 {
		return nil
	}
	entities := make([]tgbotapi.MessageEntity, 0, len(spans))
	for _, s := range spans {
		e := tgbotapi.MessageEntity{
			Type:          s.Type,
			Offset:        s.Offset,
			Length:        s.Length,
			URL:           s.URL,
			Language:      s.Language,
			CustomEmojiID: s.CustomEmojiID,
		}
		if s.UserID != 0 {
			e.User = &tgbotapi.User{ID: s.UserID}
		}
		entities = append(entities, e)
	}
	return entities
}

// DisplayName возвращает "Имя Фамилия", а если их нет, @username.
func DisplayName(u *tgbotapi.User) string {
	if u == nil {
		return ""
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" && u.UserName != "" {
		name = "@" + u.UserName
	}
	return name
}

// ConvertMessage отвязывает сообщение от типов Telegram.
func ConvertMessage(m *tgbotapi.Message) relay.Message {
	out := relay.Message{
		ChatID:    m.Chat.ID,
		MessageID: m.MessageID,
		BatchID:   m.MediaGroupID,
		Content:   convertContent(m),
		Forwarded: m.ForwardOrigin != nil,
	}
	if m.IsTopicMessage {
		out.ThreadID = m.MessageThreadID
	}
	if m.From != nil {
		out.UserID = m.From.ID
		out.UserName = DisplayName(m.From)
	}
	out.ReplyToMessageID = replyTarget(m)
	return out
}

// replyTarget возвращает ID сообщения, на которое ответили. В темах форума Telegram
// подставляет служебное сообщение о создании темы как ReplyToMessage; это не ответ.
func replyTarget(m *tgbotapi.Message) int {
	r := m.ReplyToMessage
	if r == nil {
		return 0
	}
	if m.IsTopicMessage && r.MessageID == m.MessageThreadID {
		return 0
	}
	return r.MessageID
}

func caption(m *tgbotapi.Message) richtext.FormattedText {
	return richtext.FormattedText{Text: validText(m.Caption), Spans: SpansFromEntities(m.CaptionEntities)}
}

// validText заменяет битые последовательности байт на U+FFFD: richtext работает только с корректным UTF-8.
func validText(s string) string {
	return strings.ToValidUTF8(s, "\uFFFD")
}

func convertContent(m *tgbotapi.Message) relay.Content {
	media := func(kind relay.MediaKind, fileID string) relay.Content {
		return relay.MediaContent{Kind: kind, FileID: fileID, Caption: caption(m)}
	}
	switch {
	case m.Text != "":
		return relay.TextContent{Text: richtext.FormattedText{Text: validText(m.Text), Spans: SpansFromEntities(m.Entities)}}
	case len(m.Photo) > 0:
		// последний размер самый большой
		return media(relay.MediaPhoto, m.Photo[len(m.Photo)-1].FileID)
	case m.Video != nil:
		return media(relay.MediaVideo, m.Video.FileID)
	case m.Animation != nil:
		return media(relay.MediaAnimation, m.Animation.FileID)
	case m.Document != nil:
		return media(relay.MediaDocument, m.Document.FileID)
	case m.Audio != nil:
		return media(relay.MediaAudio, m.Audio.FileID)
	case m.Voice != nil:
		return media(relay.MediaVoice, m.Voice.FileID)
	case m.VideoNote != nil:
		return relay.MediaContent{Kind: relay.MediaVideoNote, FileID: m.VideoNote.FileID}
	case m.Sticker != nil:
		return relay.MediaContent{Kind: relay.MediaSticker, FileID: m.Sticker.FileID}
	case m.Poll != nil:
		p := relay.PollContent{
			Question:              m.Poll.Question,
			IsAnonymous:           m.Poll.IsAnonymous,
			Type:                  m.Poll.Type,
			AllowsMultipleAnswers: m.Poll.AllowsMultipleAnswers,
		}
		for _, o := range m.Poll.Options {
			p.Options = append(p.Options, o.Text)
		}
		return p
	case m.Venue != nil:
		return relay.OpaqueContent{Kind: "venue"}
	case m.Location != nil:
		return relay.OpaqueContent{Kind: "location"}
	case m.Contact != nil:
		return relay.OpaqueContent{Kind: "contact"}
	case m.Dice != nil:
		return relay.OpaqueContent{Kind: "dice"}
	}
	return relay.OpaqueContent{}
}

// PlainText возвращает текст или подпись сообщения.
func PlainText(m *tgbotapi.Message) string {
	if m.Text != "" {
		return m.Text
	}
	return m.Caption
}
