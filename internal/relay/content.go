// Package relay пересылает сообщения между пользователями и группой сотрудников:
// проверка модерации, сборка альбомов, нарезка длинного контента, запись соответствий и правки.
package relay

import (
	"fmt"

	"medrelay/internal/richtext"
)

// Content: содержимое сообщения. Реализации: TextContent, MediaContent, PollContent, OpaqueContent.
type Content interface {
	isContent()
}

// TextContent: обычный текст с разметкой.
type TextContent struct {
	Text richtext.FormattedText
}

// MediaKind: вид вложения.
type MediaKind string

const (
	MediaPhoto     MediaKind = "photo"
	MediaVideo     MediaKind = "video"
	MediaDocument  MediaKind = "document"
	MediaAudio     MediaKind = "audio"
	MediaVoice     MediaKind = "voice"
	MediaAnimation MediaKind = "animation"
	MediaSticker   MediaKind = "sticker"
	MediaVideoNote MediaKind = "video_note"
)

// CanCaption сообщает, принимает ли Telegram подпись к такому вложению.
func (k MediaKind) CanCaption() bool {
	switch k {
	case MediaSticker, MediaVideoNote:
		return false
	}
	return true
}

// groupClass: вложения одного класса можно отправить одним sendMediaGroup.
func (k MediaKind) groupClass() string {
	switch k {
	case MediaPhoto, MediaVideo:
		return "visual"
	case MediaDocument:
		return "document"
	case MediaAudio:
		return "audio"
	}
	return ""
}

// MediaContent: вложение с подписью.
type MediaContent struct {
	Kind    MediaKind
	FileID  string
	Caption richtext.FormattedText
}

// PollContent: опрос. Варианты ответа копируются как есть.
type PollContent struct {
	Question              string
	Options               []string
	IsAnonymous           bool
	Type                  string
	AllowsMultipleAnswers bool
}

// OpaqueContent: всё, что нельзя пересобрать (геолокация, контакт, кубик...). Доставляется копированием.
type OpaqueContent struct {
	Kind string
}

func (TextContent) isContent()   {}
func (MediaContent) isContent()  {}
func (PollContent) isContent()   {}
func (OpaqueContent) isContent() {}

// Message: входящее событие, уже отвязанное от типов Telegram.
type Message struct {
	ChatID           int64
	MessageID        int
	ThreadID         int
	UserID           int64
	UserName         string
	BatchID          string // media_group_id; пусто для одиночных сообщений
	Content          Content
	Forwarded        bool // пересланное из другого чата: сохраняем происхождение
	ReplyToMessageID int
}

// Destination: чат и (необязательно) тема форума.
type Destination struct {
	ChatID   int64
	ThreadID int
}

func (d Destination) String() string {
	if d.ThreadID == 0 {
		return fmt.Sprintf("%d", d.ChatID)
	}
	return fmt.Sprintf("%d/%d", d.ChatID, d.ThreadID)
}

// describe возвращает короткое имя вида контента для логов и метрик.
func describe(c Content) string {
	switch c := c.(type) {
	case TextContent:
		return "text"
	case MediaContent:
		return string(c.Kind)
	case PollContent:
		return "poll"
	case OpaqueContent:
		if c.Kind != "" {
			return c.Kind
		}
		return "opaque"
	case nil:
		return "empty"
	}
	return "unknown"
}
