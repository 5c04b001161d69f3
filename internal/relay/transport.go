package relay

import (
	"context"

	"medrelay/internal/richtext"
)

// Transport: примитивы платформы, которые нужны пересылке.
// Ошибки возвращаются как *TransportError с признаком Permanent.
type Transport interface {
	SendText(ctx context.Context, dst Destination, text richtext.FormattedText) (int, error)
	// SendMedia отправляет вложение; Caption уже укорочена до лимита подписи.
	SendMedia(ctx context.Context, dst Destination, media MediaContent) (int, error)
	SendMediaGroup(ctx context.Context, dst Destination, items []MediaContent) ([]int, error)
	SendPoll(ctx context.Context, dst Destination, poll PollContent) (int, error)
	CopyMessage(ctx context.Context, dst Destination, fromChatID int64, messageID int) (int, error)
	ForwardMessage(ctx context.Context, dst Destination, fromChatID int64, messageID int) (int, error)
	EditText(ctx context.Context, chatID int64, messageID int, text richtext.FormattedText) error
	EditCaption(ctx context.Context, chatID int64, messageID int, caption richtext.FormattedText) error
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
}

// Notifier отправляет служебные уведомления: подтверждения, отказы, сообщения об ошибках.
type Notifier interface {
	Notify(ctx context.Context, dst Destination, text string) error
}
