package models

import "time"

// ForwardedNews: запись о посте канала, уже скопированном в группу.
type ForwardedNews struct {
	MessageID   int
	ContentHash string
	ForwardedAt time.Time
}
