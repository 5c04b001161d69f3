package models

import "time"

// CorrespondenceMapping связывает сообщение в группе сотрудников с пользователем,
// от которого оно пришло. Ключ: RelayMessageID.
type CorrespondenceMapping struct {
	RelayMessageID  int       // ID сообщения в группе сотрудников
	SourceUserID    int64     // chat_id пользователя (личный чат)
	SourceMessageID int       // ID исходного сообщения у пользователя
	CreatedAt       time.Time // используется при очистке по возрасту
}

// ReplyMapping связывает ответ сотрудника с сообщением, доставленным пользователю.
// Нужен, чтобы правка ответа дошла до того же сообщения. Ключ: StaffMessageID.
type ReplyMapping struct {
	StaffMessageID     int
	TargetUserID       int64
	DeliveredMessageID int
	FollowUpMessageIDs []int // продолжения длинного ответа
	CreatedAt          time.Time
}

// MessageIDs возвращает все доставленные сообщения ответа по порядку.
func (m ReplyMapping) MessageIDs() []int {
	return append([]int{m.DeliveredMessageID}, m.FollowUpMessageIDs...)
}
