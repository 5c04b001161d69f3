package relay

import (
	"errors"
	"fmt"
	"time"
)

// GateReason: почему пользователь не прошёл проверку.
type GateReason int

const (
	ReasonBanned GateReason = iota + 1
	ReasonMuted
)

func (r GateReason) String() string {
	switch r {
	case ReasonBanned:
		return "banned"
	case ReasonMuted:
		return "muted"
	}
	return "unknown"
}

// GateRejection: пользователь забанен или замьючен. Ничего не пересылается и не записывается.
type GateRejection struct {
	UserID int64
	Reason GateReason
	Until  time.Time // для мьюта
}

func (e *GateRejection) Error() string {
	if e.Reason == ReasonMuted {
		return fmt.Sprintf("пользователь %d замьючен до %s", e.UserID, e.Until.UTC().Format(time.RFC3339))
	}
	return fmt.Sprintf("пользователь %d заблокирован", e.UserID)
}

var (
	// ErrMappingNotFound: ответ или правку не к чему привязать.
	ErrMappingNotFound = errors.New("соответствие сообщения не найдено")
	// ErrLateBatchMember: участник альбома пришёл после того, как альбом был отправлен.
	ErrLateBatchMember = errors.New("участник альбома пришёл после отправки альбома")
	// ErrNotEditable: у доставленного сообщения нельзя изменить ни текст, ни подпись.
	ErrNotEditable = errors.New("сообщение нельзя отредактировать")
	// ErrNotModified: платформа сообщила, что содержимое не изменилось. Для правок это успех.
	ErrNotModified = errors.New("сообщение не изменилось")
)

// TransportError: ошибка вызова платформы.
type TransportError struct {
	Op         string
	Permanent  bool          // неверный запрос: повтор не поможет
	Reason     string        // текст ошибки от платформы
	RetryAfter time.Duration // подсказка при 429
	Err        error
}

func (e *TransportError) Error() string {
	kind := "временная"
	if e.Permanent {
		kind = "постоянная"
	}
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s ошибка транспорта: %s", e.Op, kind, e.Reason)
	}
	return fmt.Sprintf("%s: %s ошибка транспорта: %v", e.Op, kind, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsPermanent сообщает, что err является постоянной ошибкой транспорта.
func IsPermanent(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Permanent
}

// IsTransient сообщает, что err является временной ошибкой транспорта (сеть, 429, 5xx, таймаут).
func IsTransient(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && !te.Permanent
}
