// Package db хранит таблицы соответствий, состояние модерации и служебные данные бота.
// Есть две реализации: PostgresStore (lib/pq) и PebbleStore (встроенное KV-хранилище).
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"medrelay/internal/models"
)

// ErrNotFound возвращается, когда записи нет. Только эта ошибка означает "соответствие неизвестно".
var ErrNotFound = errors.New("запись не найдена")

// StorageError: сбой ввода-вывода хранилища. Его нельзя трактовать как отсутствие записи.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("хранилище: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// MappingStore: таблицы соответствий сообщений.
type MappingStore interface {
	// RecordForward сохраняет соответствие сообщения в группе сотрудников исходному сообщению.
	// Повторная запись того же relayMsgID перезаписывает строку.
	RecordForward(ctx context.Context, relayMsgID int, userID int64, originalMsgID int) error
	LookupUserByForward(ctx context.Context, relayMsgID int) (int64, error)
	// LookupForwardsByOriginal возвращает все сообщения в группе, созданные из originalMsgID,
	// по возрастанию ID. Первое из них служит якорем.
	LookupForwardsByOriginal(ctx context.Context, userID int64, originalMsgID int) ([]int, error)
	RecordReply(ctx context.Context, staffMsgID int, userID int64, deliveredMsgID int, followUps ...int) error
	LookupReply(ctx context.Context, staffMsgID int) (models.ReplyMapping, error)
	// PurgeOlderThan удаляет соответствия старше age и возвращает число удалённых строк.
	PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error)
}

// ModerationStore: мьюты и баны.
type ModerationStore interface {
	SetMuted(ctx context.Context, userID int64, until time.Time) error
	ClearMute(ctx context.Context, userID int64) error
	SetBanned(ctx context.Context, userID int64, at time.Time) error
	ClearBan(ctx context.Context, userID int64) error
	// GetStatus возвращает статус пользователя; истёкший мьют стирается при чтении.
	// Пользователь без записи не ограничен, это не ошибка.
	GetStatus(ctx context.Context, userID int64) (models.ModerationStatus, error)
	ListModeration(ctx context.Context) ([]models.ModerationRecord, error)
}

// NewsStore: записи о скопированных постах канала.
type NewsStore interface {
	IsNewsForwarded(ctx context.Context, contentHash string) (bool, error)
	RecordNews(ctx context.Context, messageID int, contentHash string) error
	PurgeNewsOlderThan(ctx context.Context, age time.Duration) (int64, error)
}

// ThanksStore: счётчик благодарностей.
type ThanksStore interface {
	IncrementThanks(ctx context.Context, userID int64, name string) (int, error)
	TopThanked(ctx context.Context, limit int) ([]models.ThanksEntry, error)
}

// Store объединяет всё, что нужно боту от хранилища.
type Store interface {
	MappingStore
	ModerationStore
	NewsStore
	ThanksStore
	Close() error
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*PebbleStore)(nil)
)
