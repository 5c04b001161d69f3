// Package moderation ведёт мьюты и баны пользователей и сообщает им об изменениях.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"medrelay/internal/constants"
	"medrelay/internal/db"
	"medrelay/internal/metrics"
	"medrelay/internal/models"
	"medrelay/internal/relay"
)

// Store: часть хранилища, нужная модерации.
type Store interface {
	db.ModerationStore
	LookupUserByForward(ctx context.Context, relayMsgID int) (int64, error)
}

// Action: команда модерации.
type Action string

const (
	ActionMute   Action = constants.CMD_MUTE
	ActionUnmute Action = constants.CMD_UNMUTE
	ActionBan    Action = constants.CMD_BAN
	ActionUnban  Action = constants.CMD_UNBAN
)

// ParseAction разбирает имя команды.
func ParseAction(s string) (Action, bool) {
	switch a := Action(s); a {
	case ActionMute, ActionUnmute, ActionBan, ActionUnban:
		return a, true
	}
	return "", false
}

// ErrNoTarget: не удалось понять, к какому пользователю относится команда.
var ErrNoTarget = errors.New("не удалось определить пользователя")

// Service выполняет команды модерации.
type Service struct {
	store    Store
	notifier relay.Notifier
	muteFor  time.Duration
	metrics  *metrics.Metrics
	log      zerolog.Logger
	now      func() time.Time
}

func NewService(store Store, notifier relay.Notifier, muteFor time.Duration, m *metrics.Metrics, log zerolog.Logger) *Service {
	if muteFor <= 0 {
		muteFor = constants.DEFAULT_MUTE_DURATION
	}
	return &Service{
		store:    store,
		notifier: notifier,
		muteFor:  muteFor,
		metrics:  m,
		log:      log.With().Str("component", "moderation").Logger(),
		now:      time.Now,
	}
}

// ResolveTarget находит пользователя по сообщению, на которое ответил сотрудник.
// Сначала ищется соответствие пересланному сообщению, затем берётся автор сообщения.
func (s *Service) ResolveTarget(ctx context.Context, replyToMsgID int, replyAuthorID int64) (int64, error) {
	if replyToMsgID == 0 {
		return 0, ErrNoTarget
	}
	userID, err := s.store.LookupUserByForward(ctx, replyToMsgID)
	switch {
	case err == nil:
		return userID, nil
	case !errors.Is(err, db.ErrNotFound):
		return 0, err
	case replyAuthorID != 0:
		return replyAuthorID, nil
	}
	return 0, ErrNoTarget
}

// Apply выполняет действие, уведомляет пользователя и возвращает текст подтверждения для сотрудников.
func (s *Service) Apply(ctx context.Context, action Action, userID int64) (string, error) {
	now := s.now().UTC()
	var staffText, userText string

	switch action {
	case ActionMute:
		until := now.Add(s.muteFor)
		if err := s.store.SetMuted(ctx, userID, until); err != nil {
			return "", fmt.Errorf("мьют пользователя %d: %w", userID, err)
		}
		staffText = fmt.Sprintf(constants.MSG_STAFF_MUTED, userID, formatTime(until))
		userText = fmt.Sprintf(constants.MSG_YOU_MUTED, formatTime(until))
	case ActionUnmute:
		if err := s.store.ClearMute(ctx, userID); err != nil {
			return "", fmt.Errorf("снятие мьюта с пользователя %d: %w", userID, err)
		}
		staffText = fmt.Sprintf(constants.MSG_STAFF_UNMUTED, userID)
		userText = constants.MSG_YOU_UNMUTED
	case ActionBan:
		if err := s.store.SetBanned(ctx, userID, now); err != nil {
			return "", fmt.Errorf("бан пользователя %d: %w", userID, err)
		}
		staffText = fmt.Sprintf(constants.MSG_STAFF_BANNED, userID, formatTime(now))
		userText = fmt.Sprintf(constants.MSG_YOU_BANNED, formatTime(now))
	case ActionUnban:
		if err := s.store.ClearBan(ctx, userID); err != nil {
			return "", fmt.Errorf("разбан пользователя %d: %w", userID, err)
		}
		staffText = fmt.Sprintf(constants.MSG_STAFF_UNBANNED, userID)
		userText = constants.MSG_YOU_UNBANNED
	default:
		return "", fmt.Errorf("неизвестное действие модерации %q", action)
	}

	s.metrics.ObserveModeration(string(action))
	s.log.Info().Str("action", string(action)).Int64("user_id", userID).Msg("Команда модерации выполнена")

	if s.notifier != nil {
		if err := s.notifier.Notify(context.WithoutCancel(ctx), relay.Destination{ChatID: userID}, userText); err != nil {
			s.log.Warn().Err(err).Int64("user_id", userID).Msg("Не удалось уведомить пользователя")
		}
	}
	return staffText, nil
}

// Status возвращает статус пользователя.
func (s *Service) Status(ctx context.Context, userID int64) (models.ModerationStatus, error) {
	return s.store.GetStatus(ctx, userID)
}

// List возвращает все записи модерации.
func (s *Service) List(ctx context.Context) ([]models.ModerationRecord, error) {
	return s.store.ListModeration(ctx)
}

// StaffStatusText: статус пользователя глазами сотрудников.
func StaffStatusText(st models.ModerationStatus) string {
	switch {
	case st.Banned:
		return fmt.Sprintf(constants.MSG_STAFF_STATUS_BANNED, st.UserID, formatTime(st.BannedAt))
	case st.Muted:
		return fmt.Sprintf(constants.MSG_STAFF_STATUS_MUTED, st.UserID, formatTime(st.MutedUntil))
	}
	return fmt.Sprintf(constants.MSG_STAFF_STATUS_FREE, st.UserID)
}

// UserStatusText: ответ пользователю на /status.
func UserStatusText(st models.ModerationStatus) string {
	switch {
	case st.Banned:
		return constants.MSG_BANNED
	case st.Muted:
		return fmt.Sprintf(constants.MSG_STATUS_MUTED, formatTime(st.MutedUntil))
	}
	return constants.MSG_STATUS_FREE
}

func formatTime(t time.Time) string {
	return t.UTC().Format(constants.TIME_LAYOUT_STATUS)
}
