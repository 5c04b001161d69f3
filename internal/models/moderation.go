package models

import "time"

// ModerationRecord: состояние ограничений пользователя.
// Нулевое MutedUntil означает, что мьюта нет.
type ModerationRecord struct {
	UserID     int64     `json:"user_id"`
	IsBanned   bool      `json:"is_banned"`
	BannedAt   time.Time `json:"banned_at"`
	MutedUntil time.Time `json:"muted_until"`
}

// ModerationStatus: то, что видят проверка на входе и команда /status.
type ModerationStatus struct {
	UserID     int64     `json:"user_id"`
	Banned     bool      `json:"banned"`
	BannedAt   time.Time `json:"banned_at,omitempty"`
	Muted      bool      `json:"muted"`
	MutedUntil time.Time `json:"muted_until,omitempty"`
}

// Status вычисляет статус на момент now. Истёкший мьют не считается мьютом.
func (r ModerationRecord) Status(now time.Time) ModerationStatus {
	st := ModerationStatus{
		UserID:   r.UserID,
		Banned:   r.IsBanned,
		BannedAt: r.BannedAt,
	}
	if !r.MutedUntil.IsZero() && now.Before(r.MutedUntil) {
		st.Muted = true
		st.MutedUntil = r.MutedUntil
	}
	return st
}

// MuteExpired сообщает, что запись хранит мьют, который уже истёк и его можно стереть.
func (r ModerationRecord) MuteExpired(now time.Time) bool {
	return !r.MutedUntil.IsZero() && !now.Before(r.MutedUntil)
}
