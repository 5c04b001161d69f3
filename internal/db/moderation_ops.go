package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"medrelay/internal/models"
)

// SetMuted ограничивает пользователя до until.
func (s *PostgresStore) SetMuted(ctx context.Context, userID int64, until time.Time) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO moderation (user_id, muted_until) VALUES ($1, $2)
        ON CONFLICT (user_id) DO UPDATE SET muted_until = EXCLUDED.muted_until`,
		userID, until.UTC())
	return storageErr("set_muted", err)
}

// ClearMute снимает мьют.
func (s *PostgresStore) ClearMute(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE moderation SET muted_until = NULL WHERE user_id = $1`, userID)
	return storageErr("clear_mute", err)
}

// SetBanned банит пользователя.
func (s *PostgresStore) SetBanned(ctx context.Context, userID int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO moderation (user_id, is_banned, banned_at) VALUES ($1, TRUE, $2)
        ON CONFLICT (user_id) DO UPDATE SET is_banned = TRUE, banned_at = EXCLUDED.banned_at`,
		userID, at.UTC())
	return storageErr("set_banned", err)
}

// ClearBan снимает бан.
func (s *PostgresStore) ClearBan(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE moderation SET is_banned = FALSE, banned_at = NULL WHERE user_id = $1`, userID)
	return storageErr("clear_ban", err)
}

// GetStatus читает запись модерации. Истёкший мьют стирается сразу же.
func (s *PostgresStore) GetStatus(ctx context.Context, userID int64) (models.ModerationStatus, error) {
	rec, err := s.getRecord(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return models.ModerationStatus{UserID: userID}, nil
	}
	if err != nil {
		return models.ModerationStatus{}, err
	}
	now := s.now()
	if rec.MuteExpired(now) {
		// условие по muted_until защищает от гонки с новым /mute
		if _, err := s.db.ExecContext(ctx,
			`UPDATE moderation SET muted_until = NULL WHERE user_id = $1 AND muted_until <= $2`,
			userID, now.UTC()); err != nil {
			s.log.Warn().Err(err).Int64("user_id", userID).Msg("Не удалось стереть истёкший мьют")
		}
	}
	return rec.Status(now), nil
}

// ListModeration возвращает все записи с активными ограничениями или историей бана.
func (s *PostgresStore) ListModeration(ctx context.Context) ([]models.ModerationRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, is_banned, banned_at, muted_until FROM moderation ORDER BY user_id`)
	if err != nil {
		return nil, storageErr("list_moderation", err)
	}
	defer rows.Close()

	var out []models.ModerationRecord
	for rows.Next() {
		rec, err := scanModeration(rows)
		if err != nil {
			return nil, storageErr("list_moderation", err)
		}
		out = append(out, rec)
	}
	return out, storageErr("list_moderation", rows.Err())
}

func (s *PostgresStore) getRecord(ctx context.Context, userID int64) (models.ModerationRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, is_banned, banned_at, muted_until FROM moderation WHERE user_id = $1`, userID)
	rec, err := scanModeration(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ModerationRecord{}, ErrNotFound
	}
	if err != nil {
		return models.ModerationRecord{}, storageErr("get_status", err)
	}
	return rec, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanModeration(row scanner) (models.ModerationRecord, error) {
	var (
		rec        models.ModerationRecord
		bannedAt   sql.NullTime
		mutedUntil sql.NullTime
	)
	if err := row.Scan(&rec.UserID, &rec.IsBanned, &bannedAt, &mutedUntil); err != nil {
		return models.ModerationRecord{}, err
	}
	if bannedAt.Valid {
		rec.BannedAt = bannedAt.Time
	}
	if mutedUntil.Valid {
		rec.MutedUntil = mutedUntil.Time
	}
	return rec, nil
}
