package db

import (
	"context"

	"medrelay/internal/models"
)

// IncrementThanks увеличивает счётчик пользователя и возвращает новое значение.
// Имя обновляется, если пользователь успел его сменить.
func (s *PostgresStore) IncrementThanks(ctx context.Context, userID int64, name string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
        INSERT INTO thanks (user_id, name, count) VALUES ($1, $2, 1)
        ON CONFLICT (user_id) DO UPDATE
        SET count = thanks.count + 1,
            name = CASE WHEN EXCLUDED.name <> '' THEN EXCLUDED.name ELSE thanks.name END
        RETURNING count`, userID, name).Scan(&count)
	if err != nil {
		return 0, storageErr("increment_thanks", err)
	}
	return count, nil
}

// TopThanked возвращает limit самых благодаримых участников.
func (s *PostgresStore) TopThanked(ctx context.Context, limit int) ([]models.ThanksEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, name, count FROM thanks ORDER BY count DESC, user_id ASC LIMIT $1`, limit)
	if err != nil {
		return nil, storageErr("top_thanked", err)
	}
	defer rows.Close()

	var out []models.ThanksEntry
	for rows.Next() {
		var e models.ThanksEntry
		if err := rows.Scan(&e.UserID, &e.Name, &e.Count); err != nil {
			return nil, storageErr("top_thanked", err)
		}
		out = append(out, e)
	}
	return out, storageErr("top_thanked", rows.Err())
}
