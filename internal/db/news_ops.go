package db

import (
	"context"
	"time"
)

// IsNewsForwarded сообщает, копировался ли уже пост с таким хешем.
func (s *PostgresStore) IsNewsForwarded(ctx context.Context, contentHash string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM forwarded_news WHERE content_hash = $1)`, contentHash).Scan(&exists)
	if err != nil {
		return false, storageErr("is_news_forwarded", err)
	}
	return exists, nil
}

// RecordNews запоминает скопированный пост.
func (s *PostgresStore) RecordNews(ctx context.Context, messageID int, contentHash string) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO forwarded_news (content_hash, message_id, forwarded_at) VALUES ($1, $2, $3)
        ON CONFLICT (content_hash) DO NOTHING`,
		contentHash, messageID, s.now().UTC())
	return storageErr("record_news", err)
}

// PurgeNewsOlderThan удаляет записи о постах старше age.
func (s *PostgresStore) PurgeNewsOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM forwarded_news WHERE forwarded_at < $1`, s.now().UTC().Add(-age))
	if err != nil {
		return 0, storageErr("purge_news", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
