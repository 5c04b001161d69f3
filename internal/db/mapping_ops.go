package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"medrelay/internal/models"
)

// RecordForward сохраняет соответствие relay-сообщения пользователю (upsert).
func (s *PostgresStore) RecordForward(ctx context.Context, relayMsgID int, userID int64, originalMsgID int) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO relay_map (relay_message_id, source_user_id, source_message_id, created_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (relay_message_id) DO UPDATE
        SET source_user_id = EXCLUDED.source_user_id,
            source_message_id = EXCLUDED.source_message_id,
            created_at = EXCLUDED.created_at`,
		relayMsgID, userID, originalMsgID, s.now().UTC())
	return storageErr("record_forward", err)
}

// LookupUserByForward возвращает chat_id пользователя по ID сообщения в группе.
func (s *PostgresStore) LookupUserByForward(ctx context.Context, relayMsgID int) (int64, error) {
	var userID int64
	err := s.db.QueryRowContext(ctx,
		`SELECT source_user_id FROM relay_map WHERE relay_message_id = $1`, relayMsgID).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, storageErr("lookup_user_by_forward", err)
	}
	return userID, nil
}

// LookupForwardsByOriginal возвращает все relay-сообщения, созданные из исходного сообщения
// пользователя, в порядке отправки.
func (s *PostgresStore) LookupForwardsByOriginal(ctx context.Context, userID int64, originalMsgID int) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT relay_message_id FROM relay_map
        WHERE source_user_id = $1 AND source_message_id = $2
        ORDER BY relay_message_id ASC`, userID, originalMsgID)
	if err != nil {
		return nil, storageErr("lookup_forwards_by_original", err)
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, storageErr("lookup_forwards_by_original", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("lookup_forwards_by_original", err)
	}
	if len(ids) == 0 {
		return nil, ErrNotFound
	}
	return ids, nil
}

// RecordReply сохраняет соответствие ответа сотрудника доставленному сообщению.
// followUps: продолжения длинного ответа, отправленные отдельными сообщениями.
func (s *PostgresStore) RecordReply(ctx context.Context, staffMsgID int, userID int64, deliveredMsgID int, followUps ...int) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO reply_map (staff_message_id, target_user_id, delivered_message_id, follow_up_message_ids, created_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (staff_message_id) DO UPDATE
        SET target_user_id = EXCLUDED.target_user_id,
            delivered_message_id = EXCLUDED.delivered_message_id,
            follow_up_message_ids = EXCLUDED.follow_up_message_ids,
            created_at = EXCLUDED.created_at`,
		staffMsgID, userID, deliveredMsgID, pq.Array(toInt64s(followUps)), s.now().UTC())
	return storageErr("record_reply", err)
}

// LookupReply находит, куда был доставлен ответ сотрудника.
func (s *PostgresStore) LookupReply(ctx context.Context, staffMsgID int) (models.ReplyMapping, error) {
	m := models.ReplyMapping{StaffMessageID: staffMsgID}
	var followUps []int64
	err := s.db.QueryRowContext(ctx, `
        SELECT target_user_id, delivered_message_id, follow_up_message_ids, created_at
        FROM reply_map WHERE staff_message_id = $1`, staffMsgID).
		Scan(&m.TargetUserID, &m.DeliveredMessageID, pq.Array(&followUps), &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ReplyMapping{}, ErrNotFound
	}
	if err != nil {
		return models.ReplyMapping{}, storageErr("lookup_reply", err)
	}
	for _, id := range followUps {
		m.FollowUpMessageIDs = append(m.FollowUpMessageIDs, int(id))
	}
	return m, nil
}

func toInt64s(ids []int) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}

// PurgeOlderThan удаляет строки relay_map и reply_map старше age.
func (s *PostgresStore) PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := s.now().UTC().Add(-age)
	var total int64
	for _, q := range []string{
		`DELETE FROM relay_map WHERE created_at < $1`,
		`DELETE FROM reply_map WHERE created_at < $1`,
	} {
		res, err := s.db.ExecContext(ctx, q, cutoff)
		if err != nil {
			return total, storageErr("purge_mappings", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	s.log.Info().Int64("deleted", total).Dur("age", age).Msg("Старые соответствия удалены")
	return total, nil
}
