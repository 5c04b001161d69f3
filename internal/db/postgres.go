package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog"
)

// PostgresStore: реализация Store поверх PostgreSQL.
type PostgresStore struct {
	db  *sql.DB
	log zerolog.Logger
	now func() time.Time
}

// OpenPostgres подключается к базе по DATABASE_URL и проверяет соединение.
// Схему создаёт Migrate.
func OpenPostgres(ctx context.Context, dsn string, log zerolog.Logger) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("DATABASE_URL не установлена")
	}
	parsedURL, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга DATABASE_URL: %w", err)
	}
	query := parsedURL.Query()
	if query.Get("sslmode") == "" {
		query.Set("sslmode", "prefer")
	}
	parsedURL.RawQuery = query.Encode()

	sqlDB, err := sql.Open("postgres", parsedURL.String())
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к базе данных: %w", err)
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ошибка проверки соединения с базой данных: %w", err)
	}

	s := &PostgresStore{
		db:  sqlDB,
		log: log.With().Str("component", "postgres").Logger(),
		now: time.Now,
	}
	s.log.Info().Msg("Успешное подключение к базе данных")
	return s, nil
}

const createTablesSQL = `
    CREATE TABLE IF NOT EXISTS relay_map (
        relay_message_id BIGINT PRIMARY KEY,
        source_user_id BIGINT NOT NULL,
        source_message_id BIGINT NOT NULL,
        created_at TIMESTAMPTZ NOT NULL
    );
    CREATE TABLE IF NOT EXISTS reply_map (
        staff_message_id BIGINT PRIMARY KEY,
        target_user_id BIGINT NOT NULL,
        delivered_message_id BIGINT NOT NULL,
        follow_up_message_ids BIGINT[] NOT NULL DEFAULT '{}',
        created_at TIMESTAMPTZ NOT NULL
    );
    CREATE TABLE IF NOT EXISTS moderation (
        user_id BIGINT PRIMARY KEY,
        is_banned BOOLEAN NOT NULL DEFAULT FALSE,
        banned_at TIMESTAMPTZ,
        muted_until TIMESTAMPTZ
    );
    CREATE TABLE IF NOT EXISTS forwarded_news (
        content_hash TEXT PRIMARY KEY,
        message_id BIGINT NOT NULL,
        forwarded_at TIMESTAMPTZ NOT NULL
    );
    CREATE TABLE IF NOT EXISTS thanks (
        user_id BIGINT PRIMARY KEY,
        name TEXT NOT NULL DEFAULT '',
        count INTEGER NOT NULL DEFAULT 0
    );
`

// Migrate создаёт таблицы и индексы. Идемпотентна.
func (s *PostgresStore) Migrate(ctx context.Context) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции для создания таблиц: %w", err)
	}
	defer func() {
		if err != nil {
			s.log.Error().Err(err).Msg("Откат транзакции создания таблиц")
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, createTablesSQL); err != nil {
		return fmt.Errorf("ошибка создания таблиц: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("ошибка коммита транзакции создания таблиц: %w", err)
	}
	s.log.Info().Msg("Таблицы созданы (если не существовали)")

	migrations := []struct {
		name string
		sql  string
	}{
		{name: "relay_map.source_idx", sql: `CREATE INDEX IF NOT EXISTS idx_relay_map_source ON relay_map (source_user_id, source_message_id)`},
		{name: "relay_map.created_idx", sql: `CREATE INDEX IF NOT EXISTS idx_relay_map_created ON relay_map (created_at)`},
		{name: "reply_map.follow_up_ids", sql: `ALTER TABLE reply_map ADD COLUMN IF NOT EXISTS follow_up_message_ids BIGINT[] NOT NULL DEFAULT '{}'`},
		{name: "reply_map.created_idx", sql: `CREATE INDEX IF NOT EXISTS idx_reply_map_created ON reply_map (created_at)`},
		{name: "forwarded_news.forwarded_idx", sql: `CREATE INDEX IF NOT EXISTS idx_forwarded_news_at ON forwarded_news (forwarded_at)`},
		{name: "thanks.count_idx", sql: `CREATE INDEX IF NOT EXISTS idx_thanks_count ON thanks (count DESC)`},
	}
	for _, m := range migrations {
		if _, execErr := s.db.ExecContext(ctx, m.sql); execErr != nil {
			if strings.Contains(execErr.Error(), "already exists") {
				s.log.Info().Str("migration", m.name).Msg("Миграция пропущена: объект уже существует")
				continue
			}
			return fmt.Errorf("ошибка миграции схемы ('%s'): %w", m.name, execErr)
		}
		s.log.Debug().Str("migration", m.name).Msg("Миграция применена")
	}
	s.log.Info().Msg("Инициализация базы данных успешно завершена")
	return nil
}

// Close закрывает соединение с базой данных.
func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.log.Info().Msg("Соединение с базой данных закрыто")
	return err
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
