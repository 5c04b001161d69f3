package db

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/rs/zerolog"

	"medrelay/internal/models"
)

// Раскладка ключей:
//
//	fwd:<relay_id>                      -> CorrespondenceMapping
//	fwdsrc:<user_id>:<orig_id>:<relay>  -> пусто (обратный индекс)
//	rep:<staff_id>                      -> ReplyMapping
//	mod:<user_id>                       -> ModerationRecord
//	news:<sha256>                       -> ForwardedNews
//	thx:<user_id>                       -> ThanksEntry
const (
	prefixForward   = "fwd:"
	prefixForwardIx = "fwdsrc:"
	prefixReply     = "rep:"
	prefixModerate  = "mod:"
	prefixNews      = "news:"
	prefixThanks    = "thx:"
)

func forwardKey(relayMsgID int) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixForward, relayMsgID))
}

func forwardIndexPrefix(userID int64, originalMsgID int) []byte {
	return []byte(fmt.Sprintf("%s%020d:%020d:", prefixForwardIx, userID, originalMsgID))
}

func forwardIndexKey(userID int64, originalMsgID, relayMsgID int) []byte {
	return append(forwardIndexPrefix(userID, originalMsgID), fmt.Sprintf("%020d", relayMsgID)...)
}

func replyKey(staffMsgID int) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixReply, staffMsgID))
}

func moderationKey(userID int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixModerate, userID))
}

func newsKey(hash string) []byte {
	return []byte(prefixNews + hash)
}

func thanksKey(userID int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixThanks, userID))
}

// PebbleStore: реализация Store во встроенном pebble. Подходит для одного процесса бота.
type PebbleStore struct {
	db  *pebble.DB
	log zerolog.Logger
	now func() time.Time

	// сериализует чтение-изменение-запись; одиночные Set атомарны сами по себе
	mu sync.Mutex
}

// PebbleOption настраивает OpenPebble.
type PebbleOption func(*pebble.Options)

// WithFS подменяет файловую систему, например vfs.NewMem() в тестах.
func WithFS(fs vfs.FS) PebbleOption {
	return func(o *pebble.Options) { o.FS = fs }
}

// OpenPebble открывает (или создаёт) базу в каталоге path.
func OpenPebble(path string, log zerolog.Logger, opts ...PebbleOption) (*PebbleStore, error) {
	o := &pebble.Options{}
	for _, fn := range opts {
		fn(o)
	}
	if o.FS == nil {
		if err := os.MkdirAll(path, 0o700); err != nil {
			return nil, fmt.Errorf("не удалось создать каталог %s: %w", path, err)
		}
	}
	pdb, err := pebble.Open(path, o)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть pebble %s: %w", path, err)
	}
	s := &PebbleStore{
		db:  pdb,
		log: log.With().Str("component", "pebble").Logger(),
		now: time.Now,
	}
	s.log.Info().Str("path", path).Msg("Хранилище pebble открыто")
	return s, nil
}

// Close закрывает базу.
func (s *PebbleStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	s.log.Info().Msg("Хранилище pebble закрыто")
	return err
}

func (s *PebbleStore) getJSON(op string, key []byte, v any) error {
	val, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return storageErr(op, err)
	}
	defer closer.Close()
	if err := json.Unmarshal(val, v); err != nil {
		return storageErr(op, fmt.Errorf("повреждённая запись %q: %w", key, err))
	}
	return nil
}

func (s *PebbleStore) setJSON(op string, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return storageErr(op, err)
	}
	return storageErr(op, s.db.Set(key, data, pebble.Sync))
}

// scan вызывает fn для каждого ключа с префиксом. Ключ и значение валидны только внутри fn.
func (s *PebbleStore) scan(prefix []byte, fn func(key, val []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixEnd(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

// --- Соответствия ---

func (s *PebbleStore) RecordForward(_ context.Context, relayMsgID int, userID int64, originalMsgID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := models.CorrespondenceMapping{
		RelayMessageID:  relayMsgID,
		SourceUserID:    userID,
		SourceMessageID: originalMsgID,
		CreatedAt:       s.now().UTC(),
	}
	data, err := json.Marshal(m)
	if err != nil {
		return storageErr("record_forward", err)
	}

	b := s.db.NewBatch()
	defer b.Close()

	var old models.CorrespondenceMapping
	switch err := s.getJSON("record_forward", forwardKey(relayMsgID), &old); {
	case err == nil:
		if err := b.Delete(forwardIndexKey(old.SourceUserID, old.SourceMessageID, relayMsgID), nil); err != nil {
			return storageErr("record_forward", err)
		}
	case !errors.Is(err, ErrNotFound):
		return err
	}
	if err := b.Set(forwardKey(relayMsgID), data, nil); err != nil {
		return storageErr("record_forward", err)
	}
	if err := b.Set(forwardIndexKey(userID, originalMsgID, relayMsgID), nil, nil); err != nil {
		return storageErr("record_forward", err)
	}
	return storageErr("record_forward", b.Commit(pebble.Sync))
}

func (s *PebbleStore) LookupUserByForward(_ context.Context, relayMsgID int) (int64, error) {
	var m models.CorrespondenceMapping
	if err := s.getJSON("lookup_user_by_forward", forwardKey(relayMsgID), &m); err != nil {
		return 0, err
	}
	return m.SourceUserID, nil
}

func (s *PebbleStore) LookupForwardsByOriginal(_ context.Context, userID int64, originalMsgID int) ([]int, error) {
	prefix := forwardIndexPrefix(userID, originalMsgID)
	var ids []int
	err := s.scan(prefix, func(key, _ []byte) error {
		var id int
		if _, err := fmt.Sscanf(string(key[len(prefix):]), "%d", &id); err != nil {
			return fmt.Errorf("повреждённый ключ индекса %q: %w", key, err)
		}
		ids = append(ids, id)
		return nil
	})
	if err != nil {
		return nil, storageErr("lookup_forwards_by_original", err)
	}
	if len(ids) == 0 {
		return nil, ErrNotFound
	}
	return ids, nil
}

func (s *PebbleStore) RecordReply(_ context.Context, staffMsgID int, userID int64, deliveredMsgID int, followUps ...int) error {
	return s.setJSON("record_reply", replyKey(staffMsgID), models.ReplyMapping{
		StaffMessageID:     staffMsgID,
		TargetUserID:       userID,
		DeliveredMessageID: deliveredMsgID,
		FollowUpMessageIDs: followUps,
		CreatedAt:          s.now().UTC(),
	})
}

func (s *PebbleStore) LookupReply(_ context.Context, staffMsgID int) (models.ReplyMapping, error) {
	var m models.ReplyMapping
	if err := s.getJSON("lookup_reply", replyKey(staffMsgID), &m); err != nil {
		return models.ReplyMapping{}, err
	}
	return m, nil
}

func (s *PebbleStore) PurgeOlderThan(_ context.Context, age time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().UTC().Add(-age)
	b := s.db.NewBatch()
	defer b.Close()
	var n int64

	err := s.scan([]byte(prefixForward), func(key, val []byte) error {
		var m models.CorrespondenceMapping
		if err := json.Unmarshal(val, &m); err != nil {
			return err
		}
		if !m.CreatedAt.Before(cutoff) {
			return nil
		}
		n++
		if err := b.Delete(append([]byte(nil), key...), nil); err != nil {
			return err
		}
		return b.Delete(forwardIndexKey(m.SourceUserID, m.SourceMessageID, m.RelayMessageID), nil)
	})
	if err != nil {
		return 0, storageErr("purge_mappings", err)
	}
	err = s.scan([]byte(prefixReply), func(key, val []byte) error {
		var m models.ReplyMapping
		if err := json.Unmarshal(val, &m); err != nil {
			return err
		}
		if !m.CreatedAt.Before(cutoff) {
			return nil
		}
		n++
		return b.Delete(append([]byte(nil), key...), nil)
	})
	if err != nil {
		return 0, storageErr("purge_mappings", err)
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return 0, storageErr("purge_mappings", err)
	}
	s.log.Info().Int64("deleted", n).Dur("age", age).Msg("Старые соответствия удалены")
	return n, nil
}

// --- Модерация ---

func (s *PebbleStore) updateModeration(op string, userID int64, fn func(*models.ModerationRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := models.ModerationRecord{UserID: userID}
	if err := s.getJSON(op, moderationKey(userID), &rec); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	fn(&rec)
	return s.setJSON(op, moderationKey(userID), rec)
}

func (s *PebbleStore) SetMuted(_ context.Context, userID int64, until time.Time) error {
	return s.updateModeration("set_muted", userID, func(r *models.ModerationRecord) {
		r.MutedUntil = until.UTC()
	})
}

func (s *PebbleStore) ClearMute(_ context.Context, userID int64) error {
	return s.updateModeration("clear_mute", userID, func(r *models.ModerationRecord) {
		r.MutedUntil = time.Time{}
	})
}

func (s *PebbleStore) SetBanned(_ context.Context, userID int64, at time.Time) error {
	return s.updateModeration("set_banned", userID, func(r *models.ModerationRecord) {
		r.IsBanned = true
		r.BannedAt = at.UTC()
	})
}

func (s *PebbleStore) ClearBan(_ context.Context, userID int64) error {
	return s.updateModeration("clear_ban", userID, func(r *models.ModerationRecord) {
		r.IsBanned = false
		r.BannedAt = time.Time{}
	})
}

func (s *PebbleStore) GetStatus(_ context.Context, userID int64) (models.ModerationStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec models.ModerationRecord
	err := s.getJSON("get_status", moderationKey(userID), &rec)
	if errors.Is(err, ErrNotFound) {
		return models.ModerationStatus{UserID: userID}, nil
	}
	if err != nil {
		return models.ModerationStatus{}, err
	}
	now := s.now()
	if rec.MuteExpired(now) {
		rec.MutedUntil = time.Time{}
		if err := s.setJSON("get_status", moderationKey(userID), rec); err != nil {
			s.log.Warn().Err(err).Int64("user_id", userID).Msg("Не удалось стереть истёкший мьют")
		}
	}
	return rec.Status(now), nil
}

func (s *PebbleStore) ListModeration(_ context.Context) ([]models.ModerationRecord, error) {
	var out []models.ModerationRecord
	err := s.scan([]byte(prefixModerate), func(_, val []byte) error {
		var rec models.ModerationRecord
		if err := json.Unmarshal(val, &rec); err != nil {
			return err
		}
		out = append(out, rec)
		return nil
	})
	if err != nil {
		return nil, storageErr("list_moderation", err)
	}
	return out, nil
}

// --- Новости ---

func (s *PebbleStore) IsNewsForwarded(_ context.Context, contentHash string) (bool, error) {
	var n models.ForwardedNews
	err := s.getJSON("is_news_forwarded", newsKey(contentHash), &n)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *PebbleStore) RecordNews(_ context.Context, messageID int, contentHash string) error {
	return s.setJSON("record_news", newsKey(contentHash), models.ForwardedNews{
		MessageID:   messageID,
		ContentHash: contentHash,
		ForwardedAt: s.now().UTC(),
	})
}

func (s *PebbleStore) PurgeNewsOlderThan(_ context.Context, age time.Duration) (int64, error) {
	cutoff := s.now().UTC().Add(-age)
	b := s.db.NewBatch()
	defer b.Close()
	var n int64
	err := s.scan([]byte(prefixNews), func(key, val []byte) error {
		var rec models.ForwardedNews
		if err := json.Unmarshal(val, &rec); err != nil {
			return err
		}
		if !rec.ForwardedAt.Before(cutoff) {
			return nil
		}
		n++
		return b.Delete(append([]byte(nil), key...), nil)
	})
	if err != nil {
		return 0, storageErr("purge_news", err)
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return 0, storageErr("purge_news", err)
	}
	return n, nil
}

// --- Благодарности ---

func (s *PebbleStore) IncrementThanks(_ context.Context, userID int64, name string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := models.ThanksEntry{UserID: userID}
	if err := s.getJSON("increment_thanks", thanksKey(userID), &e); err != nil && !errors.Is(err, ErrNotFound) {
		return 0, err
	}
	e.Count++
	if name != "" {
		e.Name = name
	}
	if err := s.setJSON("increment_thanks", thanksKey(userID), e); err != nil {
		return 0, err
	}
	return e.Count, nil
}

func (s *PebbleStore) TopThanked(_ context.Context, limit int) ([]models.ThanksEntry, error) {
	var all []models.ThanksEntry
	err := s.scan([]byte(prefixThanks), func(_, val []byte) error {
		var e models.ThanksEntry
		if err := json.Unmarshal(val, &e); err != nil {
			return err
		}
		all = append(all, e)
		return nil
	})
	if err != nil {
		return nil, storageErr("top_thanked", err)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Count != all[j].Count {
			return all[i].Count > all[j].Count
		}
		return all[i].UserID < all[j].UserID
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}
