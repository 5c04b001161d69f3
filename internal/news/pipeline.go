// Package news копирует посты канала-источника в целевую группу: без повторов,
// с маршрутизацией по темам и подписью источника.
package news

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"medrelay/internal/db"
	"medrelay/internal/metrics"
	"medrelay/internal/relay"
	"medrelay/internal/richtext"
)

// Outcome: что стало с постом.
type Outcome string

const (
	OutcomeIgnored   Outcome = "ignored"   // не из канала-источника
	OutcomeDuplicate Outcome = "duplicate" // такой текст уже публиковали
	OutcomeForwarded Outcome = "forwarded" // тема не настроена: обычная пересылка
	OutcomeCopied    Outcome = "copied"    // копия в тему с подписью источника
	OutcomeFailed    Outcome = "failed"
)

// Options: откуда и куда копировать.
type Options struct {
	SourceChannelID int64
	TargetChatID    int64
	TargetTopicID   int    // тема по умолчанию, если ключевые слова не найдены
	Suffix          string // "\n\nИсточник: @канал"
	Topics          *TopicRouter
}

// Pipeline обрабатывает посты канала.
type Pipeline struct {
	opts    Options
	store   db.NewsStore
	sender  *relay.Sender
	metrics *metrics.Metrics
	log     zerolog.Logger
}

func NewPipeline(opts Options, store db.NewsStore, sender *relay.Sender, m *metrics.Metrics, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		opts:    opts,
		store:   store,
		sender:  sender,
		metrics: m,
		log:     log.With().Str("component", "news").Logger(),
	}
}

// ContentHash: sha256 от текста и подписи. Пост без текста хешируется по своему адресу,
// иначе все картинки без подписи считались бы одним постом.
func ContentHash(msg relay.Message) string {
	content := plainText(msg)
	if content == "" {
		content = fmt.Sprintf("%d:%d", msg.ChatID, msg.MessageID)
	}
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func plainText(msg relay.Message) string {
	switch c := msg.Content.(type) {
	case relay.TextContent:
		return c.Text.Text
	case relay.MediaContent:
		return c.Caption.Text
	case relay.PollContent:
		return c.Question
	}
	return ""
}

// Handle копирует пост, если он из канала-источника и ещё не публиковался.
func (p *Pipeline) Handle(ctx context.Context, msg relay.Message) (Outcome, error) {
	if msg.ChatID != p.opts.SourceChannelID || p.opts.TargetChatID == 0 {
		return OutcomeIgnored, nil
	}
	log := p.log.With().Int("message_id", msg.MessageID).Logger()

	hash := ContentHash(msg)
	seen, err := p.store.IsNewsForwarded(ctx, hash)
	if err != nil {
		p.metrics.ObserveNews(string(OutcomeFailed))
		return OutcomeFailed, fmt.Errorf("проверка повтора поста %d: %w", msg.MessageID, err)
	}
	if seen {
		log.Info().Msg("Пост уже публиковался, пропущен")
		p.metrics.ObserveNews(string(OutcomeDuplicate))
		return OutcomeDuplicate, nil
	}

	text := plainText(msg)
	threadID, keyword := p.opts.Topics.Resolve(text)
	if threadID == 0 {
		threadID = p.opts.TargetTopicID
	}

	outcome := OutcomeCopied
	dst := relay.Destination{ChatID: p.opts.TargetChatID, ThreadID: threadID}
	var suffix richtext.FormattedText
	// ID 0 и 1 означают общую тему: пересылаем как есть
	if threadID <= 1 {
		outcome = OutcomeForwarded
		dst.ThreadID = 0
		msg.Forwarded = true
	} else {
		s := p.opts.Suffix
		if text == "" {
			s = strings.TrimLeft(s, "\n")
		}
		suffix = richtext.Plain(s)
	}

	d, err := p.sender.Deliver(ctx, dst, msg, suffix)
	if err != nil && len(d.MessageIDs) == 0 {
		log.Warn().Err(err).Str("dest", dst.String()).Msg("Ошибка при пересылке поста")
		p.metrics.ObserveNews(string(OutcomeFailed))
		return OutcomeFailed, err
	}
	if err != nil {
		// часть уже опубликована: запоминаем, чтобы не дублировать при повторе
		log.Warn().Err(err).Ints("delivered", d.MessageIDs).Msg("Пост опубликован частично")
	}

	if rerr := p.store.RecordNews(context.WithoutCancel(ctx), msg.MessageID, hash); rerr != nil {
		log.Error().Err(rerr).Msg("Пост опубликован, но не записан")
	}
	p.metrics.ObserveNews(string(outcome))
	log.Info().Str("outcome", string(outcome)).Str("dest", dst.String()).Str("keyword", keyword).Msg("Пост скопирован в группу")
	return outcome, err
}
