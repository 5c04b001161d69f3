package relay

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"medrelay/internal/constants"
	"medrelay/internal/richtext"
)

// Limits: лимиты платформы в UTF-16 code units.
type Limits struct {
	Caption      int
	Text         int
	PollQuestion int
}

// DefaultLimits: лимиты Telegram Bot API.
func DefaultLimits() Limits {
	return Limits{
		Caption:      constants.MAX_CAPTION_LEN,
		Text:         constants.MAX_TEXT_LEN,
		PollQuestion: constants.MAX_POLL_QUESTION_LEN,
	}
}

// Fallback: как доставлять элементы альбома, который нельзя отправить одной группой.
type Fallback int

const (
	// FallbackForward пересылает элементы, сохраняя происхождение.
	FallbackForward Fallback = iota
	// FallbackCopy копирует элементы без подписи "переслано от".
	FallbackCopy
)

// Delivery: что получилось из одного исходного сообщения. Первый ID служит якорем.
type Delivery struct {
	SourceMessageID int
	MessageIDs      []int
}

// Anchor возвращает первый доставленный ID или 0.
func (d Delivery) Anchor() int {
	if len(d.MessageIDs) == 0 {
		return 0
	}
	return d.MessageIDs[0]
}

// Sender доставляет контент в чат, разрезая его под лимиты.
type Sender struct {
	t      Transport
	limits Limits
	retry  RetryPolicy
	log    zerolog.Logger
}

// NewSender создаёт Sender. Нулевые лимиты заменяются лимитами Telegram.
func NewSender(t Transport, limits Limits, retry RetryPolicy, log zerolog.Logger) *Sender {
	def := DefaultLimits()
	if limits.Caption <= 0 {
		limits.Caption = def.Caption
	}
	if limits.Text <= 0 {
		limits.Text = def.Text
	}
	if limits.PollQuestion <= 0 {
		limits.PollQuestion = def.PollQuestion
	}
	return &Sender{
		t:      t,
		limits: limits,
		retry:  retry,
		log:    log.With().Str("component", "sender").Logger(),
	}
}

// Limits возвращает действующие лимиты.
func (s *Sender) Limits() Limits { return s.limits }

func (s *Sender) call(ctx context.Context, fn func(ctx context.Context) (int, error)) (int, error) {
	var id int
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		id, err = fn(ctx)
		return err
	})
	return id, err
}

// Deliver отправляет одно сообщение в dst, дописав suffix к тексту или подписи.
//
// Подпись к медиа не длиннее лимита подписи; остаток уходит отдельными текстовыми
// сообщениями в тот же чат и тему. При частичной доставке возвращаются уже отправленные ID
// вместе с ошибкой.
func (s *Sender) Deliver(ctx context.Context, dst Destination, msg Message, suffix richtext.FormattedText) (Delivery, error) {
	d := Delivery{SourceMessageID: msg.MessageID}
	log := s.log.With().Int("source_msg_id", msg.MessageID).Str("dest", dst.String()).Logger()

	if msg.Forwarded {
		id, err := s.call(ctx, func(ctx context.Context) (int, error) {
			return s.t.ForwardMessage(ctx, dst, msg.ChatID, msg.MessageID)
		})
		if err != nil {
			return d, err
		}
		d.MessageIDs = append(d.MessageIDs, id)
		log.Debug().Msg("Пересланное сообщение переслано с сохранением источника")
		return s.sendTexts(ctx, dst, richtext.Split(suffix, s.limits.Text, s.limits.Text), d)
	}

	switch c := msg.Content.(type) {
	case TextContent:
		chunks := richtext.Split(c.Text.Concat(suffix), s.limits.Text, s.limits.Text)
		if len(chunks) == 0 {
			return d, &TransportError{Op: "send_text", Permanent: true, Reason: "пустое сообщение"}
		}
		log.Debug().Int("chunks", len(chunks)).Msg("Отправка текста")
		return s.sendTexts(ctx, dst, chunks, d)

	case MediaContent:
		full := c.Caption.Concat(suffix)
		media := c
		media.Caption = richtext.FormattedText{}
		var rest []richtext.FormattedText
		if c.Kind.CanCaption() {
			chunks := richtext.Split(full, s.limits.Caption, s.limits.Text)
			if len(chunks) > 0 {
				media.Caption = chunks[0]
				rest = chunks[1:]
			}
		} else {
			// стикер и кружок без подписи: весь текст идёт следом
			rest = richtext.Split(full, s.limits.Text, s.limits.Text)
		}
		id, err := s.call(ctx, func(ctx context.Context) (int, error) {
			return s.t.SendMedia(ctx, dst, media)
		})
		if err != nil {
			return d, err
		}
		d.MessageIDs = append(d.MessageIDs, id)
		log.Debug().Str("kind", string(c.Kind)).Int("follow_up", len(rest)).Msg("Отправлено медиа")
		return s.sendTexts(ctx, dst, rest, d)

	case PollContent:
		poll := c
		poll.Question = richtext.Plain(c.Question).Concat(suffix).Truncate(s.limits.PollQuestion).Text
		id, err := s.call(ctx, func(ctx context.Context) (int, error) {
			return s.t.SendPoll(ctx, dst, poll)
		})
		if err != nil {
			return d, err
		}
		d.MessageIDs = append(d.MessageIDs, id)
		return d, nil

	case OpaqueContent:
		id, err := s.call(ctx, func(ctx context.Context) (int, error) {
			return s.t.CopyMessage(ctx, dst, msg.ChatID, msg.MessageID)
		})
		if err != nil {
			return d, err
		}
		d.MessageIDs = append(d.MessageIDs, id)
		return s.sendTexts(ctx, dst, richtext.Split(suffix, s.limits.Text, s.limits.Text), d)
	}

	return d, &TransportError{
		Op:        "deliver",
		Permanent: true,
		Reason:    fmt.Sprintf("неподдерживаемый тип сообщения: %s", describe(msg.Content)),
	}
}

// DeliverBatch отправляет альбом. Однородные фото/видео, документы или аудио уходят одной
// группой (по 10 штук); всё остальное доставляется поштучно способом fb.
// suffix прикрепляется к первому элементу (при поштучной доставке отдельным сообщением).
func (s *Sender) DeliverBatch(ctx context.Context, dst Destination, items []Message, suffix richtext.FormattedText, fb Fallback) ([]Delivery, error) {
	switch {
	case len(items) == 0:
		return nil, nil
	case len(items) == 1:
		d, err := s.Deliver(ctx, dst, items[0], suffix)
		return []Delivery{d}, err
	case groupable(items):
		return s.sendGroups(ctx, dst, items, suffix)
	}

	s.log.Debug().Int("items", len(items)).Str("dest", dst.String()).Msg("Альбом нельзя отправить группой, доставка поштучно")
	out := make([]Delivery, 0, len(items))
	for _, m := range items {
		id, err := s.call(ctx, func(ctx context.Context) (int, error) {
			if fb == FallbackCopy && !m.Forwarded {
				return s.t.CopyMessage(ctx, dst, m.ChatID, m.MessageID)
			}
			return s.t.ForwardMessage(ctx, dst, m.ChatID, m.MessageID)
		})
		if err != nil {
			return out, err
		}
		out = append(out, Delivery{SourceMessageID: m.MessageID, MessageIDs: []int{id}})
	}
	if !suffix.IsEmpty() {
		extra, err := s.sendTexts(ctx, dst, richtext.Split(suffix, s.limits.Text, s.limits.Text), Delivery{})
		out[0].MessageIDs = append(out[0].MessageIDs, extra.MessageIDs...)
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

func (s *Sender) sendGroups(ctx context.Context, dst Destination, items []Message, suffix richtext.FormattedText) ([]Delivery, error) {
	out := make([]Delivery, 0, len(items))
	for start := 0; start < len(items); start += constants.MAX_MEDIA_GROUP_ITEMS {
		group := items[start:min(start+constants.MAX_MEDIA_GROUP_ITEMS, len(items))]
		groupSuffix := richtext.FormattedText{}
		if start == 0 {
			groupSuffix = suffix
		}

		if len(group) == 1 {
			d, err := s.Deliver(ctx, dst, group[0], groupSuffix)
			out = append(out, d)
			if err != nil {
				return out, err
			}
			continue
		}

		media := make([]MediaContent, len(group))
		overflow := make([][]richtext.FormattedText, len(group))
		for i, m := range group {
			mc := m.Content.(MediaContent)
			caption := mc.Caption
			if i == 0 {
				caption = caption.Concat(groupSuffix)
			}
			mc.Caption = richtext.FormattedText{}
			if parts := richtext.Split(caption, s.limits.Caption, s.limits.Text); len(parts) > 0 {
				mc.Caption = parts[0]
				overflow[i] = parts[1:]
			}
			media[i] = mc
		}

		var ids []int
		err := s.retry.Do(ctx, func(ctx context.Context) error {
			var err error
			ids, err = s.t.SendMediaGroup(ctx, dst, media)
			return err
		})
		if err != nil {
			return out, err
		}
		if len(ids) != len(group) {
			s.log.Warn().Int("sent", len(ids)).Int("expected", len(group)).Msg("Платформа вернула неожиданное число сообщений альбома")
		}

		base := len(out)
		for i, m := range group {
			d := Delivery{SourceMessageID: m.MessageID}
			if i < len(ids) {
				d.MessageIDs = []int{ids[i]}
			}
			out = append(out, d)
		}
		for i := range group {
			d, err := s.sendTexts(ctx, dst, overflow[i], out[base+i])
			out[base+i] = d
			if err != nil {
				return out, err
			}
		}
	}
	return out, nil
}

func (s *Sender) sendTexts(ctx context.Context, dst Destination, chunks []richtext.FormattedText, d Delivery) (Delivery, error) {
	for _, chunk := range chunks {
		id, err := s.call(ctx, func(ctx context.Context) (int, error) {
			return s.t.SendText(ctx, dst, chunk)
		})
		if err != nil {
			return d, err
		}
		d.MessageIDs = append(d.MessageIDs, id)
	}
	return d, nil
}

// groupable: 2+ вложений одного класса без пересланных.
func groupable(items []Message) bool {
	if len(items) < constants.MIN_MEDIA_GROUP_ITEMS {
		return false
	}
	class := ""
	for _, m := range items {
		mc, ok := m.Content.(MediaContent)
		if !ok || m.Forwarded {
			return false
		}
		c := mc.Kind.groupClass()
		if c == "" || (class != "" && c != class) {
			return false
		}
		class = c
	}
	return true
}
