package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"medrelay/internal/album"
	"medrelay/internal/constants"
	"medrelay/internal/db"
	"medrelay/internal/metrics"
	"medrelay/internal/models"
	"medrelay/internal/richtext"
)

// Store: то, что движку нужно от хранилища.
type Store interface {
	RecordForward(ctx context.Context, relayMsgID int, userID int64, originalMsgID int) error
	LookupUserByForward(ctx context.Context, relayMsgID int) (int64, error)
	LookupForwardsByOriginal(ctx context.Context, userID int64, originalMsgID int) ([]int, error)
	RecordReply(ctx context.Context, staffMsgID int, userID int64, deliveredMsgID int, followUps ...int) error
	LookupReply(ctx context.Context, staffMsgID int) (models.ReplyMapping, error)
	GetStatus(ctx context.Context, userID int64) (models.ModerationStatus, error)
}

// Status: итог обработки события.
type Status int

const (
	StatusDelivered Status = iota + 1
	StatusAbsorbed         // событие вошло в чужой альбом
	StatusRejected         // бан или мьют
	StatusDropped          // нет соответствия, опоздавший участник альбома, нередактируемое
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusDelivered:
		return "delivered"
	case StatusAbsorbed:
		return "absorbed"
	case StatusRejected:
		return "rejected"
	case StatusDropped:
		return "dropped"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// DeliveryResult описывает, что и куда было доставлено.
type DeliveryResult struct {
	Status       Status
	Destination  Destination
	Deliveries   []Delivery
	BatchTraceID string
	Unrecorded   []int // доставлены, но соответствие не записалось
}

// DeliveredIDs возвращает все доставленные ID по порядку.
func (r DeliveryResult) DeliveredIDs() []int {
	var ids []int
	for _, d := range r.Deliveries {
		ids = append(ids, d.MessageIDs...)
	}
	return ids
}

// Options: настройки движка.
type Options struct {
	StaffChat Destination
	Signature bool // дописывать отправителя к входящим
	Limits    Limits
	Retry     RetryPolicy
	Album     album.Options
}

type gated struct {
	msg       Message
	rejection *GateRejection
}

// Engine пересылает сообщения пользователей в группу сотрудников и ответы обратно.
type Engine struct {
	opts      Options
	store     Store
	transport Transport
	notifier  Notifier
	sender    *Sender
	metrics   *metrics.Metrics
	log       zerolog.Logger

	inbound *album.Aggregator[gated]
	replies *album.Aggregator[Message]
}

func NewEngine(opts Options, store Store, t Transport, n Notifier, m *metrics.Metrics, log zerolog.Logger) *Engine {
	log = log.With().Str("component", "relay").Logger()
	sender := NewSender(t, opts.Limits, opts.Retry, log)
	opts.Limits = sender.Limits()
	return &Engine{
		opts:      opts,
		store:     store,
		transport: t,
		notifier:  n,
		sender:    sender,
		metrics:   m,
		log:       log,
		inbound:   album.New[gated](opts.Album, log),
		replies:   album.New[Message](opts.Album, log),
	}
}

// Sender возвращает отправитель движка для других конвейеров (новости, PRO-группа).
func (e *Engine) Sender() *Sender { return e.sender }

// StaffChat возвращает чат сотрудников.
func (e *Engine) StaffChat() Destination { return e.opts.StaffChat }

// GetStatus возвращает статус модерации пользователя.
func (e *Engine) GetStatus(ctx context.Context, userID int64) (models.ModerationStatus, error) {
	return e.store.GetStatus(ctx, userID)
}

// RelayInbound пересылает личное сообщение пользователя в группу сотрудников.
//
// Сообщение с непустым BatchID считается частью альбома: первый участник ждёт окончания
// альбома и отправляет его целиком, остальные возвращают StatusAbsorbed. Каждый участник
// проходит проверку модерации, но уведомление об отказе отправляет только первый.
// После доставки для каждого доставленного сообщения пишется соответствие, пользователю
// уходит подтверждение.
func (e *Engine) RelayInbound(ctx context.Context, msg Message) (DeliveryResult, error) {
	log := e.log.With().Int64("user_id", msg.UserID).Int("source_msg_id", msg.MessageID).Logger()
	userDst := Destination{ChatID: msg.ChatID}

	rejection, err := e.gate(ctx, msg.UserID)
	if err != nil {
		log.Error().Err(err).Msg("Не удалось проверить статус модерации")
		e.notify(ctx, userDst, constants.MSG_SEND_FAILED)
		return e.done("inbound", DeliveryResult{Status: StatusFailed}), err
	}

	items := []gated{{msg: msg, rejection: rejection}}
	var traceID string
	if msg.BatchID != "" {
		batch, outcome := e.inbound.Collect(album.Key{ChatID: msg.ChatID, BatchID: msg.BatchID}, items[0])
		e.metrics.ObserveAlbum(outcome.String())
		switch outcome {
		case album.Absorbed:
			if rejection != nil {
				return e.done("inbound", DeliveryResult{Status: StatusRejected}), rejection
			}
			return e.done("inbound", DeliveryResult{Status: StatusAbsorbed}), nil
		case album.DroppedLate:
			log.Warn().Str("batch_id", msg.BatchID).Msg("Участник альбома пришёл после отправки альбома, отброшен")
			return e.done("inbound", DeliveryResult{Status: StatusDropped}), ErrLateBatchMember
		}
		items = batch.Items
		traceID = batch.TraceID
	}

	var (
		accepted []Message
		rejected *GateRejection
	)
	for _, it := range items {
		if it.rejection != nil {
			if rejected == nil {
				rejected = it.rejection
			}
			continue
		}
		accepted = append(accepted, it.msg)
	}
	if rejected != nil {
		log.Info().Stringer("reason", rejected.Reason).Msg("Сообщение отклонено модерацией")
		e.notify(ctx, userDst, rejectionNotice(rejected))
	}
	if len(accepted) == 0 {
		return e.done("inbound", DeliveryResult{Status: StatusRejected, BatchTraceID: traceID}), rejected
	}

	dst := e.opts.StaffChat
	deliveries, sendErr := e.sender.DeliverBatch(ctx, dst, accepted, e.signature(accepted[0]), FallbackForward)
	res := DeliveryResult{Destination: dst, Deliveries: deliveries, BatchTraceID: traceID}

	// соответствия пишем и при частичной доставке: на доставленное уже можно ответить
	recordCtx := context.WithoutCancel(ctx)
	for _, d := range deliveries {
		for _, id := range d.MessageIDs {
			if err := e.store.RecordForward(recordCtx, id, msg.UserID, d.SourceMessageID); err != nil {
				log.Error().Err(err).
					Int("source_msg_id", d.SourceMessageID).
					Int64("dest_chat_id", dst.ChatID).
					Int("delivered_msg_id", id).
					Msg("Сообщение доставлено, но соответствие не записано")
				res.Unrecorded = append(res.Unrecorded, id)
			}
		}
	}

	if sendErr != nil {
		res.Status = StatusFailed
		log.Error().Err(sendErr).Ints("delivered", res.DeliveredIDs()).Str("trace_id", traceID).Msg("Ошибка пересылки в группу сотрудников")
		e.notify(ctx, userDst, failureNotice(sendErr))
		return e.done("inbound", res), sendErr
	}

	res.Status = StatusDelivered
	log.Info().Ints("delivered", res.DeliveredIDs()).Str("trace_id", traceID).Msg("Сообщение переслано в группу сотрудников")
	e.notify(ctx, userDst, constants.MSG_ACK)
	return e.done("inbound", res), nil
}

// RelayReply доставляет ответ сотрудника пользователю, которому принадлежит сообщение,
// на которое ответили. Альбомы собираются так же, как во входящем направлении.
func (e *Engine) RelayReply(ctx context.Context, msg Message) (DeliveryResult, error) {
	log := e.log.With().Int("staff_msg_id", msg.MessageID).Logger()

	items := []Message{msg}
	var traceID string
	if msg.BatchID != "" {
		batch, outcome := e.replies.Collect(album.Key{ChatID: msg.ChatID, BatchID: msg.BatchID}, msg)
		e.metrics.ObserveAlbum(outcome.String())
		switch outcome {
		case album.Absorbed:
			return e.done("reply", DeliveryResult{Status: StatusAbsorbed}), nil
		case album.DroppedLate:
			log.Warn().Str("batch_id", msg.BatchID).Msg("Участник альбома ответа пришёл после отправки, отброшен")
			return e.done("reply", DeliveryResult{Status: StatusDropped}), ErrLateBatchMember
		}
		items = batch.Items
		traceID = batch.TraceID
	}

	replyTo := 0
	for _, m := range items {
		if m.ReplyToMessageID != 0 {
			replyTo = m.ReplyToMessageID
			break
		}
	}
	staffDst := Destination{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	if replyTo == 0 {
		log.Warn().Msg("Ответ не привязан к сообщению, пропущен")
		return e.done("reply", DeliveryResult{Status: StatusDropped}), ErrMappingNotFound
	}
	userID, err := e.store.LookupUserByForward(ctx, replyTo)
	if errors.Is(err, db.ErrNotFound) {
		log.Warn().Int("reply_to", replyTo).Msg("Не найден пользователь для ответа")
		return e.done("reply", DeliveryResult{Status: StatusDropped}), ErrMappingNotFound
	}
	if err != nil {
		log.Error().Err(err).Int("reply_to", replyTo).Msg("Ошибка поиска пользователя для ответа")
		e.notify(ctx, staffDst, fmt.Sprintf(constants.MSG_STAFF_ACTION_FAILED, "хранилище недоступно"))
		return e.done("reply", DeliveryResult{Status: StatusFailed}), err
	}

	dst := Destination{ChatID: userID}
	deliveries, sendErr := e.sender.DeliverBatch(ctx, dst, items, richtext.FormattedText{}, FallbackCopy)
	res := DeliveryResult{Destination: dst, Deliveries: deliveries, BatchTraceID: traceID}

	recordCtx := context.WithoutCancel(ctx)
	for _, d := range deliveries {
		if d.Anchor() == 0 {
			continue
		}
		if err := e.store.RecordReply(recordCtx, d.SourceMessageID, userID, d.Anchor(), d.MessageIDs[1:]...); err != nil {
			log.Error().Err(err).
				Int64("user_id", userID).
				Int("source_msg_id", d.SourceMessageID).
				Int64("dest_chat_id", userID).
				Int("delivered_msg_id", d.Anchor()).
				Msg("Ответ доставлен, но соответствие не записано")
			res.Unrecorded = append(res.Unrecorded, d.Anchor())
		}
	}

	if sendErr != nil {
		res.Status = StatusFailed
		log.Error().Err(sendErr).Int64("user_id", userID).Msg("Ошибка пересылки ответа")
		e.notify(ctx, staffDst, fmt.Sprintf(constants.MSG_STAFF_REPLY_FAILED, userID, reasonText(sendErr)))
		return e.done("reply", res), sendErr
	}

	res.Status = StatusDelivered
	log.Info().Int64("user_id", userID).Ints("delivered", res.DeliveredIDs()).Msg("Ответ переслан пользователю")
	return e.done("reply", res), nil
}

// PropagateEdit переносит правку на ранее доставленные сообщения.
// Правка в группе сотрудников ищется через ReplyMapping, правка пользователя через
// CorrespondenceMapping. К тексту добавляется метка правки и прежний суффикс; текст режется
// так же, как при отправке, и раскладывается по тем же сообщениям. Если новых частей
// меньше, лишние сообщения получают пометку, если больше, обрезается текст, а не суффикс.
// О неудаче сообщается тому, кто правил.
func (e *Engine) PropagateEdit(ctx context.Context, msg Message) (DeliveryResult, error) {
	log := e.log.With().Int64("chat_id", msg.ChatID).Int("edited_msg_id", msg.MessageID).Logger()

	var (
		target    Destination
		targetIDs []int
		suffix    richtext.FormattedText
		editorDst Destination
		userID    int64
	)
	if msg.ChatID == e.opts.StaffChat.ChatID {
		m, err := e.store.LookupReply(ctx, msg.MessageID)
		if errors.Is(err, db.ErrNotFound) {
			log.Warn().Msg("Правка ответа без соответствия, пропущена")
			return e.done("edit", DeliveryResult{Status: StatusDropped}), ErrMappingNotFound
		}
		if err != nil {
			log.Error().Err(err).Msg("Ошибка поиска соответствия для правки")
			return e.done("edit", DeliveryResult{Status: StatusFailed}), err
		}
		target = Destination{ChatID: m.TargetUserID}
		targetIDs = m.MessageIDs()
		editorDst = Destination{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
		userID = m.TargetUserID
	} else {
		rejection, err := e.gate(ctx, msg.UserID)
		if err != nil {
			return e.done("edit", DeliveryResult{Status: StatusFailed}), err
		}
		if rejection != nil {
			log.Debug().Stringer("reason", rejection.Reason).Msg("Правка от ограниченного пользователя не переносится")
			return e.done("edit", DeliveryResult{Status: StatusRejected}), rejection
		}
		ids, err := e.store.LookupForwardsByOriginal(ctx, msg.UserID, msg.MessageID)
		if errors.Is(err, db.ErrNotFound) {
			log.Warn().Msg("Правка сообщения без соответствия, пропущена")
			return e.done("edit", DeliveryResult{Status: StatusDropped}), ErrMappingNotFound
		}
		if err != nil {
			log.Error().Err(err).Msg("Ошибка поиска соответствия для правки")
			return e.done("edit", DeliveryResult{Status: StatusFailed}), err
		}
		target = e.opts.StaffChat
		targetIDs = ids
		suffix = e.signature(msg)
		editorDst = Destination{ChatID: msg.ChatID}
		userID = msg.UserID
	}

	var (
		body      richtext.FormattedText
		firstCap  int
		editFirst = e.transport.EditText
	)
	switch c := msg.Content.(type) {
	case TextContent:
		body, firstCap = c.Text, e.opts.Limits.Text
	case MediaContent:
		if !c.Kind.CanCaption() {
			return e.done("edit", DeliveryResult{Status: StatusDropped}), ErrNotEditable
		}
		body, firstCap = c.Caption, e.opts.Limits.Caption
		editFirst = e.transport.EditCaption
	default:
		log.Debug().Str("content", describe(msg.Content)).Msg("Этот вид сообщений не редактируется")
		return e.done("edit", DeliveryResult{Status: StatusDropped}), ErrNotEditable
	}

	marker := richtext.Plain(constants.EDITED_MARKER)
	chunks := editChunks(marker.Concat(body), suffix, firstCap, e.opts.Limits.Text, len(targetIDs))
	d := Delivery{SourceMessageID: msg.MessageID}
	var err error
	for i, id := range targetIDs {
		edit := e.transport.EditText
		if i == 0 {
			edit = editFirst
		}
		text := richtext.Plain(constants.EDITED_PART_REMOVED)
		if i < len(chunks) {
			text = chunks[i]
		}
		err = e.opts.Retry.Do(ctx, func(ctx context.Context) error {
			return edit(ctx, target.ChatID, id, text)
		})
		if errors.Is(err, ErrNotModified) {
			err = nil
		}
		if err != nil {
			break
		}
		d.MessageIDs = append(d.MessageIDs, id)
	}

	res := DeliveryResult{Destination: target, Deliveries: []Delivery{d}}
	if err != nil {
		res.Status = StatusFailed
		log.Error().Err(err).
			Int64("dest_chat_id", target.ChatID).
			Ints("target_msg_ids", targetIDs).
			Ints("edited", d.MessageIDs).
			Msg("Не удалось перенести правку")
		if editorDst.ChatID == e.opts.StaffChat.ChatID {
			e.notify(ctx, editorDst, fmt.Sprintf(constants.MSG_STAFF_EDIT_FAILED, userID, reasonText(err)))
		} else {
			e.notify(ctx, editorDst, failureNotice(err))
		}
		return e.done("edit", res), err
	}
	res.Status = StatusDelivered
	log.Info().Int64("dest_chat_id", target.ChatID).Ints("target_msg_ids", targetIDs).Msg("Правка перенесена")
	return e.done("edit", res), nil
}

// editChunks режет правку не более чем на n частей. Первая часть не длиннее first
// (лимит подписи для медиа), остальные не длиннее limit. Если частей не хватает,
// укорачивается body, suffix остаётся целым.
func editChunks(body, suffix richtext.FormattedText, first, limit, n int) []richtext.FormattedText {
	chunks := richtext.Split(body.Concat(suffix), first, limit)
	if len(chunks) <= n {
		return chunks
	}
	room := first + (n-1)*limit - suffix.Len()
	chunks = richtext.Split(body.Truncate(max(room, 0)).Concat(suffix), first, limit)
	if len(chunks) > n {
		chunks = chunks[:n]
	}
	return chunks
}

func (e *Engine) gate(ctx context.Context, userID int64) (*GateRejection, error) {
	st, err := e.store.GetStatus(ctx, userID)
	if err != nil {
		return nil, err
	}
	switch {
	case st.Banned:
		return &GateRejection{UserID: userID, Reason: ReasonBanned}, nil
	case st.Muted:
		return &GateRejection{UserID: userID, Reason: ReasonMuted, Until: st.MutedUntil}, nil
	}
	return nil, nil
}

// signature: "👤 Имя · id 123" со ссылкой на пользователя поверх имени.
func (e *Engine) signature(msg Message) richtext.FormattedText {
	if !e.opts.Signature || msg.UserID == 0 {
		return richtext.FormattedText{}
	}
	return Signature(msg.UserID, msg.UserName)
}

// Signature собирает подпись отправителя.
func Signature(userID int64, name string) richtext.FormattedText {
	if name == "" {
		name = constants.SIGNATURE_ANONYMOUS
	}
	prefix := richtext.Plain(constants.SIGNATURE_PREFIX)
	mention := richtext.FormattedText{
		Text:  name,
		Spans: []richtext.Span{{Type: "text_mention", Offset: 0, Length: richtext.Plain(name).Len(), UserID: userID}},
	}
	return prefix.Concat(mention).Concat(richtext.Plain(fmt.Sprintf(constants.SIGNATURE_ID_FORMAT, userID)))
}

func (e *Engine) notify(ctx context.Context, dst Destination, text string) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(context.WithoutCancel(ctx), dst, text); err != nil {
		e.log.Warn().Err(err).Str("dest", dst.String()).Msg("Не удалось отправить уведомление")
	}
}

func (e *Engine) done(direction string, res DeliveryResult) DeliveryResult {
	e.metrics.ObserveRelay(direction, res.Status.String())
	return res
}

func rejectionNotice(r *GateRejection) string {
	if r.Reason == ReasonBanned {
		return constants.MSG_BANNED
	}
	return constants.MSG_MUTED
}

func failureNotice(err error) string {
	if IsPermanent(err) {
		return fmt.Sprintf(constants.MSG_SEND_REJECTED, reasonText(err))
	}
	return constants.MSG_SEND_FAILED
}

func reasonText(err error) string {
	var te *TransportError
	if errors.As(err, &te) && te.Reason != "" {
		return te.Reason
	}
	return err.Error()
}
