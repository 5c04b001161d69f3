package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medrelay/internal/album"
	"medrelay/internal/constants"
	"medrelay/internal/models"
	"medrelay/internal/richtext"
)

const (
	staffChat = int64(-100500)
	userChat  = int64(555)
)

type engineFixture struct {
	engine    *Engine
	transport *fakeTransport
	notifier  *fakeNotifier
	store     *fakeStore
}

func newEngineFixture(t *testing.T, signature bool) *engineFixture {
	t.Helper()
	f := &engineFixture{
		transport: newFakeTransport(),
		notifier:  &fakeNotifier{},
		store:     newFakeStore(),
	}
	f.engine = NewEngine(Options{
		StaffChat: Destination{ChatID: staffChat, ThreadID: 3},
		Signature: signature,
		Retry:     NoRetry,
		Album:     album.Options{Wait: 30 * time.Millisecond, MaxWait: time.Second},
	}, f.store, f.transport, f.notifier, nil, zerolog.Nop())
	return f
}

func userText(id int, text string) Message {
	return Message{ChatID: userChat, MessageID: id, UserID: userChat, UserName: "Анна", Content: TextContent{Text: richtext.Plain(text)}}
}

func TestRelayInbound_TextIsRelayedRecordedAndAcknowledged(t *testing.T) {
	f := newEngineFixture(t, false)

	res, err := f.engine.RelayInbound(context.Background(), userText(10, "вопрос"))
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, res.Status)
	require.Equal(t, []int{101}, res.DeliveredIDs())

	calls := f.transport.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, Destination{ChatID: staffChat, ThreadID: 3}, calls[0].Dst)

	userID, err := f.store.LookupUserByForward(context.Background(), 101)
	require.NoError(t, err)
	assert.Equal(t, userChat, userID)

	assert.Equal(t, []notice{{Destination{ChatID: userChat}, constants.MSG_ACK}}, f.notifier.Notices())
}

func TestRelayInbound_SignatureMentionsSender(t *testing.T) {
	f := newEngineFixture(t, true)

	_, err := f.engine.RelayInbound(context.Background(), userText(10, "вопрос"))
	require.NoError(t, err)

	sent := f.transport.Calls()[0].Text
	assert.Equal(t, "вопрос\n\n👤 Анна · id 555", sent.Text)
	require.Len(t, sent.Spans, 1)
	assert.Equal(t, "text_mention", sent.Spans[0].Type)
	assert.Equal(t, userChat, sent.Spans[0].UserID)
	assert.Equal(t, richtext.Plain("вопрос\n\n👤 ").Len(), sent.Spans[0].Offset)
	assert.Equal(t, 4, sent.Spans[0].Length)
	require.NoError(t, sent.Validate())
}

func TestRelayInbound_BannedUserIsRejected(t *testing.T) {
	f := newEngineFixture(t, false)
	f.store.status[userChat] = models.ModerationStatus{Banned: true}

	res, err := f.engine.RelayInbound(context.Background(), userText(10, "спам"))
	var rej *GateRejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, ReasonBanned, rej.Reason)
	assert.Equal(t, StatusRejected, res.Status)

	assert.Empty(t, f.transport.Calls(), "транспорт не вызывается")
	assert.Empty(t, f.store.Forwards(), "соответствие не пишется")
	assert.Equal(t, []notice{{Destination{ChatID: userChat}, constants.MSG_BANNED}}, f.notifier.Notices())
}

func TestRelayInbound_MutedUserGetsMuteNotice(t *testing.T) {
	f := newEngineFixture(t, false)
	until := time.Now().Add(time.Hour)
	f.store.status[userChat] = models.ModerationStatus{Muted: true, MutedUntil: until}

	_, err := f.engine.RelayInbound(context.Background(), userText(10, "ещё"))
	var rej *GateRejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, ReasonMuted, rej.Reason)
	assert.Equal(t, until, rej.Until)
	assert.Equal(t, constants.MSG_MUTED, f.notifier.Notices()[0].Text)
}

func TestRelayInbound_StorageErrorIsNotAbsence(t *testing.T) {
	f := newEngineFixture(t, false)
	boom := errors.New("connection refused")
	f.store.failOps["get_status"] = boom

	res, err := f.engine.RelayInbound(context.Background(), userText(10, "x"))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Empty(t, f.transport.Calls())
}

func TestRelayInbound_AlbumRelayedOnceInArrivalOrder(t *testing.T) {
	f := newEngineFixture(t, false)
	ctx := context.Background()

	members := []Message{photoMsg(21, "подпись"), photoMsg(22, ""), photoMsg(23, "")}
	for i := range members {
		members[i].BatchID = "g1"
	}

	done := make(chan DeliveryResult, 1)
	go func() {
		res, err := f.engine.RelayInbound(ctx, members[0])
		assert.NoError(t, err)
		done <- res
	}()
	require.Eventually(t, func() bool { return f.engine.inbound.Pending() == 1 }, time.Second, time.Millisecond)

	for _, m := range members[1:] {
		res, err := f.engine.RelayInbound(ctx, m)
		require.NoError(t, err)
		assert.Equal(t, StatusAbsorbed, res.Status)
	}

	var res DeliveryResult
	select {
	case res = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("альбом не отправлен")
	}
	assert.Equal(t, StatusDelivered, res.Status)
	assert.NotEmpty(t, res.BatchTraceID)

	calls := f.transport.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "send_media_group", calls[0].Op)

	require.Len(t, res.Deliveries, 3)
	fwd := f.store.Forwards()
	for i, d := range res.Deliveries {
		assert.Equal(t, members[i].MessageID, d.SourceMessageID)
		assert.Equal(t, members[i].MessageID, fwd[d.Anchor()].SourceMessageID, "у каждого элемента своё соответствие")
	}
	ids, err := f.store.LookupForwardsByOriginal(ctx, userChat, 21)
	require.NoError(t, err)
	assert.Equal(t, res.Deliveries[0].Anchor(), ids[0])

	assert.Len(t, f.notifier.Notices(), 1, "одно подтверждение на альбом")

	_, err = f.engine.RelayInbound(ctx, Message{ChatID: userChat, MessageID: 24, UserID: userChat, BatchID: "g1",
		Content: MediaContent{Kind: MediaPhoto, FileID: "late"}})
	assert.ErrorIs(t, err, ErrLateBatchMember)
}

func TestRelayInbound_RejectedAlbumNotifiesOnce(t *testing.T) {
	f := newEngineFixture(t, false)
	f.store.status[userChat] = models.ModerationStatus{Banned: true}
	ctx := context.Background()

	first := photoMsg(31, "")
	first.BatchID = "g2"
	second := photoMsg(32, "")
	second.BatchID = "g2"

	done := make(chan error, 1)
	go func() {
		_, err := f.engine.RelayInbound(ctx, first)
		done <- err
	}()
	require.Eventually(t, func() bool { return f.engine.inbound.Pending() == 1 }, time.Second, time.Millisecond)

	_, err := f.engine.RelayInbound(ctx, second)
	var rej *GateRejection
	assert.ErrorAs(t, err, &rej)

	select {
	case err = <-done:
		assert.ErrorAs(t, err, &rej)
	case <-time.After(2 * time.Second):
		t.Fatal("альбом не обработан")
	}
	assert.Len(t, f.notifier.Notices(), 1)
	assert.Empty(t, f.transport.Calls())
}

func TestRelayInbound_TransientFailureNotifiesUser(t *testing.T) {
	f := newEngineFixture(t, false)
	f.transport.failAt[1] = transient("send_text")

	res, err := f.engine.RelayInbound(context.Background(), userText(10, "x"))
	assert.True(t, IsTransient(err))
	assert.Equal(t, StatusFailed, res.Status)
	assert.Empty(t, f.store.Forwards())
	assert.Equal(t, constants.MSG_SEND_FAILED, f.notifier.Notices()[0].Text)
}

func TestRelayInbound_PermanentFailureCarriesReason(t *testing.T) {
	f := newEngineFixture(t, false)
	f.transport.failAt[1] = permanent("send_text", "Bad Request: chat not found")

	_, err := f.engine.RelayInbound(context.Background(), userText(10, "x"))
	assert.True(t, IsPermanent(err))
	assert.Equal(t, fmt.Sprintf(constants.MSG_SEND_REJECTED, "Bad Request: chat not found"), f.notifier.Notices()[0].Text)
}

func TestRelayInbound_PartialDeliveryStillRecordsMappings(t *testing.T) {
	f := newEngineFixture(t, false)
	f.transport.failAt[2] = transient("send_text")

	res, err := f.engine.RelayInbound(context.Background(), userText(10, strings.Repeat("д", 5000)))
	require.Error(t, err)
	assert.Equal(t, []int{101}, res.DeliveredIDs())
	assert.Contains(t, f.store.Forwards(), 101)
}

func TestRelayInbound_MappingWriteFailureIsReportedNotRolledBack(t *testing.T) {
	f := newEngineFixture(t, false)
	f.store.failOps["record_forward"] = errors.New("disk full")

	res, err := f.engine.RelayInbound(context.Background(), userText(10, "x"))
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, res.Status)
	assert.Equal(t, []int{101}, res.Unrecorded)
	assert.Len(t, f.transport.Calls(), 1)
}

func TestRelayInbound_CaptionScenario(t *testing.T) {
	f := newEngineFixture(t, false)

	res, err := f.engine.RelayInbound(context.Background(), photoMsg(40, strings.Repeat("z", 2000)))
	require.NoError(t, err)
	assert.Len(t, res.DeliveredIDs(), 2)

	calls := f.transport.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, 1024, calls[0].Media[0].Caption.Len())
	assert.Equal(t, 976, calls[1].Text.Len())
	assert.Equal(t, calls[0].Dst, calls[1].Dst)

	// на любой кусок можно ответить
	for _, id := range res.DeliveredIDs() {
		u, err := f.store.LookupUserByForward(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, userChat, u)
	}
}

func staffReply(id, replyTo int, text string) Message {
	return Message{ChatID: staffChat, ThreadID: 3, MessageID: id, UserID: 9000, ReplyToMessageID: replyTo,
		Content: TextContent{Text: richtext.Plain(text)}}
}

func TestRelayReply_RoundTripReachesOriginalSender(t *testing.T) {
	f := newEngineFixture(t, true)
	ctx := context.Background()

	in, err := f.engine.RelayInbound(ctx, userText(10, "вопрос"))
	require.NoError(t, err)
	relayID := in.DeliveredIDs()[0]

	res, err := f.engine.RelayReply(ctx, staffReply(500, relayID, "ответ"))
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, res.Status)
	assert.Equal(t, Destination{ChatID: userChat}, res.Destination)

	calls := f.transport.Calls()
	last := calls[len(calls)-1]
	assert.Equal(t, Destination{ChatID: userChat}, last.Dst)
	assert.Equal(t, "ответ", last.Text.Text, "ответ уходит без подписи")

	m, err := f.store.LookupReply(ctx, 500)
	require.NoError(t, err)
	assert.Equal(t, userChat, m.TargetUserID)
	assert.Equal(t, res.DeliveredIDs()[0], m.DeliveredMessageID)
}

func TestRelayReply_UnknownTargetIsDroppedSilently(t *testing.T) {
	f := newEngineFixture(t, false)

	res, err := f.engine.RelayReply(context.Background(), staffReply(501, 99999, "кому?"))
	assert.ErrorIs(t, err, ErrMappingNotFound)
	assert.Equal(t, StatusDropped, res.Status)
	assert.Empty(t, f.transport.Calls())
	assert.Empty(t, f.notifier.Notices())
}

func TestRelayReply_StorageErrorPropagates(t *testing.T) {
	f := newEngineFixture(t, false)
	boom := errors.New("timeout")
	f.store.failOps["lookup_user_by_forward"] = boom

	res, err := f.engine.RelayReply(context.Background(), staffReply(502, 101, "x"))
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrMappingNotFound)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Empty(t, f.transport.Calls())
}

func TestRelayReply_FailureNotifiesStaff(t *testing.T) {
	f := newEngineFixture(t, false)
	ctx := context.Background()
	require.NoError(t, f.store.RecordForward(ctx, 77, userChat, 1))
	f.transport.failAt[1] = permanent("send_text", "Forbidden: bot was blocked by the user")

	_, err := f.engine.RelayReply(ctx, staffReply(503, 77, "ответ"))
	require.Error(t, err)
	n := f.notifier.Notices()
	require.Len(t, n, 1)
	assert.Equal(t, Destination{ChatID: staffChat, ThreadID: 3}, n[0].Dst)
	assert.Contains(t, n[0].Text, "bot was blocked by the user")
}

func TestPropagateEdit_StaffEditReachesDeliveredReply(t *testing.T) {
	f := newEngineFixture(t, false)
	ctx := context.Background()
	require.NoError(t, f.store.RecordReply(ctx, 600, userChat, 42))

	res, err := f.engine.PropagateEdit(ctx, staffReply(600, 0, "исправленный ответ"))
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, res.Status)

	calls := f.transport.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "edit_text", calls[0].Op)
	assert.Equal(t, userChat, calls[0].ChatID)
	assert.Equal(t, 42, calls[0].MsgID)
	assert.Equal(t, constants.EDITED_MARKER+"исправленный ответ", calls[0].Text.Text)
}

func TestPropagateEdit_UserEditKeepsSignatureAndSpans(t *testing.T) {
	f := newEngineFixture(t, true)
	ctx := context.Background()

	in, err := f.engine.RelayInbound(ctx, userText(10, "старый"))
	require.NoError(t, err)

	edited := userText(10, "новый")
	edited.Content = TextContent{Text: richtext.FormattedText{
		Text: "новый", Spans: []richtext.Span{{Type: "bold", Offset: 0, Length: 5}},
	}}
	_, err = f.engine.PropagateEdit(ctx, edited)
	require.NoError(t, err)

	calls := f.transport.Calls()
	last := calls[len(calls)-1]
	assert.Equal(t, "edit_text", last.Op)
	assert.Equal(t, staffChat, last.ChatID)
	assert.Equal(t, in.DeliveredIDs()[0], last.MsgID)
	assert.True(t, strings.HasPrefix(last.Text.Text, constants.EDITED_MARKER+"новый"))
	assert.True(t, strings.HasSuffix(last.Text.Text, "· id 555"))

	marker := richtext.Plain(constants.EDITED_MARKER).Len()
	assert.Equal(t, richtext.Span{Type: "bold", Offset: marker, Length: 5}, last.Text.Spans[0])
	require.NoError(t, last.Text.Validate())
}

func TestPropagateEdit_CaptionEditClippedToCaptionCap(t *testing.T) {
	f := newEngineFixture(t, false)
	ctx := context.Background()
	require.NoError(t, f.store.RecordForward(ctx, 300, userChat, 50))

	_, err := f.engine.PropagateEdit(ctx, photoMsg(50, strings.Repeat("e", 3000)))
	require.NoError(t, err)

	calls := f.transport.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "edit_caption", calls[0].Op)
	assert.Equal(t, 1024, calls[0].Text.Len())
}

func TestPropagateEdit_NoMappingMakesNoCall(t *testing.T) {
	f := newEngineFixture(t, false)

	_, err := f.engine.PropagateEdit(context.Background(), userText(404, "правка"))
	assert.ErrorIs(t, err, ErrMappingNotFound)

	_, err = f.engine.PropagateEdit(context.Background(), staffReply(405, 0, "правка"))
	assert.ErrorIs(t, err, ErrMappingNotFound)

	assert.Empty(t, f.transport.Calls())
}

func TestPropagateEdit_NotModifiedIsSuccess(t *testing.T) {
	f := newEngineFixture(t, false)
	ctx := context.Background()
	require.NoError(t, f.store.RecordReply(ctx, 700, userChat, 43))
	f.transport.editFn = func(call) error {
		return &TransportError{Op: "edit_text", Permanent: true, Reason: "Bad Request: message is not modified", Err: ErrNotModified}
	}

	res, err := f.engine.PropagateEdit(ctx, staffReply(700, 0, "то же самое"))
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, res.Status)
}

func TestPropagateEdit_StickerIsNotEditable(t *testing.T) {
	f := newEngineFixture(t, false)
	ctx := context.Background()
	require.NoError(t, f.store.RecordForward(ctx, 301, userChat, 60))

	msg := Message{ChatID: userChat, MessageID: 60, UserID: userChat, Content: MediaContent{Kind: MediaSticker, FileID: "s"}}
	_, err := f.engine.PropagateEdit(ctx, msg)
	assert.ErrorIs(t, err, ErrNotEditable)
	assert.Empty(t, f.transport.Calls())
}

func TestPropagateEdit_RestrictedUserEditIsSilent(t *testing.T) {
	f := newEngineFixture(t, false)
	ctx := context.Background()
	require.NoError(t, f.store.RecordForward(ctx, 302, userChat, 61))
	f.store.status[userChat] = models.ModerationStatus{Banned: true}

	res, err := f.engine.PropagateEdit(ctx, userText(61, "правка"))
	var rej *GateRejection
	assert.ErrorAs(t, err, &rej)
	assert.Equal(t, StatusRejected, res.Status)
	assert.Empty(t, f.transport.Calls())
	assert.Empty(t, f.notifier.Notices())
}

func TestPropagateEdit_StaffEditFailureNotifiesStaff(t *testing.T) {
	f := newEngineFixture(t, false)
	ctx := context.Background()
	require.NoError(t, f.store.RecordReply(ctx, 600, userChat, 42))
	f.transport.editFn = func(call) error { return transient("edit_text") }

	res, err := f.engine.PropagateEdit(ctx, staffReply(600, 0, "исправленный ответ"))
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Equal(t, StatusFailed, res.Status)

	n := f.notifier.Notices()
	require.Len(t, n, 1)
	assert.Equal(t, Destination{ChatID: staffChat, ThreadID: 3}, n[0].Dst)
	assert.Equal(t, fmt.Sprintf(constants.MSG_STAFF_EDIT_FAILED, userChat, "Too Many Requests"), n[0].Text)
}

func TestPropagateEdit_UserEditFailureNotifiesUser(t *testing.T) {
	f := newEngineFixture(t, false)
	ctx := context.Background()
	require.NoError(t, f.store.RecordForward(ctx, 303, userChat, 62))
	f.transport.editFn = func(call) error { return permanent("edit_text", "Bad Request: message to edit not found") }

	res, err := f.engine.PropagateEdit(ctx, userText(62, "правка"))
	require.Error(t, err)
	assert.Equal(t, StatusFailed, res.Status)

	n := f.notifier.Notices()
	require.Len(t, n, 1)
	assert.Equal(t, Destination{ChatID: userChat}, n[0].Dst)
	assert.Equal(t, fmt.Sprintf(constants.MSG_SEND_REJECTED, "Bad Request: message to edit not found"), n[0].Text)
}

func TestPropagateEdit_SplitMessageEditsEveryPart(t *testing.T) {
	f := newEngineFixture(t, true)
	ctx := context.Background()

	in, err := f.engine.RelayInbound(ctx, userText(10, strings.Repeat("a", 5000)))
	require.NoError(t, err)
	delivered := in.DeliveredIDs()
	require.Len(t, delivered, 2)

	_, err = f.engine.PropagateEdit(ctx, userText(10, strings.Repeat("b", 5000)))
	require.NoError(t, err)

	edits := f.transport.Calls()[len(delivered):]
	require.Len(t, edits, 2)
	var joined string
	for i, c := range edits {
		assert.Equal(t, "edit_text", c.Op)
		assert.Equal(t, delivered[i], c.MsgID)
		assert.LessOrEqual(t, c.Text.Len(), constants.MAX_TEXT_LEN)
		require.NoError(t, c.Text.Validate())
		joined += c.Text.Text
	}
	assert.Equal(t, constants.EDITED_MARKER+strings.Repeat("b", 5000)+"\n\n👤 Анна · id 555", joined)
	assert.True(t, strings.HasSuffix(edits[1].Text.Text, "· id 555"))
}

func TestPropagateEdit_LongerEditKeepsSignature(t *testing.T) {
	f := newEngineFixture(t, true)
	ctx := context.Background()

	in, err := f.engine.RelayInbound(ctx, userText(10, "коротко"))
	require.NoError(t, err)
	require.Len(t, in.DeliveredIDs(), 1)

	_, err = f.engine.PropagateEdit(ctx, userText(10, strings.Repeat("c", 5000)))
	require.NoError(t, err)

	calls := f.transport.Calls()
	last := calls[len(calls)-1]
	assert.Equal(t, "edit_text", last.Op)
	assert.Equal(t, constants.MAX_TEXT_LEN, last.Text.Len())
	assert.True(t, strings.HasPrefix(last.Text.Text, constants.EDITED_MARKER+"ccc"))
	assert.True(t, strings.HasSuffix(last.Text.Text, "\n\n👤 Анна · id 555"))
	require.NoError(t, last.Text.Validate())
}

func TestPropagateEdit_ShorterEditMarksLeftoverParts(t *testing.T) {
	f := newEngineFixture(t, false)
	ctx := context.Background()
	require.NoError(t, f.store.RecordReply(ctx, 610, userChat, 42, 43))

	_, err := f.engine.PropagateEdit(ctx, staffReply(610, 0, "короче"))
	require.NoError(t, err)

	calls := f.transport.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, 42, calls[0].MsgID)
	assert.Equal(t, constants.EDITED_MARKER+"короче", calls[0].Text.Text)
	assert.Equal(t, 43, calls[1].MsgID)
	assert.Equal(t, constants.EDITED_PART_REMOVED, calls[1].Text.Text)
}

func TestRelayReply_LongReplyRecordsFollowUps(t *testing.T) {
	f := newEngineFixture(t, false)
	ctx := context.Background()
	require.NoError(t, f.store.RecordForward(ctx, 77, userChat, 1))

	res, err := f.engine.RelayReply(ctx, staffReply(520, 77, strings.Repeat("r", 5000)))
	require.NoError(t, err)

	m, err := f.store.LookupReply(ctx, 520)
	require.NoError(t, err)
	assert.Equal(t, res.DeliveredIDs(), m.MessageIDs())
	assert.Len(t, m.FollowUpMessageIDs, 1)
}

func TestGetStatus(t *testing.T) {
	f := newEngineFixture(t, false)
	f.store.status[userChat] = models.ModerationStatus{Muted: true}

	st, err := f.engine.GetStatus(context.Background(), userChat)
	require.NoError(t, err)
	assert.True(t, st.Muted)
	assert.Equal(t, userChat, st.UserID)
}
