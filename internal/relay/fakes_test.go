package relay

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"medrelay/internal/db"
	"medrelay/internal/models"
	"medrelay/internal/richtext"
)

type call struct {
	Op       string
	Dst      Destination
	ChatID   int64 // для правок и удаления
	FromChat int64
	MsgID    int
	Text     richtext.FormattedText
	Media    []MediaContent
	Poll     PollContent
}

// fakeTransport записывает вызовы и выдаёт последовательные ID.
// failAt задаёт номер вызова (с 1), на котором вернуть ошибку err.
type fakeTransport struct {
	mu     sync.Mutex
	calls  []call
	nextID int
	failAt map[int]error
	editFn func(c call) error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{nextID: 100, failAt: map[int]error{}}
}

func (f *fakeTransport) record(c call) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	if err, ok := f.failAt[len(f.calls)]; ok {
		return 0, err
	}
	f.nextID++
	return f.nextID, nil
}

func (f *fakeTransport) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func (f *fakeTransport) SendText(_ context.Context, dst Destination, text richtext.FormattedText) (int, error) {
	return f.record(call{Op: "send_text", Dst: dst, Text: text})
}

func (f *fakeTransport) SendMedia(_ context.Context, dst Destination, media MediaContent) (int, error) {
	return f.record(call{Op: "send_media", Dst: dst, Media: []MediaContent{media}, Text: media.Caption})
}

func (f *fakeTransport) SendMediaGroup(_ context.Context, dst Destination, items []MediaContent) ([]int, error) {
	first, err := f.record(call{Op: "send_media_group", Dst: dst, Media: items})
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := []int{first}
	for i := 1; i < len(items); i++ {
		f.nextID++
		ids = append(ids, f.nextID)
	}
	return ids, nil
}

func (f *fakeTransport) SendPoll(_ context.Context, dst Destination, poll PollContent) (int, error) {
	return f.record(call{Op: "send_poll", Dst: dst, Poll: poll})
}

func (f *fakeTransport) CopyMessage(_ context.Context, dst Destination, fromChatID int64, messageID int) (int, error) {
	return f.record(call{Op: "copy", Dst: dst, FromChat: fromChatID, MsgID: messageID})
}

func (f *fakeTransport) ForwardMessage(_ context.Context, dst Destination, fromChatID int64, messageID int) (int, error) {
	return f.record(call{Op: "forward", Dst: dst, FromChat: fromChatID, MsgID: messageID})
}

func (f *fakeTransport) EditText(_ context.Context, chatID int64, messageID int, text richtext.FormattedText) error {
	c := call{Op: "edit_text", ChatID: chatID, MsgID: messageID, Text: text}
	_, err := f.record(c)
	if err == nil && f.editFn != nil {
		err = f.editFn(c)
	}
	return err
}

func (f *fakeTransport) EditCaption(_ context.Context, chatID int64, messageID int, caption richtext.FormattedText) error {
	c := call{Op: "edit_caption", ChatID: chatID, MsgID: messageID, Text: caption}
	_, err := f.record(c)
	if err == nil && f.editFn != nil {
		err = f.editFn(c)
	}
	return err
}

func (f *fakeTransport) DeleteMessage(_ context.Context, chatID int64, messageID int) error {
	_, err := f.record(call{Op: "delete", ChatID: chatID, MsgID: messageID})
	return err
}

type notice struct {
	Dst  Destination
	Text string
}

type fakeNotifier struct {
	mu      sync.Mutex
	notices []notice
}

func (n *fakeNotifier) Notify(_ context.Context, dst Destination, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice{dst, text})
	return nil
}

func (n *fakeNotifier) Notices() []notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notice(nil), n.notices...)
}

// fakeStore: хранилище в памяти с возможностью сломать отдельные операции.
type fakeStore struct {
	mu       sync.Mutex
	forwards map[int]models.CorrespondenceMapping
	replies  map[int]models.ReplyMapping
	status   map[int64]models.ModerationStatus
	failOps  map[string]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		forwards: map[int]models.CorrespondenceMapping{},
		replies:  map[int]models.ReplyMapping{},
		status:   map[int64]models.ModerationStatus{},
		failOps:  map[string]error{},
	}
}

func (s *fakeStore) fail(op string) error {
	return s.failOps[op]
}

func (s *fakeStore) RecordForward(_ context.Context, relayMsgID int, userID int64, originalMsgID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("record_forward"); err != nil {
		return err
	}
	s.forwards[relayMsgID] = models.CorrespondenceMapping{
		RelayMessageID: relayMsgID, SourceUserID: userID, SourceMessageID: originalMsgID, CreatedAt: time.Now(),
	}
	return nil
}

func (s *fakeStore) LookupUserByForward(_ context.Context, relayMsgID int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("lookup_user_by_forward"); err != nil {
		return 0, err
	}
	m, ok := s.forwards[relayMsgID]
	if !ok {
		return 0, db.ErrNotFound
	}
	return m.SourceUserID, nil
}

func (s *fakeStore) LookupForwardsByOriginal(_ context.Context, userID int64, originalMsgID int) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int
	for id, m := range s.forwards {
		if m.SourceUserID == userID && m.SourceMessageID == originalMsgID {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, db.ErrNotFound
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *fakeStore) RecordReply(_ context.Context, staffMsgID int, userID int64, deliveredMsgID int, followUps ...int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[staffMsgID] = models.ReplyMapping{
		StaffMessageID: staffMsgID, TargetUserID: userID, DeliveredMessageID: deliveredMsgID,
		FollowUpMessageIDs: followUps, CreatedAt: time.Now(),
	}
	return nil
}

func (s *fakeStore) LookupReply(_ context.Context, staffMsgID int) (models.ReplyMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.replies[staffMsgID]
	if !ok {
		return models.ReplyMapping{}, db.ErrNotFound
	}
	return m, nil
}

func (s *fakeStore) GetStatus(_ context.Context, userID int64) (models.ModerationStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("get_status"); err != nil {
		return models.ModerationStatus{}, err
	}
	st := s.status[userID]
	st.UserID = userID
	return st, nil
}

func (s *fakeStore) Forwards() map[int]models.CorrespondenceMapping {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]models.CorrespondenceMapping, len(s.forwards))
	for k, v := range s.forwards {
		out[k] = v
	}
	return out
}

func transient(op string) error {
	return &TransportError{Op: op, Reason: "Too Many Requests", Err: fmt.Errorf("429")}
}

func permanent(op, reason string) error {
	return &TransportError{Op: op, Permanent: true, Reason: reason, Err: fmt.Errorf("400")}
}
