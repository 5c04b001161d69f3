package news

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medrelay/internal/constants"
	"medrelay/internal/db"
	"medrelay/internal/relay"
	"medrelay/internal/richtext"
)

const (
	sourceChannel = int64(-100777)
	targetGroup   = int64(-100888)
)

type sent struct {
	Op   string
	Dst  relay.Destination
	Text string
}

// recorder: транспорт, который только запоминает вызовы.
type recorder struct {
	mu    sync.Mutex
	sent  []sent
	id    int
	fails error
}

func (r *recorder) add(op string, dst relay.Destination, text string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fails != nil {
		return 0, r.fails
	}
	r.id++
	r.sent = append(r.sent, sent{op, dst, text})
	return r.id, nil
}

func (r *recorder) SendText(_ context.Context, dst relay.Destination, text richtext.FormattedText) (int, error) {
	return r.add("text", dst, text.Text)
}
func (r *recorder) SendMedia(_ context.Context, dst relay.Destination, m relay.MediaContent) (int, error) {
	return r.add("media", dst, m.Caption.Text)
}
func (r *recorder) SendMediaGroup(_ context.Context, dst relay.Destination, items []relay.MediaContent) ([]int, error) {
	id, err := r.add("group", dst, "")
	return []int{id}, err
}
func (r *recorder) SendPoll(_ context.Context, dst relay.Destination, p relay.PollContent) (int, error) {
	return r.add("poll", dst, p.Question)
}
func (r *recorder) CopyMessage(_ context.Context, dst relay.Destination, _ int64, _ int) (int, error) {
	return r.add("copy", dst, "")
}
func (r *recorder) ForwardMessage(_ context.Context, dst relay.Destination, _ int64, _ int) (int, error) {
	return r.add("forward", dst, "")
}
func (r *recorder) EditText(context.Context, int64, int, richtext.FormattedText) error    { return nil }
func (r *recorder) EditCaption(context.Context, int64, int, richtext.FormattedText) error { return nil }
func (r *recorder) DeleteMessage(context.Context, int64, int) error                       { return nil }

func newTestPipeline(t *testing.T, topicID int) (*Pipeline, *recorder, *db.PebbleStore) {
	t.Helper()
	store, err := db.OpenPebble("news", zerolog.Nop(), db.WithFS(vfs.NewMem()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	rec := &recorder{}
	sender := relay.NewSender(rec, relay.Limits{}, relay.NoRetry, zerolog.Nop())
	p := NewPipeline(Options{
		SourceChannelID: sourceChannel,
		TargetChatID:    targetGroup,
		TargetTopicID:   topicID,
		Suffix:          constants.NEWS_SOURCE_SUFFIX,
		Topics:          NewTopicRouter(DefaultTopics),
	}, store, sender, nil, zerolog.Nop())
	return p, rec, store
}

func post(id int, text string) relay.Message {
	return relay.Message{ChatID: sourceChannel, MessageID: id, Content: relay.TextContent{Text: richtext.Plain(text)}}
}

func TestHandle_CopiesIntoKeywordTopicWithSource(t *testing.T) {
	p, rec, _ := newTestPipeline(t, 100)

	out, err := p.Handle(context.Background(), post(1, "Новый приказ #РадБез"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCopied, out)

	require.Len(t, rec.sent, 1)
	assert.Equal(t, relay.Destination{ChatID: targetGroup, ThreadID: 24852}, rec.sent[0].Dst)
	assert.Equal(t, "Новый приказ #РадБез"+constants.NEWS_SOURCE_SUFFIX, rec.sent[0].Text)
}

func TestHandle_DefaultTopicWhenNoKeyword(t *testing.T) {
	p, rec, _ := newTestPipeline(t, 100)

	_, err := p.Handle(context.Background(), post(2, "без тегов"))
	require.NoError(t, err)
	assert.Equal(t, 100, rec.sent[0].Dst.ThreadID)
}

func TestHandle_ForwardsWhenNoTopicConfigured(t *testing.T) {
	p, rec, _ := newTestPipeline(t, 0)

	out, err := p.Handle(context.Background(), post(3, "обычный пост"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeForwarded, out)
	require.Len(t, rec.sent, 1)
	assert.Equal(t, "forward", rec.sent[0].Op)
	assert.Equal(t, relay.Destination{ChatID: targetGroup}, rec.sent[0].Dst)
}

func TestHandle_DuplicateIsSkipped(t *testing.T) {
	p, rec, _ := newTestPipeline(t, 100)
	ctx := context.Background()

	_, err := p.Handle(ctx, post(4, "одно и то же"))
	require.NoError(t, err)
	out, err := p.Handle(ctx, post(5, "одно и то же"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, out)
	assert.Len(t, rec.sent, 1)
}

func TestHandle_MediaWithoutCaptionGetsBareSource(t *testing.T) {
	p, rec, _ := newTestPipeline(t, 100)
	ctx := context.Background()
	photo := func(id int) relay.Message {
		return relay.Message{ChatID: sourceChannel, MessageID: id, Content: relay.MediaContent{Kind: relay.MediaPhoto, FileID: "f"}}
	}

	_, err := p.Handle(ctx, photo(6))
	require.NoError(t, err)
	out, err := p.Handle(ctx, photo(7))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCopied, out, "посты без текста не склеиваются по хешу")

	assert.Equal(t, "Источник: @MedPhysProChannel", rec.sent[0].Text)
}

func TestHandle_IgnoresOtherChats(t *testing.T) {
	p, rec, _ := newTestPipeline(t, 100)
	msg := post(8, "x")
	msg.ChatID = 12345

	out, err := p.Handle(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, out)
	assert.Empty(t, rec.sent)
}

func TestHandle_FailedPostIsNotRecorded(t *testing.T) {
	p, rec, store := newTestPipeline(t, 100)
	rec.fails = &relay.TransportError{Op: "send_text", Err: errors.New("timeout")}

	out, err := p.Handle(context.Background(), post(9, "важное"))
	assert.Error(t, err)
	assert.Equal(t, OutcomeFailed, out)

	seen, err := store.IsNewsForwarded(context.Background(), ContentHash(post(9, "важное")))
	require.NoError(t, err)
	assert.False(t, seen, "после сбоя пост можно опубликовать снова")
}

func TestTopicRouter(t *testing.T) {
	r := NewTopicRouter(map[int][]string{20: {"#Б"}, 10: {"#а", " "}})
	id, kw := r.Resolve("текст #а и #б")
	assert.Equal(t, 10, id, "меньший ID проверяется первым")
	assert.Equal(t, "#а", kw)

	id, _ = r.Resolve("#QUANTEC")
	assert.Zero(t, id)

	id, _ = NewTopicRouter(DefaultTopics).Resolve("читайте #quantec")
	assert.Equal(t, 24869, id)

	var nilRouter *TopicRouter
	id, _ = nilRouter.Resolve("#а")
	assert.Zero(t, id)
}
