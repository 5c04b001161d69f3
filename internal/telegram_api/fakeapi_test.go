package telegram_api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// apiCall: запрос, пришедший на поддельный Bot API.
type apiCall struct {
	Method string
	Form   map[string]string
}

// fakeBotAPI отвечает как Bot API: getMe всегда успешен, остальные методы
// возвращают следующее сообщение или заранее заданную ошибку.
type fakeBotAPI struct {
	srv *httptest.Server

	mu     sync.Mutex
	calls  []apiCall
	nextID int
	errors map[string]string // метод -> JSON ответа с ошибкой
	delay  map[string]time.Duration
}

func newFakeBotAPI(t *testing.T) *fakeBotAPI {
	t.Helper()
	f := &fakeBotAPI{nextID: 1000, errors: map[string]string{}, delay: map[string]time.Duration{}}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeBotAPI) serve(w http.ResponseWriter, r *http.Request) {
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	_ = r.ParseForm()
	form := map[string]string{}
	for k := range r.PostForm {
		form[k] = r.PostForm.Get(k)
	}

	w.Header().Set("Content-Type", "application/json")
	if method == "getMe" {
		fmt.Fprint(w, `{"ok":true,"result":{"id":42,"is_bot":true,"first_name":"Relay","username":"medrelay_bot"}}`)
		return
	}

	f.mu.Lock()
	wait := f.delay[method]
	f.mu.Unlock()
	if wait > 0 {
		select {
		case <-time.After(wait):
		case <-r.Context().Done():
			return
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, apiCall{Method: method, Form: form})
	if body, ok := f.errors[method]; ok {
		fmt.Fprint(w, body)
		return
	}

	switch method {
	case "sendMediaGroup":
		var media []json.RawMessage
		_ = json.Unmarshal([]byte(form["media"]), &media)
		msgs := make([]string, 0, len(media))
		for range media {
			f.nextID++
			msgs = append(msgs, fmt.Sprintf(`{"message_id":%d,"date":0,"chat":{"id":%s,"type":"supergroup"}}`, f.nextID, form["chat_id"]))
		}
		fmt.Fprintf(w, `{"ok":true,"result":[%s]}`, strings.Join(msgs, ","))
	case "copyMessage":
		f.nextID++
		fmt.Fprintf(w, `{"ok":true,"result":{"message_id":%d}}`, f.nextID)
	case "editMessageText", "editMessageCaption", "deleteMessage", "setMyCommands":
		fmt.Fprint(w, `{"ok":true,"result":true}`)
	default:
		f.nextID++
		fmt.Fprintf(w, `{"ok":true,"result":{"message_id":%d,"date":0,"chat":{"id":%s,"type":"private"}}}`, f.nextID, form["chat_id"])
	}
}

func (f *fakeBotAPI) fail(method, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors[method] = body
}

func (f *fakeBotAPI) slow(method string, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay[method] = d
}

func (f *fakeBotAPI) Calls() []apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]apiCall(nil), f.calls...)
}

func newTestTransport(t *testing.T, api *fakeBotAPI) *Transport {
	t.Helper()
	client, err := NewBotClient(ClientOptions{
		Token:    "123:TEST",
		Endpoint: api.srv.URL + "/bot%s/%s",
		Timeout:  5 * time.Second,
	}, zerolog.Nop())
	require.NoError(t, err)
	return NewTransport(client, 0, nil, zerolog.Nop())
}
