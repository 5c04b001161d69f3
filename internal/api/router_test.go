package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"medrelay/internal/models"
	"medrelay/internal/moderation"
	"medrelay/internal/retention"
)

const testToken = "s3cret"

type fakeModeration struct {
	applied []moderation.Action
	status  models.ModerationStatus
	records []models.ModerationRecord
	err     error
}

func (f *fakeModeration) Apply(_ context.Context, action moderation.Action, userID int64) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.applied = append(f.applied, action)
	f.status.UserID = userID
	return "done " + string(action), nil
}

func (f *fakeModeration) Status(_ context.Context, userID int64) (models.ModerationStatus, error) {
	if f.err != nil {
		return models.ModerationStatus{}, f.err
	}
	st := f.status
	st.UserID = userID
	return st, nil
}

func (f *fakeModeration) List(context.Context) ([]models.ModerationRecord, error) {
	return f.records, f.err
}

type fakeThanks struct {
	limit int
}

func (f *fakeThanks) Top(_ context.Context, limit int) ([]models.ThanksEntry, error) {
	f.limit = limit
	return []models.ThanksEntry{{UserID: 7, Name: "Анна", Count: 3}}, nil
}

type fakeRetention struct {
	calls int
	err   error
}

func (f *fakeRetention) RunOnce(context.Context) (retention.Result, error) {
	f.calls++
	return retention.Result{Mappings: 4, News: 1}, f.err
}

type fixture struct {
	mod     *fakeModeration
	thanks  *fakeThanks
	ret     *fakeRetention
	handler http.Handler
}

func newFixture(t *testing.T, token string) *fixture {
	t.Helper()
	f := &fixture{mod: &fakeModeration{}, thanks: &fakeThanks{}, ret: &fakeRetention{}}
	f.handler = NewRouter(Dependencies{
		Moderation:  f.mod,
		Thanks:      f.thanks,
		Retention:   f.ret,
		Metrics:     http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.Write([]byte("# metrics")) }),
		BotUsername: "medrelay_bot",
		AdminToken:  token,
		Log:         zerolog.Nop(),
	})
	return f
}

func (f *fixture) do(method, path string, authorized bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if authorized {
		req.Header.Set(AdminTokenHeader, testToken)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) jsonResponse {
	t.Helper()
	var resp jsonResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHealthAndMetricsArePublic(t *testing.T) {
	f := newFixture(t, testToken)

	rec := f.do(http.MethodGet, "/healthz", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", decode(t, rec).Status)

	rec = f.do(http.MethodGet, "/metrics", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "# metrics", rec.Body.String())
}

func TestAdminTokenRequired(t *testing.T) {
	f := newFixture(t, testToken)

	rec := f.do(http.MethodGet, "/api/moderation/555", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/moderation/555", nil)
	req.Header.Set(AdminTokenHeader, "wrong")
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/moderation/555", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminAPIDisabledWithoutToken(t *testing.T) {
	f := newFixture(t, "")
	rec := f.do(http.MethodGet, "/api/thanks/top", true)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestModerationActions(t *testing.T) {
	f := newFixture(t, testToken)

	for _, tc := range []struct {
		method, path string
		want         moderation.Action
	}{
		{http.MethodPost, "/api/moderation/555/mute", moderation.ActionMute},
		{http.MethodDelete, "/api/moderation/555/mute", moderation.ActionUnmute},
		{http.MethodPost, "/api/moderation/555/ban", moderation.ActionBan},
		{http.MethodDelete, "/api/moderation/555/ban", moderation.ActionUnban},
	} {
		rec := f.do(tc.method, tc.path, true)
		require.Equal(t, http.StatusOK, rec.Code, tc.path)
		assert.Equal(t, "done "+string(tc.want), decode(t, rec).Message)
	}
	assert.Equal(t, []moderation.Action{
		moderation.ActionMute, moderation.ActionUnmute, moderation.ActionBan, moderation.ActionUnban,
	}, f.mod.applied)
}

func TestModerationStatusAndErrors(t *testing.T) {
	f := newFixture(t, testToken)
	f.mod.status = models.ModerationStatus{Banned: true, BannedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}

	rec := f.do(http.MethodGet, "/api/moderation/555", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decode(t, rec).Message, "555")

	rec = f.do(http.MethodGet, "/api/moderation/abc", true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.mod.err = errors.New("db down")
	rec = f.do(http.MethodPost, "/api/moderation/555/ban", true)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestModerationExport(t *testing.T) {
	f := newFixture(t, testToken)
	f.mod.records = []models.ModerationRecord{
		{UserID: 555, IsBanned: true, BannedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)},
		{UserID: 777, MutedUntil: time.Now().Add(time.Hour)},
	}

	rec := f.do(http.MethodGet, "/api/moderation/export", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, xlsxContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "moderation-")

	book, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer book.Close()
	rows, err := book.GetRows("Модерация")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "ID пользователя", rows[0][0])
	assert.Equal(t, []string{"555", "да", "01.03.2026 10:00", "", "нет"}, rows[1])
	assert.Equal(t, "777", rows[2][0])
	assert.Equal(t, "да", rows[2][4])
}

func TestThanksTop(t *testing.T) {
	f := newFixture(t, testToken)

	rec := f.do(http.MethodGet, "/api/thanks/top", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultTopLimit, f.thanks.limit)

	rec = f.do(http.MethodGet, "/api/thanks/top?limit=3", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, f.thanks.limit)

	rec = f.do(http.MethodGet, "/api/thanks/top?limit=0", true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartQR(t *testing.T) {
	f := newFixture(t, testToken)

	rec := f.do(http.MethodGet, "/api/start-qr", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))

	rec = f.do(http.MethodGet, "/api/start-qr?size=10", true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, "https://t.me/medrelay_bot?start", StartLink("medrelay_bot"))
}

func TestRunRetention(t *testing.T) {
	f := newFixture(t, testToken)

	rec := f.do(http.MethodPost, "/api/retention/run", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, f.ret.calls)

	f.ret.err = errors.New("news purge failed")
	rec = f.do(http.MethodPost, "/api/retention/run", true)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
