package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mem "hotlympics/adapters/memory"
	"hotlympics/analytics"
	"hotlympics/backoffice"
	"hotlympics/core"
	"hotlympics/engine"
	"hotlympics/fakeapi"
	"hotlympics/realtime"
	sdk "hotlympics/sdk/go"
)

type fixture struct {
	api     *fakeapi.Server
	svc     *backoffice.Service
	handler http.Handler
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	remote := fakeapi.New()
	srv := httptest.NewServer(remote.Handler())
	t.Cleanup(srv.Close)
	client, err := sdk.NewClient(srv.URL)
	require.NoError(t, err)

	svc, err := backoffice.New(
		backoffice.WithRemote(client),
		backoffice.WithStorage(mem.New()),
		backoffice.WithDispatchMode(engine.DispatchSync),
		backoffice.WithRealtime(realtime.NewHub()),
		backoffice.WithMetrics(analytics.NewMetrics("test")),
	)
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	if opts.PathPrefix == "" {
		opts.PathPrefix = "/api"
	}
	return &fixture{api: remote, svc: svc, handler: NewMux(svc, opts)}
}

func (f *fixture) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, Options{APIKeys: []string{"k1"}})
	rec := f.do(t, http.MethodGet, "/api/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode[map[string]any](t, rec)["status"])
}

func TestAPIKeyAuth(t *testing.T) {
	f := newFixture(t, Options{APIKeys: []string{"k1"}})

	rec := f.do(t, http.MethodGet, "/api/state", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/state", nil, "X-API-Key", "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/state", nil, "Authorization", "Bearer k1")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLeaderboardRoutes(t *testing.T) {
	f := newFixture(t, Options{Leaderboards: []string{"female-top50", "male-top50"}})
	f.api.AddUser("a@x.io", "female", "1990-01-01", fakeapi.PhotoSeed{Rating: 1500, Pooled: true})

	rec := f.do(t, http.MethodGet, "/api/leaderboards/female-top50", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[core.Snapshot](t, rec)
	assert.Len(t, snap.Entries, 1)

	rec = f.do(t, http.MethodGet, "/api/leaderboards/nope", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/leaderboards/female-top50?maxAge=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/leaderboards/refresh", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[map[string][]string](t, rec)
	assert.Equal(t, []string{"female-top50", "male-top50"}, res["success"])

	rec = f.do(t, http.MethodPost, "/api/leaderboards/male-top50/ensure?force=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode[map[string]any](t, rec)["fresh"])

	rec = f.do(t, http.MethodGet, "/api/leaderboards", nil)
	assert.ElementsMatch(t, []string{"female-top50", "male-top50"}, decode[map[string][]string](t, rec)["ids"])

	rec = f.do(t, http.MethodDelete, "/api/leaderboards/male-top50", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/leaderboards", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decode[map[string]any](t, rec)["cleared"])
}

func TestPhotoAndModalRoutes(t *testing.T) {
	f := newFixture(t, Options{})
	uid, ids := f.api.AddUser("a@x.io", "female", "1990-01-01",
		fakeapi.PhotoSeed{Pooled: true},
		fakeapi.PhotoSeed{Pooled: true},
		fakeapi.PhotoSeed{})
	u := string(uid)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/users", nil).Code)
	rec := f.do(t, http.MethodPost, "/api/users/"+u+"/expand", map[string]bool{"expanded": true})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/modal", map[string]any{"imageId": ids[2], "userId": uid})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[core.PhotoModal](t, rec).IsInPool)

	// pool is already full, rejected before the network
	rec = f.do(t, http.MethodPost, "/api/photos/"+string(ids[2])+"/pool", poolRequest{UserID: uid})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/photos/"+string(ids[0])+"/pool", poolRequest{UserID: uid, CurrentlyInPool: true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode[map[string]any](t, rec)["isInPool"])

	rec = f.do(t, http.MethodPost, "/api/photos/"+string(ids[2])+"/pool", poolRequest{UserID: uid})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode[map[string]any](t, rec)["isInPool"])
	assert.True(t, f.svc.Admin.State().Modal.IsInPool)

	rec = f.do(t, http.MethodDelete, "/api/photos/"+string(ids[2]), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/photos/"+string(ids[2])+"?userId="+u, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	st := f.svc.Admin.State()
	assert.Nil(t, st.Modal)
	assert.Equal(t, []core.ImageID{ids[1]}, st.Details[uid].User.PoolImageIDs)

	rec = f.do(t, http.MethodDelete, "/api/photos/"+string(ids[2])+"?userId="+u, nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/modal", map[string]any{"imageId": "ghost", "userId": uid})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/api/modal", nil).Code)
}

func TestUserDeleteNeedsTwoConfirmations(t *testing.T) {
	f := newFixture(t, Options{})
	uid, _ := f.api.AddUser("a@x.io", "male", "1990-01-01", fakeapi.PhotoSeed{})
	u := "/api/users/" + string(uid)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/users", nil).Code)

	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodDelete, u, nil).Code)
	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, u+"/delete-confirm", nil).Code)

	rec := f.do(t, http.MethodPost, u+"/delete-request", nil)
	assert.Equal(t, "confirm", decode[map[string]any](t, rec)["stage"])
	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodDelete, u, nil).Code)

	rec = f.do(t, http.MethodPost, u+"/delete-confirm", nil)
	assert.Equal(t, "final", decode[map[string]any](t, rec)["stage"])
	require.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, u, nil).Code)

	f.svc.Admin.Wait()
	_, ok := f.svc.Admin.State().User(uid)
	assert.False(t, ok)
	assert.Equal(t, 0, f.svc.Admin.Stats().TotalUsers)
}

func TestCreateUserRoute(t *testing.T) {
	f := newFixture(t, Options{})

	build := func(email, dob string) *http.Request {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		_ = mw.WriteField("email", email)
		_ = mw.WriteField("password", "secret1")
		_ = mw.WriteField("gender", "female")
		_ = mw.WriteField("dateOfBirth", dob)
		_ = mw.WriteField("poolImageIndices", "[0]")
		w, _ := mw.CreateFormFile("photos", "a.jpg")
		_, _ = w.Write([]byte("jpeg"))
		_ = mw.Close()
		req := httptest.NewRequest(http.MethodPost, "/api/users", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		return req
	}

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, build("not-an-email", "2015-01-01"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[apiError](t, rec)
	assert.Equal(t, "invalid_input", body.Code)
	assert.Len(t, body.Details, 2)

	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, build("new@hotlympics.test", "2000-01-01"))
	require.Equal(t, http.StatusCreated, rec.Code)
	id := core.UserID(decode[map[string]string](t, rec)["userId"])

	u, ok := f.svc.Admin.State().User(id)
	require.True(t, ok, "list reloaded after create")
	assert.Len(t, u.PoolImageIDs, 1)
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, Options{RateLimitEnabled: true, RateLimitRPM: 1, RateLimitBurst: 2})
	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/activity", nil).Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, f.do(t, http.MethodGet, "/api/activity", nil).Code)
	// health is never limited
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/healthz", nil).Code)
	// a different key gets its own bucket
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/activity", nil, "X-API-Key", "other").Code)
}

func TestRateLimiterEvictsIdleClients(t *testing.T) {
	l := newRateLimiter(60, 1, time.Minute)
	now := time.Unix(0, 0)
	l.now = func() time.Time { return now }
	require.True(t, l.allow("a"))
	require.False(t, l.allow("a"))
	now = now.Add(2 * time.Minute)
	require.True(t, l.allow("b"))
	assert.Equal(t, 1, l.size())
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, Options{AllowCORSOrigin: "https://admin.hotlympics.test"})
	req := httptest.NewRequest(http.MethodOptions, "/api/state", nil)
	req.Header.Set("Origin", "https://admin.hotlympics.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodDelete)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://admin.hotlympics.test", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, Options{})
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/state", nil).Code)

	rec := f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `test_http_requests_total{method="GET",route="/api/state",status="200"} 1`), rec.Body.String())
}

func TestUnknownRoute(t *testing.T) {
	f := newFixture(t, Options{})
	rec := f.do(t, http.MethodGet, "/api/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[apiError](t, rec).Code)
}

func TestBlankIdentifiersAreBadRequests(t *testing.T) {
	f := newFixture(t, Options{})
	uid, ids := f.api.AddUser("a@x.io", "female", "1990-01-01", fakeapi.PhotoSeed{})

	rec := f.do(t, http.MethodDelete, "/api/photos/%20%20?userId="+string(uid), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_input", decode[apiError](t, rec).Code)

	rec = f.do(t, http.MethodPost, "/api/photos/"+string(ids[0])+"/pool", poolRequest{UserID: "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_input", decode[apiError](t, rec).Code)

	// nothing reached the remote API
	details, err := f.svc.Admin.LoadDetails(context.Background(), uid)
	require.NoError(t, err)
	assert.Len(t, details.ImageData, 1)
	assert.Empty(t, details.User.PoolImageIDs)
}
