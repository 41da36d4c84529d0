package sdk

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotlympics/core"
	"hotlympics/engine"
	"hotlympics/leaderboard"
)

var (
	_ engine.PhotoAPI       = (*Client)(nil)
	_ engine.UserAPI        = (*Client)(nil)
	_ engine.StatsRefresher = (*Client)(nil)
	_ leaderboard.Fetcher   = (*Client)(nil)
)

type recorded struct {
	mu      sync.Mutex
	headers []http.Header
}

func (r *recorded) add(h http.Header) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.headers = append(r.headers, h.Clone())
}

func (r *recorded) last() http.Header {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.headers[len(r.headers)-1]
}

func newTestServer(rec *recorded) *httptest.Server {
	mux := http.NewServeMux()
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	writeJSON := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}

	mux.HandleFunc("/api/leaderboards/", func(w http.ResponseWriter, r *http.Request) {
		rec.add(r.Header)
		id := strings.TrimPrefix(r.URL.Path, "/api/leaderboards/")
		if id == "missing" {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "leaderboard not found"})
			return
		}
		writeJSON(w, http.StatusOK, core.Snapshot{
			Entries:  []core.Entry{{ImageID: "img1", UserID: "u1", Rating: 1500}},
			Metadata: core.Metadata{ConfigKey: id, UpdateCount: 3},
		})
	})
	mux.HandleFunc("/api/admin/images/", func(w http.ResponseWriter, r *http.Request) {
		rec.add(r.Header)
		path := strings.TrimPrefix(r.URL.Path, "/api/admin/images/")
		switch {
		case r.Method == http.MethodDelete && path == "locked":
			http.Error(w, "nope", http.StatusForbidden)
		case r.Method == http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodPost && strings.HasSuffix(path, "/pool"):
			var req PoolRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
				writeJSON(w, http.StatusBadRequest, map[string]string{"message": "bad pool request"})
				return
			}
			// server keeps the photo out of the pool regardless of the request
			writeJSON(w, http.StatusOK, PoolResponse{IsInPool: req.IsInPool && !strings.HasPrefix(path, "full")})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/admin/users", func(w http.ResponseWriter, r *http.Request) {
		rec.add(r.Header)
		switch r.Method {
		case http.MethodGet:
			q := r.URL.Query()
			users := []core.AdminUser{{ID: "u1", Email: "a@x.io"}}
			if q.Get("search") != "" {
				users = []core.AdminUser{{ID: core.UserID(q.Get("search") + "-" + q.Get("limit") + "-" + q.Get("startAfter"))}}
			}
			writeJSON(w, http.StatusOK, ListUsersResponse{Users: users, Stats: core.UserStats{TotalUsers: 1}})
		case http.MethodPost:
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
				return
			}
			files := r.MultipartForm.File["photos"]
			if r.FormValue("email") != "new@x.io" || len(files) != 2 || r.FormValue("poolImageIndices") != "[1]" {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unexpected form"})
				return
			}
			f, _ := files[0].Open()
			body, _ := io.ReadAll(f)
			_ = f.Close()
			if string(body) != "jpeg-bytes" || files[0].Header.Get("Content-Type") != "image/jpeg" {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unexpected file"})
				return
			}
			writeJSON(w, http.StatusCreated, CreateUserResponse{UserID: "new-user"})
		}
	})
	mux.HandleFunc("/api/admin/users/", func(w http.ResponseWriter, r *http.Request) {
		rec.add(r.Header)
		id := core.UserID(strings.TrimPrefix(r.URL.Path, "/api/admin/users/"))
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, core.UserDetails{
				User:      core.AdminUser{ID: id, PoolImageIDs: []core.ImageID{"img1"}},
				ImageData: []core.ImageRecord{{ImageID: "img1", UserID: id, InPool: true}},
			})
		case http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		}
	})
	mux.HandleFunc("/api/admin/stats", func(w http.ResponseWriter, r *http.Request) {
		rec.add(r.Header)
		writeJSON(w, http.StatusOK, core.UserStats{TotalUsers: 7, TotalImages: 20, PooledUsers: 5})
	})
	mux.HandleFunc("/api/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, HealthStatus{Status: "healthy"})
	})
	mux.HandleFunc("/api/ws", func(w http.ResponseWriter, r *http.Request) {
		rec.add(r.Header)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteJSON(core.NewMutationEvent(core.EventPhotoDeleted, core.StatusReconciled, "u1", "img1"))
		time.Sleep(50 * time.Millisecond)
	})
	return httptest.NewServer(mux)
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	_, err := NewClient("  ")
	require.Error(t, err)
}

func TestClient_LeaderboardAndStats(t *testing.T) {
	rec := &recorded{}
	srv := newTestServer(rec)
	defer srv.Close()

	client, err := NewClient(srv.URL+"/api/", WithAPIKey("k1"), WithHeader("X-Trace", "t1"))
	require.NoError(t, err)
	ctx := context.Background()

	snap, err := client.FetchLeaderboard(ctx, "female-top50")
	require.NoError(t, err)
	require.Len(t, snap.Entries, 1)
	assert.Equal(t, "female-top50", snap.Metadata.ConfigKey)
	assert.Equal(t, "k1", rec.last().Get("X-API-Key"))
	assert.Equal(t, "t1", rec.last().Get("X-Trace"))

	_, err = client.FetchLeaderboard(ctx, "missing")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "leaderboard not found", apiErr.Message)
	assert.True(t, IsStatus(err, http.StatusNotFound))

	_, err = client.FetchLeaderboard(ctx, "")
	assert.ErrorIs(t, err, ErrEmptyLeaderboardID)

	stats, err := client.RefreshStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, core.UserStats{TotalUsers: 7, TotalImages: 20, PooledUsers: 5}, stats)

	health, err := client.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
}

func TestClient_PhotoMutations(t *testing.T) {
	rec := &recorded{}
	srv := newTestServer(rec)
	defer srv.Close()

	client, err := NewClient(srv.URL+"/api", WithAuthToken("tok"))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, client.DeletePhoto(ctx, "img1"))
	assert.Equal(t, "Bearer tok", rec.last().Get("Authorization"))

	err = client.DeletePhoto(ctx, "locked")
	require.True(t, IsStatus(err, http.StatusForbidden))
	assert.Contains(t, err.Error(), "nope")

	in, err := client.SetPoolMembership(ctx, "img1", "u1", true)
	require.NoError(t, err)
	assert.True(t, in)

	in, err = client.SetPoolMembership(ctx, "full-img", "u1", true)
	require.NoError(t, err)
	assert.False(t, in, "server answer wins")

	_, err = client.SetPoolMembership(ctx, "img1", "", true)
	assert.ErrorIs(t, err, ErrEmptyUserID)
	assert.ErrorIs(t, client.DeletePhoto(ctx, " "), ErrEmptyImageID)
}

func TestClient_Users(t *testing.T) {
	rec := &recorded{}
	srv := newTestServer(rec)
	defer srv.Close()

	calls := 0
	client, err := NewClient(srv.URL+"/api", WithTokenSource(TokenFunc(func(context.Context) (string, error) {
		calls++
		return "rotating", nil
	})))
	require.NoError(t, err)
	ctx := context.Background()

	users, stats, err := client.ListUsers(ctx, core.ListUsersQuery{})
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, 1, stats.TotalUsers)

	users, _, err = client.ListUsers(ctx, core.ListUsersQuery{Limit: 20, StartAfter: "u9", Search: "bob"})
	require.NoError(t, err)
	assert.Equal(t, core.UserID("bob-20-u9"), users[0].ID)

	details, err := client.GetUserDetails(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, core.UserID("u1"), details.User.ID)
	assert.True(t, details.ImageData[0].InPool)

	id, err := client.CreateUser(ctx, core.CreateUserForm{
		Email:       "new@x.io",
		Password:    "secret1",
		Gender:      "female",
		DateOfBirth: "2000-01-01",
		PoolIndices: []int{1},
		Photos: []core.PhotoUpload{
			{Name: "a.jpg", Data: []byte("jpeg-bytes")},
			{Data: []byte("more")},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, core.UserID("new-user"), id)

	require.NoError(t, client.DeleteUser(ctx, "u1"))
	assert.Equal(t, "Bearer rotating", rec.last().Get("Authorization"))
	assert.Equal(t, 5, calls)
}

func TestClient_TokenSourceError(t *testing.T) {
	client, err := NewClient("http://127.0.0.1:1", WithTokenSource(TokenFunc(func(context.Context) (string, error) {
		return "", errors.New("session expired")
	})))
	require.NoError(t, err)

	_, err = client.RefreshStats(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session expired")
}

func TestClient_SubscribeEvents(t *testing.T) {
	rec := &recorded{}
	srv := newTestServer(rec)
	defer srv.Close()

	client, err := NewClient(srv.URL+"/api", WithAPIKey("k1"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	events, err := client.SubscribeEvents(ctx)
	require.NoError(t, err)

	select {
	case evt, ok := <-events:
		require.True(t, ok, "events channel closed early")
		assert.Equal(t, core.EventPhotoDeleted, evt.Type)
		assert.Equal(t, core.ImageID("img1"), evt.ImageID)
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
	}
	assert.Equal(t, "k1", rec.last().Get("X-API-Key"))
}

func TestDeriveWSURL(t *testing.T) {
	assert.Equal(t, "ws://localhost:8080/api/ws", deriveWSURL("http://localhost:8080/api"))
	assert.Equal(t, "wss://admin.example/ws", deriveWSURL("https://admin.example"))

	c, err := NewClient("http://x", WithEventsURL("ws://other/events"))
	require.NoError(t, err)
	assert.Equal(t, "ws://other/events", c.wsURL)
}
