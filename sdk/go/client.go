package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"hotlympics/core"
)

// TokenSource supplies the bearer token for each request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource that never changes.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }

// TokenFunc adapts a function to TokenSource.
type TokenFunc func(ctx context.Context) (string, error)

func (f TokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// Option configures the Client.
type Option func(*Client)

// Client provides typed access to the Hotlympics HTTP API. It satisfies the
// photo, user, stats and leaderboard collaborator interfaces of the back office.
type Client struct {
	baseURL    string
	wsURL      string
	httpClient *http.Client
	headers    http.Header
	tokens     TokenSource
}

// NewClient constructs a new SDK client targeting the given baseURL (e.g., https://api.hotlympics.example).
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("baseURL is required")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	c := &Client{
		baseURL:    baseURL,
		wsURL:      deriveWSURL(baseURL),
		httpClient: http.DefaultClient,
		headers:    make(http.Header),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithAuthToken sends a fixed bearer token with every request (HTTP + WS).
func WithAuthToken(token string) Option {
	return func(c *Client) {
		if strings.TrimSpace(token) != "" {
			c.tokens = StaticToken(token)
		}
	}
}

// WithTokenSource resolves the bearer token per request, e.g. from a refreshing session.
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// WithAPIKey adds an X-API-Key header.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		if strings.TrimSpace(key) != "" {
			c.headers.Set("X-API-Key", key)
		}
	}
}

// WithHeader sets an arbitrary header applied to HTTP and WS calls.
func WithHeader(k, v string) Option {
	return func(c *Client) {
		if k != "" {
			c.headers.Set(k, v)
		}
	}
}

// WithEventsURL overrides the WebSocket URL used by SubscribeEvents.
func WithEventsURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.wsURL = u
		}
	}
}

// FetchLeaderboard returns the current snapshot of a leaderboard.
func (c *Client) FetchLeaderboard(ctx context.Context, id string) (core.Snapshot, error) {
	if strings.TrimSpace(id) == "" {
		return core.Snapshot{}, ErrEmptyLeaderboardID
	}
	var snap core.Snapshot
	err := c.doJSON(ctx, http.MethodGet, "/leaderboards/"+url.PathEscape(id), nil, &snap)
	return snap, err
}

// DeletePhoto deletes an image.
func (c *Client) DeletePhoto(ctx context.Context, imageID core.ImageID) error {
	if strings.TrimSpace(string(imageID)) == "" {
		return ErrEmptyImageID
	}
	return c.doJSON(ctx, http.MethodDelete, "/admin/images/"+url.PathEscape(string(imageID)), nil, nil)
}

// SetPoolMembership asks the server to add or remove an image from the user's
// pool and returns the membership it settled on.
func (c *Client) SetPoolMembership(ctx context.Context, imageID core.ImageID, userID core.UserID, inPool bool) (bool, error) {
	if strings.TrimSpace(string(imageID)) == "" {
		return false, ErrEmptyImageID
	}
	if strings.TrimSpace(string(userID)) == "" {
		return false, ErrEmptyUserID
	}
	var out PoolResponse
	path := "/admin/images/" + url.PathEscape(string(imageID)) + "/pool"
	if err := c.doJSON(ctx, http.MethodPost, path, PoolRequest{UserID: userID, IsInPool: inPool}, &out); err != nil {
		return false, err
	}
	return out.IsInPool, nil
}

// DeleteUser deletes a user and all of their photos.
func (c *Client) DeleteUser(ctx context.Context, userID core.UserID) error {
	if strings.TrimSpace(string(userID)) == "" {
		return ErrEmptyUserID
	}
	return c.doJSON(ctx, http.MethodDelete, "/admin/users/"+url.PathEscape(string(userID)), nil, nil)
}

// CreateUser posts a multipart form with the account fields and photo files.
func (c *Client) CreateUser(ctx context.Context, form core.CreateUserForm) (core.UserID, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fields := [][2]string{
		{"email", form.Email},
		{"password", form.Password},
		{"gender", form.Gender},
		{"dateOfBirth", form.DateOfBirth},
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return "", err
		}
	}
	if len(form.PoolIndices) > 0 {
		b, _ := json.Marshal(form.PoolIndices)
		if err := mw.WriteField("poolImageIndices", string(b)); err != nil {
			return "", err
		}
	}
	for i, p := range form.Photos {
		name := p.Name
		if name == "" {
			name = "photo-" + strconv.Itoa(i) + ".jpg"
		}
		ct := p.ContentType
		if ct == "" {
			ct = "image/jpeg"
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="photos"; filename=%q`, name))
		h.Set("Content-Type", ct)
		w, err := mw.CreatePart(h)
		if err != nil {
			return "", err
		}
		if _, err := w.Write(p.Data); err != nil {
			return "", err
		}
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/admin/users", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	var out CreateUserResponse
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	return out.UserID, nil
}

// ListUsers returns one page of users plus population statistics.
func (c *Client) ListUsers(ctx context.Context, q core.ListUsersQuery) ([]core.AdminUser, core.UserStats, error) {
	v := url.Values{}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.StartAfter != "" {
		v.Set("startAfter", q.StartAfter)
	}
	if q.Search != "" {
		v.Set("search", q.Search)
	}
	path := "/admin/users"
	if len(v) > 0 {
		path += "?" + v.Encode()
	}
	var out ListUsersResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, core.UserStats{}, err
	}
	return out.Users, out.Stats, nil
}

// GetUserDetails returns a user with per-photo statistics.
func (c *Client) GetUserDetails(ctx context.Context, userID core.UserID) (core.UserDetails, error) {
	if strings.TrimSpace(string(userID)) == "" {
		return core.UserDetails{}, ErrEmptyUserID
	}
	var out core.UserDetails
	err := c.doJSON(ctx, http.MethodGet, "/admin/users/"+url.PathEscape(string(userID)), nil, &out)
	return out, err
}

// RefreshStats fetches population statistics.
func (c *Client) RefreshStats(ctx context.Context) (core.UserStats, error) {
	var out core.UserStats
	err := c.doJSON(ctx, http.MethodGet, "/admin/stats", nil, &out)
	return out, err
}

// Health probes /healthz.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	var hs HealthStatus
	err := c.doJSON(ctx, http.MethodGet, "/healthz", nil, &hs)
	return hs, err
}

// SubscribeEvents connects to the WebSocket stream and emits core.Event values.
// The returned channel closes when ctx is done or the connection drops.
func (c *Client) SubscribeEvents(ctx context.Context) (<-chan core.Event, error) {
	if c.wsURL == "" {
		return nil, errors.New("wsURL is not set; ensure baseURL is http/https")
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}
	hdr, err := c.requestHeaders(ctx)
	if err != nil {
		return nil, err
	}
	conn, _, err := dialer.DialContext(ctx, c.wsURL, hdr)
	if err != nil {
		return nil, err
	}

	out := make(chan core.Event, 32)
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	go func() {
		defer close(out)
		defer conn.Close()
		for {
			var evt core.Event
			if err := conn.ReadJSON(&evt); err != nil {
				return
			}
			select {
			case out <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	hdr, err := c.requestHeaders(ctx)
	if err != nil {
		return nil, err
	}
	for k, vals := range hdr {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeJSON(resp, out)
}

func (c *Client) requestHeaders(ctx context.Context) (http.Header, error) {
	hdr := c.headers.Clone()
	if c.tokens != nil {
		tok, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve auth token: %w", err)
		}
		if tok != "" {
			hdr.Set("Authorization", "Bearer "+tok)
		}
	}
	return hdr, nil
}

func deriveWSURL(httpBase string) string {
	u, err := url.Parse(httpBase)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		// leave as-is for custom schemes
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String()
}
