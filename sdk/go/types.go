package sdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"hotlympics/core"
)

// HealthStatus describes the /healthz response.
type HealthStatus struct {
	Status string         `json:"status"`
	Checks map[string]any `json:"checks"`
}

// ListUsersResponse is the body of GET /admin/users.
type ListUsersResponse struct {
	Users []core.AdminUser `json:"users"`
	Stats core.UserStats   `json:"stats"`
}

// PoolRequest is the body of POST /admin/images/{imageId}/pool.
type PoolRequest struct {
	UserID   core.UserID `json:"userId"`
	IsInPool bool        `json:"isInPool"`
}

// PoolResponse carries the server-confirmed membership.
type PoolResponse struct {
	IsInPool bool `json:"isInPool"`
}

// CreateUserResponse is the body returned by POST /admin/users.
type CreateUserResponse struct {
	UserID core.UserID `json:"userId"`
}

// APIError is a non-2xx answer from the API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// decodeJSON turns non-2xx responses into *APIError and decodes the rest into target.
func decodeJSON(resp *http.Response, target any) error {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newAPIError(resp)
	}
	if target == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(target)
}

func newAPIError(resp *http.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	msg := ""
	if json.Unmarshal(body, &payload) == nil {
		msg = payload.Error
		if msg == "" {
			msg = payload.Message
		}
	}
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}

var (
	// ErrEmptyUserID is returned when user id is empty.
	ErrEmptyUserID = core.ErrEmptyUserID
	// ErrEmptyImageID is returned when image id is empty.
	ErrEmptyImageID = core.ErrEmptyImageID
	// ErrEmptyLeaderboardID is returned when leaderboard id is empty.
	ErrEmptyLeaderboardID = errors.New("leaderboard id is required")
)
