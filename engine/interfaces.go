package engine

import (
	"context"

	"hotlympics/core"
)

// Storage abstracts a raw key-value backend. Get returns core.ErrNotFound for
// missing keys; Keys lists every key starting with prefix in no particular order.
type Storage interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// PhotoAPI is the remote photo mutation surface.
type PhotoAPI interface {
	DeletePhoto(ctx context.Context, imageID core.ImageID) error
	// SetPoolMembership returns the server-confirmed membership.
	SetPoolMembership(ctx context.Context, imageID core.ImageID, userID core.UserID, inPool bool) (bool, error)
}

// UserAPI is the remote user mutation and listing surface.
type UserAPI interface {
	DeleteUser(ctx context.Context, userID core.UserID) error
	CreateUser(ctx context.Context, form core.CreateUserForm) (core.UserID, error)
	ListUsers(ctx context.Context, q core.ListUsersQuery) ([]core.AdminUser, core.UserStats, error)
	GetUserDetails(ctx context.Context, userID core.UserID) (core.UserDetails, error)
}

// StatsRefresher recomputes population statistics after a destructive change.
type StatsRefresher interface {
	RefreshStats(ctx context.Context) (core.UserStats, error)
}
