package core

import "time"

// EventType enumerates mutation events.
type EventType string

const (
	EventPhotoDeleted EventType = "photo_deleted"
	EventPoolToggled  EventType = "pool_toggled"
	EventUserDeleted  EventType = "user_deleted"
	EventUserCreated  EventType = "user_created"
)

// MutationStatus is the lifecycle stage of a mutation.
type MutationStatus string

const (
	StatusPending    MutationStatus = "pending"
	StatusReconciled MutationStatus = "reconciled"
	StatusRolledBack MutationStatus = "rolled_back"
)

// Event represents an immutable mutation event.
type Event struct {
	Type    EventType      `json:"type"`
	Status  MutationStatus `json:"status"`
	Time    time.Time      `json:"time"`
	UserID  UserID         `json:"user_id,omitempty"`
	ImageID ImageID        `json:"image_id,omitempty"`
	InPool  *bool          `json:"in_pool,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// PhotoDeleted is the server-confirmed result of a photo delete.
type PhotoDeleted struct {
	ImageID ImageID
	UserID  UserID
}

// PoolToggled is the server-confirmed pool membership of a photo.
type PoolToggled struct {
	ImageID  ImageID
	UserID   UserID
	IsInPool bool
}

// UserDeleted is the server-confirmed removal of a user.
type UserDeleted struct {
	UserID UserID
}

func NewMutationEvent(typ EventType, status MutationStatus, user UserID, image ImageID) Event {
	return Event{Type: typ, Status: status, Time: time.Now().UTC(), UserID: user, ImageID: image}
}

// NewPoolToggled reports a reconciled pool change.
func NewPoolToggled(ev PoolToggled) Event {
	in := ev.IsInPool
	e := NewMutationEvent(EventPoolToggled, StatusReconciled, ev.UserID, ev.ImageID)
	e.InPool = &in
	return e
}

// NewRolledBack reports a mutation that failed remotely.
func NewRolledBack(typ EventType, user UserID, image ImageID, err error) Event {
	e := NewMutationEvent(typ, StatusRolledBack, user, image)
	if err != nil {
		e.Error = err.Error()
	}
	return e
}
