package core

import (
	"errors"
	"strings"
	"time"
)

// UserID uniquely identifies an account managed by the back office.
type UserID string

// ImageID uniquely identifies an uploaded photo.
type ImageID string

// MaxPoolSize is the number of photos a user may have in the rating pool.
const MaxPoolSize = 2

var (
	// ErrNotFound is returned by storage backends for missing keys.
	ErrNotFound = errors.New("key not found")
	// ErrQuotaExceeded is returned by storage backends that are out of space.
	ErrQuotaExceeded = errors.New("storage quota exceeded")
	// ErrPoolFull rejects adding a photo to a pool that already holds MaxPoolSize photos.
	ErrPoolFull = errors.New("pool already holds the maximum number of photos")
	// ErrNotUploaded rejects pooling a photo the user does not own.
	ErrNotUploaded = errors.New("photo is not one of the user's uploads")
	// ErrEmptyUserID rejects a blank user identifier.
	ErrEmptyUserID = errors.New("user id is required")
	// ErrEmptyImageID rejects a blank image identifier.
	ErrEmptyImageID = errors.New("image id is required")
)

// Entry is one ranked image inside a leaderboard snapshot.
type Entry struct {
	ImageID     ImageID `json:"imageId"`
	UserID      UserID  `json:"userId"`
	ImageURL    string  `json:"imageUrl"`
	Rating      float64 `json:"rating"`
	Gender      string  `json:"gender"`
	Battles     int     `json:"battles"`
	Wins        int     `json:"wins"`
	Losses      int     `json:"losses"`
	Draws       int     `json:"draws"`
	DateOfBirth string  `json:"dateOfBirth,omitempty"`
}

// Metadata describes how and when a snapshot was generated.
type Metadata struct {
	GeneratedAt   time.Time       `json:"generatedAt"`
	UpdateCount   int64           `json:"updateCount"`
	DataQuality   map[string]bool `json:"dataQuality,omitempty"`
	ConfigVersion int             `json:"configVersion"`
	ConfigKey     string          `json:"configKey"`
}

// Snapshot is an ordered ranking plus its generation metadata.
// Entry order is rank order.
type Snapshot struct {
	Entries  []Entry  `json:"entries"`
	Metadata Metadata `json:"metadata"`
}

// CacheRecord is the persisted form of a snapshot.
// StoredAt is the client clock reading at write time in Unix milliseconds.
type CacheRecord struct {
	Entries  []Entry  `json:"entries"`
	Metadata Metadata `json:"metadata"`
	StoredAt int64    `json:"storedAt"`
}

// Snapshot returns the ranking data held by the record.
func (r CacheRecord) Snapshot() Snapshot {
	return Snapshot{Entries: r.Entries, Metadata: r.Metadata}
}

// ImageURLs lists the image URL of every entry that has one, in rank order.
func (s Snapshot) ImageURLs() []string {
	out := make([]string, 0, len(s.Entries))
	for _, e := range s.Entries {
		if e.ImageURL != "" {
			out = append(out, e.ImageURL)
		}
	}
	return out
}

// AdminUser is a user row as seen by the back office.
// UploadedImageIDs and PoolImageIDs have set semantics; order is preserved for display.
type AdminUser struct {
	ID               UserID    `json:"id"`
	Email            string    `json:"email"`
	Gender           string    `json:"gender"`
	DateOfBirth      string    `json:"dateOfBirth"`
	UploadedImageIDs []ImageID `json:"uploadedImageIds"`
	PoolImageIDs     []ImageID `json:"poolImageIds"`
	RateCount        int       `json:"rateCount"`
	CreatedAt        time.Time `json:"createdAt,omitempty"`
}

// Clone returns a deep copy of the user.
func (u AdminUser) Clone() AdminUser {
	cp := u
	cp.UploadedImageIDs = cloneIDs(u.UploadedImageIDs)
	cp.PoolImageIDs = cloneIDs(u.PoolImageIDs)
	return cp
}

// InPool reports whether the image is one of the user's pool photos.
func (u AdminUser) InPool(id ImageID) bool { return ContainsID(u.PoolImageIDs, id) }

// Owns reports whether the image is one of the user's uploads.
func (u AdminUser) Owns(id ImageID) bool { return ContainsID(u.UploadedImageIDs, id) }

// ImageRecord is a photo with its rating statistics.
// InPool mirrors the owner's PoolImageIDs and is never set on its own.
type ImageRecord struct {
	ID       string  `json:"id"`
	ImageID  ImageID `json:"imageId"`
	UserID   UserID  `json:"userId"`
	ImageURL string  `json:"imageUrl"`
	Battles  int     `json:"battles"`
	Wins     int     `json:"wins"`
	Losses   int     `json:"losses"`
	Draws    int     `json:"draws"`
	Rating   float64 `json:"rating"`
	InPool   bool    `json:"inPool"`
}

// UserDetails is the lazily loaded detail view of one user.
type UserDetails struct {
	User      AdminUser     `json:"user"`
	ImageData []ImageRecord `json:"imageData"`
}

// Clone returns a deep copy of the details.
func (d UserDetails) Clone() UserDetails {
	cp := UserDetails{User: d.User.Clone()}
	if d.ImageData != nil {
		cp.ImageData = append(make([]ImageRecord, 0, len(d.ImageData)), d.ImageData...)
	}
	return cp
}

// PhotoModal is the single open photo view.
type PhotoModal struct {
	Image    ImageRecord `json:"image"`
	IsInPool bool        `json:"isInPool"`
}

// UserStats summarises the user population as reported by the remote API.
type UserStats struct {
	TotalUsers  int `json:"totalUsers"`
	TotalImages int `json:"totalImages"`
	PooledUsers int `json:"pooledUsers"`
}

// ListUsersQuery pages through the remote user list.
type ListUsersQuery struct {
	Limit      int    `json:"limit,omitempty"`
	StartAfter string `json:"startAfter,omitempty"`
	Search     string `json:"search,omitempty"`
}

// PhotoUpload is one file attached to a user creation request.
type PhotoUpload struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Data        []byte `json:"data"`
}

// CreateUserForm is the input of a user creation request.
type CreateUserForm struct {
	Email       string        `json:"email"`
	Password    string        `json:"password,omitempty"`
	Gender      string        `json:"gender"`
	DateOfBirth string        `json:"dateOfBirth"`
	PoolIndices []int         `json:"poolIndices,omitempty"`
	Photos      []PhotoUpload `json:"photos,omitempty"`
}

// NormalizeUserID trims user identifiers.
func NormalizeUserID(id UserID) (UserID, error) {
	s := strings.TrimSpace(string(id))
	if s == "" {
		return "", ErrEmptyUserID
	}
	return UserID(s), nil
}

// NormalizeImageID trims image identifiers.
func NormalizeImageID(id ImageID) (ImageID, error) {
	s := strings.TrimSpace(string(id))
	if s == "" {
		return "", ErrEmptyImageID
	}
	return ImageID(s), nil
}

// ContainsID reports whether id is in ids.
func ContainsID(ids []ImageID, id ImageID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// RemoveID returns a new slice without id.
func RemoveID(ids []ImageID, id ImageID) []ImageID {
	out := make([]ImageID, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// InsertID returns a new slice with id appended unless already present.
func InsertID(ids []ImageID, id ImageID) []ImageID {
	out := cloneIDs(ids)
	if out == nil {
		out = []ImageID{}
	}
	if ContainsID(out, id) {
		return out
	}
	return append(out, id)
}

func cloneIDs(ids []ImageID) []ImageID {
	if ids == nil {
		return nil
	}
	return append(make([]ImageID, 0, len(ids)), ids...)
}
