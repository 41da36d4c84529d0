// Package fakeapi is an in-memory stand-in for the Hotlympics remote API.
// It serves the same routes the SDK calls and enforces the server-side pool
// rules, which makes it useful for demos and end-to-end tests.
package fakeapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"hotlympics/core"
	"hotlympics/leaderboard"
)

const (
	defaultPageSize = 50
	initialRating   = 1500
	maxUploadBytes  = 32 << 20
)

// placeholderJPEG is served for every image URL.
var placeholderJPEG = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00, 0xFF, 0xD9}

// Server holds users, images and one ranking per gender.
type Server struct {
	mu         sync.RWMutex
	users      map[core.UserID]*core.AdminUser
	images     map[core.ImageID]*core.ImageRecord
	boards     map[string]*leaderboard.SkipList
	updates    int64
	imageBase  string
	now        func() time.Time
	configVers int
}

// Option configures a Server.
type Option func(*Server)

// WithImageBaseURL sets the prefix used to build image URLs.
func WithImageBaseURL(base string) Option {
	return func(s *Server) { s.imageBase = strings.TrimSuffix(base, "/") }
}

// WithClock overrides the server clock.
func WithClock(now func() time.Time) Option { return func(s *Server) { s.now = now } }

// New returns an empty server.
func New(opts ...Option) *Server {
	s := &Server{
		users:      map[core.UserID]*core.AdminUser{},
		images:     map[core.ImageID]*core.ImageRecord{},
		boards:     map[string]*leaderboard.SkipList{},
		now:        time.Now,
		configVers: 1,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// PhotoSeed describes one uploaded photo when seeding a user.
type PhotoSeed struct {
	Rating  float64
	Battles int
	Wins    int
	Losses  int
	Pooled  bool
}

// AddUser inserts a user with the given photos and returns the generated ids.
func (s *Server) AddUser(email, gender, dob string, photos ...PhotoSeed) (core.UserID, []core.ImageID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := &core.AdminUser{
		ID:               core.UserID(uuid.NewString()),
		Email:            email,
		Gender:           gender,
		DateOfBirth:      dob,
		UploadedImageIDs: []core.ImageID{},
		PoolImageIDs:     []core.ImageID{},
		CreatedAt:        s.now().UTC(),
	}
	s.users[u.ID] = u
	ids := make([]core.ImageID, 0, len(photos))
	for _, p := range photos {
		id := s.addImageLocked(u, p.Rating)
		img := s.images[id]
		img.Battles, img.Wins, img.Losses = p.Battles, p.Wins, p.Losses
		img.Draws = max(0, p.Battles-p.Wins-p.Losses)
		if p.Pooled && len(u.PoolImageIDs) < core.MaxPoolSize {
			u.PoolImageIDs = append(u.PoolImageIDs, id)
			img.InPool = true
			s.rankLocked(u, img)
		}
		ids = append(ids, id)
	}
	return u.ID, ids
}

// Seed fills the server with n pseudo-random users. The same seed yields the
// same ratings and pool layout.
func (s *Server) Seed(n int, seed uint64) {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	genders := []string{"female", "male"}
	for i := 0; i < n; i++ {
		photos := make([]PhotoSeed, 1+rng.IntN(4))
		for j := range photos {
			battles := rng.IntN(200)
			wins := 0
			if battles > 0 {
				wins = rng.IntN(battles + 1)
			}
			photos[j] = PhotoSeed{
				Rating:  1000 + rng.Float64()*1000,
				Battles: battles,
				Wins:    wins,
				Losses:  battles - wins,
				Pooled:  j < core.MaxPoolSize && rng.IntN(3) > 0,
			}
		}
		year := 1975 + rng.IntN(30)
		s.AddUser(fmt.Sprintf("user%03d@hotlympics.test", i), genders[i%2],
			fmt.Sprintf("%d-%02d-%02d", year, 1+rng.IntN(12), 1+rng.IntN(28)), photos...)
	}
}

// Handler returns the HTTP routes of the API.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	r.HandleFunc("/leaderboards/{id}", s.getLeaderboard).Methods(http.MethodGet)
	r.HandleFunc("/images/{imageId}", s.serveImage).Methods(http.MethodGet)

	admin := r.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/stats", s.stats).Methods(http.MethodGet)
	admin.HandleFunc("/users", s.listUsers).Methods(http.MethodGet)
	admin.HandleFunc("/users", s.createUser).Methods(http.MethodPost)
	admin.HandleFunc("/users/{userId}", s.userDetails).Methods(http.MethodGet)
	admin.HandleFunc("/users/{userId}", s.deleteUser).Methods(http.MethodDelete)
	admin.HandleFunc("/images/{imageId}", s.deleteImage).Methods(http.MethodDelete)
	admin.HandleFunc("/images/{imageId}/pool", s.setPool).Methods(http.MethodPost)
	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	n := len(s.users)
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, map[string]any{"status": "healthy", "checks": map[string]any{"users": n}})
}

// getLeaderboard serves ids of the form "<gender>-top<n>".
func (s *Server) getLeaderboard(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	gender, n, err := parseBoardID(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.mu.RLock()
	var entries []core.Entry
	if b, ok := s.boards[gender]; ok {
		entries = b.TopN(n)
	}
	updates := s.updates
	s.mu.RUnlock()
	if entries == nil {
		entries = []core.Entry{}
	}
	writeJSON(w, http.StatusOK, core.Snapshot{
		Entries: entries,
		Metadata: core.Metadata{
			GeneratedAt:   s.now().UTC(),
			UpdateCount:   updates,
			DataQuality:   map[string]bool{"complete": true},
			ConfigVersion: s.configVers,
			ConfigKey:     id,
		},
	})
}

func parseBoardID(id string) (string, int, error) {
	gender, rest, ok := strings.Cut(id, "-top")
	if !ok || gender == "" {
		return "", 0, fmt.Errorf("unknown leaderboard %q", id)
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n <= 0 {
		return "", 0, fmt.Errorf("unknown leaderboard %q", id)
	}
	return gender, n, nil
}

func (s *Server) serveImage(w http.ResponseWriter, r *http.Request) {
	id := core.ImageID(mux.Vars(r)["imageId"])
	s.mu.RLock()
	_, ok := s.images[id]
	s.mu.RUnlock()
	if !ok {
		writeError(w, http.StatusNotFound, "image not found")
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	_, _ = w.Write(placeholderJPEG)
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	writeJSON(w, http.StatusOK, s.statsLocked())
}

func (s *Server) statsLocked() core.UserStats {
	st := core.UserStats{TotalUsers: len(s.users), TotalImages: len(s.images)}
	for _, u := range s.users {
		if len(u.PoolImageIDs) > 0 {
			st.PooledUsers++
		}
	}
	return st
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := defaultPageSize
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	search := strings.ToLower(strings.TrimSpace(q.Get("search")))
	startAfter := core.UserID(q.Get("startAfter"))

	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]core.AdminUser, 0, len(s.users))
	for _, u := range s.users {
		if search != "" && !strings.Contains(strings.ToLower(u.Email), search) && string(u.ID) != search {
			continue
		}
		all = append(all, u.Clone())
	}
	slices.SortFunc(all, func(a, b core.AdminUser) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(string(a.ID), string(b.ID))
	})
	if startAfter != "" {
		if i := slices.IndexFunc(all, func(u core.AdminUser) bool { return u.ID == startAfter }); i >= 0 {
			all = all[i+1:]
		}
	}
	if len(all) > limit {
		all = all[:limit]
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": all, "stats": s.statsLocked()})
}

func (s *Server) userDetails(w http.ResponseWriter, r *http.Request) {
	id := core.UserID(mux.Vars(r)["userId"])
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	records := make([]core.ImageRecord, 0, len(u.UploadedImageIDs))
	for _, imgID := range u.UploadedImageIDs {
		if img, ok := s.images[imgID]; ok {
			records = append(records, *img)
		}
	}
	writeJSON(w, http.StatusOK, core.UserDetails{User: u.Clone(), ImageData: records})
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	form := core.CreateUserForm{
		Email:       r.FormValue("email"),
		Password:    r.FormValue("password"),
		Gender:      r.FormValue("gender"),
		DateOfBirth: r.FormValue("dateOfBirth"),
	}
	if raw := r.FormValue("poolImageIndices"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &form.PoolIndices); err != nil {
			writeError(w, http.StatusBadRequest, "poolImageIndices must be a JSON array")
			return
		}
	}
	for _, fh := range r.MultipartForm.File["photos"] {
		f, err := fh.Open()
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		data, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		form.Photos = append(form.Photos, core.PhotoUpload{Name: fh.Filename, ContentType: fh.Header.Get("Content-Type"), Data: data})
	}
	if err := core.ValidateCreateUser(form, s.now()); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, form.Email) {
			writeError(w, http.StatusConflict, "email already registered")
			return
		}
	}
	u := &core.AdminUser{
		ID:               core.UserID(uuid.NewString()),
		Email:            strings.TrimSpace(form.Email),
		Gender:           form.Gender,
		DateOfBirth:      form.DateOfBirth,
		UploadedImageIDs: []core.ImageID{},
		PoolImageIDs:     []core.ImageID{},
		CreatedAt:        s.now().UTC(),
	}
	s.users[u.ID] = u
	ids := make([]core.ImageID, len(form.Photos))
	for i := range form.Photos {
		ids[i] = s.addImageLocked(u, initialRating)
	}
	for _, idx := range form.PoolIndices {
		img := s.images[ids[idx]]
		if img.InPool {
			continue
		}
		u.PoolImageIDs = append(u.PoolImageIDs, img.ImageID)
		img.InPool = true
		s.rankLocked(u, img)
	}
	s.updates++
	writeJSON(w, http.StatusCreated, map[string]any{"userId": u.ID})
}

func (s *Server) deleteUser(w http.ResponseWriter, r *http.Request) {
	id := core.UserID(mux.Vars(r)["userId"])
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	for _, imgID := range u.UploadedImageIDs {
		s.unrankLocked(u, imgID)
		delete(s.images, imgID)
	}
	delete(s.users, id)
	s.updates++
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteImage(w http.ResponseWriter, r *http.Request) {
	id := core.ImageID(mux.Vars(r)["imageId"])
	s.mu.Lock()
	defer s.mu.Unlock()
	img, ok := s.images[id]
	if !ok {
		writeError(w, http.StatusNotFound, "image not found")
		return
	}
	if u, ok := s.users[img.UserID]; ok {
		s.unrankLocked(u, id)
		u.UploadedImageIDs = core.RemoveID(u.UploadedImageIDs, id)
		u.PoolImageIDs = core.RemoveID(u.PoolImageIDs, id)
	}
	delete(s.images, id)
	s.updates++
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) setPool(w http.ResponseWriter, r *http.Request) {
	id := core.ImageID(mux.Vars(r)["imageId"])
	var req struct {
		UserID   core.UserID `json:"userId"`
		IsInPool bool        `json:"isInPool"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[req.UserID]
	if !ok {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	img, ok := s.images[id]
	if !ok || img.UserID != u.ID {
		writeError(w, http.StatusNotFound, "image not found for user")
		return
	}
	if req.IsInPool {
		if err := core.CheckPoolAdd(*u, id); err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, core.ErrPoolFull) {
				status = http.StatusConflict
			}
			writeError(w, status, err.Error())
			return
		}
		if !img.InPool {
			u.PoolImageIDs = core.InsertID(u.PoolImageIDs, id)
			img.InPool = true
			s.rankLocked(u, img)
		}
	} else if img.InPool {
		s.unrankLocked(u, id)
		u.PoolImageIDs = core.RemoveID(u.PoolImageIDs, id)
		img.InPool = false
	}
	s.updates++
	writeJSON(w, http.StatusOK, map[string]bool{"isInPool": img.InPool})
}

func (s *Server) addImageLocked(u *core.AdminUser, rating float64) core.ImageID {
	id := core.ImageID(uuid.NewString())
	s.images[id] = &core.ImageRecord{
		ID:       string(id),
		ImageID:  id,
		UserID:   u.ID,
		ImageURL: s.imageBase + "/images/" + string(id),
		Rating:   rating,
	}
	u.UploadedImageIDs = append(u.UploadedImageIDs, id)
	return id
}

func (s *Server) rankLocked(u *core.AdminUser, img *core.ImageRecord) {
	b, ok := s.boards[u.Gender]
	if !ok {
		b = leaderboard.NewSkipList()
		s.boards[u.Gender] = b
	}
	b.Update(core.Entry{
		ImageID:     img.ImageID,
		UserID:      u.ID,
		ImageURL:    img.ImageURL,
		Rating:      img.Rating,
		Gender:      u.Gender,
		Battles:     img.Battles,
		Wins:        img.Wins,
		Losses:      img.Losses,
		Draws:       img.Draws,
		DateOfBirth: u.DateOfBirth,
	})
}

func (s *Server) unrankLocked(u *core.AdminUser, id core.ImageID) {
	if b, ok := s.boards[u.Gender]; ok {
		b.Remove(id)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
