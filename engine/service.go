package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"hotlympics/core"
	"hotlympics/state"
)

var (
	// ErrMutationPending rejects a second mutation on an id that already has one in flight.
	ErrMutationPending = errors.New("a mutation is already in flight for this id")
	// ErrDeleteNotConfirmed rejects a user delete that skipped a confirmation step.
	ErrDeleteNotConfirmed = errors.New("user delete has not been confirmed")
	// ErrDetailsNotLoaded is returned when an operation needs a user's details first.
	ErrDetailsNotLoaded = errors.New("user details not loaded")
	// ErrImageNotFound is returned when a photo is not part of the loaded details.
	ErrImageNotFound = errors.New("image not found")
)

// MutationError is a remote failure surfaced after local state was left untouched.
type MutationError struct {
	Op  string
	ID  string
	Err error
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Op, e.ID, e.Err)
}

func (e *MutationError) Unwrap() error { return e.Err }

// DeleteStage tracks the two-step confirmation before a user delete.
type DeleteStage int

const (
	DeleteIdle DeleteStage = iota
	DeleteConfirm
	DeleteFinal
)

func (s DeleteStage) String() string {
	switch s {
	case DeleteConfirm:
		return "confirm"
	case DeleteFinal:
		return "final"
	default:
		return "idle"
	}
}

// AdminService coordinates photo and user mutations. Each mutation marks its
// id pending, calls the remote API, and on success applies one reconciliation
// transform built from the server's answer. On failure nothing but the pending
// mark is touched.
type AdminService struct {
	photos PhotoAPI
	users  UserAPI
	stats  StatsRefresher
	state  *state.Store
	bus    *EventBus
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	stages    map[core.UserID]DeleteStage
	lastQuery core.ListUsersQuery
	lastStats core.UserStats

	background sync.WaitGroup
}

// ServiceOption configures an AdminService.
type ServiceOption func(*AdminService)

// WithStatsRefresher sets the collaborator triggered after a user delete.
func WithStatsRefresher(r StatsRefresher) ServiceOption {
	return func(s *AdminService) { s.stats = r }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *AdminService) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the clock used for age checks.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *AdminService) {
		if now != nil {
			s.now = now
		}
	}
}

func NewAdminService(photos PhotoAPI, users UserAPI, st *state.Store, bus *EventBus, opts ...ServiceOption) *AdminService {
	if photos == nil || users == nil || st == nil {
		panic("NewAdminService requires non-nil photos, users, and state")
	}
	if bus == nil {
		bus = NewEventBus(DispatchSync)
	}
	s := &AdminService{
		photos: photos,
		users:  users,
		state:  st,
		bus:    bus,
		logger: slog.Default(),
		now:    time.Now,
		stages: map[core.UserID]DeleteStage{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// State returns a snapshot of the client collections.
func (s *AdminService) State() state.State { return s.state.Snapshot() }

// Pending lists ids with an in-flight mutation.
func (s *AdminService) Pending() []string { return s.state.Pending() }

// Stats returns the most recent population statistics.
func (s *AdminService) Stats() core.UserStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastStats
}

// Subscribe convenience method.
func (s *AdminService) Subscribe(typ core.EventType, handler func(context.Context, core.Event)) func() {
	return s.bus.Subscribe(typ, handler)
}

// Wait blocks until fire-and-forget work such as stats refreshes has finished.
func (s *AdminService) Wait() { s.background.Wait() }

// DeletePhoto deletes a photo remotely and then removes it from every collection.
func (s *AdminService) DeletePhoto(ctx context.Context, imageID core.ImageID, userID core.UserID) error {
	imageID, userID, err := normalizePair(imageID, userID)
	if err != nil {
		return err
	}
	key := state.PhotoKey(imageID)
	if !s.state.TryMark(key) {
		return fmt.Errorf("delete photo %s: %w", imageID, ErrMutationPending)
	}
	defer s.state.Unmark(key)

	s.bus.Publish(ctx, core.NewMutationEvent(core.EventPhotoDeleted, core.StatusPending, userID, imageID))
	if err := s.photos.DeletePhoto(ctx, imageID); err != nil {
		s.bus.Publish(ctx, core.NewRolledBack(core.EventPhotoDeleted, userID, imageID, err))
		return &MutationError{Op: "delete photo", ID: string(imageID), Err: err}
	}

	ev := core.PhotoDeleted{ImageID: imageID, UserID: userID}
	if s.reconcile("delete photo", func(st state.State) state.State { return state.ApplyPhotoDelete(st, ev) }) {
		s.bus.Publish(ctx, core.NewMutationEvent(core.EventPhotoDeleted, core.StatusReconciled, userID, imageID))
	}
	s.logger.Info("photo deleted", "image_id", imageID, "user_id", userID)
	return nil
}

// TogglePool asks the server to flip a photo's pool membership and returns the
// confirmed value. Nothing flips locally before the server answers.
func (s *AdminService) TogglePool(ctx context.Context, imageID core.ImageID, userID core.UserID, currentlyInPool bool) (bool, error) {
	imageID, userID, err := normalizePair(imageID, userID)
	if err != nil {
		return currentlyInPool, err
	}
	desired := !currentlyInPool
	if desired {
		if u, ok := s.state.Snapshot().KnownUser(userID); ok {
			if err := core.CheckPoolAdd(u, imageID); err != nil {
				return currentlyInPool, err
			}
		}
	}

	key := state.PhotoKey(imageID)
	if !s.state.TryMark(key) {
		return currentlyInPool, fmt.Errorf("toggle pool %s: %w", imageID, ErrMutationPending)
	}
	defer s.state.Unmark(key)

	s.bus.Publish(ctx, core.NewMutationEvent(core.EventPoolToggled, core.StatusPending, userID, imageID))
	confirmed, err := s.photos.SetPoolMembership(ctx, imageID, userID, desired)
	if err != nil {
		s.bus.Publish(ctx, core.NewRolledBack(core.EventPoolToggled, userID, imageID, err))
		return currentlyInPool, &MutationError{Op: "toggle pool", ID: string(imageID), Err: err}
	}

	ev := core.PoolToggled{ImageID: imageID, UserID: userID, IsInPool: confirmed}
	if s.reconcile("toggle pool", func(st state.State) state.State { return state.ApplyPoolToggle(st, ev) }) {
		s.bus.Publish(ctx, core.NewPoolToggled(ev))
	}
	s.logger.Info("pool membership changed", "image_id", imageID, "user_id", userID, "in_pool", confirmed)
	return confirmed, nil
}

// RequestUserDelete opens the first confirmation step.
func (s *AdminService) RequestUserDelete(userID core.UserID) DeleteStage {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stages[userID] = DeleteConfirm
	return DeleteConfirm
}

// ConfirmUserDelete advances from the first to the final confirmation step.
func (s *AdminService) ConfirmUserDelete(userID core.UserID) (DeleteStage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.stages[userID] {
	case DeleteConfirm, DeleteFinal:
		s.stages[userID] = DeleteFinal
		return DeleteFinal, nil
	default:
		return DeleteIdle, ErrDeleteNotConfirmed
	}
}

// CancelUserDelete abandons any confirmation in progress.
func (s *AdminService) CancelUserDelete(userID core.UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.stages, userID)
}

// DeleteStageOf reports the confirmation step of a user.
func (s *AdminService) DeleteStageOf(userID core.UserID) DeleteStage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stages[userID]
}

// DeleteUser removes a user after both confirmation steps. A remote failure
// keeps the confirmation so the caller can retry.
func (s *AdminService) DeleteUser(ctx context.Context, userID core.UserID) error {
	userID, err := core.NormalizeUserID(userID)
	if err != nil {
		return err
	}
	if s.DeleteStageOf(userID) != DeleteFinal {
		return fmt.Errorf("delete user %s: %w", userID, ErrDeleteNotConfirmed)
	}
	key := state.UserKey(userID)
	if !s.state.TryMark(key) {
		return fmt.Errorf("delete user %s: %w", userID, ErrMutationPending)
	}
	defer s.state.Unmark(key)

	s.bus.Publish(ctx, core.NewMutationEvent(core.EventUserDeleted, core.StatusPending, userID, ""))
	if err := s.users.DeleteUser(ctx, userID); err != nil {
		s.bus.Publish(ctx, core.NewRolledBack(core.EventUserDeleted, userID, "", err))
		return &MutationError{Op: "delete user", ID: string(userID), Err: err}
	}

	ev := core.UserDeleted{UserID: userID}
	applied := s.reconcile("delete user", func(st state.State) state.State { return state.ApplyUserDelete(st, ev) })
	s.CancelUserDelete(userID)
	s.logger.Info("user deleted", "user_id", userID)
	if applied {
		s.bus.Publish(ctx, core.NewMutationEvent(core.EventUserDeleted, core.StatusReconciled, userID, ""))
		s.refreshStatsAsync(ctx)
	}
	return nil
}

// CreateUser validates the form locally, creates the user remotely and then
// reloads the user list instead of splicing in a partial row.
func (s *AdminService) CreateUser(ctx context.Context, form core.CreateUserForm) (core.UserID, error) {
	if err := core.ValidateCreateUser(form, s.now()); err != nil {
		return "", err
	}
	s.bus.Publish(ctx, core.NewMutationEvent(core.EventUserCreated, core.StatusPending, "", ""))
	id, err := s.users.CreateUser(ctx, form)
	if err != nil {
		s.bus.Publish(ctx, core.NewRolledBack(core.EventUserCreated, "", "", err))
		return "", &MutationError{Op: "create user", ID: form.Email, Err: err}
	}
	s.bus.Publish(ctx, core.NewMutationEvent(core.EventUserCreated, core.StatusReconciled, id, ""))
	s.logger.Info("user created", "user_id", id)

	s.mu.Lock()
	q := s.lastQuery
	s.mu.Unlock()
	if _, err := s.ReloadUsers(ctx, q); err != nil {
		s.logger.Warn("user list reload after create failed", "user_id", id, "error", err)
	}
	return id, nil
}

// ReloadUsers replaces the user list with a fresh page from the server.
func (s *AdminService) ReloadUsers(ctx context.Context, q core.ListUsersQuery) (core.UserStats, error) {
	users, stats, err := s.users.ListUsers(ctx, q)
	if err != nil {
		return core.UserStats{}, fmt.Errorf("list users: %w", err)
	}
	s.reconcile("reload users", func(st state.State) state.State { return state.ApplyUsersLoaded(st, users) })
	s.mu.Lock()
	s.lastQuery = q
	s.lastStats = stats
	s.mu.Unlock()
	return stats, nil
}

// LoadDetails fetches one user's detail view into the detail map.
func (s *AdminService) LoadDetails(ctx context.Context, userID core.UserID) (core.UserDetails, error) {
	userID, err := core.NormalizeUserID(userID)
	if err != nil {
		return core.UserDetails{}, err
	}
	d, err := s.users.GetUserDetails(ctx, userID)
	if err != nil {
		return core.UserDetails{}, fmt.Errorf("load details %s: %w", userID, err)
	}
	s.reconcile("load details", func(st state.State) state.State { return state.ApplyDetailsLoaded(st, d) })
	return d, nil
}

// ExpandUser expands or collapses a user row, loading details on first expand.
func (s *AdminService) ExpandUser(ctx context.Context, userID core.UserID, expanded bool) error {
	s.reconcile("expand user", func(st state.State) state.State { return state.ApplyExpand(st, userID, expanded) })
	if !expanded {
		return nil
	}
	if _, loaded := s.state.Snapshot().Details[userID]; loaded {
		return nil
	}
	_, err := s.LoadDetails(ctx, userID)
	return err
}

// OpenModal opens the photo modal on a photo from loaded details.
func (s *AdminService) OpenModal(imageID core.ImageID, userID core.UserID) (core.PhotoModal, error) {
	d, ok := s.state.Snapshot().Details[userID]
	if !ok {
		return core.PhotoModal{}, fmt.Errorf("open modal for %s: %w", userID, ErrDetailsNotLoaded)
	}
	for _, rec := range d.ImageData {
		if rec.ImageID != imageID {
			continue
		}
		var opened core.PhotoModal
		if !s.reconcile("open modal", func(st state.State) state.State {
			next := state.ApplyModalOpen(st, rec)
			opened = *next.Modal
			return next
		}) {
			return core.PhotoModal{}, fmt.Errorf("open modal %s: %w", imageID, state.ErrClosed)
		}
		return opened, nil
	}
	return core.PhotoModal{}, fmt.Errorf("open modal %s: %w", imageID, ErrImageNotFound)
}

// CloseModal closes the photo modal.
func (s *AdminService) CloseModal() {
	s.reconcile("close modal", state.ApplyModalClose)
}

// reconcile applies fn to the live state and reports whether it did. A closed
// store means the view that started the mutation is gone, so the result is
// dropped and no reconciled event follows.
func (s *AdminService) reconcile(op string, fn func(state.State) state.State) bool {
	if err := s.state.Apply(fn); err != nil {
		s.logger.Debug("reconciliation dropped", "op", op, "error", err)
		return false
	}
	return true
}

func (s *AdminService) refreshStatsAsync(ctx context.Context) {
	if s.stats == nil {
		return
	}
	bg := context.WithoutCancel(ctx)
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		stats, err := s.stats.RefreshStats(bg)
		if err != nil {
			s.logger.Warn("stats refresh failed", "error", err)
			return
		}
		s.mu.Lock()
		s.lastStats = stats
		s.mu.Unlock()
	}()
}

func normalizePair(imageID core.ImageID, userID core.UserID) (core.ImageID, core.UserID, error) {
	img, err := core.NormalizeImageID(imageID)
	if err != nil {
		return "", "", err
	}
	user, err := core.NormalizeUserID(userID)
	if err != nil {
		return "", "", err
	}
	return img, user, nil
}
