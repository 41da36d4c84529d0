package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"hotlympics/core"
	"hotlympics/engine"
	"hotlympics/leaderboard"
)

const maxUploadBytes = 32 << 20

// health reports the service status along with a few cheap gauges.
func (a *api) health(w http.ResponseWriter, r *http.Request) {
	checks := map[string]any{
		"cached_leaderboards": len(a.svc.Leaderboards.IDs(r.Context())),
		"pending_mutations":   len(a.svc.Admin.Pending()),
	}
	if a.svc.Hub != nil {
		checks["ws_subscribers"] = a.svc.Hub.Subscribers()
		checks["ws_dropped"] = a.svc.Hub.Dropped()
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "healthy", "checks": checks})
}

func (a *api) activity(w http.ResponseWriter, r *http.Request) {
	day := r.URL.Query().Get("day")
	if day == "" {
		writeJSON(w, http.StatusOK, a.svc.Activity.Today())
		return
	}
	if _, err := time.Parse(core.DateLayout, day); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_day", "day must be YYYY-MM-DD", nil)
		return
	}
	writeJSON(w, http.StatusOK, a.svc.Activity.Day(day))
}

func (a *api) state(w http.ResponseWriter, r *http.Request) {
	st := a.svc.Admin.State()
	writeJSON(w, http.StatusOK, map[string]any{
		"users":    st.Users,
		"details":  st.Details,
		"modal":    st.Modal,
		"expanded": st.ExpandedIDs(),
		"pending":  a.svc.Admin.Pending(),
		"stats":    a.svc.Admin.Stats(),
	})
}

// Leaderboards

func (a *api) listLeaderboards(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ids": a.svc.Leaderboards.IDs(r.Context())})
}

func (a *api) getLeaderboard(w http.ResponseWriter, r *http.Request) {
	maxAge, ok := a.maxAge(w, r)
	if !ok {
		return
	}
	snap, err := a.svc.Leaderboards.Get(r.Context(), mux.Vars(r)["id"], maxAge)
	if err != nil {
		writeError(w, http.StatusBadGateway, "upstream_failed", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *api) refreshLeaderboard(w http.ResponseWriter, r *http.Request) {
	snap, err := a.svc.Leaderboards.Refresh(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadGateway, "upstream_failed", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *api) ensureLeaderboard(w http.ResponseWriter, r *http.Request) {
	maxAge, ok := a.maxAge(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	fresh := a.svc.Leaderboards.EnsureFresh(r.Context(), id, maxAge, a.ensureOptions(r))
	status := http.StatusOK
	if !fresh {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]any{"id": id, "fresh": fresh})
}

type refreshManyRequest struct {
	IDs     []string `json:"ids"`
	Force   bool     `json:"force"`
	Preload *bool    `json:"preload,omitempty"`
}

func (a *api) refreshLeaderboards(w http.ResponseWriter, r *http.Request) {
	var req refreshManyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error(), nil)
		return
	}
	maxAge, ok := a.maxAge(w, r)
	if !ok {
		return
	}
	ids := req.IDs
	if len(ids) == 0 {
		ids = a.opts.Leaderboards
	}
	opts := leaderboard.EnsureOptions{PreloadImages: a.opts.PreloadImages, Force: req.Force}
	if req.Preload != nil {
		opts.PreloadImages = *req.Preload
	}
	writeJSON(w, http.StatusOK, a.svc.Leaderboards.RefreshMany(r.Context(), ids, maxAge, opts))
}

func (a *api) clearLeaderboard(w http.ResponseWriter, r *http.Request) {
	a.svc.Leaderboards.Clear(r.Context(), mux.Vars(r)["id"])
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) clearLeaderboards(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"cleared": a.svc.Leaderboards.ClearAll(r.Context())})
}

func (a *api) maxAge(w http.ResponseWriter, r *http.Request) (time.Duration, bool) {
	raw := r.URL.Query().Get("maxAge")
	if raw == "" {
		return a.opts.CacheMaxAge, true
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		writeError(w, http.StatusBadRequest, "invalid_max_age", "maxAge must be a non-negative duration like 30s", nil)
		return 0, false
	}
	return d, true
}

func (a *api) ensureOptions(r *http.Request) leaderboard.EnsureOptions {
	q := r.URL.Query()
	opts := leaderboard.EnsureOptions{PreloadImages: a.opts.PreloadImages}
	if v, err := strconv.ParseBool(q.Get("preload")); err == nil {
		opts.PreloadImages = v
	}
	if v, err := strconv.ParseBool(q.Get("force")); err == nil {
		opts.Force = v
	}
	return opts
}

// Users

func (a *api) listUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := core.ListUsersQuery{StartAfter: q.Get("startAfter"), Search: q.Get("search")}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer", nil)
			return
		}
		query.Limit = n
	}
	stats, err := a.svc.Admin.ReloadUsers(r.Context(), query)
	if err != nil {
		a.writeMutationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": a.svc.Admin.State().Users, "stats": stats})
}

func (a *api) userDetails(w http.ResponseWriter, r *http.Request) {
	d, err := a.svc.Admin.LoadDetails(r.Context(), core.UserID(mux.Vars(r)["userId"]))
	if err != nil {
		a.writeMutationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (a *api) expandUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Expanded bool `json:"expanded"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error(), nil)
		return
	}
	id := core.UserID(mux.Vars(r)["userId"])
	if err := a.svc.Admin.ExpandUser(r.Context(), id, req.Expanded); err != nil {
		a.writeMutationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"userId": id, "expanded": req.Expanded})
}

func (a *api) createUser(w http.ResponseWriter, r *http.Request) {
	form, err := parseCreateForm(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_form", err.Error(), nil)
		return
	}
	id, err := a.svc.Admin.CreateUser(r.Context(), form)
	if err != nil {
		a.writeMutationError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"userId": id})
}

func parseCreateForm(r *http.Request) (core.CreateUserForm, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return core.CreateUserForm{}, err
	}
	form := core.CreateUserForm{
		Email:       r.FormValue("email"),
		Password:    r.FormValue("password"),
		Gender:      r.FormValue("gender"),
		DateOfBirth: r.FormValue("dateOfBirth"),
	}
	if raw := r.FormValue("poolImageIndices"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &form.PoolIndices); err != nil {
			return form, errors.New("poolImageIndices must be a JSON array of integers")
		}
	}
	for _, fh := range r.MultipartForm.File["photos"] {
		f, err := fh.Open()
		if err != nil {
			return form, err
		}
		data, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			return form, err
		}
		form.Photos = append(form.Photos, core.PhotoUpload{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Data:        data,
		})
	}
	return form, nil
}

func (a *api) requestDelete(w http.ResponseWriter, r *http.Request) {
	id := core.UserID(mux.Vars(r)["userId"])
	writeJSON(w, http.StatusOK, map[string]any{"userId": id, "stage": a.svc.Admin.RequestUserDelete(id).String()})
}

func (a *api) confirmDelete(w http.ResponseWriter, r *http.Request) {
	id := core.UserID(mux.Vars(r)["userId"])
	stage, err := a.svc.Admin.ConfirmUserDelete(id)
	if err != nil {
		a.writeMutationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"userId": id, "stage": stage.String()})
}

func (a *api) cancelDelete(w http.ResponseWriter, r *http.Request) {
	a.svc.Admin.CancelUserDelete(core.UserID(mux.Vars(r)["userId"]))
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) deleteUser(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.Admin.DeleteUser(r.Context(), core.UserID(mux.Vars(r)["userId"])); err != nil {
		a.writeMutationError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Photos

func (a *api) deletePhoto(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("userId"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, "invalid_user", "userId query parameter is required", nil)
		return
	}
	if err := a.svc.Admin.DeletePhoto(r.Context(), core.ImageID(mux.Vars(r)["imageId"]), core.UserID(userID)); err != nil {
		a.writeMutationError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type poolRequest struct {
	UserID          core.UserID `json:"userId"`
	CurrentlyInPool bool        `json:"currentlyInPool"`
}

func (a *api) togglePool(w http.ResponseWriter, r *http.Request) {
	var req poolRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error(), nil)
		return
	}
	if strings.TrimSpace(string(req.UserID)) == "" {
		writeError(w, http.StatusBadRequest, "invalid_user", "userId is required", nil)
		return
	}
	in, err := a.svc.Admin.TogglePool(r.Context(), core.ImageID(mux.Vars(r)["imageId"]), req.UserID, req.CurrentlyInPool)
	if err != nil {
		a.writeMutationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"isInPool": in})
}

func (a *api) openModal(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ImageID core.ImageID `json:"imageId"`
		UserID  core.UserID  `json:"userId"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error(), nil)
		return
	}
	m, err := a.svc.Admin.OpenModal(req.ImageID, req.UserID)
	if err != nil {
		a.writeMutationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (a *api) closeModal(w http.ResponseWriter, r *http.Request) {
	a.svc.Admin.CloseModal()
	w.WriteHeader(http.StatusNoContent)
}

// writeMutationError maps coordinator errors onto HTTP statuses.
func (a *api) writeMutationError(w http.ResponseWriter, err error) {
	var ve *core.ValidationError
	var me *engine.MutationError
	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, "invalid_input", ve.Error(), ve.Problems)
	case errors.Is(err, core.ErrEmptyUserID), errors.Is(err, core.ErrEmptyImageID):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error(), nil)
	case errors.Is(err, core.ErrPoolFull), errors.Is(err, core.ErrNotUploaded):
		writeError(w, http.StatusUnprocessableEntity, "pool_rule", err.Error(), nil)
	case errors.Is(err, engine.ErrMutationPending):
		writeError(w, http.StatusConflict, "pending", err.Error(), nil)
	case errors.Is(err, engine.ErrDeleteNotConfirmed):
		writeError(w, http.StatusConflict, "not_confirmed", err.Error(), nil)
	case errors.Is(err, engine.ErrDetailsNotLoaded), errors.Is(err, engine.ErrImageNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.As(err, &me):
		writeError(w, http.StatusBadGateway, "upstream_failed", err.Error(), nil)
	default:
		a.logger.Error("admin request failed", "error", err)
		writeError(w, http.StatusBadGateway, "upstream_failed", err.Error(), nil)
	}
}

func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
