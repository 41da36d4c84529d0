package state

import (
	"fmt"

	"hotlympics/core"
)

// ApplyPhotoDelete removes a deleted photo from every collection that mentions it.
func ApplyPhotoDelete(st State, ev core.PhotoDeleted) State {
	cp := st.Clone()
	if d, ok := cp.Details[ev.UserID]; ok {
		kept := make([]core.ImageRecord, 0, len(d.ImageData))
		for _, rec := range d.ImageData {
			if rec.ImageID != ev.ImageID {
				kept = append(kept, rec)
			}
		}
		d.ImageData = kept
		d.User = withoutImage(d.User, ev.ImageID)
		cp.Details[ev.UserID] = d
	}
	for i := range cp.Users {
		if cp.Users[i].ID == ev.UserID {
			cp.Users[i] = withoutImage(cp.Users[i], ev.ImageID)
		}
	}
	if cp.Modal != nil && cp.Modal.Image.ImageID == ev.ImageID {
		cp.Modal = nil
	}
	return cp
}

// ApplyPoolToggle writes a server-confirmed pool membership to all four views.
// An insert that would break the cap or the pool-subset rule is dropped; the
// caller's copy is stale in that case and should be reloaded.
func ApplyPoolToggle(st State, ev core.PoolToggled) State {
	cp := st.Clone()
	effective := ev.IsInPool
	resolved := false

	if d, ok := cp.Details[ev.UserID]; ok {
		d.User = withMembership(d.User, ev.ImageID, ev.IsInPool)
		d.ImageData = recomputeInPool(d.User, d.ImageData)
		cp.Details[ev.UserID] = d
		effective, resolved = d.User.InPool(ev.ImageID), true
	}
	for i := range cp.Users {
		if cp.Users[i].ID != ev.UserID {
			continue
		}
		cp.Users[i] = withMembership(cp.Users[i], ev.ImageID, ev.IsInPool)
		if !resolved {
			effective, resolved = cp.Users[i].InPool(ev.ImageID), true
		}
	}
	if cp.Modal != nil && cp.Modal.Image.ImageID == ev.ImageID {
		cp.Modal.IsInPool = effective
		cp.Modal.Image.InPool = effective
	}
	return cp
}

// ApplyUserDelete drops a deleted user from the list, the detail map and the expanded set.
func ApplyUserDelete(st State, ev core.UserDeleted) State {
	cp := st.Clone()
	users := make([]core.AdminUser, 0, len(cp.Users))
	for _, u := range cp.Users {
		if u.ID != ev.UserID {
			users = append(users, u)
		}
	}
	cp.Users = users
	delete(cp.Details, ev.UserID)
	delete(cp.Expanded, ev.UserID)
	if cp.Modal != nil && cp.Modal.Image.UserID == ev.UserID {
		cp.Modal = nil
	}
	return cp
}

// ApplyUsersLoaded replaces the user list with a freshly fetched page. Loaded
// details of listed users take the server's id sets so both copies agree.
func ApplyUsersLoaded(st State, users []core.AdminUser) State {
	cp := st.Clone()
	cp.Users = make([]core.AdminUser, len(users))
	for i, u := range users {
		cp.Users[i] = u.Clone()
		if d, ok := cp.Details[u.ID]; ok {
			d.User = mirrorIDs(d.User, u)
			d.ImageData = keepUploaded(d.User, d.ImageData)
			cp.Details[u.ID] = d
		}
	}
	cp.Modal = refreshModal(cp)
	return cp
}

// ApplyDetailsLoaded stores a freshly fetched detail view and mirrors its id sets
// into the matching Users row.
func ApplyDetailsLoaded(st State, d core.UserDetails) State {
	cp := st.Clone()
	loaded := d.Clone()
	loaded.ImageData = recomputeInPool(loaded.User, loaded.ImageData)
	cp.Details[loaded.User.ID] = loaded
	for i := range cp.Users {
		if cp.Users[i].ID == loaded.User.ID {
			cp.Users[i] = mirrorIDs(cp.Users[i], loaded.User)
		}
	}
	cp.Modal = refreshModal(cp)
	return cp
}

// ApplyModalOpen opens the photo modal on rec, deriving the pool flag from known state.
func ApplyModalOpen(st State, rec core.ImageRecord) State {
	cp := st.Clone()
	in := rec.InPool
	if u, ok := cp.KnownUser(rec.UserID); ok {
		in = u.InPool(rec.ImageID)
	}
	rec.InPool = in
	cp.Modal = &core.PhotoModal{Image: rec, IsInPool: in}
	return cp
}

// ApplyModalClose closes the photo modal.
func ApplyModalClose(st State) State {
	cp := st.Clone()
	cp.Modal = nil
	return cp
}

// ApplyExpand marks a user row expanded or collapsed.
func ApplyExpand(st State, id core.UserID, expanded bool) State {
	cp := st.Clone()
	if expanded {
		cp.Expanded[id] = struct{}{}
	} else {
		delete(cp.Expanded, id)
	}
	return cp
}

// CheckInvariants verifies pool bounds, mirror equality, InPool parity and modal freshness.
func CheckInvariants(st State) error {
	for _, u := range st.Users {
		if err := core.ValidatePool(u); err != nil {
			return err
		}
		if d, ok := st.Details[u.ID]; ok {
			if !sameSet(u.UploadedImageIDs, d.User.UploadedImageIDs) {
				return fmt.Errorf("user %s: uploaded ids differ between list and details", u.ID)
			}
			if !sameSet(u.PoolImageIDs, d.User.PoolImageIDs) {
				return fmt.Errorf("user %s: pool ids differ between list and details", u.ID)
			}
		}
	}
	for id, d := range st.Details {
		if err := core.ValidatePool(d.User); err != nil {
			return err
		}
		for _, rec := range d.ImageData {
			if rec.InPool != d.User.InPool(rec.ImageID) {
				return fmt.Errorf("user %s: image %s inPool flag is stale", id, rec.ImageID)
			}
		}
	}
	if m := st.Modal; m != nil {
		if m.IsInPool != m.Image.InPool {
			return fmt.Errorf("modal: pool flag disagrees with its image")
		}
		if d, ok := st.Details[m.Image.UserID]; ok {
			if !d.User.Owns(m.Image.ImageID) {
				return fmt.Errorf("modal: image %s no longer exists", m.Image.ImageID)
			}
			if m.IsInPool != d.User.InPool(m.Image.ImageID) {
				return fmt.Errorf("modal: pool flag is stale for %s", m.Image.ImageID)
			}
		}
	}
	return nil
}

func withoutImage(u core.AdminUser, id core.ImageID) core.AdminUser {
	u.UploadedImageIDs = core.RemoveID(u.UploadedImageIDs, id)
	u.PoolImageIDs = core.RemoveID(u.PoolImageIDs, id)
	return u
}

func withMembership(u core.AdminUser, id core.ImageID, in bool) core.AdminUser {
	if !in {
		u.PoolImageIDs = core.RemoveID(u.PoolImageIDs, id)
		return u
	}
	if core.CheckPoolAdd(u, id) != nil {
		return u
	}
	u.PoolImageIDs = core.InsertID(u.PoolImageIDs, id)
	return u
}

func mirrorIDs(dst, src core.AdminUser) core.AdminUser {
	s := src.Clone()
	dst.UploadedImageIDs = s.UploadedImageIDs
	dst.PoolImageIDs = s.PoolImageIDs
	return dst
}

func recomputeInPool(owner core.AdminUser, recs []core.ImageRecord) []core.ImageRecord {
	if recs == nil {
		return nil
	}
	out := make([]core.ImageRecord, len(recs))
	for i, rec := range recs {
		rec.InPool = owner.InPool(rec.ImageID)
		out[i] = rec
	}
	return out
}

func keepUploaded(owner core.AdminUser, recs []core.ImageRecord) []core.ImageRecord {
	if recs == nil {
		return nil
	}
	out := make([]core.ImageRecord, 0, len(recs))
	for _, rec := range recs {
		if owner.Owns(rec.ImageID) {
			rec.InPool = owner.InPool(rec.ImageID)
			out = append(out, rec)
		}
	}
	return out
}

// refreshModal closes a modal whose photo vanished and re-derives its pool flag.
func refreshModal(st State) *core.PhotoModal {
	if st.Modal == nil {
		return nil
	}
	m := *st.Modal
	owner, ok := st.KnownUser(m.Image.UserID)
	if !ok {
		return &m
	}
	if !owner.Owns(m.Image.ImageID) {
		return nil
	}
	m.IsInPool = owner.InPool(m.Image.ImageID)
	m.Image.InPool = m.IsInPool
	return &m
}

func sameSet(a, b []core.ImageID) bool {
	if len(a) != len(b) {
		return false
	}
	for _, id := range a {
		if !core.ContainsID(b, id) {
			return false
		}
	}
	return true
}
