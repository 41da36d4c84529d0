package core

import (
	"errors"
	"testing"
	"time"
)

func TestNormalizeUserID(t *testing.T) {
	id, err := NormalizeUserID(" Alice ")
	if err != nil || id != "Alice" {
		t.Fatalf("got %v %v", id, err)
	}
	if _, err := NormalizeUserID("   "); !errors.Is(err, ErrEmptyUserID) {
		t.Fatalf("expected ErrEmptyUserID, got %v", err)
	}
	if _, err := NormalizeImageID("\t"); !errors.Is(err, ErrEmptyImageID) {
		t.Fatalf("expected ErrEmptyImageID, got %v", err)
	}
}

func TestIDSetHelpers(t *testing.T) {
	ids := []ImageID{"a", "b"}
	if got := InsertID(ids, "b"); len(got) != 2 {
		t.Fatalf("insert should dedupe, got %v", got)
	}
	if got := InsertID(ids, "c"); len(got) != 3 || got[2] != "c" {
		t.Fatalf("unexpected insert result %v", got)
	}
	if got := RemoveID(ids, "a"); len(got) != 1 || got[0] != "b" {
		t.Fatalf("unexpected remove result %v", got)
	}
	if len(ids) != 2 || ids[0] != "a" {
		t.Fatalf("input mutated: %v", ids)
	}
}

func TestAgeOn(t *testing.T) {
	now := time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		dob  time.Time
		want int
	}{
		{time.Date(2008, time.March, 10, 0, 0, 0, 0, time.UTC), 18},
		{time.Date(2008, time.March, 11, 0, 0, 0, 0, time.UTC), 17},
		{time.Date(2008, time.April, 1, 0, 0, 0, 0, time.UTC), 17},
		{time.Date(2008, time.February, 28, 0, 0, 0, 0, time.UTC), 18},
	}
	for _, c := range cases {
		if got := AgeOn(c.dob, now); got != c.want {
			t.Fatalf("AgeOn(%s) = %d, want %d", c.dob.Format(DateLayout), got, c.want)
		}
	}
}

func TestValidateCreateUser(t *testing.T) {
	now := time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)
	ok := CreateUserForm{Email: "a@b.co", Gender: "female", DateOfBirth: "2000-01-01"}
	if err := ValidateCreateUser(ok, now); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	bad := []CreateUserForm{
		{Gender: "female", DateOfBirth: "2000-01-01"},
		{Email: "not-an-email", Gender: "female", DateOfBirth: "2000-01-01"},
		{Email: "a@b.co", DateOfBirth: "2000-01-01"},
		{Email: "a@b.co", Gender: "male", DateOfBirth: "2008-03-11"},
		{Email: "a@b.co", Gender: "male", DateOfBirth: "01/01/2000"},
		{Email: "a@b.co", Gender: "male", DateOfBirth: "2000-01-01", PoolIndices: []int{0}},
	}
	for i, f := range bad {
		err := ValidateCreateUser(f, now)
		if err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
		if !IsValidationError(err) {
			t.Fatalf("case %d: expected ValidationError, got %T", i, err)
		}
	}
}

func TestCheckPoolAdd(t *testing.T) {
	u := AdminUser{ID: "u", UploadedImageIDs: []ImageID{"a", "b", "c"}, PoolImageIDs: []ImageID{"a", "b"}}
	if err := CheckPoolAdd(u, "c"); !errors.Is(err, ErrPoolFull) {
		t.Fatalf("expected ErrPoolFull, got %v", err)
	}
	if err := CheckPoolAdd(u, "a"); err != nil {
		t.Fatalf("already pooled should pass, got %v", err)
	}
	if err := CheckPoolAdd(u, "zzz"); !errors.Is(err, ErrNotUploaded) {
		t.Fatalf("expected ErrNotUploaded, got %v", err)
	}
	u.PoolImageIDs = []ImageID{"a"}
	if err := CheckPoolAdd(u, "c"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
}

func TestValidatePool(t *testing.T) {
	good := AdminUser{ID: "u", UploadedImageIDs: []ImageID{"a", "b"}, PoolImageIDs: []ImageID{"b"}}
	if err := ValidatePool(good); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	orphan := AdminUser{ID: "u", UploadedImageIDs: []ImageID{"a"}, PoolImageIDs: []ImageID{"b"}}
	if err := ValidatePool(orphan); !errors.Is(err, ErrNotUploaded) {
		t.Fatalf("expected ErrNotUploaded, got %v", err)
	}
	over := AdminUser{ID: "u", UploadedImageIDs: []ImageID{"a", "b", "c"}, PoolImageIDs: []ImageID{"a", "b", "c"}}
	if err := ValidatePool(over); !errors.Is(err, ErrPoolFull) {
		t.Fatalf("expected ErrPoolFull, got %v", err)
	}
}

func TestSnapshotImageURLs(t *testing.T) {
	s := Snapshot{Entries: []Entry{{ImageURL: "x"}, {}, {ImageURL: "y"}}}
	urls := s.ImageURLs()
	if len(urls) != 2 || urls[0] != "x" || urls[1] != "y" {
		t.Fatalf("unexpected urls %v", urls)
	}
}
