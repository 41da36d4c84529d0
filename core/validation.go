package core

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// MinimumAge is the youngest age accepted for a new account.
const MinimumAge = 18

// DateLayout is the wire format for dates of birth.
const DateLayout = "2006-01-02"

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidationError lists every client-side check a form failed.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Problems, "; ")
}

// ValidEmail applies a deliberately loose address check.
func ValidEmail(email string) bool {
	return emailPattern.MatchString(strings.TrimSpace(email))
}

// AgeOn returns whole years between dob and now, counting a birthday only
// once its month and day have been reached.
func AgeOn(dob, now time.Time) int {
	age := now.Year() - dob.Year()
	if now.Month() < dob.Month() || (now.Month() == dob.Month() && now.Day() < dob.Day()) {
		age--
	}
	return age
}

// ValidateCreateUser checks a creation form before it is sent anywhere.
func ValidateCreateUser(f CreateUserForm, now time.Time) error {
	var problems []string
	if strings.TrimSpace(f.Email) == "" {
		problems = append(problems, "email is required")
	} else if !ValidEmail(f.Email) {
		problems = append(problems, "email is not a valid address")
	}
	if strings.TrimSpace(f.Gender) == "" {
		problems = append(problems, "gender is required")
	}
	if strings.TrimSpace(f.DateOfBirth) == "" {
		problems = append(problems, "date of birth is required")
	} else if dob, err := time.Parse(DateLayout, f.DateOfBirth); err != nil {
		problems = append(problems, "date of birth must be YYYY-MM-DD")
	} else if AgeOn(dob, now) < MinimumAge {
		problems = append(problems, fmt.Sprintf("user must be at least %d years old", MinimumAge))
	}
	for _, idx := range f.PoolIndices {
		if idx < 0 || idx >= len(f.Photos) {
			problems = append(problems, fmt.Sprintf("pool index %d has no matching photo", idx))
		}
	}
	if len(f.PoolIndices) > MaxPoolSize {
		problems = append(problems, fmt.Sprintf("at most %d pool photos", MaxPoolSize))
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// CheckPoolAdd reports whether id may join the user's pool.
func CheckPoolAdd(u AdminUser, id ImageID) error {
	if u.InPool(id) {
		return nil
	}
	if !u.Owns(id) {
		return ErrNotUploaded
	}
	if len(u.PoolImageIDs) >= MaxPoolSize {
		return ErrPoolFull
	}
	return nil
}

// ValidatePool checks the pool invariants of a single user.
func ValidatePool(u AdminUser) error {
	if len(u.PoolImageIDs) > MaxPoolSize {
		return fmt.Errorf("user %s: %w", u.ID, ErrPoolFull)
	}
	seen := make(map[ImageID]struct{}, len(u.PoolImageIDs))
	for _, id := range u.PoolImageIDs {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("user %s: duplicate pool id %s", u.ID, id)
		}
		seen[id] = struct{}{}
		if !u.Owns(id) {
			return fmt.Errorf("user %s: pool id %s: %w", u.ID, id, ErrNotUploaded)
		}
	}
	return nil
}

// IsValidationError reports whether err came from client-side validation.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) || errors.Is(err, ErrPoolFull) || errors.Is(err, ErrNotUploaded)
}
