package password

import (
	"errors"
	"fmt"
	"unicode"
)

// ErrPolicy is the sentinel every policy violation unwraps to.
var ErrPolicy = errors.New("password policy violation")

// ErrReuse is the sentinel every history rejection unwraps to.
var ErrReuse = errors.New("password reused")

// Policy is the administrator-configured credential policy. Each character
// class requirement toggles independently; a zero HistoryCount disables
// reuse checking entirely.
type Policy struct {
	MinLength           int
	RequireUppercase    bool
	RequireLowercase    bool
	RequireNumbers      bool
	RequireSpecialChars bool
	HistoryCount        int
}

// ViolationError names the first policy check a candidate secret failed.
type ViolationError struct {
	Violation string
}

func (e *ViolationError) Error() string {
	return "password policy violation: " + e.Violation
}

// Is reports true for [ErrPolicy] so callers can match the class.
func (e *ViolationError) Is(target error) bool {
	return target == ErrPolicy
}

// ReuseError reports a candidate that matched one of the last Window
// credentials.
type ReuseError struct {
	Window int
}

func (e *ReuseError) Error() string {
	return fmt.Sprintf("password matches one of the last %d passwords", e.Window)
}

// Is reports true for [ErrReuse] so callers can match the class.
func (e *ReuseError) Is(target error) bool {
	return target == ErrReuse
}

// Validate checks a candidate secret against the policy, short-circuiting
// on the first failed check. History is not consulted here; see
// [Argon2.CheckHistory].
func (p Policy) Validate(candidate string) error {
	if len(candidate) < p.MinLength {
		return &ViolationError{Violation: fmt.Sprintf("must be at least %d characters", p.MinLength)}
	}

	var hasUpper, hasLower, hasNumber, hasSpecial bool
	for _, r := range candidate {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasNumber = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSpecial = true
		}
	}

	if p.RequireUppercase && !hasUpper {
		return &ViolationError{Violation: "must contain an uppercase letter"}
	}
	if p.RequireLowercase && !hasLower {
		return &ViolationError{Violation: "must contain a lowercase letter"}
	}
	if p.RequireNumbers && !hasNumber {
		return &ViolationError{Violation: "must contain a number"}
	}
	if p.RequireSpecialChars && !hasSpecial {
		return &ViolationError{Violation: "must contain a special character"}
	}

	return nil
}

// CheckHistory compares the candidate against the current hash plus up to
// historyCount-1 historical hashes (most recent first), using the same
// one-way comparison as login. A historyCount of zero always passes.
func (a *Argon2) CheckHistory(candidate, currentHash string, history []string, historyCount int) error {
	if historyCount <= 0 {
		return nil
	}

	window := []string{currentHash}
	for i := 0; i < len(history) && i < historyCount-1; i++ {
		window = append(window, history[i])
	}

	for _, h := range window {
		if h == "" {
			continue
		}
		match, err := a.Verify(candidate, h)
		if err != nil {
			// Unparseable legacy entries cannot match; skip them.
			continue
		}
		if match {
			return &ReuseError{Window: historyCount}
		}
	}

	return nil
}

// Rotate hashes the new secret, prepends the outgoing hash to history, and
// truncates to historyCount. Callers must run Validate and CheckHistory
// first.
func (a *Argon2) Rotate(newSecret, currentHash string, history []string, historyCount int) (string, []string, error) {
	hash, err := a.Hash(newSecret)
	if err != nil {
		return "", nil, err
	}

	if historyCount <= 0 {
		return hash, nil, nil
	}

	next := make([]string, 0, historyCount)
	if currentHash != "" {
		next = append(next, currentHash)
	}
	for _, h := range history {
		if len(next) >= historyCount {
			break
		}
		next = append(next, h)
	}

	return hash, next, nil
}
