// Package lockout implements the failed-attempt lockout policy shared by
// principal logins and MFA devices.
//
// The policy is pure: it maps a State and a clock reading to the next State.
// Persisting the result atomically is the caller's job (see the store
// package's UpdateLockout/UpdateDeviceLockout operations), which keeps the
// counter and lock deadline consistent under concurrent failures.
package lockout

import (
	"errors"
	"time"
)

const (
	// DefaultMaxAttempts is the number of consecutive failures that trigger a lock.
	DefaultMaxAttempts = 5
	// DefaultDuration is how long a triggered lock lasts.
	DefaultDuration = 30 * time.Minute
)

// State is the lockout counter embedded in principals and MFA devices.
type State struct {
	FailedAttempts int       `json:"failed_attempts"`
	LastFailureAt  time.Time `json:"last_failure_at,omitempty"`
	LockedUntil    time.Time `json:"locked_until,omitempty"`
}

// Locked reports whether the state is inside an active lock window.
func (s State) Locked(now time.Time) bool {
	return !s.LockedUntil.IsZero() && now.Before(s.LockedUntil)
}

// Remaining returns how long the lock still holds, or zero.
func (s State) Remaining(now time.Time) time.Duration {
	if !s.Locked(now) {
		return 0
	}
	return s.LockedUntil.Sub(now)
}

// Policy decides when a run of failures turns into a lock.
type Policy struct {
	// MaxAttempts failures in a row set LockedUntil.
	MaxAttempts int `yaml:"max_attempts"`
	// Duration is the lock length.
	Duration time.Duration `yaml:"duration"`
	// Window, when positive, restarts the counter if the previous failure is
	// older than Window.
	Window time.Duration `yaml:"window"`
}

// DefaultPolicy returns the 5 failures / 30 minutes policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		Duration:    DefaultDuration,
	}
}

// Validate checks policy bounds.
func (p Policy) Validate() error {
	if p.MaxAttempts <= 0 {
		return errors.New("lockout max attempts must be > 0")
	}
	if p.Duration <= 0 {
		return errors.New("lockout duration must be > 0")
	}
	if p.Window < 0 {
		return errors.New("lockout window must be >= 0")
	}
	return nil
}

// Failure records one failed attempt at now and returns the next state.
//
// A lock that has already elapsed is cleared before counting, so the first
// failure after a cooldown starts a fresh run.
func (p Policy) Failure(s State, now time.Time) State {
	if !s.LockedUntil.IsZero() && !now.Before(s.LockedUntil) {
		s = State{}
	}
	if p.Window > 0 && !s.LastFailureAt.IsZero() && now.Sub(s.LastFailureAt) > p.Window {
		s.FailedAttempts = 0
	}
	if s.Locked(now) {
		s.LastFailureAt = now
		return s
	}

	s.FailedAttempts++
	s.LastFailureAt = now
	if s.FailedAttempts >= p.MaxAttempts {
		s.LockedUntil = now.Add(p.Duration)
	}
	return s
}

// Success resets the counter after a verified attempt.
func (p Policy) Success(State) State {
	return State{}
}

// Expire clears an elapsed lock without counting a failure. It returns the
// input unchanged while the lock still holds.
func (p Policy) Expire(s State, now time.Time) State {
	if !s.LockedUntil.IsZero() && !now.Before(s.LockedUntil) {
		return State{}
	}
	return s
}
