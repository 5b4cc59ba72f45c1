package lockout

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFailureLocksAtThreshold(t *testing.T) {
	p := DefaultPolicy()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	var s State
	for i := 1; i < DefaultMaxAttempts; i++ {
		s = p.Failure(s, now)
		require.Equal(t, i, s.FailedAttempts)
		require.False(t, s.Locked(now), "locked after %d failures", i)
	}

	s = p.Failure(s, now)
	require.True(t, s.Locked(now))
	require.Equal(t, now.Add(DefaultDuration), s.LockedUntil)
	require.Equal(t, DefaultDuration, s.Remaining(now))
}

func TestFailureWhileLockedDoesNotExtend(t *testing.T) {
	p := DefaultPolicy()
	now := time.Unix(1_700_000_000, 0)
	s := State{FailedAttempts: 5, LockedUntil: now.Add(10 * time.Minute)}

	next := p.Failure(s, now.Add(time.Minute))
	require.Equal(t, s.LockedUntil, next.LockedUntil)
	require.Equal(t, 5, next.FailedAttempts)
}

func TestFailureAfterCooldownStartsFreshRun(t *testing.T) {
	p := DefaultPolicy()
	now := time.Unix(1_700_000_000, 0)
	s := State{FailedAttempts: 5, LockedUntil: now}

	next := p.Failure(s, now.Add(time.Second))
	require.Equal(t, 1, next.FailedAttempts)
	require.False(t, next.Locked(now.Add(time.Second)))
}

func TestWindowRestartsCounter(t *testing.T) {
	p := Policy{MaxAttempts: 3, Duration: time.Minute, Window: time.Minute}
	now := time.Unix(1_700_000_000, 0)

	s := p.Failure(State{}, now)
	s = p.Failure(s, now.Add(10*time.Second))
	require.Equal(t, 2, s.FailedAttempts)

	s = p.Failure(s, now.Add(5*time.Minute))
	require.Equal(t, 1, s.FailedAttempts)
}

func TestSuccessAndExpire(t *testing.T) {
	p := DefaultPolicy()
	now := time.Unix(1_700_000_000, 0)
	s := State{FailedAttempts: 5, LockedUntil: now.Add(time.Minute)}

	require.Equal(t, State{}, p.Success(s))
	require.Equal(t, s, p.Expire(s, now))
	require.Equal(t, State{}, p.Expire(s, now.Add(time.Minute)))
}

func TestValidate(t *testing.T) {
	require.NoError(t, DefaultPolicy().Validate())
	require.Error(t, Policy{Duration: time.Minute}.Validate())
	require.Error(t, Policy{MaxAttempts: 1}.Validate())
	require.Error(t, Policy{MaxAttempts: 1, Duration: time.Second, Window: -1}.Validate())
}
