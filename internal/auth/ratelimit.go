package auth

import (
	"sync"
	"time"
)

// Second-factor lockout defaults.
const (
	DefaultCodeAttempts = 5
	DefaultCodeLockout  = 15 * time.Minute
)

// attemptLimiter counts consecutive failed code verifications per email.
// Reaching the threshold locks the email until the lockout expires; a
// successful verification clears the count.
type attemptLimiter struct {
	mu        sync.Mutex
	threshold int
	lockout   time.Duration
	entries   map[string]*attemptState
}

type attemptState struct {
	failures    int
	lastFailure time.Time
	lockedUntil time.Time
}

func newAttemptLimiter(threshold int, lockout time.Duration) *attemptLimiter {
	return &attemptLimiter{
		threshold: threshold,
		lockout:   lockout,
		entries:   make(map[string]*attemptState),
	}
}

// lockedFor returns the remaining lockout of email at now.
func (l *attemptLimiter) lockedFor(email string, now time.Time) time.Duration {
	if l.threshold <= 0 {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.entries[email]
	if !ok || !now.Before(st.lockedUntil) {
		return 0
	}
	return st.lockedUntil.Sub(now)
}

// fail records a wrong code and reports whether email is now locked.
func (l *attemptLimiter) fail(email string, now time.Time) bool {
	if l.threshold <= 0 {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.entries[email]
	if !ok {
		st = &attemptState{}
		l.entries[email] = st
	}
	if !st.lockedUntil.IsZero() && !now.Before(st.lockedUntil) {
		// previous lockout served
		st.failures = 0
		st.lockedUntil = time.Time{}
	}
	st.failures++
	st.lastFailure = now
	if st.failures >= l.threshold {
		st.lockedUntil = now.Add(l.lockout)
		return true
	}
	return false
}

func (l *attemptLimiter) succeed(email string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, email)
}

// prune drops entries with no recent failure and no active lockout.
func (l *attemptLimiter) prune(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for email, st := range l.entries {
		if now.Before(st.lockedUntil) || now.Sub(st.lastFailure) < l.lockout {
			continue
		}
		delete(l.entries, email)
		n++
	}
	return n
}
