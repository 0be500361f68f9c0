package auth_test

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"volunteersync.org/internal/auth"
	"volunteersync.org/internal/registry"
	"volunteersync.org/internal/store/memory"
)

var (
	testSecret  = []byte("0123456789abcdef0123456789abcdef")
	codePattern = regexp.MustCompile(`\n(\d{6})\n`)
	linkPattern = regexp.MustCompile(`\?token=([0-9a-f-]+)`)
	testHasher  = auth.BcryptHasher{Cost: 4}
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type message struct {
	To, Subject, Body string
}

// mailbox records every delivery attempt, including failed ones.
type mailbox struct {
	mu   sync.Mutex
	msgs []message
	fail error
}

func (m *mailbox) Send(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, message{To: to, Subject: subject, Body: body})
	return m.fail
}

func (m *mailbox) failWith(err error) {
	m.mu.Lock()
	m.fail = err
	m.mu.Unlock()
}

func (m *mailbox) last(t *testing.T) message {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.msgs, "no message sent")
	return m.msgs[len(m.msgs)-1]
}

func (m *mailbox) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.msgs)
}

func (m *mailbox) lastCode(t *testing.T) string {
	t.Helper()
	msg := m.last(t)
	require.Equal(t, "Your 2FA Code - VolunteerSync", msg.Subject)
	match := codePattern.FindStringSubmatch(msg.Body)
	require.Len(t, match, 2, "no code in %q", msg.Body)
	return match[1]
}

func (m *mailbox) lastResetToken(t *testing.T) string {
	t.Helper()
	msg := m.last(t)
	require.Equal(t, "Password Reset Request - VolunteerSync", msg.Subject)
	match := linkPattern.FindStringSubmatch(msg.Body)
	require.Len(t, match, 2, "no link in %q", msg.Body)
	return match[1]
}

type fixture struct {
	store *memory.Store
	mail  *mailbox
	clock *clock
	svc   *auth.Service
	user  registry.Volunteer
}

const (
	userEmail    = "alice@example.com"
	userPassword = "correct horse"
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memory.New()
	hash, err := testHasher.Hash(userPassword)
	require.NoError(t, err)
	user := st.Seed(registry.Volunteer{
		FirstName:    "Alice",
		LastName:     "Mukamana",
		Email:        userEmail,
		Role:         auth.RoleVolunteer,
		VillageID:    1,
		PasswordHash: hash,
	})
	f := &fixture{store: st, mail: &mailbox{}, clock: newClock(), user: user}
	f.svc, err = auth.NewService(auth.Deps{
		Identities: st,
		Codes:      st,
		Resets:     st,
		Hasher:     testHasher,
		Notifier:   f.mail,
		Secret:     testSecret,
	}, auth.WithClock(f.clock.Now), auth.WithResetLinkBase("https://app.volunteersync.rw/reset-password"))
	require.NoError(t, err)
	return f
}

// wrongCode returns a six-digit code different from code.
func wrongCode(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}

func upper(s string) string { return strings.ToUpper(s) }
