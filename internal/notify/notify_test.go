package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"volunteersync.org/internal/errutil"
)

type flaky struct {
	failures int32
	err      error
	calls    atomic.Int32
}

func (f *flaky) Send(context.Context, string, string, string) error {
	n := f.calls.Add(1)
	if n <= f.failures {
		return f.err
	}
	return nil
}

var fastPolicy = RetryPolicy{Attempts: 3, Base: time.Millisecond, Max: 5 * time.Millisecond}

func TestRetryingRecovers(t *testing.T) {
	defer goleak.VerifyNone(t)

	next := &flaky{failures: 2, err: errors.New("connection reset")}
	r := NewRetrying(next, fastPolicy, slog.New(slog.DiscardHandler))

	require.NoError(t, r.Send(context.Background(), "a@example.com", "s", "b"))
	assert.EqualValues(t, 3, next.calls.Load())
}

func TestRetryingGivesUp(t *testing.T) {
	defer goleak.VerifyNone(t)

	cause := errors.New("relay down")
	next := &flaky{failures: 100, err: cause}
	r := NewRetrying(next, fastPolicy, slog.New(slog.DiscardHandler))

	err := r.Send(context.Background(), "a@example.com", "s", "b")
	require.ErrorIs(t, err, cause)
	assert.EqualValues(t, 4, next.calls.Load(), "first try plus three retries")
}

func TestRetryingStopsOnPermanent(t *testing.T) {
	next := &flaky{failures: 100, err: oops.Code("SMTP_SEND_FAILED").Wrapf(ErrPermanent, "550 no such user")}
	r := NewRetrying(next, fastPolicy, slog.New(slog.DiscardHandler))

	err := r.Send(context.Background(), "a@example.com", "s", "b")
	require.ErrorIs(t, err, ErrPermanent)
	assert.EqualValues(t, 1, next.calls.Load())
}

func TestRetryingHonoursContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	next := Func(func(context.Context, string, string, string) error {
		cancel()
		return errors.New("timeout")
	})
	r := NewRetrying(next, RetryPolicy{Attempts: 10, Base: time.Hour}, slog.New(slog.DiscardHandler))

	err := r.Send(ctx, "a@example.com", "s", "b")
	require.Error(t, err)
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := NewLog(slog.New(slog.NewJSONHandler(&buf, nil)))

	require.NoError(t, n.Send(context.Background(), "a@example.com", "Your 2FA Code - VolunteerSync", "code 123456"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "email", entry["msg"])
	assert.Equal(t, "a@example.com", entry["to"])
	assert.Equal(t, "notify", entry["component"])
	assert.Equal(t, "code 123456", entry["body"])

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, n.Send(ctx, "a@example.com", "s", "b"), context.Canceled)
}

func TestNewSMTPValidation(t *testing.T) {
	_, err := NewSMTP(SMTPConfig{From: "no-reply@volunteersync.rw"}, nil)
	errutil.AssertErrorCode(t, err, "INVALID_SMTP_CONFIG")

	_, err = NewSMTP(SMTPConfig{Host: "mail"}, nil)
	errutil.AssertErrorCode(t, err, "INVALID_SMTP_CONFIG")

	_, err = NewSMTP(SMTPConfig{Host: "mail", From: "no-reply@volunteersync.rw", TLS: "sometimes"}, nil)
	errutil.AssertErrorCode(t, err, "INVALID_SMTP_CONFIG")

	s, err := NewSMTP(SMTPConfig{Host: "mail", Port: 2525, From: "no-reply@volunteersync.rw", Username: "u", Password: "p"}, nil)
	require.NoError(t, err)
	assert.NotNil(t, s)
}

func TestSMTPRejectsBadRecipient(t *testing.T) {
	s, err := NewSMTP(SMTPConfig{Host: "127.0.0.1", From: "no-reply@volunteersync.rw", TLS: "none"}, nil)
	require.NoError(t, err)

	err = s.Send(context.Background(), "not an address", "s", "b")
	require.ErrorIs(t, err, ErrPermanent)
	errutil.AssertErrorCode(t, err, "SMTP_MESSAGE_INVALID")
}

func TestSMTPConnectionFailureIsRetryable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		<-done
	})

	s, err := NewSMTP(SMTPConfig{
		Host: "127.0.0.1", Port: ln.Addr().(*net.TCPAddr).Port, From: "no-reply@volunteersync.rw",
		TLS: "none", Timeout: 2 * time.Second,
	}, nil)
	require.NoError(t, err)

	err = s.Send(context.Background(), "a@example.com", "s", "b")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrPermanent)
	errutil.AssertErrorCode(t, err, "SMTP_SEND_FAILED")
}
