package audit

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"volunteersync.org/internal/auth"
)

// Event names.
const (
	LoginChallenged     = "auth.login.challenge"
	LoginRejected       = "auth.login.rejected"
	SessionIssued       = "auth.session.issued"
	SecondFactorFailed  = "auth.2fa.rejected"
	ResetRequested      = "auth.password.reset_requested"
	PasswordReset       = "auth.password.reset"
	Logout              = "auth.logout"
	VolunteerRegistered = "registry.volunteer.registered"
	VolunteerUpdated    = "registry.volunteer.updated"
	LocationCreated     = "registry.location.created"
	LocationUpdated     = "registry.location.updated"
	NGOCreated          = "registry.ngo.created"
	NGOAdminLinked      = "registry.ngo.admin_linked"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request id attached by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Log writes audit entries through slog. A nil *Log discards events.
type Log struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

// Event records event with the request id and the authenticated actor from ctx.
func (l *Log) Event(ctx context.Context, event string, fields map[string]any) error {
	if l == nil {
		return nil
	}
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	attrs := []slog.Attr{
		slog.String("type", "audit"),
		slog.String("event", event),
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		attrs = append(attrs, slog.String("request_id", rid))
	}
	if p, ok := auth.PrincipalFromContext(ctx); ok {
		attrs = append(attrs, slog.String("actor", p.Email), slog.String("actor_role", string(p.Role)))
	}
	group := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		group = append(group, slog.Any(k, v))
	}
	attrs = append(attrs, slog.Group("fields", group...))
	l.logger.LogAttrs(ctx, slog.LevelInfo, "audit", attrs...)
	return nil
}
