// Package audit records security-relevant state changes as structured log
// entries tagged type=audit.
package audit

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"tessera.social/internal/auth"
	"tessera.social/internal/httpx"
	"tessera.social/internal/obs"
)

// Event names.
const (
	EventLogin          = "auth.login"
	EventLoginFailed    = "auth.login.failed"
	EventLogout         = "auth.logout"
	EventRegister       = "auth.register"
	EventRoleUpdate     = "users.role.update"
	EventSuspend        = "users.suspend"
	EventUnsuspend      = "users.unsuspend"
	EventNoticePublish  = "notifications.publish"
	EventBootstrapAdmin = "users.bootstrap_admin"
)

// LogEvent writes an audit entry enriched with the request id and the acting
// user found in ctx.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	logger := obs.Logger()
	ev := logger.Info().Str("type", "audit").Str("event", event)
	if rid := httpx.RequestIDFromContext(ctx); rid != "" {
		ev = ev.Str("request_id", rid)
	}
	if userID, ok := auth.UserIDFromContext(ctx); ok {
		ev = ev.Str("user_id", userID)
	}
	dict := zerolog.Dict()
	for k, v := range fields {
		dict = dict.Interface(k, v)
	}
	ev.Dict("fields", dict).Send()
	return nil
}
