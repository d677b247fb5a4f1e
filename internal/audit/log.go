// Package audit writes one JSON line per role or grant mutation.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"accessmatrix.org/internal/auth"
	"accessmatrix.org/internal/obs"
	"accessmatrix.org/internal/permission"
)

const (
	EventRoleCreated  = "role.created"
	EventRoleDeleted  = "role.deleted"
	EventGrantCreated = "grant.created"
	EventGrantUpdated = "grant.updated"
	EventGrantDeleted = "grant.deleted"
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

// RequestIDFromContext returns the request id set by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit entry enriched with request and user context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	entry := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"type":  "audit",
		"event": event,
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if userID, ok := auth.UserIDFromContext(ctx); ok {
		entry["user_id"] = userID
	}
	copyFields := make(map[string]any, len(fields))
	for k, v := range fields {
		copyFields[k] = v
	}
	entry["fields"] = copyFields

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}

// LogGrant records a grant mutation with the grant's target and level.
func LogGrant(ctx context.Context, event string, g permission.Grant) error {
	fields := map[string]any{
		"grant_id":           g.ID,
		"role_id":            g.RoleID,
		"entity_code":        g.EntityCode,
		"entity_instance_id": g.EntityInstanceID,
		"level":              g.Level.String(),
		"is_deny":            g.IsDeny,
		"inheritance_mode":   string(g.InheritanceMode),
	}
	if len(g.ChildOverrides) > 0 {
		overrides := make(map[string]string, len(g.ChildOverrides))
		for code, l := range g.ChildOverrides {
			overrides[code] = l.String()
		}
		fields["child_overrides"] = overrides
	}
	if g.ExpiresAt != nil {
		fields["expires_at"] = g.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return LogEvent(ctx, event, fields)
}
