package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"accessmatrix.org/internal/auth"
	"accessmatrix.org/internal/obs"
	"accessmatrix.org/internal/permission"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	logger := obs.Logger()
	original := logger.Writer()
	logger.SetFlags(0)
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	t.Cleanup(func() { logger.SetOutput(original) })
	return &buf
}

func TestLogEvent(t *testing.T) {
	buf := captureLog(t)

	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-123")
	ctx = auth.ContextWithUser(ctx, "user-42", []string{"admin"})

	if err := LogEvent(ctx, EventRoleCreated, map[string]any{"role_id": "r-1"}); err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["type"] != "audit" || entry["event"] != EventRoleCreated {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("unexpected request id: %v", entry["request_id"])
	}
	if entry["user_id"] != "user-42" {
		t.Fatalf("unexpected user id: %v", entry["user_id"])
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["role_id"] != "r-1" {
		t.Fatalf("fields missing or incorrect: %v", entry["fields"])
	}

	if err := LogEvent(ctx, "  ", nil); err == nil {
		t.Fatal("expected error for empty event name")
	}
}

func TestLogGrant(t *testing.T) {
	buf := captureLog(t)

	g := permission.Grant{
		ID:               "g-1",
		RoleID:           "r-1",
		EntityCode:       "project",
		EntityInstanceID: permission.AllInstances,
		Level:            permission.LevelShare,
		InheritanceMode:  permission.ModeMapped,
		ChildOverrides:   map[string]permission.Level{"task": permission.LevelEdit},
	}
	if err := LogGrant(context.Background(), EventGrantUpdated, g); err != nil {
		t.Fatalf("LogGrant: %v", err)
	}

	var entry struct {
		Event  string         `json:"event"`
		Fields map[string]any `json:"fields"`
	}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry.Event != EventGrantUpdated || entry.Fields["level"] != "share" {
		t.Fatalf("unexpected entry %+v", entry)
	}
	overrides, ok := entry.Fields["child_overrides"].(map[string]any)
	if !ok || overrides["task"] != "edit" {
		t.Fatalf("unexpected overrides %v", entry.Fields["child_overrides"])
	}
}
