package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"accessmatrix.org/internal/auth"
	"accessmatrix.org/internal/permission"
)

var grantCols = []string{
	"id", "role_id", "entity_code", "entity_instance_id", "level", "is_deny",
	"inheritance_mode", "child_overrides", "granted_at", "expires_at", "granted_by",
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestCreateRoleConflict(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("insert into roles").
		WithArgs(sqlmock.AnyArg(), "editors", "").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	if _, err := store.CreateRole(context.Background(), "editors", ""); !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateGrantRoundTrip(t *testing.T) {
	store, mock := newMockStore(t)
	granted := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	expires := granted.Add(24 * time.Hour)

	mock.ExpectQuery("insert into grants").
		WithArgs(sqlmock.AnyArg(), "role-1", "project", "ALL", 3, false, "mapped",
			[]byte(`{"task":1}`), granted, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(grantCols).
			AddRow("g-1", "role-1", "project", "ALL", 3, false, "mapped", []byte(`{"task":1}`), granted, expires, "admin-1"))

	g, err := store.CreateGrant(context.Background(), permission.Grant{
		RoleID:           "role-1",
		EntityCode:       "project",
		EntityInstanceID: permission.AllInstances,
		Level:            permission.LevelEdit,
		InheritanceMode:  permission.ModeMapped,
		ChildOverrides:   map[string]permission.Level{"task": permission.LevelComment},
		GrantedAt:        granted,
		ExpiresAt:        &expires,
		GrantedBy:        "admin-1",
	})
	if err != nil {
		t.Fatalf("CreateGrant: %v", err)
	}
	if g.ID != "g-1" || g.Level != permission.LevelEdit || g.ChildOverrides["task"] != permission.LevelComment {
		t.Fatalf("unexpected grant %+v", g)
	}
	if g.ExpiresAt == nil || !g.ExpiresAt.Equal(expires) || g.GrantedBy != "admin-1" {
		t.Fatalf("unexpected provenance %+v", g)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateGrantUnknownRole(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("insert into grants").
		WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation})

	_, err := store.CreateGrant(context.Background(), permission.Grant{RoleID: "missing", EntityCode: "task"})
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListGrants(t *testing.T) {
	store, mock := newMockStore(t)
	granted := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)

	mock.ExpectQuery("select (.+) from grants where role_id = \\$1").
		WithArgs("role-1").
		WillReturnRows(sqlmock.NewRows(grantCols).
			AddRow("g-1", "role-1", "project", "ALL", 7, false, "cascade", []byte(`{}`), granted, nil, nil).
			AddRow("g-2", "role-1", "customer", "c-9", 0, true, "none", []byte(`{}`), granted, nil, "admin-1"))

	grants, err := store.ListGrants(context.Background(), "role-1")
	if err != nil {
		t.Fatalf("ListGrants: %v", err)
	}
	if len(grants) != 2 {
		t.Fatalf("expected 2 grants, got %d", len(grants))
	}
	if grants[0].ChildOverrides != nil || grants[0].ExpiresAt != nil || grants[0].GrantedBy != "" {
		t.Fatalf("empty columns must decode to zero values: %+v", grants[0])
	}
	if !grants[1].IsDeny || grants[1].InheritanceMode != permission.ModeNone {
		t.Fatalf("unexpected deny grant %+v", grants[1])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetGrantNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("select (.+) from grants where id = \\$1").
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows(grantCols))

	if _, err := store.GetGrant(context.Background(), "nope"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteGrant(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("delete from grants where id = \\$1").
		WithArgs("g-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("delete from grants where id = \\$1").
		WithArgs("g-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.DeleteGrant(context.Background(), "g-1"); err != nil {
		t.Fatalf("DeleteGrant: %v", err)
	}
	if err := store.DeleteGrant(context.Background(), "g-1"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
