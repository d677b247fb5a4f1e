package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"accessmatrix.org/internal/auth"
	"accessmatrix.org/internal/ids"
	"accessmatrix.org/internal/permission"
)

const grantColumns = `id, role_id, entity_code, entity_instance_id, level, is_deny,
		inheritance_mode, child_overrides, granted_at, expires_at, granted_by`

func (s *Store) CreateRole(ctx context.Context, name, description string) (auth.Role, error) {
	if s.db == nil {
		return auth.Role{}, errNoDB
	}
	var role auth.Role
	row := s.db.QueryRowContext(ctx, `
		insert into roles (id, name, description)
		values ($1, $2, $3)
		returning id, name, description, created_at, updated_at
	`, ids.New(), name, description)
	if err := row.Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt); err != nil {
		return auth.Role{}, mapError(err)
	}
	return role, nil
}

func (s *Store) ListRoles(ctx context.Context) ([]auth.Role, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, name, description, created_at, updated_at
		from roles
		order by name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []auth.Role
	for rows.Next() {
		var role auth.Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) GetRole(ctx context.Context, roleID string) (auth.Role, error) {
	if s.db == nil {
		return auth.Role{}, errNoDB
	}
	var role auth.Role
	err := s.db.QueryRowContext(ctx, `
		select id, name, description, created_at, updated_at
		from roles
		where id = $1
	`, roleID).Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		return auth.Role{}, mapError(err)
	}
	return role, nil
}

// DeleteRole removes the role; its grants go with it through the foreign key.
func (s *Store) DeleteRole(ctx context.Context, roleID string) error {
	if s.db == nil {
		return errNoDB
	}
	return s.execOne(ctx, `delete from roles where id = $1`, roleID)
}

func (s *Store) CreateGrant(ctx context.Context, g permission.Grant) (permission.Grant, error) {
	if s.db == nil {
		return permission.Grant{}, errNoDB
	}
	overrides, err := encodeOverrides(g.ChildOverrides)
	if err != nil {
		return permission.Grant{}, err
	}
	grantedAt := g.GrantedAt
	if grantedAt.IsZero() {
		grantedAt = s.now()
	}
	row := s.db.QueryRowContext(ctx, `
		insert into grants (`+grantColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		returning `+grantColumns,
		ids.New(), g.RoleID, g.EntityCode, g.EntityInstanceID, int(g.Level), g.IsDeny,
		string(g.InheritanceMode), overrides, grantedAt, nullTime(g.ExpiresAt), nullIfEmpty(g.GrantedBy))
	out, err := scanGrant(row)
	if err != nil {
		return permission.Grant{}, mapError(err)
	}
	return out, nil
}

func (s *Store) GetGrant(ctx context.Context, grantID string) (permission.Grant, error) {
	if s.db == nil {
		return permission.Grant{}, errNoDB
	}
	row := s.db.QueryRowContext(ctx, `select `+grantColumns+` from grants where id = $1`, grantID)
	g, err := scanGrant(row)
	if err != nil {
		return permission.Grant{}, mapError(err)
	}
	return g, nil
}

func (s *Store) ListGrants(ctx context.Context, roleID string) ([]permission.Grant, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+grantColumns+`
		from grants
		where role_id = $1
		order by id
	`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []permission.Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateGrant rewrites the mutable columns. Role and provenance stay as stored.
func (s *Store) UpdateGrant(ctx context.Context, g permission.Grant) (permission.Grant, error) {
	if s.db == nil {
		return permission.Grant{}, errNoDB
	}
	overrides, err := encodeOverrides(g.ChildOverrides)
	if err != nil {
		return permission.Grant{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		update grants
		set entity_code = $2, entity_instance_id = $3, level = $4, is_deny = $5,
			inheritance_mode = $6, child_overrides = $7, expires_at = $8
		where id = $1
		returning `+grantColumns,
		g.ID, g.EntityCode, g.EntityInstanceID, int(g.Level), g.IsDeny,
		string(g.InheritanceMode), overrides, nullTime(g.ExpiresAt))
	out, err := scanGrant(row)
	if err != nil {
		return permission.Grant{}, mapError(err)
	}
	return out, nil
}

func (s *Store) DeleteGrant(ctx context.Context, grantID string) error {
	if s.db == nil {
		return errNoDB
	}
	return s.execOne(ctx, `delete from grants where id = $1`, grantID)
}

func (s *Store) execOne(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return mapError(err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanGrant(row scanner) (permission.Grant, error) {
	var (
		g         permission.Grant
		level     int
		mode      string
		rawOver   []byte
		expiresAt sql.NullTime
		grantedBy sql.NullString
	)
	if err := row.Scan(&g.ID, &g.RoleID, &g.EntityCode, &g.EntityInstanceID, &level, &g.IsDeny,
		&mode, &rawOver, &g.GrantedAt, &expiresAt, &grantedBy); err != nil {
		return permission.Grant{}, err
	}
	g.Level = permission.Level(level)
	g.InheritanceMode = permission.InheritanceMode(mode)
	if len(rawOver) > 0 {
		if err := json.Unmarshal(rawOver, &g.ChildOverrides); err != nil {
			return permission.Grant{}, fmt.Errorf("decode child_overrides of grant %s: %w", g.ID, err)
		}
		if len(g.ChildOverrides) == 0 {
			g.ChildOverrides = nil
		}
	}
	if expiresAt.Valid {
		t := expiresAt.Time.UTC()
		g.ExpiresAt = &t
	}
	g.GrantedBy = grantedBy.String
	return g, nil
}

func encodeOverrides(overrides map[string]permission.Level) ([]byte, error) {
	if len(overrides) == 0 {
		return []byte("{}"), nil
	}
	raw, err := json.Marshal(overrides)
	if err != nil {
		return nil, fmt.Errorf("marshal child_overrides: %w", err)
	}
	return raw, nil
}
