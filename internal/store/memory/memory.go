// Package memory is an in-process grant store used when no database is
// configured and by tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"accessmatrix.org/internal/auth"
	"accessmatrix.org/internal/ids"
	"accessmatrix.org/internal/permission"
)

var _ auth.GrantStore = (*Store)(nil)

// Store keeps roles and grants in maps guarded by a RWMutex.
type Store struct {
	mu     sync.RWMutex
	roles  map[string]auth.Role
	grants map[string]permission.Grant
	now    func() time.Time
}

func New() *Store {
	return &Store{
		roles:  make(map[string]auth.Role),
		grants: make(map[string]permission.Grant),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) CreateRole(_ context.Context, name, description string) (auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.roles {
		if r.Name == name {
			return auth.Role{}, auth.ErrConflict
		}
	}
	now := s.now()
	role := auth.Role{ID: ids.New(), Name: name, Description: description, CreatedAt: now, UpdatedAt: now}
	s.roles[role.ID] = role
	return role, nil
}

func (s *Store) ListRoles(_ context.Context) ([]auth.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]auth.Role, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) GetRole(_ context.Context, roleID string) (auth.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[roleID]
	if !ok {
		return auth.Role{}, auth.ErrNotFound
	}
	return r, nil
}

// DeleteRole removes the role together with its grants.
func (s *Store) DeleteRole(_ context.Context, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return auth.ErrNotFound
	}
	delete(s.roles, roleID)
	for id, g := range s.grants {
		if g.RoleID == roleID {
			delete(s.grants, id)
		}
	}
	return nil
}

func (s *Store) CreateGrant(_ context.Context, g permission.Grant) (permission.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[g.RoleID]; !ok {
		return permission.Grant{}, auth.ErrNotFound
	}
	if s.duplicate(g) {
		return permission.Grant{}, auth.ErrConflict
	}
	g.ID = ids.New()
	if g.GrantedAt.IsZero() {
		g.GrantedAt = s.now()
	}
	s.grants[g.ID] = cloneGrant(g)
	return cloneGrant(g), nil
}

func (s *Store) GetGrant(_ context.Context, grantID string) (permission.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.grants[grantID]
	if !ok {
		return permission.Grant{}, auth.ErrNotFound
	}
	return cloneGrant(g), nil
}

func (s *Store) ListGrants(_ context.Context, roleID string) ([]permission.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []permission.Grant
	for _, g := range s.grants {
		if g.RoleID == roleID {
			out = append(out, cloneGrant(g))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) UpdateGrant(_ context.Context, g permission.Grant) (permission.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.grants[g.ID]
	if !ok {
		return permission.Grant{}, auth.ErrNotFound
	}
	if s.duplicate(g) {
		return permission.Grant{}, auth.ErrConflict
	}
	// Identity and provenance are immutable.
	g.RoleID = current.RoleID
	g.GrantedAt = current.GrantedAt
	g.GrantedBy = current.GrantedBy
	s.grants[g.ID] = cloneGrant(g)
	return cloneGrant(g), nil
}

func (s *Store) DeleteGrant(_ context.Context, grantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.grants[grantID]; !ok {
		return auth.ErrNotFound
	}
	delete(s.grants, grantID)
	return nil
}

// duplicate reports another grant on the same role, target and polarity.
func (s *Store) duplicate(g permission.Grant) bool {
	for id, other := range s.grants {
		if id == g.ID {
			continue
		}
		if other.RoleID == g.RoleID && other.EntityCode == g.EntityCode &&
			other.EntityInstanceID == g.EntityInstanceID && other.IsDeny == g.IsDeny {
			return true
		}
	}
	return false
}

func cloneGrant(g permission.Grant) permission.Grant {
	if g.ChildOverrides != nil {
		overrides := make(map[string]permission.Level, len(g.ChildOverrides))
		for k, v := range g.ChildOverrides {
			overrides[k] = v
		}
		g.ChildOverrides = overrides
	}
	if g.ExpiresAt != nil {
		exp := *g.ExpiresAt
		g.ExpiresAt = &exp
	}
	return g
}
