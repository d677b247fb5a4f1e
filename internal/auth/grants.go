package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"accessmatrix.org/internal/obs"
	"accessmatrix.org/internal/permission"
)

// Role owns a set of permission grants.
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// GrantStore persists roles and their grants. Implementations assign ids
// and GrantedAt on create and map constraint violations to ErrConflict
// and ErrNotFound.
type GrantStore interface {
	CreateRole(ctx context.Context, name, description string) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	GetRole(ctx context.Context, roleID string) (Role, error)
	DeleteRole(ctx context.Context, roleID string) error

	CreateGrant(ctx context.Context, g permission.Grant) (permission.Grant, error)
	GetGrant(ctx context.Context, grantID string) (permission.Grant, error)
	ListGrants(ctx context.Context, roleID string) ([]permission.Grant, error)
	UpdateGrant(ctx context.Context, g permission.Grant) (permission.Grant, error)
	DeleteGrant(ctx context.Context, grantID string) error
}

// SchemaSource is the entity registry consulted by the service.
type SchemaSource interface {
	Schema() permission.Schema
	Has(code string) bool
}

// GrantInput describes a new grant.
type GrantInput struct {
	EntityCode       string                      `json:"entity_code"`
	EntityInstanceID string                      `json:"entity_instance_id"`
	Level            permission.Level            `json:"level"`
	IsDeny           bool                        `json:"is_deny"`
	InheritanceMode  permission.InheritanceMode  `json:"inheritance_mode"`
	ChildOverrides   map[string]permission.Level `json:"child_overrides"`
	ExpiresAt        *time.Time                  `json:"expires_at"`
	GrantedBy        string                      `json:"granted_by"`
}

// GrantUpdate carries a partial update. ChildOverrides is merged into the
// stored overrides; the inherit sentinel (-1) removes an override.
type GrantUpdate struct {
	Level           *permission.Level
	IsDeny          *bool
	InheritanceMode *permission.InheritanceMode
	ChildOverrides  map[string]permission.Level
	ExpiresAt       *time.Time
	ClearExpiry     bool
}

// GrantService validates grant management requests and resolves
// effective permissions for a role.
type GrantService struct {
	store  GrantStore
	schema SchemaSource
	now    func() time.Time
}

// GrantServiceOption configures GrantService.
type GrantServiceOption func(*GrantService)

// WithClock overrides the clock used for expiry filtering.
func WithClock(now func() time.Time) GrantServiceOption {
	return func(s *GrantService) {
		if now != nil {
			s.now = now
		}
	}
}

func NewGrantService(store GrantStore, schema SchemaSource, opts ...GrantServiceOption) (*GrantService, error) {
	if store == nil {
		return nil, errors.New("grant store is required")
	}
	if schema == nil {
		return nil, errors.New("entity schema is required")
	}
	s := &GrantService{store: store, schema: schema, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Schema returns the registry the service validates against.
func (s *GrantService) Schema() SchemaSource { return s.schema }

// Store returns the backing grant store.
func (s *GrantService) Store() GrantStore { return s.store }

func (s *GrantService) CreateRole(ctx context.Context, name, description string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	return s.store.CreateRole(ctx, name, strings.TrimSpace(description))
}

func (s *GrantService) ListRoles(ctx context.Context) ([]Role, error) {
	return s.store.ListRoles(ctx)
}

func (s *GrantService) GetRole(ctx context.Context, roleID string) (Role, error) {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return Role{}, fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	return s.store.GetRole(ctx, roleID)
}

func (s *GrantService) DeleteRole(ctx context.Context, roleID string) error {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	return s.store.DeleteRole(ctx, roleID)
}

// ListGrants returns every grant of the role, expired ones included, in display order.
func (s *GrantService) ListGrants(ctx context.Context, roleID string) ([]permission.Grant, error) {
	if _, err := s.GetRole(ctx, roleID); err != nil {
		return nil, err
	}
	grants, err := s.store.ListGrants(ctx, strings.TrimSpace(roleID))
	if err != nil {
		return nil, err
	}
	return permission.SortForDisplay(grants), nil
}

func (s *GrantService) GetGrant(ctx context.Context, grantID string) (permission.Grant, error) {
	grantID = strings.TrimSpace(grantID)
	if grantID == "" {
		return permission.Grant{}, fmt.Errorf("%w: grant_id is required", ErrInvalidInput)
	}
	return s.store.GetGrant(ctx, grantID)
}

func (s *GrantService) CreateGrant(ctx context.Context, roleID string, in GrantInput) (permission.Grant, error) {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return permission.Grant{}, fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	code := strings.TrimSpace(in.EntityCode)
	if code == "" {
		return permission.Grant{}, fmt.Errorf("%w: entity_code is required", ErrInvalidInput)
	}
	if !s.schema.Has(code) {
		return permission.Grant{}, fmt.Errorf("%w: unknown entity %q", ErrInvalidInput, code)
	}
	instance := strings.TrimSpace(in.EntityInstanceID)
	if instance == "" {
		instance = permission.AllInstances
	}
	mode, err := permission.ParseInheritanceMode(string(in.InheritanceMode))
	if err != nil {
		return permission.Grant{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	grantedBy := strings.TrimSpace(in.GrantedBy)
	if grantedBy == "" {
		grantedBy, _ = UserIDFromContext(ctx)
	}

	g := permission.Grant{
		RoleID:           roleID,
		EntityCode:       code,
		EntityInstanceID: instance,
		Level:            in.Level,
		IsDeny:           in.IsDeny,
		InheritanceMode:  mode,
		ChildOverrides:   mergeOverrides(nil, in.ChildOverrides),
		ExpiresAt:        in.ExpiresAt,
		GrantedBy:        grantedBy,
	}
	if err := s.validateGrant(g, in.ChildOverrides, in.ExpiresAt != nil); err != nil {
		return permission.Grant{}, err
	}
	return s.store.CreateGrant(ctx, g)
}

func (s *GrantService) UpdateGrant(ctx context.Context, grantID string, upd GrantUpdate) (permission.Grant, error) {
	g, err := s.GetGrant(ctx, grantID)
	if err != nil {
		return permission.Grant{}, err
	}
	if upd.Level != nil {
		g.Level = *upd.Level
	}
	if upd.IsDeny != nil {
		g.IsDeny = *upd.IsDeny
	}
	if upd.InheritanceMode != nil {
		mode, err := permission.ParseInheritanceMode(string(*upd.InheritanceMode))
		if err != nil {
			return permission.Grant{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		g.InheritanceMode = mode
	}
	g.ChildOverrides = mergeOverrides(g.ChildOverrides, upd.ChildOverrides)
	switch {
	case upd.ClearExpiry:
		g.ExpiresAt = nil
	case upd.ExpiresAt != nil:
		g.ExpiresAt = upd.ExpiresAt
	}
	if err := s.validateGrant(g, upd.ChildOverrides, upd.ExpiresAt != nil && !upd.ClearExpiry); err != nil {
		return permission.Grant{}, err
	}
	return s.store.UpdateGrant(ctx, g)
}

func (s *GrantService) DeleteGrant(ctx context.Context, grantID string) error {
	grantID = strings.TrimSpace(grantID)
	if grantID == "" {
		return fmt.Errorf("%w: grant_id is required", ErrInvalidInput)
	}
	return s.store.DeleteGrant(ctx, grantID)
}

// ResolveRole resolves every active grant of the role with edits
// overlaid, in display order. Edits must target grants of the role.
func (s *GrantService) ResolveRole(ctx context.Context, roleID string, edits permission.PendingEdits) ([]permission.Resolution, error) {
	if err := edits.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	all, err := s.roleGrants(ctx, roleID)
	if err != nil {
		return nil, err
	}
	owned := make(map[string]bool, len(all))
	for _, g := range all {
		owned[g.ID] = true
	}
	for _, id := range edits.GrantIDs() {
		if !owned[id] {
			return nil, fmt.Errorf("%w: pending edit references grant %q outside role %s", ErrInvalidInput, id, roleID)
		}
	}
	grants := permission.FilterActive(all, s.now())
	schema := s.schema.Schema()
	out := make([]permission.Resolution, 0, len(grants))
	for _, g := range permission.SortForDisplay(grants) {
		res, err := permission.Resolve(g, schema.Children(g.EntityCode), edits)
		if err != nil {
			return nil, fmt.Errorf("resolve grant %s: %w", g.ID, err)
		}
		obs.ObserveResolution(string(res.Mode))
		out = append(out, res)
	}
	return out, nil
}

// Check decides an access request against the role's active grants.
func (s *GrantService) Check(ctx context.Context, roleID string, req permission.AccessRequest) (permission.Decision, error) {
	req.EntityCode = strings.TrimSpace(req.EntityCode)
	if req.EntityCode == "" {
		return permission.Decision{}, fmt.Errorf("%w: entity_code is required", ErrInvalidInput)
	}
	if !req.Required.Valid() {
		return permission.Decision{}, fmt.Errorf("%w: %w", ErrInvalidInput,
			&permission.InvalidLevelError{Field: "required", Value: int(req.Required)})
	}
	grants, err := s.activeGrants(ctx, roleID)
	if err != nil {
		return permission.Decision{}, err
	}
	d, err := permission.Evaluate(grants, s.schema.Schema(), req)
	if err != nil {
		return permission.Decision{}, err
	}
	switch {
	case d.Denied:
		obs.ObserveDecision("denied")
	case d.Allowed:
		obs.ObserveDecision("allowed")
	default:
		obs.ObserveDecision("rejected")
	}
	return d, nil
}

func (s *GrantService) roleGrants(ctx context.Context, roleID string) ([]permission.Grant, error) {
	if _, err := s.GetRole(ctx, roleID); err != nil {
		return nil, err
	}
	return s.store.ListGrants(ctx, strings.TrimSpace(roleID))
}

func (s *GrantService) activeGrants(ctx context.Context, roleID string) ([]permission.Grant, error) {
	grants, err := s.roleGrants(ctx, roleID)
	if err != nil {
		return nil, err
	}
	return permission.FilterActive(grants, s.now()), nil
}

// validateGrant checks levels and mode, that every newly written override
// names a child of the grant's entity and, when the expiry changed, that
// it lies in the future.
func (s *GrantService) validateGrant(g permission.Grant, written map[string]permission.Level, expiryChanged bool) error {
	if err := g.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	probe := permission.Grant{ID: g.ID, ChildOverrides: written}
	if err := permission.UnknownOverrides(probe, s.schema.Schema().Children(g.EntityCode), permission.PendingEdits{}); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if expiryChanged && g.ExpiresAt != nil && !g.ExpiresAt.After(s.now()) {
		return fmt.Errorf("%w: expires_at must be in the future", ErrInvalidInput)
	}
	return nil
}

// mergeOverrides applies changes onto base. The inherit sentinel removes
// an entry: a stored override is always an explicit level.
func mergeOverrides(base, changes map[string]permission.Level) map[string]permission.Level {
	if len(base) == 0 && len(changes) == 0 {
		return nil
	}
	out := make(map[string]permission.Level, len(base)+len(changes))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range changes {
		k = strings.TrimSpace(k)
		if v == permission.LevelInherit {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
