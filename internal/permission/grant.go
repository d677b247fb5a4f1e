package permission

import (
	"fmt"
	"strings"
	"time"
)

// AllInstances is the instance id of a type-level grant.
const AllInstances = "ALL"

// Grant is a permission granted to a role on an entity type or instance.
type Grant struct {
	ID               string           `json:"id"`
	RoleID           string           `json:"role_id"`
	EntityCode       string           `json:"entity_code"`
	EntityInstanceID string           `json:"entity_instance_id"`
	Level            Level            `json:"level"`
	IsDeny           bool             `json:"is_deny"`
	InheritanceMode  InheritanceMode  `json:"inheritance_mode"`
	ChildOverrides   map[string]Level `json:"child_overrides,omitempty"`
	GrantedAt        time.Time        `json:"granted_at"`
	ExpiresAt        *time.Time       `json:"expires_at,omitempty"`
	GrantedBy        string           `json:"granted_by,omitempty"`
}

// IsTypeLevel reports whether the grant covers every instance of its entity type.
func (g Grant) IsTypeLevel() bool {
	return g.EntityInstanceID == "" || g.EntityInstanceID == AllInstances
}

// Covers reports whether the grant targets the given entity instance.
func (g Grant) Covers(entityCode, instanceID string) bool {
	if g.EntityCode != entityCode {
		return false
	}
	return g.IsTypeLevel() || g.EntityInstanceID == instanceID
}

// ActiveAt reports whether the grant has not expired at now.
func (g Grant) ActiveAt(now time.Time) bool {
	return g.ExpiresAt == nil || now.Before(*g.ExpiresAt)
}

// Validate checks the committed values of the grant.
func (g Grant) Validate() error {
	if strings.TrimSpace(g.EntityCode) == "" {
		return fmt.Errorf("permission: grant %s: entity code is required", g.ID)
	}
	if err := checkGrantLevel("grant "+g.ID+" level", g.Level); err != nil {
		return err
	}
	if !g.InheritanceMode.normalized().Valid() {
		return fmt.Errorf("%w: %q on grant %s", ErrInvalidMode, g.InheritanceMode, g.ID)
	}
	for code, l := range g.ChildOverrides {
		if err := checkOverrideLevel("grant "+g.ID+" override "+code, l); err != nil {
			return err
		}
	}
	return nil
}

// FilterActive returns the grants that have not expired at now.
func FilterActive(grants []Grant, now time.Time) []Grant {
	out := make([]Grant, 0, len(grants))
	for _, g := range grants {
		if g.ActiveAt(now) {
			out = append(out, g)
		}
	}
	return out
}

// ChildEntityConfig describes one child entity type of a parent type.
// Owned children receive the full parent level; lookup children are
// capped at COMMENT.
type ChildEntityConfig struct {
	ChildEntityCode string `json:"child_entity_code" yaml:"code"`
	Label           string `json:"label,omitempty" yaml:"label"`
	Owned           bool   `json:"ownership_flag" yaml:"owned"`
}

// Schema maps a parent entity code to its child entity configs.
type Schema map[string][]ChildEntityConfig

// Children returns the configured children of code.
func (s Schema) Children(code string) []ChildEntityConfig {
	return s[code]
}

// Child looks up a single parent/child relationship.
func (s Schema) Child(parent, child string) (ChildEntityConfig, bool) {
	for _, c := range s[parent] {
		if c.ChildEntityCode == child {
			return c, true
		}
	}
	return ChildEntityConfig{}, false
}
