package permission

import "strings"

// EntityRef identifies an entity instance.
type EntityRef struct {
	EntityCode string `json:"entity_code"`
	InstanceID string `json:"instance_id"`
}

// AccessRequest asks whether a role may act at Required on an entity.
// Parent, when set, names the owning parent instance so grants on the
// parent can be inherited.
type AccessRequest struct {
	EntityCode string     `json:"entity_code"`
	InstanceID string     `json:"instance_id"`
	Required   Level      `json:"required"`
	Parent     *EntityRef `json:"parent,omitempty"`
}

// Decision is the outcome of Evaluate. Denied and a granted VIEW level
// are different states: check Denied before anything else.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Denied  bool   `json:"denied"`
	Granted bool   `json:"granted"`
	Level   Level  `json:"level"`
	Source  string `json:"source,omitempty"`
	GrantID string `json:"grant_id,omitempty"`
}

const (
	decisionDirect    = "direct"
	decisionInherited = "inherited"
	decisionDeny      = "deny"
)

// Evaluate decides req against committed grants. An explicit deny on the
// target wins before any level is consulted. Otherwise the highest
// direct or inherited level is compared with req.Required. Grants must
// already be filtered for expiry.
func Evaluate(grants []Grant, schema Schema, req AccessRequest) (Decision, error) {
	if err := checkGrantLevel("required level", req.Required); err != nil {
		return Decision{}, err
	}

	for _, g := range grants {
		if g.IsDeny && g.Covers(req.EntityCode, req.InstanceID) {
			return Decision{Denied: true, Source: decisionDeny, GrantID: g.ID}, nil
		}
	}

	var (
		none     PendingEdits
		best     = LevelInherit
		source   string
		bestFrom string
	)
	consider := func(l Level, src, grantID string) {
		if l > best {
			best, source, bestFrom = l, src, grantID
		}
	}

	for _, g := range grants {
		if g.IsDeny || !g.Covers(req.EntityCode, req.InstanceID) {
			continue
		}
		l, err := EffectiveGrantLevel(g, none)
		if err != nil {
			return Decision{}, err
		}
		consider(l, decisionDirect, g.ID)
	}

	if p := req.Parent; p != nil && strings.TrimSpace(p.EntityCode) != "" {
		if child, ok := schema.Child(p.EntityCode, req.EntityCode); ok && !parentDenied(grants, *p) {
			for _, g := range grants {
				if g.IsDeny || !g.Covers(p.EntityCode, p.InstanceID) {
					continue
				}
				l, ok, err := EffectiveChildLevel(g, child, none)
				if err != nil {
					return Decision{}, err
				}
				if ok {
					consider(l, decisionInherited, g.ID)
				}
			}
		}
	}

	if best == LevelInherit {
		return Decision{}, nil
	}
	return Decision{
		Allowed: best >= req.Required,
		Granted: true,
		Level:   best,
		Source:  source,
		GrantID: bestFrom,
	}, nil
}

// parentDenied reports whether a deny covers the parent; inheritance
// never flows through a denied parent.
func parentDenied(grants []Grant, p EntityRef) bool {
	for _, g := range grants {
		if g.IsDeny && g.Covers(p.EntityCode, p.InstanceID) {
			return true
		}
	}
	return false
}
