package permission

import (
	"fmt"
	"strings"
)

type overrideState uint8

const (
	overrideUnset overrideState = iota
	overrideInherit
	overrideExplicit
)

// Override is a child override with an explicit tri-state: unset, the
// inherit sentinel, or an explicit level. Inherit and Explicit(LevelView)
// are distinct values.
type Override struct {
	state overrideState
	level Level
}

func Unset() Override   { return Override{} }
func Inherit() Override { return Override{state: overrideInherit} }

// Explicit returns an override pinned to l. It does not validate l; the
// engine rejects invalid levels when the override is read.
func Explicit(l Level) Override {
	return Override{state: overrideExplicit, level: l}
}

// OverrideFromValue maps -1 to Inherit and 0..7 to Explicit.
func OverrideFromValue(v int) (Override, error) {
	l := Level(v)
	if err := checkOverrideLevel("child override", l); err != nil {
		return Override{}, err
	}
	if l == LevelInherit {
		return Inherit(), nil
	}
	return Explicit(l), nil
}

func (o Override) IsSet() bool     { return o.state != overrideUnset }
func (o Override) IsInherit() bool { return o.state == overrideInherit }

// Level returns the explicit level, if any.
func (o Override) Level() (Level, bool) {
	if o.state != overrideExplicit {
		return 0, false
	}
	return o.level, true
}

func (o Override) String() string {
	switch o.state {
	case overrideInherit:
		return "inherit"
	case overrideExplicit:
		return o.level.String()
	}
	return "unset"
}

// Value returns the wire value of a set override: -1 for inherit, the level otherwise.
func (o Override) Value() (int, bool) {
	switch o.state {
	case overrideInherit:
		return int(LevelInherit), true
	case overrideExplicit:
		return int(o.level), true
	}
	return 0, false
}

func (o Override) validate(field string) error {
	if o.state == overrideExplicit {
		if err := checkGrantLevel(field, o.level); err != nil {
			return err
		}
	}
	return nil
}

type pendingGrant struct {
	level    *Level
	mode     *InheritanceMode
	children map[string]Override
}

// PendingEdits is an immutable overlay of uncommitted edits keyed by
// grant id. The With* builders return a new snapshot and leave the
// receiver untouched, so a snapshot may be shared between goroutines.
// The zero value is an empty overlay.
type PendingEdits struct {
	grants map[string]pendingGrant
}

// Len returns the number of grants with pending edits.
func (p PendingEdits) Len() int { return len(p.grants) }

// Level returns the pending level for grantID.
func (p PendingEdits) Level(grantID string) (Level, bool) {
	pg, ok := p.grants[grantID]
	if !ok || pg.level == nil {
		return 0, false
	}
	return *pg.level, true
}

// Mode returns the pending inheritance mode for grantID.
func (p PendingEdits) Mode(grantID string) (InheritanceMode, bool) {
	pg, ok := p.grants[grantID]
	if !ok || pg.mode == nil {
		return "", false
	}
	return *pg.mode, true
}

// ChildOverride returns the pending override of childCode under grantID,
// or Unset when nothing is staged.
func (p PendingEdits) ChildOverride(grantID, childCode string) Override {
	pg, ok := p.grants[grantID]
	if !ok {
		return Unset()
	}
	return pg.children[childCode]
}

// GrantIDs lists grants with staged edits, in no particular order.
func (p PendingEdits) GrantIDs() []string {
	ids := make([]string, 0, len(p.grants))
	for id := range p.grants {
		ids = append(ids, id)
	}
	return ids
}

func (p PendingEdits) with(grantID string, fn func(*pendingGrant)) PendingEdits {
	next := make(map[string]pendingGrant, len(p.grants)+1)
	for k, v := range p.grants {
		next[k] = v
	}
	pg := next[grantID]
	children := make(map[string]Override, len(pg.children)+1)
	for k, v := range pg.children {
		children[k] = v
	}
	pg.children = children
	fn(&pg)
	next[grantID] = pg
	return PendingEdits{grants: next}
}

// WithLevel stages a level for grantID.
func (p PendingEdits) WithLevel(grantID string, l Level) PendingEdits {
	return p.with(grantID, func(pg *pendingGrant) { pg.level = &l })
}

// WithMode stages an inheritance mode for grantID.
func (p PendingEdits) WithMode(grantID string, m InheritanceMode) PendingEdits {
	return p.with(grantID, func(pg *pendingGrant) { pg.mode = &m })
}

// WithChildOverride stages o for childCode. Staging Unset removes a staged override.
func (p PendingEdits) WithChildOverride(grantID, childCode string, o Override) PendingEdits {
	return p.with(grantID, func(pg *pendingGrant) {
		if !o.IsSet() {
			delete(pg.children, childCode)
			return
		}
		pg.children[childCode] = o
	})
}

// WithChildReset stages the inherit sentinel for childCode.
func (p PendingEdits) WithChildReset(grantID, childCode string) PendingEdits {
	return p.WithChildOverride(grantID, childCode, Inherit())
}

// Without drops every staged edit for grantID.
func (p PendingEdits) Without(grantID string) PendingEdits {
	if _, ok := p.grants[grantID]; !ok {
		return p
	}
	next := make(map[string]pendingGrant, len(p.grants))
	for k, v := range p.grants {
		if k != grantID {
			next[k] = v
		}
	}
	return PendingEdits{grants: next}
}

// Validate checks every staged level and mode.
func (p PendingEdits) Validate() error {
	for id, pg := range p.grants {
		if pg.level != nil {
			if err := checkGrantLevel("pending level of grant "+id, *pg.level); err != nil {
				return err
			}
		}
		if pg.mode != nil && !pg.mode.normalized().Valid() {
			return fmt.Errorf("%w: pending mode %q of grant %s", ErrInvalidMode, *pg.mode, id)
		}
		for code, o := range pg.children {
			if err := o.validate("pending override " + code + " of grant " + id); err != nil {
				return err
			}
		}
	}
	return nil
}

// EditInput is the wire form of the edits staged for one grant. A child
// override of -1 (or "inherit") resets that child; absent keys stay unset.
type EditInput struct {
	GrantID         string           `json:"grant_id"`
	Level           *Level           `json:"level,omitempty"`
	InheritanceMode *string          `json:"inheritance_mode,omitempty"`
	ChildOverrides  map[string]Level `json:"child_overrides,omitempty"`
}

// BuildPendingEdits folds inputs into a PendingEdits snapshot. Later
// inputs for the same grant win field by field.
func BuildPendingEdits(inputs []EditInput) (PendingEdits, error) {
	var edits PendingEdits
	for i, in := range inputs {
		id := strings.TrimSpace(in.GrantID)
		if id == "" {
			return PendingEdits{}, fmt.Errorf("pending edit %d: grant_id is required", i)
		}
		if in.Level != nil {
			edits = edits.WithLevel(id, *in.Level)
		}
		if in.InheritanceMode != nil {
			mode, err := ParseInheritanceMode(*in.InheritanceMode)
			if err != nil {
				return PendingEdits{}, err
			}
			edits = edits.WithMode(id, mode)
		}
		for code, l := range in.ChildOverrides {
			ov, err := OverrideFromValue(int(l))
			if err != nil {
				return PendingEdits{}, err
			}
			edits = edits.WithChildOverride(id, strings.TrimSpace(code), ov)
		}
	}
	return edits, nil
}
