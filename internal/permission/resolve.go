package permission

import (
	"errors"
	"fmt"
	"sort"
)

// Source explains where a resolved child level came from.
type Source string

const (
	SourceCascade  Source = "cascade"
	SourceOverride Source = "override"
	SourceInherit  Source = "inherit"
)

// Resolution is the resolved view of one grant and its children.
type Resolution struct {
	GrantID          string            `json:"grant_id"`
	EntityCode       string            `json:"entity_code"`
	EntityInstanceID string            `json:"entity_instance_id"`
	IsDeny           bool              `json:"is_deny"`
	Level            Level             `json:"level"`
	Mode             InheritanceMode   `json:"inheritance_mode"`
	Pending          bool              `json:"pending"`
	Children         []ChildResolution `json:"children"`
}

// ChildResolution is the effective level of one child entity type.
type ChildResolution struct {
	Code   string `json:"child_entity_code"`
	Label  string `json:"label,omitempty"`
	Owned  bool   `json:"ownership_flag"`
	Level  Level  `json:"level"`
	Source Source `json:"source"`
}

// EffectiveGrantLevel returns the pending level of g if one is staged and
// the committed level otherwise. It ignores IsDeny.
func EffectiveGrantLevel(g Grant, edits PendingEdits) (Level, error) {
	if l, ok := edits.Level(g.ID); ok {
		if err := checkGrantLevel("pending level of grant "+g.ID, l); err != nil {
			return 0, err
		}
		return l, nil
	}
	if err := checkGrantLevel("level of grant "+g.ID, g.Level); err != nil {
		return 0, err
	}
	return g.Level, nil
}

// EffectiveInheritanceMode applies the same overlay rule to the inheritance mode.
func EffectiveInheritanceMode(g Grant, edits PendingEdits) (InheritanceMode, error) {
	m := g.InheritanceMode
	if pm, ok := edits.Mode(g.ID); ok {
		m = pm
	}
	m = m.normalized()
	if !m.Valid() {
		return "", fmt.Errorf("%w: %q on grant %s", ErrInvalidMode, m, g.ID)
	}
	return m, nil
}

// EffectiveChildLevel resolves the level child receives under g. ok is
// false when the effective mode is none: the child is not part of the
// inheritance output at all.
func EffectiveChildLevel(g Grant, child ChildEntityConfig, edits PendingEdits) (Level, bool, error) {
	l, _, ok, err := childLevel(g, child, edits)
	return l, ok, err
}

func childLevel(g Grant, child ChildEntityConfig, edits PendingEdits) (Level, Source, bool, error) {
	mode, err := EffectiveInheritanceMode(g, edits)
	if err != nil {
		return 0, "", false, err
	}
	if mode == ModeNone {
		return 0, "", false, nil
	}
	base, err := EffectiveGrantLevel(g, edits)
	if err != nil {
		return 0, "", false, err
	}

	if mode == ModeCascade {
		if !child.Owned {
			return minLevel(base, LevelComment), SourceCascade, true, nil
		}
		return base, SourceCascade, true, nil
	}

	ov, err := childOverride(g, child.ChildEntityCode, edits)
	if err != nil {
		return 0, "", false, err
	}
	limit := base
	if !child.Owned {
		limit = LevelComment
	}
	if l, ok := ov.Level(); ok {
		return minLevel(l, limit), SourceOverride, true, nil
	}
	return limit, SourceInherit, true, nil
}

// childOverride returns the staged override of code, falling back to the
// committed one when nothing is staged.
func childOverride(g Grant, code string, edits PendingEdits) (Override, error) {
	if ov := edits.ChildOverride(g.ID, code); ov.IsSet() {
		if err := ov.validate("pending override " + code + " of grant " + g.ID); err != nil {
			return Override{}, err
		}
		return ov, nil
	}
	l, ok := g.ChildOverrides[code]
	if !ok {
		return Unset(), nil
	}
	if err := checkOverrideLevel("override "+code+" of grant "+g.ID, l); err != nil {
		return Override{}, err
	}
	if l == LevelInherit {
		return Inherit(), nil
	}
	return Explicit(l), nil
}

// Resolve computes the effective row for g and one row per child in
// children. Override keys that are not in children are ignored.
func Resolve(g Grant, children []ChildEntityConfig, edits PendingEdits) (Resolution, error) {
	level, err := EffectiveGrantLevel(g, edits)
	if err != nil {
		return Resolution{}, err
	}
	mode, err := EffectiveInheritanceMode(g, edits)
	if err != nil {
		return Resolution{}, err
	}
	_, pendingLevel := edits.Level(g.ID)
	_, pendingMode := edits.Mode(g.ID)

	res := Resolution{
		GrantID:          g.ID,
		EntityCode:       g.EntityCode,
		EntityInstanceID: g.EntityInstanceID,
		IsDeny:           g.IsDeny,
		Level:            level,
		Mode:             mode,
		Pending:          pendingLevel || pendingMode,
		Children:         []ChildResolution{},
	}
	if res.EntityInstanceID == "" {
		res.EntityInstanceID = AllInstances
	}
	if mode == ModeNone {
		return res, nil
	}
	for _, child := range children {
		l, src, ok, err := childLevel(g, child, edits)
		if err != nil {
			return Resolution{}, err
		}
		if !ok {
			continue
		}
		if edits.ChildOverride(g.ID, child.ChildEntityCode).IsSet() {
			res.Pending = true
		}
		res.Children = append(res.Children, ChildResolution{
			Code:   child.ChildEntityCode,
			Label:  child.Label,
			Owned:  child.Owned,
			Level:  l,
			Source: src,
		})
	}
	return res, nil
}

// UnknownOverrides reports every committed or staged override key of g
// that children does not list. The result joins one
// *UnknownEntityReferenceError per key and is nil when all keys are known.
func UnknownOverrides(g Grant, children []ChildEntityConfig, edits PendingEdits) error {
	known := make(map[string]struct{}, len(children))
	for _, c := range children {
		known[c.ChildEntityCode] = struct{}{}
	}
	seen := make(map[string]struct{})
	var codes []string
	collect := func(code string) {
		if _, ok := known[code]; ok {
			return
		}
		if _, ok := seen[code]; ok {
			return
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}
	for code := range g.ChildOverrides {
		collect(code)
	}
	if pg, ok := edits.grants[g.ID]; ok {
		for code := range pg.children {
			collect(code)
		}
	}
	sort.Strings(codes)
	errs := make([]error, 0, len(codes))
	for _, code := range codes {
		errs = append(errs, &UnknownEntityReferenceError{GrantID: g.ID, ChildCode: code})
	}
	return errors.Join(errs...)
}
