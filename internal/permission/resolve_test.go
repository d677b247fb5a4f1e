package permission

import (
	"errors"
	"testing"
)

var (
	ownedDocument = ChildEntityConfig{ChildEntityCode: "document", Owned: true}
	lookupComment = ChildEntityConfig{ChildEntityCode: "comment", Owned: false}
)

func TestCascadeOwnedAndLookup(t *testing.T) {
	g := Grant{ID: "g1", EntityCode: "project", Level: LevelEdit, InheritanceMode: ModeCascade}

	got, ok, err := EffectiveChildLevel(g, ownedDocument, PendingEdits{})
	if err != nil || !ok {
		t.Fatalf("owned child: ok=%v err=%v", ok, err)
	}
	if got != LevelEdit {
		t.Fatalf("owned child level = %s, want edit", got)
	}

	got, ok, err = EffectiveChildLevel(g, lookupComment, PendingEdits{})
	if err != nil || !ok {
		t.Fatalf("lookup child: ok=%v err=%v", ok, err)
	}
	if got != LevelComment {
		t.Fatalf("lookup child level = %s, want comment", got)
	}
}

func TestCascadeLookupBelowCap(t *testing.T) {
	g := Grant{ID: "g1", EntityCode: "project", Level: LevelView, InheritanceMode: ModeCascade}
	got, _, err := EffectiveChildLevel(g, lookupComment, PendingEdits{})
	if err != nil {
		t.Fatal(err)
	}
	if got != LevelView {
		t.Fatalf("lookup child level = %s, want view", got)
	}
}

func TestMappedOverrideAndLookupInherit(t *testing.T) {
	g := Grant{
		ID:              "g2",
		EntityCode:      "project",
		Level:           LevelOwner,
		InheritanceMode: ModeMapped,
		ChildOverrides:  map[string]Level{"document": 5},
	}

	got, _, err := EffectiveChildLevel(g, ownedDocument, PendingEdits{})
	if err != nil {
		t.Fatal(err)
	}
	if got != LevelDelete {
		t.Fatalf("document = %s, want delete", got)
	}

	got, _, err = EffectiveChildLevel(g, lookupComment, PendingEdits{})
	if err != nil {
		t.Fatal(err)
	}
	if got != LevelComment {
		t.Fatalf("comment = %s, want comment", got)
	}
}

func TestMappedOverrideAboveParentIsCapped(t *testing.T) {
	g := Grant{
		ID:              "g2",
		EntityCode:      "project",
		Level:           LevelEdit,
		InheritanceMode: ModeMapped,
		ChildOverrides:  map[string]Level{"document": LevelCreate},
	}
	got, _, err := EffectiveChildLevel(g, ownedDocument, PendingEdits{})
	if err != nil {
		t.Fatal(err)
	}
	if got != LevelEdit {
		t.Fatalf("document = %s, want edit", got)
	}
}

func TestPendingResetFallsBackToCap(t *testing.T) {
	g := Grant{
		ID:              "g2",
		EntityCode:      "project",
		Level:           LevelOwner,
		InheritanceMode: ModeMapped,
		ChildOverrides:  map[string]Level{"document": 5},
	}
	edits := PendingEdits{}.WithChildReset("g2", "document")

	got, _, err := EffectiveChildLevel(g, ownedDocument, edits)
	if err != nil {
		t.Fatal(err)
	}
	if got != LevelOwner {
		t.Fatalf("document after reset = %s, want owner", got)
	}
}

func TestInheritSentinelRoundTrip(t *testing.T) {
	base := Grant{ID: "g3", EntityCode: "project", Level: LevelShare, InheritanceMode: ModeMapped}
	for _, child := range []ChildEntityConfig{ownedDocument, lookupComment} {
		plain, _, err := EffectiveChildLevel(base, child, PendingEdits{})
		if err != nil {
			t.Fatal(err)
		}

		committed := base
		committed.ChildOverrides = map[string]Level{child.ChildEntityCode: LevelInherit}
		fromCommitted, _, err := EffectiveChildLevel(committed, child, PendingEdits{})
		if err != nil {
			t.Fatal(err)
		}

		sentinel, err := OverrideFromValue(-1)
		if err != nil {
			t.Fatal(err)
		}
		edits := PendingEdits{}.WithChildOverride("g3", child.ChildEntityCode, sentinel)
		fromPending, _, err := EffectiveChildLevel(base, child, edits)
		if err != nil {
			t.Fatal(err)
		}

		if plain != fromCommitted || plain != fromPending {
			t.Fatalf("%s: plain=%s committed=%s pending=%s", child.ChildEntityCode, plain, fromCommitted, fromPending)
		}
	}
}

func TestInheritDistinctFromExplicitView(t *testing.T) {
	g := Grant{ID: "g4", EntityCode: "project", Level: LevelEdit, InheritanceMode: ModeMapped}

	inherit, _, _ := EffectiveChildLevel(g, ownedDocument, PendingEdits{}.WithChildReset("g4", "document"))
	view, _, _ := EffectiveChildLevel(g, ownedDocument, PendingEdits{}.WithChildOverride("g4", "document", Explicit(LevelView)))

	if inherit != LevelEdit {
		t.Fatalf("inherit = %s, want edit", inherit)
	}
	if view != LevelView {
		t.Fatalf("explicit view = %s, want view", view)
	}
}

func TestInvalidLevelsRejected(t *testing.T) {
	cases := []struct {
		name  string
		grant Grant
		edits PendingEdits
	}{
		{
			name:  "committed override 9",
			grant: Grant{ID: "g", EntityCode: "project", Level: LevelOwner, InheritanceMode: ModeMapped, ChildOverrides: map[string]Level{"document": 9}},
		},
		{
			name:  "committed override -2",
			grant: Grant{ID: "g", EntityCode: "project", Level: LevelOwner, InheritanceMode: ModeMapped, ChildOverrides: map[string]Level{"document": -2}},
		},
		{
			name:  "grant level 8",
			grant: Grant{ID: "g", EntityCode: "project", Level: 8, InheritanceMode: ModeCascade},
		},
		{
			name:  "grant level inherit",
			grant: Grant{ID: "g", EntityCode: "project", Level: LevelInherit, InheritanceMode: ModeCascade},
		},
		{
			name:  "pending level 9",
			grant: Grant{ID: "g", EntityCode: "project", Level: LevelEdit, InheritanceMode: ModeCascade},
			edits: PendingEdits{}.WithLevel("g", 9),
		},
		{
			name:  "pending override 12",
			grant: Grant{ID: "g", EntityCode: "project", Level: LevelEdit, InheritanceMode: ModeMapped},
			edits: PendingEdits{}.WithChildOverride("g", "document", Explicit(12)),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := EffectiveChildLevel(tc.grant, ownedDocument, tc.edits)
			if !errors.Is(err, ErrInvalidLevel) {
				t.Fatalf("expected ErrInvalidLevel, got %v", err)
			}
			var lvlErr *InvalidLevelError
			if !errors.As(err, &lvlErr) {
				t.Fatalf("expected *InvalidLevelError, got %T", err)
			}
		})
	}
}

func TestOverrideFromValue(t *testing.T) {
	if _, err := OverrideFromValue(9); !errors.Is(err, ErrInvalidLevel) {
		t.Fatalf("expected ErrInvalidLevel for 9, got %v", err)
	}
	o, err := OverrideFromValue(-1)
	if err != nil || !o.IsInherit() {
		t.Fatalf("expected inherit, got %v (%v)", o, err)
	}
	o, err = OverrideFromValue(0)
	if err != nil {
		t.Fatal(err)
	}
	if l, ok := o.Level(); !ok || l != LevelView {
		t.Fatalf("expected explicit view, got %v", o)
	}
	if v, ok := Inherit().Value(); !ok || v != -1 {
		t.Fatalf("inherit wire value = %d", v)
	}
	if _, ok := Unset().Value(); ok {
		t.Fatalf("unset must have no wire value")
	}
}

func TestModeNoneExcludesChildren(t *testing.T) {
	g := Grant{ID: "g5", EntityCode: "project", Level: LevelOwner, InheritanceMode: ModeNone,
		ChildOverrides: map[string]Level{"document": LevelEdit}}

	if _, ok, err := EffectiveChildLevel(g, ownedDocument, PendingEdits{}); ok || err != nil {
		t.Fatalf("mode none: ok=%v err=%v", ok, err)
	}
	res, err := Resolve(g, []ChildEntityConfig{ownedDocument, lookupComment}, PendingEdits{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Children) != 0 {
		t.Fatalf("expected no children, got %+v", res.Children)
	}

	// Empty mode behaves like none.
	g.InheritanceMode = ""
	res, err = Resolve(g, []ChildEntityConfig{ownedDocument}, PendingEdits{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Mode != ModeNone || len(res.Children) != 0 {
		t.Fatalf("unexpected resolution %+v", res)
	}
}

func TestPendingModeSwitchesToNone(t *testing.T) {
	g := Grant{ID: "g6", EntityCode: "project", Level: LevelEdit, InheritanceMode: ModeCascade}
	edits := PendingEdits{}.WithMode("g6", ModeNone)
	res, err := Resolve(g, []ChildEntityConfig{ownedDocument}, edits)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Children) != 0 || !res.Pending {
		t.Fatalf("unexpected resolution %+v", res)
	}
}

func TestPendingLevelOverlay(t *testing.T) {
	g := Grant{ID: "g7", EntityCode: "project", Level: LevelOwner, InheritanceMode: ModeCascade}
	edits := PendingEdits{}.WithLevel("g7", LevelContribute)

	l, err := EffectiveGrantLevel(g, edits)
	if err != nil {
		t.Fatal(err)
	}
	if l != LevelContribute {
		t.Fatalf("level = %s, want contribute", l)
	}
	child, _, _ := EffectiveChildLevel(g, ownedDocument, edits)
	if child != LevelContribute {
		t.Fatalf("cascaded level = %s, want contribute", child)
	}

	other, err := EffectiveGrantLevel(Grant{ID: "other", Level: LevelShare}, edits)
	if err != nil || other != LevelShare {
		t.Fatalf("edits for g7 leaked into other grant: %s %v", other, err)
	}
}

func TestEffectiveGrantLevelIgnoresDeny(t *testing.T) {
	g := Grant{ID: "g8", EntityCode: "project", Level: LevelOwner, IsDeny: true}
	l, err := EffectiveGrantLevel(g, PendingEdits{})
	if err != nil {
		t.Fatal(err)
	}
	if l != LevelOwner {
		t.Fatalf("level = %s, want owner", l)
	}
}

func TestLookupCapInvariant(t *testing.T) {
	overrides := []Override{Unset(), Inherit()}
	for _, l := range AllLevels() {
		overrides = append(overrides, Explicit(l))
	}
	for _, mode := range []InheritanceMode{ModeCascade, ModeMapped} {
		for _, parent := range AllLevels() {
			for _, ov := range overrides {
				g := Grant{ID: "g", EntityCode: "project", Level: parent, InheritanceMode: mode,
					ChildOverrides: map[string]Level{"comment": LevelOwner}}
				edits := PendingEdits{}.WithChildOverride("g", "comment", ov)
				got, ok, err := EffectiveChildLevel(g, lookupComment, edits)
				if err != nil || !ok {
					t.Fatalf("mode=%s parent=%s override=%s: ok=%v err=%v", mode, parent, ov, ok, err)
				}
				if got > LevelComment {
					t.Fatalf("mode=%s parent=%s override=%s: got %s above comment", mode, parent, ov, got)
				}
			}
		}
	}
}

func TestCascadeMonotonicity(t *testing.T) {
	for _, l := range AllLevels() {
		g := Grant{ID: "g", EntityCode: "project", Level: l, InheritanceMode: ModeCascade}
		base, _ := EffectiveGrantLevel(g, PendingEdits{})
		owned, _, _ := EffectiveChildLevel(g, ownedDocument, PendingEdits{})
		lookup, _, _ := EffectiveChildLevel(g, lookupComment, PendingEdits{})
		if owned != base {
			t.Fatalf("level %s: owned %s != base %s", l, owned, base)
		}
		if lookup != minLevel(base, LevelComment) {
			t.Fatalf("level %s: lookup %s", l, lookup)
		}
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	g := Grant{ID: "g", EntityCode: "project", Level: LevelShare, InheritanceMode: ModeMapped,
		ChildOverrides: map[string]Level{"document": LevelEdit, "ghost": LevelOwner}}
	children := []ChildEntityConfig{ownedDocument, lookupComment}
	edits := PendingEdits{}.WithChildOverride("g", "comment", Explicit(LevelView))

	first, err := Resolve(g, children, edits)
	if err != nil {
		t.Fatal(err)
	}
	second, err := Resolve(g, children, edits)
	if err != nil {
		t.Fatal(err)
	}
	if len(first.Children) != 2 || len(second.Children) != 2 {
		t.Fatalf("unexpected children: %+v", first.Children)
	}
	for i := range first.Children {
		if first.Children[i] != second.Children[i] {
			t.Fatalf("results differ: %+v vs %+v", first.Children[i], second.Children[i])
		}
	}
	if first.Children[0].Source != SourceOverride || first.Children[0].Level != LevelEdit {
		t.Fatalf("document row = %+v", first.Children[0])
	}
	if first.Children[1].Source != SourceOverride || first.Children[1].Level != LevelView {
		t.Fatalf("comment row = %+v", first.Children[1])
	}
	if !first.Pending {
		t.Fatalf("expected pending flag")
	}
}

func TestUnknownOverrides(t *testing.T) {
	g := Grant{ID: "g", EntityCode: "project", Level: LevelShare, InheritanceMode: ModeMapped,
		ChildOverrides: map[string]Level{"document": LevelEdit, "ghost": LevelOwner}}
	edits := PendingEdits{}.WithChildReset("g", "phantom")

	err := UnknownOverrides(g, []ChildEntityConfig{ownedDocument}, edits)
	if !errors.Is(err, ErrUnknownEntity) {
		t.Fatalf("expected ErrUnknownEntity, got %v", err)
	}
	var ref *UnknownEntityReferenceError
	if !errors.As(err, &ref) || ref.ChildCode != "ghost" {
		t.Fatalf("expected first unknown ref ghost, got %v", err)
	}

	if err := UnknownOverrides(g, []ChildEntityConfig{ownedDocument, {ChildEntityCode: "ghost"}}, PendingEdits{}); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}
