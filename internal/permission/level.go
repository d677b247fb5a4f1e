// Package permission resolves effective permission levels of grants and
// of the child entity types they propagate to.
package permission

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Level is an ordered capability level. A higher level implies every
// capability of the levels below it.
type Level int

const (
	LevelView Level = iota
	LevelComment
	LevelContribute
	LevelEdit
	LevelShare
	LevelDelete
	LevelCreate
	LevelOwner
)

const (
	MinLevel = LevelView
	MaxLevel = LevelOwner

	// LevelInherit is the "reset to inherit" signal for child overrides.
	// It is never a valid grant level.
	LevelInherit Level = -1
)

var levelNames = [...]string{
	LevelView:       "view",
	LevelComment:    "comment",
	LevelContribute: "contribute",
	LevelEdit:       "edit",
	LevelShare:      "share",
	LevelDelete:     "delete",
	LevelCreate:     "create",
	LevelOwner:      "owner",
}

// Valid reports whether l is one of VIEW..OWNER.
func (l Level) Valid() bool {
	return l >= MinLevel && l <= MaxLevel
}

func (l Level) String() string {
	if l == LevelInherit {
		return "inherit"
	}
	if !l.Valid() {
		return fmt.Sprintf("level(%d)", int(l))
	}
	return levelNames[l]
}

// ParseLevel accepts a level name ("edit") case-insensitively.
func ParseLevel(s string) (Level, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	for i, name := range levelNames {
		if name == s {
			return Level(i), nil
		}
	}
	if s == "inherit" {
		return LevelInherit, nil
	}
	return 0, fmt.Errorf("%w: unknown level %q", ErrInvalidLevel, s)
}

// UnmarshalJSON accepts a level as its number (3) or its name ("edit").
// Range checks are left to Validate so errors stay uniform. null is
// rejected: a level is never implied, and an optional level is a *Level.
func (l *Level) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return fmt.Errorf("%w: level must not be null", ErrInvalidLevel)
	}
	if len(data) > 0 && data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return err
		}
		parsed, err := ParseLevel(name)
		if err != nil {
			return err
		}
		*l = parsed
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("%w: level must be a number or a level name", ErrInvalidLevel)
	}
	*l = Level(n)
	return nil
}

// AllLevels returns VIEW..OWNER in ascending order.
func AllLevels() []Level {
	out := make([]Level, 0, len(levelNames))
	for i := range levelNames {
		out = append(out, Level(i))
	}
	return out
}

func minLevel(a, b Level) Level {
	if a < b {
		return a
	}
	return b
}

func checkGrantLevel(field string, l Level) error {
	if !l.Valid() {
		return &InvalidLevelError{Field: field, Value: int(l)}
	}
	return nil
}

func checkOverrideLevel(field string, l Level) error {
	if l != LevelInherit && !l.Valid() {
		return &InvalidLevelError{Field: field, Value: int(l)}
	}
	return nil
}
