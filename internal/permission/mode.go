package permission

import (
	"fmt"
	"strings"
)

// InheritanceMode controls how a grant propagates to child entity types.
type InheritanceMode string

const (
	ModeNone    InheritanceMode = "none"
	ModeCascade InheritanceMode = "cascade"
	ModeMapped  InheritanceMode = "mapped"
)

func (m InheritanceMode) Valid() bool {
	switch m {
	case ModeNone, ModeCascade, ModeMapped:
		return true
	}
	return false
}

// normalized treats the empty mode as none.
func (m InheritanceMode) normalized() InheritanceMode {
	if m == "" {
		return ModeNone
	}
	return m
}

// ParseInheritanceMode parses a mode name; the empty string means none.
func ParseInheritanceMode(s string) (InheritanceMode, error) {
	m := InheritanceMode(strings.TrimSpace(strings.ToLower(s))).normalized()
	if !m.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
	return m, nil
}
