package permission

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidLevel  = errors.New("permission: invalid level")
	ErrInvalidMode   = errors.New("permission: invalid inheritance mode")
	ErrUnknownEntity = errors.New("permission: unknown entity reference")
)

// InvalidLevelError reports a level outside [-1, 7]. Levels are never clamped.
type InvalidLevelError struct {
	Field string
	Value int
}

func (e *InvalidLevelError) Error() string {
	return fmt.Sprintf("permission: invalid level %d for %s (want %d..%d)", e.Value, e.Field, int(LevelInherit), int(MaxLevel))
}

func (e *InvalidLevelError) Is(target error) bool {
	return target == ErrInvalidLevel
}

// UnknownEntityReferenceError names a child override key missing from the schema.
// Resolution ignores such keys; this error only surfaces through UnknownOverrides.
type UnknownEntityReferenceError struct {
	GrantID   string
	ChildCode string
}

func (e *UnknownEntityReferenceError) Error() string {
	return fmt.Sprintf("permission: grant %s overrides unknown child entity %q", e.GrantID, e.ChildCode)
}

func (e *UnknownEntityReferenceError) Is(target error) bool {
	return target == ErrUnknownEntity
}
