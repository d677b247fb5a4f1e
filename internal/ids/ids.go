package ids

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// New returns a lexicographically sortable identifier for roles and grants.
// Identifiers minted within the same millisecond stay monotonic.
func New() string {
	return ulid.Make().String()
}

// CreatedAt returns the timestamp embedded in an identifier produced by New.
func CreatedAt(id string) (time.Time, bool) {
	parsed, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(parsed.Time()).UTC(), true
}
