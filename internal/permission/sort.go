package permission

import "sort"

// SortForDisplay returns a copy of grants ordered for listing: denied
// grants first, then by level descending, then by entity code. This is
// a display order only and carries no precedence in Evaluate.
func SortForDisplay(grants []Grant) []Grant {
	out := make([]Grant, len(grants))
	copy(out, grants)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.IsDeny != b.IsDeny {
			return a.IsDeny
		}
		if a.Level != b.Level {
			return a.Level > b.Level
		}
		if a.EntityCode != b.EntityCode {
			return a.EntityCode < b.EntityCode
		}
		return a.ID < b.ID
	})
	return out
}
