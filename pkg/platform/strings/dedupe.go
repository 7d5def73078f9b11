// Package strings provides string slice utilities.
package strings

import (
	"slices"
)

// Dedupe removes duplicates and empty strings from a slice. Values are compared
// verbatim (no trimming or case folding). Order of first occurrence is preserved
// and the result is never nil.
//
// Example:
//
//	Dedupe([]string{"a@x.io", "", "b@x.io", "a@x.io"})
//	// Returns: []string{"a@x.io", "b@x.io"}
func Dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))

	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			result = append(result, v)
		}
	}

	return result
}

// SortedUnique is like Dedupe but returns the values in ascending order.
// Useful when a stable acquisition order matters (lock keys).
func SortedUnique(values []string) []string {
	result := Dedupe(values)
	slices.Sort(result)
	return result
}
