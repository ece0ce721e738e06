// Package strings provides identifier list helpers.
package strings

import (
	"strings"
)

// DedupeAndTrim removes duplicates and empty values from a slice,
// trimming whitespace from each element. Order is preserved.
//
// Example:
//
//	DedupeAndTrim([]TokenID{"  T1 ", "T2", "T1", "", "  "})
//	// Returns: []TokenID{"T1", "T2"}
func DedupeAndTrim[S ~string](values []S) []S {
	if len(values) == 0 {
		return values
	}

	seen := make(map[S]struct{}, len(values))
	result := make([]S, 0, len(values))

	for _, v := range values {
		trimmed := S(strings.TrimSpace(string(v)))
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; !ok {
			seen[trimmed] = struct{}{}
			result = append(result, trimmed)
		}
	}

	return result
}

// Duplicates returns the values that occur more than once, in first-repeat order.
func Duplicates[S ~string](values []S) []S {
	seen := make(map[S]int, len(values))
	var dups []S
	for _, v := range values {
		seen[v]++
		if seen[v] == 2 {
			dups = append(dups, v)
		}
	}
	return dups
}

// Missing returns the elements of want that are absent from have. Order follows want.
func Missing[S ~string](want, have []S) []S {
	set := Set(have)
	var out []S
	for _, v := range want {
		if _, ok := set[v]; !ok {
			out = append(out, v)
		}
	}
	return out
}

// Intersects reports whether a and b share at least one element.
func Intersects[S ~string](a, b []S) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := Set(b)
	for _, v := range a {
		if _, ok := set[v]; ok {
			return true
		}
	}
	return false
}

// Set builds a membership map.
func Set[S ~string](values []S) map[S]struct{} {
	set := make(map[S]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

// Join renders values for error messages and logs.
func Join[S ~string](values []S, sep string) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = string(v)
	}
	return strings.Join(parts, sep)
}
