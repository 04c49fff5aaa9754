package utils

import "sort"

// SortedKeys returns the keys of a string-keyed map in sorted order, for
// deterministic printing and iteration.
func SortedKeys[T any](m map[string]T) []string {
	keys := make([]string, len(m))
	i := 0
	for k := range m {
		keys[i] = k
		i++
	}
	sort.Strings(keys)
	return keys
}
