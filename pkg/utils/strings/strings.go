package strings

import "strings"

// SplitIfNotEmpty splits s by sep.
//
// Unlike strings.Split, it returns an empty slice for an empty string.
func SplitIfNotEmpty(s string, sep string) []string {
	if s == "" {
		return []string{}
	}
	return strings.Split(s, sep)
}
