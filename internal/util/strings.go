package util

import "strings"

// SafeTruncate truncates s to at most maxLen bytes without panicking.
// It is used when logging credentials, where only a prefix may be shown.
// A negative maxLen is treated as 0.
//
// Example:
//
//	SafeTruncate("very-long-code-abc123", 8) // Returns: "very-lon"
//	SafeTruncate("short", 10)                // Returns: "short"
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// SplitScopes splits a space-delimited scope string, dropping empty entries.
func SplitScopes(scope string) []string {
	return strings.Fields(scope)
}

// JoinScopes joins scopes into the space-delimited wire form.
func JoinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}

// Intersect returns the values of a that are also present in b, in the order
// they appear in a. Duplicates in a are reported once.
func Intersect(a, b []string) []string {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}
	allowed := make(map[string]struct{}, len(b))
	for _, v := range b {
		allowed[v] = struct{}{}
	}
	seen := make(map[string]struct{}, len(a))
	var out []string
	for _, v := range a {
		if _, ok := allowed[v]; !ok {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Contains reports whether values contains v.
func Contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
