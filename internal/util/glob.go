package util

import "path"

// MatchWildcard reports whether name matches the wildcard pattern, using
// path.Match syntax: '*' matches any run of characters other than '/',
// '?' matches one character and '[...]' matches a character class.
// An empty pattern matches everything.
func MatchWildcard(pattern, name string) bool {
	if pattern == "" {
		return true
	}
	matched, _ := path.Match(pattern, name)
	return matched
}

// MatchAny reports whether name matches at least one pattern. No patterns
// match everything.
func MatchAny(patterns []string, name string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if MatchWildcard(p, name) {
			return true
		}
	}
	return false
}
