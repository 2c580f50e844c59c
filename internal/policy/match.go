package policy

import (
	"fmt"
	"strings"
)

// Matches applies glob semantics to a resource pattern. Matching is
// case-sensitive, deterministic and pure. Segments are split on "/":
// a "*" segment in the middle matches exactly one segment, a trailing "*"
// segment matches any suffix including the empty one, so "data-lake/*"
// matches both "data-lake/files/x" and "data-lake/". Anything else is an
// exact string match.
func Matches(pattern, resource string) bool {
	if pattern == resource {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return false
	}
	patSegs := strings.Split(pattern, "/")
	resSegs := strings.Split(resource, "/")
	for i, seg := range patSegs {
		last := i == len(patSegs)-1
		if seg == "*" {
			if last {
				return len(resSegs) >= len(patSegs)
			}
			if i >= len(resSegs) {
				return false
			}
			continue
		}
		if i >= len(resSegs) || resSegs[i] != seg {
			return false
		}
	}
	return len(resSegs) == len(patSegs)
}

// ValidatePattern rejects malformed resource patterns before any mutation
// is persisted. "*" is only legal as a whole segment.
func ValidatePattern(pattern string) error {
	if strings.TrimSpace(pattern) == "" {
		return fmt.Errorf("%w: empty resource pattern", ErrValidation)
	}
	for _, seg := range strings.Split(pattern, "/") {
		if strings.Contains(seg, "*") && seg != "*" {
			return fmt.Errorf("%w: %q: wildcard must span a whole segment", ErrValidation, pattern)
		}
	}
	return nil
}
