// Package semver evaluates the version constraint expressions used to scope
// routing requests. Versions are dot-separated non-negative integers;
// constraints are an exact version or a prefixed range expression.
package semver

import (
	"regexp"
	"strconv"
	"strings"
)

var deployableVersion = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

// ValidFormat reports whether the version is acceptable at deploy time
// (exactly MAJOR.MINOR.PATCH, all numeric).
func ValidFormat(version string) bool {
	return deployableVersion.MatchString(version)
}

// Matches reports whether version satisfies constraint.
//
// Supported forms:
//
//	"1.2.3"   exact match
//	">1.2.3"  ">=1.2.3"  "<1.2.3"  "<=1.2.3"
//	"~1.2.3"  at least 1.2.3, same major.minor (patch updates only)
//	"^1.2.3"  at least 1.2.3, same major
//
// Unrecognized constraint syntax yields false; Matches never panics.
// Non-numeric version components compare as zero.
func Matches(version, constraint string) bool {
	constraint = strings.TrimSpace(constraint)
	version = strings.TrimSpace(version)
	if constraint == "" {
		return false
	}

	switch {
	case strings.HasPrefix(constraint, ">="):
		return compareLenient(parse(version), parse(constraint[2:])) >= 0
	case strings.HasPrefix(constraint, "<="):
		return compareLenient(parse(version), parse(constraint[2:])) <= 0
	case strings.HasPrefix(constraint, ">"):
		return compareStrict(parse(version), parse(constraint[1:])) > 0
	case strings.HasPrefix(constraint, "<"):
		return compareStrict(parse(version), parse(constraint[1:])) < 0
	case strings.HasPrefix(constraint, "~"):
		return matchesTilde(version, constraint[1:])
	case strings.HasPrefix(constraint, "^"):
		return matchesCaret(version, constraint[1:])
	default:
		return version == constraint
	}
}

// matchesTilde allows patch-level updates only: version must be at least the
// base and must not exceed the base's major.minor.
func matchesTilde(version, base string) bool {
	v, b := parse(version), parse(base)
	if compareLenient(v, b) < 0 {
		return false
	}
	return component(v, 0) == component(b, 0) && component(v, 1) <= component(b, 1)
}

// matchesCaret allows minor and patch updates within the base's major.
func matchesCaret(version, base string) bool {
	v, b := parse(version), parse(base)
	if compareLenient(v, b) < 0 {
		return false
	}
	return component(v, 0) <= component(b, 0)
}

// parse splits a version into integer components. Unparsable components
// compare as zero rather than failing.
func parse(raw string) []int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ".")
	out := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 {
			n = 0
		}
		out[i] = n
	}
	return out
}

// compareStrict compares positionally up to the shorter length; when every
// compared position is equal the longer sequence wins. This mirrors the
// historical behaviour of the system and intentionally differs from padded
// comparison for inputs like "1.2.0" vs "1.2".
func compareStrict(a, b []int) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] > b[i] {
				return 1
			}
			return -1
		}
	}
	switch {
	case len(a) > len(b):
		return 1
	case len(a) < len(b):
		return -1
	default:
		return 0
	}
}

// compareLenient compares with implicit trailing zeros, so "1.2" and "1.2.0"
// are equal. Used by the non-strict operators and range bases.
func compareLenient(a, b []int) int {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		av, bv := component(a, i), component(b, i)
		if av != bv {
			if av > bv {
				return 1
			}
			return -1
		}
	}
	return 0
}

func component(v []int, i int) int {
	if i < len(v) {
		return v[i]
	}
	return 0
}
