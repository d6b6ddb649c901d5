// Package capability models the named privileges a binary may request and
// be granted based on its verified identity.
package capability

import (
	"sort"
	"strings"
)

// Capability is an opaque named privilege, e.g. "raw-device".
type Capability string

// Set is a sorted, deduplicated collection of capabilities.
type Set []Capability

// NewSet builds a Set from names, sorting and deduplicating.
func NewSet(names ...string) Set {
	if len(names) == 0 {
		return nil
	}

	seen := make(map[Capability]bool, len(names))
	s := make(Set, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		c := Capability(n)
		if seen[c] {
			continue
		}
		seen[c] = true
		s = append(s, c)
	}

	sort.Slice(s, func(i, j int) bool { return s[i] < s[j] })
	if len(s) == 0 {
		return nil
	}
	return s
}

// Empty reports whether the set contains no capabilities.
func (s Set) Empty() bool {
	return len(s) == 0
}

// Contains reports whether c is in the set.
func (s Set) Contains(c Capability) bool {
	for _, have := range s {
		if have == c {
			return true
		}
	}
	return false
}

// SubsetOf reports whether every capability in s is also in other.
// The empty set is a subset of everything.
func (s Set) SubsetOf(other Set) bool {
	for _, c := range s {
		if !other.Contains(c) {
			return false
		}
	}
	return true
}

// Strings returns the capability names in sorted order.
func (s Set) Strings() []string {
	if len(s) == 0 {
		return nil
	}
	out := make([]string, len(s))
	for i, c := range s {
		out[i] = string(c)
	}
	return out
}

// String renders the set as a comma-joined list, empty string for the
// empty set.
func (s Set) String() string {
	return strings.Join(s.Strings(), ",")
}

// ParseList parses a comma-joined capability list as produced by
// Set.String. Whitespace around names is ignored.
func ParseList(list string) Set {
	if strings.TrimSpace(list) == "" {
		return nil
	}
	return NewSet(strings.Split(list, ",")...)
}
