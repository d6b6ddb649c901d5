// Package service holds small shared runtime dependencies that higher
// layers inject instead of reaching for globals.
package service

import "time"

// Clock provides time operations. Provenance record timestamps and
// certificate validity checks go through a Clock so tests can pin time.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the actual system time.
type RealClock struct{}

// Now returns the current time.
func (RealClock) Now() time.Time {
	return time.Now()
}

// TestClock implements Clock with a fixed time for testing.
type TestClock struct {
	FixedTime time.Time
}

// Now returns the fixed time.
func (t TestClock) Now() time.Time {
	return t.FixedTime
}
