// Package config loads the declarative provenant configuration: the trust
// scopes, the trusted root certificates, the machine-wide capability set,
// and the state directory. Configs are Lua files evaluated in a sandboxed
// VM, so they stay declarative and cannot perform unsafe operations.
package config

import (
	"fmt"
)

// ScopeDef declares one trust scope. A scope with a Parent nests under
// it: the child's tree root is eligible for inclusion in the parent's
// audit, while both stay independently verifiable.
type ScopeDef struct {
	Name   string
	Parent string
}

// Config is the extracted, validated configuration.
type Config struct {
	// StateDir is where per-scope trees, chains, and keys persist.
	StateDir string

	// Scopes are the trust scopes this installation manages.
	Scopes []ScopeDef

	// TrustedRoots are PEM files holding root-of-trust certificates for
	// entity-signed binaries.
	TrustedRoots []string

	// Capabilities is the machine-wide capability set granted to
	// dev-signed binaries.
	Capabilities []string
}

// Validate checks structural constraints after extraction.
func (c *Config) Validate() error {
	if c.StateDir == "" {
		return fmt.Errorf("state_dir must be set")
	}
	if len(c.Scopes) == 0 {
		return fmt.Errorf("at least one scope must be defined")
	}

	byName := make(map[string]ScopeDef, len(c.Scopes))
	for _, s := range c.Scopes {
		if s.Name == "" {
			return fmt.Errorf("scope with empty name")
		}
		if _, dup := byName[s.Name]; dup {
			return fmt.Errorf("duplicate scope %q", s.Name)
		}
		byName[s.Name] = s
	}

	for _, s := range c.Scopes {
		if s.Parent == "" {
			continue
		}
		if _, ok := byName[s.Parent]; !ok {
			return fmt.Errorf("scope %q references undefined parent %q", s.Name, s.Parent)
		}
		// Walk up to reject parent cycles.
		seen := map[string]bool{s.Name: true}
		for cur := s.Parent; cur != ""; cur = byName[cur].Parent {
			if seen[cur] {
				return fmt.Errorf("scope %q is part of a parent cycle", s.Name)
			}
			seen[cur] = true
		}
	}

	return nil
}

// Scope returns the definition for name, if present.
func (c *Config) Scope(name string) (ScopeDef, bool) {
	for _, s := range c.Scopes {
		if s.Name == name {
			return s, true
		}
	}
	return ScopeDef{}, false
}
