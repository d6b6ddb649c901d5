package scope

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/ZebulonRouseFrantzich/provenant/internal/config"
	"github.com/ZebulonRouseFrantzich/provenant/internal/service"
)

// Registry holds all defined trust scopes for one state directory.
type Registry struct {
	stateDir string // empty for memory-only registries
	log      service.Logger

	mu     sync.RWMutex
	scopes map[string]*Scope
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used by the registry and its scopes.
func WithLogger(log service.Logger) Option {
	return func(r *Registry) {
		if log != nil {
			r.log = log
		}
	}
}

// NewRegistry creates an empty registry. If stateDir is empty all scopes
// are memory-only and nothing is persisted.
func NewRegistry(stateDir string, opts ...Option) *Registry {
	r := &Registry{
		stateDir: stateDir,
		log:      service.NopLogger(),
		scopes:   make(map[string]*Scope),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// FromConfig builds a registry with every scope the configuration
// defines. Parents are created before their children regardless of
// declaration order.
func FromConfig(cfg *config.Config, opts ...Option) (*Registry, error) {
	r := NewRegistry(cfg.StateDir, opts...)
	pending := make([]config.ScopeDef, len(cfg.Scopes))
	copy(pending, cfg.Scopes)
	for len(pending) > 0 {
		progressed := false
		var next []config.ScopeDef
		for _, def := range pending {
			if def.Parent != "" {
				if _, err := r.Get(def.Parent); err != nil {
					next = append(next, def)
					continue
				}
			}
			if _, err := r.Define(def.Name, def.Parent); err != nil {
				return nil, err
			}
			progressed = true
		}
		if !progressed {
			return nil, fmt.Errorf("scope configuration contains an unresolvable parent reference")
		}
		pending = next
	}
	return r, nil
}

// Define creates a scope. The parent, if named, must already be defined.
// Defining an existing scope returns the existing one.
func (r *Registry) Define(name, parent string) (*Scope, error) {
	if name == "" {
		return nil, fmt.Errorf("scope name must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.scopes[name]; ok {
		return s, nil
	}
	if parent != "" {
		if _, ok := r.scopes[parent]; !ok {
			return nil, fmt.Errorf("defining scope %q: parent %q: %w", name, parent, ErrScopeNotFound)
		}
	}
	dir := ""
	if r.stateDir != "" {
		dir = filepath.Join(r.stateDir, "scopes", name)
	}
	s, err := newScope(name, parent, dir, r.log)
	if err != nil {
		return nil, err
	}
	r.scopes[name] = s
	return s, nil
}

// Get returns the named scope or ErrScopeNotFound.
func (r *Registry) Get(name string) (*Scope, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scopes[name]
	if !ok {
		return nil, fmt.Errorf("scope %q: %w", name, ErrScopeNotFound)
	}
	return s, nil
}

// Names returns all defined scope names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.scopes))
	for name := range r.scopes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Children returns the direct children of the named scope, sorted by
// name.
func (r *Registry) Children(name string) []*Scope {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var kids []*Scope
	for _, s := range r.scopes {
		if s.parent == name {
			kids = append(kids, s)
		}
	}
	sort.Slice(kids, func(i, j int) bool { return kids[i].name < kids[j].name })
	return kids
}

// Summary is the audit view of a scope: its committed head plus the
// heads of its direct children. Child roots are reported so a parent
// audit can fold nested scopes into its own review without the parent
// tree absorbing their leaves.
type Summary struct {
	Name     string
	Parent   string
	Head     Head
	Children []Summary
}

// Summary builds the audit summary for the named scope and one level of
// children.
func (r *Registry) Summary(name string) (*Summary, error) {
	s, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	sum := &Summary{Name: s.name, Parent: s.parent, Head: s.Head()}
	for _, child := range r.Children(name) {
		sum.Children = append(sum.Children, Summary{
			Name:   child.name,
			Parent: child.parent,
			Head:   child.Head(),
		})
	}
	return sum, nil
}
