// Package scope manages trust scopes. A scope pairs an integrity tree
// with a provenance chain and guards both behind a single exclusive
// writer lock, so the tree root and the chain tip can only advance
// together. Readers never take the writer lock: the current (root, tip)
// head is published through an atomic pointer and is always internally
// consistent.
package scope

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"golang.org/x/mod/sumdb/note"

	"github.com/ZebulonRouseFrantzich/provenant/internal/digest"
	"github.com/ZebulonRouseFrantzich/provenant/internal/integrity"
	"github.com/ZebulonRouseFrantzich/provenant/internal/provenance"
	"github.com/ZebulonRouseFrantzich/provenant/internal/service"
)

// ErrScopeNotFound is returned when a named scope has not been defined.
var ErrScopeNotFound = errors.New("unknown trust scope")

// ErrStateDiverged is returned at scope load when the persisted tree
// cannot be reconciled with the provenance chain: replaying the chain's
// records does not reproduce the roots the records attest to. The scope
// refuses to open rather than publish a torn head.
var ErrStateDiverged = errors.New("tree snapshot and provenance chain have diverged")

const (
	treeFile       = "tree.json"
	chainFile      = "chain.log"
	headKeyFile    = "head.key"
	headVKeyFile   = "head.pub"
	checkpointFile = "checkpoint"
)

// Head is the published snapshot of a scope: its tree root and chain tip
// at a single committed state. Reading a Head never observes a root from
// one commit and a tip from another.
type Head struct {
	Root     digest.Digest
	TreeSize uint64
	Tip      *provenance.Record // nil until the first record is appended
}

// Scope is one trust scope. All mutation goes through Update, which
// holds the exclusive writer lock for the duration of the callback.
type Scope struct {
	name   string
	parent string
	dir    string // empty for memory-only scopes
	origin string

	signer   note.Signer
	secret   string // signer key line, persisted for durable scopes
	verifier string // verifier key line for the checkpoint signer

	log service.Logger

	mu    sync.RWMutex
	tree  *integrity.Tree
	chain *provenance.Chain
	head  atomic.Pointer[Head]
}

func newScope(name, parent, dir string, log service.Logger) (*Scope, error) {
	s := &Scope{
		name:   name,
		parent: parent,
		dir:    dir,
		origin: "provenant/scope/" + name,
		log:    log,
	}
	if dir == "" {
		s.tree = integrity.New()
		s.chain = provenance.New(name)
		if err := s.ephemeralKey(); err != nil {
			return nil, err
		}
		s.publish()
		return s, nil
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating scope directory for %q: %w", name, err)
	}
	tree, err := loadTree(filepath.Join(dir, treeFile))
	if err != nil {
		return nil, fmt.Errorf("loading integrity tree for scope %q: %w", name, err)
	}
	chain, err := provenance.Open(name, filepath.Join(dir, chainFile))
	if err != nil {
		return nil, fmt.Errorf("loading provenance chain for scope %q: %w", name, err)
	}

	// The chain log is fsynced at commit time; the tree snapshot is
	// written after. A crash between the two leaves a snapshot that lags
	// the chain, so the chain is authoritative at load.
	tree, rebuilt, err := reconcileTree(tree, chain)
	if err != nil {
		return nil, err
	}
	if rebuilt {
		log.Warn("tree snapshot lagged the provenance chain, rebuilt from records",
			"scope", name, "records", chain.Len())
		if err := tree.Save(filepath.Join(dir, treeFile)); err != nil {
			log.Error("persisting rebuilt tree snapshot failed", "scope", name, "error", err)
		}
	}
	s.tree = tree
	s.chain = chain
	if err := s.loadOrCreateKey(); err != nil {
		return nil, err
	}
	s.publish()
	return s, nil
}

func loadTree(path string) (*integrity.Tree, error) {
	t, err := integrity.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return integrity.New(), nil
	}
	return t, err
}

// reconcileTree checks the loaded snapshot against the chain tip. When
// they agree, the snapshot is returned as is. Otherwise the tree is
// rebuilt by replaying every record's action, verifying after each step
// that the rebuilt root matches the root the record attests to; any step
// that cannot be reproduced fails with ErrStateDiverged.
func reconcileTree(tree *integrity.Tree, chain *provenance.Chain) (*integrity.Tree, bool, error) {
	tip, ok := chain.Tip()
	if !ok {
		if tree.Size() == 0 {
			return tree, false, nil
		}
	} else if tree.Root() == tip.TreeRoot {
		return tree, false, nil
	}

	rebuilt := integrity.New()
	for _, rec := range chain.Records() {
		switch rec.Action {
		case provenance.ActionUninstall:
			if _, _, err := rebuilt.Remove(rec.Binary); err != nil {
				return nil, false, fmt.Errorf("scope %q: record %d removes %s: %v: %w",
					chain.Scope(), rec.Index, rec.Binary, err, ErrStateDiverged)
			}
		default:
			if !rec.Replaced.IsZero() {
				if _, _, err := rebuilt.Remove(rec.Replaced); err != nil {
					return nil, false, fmt.Errorf("scope %q: record %d replaces %s: %v: %w",
						chain.Scope(), rec.Index, rec.Replaced, err, ErrStateDiverged)
				}
			}
			rebuilt.Insert(rec.Binary)
		}
		if rebuilt.Root() != rec.TreeRoot {
			return nil, false, fmt.Errorf("scope %q: replaying record %d yields root %s, record attests %s: %w",
				chain.Scope(), rec.Index, rebuilt.Root(), rec.TreeRoot, ErrStateDiverged)
		}
	}
	return rebuilt, true, nil
}

func (s *Scope) ephemeralKey() error {
	skey, vkey, err := note.GenerateKey(rand.Reader, "provenant-"+s.name)
	if err != nil {
		return fmt.Errorf("generating checkpoint key for scope %q: %w", s.name, err)
	}
	signer, err := note.NewSigner(skey)
	if err != nil {
		return err
	}
	s.signer = signer
	s.secret = skey
	s.verifier = vkey
	return nil
}

func (s *Scope) loadOrCreateKey() error {
	keyPath := filepath.Join(s.dir, headKeyFile)
	vkeyPath := filepath.Join(s.dir, headVKeyFile)
	skeyData, err := os.ReadFile(keyPath)
	switch {
	case err == nil:
		vkeyData, err := os.ReadFile(vkeyPath)
		if err != nil {
			return fmt.Errorf("reading checkpoint verifier key for scope %q: %w", s.name, err)
		}
		signer, err := note.NewSigner(string(skeyData))
		if err != nil {
			return fmt.Errorf("parsing checkpoint key for scope %q: %w", s.name, err)
		}
		s.signer = signer
		s.secret = string(skeyData)
		s.verifier = string(vkeyData)
		return nil
	case errors.Is(err, os.ErrNotExist):
		if err := s.ephemeralKey(); err != nil {
			return err
		}
		if err := os.WriteFile(keyPath, []byte(s.secret), 0o600); err != nil {
			return fmt.Errorf("writing checkpoint key for scope %q: %w", s.name, err)
		}
		if err := os.WriteFile(vkeyPath, []byte(s.verifier), 0o644); err != nil {
			return fmt.Errorf("writing checkpoint verifier key for scope %q: %w", s.name, err)
		}
		return nil
	default:
		return fmt.Errorf("reading checkpoint key for scope %q: %w", s.name, err)
	}
}

// Name returns the scope name.
func (s *Scope) Name() string {
	return s.name
}

// Parent returns the parent scope name, or "" for a root scope.
func (s *Scope) Parent() string {
	return s.parent
}

// Origin is the checkpoint origin line for this scope.
func (s *Scope) Origin() string {
	return s.origin
}

// VerifierKey returns the public key line that verifies this scope's
// signed checkpoints.
func (s *Scope) VerifierKey() string {
	return s.verifier
}

// Head returns the current committed (root, tip) snapshot without taking
// the writer lock.
func (s *Scope) Head() Head {
	return *s.head.Load()
}

// Update runs fn with exclusive access to the scope's tree and chain.
// If fn returns nil the new head is published atomically and the tree
// snapshot and checkpoint are persisted. If fn returns an error nothing
// is published; fn is responsible for reverting any tree mutations it
// made.
func (s *Scope) Update(fn func(t *integrity.Tree, c *provenance.Chain) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := fn(s.tree, s.chain); err != nil {
		return err
	}
	s.publish()
	s.persist()
	return nil
}

// publish installs the current (root, tip) pair as the visible head.
// Callers must hold the writer lock.
func (s *Scope) publish() {
	h := &Head{
		Root:     s.tree.Root(),
		TreeSize: s.tree.Size(),
	}
	if tip, ok := s.chain.Tip(); ok {
		h.Tip = &tip
	}
	s.head.Store(h)
}

// persist writes the tree snapshot and a signed checkpoint. The chain
// log is already durable at this point, so failures here lose no
// provenance; a stale snapshot is rebuilt from the chain at next load.
func (s *Scope) persist() {
	if s.dir == "" {
		return
	}
	if err := s.tree.Save(filepath.Join(s.dir, treeFile)); err != nil {
		s.log.Error("persisting tree snapshot failed", "scope", s.name, "error", err)
	}
	cp, err := integrity.SignCheckpoint(s.origin, s.tree.Size(), s.tree.Root(), s.signer)
	if err != nil {
		s.log.Error("signing checkpoint failed", "scope", s.name, "error", err)
		return
	}
	if err := os.WriteFile(filepath.Join(s.dir, checkpointFile), cp, 0o644); err != nil {
		s.log.Error("persisting checkpoint failed", "scope", s.name, "error", err)
	}
}

// VerifyChain replays the scope's provenance chain and reports the first
// tampered record, if any. It takes only the read lock.
func (s *Scope) VerifyChain() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chain.Verify()
}

// Records returns a copy of the scope's provenance records.
func (s *Scope) Records() []provenance.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chain.Records()
}

// Proof returns an inclusion proof for d against the current tree.
func (s *Scope) Proof(d digest.Digest) (*integrity.Proof, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.Proof(d)
}

// Contains reports whether d is a live leaf in the scope's tree.
func (s *Scope) Contains(d digest.Digest) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.Contains(d)
}

// Live returns the number of live (non-removed) leaves.
func (s *Scope) Live() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.Live()
}

// SignedCheckpoint returns a freshly signed checkpoint over the current
// tree head.
func (s *Scope) SignedCheckpoint() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return integrity.SignCheckpoint(s.origin, s.tree.Size(), s.tree.Root(), s.signer)
}
