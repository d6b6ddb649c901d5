package scope

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"golang.org/x/mod/sumdb/note"

	"github.com/ZebulonRouseFrantzich/provenant/internal/config"
	"github.com/ZebulonRouseFrantzich/provenant/internal/digest"
	"github.com/ZebulonRouseFrantzich/provenant/internal/integrity"
	"github.com/ZebulonRouseFrantzich/provenant/internal/provenance"
)

func testAuthority(t *testing.T) provenance.Authority {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	return provenance.Authority{
		Name:      "test-machine",
		Kind:      "dev-machine",
		PublicKey: pub,
		Signer:    digest.NewKeySigner(priv),
	}
}

func testDigest(i int) digest.Digest {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(i))
	return digest.Digest(sha256.Sum256(buf[:]))
}

func commitInstall(t *testing.T, s *Scope, auth provenance.Authority, d digest.Digest) {
	t.Helper()
	err := s.Update(func(tree *integrity.Tree, chain *provenance.Chain) error {
		root, _, revert := tree.Insert(d)
		if _, err := chain.Append(provenance.ActionInstall, d, digest.Digest{}, root, auth, time.Now()); err != nil {
			revert()
			return err
		}
		return nil
	})
	if err != nil {
		t.Fatalf("commit install: %v", err)
	}
}

func TestRegistryDefineAndGet(t *testing.T) {
	r := NewRegistry("")
	if _, err := r.Get("system"); !errors.Is(err, ErrScopeNotFound) {
		t.Fatalf("Get on empty registry: got %v, want ErrScopeNotFound", err)
	}

	s, err := r.Define("system", "")
	if err != nil {
		t.Fatal(err)
	}
	if s.Name() != "system" {
		t.Errorf("Name() = %q, want %q", s.Name(), "system")
	}

	again, err := r.Define("system", "")
	if err != nil {
		t.Fatal(err)
	}
	if again != s {
		t.Error("redefining a scope should return the existing scope")
	}

	if _, err := r.Define("user", "nonexistent"); !errors.Is(err, ErrScopeNotFound) {
		t.Fatalf("Define with unknown parent: got %v, want ErrScopeNotFound", err)
	}
	if _, err := r.Define("", ""); err == nil {
		t.Error("Define with empty name should fail")
	}
}

func TestScopeHeadAdvancesAtomically(t *testing.T) {
	r := NewRegistry("")
	s, err := r.Define("user", "")
	if err != nil {
		t.Fatal(err)
	}
	auth := testAuthority(t)

	h := s.Head()
	if h.Tip != nil || h.TreeSize != 0 {
		t.Fatalf("fresh scope head = %+v, want empty", h)
	}
	emptyRoot := h.Root

	d := testDigest(1)
	commitInstall(t, s, auth, d)

	h = s.Head()
	if h.TreeSize != 1 {
		t.Errorf("TreeSize = %d, want 1", h.TreeSize)
	}
	if h.Tip == nil {
		t.Fatal("Tip is nil after commit")
	}
	if h.Tip.TreeRoot != h.Root {
		t.Errorf("tip records root %s but head root is %s", h.Tip.TreeRoot, h.Root)
	}
	if h.Root == emptyRoot {
		t.Error("root did not change after insert")
	}
	if !s.Contains(d) {
		t.Error("Contains returned false for an installed digest")
	}
}

func TestScopeUpdateFailureLeavesHeadUnchanged(t *testing.T) {
	r := NewRegistry("")
	s, err := r.Define("user", "")
	if err != nil {
		t.Fatal(err)
	}
	auth := testAuthority(t)
	commitInstall(t, s, auth, testDigest(1))
	before := s.Head()

	fail := errors.New("verification refused")
	err = s.Update(func(tree *integrity.Tree, chain *provenance.Chain) error {
		_, _, revert := tree.Insert(testDigest(2))
		revert()
		return fail
	})
	if !errors.Is(err, fail) {
		t.Fatalf("Update error = %v, want injected failure", err)
	}

	after := s.Head()
	if after.Root != before.Root || after.TreeSize != before.TreeSize {
		t.Errorf("head changed across a failed update: before %+v, after %+v", before, after)
	}
	if after.Tip.Hash() != before.Tip.Hash() {
		t.Error("tip changed across a failed update")
	}
}

func TestScopePersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	auth := testAuthority(t)

	r := NewRegistry(dir)
	s, err := r.Define("system", "")
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= 3; i++ {
		commitInstall(t, s, auth, testDigest(i))
	}
	want := s.Head()
	vkey := s.VerifierKey()

	// A fresh registry over the same state directory must reload the
	// identical committed head and checkpoint key.
	r2 := NewRegistry(dir)
	s2, err := r2.Define("system", "")
	if err != nil {
		t.Fatal(err)
	}
	got := s2.Head()
	if got.Root != want.Root || got.TreeSize != want.TreeSize {
		t.Errorf("reloaded head = %+v, want %+v", got, want)
	}
	if got.Tip == nil || got.Tip.Hash() != want.Tip.Hash() {
		t.Error("reloaded tip does not match committed tip")
	}
	if s2.VerifierKey() != vkey {
		t.Error("checkpoint verifier key changed across reload")
	}
	if err := s2.VerifyChain(); err != nil {
		t.Errorf("VerifyChain after reload: %v", err)
	}

	cp, err := s2.SignedCheckpoint()
	if err != nil {
		t.Fatal(err)
	}
	verifier, err := note.NewVerifier(vkey)
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := integrity.OpenCheckpoint(cp, s2.Origin(), verifier)
	if err != nil {
		t.Fatalf("OpenCheckpoint: %v", err)
	}
	if parsed.Size != want.TreeSize {
		t.Errorf("checkpoint size = %d, want %d", parsed.Size, want.TreeSize)
	}
}

func TestScopeReloadRebuildsStaleTreeSnapshot(t *testing.T) {
	dir := t.TempDir()
	auth := testAuthority(t)

	r := NewRegistry(dir)
	s, err := r.Define("system", "")
	if err != nil {
		t.Fatal(err)
	}
	commitInstall(t, s, auth, testDigest(1))

	// Capture the snapshot as of the first commit, then commit again and
	// put the old snapshot back. This is the state a crash between the
	// chain fsync and the snapshot rename leaves behind.
	treePath := filepath.Join(dir, "scopes", "system", "tree.json")
	stale, err := os.ReadFile(treePath)
	if err != nil {
		t.Fatal(err)
	}
	commitInstall(t, s, auth, testDigest(2))
	want := s.Head()
	if err := os.WriteFile(treePath, stale, 0o600); err != nil {
		t.Fatal(err)
	}

	r2 := NewRegistry(dir)
	s2, err := r2.Define("system", "")
	if err != nil {
		t.Fatalf("reload with stale snapshot: %v", err)
	}
	got := s2.Head()
	if got.Root != want.Root || got.TreeSize != want.TreeSize {
		t.Errorf("reloaded head = (%s, %d), want (%s, %d)", got.Root, got.TreeSize, want.Root, want.TreeSize)
	}
	if got.Tip == nil || got.Tip.TreeRoot != got.Root {
		t.Error("reloaded head pairs a tip with a root it does not attest to")
	}
	if p, err := s2.Proof(testDigest(2)); err != nil || !integrity.VerifyProof(got.Root, testDigest(2), p) {
		t.Errorf("proof against rebuilt tree does not verify: %v", err)
	}

	// The rebuilt snapshot is written back, so a third load agrees too.
	repaired, err := integrity.Load(treePath)
	if err != nil {
		t.Fatal(err)
	}
	if repaired.Root() != want.Root {
		t.Error("rebuilt snapshot was not persisted")
	}
}

func TestScopeReloadUpgradeRecordsReplay(t *testing.T) {
	dir := t.TempDir()
	auth := testAuthority(t)

	r := NewRegistry(dir)
	s, err := r.Define("user", "")
	if err != nil {
		t.Fatal(err)
	}
	old, next := testDigest(1), testDigest(2)
	commitInstall(t, s, auth, old)
	err = s.Update(func(tree *integrity.Tree, chain *provenance.Chain) error {
		if _, _, err := tree.Remove(old); err != nil {
			return err
		}
		root, _, _ := tree.Insert(next)
		_, err := chain.Append(provenance.ActionUpgrade, next, old, root, auth, time.Now())
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	want := s.Head()

	// Deleting the snapshot forces a full replay, tombstone included.
	if err := os.Remove(filepath.Join(dir, "scopes", "user", "tree.json")); err != nil {
		t.Fatal(err)
	}
	r2 := NewRegistry(dir)
	s2, err := r2.Define("user", "")
	if err != nil {
		t.Fatalf("reload without snapshot: %v", err)
	}
	if got := s2.Head(); got.Root != want.Root || got.TreeSize != want.TreeSize {
		t.Errorf("replayed head = (%s, %d), want (%s, %d)", got.Root, got.TreeSize, want.Root, want.TreeSize)
	}
	if s2.Contains(old) {
		t.Error("tombstoned digest is live after replay")
	}
	if !s2.Contains(next) {
		t.Error("upgraded digest is not live after replay")
	}
}

func TestScopeReloadRefusesUnreplayableChain(t *testing.T) {
	dir := t.TempDir()
	auth := testAuthority(t)

	// A well-signed chain whose attested roots cannot be reproduced by
	// replay must keep the scope from opening at all.
	scopeDir := filepath.Join(dir, "scopes", "user")
	if err := os.MkdirAll(scopeDir, 0o700); err != nil {
		t.Fatal(err)
	}
	chain, err := provenance.Open("user", filepath.Join(scopeDir, "chain.log"))
	if err != nil {
		t.Fatal(err)
	}
	bogusRoot := digest.Sum([]byte("not any tree's root"))
	if _, err := chain.Append(provenance.ActionInstall, testDigest(1), digest.Digest{}, bogusRoot, auth, time.Now()); err != nil {
		t.Fatal(err)
	}

	r := NewRegistry(dir)
	if _, err := r.Define("user", ""); !errors.Is(err, ErrStateDiverged) {
		t.Fatalf("Define over unreplayable chain: err = %v, want ErrStateDiverged", err)
	}
}

func TestScopeReadersNeverSeeTornHeads(t *testing.T) {
	r := NewRegistry("")
	s, err := r.Define("user", "")
	if err != nil {
		t.Fatal(err)
	}
	auth := testAuthority(t)

	const n = 50
	digests := make([]digest.Digest, n)
	for i := range digests {
		digests[i] = testDigest(i + 1)
	}

	// Precompute the root the tree must have at every size, so a reader
	// can cross-check any head it observes.
	rootAt := make(map[uint64]digest.Digest, n+1)
	shadow := integrity.New()
	rootAt[0] = shadow.Root()
	for i, d := range digests {
		shadow.Insert(d)
		rootAt[uint64(i+1)] = shadow.Root()
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				h := s.Head()
				if want := rootAt[h.TreeSize]; h.Root != want {
					t.Errorf("torn head: size %d with root %s, want %s", h.TreeSize, h.Root, want)
					return
				}
				if h.Tip != nil {
					if h.Tip.Index != h.TreeSize-1 {
						t.Errorf("torn head: size %d with tip index %d", h.TreeSize, h.Tip.Index)
						return
					}
					if h.Tip.TreeRoot != h.Root {
						t.Errorf("torn head: root %s with tip root %s", h.Root, h.Tip.TreeRoot)
						return
					}
				}
			}
		}()
	}

	for _, d := range digests {
		commitInstall(t, s, auth, d)
	}
	close(stop)
	wg.Wait()
}

func TestFromConfigOrdersParentsFirst(t *testing.T) {
	cfg := &config.Config{
		StateDir: t.TempDir(),
		Scopes: []config.ScopeDef{
			{Name: "projects", Parent: "user"},
			{Name: "user", Parent: "system"},
			{Name: "system"},
		},
	}
	r, err := FromConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	wantNames := []string{"projects", "system", "user"}
	got := r.Names()
	if fmt.Sprint(got) != fmt.Sprint(wantNames) {
		t.Errorf("Names() = %v, want %v", got, wantNames)
	}
	s, err := r.Get("projects")
	if err != nil {
		t.Fatal(err)
	}
	if s.Parent() != "user" {
		t.Errorf("Parent() = %q, want %q", s.Parent(), "user")
	}
}

func TestRegistrySummaryIncludesChildHeads(t *testing.T) {
	r := NewRegistry("")
	if _, err := r.Define("system", ""); err != nil {
		t.Fatal(err)
	}
	user, err := r.Define("user", "system")
	if err != nil {
		t.Fatal(err)
	}
	auth := testAuthority(t)
	commitInstall(t, user, auth, testDigest(1))

	sum, err := r.Summary("system")
	if err != nil {
		t.Fatal(err)
	}
	if len(sum.Children) != 1 {
		t.Fatalf("Children = %d, want 1", len(sum.Children))
	}
	child := sum.Children[0]
	if child.Name != "user" {
		t.Errorf("child name = %q, want %q", child.Name, "user")
	}
	if child.Head.TreeSize != 1 {
		t.Errorf("child head size = %d, want 1", child.Head.TreeSize)
	}
	// The parent's own tree must not absorb the child's leaves.
	if sum.Head.TreeSize != 0 {
		t.Errorf("parent head size = %d, want 0", sum.Head.TreeSize)
	}
}
