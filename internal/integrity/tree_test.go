package integrity

import (
	"crypto/rand"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"golang.org/x/mod/sumdb/note"

	"github.com/ZebulonRouseFrantzich/provenant/internal/digest"
)

func binDigest(i int) digest.Digest {
	return digest.Sum([]byte(fmt.Sprintf("binary-%d", i)))
}

func TestInsert_ProofVerifiesImmediately(t *testing.T) {
	tree := New()
	for i := 0; i < 9; i++ {
		d := binDigest(i)
		root, proof, _ := tree.Insert(d)
		if !VerifyProof(root, d, proof) {
			t.Fatalf("proof for leaf %d does not verify immediately after insertion", i)
		}
	}
}

func TestInsert_AllProofsVerifyAgainstFinalRoot(t *testing.T) {
	tree := New()
	const n = 13
	for i := 0; i < n; i++ {
		tree.Insert(binDigest(i))
	}

	root := tree.Root()
	for i := 0; i < n; i++ {
		d := binDigest(i)
		proof, err := tree.Proof(d)
		if err != nil {
			t.Fatalf("Proof(%d): %v", i, err)
		}
		if !VerifyProof(root, d, proof) {
			t.Errorf("proof for leaf %d does not verify against the current root", i)
		}
	}
}

func TestVerifyProof_TamperSensitivity(t *testing.T) {
	tree := New()
	content := []byte("some executable content")
	d := digest.Sum(content)
	root, proof, _ := tree.Insert(d)

	// Flip a single bit in the content: the recomputed leaf digest must
	// no longer verify against the root.
	for bit := 0; bit < 8; bit++ {
		tampered := make([]byte, len(content))
		copy(tampered, content)
		tampered[0] ^= 1 << bit
		if VerifyProof(root, digest.Sum(tampered), proof) {
			t.Errorf("proof verified for content with bit %d flipped", bit)
		}
	}

	if !VerifyProof(root, d, proof) {
		t.Error("proof no longer verifies for untampered content")
	}
}

func TestVerifyProof_MalformedInput(t *testing.T) {
	tree := New()
	d := binDigest(0)
	root, proof, _ := tree.Insert(d)

	if VerifyProof(root, d, nil) {
		t.Error("nil proof verified")
	}

	bad := &Proof{Index: proof.Index + 1, TreeSize: proof.TreeSize, Hashes: proof.Hashes}
	if VerifyProof(root, d, bad) {
		t.Error("proof with wrong index verified")
	}

	if VerifyProof(digest.Sum([]byte("not the root")), d, proof) {
		t.Error("proof verified against an unrelated root")
	}
}

func TestRoot_Deterministic(t *testing.T) {
	a, b := New(), New()
	for i := 0; i < 7; i++ {
		a.Insert(binDigest(i))
		b.Insert(binDigest(i))
	}
	if a.Root() != b.Root() {
		t.Errorf("same insertion sequence produced different roots: %s != %s", a.Root(), b.Root())
	}

	// Insertion order defines child order, so a different order must
	// produce a different root.
	c := New()
	for i := 6; i >= 0; i-- {
		c.Insert(binDigest(i))
	}
	if a.Root() == c.Root() {
		t.Error("different insertion orders produced the same root")
	}
}

func TestEmptyTreeRoot(t *testing.T) {
	if New().Root() != New().Root() {
		t.Error("empty root is not stable")
	}
	if New().Root().IsZero() {
		t.Error("empty root should be the RFC 6962 empty hash, not all zeroes")
	}
}

func TestInsert_Idempotent(t *testing.T) {
	tree := New()
	d := binDigest(1)
	root1, _, _ := tree.Insert(d)
	root2, proof, _ := tree.Insert(d)
	if root1 != root2 {
		t.Errorf("re-inserting the same digest moved the root: %s -> %s", root1, root2)
	}
	if tree.Size() != 1 {
		t.Errorf("tree size = %d after duplicate insert, want 1", tree.Size())
	}
	if !VerifyProof(root2, d, proof) {
		t.Error("proof from duplicate insert does not verify")
	}
}

func TestRemove_Tombstone(t *testing.T) {
	tree := New()
	d0, d1 := binDigest(0), binDigest(1)
	tree.Insert(d0)
	rootBefore, _, _ := tree.Insert(d1)

	root, _, err := tree.Remove(d0)
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if root == rootBefore {
		t.Error("root unchanged after remove")
	}
	if tree.Size() != 2 {
		t.Errorf("tree size = %d after tombstone, want 2 (position preserved)", tree.Size())
	}
	if tree.Live() != 1 {
		t.Errorf("live leaves = %d, want 1", tree.Live())
	}
	if tree.Contains(d0) {
		t.Error("removed binary still reported as installed")
	}

	// The remaining leaf still proves against the new root.
	proof, err := tree.Proof(d1)
	if err != nil {
		t.Fatalf("Proof after remove: %v", err)
	}
	if !VerifyProof(root, d1, proof) {
		t.Error("surviving leaf proof does not verify after a tombstone")
	}

	if _, err := tree.Proof(d0); !errors.Is(err, ErrLeafNotFound) {
		t.Errorf("Proof of removed leaf: error = %v, want ErrLeafNotFound", err)
	}
}

func TestRemove_NotInstalled(t *testing.T) {
	tree := New()
	if _, _, err := tree.Remove(binDigest(0)); !errors.Is(err, ErrLeafNotFound) {
		t.Errorf("Remove of unknown digest: error = %v, want ErrLeafNotFound", err)
	}
}

func TestReinstall_AppendsFreshLeaf(t *testing.T) {
	tree := New()
	d := binDigest(0)
	tree.Insert(d)
	tree.Insert(binDigest(1))
	if _, _, err := tree.Remove(d); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	root, proof, _ := tree.Insert(d)
	if tree.Size() != 3 {
		t.Errorf("tree size = %d after reinstall, want 3 (tombstone kept)", tree.Size())
	}
	if proof.Index != 2 {
		t.Errorf("reinstalled leaf at index %d, want fresh index 2", proof.Index)
	}
	if !VerifyProof(root, d, proof) {
		t.Error("proof for reinstalled leaf does not verify")
	}
}

func TestRevert_Insert(t *testing.T) {
	tree := New()
	for i := 0; i < 5; i++ {
		tree.Insert(binDigest(i))
	}
	rootBefore := tree.Root()

	_, _, revert := tree.Insert(binDigest(99))
	revert()

	if tree.Root() != rootBefore {
		t.Errorf("root after revert = %s, want %s", tree.Root(), rootBefore)
	}
	if tree.Size() != 5 {
		t.Errorf("size after revert = %d, want 5", tree.Size())
	}
	if tree.Contains(binDigest(99)) {
		t.Error("reverted insert still visible")
	}

	// The tree must remain fully usable after a revert.
	root, proof, _ := tree.Insert(binDigest(5))
	if !VerifyProof(root, binDigest(5), proof) {
		t.Error("insert after revert produced a bad proof")
	}
}

func TestRevert_Remove(t *testing.T) {
	tree := New()
	d := binDigest(0)
	tree.Insert(d)
	tree.Insert(binDigest(1))
	rootBefore := tree.Root()

	_, revert, err := tree.Remove(d)
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	revert()

	if tree.Root() != rootBefore {
		t.Errorf("root after revert = %s, want %s", tree.Root(), rootBefore)
	}
	if !tree.Contains(d) {
		t.Error("reverted remove left the leaf tombstoned")
	}
}

func TestSnapshot_RoundTrip(t *testing.T) {
	tree := New()
	for i := 0; i < 6; i++ {
		tree.Insert(binDigest(i))
	}
	if _, _, err := tree.Remove(binDigest(2)); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	path := filepath.Join(t.TempDir(), "tree.json")
	if err := tree.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Root() != tree.Root() {
		t.Errorf("loaded root = %s, want %s", loaded.Root(), tree.Root())
	}
	if loaded.Size() != tree.Size() {
		t.Errorf("loaded size = %d, want %d", loaded.Size(), tree.Size())
	}
	if loaded.Contains(binDigest(2)) {
		t.Error("tombstone lost in snapshot round trip")
	}

	// Proofs from the reloaded tree must verify against its root.
	proof, err := loaded.Proof(binDigest(4))
	if err != nil {
		t.Fatalf("Proof from loaded tree: %v", err)
	}
	if !VerifyProof(loaded.Root(), binDigest(4), proof) {
		t.Error("proof from reloaded tree does not verify")
	}
}

func TestCheckpoint_SignAndOpen(t *testing.T) {
	skey, vkey, err := note.GenerateKey(rand.Reader, "provenant/test")
	if err != nil {
		t.Fatalf("generate note key: %v", err)
	}
	signer, err := note.NewSigner(skey)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	verifier, err := note.NewVerifier(vkey)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	tree := New()
	for i := 0; i < 3; i++ {
		tree.Insert(binDigest(i))
	}

	const origin = "provenant/scope/user"
	signed, err := SignCheckpoint(origin, tree.Size(), tree.Root(), signer)
	if err != nil {
		t.Fatalf("SignCheckpoint: %v", err)
	}

	cp, err := OpenCheckpoint(signed, origin, verifier)
	if err != nil {
		t.Fatalf("OpenCheckpoint: %v", err)
	}
	if cp.Size != tree.Size() {
		t.Errorf("checkpoint size = %d, want %d", cp.Size, tree.Size())
	}
	if got := fmt.Sprintf("%x", cp.Hash); got != tree.Root().String() {
		t.Errorf("checkpoint hash = %s, want %s", got, tree.Root())
	}

	// Wrong origin must not open.
	if _, err := OpenCheckpoint(signed, "provenant/scope/other", verifier); err == nil {
		t.Error("checkpoint opened under the wrong origin")
	}
}
