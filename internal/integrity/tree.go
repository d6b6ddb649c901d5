package integrity

import (
	"errors"

	"github.com/transparency-dev/merkle/proof"
	"github.com/transparency-dev/merkle/rfc6962"

	"github.com/ZebulonRouseFrantzich/provenant/internal/digest"
)

// ErrLeafNotFound indicates that no live leaf exists for a binary digest.
var ErrLeafNotFound = errors.New("no live leaf for binary digest")

// tombstoneValue is the fixed sentinel stored at removed leaf positions.
var tombstoneValue = digest.Sum([]byte("provenant/tombstone/v1"))

// Leaf is one position in the tree: the digest of the binary installed
// there, and whether the position has been tombstoned.
type Leaf struct {
	Binary  digest.Digest
	Removed bool
}

// value returns the bytes hashed into the leaf position.
func (l Leaf) value() []byte {
	if l.Removed {
		return tombstoneValue.Bytes()
	}
	return l.Binary.Bytes()
}

// Proof is an inclusion proof: the ordered sibling hashes from a leaf to
// the root, plus the leaf position and tree size the proof was issued at.
type Proof struct {
	Index    uint64
	TreeSize uint64
	Hashes   [][]byte
}

// Revert undoes a single tree mutation. The orchestrator calls it when a
// chain append fails after the tree has already advanced.
type Revert func()

// Tree is a Merkle tree over the ordered set of installed binaries.
// Not safe for concurrent use; the owning scope serializes writers.
type Tree struct {
	leaves []Leaf
	// pos maps a binary digest to its most recent leaf position, live or
	// tombstoned.
	pos map[digest.Digest]int
	// levels caches node hashes bottom-up: levels[0] holds leaf hashes,
	// each higher level the parents of the one below. An unpaired last
	// node is promoted unchanged, which matches the RFC 6962 tree shape.
	levels [][][]byte
}

// New returns an empty tree.
func New() *Tree {
	return &Tree{pos: make(map[digest.Digest]int)}
}

// Size returns the number of leaf positions, including tombstones.
func (t *Tree) Size() uint64 {
	return uint64(len(t.leaves))
}

// Live returns the number of installed (non-tombstoned) binaries.
func (t *Tree) Live() int {
	n := 0
	for _, l := range t.leaves {
		if !l.Removed {
			n++
		}
	}
	return n
}

// Root returns the current tree root. The empty tree has the RFC 6962
// empty root (the hash of the empty string).
func (t *Tree) Root() digest.Digest {
	var d digest.Digest
	if len(t.leaves) == 0 {
		copy(d[:], rfc6962.DefaultHasher.EmptyRoot())
		return d
	}
	copy(d[:], t.levels[len(t.levels)-1][0])
	return d
}

// Contains reports whether a live leaf exists for d.
func (t *Tree) Contains(d digest.Digest) bool {
	p, ok := t.pos[d]
	return ok && !t.leaves[p].Removed
}

// Insert adds a leaf for d, or leaves the tree unchanged if d is already
// installed. It returns the new root, an inclusion proof for d, and a
// Revert that undoes the mutation. Only the O(log n) path from the leaf
// to the root is recomputed.
func (t *Tree) Insert(d digest.Digest) (digest.Digest, *Proof, Revert) {
	if p, ok := t.pos[d]; ok && !t.leaves[p].Removed {
		// Re-inserting the same content hash replaces the leaf with an
		// identical value: the tree does not move.
		return t.Root(), t.proofAt(p), func() {}
	}

	i := len(t.leaves)
	prevPos, hadPos := t.pos[d]

	t.leaves = append(t.leaves, Leaf{Binary: d})
	t.pos[d] = i
	t.updateLeaf(i)

	revert := func() {
		t.leaves = t.leaves[:i]
		if hadPos {
			t.pos[d] = prevPos
		} else {
			delete(t.pos, d)
		}
		t.rebuildAll()
	}
	return t.Root(), t.proofAt(i), revert
}

// Remove tombstones the live leaf for d and returns the new root and a
// Revert that restores the leaf. Fails with ErrLeafNotFound if d has no
// live leaf.
func (t *Tree) Remove(d digest.Digest) (digest.Digest, Revert, error) {
	p, ok := t.pos[d]
	if !ok || t.leaves[p].Removed {
		return digest.Digest{}, nil, ErrLeafNotFound
	}

	t.leaves[p].Removed = true
	t.updateLeaf(p)

	revert := func() {
		t.leaves[p].Removed = false
		t.updateLeaf(p)
	}
	return t.Root(), revert, nil
}

// Proof returns an inclusion proof for the live leaf holding d.
func (t *Tree) Proof(d digest.Digest) (*Proof, error) {
	p, ok := t.pos[d]
	if !ok || t.leaves[p].Removed {
		return nil, ErrLeafNotFound
	}
	return t.proofAt(p), nil
}

// VerifyProof recomputes the path from leaf through the proof siblings and
// compares the result to root. Pure function over its arguments; returns
// false on any malformed or mismatching input, never an error.
func VerifyProof(root digest.Digest, leaf digest.Digest, p *Proof) bool {
	if p == nil {
		return false
	}
	leafHash := rfc6962.DefaultHasher.HashLeaf(leaf.Bytes())
	err := proof.VerifyInclusion(rfc6962.DefaultHasher, p.Index, p.TreeSize, leafHash, p.Hashes, root.Bytes())
	return err == nil
}

// updateLeaf writes the hash for leaf position i into the cache and
// recomputes its ancestor path, growing levels as needed.
func (t *Tree) updateLeaf(i int) {
	if len(t.levels) == 0 {
		t.levels = [][][]byte{nil}
	}
	h := rfc6962.DefaultHasher.HashLeaf(t.leaves[i].value())
	if i == len(t.levels[0]) {
		t.levels[0] = append(t.levels[0], h)
	} else {
		t.levels[0][i] = h
	}

	for k := 0; len(t.levels[k]) > 1; k++ {
		if k+1 == len(t.levels) {
			t.levels = append(t.levels, nil)
		}
		parent := i / 2
		want := (len(t.levels[k]) + 1) / 2
		next := t.levels[k+1]
		for len(next) < want {
			next = append(next, nil)
		}
		left := t.levels[k][2*parent]
		if right := 2*parent + 1; right < len(t.levels[k]) {
			next[parent] = rfc6962.DefaultHasher.HashChildren(left, t.levels[k][right])
		} else {
			next[parent] = left
		}
		t.levels[k+1] = next
		i = parent
	}
}

// rebuildAll recomputes the whole node cache from the leaf list. Used
// after rollback of an append and after loading a snapshot; O(n).
func (t *Tree) rebuildAll() {
	t.levels = nil
	if len(t.leaves) == 0 {
		return
	}

	level := make([][]byte, len(t.leaves))
	for i, l := range t.leaves {
		level[i] = rfc6962.DefaultHasher.HashLeaf(l.value())
	}
	t.levels = [][][]byte{level}

	for len(level) > 1 {
		next := make([][]byte, (len(level)+1)/2)
		for i := range next {
			if right := 2*i + 1; right < len(level) {
				next[i] = rfc6962.DefaultHasher.HashChildren(level[2*i], level[right])
			} else {
				next[i] = level[2*i]
			}
		}
		t.levels = append(t.levels, next)
		level = next
	}
}

// proofAt builds the inclusion proof for leaf position i: at each level
// the sibling hash is collected, and an unpaired (promoted) node simply
// has no sibling at that level.
func (t *Tree) proofAt(i int) *Proof {
	p := &Proof{Index: uint64(i), TreeSize: uint64(len(t.leaves))}
	for k := 0; k < len(t.levels) && len(t.levels[k]) > 1; k++ {
		if sib := i ^ 1; sib < len(t.levels[k]) {
			h := make([]byte, len(t.levels[k][sib]))
			copy(h, t.levels[k][sib])
			p.Hashes = append(p.Hashes, h)
		}
		i /= 2
	}
	return p
}
