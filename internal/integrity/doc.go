// Package integrity maintains the Merkle tree over the set of installed
// binaries in a trust scope.
//
// # Tree shape
//
// The tree is an RFC 6962 Merkle tree over an ordered leaf list. Children
// are always hashed in the fixed (left, right) order given by insertion
// index, never by hash value, so the tree is deterministic but not sorted.
// Two machines that apply the same sequence of operations compute the same
// root and the same inclusion proofs.
//
// Leaf positions are never reused. Removing a binary tombstones its leaf:
// the position keeps a fixed sentinel value so the history of positions is
// preserved and every later proof stays reproducible. Reinstalling a
// removed binary appends a fresh leaf.
//
// # Proofs
//
// Inclusion proofs are the ordered sibling hashes from a leaf to the root.
// Verification delegates to transparency-dev/merkle, the same verifier used
// for firmware transparency proof bundles, and is a pure function: callers
// get a boolean and must treat false as "binary is untrusted".
//
// # Auditing
//
// The current root is published as a checkpoint in the transparency-dev
// log format, signed as a note, so external auditors can verify a scope's
// head without write access.
package integrity
